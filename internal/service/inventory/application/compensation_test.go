package application_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"inventory-saga/internal/pkg/mq"
	"inventory-saga/internal/service/inventory/application"
)

type mockRollbacker struct {
	mock.Mock
}

func (m *mockRollbacker) RollbackStock(ctx context.Context, req application.RollbackStockRequest) (*application.RollbackStockResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*application.RollbackStockResponse)
	return resp, args.Error(1)
}

type mockProcessedStore struct {
	mock.Mock
}

func (m *mockProcessedStore) Seen(ctx context.Context, messageID string) (bool, error) {
	args := m.Called(ctx, messageID)
	return args.Bool(0), args.Error(1)
}

func (m *mockProcessedStore) MarkProcessed(ctx context.Context, messageID string) error {
	return m.Called(ctx, messageID).Error(0)
}

const payload = `{"orderId":42,"productId":100,"amount":7,"reason":"shipment_lost"}`

func TestDecodeCompensation(t *testing.T) {
	msg, err := application.DecodeCompensation([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, application.CompensationMessage{OrderID: 42, ProductID: 100, Amount: 7, Reason: "shipment_lost"}, msg)

	_, err = application.DecodeCompensation([]byte("{not json"))
	assert.ErrorIs(t, err, mq.ErrPoisonMessage)

	_, err = application.DecodeCompensation([]byte(`{"productId":1}`))
	assert.ErrorIs(t, err, mq.ErrPoisonMessage)
}

func TestCompensationHandler_RollsBackAndRecords(t *testing.T) {
	rb := new(mockRollbacker)
	store := new(mockProcessedStore)
	store.On("Seen", mock.Anything, "m-1").Return(false, nil)
	rb.On("RollbackStock", mock.Anything, application.RollbackStockRequest{OrderID: 42}).
		Return(&application.RollbackStockResponse{RolledBack: true, Message: "stock rolled back"}, nil)
	store.On("MarkProcessed", mock.Anything, "m-1").Return(nil)

	outcome, err := application.NewCompensationHandler(rb, store).Handle(context.Background(), "m-1", []byte(payload))

	require.NoError(t, err)
	assert.Equal(t, application.OutcomeRolledBack, outcome)
	rb.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestCompensationHandler_SkipsDuplicates(t *testing.T) {
	rb := new(mockRollbacker)
	store := new(mockProcessedStore)
	store.On("Seen", mock.Anything, "m-1").Return(true, nil)

	outcome, err := application.NewCompensationHandler(rb, store).Handle(context.Background(), "m-1", []byte(payload))

	require.NoError(t, err)
	assert.Equal(t, application.OutcomeDuplicate, outcome)
	rb.AssertNotCalled(t, "RollbackStock", mock.Anything, mock.Anything)
}

func TestCompensationHandler_AlreadySettledIsAcked(t *testing.T) {
	rb := new(mockRollbacker)
	rb.On("RollbackStock", mock.Anything, mock.Anything).
		Return(&application.RollbackStockResponse{RolledBack: false, Message: "reservation already rolled back"}, nil)

	outcome, err := application.NewCompensationHandler(rb, nil).Handle(context.Background(), "m-2", []byte(payload))

	require.NoError(t, err)
	assert.Equal(t, application.OutcomeAlreadySettled, outcome)
}

func TestCompensationHandler_DedupeStoreFailureDoesNotBlock(t *testing.T) {
	rb := new(mockRollbacker)
	store := new(mockProcessedStore)
	store.On("Seen", mock.Anything, "m-3").Return(false, errors.New("redis timeout"))
	store.On("MarkProcessed", mock.Anything, "m-3").Return(errors.New("redis timeout"))
	rb.On("RollbackStock", mock.Anything, mock.Anything).
		Return(&application.RollbackStockResponse{RolledBack: true}, nil)

	outcome, err := application.NewCompensationHandler(rb, store).Handle(context.Background(), "m-3", []byte(payload))

	require.NoError(t, err)
	assert.Equal(t, application.OutcomeRolledBack, outcome)
}

func TestCompensationHandler_InfrastructureErrorIsReturned(t *testing.T) {
	rb := new(mockRollbacker)
	store := new(mockProcessedStore)
	store.On("Seen", mock.Anything, "m-4").Return(false, nil)
	rb.On("RollbackStock", mock.Anything, mock.Anything).Return(nil, errors.New("deadlock"))

	_, err := application.NewCompensationHandler(rb, store).Handle(context.Background(), "m-4", []byte(payload))

	assert.EqualError(t, err, "deadlock")
	store.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything)
}

func TestCompensationHandler_AgainstService(t *testing.T) {
	f := newFixture(t)
	f.reserve(t, 42, 7)
	h := application.NewCompensationHandler(f.service, nil)

	outcome, err := h.Handle(context.Background(), "m-5", []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, application.OutcomeRolledBack, outcome)
	f.assertStock(t, stockA, stockB)

	// 同一条消息被再次投递时不会重复归还
	outcome, err = h.Handle(context.Background(), "m-5", []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, application.OutcomeAlreadySettled, outcome)
	f.assertStock(t, stockA, stockB)
}
