package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"inventory-saga/internal/service/order/application"
	"inventory-saga/internal/service/order/domain"
	"inventory-saga/internal/service/order/domain/port"
	"inventory-saga/internal/service/order/infrastructure"
)

type mockInventory struct {
	mock.Mock
}

func (m *mockInventory) CheckStock(ctx context.Context, productID, quantity int64) (*port.StockAvailability, error) {
	args := m.Called(ctx, productID, quantity)
	res, _ := args.Get(0).(*port.StockAvailability)
	return res, args.Error(1)
}

func (m *mockInventory) ReserveStock(ctx context.Context, productID, quantity, orderID int64) (*port.ReservationResult, error) {
	args := m.Called(ctx, productID, quantity, orderID)
	res, _ := args.Get(0).(*port.ReservationResult)
	return res, args.Error(1)
}

func (m *mockInventory) CommitStock(ctx context.Context, orderID int64) (*port.CommitResult, error) {
	args := m.Called(ctx, orderID)
	res, _ := args.Get(0).(*port.CommitResult)
	return res, args.Error(1)
}

type recordingCompensator struct {
	mu     sync.Mutex
	events []domain.StockCompensationRequested
	err    error
}

func (r *recordingCompensator) PublishStockCompensation(_ context.Context, event domain.StockCompensationRequested) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recordingCompensator) Events() []domain.StockCompensationRequested {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StockCompensationRequested(nil), r.events...)
}

type harness struct {
	inventory   *mockInventory
	compensator *recordingCompensator
	repo        *infrastructure.MemoryRepository
	service     *application.OrderApplicationService
}

func newHarness() *harness {
	h := &harness{
		inventory:   new(mockInventory),
		compensator: &recordingCompensator{},
		repo:        infrastructure.NewMemoryRepository(),
	}
	h.service = application.NewOrderApplicationService(h.repo, 5*time.Second, noop.NewTracerProvider().Tracer("test"), h.inventory, h.compensator)
	return h
}

func (h *harness) placeOrder(t *testing.T) int64 {
	t.Helper()
	h.inventory.On("CheckStock", mock.Anything, int64(100), int64(7)).
		Return(&port.StockAvailability{Available: true, TotalAvailable: 8}, nil).Once()
	h.inventory.On("ReserveStock", mock.Anything, int64(100), int64(7), mock.AnythingOfType("int64")).
		Return(&port.ReservationResult{Success: true, Warehouses: []string{"1", "2"}}, nil).Once()

	resp, err := h.service.PlaceOrder(context.Background(), &application.PlaceOrderRequest{UserID: "u1", ProductID: 100, Quantity: 7})
	require.NoError(t, err)
	require.True(t, resp.Success, resp.Message)
	return resp.OrderID
}

func TestPlaceOrder_Success(t *testing.T) {
	h := newHarness()

	id := h.placeOrder(t)

	order, err := h.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, order.State)
	assert.Equal(t, []string{"1", "2"}, order.Warehouses)
	assert.Empty(t, h.compensator.Events())
	h.inventory.AssertExpectations(t)
}

func TestPlaceOrder_StockUnavailableCreatesNothing(t *testing.T) {
	h := newHarness()
	h.inventory.On("CheckStock", mock.Anything, int64(100), int64(9)).
		Return(&port.StockAvailability{Available: false, TotalAvailable: 8}, nil)

	resp, err := h.service.PlaceOrder(context.Background(), &application.PlaceOrderRequest{UserID: "u1", ProductID: 100, Quantity: 9})

	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "stock unavailable")
	h.inventory.AssertNotCalled(t, "ReserveStock", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	_, err = h.repo.FindByID(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestPlaceOrder_ReservationRejectedDeletesPendingOrder(t *testing.T) {
	h := newHarness()
	h.inventory.On("CheckStock", mock.Anything, mock.Anything, mock.Anything).
		Return(&port.StockAvailability{Available: true, TotalAvailable: 8}, nil)
	h.inventory.On("ReserveStock", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&port.ReservationResult{Success: false, Message: "insufficient stock: concurrent depletion during reservation"}, nil)

	resp, err := h.service.PlaceOrder(context.Background(), &application.PlaceOrderRequest{UserID: "u1", ProductID: 100, Quantity: 7})

	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "concurrent depletion")
	_, err = h.repo.FindByID(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Empty(t, h.compensator.Events(), "a rejected reservation leaves nothing to roll back")
}

func TestPlaceOrder_TransportFailureRequestsRollback(t *testing.T) {
	h := newHarness()
	h.inventory.On("CheckStock", mock.Anything, mock.Anything, mock.Anything).
		Return(&port.StockAvailability{Available: true, TotalAvailable: 8}, nil)
	h.inventory.On("ReserveStock", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: timeout", port.ErrTransport))

	resp, err := h.service.PlaceOrder(context.Background(), &application.PlaceOrderRequest{UserID: "u1", ProductID: 100, Quantity: 7})

	assert.Nil(t, resp)
	assert.ErrorIs(t, err, port.ErrTransport)
	_, findErr := h.repo.FindByID(context.Background(), 1)
	assert.ErrorIs(t, findErr, domain.ErrOrderNotFound)

	events := h.compensator.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.StockCompensationRequested{OrderID: 1, ProductID: 100, Amount: 7, Reason: domain.ReasonOrderCancelled}, events[0])
}

func TestPlaceOrder_InvalidRequest(t *testing.T) {
	h := newHarness()

	_, err := h.service.PlaceOrder(context.Background(), &application.PlaceOrderRequest{UserID: "u1", ProductID: 100, Quantity: 0})

	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	h.inventory.AssertNotCalled(t, "CheckStock", mock.Anything, mock.Anything, mock.Anything)
}

func TestConfirmOrder(t *testing.T) {
	h := newHarness()
	id := h.placeOrder(t)
	h.inventory.On("CommitStock", mock.Anything, id).Return(&port.CommitResult{
		Success: true,
		Packages: []port.DeliveryPackage{
			{WarehouseID: 1, WarehouseAddress: "1 Dock Rd, Lyon 69001", ProductID: 100, Quantity: 5},
			{WarehouseID: 2, WarehouseAddress: "2 Quay St, Porto 4000", ProductID: 100, Quantity: 2},
		},
	}, nil).Once()

	resp, err := h.service.ConfirmOrder(context.Background(), id)

	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, domain.StateProcessing, resp.State)
	require.Len(t, resp.Packages, 2)
	assert.Equal(t, int64(5), resp.Packages[0].Quantity)

	_, err = h.service.ConfirmOrder(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestConfirmOrder_RejectedCommitKeepsOrderPending(t *testing.T) {
	h := newHarness()
	id := h.placeOrder(t)
	h.inventory.On("CommitStock", mock.Anything, id).
		Return(&port.CommitResult{Success: false, Message: "warehouse 2 has incomplete address: missing city"}, nil)

	resp, err := h.service.ConfirmOrder(context.Background(), id)

	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, domain.StatePending, resp.State)
	order, err := h.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, order.State)
}

func TestConfirmOrder_UnknownOrder(t *testing.T) {
	h := newHarness()
	_, err := h.service.ConfirmOrder(context.Background(), 404)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestReportShipmentLost(t *testing.T) {
	h := newHarness()
	id := h.placeOrder(t)

	_, err := h.service.ReportShipmentLost(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "a pending order has not shipped")
	assert.Empty(t, h.compensator.Events())

	h.inventory.On("CommitStock", mock.Anything, id).Return(&port.CommitResult{Success: true}, nil)
	_, err = h.service.ConfirmOrder(context.Background(), id)
	require.NoError(t, err)
	view, err := h.service.AdvanceOrder(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePickedUp, view.State)

	view, err = h.service.ReportShipmentLost(context.Background(), id)

	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelled, view.State)
	events := h.compensator.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.ReasonShipmentLost, events[0].Reason)
	assert.Equal(t, id, events[0].OrderID)
	assert.Equal(t, int64(7), events[0].Amount)
}

func TestCancelOrder(t *testing.T) {
	h := newHarness()
	id := h.placeOrder(t)

	view, err := h.service.CancelOrder(context.Background(), id)

	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelled, view.State)
	require.Len(t, h.compensator.Events(), 1)
	assert.Equal(t, domain.ReasonOrderCancelled, h.compensator.Events()[0].Reason)

	_, err = h.service.CancelOrder(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Len(t, h.compensator.Events(), 1)
}

func TestCancelOrder_PublishFailureKeepsState(t *testing.T) {
	h := newHarness()
	id := h.placeOrder(t)
	h.compensator.err = errors.New("broker down")

	_, err := h.service.CancelOrder(context.Background(), id)

	assert.ErrorContains(t, err, "broker down")
	order, findErr := h.repo.FindByID(context.Background(), id)
	require.NoError(t, findErr)
	assert.Equal(t, domain.StatePending, order.State)
}
