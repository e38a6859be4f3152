package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory-saga/internal/pkg/mq"
	"inventory-saga/internal/service/order/domain"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestCompensationKafkaAdapter_RoutesByReason(t *testing.T) {
	w := &recordingWriter{}
	a := NewCompensationKafkaAdapter(w)
	event := domain.StockCompensationRequested{OrderID: 42, ProductID: 100, Amount: 7, Reason: domain.ReasonShipmentLost}

	require.NoError(t, a.PublishStockCompensation(context.Background(), event))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "inventory.rollback.shipment_lost", msg.Topic)
	assert.Equal(t, "42", string(msg.Key))
	assert.NotEmpty(t, mq.HeaderValue(msg.Headers, mq.HeaderMessageID))
	assert.True(t, mq.MatchRoutingKey("inventory.rollback.*", msg.Topic))

	var decoded domain.StockCompensationRequested
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event, decoded)
}

func TestCompensationKafkaAdapter_Errors(t *testing.T) {
	w := &recordingWriter{}
	a := NewCompensationKafkaAdapter(w)

	assert.Error(t, a.PublishStockCompensation(context.Background(), domain.StockCompensationRequested{OrderID: 1}))
	assert.Empty(t, w.msgs)

	w.err = errors.New("broker down")
	err := a.PublishStockCompensation(context.Background(), domain.StockCompensationRequested{OrderID: 1, Reason: domain.ReasonOrderCancelled})
	assert.ErrorContains(t, err, "broker down")
}
