package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"inventory-saga/internal/pkg/mq"
	"inventory-saga/internal/service/order/domain"
)

// RollbackTopicPrefix 补偿消息发往 inventory.rollback.<reason>
const RollbackTopicPrefix = "inventory.rollback."

// CompensationKafkaAdapter 实现了 port.CompensationPublisher 接口。
// writer 不能绑定 topic，topic 由每条消息的原因决定。
type CompensationKafkaAdapter struct {
	writer mq.MessageWriter
}

func NewCompensationKafkaAdapter(writer mq.MessageWriter) *CompensationKafkaAdapter {
	return &CompensationKafkaAdapter{writer: writer}
}

func (a *CompensationKafkaAdapter) PublishStockCompensation(ctx context.Context, event domain.StockCompensationRequested) error {
	if event.Reason == "" {
		return fmt.Errorf("compensation for order %d has no reason", event.OrderID)
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal compensation event: %w", err)
	}

	headers := []kafka.Header{{Key: mq.HeaderMessageID, Value: []byte(uuid.NewString())}}
	mq.InjectTraceContext(ctx, &headers)

	return a.writer.WriteMessages(ctx, kafka.Message{
		Topic:   RollbackTopicPrefix + string(event.Reason),
		Key:     []byte(strconv.FormatInt(event.OrderID, 10)),
		Value:   value,
		Headers: headers,
	})
}
