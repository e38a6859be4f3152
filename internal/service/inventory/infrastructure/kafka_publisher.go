// internal/service/inventory/infrastructure/kafka_publisher.go
package infrastructure

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"inventory-saga/internal/pkg/mq"
	"inventory-saga/internal/service/inventory/domain"
)

// StockChangedPayload 是 product.update.sync 上的消息格式
type StockChangedPayload struct {
	ProductID                  int64     `json:"productId"`
	WarehouseID                int64     `json:"warehouseId,omitempty"`
	TotalStockAcrossWarehouses int64     `json:"totalStockAcrossWarehouses"`
	Name                       string    `json:"name"`
	Price                      float64   `json:"price"`
	Published                  bool      `json:"published"`
	Timestamp                  time.Time `json:"timestamp"`
}

// KafkaStockPublisher 把库存变更事件写入 Kafka，消息 key 为商品 ID 以保证同一商品有序
type KafkaStockPublisher struct {
	writer mq.MessageWriter
}

func NewKafkaStockPublisher(writer mq.MessageWriter) *KafkaStockPublisher {
	return &KafkaStockPublisher{writer: writer}
}

func (p *KafkaStockPublisher) PublishStockChanged(ctx context.Context, event domain.StockChanged) error {
	payload := StockChangedPayload{
		ProductID:                  event.ProductID,
		WarehouseID:                event.WarehouseID,
		TotalStockAcrossWarehouses: event.TotalStock,
		Name:                       event.Product.Name,
		Price:                      event.Product.Price,
		Published:                  event.Product.Published,
		Timestamp:                  event.OccurredAt.UTC(),
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal stock event")
	}

	key := []byte(strconv.FormatInt(event.ProductID, 10))
	return errors.Wrap(
		mq.ProduceMessage(ctx, p.writer, key, value, kafka.Header{Key: mq.HeaderMessageID, Value: []byte(uuid.NewString())}),
		"publish stock event",
	)
}
