// internal/pkg/mq/kafka.go
package mq

import (
	"context"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// 消息头约定
const (
	HeaderMessageID         = "message-id"
	HeaderAttempt           = "x-attempt"
	HeaderRealTopic         = "real-topic"
	HeaderDelayTimestamp    = "delay-timestamp"
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionFqcn     = "x-exception-fqcn"
	HeaderExceptionMessage  = "x-exception-message"
)

// MessageWriter 是 *kafka.Writer 的最小抽象，便于在测试中替换
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter 创建一个指向固定 topic 的 writer
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{}, // 相同 key 落在同一分区，保证单个商品/订单的顺序
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// NewKafkaReader 创建一个消费单个 topic 的消费组 reader
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // 同步提交，确保处理成功后才确认
		StartOffset:    kafka.FirstOffset,
	})
}

// NewKafkaGroupReader 创建一个同时消费多个 topic 的消费组 reader
func NewKafkaGroupReader(brokers []string, topics []string, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupTopics:    topics,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
}

// KafkaHeaderCarrier 让 kafka 消息头实现 propagation.TextMapCarrier
type KafkaHeaderCarrier []kafka.Header

func (c *KafkaHeaderCarrier) Get(key string) string {
	return HeaderValue(*c, key)
}

func (c *KafkaHeaderCarrier) Set(key, value string) {
	for i, h := range *c {
		if h.Key == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *KafkaHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(*c))
	for _, h := range *c {
		keys = append(keys, h.Key)
	}
	return keys
}

// InjectTraceContext 将当前链路上下文写入消息头
func InjectTraceContext(ctx context.Context, headers *[]kafka.Header) {
	carrier := KafkaHeaderCarrier(*headers)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	*headers = carrier
}

// ExtractTraceContext 从消息头中恢复链路上下文
func ExtractTraceContext(ctx context.Context, headers []kafka.Header) context.Context {
	carrier := KafkaHeaderCarrier(headers)
	return otel.GetTextMapPropagator().Extract(ctx, &carrier)
}

// ProduceMessage 发送一条消息，并自动注入追踪上下文
func ProduceMessage(ctx context.Context, writer MessageWriter, key, value []byte, headers ...kafka.Header) error {
	msg := kafka.Message{
		Key:     key,
		Value:   value,
		Headers: append([]kafka.Header(nil), headers...),
	}
	InjectTraceContext(ctx, &msg.Headers)
	return writer.WriteMessages(ctx, msg)
}

// HeaderValue 返回指定消息头的值，不存在时返回空串
func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// SetHeader 设置（或覆盖）一个消息头
func SetHeader(headers []kafka.Header, key, value string) []kafka.Header {
	carrier := KafkaHeaderCarrier(headers)
	carrier.Set(key, value)
	return carrier
}

// Attempt 返回消息当前是第几次投递，缺省为 1
func Attempt(msg kafka.Message) int {
	n, err := strconv.Atoi(HeaderValue(msg.Headers, HeaderAttempt))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
