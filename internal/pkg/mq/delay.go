// internal/pkg/mq/delay.go
package mq

import (
	"context"
	"sync"
	"time"

	"inventory-saga/internal/pkg/logger"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MessageFetcher 是 *kafka.Reader 中延迟转发需要的部分
type MessageFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// DelayRelay 消费延迟 topic，在 delay-timestamp 到期后把消息转发回 real-topic。
// 同一分区内的消息按入队顺序到期，所以只需等待队头。
type DelayRelay struct {
	reader    MessageFetcher
	newWriter func(topic string) MessageWriter
	tracer    trace.Tracer
	now       func() time.Time

	writers    map[string]MessageWriter // key: realTopic
	writerLock sync.Mutex
}

// NewDelayRelay 创建延迟转发器。newWriter 为每个目标 topic 创建 writer。
func NewDelayRelay(reader MessageFetcher, newWriter func(topic string) MessageWriter) *DelayRelay {
	return &DelayRelay{
		reader:    reader,
		newWriter: newWriter,
		tracer:    otel.Tracer("delay-relay"),
		now:       time.Now,
		writers:   make(map[string]MessageWriter),
	}
}

// Run 阻塞运行直到 ctx 被取消
func (r *DelayRelay) Run(ctx context.Context) error {
	for {
		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Msg("delay relay: fetch failed, retrying")
			if !sleepCtx(ctx, time.Second) {
				return nil
			}
			continue
		}

		if err := r.waitUntilDue(ctx, msg); err != nil {
			return nil
		}

		for {
			err := r.relay(ctx, msg)
			if err == nil {
				break
			}
			// 转发失败不能提交 offset，原地重试直到成功或退出
			logger.Ctx(ctx).Error().Err(err).Str("real_topic", HeaderValue(msg.Headers, HeaderRealTopic)).Msg("delay relay: publish failed")
			if !sleepCtx(ctx, time.Second) {
				return nil
			}
		}
	}
}

func (r *DelayRelay) waitUntilDue(ctx context.Context, msg kafka.Message) error {
	due := msg.Time
	if ts := HeaderValue(msg.Headers, HeaderDelayTimestamp); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			due = parsed
		}
	}
	if wait := due.Sub(r.now()); wait > 0 {
		if !sleepCtx(ctx, wait) {
			return ctx.Err()
		}
	}
	return nil
}

// relay 将一条到期消息投递到真实业务主题并提交 offset
func (r *DelayRelay) relay(ctx context.Context, msg kafka.Message) error {
	spanCtx := ExtractTraceContext(ctx, msg.Headers)
	ctx, span := r.tracer.Start(spanCtx, "delay-relay.Forward", trace.WithAttributes(
		attribute.String("delay.topic", msg.Topic),
		attribute.Int64("delay.offset", msg.Offset),
	))
	defer span.End()

	realTopic := HeaderValue(msg.Headers, HeaderRealTopic)
	if realTopic == "" {
		// 这种错误消息也需要提交，否则会一直被重复消费
		logger.Ctx(ctx).Error().Str("topic", msg.Topic).Msg("delay relay: 'real-topic' header missing, skipping")
		span.SetStatus(codes.Error, "real-topic header missing")
		return r.reader.CommitMessages(ctx, msg)
	}
	span.SetAttributes(attribute.String("real.topic", realTopic))

	forward := kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: append([]kafka.Header(nil), msg.Headers...),
	}
	if err := r.writerFor(realTopic).WriteMessages(ctx, forward); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish to real topic")
		return errors.Wrapf(err, "publish to %s", realTopic)
	}
	if err := r.reader.CommitMessages(ctx, msg); err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "commit delay message")
	}
	span.AddEvent("MessagePublishedAndCommitted")
	return nil
}

func (r *DelayRelay) writerFor(topic string) MessageWriter {
	r.writerLock.Lock()
	defer r.writerLock.Unlock()
	w, ok := r.writers[topic]
	if !ok {
		w = r.newWriter(topic)
		r.writers[topic] = w
	}
	return w
}

// Close 关闭所有实现了 io.Closer 的 writer
func (r *DelayRelay) Close() {
	r.writerLock.Lock()
	defer r.writerLock.Unlock()
	for topic, w := range r.writers {
		if c, ok := w.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				logger.L().Error().Err(err).Str("topic", topic).Msg("failed to close writer")
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
