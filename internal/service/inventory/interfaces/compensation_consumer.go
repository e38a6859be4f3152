// internal/service/inventory/interfaces/compensation_consumer.go
package interfaces

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"inventory-saga/internal/pkg/logger"
	"inventory-saga/internal/pkg/metrics"
	"inventory-saga/internal/pkg/mq"
	"inventory-saga/internal/service/inventory/application"
)

// CompensationConsumer 消费 inventory.rollback.* 上的补偿消息并驱动库存回滚。
// 只有在处理成功、或失败消息已经转入重试/死信通道之后才提交 offset。
type CompensationConsumer struct {
	reader   mq.MessageFetcher
	handler  *application.CompensationHandler
	failures *mq.FailureHandler
	tracer   trace.Tracer
	backoff  time.Duration
}

func NewCompensationConsumer(reader mq.MessageFetcher, handler *application.CompensationHandler, failures *mq.FailureHandler) *CompensationConsumer {
	return &CompensationConsumer{
		reader:   reader,
		handler:  handler,
		failures: failures,
		tracer:   otel.Tracer(serviceName),
		backoff:  time.Second,
	}
}

// Run 阻塞运行直到 ctx 被取消
func (c *CompensationConsumer) Run(ctx context.Context) error {
	logger.Ctx(ctx).Info().Msg("✅ Compensation consumer started.")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Ctx(ctx).Info().Msg("🛑 Compensation consumer shutting down.")
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Msg("could not read message, retrying")
			if !sleep(ctx, c.backoff) {
				return nil
			}
			continue
		}

		// 重试/死信通道暂时不可用时原地重试，不能提交也不能丢弃
		for {
			err := c.Process(ctx, msg)
			if err == nil {
				break
			}
			logger.Ctx(ctx).Error().Err(err).Str("topic", msg.Topic).Int64("offset", msg.Offset).Msg("failed to settle message")
			if !sleep(ctx, c.backoff) {
				return nil
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("failed to commit message")
		}
	}
}

// Process 处理单条消息。返回 nil 表示消息已经有了去处，可以提交 offset。
func (c *CompensationConsumer) Process(ctx context.Context, msg kafka.Message) error {
	ctx = mq.ExtractTraceContext(ctx, msg.Headers)
	ctx, span := c.tracer.Start(ctx, "inventory-service.ConsumeCompensation",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int("messaging.attempt", mq.Attempt(msg)),
		))
	defer span.End()

	messageID := mq.HeaderValue(msg.Headers, mq.HeaderMessageID)
	outcome, err := c.handler.Handle(ctx, messageID, msg.Value)
	if err == nil {
		result := "acked"
		if outcome == application.OutcomeDuplicate {
			result = "duplicate"
		}
		metrics.CompensationMessages.WithLabelValues(result, msg.Topic).Inc()
		span.AddEvent("Compensation applied", trace.WithAttributes(attribute.String("outcome", string(outcome))))
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "compensation failed")
	decision, routeErr := c.failures.Handle(ctx, msg, err)
	if routeErr != nil {
		span.RecordError(routeErr)
		return routeErr
	}
	result := "retried"
	if decision == mq.DecisionDeadLetter {
		result = "dead_lettered"
	}
	metrics.CompensationMessages.WithLabelValues(result, msg.Topic).Inc()
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
