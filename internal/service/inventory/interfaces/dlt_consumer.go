// internal/service/inventory/interfaces/dlt_consumer.go
package interfaces

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"inventory-saga/internal/pkg/logger"
	"inventory-saga/internal/pkg/mq"
)

// DltConsumer 监听死信队列并记录日志，供人工排查
type DltConsumer struct {
	reader mq.MessageFetcher
}

func NewDltConsumer(reader mq.MessageFetcher) *DltConsumer {
	return &DltConsumer{reader: reader}
}

func (c *DltConsumer) Run(ctx context.Context) error {
	logger.Ctx(ctx).Info().Msg("✅ DLT consumer started.")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Ctx(ctx).Info().Msg("🛑 DLT consumer shutting down.")
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Msg("could not read dead letter, retrying")
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		logDeadLetter(ctx, msg)

		// DLT中的消息总是直接提交，因为它们已经被“处理”了（即记录日志）
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("failed to commit dead letter")
		}
	}
}

func logDeadLetter(ctx context.Context, msg kafka.Message) {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}

	logger.Ctx(mq.ExtractTraceContext(ctx, msg.Headers)).Error().
		Str("reason", "dead_letter_message_received").
		Str("original_topic", headers[mq.HeaderOriginalTopic]).
		Str("original_partition", headers[mq.HeaderOriginalPartition]).
		Str("original_offset", headers[mq.HeaderOriginalOffset]).
		Str("attempt", headers[mq.HeaderAttempt]).
		Str("message_id", headers[mq.HeaderMessageID]).
		Str("exception_fqcn", headers[mq.HeaderExceptionFqcn]).
		Str("exception_message", headers[mq.HeaderExceptionMessage]).
		Str("key", string(msg.Key)).
		Str("value", string(msg.Value)).
		Msg("🚨 CRITICAL: Dead letter message received")
}
