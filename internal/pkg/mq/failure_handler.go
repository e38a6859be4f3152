// internal/pkg/mq/failure_handler.go
package mq

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"inventory-saga/internal/pkg/logger"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// ErrPoisonMessage 表示消息本身无法处理（例如无法反序列化），重试没有意义
var ErrPoisonMessage = errors.New("poison message")

// Decision 是处理失败后对消息的去向判定
type Decision int

const (
	DecisionRetry Decision = iota + 1
	DecisionDeadLetter
)

func (d Decision) String() string {
	switch d {
	case DecisionRetry:
		return "retry"
	case DecisionDeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// Failure 描述一次处理失败
type Failure struct {
	Topic   string
	Attempt int
	Err     error
}

// Poison 报告失败是否由毒消息引起
func (f Failure) Poison() bool {
	return errors.Is(f.Err, ErrPoisonMessage)
}

// FailurePolicy 决定失败的消息是重投还是进入死信
type FailurePolicy interface {
	Decide(f Failure) Decision
}

// MaxAttemptsPolicy 在投递次数达到上限后转入死信；毒消息直接转入死信
type MaxAttemptsPolicy struct {
	MaxAttempts int
}

func (p MaxAttemptsPolicy) Decide(f Failure) Decision {
	if f.Poison() || f.Attempt >= p.MaxAttempts {
		return DecisionDeadLetter
	}
	return DecisionRetry
}

// FailureHandler 负责把处理失败的消息送往重试通道或死信通道。
// 重试消息写入延迟 topic，由 delay-scheduler 在到期后转发回原 topic。
type FailureHandler struct {
	retryWriter MessageWriter
	dltWriter   MessageWriter
	policy      FailurePolicy
	retryDelay  time.Duration
	now         func() time.Time
}

// NewFailureHandler 创建 FailureHandler。retryDelay 为重投前的等待时间。
func NewFailureHandler(retryWriter, dltWriter MessageWriter, policy FailurePolicy, retryDelay time.Duration) *FailureHandler {
	return &FailureHandler{
		retryWriter: retryWriter,
		dltWriter:   dltWriter,
		policy:      policy,
		retryDelay:  retryDelay,
		now:         time.Now,
	}
}

// Handle 根据策略转发失败消息，并返回最终判定。
// 只有返回 nil error 时调用方才可以提交 offset。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) (Decision, error) {
	attempt := Attempt(msg)
	decision := h.policy.Decide(Failure{Topic: msg.Topic, Attempt: attempt, Err: cause})

	switch decision {
	case DecisionRetry:
		retry := kafka.Message{
			Key:     msg.Key,
			Value:   msg.Value,
			Headers: append([]kafka.Header(nil), msg.Headers...),
		}
		retry.Headers = SetHeader(retry.Headers, HeaderAttempt, strconv.Itoa(attempt+1))
		retry.Headers = SetHeader(retry.Headers, HeaderRealTopic, msg.Topic)
		retry.Headers = SetHeader(retry.Headers, HeaderDelayTimestamp, h.now().Add(h.retryDelay).UTC().Format(time.RFC3339Nano))
		if err := h.retryWriter.WriteMessages(ctx, retry); err != nil {
			return decision, errors.Wrap(err, "publish retry")
		}
		logger.Ctx(ctx).Warn().Err(cause).
			Str("topic", msg.Topic).
			Int("attempt", attempt).
			Dur("retry_in", h.retryDelay).
			Msg("message processing failed, scheduled for redelivery")
	default:
		decision = DecisionDeadLetter
		dead := kafka.Message{
			Key:     msg.Key,
			Value:   msg.Value,
			Headers: append([]kafka.Header(nil), msg.Headers...),
		}
		dead.Headers = SetHeader(dead.Headers, HeaderOriginalTopic, msg.Topic)
		dead.Headers = SetHeader(dead.Headers, HeaderOriginalPartition, strconv.Itoa(msg.Partition))
		dead.Headers = SetHeader(dead.Headers, HeaderOriginalOffset, strconv.FormatInt(msg.Offset, 10))
		dead.Headers = SetHeader(dead.Headers, HeaderExceptionFqcn, fmt.Sprintf("%T", errors.Cause(cause)))
		dead.Headers = SetHeader(dead.Headers, HeaderExceptionMessage, errorString(cause))
		if err := h.dltWriter.WriteMessages(ctx, dead); err != nil {
			return decision, errors.Wrap(err, "publish dead letter")
		}
		logger.Ctx(ctx).Error().Err(cause).
			Str("topic", msg.Topic).
			Int("attempt", attempt).
			Msg("message moved to dead-letter topic")
	}
	return decision, nil
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
