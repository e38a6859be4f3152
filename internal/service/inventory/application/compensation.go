package application

import (
	"context"
	"encoding/json"
	"fmt"

	"inventory-saga/internal/pkg/logger"
	"inventory-saga/internal/pkg/mq"
)

// CompensationMessage 是订单侧发布到 inventory.rollback.<reason> 的补偿消息
type CompensationMessage struct {
	OrderID   int64  `json:"orderId"`
	ProductID int64  `json:"productId"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
}

// CompensationOutcome 是一条补偿消息被成功处理后的结果，三种结果都可以确认消息
type CompensationOutcome string

const (
	OutcomeRolledBack     CompensationOutcome = "rolled_back"
	OutcomeAlreadySettled CompensationOutcome = "already_settled" // 没有可回滚的记录，或已经回滚过
	OutcomeDuplicate      CompensationOutcome = "duplicate"
)

// StockRollbacker 是补偿处理需要的唯一服务能力
type StockRollbacker interface {
	RollbackStock(ctx context.Context, req RollbackStockRequest) (*RollbackStockResponse, error)
}

// ProcessedMessageStore 记录已经成功处理过的消息 ID
type ProcessedMessageStore interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string) error
}

// CompensationHandler 是与消息中间件无关的补偿处理逻辑：解码、去重、回滚。
// 返回错误时消息不能确认，由调用方决定重试还是进入死信。
type CompensationHandler struct {
	rollbacker StockRollbacker
	processed  ProcessedMessageStore
}

// NewCompensationHandler 创建处理器，processed 可以为 nil
func NewCompensationHandler(rollbacker StockRollbacker, processed ProcessedMessageStore) *CompensationHandler {
	return &CompensationHandler{rollbacker: rollbacker, processed: processed}
}

// DecodeCompensation 解析消息体，无法解析或缺少订单号的消息视为毒消息
func DecodeCompensation(payload []byte) (CompensationMessage, error) {
	var msg CompensationMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", mq.ErrPoisonMessage, err)
	}
	if msg.OrderID <= 0 {
		return msg, fmt.Errorf("%w: missing orderId", mq.ErrPoisonMessage)
	}
	return msg, nil
}

func (h *CompensationHandler) Handle(ctx context.Context, messageID string, payload []byte) (CompensationOutcome, error) {
	msg, err := DecodeCompensation(payload)
	if err != nil {
		return "", err
	}
	log := logger.Ctx(ctx).With().
		Int64("order_id", msg.OrderID).
		Str("reason", msg.Reason).
		Str("message_id", messageID).
		Logger()

	if h.processed != nil && messageID != "" {
		seen, err := h.processed.Seen(ctx, messageID)
		if err != nil {
			// 去重存储不可用时继续处理，回滚本身是幂等的
			log.Warn().Err(err).Msg("dedupe store unavailable")
		} else if seen {
			log.Info().Msg("duplicate compensation message skipped")
			return OutcomeDuplicate, nil
		}
	}

	resp, err := h.rollbacker.RollbackStock(ctx, RollbackStockRequest{OrderID: msg.OrderID})
	if err != nil {
		return "", err
	}

	outcome := OutcomeRolledBack
	if !resp.RolledBack {
		outcome = OutcomeAlreadySettled
	}
	if h.processed != nil && messageID != "" {
		if err := h.processed.MarkProcessed(ctx, messageID); err != nil {
			log.Warn().Err(err).Msg("failed to record processed message")
		}
	}
	log.Info().Str("outcome", string(outcome)).Msg(resp.Message)
	return outcome, nil
}
