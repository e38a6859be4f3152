package saga

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"inventory-saga/internal/pkg/logger"
	"inventory-saga/internal/service/order/domain"
)

// CreateOrderHandler 负责持久化待处理订单，并注册“删除订单”补偿。
type CreateOrderHandler struct {
	NextHandler
	repo domain.OrderRepository // <-- 注入仓储接口
}

func NewCreateOrderHandler(repo domain.OrderRepository) *CreateOrderHandler {
	return &CreateOrderHandler{repo: repo}
}

func (h *CreateOrderHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.CreatePendingOrder")
	defer span.End()

	logger.Ctx(ctx).Info().Msg("【Saga】=> 步骤 2: 创建待处理订单...")

	if err := h.repo.Create(ctx, orderCtx.Order); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save pending order: %w", err)
	}
	orderID := orderCtx.Order.ID
	span.SetAttributes(attribute.Int64("order.id", orderID))
	span.AddEvent("Pending order saved to DB.")

	orderCtx.AddCompensation(func(compCtx context.Context) {
		compCtx, compSpan := orderCtx.Tracer.Start(compCtx, "saga.compensation.DeletePendingOrder")
		defer compSpan.End()
		compSpan.SetAttributes(attribute.Int64("order.id", orderID))

		// 补偿失败需要记录严重错误，并可能需要人工介入
		if err := h.repo.Delete(compCtx, orderID); err != nil {
			compSpan.RecordError(err)
			logger.Ctx(compCtx).Error().Err(err).Int64("order_id", orderID).Msg("CRITICAL: failed to delete pending order")
		}
	})

	return h.executeNext(orderCtx)
}
