package saga

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"inventory-saga/internal/pkg/logger"
	"inventory-saga/internal/service/order/domain"
	"inventory-saga/internal/service/order/domain/port"
)

// InventoryHandler 负责库存预占步骤。
// 预占被拒绝时库存侧不会留下任何记录；传输失败时结果未知，
// 此时注册一条回滚消息作为补偿，没有预占的回滚会被库存侧当作已结清处理。
type InventoryHandler struct {
	NextHandler
}

func (h *InventoryHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.InventoryReserve")
	defer span.End()

	order := orderCtx.Order
	logger.Ctx(ctx).Info().Int64("order_id", order.ID).Msg("【Saga】=> 步骤 3: 预占库存...")

	span.SetAttributes(
		attribute.Int64("order.id", order.ID),
		attribute.Int64("product.id", order.ProductID),
		attribute.Int64("quantity", order.Quantity),
	)

	result, err := orderCtx.InventoryService.ReserveStock(ctx, order.ProductID, order.Quantity, order.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Inventory reservation failed")
		if errors.Is(err, port.ErrTransport) && orderCtx.Compensator != nil {
			event := domain.StockCompensationRequested{
				OrderID:   order.ID,
				ProductID: order.ProductID,
				Amount:    order.Quantity,
				Reason:    domain.ReasonOrderCancelled,
			}
			orderCtx.AddCompensation(func(compCtx context.Context) {
				compCtx, compSpan := orderCtx.Tracer.Start(compCtx, "saga.compensation.RequestStockRollback")
				defer compSpan.End()
				if pubErr := orderCtx.Compensator.PublishStockCompensation(compCtx, event); pubErr != nil {
					compSpan.RecordError(pubErr)
					logger.Ctx(compCtx).Error().Err(pubErr).Int64("order_id", event.OrderID).Msg("CRITICAL: failed to request stock rollback")
				}
			})
		}
		return err
	}
	if !result.Success {
		span.SetStatus(codes.Error, result.Message)
		return fmt.Errorf("%w: %s", ErrReservationRejected, result.Message)
	}

	orderCtx.Reservation = result
	span.AddEvent("All items reserved successfully")
	return h.executeNext(orderCtx)
}
