package saga

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"inventory-saga/internal/pkg/logger"
)

// StockCheckHandler 在落库前确认总库存足够，避免创建注定失败的订单。
type StockCheckHandler struct {
	NextHandler
}

func (h *StockCheckHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.CheckStock")
	defer span.End()

	order := orderCtx.Order
	logger.Ctx(ctx).Info().Int64("product_id", order.ProductID).Msg("【Saga】=> 步骤 1: 检查库存...")

	result, err := orderCtx.InventoryService.CheckStock(ctx, order.ProductID, order.Quantity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Stock check failed")
		return err
	}
	span.SetAttributes(
		attribute.Bool("stock.available", result.Available),
		attribute.Int64("stock.total", result.TotalAvailable),
	)
	if !result.Available {
		span.SetStatus(codes.Error, "Insufficient stock")
		return fmt.Errorf("%w: %d requested, %d available", ErrStockUnavailable, order.Quantity, result.TotalAvailable)
	}

	return h.executeNext(orderCtx)
}
