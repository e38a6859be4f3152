// internal/service/order/application/service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"inventory-saga/internal/pkg/logger"
	"inventory-saga/internal/pkg/metrics"
	"inventory-saga/internal/service/order/application/saga"
	"inventory-saga/internal/service/order/domain"
	"inventory-saga/internal/service/order/domain/port"
)

// OrderApplicationService 只关注订单流程编排，库存的一致性由库存服务保证。
type OrderApplicationService struct {
	orderRepo         domain.OrderRepository
	processingTimeout time.Duration
	tracer            trace.Tracer

	inventoryService port.InventoryService
	compensator      port.CompensationPublisher
}

func NewOrderApplicationService(orderRepo domain.OrderRepository, processingTimeout time.Duration, tracer trace.Tracer, inventoryService port.InventoryService, compensator port.CompensationPublisher) *OrderApplicationService {
	return &OrderApplicationService{
		orderRepo: orderRepo, processingTimeout: processingTimeout,
		tracer: tracer, inventoryService: inventoryService,
		compensator: compensator,
	}
}

// PlaceOrder 执行下单 Saga: 检查库存 -> 持久化待处理订单 -> 预占库存。
// 库存不足或预占被拒绝时返回 Success=false，其余失败返回 error；两种情况都会执行补偿。
func (s *OrderApplicationService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.PlaceOrder")
	defer span.End()

	orderEntity, err := domain.NewOrder(req.UserID, req.ProductID, req.Quantity)
	if err != nil {
		span.RecordError(err)
		metrics.SagaOutcomes.WithLabelValues("invalid").Inc()
		return nil, err
	}

	// 为每个订单的处理流程设置独立的超时时间
	processingCtx, cancel := context.WithTimeout(ctx, s.processingTimeout)
	defer cancel()

	orderContext := &saga.OrderContext{
		Ctx:              processingCtx,
		Order:            orderEntity,
		Tracer:           s.tracer,
		InventoryService: s.inventoryService,
		Compensator:      s.compensator,
	}

	logger.Ctx(ctx).Info().Str("user_id", req.UserID).Int64("product_id", req.ProductID).Int64("quantity", req.Quantity).Msg("🛒 Starting order placement saga")

	if err := s.buildChain().Handle(orderContext); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Order processing failed in chain")
		logger.Ctx(ctx).Warn().Err(err).Int64("order_id", orderEntity.ID).Msg("Order processing chain failed. SAGA compensation triggered.")

		// 补偿不受处理超时影响
		orderContext.TriggerCompensation(context.WithoutCancel(processingCtx))

		if errors.Is(err, saga.ErrStockUnavailable) || errors.Is(err, saga.ErrReservationRejected) {
			metrics.SagaOutcomes.WithLabelValues("rejected").Inc()
			return &PlaceOrderResponse{Success: false, Message: err.Error()}, nil
		}
		metrics.SagaOutcomes.WithLabelValues("failed").Inc()
		return nil, err
	}

	orderEntity.Warehouses = orderContext.Reservation.Warehouses
	if err := s.orderRepo.Save(processingCtx, orderEntity); err != nil {
		// 预占已经成功，订单仍是 PENDING，仓库列表可以由确认步骤重新得到
		span.RecordError(err)
		logger.Ctx(ctx).Warn().Err(err).Int64("order_id", orderEntity.ID).Msg("failed to record reserved warehouses")
	}

	metrics.SagaOutcomes.WithLabelValues("placed").Inc()
	span.SetAttributes(attribute.Int64("order.id", orderEntity.ID))
	logger.Ctx(ctx).Info().Int64("order_id", orderEntity.ID).Strs("warehouses", orderEntity.Warehouses).Msg("✅ Order placed, stock reserved")

	return &PlaceOrderResponse{
		Success:    true,
		OrderID:    orderEntity.ID,
		State:      orderEntity.State,
		Warehouses: orderEntity.Warehouses,
	}, nil
}

// ConfirmOrder 确认出库: 提交库存预占并把订单推进到 PROCESSING，返回各仓的包裹。
func (s *OrderApplicationService) ConfirmOrder(ctx context.Context, orderID int64) (*ConfirmOrderResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.ConfirmOrder")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", orderID))

	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if order.State != domain.StatePending {
		return nil, fmt.Errorf("%w: order %d is %s", domain.ErrInvalidTransition, orderID, order.State)
	}

	result, err := s.inventoryService.CommitStock(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Commit stock failed")
		return nil, err
	}
	if !result.Success {
		span.SetStatus(codes.Error, result.Message)
		logger.Ctx(ctx).Warn().Int64("order_id", orderID).Str("reason", result.Message).Msg("commit rejected by inventory")
		return &ConfirmOrderResponse{Success: false, OrderID: orderID, State: order.State, Message: result.Message}, nil
	}

	if err := order.MarkAsProcessing(); err != nil {
		return nil, err
	}
	if err := s.orderRepo.Save(ctx, order); err != nil {
		span.RecordError(err)
		return nil, err
	}

	logger.Ctx(ctx).Info().Int64("order_id", orderID).Int("packages", len(result.Packages)).Msg("📦 Order confirmed")
	return &ConfirmOrderResponse{
		Success:  true,
		OrderID:  orderID,
		State:    order.State,
		Packages: toPackageDTOs(result.Packages),
	}, nil
}

// AdvanceOrder 推进物流状态
func (s *OrderApplicationService) AdvanceOrder(ctx context.Context, orderID int64) (*OrderView, error) {
	ctx, span := s.tracer.Start(ctx, "app.AdvanceOrder")
	defer span.End()

	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := order.Advance(); err != nil {
		return nil, err
	}
	if err := s.orderRepo.Save(ctx, order); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("order.state", string(order.State)))
	return toOrderView(order), nil
}

// ReportShipmentLost 上报丢件: 订单必须处于运输途中。
func (s *OrderApplicationService) ReportShipmentLost(ctx context.Context, orderID int64) (*OrderView, error) {
	ctx, span := s.tracer.Start(ctx, "app.ReportShipmentLost")
	defer span.End()

	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.InTransit() {
		return nil, fmt.Errorf("%w: order %d is %s, not in transit", domain.ErrInvalidTransition, orderID, order.State)
	}
	return s.cancelWithCompensation(ctx, order, domain.ReasonShipmentLost)
}

// CancelOrder 取消任意非终态订单并请求回滚库存
func (s *OrderApplicationService) CancelOrder(ctx context.Context, orderID int64) (*OrderView, error) {
	ctx, span := s.tracer.Start(ctx, "app.CancelOrder")
	defer span.End()

	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.cancelWithCompensation(ctx, order, domain.ReasonOrderCancelled)
}

// GetOrder 查询订单
func (s *OrderApplicationService) GetOrder(ctx context.Context, orderID int64) (*OrderView, error) {
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return toOrderView(order), nil
}

// cancelWithCompensation 先发布补偿消息再落库，消息发布失败时订单状态保持不变
func (s *OrderApplicationService) cancelWithCompensation(ctx context.Context, order *domain.Order, reason domain.CompensationReason) (*OrderView, error) {
	span := trace.SpanFromContext(ctx)
	if order.State.IsTerminal() {
		return nil, fmt.Errorf("%w: order %d is %s", domain.ErrInvalidTransition, order.ID, order.State)
	}

	event := domain.StockCompensationRequested{
		OrderID:   order.ID,
		ProductID: order.ProductID,
		Amount:    order.Quantity,
		Reason:    reason,
	}
	if err := s.compensator.PublishStockCompensation(ctx, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to publish compensation")
		return nil, fmt.Errorf("publish stock compensation for order %d: %w", order.ID, err)
	}
	span.AddEvent("Stock compensation published", trace.WithAttributes(attribute.String("reason", string(reason))))

	if err := order.Cancel(); err != nil {
		return nil, err
	}
	if err := s.orderRepo.Save(ctx, order); err != nil {
		span.RecordError(err)
		return nil, err
	}
	logger.Ctx(ctx).Info().Int64("order_id", order.ID).Str("reason", string(reason)).Msg("🚫 Order cancelled, stock rollback requested")
	return toOrderView(order), nil
}

func (s *OrderApplicationService) buildChain() saga.Handler {
	orderProcessingChain := new(saga.StockCheckHandler)
	orderProcessingChain.
		SetNext(saga.NewCreateOrderHandler(s.orderRepo)).
		SetNext(new(saga.InventoryHandler))

	return orderProcessingChain
}
