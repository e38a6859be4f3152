package saga

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"inventory-saga/internal/pkg/logger"
	"inventory-saga/internal/service/order/domain"
	"inventory-saga/internal/service/order/domain/port"
)

var (
	// ErrStockUnavailable 表示库存检查未通过
	ErrStockUnavailable = errors.New("stock unavailable")
	// ErrReservationRejected 表示库存服务拒绝了预占（库存不足或并发扣减）
	ErrReservationRejected = errors.New("reservation rejected")
)

// OrderContext 在 Saga 流程中传递上下文数据。
type OrderContext struct {
	Ctx    context.Context
	Order  *domain.Order
	Tracer trace.Tracer

	// 依赖出站端口 (Interfaces)
	InventoryService port.InventoryService
	Compensator      port.CompensationPublisher // 可为 nil

	// 由预占步骤回填
	Reservation *port.ReservationResult

	compensations []func(ctx context.Context)
	compLock      sync.Mutex
}

// AddCompensation 注册补偿操作，执行顺序与注册顺序相反
func (c *OrderContext) AddCompensation(comp func(ctx context.Context)) {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	c.compensations = append([]func(context.Context){comp}, c.compensations...)
}

// TriggerCompensation 执行全部补偿，每个补偿只会执行一次
func (c *OrderContext) TriggerCompensation(ctx context.Context) {
	c.compLock.Lock()
	comps := c.compensations
	c.compensations = nil
	c.compLock.Unlock()

	logger.Ctx(ctx).Info().Int64("order_id", c.Order.ID).Msgf("Executing %d compensation functions.", len(comps))
	for _, comp := range comps {
		comp(ctx)
	}
}

// Handler 是责任链中的一个步骤
type Handler interface {
	SetNext(handler Handler) Handler
	Handle(orderCtx *OrderContext) error
}

type NextHandler struct {
	next Handler
}

func (h *NextHandler) SetNext(handler Handler) Handler {
	h.next = handler
	return handler
}

func (h *NextHandler) executeNext(orderCtx *OrderContext) error {
	if h.next != nil {
		return h.next.Handle(orderCtx)
	}
	return nil
}
