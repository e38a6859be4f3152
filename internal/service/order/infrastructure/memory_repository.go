package infrastructure

import (
	"context"
	"slices"
	"sync"

	"inventory-saga/internal/service/order/domain"
)

// MemoryRepository 是进程内的订单仓储，用于本地运行和测试
type MemoryRepository struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]domain.Order
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[int64]domain.Order)}
}

func (r *MemoryRepository) Create(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	order.ID = r.nextID
	r.orders[order.ID] = clone(order)
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.orders, id)
	return nil
}

func (r *MemoryRepository) FindByID(_ context.Context, id int64) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	out := clone(&o)
	return &out, nil
}

func (r *MemoryRepository) Save(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; !ok {
		return domain.ErrOrderNotFound
	}
	r.orders[order.ID] = clone(order)
	return nil
}

func clone(o *domain.Order) domain.Order {
	c := *o
	c.Warehouses = slices.Clone(o.Warehouses)
	return c
}
