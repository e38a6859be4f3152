// internal/service/order/domain/order.go
package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrInvalidOrder      = errors.New("invalid order")
)

// Order 是订单聚合的根实体
type Order struct {
	ID         int64
	UserID     string
	ProductID  int64
	Quantity   int64
	State      State
	Warehouses []string // 预占成功后记录出库仓库
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// 工厂函数: NewOrder 用于创建一个新的待处理订单，ID 在持久化时分配
func NewOrder(userID string, productID, quantity int64) (*Order, error) {
	if userID == "" || productID <= 0 || quantity <= 0 {
		return nil, fmt.Errorf("%w: userId, productId and a positive quantity are required", ErrInvalidOrder)
	}
	now := time.Now()
	return &Order{
		UserID:    userID,
		ProductID: productID,
		Quantity:  quantity,
		State:     StatePending, // 初始状态
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// MarkAsProcessing 库存确认出库后调用
func (o *Order) MarkAsProcessing() error {
	if o.State != StatePending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.State, StateProcessing)
	}
	o.State = StateProcessing
	o.UpdatedAt = time.Now()
	return nil
}

// Advance 沿物流方向前进一步: PROCESSING -> PICKED_UP -> DELIVERING -> DELIVERED
func (o *Order) Advance() error {
	if o.State == StatePending {
		return fmt.Errorf("%w: order %d must be confirmed first", ErrInvalidTransition, o.ID)
	}
	next, ok := o.State.Next()
	if !ok {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, o.State)
	}
	o.State = next
	o.UpdatedAt = time.Now()
	return nil
}

// Cancel 任何非终态都可以取消
func (o *Order) Cancel() error {
	if o.State.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.State, StateCancelled)
	}
	o.State = StateCancelled
	o.UpdatedAt = time.Now()
	return nil
}

// InTransit 表示订单已经出库但尚未签收，此时才存在“丢件”
func (o *Order) InTransit() bool {
	return o.State == StateProcessing || o.State == StatePickedUp || o.State == StateDelivering
}
