// internal/service/order/domain/repository.go
package domain

import "context"

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。
type OrderRepository interface {
	// Create 保存一个新订单并回填 ID。
	Create(ctx context.Context, order *Order) error

	// Delete 删除订单，用于撤销尚未预占成功的待处理订单。
	Delete(ctx context.Context, id int64) error

	// FindByID 根据 ID 查找一个订单聚合，不存在时返回 ErrOrderNotFound。
	FindByID(ctx context.Context, id int64) (*Order, error)

	// Save 更新订单的状态与出库仓库。
	Save(ctx context.Context, order *Order) error
}
