// internal/service/inventory/domain/repository.go
package domain

import "context"

// InventoryStore 定义了库存计数的持久化接口。
// 所有方法都从 ctx 中获取当前事务（由 Transactor 注入），没有事务时直接访问存储。
type InventoryStore interface {
	// TotalAvailable 返回商品在所有仓库的库存总和，不加锁。
	TotalAvailable(ctx context.Context, productID int64) (int64, error)

	// WarehouseIDs 返回持有该商品库存记录的仓库 ID（升序）。
	WarehouseIDs(ctx context.Context, productID int64) ([]int64, error)

	// LockRecord 对单行库存加排他锁，锁持续到事务结束。
	LockRecord(ctx context.Context, productID, warehouseID int64) (InventoryRecord, error)

	// Adjust 对库存做增量修改，结果为负时返回 ErrNegativeStock。
	Adjust(ctx context.Context, productID, warehouseID, delta int64) error

	// Seed 写入或覆盖一条库存记录。
	Seed(ctx context.Context, record InventoryRecord) error
}

// ReservationLedger 定义了预占记录的持久化接口，记录只追加不删除。
type ReservationLedger interface {
	// Insert 批量写入预占记录，并回填 ID 与时间戳。
	Insert(ctx context.Context, reservations []Reservation) ([]Reservation, error)

	// FindByOrder 不加锁地读取订单的全部预占记录，按仓库 ID 升序。
	FindByOrder(ctx context.Context, orderID int64) ([]Reservation, error)

	// LockByOrder 锁定并返回订单的全部预占记录，按仓库 ID 升序。
	LockByOrder(ctx context.Context, orderID int64) ([]Reservation, error)

	// UpdateStatus 批量更新状态。
	UpdateStatus(ctx context.Context, ids []int64, status ReservationStatus) error
}

// WarehouseDirectory 提供仓库元数据
type WarehouseDirectory interface {
	Get(ctx context.Context, warehouseID int64) (*Warehouse, error)
	// Save 写入或覆盖仓库信息
	Save(ctx context.Context, warehouse Warehouse) error
}

// ProductCatalog 提供商品元数据，用于填充库存事件
type ProductCatalog interface {
	Get(ctx context.Context, productID int64) (*Product, error)
}

// EventPublisher 在事务提交后发布库存变更事件
type EventPublisher interface {
	PublishStockChanged(ctx context.Context, event StockChanged) error
}

// Transactor 把 fn 包在一个原子事务中执行，fn 返回错误时回滚全部写入。
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderLocker 在多实例之间串行化同一订单的提交与回滚
type OrderLocker interface {
	Lock(ctx context.Context, orderID int64) (unlock func(), err error)
}
