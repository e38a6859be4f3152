package port

import (
	"context"
	"errors"
)

// ErrTransport 表示库存服务不可达、超时或返回了非业务错误，调用结果未知
var ErrTransport = errors.New("inventory service transport failure")

type StockAvailability struct {
	Available      bool
	TotalAvailable int64
}

type ReservationResult struct {
	Success    bool
	Warehouses []string
	Message    string
}

type DeliveryPackage struct {
	WarehouseID      int64
	WarehouseAddress string
	ProductID        int64
	Quantity         int64
}

type CommitResult struct {
	Success  bool
	Packages []DeliveryPackage
	Message  string
}

// InventoryService 是库存服务的出站端口。
// 业务失败通过结果中的 Success=false 表达，只有传输层失败才返回 error（包装 ErrTransport）。
type InventoryService interface {
	CheckStock(ctx context.Context, productID, quantity int64) (*StockAvailability, error)
	ReserveStock(ctx context.Context, productID, quantity, orderID int64) (*ReservationResult, error)
	CommitStock(ctx context.Context, orderID int64) (*CommitResult, error)
}
