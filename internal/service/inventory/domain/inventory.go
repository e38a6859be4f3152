// internal/service/inventory/domain/inventory.go
package domain

import (
	"strings"
	"time"
)

// InventoryRecord 是某个仓库中某个商品的库存计数，数量永远非负
type InventoryRecord struct {
	WarehouseID int64
	ProductID   int64
	Quantity    int64
}

// ReservationStatus 定义了预占记录的生命周期状态
type ReservationStatus string

const (
	StatusReserved   ReservationStatus = "RESERVED"    // 已预占，等待确认
	StatusCommitted  ReservationStatus = "COMMITTED"   // 已确认出库
	StatusRolledBack ReservationStatus = "ROLLED_BACK" // 已回滚，库存已归还
)

// Live 表示该记录仍占用库存（回滚时需要归还）
func (s ReservationStatus) Live() bool {
	return s == StatusReserved || s == StatusCommitted
}

// Reservation 是某个订单在某个仓库上的库存占用，只追加不删除
type Reservation struct {
	ID          int64
	OrderID     int64
	ProductID   int64
	WarehouseID int64
	Quantity    int64
	Status      ReservationStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Address 是仓库的发货地址
type Address struct {
	Line    string
	City    string
	ZipCode string
}

// Missing 返回缺失的地址字段名
func (a Address) Missing() []string {
	var missing []string
	if strings.TrimSpace(a.Line) == "" {
		missing = append(missing, "address")
	}
	if strings.TrimSpace(a.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(a.ZipCode) == "" {
		missing = append(missing, "zipCode")
	}
	return missing
}

func (a Address) String() string {
	return a.Line + ", " + a.City + " " + a.ZipCode
}

type Warehouse struct {
	ID      int64
	Name    string
	Address Address
}

// Product 只保留库存同步事件需要的字段
type Product struct {
	ID        int64
	Name      string
	Price     float64
	Published bool
}

// DeliveryPackage 是确认出库后交给物流的包裹描述
type DeliveryPackage struct {
	WarehouseID      int64
	WarehouseAddress string
	ProductID        int64
	Quantity         int64
}

// StockChanged 是库存变更后对外发布的事件
type StockChanged struct {
	ProductID   int64
	WarehouseID int64 // 0 表示订单级事件，不针对单个仓库
	TotalStock  int64
	Product     Product
	OccurredAt  time.Time
}
