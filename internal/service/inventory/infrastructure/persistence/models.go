// internal/service/inventory/infrastructure/persistence/models.go
package persistence

import (
	"time"

	"inventory-saga/internal/service/inventory/domain"
)

// InventoryModel 是 InventoryRecord 在数据库中的表示，(warehouse_id, product_id) 唯一
type InventoryModel struct {
	ID          int64 `gorm:"primaryKey"`
	WarehouseID int64 `gorm:"uniqueIndex:idx_inventory_wh_product,priority:1;not null"`
	ProductID   int64 `gorm:"uniqueIndex:idx_inventory_wh_product,priority:2;index;not null"`
	Quantity    int64 `gorm:"not null;check:quantity >= 0"`
	UpdatedAt   time.Time
}

func (InventoryModel) TableName() string {
	return "inventory"
}

// ReservationModel 是 Reservation 在数据库中的表示，只追加不删除
type ReservationModel struct {
	ID          int64  `gorm:"primaryKey"`
	OrderID     int64  `gorm:"index;not null"`
	ProductID   int64  `gorm:"not null"`
	WarehouseID int64  `gorm:"not null"`
	Quantity    int64  `gorm:"not null"`
	Status      string `gorm:"type:varchar(16);not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ReservationModel) TableName() string {
	return "reservations"
}

type WarehouseModel struct {
	ID      int64 `gorm:"primaryKey"`
	Name    string
	Address string
	City    string
	ZipCode string
}

func (WarehouseModel) TableName() string {
	return "warehouses"
}

type ProductModel struct {
	ID        int64 `gorm:"primaryKey"`
	Name      string
	Price     float64
	Published bool
}

func (ProductModel) TableName() string {
	return "products"
}

// Models 返回需要迁移的全部表
func Models() []any {
	return []any{&InventoryModel{}, &ReservationModel{}, &WarehouseModel{}, &ProductModel{}}
}

// --- 类型转换函数 ---

func toDomainRecord(m *InventoryModel) domain.InventoryRecord {
	return domain.InventoryRecord{WarehouseID: m.WarehouseID, ProductID: m.ProductID, Quantity: m.Quantity}
}

func toDomainReservation(m *ReservationModel) domain.Reservation {
	return domain.Reservation{
		ID:          m.ID,
		OrderID:     m.OrderID,
		ProductID:   m.ProductID,
		WarehouseID: m.WarehouseID,
		Quantity:    m.Quantity,
		Status:      domain.ReservationStatus(m.Status),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func toReservationModel(r domain.Reservation) ReservationModel {
	return ReservationModel{
		ID:          r.ID,
		OrderID:     r.OrderID,
		ProductID:   r.ProductID,
		WarehouseID: r.WarehouseID,
		Quantity:    r.Quantity,
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func toDomainWarehouse(m *WarehouseModel) *domain.Warehouse {
	return &domain.Warehouse{
		ID:   m.ID,
		Name: m.Name,
		Address: domain.Address{
			Line:    m.Address,
			City:    m.City,
			ZipCode: m.ZipCode,
		},
	}
}

func toWarehouseModel(w domain.Warehouse) WarehouseModel {
	return WarehouseModel{
		ID:      w.ID,
		Name:    w.Name,
		Address: w.Address.Line,
		City:    w.Address.City,
		ZipCode: w.Address.ZipCode,
	}
}

func toDomainProduct(m *ProductModel) *domain.Product {
	return &domain.Product{ID: m.ID, Name: m.Name, Price: m.Price, Published: m.Published}
}
