// internal/service/inventory/infrastructure/persistence/gorm_repository.go
package persistence

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"inventory-saga/internal/pkg/database"
	"inventory-saga/internal/service/inventory/domain"
)

// GormInventoryStore 是 InventoryStore 的 GORM 实现
type GormInventoryStore struct {
	db *gorm.DB
}

func NewGormInventoryStore(db *gorm.DB) *GormInventoryStore {
	return &GormInventoryStore{db: db}
}

func (s *GormInventoryStore) TotalAvailable(ctx context.Context, productID int64) (int64, error) {
	var total int64
	err := database.Conn(ctx, s.db).Model(&InventoryModel{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("product_id = ?", productID).
		Scan(&total).Error
	if err != nil {
		return 0, pkgerrors.Wrap(err, "sum inventory")
	}
	return total, nil
}

func (s *GormInventoryStore) WarehouseIDs(ctx context.Context, productID int64) ([]int64, error) {
	var ids []int64
	err := database.Conn(ctx, s.db).Model(&InventoryModel{}).
		Where("product_id = ?", productID).
		Order("warehouse_id ASC").
		Pluck("warehouse_id", &ids).Error
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list warehouses")
	}
	return ids, nil
}

// LockRecord 执行 SELECT ... FOR UPDATE，锁在事务结束时释放
func (s *GormInventoryStore) LockRecord(ctx context.Context, productID, warehouseID int64) (domain.InventoryRecord, error) {
	var m InventoryModel
	err := database.Conn(ctx, s.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("product_id = ? AND warehouse_id = ?", productID, warehouseID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.InventoryRecord{}, domain.ErrRecordNotFound
	}
	if err != nil {
		return domain.InventoryRecord{}, pkgerrors.Wrapf(err, "lock inventory %d/%d", warehouseID, productID)
	}
	return toDomainRecord(&m), nil
}

// Adjust 用条件更新保证数量不会变为负数
func (s *GormInventoryStore) Adjust(ctx context.Context, productID, warehouseID, delta int64) error {
	conn := database.Conn(ctx, s.db)
	res := conn.Model(&InventoryModel{}).
		Where("product_id = ? AND warehouse_id = ? AND quantity + ? >= 0", productID, warehouseID, delta).
		Updates(map[string]any{
			"quantity":   gorm.Expr("quantity + ?", delta),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return pkgerrors.Wrapf(res.Error, "adjust inventory %d/%d", warehouseID, productID)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := conn.Model(&InventoryModel{}).
		Where("product_id = ? AND warehouse_id = ?", productID, warehouseID).
		Count(&count).Error; err != nil {
		return pkgerrors.Wrap(err, "check inventory")
	}
	if count == 0 {
		return domain.ErrRecordNotFound
	}
	return domain.ErrNegativeStock
}

func (s *GormInventoryStore) Seed(ctx context.Context, record domain.InventoryRecord) error {
	m := InventoryModel{
		WarehouseID: record.WarehouseID,
		ProductID:   record.ProductID,
		Quantity:    record.Quantity,
		UpdatedAt:   time.Now(),
	}
	err := database.Conn(ctx, s.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "warehouse_id"}, {Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "updated_at"}),
	}).Create(&m).Error
	return pkgerrors.Wrap(err, "seed inventory")
}

// GormReservationLedger 是 ReservationLedger 的 GORM 实现
type GormReservationLedger struct {
	db *gorm.DB
}

func NewGormReservationLedger(db *gorm.DB) *GormReservationLedger {
	return &GormReservationLedger{db: db}
}

func (l *GormReservationLedger) Insert(ctx context.Context, reservations []domain.Reservation) ([]domain.Reservation, error) {
	if len(reservations) == 0 {
		return nil, nil
	}
	models := make([]ReservationModel, 0, len(reservations))
	for _, r := range reservations {
		models = append(models, toReservationModel(r))
	}
	if err := database.Conn(ctx, l.db).Create(&models).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "insert reservations")
	}
	out := make([]domain.Reservation, 0, len(models))
	for i := range models {
		out = append(out, toDomainReservation(&models[i]))
	}
	return out, nil
}

func (l *GormReservationLedger) FindByOrder(ctx context.Context, orderID int64) ([]domain.Reservation, error) {
	return l.byOrder(database.Conn(ctx, l.db), orderID)
}

func (l *GormReservationLedger) LockByOrder(ctx context.Context, orderID int64) ([]domain.Reservation, error) {
	return l.byOrder(database.Conn(ctx, l.db).Clauses(clause.Locking{Strength: "UPDATE"}), orderID)
}

func (l *GormReservationLedger) byOrder(db *gorm.DB, orderID int64) ([]domain.Reservation, error) {
	var models []ReservationModel
	err := db.Where("order_id = ?", orderID).
		Order("warehouse_id ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "load reservations of order %d", orderID)
	}
	out := make([]domain.Reservation, 0, len(models))
	for i := range models {
		out = append(out, toDomainReservation(&models[i]))
	}
	return out, nil
}

func (l *GormReservationLedger) UpdateStatus(ctx context.Context, ids []int64, status domain.ReservationStatus) error {
	if len(ids) == 0 {
		return nil
	}
	err := database.Conn(ctx, l.db).Model(&ReservationModel{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"status": string(status), "updated_at": time.Now()}).Error
	return pkgerrors.Wrap(err, "update reservation status")
}

// GormWarehouseDirectory 读取仓库信息
type GormWarehouseDirectory struct {
	db *gorm.DB
}

func NewGormWarehouseDirectory(db *gorm.DB) *GormWarehouseDirectory {
	return &GormWarehouseDirectory{db: db}
}

func (d *GormWarehouseDirectory) Get(ctx context.Context, warehouseID int64) (*domain.Warehouse, error) {
	var m WarehouseModel
	err := database.Conn(ctx, d.db).Where("id = ?", warehouseID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrWarehouseNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "load warehouse %d", warehouseID)
	}
	return toDomainWarehouse(&m), nil
}

func (d *GormWarehouseDirectory) Save(ctx context.Context, w domain.Warehouse) error {
	m := toWarehouseModel(w)
	err := database.Conn(ctx, d.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "address", "city", "zip_code"}),
	}).Create(&m).Error
	return pkgerrors.Wrapf(err, "save warehouse %d", w.ID)
}

// GormProductCatalog 读取商品信息
type GormProductCatalog struct {
	db *gorm.DB
}

func NewGormProductCatalog(db *gorm.DB) *GormProductCatalog {
	return &GormProductCatalog{db: db}
}

func (c *GormProductCatalog) Get(ctx context.Context, productID int64) (*domain.Product, error) {
	var m ProductModel
	err := database.Conn(ctx, c.db).Where("id = ?", productID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "load product %d", productID)
	}
	return toDomainProduct(&m), nil
}
