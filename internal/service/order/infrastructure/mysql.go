package infrastructure

import (
	"context"
	"errors"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"

	"inventory-saga/internal/service/order/domain"
)

// OrderModel 是订单在数据库中的表示
type OrderModel struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	UserID     string `gorm:"type:varchar(64);index;not null"`
	ProductID  int64  `gorm:"not null"`
	Quantity   int64  `gorm:"not null"`
	State      string `gorm:"type:varchar(16);not null"`
	Warehouses string `gorm:"type:varchar(255)"` // 逗号分隔
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (OrderModel) TableName() string {
	return "orders"
}

type MysqlRepository struct {
	db *gorm.DB
}

func NewMysqlRepository(db *gorm.DB) *MysqlRepository {
	return &MysqlRepository{db: db}
}

func (m *MysqlRepository) Create(ctx context.Context, order *domain.Order) error {
	model := toOrderModel(order)
	model.ID = 0
	if err := m.db.WithContext(ctx).Create(&model).Error; err != nil {
		return pkgerrors.Wrap(err, "create order")
	}
	order.ID = model.ID
	return nil
}

func (m *MysqlRepository) Delete(ctx context.Context, id int64) error {
	return pkgerrors.Wrapf(m.db.WithContext(ctx).Delete(&OrderModel{}, id).Error, "delete order %d", id)
}

func (m *MysqlRepository) FindByID(ctx context.Context, id int64) (*domain.Order, error) {
	var model OrderModel
	err := m.db.WithContext(ctx).First(&model, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "load order %d", id)
	}
	return model.toDomain(), nil
}

func (m *MysqlRepository) Save(ctx context.Context, order *domain.Order) error {
	res := m.db.WithContext(ctx).Model(&OrderModel{ID: order.ID}).Updates(map[string]any{
		"state":      string(order.State),
		"warehouses": strings.Join(order.Warehouses, ","),
		"updated_at": order.UpdatedAt,
	})
	if res.Error != nil {
		return pkgerrors.Wrapf(res.Error, "save order %d", order.ID)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// 内容未变时部分驱动配置也会返回 0 行，再确认一次记录是否存在
	var count int64
	if err := m.db.WithContext(ctx).Model(&OrderModel{}).Where("id = ?", order.ID).Count(&count).Error; err != nil {
		return pkgerrors.Wrapf(err, "check order %d", order.ID)
	}
	if count == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func toOrderModel(o *domain.Order) OrderModel {
	return OrderModel{
		ID:         o.ID,
		UserID:     o.UserID,
		ProductID:  o.ProductID,
		Quantity:   o.Quantity,
		State:      string(o.State),
		Warehouses: strings.Join(o.Warehouses, ","),
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

func (m OrderModel) toDomain() *domain.Order {
	var warehouses []string
	if m.Warehouses != "" {
		warehouses = strings.Split(m.Warehouses, ",")
	}
	return &domain.Order{
		ID:         m.ID,
		UserID:     m.UserID,
		ProductID:  m.ProductID,
		Quantity:   m.Quantity,
		State:      domain.State(m.State),
		Warehouses: warehouses,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}
