// internal/service/order/application/dto.go
package application

import (
	"inventory-saga/internal/service/order/domain"
	"inventory-saga/internal/service/order/domain/port"
)

// PlaceOrderRequest 是下单用例的输入数据
type PlaceOrderRequest struct {
	UserID    string `json:"userId"`
	ProductID int64  `json:"productId"`
	Quantity  int64  `json:"quantity"`
}

// PlaceOrderResponse 是下单用例的输出数据，Success=false 表示库存不足等业务失败
type PlaceOrderResponse struct {
	Success    bool         `json:"success"`
	OrderID    int64        `json:"orderId,omitempty"`
	State      domain.State `json:"state,omitempty"`
	Warehouses []string     `json:"warehouses,omitempty"`
	Message    string       `json:"message,omitempty"`
}

// OrderRequest 用于只需要订单号的操作
type OrderRequest struct {
	OrderID int64 `json:"orderId"`
}

type DeliveryPackage struct {
	WarehouseID      int64  `json:"warehouseId"`
	WarehouseAddress string `json:"warehouseAddress"`
	ProductID        int64  `json:"productId"`
	Quantity         int64  `json:"quantity"`
}

type ConfirmOrderResponse struct {
	Success  bool              `json:"success"`
	OrderID  int64             `json:"orderId"`
	State    domain.State      `json:"state"`
	Packages []DeliveryPackage `json:"packages,omitempty"`
	Message  string            `json:"message,omitempty"`
}

// OrderView 是订单的对外视图
type OrderView struct {
	OrderID    int64        `json:"orderId"`
	UserID     string       `json:"userId"`
	ProductID  int64        `json:"productId"`
	Quantity   int64        `json:"quantity"`
	State      domain.State `json:"state"`
	Warehouses []string     `json:"warehouses,omitempty"`
}

func toOrderView(o *domain.Order) *OrderView {
	return &OrderView{
		OrderID:    o.ID,
		UserID:     o.UserID,
		ProductID:  o.ProductID,
		Quantity:   o.Quantity,
		State:      o.State,
		Warehouses: o.Warehouses,
	}
}

func toPackageDTOs(pkgs []port.DeliveryPackage) []DeliveryPackage {
	out := make([]DeliveryPackage, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, DeliveryPackage{
			WarehouseID:      p.WarehouseID,
			WarehouseAddress: p.WarehouseAddress,
			ProductID:        p.ProductID,
			Quantity:         p.Quantity,
		})
	}
	return out
}
