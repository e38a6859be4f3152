// internal/service/inventory/application/dto.go
package application

import (
	"strconv"

	"inventory-saga/internal/service/inventory/domain"
)

type CheckStockRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int64 `json:"quantity"`
}

type CheckStockResponse struct {
	Available      bool  `json:"available"`
	TotalAvailable int64 `json:"totalAvailable"`
}

type ReserveStockRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int64 `json:"quantity"`
	OrderID   int64 `json:"orderId"`
}

type ReserveStockResponse struct {
	Success                bool     `json:"success"`
	ReservedFromWarehouses []string `json:"reservedFromWarehouses"`
	Message                string   `json:"message"`
}

type CommitStockRequest struct {
	OrderID int64 `json:"orderId"`
}

type DeliveryPackage struct {
	WarehouseID      int64  `json:"warehouseId"`
	WarehouseAddress string `json:"warehouseAddress"`
	ProductID        int64  `json:"productId"`
	Quantity         int64  `json:"quantity"`
}

type CommitStockResponse struct {
	Success          bool              `json:"success"`
	DeliveryPackages []DeliveryPackage `json:"deliveryPackages"`
	Message          string            `json:"message"`
}

type RollbackStockRequest struct {
	OrderID int64 `json:"orderId"`
}

type RollbackStockResponse struct {
	RolledBack bool   `json:"rolledBack"`
	Message    string `json:"message"`
}

// SeedStockRequest 是运维写入库存的请求
type SeedStockRequest struct {
	ProductID   int64 `json:"productId"`
	WarehouseID int64 `json:"warehouseId"`
	Quantity    int64 `json:"quantity"`
}

// SeedWarehouseRequest 是运维登记仓库地址的请求
type SeedWarehouseRequest struct {
	WarehouseID int64  `json:"warehouseId"`
	Name        string `json:"name"`
	Address     string `json:"address"`
	City        string `json:"city"`
	ZipCode     string `json:"zipCode"`
}

func toWarehouseStrings(ids []int64) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, strconv.FormatInt(id, 10))
	}
	return out
}

func toPackageDTOs(pkgs []domain.DeliveryPackage) []DeliveryPackage {
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
