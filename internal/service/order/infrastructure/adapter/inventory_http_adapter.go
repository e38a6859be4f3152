package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"inventory-saga/internal/pkg/httpclient"
	"inventory-saga/internal/service/order/domain/port"
)

const (
	inventoryCheckPath   = "/check_stock"
	inventoryReservePath = "/reserve_stock"
	inventoryCommitPath  = "/commit_stock"
)

// ServiceDiscoverer 按服务名解析出一个实例地址，由 nacos.Client 实现
type ServiceDiscoverer interface {
	DiscoverServiceInstance(ctx context.Context, serviceName string) (string, int, error)
}

// BaseURLResolver 返回库存服务的根地址，例如 http://10.0.0.3:8082
type BaseURLResolver func(ctx context.Context) (string, error)

// StaticBaseURL 用于直连或测试环境
func StaticBaseURL(baseURL string) BaseURLResolver {
	baseURL = strings.TrimRight(baseURL, "/")
	return func(context.Context) (string, error) { return baseURL, nil }
}

// DiscoveredBaseURL 每次调用前通过注册中心选择实例
func DiscoveredBaseURL(discoverer ServiceDiscoverer, serviceName string) BaseURLResolver {
	return func(ctx context.Context) (string, error) {
		ip, port, err := discoverer.DiscoverServiceInstance(ctx, serviceName)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("http://%s:%d", ip, port), nil
	}
}

type checkStockRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int64 `json:"quantity"`
}

type checkStockResponse struct {
	Available      bool  `json:"available"`
	TotalAvailable int64 `json:"totalAvailable"`
}

type reserveStockRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int64 `json:"quantity"`
	OrderID   int64 `json:"orderId"`
}

type reserveStockResponse struct {
	Success                bool     `json:"success"`
	ReservedFromWarehouses []string `json:"reservedFromWarehouses"`
	Message                string   `json:"message"`
}

type commitStockRequest struct {
	OrderID int64 `json:"orderId"`
}

type commitStockResponse struct {
	Success          bool `json:"success"`
	DeliveryPackages []struct {
		WarehouseID      int64  `json:"warehouseId"`
		WarehouseAddress string `json:"warehouseAddress"`
		ProductID        int64  `json:"productId"`
		Quantity         int64  `json:"quantity"`
	} `json:"deliveryPackages"`
	Message string `json:"message"`
}

// InventoryHTTPAdapter 实现了 port.InventoryService 接口。
type InventoryHTTPAdapter struct {
	client  *httpclient.Client
	resolve BaseURLResolver
	timeout time.Duration
}

// NewInventoryHTTPAdapter 创建一个新的库存服务适配器，timeout<=0 时只受调用方 context 约束。
func NewInventoryHTTPAdapter(client *httpclient.Client, resolve BaseURLResolver, timeout time.Duration) *InventoryHTTPAdapter {
	return &InventoryHTTPAdapter{client: client, resolve: resolve, timeout: timeout}
}

func (a *InventoryHTTPAdapter) CheckStock(ctx context.Context, productID, quantity int64) (*port.StockAvailability, error) {
	var resp checkStockResponse
	if err := a.call(ctx, inventoryCheckPath, checkStockRequest{ProductID: productID, Quantity: quantity}, &resp); err != nil {
		return nil, err
	}
	return &port.StockAvailability{Available: resp.Available, TotalAvailable: resp.TotalAvailable}, nil
}

// ReserveStock 实现了预占库存的HTTP调用逻辑。
func (a *InventoryHTTPAdapter) ReserveStock(ctx context.Context, productID, quantity, orderID int64) (*port.ReservationResult, error) {
	var resp reserveStockResponse
	req := reserveStockRequest{ProductID: productID, Quantity: quantity, OrderID: orderID}
	if err := a.call(ctx, inventoryReservePath, req, &resp); err != nil {
		return nil, err
	}
	return &port.ReservationResult{
		Success:    resp.Success,
		Warehouses: resp.ReservedFromWarehouses,
		Message:    resp.Message,
	}, nil
}

func (a *InventoryHTTPAdapter) CommitStock(ctx context.Context, orderID int64) (*port.CommitResult, error) {
	var resp commitStockResponse
	if err := a.call(ctx, inventoryCommitPath, commitStockRequest{OrderID: orderID}, &resp); err != nil {
		return nil, err
	}
	result := &port.CommitResult{Success: resp.Success, Message: resp.Message}
	for _, p := range resp.DeliveryPackages {
		result.Packages = append(result.Packages, port.DeliveryPackage{
			WarehouseID:      p.WarehouseID,
			WarehouseAddress: p.WarehouseAddress,
			ProductID:        p.ProductID,
			Quantity:         p.Quantity,
		})
	}
	return result, nil
}

// call 把所有失败（发现失败、超时、非 2xx、解码失败）统一包装为 ErrTransport
func (a *InventoryHTTPAdapter) call(ctx context.Context, path string, in, out any) error {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	baseURL, err := a.resolve(ctx)
	if err != nil {
		return fmt.Errorf("%w: resolve inventory service: %v", port.ErrTransport, err)
	}
	if err := a.client.PostJSON(ctx, baseURL+path, in, out); err != nil {
		return fmt.Errorf("%w: %s: %v", port.ErrTransport, path, err)
	}
	return nil
}
