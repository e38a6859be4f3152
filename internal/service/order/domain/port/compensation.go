package port

import (
	"context"

	"inventory-saga/internal/service/order/domain"
)

// CompensationPublisher 发布库存补偿消息。库存回滚只能经由消息触发，订单侧从不直接调用回滚接口。
type CompensationPublisher interface {
	PublishStockCompensation(ctx context.Context, event domain.StockCompensationRequested) error
}
