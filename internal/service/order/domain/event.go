// internal/service/order/domain/event.go
package domain

// CompensationReason 是库存回滚的原因，也是补偿 topic 的最后一段
type CompensationReason string

const (
	ReasonShipmentLost   CompensationReason = "shipment_lost"
	ReasonOrderCancelled CompensationReason = "order_cancelled"
	ReasonPaymentFailed  CompensationReason = "payment_failed"
)

// StockCompensationRequested 要求库存服务回滚某个订单的全部预占
type StockCompensationRequested struct {
	OrderID   int64              `json:"orderId"`
	ProductID int64              `json:"productId"`
	Amount    int64              `json:"amount"`
	Reason    CompensationReason `json:"reason"`
}
