// internal/service/order/domain/state.go
package domain

// State 定义了订单的生命周期状态
type State string

const (
	StatePending    State = "PENDING"    // 已落库，库存尚未预占成功
	StateProcessing State = "PROCESSING" // 库存已确认出库
	StatePickedUp   State = "PICKED_UP"  // 物流已揽收
	StateDelivering State = "DELIVERING" // 配送中
	StateDelivered  State = "DELIVERED"  // 已签收
	StateCancelled  State = "CANCELLED"  // 已取消 (用户主动或物流丢件)
)

// nextState 是正向流转表
var nextState = map[State]State{
	StatePending:    StateProcessing,
	StateProcessing: StatePickedUp,
	StatePickedUp:   StateDelivering,
	StateDelivering: StateDelivered,
}

// IsTerminal 已签收和已取消的订单不再流转
func (s State) IsTerminal() bool {
	return s == StateDelivered || s == StateCancelled
}

// Next 返回正向流转的下一个状态
func (s State) Next() (State, bool) {
	n, ok := nextState[s]
	return n, ok
}
