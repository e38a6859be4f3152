package domain

import "sort"

// WarehouseStock 是分配算法的输入：某仓库当前可用数量
type WarehouseStock struct {
	WarehouseID int64
	Available   int64
}

// Allocation 是计划中的单个仓库分配
type Allocation struct {
	WarehouseID int64
	Quantity    int64
}

// AllocationPlan 是一次预占的分配结果，只在单次调用内有效
type AllocationPlan []Allocation

// Allocated 返回计划分配的总量
func (p AllocationPlan) Allocated() int64 {
	var sum int64
	for _, a := range p {
		sum += a.Quantity
	}
	return sum
}

// Covers 判断计划是否满足需求量
func (p AllocationPlan) Covers(required int64) bool {
	return p.Allocated() >= required
}

func (p AllocationPlan) WarehouseIDs() []int64 {
	ids := make([]int64, 0, len(p))
	for _, a := range p {
		ids = append(ids, a.WarehouseID)
	}
	return ids
}

// Allocate 按仓库 ID 升序贪心分配：每个仓库取 min(可用, 剩余)，直到满足或遍历完。
// 相同输入总是得到相同计划。
func Allocate(required int64, stock []WarehouseStock) AllocationPlan {
	ordered := make([]WarehouseStock, len(stock))
	copy(ordered, stock)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].WarehouseID < ordered[j].WarehouseID })

	var plan AllocationPlan
	remaining := required
	for _, ws := range ordered {
		if remaining <= 0 {
			break
		}
		if ws.Available <= 0 {
			continue
		}
		take := min(ws.Available, remaining)
		plan = append(plan, Allocation{WarehouseID: ws.WarehouseID, Quantity: take})
		remaining -= take
	}
	return plan
}
