package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrReservationRace     = errors.New("insufficient stock: concurrent depletion during reservation")
	ErrReservationNotFound = errors.New("no reservation found")
	ErrAlreadyRolledBack   = errors.New("reservation already rolled back")
	ErrNegativeStock       = errors.New("stock would become negative")
	ErrRecordNotFound      = errors.New("inventory record not found")
	ErrWarehouseNotFound   = errors.New("warehouse not found")
	ErrProductNotFound     = errors.New("product not found")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrLockTimeout         = errors.New("timeout acquiring order lock")
)

// WarehouseAddressError 表示提交时某个仓库不存在或地址不完整
type WarehouseAddressError struct {
	WarehouseID int64
	Missing     []string // 为空表示仓库本身不存在
}

func (e *WarehouseAddressError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("warehouse %d not found", e.WarehouseID)
	}
	return fmt.Sprintf("warehouse %d has incomplete address: missing %s", e.WarehouseID, strings.Join(e.Missing, ", "))
}

// IsBusinessFailure 判断错误是否应作为 success=false 返回给调用方，而不是基础设施错误
func IsBusinessFailure(err error) bool {
	var addrErr *WarehouseAddressError
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrReservationRace) ||
		errors.Is(err, ErrReservationNotFound) ||
		errors.Is(err, ErrAlreadyRolledBack) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.As(err, &addrErr)
}
