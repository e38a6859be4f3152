package application

import (
	"context"
	"fmt"
	"sync"

	"inventory-saga/internal/service/inventory/domain"
)

// localOrderLocker 是进程内的按订单加锁实现，单实例部署或未配置 ZooKeeper 时使用
type localOrderLocker struct {
	mu    sync.Mutex
	locks map[int64]*orderLockEntry
}

type orderLockEntry struct {
	sem  chan struct{}
	refs int
}

// NewLocalOrderLocker 创建进程内订单锁
func NewLocalOrderLocker() domain.OrderLocker {
	return &localOrderLocker{locks: make(map[int64]*orderLockEntry)}
}

func (l *localOrderLocker) Lock(ctx context.Context, orderID int64) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[orderID]
	if !ok {
		e = &orderLockEntry{sem: make(chan struct{}, 1)}
		l.locks[orderID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				l.release(orderID, e)
			})
		}, nil
	case <-ctx.Done():
		l.release(orderID, e)
		return nil, fmt.Errorf("%w: order %d: %v", domain.ErrLockTimeout, orderID, ctx.Err())
	}
}

func (l *localOrderLocker) release(orderID int64, e *orderLockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, orderID)
	}
}
