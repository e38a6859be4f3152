// Package memory 提供库存服务各端口的内存实现，用于测试与本地开发。
// 行锁在事务内获取、事务结束时释放，回滚依赖 undo 日志。
package memory

import (
	"context"
	"sync"
)

type txKey struct{}

// rowLock 模拟数据库行锁，容量为 1 的信号量
type rowLock struct {
	sem chan struct{}
}

func newRowLock() *rowLock {
	return &rowLock{sem: make(chan struct{}, 1)}
}

// tx 记录事务持有的锁与撤销操作
type tx struct {
	mu   sync.Mutex
	held map[*rowLock]struct{}
	undo []func()
}

func txFrom(ctx context.Context) *tx {
	t, _ := ctx.Value(txKey{}).(*tx)
	return t
}

// acquire 获取行锁，同一事务内重复获取直接返回
func (t *tx) acquire(ctx context.Context, l *rowLock) error {
	t.mu.Lock()
	_, ok := t.held[l]
	t.mu.Unlock()
	if ok {
		return nil
	}
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	t.mu.Lock()
	t.held[l] = struct{}{}
	t.mu.Unlock()
	return nil
}

func (t *tx) onRollback(fn func()) {
	t.mu.Lock()
	t.undo = append(t.undo, fn)
	t.mu.Unlock()
}

func (t *tx) finish(commit bool) {
	t.mu.Lock()
	undo, held := t.undo, t.held
	t.undo, t.held = nil, nil
	t.mu.Unlock()

	if !commit {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}
	for l := range held {
		<-l.sem
	}
}

// Transactor 是 domain.Transactor 的内存实现
type Transactor struct{}

func NewTransactor() *Transactor {
	return &Transactor{}
}

func (Transactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	t := &tx{held: make(map[*rowLock]struct{})}
	defer func() {
		if r := recover(); r != nil {
			t.finish(false)
			panic(r)
		}
		t.finish(err == nil)
	}()
	return fn(context.WithValue(ctx, txKey{}, t))
}
