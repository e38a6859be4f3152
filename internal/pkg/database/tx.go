package database

import (
	"context"

	"gorm.io/gorm"

	"inventory-saga/internal/pkg/logger"
)

type txKey struct{}

// Transactor 把事务放进 context，仓储通过 Conn 取出，使同一调用链上的写入共享一个事务
type Transactor struct {
	db         *gorm.DB
	maxRetries int
}

func NewTransactor(db *gorm.DB) *Transactor {
	return &Transactor{db: db, maxRetries: 3}
}

// WithinTransaction 在事务中执行 fn。已处于事务中时直接复用外层事务。
// 遇到死锁或锁等待超时时整体重试 fn。
func (t *Transactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}

	var err error
	for attempt := 1; attempt <= t.maxRetries; attempt++ {
		err = t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(context.WithValue(ctx, txKey{}, tx))
		})
		if err == nil || !IsRetryable(err) || ctx.Err() != nil {
			return err
		}
		logger.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Msg("transaction aborted by lock conflict, retrying")
	}
	return err
}

// Conn 返回 ctx 中的事务，没有事务时返回普通连接
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}
