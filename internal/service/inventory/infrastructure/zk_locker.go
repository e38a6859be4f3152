package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"inventory-saga/internal/pkg/logger"
	"inventory-saga/internal/pkg/zookeeper"
	"inventory-saga/internal/service/inventory/domain"
)

// ZkOrderLocker 用 ZooKeeper 临时顺序节点在多个库存实例之间串行化同一订单的操作
type ZkOrderLocker struct {
	conn *zookeeper.Conn
	root string
}

func NewZkOrderLocker(conn *zookeeper.Conn, root string) *ZkOrderLocker {
	return &ZkOrderLocker{conn: conn, root: root}
}

func (l *ZkOrderLocker) Lock(ctx context.Context, orderID int64) (func(), error) {
	lock, err := zookeeper.NewDistributedLock(l.conn, l.root, "order-"+strconv.FormatInt(orderID, 10))
	if err != nil {
		return nil, err
	}
	if err := lock.Lock(ctx); err != nil {
		if errors.Is(err, zookeeper.ErrLockTimeout) {
			return nil, fmt.Errorf("%w: order %d", domain.ErrLockTimeout, orderID)
		}
		return nil, err
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Int64("order_id", orderID).Msg("failed to release order lock")
		}
	}, nil
}
