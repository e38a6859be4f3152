// internal/pkg/zookeeper/lock.go
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-zookeeper/zk"
)

const (
	defaultLockRoot = "/inventory_locks" // 所有分布式锁的根节点
)

// ErrLockTimeout 在等待前序节点释放时 ctx 到期
var ErrLockTimeout = errors.New("timeout waiting for lock")

// DistributedLock 定义了一个分布式锁对象
type DistributedLock struct {
	conn     *Conn  // ZooKeeper连接
	path     string // 锁的路径，例如 /inventory_locks/order-42
	lockNode string // 成功获取锁后，自己创建的节点路径
}

// NewDistributedLock 创建一个新的分布式锁实例，并确保锁路径存在
func NewDistributedLock(conn *Conn, root, resourceID string) (*DistributedLock, error) {
	if root == "" {
		root = defaultLockRoot
	}
	lockPath := root + "/" + resourceID
	if err := ensurePath(conn, lockPath); err != nil {
		return nil, err
	}
	return &DistributedLock{
		conn: conn,
		path: lockPath,
	}, nil
}

// ensurePath 逐级创建持久节点，已存在的节点直接跳过
func ensurePath(conn *Conn, path string) error {
	current := ""
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		current += "/" + part
		exists, _, err := conn.Exists(current)
		if err != nil {
			return fmt.Errorf("failed to check node %s: %w", current, err)
		}
		if exists {
			continue
		}
		if _, err := conn.Create(current, []byte(""), 0, zk.WorldACL(zk.PermAll)); err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("failed to create lock path node %s: %w", current, err)
		}
	}
	return nil
}

// Lock 尝试获取锁，如果获取不到则阻塞等待，直到 ctx 结束
func (l *DistributedLock) Lock(ctx context.Context) error {
	// 1. 在锁路径下创建一个临时顺序节点
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("failed to create sequential node: %w", err)
	}
	l.lockNode = nodePath

	for {
		// 2. 获取锁路径下的所有子节点
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			l.abandon()
			return fmt.Errorf("failed to get children nodes: %w", err)
		}
		// protected 节点带有 GUID 前缀，按序号部分排序
		sort.Slice(children, func(i, j int) bool { return sequence(children[i]) < sequence(children[j]) })

		// 3. 判断自己是否是最小的节点
		myNodeName := strings.TrimPrefix(l.lockNode, l.path+"/")
		if len(children) > 0 && myNodeName == children[0] {
			return nil
		}

		// 4. 不是最小节点，监听前一个节点
		prevNodeIndex := -1
		for i, child := range children {
			if child == myNodeName {
				prevNodeIndex = i - 1
				break
			}
		}
		if prevNodeIndex < 0 {
			l.abandon()
			return errors.New("cannot find previous node, something is wrong")
		}
		prevNodePath := l.path + "/" + children[prevNodeIndex]

		exists, _, eventChan, err := l.conn.ExistsW(prevNodePath)
		if err != nil {
			l.abandon()
			return fmt.Errorf("failed to watch previous node: %w", err)
		}
		if !exists {
			continue
		}

		select {
		case <-eventChan:
			// 前一个节点发生变化，重新竞争
		case <-ctx.Done():
			l.abandon()
			return ErrLockTimeout
		}
	}
}

// Unlock 释放锁
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	l.lockNode = ""
	return nil
}

func (l *DistributedLock) abandon() {
	if l.lockNode != "" {
		_ = l.conn.Delete(l.lockNode, -1)
		l.lockNode = ""
	}
}

// sequence 截取顺序节点名末尾的 10 位序号
func sequence(node string) string {
	if len(node) < 10 {
		return node
	}
	return node[len(node)-10:]
}
