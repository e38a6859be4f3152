package zookeeper

import (
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"

	"inventory-saga/internal/pkg/logger"
)

// Conn 包装 zk.Conn，统一日志输出
type Conn struct {
	*zk.Conn
}

// Connect 连接到 ZooKeeper 集群，servers 为逗号分隔的地址
func Connect(servers string, sessionTimeout time.Duration) (*Conn, error) {
	var list []string
	for _, s := range strings.Split(servers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}
	if len(list) == 0 {
		return nil, errors.New("zookeeper: no server configured")
	}

	c, _, err := zk.Connect(list, sessionTimeout, zk.WithLogger(zkLogger{}))
	if err != nil {
		return nil, errors.Wrap(err, "zookeeper connect")
	}
	return &Conn{Conn: c}, nil
}

type zkLogger struct{}

func (zkLogger) Printf(format string, args ...interface{}) {
	logger.L().Debug().Str("component", "zookeeper").Msgf(format, args...)
}
