// internal/pkg/redis/client.go
package redis

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

// Client 封装了 go-redis 的通用客户端，单节点和集群地址都可使用
type Client struct {
	client goredis.UniversalClient
}

// NewClient 根据逗号分隔的地址创建客户端，例如 "localhost:6379,localhost:6380"
func NewClient(addrs string) (*Client, error) {
	var list []string
	for _, a := range strings.Split(addrs, ",") {
		if a = strings.TrimSpace(a); a != "" {
			list = append(list, a)
		}
	}
	if len(list) == 0 {
		return nil, errors.New("redis: no address configured")
	}

	c := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:        list,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	return &Client{client: c}, nil
}

// GetClient 返回底层客户端，用于 pipeline 等高级操作
func (c *Client) GetClient() goredis.UniversalClient {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}
