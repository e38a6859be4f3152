package mq

import (
	"context"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// MatchRoutingKey 按 topic-exchange 的规则匹配路由键:
// 以 '.' 分词，'*' 匹配恰好一个词，'#' 匹配零个或多个词。
func MatchRoutingKey(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, words []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(words); i++ {
				if matchWords(pattern[1:], words[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(words) == 0 || words[0] == "" {
				return false
			}
		default:
			if len(words) == 0 || words[0] != pattern[0] {
				return false
			}
		}
		pattern, words = pattern[1:], words[1:]
	}
	return len(words) == 0
}

// FilterTopics 返回匹配 pattern 的 topic，结果去重并排序
func FilterTopics(pattern string, topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	var matched []string
	for _, t := range topics {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if MatchRoutingKey(pattern, t) {
			matched = append(matched, t)
		}
	}
	sort.Strings(matched)
	return matched
}

// MergeTopics 合并元数据中解析出的 topic 与配置中声明的 topic，只保留匹配 pattern 的部分。
// 配置的 topic 总是被订阅，即使它们还没有在 broker 上出现。
func MergeTopics(pattern string, resolved, configured []string) []string {
	all := make([]string, 0, len(resolved)+len(configured))
	all = append(all, resolved...)
	all = append(all, configured...)
	return FilterTopics(pattern, all)
}

// EnsureTopics 通过 controller 创建尚不存在的 topic，已存在的 topic 会被忽略
func EnsureTopics(ctx context.Context, brokers []string, topics []string, partitions, replicationFactor int) error {
	if len(topics) == 0 {
		return nil
	}
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}

	dialer := &kafka.Dialer{DualStack: true}
	conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return errors.Wrapf(err, "dial %s", brokers[0])
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return errors.Wrap(err, "find controller")
	}
	ctrlConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return errors.Wrap(err, "dial controller")
	}
	defer ctrlConn.Close()

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, t := range topics {
		configs = append(configs, kafka.TopicConfig{
			Topic:             t,
			NumPartitions:     partitions,
			ReplicationFactor: replicationFactor,
		})
	}
	if err := ctrlConn.CreateTopics(configs...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return errors.Wrap(err, "create topics")
	}
	return nil
}

// ResolveTopics 从 broker 元数据中列出所有 topic，并返回与 pattern 匹配的部分。
// Kafka 没有通配符订阅，这里在启动时把模式展开成具体的 topic 列表。
func ResolveTopics(ctx context.Context, brokers []string, pattern string) ([]string, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}

	var lastErr error
	for _, broker := range brokers {
		topics, err := listTopics(ctx, broker)
		if err != nil {
			lastErr = err
			continue
		}
		return FilterTopics(pattern, topics), nil
	}
	return nil, errors.Wrap(lastErr, "resolve topics")
}

func listTopics(ctx context.Context, broker string) ([]string, error) {
	dialer := &kafka.Dialer{DualStack: true}
	conn, err := dialer.DialContext(ctx, "tcp", broker)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", broker)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, errors.Wrap(err, "read partitions")
	}
	topics := make([]string, 0, len(partitions))
	for _, p := range partitions {
		topics = append(topics, p.Topic)
	}
	return topics, nil
}
