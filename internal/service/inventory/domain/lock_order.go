package domain

import (
	"context"
	"slices"
)

// AcquireInOrder 按 key 升序逐个加锁，重复的 key 只锁一次。
// 所有需要同时锁多行的调用都必须经过这里，保证全局一致的加锁顺序。
// 返回值按 key 升序排列；中途失败时已拿到的锁由外层事务负责释放。
func AcquireInOrder[T any](ctx context.Context, keys []int64, lock func(ctx context.Context, key int64) (T, error)) ([]T, error) {
	ordered := slices.Clone(keys)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)

	held := make([]T, 0, len(ordered))
	for _, k := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := lock(ctx, k)
		if err != nil {
			return nil, err
		}
		held = append(held, v)
	}
	return held, nil
}
