// Package state 保存带过期时间的临时键值，例如邮箱验证 token。
package state

import (
	"context"
	"time"
)

// Store 在多实例部署时使用 Redis，单实例或本地开发时使用内存实现。
// Get 在键不存在或已过期时返回 (nil, nil)。
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Take 原子地读取并删除一个键，用于一次性 token。
	Take(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
