package ports

import (
	"context"

	"go-timeline/internal/domain/valueobjects"
	"go-timeline/internal/models"
)

// PageKey 页面缓存键：(viewer, scope, cursor, limit)
type PageKey struct {
	ViewerID string
	Scope    valueobjects.Scope
	Cursor   string
	Limit    int
}

// Generations 失效桶 -> 代数 的快照
type Generations map[string]int64

// PageCache 页面缓存端口
// 页面仅在其记录的每个桶代数都等于当前代数时有效
type PageCache interface {
	// Lookup 读取当前各桶代数与缓存页；页面缺失或已过期代数时返回 nil 页面。
	// 返回的代数快照用于随后的 Store，必须在计算页面之前读取
	Lookup(ctx context.Context, key PageKey, buckets []string) (*models.Page, Generations, error)
	// Store 写入页面及计算前读取的代数快照
	Store(ctx context.Context, key PageKey, gens Generations, page *models.Page) error
	// Bump 递增若干桶的代数，使引用它们的页面全部失效
	Bump(ctx context.Context, buckets ...string) error
}

// MembershipInvalidator 关系缓存失效端口
type MembershipInvalidator interface {
	// Forget 丢弃某用户的关系缓存
	Forget(ctx context.Context, userID string) error
}

// RateLimiter 限流器端口
type RateLimiter interface {
	// Allow 检查是否允许请求，返回 (allowed, remainingTokens, err)
	Allow(ctx context.Context, key string, ratePerSec, burst int) (bool, int64, error)
}
