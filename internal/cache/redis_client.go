package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"go-timeline/internal/domain/valueobjects"
)

// 本包封装时间线使用的 Redis 键：
// - 页面缓存：tl:page:<viewer>:<scope>:<limit>:<cursor>
// - 失效桶代数：tl:gen:<bucket>，bucket 为 author:<id> / circle:<id> / group:<id> / viewer:<id>
// - 关系缓存：tl:mem:<kind>:<viewer>
// 所有 Redis 错误统一包装为 ErrCacheUnavailable，由调用方降级为直接计算。

// ErrCacheUnavailable 缓存后端不可用
var ErrCacheUnavailable = errors.New("cache unavailable")

// NewClient 创建带链路追踪的 Redis 客户端
func NewClient(addr, pass string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		return nil, err
	}
	return rdb, nil
}

// Ping 检查连通性
func Ping(ctx context.Context, rdb *redis.Client) error {
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// AuthorBucket/CircleBucket/GroupBucket/ViewerBucket 返回失效桶名
func AuthorBucket(id string) string { return "author:" + id }
func CircleBucket(id string) string { return "circle:" + id }
func GroupBucket(id string) string  { return "group:" + id }
func ViewerBucket(id string) string { return "viewer:" + id }

// PageKey 返回页面缓存键；空游标（首页）记为 "-"
func PageKey(viewerID string, scope valueobjects.Scope, limit int, cursor string) string {
	if cursor == "" {
		cursor = "-"
	}
	return fmt.Sprintf("tl:page:%s:%s:%d:%s", viewerID, scope, limit, cursor)
}

// GenKey 返回失效桶的代数键
func GenKey(bucket string) string { return "tl:gen:" + bucket }

// MembershipKey 返回关系缓存键
func MembershipKey(kind, viewerID string) string {
	return fmt.Sprintf("tl:mem:%s:%s", kind, viewerID)
}

// MembershipVersionKey 返回关系缓存的版本号键，每次 Forget 加一
func MembershipVersionKey(viewerID string) string { return "tl:memver:" + viewerID }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
}
