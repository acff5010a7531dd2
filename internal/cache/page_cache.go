package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"go-timeline/internal/application/ports"
	"go-timeline/internal/models"
)

// PageCache 基于 Redis 的页面缓存：
// - 页面与计算前读取的代数快照一起写入，TTL 兜底
// - 查询时在同一个 pipeline 中读取页面与当前代数，任一桶代数不同即视为未命中
// - 失效只递增代数，不主动删除页面
type PageCache struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

func NewPageCache(rdb *redis.Client, ttl time.Duration) *PageCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &PageCache{rdb: rdb, ttl: ttl, now: time.Now}
}

type entry struct {
	Gens ports.Generations `json:"gens"`
	Page models.Page       `json:"page"`
}

func (c *PageCache) Lookup(ctx context.Context, key ports.PageKey, buckets []string) (*models.Page, ports.Generations, error) {
	keys := make([]string, len(buckets))
	for i, b := range buckets {
		keys[i] = GenKey(b)
	}
	pipe := c.rdb.Pipeline()
	var genCmd *redis.SliceCmd
	if len(keys) > 0 {
		genCmd = pipe.MGet(ctx, keys...)
	}
	pageCmd := pipe.Get(ctx, PageKey(key.ViewerID, key.Scope, key.Limit, key.Cursor))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, unavailable(err)
	}

	gens := make(ports.Generations, len(buckets))
	for i, b := range buckets {
		gens[b] = 0
		if genCmd == nil {
			continue
		}
		if s, ok := genCmd.Val()[i].(string); ok {
			n, err := strconv.ParseInt(s, 10, 64)
			if err == nil {
				gens[b] = n
			}
		}
	}

	raw, err := pageCmd.Bytes()
	if err != nil {
		return nil, gens, nil
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		slog.Warn("PageCache.Lookup decode", "key", key.ViewerID, "err", err)
		return nil, gens, nil
	}
	if !sameGenerations(e.Gens, gens) {
		return nil, gens, nil
	}
	return &e.Page, gens, nil
}

func (c *PageCache) Store(ctx context.Context, key ports.PageKey, gens ports.Generations, page *models.Page) error {
	if page == nil || page.Partial {
		return nil
	}
	b, err := json.Marshal(entry{Gens: gens, Page: *page})
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, PageKey(key.ViewerID, key.Scope, key.Limit, key.Cursor), b, c.ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// bumpScript 递增代数；键不存在时以调用方给出的纳秒时间戳起步，
// 过期后重建的代数不会与旧页面记下的快照重合
var bumpScript = redis.NewScript(`
for i, key in ipairs(KEYS) do
  if redis.call('EXISTS', key) == 0 then
    redis.call('SET', key, ARGV[1], 'PX', ARGV[2])
  else
    redis.call('INCR', key)
    redis.call('PEXPIRE', key, ARGV[2])
  end
end
return #KEYS
`)

// Bump 递增各桶代数，代数键保留 2×TTL
func (c *PageCache) Bump(ctx context.Context, buckets ...string) error {
	if len(buckets) == 0 {
		return nil
	}
	keys := make([]string, len(buckets))
	for i, b := range buckets {
		keys[i] = GenKey(b)
	}
	seed := strconv.FormatInt(c.now().UnixNano(), 10)
	if err := bumpScript.Run(ctx, c.rdb, keys, seed, (2 * c.ttl).Milliseconds()).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// InvalidateViewer 使该查看者的全部缓存页失效
func (c *PageCache) InvalidateViewer(ctx context.Context, viewerID string) error {
	return c.Bump(ctx, ViewerBucket(viewerID))
}

func sameGenerations(a, b ports.Generations) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range b {
		if got, ok := a[k]; !ok || got != v {
			return false
		}
	}
	return true
}
