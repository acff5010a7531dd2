package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"go-timeline/internal/application/ports"
	"go-timeline/internal/models"
)

// 版本号键只需比任何一次回源都活得久
const membershipVersionTTL = 24 * time.Hour

// storeIfVersion 仅当版本号与回源前读到的一致时写回，
// 回源期间发生的 Forget 会让这次写回作废
var storeIfVersion = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then v = '0' end
if v ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// MembershipEvictor 只负责让关系缓存失效，不读取关系
type MembershipEvictor struct {
	rdb *redis.Client
}

func NewMembershipEvictor(rdb *redis.Client) *MembershipEvictor {
	return &MembershipEvictor{rdb: rdb}
}

// Forget 删除该用户全部关系缓存并递增版本号
func (e *MembershipEvictor) Forget(ctx context.Context, userID string) error {
	pipe := e.rdb.TxPipeline()
	pipe.Del(ctx,
		MembershipKey(models.MembershipConnection, userID),
		MembershipKey(models.MembershipCircle, userID),
		MembershipKey(models.MembershipGroup, userID),
	)
	pipe.Incr(ctx, MembershipVersionKey(userID))
	pipe.Expire(ctx, MembershipVersionKey(userID), membershipVersionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

// MembershipCache 关系仓储的短时缓存装饰器。
// Redis 不可用时直接回源；回源失败不写缓存
type MembershipCache struct {
	*MembershipEvictor
	next ports.MembershipRepository
	rdb  *redis.Client
	ttl  time.Duration
}

func NewMembershipCache(next ports.MembershipRepository, rdb *redis.Client, ttl time.Duration) *MembershipCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &MembershipCache{MembershipEvictor: NewMembershipEvictor(rdb), next: next, rdb: rdb, ttl: ttl}
}

func (m *MembershipCache) ConnectionsOf(ctx context.Context, userID string) ([]string, error) {
	return m.load(ctx, models.MembershipConnection, userID, m.next.ConnectionsOf)
}

func (m *MembershipCache) CirclesOf(ctx context.Context, userID string) ([]string, error) {
	return m.load(ctx, models.MembershipCircle, userID, m.next.CirclesOf)
}

func (m *MembershipCache) GroupsOf(ctx context.Context, userID string) ([]string, error) {
	return m.load(ctx, models.MembershipGroup, userID, m.next.GroupsOf)
}

func (m *MembershipCache) load(ctx context.Context, kind, userID string, fetch func(context.Context, string) ([]string, error)) ([]string, error) {
	key := MembershipKey(kind, userID)
	pipe := m.rdb.Pipeline()
	dataCmd := pipe.Get(ctx, key)
	verCmd := pipe.Get(ctx, MembershipVersionKey(userID))
	_, err := pipe.Exec(ctx)
	cacheable := err == nil || errors.Is(err, redis.Nil)
	if !cacheable {
		slog.Warn("MembershipCache.Get", "kind", kind, "user", userID, "err", err)
	}
	if raw, err := dataCmd.Bytes(); err == nil {
		var ids []string
		if jerr := json.Unmarshal(raw, &ids); jerr == nil {
			return ids, nil
		}
	}
	version := "0"
	if v, err := verCmd.Result(); err == nil {
		version = v
	}

	ids, err := fetch(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	if !cacheable {
		return ids, nil
	}
	b, _ := json.Marshal(ids)
	keys := []string{MembershipVersionKey(userID), key}
	if err := storeIfVersion.Run(ctx, m.rdb, keys, version, string(b), m.ttl.Milliseconds()).Err(); err != nil {
		slog.Warn("MembershipCache.Set", "kind", kind, "user", userID, "err", err)
	}
	return ids, nil
}
