// Package sources 实现四个时间线数据源适配器：Own、Connections、Circles、Groups。
// 每个适配器从帖子仓储读取严格低于水位的帖子，经可见性判定后按 (created_at desc, id desc) 返回至多 limit 条。
package sources

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go-timeline/internal/domain/entities"
	"go-timeline/internal/models"
	"go-timeline/internal/visibility"
)

// ErrSourceUnavailable 数据源不可用（仓储出错或依赖的关系数据缺失）
var ErrSourceUnavailable = errors.New("source unavailable")

// 数据源名称
const (
	NameOwn         = "own"
	NameConnections = "connections"
	NameCircles     = "circles"
	NameGroups      = "groups"
)

// Result 单个数据源的一次读取结果。
// Exhausted=false 时 Horizon 为本次已检查到的最低位置：
// 截断返回时是最后一条返回的帖子，扫描轮次用尽时是最后一条扫描过的原始行。
// 高于 Horizon 的可见帖子已全部在 Posts 中。
type Result struct {
	Posts     []*models.Post
	Exhausted bool
	Horizon   models.Watermark
}

// Source 数据源适配器
type Source interface {
	Name() string
	Fetch(ctx context.Context, v *entities.Viewer, before models.Watermark, limit int) (Result, error)
}

// Options 超量读取参数
type Options struct {
	OverFetchFactor int // 每轮读取 limit*OverFetchFactor 行
	MaxScanRounds   int // 单次 Fetch 最多扫描的批次数
}

func (o Options) normalize() Options {
	if o.OverFetchFactor < 1 {
		o.OverFetchFactor = 3
	}
	if o.MaxScanRounds < 1 {
		o.MaxScanRounds = 3
	}
	return o
}

// batchFunc 读取严格低于 before 的至多 n 条原始行（已排序）。
// 返回少于 n 条表示底层流已耗尽
type batchFunc func(ctx context.Context, before models.Watermark, n int) ([]*models.Post, error)

// scan 分批超量读取并过滤，直到凑满 limit、底层耗尽或轮次用尽
func scan(ctx context.Context, v *entities.Viewer, before models.Watermark, limit int, opts Options, filter bool, fetch batchFunc) (Result, error) {
	if limit <= 0 {
		return Result{Exhausted: true}, nil
	}
	opts = opts.normalize()
	batch := limit * opts.OverFetchFactor
	cur := before
	out := make([]*models.Post, 0, limit)
	for round := 0; round < opts.MaxScanRounds; round++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		raw, err := fetch(ctx, cur, batch)
		if err != nil {
			return Result{}, err
		}
		short := len(raw) < batch
		for i, p := range raw {
			if p == nil || !cur.Admits(p.Watermark()) {
				continue
			}
			if filter && !visibility.IsVisible(v, p) {
				continue
			}
			out = append(out, p)
			if len(out) == limit {
				return Result{
					Posts:     out,
					Exhausted: short && i == len(raw)-1,
					Horizon:   p.Watermark(),
				}, nil
			}
		}
		if short {
			return Result{Posts: out, Exhausted: true}, nil
		}
		cur = raw[len(raw)-1].Watermark()
	}
	return Result{Posts: out, Horizon: cur}, nil
}

// mergeLists 合并多个已排序列表，按帖子ID去重并截断到 n 条
func mergeLists(lists [][]*models.Post, n int) []*models.Post {
	seen := make(map[int64]struct{})
	var all []*models.Post
	for _, l := range lists {
		for _, p := range l {
			if p == nil {
				continue
			}
			if _, ok := seen[p.ID]; ok {
				continue
			}
			seen[p.ID] = struct{}{}
			all = append(all, p)
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Precedes(all[j]) })
	if len(all) > n {
		all = all[:n]
	}
	return all
}

func unavailable(name string, err error) error {
	return fmt.Errorf("%s: %w: %v", name, ErrSourceUnavailable, err)
}
