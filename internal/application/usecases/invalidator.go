package usecases

import (
	"context"
	"errors"
	"fmt"

	"go-timeline/internal/application/ports"
	"go-timeline/internal/cache"
	"go-timeline/internal/metrics"
	"go-timeline/internal/models"
)

// Invalidator 写事件到缓存失效的映射，只依赖页面缓存与关系缓存。
// 事件消费进程只需要它，不必装配完整的时间线用例
type Invalidator struct {
	pageCache    ports.PageCache
	memberForget ports.MembershipInvalidator
}

// NewInvalidator 任一依赖为 nil 时跳过对应的失效
func NewInvalidator(pageCache ports.PageCache, memberForget ports.MembershipInvalidator) *Invalidator {
	return &Invalidator{pageCache: pageCache, memberForget: memberForget}
}

// InvalidateViewer 使查看者的缓存页与关系缓存全部失效
func (i *Invalidator) InvalidateViewer(ctx context.Context, viewerID string) error {
	if viewerID == "" {
		return ErrUnauthorized
	}
	var errs []error
	if i.memberForget != nil {
		if err := i.memberForget.Forget(ctx, viewerID); err != nil {
			errs = append(errs, err)
		}
	}
	if i.pageCache != nil {
		if err := i.pageCache.Bump(ctx, cache.ViewerBucket(viewerID)); err != nil {
			errs = append(errs, err)
		}
	}
	metrics.Invalidations.WithLabelValues("viewer").Inc()
	return errors.Join(errs...)
}

// OnPostWritten 帖子创建/删除/可见性变更：递增作者桶以及新旧圈子、群组桶
func (i *Invalidator) OnPostWritten(ctx context.Context, ev models.PostEvent) error {
	buckets := PostBuckets(ev)
	if len(buckets) == 0 {
		return nil
	}
	metrics.Invalidations.WithLabelValues("post").Inc()
	if i.pageCache == nil {
		return nil
	}
	if err := i.pageCache.Bump(ctx, buckets...); err != nil {
		return fmt.Errorf("bump post %d: %w", ev.PostID, err)
	}
	return nil
}

// OnMembershipChanged 关系变更：直接失效查看者；好友关系变更同时失效对端
func (i *Invalidator) OnMembershipChanged(ctx context.Context, ev models.MembershipEvent) error {
	if ev.ViewerID == "" {
		return errors.New("membership event without viewer")
	}
	metrics.Invalidations.WithLabelValues("membership").Inc()
	errs := []error{i.InvalidateViewer(ctx, ev.ViewerID)}
	if ev.Scope == models.MembershipConnection && ev.TargetID != "" && ev.TargetID != ev.ViewerID {
		errs = append(errs, i.InvalidateViewer(ctx, ev.TargetID))
	}
	return errors.Join(errs...)
}

// PostBuckets 帖子写事件涉及的失效桶（去重）
func PostBuckets(ev models.PostEvent) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(b string) {
		if _, ok := seen[b]; !ok {
			seen[b] = struct{}{}
			out = append(out, b)
		}
	}
	if ev.AuthorID != "" {
		add(cache.AuthorBucket(ev.AuthorID))
	}
	for _, ids := range [][]string{ev.CircleIDs, ev.PreviousCircleIDs} {
		for _, id := range ids {
			add(cache.CircleBucket(id))
		}
	}
	for _, ids := range [][]string{ev.GroupIDs, ev.PreviousGroupIDs} {
		for _, id := range ids {
			add(cache.GroupBucket(id))
		}
	}
	return out
}
