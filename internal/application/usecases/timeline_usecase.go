package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"go-timeline/internal/application/ports"
	"go-timeline/internal/cache"
	"go-timeline/internal/cursor"
	"go-timeline/internal/domain/entities"
	"go-timeline/internal/domain/valueobjects"
	"go-timeline/internal/metrics"
	"go-timeline/internal/models"
	"go-timeline/internal/rank"
	"go-timeline/internal/sources"
)

var (
	// ErrInvalidLimit limit 超出允许范围
	ErrInvalidLimit = errors.New("invalid limit")
	// ErrUnauthorized 没有已认证的查看者
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAllSourcesFailed 本次请求涉及的数据源全部失败
	ErrAllSourcesFailed = errors.New("all sources failed")
	// ErrRateLimited 刷新过于频繁
	ErrRateLimited = errors.New("rate limited")
)

// TimelineOptions 时间线参数
type TimelineOptions struct {
	MinLimit       int
	MaxLimit       int
	AdapterTimeout time.Duration
	RefreshQPS     int
	RefreshBurst   int
	Fetch          sources.Options
}

func (o TimelineOptions) normalize() TimelineOptions {
	if o.MinLimit < 1 {
		o.MinLimit = 1
	}
	if o.MaxLimit < o.MinLimit {
		o.MaxLimit = 50
	}
	if o.AdapterTimeout <= 0 {
		o.AdapterTimeout = 800 * time.Millisecond
	}
	return o
}

// TimelineUseCase 时间线用例（编排器）
// 读缓存 -> 未命中则并发调用数据源 -> 合并 -> 写缓存。
// 无状态，可被不同查看者并发调用；唯一共享状态是缓存
type TimelineUseCase struct {
	posts        ports.PostRepository
	memberships  ports.MembershipRepository
	memberForget ports.MembershipInvalidator
	pageCache    ports.PageCache
	rateLimiter  ports.RateLimiter
	codec        *cursor.Codec
	ranker       rank.Ranker
	opts         TimelineOptions
	inv          *Invalidator

	own         sources.Source
	connections sources.Source
	circles     sources.Source
	groups      sources.Source

	now    func() time.Time
	tracer trace.Tracer
}

// TimelineOption 可选依赖
type TimelineOption func(*TimelineUseCase)

// WithPageCache 启用页面缓存
func WithPageCache(c ports.PageCache) TimelineOption {
	return func(uc *TimelineUseCase) { uc.pageCache = c }
}

// WithMembershipInvalidator 关系缓存失效入口
func WithMembershipInvalidator(m ports.MembershipInvalidator) TimelineOption {
	return func(uc *TimelineUseCase) { uc.memberForget = m }
}

// WithRateLimiter 刷新限流
func WithRateLimiter(l ports.RateLimiter) TimelineOption {
	return func(uc *TimelineUseCase) { uc.rateLimiter = l }
}

// WithRanker 页内排序钩子
func WithRanker(r rank.Ranker) TimelineOption {
	return func(uc *TimelineUseCase) { uc.ranker = r }
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) TimelineOption {
	return func(uc *TimelineUseCase) { uc.now = now }
}

// NewTimelineUseCase 创建时间线用例
func NewTimelineUseCase(
	posts ports.PostRepository,
	memberships ports.MembershipRepository,
	codec *cursor.Codec,
	opts TimelineOptions,
	options ...TimelineOption,
) *TimelineUseCase {
	opts = opts.normalize()
	uc := &TimelineUseCase{
		posts:       posts,
		memberships: memberships,
		codec:       codec,
		opts:        opts,
		own:         sources.NewOwn(posts, opts.Fetch),
		connections: sources.NewConnections(posts, opts.Fetch),
		circles:     sources.NewCircles(posts, opts.Fetch),
		groups:      sources.NewGroups(posts, opts.Fetch),
		now:         time.Now,
		tracer:      otel.Tracer("go-timeline/usecases"),
	}
	for _, o := range options {
		o(uc)
	}
	uc.inv = NewInvalidator(uc.pageCache, uc.memberForget)
	return uc
}

// GenerateTimelineForUser 全部来源的时间线
func (uc *TimelineUseCase) GenerateTimelineForUser(ctx context.Context, viewerID string, limit int, cursorToken string) (*models.Page, error) {
	return uc.timeline(ctx, viewerID, valueobjects.ScopeAll, limit, cursorToken)
}

// GetCirclePosts 仅圈子来源。查看者自己的帖子只有分享到其所在圈子时才出现
func (uc *TimelineUseCase) GetCirclePosts(ctx context.Context, viewerID string, limit int, cursorToken string) (*models.Page, error) {
	return uc.timeline(ctx, viewerID, valueobjects.ScopeCircles, limit, cursorToken)
}

// GetGroupPosts 仅群组来源，规则同 GetCirclePosts
func (uc *TimelineUseCase) GetGroupPosts(ctx context.Context, viewerID string, limit int, cursorToken string) (*models.Page, error) {
	return uc.timeline(ctx, viewerID, valueobjects.ScopeGroups, limit, cursorToken)
}

// Timeline 按范围读取时间线
func (uc *TimelineUseCase) Timeline(ctx context.Context, viewerID string, scope valueobjects.Scope, limit int, cursorToken string) (*models.Page, error) {
	if !scope.IsValid() {
		return nil, fmt.Errorf("unknown scope %q", scope)
	}
	return uc.timeline(ctx, viewerID, scope, limit, cursorToken)
}

func (uc *TimelineUseCase) timeline(ctx context.Context, viewerID string, scope valueobjects.Scope, limit int, cursorToken string) (*models.Page, error) {
	start := uc.now()
	ctx, span := uc.tracer.Start(ctx, "Timeline.Generate", trace.WithAttributes(
		attribute.String("viewer.id", viewerID),
		attribute.String("timeline.scope", scope.String()),
		attribute.Int("timeline.limit", limit),
	))
	defer span.End()

	if viewerID == "" {
		return nil, uc.fail(span, scope, ErrUnauthorized)
	}
	if err := uc.ValidateLimit(limit); err != nil {
		return nil, uc.fail(span, scope, err)
	}
	before, err := uc.codec.Decode(viewerID, cursorToken)
	if err != nil {
		return nil, uc.fail(span, scope, err)
	}

	viewer, err := uc.loadViewer(ctx, viewerID, scope)
	if err != nil {
		return nil, uc.fail(span, scope, err)
	}

	key := ports.PageKey{ViewerID: viewerID, Scope: scope, Cursor: cursorToken, Limit: limit}
	var gens ports.Generations
	if uc.pageCache != nil {
		page, g, err := uc.pageCache.Lookup(ctx, key, Buckets(viewer, scope))
		switch {
		case err != nil:
			metrics.CacheLookups.WithLabelValues("error").Inc()
			slog.Warn("Timeline.CacheLookup", "viewer", viewerID, "scope", scope, "err", err)
		case page != nil:
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			metrics.TimelineRequests.WithLabelValues(scope.String(), "hit").Inc()
			metrics.TimelineLatency.WithLabelValues(scope.String(), "hit").Observe(float64(uc.now().Sub(start).Milliseconds()))
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return page, nil
		default:
			metrics.CacheLookups.WithLabelValues("miss").Inc()
			gens = g
		}
	}

	page, err := uc.compute(ctx, viewer, scope, before, limit)
	if err != nil {
		return nil, uc.fail(span, scope, err)
	}

	if gens != nil && !page.Partial {
		if err := uc.pageCache.Store(ctx, key, gens, page); err != nil {
			slog.Warn("Timeline.CacheStore", "viewer", viewerID, "scope", scope, "err", err)
		}
	}

	result := "ok"
	if page.Partial {
		result = "partial"
	}
	metrics.TimelineRequests.WithLabelValues(scope.String(), result).Inc()
	metrics.TimelineLatency.WithLabelValues(scope.String(), "miss").Observe(float64(uc.now().Sub(start).Milliseconds()))
	span.SetAttributes(attribute.Int("timeline.posts", len(page.Posts)), attribute.Bool("timeline.partial", page.Partial))
	return page, nil
}

// ValidateLimit 检查 limit 是否在允许范围内
func (uc *TimelineUseCase) ValidateLimit(limit int) error {
	if limit < uc.opts.MinLimit || limit > uc.opts.MaxLimit {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidLimit, limit, uc.opts.MinLimit, uc.opts.MaxLimit)
	}
	return nil
}

func (uc *TimelineUseCase) fail(span trace.Span, scope valueobjects.Scope, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	metrics.TimelineRequests.WithLabelValues(scope.String(), "error").Inc()
	return err
}

// loadViewer 读取该范围需要的关系集合；读取失败不终止请求，由依赖它的数据源报告失败
func (uc *TimelineUseCase) loadViewer(ctx context.Context, viewerID string, scope valueobjects.Scope) (*entities.Viewer, error) {
	var m entities.Membership
	if scope.IncludesConnections() {
		m.Connections, m.ConnectionsErr = uc.memberships.ConnectionsOf(ctx, viewerID)
	}
	if scope.IncludesCircles() {
		m.Circles, m.CirclesErr = uc.memberships.CirclesOf(ctx, viewerID)
	}
	if scope.IncludesGroups() {
		m.Groups, m.GroupsErr = uc.memberships.GroupsOf(ctx, viewerID)
	}
	for kind, err := range map[string]error{
		models.MembershipConnection: m.ConnectionsErr,
		models.MembershipCircle:     m.CirclesErr,
		models.MembershipGroup:      m.GroupsErr,
	} {
		if err != nil {
			slog.Warn("Timeline.LoadMembership", "viewer", viewerID, "kind", kind, "err", err)
		}
	}
	return entities.NewViewer(viewerID, m)
}

func (uc *TimelineUseCase) sourcesFor(scope valueobjects.Scope) []sources.Source {
	var list []sources.Source
	if scope.IncludesOwn() {
		list = append(list, uc.own)
	}
	if scope.IncludesConnections() {
		list = append(list, uc.connections)
	}
	if scope.IncludesCircles() {
		list = append(list, uc.circles)
	}
	if scope.IncludesGroups() {
		list = append(list, uc.groups)
	}
	return list
}

type fetchResult struct {
	idx int
	res sources.Result
	err error
}

// compute 并发读取各数据源，每个数据源独立超时；收齐或超时后按降级策略合并
func (uc *TimelineUseCase) compute(ctx context.Context, v *entities.Viewer, scope valueobjects.Scope, before models.Watermark, limit int) (*models.Page, error) {
	list := uc.sourcesFor(scope)
	results := make([]*fetchResult, len(list))
	ch := make(chan *fetchResult, len(list))

	for i, src := range list {
		go func(i int, src sources.Source) {
			sctx, cancel := context.WithTimeout(ctx, uc.opts.AdapterTimeout)
			defer cancel()
			sctx, span := uc.tracer.Start(sctx, "Source."+src.Name())
			defer span.End()
			res, err := src.Fetch(sctx, v, before, limit)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			ch <- &fetchResult{idx: i, res: res, err: err}
		}(i, src)
	}

	timer := time.NewTimer(uc.opts.AdapterTimeout)
	defer timer.Stop()
collect:
	for received := 0; received < len(list); received++ {
		select {
		case r := <-ch:
			results[r.idx] = r
		case <-timer.C:
			break collect
		case <-ctx.Done():
			break collect
		}
	}

	inputs := make([]rank.Input, 0, len(list))
	failed := 0
	for i, src := range list {
		r := results[i]
		var err error
		switch {
		case r == nil:
			err = fmt.Errorf("%s: %w: %v", src.Name(), sources.ErrSourceUnavailable, context.DeadlineExceeded)
		case r.err != nil:
			err = r.err
		}
		if err != nil {
			failed++
			reason := "error"
			if errors.Is(err, context.DeadlineExceeded) {
				reason = "timeout"
			}
			metrics.SourceFailures.WithLabelValues(src.Name(), reason).Inc()
			slog.Warn("Timeline.Source", "source", src.Name(), "viewer", v.ID(), "reason", reason, "err", err)
			continue
		}
		inputs = append(inputs, rank.Input{
			Source:    src.Name(),
			Posts:     r.res.Posts,
			Exhausted: r.res.Exhausted,
			Horizon:   r.res.Horizon,
		})
	}
	if failed == len(list) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrAllSourcesFailed
	}

	out := rank.Merge(inputs, limit)
	page := &models.Page{
		Posts:   out.Posts,
		HasMore: out.HasMore,
		Partial: failed > 0,
	}
	if page.Posts == nil {
		page.Posts = []*models.Post{}
	}
	if out.HasMore {
		tok := uc.codec.Encode(v.ID(), out.Next)
		page.NextCursor = &tok
	}
	// 游标已按全序确定，排序钩子只重排本页
	if uc.ranker != nil {
		page.Posts = uc.ranker.Rank(uc.now(), page.Posts)
	}
	return page, nil
}

// InvalidateTimelineCache 使查看者的缓存页与关系缓存全部失效，下一次读取必然重新计算
func (uc *TimelineUseCase) InvalidateTimelineCache(ctx context.Context, viewerID string) error {
	return uc.inv.InvalidateViewer(ctx, viewerID)
}

// RefreshTimeline 失效后从头重新生成；按查看者限流
func (uc *TimelineUseCase) RefreshTimeline(ctx context.Context, viewerID string, limit int) (*models.Page, error) {
	if viewerID == "" {
		return nil, ErrUnauthorized
	}
	if err := uc.ValidateLimit(limit); err != nil {
		return nil, err
	}
	if uc.rateLimiter != nil {
		allowed, _, err := uc.rateLimiter.Allow(ctx, "refresh:"+viewerID, uc.opts.RefreshQPS, uc.opts.RefreshBurst)
		if err != nil {
			slog.Warn("Timeline.RefreshLimiter", "viewer", viewerID, "err", err)
		} else if !allowed {
			return nil, ErrRateLimited
		}
	}
	if err := uc.InvalidateTimelineCache(ctx, viewerID); err != nil {
		slog.Warn("Timeline.Refresh invalidate", "viewer", viewerID, "err", err)
	}
	return uc.GenerateTimelineForUser(ctx, viewerID, limit, "")
}

// OnPostWritten 见 Invalidator.OnPostWritten
func (uc *TimelineUseCase) OnPostWritten(ctx context.Context, ev models.PostEvent) error {
	return uc.inv.OnPostWritten(ctx, ev)
}

// OnMembershipChanged 见 Invalidator.OnMembershipChanged
func (uc *TimelineUseCase) OnMembershipChanged(ctx context.Context, ev models.MembershipEvent) error {
	return uc.inv.OnMembershipChanged(ctx, ev)
}

// Buckets 返回某范围下的页面依赖的全部失效桶
func Buckets(v *entities.Viewer, scope valueobjects.Scope) []string {
	buckets := []string{cache.ViewerBucket(v.ID())}
	if scope.IncludesOwn() {
		buckets = append(buckets, cache.AuthorBucket(v.ID()))
	}
	if scope.IncludesConnections() {
		for _, id := range v.Connections() {
			buckets = append(buckets, cache.AuthorBucket(id))
		}
	}
	if scope.IncludesCircles() {
		for _, id := range v.Circles() {
			buckets = append(buckets, cache.CircleBucket(id))
		}
	}
	if scope.IncludesGroups() {
		for _, id := range v.Groups() {
			buckets = append(buckets, cache.GroupBucket(id))
		}
	}
	return buckets
}
