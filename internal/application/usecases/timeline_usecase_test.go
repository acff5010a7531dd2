package usecases

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-timeline/internal/cache"
	"go-timeline/internal/cursor"
	"go-timeline/internal/domain/entities"
	"go-timeline/internal/domain/valueobjects"
	"go-timeline/internal/models"
	"go-timeline/internal/store/memstore"
	"go-timeline/internal/visibility"
)

var base = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }

func ids(posts []*models.Post) []int64 {
	out := make([]int64, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}

type fixture struct {
	posts   *memstore.PostStore
	members *memstore.MembershipStore
	codec   *cursor.Codec
}

func newFixture() *fixture {
	return &fixture{
		posts:   memstore.NewPostStore(),
		members: memstore.NewMembershipStore(),
		codec:   cursor.NewCodec("test-secret"),
	}
}

func (f *fixture) useCase(opts ...TimelineOption) *TimelineUseCase {
	return NewTimelineUseCase(f.posts, f.members, f.codec, TimelineOptions{MinLimit: 1, MaxLimit: 50, AdapterTimeout: time.Second}, opts...)
}

// seedMixed 三条自己的帖子 (t=10,9,8)，两条圈子帖子 (t=11,7)，一条群组帖子 (t=6)
func seedMixed(f *fixture) {
	f.members.JoinCircle("me", "c1")
	f.members.JoinCircle("alice", "c1")
	f.members.JoinGroup("me", "g1")
	f.posts.Put(
		&models.Post{ID: 110, AuthorID: "alice", CreatedAt: at(11), Visibility: valueobjects.VisibilityCircles, CircleIDs: []string{"c1"}},
		&models.Post{ID: 100, AuthorID: "me", CreatedAt: at(10), Visibility: valueobjects.VisibilityPublic},
		&models.Post{ID: 90, AuthorID: "me", CreatedAt: at(9), Visibility: valueobjects.VisibilityPrivate},
		&models.Post{ID: 80, AuthorID: "me", CreatedAt: at(8), Visibility: valueobjects.VisibilityConnections},
		&models.Post{ID: 70, AuthorID: "alice", CreatedAt: at(7), Visibility: valueobjects.VisibilityCircles, CircleIDs: []string{"c1"}},
		&models.Post{ID: 60, AuthorID: "bob", CreatedAt: at(6), Visibility: valueobjects.VisibilityGroups, GroupIDs: []string{"g1"}},
	)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestTimeline_FirstAndSecondPage(t *testing.T) {
	f := newFixture()
	seedMixed(f)
	uc := f.useCase()
	ctx := context.Background()

	page, err := uc.GenerateTimelineForUser(ctx, "me", 4, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{110, 100, 90, 80}, ids(page.Posts))
	assert.True(t, page.HasMore)
	require.NotNil(t, page.NextCursor)

	w, err := f.codec.Decode("me", *page.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, models.Watermark{Timestamp: at(8), PostID: 80}, w)

	page, err = uc.GenerateTimelineForUser(ctx, "me", 4, *page.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, []int64{70, 60}, ids(page.Posts))
	assert.False(t, page.HasMore)
	assert.Nil(t, page.NextCursor)
}

func TestTimeline_SharedPostAppearsOnce(t *testing.T) {
	f := newFixture()
	f.members.Connect("me", "alice")
	f.members.JoinCircle("me", "c1")
	f.posts.Put(&models.Post{ID: 1, AuthorID: "alice", CreatedAt: at(1), Visibility: valueobjects.VisibilityCircles, CircleIDs: []string{"c1"}})

	page, err := f.useCase().GenerateTimelineForUser(context.Background(), "me", 10, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids(page.Posts))
}

func TestTimeline_LeaveCircleAfterInvalidate(t *testing.T) {
	f := newFixture()
	seedMixed(f)
	_, rdb := newRedis(t)
	mc := cache.NewMembershipCache(f.members, rdb, time.Minute)
	uc := NewTimelineUseCase(f.posts, mc, f.codec, TimelineOptions{MaxLimit: 50},
		WithPageCache(cache.NewPageCache(rdb, time.Minute)),
		WithMembershipInvalidator(mc),
	)
	ctx := context.Background()

	page, err := uc.GetCirclePosts(ctx, "me", 10, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{110, 70}, ids(page.Posts))

	f.members.LeaveCircle("me", "c1")
	cached, err := uc.GetCirclePosts(ctx, "me", 10, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{110, 70}, ids(cached.Posts))

	require.NoError(t, uc.InvalidateTimelineCache(ctx, "me"))
	page, err = uc.GetCirclePosts(ctx, "me", 10, "")
	require.NoError(t, err)
	assert.Empty(t, page.Posts)
	assert.NotNil(t, page.Posts)
	assert.False(t, page.HasMore)
}

func TestTimeline_ScopedViews(t *testing.T) {
	f := newFixture()
	seedMixed(f)
	// 自己分享到所在圈子的帖子出现在圈子视图，未分享的不出现
	f.posts.Put(&models.Post{ID: 50, AuthorID: "me", CreatedAt: at(5), Visibility: valueobjects.VisibilityCircles, CircleIDs: []string{"c1"}})
	uc := f.useCase()
	ctx := context.Background()

	page, err := uc.GetCirclePosts(ctx, "me", 10, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{110, 70, 50}, ids(page.Posts))

	page, err = uc.GetGroupPosts(ctx, "me", 10, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{60}, ids(page.Posts))

	_, err = uc.Timeline(ctx, "me", valueobjects.Scope("everything"), 10, "")
	assert.Error(t, err)
}

func TestTimeline_Visibility(t *testing.T) {
	f := newFixture()
	f.members.Connect("me", "alice")
	f.members.JoinCircle("carol", "c9")
	f.posts.Put(
		&models.Post{ID: 1, AuthorID: "alice", CreatedAt: at(1), Visibility: valueobjects.VisibilityConnections},
		&models.Post{ID: 2, AuthorID: "alice", CreatedAt: at(2), Visibility: valueobjects.VisibilityPrivate},
		&models.Post{ID: 3, AuthorID: "alice", CreatedAt: at(3), Visibility: valueobjects.VisibilityCircles, CircleIDs: []string{"c9"}},
		&models.Post{ID: 4, AuthorID: "carol", CreatedAt: at(4), Visibility: valueobjects.VisibilityPublic},
		&models.Post{ID: 5, AuthorID: "alice", CreatedAt: at(5), Visibility: valueobjects.VisibilityPublic},
	)
	page, err := f.useCase().GenerateTimelineForUser(context.Background(), "me", 10, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 1}, ids(page.Posts))
}

// 分页拼接结果应与暴力计算的可见集合完全一致：无重复、无遗漏、严格有序
func TestTimeline_PaginationMatchesBruteForce(t *testing.T) {
	f := newFixture()
	f.members.Connect("me", "f1")
	f.members.Connect("me", "f2")
	f.members.JoinCircle("me", "c1")
	f.members.JoinGroup("me", "g1")

	authors := []string{"me", "f1", "f2", "s1", "s2"}
	vis := []valueobjects.Visibility{
		valueobjects.VisibilityPublic, valueobjects.VisibilityConnections, valueobjects.VisibilityCircles,
		valueobjects.VisibilityGroups, valueobjects.VisibilityPrivate,
	}
	var all []*models.Post
	for i := 1; i <= 120; i++ {
		p := &models.Post{
			ID:         int64(i),
			AuthorID:   authors[i%len(authors)],
			CreatedAt:  at(i / 3), // 同一秒内多条，依赖 ID 决胜
			Visibility: vis[(i/2)%len(vis)],
		}
		switch p.Visibility {
		case valueobjects.VisibilityCircles:
			p.CircleIDs = []string{[]string{"c1", "c2"}[i%2]}
		case valueobjects.VisibilityGroups:
			p.GroupIDs = []string{[]string{"g1", "g2"}[(i/3)%2]}
		}
		all = append(all, p)
	}
	f.posts.Put(all...)

	viewer, err := entities.NewViewer("me", entities.Membership{
		Connections: []string{"f1", "f2"}, Circles: []string{"c1"}, Groups: []string{"g1"},
	})
	require.NoError(t, err)
	var want []int64
	sort.Slice(all, func(i, j int) bool { return all[i].Precedes(all[j]) })
	for _, p := range all {
		reach := p.AuthorID == "me" || viewer.IsConnection(p.AuthorID) ||
			viewer.SharesCircle(p.CircleIDs) || viewer.SharesGroup(p.GroupIDs)
		if reach && visibility.IsVisible(viewer, p) {
			want = append(want, p.ID)
		}
	}
	require.NotEmpty(t, want)

	uc := NewTimelineUseCase(f.posts, f.members, f.codec, TimelineOptions{MaxLimit: 50, AdapterTimeout: time.Second})
	for _, limit := range []int{1, 3, 7, 50} {
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			var got []int64
			tok := ""
			for i := 0; i < 500; i++ {
				page, err := uc.GenerateTimelineForUser(context.Background(), "me", limit, tok)
				require.NoError(t, err)
				assert.LessOrEqual(t, len(page.Posts), limit)
				got = append(got, ids(page.Posts)...)
				if !page.HasMore {
					break
				}
				tok = *page.NextCursor
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestTimeline_Idempotent(t *testing.T) {
	f := newFixture()
	seedMixed(f)
	uc := f.useCase()
	a, err := uc.GenerateTimelineForUser(context.Background(), "me", 3, "")
	require.NoError(t, err)
	b, err := uc.GenerateTimelineForUser(context.Background(), "me", 3, "")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTimeline_InputErrors(t *testing.T) {
	f := newFixture()
	seedMixed(f)
	uc := f.useCase()
	ctx := context.Background()

	_, err := uc.GenerateTimelineForUser(ctx, "", 10, "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = uc.GenerateTimelineForUser(ctx, "me", 0, "")
	assert.ErrorIs(t, err, ErrInvalidLimit)
	_, err = uc.GenerateTimelineForUser(ctx, "me", 51, "")
	assert.ErrorIs(t, err, ErrInvalidLimit)

	_, err = uc.GenerateTimelineForUser(ctx, "me", 10, "not-a-cursor")
	assert.ErrorIs(t, err, cursor.ErrInvalidCursor)

	// 其他查看者的游标不能复用
	page, err := uc.GenerateTimelineForUser(ctx, "alice", 1, "")
	require.NoError(t, err)
	require.NotNil(t, page.NextCursor)
	_, err = uc.GenerateTimelineForUser(ctx, "me", 10, *page.NextCursor)
	assert.ErrorIs(t, err, cursor.ErrInvalidCursor)
}

type flakyPosts struct {
	*memstore.PostStore
	failGroups  bool
	failCircles bool
	failAuthor  bool
	slowGroups  time.Duration
}

var errDown = errors.New("down")

func (p *flakyPosts) PostsByGroup(ctx context.Context, id string, before models.Watermark, limit int) ([]*models.Post, error) {
	if p.slowGroups > 0 {
		time.Sleep(p.slowGroups)
	}
	if p.failGroups {
		return nil, errDown
	}
	return p.PostStore.PostsByGroup(ctx, id, before, limit)
}

func (p *flakyPosts) PostsByCircle(ctx context.Context, id string, before models.Watermark, limit int) ([]*models.Post, error) {
	if p.failCircles {
		return nil, errDown
	}
	return p.PostStore.PostsByCircle(ctx, id, before, limit)
}

func (p *flakyPosts) PostsByAuthor(ctx context.Context, id string, before models.Watermark, limit int) ([]*models.Post, error) {
	if p.failAuthor {
		return nil, errDown
	}
	return p.PostStore.PostsByAuthor(ctx, id, before, limit)
}

func TestTimeline_PartialPageNotCached(t *testing.T) {
	f := newFixture()
	seedMixed(f)
	mr, rdb := newRedis(t)
	repo := &flakyPosts{PostStore: f.posts, failGroups: true}
	uc := NewTimelineUseCase(repo, f.members, f.codec, TimelineOptions{MaxLimit: 50},
		WithPageCache(cache.NewPageCache(rdb, time.Minute)))

	page, err := uc.GenerateTimelineForUser(context.Background(), "me", 10, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{110, 100, 90, 80, 70}, ids(page.Posts))
	assert.True(t, page.Partial)
	assert.False(t, mr.Exists(cache.PageKey("me", valueobjects.ScopeAll, 10, "")))

	// 数据源恢复后得到完整页面，并写入缓存
	repo.failGroups = false
	page, err = uc.GenerateTimelineForUser(context.Background(), "me", 10, "")
	require.NoError(t, err)
	assert.False(t, page.Partial)
	assert.Equal(t, []int64{110, 100, 90, 80, 70, 60}, ids(page.Posts))
	assert.True(t, mr.Exists(cache.PageKey("me", valueobjects.ScopeAll, 10, "")))
}

func TestTimeline_AllSourcesFailed(t *testing.T) {
	f := newFixture()
	seedMixed(f)
	repo := &flakyPosts{PostStore: f.posts, failCircles: true}
	uc := NewTimelineUseCase(repo, f.members, f.codec, TimelineOptions{MaxLimit: 50})

	_, err := uc.GetCirclePosts(context.Background(), "me", 10, "")
	assert.ErrorIs(t, err, ErrAllSourcesFailed)

	repo.failGroups, repo.failAuthor = true, true
	// 没有好友时 connections 直接返回空结果，不算失败
	page, err := uc.GenerateTimelineForUser(context.Background(), "me", 10, "")
	require.NoError(t, err)
	assert.Empty(t, page.Posts)
	assert.True(t, page.Partial)
}

func TestTimeline_SlowSourceTimesOut(t *testing.T) {
	f := newFixture()
	seedMixed(f)
	repo := &flakyPosts{PostStore: f.posts, slowGroups: 300 * time.Millisecond}
	uc := NewTimelineUseCase(repo, f.members, f.codec, TimelineOptions{MaxLimit: 50, AdapterTimeout: 30 * time.Millisecond})

	start := time.Now()
	page, err := uc.GenerateTimelineForUser(context.Background(), "me", 10, "")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.True(t, page.Partial)
	assert.Equal(t, []int64{110, 100, 90, 80, 70}, ids(page.Posts))
}

type brokenMemberships struct{ *memstore.MembershipStore }

func (brokenMemberships) CirclesOf(context.Context, string) ([]string, error) {
	return nil, errDown
}

func TestTimeline_MembershipFailureHidesScope(t *testing.T) {
	f := newFixture()
	seedMixed(f)
	uc := NewTimelineUseCase(f.posts, brokenMemberships{f.members}, f.codec, TimelineOptions{MaxLimit: 50})

	page, err := uc.GenerateTimelineForUser(context.Background(), "me", 10, "")
	require.NoError(t, err)
	assert.True(t, page.Partial)
	assert.Equal(t, []int64{100, 90, 80, 60}, ids(page.Posts))
}

func TestTimeline_CacheUnavailableStillServes(t *testing.T) {
	f := newFixture()
	seedMixed(f)
	mr, rdb := newRedis(t)
	uc := NewTimelineUseCase(f.posts, f.members, f.codec, TimelineOptions{MaxLimit: 50},
		WithPageCache(cache.NewPageCache(rdb, time.Minute)))
	mr.Close()

	page, err := uc.GenerateTimelineForUser(context.Background(), "me", 10, "")
	require.NoError(t, err)
	assert.Len(t, page.Posts, 6)
}

func TestOnPostWritten_Invalidates(t *testing.T) {
	f := newFixture()
	seedMixed(f)
	_, rdb := newRedis(t)
	uc := NewTimelineUseCase(f.posts, f.members, f.codec, TimelineOptions{MaxLimit: 50},
		WithPageCache(cache.NewPageCache(rdb, time.Minute)))
	ctx := context.Background()

	_, err := uc.GetGroupPosts(ctx, "me", 10, "")
	require.NoError(t, err)
	f.posts.Put(&models.Post{ID: 200, AuthorID: "bob", CreatedAt: at(20), Visibility: valueobjects.VisibilityGroups, GroupIDs: []string{"g1"}})

	page, err := uc.GetGroupPosts(ctx, "me", 10, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{60}, ids(page.Posts))

	// 作者桶与本页无关，群组桶才会使其失效
	require.NoError(t, uc.OnPostWritten(ctx, models.PostEvent{Kind: models.PostCreated, PostID: 200, AuthorID: "bob", GroupIDs: []string{"g1"}}))
	page, err = uc.GetGroupPosts(ctx, "me", 10, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{200, 60}, ids(page.Posts))
}

func TestOnMembershipChanged_InvalidatesBothSides(t *testing.T) {
	f := newFixture()
	mr, rdb := newRedis(t)
	uc := NewTimelineUseCase(f.posts, f.members, f.codec, TimelineOptions{MaxLimit: 50},
		WithPageCache(cache.NewPageCache(rdb, time.Minute)))
	ctx := context.Background()

	require.NoError(t, uc.OnMembershipChanged(ctx, models.MembershipEvent{ViewerID: "me", Scope: models.MembershipConnection, TargetID: "alice", Joined: true}))
	for _, id := range []string{"me", "alice"} {
		assert.True(t, mr.Exists(cache.GenKey(cache.ViewerBucket(id))))
	}
	before, _ := mr.Get(cache.GenKey(cache.ViewerBucket("me")))

	require.NoError(t, uc.OnMembershipChanged(ctx, models.MembershipEvent{ViewerID: "me", Scope: models.MembershipCircle, TargetID: "c1"}))
	after, _ := mr.Get(cache.GenKey(cache.ViewerBucket("me")))
	b, err := strconv.ParseInt(before, 10, 64)
	require.NoError(t, err)
	a, err := strconv.ParseInt(after, 10, 64)
	require.NoError(t, err)
	assert.Equal(t, b+1, a)
	assert.False(t, mr.Exists(cache.GenKey(cache.CircleBucket("c1"))))

	assert.Error(t, uc.OnMembershipChanged(ctx, models.MembershipEvent{}))
}

type denyLimiter struct{ err error }

func (d denyLimiter) Allow(context.Context, string, int, int) (bool, int64, error) {
	return d.err != nil, 0, d.err
}

func TestRefreshTimeline(t *testing.T) {
	f := newFixture()
	seedMixed(f)
	ctx := context.Background()

	_, err := f.useCase(WithRateLimiter(denyLimiter{})).RefreshTimeline(ctx, "me", 10)
	assert.ErrorIs(t, err, ErrRateLimited)

	// 限流器故障时放行
	page, err := f.useCase(WithRateLimiter(denyLimiter{err: errDown})).RefreshTimeline(ctx, "me", 10)
	require.NoError(t, err)
	assert.Len(t, page.Posts, 6)

	_, err = f.useCase().RefreshTimeline(ctx, "", 10)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

type reverseRanker struct{}

func (reverseRanker) Rank(_ time.Time, posts []*models.Post) []*models.Post {
	out := make([]*models.Post, len(posts))
	for i, p := range posts {
		out[len(posts)-1-i] = p
	}
	return out
}

func TestTimeline_RankerDoesNotMoveCursor(t *testing.T) {
	f := newFixture()
	seedMixed(f)
	uc := f.useCase(WithRanker(reverseRanker{}))
	ctx := context.Background()

	page, err := uc.GenerateTimelineForUser(ctx, "me", 4, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{80, 90, 100, 110}, ids(page.Posts))
	page, err = uc.GenerateTimelineForUser(ctx, "me", 4, *page.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, []int64{60, 70}, ids(page.Posts))
}

func TestPostBuckets(t *testing.T) {
	got := PostBuckets(models.PostEvent{
		AuthorID:          "u1",
		CircleIDs:         []string{"c1", "c2"},
		PreviousCircleIDs: []string{"c2", "c3"},
		GroupIDs:          []string{"g1"},
	})
	assert.Equal(t, []string{"author:u1", "circle:c1", "circle:c2", "circle:c3", "group:g1"}, got)
	assert.Empty(t, PostBuckets(models.PostEvent{}))
}

func TestBuckets(t *testing.T) {
	v, err := entities.NewViewer("me", entities.Membership{Connections: []string{"f1"}, Circles: []string{"c1"}, Groups: []string{"g1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"viewer:me", "author:me", "author:f1", "circle:c1", "group:g1"}, Buckets(v, valueobjects.ScopeAll))
	assert.Equal(t, []string{"viewer:me", "circle:c1"}, Buckets(v, valueobjects.ScopeCircles))
}
