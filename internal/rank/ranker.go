package rank

import (
	"math"
	"sort"
	"time"

	"go-timeline/internal/models"
)

// Ranker 页内排序钩子。
// 只能重排已按水位切好的一页，不能增删帖子；下一页游标在排序之前计算
type Ranker interface {
	Rank(now time.Time, posts []*models.Post) []*models.Post
}

// ScoreFunc 帖子得分，越大越靠前
type ScoreFunc func(now time.Time, p *models.Post) float64

const (
	weightLikes = 3600.0
	weightViews = 600.0
)

// RecencyScore 默认得分：发布时间秒数 + 互动数的对数加权
func RecencyScore(_ time.Time, p *models.Post) float64 {
	base := float64(p.CreatedAt.Unix())
	if p.Engagement == nil {
		return base
	}
	return base + weightLikes*math.Log1p(float64(p.Engagement.Likes)) + weightViews*math.Log1p(float64(p.Engagement.Views))
}

// WindowRanker 只对最近 Window 内的帖子按得分重排，窗口外的帖子保持全序位置
type WindowRanker struct {
	Window time.Duration
	Score  ScoreFunc
}

func NewWindowRanker(window time.Duration, score ScoreFunc) *WindowRanker {
	if score == nil {
		score = RecencyScore
	}
	return &WindowRanker{Window: window, Score: score}
}

func (r *WindowRanker) Rank(now time.Time, posts []*models.Post) []*models.Post {
	if r == nil || r.Window <= 0 || len(posts) < 2 {
		return posts
	}
	since := now.Add(-r.Window)
	// 页面按时间倒序，窗口内的帖子是前缀
	n := 0
	for n < len(posts) && !posts[n].CreatedAt.Before(since) {
		n++
	}
	if n < 2 {
		return posts
	}
	out := make([]*models.Post, len(posts))
	copy(out, posts)
	scores := make(map[int64]float64, n)
	for _, p := range out[:n] {
		scores[p.ID] = r.Score(now, p)
	}
	head := out[:n]
	sort.SliceStable(head, func(i, j int) bool {
		si, sj := scores[head[i].ID], scores[head[j].ID]
		if si != sj {
			return si > sj
		}
		return head[i].Precedes(head[j])
	})
	return out
}
