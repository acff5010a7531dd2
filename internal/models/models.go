package models

import (
	"encoding/json"
	"time"

	"go-timeline/internal/domain/valueobjects"
)

// Post/Watermark/Page 为时间线引擎的核心读模型。
// 引擎只读帖子：创建、编辑、删除都由外部发帖子系统负责。

// Post 表示一条可进入时间线的帖子。
// - ID 单调递增友好（雪花或自增），与 CreatedAt 一起构成全序
// - Visibility=circles 时 CircleIDs 非空；groups 同理
// - OriginalPostID 非零表示转发，转发按自身 CreatedAt 排序
type Post struct {
	ID             int64                   `json:"id"`
	AuthorID       string                  `json:"author_id"`
	CreatedAt      time.Time               `json:"created_at"`
	Visibility     valueobjects.Visibility `json:"visibility"`
	CircleIDs      []string                `json:"circle_ids,omitempty"`
	GroupIDs       []string                `json:"group_ids,omitempty"`
	OriginalPostID int64                   `json:"original_post_id,omitempty"`
	Content        json.RawMessage         `json:"content,omitempty"` // 对引擎不透明
	Engagement     *Engagement             `json:"engagement,omitempty"`
}

// Engagement 由内容库顺带返回的互动计数，仅作为排序提示，引擎不维护
type Engagement struct {
	Likes int64 `json:"likes"`
	Views int64 `json:"views"`
}

// Watermark 返回帖子在全序中的位置。
func (p *Post) Watermark() Watermark {
	return Watermark{Timestamp: p.CreatedAt, PostID: p.ID}
}

// Precedes 判断 p 在全序中是否排在 q 之前：时间倒序，同时刻按 ID 倒序。
func (p *Post) Precedes(q *Post) bool {
	return p.Watermark().Above(q.Watermark())
}

// Watermark 是分页水位 (timestamp, post_id)，作为下一页的严格上界。
// 零值表示流的起点（无上界）。
type Watermark struct {
	Timestamp time.Time
	PostID    int64
}

func (w Watermark) IsZero() bool { return w.Timestamp.IsZero() && w.PostID == 0 }

// Above 判断 w 在全序中是否严格排在 o 之前。
func (w Watermark) Above(o Watermark) bool {
	if c := w.Timestamp.Compare(o.Timestamp); c != 0 {
		return c > 0
	}
	return w.PostID > o.PostID
}

// Admits 判断位置 o 是否严格低于水位 w（下一页只包含这些位置）。
// 零水位接受一切。
func (w Watermark) Admits(o Watermark) bool {
	if w.IsZero() {
		return true
	}
	return w.Above(o)
}

// Page 为一页时间线结果。NextCursor 为 nil 表示已到流末尾。
// Partial 仅供内部使用：有数据源失败时置位，此类页面不写缓存。
type Page struct {
	Posts      []*Post `json:"posts"`
	NextCursor *string `json:"next_cursor"`
	HasMore    bool    `json:"has_more"`
	Partial    bool    `json:"-"`
}
