package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"

	"go-timeline/internal/domain/valueobjects"
	"go-timeline/internal/models"
)

// PostStore 基于 MySQL 的帖子只读仓储。
// 约束：
// - 水位条件 (created_at < ts OR (created_at = ts AND id < id)) 与 ORDER BY created_at DESC, id DESC 构成严格全序
// - 关联表的 created_at 与 posts 一致，写入方负责同步
// - deleted=1 的帖子不返回
// - 圈子/群组受众在一次查询后批量回填
type PostStore struct{ DB *sql.DB }

func NewPostStore(db *sql.DB) *PostStore { return &PostStore{DB: db} }

const postColumns = `p.id, p.author_id, p.created_at, p.visibility, p.original_post_id, p.content, p.like_count, p.view_count`

// sortKey 水位与排序使用的列；关联表查询用关联表自身的列，走 (id, created_at, post_id) 主键
type sortKey struct{ ts, id string }

var (
	byPost   = sortKey{ts: "p.created_at", id: "p.id"}
	byCircle = sortKey{ts: "pc.created_at", id: "pc.post_id"}
	byGroup  = sortKey{ts: "pg.created_at", id: "pg.post_id"}
)

func (s *PostStore) PostsByAuthor(ctx context.Context, authorID string, before models.Watermark, limit int) ([]*models.Post, error) {
	return s.query(ctx, `SELECT `+postColumns+` FROM posts p WHERE p.author_id=? AND p.deleted=0`, []any{authorID}, byPost, before, limit)
}

func (s *PostStore) PostsByConnections(ctx context.Context, authorIDs []string, before models.Watermark, limit int) ([]*models.Post, error) {
	if len(authorIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(authorIDs))
	for i, id := range authorIDs {
		args[i] = id
	}
	return s.query(ctx, `SELECT `+postColumns+` FROM posts p WHERE p.author_id IN (`+placeholders(len(authorIDs))+`) AND p.deleted=0`, args, byPost, before, limit)
}

func (s *PostStore) PostsByCircle(ctx context.Context, circleID string, before models.Watermark, limit int) ([]*models.Post, error) {
	return s.query(ctx, `SELECT `+postColumns+` FROM post_circles pc JOIN posts p ON p.id=pc.post_id WHERE pc.circle_id=? AND p.deleted=0`, []any{circleID}, byCircle, before, limit)
}

func (s *PostStore) PostsByGroup(ctx context.Context, groupID string, before models.Watermark, limit int) ([]*models.Post, error) {
	return s.query(ctx, `SELECT `+postColumns+` FROM post_groups pg JOIN posts p ON p.id=pg.post_id WHERE pg.group_id=? AND p.deleted=0`, []any{groupID}, byGroup, before, limit)
}

func (s *PostStore) query(ctx context.Context, base string, args []any, key sortKey, before models.Watermark, limit int) ([]*models.Post, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := base
	if !before.IsZero() {
		q += ` AND (` + key.ts + ` < ? OR (` + key.ts + ` = ? AND ` + key.id + ` < ?))`
		args = append(args, before.Timestamp, before.Timestamp, before.PostID)
	}
	q += ` ORDER BY ` + key.ts + ` DESC, ` + key.id + ` DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []*models.Post
	for rows.Next() {
		p := &models.Post{}
		var vis string
		var orig sql.NullInt64
		var content []byte
		var likes, views int64
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.CreatedAt, &vis, &orig, &content, &likes, &views); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		p.Visibility = valueobjects.Visibility(vis)
		if !p.Visibility.IsValid() {
			// 保留原值，可见性判定对未知范围一律拒绝
			slog.Warn("PostStore.Scan unknown visibility", "post", p.ID, "visibility", vis)
		}
		if orig.Valid {
			p.OriginalPostID = orig.Int64
		}
		if len(content) > 0 {
			p.Content = json.RawMessage(content)
		}
		if likes > 0 || views > 0 {
			p.Engagement = &models.Engagement{Likes: likes, Views: views}
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadAudience(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// loadAudience 回填 circles/groups 可见帖子的受众ID
func (s *PostStore) loadAudience(ctx context.Context, posts []*models.Post) error {
	var circleIDs, groupIDs []any
	byID := make(map[int64]*models.Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
		switch {
		case p.Visibility.NeedsCircles():
			circleIDs = append(circleIDs, p.ID)
		case p.Visibility.NeedsGroups():
			groupIDs = append(groupIDs, p.ID)
		}
	}
	if len(circleIDs) > 0 {
		err := s.audience(ctx, `SELECT post_id, circle_id FROM post_circles WHERE post_id IN (`+placeholders(len(circleIDs))+`) ORDER BY post_id, circle_id`, circleIDs, func(p *models.Post, id string) {
			p.CircleIDs = append(p.CircleIDs, id)
		}, byID)
		if err != nil {
			return err
		}
	}
	if len(groupIDs) > 0 {
		err := s.audience(ctx, `SELECT post_id, group_id FROM post_groups WHERE post_id IN (`+placeholders(len(groupIDs))+`) ORDER BY post_id, group_id`, groupIDs, func(p *models.Post, id string) {
			p.GroupIDs = append(p.GroupIDs, id)
		}, byID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *PostStore) audience(ctx context.Context, q string, args []any, add func(*models.Post, string), byID map[int64]*models.Post) error {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var postID int64
		var id string
		if err := rows.Scan(&postID, &id); err != nil {
			return err
		}
		if p, ok := byID[postID]; ok {
			add(p, id)
		}
	}
	return rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
