package ports

import (
	"context"

	"go-timeline/internal/models"
)

// PostRepository 帖子仓储端口（只读）
// 所有方法返回严格低于 before 水位的帖子，按 (created_at desc, id desc) 排序，最多 limit 条；
// before 为零值表示从最新开始。
type PostRepository interface {
	// PostsByAuthor 某作者的帖子（任意可见范围）
	PostsByAuthor(ctx context.Context, authorID string, before models.Watermark, limit int) ([]*models.Post, error)
	// PostsByConnections 一组作者的帖子
	PostsByConnections(ctx context.Context, authorIDs []string, before models.Watermark, limit int) ([]*models.Post, error)
	// PostsByCircle 分享到某圈子的帖子
	PostsByCircle(ctx context.Context, circleID string, before models.Watermark, limit int) ([]*models.Post, error)
	// PostsByGroup 分享到某群组的帖子
	PostsByGroup(ctx context.Context, groupID string, before models.Watermark, limit int) ([]*models.Post, error)
}

// MembershipRepository 关系仓储端口
// 好友关系为对称且仅包含已确认关系
type MembershipRepository interface {
	// ConnectionsOf 用户的好友ID
	ConnectionsOf(ctx context.Context, userID string) ([]string, error)
	// CirclesOf 用户所在圈子ID
	CirclesOf(ctx context.Context, userID string) ([]string, error)
	// GroupsOf 用户所在群组ID
	GroupsOf(ctx context.Context, userID string) ([]string, error)
}
