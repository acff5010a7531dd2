// Package visibility 判定帖子对查看者是否可见。
package visibility

import (
	"go-timeline/internal/domain/entities"
	"go-timeline/internal/domain/valueobjects"
	"go-timeline/internal/models"
)

// IsVisible 按固定顺序判定（首个命中即返回）：
// 作者本人 -> public -> connections 且作者是好友 -> circles 且圈子有交集 -> groups 且群组有交集。
// private 只对作者可见；未知可见范围、缺失的关系数据一律不可见。
func IsVisible(v *entities.Viewer, p *models.Post) bool {
	if v == nil || p == nil {
		return false
	}
	if p.AuthorID != "" && p.AuthorID == v.ID() {
		return true
	}
	switch p.Visibility {
	case valueobjects.VisibilityPublic:
		return true
	case valueobjects.VisibilityConnections:
		return v.IsConnection(p.AuthorID)
	case valueobjects.VisibilityCircles:
		return v.SharesCircle(p.CircleIDs)
	case valueobjects.VisibilityGroups:
		return v.SharesGroup(p.GroupIDs)
	default:
		return false
	}
}

// Filter 原地过滤出可见帖子，保持顺序
func Filter(v *entities.Viewer, posts []*models.Post) []*models.Post {
	out := posts[:0]
	for _, p := range posts {
		if IsVisible(v, p) {
			out = append(out, p)
		}
	}
	return out
}
