package store

import (
	"context"
	"database/sql"
)

// MembershipStore 基于 MySQL 的关系只读仓储。
// 好友关系按双向确认计算：两个方向都存在且 status='accepted' 才算好友
type MembershipStore struct{ DB *sql.DB }

func NewMembershipStore(db *sql.DB) *MembershipStore { return &MembershipStore{DB: db} }

// ConnectionsOf 互相确认的好友
func (s *MembershipStore) ConnectionsOf(ctx context.Context, userID string) ([]string, error) {
	return s.ids(ctx, `SELECT f.friend_id FROM friends f JOIN friends r ON r.user_id=f.friend_id AND r.friend_id=f.user_id WHERE f.user_id=? AND f.status='accepted' AND r.status='accepted' ORDER BY f.friend_id`, userID)
}

// CirclesOf 用户所在圈子
func (s *MembershipStore) CirclesOf(ctx context.Context, userID string) ([]string, error) {
	return s.ids(ctx, `SELECT circle_id FROM circle_members WHERE user_id=? ORDER BY circle_id`, userID)
}

// GroupsOf 用户所在群组
func (s *MembershipStore) GroupsOf(ctx context.Context, userID string) ([]string, error) {
	return s.ids(ctx, `SELECT group_id FROM group_members WHERE user_id=? ORDER BY group_id`, userID)
}

func (s *MembershipStore) ids(ctx context.Context, q, userID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
