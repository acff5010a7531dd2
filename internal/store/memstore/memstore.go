// Package memstore 内存版帖子与关系仓储，用于本地运行（POST_DB=memory）与测试
package memstore

import (
	"context"
	"sort"
	"sync"

	"go-timeline/internal/models"
)

// PostStore 内存帖子仓储
type PostStore struct {
	mu    sync.RWMutex
	posts map[int64]*models.Post
}

func NewPostStore() *PostStore {
	return &PostStore{posts: make(map[int64]*models.Post)}
}

// Put 写入或覆盖帖子
func (s *PostStore) Put(posts ...*models.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range posts {
		cp := *p
		s.posts[p.ID] = &cp
	}
}

// Delete 删除帖子
func (s *PostStore) Delete(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.posts, id)
}

func (s *PostStore) PostsByAuthor(_ context.Context, authorID string, before models.Watermark, limit int) ([]*models.Post, error) {
	return s.find(before, limit, func(p *models.Post) bool { return p.AuthorID == authorID }), nil
}

func (s *PostStore) PostsByConnections(_ context.Context, authorIDs []string, before models.Watermark, limit int) ([]*models.Post, error) {
	set := toSet(authorIDs)
	return s.find(before, limit, func(p *models.Post) bool {
		_, ok := set[p.AuthorID]
		return ok
	}), nil
}

func (s *PostStore) PostsByCircle(_ context.Context, circleID string, before models.Watermark, limit int) ([]*models.Post, error) {
	return s.find(before, limit, func(p *models.Post) bool { return contains(p.CircleIDs, circleID) }), nil
}

func (s *PostStore) PostsByGroup(_ context.Context, groupID string, before models.Watermark, limit int) ([]*models.Post, error) {
	return s.find(before, limit, func(p *models.Post) bool { return contains(p.GroupIDs, groupID) }), nil
}

func (s *PostStore) find(before models.Watermark, limit int, match func(*models.Post) bool) []*models.Post {
	if limit <= 0 {
		return nil
	}
	s.mu.RLock()
	var res []*models.Post
	for _, p := range s.posts {
		if match(p) && before.Admits(p.Watermark()) {
			cp := *p
			res = append(res, &cp)
		}
	}
	s.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool { return res[i].Precedes(res[j]) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res
}

// MembershipStore 内存关系仓储，好友关系对称存储
type MembershipStore struct {
	mu          sync.RWMutex
	connections map[string]map[string]struct{}
	circles     map[string]map[string]struct{}
	groups      map[string]map[string]struct{}
}

func NewMembershipStore() *MembershipStore {
	return &MembershipStore{
		connections: make(map[string]map[string]struct{}),
		circles:     make(map[string]map[string]struct{}),
		groups:      make(map[string]map[string]struct{}),
	}
}

// Connect 建立双向好友关系
func (s *MembershipStore) Connect(a, b string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	add(s.connections, a, b)
	add(s.connections, b, a)
}

// Disconnect 解除好友关系
func (s *MembershipStore) Disconnect(a, b string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remove(s.connections, a, b)
	remove(s.connections, b, a)
}

func (s *MembershipStore) JoinCircle(userID, circleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	add(s.circles, userID, circleID)
}

func (s *MembershipStore) LeaveCircle(userID, circleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remove(s.circles, userID, circleID)
}

func (s *MembershipStore) JoinGroup(userID, groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	add(s.groups, userID, groupID)
}

func (s *MembershipStore) LeaveGroup(userID, groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remove(s.groups, userID, groupID)
}

func (s *MembershipStore) ConnectionsOf(_ context.Context, userID string) ([]string, error) {
	return s.list(s.connections, userID), nil
}

func (s *MembershipStore) CirclesOf(_ context.Context, userID string) ([]string, error) {
	return s.list(s.circles, userID), nil
}

func (s *MembershipStore) GroupsOf(_ context.Context, userID string) ([]string, error) {
	return s.list(s.groups, userID), nil
}

func (s *MembershipStore) list(m map[string]map[string]struct{}, userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(m[userID]))
	for id := range m[userID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func add(m map[string]map[string]struct{}, k, v string) {
	if m[k] == nil {
		m[k] = make(map[string]struct{})
	}
	m[k][v] = struct{}{}
}

func remove(m map[string]map[string]struct{}, k, v string) {
	delete(m[k], v)
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
