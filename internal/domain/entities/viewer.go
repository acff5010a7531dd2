package entities

import (
	"errors"
	"sort"

	"go-timeline/internal/models"
)

// Viewer 时间线查看者领域实体
// 持有请求时刻读取到的关系集合（好友、圈子、群组），构造后只读
type Viewer struct {
	id          string
	connections map[string]struct{}
	circles     map[string]struct{}
	groups      map[string]struct{}
	missing     map[string]error
}

// Membership 构造 Viewer 的关系数据。
// *Err 非空表示该集合读取失败，对应集合按空集处理（失败即不可见）
type Membership struct {
	Connections    []string
	Circles        []string
	Groups         []string
	ConnectionsErr error
	CirclesErr     error
	GroupsErr      error
}

// NewViewer 创建查看者实体
func NewViewer(id string, m Membership) (*Viewer, error) {
	if id == "" {
		return nil, errors.New("查看者ID不能为空")
	}
	v := &Viewer{
		id:      id,
		missing: make(map[string]error),
	}
	v.connections = v.load(models.MembershipConnection, m.Connections, m.ConnectionsErr)
	v.circles = v.load(models.MembershipCircle, m.Circles, m.CirclesErr)
	v.groups = v.load(models.MembershipGroup, m.Groups, m.GroupsErr)
	// 自己不是自己的好友
	delete(v.connections, id)
	return v, nil
}

func (v *Viewer) load(kind string, ids []string, err error) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	if err != nil {
		v.missing[kind] = err
		return set
	}
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

// ID 获取查看者ID
func (v *Viewer) ID() string {
	return v.id
}

// IsConnection 是否为互相确认的好友
func (v *Viewer) IsConnection(userID string) bool {
	_, ok := v.connections[userID]
	return ok
}

// SharesCircle 给定圈子集合与查看者所在圈子是否有交集
func (v *Viewer) SharesCircle(circleIDs []string) bool {
	return intersects(v.circles, circleIDs)
}

// SharesGroup 给定群组集合与查看者所在群组是否有交集
func (v *Viewer) SharesGroup(groupIDs []string) bool {
	return intersects(v.groups, groupIDs)
}

// Connections 返回好友ID（有序副本）
func (v *Viewer) Connections() []string { return sortedKeys(v.connections) }

// Circles 返回圈子ID（有序副本）
func (v *Viewer) Circles() []string { return sortedKeys(v.circles) }

// Groups 返回群组ID（有序副本）
func (v *Viewer) Groups() []string { return sortedKeys(v.groups) }

// MembershipErr 返回某类关系集合的读取错误，nil 表示完整
func (v *Viewer) MembershipErr(kind string) error {
	return v.missing[kind]
}

func intersects(set map[string]struct{}, ids []string) bool {
	for _, id := range ids {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
