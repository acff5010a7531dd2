package models

// 写事件由发帖子系统与关系子系统发出，引擎据此失效缓存。

// 帖子写事件类型
const (
	PostCreated           = "created"
	PostDeleted           = "deleted"
	PostVisibilityChanged = "visibility_changed"
	PostEdited            = "edited"
)

// PostEvent 帖子写入事件（onPostWritten）。
// 可见性变更时 Previous* 携带变更前的圈子/群组，新旧两侧都需要失效。
type PostEvent struct {
	Kind              string   `json:"kind"`
	PostID            int64    `json:"post_id"`
	AuthorID          string   `json:"author_id"`
	CircleIDs         []string `json:"circle_ids,omitempty"`
	GroupIDs          []string `json:"group_ids,omitempty"`
	PreviousCircleIDs []string `json:"previous_circle_ids,omitempty"`
	PreviousGroupIDs  []string `json:"previous_group_ids,omitempty"`
	TS                int64    `json:"ts,omitempty"`
}

// 关系变更维度
const (
	MembershipConnection = "connection"
	MembershipCircle     = "circle"
	MembershipGroup      = "group"
)

// MembershipEvent 关系变更事件（onMembershipChanged）。
// Scope=connection 时 TargetID 为对端用户，双方缓存都要失效。
type MembershipEvent struct {
	ViewerID string `json:"viewer_id"`
	Scope    string `json:"scope"`
	TargetID string `json:"target_id"`
	Joined   bool   `json:"joined"`
	TS       int64  `json:"ts,omitempty"`
}
