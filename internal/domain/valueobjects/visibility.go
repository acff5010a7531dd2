package valueobjects

// Visibility 帖子可见范围值对象
// 值对象是不可变的，用于封装业务概念
type Visibility string

const (
	VisibilityPublic      Visibility = "public"
	VisibilityConnections Visibility = "connections"
	VisibilityCircles     Visibility = "circles"
	VisibilityGroups      Visibility = "groups"
	VisibilityPrivate     Visibility = "private"
)

// IsValid 验证可见范围是否有效
func (v Visibility) IsValid() bool {
	switch v {
	case VisibilityPublic, VisibilityConnections, VisibilityCircles, VisibilityGroups, VisibilityPrivate:
		return true
	default:
		return false
	}
}

// String 返回字符串表示
func (v Visibility) String() string {
	return string(v)
}

// NeedsCircles 是否要求 circle_ids 非空
func (v Visibility) NeedsCircles() bool {
	return v == VisibilityCircles
}

// NeedsGroups 是否要求 group_ids 非空
func (v Visibility) NeedsGroups() bool {
	return v == VisibilityGroups
}
