package valueobjects

// Scope 时间线范围值对象：全部来源、仅圈子、仅群组
type Scope string

const (
	ScopeAll     Scope = "all"     // 自己 + 好友 + 圈子 + 群组
	ScopeCircles Scope = "circles" // 仅圈子
	ScopeGroups  Scope = "groups"  // 仅群组
)

// IsValid 验证范围是否有效
func (s Scope) IsValid() bool {
	switch s {
	case ScopeAll, ScopeCircles, ScopeGroups:
		return true
	default:
		return false
	}
}

// String 返回字符串表示
func (s Scope) String() string {
	return string(s)
}

// IncludesOwn 是否查询自己的帖子
func (s Scope) IncludesOwn() bool {
	return s == ScopeAll
}

// IncludesConnections 是否查询好友的帖子
func (s Scope) IncludesConnections() bool {
	return s == ScopeAll
}

// IncludesCircles 是否查询圈子帖子
func (s Scope) IncludesCircles() bool {
	return s == ScopeAll || s == ScopeCircles
}

// IncludesGroups 是否查询群组帖子
func (s Scope) IncludesGroups() bool {
	return s == ScopeAll || s == ScopeGroups
}
