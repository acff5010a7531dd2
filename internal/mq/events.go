package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go-timeline/internal/models"
)

// EventSink 写事件的处理方（时间线用例）
type EventSink interface {
	OnPostWritten(ctx context.Context, ev models.PostEvent) error
	OnMembershipChanged(ctx context.Context, ev models.MembershipEvent) error
}

// 事件类别
const (
	KindPost       = "post"
	KindMembership = "membership"
)

// ErrBadEvent 事件无法解析，消费方记录后跳过
var ErrBadEvent = errors.New("bad event")

// Dispatch 解码事件并交给 sink
func Dispatch(ctx context.Context, sink EventSink, kind string, data []byte) error {
	switch kind {
	case KindPost:
		var ev models.PostEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("%w: %v", ErrBadEvent, err)
		}
		if ev.AuthorID == "" {
			return fmt.Errorf("%w: post event without author", ErrBadEvent)
		}
		return sink.OnPostWritten(ctx, ev)
	case KindMembership:
		var ev models.MembershipEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("%w: %v", ErrBadEvent, err)
		}
		if ev.ViewerID == "" {
			return fmt.Errorf("%w: membership event without viewer", ErrBadEvent)
		}
		return sink.OnMembershipChanged(ctx, ev)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrBadEvent, kind)
	}
}
