package mq

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"go-timeline/internal/models"
)

// NatsSubscriber 在 server 进程内订阅写事件，并延续发布方的链路
type NatsSubscriber struct {
	sink     EventSink
	subjects map[string]string
	subs     []*nats.Subscription
}

func NewNatsSubscriber(sink EventSink, postSubject, membershipSubject string) *NatsSubscriber {
	return &NatsSubscriber{
		sink:     sink,
		subjects: map[string]string{postSubject: KindPost, membershipSubject: KindMembership},
	}
}

// Subscribe 订阅全部主题
func (s *NatsSubscriber) Subscribe(nc *nats.Conn) error {
	for subject := range s.subjects {
		sub, err := nc.Subscribe(subject, s.HandleMsg)
		if err != nil {
			s.Unsubscribe()
			return err
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

func (s *NatsSubscriber) Unsubscribe() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

// HandleMsg 处理单条消息
func (s *NatsSubscriber) HandleMsg(msg *nats.Msg) {
	kind, ok := s.subjects[msg.Subject]
	if !ok {
		return
	}
	ctx := context.Background()
	if msg.Header != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(msg.Header))
	}
	ctx, span := otel.Tracer("go-timeline/mq").Start(ctx, "process_"+kind+"_event", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := Dispatch(ctx, s.sink, kind, msg.Data); err != nil {
		span.RecordError(err)
		slog.Error("NatsSubscriber.Handle", "subject", msg.Subject, "err", err)
	}
}

// NatsPublisher 通过 NATS 发布写事件，注入链路头
type NatsPublisher struct {
	nc                *nats.Conn
	postSubject       string
	membershipSubject string
}

func NewNatsPublisher(nc *nats.Conn, postSubject, membershipSubject string) *NatsPublisher {
	return &NatsPublisher{nc: nc, postSubject: postSubject, membershipSubject: membershipSubject}
}

func (p *NatsPublisher) PublishPost(ctx context.Context, ev models.PostEvent) error {
	return p.publish(ctx, p.postSubject, ev)
}

func (p *NatsPublisher) PublishMembership(ctx context.Context, ev models.MembershipEvent) error {
	return p.publish(ctx, p.membershipSubject, ev)
}

func (p *NatsPublisher) publish(ctx context.Context, subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(subject)
	msg.Data = b
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))
	return p.nc.PublishMsg(msg)
}
