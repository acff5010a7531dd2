package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/nats-io/nats.go"

	"go-timeline/internal/config"
	"go-timeline/internal/models"
	"go-timeline/internal/mq"
)

// event_publisher 从标准输入逐行读取 JSON 写事件并发布，用于联调与回放。
//
//	echo '{"kind":"created","post_id":1,"author_id":"u1"}' | event_publisher post
//	echo '{"viewer_id":"u1","scope":"circle","target_id":"c1"}' | event_publisher membership
//
// 配置了 TL_KAFKA_BROKERS 则发往 Kafka，配置了 TL_NATS_URL 则发往 NATS，两者可同时生效
func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if len(os.Args) != 2 || (os.Args[1] != mq.KindPost && os.Args[1] != mq.KindMembership) {
		fmt.Fprintln(os.Stderr, "usage: event_publisher post|membership < events.jsonl")
		os.Exit(2)
	}
	kind := os.Args[1]
	cfg := config.Load()

	var sinks []publisher
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		p, err := mq.NewKafkaPublisher(brokers, cfg.KafkaPostTopic, cfg.KafkaMembershipTopic)
		if err != nil {
			slog.Error("Kafka.Init", "err", err)
			os.Exit(1)
		}
		defer p.Close()
		sinks = append(sinks, kafkaPublisher{p})
	}
	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			slog.Error("NATS.Connect", "err", err)
			os.Exit(1)
		}
		defer nc.Drain()
		sinks = append(sinks, mq.NewNatsPublisher(nc, cfg.NatsPostSubject, cfg.NatsMembershipSubject))
	}
	if len(sinks) == 0 {
		slog.Error("TL_KAFKA_BROKERS 与 TL_NATS_URL 均未配置")
		os.Exit(1)
	}

	ctx := context.Background()
	sc := bufio.NewScanner(os.Stdin)
	sent, line := 0, 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		if err := publish(ctx, sinks, kind, sc.Bytes()); err != nil {
			slog.Error("Publisher.Line", "line", line, "err", err)
			continue
		}
		sent++
	}
	if err := sc.Err(); err != nil {
		slog.Error("Publisher.Read", "err", err)
	}
	slog.Info("Publisher.Done", "kind", kind, "sent", sent)
}

type publisher interface {
	PublishPost(ctx context.Context, ev models.PostEvent) error
	PublishMembership(ctx context.Context, ev models.MembershipEvent) error
}

// kafkaPublisher 适配 Kafka 发布器（异步发送，不需要 ctx）
type kafkaPublisher struct{ p *mq.Publisher }

func (k kafkaPublisher) PublishPost(_ context.Context, ev models.PostEvent) error {
	return k.p.PublishPost(ev)
}

func (k kafkaPublisher) PublishMembership(_ context.Context, ev models.MembershipEvent) error {
	return k.p.PublishMembership(ev)
}

func publish(ctx context.Context, sinks []publisher, kind string, data []byte) error {
	switch kind {
	case mq.KindPost:
		var ev models.PostEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		if ev.AuthorID == "" {
			return mq.ErrBadEvent
		}
		for _, s := range sinks {
			if err := s.PublishPost(ctx, ev); err != nil {
				return err
			}
		}
	default:
		var ev models.MembershipEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		if ev.ViewerID == "" {
			return mq.ErrBadEvent
		}
		for _, s := range sinks {
			if err := s.PublishMembership(ctx, ev); err != nil {
				return err
			}
		}
	}
	return nil
}
