package mq

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"go-timeline/internal/cache"
	"go-timeline/internal/models"
)

// Publisher 写事件发布器，供发帖/关系子系统发出本引擎消费的事件。
// 帖子事件以作者为 key，关系事件以查看者为 key，同一用户的事件保持分区内有序
type Publisher struct {
	async           sarama.AsyncProducer
	postTopic       string
	membershipTopic string
	done            chan struct{}
}

// NewKafkaPublisher 连接 broker 创建异步生产者
func NewKafkaPublisher(brokers []string, postTopic, membershipTopic string) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = false
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	p, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return NewPublisher(p, postTopic, membershipTopic), nil
}

// NewPublisher 包装已有生产者
func NewPublisher(p sarama.AsyncProducer, postTopic, membershipTopic string) *Publisher {
	pub := &Publisher{async: p, postTopic: postTopic, membershipTopic: membershipTopic, done: make(chan struct{})}
	go func() {
		defer close(pub.done)
		for e := range p.Errors() {
			slog.Error("Publisher.Send", "topic", e.Msg.Topic, "err", e.Err)
		}
	}()
	return pub
}

func (p *Publisher) PublishPost(ev models.PostEvent) error {
	if ev.TS == 0 {
		ev.TS = time.Now().UnixMilli()
	}
	return p.send(p.postTopic, ev.AuthorID, ev)
}

func (p *Publisher) PublishMembership(ev models.MembershipEvent) error {
	if ev.TS == 0 {
		ev.TS = time.Now().UnixMilli()
	}
	return p.send(p.membershipTopic, ev.ViewerID, ev)
}

func (p *Publisher) send(topic, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.async.Input() <- &sarama.ProducerMessage{Topic: topic, Key: sarama.StringEncoder(key), Value: sarama.ByteEncoder(b)}
	return nil
}

func (p *Publisher) Close() error {
	err := p.async.Close()
	<-p.done
	return err
}

// ConsumerHandler 消费组处理器：按 topic 区分事件类别。
// 缓存不可用时退避重试，成功前不提交位点；其余失败记录日志后跳过
type ConsumerHandler struct {
	sink       EventSink
	topics     map[string]string
	backoff    time.Duration
	maxBackoff time.Duration
}

func NewConsumerHandler(sink EventSink, postTopic, membershipTopic string) *ConsumerHandler {
	return &ConsumerHandler{
		sink:       sink,
		topics:     map[string]string{postTopic: KindPost, membershipTopic: KindMembership},
		backoff:    200 * time.Millisecond,
		maxBackoff: 5 * time.Second,
	}
}

// Topics 订阅的 topic 列表
func (h *ConsumerHandler) Topics() []string {
	out := make([]string, 0, len(h.topics))
	for t := range h.topics {
		out = append(out, t)
	}
	return out
}

func (h *ConsumerHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *ConsumerHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *ConsumerHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		wait := h.backoff
		for errors.Is(h.Handle(ctx, msg), cache.ErrCacheUnavailable) {
			select {
			case <-ctx.Done():
				// 未提交的位点在下次分配到该分区时重新投递
				return nil
			case <-time.After(wait):
			}
			wait = min(wait*2, h.maxBackoff)
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}

// Handle 处理单条消息，返回 Dispatch 的错误
func (h *ConsumerHandler) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	kind, ok := h.topics[msg.Topic]
	if !ok {
		slog.Warn("Consumer.Handle unknown topic", "topic", msg.Topic)
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := Dispatch(ctx, h.sink, kind, msg.Value)
	if err != nil {
		slog.Error("Consumer.Handle", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
	}
	return err
}

// RunConsumerGroup 循环消费直到 ctx 结束（rebalance 后 Consume 会返回，需要重新进入）
func RunConsumerGroup(ctx context.Context, brokers []string, group string, h *ConsumerHandler) error {
	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	client, err := sarama.NewConsumerGroup(brokers, group, cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	for {
		if err := client.Consume(ctx, h.Topics(), h); err != nil {
			slog.Error("Consumer.Consume", "group", group, "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
