package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go-timeline/internal/application/usecases"
	"go-timeline/internal/cache"
	"go-timeline/internal/config"
	"go-timeline/internal/mq"
)

// event_consumer 消费 Kafka 写事件并递增缓存代数，不读取帖子与关系
func main() {
	cfg := config.Load()
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Env == "local" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, opts)))
	}

	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		slog.Error("TL_KAFKA_BROKERS 未配置")
		os.Exit(1)
	}

	rdb, err := cache.NewClient(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if err != nil {
		slog.Error("Redis.Init", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	inv := usecases.NewInvalidator(
		cache.NewPageCache(rdb, cfg.CacheTTL()),
		cache.NewMembershipEvictor(rdb),
	)

	ctx, cancel := context.WithCancel(context.Background())
	h := mq.NewConsumerHandler(inv, cfg.KafkaPostTopic, cfg.KafkaMembershipTopic)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := mq.RunConsumerGroup(ctx, brokers, cfg.KafkaConsumerGroup, h); err != nil {
			slog.Error("Consumer.Run", "err", err)
			os.Exit(1)
		}
	}()
	slog.Info("Consumer.Listening", "topics", h.Topics(), "group", cfg.KafkaConsumerGroup)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()
	<-done
}
