package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"go-timeline/internal/application/ports"
	"go-timeline/internal/application/usecases"
	"go-timeline/internal/cache"
	"go-timeline/internal/config"
	"go-timeline/internal/cursor"
	"go-timeline/internal/metrics"
	"go-timeline/internal/mq"
	httpapi "go-timeline/internal/presentation/http"
	"go-timeline/internal/rank"
	"go-timeline/internal/ratelimit"
	"go-timeline/internal/sources"
	"go-timeline/internal/store"
	"go-timeline/internal/store/graphstore"
	"go-timeline/internal/store/memstore"
	"go-timeline/internal/store/mongostore"
	"go-timeline/internal/store/sqlstore"
)

func main() {
	cfg := config.Load()
	initLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OtelEndpoint != "" {
		tp, err := initTracer(ctx, cfg)
		if err != nil {
			slog.Error("Tracer.Init", "err", err)
		} else {
			defer func() { _ = tp.Shutdown(context.Background()) }()
		}
	}
	if cfg.EnableMetrics {
		metrics.Init()
	}

	rdb, err := cache.NewClient(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if err != nil {
		slog.Error("Redis.Init", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()
	if err := cache.Ping(ctx, rdb); err != nil {
		// 缓存不可用时按直接计算降级，不阻止启动
		slog.Warn("Redis.Ping", "addr", cfg.RedisAddr, "err", err)
	}

	posts, closePosts := openPostRepository(ctx, cfg)
	defer closePosts()
	members, closeMembers := openMembershipRepository(ctx, cfg)
	defer closeMembers()

	memberCache := cache.NewMembershipCache(members, rdb, cfg.MembershipTTL())
	uc := newTimeline(cfg, posts, memberCache, rdb)

	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			slog.Error("NATS.Connect", "url", cfg.NatsURL, "err", err)
			os.Exit(1)
		}
		defer nc.Close()
		sub := mq.NewNatsSubscriber(uc, cfg.NatsPostSubject, cfg.NatsMembershipSubject)
		if err := sub.Subscribe(nc); err != nil {
			slog.Error("NATS.Subscribe", "err", err)
			os.Exit(1)
		}
		defer sub.Unsubscribe()
		slog.Info("NATS.Listening", "post", cfg.NatsPostSubject, "membership", cfg.NatsMembershipSubject)
	}

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := httpapi.NewTimelineHandler(uc, cfg.DefaultLimit)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.NewRouter(handler, httpapi.RouterOptions{JWTSecret: cfg.JWTSecret, EnableMetrics: cfg.EnableMetrics}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("HTTP.Listen", "addr", cfg.ListenAddr, "post_db", cfg.PostDB, "membership_db", cfg.MembershipDB)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP.Serve", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Server.Shutdown")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)
}

func newTimeline(cfg *config.Config, posts ports.PostRepository, members *cache.MembershipCache, rdb *redis.Client) *usecases.TimelineUseCase {
	opts := usecases.TimelineOptions{
		MinLimit:       cfg.MinLimit,
		MaxLimit:       cfg.MaxLimit,
		AdapterTimeout: cfg.AdapterTimeout(),
		RefreshQPS:     cfg.RefreshQPS,
		RefreshBurst:   cfg.RefreshBurst,
		Fetch: sources.Options{
			OverFetchFactor: cfg.OverFetchFactor,
			MaxScanRounds:   cfg.MaxScanRounds,
		},
	}
	options := []usecases.TimelineOption{
		usecases.WithPageCache(cache.NewPageCache(rdb, cfg.CacheTTL())),
		usecases.WithMembershipInvalidator(members),
		usecases.WithRateLimiter(ratelimit.NewTokenBucketLimiter(rdb)),
	}
	if cfg.RankWindow() > 0 {
		options = append(options, usecases.WithRanker(rank.NewWindowRanker(cfg.RankWindow(), rank.RecencyScore)))
	}
	return usecases.NewTimelineUseCase(posts, members, cursor.NewCodec(cfg.CursorSecret), opts, options...)
}

// openPostRepository 根据配置选择帖子存储：mysql、mongodb 或 memory
func openPostRepository(ctx context.Context, cfg *config.Config) (ports.PostRepository, func()) {
	switch cfg.PostDB {
	case "mongodb":
		db, err := mongostore.Connect(ctx, cfg.MongoURI)
		if err != nil {
			slog.Error("Mongo.Connect", "err", err)
			os.Exit(1)
		}
		return store.NewMongoPostStore(db), func() { _ = db.Client().Disconnect(context.Background()) }
	case "memory":
		return memstore.NewPostStore(), func() {}
	default:
		db := mustOpen(ctx, cfg.MySQLDSN)
		return store.NewPostStore(db), func() { _ = db.Close() }
	}
}

// openMembershipRepository 根据配置选择关系存储：mysql、neo4j 或 memory
func openMembershipRepository(ctx context.Context, cfg *config.Config) (ports.MembershipRepository, func()) {
	switch cfg.MembershipDB {
	case "neo4j":
		driver, err := graphstore.Connect(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			slog.Error("Neo4j.Connect", "err", err)
			os.Exit(1)
		}
		s := graphstore.NewMembershipStore(driver)
		if err := s.EnsureSchema(ctx); err != nil {
			slog.Warn("Neo4j.EnsureSchema", "err", err)
		}
		return s, func() { _ = driver.Close(context.Background()) }
	case "memory":
		return memstore.NewMembershipStore(), func() {}
	default:
		db := mustOpen(ctx, cfg.MySQLDSN)
		return store.NewMembershipStore(db), func() { _ = db.Close() }
	}
}

func mustOpen(ctx context.Context, dsn string) *sql.DB {
	db, err := sqlstore.Open(dsn)
	if err != nil {
		slog.Error("MySQL.Open", "err", err)
		os.Exit(1)
	}
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		slog.Warn("MySQL.Ping", "err", err)
		return db
	}
	if err := sqlstore.EnsureSchema(pctx, db); err != nil {
		slog.Warn("MySQL.EnsureSchema", "err", err)
	}
	return db
}

func initLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if cfg.Env == "local" {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func initTracer(ctx context.Context, cfg *config.Config) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OtelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}
	res, _ := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String("timeline-service"),
			semconv.DeploymentEnvironmentKey.String(cfg.Env),
		),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp, nil
}
