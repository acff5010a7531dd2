package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string `yaml:"listenAddr"`
	Env        string `yaml:"env"` // local / prod，决定日志格式与级别

	RedisAddr string `yaml:"redisAddr"`
	RedisDB   int    `yaml:"redisDB"`
	RedisPass string `yaml:"redisPass"`
	MySQLDSN  string `yaml:"mysqlDSN"`
	MongoURI  string `yaml:"mongoURI"`
	Neo4jURI  string `yaml:"neo4jURI"`
	Neo4jUser string `yaml:"neo4jUser"`
	Neo4jPass string `yaml:"neo4jPass"`

	// 帖子存储：mysql、mongodb 或 memory（本地调试）
	PostDB string `yaml:"postDB"`
	// 关系存储：mysql、neo4j 或 memory
	MembershipDB string `yaml:"membershipDB"`

	JWTSecret    string `yaml:"jwtSecret"`
	CursorSecret string `yaml:"cursorSecret"` // 游标签名密钥，游标按 viewer 绑定

	// Kafka 写事件（可选）
	KafkaBrokers         string `yaml:"kafkaBrokers"` // 逗号分隔
	KafkaPostTopic       string `yaml:"kafkaPostTopic"`
	KafkaMembershipTopic string `yaml:"kafkaMembershipTopic"`
	KafkaConsumerGroup   string `yaml:"kafkaConsumerGroup"`

	// NATS 写事件（可选，server 进程内订阅）
	NatsURL               string `yaml:"natsURL"`
	NatsPostSubject       string `yaml:"natsPostSubject"`
	NatsMembershipSubject string `yaml:"natsMembershipSubject"`

	// 指标与链路
	EnableMetrics bool   `yaml:"enableMetrics"`
	OtelEndpoint  string `yaml:"otelEndpoint"` // 为空则不上报

	// 时间线参数
	CacheTTLSeconds      int `yaml:"cacheTTLSeconds"`
	MembershipTTLSeconds int `yaml:"membershipTTLSeconds"`
	AdapterTimeoutMS     int `yaml:"adapterTimeoutMS"`
	MinLimit             int `yaml:"minLimit"`
	MaxLimit             int `yaml:"maxLimit"`
	DefaultLimit         int `yaml:"defaultLimit"`
	OverFetchFactor      int `yaml:"overFetchFactor"`
	MaxScanRounds        int `yaml:"maxScanRounds"`
	RankWindowHours      int `yaml:"rankWindowHours"` // 0 表示纯时间序

	// 刷新接口限流
	RefreshQPS   int `yaml:"refreshQPS"`
	RefreshBurst int `yaml:"refreshBurst"`
}

func Load() *Config {
	// 1) 默认值
	cfg := &Config{
		ListenAddr: ":8080",
		Env:        "local",

		RedisAddr: "127.0.0.1:6379",
		MySQLDSN:  "root:password@tcp(127.0.0.1:3306)/timeline?parseTime=true&loc=UTC&charset=utf8mb4",
		MongoURI:  "mongodb://127.0.0.1:27017/timeline",
		Neo4jURI:  "neo4j://127.0.0.1:7687",
		Neo4jUser: "neo4j",

		PostDB:       "mysql",
		MembershipDB: "mysql",

		JWTSecret:    "change-me-in-prod",
		CursorSecret: "change-me-too",

		KafkaBrokers:         "",
		KafkaPostTopic:       "tl-post-written",
		KafkaMembershipTopic: "tl-membership-changed",
		KafkaConsumerGroup:   "tl-invalidator",

		NatsURL:               "",
		NatsPostSubject:       "post.written",
		NatsMembershipSubject: "membership.changed",

		EnableMetrics: true,

		CacheTTLSeconds:      60,
		MembershipTTLSeconds: 30,
		AdapterTimeoutMS:     800,
		MinLimit:             1,
		MaxLimit:             50,
		DefaultLimit:         20,
		OverFetchFactor:      3,
		MaxScanRounds:        3,
		RankWindowHours:      0,

		RefreshQPS:   1,
		RefreshBurst: 5,
	}

	// 2) YAML 覆盖（如果有）
	configPath := getEnv("TL_CONFIG_FILE", getEnv("CONFIG_FILE", "config.yml"))
	if st, err := os.Stat(configPath); err == nil && !st.IsDir() {
		if data, err2 := os.ReadFile(configPath); err2 == nil {
			_ = yaml.Unmarshal(data, cfg)
		}
	}

	// 3) 环境变量覆盖 YAML
	applyEnv(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	setStr := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	setInt := func(env string, dst *int) {
		if v := os.Getenv(env); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(env string, dst *bool) {
		if v := os.Getenv(env); v != "" {
			*dst = (v == "true" || v == "1" || v == "yes")
		}
	}

	setStr("TL_LISTEN_ADDR", &cfg.ListenAddr)
	setStr("TL_ENV", &cfg.Env)
	setStr("TL_REDIS_ADDR", &cfg.RedisAddr)
	setStr("TL_REDIS_PASS", &cfg.RedisPass)
	setInt("TL_REDIS_DB", &cfg.RedisDB)
	setStr("TL_MYSQL_DSN", &cfg.MySQLDSN)
	setStr("TL_MONGO_URI", &cfg.MongoURI)
	setStr("TL_NEO4J_URI", &cfg.Neo4jURI)
	setStr("TL_NEO4J_USER", &cfg.Neo4jUser)
	setStr("TL_NEO4J_PASS", &cfg.Neo4jPass)

	setStr("TL_POST_DB", &cfg.PostDB)
	setStr("TL_MEMBERSHIP_DB", &cfg.MembershipDB)

	setStr("TL_JWT_SECRET", &cfg.JWTSecret)
	setStr("TL_CURSOR_SECRET", &cfg.CursorSecret)

	setStr("TL_KAFKA_BROKERS", &cfg.KafkaBrokers)
	setStr("TL_KAFKA_POST_TOPIC", &cfg.KafkaPostTopic)
	setStr("TL_KAFKA_MEMBERSHIP_TOPIC", &cfg.KafkaMembershipTopic)
	setStr("TL_KAFKA_CONSUMER_GROUP", &cfg.KafkaConsumerGroup)

	setStr("TL_NATS_URL", &cfg.NatsURL)
	setStr("TL_NATS_POST_SUBJECT", &cfg.NatsPostSubject)
	setStr("TL_NATS_MEMBERSHIP_SUBJECT", &cfg.NatsMembershipSubject)

	setBool("TL_ENABLE_METRICS", &cfg.EnableMetrics)
	setStr("TL_OTEL_ENDPOINT", &cfg.OtelEndpoint)

	setInt("TL_CACHE_TTL_SECONDS", &cfg.CacheTTLSeconds)
	setInt("TL_MEMBERSHIP_TTL_SECONDS", &cfg.MembershipTTLSeconds)
	setInt("TL_ADAPTER_TIMEOUT_MS", &cfg.AdapterTimeoutMS)
	setInt("TL_MIN_LIMIT", &cfg.MinLimit)
	setInt("TL_MAX_LIMIT", &cfg.MaxLimit)
	setInt("TL_DEFAULT_LIMIT", &cfg.DefaultLimit)
	setInt("TL_OVERFETCH_FACTOR", &cfg.OverFetchFactor)
	setInt("TL_MAX_SCAN_ROUNDS", &cfg.MaxScanRounds)
	setInt("TL_RANK_WINDOW_HOURS", &cfg.RankWindowHours)

	setInt("TL_REFRESH_QPS", &cfg.RefreshQPS)
	setInt("TL_REFRESH_BURST", &cfg.RefreshBurst)
}

// CacheTTL/MembershipTTL/AdapterTimeout/RankWindow 把配置里的整数换算成 Duration。
func (c *Config) CacheTTL() time.Duration { return time.Duration(c.CacheTTLSeconds) * time.Second }
func (c *Config) MembershipTTL() time.Duration {
	return time.Duration(c.MembershipTTLSeconds) * time.Second
}
func (c *Config) AdapterTimeout() time.Duration {
	return time.Duration(c.AdapterTimeoutMS) * time.Millisecond
}
func (c *Config) RankWindow() time.Duration { return time.Duration(c.RankWindowHours) * time.Hour }

// Brokers 解析 Kafka broker 列表（逗号分隔）
func (c *Config) Brokers() []string { return splitCSV(c.KafkaBrokers) }

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
