package mongostore

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultDatabase = "timeline"

// Connect 连接 MongoDB，数据库名取 URI 路径部分，缺省为 timeline
func Connect(ctx context.Context, uri string) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client.Database(DatabaseName(uri)), nil
}

// DatabaseName 从 URI 中解析数据库名：mongodb://host:27017/feeds?x=y -> feeds
func DatabaseName(uri string) string {
	rest := uri
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	i := strings.Index(rest, "/")
	if i < 0 {
		return defaultDatabase
	}
	name := rest[i+1:]
	if j := strings.IndexAny(name, "?#"); j >= 0 {
		name = name[:j]
	}
	if name == "" {
		return defaultDatabase
	}
	return name
}
