package sqlstore

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Open 打开 MySQL 连接池。DSN 需带 parseTime=true，created_at 以 DATETIME(6) 扫描为 time.Time
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(20)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// schema 时间线读取的表。表由发帖/关系子系统写入，这里只保证结构存在（本地与测试环境）。
// post_circles/post_groups 冗余 created_at，使按圈子/群组的倒序分页走索引
var schema = []string{
	`CREATE TABLE IF NOT EXISTS posts (
		id BIGINT NOT NULL PRIMARY KEY,
		author_id VARCHAR(64) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		visibility VARCHAR(16) NOT NULL,
		original_post_id BIGINT NULL,
		content JSON NULL,
		like_count BIGINT NOT NULL DEFAULT 0,
		view_count BIGINT NOT NULL DEFAULT 0,
		deleted TINYINT(1) NOT NULL DEFAULT 0,
		KEY idx_author_created (author_id, created_at, id)
	)`,
	`CREATE TABLE IF NOT EXISTS post_circles (
		circle_id VARCHAR(64) NOT NULL,
		post_id BIGINT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		PRIMARY KEY (circle_id, created_at, post_id),
		KEY idx_post (post_id)
	)`,
	`CREATE TABLE IF NOT EXISTS post_groups (
		group_id VARCHAR(64) NOT NULL,
		post_id BIGINT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		PRIMARY KEY (group_id, created_at, post_id),
		KEY idx_post (post_id)
	)`,
	`CREATE TABLE IF NOT EXISTS friends (
		user_id VARCHAR(64) NOT NULL,
		friend_id VARCHAR(64) NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'accepted',
		created_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, friend_id)
	)`,
	`CREATE TABLE IF NOT EXISTS circle_members (
		circle_id VARCHAR(64) NOT NULL,
		user_id VARCHAR(64) NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (circle_id, user_id),
		KEY idx_user (user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS group_members (
		group_id VARCHAR(64) NOT NULL,
		user_id VARCHAR(64) NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (group_id, user_id),
		KEY idx_user (user_id)
	)`,
}

// EnsureSchema 建表（幂等）
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
