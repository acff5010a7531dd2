// Package graphstore 基于 Neo4j 的关系仓储：
// (:User)-[:CONNECTED]->(:User) 双向边都存在才算好友，(:User)-[:MEMBER_OF]->(:Circle|:Group)
package graphstore

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type MembershipStore struct {
	driver neo4j.DriverWithContext
}

func NewMembershipStore(driver neo4j.DriverWithContext) *MembershipStore {
	return &MembershipStore{driver: driver}
}

// Connect 创建驱动并检查连通性
func Connect(ctx context.Context, uri, user, pass string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, pass, ""))
	if err != nil {
		return nil, err
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return driver, nil
}

// EnsureSchema 建唯一约束（同时建立 id 索引）
func (s *MembershipStore) EnsureSchema(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, q := range []string{
			`CREATE CONSTRAINT user_id_unique IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE`,
			`CREATE CONSTRAINT circle_id_unique IF NOT EXISTS FOR (c:Circle) REQUIRE c.id IS UNIQUE`,
			`CREATE CONSTRAINT group_id_unique IF NOT EXISTS FOR (g:Group) REQUIRE g.id IS UNIQUE`,
		} {
			if _, err := tx.Run(ctx, q, nil); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

const (
	connectionsQuery = `MATCH (u:User {id: $userId})-[:CONNECTED]->(f:User)-[:CONNECTED]->(u) RETURN DISTINCT f.id AS id ORDER BY id`
	circlesQuery     = `MATCH (:User {id: $userId})-[:MEMBER_OF]->(c:Circle) RETURN c.id AS id ORDER BY id`
	groupsQuery      = `MATCH (:User {id: $userId})-[:MEMBER_OF]->(g:Group) RETURN g.id AS id ORDER BY id`
)

func (s *MembershipStore) ConnectionsOf(ctx context.Context, userID string) ([]string, error) {
	return s.ids(ctx, connectionsQuery, userID)
}

func (s *MembershipStore) CirclesOf(ctx context.Context, userID string) ([]string, error) {
	return s.ids(ctx, circlesQuery, userID)
}

func (s *MembershipStore) GroupsOf(ctx context.Context, userID string) ([]string, error) {
	return s.ids(ctx, groupsQuery, userID)
}

func (s *MembershipStore) ids(ctx context.Context, query, userID string) ([]string, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	res, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		r, err := tx.Run(ctx, query, map[string]any{"userId": userID})
		if err != nil {
			return nil, err
		}
		var ids []string
		for r.Next(ctx) {
			v, _ := r.Record().Get("id")
			if id, ok := v.(string); ok {
				ids = append(ids, id)
			}
		}
		return ids, r.Err()
	})
	if err != nil {
		return nil, err
	}
	ids, _ := res.([]string)
	return ids, nil
}
