package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"

	"go-timeline/internal/domain/valueobjects"
	"go-timeline/internal/models"
)

func TestPostFilter(t *testing.T) {
	scope := bson.E{Key: "circle_ids", Value: "c1"}

	first := postFilter(scope, models.Watermark{})
	assert.Equal(t, bson.D{scope, {Key: "deleted", Value: bson.D{{Key: "$ne", Value: true}}}}, first)

	ts := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	next := postFilter(scope, models.Watermark{Timestamp: ts, PostID: 9})
	assert.Len(t, next, 3)
	assert.Equal(t, "$or", next[2].Key)
	or := next[2].Value.(bson.A)
	assert.Equal(t, bson.D{{Key: "created_at", Value: bson.D{{Key: "$lt", Value: ts}}}}, or[0])
	assert.Equal(t, bson.D{{Key: "created_at", Value: ts}, {Key: "_id", Value: bson.D{{Key: "$lt", Value: int64(9)}}}}, or[1])
}

func TestMongoPostToModel(t *testing.T) {
	local := time.Date(2024, 2, 1, 8, 0, 0, 0, time.FixedZone("CST", 8*3600))
	doc := &mongoPost{
		ID: 3, AuthorID: "u1", CreatedAt: local, Visibility: "groups",
		GroupIDs: []string{"g1"}, Content: `{"a":1}`, Views: 4,
	}
	p := doc.toModel()
	assert.Equal(t, time.UTC, p.CreatedAt.Location())
	assert.True(t, p.CreatedAt.Equal(local))
	assert.Equal(t, valueobjects.VisibilityGroups, p.Visibility)
	assert.Equal(t, []string{"g1"}, p.GroupIDs)
	assert.JSONEq(t, `{"a":1}`, string(p.Content))
	assert.Equal(t, &models.Engagement{Views: 4}, p.Engagement)

	doc.Content = "not json"
	assert.Nil(t, doc.toModel().Content)
}
