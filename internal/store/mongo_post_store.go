package store

import (
	"context"
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go-timeline/internal/domain/valueobjects"
	"go-timeline/internal/models"
)

// MongoPostStore 基于 MongoDB 的帖子只读仓储。
// - 帖子文档以 post_id 作为 _id，受众数组 circle_ids/group_ids 内嵌
// - NewMongoPostStore 创建 (author_id, created_at, _id)、(circle_ids, created_at, _id)、(group_ids, created_at, _id) 索引
// - MongoDB 时间精度为毫秒，写入方应保证 created_at 已截断到毫秒
type MongoPostStore struct {
	DB *mongo.Database
}

func NewMongoPostStore(db *mongo.Database) *MongoPostStore {
	s := &MongoPostStore{DB: db}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = s.collection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "author_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}, Options: options.Index().SetName("author_created")},
		{Keys: bson.D{{Key: "circle_ids", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}, Options: options.Index().SetName("circle_created")},
		{Keys: bson.D{{Key: "group_ids", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}, Options: options.Index().SetName("group_created")},
	})
	return s
}

// mongoPost 为存储层内部结构
type mongoPost struct {
	ID             int64     `bson:"_id"`
	AuthorID       string    `bson:"author_id"`
	CreatedAt      time.Time `bson:"created_at"`
	Visibility     string    `bson:"visibility"`
	CircleIDs      []string  `bson:"circle_ids,omitempty"`
	GroupIDs       []string  `bson:"group_ids,omitempty"`
	OriginalPostID int64     `bson:"original_post_id,omitempty"`
	Content        string    `bson:"content,omitempty"`
	Likes          int64     `bson:"likes,omitempty"`
	Views          int64     `bson:"views,omitempty"`
	Deleted        bool      `bson:"deleted,omitempty"`
}

func (s *MongoPostStore) collection() *mongo.Collection {
	return s.DB.Collection("posts")
}

func (s *MongoPostStore) PostsByAuthor(ctx context.Context, authorID string, before models.Watermark, limit int) ([]*models.Post, error) {
	return s.find(ctx, postFilter(bson.E{Key: "author_id", Value: authorID}, before), limit)
}

func (s *MongoPostStore) PostsByConnections(ctx context.Context, authorIDs []string, before models.Watermark, limit int) ([]*models.Post, error) {
	if len(authorIDs) == 0 {
		return nil, nil
	}
	return s.find(ctx, postFilter(bson.E{Key: "author_id", Value: bson.D{{Key: "$in", Value: authorIDs}}}, before), limit)
}

func (s *MongoPostStore) PostsByCircle(ctx context.Context, circleID string, before models.Watermark, limit int) ([]*models.Post, error) {
	return s.find(ctx, postFilter(bson.E{Key: "circle_ids", Value: circleID}, before), limit)
}

func (s *MongoPostStore) PostsByGroup(ctx context.Context, groupID string, before models.Watermark, limit int) ([]*models.Post, error) {
	return s.find(ctx, postFilter(bson.E{Key: "group_ids", Value: groupID}, before), limit)
}

// postFilter 组合范围条件、未删除条件与水位条件
func postFilter(scope bson.E, before models.Watermark) bson.D {
	filter := bson.D{
		scope,
		{Key: "deleted", Value: bson.D{{Key: "$ne", Value: true}}},
	}
	if !before.IsZero() {
		filter = append(filter, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "created_at", Value: bson.D{{Key: "$lt", Value: before.Timestamp}}}},
			bson.D{
				{Key: "created_at", Value: before.Timestamp},
				{Key: "_id", Value: bson.D{{Key: "$lt", Value: before.PostID}}},
			},
		}})
	}
	return filter
}

func (s *MongoPostStore) find(ctx context.Context, filter bson.D, limit int) ([]*models.Post, error) {
	if limit <= 0 {
		return nil, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var res []*models.Post
	for cur.Next(ctx) {
		var doc mongoPost
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		res = append(res, doc.toModel())
	}
	return res, cur.Err()
}

func (d *mongoPost) toModel() *models.Post {
	p := &models.Post{
		ID:             d.ID,
		AuthorID:       d.AuthorID,
		CreatedAt:      d.CreatedAt.UTC(),
		Visibility:     valueobjects.Visibility(d.Visibility),
		CircleIDs:      d.CircleIDs,
		GroupIDs:       d.GroupIDs,
		OriginalPostID: d.OriginalPostID,
	}
	if d.Content != "" && json.Valid([]byte(d.Content)) {
		p.Content = json.RawMessage(d.Content)
	}
	if d.Likes > 0 || d.Views > 0 {
		p.Engagement = &models.Engagement{Likes: d.Likes, Views: d.Views}
	}
	return p
}
