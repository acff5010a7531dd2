package sources

import (
	"context"

	"go-timeline/internal/application/ports"
	"go-timeline/internal/domain/entities"
	"go-timeline/internal/models"
)

// Own 查看者本人的帖子，任意可见范围
type Own struct {
	posts ports.PostRepository
	opts  Options
}

func NewOwn(posts ports.PostRepository, opts Options) *Own {
	return &Own{posts: posts, opts: opts}
}

func (s *Own) Name() string { return NameOwn }

func (s *Own) Fetch(ctx context.Context, v *entities.Viewer, before models.Watermark, limit int) (Result, error) {
	res, err := scan(ctx, v, before, limit, s.opts, false, func(ctx context.Context, w models.Watermark, n int) ([]*models.Post, error) {
		return s.posts.PostsByAuthor(ctx, v.ID(), w, n)
	})
	if err != nil {
		return Result{}, unavailable(s.Name(), err)
	}
	return res, nil
}

// Connections 好友发布的帖子，经可见性过滤
type Connections struct {
	posts ports.PostRepository
	opts  Options
}

func NewConnections(posts ports.PostRepository, opts Options) *Connections {
	return &Connections{posts: posts, opts: opts}
}

func (s *Connections) Name() string { return NameConnections }

func (s *Connections) Fetch(ctx context.Context, v *entities.Viewer, before models.Watermark, limit int) (Result, error) {
	if err := v.MembershipErr(models.MembershipConnection); err != nil {
		return Result{}, unavailable(s.Name(), err)
	}
	ids := v.Connections()
	if len(ids) == 0 {
		return Result{Exhausted: true}, nil
	}
	res, err := scan(ctx, v, before, limit, s.opts, true, func(ctx context.Context, w models.Watermark, n int) ([]*models.Post, error) {
		return s.posts.PostsByConnections(ctx, ids, w, n)
	})
	if err != nil {
		return Result{}, unavailable(s.Name(), err)
	}
	return res, nil
}

// Circles 分享到查看者所在圈子的帖子
type Circles struct {
	posts ports.PostRepository
	opts  Options
}

func NewCircles(posts ports.PostRepository, opts Options) *Circles {
	return &Circles{posts: posts, opts: opts}
}

func (s *Circles) Name() string { return NameCircles }

func (s *Circles) Fetch(ctx context.Context, v *entities.Viewer, before models.Watermark, limit int) (Result, error) {
	if err := v.MembershipErr(models.MembershipCircle); err != nil {
		return Result{}, unavailable(s.Name(), err)
	}
	res, err := fanIn(ctx, v, before, limit, s.opts, v.Circles(), s.posts.PostsByCircle)
	if err != nil {
		return Result{}, unavailable(s.Name(), err)
	}
	return res, nil
}

// Groups 分享到查看者所在群组的帖子
type Groups struct {
	posts ports.PostRepository
	opts  Options
}

func NewGroups(posts ports.PostRepository, opts Options) *Groups {
	return &Groups{posts: posts, opts: opts}
}

func (s *Groups) Name() string { return NameGroups }

func (s *Groups) Fetch(ctx context.Context, v *entities.Viewer, before models.Watermark, limit int) (Result, error) {
	if err := v.MembershipErr(models.MembershipGroup); err != nil {
		return Result{}, unavailable(s.Name(), err)
	}
	res, err := fanIn(ctx, v, before, limit, s.opts, v.Groups(), s.posts.PostsByGroup)
	if err != nil {
		return Result{}, unavailable(s.Name(), err)
	}
	return res, nil
}

type byID func(ctx context.Context, id string, before models.Watermark, limit int) ([]*models.Post, error)

// fanIn 对每个圈子/群组分别查询后合并。
// 合并后不足 n 条说明每个子流都不足 n 条，即全部耗尽
func fanIn(ctx context.Context, v *entities.Viewer, before models.Watermark, limit int, opts Options, ids []string, query byID) (Result, error) {
	if len(ids) == 0 {
		return Result{Exhausted: true}, nil
	}
	return scan(ctx, v, before, limit, opts, true, func(ctx context.Context, w models.Watermark, n int) ([]*models.Post, error) {
		lists := make([][]*models.Post, 0, len(ids))
		for _, id := range ids {
			l, err := query(ctx, id, w, n)
			if err != nil {
				return nil, err
			}
			lists = append(lists, l)
		}
		return mergeLists(lists, n), nil
	})
}
