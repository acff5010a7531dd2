package usecases

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-timeline/internal/cache"
	"go-timeline/internal/models"
)

func TestInvalidator_PostWritten(t *testing.T) {
	mr, rdb := newRedis(t)
	inv := NewInvalidator(cache.NewPageCache(rdb, time.Minute), cache.NewMembershipEvictor(rdb))
	ctx := context.Background()

	require.NoError(t, inv.OnPostWritten(ctx, models.PostEvent{
		Kind: models.PostVisibilityChanged, PostID: 9, AuthorID: "bob",
		CircleIDs: []string{"c2"}, PreviousGroupIDs: []string{"g1"},
	}))
	for _, b := range []string{cache.AuthorBucket("bob"), cache.CircleBucket("c2"), cache.GroupBucket("g1")} {
		assert.True(t, mr.Exists(cache.GenKey(b)), b)
	}
	assert.False(t, mr.Exists(cache.GenKey(cache.ViewerBucket("bob"))))
}

func TestInvalidator_MembershipChangedForgetsBothSides(t *testing.T) {
	mr, rdb := newRedis(t)
	inv := NewInvalidator(cache.NewPageCache(rdb, time.Minute), cache.NewMembershipEvictor(rdb))
	ctx := context.Background()
	require.NoError(t, rdb.Set(ctx, cache.MembershipKey(models.MembershipConnection, "alice"), `["me"]`, time.Minute).Err())

	require.NoError(t, inv.OnMembershipChanged(ctx, models.MembershipEvent{ViewerID: "me", Scope: models.MembershipConnection, TargetID: "alice"}))
	for _, id := range []string{"me", "alice"} {
		assert.True(t, mr.Exists(cache.GenKey(cache.ViewerBucket(id))), id)
		assert.True(t, mr.Exists(cache.MembershipVersionKey(id)), id)
	}
	assert.False(t, mr.Exists(cache.MembershipKey(models.MembershipConnection, "alice")))

	assert.ErrorIs(t, inv.InvalidateViewer(ctx, ""), ErrUnauthorized)
}

func TestInvalidator_CacheDown(t *testing.T) {
	mr, rdb := newRedis(t)
	inv := NewInvalidator(cache.NewPageCache(rdb, time.Minute), cache.NewMembershipEvictor(rdb))
	mr.Close()
	ctx := context.Background()

	err := inv.OnPostWritten(ctx, models.PostEvent{PostID: 1, AuthorID: "bob"})
	assert.ErrorIs(t, err, cache.ErrCacheUnavailable)
	err = inv.OnMembershipChanged(ctx, models.MembershipEvent{ViewerID: "me", Scope: models.MembershipGroup, TargetID: "g1"})
	assert.ErrorIs(t, err, cache.ErrCacheUnavailable)
}

func TestInvalidator_WithoutCaches(t *testing.T) {
	inv := NewInvalidator(nil, nil)
	ctx := context.Background()
	assert.NoError(t, inv.OnPostWritten(ctx, models.PostEvent{AuthorID: "bob"}))
	assert.NoError(t, inv.OnMembershipChanged(ctx, models.MembershipEvent{ViewerID: "me"}))
	assert.Error(t, inv.OnMembershipChanged(ctx, models.MembershipEvent{}))
}
