package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-timeline/internal/application/usecases"
	"go-timeline/internal/auth"
	"go-timeline/internal/cursor"
	"go-timeline/internal/models"
)

const secret = "test-jwt"

type call struct {
	op     string
	viewer string
	limit  int
	cursor string
}

type fakeTimeline struct {
	calls []call
	page  *models.Page
	err   error
}

func (f *fakeTimeline) record(op, viewer string, limit int, cur string) (*models.Page, error) {
	f.calls = append(f.calls, call{op, viewer, limit, cur})
	return f.page, f.err
}

func (f *fakeTimeline) GenerateTimelineForUser(_ context.Context, v string, limit int, cur string) (*models.Page, error) {
	return f.record("all", v, limit, cur)
}

func (f *fakeTimeline) GetCirclePosts(_ context.Context, v string, limit int, cur string) (*models.Page, error) {
	return f.record("circles", v, limit, cur)
}

func (f *fakeTimeline) GetGroupPosts(_ context.Context, v string, limit int, cur string) (*models.Page, error) {
	return f.record("groups", v, limit, cur)
}

func (f *fakeTimeline) RefreshTimeline(_ context.Context, v string, limit int) (*models.Page, error) {
	return f.record("refresh", v, limit, "")
}

func init() { gin.SetMode(gin.TestMode) }

func do(t *testing.T, r http.Handler, method, path, viewer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if viewer != "" {
		tok, err := auth.SignJWT(secret, viewer, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTimelineRoutes(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := &fakeTimeline{page: &models.Page{Posts: []*models.Post{{ID: 1, AuthorID: "u2", CreatedAt: ts, Visibility: "public"}}}}
	r := NewRouter(NewTimelineHandler(svc, 20), RouterOptions{JWTSecret: secret})

	w := do(t, r, http.MethodGet, "/api/timeline", "u1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "next_cursor")
	assert.Nil(t, body["next_cursor"])
	assert.Equal(t, false, body["has_more"])
	assert.Len(t, body["posts"], 1)

	do(t, r, http.MethodGet, "/api/timeline/circles?limit=5&cursor=abc", "u1")
	do(t, r, http.MethodGet, "/api/timeline/groups?limit=7", "u1")
	do(t, r, http.MethodPost, "/api/timeline/refresh", "u1")

	assert.Equal(t, []call{
		{"all", "u1", 20, ""},
		{"circles", "u1", 5, "abc"},
		{"groups", "u1", 7, ""},
		{"refresh", "u1", 20, ""},
	}, svc.calls)
}

func TestTimelineRoutes_Auth(t *testing.T) {
	svc := &fakeTimeline{page: &models.Page{}}
	r := NewRouter(NewTimelineHandler(svc, 20), RouterOptions{JWTSecret: secret})

	assert.Equal(t, http.StatusUnauthorized, do(t, r, http.MethodGet, "/api/timeline", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/timeline", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, svc.calls)

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/healthz", "").Code)
}

func TestTimelineRoutes_Errors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{usecases.ErrInvalidLimit, http.StatusBadRequest},
		{cursor.ErrInvalidCursor, http.StatusBadRequest},
		{usecases.ErrUnauthorized, http.StatusUnauthorized},
		{usecases.ErrRateLimited, http.StatusTooManyRequests},
		{usecases.ErrAllSourcesFailed, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		svc := &fakeTimeline{err: tc.err}
		r := NewRouter(NewTimelineHandler(svc, 20), RouterOptions{JWTSecret: secret})
		assert.Equal(t, tc.code, do(t, r, http.MethodGet, "/api/timeline", "u1").Code, tc.err.Error())
	}
}

func TestTimelineRoutes_BadLimit(t *testing.T) {
	svc := &fakeTimeline{page: &models.Page{}}
	r := NewRouter(NewTimelineHandler(svc, 20), RouterOptions{JWTSecret: secret})

	w := do(t, r, http.MethodGet, "/api/timeline?limit=ten", "u1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid limit"}`, w.Body.String())
	assert.Empty(t, svc.calls)
}

func TestMetricsRoute(t *testing.T) {
	r := NewRouter(NewTimelineHandler(&fakeTimeline{}, 20), RouterOptions{JWTSecret: secret, EnableMetrics: true})
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/metrics", "").Code)

	r = NewRouter(NewTimelineHandler(&fakeTimeline{}, 20), RouterOptions{JWTSecret: secret})
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/metrics", "").Code)
}
