package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go-timeline/internal/application/usecases"
	"go-timeline/internal/cursor"
	"go-timeline/internal/models"
)

// TimelineService 时间线用例接口
type TimelineService interface {
	GenerateTimelineForUser(ctx context.Context, viewerID string, limit int, cursorToken string) (*models.Page, error)
	GetCirclePosts(ctx context.Context, viewerID string, limit int, cursorToken string) (*models.Page, error)
	GetGroupPosts(ctx context.Context, viewerID string, limit int, cursorToken string) (*models.Page, error)
	RefreshTimeline(ctx context.Context, viewerID string, limit int) (*models.Page, error)
}

// TimelineHandler 时间线HTTP处理器
type TimelineHandler struct {
	timeline     TimelineService
	defaultLimit int
}

// NewTimelineHandler 创建时间线HTTP处理器
func NewTimelineHandler(timeline TimelineService, defaultLimit int) *TimelineHandler {
	if defaultLimit <= 0 {
		defaultLimit = 20
	}
	return &TimelineHandler{timeline: timeline, defaultLimit: defaultLimit}
}

// RouterOptions 路由参数
type RouterOptions struct {
	JWTSecret     string
	EnableMetrics bool
}

// NewRouter 注册健康检查、指标与时间线接口
func NewRouter(h *TimelineHandler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID())
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	if opts.EnableMetrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	api := r.Group("/api/timeline", Auth(opts.JWTSecret))
	api.GET("", h.Timeline)
	api.GET("/circles", h.Circles)
	api.GET("/groups", h.Groups)
	api.POST("/refresh", h.Refresh)
	return r
}

// Timeline 全部来源
func (h *TimelineHandler) Timeline(c *gin.Context) {
	h.serve(c, h.timeline.GenerateTimelineForUser)
}

// Circles 仅圈子
func (h *TimelineHandler) Circles(c *gin.Context) {
	h.serve(c, h.timeline.GetCirclePosts)
}

// Groups 仅群组
func (h *TimelineHandler) Groups(c *gin.Context) {
	h.serve(c, h.timeline.GetGroupPosts)
}

// Refresh 失效后重新生成首页
func (h *TimelineHandler) Refresh(c *gin.Context) {
	limit, ok := h.limit(c)
	if !ok {
		return
	}
	page, err := h.timeline.RefreshTimeline(c.Request.Context(), c.GetString("userID"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type pageFunc func(ctx context.Context, viewerID string, limit int, cursorToken string) (*models.Page, error)

func (h *TimelineHandler) serve(c *gin.Context, fn pageFunc) {
	limit, ok := h.limit(c)
	if !ok {
		return
	}
	page, err := fn(c.Request.Context(), c.GetString("userID"), limit, c.Query("cursor"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *TimelineHandler) limit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return h.defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return 0, false
	}
	return n, true
}

func (h *TimelineHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, usecases.ErrInvalidLimit):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
	case errors.Is(err, cursor.ErrInvalidCursor):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
	case errors.Is(err, usecases.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, usecases.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many refreshes"})
	default:
		slog.Error("TimelineHandler", "request_id", c.GetString("requestID"), "viewer", c.GetString("userID"), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
