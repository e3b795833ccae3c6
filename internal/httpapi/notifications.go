package httpapi

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/life2you_mini/pledgeflow/internal/model"
)

const (
	defaultDrainLimit = 100
	maxDrainLimit     = 1000
)

// NotificationQueue 可由管理员消费的通知队列
type NotificationQueue interface {
	Pending(ctx context.Context) (int64, error)
	Drain(ctx context.Context, limit int) ([]model.Notification, error)
	Purge(ctx context.Context) error
}

// NotificationHandler 通知队列的查看、取出和清空
type NotificationHandler struct {
	Queue  NotificationQueue
	Logger *zap.Logger
}

func (h *NotificationHandler) Register(r *gin.Engine) {
	admin := r.Group("/api/v1/admin/notifications")
	admin.GET("/stats", h.stats)
	admin.POST("/drain", h.drain)
	admin.DELETE("", h.purge)
}

func (h *NotificationHandler) stats(c *gin.Context) {
	pending, err := h.Queue.Pending(c.Request.Context())
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, gin.H{"pending": pending}, nil)
}

func (h *NotificationHandler) drain(c *gin.Context) {
	limit := defaultDrainLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxDrainLimit {
			badRequest(c, fmt.Errorf("limit 须在 1 到 %d 之间", maxDrainLimit))
			return
		}
		limit = n
	}

	items, err := h.Queue.Drain(c.Request.Context(), limit)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}

func (h *NotificationHandler) purge(c *gin.Context) {
	if err := h.Queue.Purge(c.Request.Context()); err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, gin.H{"purged": true}, nil)
}
