package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/life2you_mini/pledgeflow/internal/features"
)

// FeaturesHandler 涨跌期权下单、查询和管理员结算
type FeaturesHandler struct {
	Service *features.Service
	Logger  *zap.Logger
}

type settleOrderRequest struct {
	Result string `json:"result" binding:"required"`
}

func (h *FeaturesHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/features")
	group.POST("/orders", h.placeOrder)
	group.GET("/orders", h.listOrders)
	group.GET("/orders/:id", h.getOrder)

	admin := r.Group("/api/v1/admin/features")
	admin.POST("/orders/:id/settle", h.settleOrder)
	admin.POST("/orders/process-expired", h.processExpired)
}

func (h *FeaturesHandler) placeOrder(c *gin.Context) {
	var req features.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		Error(c, http.StatusBadRequest, "缺少 user_id", nil)
		return
	}
	view, err := h.Service.PlaceOrder(c.Request.Context(), req)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, apiResponse{Code: 0, Message: "ok", Data: view})
}

func (h *FeaturesHandler) listOrders(c *gin.Context) {
	views, err := h.Service.ListOrders(c.Request.Context(), strings.TrimSpace(c.Query("user_id")))
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, views, map[string]any{"count": len(views)})
}

func (h *FeaturesHandler) getOrder(c *gin.Context) {
	view, err := h.Service.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, view, nil)
}

func (h *FeaturesHandler) settleOrder(c *gin.Context) {
	var req settleOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	order, err := h.Service.Settle(c.Request.Context(), c.Param("id"), strings.TrimSpace(req.Result))
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, order, nil)
}

func (h *FeaturesHandler) processExpired(c *gin.Context) {
	count, err := h.Service.ProcessExpired(c.Request.Context())
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, gin.H{"expired": count}, nil)
}
