package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/life2you_mini/pledgeflow/internal/pledge"
)

// PledgeHandler 质押计划、下单和统计接口
type PledgeHandler struct {
	Ledger *pledge.Ledger
	Logger *zap.Logger
}

type createPledgeRequest struct {
	UserID    string          `json:"user_id" binding:"required"`
	UserEmail string          `json:"user_email"`
	PlanID    string          `json:"plan_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
}

func (h *PledgeHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1")
	group.GET("/plans", h.listPlans)
	group.POST("/pledges", h.createPledge)
	group.GET("/pledges/stats", h.stats)
	group.POST("/pledges/settle", h.settle)
}

func (h *PledgeHandler) listPlans(c *gin.Context) {
	plans := h.Ledger.Plans()
	Ok(c, plans, map[string]any{"count": len(plans)})
}

func (h *PledgeHandler) createPledge(c *gin.Context) {
	var req createPledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.Ledger.CreatePledge(c.Request.Context(), req.UserID, req.UserEmail, req.PlanID, req.Amount)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, apiResponse{Code: 0, Message: "ok", Data: p})
}

func (h *PledgeHandler) stats(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		Error(c, http.StatusBadRequest, "缺少 user_id", nil)
		return
	}
	stats, err := h.Ledger.GetStatsForUser(c.Request.Context(), userID)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, stats, nil)
}

// settle 结算指定用户的到期质押，user_id 为空时结算全部用户
func (h *PledgeHandler) settle(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))

	var (
		count int
		err   error
	)
	if userID == "" {
		count, err = h.Ledger.SettleAllMatured(c.Request.Context())
	} else {
		count, err = h.Ledger.SettleMatured(c.Request.Context(), userID)
	}
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, gin.H{"settled": count}, nil)
}
