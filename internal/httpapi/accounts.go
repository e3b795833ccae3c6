package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/life2you_mini/pledgeflow/internal/account"
)

// AccountHandler 用户查询和管理员账户操作
type AccountHandler struct {
	Service *account.Service
	Logger  *zap.Logger
}

type createUserRequest struct {
	ID             string          `json:"id"`
	Email          string          `json:"email"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

type creditRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *AccountHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/users/:id", h.getUser)

	admin := r.Group("/api/v1/admin/users")
	admin.POST("", h.createUser)
	admin.POST("/:id/credit", h.credit)
	admin.POST("/:id/flags", h.setFlags)
}

func (h *AccountHandler) getUser(c *gin.Context) {
	user, err := h.Service.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, user, nil)
}

func (h *AccountHandler) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	user, err := h.Service.CreateUser(c.Request.Context(), req.ID, req.Email, req.InitialBalance)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, apiResponse{Code: 0, Message: "ok", Data: user})
}

func (h *AccountHandler) credit(c *gin.Context) {
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	user, err := h.Service.Deposit(c.Request.Context(), c.Param("id"), req.Amount)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, user, nil)
}

func (h *AccountHandler) setFlags(c *gin.Context) {
	var flags account.Flags
	if err := c.ShouldBindJSON(&flags); err != nil {
		badRequest(c, err)
		return
	}
	user, err := h.Service.SetFlags(c.Request.Context(), c.Param("id"), flags)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, user, nil)
}
