package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/life2you_mini/pledgeflow/internal/apperr"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// Fail 按业务错误分类返回，meta 带上错误码
func Fail(c *gin.Context, logger *zap.Logger, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.New(apperr.KindInternal, apperr.CodeInternal, "内部错误", err)
	}
	status := apperr.HTTPStatus(e.Kind)
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error("请求处理失败",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	Error(c, status, e.Message, map[string]any{"code": e.Code, "kind": string(e.Kind)})
}

func badRequest(c *gin.Context, err error) {
	Error(c, http.StatusBadRequest, "请求参数无效", map[string]any{
		"code":  apperr.CodeInvalidRequest,
		"kind":  string(apperr.KindValidation),
		"error": err.Error(),
	})
}
