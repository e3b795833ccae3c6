package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 错误分类
type Kind string

const (
	KindValidation          Kind = "validation"
	KindStateConflict       Kind = "state_conflict"
	KindAuthorization       Kind = "authorization"
	KindNotFound            Kind = "not_found"
	KindPersistenceDegraded Kind = "persistence_degraded"
	KindInternal            Kind = "internal"
)

// 业务错误码
const (
	CodePlanNotFound        = "plan_not_found"
	CodeAmountOutOfRange    = "amount_out_of_range"
	CodeInvalidAmount       = "invalid_amount"
	CodeUserNotFound        = "user_not_found"
	CodeUserExists          = "user_exists"
	CodeInsufficientBalance = "insufficient_balance"
	CodeAccountLocked       = "account_locked"
	CodeBalanceFrozen       = "balance_frozen"
	CodeOrderNotFound       = "order_not_found"
	CodeOrderSettled        = "order_already_settled"
	CodeInvalidResult       = "invalid_result"
	CodeInvalidOrder        = "invalid_order"
	CodeInvalidRequest      = "invalid_request"
	CodeStorageCorrupt      = "storage_corrupt"
	CodeInternal            = "internal"
)

// Error 结构化业务错误，调用方通过 errors.As 取出分类和错误码
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New 创建业务错误
func New(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validation(code, message string) error {
	return New(KindValidation, code, message, nil)
}

func NotFound(code, message string) error {
	return New(KindNotFound, code, message, nil)
}

func Conflict(code, message string) error {
	return New(KindStateConflict, code, message, nil)
}

func Forbidden(code, message string) error {
	return New(KindAuthorization, code, message, nil)
}

func Internal(message string, err error) error {
	return New(KindInternal, CodeInternal, message, err)
}

// As 从错误链中取出业务错误
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf 返回错误分类，非业务错误视为内部错误
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Is 判断错误链中是否包含指定错误码
func Is(err error, code string) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// HTTPStatus 错误分类到HTTP状态码的映射
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindStateConflict:
		return http.StatusConflict
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindPersistenceDegraded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
