// Package errors 提供统一的错误定义
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误 (1xxx)
	CodeSuccess            ErrorCode = "0"
	CodeUnknown            ErrorCode = "1000"
	CodeInvalidParam       ErrorCode = "1001"
	CodeNotFound           ErrorCode = "1004"
	CodeConflict           ErrorCode = "1005"
	CodeTooManyRequests    ErrorCode = "1006"
	CodeInternalError      ErrorCode = "1007"
	CodeServiceUnavailable ErrorCode = "1008"
	CodeTimeout            ErrorCode = "1009"

	// 资源错误 (3xxx)
	CodeSeriesNotFound       ErrorCode = "3001"
	CodeCharacterNotFound    ErrorCode = "3002"
	CodeEntityNotFound       ErrorCode = "3003"
	CodeEventNotFound        ErrorCode = "3004"
	CodeRuleNotFound         ErrorCode = "3005"
	CodeViolationNotFound    ErrorCode = "3006"
	CodeArcNotFound          ErrorCode = "3007"
	CodeWorldElementNotFound ErrorCode = "3008"

	// 业务错误 (4xxx)
	CodeValidationFailed    ErrorCode = "4002"
	CodeInvalidFact         ErrorCode = "4010"
	CodeCanonLocked         ErrorCode = "4011"
	CodeStalePlan           ErrorCode = "4012"
	CodeImpactTooDeep       ErrorCode = "4013"
	CodeSequenceConflict    ErrorCode = "4014"
	CodeHistorySealed       ErrorCode = "4015"
	CodeInvalidTransition   ErrorCode = "4016"
	CodeInvalidRevision     ErrorCode = "4017"
	CodeIdempotencyMismatch ErrorCode = "4018"

	// 外部服务错误 (5xxx)
	CodeDatabaseError ErrorCode = "5001"
	CodeCacheError    ErrorCode = "5002"
	CodeQueueError    ErrorCode = "5003"
)

// AppError 应用错误
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Err        error     `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	msg := e.Message
	if e.Detail != "" {
		msg = msg + " (" + e.Detail + ")"
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按错误码比较，便于 errors.Is 与预定义错误匹配
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail 返回带详细信息的副本
func (e *AppError) WithDetail(detail string) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WithError 返回带底层错误的副本
func (e *AppError) WithError(err error) *AppError {
	cp := *e
	cp.Err = err
	return &cp
}

// New 创建新的应用错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

// Newf 创建带格式化信息的应用错误
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Err:        err,
	}
}

// codeToHTTPStatus 错误码转 HTTP 状态码
func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidParam, CodeInvalidFact, CodeInvalidRevision:
		return http.StatusBadRequest
	case CodeNotFound, CodeSeriesNotFound, CodeCharacterNotFound, CodeEntityNotFound,
		CodeEventNotFound, CodeRuleNotFound, CodeViolationNotFound, CodeArcNotFound, CodeWorldElementNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeStalePlan, CodeSequenceConflict, CodeIdempotencyMismatch:
		return http.StatusConflict
	case CodeValidationFailed, CodeCanonLocked, CodeImpactTooDeep, CodeHistorySealed, CodeInvalidTransition:
		return http.StatusUnprocessableEntity
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误，仅用于 errors.Is 比较；返回给调用方时使用 WithDetail 生成副本
var (
	ErrInvalidParam = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound     = New(CodeNotFound, "resource not found")
	ErrConflict     = New(CodeConflict, "resource conflict")
	ErrInternal     = New(CodeInternalError, "internal server error")
	ErrTimeout      = New(CodeTimeout, "operation timed out")

	ErrSeriesNotFound       = New(CodeSeriesNotFound, "series not found")
	ErrCharacterNotFound    = New(CodeCharacterNotFound, "character not found")
	ErrEntityNotFound       = New(CodeEntityNotFound, "entity not found")
	ErrEventNotFound        = New(CodeEventNotFound, "event not found")
	ErrRuleNotFound         = New(CodeRuleNotFound, "canon rule not found")
	ErrViolationNotFound    = New(CodeViolationNotFound, "canon violation not found")
	ErrArcNotFound          = New(CodeArcNotFound, "narrative arc not found")
	ErrWorldElementNotFound = New(CodeWorldElementNotFound, "world element not found")

	ErrInvalidFact         = New(CodeInvalidFact, "invalid fact")
	ErrCanonLocked         = New(CodeCanonLocked, "canon locked")
	ErrStalePlan           = New(CodeStalePlan, "revision plan is stale")
	ErrImpactTooDeep       = New(CodeImpactTooDeep, "impact graph exceeds traversal bound")
	ErrSequenceConflict    = New(CodeSequenceConflict, "event sequence conflict")
	ErrHistorySealed       = New(CodeHistorySealed, "history sealed for book")
	ErrInvalidTransition   = New(CodeInvalidTransition, "invalid state transition")
	ErrInvalidRevision     = New(CodeInvalidRevision, "invalid revision request")
	ErrIdempotencyMismatch = New(CodeIdempotencyMismatch, "idempotency key reused with different request")
)

// IsAppError 检查是否为 AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError 将错误转换为 AppError
func AsAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeUnknown, "unknown error")
}
