// Package errors 提供带错误码的应用错误类型。
package errors

import (
	stdErrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorCode 错误代码类型
type ErrorCode string

// 预定义错误代码
const (
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"

	// 审计会话相关
	ErrCodeEmptyStack      ErrorCode = "EMPTY_STACK"
	ErrCodeUnrepresentable ErrorCode = "UNREPRESENTABLE_VALUE"
	ErrCodeSessionMismatch ErrorCode = "SESSION_MISMATCH"
	ErrCodeUnknownField    ErrorCode = "UNKNOWN_FIELD"
	ErrCodeNotLoaded       ErrorCode = "NOT_LOADED"
	ErrCodeNoController    ErrorCode = "NO_CONTROLLER"
	ErrCodeInvalidConfig   ErrorCode = "INVALID_CONFIG"

	// 基础设施错误代码
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeCache    ErrorCode = "CACHE_ERROR"
	ErrCodeQueue    ErrorCode = "QUEUE_ERROR"
)

// IError 错误接口
type IError interface {
	error

	Code() ErrorCode
	Message() string
	Cause() error
	Details() map[string]any
	Stack() string

	Is(target error) bool
	Wrap(msg string) IError
	WithDetails(details map[string]any) IError
	WithContext(key string, value any) IError
}

// AppError 应用错误实现
type AppError struct {
	code    ErrorCode
	message string
	cause   error
	details map[string]any
	stack   string
}

// NewError 创建新错误
func NewError(code ErrorCode, message string) IError {
	return &AppError{
		code:    code,
		message: message,
		details: make(map[string]any),
		stack:   captureStack(),
	}
}

// Newf 按格式创建新错误
func Newf(code ErrorCode, format string, args ...any) IError {
	return &AppError{
		code:    code,
		message: fmt.Sprintf(format, args...),
		details: make(map[string]any),
		stack:   captureStack(),
	}
}

// WrapError 包装错误
func WrapError(err error, code ErrorCode, message string) IError {
	if err == nil {
		return nil
	}
	return &AppError{
		code:    code,
		message: message,
		cause:   err,
		details: make(map[string]any),
		stack:   captureStack(),
	}
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *AppError) Code() ErrorCode { return e.code }
func (e *AppError) Message() string { return e.message }
func (e *AppError) Cause() error    { return e.cause }
func (e *AppError) Stack() string   { return e.stack }

// Details 获取错误详情
func (e *AppError) Details() map[string]any {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	return e.details
}

// Is 同错误码即视为同类错误，否则继续比较 cause
func (e *AppError) Is(target error) bool {
	if target == nil {
		return false
	}
	if appErr, ok := target.(*AppError); ok {
		return e.code == appErr.code
	}
	if e.cause != nil {
		return stdErrors.Is(e.cause, target)
	}
	return false
}

// Unwrap 解包错误（支持 errors.Unwrap）
func (e *AppError) Unwrap() error {
	return e.cause
}

// Wrap 包装错误
func (e *AppError) Wrap(msg string) IError {
	return &AppError{
		code:    e.code,
		message: fmt.Sprintf("%s: %s", msg, e.message),
		cause:   e,
		details: copyMap(e.details),
		stack:   captureStack(),
	}
}

// WithDetails 添加详情
func (e *AppError) WithDetails(details map[string]any) IError {
	merged := copyMap(e.details)
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		code:    e.code,
		message: e.message,
		cause:   e.cause,
		details: merged,
		stack:   e.stack,
	}
}

// WithContext 添加上下文
func (e *AppError) WithContext(key string, value any) IError {
	return e.WithDetails(map[string]any{key: value})
}

// IsErrorCode 检查是否为指定错误代码
func IsErrorCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.code == code
	}
	return false
}

// IsNotFound 检查是否为未找到错误
func IsNotFound(err error) bool {
	return IsErrorCode(err, ErrCodeNotFound)
}

// GetErrorCode 获取错误代码，非 AppError 统一视为内部错误
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.code
	}
	return ErrCodeInternal
}

// DetailsOf 取出错误链上第一个 AppError 的详情
func DetailsOf(err error) map[string]any {
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.Details()
	}
	return nil
}

// captureStack 捕获堆栈信息
func captureStack() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])

	var builder strings.Builder
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		builder.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))
		if !more {
			break
		}
	}
	return builder.String()
}

func copyMap(original map[string]any) map[string]any {
	copied := make(map[string]any, len(original))
	for k, v := range original {
		copied[k] = v
	}
	return copied
}
