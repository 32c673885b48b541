package common

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorType 错误类型
type ErrorType uint

const (
	// ErrorTypeNormal 普通错误
	ErrorTypeNormal ErrorType = iota
	// ErrorTypeValidation 参数或配置校验错误
	ErrorTypeValidation
	// ErrorTypeInternal 内部错误
	ErrorTypeInternal
	// ErrorTypeExternal 对端返回了非成功响应
	ErrorTypeExternal
	// ErrorTypeTimeout 超时
	ErrorTypeTimeout
	// ErrorTypeUnavailable 对端不可达（拒绝连接、连接被重置等）
	ErrorTypeUnavailable
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeInternal:
		return "internal"
	case ErrorTypeExternal:
		return "external"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeUnavailable:
		return "unavailable"
	default:
		return "normal"
	}
}

// AppError 应用错误
type AppError struct {
	Type    ErrorType
	Code    string
	Message string
	Err     error
	Fields  map[string]interface{}
	Stack   string
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现errors.Unwrap接口
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithField 添加字段信息
func (e *AppError) WithField(key string, value interface{}) *AppError {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// Field 读取字段信息
func (e *AppError) Field(key string) (interface{}, bool) {
	if e.Fields == nil {
		return nil, false
	}
	v, ok := e.Fields[key]
	return v, ok
}

// NewAppError 创建应用错误
func NewAppError(errType ErrorType, code string, message string, err error) *AppError {
	var stack string
	if ErrorDebugMode {
		stack = captureStack(2)
	}
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
		Err:     err,
		Stack:   stack,
	}
}

func captureStack(skip int) string {
	pcs := make([]uintptr, 50)
	n := runtime.Callers(skip+1, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.Function, "runtime.") {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return b.String()
}

// AsAppError 从错误链中取出 AppError
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsErrorType 判断错误链中是否存在指定类型的 AppError
func IsErrorType(err error, types ...ErrorType) bool {
	appErr, ok := AsAppError(err)
	if !ok {
		return false
	}
	for _, t := range types {
		if appErr.Type == t {
			return true
		}
	}
	return false
}

// ErrorDebugMode 开启后 AppError 会记录调用栈
var ErrorDebugMode = false

// NewValidationError 创建校验错误
func NewValidationError(message string, err error) *AppError {
	return NewAppError(ErrorTypeValidation, "VALIDATION_ERROR", message, err)
}

// NewInternalError 创建内部错误
func NewInternalError(message string, err error) *AppError {
	return NewAppError(ErrorTypeInternal, "INTERNAL_ERROR", message, err)
}

// NewExternalError 创建外部服务错误
func NewExternalError(message string, err error) *AppError {
	return NewAppError(ErrorTypeExternal, "EXTERNAL_ERROR", message, err)
}

// NewTimeoutError 创建超时错误
func NewTimeoutError(message string, err error) *AppError {
	return NewAppError(ErrorTypeTimeout, "TIMEOUT", message, err)
}

// NewUnavailableError 创建服务不可用错误
func NewUnavailableError(message string, err error) *AppError {
	return NewAppError(ErrorTypeUnavailable, "SERVICE_UNAVAILABLE", message, err)
}
