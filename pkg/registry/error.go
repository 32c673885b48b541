package registry

import (
	"errors"
	"fmt"
)

// 错误码定义
const (
	ErrCodeInvalidConfig         = "INVALID_CONFIG"         // 无效配置，构造期致命
	ErrCodeConnectivityExhausted = "CONNECTIVITY_EXHAUSTED" // 所有注册中心节点都不可用
	ErrCodeDiscoveryDisabled     = "DISCOVERY_DISABLED"     // 未开启服务发现却访问了注册表
	ErrCodeNoReachableInstance   = "NO_REACHABLE_INSTANCE"  // 所有UP实例都调用失败
	ErrCodeDecodeFailed          = "DECODE_FAILED"          // 注册中心响应无法解析
	ErrCodeInvalidInstance       = "INVALID_INSTANCE"       // 无效实例
)

// RegistryError 注册中心客户端错误
type RegistryError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"cause"`
}

// Error 实现error接口
func (e *RegistryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持错误链
func (e *RegistryError) Unwrap() error {
	return e.Cause
}

// Is 按错误码匹配，使 errors.Is(err, ErrConnectivityExhausted) 可用
func (e *RegistryError) Is(target error) bool {
	t, ok := target.(*RegistryError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewRegistryError 创建注册中心错误
func NewRegistryError(code, message string) *RegistryError {
	return &RegistryError{
		Code:    code,
		Message: message,
	}
}

// NewRegistryErrorWithCause 创建带原因的注册中心错误
func NewRegistryErrorWithCause(code, message string, cause error) *RegistryError {
	return &RegistryError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsRegistryError 检查错误链中是否有注册中心错误
func IsRegistryError(err error) bool {
	var regErr *RegistryError
	return errors.As(err, &regErr)
}

// GetErrorCode 获取错误码
func GetErrorCode(err error) string {
	var regErr *RegistryError
	if errors.As(err, &regErr) {
		return regErr.Code
	}
	return ""
}

// 预定义错误，用于 errors.Is 比较
var (
	ErrInvalidConfig         = NewRegistryError(ErrCodeInvalidConfig, "invalid configuration")
	ErrConnectivityExhausted = NewRegistryError(ErrCodeConnectivityExhausted, "all eureka servers are down")
	ErrDiscoveryDisabled     = NewRegistryError(ErrCodeDiscoveryDisabled, "discovery is disabled, no registry is pulled")
	ErrNoReachableInstance   = NewRegistryError(ErrCodeNoReachableInstance, "tried all up instances in registry, but all failed")
	ErrDecodeFailed          = NewRegistryError(ErrCodeDecodeFailed, "cannot decode registry document")
)
