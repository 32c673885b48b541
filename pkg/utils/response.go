package utils

import (
	"github.com/gofiber/fiber/v2"
)

// 业务状态码
const (
	StatusSuccess            = 20000
	StatusBadRequest         = 40000
	StatusNotFound           = 40400
	StatusInternalError      = 50000
	StatusServiceUnavailable = 50300
)

// Response 统一返回结构体
type Response struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data,omitempty"`
}

// NewResponse 创建新的响应
func NewResponse(code int, msg string, data interface{}) *Response {
	return &Response{
		Code: code,
		Msg:  msg,
		Data: data,
	}
}

// Success 成功响应
func Success(data interface{}) *Response {
	return NewResponse(StatusSuccess, "success", data)
}

// Fail 失败响应
func Fail(code int, msg string) *Response {
	return NewResponse(code, msg, nil)
}

// WithResponse 以 HTTP 200 返回响应
func WithResponse(c *fiber.Ctx, resp *Response) error {
	return c.Status(fiber.StatusOK).JSON(resp)
}

// WithStatus 以指定的 HTTP 状态码返回响应，用于健康检查这类需要状态码的接口
func WithStatus(c *fiber.Ctx, httpStatus int, resp *Response) error {
	return c.Status(httpStatus).JSON(resp)
}

// SuccessResponse 返回成功响应
func SuccessResponse(c *fiber.Ctx, data interface{}) error {
	return WithResponse(c, Success(data))
}

// FailResponse 返回失败响应
func FailResponse(c *fiber.Ctx, code int, msg string) error {
	return WithResponse(c, Fail(code, msg))
}

// ErrorResponse 由错误生成失败响应，可作为 fiber 的 ErrorHandler
func ErrorResponse(c *fiber.Ctx, err error) error {
	code := StatusInternalError
	msg := "服务器内部错误"

	if e, ok := err.(*fiber.Error); ok {
		switch e.Code {
		case fiber.StatusBadRequest:
			code = StatusBadRequest
			msg = "参数错误"
		case fiber.StatusNotFound:
			code = StatusNotFound
			msg = "资源不存在"
		case fiber.StatusServiceUnavailable:
			code = StatusServiceUnavailable
			msg = "服务不可用"
		}
		if e.Message != "" {
			msg = e.Message
		}
	} else if err != nil {
		msg = err.Error()
	}

	return WithResponse(c, Fail(code, msg))
}
