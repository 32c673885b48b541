package httpclient

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/xsxdot/eureka-client/pkg/common"
)

// DefaultTimeout 单次请求默认超时
const DefaultTimeout = 5 * time.Second

// Request 一次HTTP请求
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
}

// Response 响应状态码与响应体
type Response struct {
	StatusCode int
	Body       []byte
}

// Text 响应体文本
func (r *Response) Text() string {
	return string(r.Body)
}

// Doer 执行HTTP请求。
// 连接类失败返回 Unavailable/Timeout 类型的 AppError，非2xx返回 External 类型的 AppError 且同时返回响应。
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Client 基于 fasthttp 的 Doer 实现
type Client struct {
	client  *fasthttp.Client
	timeout time.Duration
}

// Option 客户端选项
type Option func(*Client)

// WithTimeout 设置默认超时
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithTLSConfig 设置 https 请求的 TLS 配置
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		c.client.TLSConfig = cfg
	}
}

// WithMaxConnsPerHost 设置每个主机的最大连接数
func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) {
		c.client.MaxConnsPerHost = n
	}
}

// New 创建HTTP客户端
func New(opts ...Option) *Client {
	c := &Client{
		client: &fasthttp.Client{
			Name:                   "eureka-client",
			MaxConnsPerHost:        64,
			MaxIdleConnDuration:    30 * time.Second,
			DisablePathNormalizing: true,
		},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do 执行请求
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target, auth, err := splitUserInfo(req.URL)
	if err != nil {
		return nil, common.NewValidationError(fmt.Sprintf("invalid url %q", req.URL), err)
	}

	request := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(request)
	response := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(response)

	method := req.Method
	if method == "" {
		method = fasthttp.MethodGet
	}
	request.Header.SetMethod(method)
	request.SetRequestURI(target)
	request.Header.Set("Accept-Encoding", "gzip")
	if auth != "" {
		request.Header.Set("Authorization", auth)
	}
	for k, v := range req.Headers {
		request.Header.Set(k, v)
	}
	if len(req.Body) > 0 {
		request.SetBody(req.Body)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remain := time.Until(deadline); remain < timeout {
			timeout = remain
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	if err := c.client.DoTimeout(request, response, timeout); err != nil {
		return nil, classify(method, target, err)
	}

	body, err := response.BodyUncompressed()
	if err != nil {
		return nil, common.NewUnavailableError(fmt.Sprintf("%s %s: cannot read body", method, target), err)
	}

	out := &Response{
		StatusCode: response.StatusCode(),
		Body:       append([]byte(nil), body...),
	}
	if out.StatusCode < 200 || out.StatusCode >= 300 {
		return out, NewStatusError(method, target, out)
	}
	return out, nil
}

// splitUserInfo 去掉 URL 中的 user:password@ 并转为 Basic 认证头
func splitUserInfo(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Host == "" {
		return "", "", errors.New("missing host")
	}
	if u.User == nil {
		return raw, "", nil
	}

	cred := u.User.Username()
	if pass, ok := u.User.Password(); ok {
		cred += ":" + pass
	}
	u.User = nil
	return u.String(), "Basic " + base64.StdEncoding.EncodeToString([]byte(cred)), nil
}

func classify(method, target string, err error) error {
	msg := fmt.Sprintf("%s %s failed", method, target)

	var netErr net.Error
	switch {
	case errors.Is(err, fasthttp.ErrTimeout), errors.Is(err, fasthttp.ErrDialTimeout):
		return common.NewTimeoutError(msg, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return common.NewTimeoutError(msg, err)
	default:
		return common.NewUnavailableError(msg, err)
	}
}

// NewStatusError 创建非2xx响应错误
func NewStatusError(method, target string, resp *Response) *common.AppError {
	return common.NewAppError(common.ErrorTypeExternal, fmt.Sprintf("HTTP_%d", resp.StatusCode),
		fmt.Sprintf("%s %s returned status %d", method, target, resp.StatusCode), nil).
		WithField("status", resp.StatusCode)
}

// IsTransportError 连接失败或超时
func IsTransportError(err error) bool {
	return common.IsErrorType(err, common.ErrorTypeUnavailable, common.ErrorTypeTimeout)
}

// IsStatusError 对端返回了非2xx状态码
func IsStatusError(err error) bool {
	_, ok := StatusCode(err)
	return ok
}

// IsHTTPError 传输错误或状态码错误
func IsHTTPError(err error) bool {
	return IsTransportError(err) || IsStatusError(err)
}

// StatusCode 取出状态码错误中的HTTP状态码
func StatusCode(err error) (int, bool) {
	appErr, ok := common.AsAppError(err)
	if !ok || appErr.Type != common.ErrorTypeExternal {
		return 0, false
	}
	v, ok := appErr.Field("status")
	if !ok {
		return 0, false
	}
	code, ok := v.(int)
	return code, ok
}
