package client

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xsxdot/eureka-client/pkg/httpclient"
	"github.com/xsxdot/eureka-client/pkg/registry"
)

// Walker 对一个实例地址执行调用
type Walker[T any] func(ctx context.Context, serviceURL string) (T, error)

// WalkNodes 依次选择应用的实例并调用 walker，直到成功或没有可选实例。
// 严格模式下任何错误都换实例重试，否则只有连接类错误才重试
func WalkNodes[T any](ctx context.Context, c *Client, appName, path string, walker Walker[T]) (T, error) {
	var zero T
	app := strings.ToUpper(appName)

	apps, err := c.Applications(ctx)
	if err != nil {
		return zero, err
	}

	var (
		tried   []string
		lastErr error
	)
	for {
		ins := c.selector.Pick(apps, app, tried...)
		if ins == nil {
			break
		}
		tried = append(tried, ins.ID())

		base, err := ServiceURL(ins, c.cfg.PreferIP, c.cfg.PreferHTTPS)
		if err != nil {
			c.logger.Warn("实例没有可用端口", zap.String("app", app), zap.String("instance_id", ins.ID()), zap.Error(err))
			lastErr = err
			continue
		}
		target := base + strings.TrimPrefix(path, "/")

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return zero, err
			}
		}

		result, err := walker(ctx, target)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}
		if !c.cfg.StrictServiceErrorPolicy && !httpclient.IsTransportError(err) {
			return zero, err
		}
		c.logger.Warn("调用实例失败，尝试下一个", zap.String("app", app), zap.String("url", target), zap.Error(err))
		lastErr = err
	}

	return zero, registry.NewRegistryErrorWithCause(registry.ErrCodeNoReachableInstance,
		fmt.Sprintf("no reachable instance of %s", app), lastErr)
}

// ServiceURL 实例的基础地址，以 / 结尾。同时开放两个端口时由 preferHTTPS 决定协议
func ServiceURL(ins *registry.Instance, preferIP, preferHTTPS bool) (string, error) {
	plain := ins.Port.Enabled && ins.Port.Port > 0
	secure := ins.SecurePort.Enabled && ins.SecurePort.Port > 0

	var scheme string
	var port int
	switch {
	case plain && (!secure || !preferHTTPS):
		scheme, port = "http", ins.Port.Port
	case secure:
		scheme, port = "https", ins.SecurePort.Port
	default:
		return "", registry.NewRegistryError(registry.ErrCodeInvalidInstance,
			fmt.Sprintf("instance %s has no enabled port", ins.ID()))
	}

	host := ins.HostName
	if preferIP && ins.IPAddr != "" {
		host = ins.IPAddr
	}
	if host == "" {
		host = ins.IPAddr
	}

	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		return scheme + "://" + host + "/", nil
	}
	return scheme + "://" + host + ":" + strconv.Itoa(port) + "/", nil
}

type serviceRequest struct {
	method  string
	headers map[string]string
	body    []byte
	timeout time.Duration
}

// ServiceOption 服务调用选项
type ServiceOption func(*serviceRequest)

// WithMethod HTTP方法，默认GET
func WithMethod(method string) ServiceOption {
	return func(r *serviceRequest) {
		r.method = method
	}
}

// WithHeaders 请求头
func WithHeaders(headers map[string]string) ServiceOption {
	return func(r *serviceRequest) {
		if r.headers == nil {
			r.headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			r.headers[k] = v
		}
	}
}

// WithBody 请求体
func WithBody(body []byte) ServiceOption {
	return func(r *serviceRequest) {
		r.body = body
	}
}

// WithRequestTimeout 单次调用超时
func WithRequestTimeout(timeout time.Duration) ServiceOption {
	return func(r *serviceRequest) {
		r.timeout = timeout
	}
}

// DoService 通过HTTP调用应用的某个实例，非2xx响应视为失败
func (c *Client) DoService(ctx context.Context, appName, path string, opts ...ServiceOption) (*httpclient.Response, error) {
	req := &serviceRequest{method: "GET", timeout: c.cfg.RequestTimeout}
	for _, opt := range opts {
		opt(req)
	}

	return WalkNodes(ctx, c, appName, path, func(ctx context.Context, serviceURL string) (*httpclient.Response, error) {
		return c.doer.Do(ctx, &httpclient.Request{
			Method:  req.method,
			URL:     serviceURL,
			Headers: req.headers,
			Body:    req.body,
			Timeout: req.timeout,
		})
	})
}
