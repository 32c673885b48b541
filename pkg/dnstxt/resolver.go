package dnstxt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/xsxdot/eureka-client/pkg/common"
)

const (
	// DefaultResolvConf 未指定DNS服务器时读取的配置文件
	DefaultResolvConf = "/etc/resolv.conf"
	// DefaultTimeout 单次查询超时
	DefaultTimeout = 5 * time.Second
)

// ErrNoRecord 域名不存在或没有TXT记录
var ErrNoRecord = errors.New("no TXT record")

// Resolver 查询TXT记录，每条记录的多个字符串片段以空格拼接后作为一个元素返回
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// Client 基于 miekg/dns 的 TXT 解析器
type Client struct {
	servers    []string
	resolvConf string
	timeout    time.Duration
	logger     *zap.Logger
}

// Option 解析器选项
type Option func(*Client)

// WithServers 指定DNS服务器，格式为 host 或 host:port
func WithServers(servers ...string) Option {
	return func(c *Client) {
		for _, s := range servers {
			if s = strings.TrimSpace(s); s != "" {
				c.servers = append(c.servers, withDefaultPort(s, "53"))
			}
		}
	}
}

// WithResolvConf 指定 resolv.conf 路径
func WithResolvConf(path string) Option {
	return func(c *Client) {
		c.resolvConf = path
	}
}

// WithTimeout 单次查询超时
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithLogger 指定日志
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New 创建解析器。未指定服务器时从 resolv.conf 读取
func New(opts ...Option) (*Client, error) {
	c := &Client{
		resolvConf: DefaultResolvConf,
		timeout:    DefaultTimeout,
		logger:     common.GetLogger().GetZapLogger("dnstxt"),
	}
	for _, opt := range opts {
		opt(c)
	}

	if len(c.servers) == 0 {
		conf, err := dns.ClientConfigFromFile(c.resolvConf)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", c.resolvConf, err)
		}
		for _, s := range conf.Servers {
			c.servers = append(c.servers, net.JoinHostPort(s, conf.Port))
		}
		if len(c.servers) == 0 {
			return nil, fmt.Errorf("no nameserver in %s", c.resolvConf)
		}
	}
	return c, nil
}

// Servers 使用的DNS服务器
func (c *Client) Servers() []string {
	out := make([]string, len(c.servers))
	copy(out, c.servers)
	return out
}

// LookupTXT 依次尝试各DNS服务器，第一个给出权威答复的服务器结果即为最终结果
func (c *Client) LookupTXT(ctx context.Context, name string) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range c.servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := c.exchange(ctx, msg, server)
		if err != nil {
			c.logger.Warn("dns query failed", zap.String("server", server), zap.String("name", name), zap.Error(err))
			lastErr = err
			continue
		}

		switch resp.Rcode {
		case dns.RcodeSuccess:
		case dns.RcodeNameError:
			return nil, fmt.Errorf("%s: %w", name, ErrNoRecord)
		default:
			lastErr = fmt.Errorf("%s: server %s answered %s", name, server, dns.RcodeToString[resp.Rcode])
			continue
		}

		var records []string
		for _, rr := range resp.Answer {
			if txt, ok := rr.(*dns.TXT); ok {
				records = append(records, strings.Join(txt.Txt, " "))
			}
		}
		if len(records) == 0 {
			return nil, fmt.Errorf("%s: %w", name, ErrNoRecord)
		}
		c.logger.Debug("dns txt resolved", zap.String("name", name), zap.Strings("records", records))
		return records, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no nameserver configured")
	}
	return nil, lastErr
}

// exchange 先走UDP，响应被截断时改用TCP重试
func (c *Client) exchange(ctx context.Context, msg *dns.Msg, server string) (*dns.Msg, error) {
	udp := &dns.Client{Net: "udp", Timeout: c.timeout}
	resp, _, err := udp.ExchangeContext(ctx, msg, server)
	if err != nil {
		return nil, err
	}
	if !resp.Truncated {
		return resp, nil
	}

	tcp := &dns.Client{Net: "tcp", Timeout: c.timeout}
	resp, _, err = tcp.ExchangeContext(ctx, msg, server)
	return resp, err
}

func withDefaultPort(addr, port string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), port)
}
