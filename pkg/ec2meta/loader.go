package ec2meta

import (
	"context"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/xsxdot/eureka-client/pkg/common"
	"github.com/xsxdot/eureka-client/pkg/httpclient"
)

const (
	// DefaultBaseURL 实例元数据服务地址
	DefaultBaseURL = "http://169.254.169.254/latest/"
	// DefaultConnectivityTries 连通性检测次数
	DefaultConnectivityTries = 5
)

// 写入 dataCenterInfo.metadata 的键
const (
	KeyInstanceID       = "instance-id"
	KeyAmiID            = "ami-id"
	KeyInstanceType     = "instance-type"
	KeyLocalIPv4        = "local-ipv4"
	KeyLocalHostname    = "local-hostname"
	KeyAvailabilityZone = "availability-zone"
	KeyPublicHostname   = "public-hostname"
	KeyPublicIPv4       = "public-ipv4"
	KeyMac              = "mac"
	KeyVpcID            = "vpcId"
	KeyAccountID        = "accountId"
)

// Loader 读取EC2实例元数据。元数据服务不可达时所有方法返回空值，不报错
type Loader struct {
	baseURL       string
	doer          httpclient.Doer
	tries         int
	retryInterval time.Duration
	dialTimeout   time.Duration
	logger        *zap.Logger

	once      sync.Once
	reachable bool
}

// Option 加载器选项
type Option func(*Loader)

// WithBaseURL 修改元数据服务地址
func WithBaseURL(baseURL string) Option {
	return func(l *Loader) {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		l.baseURL = baseURL
	}
}

// WithHTTPClient 指定HTTP客户端
func WithHTTPClient(doer httpclient.Doer) Option {
	return func(l *Loader) {
		if doer != nil {
			l.doer = doer
		}
	}
}

// WithConnectivityCheck 连通性检测次数与重试间隔
func WithConnectivityCheck(tries int, interval time.Duration) Option {
	return func(l *Loader) {
		l.tries = tries
		l.retryInterval = interval
	}
}

// WithLogger 指定日志
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader 创建元数据加载器
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		baseURL:       DefaultBaseURL,
		tries:         DefaultConnectivityTries,
		retryInterval: time.Second,
		dialTimeout:   time.Second,
		logger:        common.GetLogger().GetZapLogger("ec2meta"),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.doer == nil {
		l.doer = httpclient.New()
	}
	return l
}

// Available 元数据服务是否可达，只检测一次
func (l *Loader) Available(ctx context.Context) bool {
	l.once.Do(func() {
		l.reachable = l.checkConnectivity(ctx)
	})
	return l.reachable
}

func (l *Loader) checkConnectivity(ctx context.Context) bool {
	u, err := url.Parse(l.baseURL)
	if err != nil {
		l.logger.Warn("invalid metadata service url", zap.String("url", l.baseURL), zap.Error(err))
		return false
	}
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "80")
	}

	dialer := &net.Dialer{Timeout: l.dialTimeout}
	for i := 1; i <= l.tries; i++ {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			return true
		}
		l.logger.Debug("metadata service not reachable, retry",
			zap.String("addr", addr), zap.Int("attempt", i), zap.Int("tries", l.tries))

		if i < l.tries {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(l.retryInterval):
			}
		}
	}
	l.logger.Warn("cannot connect to metadata service", zap.String("addr", addr))
	return false
}

func (l *Loader) get(ctx context.Context, path string) ([]byte, error) {
	resp, err := l.doer.Do(ctx, &httpclient.Request{URL: l.baseURL + path})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Metadata 读取 meta-data/{path}
func (l *Loader) Metadata(ctx context.Context, path string) (string, bool) {
	if !l.Available(ctx) {
		return "", false
	}
	body, err := l.get(ctx, "meta-data/"+path)
	if err != nil {
		l.logger.Debug("load metadata failed", zap.String("path", path), zap.Error(err))
		return "", false
	}
	return strings.TrimSpace(string(body)), true
}

// IdentityDocument 读取 dynamic/instance-identity/document
func (l *Loader) IdentityDocument(ctx context.Context) (gjson.Result, bool) {
	if !l.Available(ctx) {
		return gjson.Result{}, false
	}
	body, err := l.get(ctx, "dynamic/instance-identity/document")
	if err != nil {
		l.logger.Warn("load instance identity document failed", zap.Error(err))
		return gjson.Result{}, false
	}
	if !gjson.ValidBytes(body) {
		l.logger.Warn("instance identity document is not valid json")
		return gjson.Result{}, false
	}
	return gjson.ParseBytes(body), true
}

// LoadAll 读取注册时需要的全部元数据，读取失败的键值为空字符串
func (l *Loader) LoadAll(ctx context.Context) map[string]string {
	if !l.Available(ctx) {
		return map[string]string{}
	}

	value := func(path string) string {
		v, _ := l.Metadata(ctx, path)
		return v
	}

	mac := value("mac")
	vpcID := ""
	if mac != "" {
		vpcID = value("network/interfaces/macs/" + mac + "/vpc-id")
	}

	md := map[string]string{
		KeyInstanceID:       value("instance-id"),
		KeyAmiID:            value("ami-id"),
		KeyInstanceType:     value("instance-type"),
		KeyLocalIPv4:        value("local-ipv4"),
		KeyLocalHostname:    value("local-hostname"),
		KeyAvailabilityZone: value("placement/availability-zone"),
		KeyPublicHostname:   value("public-hostname"),
		KeyPublicIPv4:       value("public-ipv4"),
		KeyMac:              mac,
		KeyVpcID:            vpcID,
	}

	if doc, ok := l.IdentityDocument(ctx); ok {
		if account := doc.Get("accountId"); account.Exists() {
			md[KeyAccountID] = account.String()
		}
	}
	return md
}
