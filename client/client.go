package client

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xsxdot/eureka-client/pkg/common"
	"github.com/xsxdot/eureka-client/pkg/dnstxt"
	"github.com/xsxdot/eureka-client/pkg/ec2meta"
	"github.com/xsxdot/eureka-client/pkg/httpclient"
	"github.com/xsxdot/eureka-client/pkg/registry"
	"github.com/xsxdot/eureka-client/pkg/scheduler"
	"github.com/xsxdot/eureka-client/pkg/utils"
)

const (
	heartbeatTaskName = "eureka-heartbeat"
	fullSyncTaskName  = "eureka-full-sync"
)

// ErrNotStarted 客户端尚未启动或未开启注册
var ErrNotStarted = errors.New("eureka client is not started or registration is disabled")

// Client Eureka 客户端：注册本实例、维持续约、同步注册表并提供实例选择
type Client struct {
	cfg    *Config
	logger *zap.Logger

	doer     httpclient.Doer
	resolver dnstxt.Resolver
	ec2      EC2MetadataLoader
	onError  ErrorHandler
	rnd      *rand.Rand

	topology  *ServerTopology
	failover  *ConnectionFailover
	api       *eurekaAPI
	syncer    *SyncEngine
	selector  *Selector
	limiter   *rate.Limiter
	scheduler *scheduler.Scheduler

	mu        sync.Mutex
	lifecycle *Lifecycle
	started   bool
	stopped   bool
}

// Option 客户端选项
type Option func(*Client)

// WithLogger 指定日志
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient 指定HTTP客户端，同时用于访问注册中心和调用服务实例
func WithHTTPClient(doer httpclient.Doer) Option {
	return func(c *Client) {
		c.doer = doer
	}
}

// WithDNSResolver 指定TXT记录解析器
func WithDNSResolver(resolver dnstxt.Resolver) Option {
	return func(c *Client) {
		c.resolver = resolver
	}
}

// WithEC2Loader 指定EC2元数据加载器
func WithEC2Loader(loader EC2MetadataLoader) Option {
	return func(c *Client) {
		c.ec2 = loader
	}
}

// WithErrorHandler 后台任务出错时的回调
func WithErrorHandler(handler ErrorHandler) Option {
	return func(c *Client) {
		c.onError = handler
	}
}

// WithRand 指定实例选择使用的随机源
func WithRand(rnd *rand.Rand) Option {
	return func(c *Client) {
		c.rnd = rnd
	}
}

// New 校验配置并创建客户端。使用DNS发现注册中心时会在这里完成解析
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	copied := *cfg
	cfg = &copied
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:    cfg,
		logger: common.GetLogger().GetZapLogger("eureka-client"),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.doer == nil {
		c.doer = httpclient.New(httpclient.WithTimeout(cfg.RequestTimeout))
	}
	if cfg.EurekaDomain != "" && c.resolver == nil {
		resolver, err := dnstxt.New(dnstxt.WithServers(cfg.DNSServers...), dnstxt.WithLogger(c.logger.Named("dns")))
		if err != nil {
			return nil, registry.NewRegistryErrorWithCause(registry.ErrCodeInvalidConfig, "create dns resolver failed", err)
		}
		c.resolver = resolver
	}
	if cfg.DataCenterName == registry.DataCenterAmazon && c.ec2 == nil {
		ec2Opts := []ec2meta.Option{ec2meta.WithHTTPClient(c.doer), ec2meta.WithLogger(c.logger.Named("ec2"))}
		if cfg.EC2MetadataURL != "" {
			ec2Opts = append(ec2Opts, ec2meta.WithBaseURL(cfg.EC2MetadataURL))
		}
		c.ec2 = ec2meta.NewLoader(ec2Opts...)
	}

	topology, err := NewServerTopology(context.Background(), cfg, c.resolver)
	if err != nil {
		return nil, err
	}
	c.topology = topology
	c.logger.Info("注册中心拓扑",
		zap.String("home_zone", topology.HomeZone()),
		zap.Strings("zones", topology.Zones()),
		zap.Int("servers", len(topology.Servers())))

	strategy, err := ParseHAStrategy(cfg.HAStrategy)
	if err != nil {
		return nil, invalidConfig("%v", err)
	}
	zone := cfg.Zone
	if zone == "" {
		zone = topology.HomeZone()
	}

	c.failover = NewConnectionFailover(topology, cfg.PreferSameZone, c.logger.Named("failover"))
	c.api = newEurekaAPI(c.doer, cfg.RequestTimeout)
	c.syncer = newSyncEngine(c.api, c.failover, cfg.RemoteRegions, cfg.ShouldDiscover, c.onError, c.logger.Named("sync"))
	c.selector = NewSelector(strategy, zone, cfg.PreferSameZone, c.rnd)
	if cfg.WalkRateLimit > 0 {
		burst := cfg.WalkRateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.WalkRateLimit), burst)
	}
	c.scheduler = scheduler.NewScheduler(scheduler.WithLogger(c.logger.Named("scheduler")))
	return c, nil
}

// Start 注册本实例、拉取全量注册表并启动后台续约任务。
// 注册或拉取失败只通过回调报告，客户端继续按周期重试
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("eureka client already started")
	}
	c.started = true
	c.mu.Unlock()

	if c.cfg.ShouldRegister {
		ins, err := buildInstance(ctx, c.cfg, addressResolver{outboundIP: c.outboundIP}, c.ec2)
		if err != nil {
			return err
		}
		lifecycle := newLifecycle(c.api, c.failover, newInstanceDraft(ins), c.onError, c.logger.Named("lifecycle"))
		c.mu.Lock()
		c.lifecycle = lifecycle
		c.mu.Unlock()

		_ = lifecycle.Register(ctx, registry.StatusUp, registry.StatusUnknown)
	}
	if c.cfg.ShouldDiscover {
		_ = c.syncer.PullFull(ctx)
	}

	interval := time.Duration(c.cfg.RenewalIntervalInSecs) * time.Second
	heartbeat := scheduler.NewIntervalTask(heartbeatTaskName, time.Now().Add(interval), interval, interval, c.tick)
	if err := c.scheduler.AddTask(heartbeat); err != nil {
		return err
	}
	if c.cfg.FullSyncCron != "" {
		task, err := scheduler.NewCronTask(fullSyncTaskName, c.cfg.FullSyncCron, interval, c.syncer.PullFull)
		if err != nil {
			return invalidConfig("%v", err)
		}
		if err := c.scheduler.AddTask(task); err != nil {
			return err
		}
	}
	if err := c.scheduler.Start(); err != nil {
		return err
	}

	c.logger.Info("eureka client started",
		zap.Bool("register", c.cfg.ShouldRegister),
		zap.Bool("discover", c.cfg.ShouldDiscover),
		zap.Duration("renewal_interval", interval))
	return nil
}

// tick 续约后拉取增量，两者顺序执行
func (c *Client) tick(ctx context.Context) error {
	var errs []error
	if lifecycle := c.getLifecycle(); lifecycle != nil {
		errs = append(errs, lifecycle.SendHeartbeat(ctx))
	}
	if c.cfg.ShouldDiscover {
		errs = append(errs, c.syncer.FetchDelta(ctx))
	}
	return errors.Join(errs...)
}

// Stop 停止后台任务，已注册时先把状态改为DOWN再注销
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	lifecycle := c.lifecycle
	c.mu.Unlock()

	c.scheduler.Stop()

	if lifecycle == nil || !lifecycle.Registered() {
		c.logger.Info("eureka client stopped")
		return nil
	}

	_ = lifecycle.StatusUpdate(ctx, registry.StatusDown)
	err := lifecycle.Cancel(ctx)
	c.logger.Info("eureka client stopped", zap.Error(err))
	return err
}

func (c *Client) getLifecycle() *Lifecycle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lifecycle
}

// outboundIP 通过到注册中心的路由取本地出口地址
func (c *Client) outboundIP(ctx context.Context) (string, error) {
	var ip string
	err := c.failover.Execute(ctx, func(ctx context.Context, serverURL string) error {
		out, err := utils.GetOutboundIP(serverURL)
		if err != nil {
			return common.NewUnavailableError("probe outbound ip failed", err)
		}
		ip = out
		return nil
	})
	return ip, err
}

// Config 客户端使用的配置副本
func (c *Client) Config() Config {
	return *c.cfg
}

// Topology 注册中心拓扑
func (c *Client) Topology() *ServerTopology {
	return c.topology
}

// State 注册状态，未开启注册时为 UNREGISTERED
func (c *Client) State() LifecycleState {
	if lifecycle := c.getLifecycle(); lifecycle != nil {
		return lifecycle.State()
	}
	return StateUnregistered
}

// Instance 本实例注册信息的快照
func (c *Client) Instance() (*registry.Instance, bool) {
	lifecycle := c.getLifecycle()
	if lifecycle == nil {
		return nil, false
	}
	return lifecycle.draft.snapshot(), true
}

// StatusUpdate 修改本实例状态
func (c *Client) StatusUpdate(ctx context.Context, status registry.Status) error {
	lifecycle := c.getLifecycle()
	if lifecycle == nil {
		return ErrNotStarted
	}
	return lifecycle.StatusUpdate(ctx, status)
}

// DeleteStatusOverride 删除服务端的覆盖状态
func (c *Client) DeleteStatusOverride(ctx context.Context) error {
	lifecycle := c.getLifecycle()
	if lifecycle == nil {
		return ErrNotStarted
	}
	return lifecycle.DeleteStatusOverride(ctx)
}

// Applications 本地注册表
func (c *Client) Applications(ctx context.Context) (*registry.Applications, error) {
	return c.syncer.Applications(ctx)
}

// Pick 选择应用的一个可用实例，没有可用实例时返回nil
func (c *Client) Pick(ctx context.Context, appName string, exclude ...string) (*registry.Instance, error) {
	apps, err := c.Applications(ctx)
	if err != nil {
		return nil, err
	}
	return c.selector.Pick(apps, appName, exclude...), nil
}

// GetVIP 直接查询注册中心中某个VIP下的应用
func (c *Client) GetVIP(ctx context.Context, vip string) (*registry.Applications, error) {
	var out *registry.Applications
	err := c.failover.Execute(ctx, func(ctx context.Context, serverURL string) error {
		apps, err := c.api.getVIP(ctx, serverURL, vip, c.cfg.RemoteRegions)
		if err == nil {
			out = apps
		}
		return err
	})
	return out, err
}

// GetSecureVIP 直接查询注册中心中某个安全VIP下的应用
func (c *Client) GetSecureVIP(ctx context.Context, svip string) (*registry.Applications, error) {
	var out *registry.Applications
	err := c.failover.Execute(ctx, func(ctx context.Context, serverURL string) error {
		apps, err := c.api.getSecureVIP(ctx, serverURL, svip, c.cfg.RemoteRegions)
		if err == nil {
			out = apps
		}
		return err
	})
	return out, err
}

// GetApplication 直接查询注册中心中的应用
func (c *Client) GetApplication(ctx context.Context, appName string) (*registry.Application, error) {
	var out *registry.Application
	err := c.failover.Execute(ctx, func(ctx context.Context, serverURL string) error {
		app, err := c.api.getApplication(ctx, serverURL, appName)
		if err == nil {
			out = app
		}
		return err
	})
	return out, err
}

// GetAppInstance 直接查询注册中心中应用的某个实例
func (c *Client) GetAppInstance(ctx context.Context, appName, instanceID string) (*registry.Instance, error) {
	var out *registry.Instance
	err := c.failover.Execute(ctx, func(ctx context.Context, serverURL string) error {
		ins, err := c.api.getAppInstance(ctx, serverURL, appName, instanceID)
		if err == nil {
			out = ins
		}
		return err
	})
	return out, err
}

// GetInstance 按实例ID直接查询注册中心
func (c *Client) GetInstance(ctx context.Context, instanceID string) (*registry.Instance, error) {
	var out *registry.Instance
	err := c.failover.Execute(ctx, func(ctx context.Context, serverURL string) error {
		ins, err := c.api.getInstance(ctx, serverURL, instanceID)
		if err == nil {
			out = ins
		}
		return err
	})
	return out, err
}
