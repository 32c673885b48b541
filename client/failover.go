package client

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/xsxdot/eureka-client/pkg/httpclient"
	"github.com/xsxdot/eureka-client/pkg/registry"
)

// ServerOperation 针对单个注册中心节点执行的操作
type ServerOperation func(ctx context.Context, serverURL string) error

// ConnectionFailover 在注册中心节点之间依次尝试，记住每个可用区最近一次成功的节点
type ConnectionFailover struct {
	topology       *ServerTopology
	preferSameZone bool
	logger         *zap.Logger

	mu    sync.Mutex
	cache map[string]string // zone -> 最近成功的节点
}

// NewConnectionFailover 创建故障转移器
func NewConnectionFailover(topology *ServerTopology, preferSameZone bool, logger *zap.Logger) *ConnectionFailover {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionFailover{
		topology:       topology,
		preferSameZone: preferSameZone,
		logger:         logger,
		cache:          make(map[string]string),
	}
}

// Execute 执行操作直到有节点成功。
// 先尝试所有已缓存的节点，全部失败后按可用区顺序逐个尝试；只有传输错误和HTTP状态码错误才会切换节点
func (f *ConnectionFailover) Execute(ctx context.Context, op ServerOperation) error {
	var lastErr error

	cached := f.cachedServers()
	if len(cached) > 0 {
		succeeded := false
		for _, zone := range sortedKeys(cached) {
			serverURL := cached[zone]
			err := op(ctx, serverURL)
			if err == nil {
				succeeded = true
				continue
			}
			if !f.shouldFailover(ctx, err) {
				return err
			}
			f.logger.Warn("缓存的注册中心节点不可用",
				zap.String("zone", zone), zap.String("url", serverURL), zap.Error(err))
			f.evict(zone, serverURL)
			lastErr = err
		}
		if succeeded {
			return nil
		}
	}

	for _, zone := range f.zoneOrder() {
		err := f.tryZone(ctx, zone, op)
		if err == nil {
			return nil
		}
		if !f.shouldFailover(ctx, err) {
			return err
		}
		lastErr = err
	}

	return registry.NewRegistryErrorWithCause(registry.ErrCodeConnectivityExhausted,
		"no eureka server is reachable", lastErr)
}

// tryZone 按顺序尝试可用区内的节点，第一个成功的节点写入缓存；失败的节点若仍在缓存中则清除
func (f *ConnectionFailover) tryZone(ctx context.Context, zone string, op ServerOperation) error {
	var lastErr error
	for _, serverURL := range f.topology.ZoneServers(zone) {
		err := op(ctx, serverURL)
		if err == nil {
			f.remember(zone, serverURL)
			return nil
		}
		if !f.shouldFailover(ctx, err) {
			return err
		}
		f.logger.Warn("注册中心节点请求失败，尝试下一个",
			zap.String("zone", zone), zap.String("url", serverURL), zap.Error(err))
		f.evict(zone, serverURL)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("zone " + zone + " has no server")
	}
	return lastErr
}

// zoneOrder 同区优先时本区排第一，否则完全按配置顺序
func (f *ConnectionFailover) zoneOrder() []string {
	zones := f.topology.Zones()
	if !f.preferSameZone {
		return zones
	}
	home := f.topology.HomeZone()
	order := []string{home}
	for _, z := range zones {
		if z != home {
			order = append(order, z)
		}
	}
	return order
}

func (f *ConnectionFailover) shouldFailover(ctx context.Context, err error) bool {
	return ctx.Err() == nil && httpclient.IsHTTPError(err)
}

func (f *ConnectionFailover) cachedServers() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.cache))
	for k, v := range f.cache {
		out[k] = v
	}
	return out
}

func (f *ConnectionFailover) remember(zone, serverURL string) {
	f.mu.Lock()
	f.cache[zone] = serverURL
	f.mu.Unlock()
	f.logger.Debug("记录可用的注册中心节点", zap.String("zone", zone), zap.String("url", serverURL))
}

// evict 只有缓存的仍是失败的节点时才删除，其他调用方刚写入的可用节点保持不变
func (f *ConnectionFailover) evict(zone, serverURL string) {
	f.mu.Lock()
	if f.cache[zone] == serverURL {
		delete(f.cache, zone)
	}
	f.mu.Unlock()
}

// CachedServer 可用区当前缓存的节点
func (f *ConnectionFailover) CachedServer(zone string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.cache[zone]
	return u, ok
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
