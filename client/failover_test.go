package client

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xsxdot/eureka-client/pkg/common"
	"github.com/xsxdot/eureka-client/pkg/registry"
)

// scriptedOp 按地址决定成功或失败，并记录调用顺序
type scriptedOp struct {
	mu    sync.Mutex
	down  map[string]bool
	calls []string
}

func newScriptedOp(down ...string) *scriptedOp {
	op := &scriptedOp{down: make(map[string]bool)}
	op.setDown(down...)
	return op
}

func (o *scriptedOp) setDown(urls ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.down = make(map[string]bool)
	for _, u := range urls {
		o.down[u] = true
	}
}

func (o *scriptedOp) run(_ context.Context, serverURL string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, serverURL)
	if o.down[serverURL] {
		return common.NewUnavailableError("connection refused", errors.New("dial tcp: connection refused"))
	}
	return nil
}

func (o *scriptedOp) takeCalls() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.calls
	o.calls = nil
	return out
}

func newTestFailover(t *testing.T, cfg *Config) *ConnectionFailover {
	t.Helper()
	topo, err := NewServerTopology(context.Background(), cfg, nil)
	require.NoError(t, err)
	return NewConnectionFailover(topo, cfg.PreferSameZone, zap.NewNop())
}

const (
	serverA = "http://a:8761/eureka"
	serverB = "http://b:8761/eureka"
)

func TestFailoverCachesFirstSuccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EurekaServer = serverA + "," + serverB
	f := newTestFailover(t, cfg)

	op := newScriptedOp(serverA)
	require.NoError(t, f.Execute(context.Background(), op.run))
	assert.Equal(t, []string{serverA, serverB}, op.takeCalls())
	cached, ok := f.CachedServer(registry.DefaultZone)
	require.True(t, ok)
	assert.Equal(t, serverB, cached)

	// 缓存命中时直接使用B
	require.NoError(t, f.Execute(context.Background(), op.run))
	assert.Equal(t, []string{serverB}, op.takeCalls())

	// B失败：清除缓存并从A开始重试
	op.setDown(serverB)
	require.NoError(t, f.Execute(context.Background(), op.run))
	assert.Equal(t, []string{serverB, serverA}, op.takeCalls())
	cached, _ = f.CachedServer(registry.DefaultZone)
	assert.Equal(t, serverA, cached)
}

func TestFailoverExhausted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EurekaServer = serverA + "," + serverB
	f := newTestFailover(t, cfg)

	op := newScriptedOp(serverA, serverB)
	err := f.Execute(context.Background(), op.run)
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrConnectivityExhausted))
	assert.Equal(t, registry.ErrCodeConnectivityExhausted, registry.GetErrorCode(err))
	_, ok := f.CachedServer(registry.DefaultZone)
	assert.False(t, ok)
}

func TestFailoverPropagatesNonHTTPErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EurekaServer = serverA + "," + serverB
	f := newTestFailover(t, cfg)

	decodeErr := registry.NewRegistryError(registry.ErrCodeDecodeFailed, "bad xml")
	calls := 0
	err := f.Execute(context.Background(), func(context.Context, string) error {
		calls++
		return decodeErr
	})
	assert.Same(t, decodeErr, err)
	assert.Equal(t, 1, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls = 0
	err = f.Execute(ctx, func(ctx context.Context, _ string) error {
		calls++
		return common.NewTimeoutError("timeout", ctx.Err())
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, registry.IsRegistryError(err))
}

func TestFailoverZoneOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AvailabilityZones = map[string]ZoneURLs{
		"z1": {"http://z1:8761/eureka"},
		"z2": {"http://z2:8761/eureka"},
		"z3": {"http://z3:8761/eureka"},
	}
	cfg.AvailabilityZonesOrder = []string{"z1", "z2", "z3"}
	cfg.Zone = "z2"

	t.Run("prefer same zone", func(t *testing.T) {
		cfg.PreferSameZone = true
		f := newTestFailover(t, cfg)
		op := newScriptedOp("http://z2:8761/eureka", "http://z1:8761/eureka")
		require.NoError(t, f.Execute(context.Background(), op.run))
		assert.Equal(t, []string{
			"http://z2:8761/eureka",
			"http://z1:8761/eureka",
			"http://z3:8761/eureka",
		}, op.takeCalls())
		cached, ok := f.CachedServer("z3")
		assert.True(t, ok)
		assert.Equal(t, "http://z3:8761/eureka", cached)
	})

	t.Run("configuration order", func(t *testing.T) {
		cfg.PreferSameZone = false
		f := newTestFailover(t, cfg)
		op := newScriptedOp("http://z1:8761/eureka")
		require.NoError(t, f.Execute(context.Background(), op.run))
		assert.Equal(t, []string{"http://z1:8761/eureka", "http://z2:8761/eureka"}, op.takeCalls())
	})
}

func TestFailoverRunsEveryCachedZone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AvailabilityZones = map[string]ZoneURLs{
		"z1": {"http://z1:8761/eureka"},
		"z2": {"http://z2:8761/eureka"},
	}
	cfg.PreferSameZone = false
	f := newTestFailover(t, cfg)

	f.remember("z1", "http://z1:8761/eureka")
	f.remember("z2", "http://z2:8761/eureka")

	op := newScriptedOp("http://z1:8761/eureka")
	require.NoError(t, f.Execute(context.Background(), op.run))
	assert.ElementsMatch(t, []string{"http://z1:8761/eureka", "http://z2:8761/eureka"}, op.takeCalls())

	_, ok := f.CachedServer("z1")
	assert.False(t, ok)
	_, ok = f.CachedServer("z2")
	assert.True(t, ok)
}

func TestFailoverEvictKeepsNewerEntry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EurekaServer = serverA + "," + serverB
	f := newTestFailover(t, cfg)
	f.remember(registry.DefaultZone, serverA)

	// A 的请求失败前，另一个调用方已经把 B 写入缓存
	decodeErr := registry.NewRegistryError(registry.ErrCodeDecodeFailed, "bad xml")
	calls := 0
	err := f.Execute(context.Background(), func(_ context.Context, serverURL string) error {
		calls++
		if calls == 1 {
			assert.Equal(t, serverA, serverURL)
			f.remember(registry.DefaultZone, serverB)
			return common.NewUnavailableError("connection refused", errors.New("dial tcp: connection refused"))
		}
		return decodeErr
	})
	assert.Same(t, decodeErr, err)
	assert.Equal(t, 2, calls)

	cached, ok := f.CachedServer(registry.DefaultZone)
	require.True(t, ok)
	assert.Equal(t, serverB, cached)

	f.evict(registry.DefaultZone, serverA)
	cached, ok = f.CachedServer(registry.DefaultZone)
	require.True(t, ok)
	assert.Equal(t, serverB, cached)

	f.evict(registry.DefaultZone, serverB)
	_, ok = f.CachedServer(registry.DefaultZone)
	assert.False(t, ok)
}

func TestFailoverExhaustedZoneEvictsFailedServer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EurekaServer = serverA + "," + serverB
	f := newTestFailover(t, cfg)
	f.remember(registry.DefaultZone, serverB)

	op := newScriptedOp(serverA, serverB)
	require.Error(t, f.Execute(context.Background(), op.run))
	assert.Equal(t, []string{serverB, serverA, serverB}, op.takeCalls())
	_, ok := f.CachedServer(registry.DefaultZone)
	assert.False(t, ok)
}
