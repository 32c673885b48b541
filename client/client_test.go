package client

import (
	"context"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xsxdot/eureka-client/pkg/httpclient"
	"github.com/xsxdot/eureka-client/pkg/registry"
)

const ordersID = "orders-1.local:orders:9090"

type errorLog struct {
	mu    sync.Mutex
	kinds []ErrorKind
}

func (l *errorLog) handle(kind ErrorKind, _ error) {
	l.mu.Lock()
	l.kinds = append(l.kinds, kind)
	l.mu.Unlock()
}

func (l *errorLog) list() []ErrorKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ErrorKind(nil), l.kinds...)
}

func testConfig(servers ...string) *Config {
	cfg := DefaultConfig()
	cfg.EurekaServer = strings.Join(servers, ",")
	cfg.AppName = "orders"
	cfg.InstanceHost = "orders-1.local"
	cfg.InstanceIP = "10.0.0.5"
	cfg.RenewalIntervalInSecs = 60
	cfg.DurationInSecs = 90
	return cfg
}

func newTestClient(t *testing.T, cfg *Config, opts ...Option) (*Client, *errorLog) {
	t.Helper()
	errs := &errorLog{}
	opts = append([]Option{
		WithLogger(zap.NewNop()),
		WithHTTPClient(httpclient.New()),
		WithErrorHandler(errs.handle),
		WithRand(rand.New(rand.NewSource(1))),
	}, opts...)
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	return c, errs
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig("http://a:8761/eureka/")
	cfg.HAStrategy = "FASTEST"
	_, err := New(cfg)
	assert.Equal(t, registry.ErrCodeInvalidConfig, registry.GetErrorCode(err))

	cfg = testConfig("http:///eureka")
	_, err = New(cfg)
	assert.Equal(t, registry.ErrCodeInvalidConfig, registry.GetErrorCode(err))
}

func TestStartRegistersAndStopCancels(t *testing.T) {
	srv := newFakeEureka(t)
	c, errs := newTestClient(t, testConfig(srv.URL()))

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, StateAlive, c.State())

	reqs := srv.takeRequests()
	require.Len(t, reqs, 2)
	register := reqs[0]
	assert.Equal(t, http.MethodPost, register.Method)
	assert.Equal(t, "apps/ORDERS", register.Path)

	var body map[string]map[string]any
	require.NoError(t, jsoniter.Unmarshal(register.Body, &body))
	ins := body["instance"]
	assert.Equal(t, "ORDERS", ins["app"])
	assert.Equal(t, ordersID, ins["instanceId"])
	assert.Equal(t, "UP", ins["status"])
	port := ins["port"].(map[string]any)
	assert.EqualValues(t, 9090, port["$"])
	assert.Equal(t, "true", port["@enabled"])

	assert.Equal(t, http.MethodGet, reqs[1].Method)
	assert.Equal(t, "apps/", reqs[1].Path)

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, StateUnregistered, c.State())

	reqs = srv.takeRequests()
	require.Len(t, reqs, 2)
	assert.Equal(t, http.MethodPut, reqs[0].Method)
	assert.Equal(t, "apps/ORDERS/"+ordersID+"/status", reqs[0].Path)
	assert.Equal(t, "DOWN", reqs[0].Query.Get("value"))
	assert.NotEmpty(t, reqs[0].Query.Get("lastDirtyTimestamp"))
	assert.Equal(t, http.MethodDelete, reqs[1].Method)
	assert.Equal(t, "apps/ORDERS/"+ordersID, reqs[1].Path)

	assert.Empty(t, errs.list())

	// 重复 Stop 不再发请求
	require.NoError(t, c.Stop(context.Background()))
	assert.Empty(t, srv.takeRequests())
}

func TestStartKeepsRunningWhenServerDown(t *testing.T) {
	srv := newFakeEureka(t)
	srv.setDown(true)
	c, errs := newTestClient(t, testConfig(srv.URL()))

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, StateDead, c.State())
	assert.Equal(t, []ErrorKind{ErrorRegister, ErrorDiscover}, errs.list())

	// 从未注册成功时 Stop 不发送注销
	srv.takeRequests()
	require.NoError(t, c.Stop(context.Background()))
	assert.Empty(t, srv.takeRequests())
}

func TestHeartbeat(t *testing.T) {
	srv := newFakeEureka(t)
	c, errs := newTestClient(t, testConfig(srv.URL()))
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	srv.takeRequests()

	lifecycle := c.getLifecycle()
	require.NoError(t, lifecycle.SendHeartbeat(context.Background()))
	reqs := srv.takeRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPut, reqs[0].Method)
	assert.Equal(t, "apps/ORDERS/"+ordersID, reqs[0].Path)
	assert.Equal(t, "UP", reqs[0].Query.Get("status"))
	assert.False(t, reqs[0].Query.Has("overriddenstatus"))
	assert.NotEmpty(t, reqs[0].Query.Get("lastDirtyTimestamp"))

	// 续约404：缓存地址失败后从头重试一次，报告错误并立即重新注册
	srv.setStatus(http.MethodPut, "apps/ORDERS/"+ordersID, http.StatusNotFound)
	require.NoError(t, lifecycle.SendHeartbeat(context.Background()))
	reqs = srv.takeRequests()
	require.Len(t, reqs, 3)
	assert.Equal(t, http.MethodPut, reqs[0].Method)
	assert.Equal(t, http.MethodPut, reqs[1].Method)
	assert.Equal(t, http.MethodPost, reqs[2].Method)
	assert.Equal(t, "apps/ORDERS", reqs[2].Path)
	assert.Equal(t, StateAlive, c.State())
	assert.Equal(t, []ErrorKind{ErrorStatusUpdate}, errs.list())
}

func TestHeartbeatSendsOverriddenStatusWhenSet(t *testing.T) {
	srv := newFakeEureka(t)
	c, _ := newTestClient(t, testConfig(srv.URL()))
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })

	lifecycle := c.getLifecycle()
	require.NoError(t, lifecycle.Register(context.Background(), registry.StatusUp, registry.StatusOutOfService))
	srv.takeRequests()

	require.NoError(t, lifecycle.SendHeartbeat(context.Background()))
	reqs := srv.takeRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "OUT_OF_SERVICE", reqs[0].Query.Get("overriddenstatus"))
}

func TestHeartbeatFailureReregistersAsUp(t *testing.T) {
	srv := newFakeEureka(t)
	c, _ := newTestClient(t, testConfig(srv.URL()))
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })

	require.NoError(t, c.StatusUpdate(context.Background(), registry.StatusOutOfService))
	srv.takeRequests()

	srv.setStatus(http.MethodPut, "apps/ORDERS/"+ordersID, http.StatusNotFound)
	require.NoError(t, c.getLifecycle().SendHeartbeat(context.Background()))

	reqs := srv.takeRequests()
	require.NotEmpty(t, reqs)
	register := reqs[len(reqs)-1]
	require.Equal(t, http.MethodPost, register.Method)
	assert.Equal(t, "apps/ORDERS", register.Path)

	var body map[string]map[string]any
	require.NoError(t, jsoniter.Unmarshal(register.Body, &body))
	assert.Equal(t, "UP", body["instance"]["status"])
	assert.Equal(t, "UNKNOWN", body["instance"]["overriddenstatus"])

	ins, ok := c.Instance()
	require.True(t, ok)
	assert.Equal(t, registry.StatusUp, ins.Status)
}

func TestHeartbeatRegistersWhenNotAlive(t *testing.T) {
	srv := newFakeEureka(t)
	srv.setDown(true)
	c, _ := newTestClient(t, testConfig(srv.URL()))
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	require.Equal(t, StateDead, c.State())

	srv.setDown(false)
	srv.takeRequests()
	require.NoError(t, c.tick(context.Background()))
	assert.Equal(t, StateAlive, c.State())
	assert.Equal(t, 1, srv.count(http.MethodPost, "apps/ORDERS"))
	assert.Equal(t, 0, srv.count(http.MethodPut, "apps/ORDERS/"+ordersID))
}

func TestStatusUpdateAndOverride(t *testing.T) {
	srv := newFakeEureka(t)
	c, errs := newTestClient(t, testConfig(srv.URL()))
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	srv.takeRequests()

	require.NoError(t, c.StatusUpdate(context.Background(), registry.StatusOutOfService))
	ins, ok := c.Instance()
	require.True(t, ok)
	assert.Equal(t, registry.StatusOutOfService, ins.Status)

	require.NoError(t, c.DeleteStatusOverride(context.Background()))
	reqs := srv.takeRequests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "OUT_OF_SERVICE", reqs[0].Query.Get("value"))
	assert.Equal(t, http.MethodDelete, reqs[1].Method)
	assert.Equal(t, "apps/ORDERS/"+ordersID+"/status", reqs[1].Path)

	srv.setStatus(http.MethodPut, "apps/ORDERS/"+ordersID+"/status", http.StatusInternalServerError)
	assert.Error(t, c.StatusUpdate(context.Background(), registry.StatusUp))
	assert.Equal(t, []ErrorKind{ErrorStatusUpdate}, errs.list())
}

func TestLifecycleMethodsRequireStart(t *testing.T) {
	cfg := testConfig("http://a:8761/eureka/")
	c, _ := newTestClient(t, cfg)
	assert.ErrorIs(t, c.StatusUpdate(context.Background(), registry.StatusDown), ErrNotStarted)
	assert.ErrorIs(t, c.DeleteStatusOverride(context.Background()), ErrNotStarted)
	_, ok := c.Instance()
	assert.False(t, ok)
}

func TestFailoverAcrossServers(t *testing.T) {
	a := newFakeEureka(t)
	b := newFakeEureka(t)
	a.setDown(true)

	c, errs := newTestClient(t, testConfig(a.URL(), b.URL()))
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })

	assert.Equal(t, StateAlive, c.State())
	assert.Equal(t, 1, b.count(http.MethodPost, "apps/ORDERS"))
	cached, ok := c.failover.CachedServer(registry.DefaultZone)
	require.True(t, ok)
	assert.Equal(t, strings.TrimSuffix(b.URL(), "/"), cached)
	assert.Empty(t, errs.list())
}

func TestQueryOperations(t *testing.T) {
	srv := newFakeEureka(t)
	cfg := testConfig(srv.URL())
	cfg.ShouldRegister = false
	cfg.RemoteRegions = []string{"eu-west-1", "ap-south-1"}
	c, _ := newTestClient(t, cfg)

	billing := testInstance("BILLING", "b1", "default", registry.StatusUp)
	srv.setDocument("vips/billing", appsXML("", "UP_1_", []*registry.Instance{billing}))
	srv.setDocument("svips/billing-secure", appsXML("", "UP_1_", []*registry.Instance{billing}))
	srv.setDocument("apps/BILLING", "<application><name>BILLING</name>"+instanceXML(billing)+"</application>")
	srv.setDocument("apps/BILLING/b1", instanceXML(billing))
	srv.setDocument("instances/b1", instanceXML(billing))

	ctx := context.Background()
	apps, err := c.GetVIP(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, 1, apps.GetApplication("billing").Len())

	apps, err = c.GetSecureVIP(ctx, "billing-secure")
	require.NoError(t, err)
	assert.Equal(t, 1, apps.InstanceCount())

	app, err := c.GetApplication(ctx, "BILLING")
	require.NoError(t, err)
	assert.Equal(t, "BILLING", app.Name())
	assert.NotNil(t, app.GetInstance("b1"))

	ins, err := c.GetAppInstance(ctx, "BILLING", "b1")
	require.NoError(t, err)
	assert.Equal(t, "b1.local", ins.HostName)

	ins, err = c.GetInstance(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", ins.ID())

	reqs := srv.takeRequests()
	require.NotEmpty(t, reqs)
	assert.Equal(t, "eu-west-1,ap-south-1", reqs[0].Query.Get("regions"))

	// 404 经过所有节点后报告不可达
	_, err = c.GetInstance(ctx, "missing")
	assert.Equal(t, registry.ErrCodeConnectivityExhausted, registry.GetErrorCode(err))
}
