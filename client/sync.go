package client

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/xsxdot/eureka-client/pkg/registry"
)

// SyncEngine 维护本地注册表：全量拉取、增量合并与哈希校验
type SyncEngine struct {
	api      *eurekaAPI
	failover *ConnectionFailover
	regions  []string
	enabled  bool
	onError  ErrorHandler
	logger   *zap.Logger

	mu            sync.RWMutex
	live          *registry.Applications
	hasDelta      bool
	deltaVersions string
	deltaHash     string
}

func newSyncEngine(api *eurekaAPI, failover *ConnectionFailover, regions []string, enabled bool, onError ErrorHandler, logger *zap.Logger) *SyncEngine {
	return &SyncEngine{
		api:      api,
		failover: failover,
		regions:  append([]string(nil), regions...),
		enabled:  enabled,
		onError:  onError,
		logger:   logger,
	}
}

// Registry 当前注册表，尚未拉取时返回nil
func (e *SyncEngine) Registry() *registry.Applications {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.live
}

func (e *SyncEngine) replace(apps *registry.Applications) {
	versions, hash := apps.Fingerprint()
	e.mu.Lock()
	e.live = apps
	e.hasDelta = true
	e.deltaVersions = versions
	e.deltaHash = hash
	e.mu.Unlock()
}

func (e *SyncEngine) report(err error) {
	if e.onError != nil {
		e.onError(ErrorDiscover, err)
	}
}

// PullFull 拉取全量注册表并替换本地注册表
func (e *SyncEngine) PullFull(ctx context.Context) error {
	err := e.failover.Execute(ctx, func(ctx context.Context, serverURL string) error {
		apps, err := e.api.getApplications(ctx, serverURL, e.regions)
		if err != nil {
			return err
		}
		e.replace(apps)
		return nil
	})
	if err != nil {
		e.logger.Warn("拉取全量注册表失败", zap.Error(err))
		e.report(err)
		return err
	}

	if live := e.Registry(); live != nil {
		e.logger.Debug("全量注册表已更新",
			zap.Int("applications", live.Len()), zap.Int("instances", live.InstanceCount()))
	}
	return nil
}

// FetchDelta 拉取增量并合并；本地注册表为空时改为全量拉取，合并后哈希不一致时重新全量拉取
func (e *SyncEngine) FetchDelta(ctx context.Context) error {
	live := e.Registry()
	if live == nil || live.Len() == 0 {
		return e.PullFull(ctx)
	}

	var delta *registry.Applications
	err := e.failover.Execute(ctx, func(ctx context.Context, serverURL string) error {
		d, err := e.api.getDelta(ctx, serverURL, e.regions)
		if err != nil {
			return err
		}
		delta = d
		return nil
	})
	if err != nil {
		e.logger.Warn("拉取增量注册表失败", zap.Error(err))
		e.report(err)
		return err
	}

	if !e.applyDelta(live, delta) {
		return nil
	}

	_, remoteHash := delta.Fingerprint()
	if localHash := live.ComputeHash(); localHash != remoteHash {
		e.logger.Info("注册表哈希不一致，重新拉取全量",
			zap.String("local", localHash), zap.String("remote", remoteHash))
		return e.PullFull(ctx)
	}
	return nil
}

// applyDelta 合并增量，与上次增量指纹相同时不做任何修改。返回是否发生合并
func (e *SyncEngine) applyDelta(live, delta *registry.Applications) bool {
	versions, hash := delta.Fingerprint()

	e.mu.Lock()
	if e.hasDelta && e.deltaVersions == versions && e.deltaHash == hash {
		e.mu.Unlock()
		e.logger.Debug("增量未变化", zap.String("versions_delta", versions), zap.String("apps_hashcode", hash))
		return false
	}
	e.hasDelta = true
	e.deltaVersions = versions
	e.deltaHash = hash
	e.mu.Unlock()

	live.Merge(delta)
	live.SetFingerprint(hash, versions)
	e.logger.Debug("增量已合并", zap.String("versions_delta", versions), zap.Int("applications", delta.Len()))
	return true
}

// Applications 返回本地注册表，尚未拉取时同步拉取一次
func (e *SyncEngine) Applications(ctx context.Context) (*registry.Applications, error) {
	if !e.enabled {
		return nil, registry.NewRegistryError(registry.ErrCodeDiscoveryDisabled, "discovery is disabled")
	}
	if live := e.Registry(); live != nil {
		return live, nil
	}
	if err := e.PullFull(ctx); err != nil {
		return nil, err
	}
	return e.Registry(), nil
}
