package client

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/xsxdot/eureka-client/pkg/registry"
)

// ErrorKind 回调错误类型
type ErrorKind string

const (
	ErrorRegister     ErrorKind = "EUREKA_ERROR_REGISTER"
	ErrorDiscover     ErrorKind = "EUREKA_ERROR_DISCOVER"
	ErrorStatusUpdate ErrorKind = "EUREKA_ERROR_STATUS_UPDATE"
)

// ErrorHandler 后台任务出错时的回调
type ErrorHandler func(kind ErrorKind, err error)

// LifecycleState 注册状态
type LifecycleState int32

const (
	StateUnregistered LifecycleState = iota
	StateRegistering
	StateAlive
	StateDead
)

func (s LifecycleState) String() string {
	switch s {
	case StateUnregistered:
		return "UNREGISTERED"
	case StateRegistering:
		return "REGISTERING"
	case StateAlive:
		return "ALIVE"
	case StateDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// Lifecycle 负责本实例的注册、续约、状态变更与注销
type Lifecycle struct {
	api      *eurekaAPI
	failover *ConnectionFailover
	draft    *instanceDraft
	onError  ErrorHandler
	logger   *zap.Logger

	mu         sync.Mutex
	state      LifecycleState
	registered bool
}

func newLifecycle(api *eurekaAPI, failover *ConnectionFailover, draft *instanceDraft, onError ErrorHandler, logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		api:      api,
		failover: failover,
		draft:    draft,
		onError:  onError,
		logger:   logger,
		state:    StateUnregistered,
	}
}

// State 当前注册状态
func (l *Lifecycle) State() LifecycleState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Registered 是否曾经注册成功
func (l *Lifecycle) Registered() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.registered
}

func (l *Lifecycle) setState(s LifecycleState) {
	l.mu.Lock()
	old := l.state
	l.state = s
	if s == StateAlive {
		l.registered = true
	}
	l.mu.Unlock()
	if old != s {
		l.logger.Info("注册状态变更", zap.Stringer("from", old), zap.Stringer("to", s))
	}
}

func (l *Lifecycle) report(kind ErrorKind, err error) {
	if l.onError != nil {
		l.onError(kind, err)
	}
}

// Register 以指定状态注册本实例。overridden 为空时保留原值
func (l *Lifecycle) Register(ctx context.Context, status, overridden registry.Status) error {
	l.setState(StateRegistering)
	ins := l.draft.stamp(status, overridden)

	err := l.failover.Execute(ctx, func(ctx context.Context, serverURL string) error {
		return l.api.register(ctx, serverURL, ins)
	})
	if err != nil {
		l.setState(StateDead)
		l.logger.Warn("注册实例失败", zap.String("app", ins.App), zap.String("instance_id", ins.ID()), zap.Error(err))
		l.report(ErrorRegister, err)
		return err
	}

	l.setState(StateAlive)
	l.logger.Info("实例注册成功", zap.String("app", ins.App), zap.String("instance_id", ins.ID()),
		zap.String("status", string(ins.Status)))
	return nil
}

// reregister 以 UP 状态重新注册
func (l *Lifecycle) reregister(ctx context.Context) error {
	return l.Register(ctx, registry.StatusUp, registry.StatusUnknown)
}

// SendHeartbeat 发送续约。未处于 ALIVE 时改为注册；续约失败后立即重新注册
func (l *Lifecycle) SendHeartbeat(ctx context.Context) error {
	if l.State() != StateAlive {
		return l.reregister(ctx)
	}

	ins := l.draft.snapshot()
	err := l.failover.Execute(ctx, func(ctx context.Context, serverURL string) error {
		return l.api.sendHeartbeat(ctx, serverURL, ins.App, ins.ID(), ins.LastDirtyTimestamp, ins.Status, ins.OverriddenStatus)
	})
	if err == nil {
		l.logger.Debug("续约成功", zap.String("instance_id", ins.ID()))
		return nil
	}

	l.setState(StateDead)
	l.logger.Warn("续约失败，重新注册", zap.String("instance_id", ins.ID()), zap.Error(err))
	l.report(ErrorStatusUpdate, err)
	return l.reregister(ctx)
}

// StatusUpdate 修改本实例状态
func (l *Lifecycle) StatusUpdate(ctx context.Context, status registry.Status) error {
	ins := l.draft.setStatus(status)
	err := l.failover.Execute(ctx, func(ctx context.Context, serverURL string) error {
		return l.api.statusUpdate(ctx, serverURL, ins.App, ins.ID(), ins.LastDirtyTimestamp, status)
	})
	if err != nil {
		l.logger.Warn("更新实例状态失败", zap.String("instance_id", ins.ID()), zap.String("status", string(status)), zap.Error(err))
		l.report(ErrorStatusUpdate, err)
		return err
	}
	l.logger.Info("实例状态已更新", zap.String("instance_id", ins.ID()), zap.String("status", string(status)))
	return nil
}

// DeleteStatusOverride 删除服务端的覆盖状态
func (l *Lifecycle) DeleteStatusOverride(ctx context.Context) error {
	ins := l.draft.snapshot()
	err := l.failover.Execute(ctx, func(ctx context.Context, serverURL string) error {
		return l.api.deleteStatusOverride(ctx, serverURL, ins.App, ins.ID(), ins.LastDirtyTimestamp)
	})
	if err != nil {
		l.logger.Warn("删除覆盖状态失败", zap.String("instance_id", ins.ID()), zap.Error(err))
		l.report(ErrorStatusUpdate, err)
		return err
	}
	return nil
}

// Cancel 注销本实例，无论成功与否都进入 UNREGISTERED
func (l *Lifecycle) Cancel(ctx context.Context) error {
	ins := l.draft.snapshot()
	err := l.failover.Execute(ctx, func(ctx context.Context, serverURL string) error {
		return l.api.cancel(ctx, serverURL, ins.App, ins.ID())
	})
	l.setState(StateUnregistered)
	if err != nil {
		l.logger.Warn("注销实例失败", zap.String("instance_id", ins.ID()), zap.Error(err))
		l.report(ErrorStatusUpdate, err)
		return err
	}
	l.logger.Info("实例已注销", zap.String("app", ins.App), zap.String("instance_id", ins.ID()))
	return nil
}
