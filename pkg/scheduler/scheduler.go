package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xsxdot/eureka-client/pkg/common"
)

// ErrSchedulerStopped 调度器已停止，不能再次启动
var ErrSchedulerStopped = errors.New("调度器已停止")

// Scheduler 本地任务调度器。
// 单个工作协程按下次执行时间依次执行任务，任务执行结束后才计算下次执行时间，
// 因此同一任务不会重叠执行，错过的执行点也不会补跑。
type Scheduler struct {
	logger *zap.Logger

	taskHeap *TaskHeap
	wakeup   chan struct{}

	curMu   sync.Mutex
	current Task

	running atomic.Bool
	stopped atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stats *SchedulerStats
}

// SchedulerStats 调度器统计信息
type SchedulerStats struct {
	mu              sync.RWMutex
	TotalTasks      int64     `json:"total_tasks"`
	CompletedRuns   int64     `json:"completed_runs"`
	FailedRuns      int64     `json:"failed_runs"`
	PanickedRuns    int64     `json:"panicked_runs"`
	LastExecuteTime time.Time `json:"last_execute_time"`
}

// Option 调度器选项
type Option func(*Scheduler)

// WithLogger 指定日志
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScheduler 创建调度器
func NewScheduler(opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		logger:   common.GetLogger().GetZapLogger("scheduler"),
		taskHeap: NewTaskHeap(),
		wakeup:   make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		stats:    &SchedulerStats{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start 启动工作协程。Stop 之后不能再次启动
func (s *Scheduler) Start() error {
	if s.stopped.Load() {
		return ErrSchedulerStopped
	}
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler already running")
	}

	s.logger.Debug("调度器已启动", zap.Int("tasks", s.taskHeap.Len()))
	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop 停止调度器并等待正在执行的任务结束
func (s *Scheduler) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.running.Store(false)
	s.logger.Debug("调度器已停止")
}

// IsRunning 是否在运行
func (s *Scheduler) IsRunning() bool {
	return s.running.Load() && !s.stopped.Load()
}

// AddTask 添加任务，启动前后均可调用
func (s *Scheduler) AddTask(task Task) error {
	if task == nil {
		return fmt.Errorf("task is nil")
	}
	if s.stopped.Load() {
		return ErrSchedulerStopped
	}

	s.taskHeap.Push(task)
	s.stats.incr(&s.stats.TotalTasks)
	s.logger.Debug("添加任务",
		zap.String("task", task.GetName()),
		zap.String("id", task.GetID()),
		zap.Stringer("kind", task.GetKind()),
		zap.Time("next", task.GetNextTime()))
	s.notify()
	return nil
}

// RemoveTask 移除任务。正在执行的任务执行完后不再放回
func (s *Scheduler) RemoveTask(taskID string) bool {
	s.curMu.Lock()
	if s.current != nil && s.current.GetID() == taskID {
		s.current.Cancel()
		s.curMu.Unlock()
		return true
	}
	s.curMu.Unlock()

	removed := s.taskHeap.Remove(taskID)
	if removed {
		s.logger.Debug("移除任务", zap.String("id", taskID))
		s.notify()
	}
	return removed
}

// ListTasks 等待中的任务
func (s *Scheduler) ListTasks() []Task {
	return s.taskHeap.List()
}

// GetStats 统计信息副本
func (s *Scheduler) GetStats() *SchedulerStats {
	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()
	return &SchedulerStats{
		TotalTasks:      s.stats.TotalTasks,
		CompletedRuns:   s.stats.CompletedRuns,
		FailedRuns:      s.stats.FailedRuns,
		PanickedRuns:    s.stats.PanickedRuns,
		LastExecuteTime: s.stats.LastExecuteTime,
	}
}

func (s *Scheduler) notify() {
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		if s.ctx.Err() != nil {
			return
		}

		if task := s.taskHeap.PopReady(time.Now()); task != nil {
			s.runTask(task)
			continue
		}

		wait := time.Hour
		if next := s.taskHeap.Peek(); next != nil {
			wait = time.Until(next.GetNextTime())
		}
		timer.Reset(wait)

		select {
		case <-s.ctx.Done():
			return
		case <-s.wakeup:
		case <-timer.C:
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// runTask 执行任务。任务上下文不继承调度器上下文，Stop 不会打断执行中的任务
func (s *Scheduler) runTask(task Task) {
	if task.IsCanceled() {
		return
	}

	s.curMu.Lock()
	s.current = task
	s.curMu.Unlock()
	defer func() {
		s.curMu.Lock()
		s.current = nil
		s.curMu.Unlock()
	}()

	start := time.Now()
	s.stats.setLastExecuteTime(start)

	ctx, cancel := context.WithTimeout(context.Background(), task.GetTimeout())
	err := s.safeExecute(ctx, task)
	cancel()

	finished := time.Now()
	if err != nil {
		s.stats.incr(&s.stats.FailedRuns)
		s.logger.Warn("任务执行失败",
			zap.String("task", task.GetName()),
			zap.Duration("cost", finished.Sub(start)),
			zap.Error(err))
	} else {
		s.stats.incr(&s.stats.CompletedRuns)
		s.logger.Debug("任务执行成功",
			zap.String("task", task.GetName()),
			zap.Duration("cost", finished.Sub(start)))
	}

	s.curMu.Lock()
	defer s.curMu.Unlock()
	if task.IsCanceled() || s.stopped.Load() {
		return
	}
	task.Reschedule(finished)
	s.taskHeap.Push(task)
}

func (s *Scheduler) safeExecute(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.stats.incr(&s.stats.PanickedRuns)
			err = fmt.Errorf("task %s panicked: %v", task.GetName(), r)
		}
	}()
	return task.Execute(ctx)
}

func (st *SchedulerStats) incr(counter *int64) {
	st.mu.Lock()
	*counter++
	st.mu.Unlock()
}

func (st *SchedulerStats) setLastExecuteTime(t time.Time) {
	st.mu.Lock()
	st.LastExecuteTime = t
	st.mu.Unlock()
}
