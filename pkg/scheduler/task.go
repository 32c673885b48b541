package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// DefaultTaskTimeout 任务未指定超时时使用
const DefaultTaskTimeout = 30 * time.Second

// TaskKind 任务类型
type TaskKind int

const (
	// TaskKindInterval 上一次执行结束后间隔固定时间再执行
	TaskKindInterval TaskKind = iota
	// TaskKindCron 按 cron 表达式执行
	TaskKindCron
)

func (k TaskKind) String() string {
	switch k {
	case TaskKindInterval:
		return "interval"
	case TaskKindCron:
		return "cron"
	default:
		return fmt.Sprintf("TaskKind(%d)", int(k))
	}
}

// TaskFunc 任务执行函数
type TaskFunc func(ctx context.Context) error

// Task 调度器中的周期任务
type Task interface {
	GetID() string
	GetName() string
	GetKind() TaskKind
	GetNextTime() time.Time
	GetTimeout() time.Duration

	// Execute 执行一次任务
	Execute(ctx context.Context) error

	// Reschedule 以执行结束时间为基准计算下次执行时间
	Reschedule(finished time.Time) time.Time

	// Cancel 取消任务，已取消的任务不会再被放回堆中
	Cancel()
	IsCanceled() bool

	// Runs 已执行次数
	Runs() int64
}

// BaseTask 任务的公共字段
type BaseTask struct {
	mu       sync.Mutex
	id       string
	name     string
	kind     TaskKind
	nextTime time.Time
	timeout  time.Duration
	fn       TaskFunc
	runs     int64
	canceled bool
}

func newBaseTask(name string, kind TaskKind, first time.Time, timeout time.Duration, fn TaskFunc) *BaseTask {
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	return &BaseTask{
		id:       uuid.New().String(),
		name:     name,
		kind:     kind,
		nextTime: first,
		timeout:  timeout,
		fn:       fn,
	}
}

func (t *BaseTask) GetID() string {
	return t.id
}

func (t *BaseTask) GetName() string {
	return t.name
}

func (t *BaseTask) GetKind() TaskKind {
	return t.kind
}

func (t *BaseTask) GetNextTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextTime
}

func (t *BaseTask) GetTimeout() time.Duration {
	return t.timeout
}

// Execute 执行任务函数并累加执行次数
func (t *BaseTask) Execute(ctx context.Context) error {
	t.mu.Lock()
	t.runs++
	t.mu.Unlock()

	if t.fn == nil {
		return nil
	}
	return t.fn(ctx)
}

func (t *BaseTask) Cancel() {
	t.mu.Lock()
	t.canceled = true
	t.mu.Unlock()
}

func (t *BaseTask) IsCanceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

func (t *BaseTask) Runs() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

func (t *BaseTask) setNextTime(next time.Time) time.Time {
	t.mu.Lock()
	t.nextTime = next
	t.mu.Unlock()
	return next
}

// IntervalTask 固定间隔任务。间隔从上一次执行结束开始计算，慢任务只会推迟后续执行，不会补跑
type IntervalTask struct {
	*BaseTask
	Interval time.Duration
}

// NewIntervalTask 创建固定间隔任务，首次执行时间为 first
func NewIntervalTask(name string, first time.Time, interval time.Duration, timeout time.Duration, fn TaskFunc) *IntervalTask {
	return &IntervalTask{
		BaseTask: newBaseTask(name, TaskKindInterval, first, timeout, fn),
		Interval: interval,
	}
}

// Reschedule 下次执行时间 = 结束时间 + 间隔
func (t *IntervalTask) Reschedule(finished time.Time) time.Time {
	return t.setNextTime(finished.Add(t.Interval))
}

// cronParser 支持秒字段的6段表达式以及 @every / @daily 等描述符
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// CronTask 基于 cron 表达式的任务
type CronTask struct {
	*BaseTask
	Expr     string
	schedule cron.Schedule
}

// ParseCron 校验 cron 表达式
func ParseCron(expr string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// NewCronTask 创建 cron 任务，首次执行时间为当前时间之后的第一个匹配点
func NewCronTask(name string, expr string, timeout time.Duration, fn TaskFunc) (*CronTask, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}
	return &CronTask{
		BaseTask: newBaseTask(name, TaskKindCron, schedule.Next(time.Now()), timeout, fn),
		Expr:     expr,
		schedule: schedule,
	}, nil
}

// Reschedule 下次执行时间为结束时间之后的第一个匹配点
func (t *CronTask) Reschedule(finished time.Time) time.Time {
	return t.setNextTime(t.schedule.Next(finished))
}
