package scheduler

import (
	"container/heap"
	"sync"
	"time"
)

// taskQueue 实现 heap.Interface，按下次执行时间排序
type taskQueue []Task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	return q[i].GetNextTime().Before(q[j].GetNextTime())
}

func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x any) {
	*q = append(*q, x.(Task))
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return task
}

// TaskHeap 线程安全的任务最小堆
type TaskHeap struct {
	mu    sync.Mutex
	queue taskQueue
}

// NewTaskHeap 创建空的任务堆
func NewTaskHeap() *TaskHeap {
	return &TaskHeap{}
}

// Push 加入任务
func (th *TaskHeap) Push(task Task) {
	th.mu.Lock()
	defer th.mu.Unlock()
	heap.Push(&th.queue, task)
}

// Peek 查看最早执行的任务，不移除
func (th *TaskHeap) Peek() Task {
	th.mu.Lock()
	defer th.mu.Unlock()
	if len(th.queue) == 0 {
		return nil
	}
	return th.queue[0]
}

// PopReady 如果堆顶任务已到执行时间则弹出
func (th *TaskHeap) PopReady(now time.Time) Task {
	th.mu.Lock()
	defer th.mu.Unlock()
	if len(th.queue) == 0 || now.Before(th.queue[0].GetNextTime()) {
		return nil
	}
	return heap.Pop(&th.queue).(Task)
}

// Remove 按ID移除任务
func (th *TaskHeap) Remove(taskID string) bool {
	th.mu.Lock()
	defer th.mu.Unlock()
	for i, task := range th.queue {
		if task.GetID() == taskID {
			heap.Remove(&th.queue, i)
			return true
		}
	}
	return false
}

// List 当前堆中的任务
func (th *TaskHeap) List() []Task {
	th.mu.Lock()
	defer th.mu.Unlock()
	out := make([]Task, len(th.queue))
	copy(out, th.queue)
	return out
}

// Len 任务数量
func (th *TaskHeap) Len() int {
	th.mu.Lock()
	defer th.mu.Unlock()
	return len(th.queue)
}

// Clear 清空
func (th *TaskHeap) Clear() {
	th.mu.Lock()
	defer th.mu.Unlock()
	th.queue = nil
}
