// Package cleanup runs delayed, fire-and-forget deletions such as removing
// a transient warning after it was visible for a while.
package cleanup

import (
	"context"
	"sync"
	"time"

	logx "codegate/pkg/logx"
)

// Clock abstracts timers so tests can drive time.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealClock uses time.AfterFunc.
func RealClock() Clock { return realClock{} }

// Task is the deferred work. ctx carries the per-run timeout.
type Task func(ctx context.Context) error

type Janitor struct {
	clock   Clock
	log     logx.Logger
	timeout time.Duration

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]*Handle
	closed  bool
	wg      sync.WaitGroup
}

// Handle identifies one scheduled task.
type Handle struct {
	j     *Janitor
	id    uint64
	label string
	task  Task
	timer Timer
}

func New(clock Clock, log logx.Logger) *Janitor {
	if clock == nil {
		clock = RealClock()
	}
	return &Janitor{clock: clock, log: log, timeout: 10 * time.Second, pending: map[uint64]*Handle{}}
}

// Schedule runs task after d. After Close the task runs immediately.
func (j *Janitor) Schedule(d time.Duration, label string, task Task) *Handle {
	j.mu.Lock()
	j.seq++
	h := &Handle{j: j, id: j.seq, label: label, task: task}
	if j.closed {
		j.mu.Unlock()
		j.run(h)
		return h
	}
	j.pending[h.id] = h
	j.wg.Add(1)
	h.timer = j.clock.AfterFunc(d, func() {
		if j.claim(h.id) {
			defer j.wg.Done()
			j.run(h)
		}
	})
	j.mu.Unlock()
	return h
}

// Cancel prevents the task from running. It reports false when the task
// already ran or is running.
func (h *Handle) Cancel() bool {
	if h == nil || h.j == nil || !h.j.claim(h.id) {
		return false
	}
	defer h.j.wg.Done()
	if h.timer != nil {
		h.timer.Stop()
	}
	return true
}

func (j *Janitor) claim(id uint64) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.pending[id]; !ok {
		return false
	}
	delete(j.pending, id)
	return true
}

func (j *Janitor) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

func (j *Janitor) run(h *Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			j.log.Error("cleanup task panicked", logx.String("task", h.label), logx.Any("panic", r))
		}
	}()
	if err := h.task(ctx); err != nil {
		j.log.Warn("cleanup task failed", logx.String("task", h.label), logx.Err(err))
		return
	}
	j.log.Debug("cleanup task done", logx.String("task", h.label))
}

// Close stops every pending timer and runs the tasks now, then waits for
// in-flight tasks until ctx is done.
func (j *Janitor) Close(ctx context.Context) error {
	j.mu.Lock()
	j.closed = true
	flush := make([]*Handle, 0, len(j.pending))
	for id, h := range j.pending {
		delete(j.pending, id)
		flush = append(flush, h)
	}
	j.mu.Unlock()

	for _, h := range flush {
		if h.timer != nil {
			h.timer.Stop()
		}
		j.run(h)
		j.wg.Done()
	}

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
