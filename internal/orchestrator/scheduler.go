package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Task is a request currently being processed.
type Task struct {
	ID        string    `json:"id"`
	Query     string    `json:"query"`
	StartedAt time.Time `json:"started_at"`
}

// Scheduler bounds how many requests run at once. Callers wait up to a
// configured time for a slot and are turned away with ErrBusy after that.
type Scheduler struct {
	sem     *semaphore.Weighted
	size    int
	wait    time.Duration
	mu      sync.RWMutex
	running map[string]*Task
	logger  *zap.Logger
}

// NewScheduler creates a scheduler with poolSize slots. wait <= 0 means
// callers wait until their own context ends.
func NewScheduler(poolSize int, wait time.Duration, logger *zap.Logger) *Scheduler {
	if poolSize <= 0 {
		poolSize = 10
	}
	return &Scheduler{
		sem:     semaphore.NewWeighted(int64(poolSize)),
		size:    poolSize,
		wait:    wait,
		running: make(map[string]*Task),
		logger:  logger,
	}
}

// Admit reserves a slot for task. The returned release must be called once
// processing ends.
func (s *Scheduler) Admit(ctx context.Context, task *Task) (func(), error) {
	wctx := ctx
	if s.wait > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, s.wait)
		defer cancel()
	}
	if err := s.sem.Acquire(wctx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("request rejected, scheduler full", zap.Int("slots", s.size))
			return nil, ErrBusy
		}
		return nil, err
	}

	task.StartedAt = time.Now()
	s.mu.Lock()
	s.running[task.ID] = task
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.running, task.ID)
			s.mu.Unlock()
			s.sem.Release(1)
		})
	}, nil
}

// Running returns in-flight tasks, oldest first.
func (s *Scheduler) Running() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := make([]Task, 0, len(s.running))
	for _, t := range s.running {
		tasks = append(tasks, *t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].StartedAt.Before(tasks[j].StartedAt) })
	return tasks
}

// Capacity is the number of slots.
func (s *Scheduler) Capacity() int { return s.size }
