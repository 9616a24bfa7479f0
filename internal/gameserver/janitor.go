package gameserver

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Janitor runs named housekeeping tasks on a fixed interval: sweeping idle
// channels, probing the directory database. Tasks run sequentially within
// the janitor goroutine.
//
// Invariant: every task is invoked at most once per tick interval.
type Janitor struct {
	interval time.Duration
	logger   *zap.Logger
	mu       sync.Mutex
	tasks    map[string]func(ctx context.Context)
}

// NewJanitor returns a janitor that runs its tasks every interval.
//
// Precondition: interval must be > 0.
func NewJanitor(interval time.Duration, logger *zap.Logger) *Janitor {
	if interval <= 0 {
		panic("gameserver.NewJanitor: interval must be > 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		interval: interval,
		logger:   logger,
		tasks:    make(map[string]func(ctx context.Context)),
	}
}

// Register adds a task under name. Replaces any existing task.
func (j *Janitor) Register(name string, fn func(ctx context.Context)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.tasks[name] = fn
}

// Unregister removes the task registered under name.
func (j *Janitor) Unregister(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.tasks, name)
}

// Run executes the tasks once per interval until ctx is cancelled.
//
// Postcondition: returns after ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.mu.Lock()
			tasks := make(map[string]func(context.Context), len(j.tasks))
			for k, v := range j.tasks {
				tasks[k] = v
			}
			j.mu.Unlock()
			for name, fn := range tasks {
				j.logger.Debug("janitor task", zap.String("task", name))
				fn(ctx)
			}
		}
	}
}
