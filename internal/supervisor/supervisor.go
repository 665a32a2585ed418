// Package supervisor runs long-lived tasks and restarts them when they fail.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tiroq/printwatch/internal/diaglog"
	"github.com/tiroq/printwatch/internal/metrics"
)

// DefaultBackoff is the pause before a failed task is restarted.
const DefaultBackoff = time.Second

// Task is a named function that runs until its context is cancelled.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor restarts each task after it returns or panics, forever, until
// the context passed to Run is cancelled.
type Supervisor struct {
	backoff time.Duration
	diag    *diaglog.Logger

	mu       sync.Mutex
	tasks    []Task
	restarts map[string]int
}

func New(backoff time.Duration, diag *diaglog.Logger) *Supervisor {
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	return &Supervisor{backoff: backoff, diag: diag, restarts: make(map[string]int)}
}

// Add registers a task. Tasks added after Run has started are not run.
func (s *Supervisor) Add(name string, run func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, Task{Name: name, Run: run})
}

// Restarts returns how many times the named task has been restarted.
func (s *Supervisor) Restarts(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts[name]
}

// Run starts every task and blocks until ctx is cancelled and all tasks
// have returned.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	tasks := append([]Task(nil), s.tasks...)
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		g.Go(func() error {
			s.supervise(gctx, t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Supervisor) supervise(ctx context.Context, t Task) {
	for {
		err := runSafely(ctx, t)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = fmt.Errorf("task exited")
		}

		s.mu.Lock()
		s.restarts[t.Name]++
		n := s.restarts[t.Name]
		s.mu.Unlock()

		log.Printf("[SUPERVISOR] %s failed: %v (restart #%d in %v)", t.Name, err, n, s.backoff)
		metrics.TaskRestarts.WithLabelValues(t.Name).Inc()
		s.diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentSupervisor,
			Event:     diaglog.EventTaskRestart,
			Reason:    err.Error(),
			Payload:   map[string]interface{}{"task": t.Name, "restarts": n},
		})

		timer := time.NewTimer(s.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// runSafely converts a panic in t into an error.
func runSafely(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return t.Run(ctx)
}
