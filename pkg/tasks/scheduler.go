// Package tasks runs actions that declare a frequency. Each scheduled
// action dispatches through the full pipeline on a synthetic task
// connection, so validation, middleware, timeouts, and logging apply to
// background work exactly as they do to requests. Queue-backed fan-out is
// delegated to the external queue collaborator via the Enqueuer interface.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/evantahler/bun-actionhero-sub001/pkg/actions"
	"github.com/evantahler/bun-actionhero-sub001/pkg/connection"
	"github.com/evantahler/bun-actionhero-sub001/pkg/dispatch"
	"github.com/evantahler/bun-actionhero-sub001/pkg/observability"
	"github.com/evantahler/bun-actionhero-sub001/pkg/params"
	"github.com/evantahler/bun-actionhero-sub001/pkg/session"
)

// Enqueuer is the interface consumed from the external background-queue
// collaborator. Actions with a Task.Queue are handed to it when one is
// installed; otherwise they run in process.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue, actionName string, params map[string]any) error
}

// Scheduler ticks frequency-scheduled actions.
type Scheduler struct {
	actions    *actions.Registry
	dispatcher *dispatch.Dispatcher
	sessions   *session.Store
	enqueuer   Enqueuer
	logger     observability.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. enqueuer may be nil.
func New(registry *actions.Registry, dispatcher *dispatch.Dispatcher, sessions *session.Store, enqueuer Enqueuer, logger observability.Logger) *Scheduler {
	return &Scheduler{
		actions:    registry,
		dispatcher: dispatcher,
		sessions:   sessions,
		enqueuer:   enqueuer,
		logger:     logger.WithPrefix("tasks"),
	}
}

// Start launches one ticker goroutine per scheduled action.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, action := range s.actions.TaskActions() {
		s.wg.Add(1)
		go s.loop(runCtx, action)
	}
	return nil
}

// Stop halts every ticker and waits for in-flight runs.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, action *actions.Action) {
	defer s.wg.Done()

	ticker := time.NewTicker(action.Task.Frequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, action)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, action *actions.Action) {
	if s.enqueuer != nil && action.Task.Queue != "" {
		if err := s.enqueuer.Enqueue(ctx, action.Task.Queue, action.Name, nil); err != nil {
			s.logger.Error("failed to enqueue task", map[string]interface{}{
				"action": action.Name,
				"queue":  action.Task.Queue,
				"error":  err.Error(),
			})
		}
		return
	}

	conn := connection.New(connection.TypeTask, "scheduler", s.sessions, nil)
	result := s.dispatcher.Dispatch(ctx, conn, action.Name, params.New(), "", "")
	if result.Error != nil {
		s.logger.Error("scheduled task failed", map[string]interface{}{
			"action": action.Name,
			"error":  result.Error.Error(),
		})
	}
}
