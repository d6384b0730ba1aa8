package tasks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evantahler/bun-actionhero-sub001/pkg/actions"
	"github.com/evantahler/bun-actionhero-sub001/pkg/connection"
	"github.com/evantahler/bun-actionhero-sub001/pkg/dispatch"
	"github.com/evantahler/bun-actionhero-sub001/pkg/observability"
	"github.com/evantahler/bun-actionhero-sub001/pkg/session"
)

func newScheduler(t *testing.T, registry *actions.Registry, enqueuer Enqueuer) *Scheduler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sessions := session.NewStore(client, "sessionID", time.Hour)
	dispatcher := dispatch.New(registry, observability.NewNoopLogger(), observability.NewNoopMetrics())
	return New(registry, dispatcher, sessions, enqueuer, observability.NewNoopLogger())
}

func TestScheduledActionRunsRepeatedly(t *testing.T) {
	registry := actions.NewRegistry()
	var runs atomic.Int64
	require.NoError(t, registry.Register(&actions.Action{
		Name: "tick",
		Task: &actions.TaskConfig{Frequency: 10 * time.Millisecond},
		Run: func(ctx context.Context, p map[string]any, conn *connection.Connection) (any, error) {
			runs.Add(1)
			return nil, nil
		},
	}))

	scheduler := newScheduler(t, registry, nil)
	require.NoError(t, scheduler.Start(context.Background()))

	deadline := time.After(2 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 runs, got %d", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	require.NoError(t, scheduler.Stop(context.Background()))
	stopped := runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load(), "no runs after stop")
}

func TestScheduledActionRunsOnTaskConnection(t *testing.T) {
	registry := actions.NewRegistry()
	var connType atomic.Value
	require.NoError(t, registry.Register(&actions.Action{
		Name: "inspect",
		Task: &actions.TaskConfig{Frequency: 10 * time.Millisecond},
		Run: func(ctx context.Context, p map[string]any, conn *connection.Connection) (any, error) {
			connType.Store(string(conn.Type))
			return nil, nil
		},
	}))

	scheduler := newScheduler(t, registry, nil)
	require.NoError(t, scheduler.Start(context.Background()))
	t.Cleanup(func() { _ = scheduler.Stop(context.Background()) })

	deadline := time.After(2 * time.Second)
	for connType.Load() == nil {
		select {
		case <-deadline:
			t.Fatal("the scheduled action never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	assert.Equal(t, string(connection.TypeTask), connType.Load())
}

type recordingEnqueuer struct {
	mu    sync.Mutex
	calls []string
}

func (e *recordingEnqueuer) Enqueue(ctx context.Context, queue, actionName string, params map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, queue+"/"+actionName)
	return nil
}

func (e *recordingEnqueuer) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func TestQueueBackedTasksAreEnqueuedNotRun(t *testing.T) {
	registry := actions.NewRegistry()
	var runs atomic.Int64
	require.NoError(t, registry.Register(&actions.Action{
		Name: "mailer",
		Task: &actions.TaskConfig{Frequency: 10 * time.Millisecond, Queue: "emails"},
		Run: func(ctx context.Context, p map[string]any, conn *connection.Connection) (any, error) {
			runs.Add(1)
			return nil, nil
		},
	}))

	enqueuer := &recordingEnqueuer{}
	scheduler := newScheduler(t, registry, enqueuer)
	require.NoError(t, scheduler.Start(context.Background()))
	t.Cleanup(func() { _ = scheduler.Stop(context.Background()) })

	deadline := time.After(2 * time.Second)
	for enqueuer.count() < 2 {
		select {
		case <-deadline:
			t.Fatal("the task was never enqueued")
		case <-time.After(5 * time.Millisecond):
		}
	}

	enqueuer.mu.Lock()
	assert.Equal(t, "emails/mailer", enqueuer.calls[0])
	enqueuer.mu.Unlock()
	assert.Equal(t, int64(0), runs.Load(), "queue-backed tasks do not run in process")
}

func TestUnscheduledActionsAreIgnored(t *testing.T) {
	registry := actions.NewRegistry()
	var runs atomic.Int64
	require.NoError(t, registry.Register(&actions.Action{
		Name: "web-only",
		Run: func(ctx context.Context, p map[string]any, conn *connection.Connection) (any, error) {
			runs.Add(1)
			return nil, nil
		},
	}))

	scheduler := newScheduler(t, registry, nil)
	require.NoError(t, scheduler.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, scheduler.Stop(context.Background()))

	assert.Equal(t, int64(0), runs.Load())
}
