package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/storyline/internal/jobs"
)

type recordingRunner struct {
	mu    sync.Mutex
	calls []jobs.Type
	busy  map[jobs.Type]bool
}

func (r *recordingRunner) Run(ctx context.Context, jobType jobs.Type, fn func(ctx context.Context) (jobs.Result, error)) (jobs.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, jobType)
	busy := r.busy[jobType]
	r.mu.Unlock()
	if busy {
		return jobs.Result{}, jobs.ErrAlreadyRunning
	}
	return fn(ctx)
}

func TestNew_Validates(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	if _, err := New(nil, time.Minute, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for nil runner")
	}
	if _, err := New(runner, 0, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for zero interval")
	}
	if _, err := New(runner, time.Minute, zerolog.Nop(), Task{Type: jobs.TypeClustering}); err == nil {
		t.Fatalf("expected error for task without body")
	}
}

func TestTick_RunsTasksInOrderAndSkipsBusy(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{busy: map[jobs.Type]bool{jobs.TypeIngestion: true}}
	var ingested, clustered atomic.Int32
	sched, err := New(runner, time.Minute, zerolog.Nop(),
		Task{Type: jobs.TypeIngestion, Fn: func(context.Context) (jobs.Result, error) {
			ingested.Add(1)
			return jobs.Result{}, nil
		}},
		Task{Type: jobs.TypeClustering, Fn: func(context.Context) (jobs.Result, error) {
			clustered.Add(1)
			return jobs.Result{}, errors.New("boom")
		}},
	)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	sched.Tick(context.Background())

	if got := runner.calls; len(got) != 2 || got[0] != jobs.TypeIngestion || got[1] != jobs.TypeClustering {
		t.Fatalf("unexpected call order: %v", got)
	}
	if ingested.Load() != 0 {
		t.Fatalf("expected busy ingestion to be skipped")
	}
	if clustered.Load() != 1 {
		t.Fatalf("expected clustering to run once, got %d", clustered.Load())
	}
}

func TestTick_WhileGuardBusyIsNoop(t *testing.T) {
	t.Parallel()

	guard := jobs.NewGuard(zerolog.Nop())
	ticket, ok := guard.TryStart(context.Background(), jobs.TypeClustering)
	if !ok {
		t.Fatalf("expected manual start to succeed")
	}

	var ran atomic.Int32
	sched, err := New(guard, time.Minute, zerolog.Nop(), Task{Type: jobs.TypeClustering, Fn: func(context.Context) (jobs.Result, error) {
		ran.Add(1)
		return jobs.Result{}, nil
	}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	sched.Tick(context.Background())
	if ran.Load() != 0 {
		t.Fatalf("expected tick to be a no-op while the job is running")
	}

	guard.Finish(context.Background(), ticket, jobs.Result{}, nil)
	sched.Tick(context.Background())
	if ran.Load() != 1 {
		t.Fatalf("expected tick to run once the job finished, got %d", ran.Load())
	}
}

func TestRun_TicksUntilCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runs := make(chan struct{}, 16)
	sched, err := New(&recordingRunner{}, 10*time.Millisecond, zerolog.Nop(), Task{Type: jobs.TypeClustering, Fn: func(context.Context) (jobs.Result, error) {
		select {
		case runs <- struct{}{}:
		default:
		}
		return jobs.Result{}, nil
	}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-runs:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for tick %d", i+1)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler did not stop after cancel")
	}
}
