package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/storyline/internal/globaltime"
)

type Type string

const (
	TypeIngestion  Type = "ingestion"
	TypeClustering Type = "clustering"
)

// ParseType accepts only the known job types.
func ParseType(value string) (Type, bool) {
	switch Type(value) {
	case TypeIngestion, TypeClustering:
		return Type(value), true
	default:
		return "", false
	}
}

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// ErrAlreadyRunning is returned by Run when a job of the same type is active.
// Callers treat it as a no-op.
var ErrAlreadyRunning = errors.New("job already running")

// ErrLockLost cancels a run whose cross-instance lock expired or was taken
// over before the run finished.
var ErrLockLost = errors.New("distributed job lock lost")

const (
	finishTimeout      = 5 * time.Second
	defaultLockRefresh = 5 * time.Minute
)

// Result carries the counters a job reports back to its trigger.
type Result struct {
	ArticlesProcessed int `json:"articles_processed"`
	StoriesCreated    int `json:"stories_created"`
	ClusterCount      int `json:"cluster_count"`
}

// Status is a point-in-time snapshot of one job type.
type Status struct {
	JobType    Type       `json:"job_type"`
	Running    bool       `json:"running"`
	RunID      string     `json:"run_id,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastResult *Result    `json:"last_result,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// Ticket identifies one started run; pass it back to Finish.
type Ticket struct {
	JobType   Type
	RunID     string
	StartedAt time.Time
	lockToken string
}

type state struct {
	running    bool
	runID      string
	startedAt  time.Time
	lastRunAt  time.Time
	lastStatus string
	lastResult *Result
	lastError  string
}

// Guard allows at most one active run per job type. Different types never
// block each other. With a Locker configured the guard also holds a
// cross-instance lock for the duration of the run.
type Guard struct {
	mu          sync.Mutex
	states      map[Type]*state
	locker      Locker
	lockRefresh time.Duration
	log         JobLog
	logger      zerolog.Logger

	detached       sync.WaitGroup
	detachedCtx    context.Context
	cancelDetached context.CancelFunc
}

type Option func(*Guard)

func WithLocker(locker Locker) Option {
	return func(g *Guard) { g.locker = locker }
}

// WithLockRefresh sets how often a held lock is extended. Keep it well under
// the locker's TTL.
func WithLockRefresh(interval time.Duration) Option {
	return func(g *Guard) {
		if interval > 0 {
			g.lockRefresh = interval
		}
	}
}

func WithJobLog(log JobLog) Option {
	return func(g *Guard) { g.log = log }
}

func NewGuard(logger zerolog.Logger, opts ...Option) *Guard {
	g := &Guard{
		states: map[Type]*state{
			TypeIngestion:  {},
			TypeClustering: {},
		},
		lockRefresh: defaultLockRefresh,
		logger:      logger,
	}
	g.detachedCtx, g.cancelDetached = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TryStart claims jobType. ok is false when a run of that type is already
// active here or, with a Locker, on another instance.
func (g *Guard) TryStart(ctx context.Context, jobType Type) (Ticket, bool) {
	g.mu.Lock()
	st := g.stateLocked(jobType)
	if st.running {
		g.mu.Unlock()
		return Ticket{}, false
	}
	ticket := Ticket{
		JobType:   jobType,
		RunID:     uuid.NewString(),
		StartedAt: globaltime.UTC(),
	}
	st.running = true
	st.runID = ticket.RunID
	st.startedAt = ticket.StartedAt
	g.mu.Unlock()

	if g.locker == nil {
		return ticket, true
	}

	token, acquired, err := g.locker.Acquire(ctx, lockKey(jobType))
	if err != nil {
		g.logger.Warn().Err(err).Str("job_type", string(jobType)).Msg("distributed job lock unavailable")
	}
	if err != nil || !acquired {
		g.mu.Lock()
		if st.runID == ticket.RunID {
			st.running = false
			st.runID = ""
			st.startedAt = time.Time{}
		}
		g.mu.Unlock()
		return Ticket{}, false
	}
	ticket.lockToken = token
	return ticket, true
}

// Finish releases the ticket and records the outcome. A ticket that does not
// match the active run is ignored.
func (g *Guard) Finish(ctx context.Context, ticket Ticket, result Result, runErr error) {
	finishedAt := globaltime.UTC()
	status := StatusSucceeded
	errMessage := ""
	if runErr != nil {
		status = StatusFailed
		errMessage = runErr.Error()
	}

	g.mu.Lock()
	st := g.stateLocked(ticket.JobType)
	if !st.running || st.runID != ticket.RunID {
		g.mu.Unlock()
		g.logger.Warn().Str("job_type", string(ticket.JobType)).Str("run_id", ticket.RunID).Msg("finish called for inactive run")
		return
	}
	st.running = false
	st.runID = ""
	st.startedAt = time.Time{}
	st.lastRunAt = finishedAt
	st.lastStatus = status
	resultCopy := result
	st.lastResult = &resultCopy
	st.lastError = errMessage
	g.mu.Unlock()

	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if g.locker != nil && ticket.lockToken != "" {
		if err := g.locker.Release(bgCtx, lockKey(ticket.JobType), ticket.lockToken); err != nil {
			g.logger.Warn().Err(err).Str("job_type", string(ticket.JobType)).Msg("release distributed job lock")
		}
	}

	g.record(bgCtx, ticket.JobType, ticket.RunID, status, ticket.StartedAt, finishedAt, result, errMessage)
}

// Run executes fn under the guard. It returns ErrAlreadyRunning without
// calling fn when jobType is busy. The guard is released on every exit path;
// a panic in fn is recovered and reported as an error.
func (g *Guard) Run(ctx context.Context, jobType Type, fn func(ctx context.Context) (Result, error)) (Result, error) {
	ticket, ok := g.TryStart(ctx, jobType)
	if !ok {
		g.skip(ctx, jobType)
		return Result{}, ErrAlreadyRunning
	}
	return g.execute(ctx, ticket, fn)
}

// Start claims jobType and runs fn in a new goroutine. It returns
// ErrAlreadyRunning when jobType is busy. The run outlives the caller's
// context cancellation and ends early only through Wait; done, when non-nil,
// is closed after Finish.
func (g *Guard) Start(ctx context.Context, jobType Type, fn func(ctx context.Context) (Result, error)) (Ticket, <-chan struct{}, error) {
	ticket, ok := g.TryStart(ctx, jobType)
	if !ok {
		g.skip(ctx, jobType)
		return Ticket{}, nil, ErrAlreadyRunning
	}

	done := make(chan struct{})
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopWatch := context.AfterFunc(g.detachedCtx, cancel)
	g.detached.Add(1)
	go func() {
		defer g.detached.Done()
		defer close(done)
		defer cancel()
		defer stopWatch()
		_, _ = g.execute(runCtx, ticket, fn)
	}()
	return ticket, done, nil
}

// Wait blocks until every run launched by Start has finished. When ctx ends
// first the remaining runs are cancelled, and Wait gives them finishTimeout to
// record their outcome and release their locks. Call it once, at shutdown:
// after a cancelling Wait, later Start calls run with a cancelled context.
func (g *Guard) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.detached.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	g.logger.Warn().Msg("cancelling background job runs")
	g.cancelDetached()
	timer := time.NewTimer(finishTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("background job runs still active: %w", ctx.Err())
	}
}

func (g *Guard) skip(ctx context.Context, jobType Type) {
	now := globaltime.UTC()
	g.logger.Info().Str("job_type", string(jobType)).Msg("job already running, skipping trigger")
	g.record(ctx, jobType, uuid.NewString(), StatusSkipped, now, now, Result{}, "")
}

func (g *Guard) execute(ctx context.Context, ticket Ticket, fn func(ctx context.Context) (Result, error)) (result Result, err error) {
	jobType := ticket.JobType
	logger := g.logger.With().Str("job_type", string(jobType)).Str("run_id", ticket.RunID).Logger()
	logger.Info().Msg("job started")

	runCtx, cancel := context.WithCancelCause(ctx)
	stopRefresh := g.keepLock(runCtx, cancel, ticket, logger)

	defer func() {
		stopRefresh()
		cancel(nil)
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("job %s panicked: %v", jobType, recovered)
			logger.Error().Err(err).Msg("job panicked")
		}
		g.Finish(ctx, ticket, result, err)

		event := logger.Info()
		if err != nil {
			event = logger.Error().Err(err)
		}
		event.
			Int("articles_processed", result.ArticlesProcessed).
			Int("stories_created", result.StoriesCreated).
			Int("cluster_count", result.ClusterCount).
			Dur("duration", globaltime.Since(ticket.StartedAt)).
			Msg("job finished")
	}()

	result, err = fn(runCtx)
	if cause := context.Cause(runCtx); errors.Is(cause, ErrLockLost) && err != nil {
		err = fmt.Errorf("%w: %w", cause, err)
	}
	return result, err
}

// keepLock extends the ticket's lock every lockRefresh until the returned stop
// func is called. A lost lock cancels ctx with ErrLockLost.
func (g *Guard) keepLock(ctx context.Context, cancel context.CancelCauseFunc, ticket Ticket, logger zerolog.Logger) (stop func()) {
	if g.locker == nil || ticket.lockToken == "" {
		return func() {}
	}

	quit := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(g.lockRefresh)
		defer ticker.Stop()
		key := lockKey(ticket.JobType)
		for {
			select {
			case <-quit:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			held, err := g.locker.Extend(ctx, key, ticket.lockToken)
			if err != nil {
				logger.Warn().Err(err).Msg("extend distributed job lock")
				continue
			}
			if !held {
				logger.Error().Msg("distributed job lock lost, cancelling run")
				cancel(ErrLockLost)
				return
			}
		}
	}()
	return func() {
		close(quit)
		<-finished
	}
}

func (g *Guard) IsRunning(jobType Type) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked(jobType).running
}

// StatusOf returns a snapshot for one job type.
func (g *Guard) StatusOf(jobType Type) Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return snapshot(jobType, g.stateLocked(jobType))
}

// Status returns snapshots for every known job type, sorted by type.
func (g *Guard) Status() []Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	types := make([]Type, 0, len(g.states))
	for jobType := range g.states {
		types = append(types, jobType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	out := make([]Status, 0, len(types))
	for _, jobType := range types {
		out = append(out, snapshot(jobType, g.states[jobType]))
	}
	return out
}

func (g *Guard) stateLocked(jobType Type) *state {
	st, ok := g.states[jobType]
	if !ok {
		st = &state{}
		g.states[jobType] = st
	}
	return st
}

func (g *Guard) record(ctx context.Context, jobType Type, runID, status string, startedAt, finishedAt time.Time, result Result, errMessage string) {
	if g.log == nil {
		return
	}
	entry := Entry{
		RunID:      runID,
		JobType:    jobType,
		Status:     status,
		Result:     result,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Error:      errMessage,
	}
	if err := g.log.Record(ctx, entry); err != nil {
		g.logger.Warn().Err(err).Str("job_type", string(jobType)).Str("run_id", runID).Msg("write job log")
	}
}

func snapshot(jobType Type, st *state) Status {
	out := Status{
		JobType:    jobType,
		Running:    st.running,
		RunID:      st.runID,
		LastStatus: st.lastStatus,
		LastError:  st.lastError,
	}
	if st.running {
		startedAt := st.startedAt
		out.StartedAt = &startedAt
	}
	if !st.lastRunAt.IsZero() {
		lastRunAt := st.lastRunAt
		out.LastRunAt = &lastRunAt
	}
	if st.lastResult != nil {
		lastResult := *st.lastResult
		out.LastResult = &lastResult
	}
	return out
}
