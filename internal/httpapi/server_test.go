package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/storyline/internal/db"
	"horse.fit/storyline/internal/jobs"
	"horse.fit/storyline/internal/telemetry"
)

type fakeStore struct {
	pingErr     error
	stories     map[int64]*db.StoryDetail
	entities    map[int64]*db.EntityRecord
	connections map[int64][]db.ConnectionRecord
	runs        []db.JobRunRecord
	runsErr     error

	mu            sync.Mutex
	lastRunsType  string
	lastRunsLimit int
	lastConnLimit int
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

func (s *fakeStore) GetStoryDetail(_ context.Context, storyID int64) (*db.StoryDetail, error) {
	detail, ok := s.stories[storyID]
	if !ok {
		return nil, db.ErrNoRows
	}
	return detail, nil
}

func (s *fakeStore) GetEntity(_ context.Context, entityID int64) (*db.EntityRecord, error) {
	entity, ok := s.entities[entityID]
	if !ok {
		return nil, db.ErrNoRows
	}
	return entity, nil
}

func (s *fakeStore) ListEntityConnections(_ context.Context, entityID int64, limit int) ([]db.ConnectionRecord, error) {
	s.mu.Lock()
	s.lastConnLimit = limit
	s.mu.Unlock()
	return s.connections[entityID], nil
}

func (s *fakeStore) ListJobRuns(_ context.Context, jobType string, limit int) ([]db.JobRunRecord, error) {
	s.mu.Lock()
	s.lastRunsType = jobType
	s.lastRunsLimit = limit
	s.mu.Unlock()
	return s.runs, s.runsErr
}

type decodedResponse struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func serve(t *testing.T, server *Server, method, path string) (*httptest.ResponseRecorder, decodedResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	var body decodedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, body
}

func newTestServer(store *fakeStore, guard *jobs.Guard, triggers map[jobs.Type]JobFunc) *Server {
	if guard == nil {
		guard = jobs.NewGuard(zerolog.Nop())
	}
	return NewServer(store, guard, triggers, zerolog.Nop(), Options{})
}

func TestHealth(t *testing.T) {
	t.Parallel()

	rec, body := serve(t, newTestServer(&fakeStore{}, nil, nil), http.MethodGet, "/api/v1/health")
	if rec.Code != http.StatusOK || body.Status != "success" {
		t.Fatalf("unexpected health response: %d %+v", rec.Code, body)
	}

	rec, body = serve(t, newTestServer(&fakeStore{pingErr: errors.New("down")}, nil, nil), http.MethodGet, "/api/v1/health")
	if rec.Code != http.StatusServiceUnavailable || body.Status != "error" {
		t.Fatalf("unexpected degraded health response: %d %+v", rec.Code, body)
	}
}

func TestJobs_ListsStatuses(t *testing.T) {
	t.Parallel()

	rec, body := serve(t, newTestServer(&fakeStore{}, nil, nil), http.MethodGet, "/api/v1/jobs")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var data struct {
		Items []jobs.Status `json:"items"`
	}
	if err := json.Unmarshal(body.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(data.Items) != 2 || data.Items[0].JobType != jobs.TypeClustering || data.Items[1].JobType != jobs.TypeIngestion {
		t.Fatalf("unexpected job statuses: %+v", data.Items)
	}
}

func TestJob_ReturnsRunsAndRejectsUnknownType(t *testing.T) {
	t.Parallel()

	store := &fakeStore{runs: []db.JobRunRecord{{JobRunUUID: "r1", JobType: "clustering", Status: jobs.StatusSucceeded}}}
	server := newTestServer(store, nil, nil)

	rec, _ := serve(t, server, http.MethodGet, "/api/v1/jobs/clustering?limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if store.lastRunsType != "clustering" || store.lastRunsLimit != 5 {
		t.Fatalf("unexpected job run query: %q %d", store.lastRunsType, store.lastRunsLimit)
	}

	rec, body := serve(t, server, http.MethodGet, "/api/v1/jobs/reindex")
	if rec.Code != http.StatusNotFound || body.Status != "fail" {
		t.Fatalf("expected 404 fail for unknown type, got %d %+v", rec.Code, body)
	}

	rec, _ = serve(t, server, http.MethodGet, "/api/v1/jobs/clustering?limit=0")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestRunJob_StartsAndConflictsWhileRunning(t *testing.T) {
	t.Parallel()

	guard := jobs.NewGuard(zerolog.Nop())
	release := make(chan struct{})
	finished := make(chan struct{})
	triggers := map[jobs.Type]JobFunc{
		jobs.TypeClustering: func(context.Context) (jobs.Result, error) {
			<-release
			close(finished)
			return jobs.Result{StoriesCreated: 1}, nil
		},
	}
	server := newTestServer(&fakeStore{}, guard, triggers)

	rec, body := serve(t, server, http.MethodPost, "/api/v1/jobs/clustering/run")
	if rec.Code != http.StatusAccepted || body.Status != "success" {
		t.Fatalf("expected 202 success, got %d %+v", rec.Code, body)
	}

	rec, body = serve(t, server, http.MethodPost, "/api/v1/jobs/clustering/run")
	if rec.Code != http.StatusConflict || body.Status != "fail" {
		t.Fatalf("expected 409 fail while running, got %d %+v", rec.Code, body)
	}

	close(release)
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatalf("triggered job did not run")
	}

	deadline := time.Now().Add(2 * time.Second)
	for guard.IsRunning(jobs.TypeClustering) {
		if time.Now().After(deadline) {
			t.Fatalf("guard still running after job finished")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec, _ = serve(t, server, http.MethodPost, "/api/v1/jobs/ingestion/run")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for job without trigger, got %d", rec.Code)
	}
}

func TestStoryDetail(t *testing.T) {
	t.Parallel()

	store := &fakeStore{stories: map[int64]*db.StoryDetail{
		7: {Story: db.StoryHeader{StoryID: 7, Title: "Rates rise"}},
	}}
	server := newTestServer(store, nil, nil)

	rec, body := serve(t, server, http.MethodGet, "/api/v1/stories/7")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var detail db.StoryDetail
	if err := json.Unmarshal(body.Data, &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail.Story.Title != "Rates rise" {
		t.Fatalf("unexpected story: %+v", detail.Story)
	}

	if rec, _ := serve(t, server, http.MethodGet, "/api/v1/stories/8"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing story, got %d", rec.Code)
	}
	if rec, _ := serve(t, server, http.MethodGet, "/api/v1/stories/abc"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}
}

func TestEntityConnections(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		entities: map[int64]*db.EntityRecord{3: {EntityID: 3, Name: "Acme", EntityType: "company"}},
		connections: map[int64][]db.ConnectionRecord{3: {
			{ConnectionID: 1, Direction: "outgoing", OtherEntityName: "Globex", RelationshipType: "acquired"},
		}},
	}
	server := newTestServer(store, nil, nil)

	rec, body := serve(t, server, http.MethodGet, "/api/v1/entities/3/connections")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var data struct {
		Entity db.EntityRecord       `json:"entity"`
		Items  []db.ConnectionRecord `json:"items"`
	}
	if err := json.Unmarshal(body.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.Entity.Name != "Acme" || len(data.Items) != 1 || data.Items[0].OtherEntityName != "Globex" {
		t.Fatalf("unexpected payload: %+v", data)
	}
	if store.lastConnLimit != defaultListLimit {
		t.Fatalf("expected default limit, got %d", store.lastConnLimit)
	}

	if rec, _ := serve(t, server, http.MethodGet, "/api/v1/entities/4/connections"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing entity, got %d", rec.Code)
	}
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	t.Parallel()

	rec, body := serve(t, newTestServer(&fakeStore{}, nil, nil), http.MethodGet, "/api/v1/nope")
	if rec.Code != http.StatusNotFound || body.Status != "fail" {
		t.Fatalf("expected enveloped 404, got %d %+v", rec.Code, body)
	}
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	rec, body := serve(t, newTestServer(&fakeStore{}, nil, nil), http.MethodGet, "/api/v1/metrics")
	if rec.Code != http.StatusNotFound || body.Status != "fail" {
		t.Fatalf("expected 404 without a metrics source, got %d %+v", rec.Code, body)
	}

	provider := telemetry.NewProvider()
	counter, err := provider.MeterProvider().Meter("test").Int64Counter("storyline.clustering.stories_created")
	if err != nil {
		t.Fatalf("create counter: %v", err)
	}
	counter.Add(context.Background(), 2)

	server := NewServer(&fakeStore{}, jobs.NewGuard(zerolog.Nop()), nil, zerolog.Nop(), Options{Metrics: provider})
	rec, body = serve(t, server, http.MethodGet, "/api/v1/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var data struct {
		Items []telemetry.Point `json:"items"`
	}
	if err := json.Unmarshal(body.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(data.Items) != 1 || data.Items[0].Name != "storyline.clustering.stories_created" || data.Items[0].Value != 2 {
		t.Fatalf("unexpected metrics payload: %+v", data.Items)
	}
}
