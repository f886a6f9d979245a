package clustering

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/storyline/internal/db"
	"horse.fit/storyline/internal/globaltime"
	"horse.fit/storyline/internal/pipeline"
	"horse.fit/storyline/internal/story"
	"horse.fit/storyline/internal/telemetry"
)

type stubSource struct {
	records []db.ArticleRecord
	err     error
	query   db.UnassignedArticleQuery
}

func (s *stubSource) ListUnassignedArticles(_ context.Context, query db.UnassignedArticleQuery) ([]db.ArticleRecord, error) {
	s.query = query
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

type stubMaterializer struct {
	mu        sync.Mutex
	clusters  []pipeline.Cluster
	failFor   map[int64]bool
	fallback  bool
	inFlight  int
	maxFlight int
	delay     time.Duration
}

func (m *stubMaterializer) Materialize(_ context.Context, cluster pipeline.Cluster) (story.MaterializeResult, error) {
	m.mu.Lock()
	m.inFlight++
	m.maxFlight = max(m.maxFlight, m.inFlight)
	m.clusters = append(m.clusters, cluster)
	m.mu.Unlock()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
	if m.failFor[cluster.Articles[0].ID] {
		return story.MaterializeResult{}, errors.New("synthesis store exploded")
	}
	return story.MaterializeResult{StoryID: int64(len(m.clusters)), Created: true, Fallback: m.fallback}, nil
}

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func record(id int64, title string, age time.Duration) db.ArticleRecord {
	return db.ArticleRecord{
		ArticleID:   id,
		Title:       title,
		URL:         "https://example.com/" + title,
		Source:      "wire",
		PublishedAt: baseTime.Add(-age),
	}
}

func fiveArticleBatch() []db.ArticleRecord {
	return []db.ArticleRecord{
		record(1, "Acme recalls scooters after battery fires", time.Hour),
		record(2, "Acme scooters recalled after battery fires spread", 2*time.Hour),
		record(3, "Central bank holds interest rates steady", 3*time.Hour),
		record(4, "Football championship final draws record crowd", 4*time.Hour),
		record(5, "Volcano eruption forces village evacuation", 5*time.Hour),
	}
}

func TestRunClustering_FiveArticleBatchCreatesOneStory(t *testing.T) {
	globaltime.SetMockTime(baseTime)
	defer globaltime.ResetTime()

	source := &stubSource{records: fiveArticleBatch()}
	materializer := &stubMaterializer{}
	svc, err := NewService(source, materializer, Options{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	result, err := svc.RunClustering(context.Background())
	if err != nil {
		t.Fatalf("RunClustering returned error: %v", err)
	}
	if result.ArticlesProcessed != 5 || result.ClusterCount != 4 || result.StoriesCreated != 1 || result.Qualifying != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(materializer.clusters) != 1 || len(materializer.clusters[0].Articles) != 2 {
		t.Fatalf("expected one materialized pair, got %+v", materializer.clusters)
	}

	if source.query.Limit != DefaultLimit || !source.query.Since.Equal(baseTime.Add(-DefaultWindow)) {
		t.Fatalf("unexpected batch query: %+v", source.query)
	}

	jobResult := result.JobResult()
	if jobResult.ArticlesProcessed != 5 || jobResult.StoriesCreated != 1 || jobResult.ClusterCount != 4 {
		t.Fatalf("unexpected job result: %+v", jobResult)
	}
}

func TestRunClustering_FetchFailureReturnsZeroCounts(t *testing.T) {
	t.Parallel()

	svc, err := NewService(&stubSource{err: errors.New("connection refused")}, &stubMaterializer{}, Options{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	result, err := svc.RunClustering(context.Background())
	if err == nil {
		t.Fatalf("expected fetch error")
	}
	if result != (RunResult{}) {
		t.Fatalf("expected zero counts, got %+v", result)
	}
}

func TestRunClustering_EmptyBatch(t *testing.T) {
	t.Parallel()

	materializer := &stubMaterializer{}
	svc, err := NewService(&stubSource{}, materializer, Options{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	result, err := svc.RunClustering(context.Background())
	if err != nil {
		t.Fatalf("RunClustering returned error: %v", err)
	}
	if result != (RunResult{}) || len(materializer.clusters) != 0 {
		t.Fatalf("expected no work, got %+v", result)
	}
}

func twoPairBatch() []db.ArticleRecord {
	return []db.ArticleRecord{
		record(1, "Acme recalls scooters after battery fires", time.Hour),
		record(2, "Acme scooters recalled after battery fires spread", 2*time.Hour),
		record(3, "Volcano eruption forces village evacuation", 3*time.Hour),
		record(4, "Volcano eruption forces mountain village evacuation", 4*time.Hour),
	}
}

func TestRunClustering_FailingClusterIsSkipped(t *testing.T) {
	t.Parallel()

	materializer := &stubMaterializer{failFor: map[int64]bool{1: true}, fallback: true}
	svc, err := NewService(&stubSource{records: twoPairBatch()}, materializer, Options{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	result, err := svc.RunClustering(context.Background())
	if err != nil {
		t.Fatalf("RunClustering returned error: %v", err)
	}
	if result.StoriesCreated != 1 || result.Failures != 1 || result.Fallbacks != 1 || result.ClusterCount != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunClustering_SequentialByDefault(t *testing.T) {
	t.Parallel()

	materializer := &stubMaterializer{delay: 5 * time.Millisecond}
	svc, err := NewService(&stubSource{records: twoPairBatch()}, materializer, Options{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	if _, err := svc.RunClustering(context.Background()); err != nil {
		t.Fatalf("RunClustering returned error: %v", err)
	}
	if materializer.maxFlight != 1 {
		t.Fatalf("expected sequential materialization, saw %d in flight", materializer.maxFlight)
	}
	if materializer.clusters[0].Articles[0].ID != 1 {
		t.Fatalf("expected newest cluster first, got %+v", materializer.clusters[0].ArticleIDs())
	}
}

func TestRunClustering_BoundedPool(t *testing.T) {
	t.Parallel()

	materializer := &stubMaterializer{delay: 20 * time.Millisecond}
	svc, err := NewService(&stubSource{records: twoPairBatch()}, materializer, Options{Concurrency: 2}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	result, err := svc.RunClustering(context.Background())
	if err != nil {
		t.Fatalf("RunClustering returned error: %v", err)
	}
	if result.StoriesCreated != 2 {
		t.Fatalf("expected two stories, got %+v", result)
	}
	if materializer.maxFlight > 2 {
		t.Fatalf("expected at most 2 concurrent materializations, saw %d", materializer.maxFlight)
	}
}

func TestRunClustering_CancelledContextStopsEarly(t *testing.T) {
	t.Parallel()

	materializer := &stubMaterializer{}
	svc, err := NewService(&stubSource{records: twoPairBatch()}, materializer, Options{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.RunClustering(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(materializer.clusters) != 0 || result.ArticlesProcessed != 4 {
		t.Fatalf("expected no materialization after cancel, got %+v", result)
	}
}

func TestRunClustering_RecordsRunMetrics(t *testing.T) {
	t.Parallel()

	provider := telemetry.NewProvider()
	materializer := &stubMaterializer{failFor: map[int64]bool{1: true}, fallback: true}
	svc, err := NewService(&stubSource{records: twoPairBatch()}, materializer, Options{Meter: provider.MeterProvider()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	if _, err := svc.RunClustering(context.Background()); err != nil {
		t.Fatalf("RunClustering returned error: %v", err)
	}

	points, err := provider.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	want := map[string]float64{
		"storyline.clustering.articles":            4,
		"storyline.clustering.clusters":            2,
		"storyline.clustering.stories_created":     1,
		"storyline.clustering.synthesis_fallbacks": 1,
		"storyline.clustering.cluster_failures":    1,
	}
	for name, value := range want {
		got, ok := telemetry.Find(points, name, nil)
		if !ok || got.Value != value {
			t.Fatalf("%s = %+v (found=%v), want %v", name, got, ok, value)
		}
	}
	duration, ok := telemetry.Find(points, "storyline.clustering.run_duration", map[string]string{"outcome": "succeeded"})
	if !ok || duration.Count != 1 {
		t.Fatalf("expected one succeeded run duration sample, got %+v (found=%v)", duration, ok)
	}
}

func TestRunClustering_FailedRunIsTaggedInMetrics(t *testing.T) {
	t.Parallel()

	provider := telemetry.NewProvider()
	svc, err := NewService(&stubSource{err: errors.New("connection refused")}, &stubMaterializer{}, Options{Meter: provider.MeterProvider()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	if _, err := svc.RunClustering(context.Background()); err == nil {
		t.Fatalf("expected fetch error")
	}

	points, err := provider.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if _, ok := telemetry.Find(points, "storyline.clustering.run_duration", map[string]string{"outcome": "failed"}); !ok {
		t.Fatalf("expected a failed run duration sample, got %+v", points)
	}
}
