package clustering

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "horse.fit/storyline/clustering"

type runMetrics struct {
	articles  metric.Int64Counter
	clusters  metric.Int64Counter
	stories   metric.Int64Counter
	fallbacks metric.Int64Counter
	failures  metric.Int64Counter
	duration  metric.Float64Histogram
}

// newRunMetrics registers instruments on provider, or on the global meter
// provider when provider is nil.
func newRunMetrics(provider metric.MeterProvider) (*runMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	articles, err := meter.Int64Counter("storyline.clustering.articles",
		metric.WithDescription("Articles read into clustering runs."))
	if err != nil {
		return nil, fmt.Errorf("create articles counter: %w", err)
	}
	clusters, err := meter.Int64Counter("storyline.clustering.clusters",
		metric.WithDescription("Clusters formed, singletons included."))
	if err != nil {
		return nil, fmt.Errorf("create clusters counter: %w", err)
	}
	stories, err := meter.Int64Counter("storyline.clustering.stories_created",
		metric.WithDescription("Stories materialized from qualifying clusters."))
	if err != nil {
		return nil, fmt.Errorf("create stories counter: %w", err)
	}
	fallbacks, err := meter.Int64Counter("storyline.clustering.synthesis_fallbacks",
		metric.WithDescription("Stories stored with the degraded fallback synthesis."))
	if err != nil {
		return nil, fmt.Errorf("create fallbacks counter: %w", err)
	}
	failures, err := meter.Int64Counter("storyline.clustering.cluster_failures",
		metric.WithDescription("Qualifying clusters that failed to materialize."))
	if err != nil {
		return nil, fmt.Errorf("create failures counter: %w", err)
	}
	duration, err := meter.Float64Histogram("storyline.clustering.run_duration",
		metric.WithDescription("Wall time of one clustering run."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return &runMetrics{
		articles:  articles,
		clusters:  clusters,
		stories:   stories,
		fallbacks: fallbacks,
		failures:  failures,
		duration:  duration,
	}, nil
}

func (m *runMetrics) record(ctx context.Context, result RunResult, seconds float64, runErr error) {
	if m == nil {
		return
	}
	outcome := "succeeded"
	if runErr != nil {
		outcome = "failed"
	}
	m.articles.Add(ctx, int64(result.ArticlesProcessed))
	m.clusters.Add(ctx, int64(result.ClusterCount))
	m.stories.Add(ctx, int64(result.StoriesCreated))
	m.fallbacks.Add(ctx, int64(result.Fallbacks))
	m.failures.Add(ctx, int64(result.Failures))
	m.duration.Record(ctx, seconds, metric.WithAttributes(attribute.String("outcome", outcome)))
}
