package clustering

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"horse.fit/storyline/internal/db"
	"horse.fit/storyline/internal/globaltime"
	"horse.fit/storyline/internal/jobs"
	"horse.fit/storyline/internal/pipeline"
	"horse.fit/storyline/internal/story"
)

const (
	DefaultWindow = 48 * time.Hour
	DefaultLimit  = 100
)

// ArticleSource reads the unassigned article batch. *db.Pool satisfies it.
type ArticleSource interface {
	ListUnassignedArticles(ctx context.Context, query db.UnassignedArticleQuery) ([]db.ArticleRecord, error)
}

type Materializer interface {
	Materialize(ctx context.Context, cluster pipeline.Cluster) (story.MaterializeResult, error)
}

var (
	_ ArticleSource = (*db.Pool)(nil)
	_ Materializer  = (*story.Orchestrator)(nil)
)

type Options struct {
	Window      time.Duration
	Limit       int
	Threshold   float64
	Concurrency int
	// Meter receives the run instruments; nil means the global provider.
	Meter metric.MeterProvider
}

func (o Options) normalized() Options {
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Threshold <= 0 {
		o.Threshold = pipeline.DefaultClusterThreshold
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	return o
}

// RunResult is what one clustering run reports to its trigger.
type RunResult struct {
	ArticlesProcessed int `json:"articles_processed"`
	StoriesCreated    int `json:"stories_created"`
	ClusterCount      int `json:"cluster_count"`
	Qualifying        int `json:"qualifying_clusters"`
	Fallbacks         int `json:"fallback_syntheses"`
	Failures          int `json:"failed_clusters"`
}

func (r RunResult) JobResult() jobs.Result {
	return jobs.Result{
		ArticlesProcessed: r.ArticlesProcessed,
		StoriesCreated:    r.StoriesCreated,
		ClusterCount:      r.ClusterCount,
	}
}

type Service struct {
	source       ArticleSource
	materializer Materializer
	opts         Options
	metrics      *runMetrics
	logger       zerolog.Logger
}

func NewService(source ArticleSource, materializer Materializer, opts Options, logger zerolog.Logger) (*Service, error) {
	if source == nil {
		return nil, fmt.Errorf("article source is required")
	}
	if materializer == nil {
		return nil, fmt.Errorf("story materializer is required")
	}
	metrics, err := newRunMetrics(opts.Meter)
	if err != nil {
		return nil, err
	}
	return &Service{
		source:       source,
		materializer: materializer,
		opts:         opts.normalized(),
		metrics:      metrics,
		logger:       logger,
	}, nil
}

// RunClustering reads the recent unassigned batch, groups it and turns every
// qualifying cluster into a story. A failing cluster is logged and skipped;
// only a failed batch read aborts the run.
func (s *Service) RunClustering(ctx context.Context) (RunResult, error) {
	started := globaltime.Now()
	result, err := s.run(ctx)
	s.metrics.record(ctx, result, globaltime.Since(started).Seconds(), err)
	return result, err
}

func (s *Service) run(ctx context.Context) (RunResult, error) {
	records, err := s.source.ListUnassignedArticles(ctx, db.UnassignedArticleQuery{
		Since: globaltime.UTC().Add(-s.opts.Window),
		Limit: s.opts.Limit,
	})
	if err != nil {
		return RunResult{}, fmt.Errorf("fetch unassigned articles: %w", err)
	}

	articles := make([]pipeline.Article, 0, len(records))
	for _, record := range records {
		articles = append(articles, toArticle(record))
	}

	clusters := pipeline.BuildClusters(articles, s.opts.Threshold)
	qualifying := pipeline.QualifyingClusters(clusters)
	result := RunResult{
		ArticlesProcessed: len(articles),
		ClusterCount:      len(clusters),
		Qualifying:        len(qualifying),
	}
	s.logger.Info().
		Int("articles", len(articles)).
		Int("clusters", len(clusters)).
		Int("qualifying", len(qualifying)).
		Msg("clusters built")

	if len(qualifying) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	materialize := func(cluster pipeline.Cluster) {
		res, err := s.materializer.Materialize(ctx, cluster)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			result.Failures++
			s.logger.Error().
				Err(err).
				Int("cluster_size", cluster.Size()).
				Ints64("article_ids", cluster.ArticleIDs()).
				Msg("cluster materialization failed")
			return
		}
		if res.Created {
			result.StoriesCreated++
		}
		if res.Fallback {
			result.Fallbacks++
		}
	}

	if s.opts.Concurrency == 1 {
		for _, cluster := range qualifying {
			if ctx.Err() != nil {
				break
			}
			materialize(cluster)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(s.opts.Concurrency)
		for _, cluster := range qualifying {
			if ctx.Err() != nil {
				break
			}
			cluster := cluster
			g.Go(func() error {
				materialize(cluster)
				return nil
			})
		}
		_ = g.Wait()
	}

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("clustering run interrupted: %w", err)
	}
	return result, nil
}

func toArticle(record db.ArticleRecord) pipeline.Article {
	article := pipeline.Article{
		ID:          record.ArticleID,
		Title:       strings.TrimSpace(record.Title),
		Excerpt:     strings.TrimSpace(record.Excerpt),
		URL:         record.URL,
		Source:      record.Source,
		PublishedAt: record.PublishedAt,
	}
	if record.ImageURL != nil {
		article.ImageURL = strings.TrimSpace(*record.ImageURL)
	}
	return article
}
