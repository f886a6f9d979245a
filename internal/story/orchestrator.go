package story

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/storyline/internal/db"
	"horse.fit/storyline/internal/globaltime"
	"horse.fit/storyline/internal/graph"
	"horse.fit/storyline/internal/pipeline"
	"horse.fit/storyline/internal/synthesis"
)

const DefaultSynthesisTimeout = 90 * time.Second

// Store persists stories and sector impacts. *db.Pool satisfies it.
type Store interface {
	CreateStory(ctx context.Context, params db.CreateStoryParams) (db.CreatedStory, error)
	FindSectorID(ctx context.Context, slug string) (int64, error)
	UpsertStoryImpact(ctx context.Context, impact db.StoryImpactUpsert) error
}

type EntityResolver interface {
	Resolve(ctx context.Context, name, entityType string) (int64, error)
	LinkToStory(ctx context.Context, storyID, entityID int64, role, context string) error
}

type ConnectionMerger interface {
	Merge(ctx context.Context, input graph.ConnectionInput) (graph.MergeResult, error)
}

var (
	_ Store            = (*db.Pool)(nil)
	_ EntityResolver   = (*graph.Resolver)(nil)
	_ ConnectionMerger = (*graph.Merger)(nil)
)

// MaterializeResult reports what one cluster turned into.
type MaterializeResult struct {
	StoryID            int64
	Created            bool
	Fallback           bool
	SourceCount        int
	EntitiesLinked     int
	EntitiesSkipped    int
	ConnectionsMerged  int
	ConnectionsSkipped int
	ImpactsRecorded    int
	ImpactsSkipped     int
}

// Orchestrator turns a qualifying cluster into a persisted story and merges
// the extracted graph into the shared entity store.
type Orchestrator struct {
	synthesizer synthesis.Synthesizer
	store       Store
	resolver    EntityResolver
	merger      ConnectionMerger
	timeout     time.Duration
	logger      zerolog.Logger
}

type Options struct {
	Synthesizer synthesis.Synthesizer
	Store       Store
	Resolver    EntityResolver
	Merger      ConnectionMerger
	Timeout     time.Duration
	Logger      zerolog.Logger
}

func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Synthesizer == nil {
		return nil, fmt.Errorf("synthesizer is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("story store is required")
	}
	if opts.Resolver == nil || opts.Merger == nil {
		return nil, fmt.Errorf("entity resolver and connection merger are required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultSynthesisTimeout
	}
	return &Orchestrator{
		synthesizer: opts.Synthesizer,
		store:       opts.Store,
		resolver:    opts.Resolver,
		merger:      opts.Merger,
		timeout:     timeout,
		logger:      opts.Logger,
	}, nil
}

// Materialize synthesizes and stores one story for cluster. Clusters with
// fewer than two articles are ignored. Synthesis errors, timeouts and invalid
// payloads fall back to a degraded synthesis, so a qualifying cluster always
// yields a story unless persistence itself fails.
func (o *Orchestrator) Materialize(ctx context.Context, cluster pipeline.Cluster) (MaterializeResult, error) {
	if !cluster.Qualifies() {
		return MaterializeResult{}, nil
	}

	logger := o.logger.With().
		Int("cluster_size", cluster.Size()).
		Float64("cluster_score", cluster.Score).
		Logger()

	req := buildRequest(cluster)
	result, providerName, fallback, err := o.synthesize(ctx, req, logger)
	if err != nil {
		return MaterializeResult{}, err
	}

	synthesisJSON, err := json.Marshal(result)
	if err != nil {
		return MaterializeResult{}, fmt.Errorf("marshal synthesis: %w", err)
	}

	members := make([]db.StoryMember, 0, cluster.Size())
	for _, article := range cluster.Articles {
		members = append(members, db.StoryMember{ArticleID: article.ID, RelevanceScore: cluster.Score})
	}

	created, err := o.store.CreateStory(ctx, db.CreateStoryParams{
		Title:             result.Title,
		Summary:           result.Summary,
		Synthesis:         synthesisJSON,
		SynthesisProvider: providerName,
		SynthesisFallback: fallback,
		HeroImageURL:      heroImage(cluster),
		PublishedAt:       globaltime.UTC(),
		Members:           members,
	})
	if errors.Is(err, db.ErrNoArticlesLinked) {
		logger.Warn().Ints64("article_ids", cluster.ArticleIDs()).Msg("cluster articles already claimed by another story")
		return MaterializeResult{}, nil
	}
	if err != nil {
		return MaterializeResult{}, fmt.Errorf("persist story: %w", err)
	}

	out := MaterializeResult{
		StoryID:     created.StoryID,
		Created:     true,
		Fallback:    fallback,
		SourceCount: created.SourceCount,
	}
	logger = logger.With().Int64("story_id", created.StoryID).Logger()

	o.mergeEntities(ctx, created.StoryID, result.Entities, &out, logger)
	o.mergeConnections(ctx, created.StoryID, result, &out, logger)
	o.recordImpacts(ctx, created.StoryID, result.Impacts, &out, logger)

	logger.Info().
		Bool("fallback", fallback).
		Str("synthesis_provider", providerName).
		Int("source_count", out.SourceCount).
		Int("entities_linked", out.EntitiesLinked).
		Int("connections_merged", out.ConnectionsMerged).
		Int("connections_skipped", out.ConnectionsSkipped).
		Int("impacts_recorded", out.ImpactsRecorded).
		Msg("story materialized")
	return out, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, req synthesis.Request, logger zerolog.Logger) (*synthesis.Result, string, bool, error) {
	synthCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	started := globaltime.Now()
	result, err := o.synthesizer.Synthesize(synthCtx, req)
	if err == nil && result == nil {
		err = fmt.Errorf("synthesizer returned no result")
	}
	if err == nil {
		logger.Debug().Dur("duration", globaltime.Since(started)).Msg("synthesis succeeded")
		return result, o.synthesizer.Name(), false, nil
	}

	// The run itself is being cancelled; there is nothing to persist into.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, "", false, fmt.Errorf("synthesis aborted: %w", ctxErr)
	}

	reason := "error"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		reason = "timeout"
	case errors.Is(err, synthesis.ErrInvalidResult):
		reason = "invalid_payload"
	}
	logger.Warn().
		Err(err).
		Str("reason", reason).
		Str("synthesis_provider", o.synthesizer.Name()).
		Msg("synthesis failed, using fallback")
	return synthesis.Fallback(req), synthesis.FallbackProviderName, true, nil
}

func (o *Orchestrator) mergeEntities(ctx context.Context, storyID int64, entities []synthesis.Entity, out *MaterializeResult, logger zerolog.Logger) {
	for _, entity := range entities {
		entityID, err := o.resolver.Resolve(ctx, entity.Name, entity.Type)
		if err != nil {
			out.EntitiesSkipped++
			logger.Warn().Err(err).Str("entity_name", entity.Name).Str("entity_type", entity.Type).Msg("skipping entity")
			continue
		}
		if err := o.resolver.LinkToStory(ctx, storyID, entityID, entity.Role, entity.Context); err != nil {
			out.EntitiesSkipped++
			logger.Warn().Err(err).Int64("entity_id", entityID).Msg("skipping entity link")
			continue
		}
		out.EntitiesLinked++
	}
}

func (o *Orchestrator) mergeConnections(ctx context.Context, storyID int64, result *synthesis.Result, out *MaterializeResult, logger zerolog.Logger) {
	if len(result.Connections) == 0 {
		return
	}
	hints := typeHints(result.Entities)
	for _, conn := range result.Connections {
		merged, err := o.merger.Merge(ctx, graph.ConnectionInput{
			SourceName:       conn.Source,
			TargetName:       conn.Target,
			RelationshipType: conn.Relationship,
			Label:            conn.Label,
			Strength:         conn.Strength,
			Evidence:         conn.Evidence,
			StoryID:          storyID,
			TypeHints:        hints,
		})
		if err != nil {
			out.ConnectionsSkipped++
			logger.Warn().Err(err).Str("source", conn.Source).Str("target", conn.Target).Msg("skipping connection")
			continue
		}
		if merged.Skipped {
			out.ConnectionsSkipped++
			continue
		}
		out.ConnectionsMerged++
	}
}

func (o *Orchestrator) recordImpacts(ctx context.Context, storyID int64, impacts []synthesis.Impact, out *MaterializeResult, logger zerolog.Logger) {
	for _, impact := range impacts {
		slug, ok := db.SectorSlug(impact.Sector)
		if !ok {
			out.ImpactsSkipped++
			logger.Warn().Str("sector", impact.Sector).Msg("skipping impact for unknown sector")
			continue
		}
		sectorID, err := o.store.FindSectorID(ctx, slug)
		if err != nil {
			out.ImpactsSkipped++
			logger.Warn().Err(err).Str("sector", slug).Msg("skipping impact, sector lookup failed")
			continue
		}
		if err := o.store.UpsertStoryImpact(ctx, db.StoryImpactUpsert{
			StoryID:    storyID,
			SectorID:   sectorID,
			ImpactType: strings.ToLower(strings.TrimSpace(impact.Type)),
			Severity:   min(max(impact.Severity, 1), 5),
			Prediction: strings.TrimSpace(impact.Prediction),
			Confidence: min(max(impact.Confidence, 0), 1),
		}); err != nil {
			out.ImpactsSkipped++
			logger.Warn().Err(err).Str("sector", slug).Msg("skipping impact")
			continue
		}
		out.ImpactsRecorded++
	}
}

func buildRequest(cluster pipeline.Cluster) synthesis.Request {
	articles := make([]synthesis.ArticleInput, 0, cluster.Size())
	for _, article := range cluster.Articles {
		articles = append(articles, synthesis.ArticleInput{
			ID:          article.ID,
			Title:       article.Title,
			Excerpt:     article.Excerpt,
			URL:         article.URL,
			Source:      article.Source,
			PublishedAt: article.PublishedAt,
		})
	}
	return synthesis.Request{Articles: articles}
}

func heroImage(cluster pipeline.Cluster) *string {
	for _, article := range cluster.Articles {
		if image := strings.TrimSpace(article.ImageURL); image != "" {
			return &image
		}
	}
	return nil
}

// typeHints maps each extracted entity name to its type. A name extracted
// with two different types carries no hint.
func typeHints(entities []synthesis.Entity) map[string]string {
	hints := make(map[string]string, len(entities))
	for _, entity := range entities {
		key := graph.KeyOf(entity.Name, entity.Type)
		if key.Name == "" {
			continue
		}
		if existing, ok := hints[key.Name]; ok && existing != key.Type {
			hints[key.Name] = ""
			continue
		}
		hints[key.Name] = key.Type
	}
	return hints
}
