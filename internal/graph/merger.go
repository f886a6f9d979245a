package graph

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/storyline/internal/db"
)

const defaultConnectionStrength = 0.5

// ConnectionInput is one relationship extracted from a story synthesis.
// TypeHints maps dedup names (see KeyOf) to the entity types extracted by
// the same synthesis, so endpoints resolve against the right entity.
type ConnectionInput struct {
	SourceName       string
	TargetName       string
	RelationshipType string
	Label            string
	Strength         *float64
	Evidence         string
	StoryID          int64
	TypeHints        map[string]string
}

type MergeResult struct {
	ConnectionID int64
	Skipped      bool
	Reason       string
}

// Merger upserts connections between entities that already exist.
type Merger struct {
	store  Store
	logger zerolog.Logger
}

func NewMerger(store Store, logger zerolog.Logger) *Merger {
	return &Merger{store: store, logger: logger}
}

// Merge writes one connection. An endpoint that cannot be resolved to a
// single existing entity skips the connection without error; connections
// never create entities. An existing (source, target, relationship) edge
// takes the new label, strength, evidence and story.
func (m *Merger) Merge(ctx context.Context, input ConnectionInput) (MergeResult, error) {
	if m == nil || m.store == nil {
		return MergeResult{}, fmt.Errorf("connection merger is not initialized")
	}

	relationship := NormalizeRelationship(input.RelationshipType)
	if relationship == "" {
		return m.skip(input, "missing relationship type"), nil
	}

	sourceID, err := m.resolveEndpoint(ctx, input.SourceName, input.TypeHints)
	if errors.Is(err, ErrEntityNotFound) {
		return m.skip(input, "source entity not found"), nil
	}
	if err != nil {
		return MergeResult{}, err
	}
	targetID, err := m.resolveEndpoint(ctx, input.TargetName, input.TypeHints)
	if errors.Is(err, ErrEntityNotFound) {
		return m.skip(input, "target entity not found"), nil
	}
	if err != nil {
		return MergeResult{}, err
	}
	if sourceID == targetID {
		return m.skip(input, "self connection"), nil
	}

	label := strings.TrimSpace(input.Label)
	if label == "" {
		label = HumanizeRelationship(relationship)
	}
	strength := defaultConnectionStrength
	if input.Strength != nil {
		strength = clampStrength(*input.Strength)
	}

	connectionID, err := m.store.UpsertEntityConnection(ctx, db.ConnectionUpsert{
		SourceEntityID:   sourceID,
		TargetEntityID:   targetID,
		RelationshipType: relationship,
		Label:            label,
		Strength:         strength,
		Evidence:         strings.TrimSpace(input.Evidence),
		StoryID:          input.StoryID,
	})
	if err != nil {
		return MergeResult{}, fmt.Errorf("merge connection %s -[%s]-> %s: %w", input.SourceName, relationship, input.TargetName, err)
	}
	return MergeResult{ConnectionID: connectionID}, nil
}

// resolveEndpoint returns ErrEntityNotFound when the name does not map to
// exactly one entity.
func (m *Merger) resolveEndpoint(ctx context.Context, name string, hints map[string]string) (int64, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return 0, ErrEntityNotFound
	}

	if hinted, ok := hints[KeyOf(trimmed, "").Name]; ok && hinted != "" {
		entityID, err := m.store.FindEntityByKey(ctx, trimmed, NormalizeType(hinted))
		if err == nil {
			return entityID, nil
		}
		if !db.IsNoRows(err) {
			return 0, fmt.Errorf("lookup entity %q (%s): %w", trimmed, hinted, err)
		}
		return 0, ErrEntityNotFound
	}

	matches, err := m.store.FindEntitiesByName(ctx, trimmed)
	if err != nil {
		return 0, fmt.Errorf("lookup entity %q: %w", trimmed, err)
	}
	if len(matches) != 1 {
		return 0, ErrEntityNotFound
	}
	return matches[0].EntityID, nil
}

func (m *Merger) skip(input ConnectionInput, reason string) MergeResult {
	m.logger.Warn().
		Int64("story_id", input.StoryID).
		Str("source", input.SourceName).
		Str("target", input.TargetName).
		Str("relationship", input.RelationshipType).
		Str("reason", reason).
		Msg("skipping connection")
	return MergeResult{Skipped: true, Reason: reason}
}

// NormalizeRelationship lowercases and snake-cases a relationship type.
func NormalizeRelationship(value string) string {
	fields := strings.FieldsFunc(strings.ToLower(strings.TrimSpace(value)), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	})
	return strings.Join(fields, "_")
}

// HumanizeRelationship turns "supplies_to" into "supplies to".
func HumanizeRelationship(relationship string) string {
	return strings.ReplaceAll(relationship, "_", " ")
}

func clampStrength(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
