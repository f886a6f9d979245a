package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/storyline/internal/db"
)

var (
	ErrEmptyEntityName   = errors.New("entity name is empty")
	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrEntityNotFound    = errors.New("entity not found")
)

const (
	RolePrimary   = "primary"
	RoleSecondary = "secondary"
	RoleMentioned = "mentioned"
)

var entityTypes = map[string]struct{}{
	"person":    {},
	"company":   {},
	"location":  {},
	"commodity": {},
	"sector":    {},
	"policy":    {},
	"event":     {},
}

func IsEntityType(value string) bool {
	_, ok := entityTypes[NormalizeType(value)]
	return ok
}

func NormalizeType(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// NormalizeRole maps unknown roles to mentioned.
func NormalizeRole(value string) string {
	switch role := strings.ToLower(strings.TrimSpace(value)); role {
	case RolePrimary, RoleSecondary, RoleMentioned:
		return role
	default:
		return RoleMentioned
	}
}

// Key is the dedup identity of an entity: case-folded trimmed name plus type.
type Key struct {
	Name string
	Type string
}

func KeyOf(name, entityType string) Key {
	return Key{Name: strings.ToLower(strings.TrimSpace(name)), Type: NormalizeType(entityType)}
}

// Resolver maps (name, type) pairs onto canonical entity rows, creating them
// on first sight.
type Resolver struct {
	store  Store
	logger zerolog.Logger
}

func NewResolver(store Store, logger zerolog.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// Resolve returns the id of the entity for (name, type), inserting it when no
// case-insensitive match exists. The stored name keeps the first-seen casing.
func (r *Resolver) Resolve(ctx context.Context, name, entityType string) (int64, error) {
	if r == nil || r.store == nil {
		return 0, fmt.Errorf("entity resolver is not initialized")
	}

	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return 0, ErrEmptyEntityName
	}
	kind := NormalizeType(entityType)
	if _, ok := entityTypes[kind]; !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownEntityType, entityType)
	}

	entityID, err := r.store.FindEntityByKey(ctx, trimmed, kind)
	if err == nil {
		return entityID, nil
	}
	if !db.IsNoRows(err) {
		return 0, fmt.Errorf("lookup entity %q (%s): %w", trimmed, kind, err)
	}

	entityID, err = r.store.InsertEntity(ctx, trimmed, kind)
	if err == nil {
		r.logger.Debug().
			Int64("entity_id", entityID).
			Str("entity_name", trimmed).
			Str("entity_type", kind).
			Msg("created entity")
		return entityID, nil
	}
	if !db.IsNoRows(err) {
		return 0, fmt.Errorf("insert entity %q (%s): %w", trimmed, kind, err)
	}

	// Lost an insert race on the unique key; the row exists now.
	entityID, err = r.store.FindEntityByKey(ctx, trimmed, kind)
	if err != nil {
		return 0, fmt.Errorf("re-read entity %q (%s) after conflict: %w", trimmed, kind, err)
	}
	return entityID, nil
}

// LinkToStory records that the entity appears in the story. Linking the same
// pair again refreshes role and context.
func (r *Resolver) LinkToStory(ctx context.Context, storyID, entityID int64, role, context string) error {
	if r == nil || r.store == nil {
		return fmt.Errorf("entity resolver is not initialized")
	}
	if storyID <= 0 || entityID <= 0 {
		return fmt.Errorf("story id and entity id are required")
	}
	if err := r.store.UpsertStoryEntity(ctx, storyID, entityID, NormalizeRole(role), strings.TrimSpace(context)); err != nil {
		return fmt.Errorf("link entity %d to story %d: %w", entityID, storyID, err)
	}
	return nil
}
