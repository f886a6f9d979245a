package graph

import (
	"context"

	"horse.fit/storyline/internal/db"
)

// Store is the persistence surface the resolver and merger need. *db.Pool
// satisfies it.
type Store interface {
	FindEntityByKey(ctx context.Context, name, entityType string) (int64, error)
	FindEntitiesByName(ctx context.Context, name string) ([]db.EntityRecord, error)
	InsertEntity(ctx context.Context, name, entityType string) (int64, error)
	UpsertStoryEntity(ctx context.Context, storyID, entityID int64, role, context string) error
	UpsertEntityConnection(ctx context.Context, conn db.ConnectionUpsert) (int64, error)
}

var _ Store = (*db.Pool)(nil)
