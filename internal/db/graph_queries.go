package db

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EntityRecord is one row of storyline.entities.
type EntityRecord struct {
	EntityID   int64     `json:"entity_id"`
	EntityUUID string    `json:"entity_uuid"`
	Name       string    `json:"name"`
	EntityType string    `json:"entity_type"`
	CreatedAt  time.Time `json:"created_at"`
}

// FindEntityByKey looks up an entity by case-insensitive name and exact type.
func (p *Pool) FindEntityByKey(ctx context.Context, name, entityType string) (int64, error) {
	var entityID int64
	if err := p.QueryRow(ctx, `
SELECT entity_id
FROM storyline.entities
WHERE lower(name) = lower($1)
  AND entity_type = $2
`, name, entityType).Scan(&entityID); err != nil {
		if errors.Is(err, ErrNoRows) {
			return 0, ErrNoRows
		}
		return 0, fmt.Errorf("query entity by key: %w", err)
	}
	return entityID, nil
}

// FindEntitiesByName returns every entity whose name matches case-insensitively.
func (p *Pool) FindEntitiesByName(ctx context.Context, name string) ([]EntityRecord, error) {
	rows, err := p.Query(ctx, `
SELECT entity_id, entity_uuid::text, name, entity_type, created_at
FROM storyline.entities
WHERE lower(name) = lower($1)
ORDER BY entity_id
`, name)
	if err != nil {
		return nil, fmt.Errorf("query entities by name: %w", err)
	}
	defer rows.Close()

	var items []EntityRecord
	for rows.Next() {
		var row EntityRecord
		if err := rows.Scan(&row.EntityID, &row.EntityUUID, &row.Name, &row.EntityType, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return items, nil
}

// InsertEntity creates an entity. It returns ErrNoRows when a concurrent writer
// already holds the (lower(name), type) key; callers re-read in that case.
func (p *Pool) InsertEntity(ctx context.Context, name, entityType string) (int64, error) {
	var entityID int64
	if err := p.QueryRow(ctx, `
INSERT INTO storyline.entities (name, entity_type, created_at)
VALUES ($1, $2, now())
ON CONFLICT DO NOTHING
RETURNING entity_id
`, name, entityType).Scan(&entityID); err != nil {
		if errors.Is(err, ErrNoRows) {
			return 0, ErrNoRows
		}
		return 0, fmt.Errorf("insert entity: %w", err)
	}
	return entityID, nil
}

func (p *Pool) GetEntity(ctx context.Context, entityID int64) (*EntityRecord, error) {
	var row EntityRecord
	if err := p.QueryRow(ctx, `
SELECT entity_id, entity_uuid::text, name, entity_type, created_at
FROM storyline.entities
WHERE entity_id = $1
`, entityID).Scan(&row.EntityID, &row.EntityUUID, &row.Name, &row.EntityType, &row.CreatedAt); err != nil {
		if errors.Is(err, ErrNoRows) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("query entity: %w", err)
	}
	return &row, nil
}

// UpsertStoryEntity links an entity to a story; a repeat link refreshes role and context.
func (p *Pool) UpsertStoryEntity(ctx context.Context, storyID, entityID int64, role, context string) error {
	if _, err := p.Exec(ctx, `
INSERT INTO storyline.story_entities (story_id, entity_id, role, context, created_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (story_id, entity_id) DO UPDATE SET
	role = EXCLUDED.role,
	context = EXCLUDED.context
`, storyID, entityID, role, context); err != nil {
		return fmt.Errorf("upsert story entity: %w", err)
	}
	return nil
}

// ConnectionUpsert is one directed, typed edge between two existing entities.
type ConnectionUpsert struct {
	SourceEntityID   int64
	TargetEntityID   int64
	RelationshipType string
	Label            string
	Strength         float64
	Evidence         string
	StoryID          int64
}

// UpsertEntityConnection writes the edge; on an existing
// (source, target, relationship) triple the newest values replace the old ones.
func (p *Pool) UpsertEntityConnection(ctx context.Context, conn ConnectionUpsert) (int64, error) {
	var connectionID int64
	if err := p.QueryRow(ctx, `
INSERT INTO storyline.entity_connections (
	source_entity_id,
	target_entity_id,
	relationship_type,
	label,
	strength,
	evidence,
	story_id,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
ON CONFLICT (source_entity_id, target_entity_id, relationship_type) DO UPDATE SET
	label = EXCLUDED.label,
	strength = EXCLUDED.strength,
	evidence = EXCLUDED.evidence,
	story_id = EXCLUDED.story_id,
	updated_at = now()
RETURNING connection_id
`,
		conn.SourceEntityID,
		conn.TargetEntityID,
		conn.RelationshipType,
		conn.Label,
		conn.Strength,
		conn.Evidence,
		conn.StoryID,
	).Scan(&connectionID); err != nil {
		return 0, fmt.Errorf("upsert entity connection: %w", err)
	}
	return connectionID, nil
}

// ConnectionRecord is one edge touching an entity, with the far endpoint resolved.
type ConnectionRecord struct {
	ConnectionID     int64     `json:"connection_id"`
	Direction        string    `json:"direction"`
	OtherEntityID    int64     `json:"other_entity_id"`
	OtherEntityName  string    `json:"other_entity_name"`
	OtherEntityType  string    `json:"other_entity_type"`
	RelationshipType string    `json:"relationship_type"`
	Label            string    `json:"label"`
	Strength         float64   `json:"strength"`
	Evidence         string    `json:"evidence"`
	StoryID          int64     `json:"story_id"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ListEntityConnections returns outgoing and incoming edges, strongest first.
func (p *Pool) ListEntityConnections(ctx context.Context, entityID int64, limit int) ([]ConnectionRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	rows, err := p.Query(ctx, `
SELECT
	c.connection_id,
	CASE WHEN c.source_entity_id = $1 THEN 'outgoing' ELSE 'incoming' END,
	other.entity_id,
	other.name,
	other.entity_type,
	c.relationship_type,
	c.label,
	c.strength,
	c.evidence,
	c.story_id,
	c.updated_at
FROM storyline.entity_connections c
JOIN storyline.entities other
	ON other.entity_id = CASE WHEN c.source_entity_id = $1 THEN c.target_entity_id ELSE c.source_entity_id END
WHERE c.source_entity_id = $1 OR c.target_entity_id = $1
ORDER BY c.strength DESC, c.updated_at DESC, c.connection_id DESC
LIMIT $2
`, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query entity connections: %w", err)
	}
	defer rows.Close()

	items := make([]ConnectionRecord, 0, min(limit, 64))
	for rows.Next() {
		var row ConnectionRecord
		if err := rows.Scan(
			&row.ConnectionID,
			&row.Direction,
			&row.OtherEntityID,
			&row.OtherEntityName,
			&row.OtherEntityType,
			&row.RelationshipType,
			&row.Label,
			&row.Strength,
			&row.Evidence,
			&row.StoryID,
			&row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan entity connection: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity connections: %w", err)
	}
	return items, nil
}
