package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNoArticlesLinked is returned by CreateStory when every member article was
// already claimed by another story. The story insert is rolled back.
var ErrNoArticlesLinked = errors.New("no articles linked to story")

// StoryMember links one article into a new story.
type StoryMember struct {
	ArticleID      int64
	RelevanceScore float64
}

// CreateStoryParams carries a synthesized story and its member articles.
type CreateStoryParams struct {
	Title             string
	Summary           string
	Synthesis         json.RawMessage
	SynthesisProvider string
	SynthesisFallback bool
	HeroImageURL      *string
	PublishedAt       time.Time
	Members           []StoryMember
}

// CreatedStory is the outcome of CreateStory.
type CreatedStory struct {
	StoryID     int64
	StoryUUID   string
	SourceCount int
}

// CreateStory inserts the story, links its articles and sets source_count in
// one transaction. Articles already linked to another story are left alone.
func (p *Pool) CreateStory(ctx context.Context, params CreateStoryParams) (CreatedStory, error) {
	var created CreatedStory
	err := p.WithTx(ctx, func(tx Tx) error {
		var err error
		created, err = createStoryTx(ctx, tx, params)
		return err
	})
	if err != nil {
		return CreatedStory{}, err
	}
	return created, nil
}

func createStoryTx(ctx context.Context, tx Querier, params CreateStoryParams) (CreatedStory, error) {
	synthesis := params.Synthesis
	if len(synthesis) == 0 {
		synthesis = json.RawMessage(`{}`)
	}

	var created CreatedStory
	if err := tx.QueryRow(ctx, `
INSERT INTO storyline.stories (
	title,
	summary,
	synthesis,
	synthesis_provider,
	synthesis_fallback,
	hero_image_url,
	status,
	source_count,
	published_at,
	created_at,
	updated_at
)
VALUES ($1, $2, $3::jsonb, $4, $5, $6, 'published', 0, $7, now(), now())
RETURNING story_id, story_uuid::text
`,
		params.Title,
		params.Summary,
		string(synthesis),
		params.SynthesisProvider,
		params.SynthesisFallback,
		params.HeroImageURL,
		params.PublishedAt.UTC(),
	).Scan(&created.StoryID, &created.StoryUUID); err != nil {
		return CreatedStory{}, fmt.Errorf("insert story: %w", err)
	}

	linked := 0
	for _, member := range params.Members {
		tag, err := tx.Exec(ctx, `
INSERT INTO storyline.story_articles (story_id, article_id, relevance_score, linked_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (article_id) DO NOTHING
`, created.StoryID, member.ArticleID, member.RelevanceScore)
		if err != nil {
			return CreatedStory{}, fmt.Errorf("link article %d: %w", member.ArticleID, err)
		}
		linked += int(tag.RowsAffected())
	}
	if linked == 0 {
		return CreatedStory{}, ErrNoArticlesLinked
	}

	if _, err := tx.Exec(ctx, `
UPDATE storyline.stories
SET source_count = $2, updated_at = now()
WHERE story_id = $1
`, created.StoryID, linked); err != nil {
		return CreatedStory{}, fmt.Errorf("update story source count: %w", err)
	}
	created.SourceCount = linked
	return created, nil
}

// StoryDetail contains one story with its articles, entities and impacts.
type StoryDetail struct {
	Story    StoryHeader          `json:"story"`
	Articles []StoryDetailArticle `json:"articles"`
	Entities []StoryDetailEntity  `json:"entities"`
	Impacts  []StoryDetailImpact  `json:"impacts"`
}

type StoryHeader struct {
	StoryID           int64           `json:"story_id"`
	StoryUUID         string          `json:"story_uuid"`
	Title             string          `json:"title"`
	Summary           string          `json:"summary"`
	Synthesis         json.RawMessage `json:"synthesis"`
	SynthesisProvider string          `json:"synthesis_provider"`
	SynthesisFallback bool            `json:"synthesis_fallback"`
	HeroImageURL      *string         `json:"hero_image_url,omitempty"`
	Status            string          `json:"status"`
	SourceCount       int             `json:"source_count"`
	PublishedAt       time.Time       `json:"published_at"`
	CreatedAt         time.Time       `json:"created_at"`
}

type StoryDetailArticle struct {
	ArticleID      int64     `json:"article_id"`
	Title          string    `json:"title"`
	URL            string    `json:"url"`
	Source         string    `json:"source"`
	PublishedAt    time.Time `json:"published_at"`
	RelevanceScore float64   `json:"relevance_score"`
}

type StoryDetailEntity struct {
	EntityID   int64  `json:"entity_id"`
	Name       string `json:"name"`
	EntityType string `json:"entity_type"`
	Role       string `json:"role"`
	Context    string `json:"context"`
}

type StoryDetailImpact struct {
	SectorSlug string  `json:"sector"`
	SectorName string  `json:"sector_name"`
	ImpactType string  `json:"impact_type"`
	Severity   int16   `json:"severity"`
	Prediction string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
}

// GetStoryDetail returns ErrNoRows when the story does not exist.
func (p *Pool) GetStoryDetail(ctx context.Context, storyID int64) (*StoryDetail, error) {
	var header StoryHeader
	var synthesis []byte
	if err := p.QueryRow(ctx, `
SELECT
	s.story_id,
	s.story_uuid::text,
	s.title,
	s.summary,
	s.synthesis,
	s.synthesis_provider,
	s.synthesis_fallback,
	s.hero_image_url,
	s.status,
	s.source_count,
	s.published_at,
	s.created_at
FROM storyline.stories s
WHERE s.story_id = $1
`, storyID).Scan(
		&header.StoryID,
		&header.StoryUUID,
		&header.Title,
		&header.Summary,
		&synthesis,
		&header.SynthesisProvider,
		&header.SynthesisFallback,
		&header.HeroImageURL,
		&header.Status,
		&header.SourceCount,
		&header.PublishedAt,
		&header.CreatedAt,
	); err != nil {
		if errors.Is(err, ErrNoRows) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("query story header: %w", err)
	}
	header.Synthesis = json.RawMessage(synthesis)

	detail := &StoryDetail{Story: header}

	articleRows, err := p.Query(ctx, `
SELECT a.article_id, a.title, a.url, a.source, a.published_at, sa.relevance_score
FROM storyline.story_articles sa
JOIN storyline.articles a ON a.article_id = sa.article_id
WHERE sa.story_id = $1
ORDER BY a.published_at DESC, a.article_id DESC
`, storyID)
	if err != nil {
		return nil, fmt.Errorf("query story articles: %w", err)
	}
	defer articleRows.Close()
	for articleRows.Next() {
		var row StoryDetailArticle
		if err := articleRows.Scan(&row.ArticleID, &row.Title, &row.URL, &row.Source, &row.PublishedAt, &row.RelevanceScore); err != nil {
			return nil, fmt.Errorf("scan story article: %w", err)
		}
		detail.Articles = append(detail.Articles, row)
	}
	if err := articleRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate story articles: %w", err)
	}

	entityRows, err := p.Query(ctx, `
SELECT e.entity_id, e.name, e.entity_type, se.role, se.context
FROM storyline.story_entities se
JOIN storyline.entities e ON e.entity_id = se.entity_id
WHERE se.story_id = $1
ORDER BY CASE se.role WHEN 'primary' THEN 0 WHEN 'secondary' THEN 1 ELSE 2 END, e.name
`, storyID)
	if err != nil {
		return nil, fmt.Errorf("query story entities: %w", err)
	}
	defer entityRows.Close()
	for entityRows.Next() {
		var row StoryDetailEntity
		if err := entityRows.Scan(&row.EntityID, &row.Name, &row.EntityType, &row.Role, &row.Context); err != nil {
			return nil, fmt.Errorf("scan story entity: %w", err)
		}
		detail.Entities = append(detail.Entities, row)
	}
	if err := entityRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate story entities: %w", err)
	}

	impactRows, err := p.Query(ctx, `
SELECT sec.slug, sec.name, si.impact_type, si.severity, si.prediction, si.confidence
FROM storyline.story_impacts si
JOIN storyline.sectors sec ON sec.sector_id = si.sector_id
WHERE si.story_id = $1
ORDER BY si.severity DESC, sec.slug
`, storyID)
	if err != nil {
		return nil, fmt.Errorf("query story impacts: %w", err)
	}
	defer impactRows.Close()
	for impactRows.Next() {
		var row StoryDetailImpact
		if err := impactRows.Scan(&row.SectorSlug, &row.SectorName, &row.ImpactType, &row.Severity, &row.Prediction, &row.Confidence); err != nil {
			return nil, fmt.Errorf("scan story impact: %w", err)
		}
		detail.Impacts = append(detail.Impacts, row)
	}
	if err := impactRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate story impacts: %w", err)
	}

	return detail, nil
}

// FindSectorID resolves a catalog slug to its sector id. ErrNoRows when unseeded.
func (p *Pool) FindSectorID(ctx context.Context, slug string) (int64, error) {
	var sectorID int64
	if err := p.QueryRow(ctx, `SELECT sector_id FROM storyline.sectors WHERE slug = $1`, slug).Scan(&sectorID); err != nil {
		if errors.Is(err, ErrNoRows) {
			return 0, ErrNoRows
		}
		return 0, fmt.Errorf("query sector %s: %w", slug, err)
	}
	return sectorID, nil
}

// StoryImpactUpsert is one predicted sector impact for a story.
type StoryImpactUpsert struct {
	StoryID    int64
	SectorID   int64
	ImpactType string
	Severity   int
	Prediction string
	Confidence float64
}

func (p *Pool) UpsertStoryImpact(ctx context.Context, impact StoryImpactUpsert) error {
	if _, err := p.Exec(ctx, `
INSERT INTO storyline.story_impacts (story_id, sector_id, impact_type, severity, prediction, confidence, created_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (story_id, sector_id) DO UPDATE SET
	impact_type = EXCLUDED.impact_type,
	severity = EXCLUDED.severity,
	prediction = EXCLUDED.prediction,
	confidence = EXCLUDED.confidence
`,
		impact.StoryID,
		impact.SectorID,
		impact.ImpactType,
		impact.Severity,
		impact.Prediction,
		impact.Confidence,
	); err != nil {
		return fmt.Errorf("upsert story impact: %w", err)
	}
	return nil
}
