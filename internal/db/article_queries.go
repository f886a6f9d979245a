package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// ArticleRecord is the clustering view of one article row.
type ArticleRecord struct {
	ArticleID   int64
	Title       string
	Excerpt     string
	URL         string
	Source      string
	Language    string
	ImageURL    *string
	PublishedAt time.Time
}

// UnassignedArticleQuery selects recent articles that no story has claimed yet.
type UnassignedArticleQuery struct {
	Since  time.Time
	Limit  int
	Source string
}

// ListUnassignedArticles returns articles published at or after Since that have
// no story_articles link, newest first, capped at Limit.
func (p *Pool) ListUnassignedArticles(ctx context.Context, query UnassignedArticleQuery) ([]ArticleRecord, error) {
	if query.Limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	builder := psql.
		Select(
			"a.article_id",
			"a.title",
			"a.excerpt",
			"a.url",
			"a.source",
			"a.language",
			"a.image_url",
			"a.published_at",
		).
		From("storyline.articles a").
		Where(sq.GtOrEq{"a.published_at": query.Since.UTC()}).
		Where("NOT EXISTS (SELECT 1 FROM storyline.story_articles sa WHERE sa.article_id = a.article_id)").
		OrderBy("a.published_at DESC", "a.article_id DESC").
		Limit(uint64(query.Limit))
	if source := strings.TrimSpace(query.Source); source != "" {
		builder = builder.Where(sq.Eq{"a.source": source})
	}

	sqlText, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build unassigned articles query: %w", err)
	}

	rows, err := p.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("query unassigned articles: %w", err)
	}
	defer rows.Close()

	items := make([]ArticleRecord, 0, query.Limit)
	for rows.Next() {
		var row ArticleRecord
		if err := rows.Scan(
			&row.ArticleID,
			&row.Title,
			&row.Excerpt,
			&row.URL,
			&row.Source,
			&row.Language,
			&row.ImageURL,
			&row.PublishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan unassigned article: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unassigned articles: %w", err)
	}
	return items, nil
}

// ArticleInsert is one normalized article written by ingestion.
type ArticleInsert struct {
	Title       string
	Excerpt     string
	URL         string
	Source      string
	Language    string
	ImageURL    *string
	PublishedAt time.Time
}

// InsertArticle writes one article. inserted is false when the URL already exists.
func (p *Pool) InsertArticle(ctx context.Context, article ArticleInsert) (articleID int64, inserted bool, err error) {
	const q = `
INSERT INTO storyline.articles (
	title,
	excerpt,
	url,
	source,
	language,
	image_url,
	published_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (url) DO NOTHING
RETURNING article_id
`

	err = p.QueryRow(ctx, q,
		article.Title,
		article.Excerpt,
		article.URL,
		article.Source,
		article.Language,
		article.ImageURL,
		article.PublishedAt.UTC(),
	).Scan(&articleID)
	if err != nil {
		if IsNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("insert article: %w", err)
	}
	return articleID, true, nil
}

// ArticleStats summarizes the article backlog for status output.
type ArticleStats struct {
	Total      int64 `json:"total"`
	Unassigned int64 `json:"unassigned"`
}

func (p *Pool) GetArticleStats(ctx context.Context, since time.Time) (ArticleStats, error) {
	const q = `
SELECT
	COUNT(*),
	COUNT(*) FILTER (
		WHERE a.published_at >= $1
		  AND NOT EXISTS (SELECT 1 FROM storyline.story_articles sa WHERE sa.article_id = a.article_id)
	)
FROM storyline.articles a
`
	var stats ArticleStats
	if err := p.QueryRow(ctx, q, since.UTC()).Scan(&stats.Total, &stats.Unassigned); err != nil {
		return ArticleStats{}, fmt.Errorf("query article stats: %w", err)
	}
	return stats, nil
}
