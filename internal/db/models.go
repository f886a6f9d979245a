package db

import (
	"encoding/json"
	"time"
)

// Article maps storyline.articles. Rows are written by ingestion and read-only to clustering.
type Article struct {
	ArticleID   int64     `gorm:"column:article_id;primaryKey;autoIncrement"`
	ArticleUUID string    `gorm:"column:article_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Title       string    `gorm:"column:title;type:text;not null"`
	Excerpt     string    `gorm:"column:excerpt;type:text;not null;default:''"`
	URL         string    `gorm:"column:url;type:text;not null;unique"`
	Source      string    `gorm:"column:source;type:text;not null"`
	Language    string    `gorm:"column:language;type:text;not null;default:und"`
	ImageURL    *string   `gorm:"column:image_url;type:text"`
	PublishedAt time.Time `gorm:"column:published_at;type:timestamptz;not null;index"`
	Processed   bool      `gorm:"column:processed;type:boolean;not null;default:false"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Article) TableName() string { return "storyline.articles" }

// Story maps storyline.stories.
type Story struct {
	StoryID           int64           `gorm:"column:story_id;primaryKey;autoIncrement"`
	StoryUUID         string          `gorm:"column:story_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Title             string          `gorm:"column:title;type:text;not null"`
	Summary           string          `gorm:"column:summary;type:text;not null;default:''"`
	Synthesis         json.RawMessage `gorm:"column:synthesis;type:jsonb;not null"`
	SynthesisProvider string          `gorm:"column:synthesis_provider;type:text;not null"`
	SynthesisFallback bool            `gorm:"column:synthesis_fallback;type:boolean;not null;default:false"`
	HeroImageURL      *string         `gorm:"column:hero_image_url;type:text"`
	Status            string          `gorm:"column:status;type:text;not null;default:published"`
	SourceCount       int             `gorm:"column:source_count;type:integer;not null;default:0"`
	ViewCount         int64           `gorm:"column:view_count;type:bigint;not null;default:0"`
	PublishedAt       time.Time       `gorm:"column:published_at;type:timestamptz;not null"`
	CreatedAt         time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Story) TableName() string { return "storyline.stories" }

// StoryArticle maps storyline.story_articles. article_id is unique: one story per article.
type StoryArticle struct {
	StoryID        int64     `gorm:"column:story_id;type:bigint;primaryKey"`
	ArticleID      int64     `gorm:"column:article_id;type:bigint;primaryKey;unique"`
	RelevanceScore float64   `gorm:"column:relevance_score;type:double precision;not null"`
	LinkedAt       time.Time `gorm:"column:linked_at;type:timestamptz;not null;default:now()"`
}

func (StoryArticle) TableName() string { return "storyline.story_articles" }

// Entity maps storyline.entities. Uniqueness on (lower(name), entity_type) lives in post-migrate SQL.
type Entity struct {
	EntityID   int64     `gorm:"column:entity_id;primaryKey;autoIncrement"`
	EntityUUID string    `gorm:"column:entity_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Name       string    `gorm:"column:name;type:text;not null"`
	EntityType string    `gorm:"column:entity_type;type:text;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Entity) TableName() string { return "storyline.entities" }

// StoryEntity maps storyline.story_entities.
type StoryEntity struct {
	StoryID   int64     `gorm:"column:story_id;type:bigint;primaryKey"`
	EntityID  int64     `gorm:"column:entity_id;type:bigint;primaryKey"`
	Role      string    `gorm:"column:role;type:text;not null;default:mentioned"`
	Context   string    `gorm:"column:context;type:text;not null;default:''"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (StoryEntity) TableName() string { return "storyline.story_entities" }

// EntityConnection maps storyline.entity_connections.
type EntityConnection struct {
	ConnectionID     int64     `gorm:"column:connection_id;primaryKey;autoIncrement"`
	SourceEntityID   int64     `gorm:"column:source_entity_id;type:bigint;not null;uniqueIndex:entity_connections_triple"`
	TargetEntityID   int64     `gorm:"column:target_entity_id;type:bigint;not null;uniqueIndex:entity_connections_triple"`
	RelationshipType string    `gorm:"column:relationship_type;type:text;not null;uniqueIndex:entity_connections_triple"`
	Label            string    `gorm:"column:label;type:text;not null"`
	Strength         float64   `gorm:"column:strength;type:double precision;not null;default:0.5"`
	Evidence         string    `gorm:"column:evidence;type:text;not null;default:''"`
	StoryID          int64     `gorm:"column:story_id;type:bigint;not null"`
	CreatedAt        time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt        time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (EntityConnection) TableName() string { return "storyline.entity_connections" }

// Sector maps storyline.sectors, seeded from seed/sectors.yaml.
type Sector struct {
	SectorID int64  `gorm:"column:sector_id;primaryKey;autoIncrement"`
	Slug     string `gorm:"column:slug;type:text;not null;unique"`
	Name     string `gorm:"column:name;type:text;not null"`
}

func (Sector) TableName() string { return "storyline.sectors" }

// StoryImpact maps storyline.story_impacts.
type StoryImpact struct {
	StoryID    int64     `gorm:"column:story_id;type:bigint;primaryKey"`
	SectorID   int64     `gorm:"column:sector_id;type:bigint;primaryKey"`
	ImpactType string    `gorm:"column:impact_type;type:text;not null"`
	Severity   int16     `gorm:"column:severity;type:smallint;not null"`
	Prediction string    `gorm:"column:prediction;type:text;not null;default:''"`
	Confidence float64   `gorm:"column:confidence;type:double precision;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (StoryImpact) TableName() string { return "storyline.story_impacts" }

// JobRun maps storyline.job_runs, the per-run audit log.
type JobRun struct {
	JobRunID          int64      `gorm:"column:job_run_id;primaryKey;autoIncrement"`
	JobRunUUID        string     `gorm:"column:job_run_uuid;type:uuid;not null;unique"`
	JobType           string     `gorm:"column:job_type;type:text;not null;index"`
	Status            string     `gorm:"column:status;type:text;not null"`
	ArticlesProcessed int        `gorm:"column:articles_processed;type:integer;not null;default:0"`
	StoriesCreated    int        `gorm:"column:stories_created;type:integer;not null;default:0"`
	ClusterCount      int        `gorm:"column:cluster_count;type:integer;not null;default:0"`
	StartedAt         time.Time  `gorm:"column:started_at;type:timestamptz;not null"`
	FinishedAt        *time.Time `gorm:"column:finished_at;type:timestamptz"`
	ErrorMessage      *string    `gorm:"column:error_message;type:text"`
}

func (JobRun) TableName() string { return "storyline.job_runs" }

func autoMigrateModels() []any {
	return []any{
		&Article{},
		&Story{},
		&StoryArticle{},
		&Entity{},
		&StoryEntity{},
		&EntityConnection{},
		&Sector{},
		&StoryImpact{},
		&JobRun{},
	}
}
