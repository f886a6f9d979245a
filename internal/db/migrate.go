package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed sql/pre_automigrate.sql
var preAutoMigrateSQL string

//go:embed sql/post_automigrate.sql
var postAutoMigrateSQL string

//go:embed seed/sectors.yaml
var sectorsYAML []byte

type SectorSeed struct {
	Slug    string   `yaml:"slug"`
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

type sectorCatalog struct {
	Sectors []SectorSeed `yaml:"sectors"`
}

var (
	catalogOnce    sync.Once
	catalogSectors []SectorSeed
	catalogIndex   map[string]string
	catalogErr     error
)

// SectorCatalog returns the embedded sector seed list.
func SectorCatalog() ([]SectorSeed, error) {
	loadSectorCatalog()
	return catalogSectors, catalogErr
}

// SectorSlug maps a free-form sector label (slug, display name or alias) to a
// catalog slug. Matching is case-insensitive and ignores surrounding space.
func SectorSlug(label string) (string, bool) {
	loadSectorCatalog()
	if catalogErr != nil {
		return "", false
	}
	slug, ok := catalogIndex[normalizeSectorLabel(label)]
	return slug, ok
}

func loadSectorCatalog() {
	catalogOnce.Do(func() {
		var parsed sectorCatalog
		if err := yaml.Unmarshal(sectorsYAML, &parsed); err != nil {
			catalogErr = fmt.Errorf("parse sector catalog: %w", err)
			return
		}
		index := make(map[string]string, len(parsed.Sectors)*4)
		for _, sector := range parsed.Sectors {
			slug := strings.TrimSpace(sector.Slug)
			if slug == "" {
				catalogErr = fmt.Errorf("parse sector catalog: sector %q has no slug", sector.Name)
				return
			}
			index[normalizeSectorLabel(slug)] = slug
			index[normalizeSectorLabel(sector.Name)] = slug
			for _, alias := range sector.Aliases {
				index[normalizeSectorLabel(alias)] = slug
			}
		}
		catalogSectors = parsed.Sectors
		catalogIndex = index
	})
}

func normalizeSectorLabel(label string) string {
	normalized := strings.ToLower(strings.TrimSpace(label))
	normalized = strings.ReplaceAll(normalized, "_", " ")
	normalized = strings.ReplaceAll(normalized, "-", " ")
	return strings.Join(strings.Fields(normalized), " ")
}

func (p *Pool) autoMigrate(ctx context.Context) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	if err := executeMigrationSQL(ctx, p, "pre-auto-migrate", preAutoMigrateSQL); err != nil {
		return err
	}

	if err := p.gdb.WithContext(ctx).AutoMigrate(autoMigrateModels()...); err != nil {
		return fmt.Errorf("gorm auto-migrate models: %w", err)
	}

	if err := executeMigrationSQL(ctx, p, "post-auto-migrate", postAutoMigrateSQL); err != nil {
		return err
	}

	return p.seedSectors(ctx)
}

func (p *Pool) seedSectors(ctx context.Context) error {
	sectors, err := SectorCatalog()
	if err != nil {
		return err
	}
	for _, sector := range sectors {
		if _, err := p.Exec(ctx, `
INSERT INTO storyline.sectors (slug, name)
VALUES ($1, $2)
ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name
`, sector.Slug, sector.Name); err != nil {
			return fmt.Errorf("seed sector %s: %w", sector.Slug, err)
		}
	}
	return nil
}

func executeMigrationSQL(ctx context.Context, p *Pool, label, sqlText string) error {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return nil
	}
	if err := p.gdb.WithContext(ctx).Exec(trimmed).Error; err != nil {
		return fmt.Errorf("execute %s SQL: %w", label, err)
	}
	return nil
}
