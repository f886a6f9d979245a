package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/storyline/internal/db"
	"horse.fit/storyline/internal/jobs"
)

const maxLineBytes = 4 << 20

// ArticleStore persists normalized articles; duplicates by URL are reported, not errors.
type ArticleStore interface {
	InsertArticle(ctx context.Context, article db.ArticleInsert) (int64, bool, error)
}

var _ ArticleStore = (*db.Pool)(nil)

type Service struct {
	store  ArticleStore
	logger zerolog.Logger
}

// Result counts what one import saw.
type Result struct {
	Files      int `json:"files"`
	Scanned    int `json:"scanned"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Invalid    int `json:"invalid"`
}

func (r *Result) add(other Result) {
	r.Files += other.Files
	r.Scanned += other.Scanned
	r.Inserted += other.Inserted
	r.Duplicates += other.Duplicates
	r.Invalid += other.Invalid
}

// JobResult maps the import counters onto the job log shape.
func (r Result) JobResult() jobs.Result {
	return jobs.Result{ArticlesProcessed: r.Inserted + r.Duplicates}
}

func NewService(store ArticleStore, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
	}
}

// ImportReader reads either a JSON array of news items or newline-delimited
// items. Invalid items are counted and skipped; a store failure aborts.
func (s *Service) ImportReader(ctx context.Context, r io.Reader, origin string) (Result, error) {
	if s == nil || s.store == nil {
		return Result{}, fmt.Errorf("ingest service is not initialized")
	}

	buffered := bufio.NewReaderSize(r, 64<<10)
	first, err := peekFirstNonSpace(buffered)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("read %s: %w", origin, err)
	}

	if first == '[' {
		var items []json.RawMessage
		if err := json.NewDecoder(buffered).Decode(&items); err != nil {
			return Result{}, fmt.Errorf("decode %s: %w", origin, err)
		}
		var result Result
		for idx, raw := range items {
			if err := s.importOne(ctx, raw, fmt.Sprintf("%s[%d]", origin, idx), &result); err != nil {
				return result, err
			}
		}
		return result, nil
	}

	var result Result
	scanner := bufio.NewScanner(buffered)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if err := s.importOne(ctx, json.RawMessage(bytes.Clone(raw)), fmt.Sprintf("%s:%d", origin, line), &result); err != nil {
			return result, err
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("scan %s: %w", origin, err)
	}
	return result, nil
}

func (s *Service) importOne(ctx context.Context, raw json.RawMessage, location string, result *Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	result.Scanned++

	item, err := ValidateNewsItem(raw)
	if err != nil {
		result.Invalid++
		s.logger.Warn().Err(err).Str("item", location).Msg("skipping invalid news item")
		return nil
	}

	article, err := toArticleInsert(item)
	if err != nil {
		result.Invalid++
		s.logger.Warn().Err(err).Str("item", location).Msg("skipping invalid news item")
		return nil
	}

	articleID, inserted, err := s.store.InsertArticle(ctx, article)
	if err != nil {
		return &storeError{location: location, err: err}
	}
	if !inserted {
		result.Duplicates++
		return nil
	}

	result.Inserted++
	s.logger.Debug().
		Int64("article_id", articleID).
		Str("source", article.Source).
		Str("language", article.Language).
		Msg("article ingested")
	return nil
}

func toArticleInsert(item *NewsItem) (db.ArticleInsert, error) {
	publishedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(item.PublishedAt))
	if err != nil {
		return db.ArticleInsert{}, fmt.Errorf("published_at must be RFC3339: %w", err)
	}

	title := StripHTML(item.Title)
	if title == "" {
		return db.ArticleInsert{}, fmt.Errorf("title is empty after stripping markup")
	}
	excerpt := truncateRunes(StripHTML(item.Excerpt), maxExcerptRunes)

	var imageURL *string
	if item.ImageURL != nil {
		if trimmed := strings.TrimSpace(*item.ImageURL); trimmed != "" {
			imageURL = &trimmed
		}
	}

	return db.ArticleInsert{
		Title:       title,
		Excerpt:     excerpt,
		URL:         strings.TrimSpace(item.URL),
		Source:      strings.TrimSpace(item.Source),
		Language:    resolveLanguage(item.Language, title, excerpt),
		ImageURL:    imageURL,
		PublishedAt: publishedAt.UTC(),
	}, nil
}

// ImportDir imports every .json and .ndjson file under root, in path order.
// Unreadable files count as invalid.
func (s *Service) ImportDir(ctx context.Context, root string, recursive bool) (Result, error) {
	files, err := CollectItemFiles(root, recursive)
	if err != nil {
		return Result{}, err
	}

	var total Result
	for _, path := range files {
		fileResult, err := s.importFile(ctx, path)
		total.add(fileResult)
		if err != nil {
			var readErr *fileReadError
			if errors.As(err, &readErr) {
				total.Invalid++
				s.logger.Warn().Err(err).Str("file", path).Msg("skipping unreadable file")
				continue
			}
			return total, err
		}
	}

	s.logger.Info().
		Str("dir", root).
		Int("files", total.Files).
		Int("scanned", total.Scanned).
		Int("inserted", total.Inserted).
		Int("duplicates", total.Duplicates).
		Int("invalid", total.Invalid).
		Msg("ingest completed")
	return total, nil
}

type fileReadError struct {
	path string
	err  error
}

func (e *fileReadError) Error() string { return fmt.Sprintf("read %s: %v", e.path, e.err) }
func (e *fileReadError) Unwrap() error { return e.err }

type storeError struct {
	location string
	err      error
}

func (e *storeError) Error() string { return fmt.Sprintf("insert %s: %v", e.location, e.err) }
func (e *storeError) Unwrap() error { return e.err }

func (s *Service) importFile(ctx context.Context, path string) (Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return Result{}, &fileReadError{path: path, err: err}
	}
	defer file.Close()

	result, err := s.ImportReader(ctx, file, path)
	result.Files = 1
	if err == nil {
		return result, nil
	}
	var stored *storeError
	if errors.As(err, &stored) || ctx.Err() != nil {
		return result, err
	}
	return result, &fileReadError{path: path, err: err}
}

func peekFirstNonSpace(r *bufio.Reader) (byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		if err := r.UnreadByte(); err != nil {
			return 0, err
		}
		return b, nil
	}
}

func isItemFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".json" || ext == ".ndjson"
}

// CollectItemFiles lists .json and .ndjson files under root in path order,
// skipping hidden files and directories.
func CollectItemFiles(root string, recursive bool) ([]string, error) {
	cleanRoot := strings.TrimSpace(root)
	if cleanRoot == "" {
		return nil, fmt.Errorf("directory path is empty")
	}

	info, err := os.Stat(cleanRoot)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", cleanRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", cleanRoot)
	}

	var files []string
	if !recursive {
		entries, err := os.ReadDir(cleanRoot)
		if err != nil {
			return nil, fmt.Errorf("read directory %s: %w", cleanRoot, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() && isItemFile(entry.Name()) {
				files = append(files, filepath.Join(cleanRoot, entry.Name()))
			}
		}
		sort.Strings(files)
		return files, nil
	}

	err = filepath.WalkDir(cleanRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != cleanRoot {
				return filepath.SkipDir
			}
			return nil
		}
		if isItemFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory %s: %w", cleanRoot, err)
	}

	sort.Strings(files)
	return files, nil
}
