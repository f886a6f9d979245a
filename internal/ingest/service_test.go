package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/storyline/internal/db"
)

type memoryArticleStore struct {
	mu        sync.Mutex
	byURL     map[string]db.ArticleInsert
	nextID    int64
	insertErr error
}

func newMemoryArticleStore() *memoryArticleStore {
	return &memoryArticleStore{byURL: make(map[string]db.ArticleInsert)}
}

func (s *memoryArticleStore) InsertArticle(_ context.Context, article db.ArticleInsert) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.insertErr != nil {
		return 0, false, s.insertErr
	}
	if _, exists := s.byURL[article.URL]; exists {
		return 0, false, nil
	}
	s.nextID++
	s.byURL[article.URL] = article
	return s.nextID, true, nil
}

func item(url, title, excerpt string) string {
	return `{"payload_version":"v1","source":"wire","title":"` + title + `","url":"` + url +
		`","published_at":"2026-02-13T14:00:00+02:00","excerpt":"` + excerpt + `","language":"en"}`
}

func TestImportReader_NDJSON(t *testing.T) {
	t.Parallel()

	store := newMemoryArticleStore()
	service := NewService(store, zerolog.Nop())

	input := strings.Join([]string{
		item("https://example.com/a", "Rates rise", "<p>Bank <b>moves</b></p>"),
		"",
		item("https://example.com/a", "Rates rise again", ""),
		`{"payload_version":"v1","source":"wire"}`,
		`not json`,
		item("https://example.com/b", "Storm hits coast", "Fish &amp; chips"),
	}, "\n")

	result, err := service.ImportReader(context.Background(), strings.NewReader(input), "stdin")
	if err != nil {
		t.Fatalf("ImportReader returned error: %v", err)
	}
	if result.Scanned != 5 || result.Inserted != 2 || result.Duplicates != 1 || result.Invalid != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}

	stored := store.byURL["https://example.com/a"]
	if stored.Excerpt != "Bank moves" {
		t.Fatalf("expected stripped excerpt, got %q", stored.Excerpt)
	}
	if stored.PublishedAt.Location().String() != "UTC" || stored.PublishedAt.Hour() != 12 {
		t.Fatalf("expected UTC published_at, got %v", stored.PublishedAt)
	}
	if stored.Language != "en" {
		t.Fatalf("expected declared language, got %q", stored.Language)
	}
	if got := store.byURL["https://example.com/b"].Excerpt; got != "Fish & chips" {
		t.Fatalf("expected decoded entity, got %q", got)
	}
	if jobResult := result.JobResult(); jobResult.ArticlesProcessed != 3 {
		t.Fatalf("unexpected job result: %+v", jobResult)
	}
}

func TestImportReader_Array(t *testing.T) {
	t.Parallel()

	store := newMemoryArticleStore()
	service := NewService(store, zerolog.Nop())

	input := "\n  [" + item("https://example.com/a", "One", "") + "," + item("https://example.com/b", "Two", "") + "]"
	result, err := service.ImportReader(context.Background(), strings.NewReader(input), "batch.json")
	if err != nil {
		t.Fatalf("ImportReader returned error: %v", err)
	}
	if result.Inserted != 2 || result.Invalid != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestImportReader_EmptyInput(t *testing.T) {
	t.Parallel()

	service := NewService(newMemoryArticleStore(), zerolog.Nop())
	result, err := service.ImportReader(context.Background(), strings.NewReader("  \n"), "empty")
	if err != nil {
		t.Fatalf("ImportReader returned error: %v", err)
	}
	if result != (Result{}) {
		t.Fatalf("expected zero result, got %+v", result)
	}
}

func TestImportReader_StoreFailureAborts(t *testing.T) {
	t.Parallel()

	store := newMemoryArticleStore()
	store.insertErr = errors.New("db down")
	service := NewService(store, zerolog.Nop())

	input := item("https://example.com/a", "One", "") + "\n" + item("https://example.com/b", "Two", "")
	result, err := service.ImportReader(context.Background(), strings.NewReader(input), "stdin")
	if err == nil {
		t.Fatalf("expected store failure to abort the import")
	}
	if !errors.Is(err, store.insertErr) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	if result.Scanned != 1 {
		t.Fatalf("expected import to stop after first item, got %+v", result)
	}
}

func TestImportReader_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	service := NewService(newMemoryArticleStore(), zerolog.Nop())
	_, err := service.ImportReader(ctx, strings.NewReader(item("https://example.com/a", "One", "")), "stdin")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestImportDir(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.json"), "["+item("https://example.com/a", "One", "")+"]")
	writeFile(t, filepath.Join(root, "nested", "b.ndjson"), item("https://example.com/b", "Two", ""))
	writeFile(t, filepath.Join(root, "broken.json"), "[{")
	writeFile(t, filepath.Join(root, ".hidden", "c.json"), item("https://example.com/c", "Three", ""))
	writeFile(t, filepath.Join(root, "notes.txt"), "ignored")

	store := newMemoryArticleStore()
	service := NewService(store, zerolog.Nop())

	result, err := service.ImportDir(context.Background(), root, true)
	if err != nil {
		t.Fatalf("ImportDir returned error: %v", err)
	}
	if result.Files != 3 || result.Inserted != 2 || result.Invalid != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if _, ok := store.byURL["https://example.com/c"]; ok {
		t.Fatalf("expected hidden directory to be skipped")
	}

	flat, err := service.ImportDir(context.Background(), root, false)
	if err != nil {
		t.Fatalf("ImportDir (flat) returned error: %v", err)
	}
	if flat.Files != 2 || flat.Duplicates != 1 {
		t.Fatalf("unexpected flat result: %+v", flat)
	}
}

func TestImportDir_MissingDirectory(t *testing.T) {
	t.Parallel()

	service := NewService(newMemoryArticleStore(), zerolog.Nop())
	if _, err := service.ImportDir(context.Background(), filepath.Join(t.TempDir(), "missing"), true); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
