package app

import (
	"os"
	"path/filepath"
	"testing"
)

const validItem = `{"payload_version":"v1","source":"wire","title":"Rates rise","url":"https://example.com/a","published_at":"2026-02-13T14:00:00Z"}`

func TestSplitItems(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		input     string
		wantCount int
		wantLoc   string
	}{
		"empty":         {input: "  ", wantCount: 0},
		"single object": {input: validItem, wantCount: 1, wantLoc: ""},
		"array":         {input: "[" + validItem + "," + validItem + "]", wantCount: 2, wantLoc: "[0]"},
		"ndjson":        {input: validItem + "\n\n" + validItem, wantCount: 2, wantLoc: ":1"},
		"broken array":  {input: "[{", wantCount: 1, wantLoc: ""},
	}

	for name, tc := range cases {
		items := splitItems([]byte(tc.input))
		if len(items) != tc.wantCount {
			t.Fatalf("%s: expected %d items, got %d", name, tc.wantCount, len(items))
		}
		if tc.wantCount > 0 && items[0].location != tc.wantLoc {
			t.Fatalf("%s: expected first location %q, got %q", name, tc.wantLoc, items[0].location)
		}
	}
}

func TestRunValidate(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.json"), validItem)
	mustWriteFile(t, filepath.Join(root, "nested", "b.ndjson"), validItem+"\n"+validItem)

	if code := runValidate([]string{"--dir", root}); code != 0 {
		t.Fatalf("expected exit 0 for valid items, got %d", code)
	}

	mustWriteFile(t, filepath.Join(root, "bad.json"), `{"payload_version":"v1"}`)
	if code := runValidate([]string{"--dir", root}); code != 1 {
		t.Fatalf("expected exit 1 with an invalid item, got %d", code)
	}

	if code := runValidate([]string{"--dir", t.TempDir()}); code != 1 {
		t.Fatalf("expected exit 1 for empty directory, got %d", code)
	}
}

func TestParseOutputFormat(t *testing.T) {
	t.Parallel()

	if got, err := parseOutputFormat("", outputFormatTable); err != nil || got != outputFormatTable {
		t.Fatalf("expected default table, got %q %v", got, err)
	}
	if got, err := parseOutputFormat(" JSON ", outputFormatTable); err != nil || got != outputFormatJSON {
		t.Fatalf("expected json, got %q %v", got, err)
	}
	if _, err := parseOutputFormat("yaml", outputFormatTable); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	t.Parallel()

	if code := Run(nil); code != 2 {
		t.Fatalf("expected usage exit 2, got %d", code)
	}
	if code := Run([]string{"reindex"}); code != 2 {
		t.Fatalf("expected exit 2 for unknown command, got %d", code)
	}
	if code := Run([]string{"help"}); code != 0 {
		t.Fatalf("expected exit 0 for help, got %d", code)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}
