package app

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"horse.fit/storyline/internal/ingest"
)

type validateResult struct {
	Scanned int
	Valid   int
	Invalid int
}

func runValidate(args []string) int {
	flags := flag.NewFlagSet("validate", flag.ContinueOnError)
	flags.SetOutput(os.Stderr)

	dir := flags.String("dir", "testdata/news_items", "Directory containing .json/.ndjson news item files")
	recursive := flags.Bool("recursive", true, "Recursively scan subdirectories")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	files, err := ingest.CollectItemFiles(strings.TrimSpace(*dir), *recursive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation setup failed: %v\n", err)
		return 1
	}

	result := validateResult{}
	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			result.Scanned++
			result.Invalid++
			fmt.Fprintf(os.Stderr, "INVALID %s: read failed: %v\n", path, err)
			continue
		}

		for _, item := range splitItems(raw) {
			result.Scanned++
			if _, err := ingest.ValidateNewsItem(item.payload); err != nil {
				result.Invalid++
				fmt.Fprintf(os.Stderr, "INVALID %s%s: %v\n", path, item.location, err)
				continue
			}
			result.Valid++
		}
	}

	fmt.Printf(
		"validate scanned=%d valid=%d invalid=%d dir=%s recursive=%t\n",
		result.Scanned,
		result.Valid,
		result.Invalid,
		strings.TrimSpace(*dir),
		*recursive,
	)

	if result.Scanned == 0 {
		fmt.Fprintf(os.Stderr, "Validation failed: no news items found under %s\n", strings.TrimSpace(*dir))
		return 1
	}
	if result.Invalid > 0 {
		return 1
	}
	return 0
}

type splitItem struct {
	location string
	payload  json.RawMessage
}

// splitItems accepts a single object, an array of objects or NDJSON.
func splitItems(raw []byte) []splitItem {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}

	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return []splitItem{{payload: trimmed}}
		}
		out := make([]splitItem, 0, len(items))
		for idx, item := range items {
			out = append(out, splitItem{location: fmt.Sprintf("[%d]", idx), payload: item})
		}
		return out
	}

	if json.Valid(trimmed) {
		return []splitItem{{payload: trimmed}}
	}

	var out []splitItem
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		out = append(out, splitItem{location: fmt.Sprintf(":%d", line), payload: bytes.Clone(text)})
	}
	return out
}
