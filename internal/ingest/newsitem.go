package ingest

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"horse.fit/storyline/internal/schemautil"
)

//go:embed news_item.schema.json
var newsItemSchemaJSON string

// NewsItem is one v1 news item payload as produced by the upstream feed collectors.
type NewsItem struct {
	PayloadVersion string  `json:"payload_version"`
	Source         string  `json:"source"`
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	PublishedAt    string  `json:"published_at"`
	Excerpt        string  `json:"excerpt,omitempty"`
	ImageURL       *string `json:"image_url,omitempty"`
	Language       *string `json:"language,omitempty"`
}

var newsItemSchema = schemautil.NewEmbedded("news_item.schema.json", newsItemSchemaJSON, true)

// ValidateNewsItem decodes one payload, checks it against the v1 schema and
// applies the checks the schema cannot express.
func ValidateNewsItem(payload json.RawMessage) (*NewsItem, error) {
	var item NewsItem
	if err := newsItemSchema.Decode(payload, &item); err != nil {
		return nil, err
	}
	if err := validateSemantics(&item); err != nil {
		return nil, err
	}
	return &item, nil
}

func validateSemantics(item *NewsItem) error {
	if item == nil {
		return fmt.Errorf("payload is nil")
	}

	if strings.TrimSpace(item.Source) == "" {
		return fmt.Errorf("source must not be empty")
	}
	if strings.TrimSpace(item.Title) == "" {
		return fmt.Errorf("title must not be empty")
	}
	if err := validateURI("url", item.URL); err != nil {
		return err
	}
	if item.ImageURL != nil {
		if err := validateURI("image_url", *item.ImageURL); err != nil {
			return err
		}
	}
	if _, err := time.Parse(time.RFC3339, strings.TrimSpace(item.PublishedAt)); err != nil {
		return fmt.Errorf("published_at must be RFC3339: %w", err)
	}

	return nil
}

func validateURI(fieldName, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s must not be empty", fieldName)
	}
	parsed, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return fmt.Errorf("%s is not a valid URI: %w", fieldName, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https", fieldName)
	}
	return nil
}
