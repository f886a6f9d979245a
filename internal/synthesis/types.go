package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Synthesizer turns an ordered set of related articles into one story.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req Request) (*Result, error)
}

// ArticleInput is one cluster member passed to synthesis, in cluster order.
type ArticleInput struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Excerpt     string    `json:"excerpt"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

type Request struct {
	Articles []ArticleInput
}

func (r Request) ArticleIDs() []int64 {
	ids := make([]int64, 0, len(r.Articles))
	for _, article := range r.Articles {
		ids = append(ids, article.ID)
	}
	return ids
}

// Result is a validated synthesis payload.
type Result struct {
	Title       string       `json:"title"`
	Summary     string       `json:"summary"`
	Sections    []Section    `json:"sections"`
	Entities    []Entity     `json:"entities,omitempty"`
	Connections []Connection `json:"connections,omitempty"`
	Impacts     []Impact     `json:"impacts,omitempty"`
}

type Section struct {
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Citations []Citation `json:"citations,omitempty"`
}

type Citation struct {
	Source     string     `json:"source"`
	ArticleRef ArticleRef `json:"article_ref,omitempty"`
}

// ArticleRef accepts either a JSON string or integer article reference.
type ArticleRef string

func (r *ArticleRef) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*r = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*r = ArticleRef(strings.TrimSpace(s))
		return nil
	}
	n, err := strconv.ParseInt(string(trimmed), 10, 64)
	if err != nil {
		return fmt.Errorf("article_ref must be a string or integer: %w", err)
	}
	*r = ArticleRef(strconv.FormatInt(n, 10))
	return nil
}

type Entity struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Role    string `json:"role,omitempty"`
	Context string `json:"context,omitempty"`
}

type Connection struct {
	Source       string   `json:"source"`
	Target       string   `json:"target"`
	Relationship string   `json:"relationship"`
	Label        string   `json:"label,omitempty"`
	Evidence     string   `json:"evidence,omitempty"`
	Strength     *float64 `json:"strength,omitempty"`
}

type Impact struct {
	Sector     string  `json:"sector"`
	Type       string  `json:"type"`
	Severity   int     `json:"severity"`
	Prediction string  `json:"prediction,omitempty"`
	Confidence float64 `json:"confidence"`
}
