package synthesis

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"strings"

	"horse.fit/storyline/internal/schemautil"
)

//go:embed synthesis_result.schema.json
var resultSchemaJSON string

// ErrInvalidResult marks a synthesis payload that failed decoding or validation.
var ErrInvalidResult = errors.New("invalid synthesis result")

var resultSchema = schemautil.NewEmbedded("synthesis_result.schema.json", resultSchemaJSON, false)

// ParseResult decodes and validates a raw model response. Code fences and
// prose around the JSON object are tolerated; anything else that does not
// match the result schema is rejected with ErrInvalidResult.
func ParseResult(raw []byte) (*Result, error) {
	cleaned := cleanJSONResponse(string(raw))

	var result Result
	if err := resultSchema.Decode([]byte(cleaned), &result); err != nil {
		if errors.Is(err, schemautil.ErrSchemaUnavailable) {
			return nil, fmt.Errorf("load synthesis schema: %w", err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}

	if err := validateSemantics(&result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	return &result, nil
}

func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return content
}

func validateSemantics(result *Result) error {
	if strings.TrimSpace(result.Title) == "" {
		return fmt.Errorf("title must not be blank")
	}
	if len(result.Sections) == 0 {
		return fmt.Errorf("at least one section is required")
	}
	for i, section := range result.Sections {
		if strings.TrimSpace(section.Content) == "" {
			return fmt.Errorf("sections[%d].content must not be blank", i)
		}
	}
	for i, entity := range result.Entities {
		if strings.TrimSpace(entity.Name) == "" {
			return fmt.Errorf("entities[%d].name must not be blank", i)
		}
	}
	for i, conn := range result.Connections {
		if strings.TrimSpace(conn.Source) == "" || strings.TrimSpace(conn.Target) == "" {
			return fmt.Errorf("connections[%d] endpoints must not be blank", i)
		}
		if conn.Strength != nil && !inUnitInterval(*conn.Strength) {
			return fmt.Errorf("connections[%d].strength must be within [0,1]", i)
		}
	}
	for i, impact := range result.Impacts {
		if impact.Severity < 1 || impact.Severity > 5 {
			return fmt.Errorf("impacts[%d].severity must be within 1..5", i)
		}
		if !inUnitInterval(impact.Confidence) {
			return fmt.Errorf("impacts[%d].confidence must be within [0,1]", i)
		}
	}
	return nil
}

func inUnitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
