package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/reviewpix/reviewpix/internal/config"
	"github.com/reviewpix/reviewpix/internal/models"
)

// GenericSource accepts webhook and import payloads from platforms the
// service has no dedicated adapter for. It never polls.
type GenericSource struct {
	mapping config.FieldMapping
	enabled bool
}

// NewGenericSource creates the catch-all push adapter.
func NewGenericSource(cfg config.GenericConfig) *GenericSource {
	mapping := cfg.FieldMapping
	if mapping.ReviewerNameField == "" {
		mapping.ReviewerNameField = "reviewer_name"
	}
	if mapping.RatingField == "" {
		mapping.RatingField = "rating"
	}
	if mapping.ReviewTextField == "" {
		mapping.ReviewTextField = "review_text"
	}
	if mapping.ReviewDateField == "" {
		mapping.ReviewDateField = "review_date"
	}
	if mapping.TechNameField == "" {
		mapping.TechNameField = "tech_name"
	}
	if mapping.TechPhotoURLField == "" {
		mapping.TechPhotoURLField = "tech_photo_url"
	}
	return &GenericSource{mapping: mapping}
}

func (g *GenericSource) GetName() string {
	return "generic"
}

func (g *GenericSource) IsEnabled() bool {
	return g.enabled
}

func (g *GenericSource) Initialize() bool {
	g.enabled = true
	return true
}

// Fetch is a no-op; the generic source has nothing to poll.
func (g *GenericSource) Fetch(ctx context.Context, cursor string) ([]models.Review, string, error) {
	return nil, cursor, nil
}

// Parse accepts either a bare array of review objects or an envelope
// {"source": "...", "reviews": [...]}, applies the configured field
// mapping, and normalises the result.
func (g *GenericSource) Parse(raw json.RawMessage) ([]models.Review, error) {
	return g.ParseAs("", raw)
}

// ParseAs parses like Parse but tags records with defaultSource when
// the payload itself names no source. Webhook ingress passes the path
// source; imports pass "import".
func (g *GenericSource) ParseAs(defaultSource string, raw json.RawMessage) ([]models.Review, error) {
	var items []map[string]json.RawMessage
	source := defaultSource
	if source == "" {
		source = "generic"
	}

	if err := json.Unmarshal(raw, &items); err != nil {
		var envelope struct {
			Source  string                       `json:"source"`
			Reviews []map[string]json.RawMessage `json:"reviews"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, fmt.Errorf("generic payload must be an array or {source, reviews}: %w", err)
		}
		if envelope.Source != "" {
			source = envelope.Source
		}
		items = envelope.Reviews
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("generic payload has no reviews")
	}

	reviews := make([]models.Review, 0, len(items))
	for _, item := range items {
		review := models.Review{
			Source:       source,
			ReviewerName: stringField(item, g.mapping.ReviewerNameField),
			Rating:       intField(item, g.mapping.RatingField),
			ReviewText:   stringField(item, g.mapping.ReviewTextField),
			TechName:     stringField(item, g.mapping.TechNameField),
			TechPhotoURL: stringField(item, g.mapping.TechPhotoURLField),
		}
		if dateStr := stringField(item, g.mapping.ReviewDateField); dateStr != "" {
			if t, ok := parseTime(dateStr); ok {
				review.ReviewDate = t
			}
		}

		itemRaw, _ := json.Marshal(item)
		review.Raw = itemRaw

		sourceID := stringField(item, "id")
		reviews = append(reviews, normalize(review, sourceID))
	}

	return reviews, nil
}

func stringField(item map[string]json.RawMessage, key string) string {
	raw, ok := item[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	// Tolerate numeric values where strings are expected.
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return ""
}

func intField(item map[string]json.RawMessage, key string) int {
	raw, ok := item[key]
	if !ok {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return int(n)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.Atoi(s); err == nil {
			return parsed
		}
	}
	return 0
}
