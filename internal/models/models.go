package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Review is the normalized representation of one customer review across
// every source platform.
type Review struct {
	ID           string          `json:"id"`
	Source       string          `json:"source"` // "google", "yelp", "facebook", "generic", "import"
	ReviewerName string          `json:"reviewer_name"`
	Rating       int             `json:"rating"` // 1..5
	ReviewText   string          `json:"review_text"`
	ReviewDate   time.Time       `json:"review_date"`
	TechName     string          `json:"tech_name,omitempty"`
	TechPhotoURL string          `json:"tech_photo_url,omitempty"`
	Partial      bool            `json:"partial,omitempty"` // source returned an excerpt only
	Raw          json.RawMessage `json:"raw,omitempty"`

	// Processing flags, mutated by the pipeline after acceptance.
	ProcessedAt    time.Time `json:"processed_at,omitempty"`
	ImageGenerated bool      `json:"image_generated"`
	ChatShared     bool      `json:"chat_shared"`
}

// DeriveID builds the globally unique review id. When the source supplies
// its own identifier the id is "<source>:<token>"; otherwise the token is
// the first 16 hex chars of SHA-256("<source>:<name>:<text>:<rating>").
func DeriveID(source, sourceID, reviewerName, reviewText string, rating int) string {
	if sourceID != "" {
		return source + ":" + sourceID
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s:%d", source, reviewerName, reviewText, rating)))
	return source + ":" + hex.EncodeToString(sum[:])[:16]
}

// ClampRating forces a rating into the 1..5 range.
func ClampRating(rating int) int {
	if rating < 1 {
		return 1
	}
	if rating > 5 {
		return 5
	}
	return rating
}

// SizePreset is a named render viewport.
type SizePreset struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SizePresets maps preset names to fixed output dimensions.
var SizePresets = map[string]SizePreset{
	"square":    {Width: 1080, Height: 1080},
	"portrait":  {Width: 1080, Height: 1350},
	"story":     {Width: 1080, Height: 1920},
	"landscape": {Width: 1200, Height: 630},
}

const (
	DefaultSize   = "square"
	DefaultFormat = "png"
)

// RenderRequest carries everything needed to render one review image.
type RenderRequest struct {
	ReviewerName string `json:"reviewer_name"`
	Rating       int    `json:"rating"`
	ReviewText   string `json:"review_text"`
	TechName     string `json:"tech_name,omitempty"`
	TechPhotoURL string `json:"tech_photo_url,omitempty"`
	Source       string `json:"source,omitempty"` // platform badge key
	Template     string `json:"template,omitempty"`
	Size         string `json:"size,omitempty"`
	Format       string `json:"format,omitempty"` // "png" or "jpeg"
	BrandColor   string `json:"brand_color,omitempty"`
	LogoURL      string `json:"logo_url,omitempty"`
	CallbackURL  string `json:"callback_url,omitempty"`

	// BaseURL absolutises relative asset URLs; filled by the HTTP layer
	// from config or the inbound request, never by clients.
	BaseURL string `json:"-"`
}

// CacheKey returns the SHA-256 hex digest of the canonicalised request.
// Field order is fixed by the struct's JSON marshalling, so identical
// requests always hash identically.
func (r RenderRequest) CacheKey() string {
	canonical := struct {
		ReviewerName string `json:"reviewer_name"`
		Rating       int    `json:"rating"`
		ReviewText   string `json:"review_text"`
		TechName     string `json:"tech_name"`
		TechPhotoURL string `json:"tech_photo_url"`
		Source       string `json:"source"`
		Template     string `json:"template"`
		Size         string `json:"size"`
		Format       string `json:"format"`
		BrandColor   string `json:"brand_color"`
		LogoURL      string `json:"logo_url"`
	}{
		r.ReviewerName, r.Rating, r.ReviewText, r.TechName, r.TechPhotoURL,
		r.Source, r.Template, r.Size, r.Format, r.BrandColor, r.LogoURL,
	}
	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RenderResult is a finished image plus its metadata.
type RenderResult struct {
	Bytes    []byte
	Format   string
	Width    int
	Height   int
	Duration time.Duration
	Cached   bool
}

// ProcessResult summarises one pipeline run over a batch of records.
type ProcessResult struct {
	New        int            `json:"new"`
	Duplicates int            `json:"duplicates"`
	Generated  int            `json:"generated"`
	Shared     int            `json:"shared"`
	Errors     []ProcessError `json:"errors,omitempty"`
}

// ProcessError records a single failed pipeline step for one review.
type ProcessError struct {
	ReviewID string `json:"review_id"`
	Step     string `json:"step"` // "generate" or "share"
	Message  string `json:"message"`
}
