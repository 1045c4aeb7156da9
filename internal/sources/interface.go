package sources

import (
	"context"
	"encoding/json"

	"github.com/reviewpix/reviewpix/internal/models"
)

// Source is the contract every review platform adapter implements.
// Adapters fetch and map payloads only; deduplication and persistence
// belong to the pipeline.
type Source interface {
	GetName() string

	// IsEnabled reports whether the adapter is usable; set by Initialize.
	IsEnabled() bool

	// Initialize checks configuration and returns whether the adapter
	// can serve fetch/parse calls.
	Initialize() bool

	// Fetch retrieves reviews newer than the opaque cursor and returns
	// them with the advanced cursor. An unchanged cursor means nothing
	// new was seen.
	Fetch(ctx context.Context, cursor string) ([]models.Review, string, error)

	// Parse maps a push-delivered payload (webhook, import) onto review
	// records without calling the remote API.
	Parse(raw json.RawMessage) ([]models.Review, error)
}
