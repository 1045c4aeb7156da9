package sources

import (
	"strings"
	"time"

	"github.com/reviewpix/reviewpix/internal/models"
)

const (
	maxReviewerNameLen = 100
	maxReviewTextLen   = 2000
)

// normalize applies the invariants every adapter shares: rating clamped
// to 1..5, missing text becomes "", missing date becomes now, missing
// name becomes a source placeholder, field lengths bounded, id derived.
func normalize(review models.Review, sourceID string) models.Review {
	review.Rating = models.ClampRating(review.Rating)

	review.ReviewerName = strings.TrimSpace(review.ReviewerName)
	if review.ReviewerName == "" {
		review.ReviewerName = placeholderName(review.Source)
	}
	if len(review.ReviewerName) > maxReviewerNameLen {
		review.ReviewerName = review.ReviewerName[:maxReviewerNameLen]
	}

	if len(review.ReviewText) > maxReviewTextLen {
		review.ReviewText = review.ReviewText[:maxReviewTextLen]
	}

	if review.ReviewDate.IsZero() {
		review.ReviewDate = time.Now().UTC()
	}

	review.ID = models.DeriveID(review.Source, sourceID, review.ReviewerName, review.ReviewText, review.Rating)
	return review
}

func placeholderName(source string) string {
	switch source {
	case "google":
		return "A Google User"
	case "yelp":
		return "A Yelp Reviewer"
	case "facebook":
		return "A Facebook User"
	default:
		return "Anonymous"
	}
}

// parseTime accepts the timestamp shapes the platforms emit: RFC 3339
// with and without fractional seconds, plus date-only strings.
func parseTime(value string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05-0700", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
