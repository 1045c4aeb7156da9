package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/reviewpix/reviewpix/internal/apierr"
	"github.com/reviewpix/reviewpix/internal/config"
	"github.com/reviewpix/reviewpix/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	yelpBase     = "https://api.yelp.com/v3"
	yelpPageSize = 20
)

// YelpSource polls the Yelp Fusion reviews endpoint with a static API
// key. Yelp returns excerpts, not full review text, so every record
// carries the partial flag.
type YelpSource struct {
	cfg     config.SourceConfig
	client  *resty.Client
	enabled bool
	apiBase string
}

type yelpReviewsResponse struct {
	Reviews []yelpReview `json:"reviews"`
	Total   int          `json:"total"`
}

type yelpReview struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	User struct {
		Name     string `json:"name"`
		ImageURL string `json:"image_url"`
	} `json:"user"`
	Rating      int    `json:"rating"`
	TimeCreated string `json:"time_created"` // "2006-01-02 15:04:05"
}

// NewYelpSource creates a Yelp review-feed adapter.
func NewYelpSource(cfg config.SourceConfig) *YelpSource {
	return &YelpSource{
		cfg: cfg,
		client: resty.New().
			SetTimeout(30 * time.Second).
			SetHeader("User-Agent", "ReviewPix/1.0"),
		apiBase: yelpBase,
	}
}

func (y *YelpSource) GetName() string {
	return "yelp"
}

func (y *YelpSource) IsEnabled() bool {
	return y.enabled
}

func (y *YelpSource) Initialize() bool {
	y.enabled = y.cfg.Enabled && y.cfg.APIKey != "" && y.cfg.BusinessID != ""
	if y.cfg.Enabled && !y.enabled {
		logrus.Warn("Yelp source disabled - missing api_key or business_id")
	}
	return y.enabled
}

// Fetch pages the newest-first feed and keeps reviews dated after the
// cursor. The cursor is the newest review date seen.
func (y *YelpSource) Fetch(ctx context.Context, cursor string) ([]models.Review, string, error) {
	var since time.Time
	if cursor != "" {
		since, _ = parseTime(cursor)
	}

	reviewsURL := fmt.Sprintf("%s/businesses/%s/reviews", y.apiBase, y.cfg.BusinessID)

	var reviews []models.Review
	newest := since
	offset := 0

	for {
		resp, err := y.client.R().
			SetContext(ctx).
			SetHeader("Authorization", "Bearer "+y.cfg.APIKey).
			SetQueryParams(map[string]string{
				"sort_by": "newest",
				"limit":   strconv.Itoa(yelpPageSize),
				"offset":  strconv.Itoa(offset),
			}).
			Get(reviewsURL)
		if err != nil {
			return nil, cursor, fmt.Errorf("yelp reviews fetch failed: %w", err)
		}
		if resp.StatusCode() != 200 {
			return nil, cursor, apierr.Upstream("yelp API error",
				fmt.Errorf("status %d: %s", resp.StatusCode(), resp.Body()))
		}

		var page yelpReviewsResponse
		if err := json.Unmarshal(resp.Body(), &page); err != nil {
			return nil, cursor, fmt.Errorf("yelp response malformed: %w", err)
		}
		if len(page.Reviews) == 0 {
			break
		}

		// The feed is newest-first, so the first review older than the
		// cursor ends the scan.
		reachedCursor := false
		for _, yr := range page.Reviews {
			review := y.mapReview(yr)
			if !since.IsZero() && !review.ReviewDate.After(since) {
				reachedCursor = true
				break
			}
			if review.ReviewDate.After(newest) {
				newest = review.ReviewDate
			}
			reviews = append(reviews, review)
		}
		if reachedCursor || len(page.Reviews) < yelpPageSize {
			break
		}
		offset += yelpPageSize
	}

	newCursor := cursor
	if newest.After(since) {
		newCursor = newest.Format(time.RFC3339)
	}

	return reviews, newCursor, nil
}

// Parse maps a pushed payload in the Fusion shape.
func (y *YelpSource) Parse(raw json.RawMessage) ([]models.Review, error) {
	var batch yelpReviewsResponse
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, fmt.Errorf("yelp payload malformed: %w", err)
	}
	if len(batch.Reviews) == 0 {
		return nil, fmt.Errorf("yelp payload has no reviews")
	}

	reviews := make([]models.Review, 0, len(batch.Reviews))
	for _, yr := range batch.Reviews {
		reviews = append(reviews, y.mapReview(yr))
	}
	return reviews, nil
}

func (y *YelpSource) mapReview(yr yelpReview) models.Review {
	review := models.Review{
		Source:       "yelp",
		ReviewerName: yr.User.Name,
		Rating:       yr.Rating,
		ReviewText:   yr.Text,
		Partial:      true,
	}

	if t, ok := parseTime(yr.TimeCreated); ok {
		review.ReviewDate = t
	}

	raw, _ := json.Marshal(yr)
	review.Raw = raw

	return normalize(review, yr.ID)
}
