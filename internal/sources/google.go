package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/reviewpix/reviewpix/internal/apierr"
	"github.com/reviewpix/reviewpix/internal/config"
	"github.com/reviewpix/reviewpix/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	googleTokenURL     = "https://oauth2.googleapis.com/token"
	googleBusinessBase = "https://mybusiness.googleapis.com/v4"
	tokenRefreshMargin = 60 * time.Second
)

// GoogleSource polls the Google Business Profile reviews API using an
// OAuth refresh token.
type GoogleSource struct {
	cfg      config.SourceConfig
	client   *resty.Client
	enabled  bool
	tokenURL string
	apiBase  string

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

type googleTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type googleReviewsResponse struct {
	Reviews       []googleReview `json:"reviews"`
	NextPageToken string         `json:"nextPageToken"`
}

type googleReview struct {
	ReviewID string `json:"reviewId"`
	Reviewer struct {
		DisplayName     string `json:"displayName"`
		ProfilePhotoURL string `json:"profilePhotoUrl"`
	} `json:"reviewer"`
	StarRating string `json:"starRating"` // "ONE".."FIVE"
	Comment    string `json:"comment"`
	CreateTime string `json:"createTime"`
	UpdateTime string `json:"updateTime"`
}

var googleStarRatings = map[string]int{
	"ONE": 1, "TWO": 2, "THREE": 3, "FOUR": 4, "FIVE": 5,
}

// NewGoogleSource creates a Google Business Profile adapter.
func NewGoogleSource(cfg config.SourceConfig) *GoogleSource {
	return &GoogleSource{
		cfg: cfg,
		client: resty.New().
			SetTimeout(30 * time.Second).
			SetHeader("User-Agent", "ReviewPix/1.0"),
		tokenURL: googleTokenURL,
		apiBase:  googleBusinessBase,
	}
}

func (g *GoogleSource) GetName() string {
	return "google"
}

func (g *GoogleSource) IsEnabled() bool {
	return g.enabled
}

func (g *GoogleSource) Initialize() bool {
	g.enabled = g.cfg.Enabled &&
		g.cfg.ClientID != "" && g.cfg.ClientSecret != "" && g.cfg.RefreshToken != "" &&
		g.cfg.AccountID != "" && g.cfg.LocationID != ""
	if g.cfg.Enabled && !g.enabled {
		logrus.Warn("Google source disabled - incomplete OAuth configuration")
	}
	return g.enabled
}

// getAccessToken returns the cached access token, refreshing it when it
// is within the refresh margin of expiring.
func (g *GoogleSource) getAccessToken(ctx context.Context) (string, error) {
	g.tokenMu.Lock()
	defer g.tokenMu.Unlock()

	if g.accessToken != "" && time.Until(g.tokenExpiry) > tokenRefreshMargin {
		return g.accessToken, nil
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client_id":     g.cfg.ClientID,
			"client_secret": g.cfg.ClientSecret,
			"refresh_token": g.cfg.RefreshToken,
			"grant_type":    "refresh_token",
		}).
		Post(g.tokenURL)
	if err != nil {
		return "", fmt.Errorf("google token refresh failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return "", apierr.Upstream("google token refresh rejected",
			fmt.Errorf("status %d: %s", resp.StatusCode(), resp.Body()))
	}

	var token googleTokenResponse
	if err := json.Unmarshal(resp.Body(), &token); err != nil {
		return "", fmt.Errorf("google token response malformed: %w", err)
	}

	g.accessToken = token.AccessToken
	g.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	logrus.Debugf("Refreshed Google access token, expires in %ds", token.ExpiresIn)

	return g.accessToken, nil
}

// Fetch pages through the location's reviews, keeps those newer than the
// cursor, and advances the cursor to the newest update time seen.
func (g *GoogleSource) Fetch(ctx context.Context, cursor string) ([]models.Review, string, error) {
	token, err := g.getAccessToken(ctx)
	if err != nil {
		return nil, cursor, err
	}

	var since time.Time
	if cursor != "" {
		since, _ = parseTime(cursor)
	}

	reviewsURL := fmt.Sprintf("%s/accounts/%s/locations/%s/reviews",
		g.apiBase, g.cfg.AccountID, g.cfg.LocationID)

	var reviews []models.Review
	newest := since
	pageToken := ""

	for {
		req := g.client.R().
			SetContext(ctx).
			SetHeader("Authorization", "Bearer "+token).
			SetQueryParam("pageSize", "50")
		if pageToken != "" {
			req.SetQueryParam("pageToken", pageToken)
		}

		resp, err := req.Get(reviewsURL)
		if err != nil {
			return nil, cursor, fmt.Errorf("google reviews fetch failed: %w", err)
		}
		if resp.StatusCode() != 200 {
			return nil, cursor, apierr.Upstream("google reviews API error",
				fmt.Errorf("status %d: %s", resp.StatusCode(), resp.Body()))
		}

		var page googleReviewsResponse
		if err := json.Unmarshal(resp.Body(), &page); err != nil {
			return nil, cursor, fmt.Errorf("google reviews response malformed: %w", err)
		}

		for _, gr := range page.Reviews {
			review := g.mapReview(gr)
			if !since.IsZero() && !review.ReviewDate.After(since) {
				continue
			}
			if review.ReviewDate.After(newest) {
				newest = review.ReviewDate
			}
			reviews = append(reviews, review)
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	newCursor := cursor
	if newest.After(since) {
		newCursor = newest.Format(time.RFC3339Nano)
	}

	return reviews, newCursor, nil
}

// Parse maps a webhook payload in the Business Profile review shape,
// either a single review object or {"reviews": [...]}.
func (g *GoogleSource) Parse(raw json.RawMessage) ([]models.Review, error) {
	var batch googleReviewsResponse
	if err := json.Unmarshal(raw, &batch); err == nil && len(batch.Reviews) > 0 {
		reviews := make([]models.Review, 0, len(batch.Reviews))
		for _, gr := range batch.Reviews {
			reviews = append(reviews, g.mapReview(gr))
		}
		return reviews, nil
	}

	var single googleReview
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("google webhook payload malformed: %w", err)
	}
	if single.StarRating == "" && single.Comment == "" {
		return nil, fmt.Errorf("google webhook payload has no review content")
	}
	return []models.Review{g.mapReview(single)}, nil
}

// mapReview normalises one API review. The review date prefers
// updateTime so edits re-surface; createTime is the fallback.
func (g *GoogleSource) mapReview(gr googleReview) models.Review {
	review := models.Review{
		Source:       "google",
		ReviewerName: gr.Reviewer.DisplayName,
		Rating:       googleStarRatings[gr.StarRating],
		ReviewText:   gr.Comment,
	}

	if t, ok := parseTime(gr.UpdateTime); ok {
		review.ReviewDate = t
	} else if t, ok := parseTime(gr.CreateTime); ok {
		review.ReviewDate = t
	}

	raw, _ := json.Marshal(gr)
	review.Raw = raw

	return normalize(review, gr.ReviewID)
}
