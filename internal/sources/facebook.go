package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/reviewpix/reviewpix/internal/apierr"
	"github.com/reviewpix/reviewpix/internal/config"
	"github.com/reviewpix/reviewpix/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	facebookBase     = "https://graph.facebook.com/v19.0"
	facebookPageSize = 25
)

// FacebookSource polls a page's ratings feed with a bearer token using
// offset pagination. The cursor is "offset:<N>" and advances by the
// number of items returned; it is never reset automatically.
type FacebookSource struct {
	cfg     config.SourceConfig
	client  *resty.Client
	enabled bool
	apiBase string
}

type facebookRatingsResponse struct {
	Data []facebookRating `json:"data"`
}

type facebookRating struct {
	Reviewer struct {
		Name string `json:"name"`
		ID   string `json:"id"`
	} `json:"reviewer"`
	Rating             int    `json:"rating"`
	RecommendationType string `json:"recommendation_type"`
	ReviewText         string `json:"review_text"`
	CreatedTime        string `json:"created_time"`
	OpenGraphStoryID   string `json:"open_graph_story_id"`
}

// NewFacebookSource creates a Facebook page-ratings adapter.
func NewFacebookSource(cfg config.SourceConfig) *FacebookSource {
	return &FacebookSource{
		cfg: cfg,
		client: resty.New().
			SetTimeout(30 * time.Second).
			SetHeader("User-Agent", "ReviewPix/1.0"),
		apiBase: facebookBase,
	}
}

func (f *FacebookSource) GetName() string {
	return "facebook"
}

func (f *FacebookSource) IsEnabled() bool {
	return f.enabled
}

func (f *FacebookSource) Initialize() bool {
	f.enabled = f.cfg.Enabled && f.cfg.AccessToken != "" && f.cfg.PageID != ""
	if f.cfg.Enabled && !f.enabled {
		logrus.Warn("Facebook source disabled - missing access_token or page_id")
	}
	return f.enabled
}

// Fetch reads one page of ratings starting at the cursor's offset and
// advances the offset by the count returned.
func (f *FacebookSource) Fetch(ctx context.Context, cursor string) ([]models.Review, string, error) {
	offset := parseOffsetCursor(cursor)

	ratingsURL := fmt.Sprintf("%s/%s/ratings", f.apiBase, f.cfg.PageID)

	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"access_token": f.cfg.AccessToken,
			"fields":       "reviewer,rating,recommendation_type,review_text,created_time,open_graph_story_id",
			"limit":        strconv.Itoa(facebookPageSize),
			"offset":       strconv.Itoa(offset),
		}).
		Get(ratingsURL)
	if err != nil {
		return nil, cursor, fmt.Errorf("facebook ratings fetch failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, cursor, apierr.Upstream("facebook API error",
			fmt.Errorf("status %d: %s", resp.StatusCode(), resp.Body()))
	}

	var page facebookRatingsResponse
	if err := json.Unmarshal(resp.Body(), &page); err != nil {
		return nil, cursor, fmt.Errorf("facebook response malformed: %w", err)
	}

	reviews := make([]models.Review, 0, len(page.Data))
	for _, fr := range page.Data {
		reviews = append(reviews, f.mapRating(fr))
	}

	newCursor := cursor
	if len(page.Data) > 0 {
		newCursor = fmt.Sprintf("offset:%d", offset+len(page.Data))
	}

	return reviews, newCursor, nil
}

func parseOffsetCursor(cursor string) int {
	if rest, ok := strings.CutPrefix(cursor, "offset:"); ok {
		if n, err := strconv.Atoi(rest); err == nil && n >= 0 {
			return n
		}
	}
	return 0
}

// Parse maps a pushed payload: either a ratings batch or one rating.
func (f *FacebookSource) Parse(raw json.RawMessage) ([]models.Review, error) {
	var batch facebookRatingsResponse
	if err := json.Unmarshal(raw, &batch); err == nil && len(batch.Data) > 0 {
		reviews := make([]models.Review, 0, len(batch.Data))
		for _, fr := range batch.Data {
			reviews = append(reviews, f.mapRating(fr))
		}
		return reviews, nil
	}

	var single facebookRating
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("facebook payload malformed: %w", err)
	}
	if single.Rating == 0 && single.ReviewText == "" && single.RecommendationType == "" {
		return nil, fmt.Errorf("facebook payload has no rating content")
	}
	return []models.Review{f.mapRating(single)}, nil
}

// mapRating normalises one rating. Pages on the recommendation model
// carry no star value; a recommendation maps to 5, anything else to 1.
func (f *FacebookSource) mapRating(fr facebookRating) models.Review {
	rating := fr.Rating
	if rating == 0 {
		if fr.RecommendationType == "positive" {
			rating = 5
		} else {
			rating = 1
		}
	}

	review := models.Review{
		Source:       "facebook",
		ReviewerName: fr.Reviewer.Name,
		Rating:       rating,
		ReviewText:   fr.ReviewText,
	}

	if t, ok := parseTime(fr.CreatedTime); ok {
		review.ReviewDate = t
	}

	raw, _ := json.Marshal(fr)
	review.Raw = raw

	sourceID := fr.OpenGraphStoryID
	if sourceID == "" && fr.Reviewer.ID != "" {
		sourceID = fr.Reviewer.ID + ":" + fr.CreatedTime
	}
	return normalize(review, sourceID)
}
