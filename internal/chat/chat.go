package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/reviewpix/reviewpix/internal/apierr"
	"github.com/reviewpix/reviewpix/internal/config"
	"github.com/reviewpix/reviewpix/internal/models"
	"github.com/sirupsen/logrus"
)

const defaultUploadURL = "https://slack.com/api/files.upload"

// Service uploads rendered review images to the chat workspace.
type Service struct {
	cfg       config.ChatConfig
	client    *resty.Client
	uploadURL string
}

type uploadResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// NewService creates a chat share service.
func NewService(cfg config.ChatConfig) *Service {
	return &Service{
		cfg: cfg,
		client: resty.New().
			SetTimeout(30 * time.Second).
			SetHeader("User-Agent", "ReviewPix/1.0"),
		uploadURL: defaultUploadURL,
	}
}

// Configured reports whether sharing can run at all.
func (s *Service) Configured() bool {
	return s.cfg.Configured()
}

// Channel returns the configured channel for the status endpoint.
func (s *Service) Channel() string {
	return s.cfg.Channel
}

// Share uploads the image with a composed message. Success iff the
// remote API answers ok:true.
func (s *Service) Share(review models.Review, image []byte, format string) error {
	if !s.Configured() {
		return fmt.Errorf("chat sharing is not configured")
	}

	ext := "png"
	if format == "jpeg" {
		ext = "jpg"
	}
	filename := fmt.Sprintf("review-%s-%d.%s", slugify(review.ReviewerName), time.Now().UnixMilli(), ext)

	resp, err := s.client.R().
		SetAuthToken(s.cfg.BotToken).
		SetFileReader("file", filename, bytes.NewReader(image)).
		SetFormData(map[string]string{
			"channels":        s.cfg.Channel,
			"initial_comment": s.buildMessage(review),
			"filename":        filename,
			"title":           fmt.Sprintf("%d-star review from %s", review.Rating, review.ReviewerName),
		}).
		Post(s.uploadURL)
	if err != nil {
		return fmt.Errorf("chat upload failed: %w", err)
	}

	var upload uploadResponse
	if err := json.Unmarshal(resp.Body(), &upload); err != nil {
		return fmt.Errorf("chat upload response malformed: %w", err)
	}
	if !upload.OK {
		return apierr.Upstream("chat API rejected upload", fmt.Errorf("%s", upload.Error))
	}

	logrus.Infof("Shared review %s to chat channel %s", review.ID, s.cfg.Channel)
	return nil
}

// buildMessage composes the chat text: stars, platform, reviewer, the
// quoted review, and a technician mention when the name maps to one.
func (s *Service) buildMessage(review models.Review) string {
	var b strings.Builder

	b.WriteString(strings.Repeat("★", models.ClampRating(review.Rating)))
	if label := platformLabel(review.Source); label != "" {
		b.WriteString(" New review on " + label)
	} else {
		b.WriteString(" New review")
	}
	b.WriteString(" from " + review.ReviewerName + "\n")

	if review.ReviewText != "" {
		for _, line := range strings.Split(review.ReviewText, "\n") {
			b.WriteString("> " + line + "\n")
		}
	}

	if mention := s.resolveMention(review.TechName); mention != "" {
		b.WriteString("Technician: " + mention + "\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// resolveMention looks the technician up in the configured mapping,
// case-insensitively, and returns the workspace mention syntax.
func (s *Service) resolveMention(techName string) string {
	if techName == "" {
		return ""
	}
	for name, id := range s.cfg.Technicians {
		if strings.EqualFold(name, techName) {
			return "<@" + id + ">"
		}
	}
	return ""
}

func platformLabel(source string) string {
	switch source {
	case "google":
		return "Google"
	case "yelp":
		return "Yelp"
	case "facebook":
		return "Facebook"
	default:
		return ""
	}
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(s), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "review"
	}
	return slug
}
