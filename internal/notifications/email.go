package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/reviewpix/reviewpix/internal/config"
	"github.com/reviewpix/reviewpix/internal/models"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// Digest summarises the reviews ingested over one reporting window.
type Digest struct {
	GeneratedAt   time.Time
	Window        string
	CompanyName   string
	TotalReviews  int
	AverageRating float64
	BySource      map[string]int
	Reviews       []models.Review
}

// EmailService sends the daily review digest over SMTP.
type EmailService struct {
	cfg config.NotificationsConfig
}

// NewEmailService creates the digest sender.
func NewEmailService(cfg config.NotificationsConfig) *EmailService {
	return &EmailService{cfg: cfg}
}

// Configured reports whether the digest can be sent.
func (e *EmailService) Configured() bool {
	return e.cfg.Configured()
}

// BuildDigest aggregates the given reviews into a digest.
func BuildDigest(companyName string, reviews []models.Review, window string) *Digest {
	digest := &Digest{
		GeneratedAt:  time.Now(),
		Window:       window,
		CompanyName:  companyName,
		TotalReviews: len(reviews),
		BySource:     make(map[string]int),
		Reviews:      reviews,
	}

	sum := 0
	for _, r := range reviews {
		digest.BySource[r.Source]++
		sum += r.Rating
	}
	if len(reviews) > 0 {
		digest.AverageRating = float64(sum) / float64(len(reviews))
	}
	return digest
}

// SendDigest emails the digest with an HTML body and a text fallback.
func (e *EmailService) SendDigest(digest *Digest) error {
	if !e.Configured() {
		return fmt.Errorf("email notifications are not configured")
	}

	subject := fmt.Sprintf("%s review digest - %d new reviews", digest.CompanyName, digest.TotalReviews)

	htmlBody, err := e.buildHTML(digest)
	if err != nil {
		return fmt.Errorf("failed to build digest HTML: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", e.cfg.SMTPUsername)
	m.SetHeader("To", e.cfg.Email)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", e.buildText(digest))
	m.AddAlternative("text/html", htmlBody)

	d := gomail.NewDialer(e.cfg.SMTPHost, e.cfg.SMTPPort, e.cfg.SMTPUsername, e.cfg.SMTPPassword)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send digest email: %w", err)
	}

	logrus.Infof("Sent review digest to %s (%d reviews)", e.cfg.Email, digest.TotalReviews)
	return nil
}

func (e *EmailService) buildHTML(digest *Digest) (string, error) {
	tmpl := `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Review Digest</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .header { background-color: #2563eb; color: white; padding: 20px; border-radius: 5px; }
        .summary { background-color: #f5f5f5; padding: 15px; margin: 20px 0; border-radius: 5px; }
        .review { border-left: 4px solid #2563eb; padding: 10px; margin: 10px 0; background-color: #fafafa; }
        .review-meta { color: #666; font-size: 0.9em; }
        .stars { color: #f5a623; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.CompanyName}} Review Digest</h1>
        <p>{{.Window}} digest generated on {{.GeneratedAt.Format "January 2, 2006 at 3:04 PM"}}</p>
    </div>

    <div class="summary">
        <h2>Summary</h2>
        <p><strong>New Reviews:</strong> {{.TotalReviews}}</p>
        <p><strong>Average Rating:</strong> {{printf "%.1f" .AverageRating}}</p>
        {{range $source, $count := .BySource}}
            <p><strong>{{$source}}:</strong> {{$count}}</p>
        {{end}}
    </div>

    {{if .Reviews}}
    <h2>Recent Reviews</h2>
    {{range $index, $review := .Reviews}}
        {{if lt $index 10}}
        <div class="review">
            <div class="stars">{{stars $review.Rating}}</div>
            <p>{{$review.ReviewText | truncate 200}}</p>
            <div class="review-meta">
                {{$review.ReviewerName}} on {{$review.Source}} | {{$review.ReviewDate.Format "Jan 2, 2006"}}
            </div>
        </div>
        {{end}}
    {{end}}
    {{end}}

    <hr>
    <p><small>This digest was generated automatically.</small></p>
</body>
</html>
`

	t := template.New("digest").Funcs(template.FuncMap{
		"stars": func(rating int) string {
			return strings.Repeat("★", models.ClampRating(rating))
		},
		"truncate": func(length int, s string) string {
			if len(s) <= length {
				return s
			}
			return s[:length] + "..."
		},
	})

	t, err := t.Parse(tmpl)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, digest); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (e *EmailService) buildText(digest *Digest) string {
	var text strings.Builder

	text.WriteString(fmt.Sprintf("%s Review Digest\n", digest.CompanyName))
	text.WriteString(fmt.Sprintf("Generated: %s\n\n", digest.GeneratedAt.Format("2006-01-02 15:04:05")))

	text.WriteString("SUMMARY\n")
	text.WriteString("=======\n")
	text.WriteString(fmt.Sprintf("New Reviews: %d\n", digest.TotalReviews))
	text.WriteString(fmt.Sprintf("Average Rating: %.1f\n", digest.AverageRating))
	for source, count := range digest.BySource {
		text.WriteString(fmt.Sprintf("%s: %d\n", source, count))
	}

	if len(digest.Reviews) > 0 {
		text.WriteString("\nRECENT REVIEWS\n")
		text.WriteString("==============\n")

		limit := 10
		if len(digest.Reviews) < limit {
			limit = len(digest.Reviews)
		}
		for i := 0; i < limit; i++ {
			review := digest.Reviews[i]
			text.WriteString(fmt.Sprintf("\n%d. %s (%d/5) on %s, %s\n",
				i+1, review.ReviewerName, review.Rating, review.Source,
				review.ReviewDate.Format("Jan 2, 2006")))
			content := review.ReviewText
			if len(content) > 200 {
				content = content[:200] + "..."
			}
			if content != "" {
				text.WriteString("   " + content + "\n")
			}
		}
	}

	return text.String()
}
