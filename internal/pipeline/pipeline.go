package pipeline

import (
	"context"

	"github.com/reviewpix/reviewpix/internal/config"
	"github.com/reviewpix/reviewpix/internal/models"
	"github.com/reviewpix/reviewpix/internal/store"
	"github.com/sirupsen/logrus"
)

// Renderer produces an image for a review; satisfied by the render
// coordinator.
type Renderer interface {
	Render(ctx context.Context, req models.RenderRequest) (*models.RenderResult, error)
}

// Sharer posts a rendered review to the chat workspace; satisfied by
// the chat service.
type Sharer interface {
	Share(review models.Review, image []byte, format string) error
	Configured() bool
}

// Pipeline is the fan-out applied to every newly ingested review:
// dedupe, persist, optionally render, optionally share. Each step
// records an idempotent flag on the stored record, and a failed step
// never blocks the ones before it.
type Pipeline struct {
	cfg      *config.Config
	store    *store.Store
	renderer Renderer
	sharer   Sharer
}

// New creates the ingestion pipeline.
func New(cfg *config.Config, st *store.Store, renderer Renderer, sharer Sharer) *Pipeline {
	return &Pipeline{cfg: cfg, store: st, renderer: renderer, sharer: sharer}
}

// Process runs records through the pipeline sequentially, in order.
func (p *Pipeline) Process(ctx context.Context, reviews []models.Review) models.ProcessResult {
	result := models.ProcessResult{}

	for _, review := range reviews {
		if p.store.Has(review.ID) {
			result.Duplicates++
			continue
		}

		if err := p.store.Add(review); err != nil {
			// A concurrent ingress can win the insert between Has and Add.
			result.Duplicates++
			continue
		}
		result.New++
		p.store.MarkProcessed(review.ID)

		if !p.cfg.Ingestion.AutoGenerate {
			continue
		}

		image, err := p.generate(ctx, review)
		if err != nil {
			logrus.Errorf("Auto-generate for %s failed: %v", review.ID, err)
			result.Errors = append(result.Errors, models.ProcessError{
				ReviewID: review.ID, Step: "generate", Message: err.Error(),
			})
			continue
		}
		p.store.MarkProcessed(review.ID, store.FlagImageGenerated)
		result.Generated++

		if !p.cfg.Ingestion.AutoShare || !p.sharer.Configured() {
			continue
		}
		if review.Rating < p.cfg.Ingestion.MinRatingForAutoShare {
			logrus.Debugf("Skipping auto-share for %s: rating %d below threshold", review.ID, review.Rating)
			continue
		}

		if err := p.sharer.Share(review, image.Bytes, image.Format); err != nil {
			logrus.Errorf("Auto-share for %s failed: %v", review.ID, err)
			result.Errors = append(result.Errors, models.ProcessError{
				ReviewID: review.ID, Step: "share", Message: err.Error(),
			})
			continue
		}
		p.store.MarkProcessed(review.ID, store.FlagChatShared)
		result.Shared++
	}

	logrus.Infof("Processed %d reviews: %d new, %d duplicates, %d generated, %d shared, %d errors",
		len(reviews), result.New, result.Duplicates, result.Generated, result.Shared, len(result.Errors))
	return result
}

func (p *Pipeline) generate(ctx context.Context, review models.Review) (*models.RenderResult, error) {
	return p.renderer.Render(ctx, models.RenderRequest{
		ReviewerName: review.ReviewerName,
		Rating:       review.Rating,
		ReviewText:   review.ReviewText,
		TechName:     review.TechName,
		TechPhotoURL: review.TechPhotoURL,
		Source:       review.Source,
		Template:     p.cfg.Ingestion.DefaultTemplate,
		Size:         p.cfg.Ingestion.DefaultSize,
		BaseURL:      p.cfg.BaseURL,
	})
}
