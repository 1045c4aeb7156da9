package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/reviewpix/reviewpix/internal/apierr"
	"github.com/reviewpix/reviewpix/internal/models"
	"github.com/reviewpix/reviewpix/internal/sources"
	"github.com/reviewpix/reviewpix/internal/store"
	"github.com/sirupsen/logrus"
)

// The webhook signature may arrive under either header name.
var signatureHeaders = []string{"X-Hub-Signature-256", "X-Webhook-Signature"}

func (s *Server) handleIngestionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled": s.cfg.Ingestion.Enabled,
		"stats":   s.store.Stats(),
		"sources": s.scheduler.States(),
	})
}

func (s *Server) handleRecentReviews(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			writeError(w, apierr.BadRequest("invalid limit",
				apierr.FieldError{Field: "limit", Message: "must be an integer between 1 and 200"}))
			return
		}
		limit = parsed
	}

	reviews := s.store.Recent(limit, r.URL.Query().Get("source"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reviews": reviews,
		"count":   len(reviews),
	})
}

func (s *Server) handlePollAll(w http.ResponseWriter, r *http.Request) {
	results := s.scheduler.PollAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handlePollSource(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]
	result, err := s.scheduler.PollOnce(r.Context(), source)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleWebhookVerify echoes the verification token for the platform's
// subscription handshake.
func (s *Server) handleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	verification := r.URL.Query().Get("verification")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(verification)); err != nil {
		logrus.Debugf("Verification write: %v", err)
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		writeError(w, apierr.BadRequest("body too large or unreadable",
			apierr.FieldError{Field: "body", Message: err.Error()}))
		return
	}

	if secret := s.webhookSecret(source); secret != "" {
		if !verifySignature(r, secret, body) {
			writeError(w, apierr.Unauthorized("invalid webhook signature"))
			return
		}
	}

	var reviews []models.Review
	if adapter, ok := s.registry[source]; ok && adapter.IsEnabled() {
		reviews, err = adapter.Parse(body)
	} else {
		reviews, err = s.generic.ParseAs(source, body)
	}
	if err != nil {
		writeError(w, apierr.BadRequest("webhook payload could not be parsed",
			apierr.FieldError{Field: "body", Message: err.Error()}))
		return
	}

	result := s.pipeline.Process(r.Context(), reviews)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accepted":   true,
		"source":     source,
		"new":        result.New,
		"duplicates": result.Duplicates,
		"generated":  result.Generated,
		"shared":     result.Shared,
		"errors":     result.Errors,
	})
}

// webhookSecret resolves the HMAC secret for a source, falling back to
// the generic secret for sources without a dedicated adapter.
func (s *Server) webhookSecret(source string) string {
	if srcCfg, ok := s.cfg.Ingestion.Sources[source]; ok {
		return srcCfg.WebhookSecret
	}
	return s.cfg.Ingestion.Generic.WebhookSecret
}

// verifySignature checks "sha256=" + hex(HMAC-SHA256(secret, body))
// against the accepted header names in constant time.
func verifySignature(r *http.Request, secret string, body []byte) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	for _, header := range signatureHeaders {
		if value := r.Header.Get(header); value != "" {
			if hmac.Equal([]byte(value), []byte(expected)) {
				return true
			}
		}
	}
	return false
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")

	var reviews []models.Review
	if strings.Contains(contentType, "text/csv") {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCSVBody))
		if err != nil {
			writeError(w, apierr.BadRequest("CSV too large or unreadable",
				apierr.FieldError{Field: "body", Message: err.Error()}))
			return
		}
		reviews, err = sources.ParseCSV(body)
		if err != nil {
			writeError(w, apierr.BadRequest("CSV could not be parsed",
				apierr.FieldError{Field: "body", Message: err.Error()}))
			return
		}
	} else {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
		if err != nil {
			writeError(w, apierr.BadRequest("body too large or unreadable",
				apierr.FieldError{Field: "body", Message: err.Error()}))
			return
		}
		reviews, err = s.generic.ParseAs("import", json.RawMessage(body))
		if err != nil {
			writeError(w, apierr.BadRequest("import payload could not be parsed",
				apierr.FieldError{Field: "body", Message: err.Error()}))
			return
		}
	}

	result := s.pipeline.Process(r.Context(), reviews)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"imported":   result.New,
		"duplicates": result.Duplicates,
		"generated":  result.Generated,
		"shared":     result.Shared,
		"errors":     result.Errors,
	})
}

func (s *Server) handleReviewGenerate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	review, ok := s.store.Get(id)
	if !ok {
		writeError(w, apierr.NotFound("no review with id "+id))
		return
	}

	result, err := s.coordinator.Render(r.Context(), s.renderRequestFor(review, r))
	if err != nil {
		writeError(w, err)
		return
	}

	s.store.MarkProcessed(id, store.FlagImageGenerated)
	writeImage(w, result)
}

func (s *Server) handleReviewShare(w http.ResponseWriter, r *http.Request) {
	if !s.chat.Configured() {
		writeError(w, apierr.BadRequest("chat sharing is not configured"))
		return
	}

	id := mux.Vars(r)["id"]

	review, ok := s.store.Get(id)
	if !ok {
		writeError(w, apierr.NotFound("no review with id "+id))
		return
	}

	result, err := s.coordinator.Render(r.Context(), s.renderRequestFor(review, r))
	if err != nil {
		writeError(w, err)
		return
	}
	s.store.MarkProcessed(id, store.FlagImageGenerated)

	if err := s.chat.Share(review, result.Bytes, result.Format); err != nil {
		writeError(w, err)
		return
	}
	s.store.MarkProcessed(id, store.FlagChatShared)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"shared":    true,
		"review_id": id,
	})
}

// renderRequestFor builds the default render request for a stored
// review.
func (s *Server) renderRequestFor(review models.Review, r *http.Request) models.RenderRequest {
	return models.RenderRequest{
		ReviewerName: review.ReviewerName,
		Rating:       review.Rating,
		ReviewText:   review.ReviewText,
		TechName:     review.TechName,
		TechPhotoURL: review.TechPhotoURL,
		Source:       review.Source,
		Template:     s.cfg.Ingestion.DefaultTemplate,
		Size:         s.cfg.Ingestion.DefaultSize,
		BaseURL:      s.baseURL(r),
	}
}
