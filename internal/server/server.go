package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/reviewpix/reviewpix/internal/apierr"
	"github.com/reviewpix/reviewpix/internal/config"
	"github.com/reviewpix/reviewpix/internal/models"
	"github.com/reviewpix/reviewpix/internal/pipeline"
	"github.com/reviewpix/reviewpix/internal/render"
	"github.com/reviewpix/reviewpix/internal/scheduler"
	"github.com/reviewpix/reviewpix/internal/sources"
	"github.com/reviewpix/reviewpix/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	maxJSONBody  = 1 << 20 // 1 MB
	maxImageBody = 5 << 20 // 5 MB
	maxCSVBody   = 5 << 20 // 5 MB
	maxBatchSize = 20
	staticDir    = "static"
	photosDir    = "static/technicians"
)

// Renderer is the coordinator surface the HTTP layer needs; satisfied
// by *render.Coordinator.
type Renderer interface {
	Render(ctx context.Context, req models.RenderRequest) (*models.RenderResult, error)
	RenderBatch(ctx context.Context, reqs []models.RenderRequest) []render.BatchItem
	DeliverCallback(req models.RenderRequest)
	BrowserConnected() bool
	TemplateNames() []string
}

// Sharer is the chat surface the HTTP layer needs; satisfied by
// *chat.Service.
type Sharer interface {
	Share(review models.Review, image []byte, format string) error
	Configured() bool
	Channel() string
}

// Server is the HTTP surface: routing and validation over the store,
// scheduler, render coordinator, pipeline, and chat service.
type Server struct {
	cfg         *config.Config
	store       *store.Store
	coordinator Renderer
	pipeline    *pipeline.Pipeline
	scheduler   *scheduler.Scheduler
	chat        Sharer
	registry    map[string]sources.Source
	generic     *sources.GenericSource
	startTime   time.Time
}

// New wires the HTTP server over the service components.
func New(cfg *config.Config, st *store.Store, coordinator Renderer,
	pl *pipeline.Pipeline, sched *scheduler.Scheduler, chatSvc Sharer,
	registry map[string]sources.Source, generic *sources.GenericSource) *Server {
	return &Server{
		cfg:         cfg,
		store:       st,
		coordinator: coordinator,
		pipeline:    pl,
		scheduler:   sched,
		chat:        chatSvc,
		registry:    registry,
		generic:     generic,
		startTime:   time.Now(),
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	r.HandleFunc("/api/config", s.handleConfig).Methods("GET")
	r.HandleFunc("/api/templates", s.handleTemplates).Methods("GET")
	r.HandleFunc("/api/sizes", s.handleSizes).Methods("GET")
	r.HandleFunc("/api/platforms", s.handlePlatforms).Methods("GET")
	r.HandleFunc("/api/technicians", s.handleTechnicianList).Methods("GET")
	r.HandleFunc("/api/technicians/upload", s.handleTechnicianUpload).Methods("POST")

	r.HandleFunc("/generate", s.handleGenerate).Methods("POST")
	r.HandleFunc("/generate", s.handleGenerateGET).Methods("GET")
	r.HandleFunc("/generate/batch", s.handleGenerateBatch).Methods("POST")

	r.HandleFunc("/api/chat/status", s.handleChatStatus).Methods("GET")
	r.HandleFunc("/api/share/chat", s.handleShareChat).Methods("POST")

	r.HandleFunc("/api/ingestion/status", s.handleIngestionStatus).Methods("GET")
	r.HandleFunc("/api/ingestion/reviews", s.handleRecentReviews).Methods("GET")
	r.HandleFunc("/api/ingestion/poll", s.handlePollAll).Methods("POST")
	r.HandleFunc("/api/ingestion/poll/{source}", s.handlePollSource).Methods("POST")
	r.HandleFunc("/api/ingestion/webhook/{source}", s.handleWebhookVerify).Methods("GET")
	r.HandleFunc("/api/ingestion/webhook/{source}", s.handleWebhook).Methods("POST")
	r.HandleFunc("/api/ingestion/import", s.handleImport).Methods("POST")
	r.HandleFunc("/api/ingestion/reviews/{id}/generate", s.handleReviewGenerate).Methods("POST")
	r.HandleFunc("/api/ingestion/reviews/{id}/share", s.handleReviewShare).Methods("POST")

	r.PathPrefix("/static/").Handler(
		http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))

	return r
}

// baseURL is the root used to absolutise relative asset URLs: the
// configured override, else the inbound request's scheme and host.
func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.BaseURL != "" {
		return s.cfg.BaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.Errorf("Failed to encode response: %v", err)
	}
}

// writeError maps an error to the JSON error shape and its status.
func writeError(w http.ResponseWriter, err error) {
	apiErr := apierr.From(err)
	if apiErr.Kind == apierr.KindInternal {
		logrus.Errorf("Request failed: %v", apiErr)
	}

	body := map[string]interface{}{"error": apiErr.Message}
	if len(apiErr.Details) > 0 {
		body["details"] = apiErr.Details
	}
	writeJSON(w, apiErr.Status(), body)
}

// readJSON decodes a size-capped JSON body.
func readJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierr.BadRequest("invalid JSON body",
			apierr.FieldError{Field: "body", Message: err.Error()})
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"uptime_seconds":    int(time.Since(s.startTime).Seconds()),
		"browser_connected": s.coordinator.BrowserConnected(),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"company": s.cfg.Company,
		"ingestion": map[string]interface{}{
			"enabled":          s.cfg.Ingestion.Enabled,
			"auto_generate":    s.cfg.Ingestion.AutoGenerate,
			"auto_share":       s.cfg.Ingestion.AutoShare,
			"default_template": s.cfg.Ingestion.DefaultTemplate,
			"default_size":     s.cfg.Ingestion.DefaultSize,
		},
	})
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"templates": s.coordinator.TemplateNames(),
	})
}

func (s *Server) handleSizes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sizes":   models.SizePresets,
		"default": s.cfg.Ingestion.DefaultSize,
	})
}

func (s *Server) handlePlatforms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"platforms": render.PlatformBadges,
	})
}

func (s *Server) handleChatStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"configured": s.chat.Configured(),
		"channel":    s.chat.Channel(),
	})
}
