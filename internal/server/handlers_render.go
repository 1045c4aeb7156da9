package server

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/reviewpix/reviewpix/internal/apierr"
	"github.com/reviewpix/reviewpix/internal/models"
	"github.com/sirupsen/logrus"
)

// validateRenderRequest enforces field presence, lengths, and enums.
func validateRenderRequest(req *models.RenderRequest) error {
	var details []apierr.FieldError

	if strings.TrimSpace(req.ReviewerName) == "" {
		details = append(details, apierr.FieldError{Field: "reviewer_name", Message: "is required"})
	} else if len(req.ReviewerName) > 100 {
		details = append(details, apierr.FieldError{Field: "reviewer_name", Message: "must be 100 characters or fewer"})
	}

	if req.Rating < 1 || req.Rating > 5 {
		details = append(details, apierr.FieldError{Field: "rating", Message: "must be an integer between 1 and 5"})
	}

	if len(req.ReviewText) > 2000 {
		details = append(details, apierr.FieldError{Field: "review_text", Message: "must be 2000 characters or fewer"})
	}

	if req.Size != "" {
		if _, ok := models.SizePresets[req.Size]; !ok {
			details = append(details, apierr.FieldError{Field: "size", Message: "must be one of square, portrait, story, landscape"})
		}
	}

	if req.Format != "" && req.Format != "png" && req.Format != "jpeg" {
		details = append(details, apierr.FieldError{Field: "format", Message: "must be png or jpeg"})
	}

	if req.CallbackURL != "" {
		u, err := url.Parse(req.CallbackURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			details = append(details, apierr.FieldError{Field: "callback_url", Message: "must be an http(s) URL"})
		}
	}

	if len(details) > 0 {
		return apierr.BadRequest("validation failed", details...)
	}
	return nil
}

// writeImage sends the rendered bytes with the render response headers.
func writeImage(w http.ResponseWriter, result *models.RenderResult) {
	w.Header().Set("Content-Type", "image/"+result.Format)
	w.Header().Set("X-Image-Width", strconv.Itoa(result.Width))
	w.Header().Set("X-Image-Height", strconv.Itoa(result.Height))
	w.Header().Set("X-Generation-Time-Ms", strconv.FormatInt(result.Duration.Milliseconds(), 10))
	if result.Cached {
		w.Header().Set("X-Cache", "HIT")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Bytes); err != nil {
		logrus.Debugf("Image write: %v", err)
	}
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req models.RenderRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.generate(w, r, req)
}

// handleGenerateGET accepts the same fields via query string.
func (s *Server) handleGenerateGET(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rating, _ := strconv.Atoi(q.Get("rating"))

	req := models.RenderRequest{
		ReviewerName: q.Get("reviewer_name"),
		Rating:       rating,
		ReviewText:   q.Get("review_text"),
		TechName:     q.Get("tech_name"),
		TechPhotoURL: q.Get("tech_photo_url"),
		Source:       q.Get("source"),
		Template:     q.Get("template"),
		Size:         q.Get("size"),
		Format:       q.Get("format"),
		BrandColor:   q.Get("brand_color"),
		LogoURL:      q.Get("logo_url"),
		CallbackURL:  q.Get("callback_url"),
	}
	s.generate(w, r, req)
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request, req models.RenderRequest) {
	if err := validateRenderRequest(&req); err != nil {
		writeError(w, err)
		return
	}
	req.BaseURL = s.baseURL(r)

	if req.CallbackURL != "" {
		go s.coordinator.DeliverCallback(req)
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"accepted":     true,
			"callback_url": req.CallbackURL,
		})
		return
	}

	result, err := s.coordinator.Render(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeImage(w, result)
}

func (s *Server) handleGenerateBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reviews []models.RenderRequest `json:"reviews"`
	}
	if err := readJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}

	if len(body.Reviews) == 0 {
		writeError(w, apierr.BadRequest("batch is empty",
			apierr.FieldError{Field: "reviews", Message: "at least one review is required"}))
		return
	}
	if len(body.Reviews) > maxBatchSize {
		writeError(w, apierr.BadRequest(fmt.Sprintf("batch exceeds %d items", maxBatchSize),
			apierr.FieldError{Field: "reviews", Message: fmt.Sprintf("at most %d reviews per batch", maxBatchSize)}))
		return
	}

	base := s.baseURL(r)
	for i := range body.Reviews {
		if err := validateRenderRequest(&body.Reviews[i]); err != nil {
			writeError(w, err)
			return
		}
		body.Reviews[i].BaseURL = base
		body.Reviews[i].CallbackURL = ""
	}

	items := s.coordinator.RenderBatch(r.Context(), body.Reviews)

	type batchResult struct {
		Index   int    `json:"index"`
		Success bool   `json:"success"`
		Image   string `json:"image,omitempty"`
		Format  string `json:"format,omitempty"`
		Width   int    `json:"width,omitempty"`
		Height  int    `json:"height,omitempty"`
		Error   string `json:"error,omitempty"`
	}

	results := make([]batchResult, len(items))
	for i, item := range items {
		results[i] = batchResult{Index: item.Index, Success: item.Success, Error: item.Error}
		if item.Result != nil {
			results[i].Image = base64.StdEncoding.EncodeToString(item.Result.Bytes)
			results[i].Format = item.Result.Format
			results[i].Width = item.Result.Width
			results[i].Height = item.Result.Height
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleShareChat(w http.ResponseWriter, r *http.Request) {
	if !s.chat.Configured() {
		writeError(w, apierr.BadRequest("chat sharing is not configured"))
		return
	}

	var req models.RenderRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validateRenderRequest(&req); err != nil {
		writeError(w, err)
		return
	}
	req.BaseURL = s.baseURL(r)
	req.CallbackURL = ""

	result, err := s.coordinator.Render(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	review := models.Review{
		Source:       req.Source,
		ReviewerName: req.ReviewerName,
		Rating:       req.Rating,
		ReviewText:   req.ReviewText,
		TechName:     req.TechName,
	}
	if err := s.chat.Share(review, result.Bytes, result.Format); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"shared": true})
}

var safeNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

func (s *Server) handleTechnicianList(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(photosDir)
	if err != nil && !os.IsNotExist(err) {
		writeError(w, apierr.Internal("failed to list technician photos", err))
		return
	}

	photos := make([]map[string]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		photos = append(photos, map[string]string{
			"name": strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())),
			"url":  "/static/technicians/" + entry.Name(),
		})
	}
	sort.Slice(photos, func(i, j int) bool { return photos[i]["name"] < photos[j]["name"] })

	writeJSON(w, http.StatusOK, map[string]interface{}{"technicians": photos})
}

func (s *Server) handleTechnicianUpload(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" || !safeNamePattern.MatchString(name) || strings.Contains(name, "..") {
		writeError(w, apierr.BadRequest("invalid technician name",
			apierr.FieldError{Field: "name", Message: "letters, digits, dot, dash, underscore only"}))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImageBody))
	if err != nil {
		writeError(w, apierr.BadRequest("image too large or unreadable",
			apierr.FieldError{Field: "body", Message: err.Error()}))
		return
	}
	if len(body) == 0 {
		writeError(w, apierr.BadRequest("image body is empty"))
		return
	}

	ext := sniffImageExt(body)
	if ext == "" {
		writeError(w, apierr.BadRequest("body is not a PNG or JPEG image"))
		return
	}

	if err := os.MkdirAll(photosDir, 0o755); err != nil {
		writeError(w, apierr.Internal("failed to create photo directory", err))
		return
	}

	filename := strings.TrimSuffix(name, filepath.Ext(name)) + ext
	path := filepath.Join(photosDir, filename)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		writeError(w, apierr.Internal("failed to store photo", err))
		return
	}

	logrus.Infof("Stored technician photo %s (%d bytes)", filename, len(body))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stored": true,
		"url":    "/static/technicians/" + filename,
	})
}

// sniffImageExt identifies PNG and JPEG payloads by magic bytes.
func sniffImageExt(data []byte) string {
	if len(data) >= 4 && data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return ".png"
	}
	if len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8 {
		return ".jpg"
	}
	return ""
}
