package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/reviewpix/reviewpix/internal/config"
	"github.com/reviewpix/reviewpix/internal/models"
	"github.com/reviewpix/reviewpix/internal/pipeline"
	"github.com/reviewpix/reviewpix/internal/render"
	"github.com/reviewpix/reviewpix/internal/scheduler"
	"github.com/reviewpix/reviewpix/internal/sources"
	"github.com/reviewpix/reviewpix/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
var jpegMagic = []byte{0xFF, 0xD8, 0xFF, 0xE0}

// fakeBrowser renders deterministic magic bytes per format.
type fakeBrowser struct{}

func (f *fakeBrowser) Capture(ctx context.Context, html string, width, height int, format string) ([]byte, error) {
	if format == "jpeg" {
		return jpegMagic, nil
	}
	return pngMagic, nil
}

func (f *fakeBrowser) Connected() bool { return true }
func (f *fakeBrowser) Close()          {}

// fakeSharer stands in for the chat service.
type fakeSharer struct {
	configured bool
	calls      int
	fail       error
}

func (f *fakeSharer) Share(review models.Review, image []byte, format string) error {
	f.calls++
	return f.fail
}
func (f *fakeSharer) Configured() bool { return f.configured }
func (f *fakeSharer) Channel() string  { return "C012345" }

type testEnv struct {
	server  *Server
	store   *store.Store
	sharer  *fakeSharer
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Company: config.CompanyConfig{
			Name:           "Acme Plumbing",
			Phone:          "(555) 010-0100",
			BrandColor:     "#2563eb",
			BrandColorDark: "#1e40af",
		},
		Ingestion: config.IngestionConfig{
			Enabled:               true,
			MinRatingForAutoShare: 4,
			DefaultTemplate:       "default",
			DefaultSize:           "square",
			PollIntervalMinutes:   60,
			RetentionDays:         90,
			Sources: map[string]config.SourceConfig{
				"x": {WebhookSecret: "s"},
			},
		},
		Port: "3000",
	}

	st, err := store.New(filepath.Join(t.TempDir(), "reviews.json"))
	require.NoError(t, err)

	coordinator := render.NewWithBrowser(cfg.Company, t.TempDir(), &fakeBrowser{})
	sharer := &fakeSharer{configured: true}

	generic := sources.NewGenericSource(cfg.Ingestion.Generic)
	generic.Initialize()
	registry := map[string]sources.Source{"generic": generic}

	pl := pipeline.New(cfg, st, coordinator, sharer)
	sched := scheduler.New(cfg, st, registry, pl, nil)

	srv := New(cfg, st, coordinator, pl, sched, sharer, registry, generic)
	return &testEnv{server: srv, store: st, sharer: sharer, handler: srv.Router()}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postJSON(t *testing.T, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return e.do(t, "POST", path, body, map[string]string{"Content-Type": "application/json"})
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["browser_connected"])
}

func TestGenerate_PNG(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postJSON(t, "/generate", map[string]interface{}{
		"reviewer_name": "Jane D.", "rating": 5, "review_text": "Excellent",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "1080", rec.Header().Get("X-Image-Width"))
	assert.Equal(t, "1080", rec.Header().Get("X-Image-Height"))
	assert.NotEmpty(t, rec.Header().Get("X-Generation-Time-Ms"))
	assert.Equal(t, []byte{0x89, 0x50, 0x4E, 0x47}, rec.Body.Bytes()[:4])
	assert.Empty(t, rec.Header().Get("X-Cache"))
}

func TestGenerate_SecondCallHitsCache(t *testing.T) {
	env := newTestEnv(t)
	payload := map[string]interface{}{
		"reviewer_name": "Jane D.", "rating": 5, "review_text": "Excellent",
	}

	first := env.postJSON(t, "/generate", payload)
	require.Equal(t, http.StatusOK, first.Code)

	second := env.postJSON(t, "/generate", payload)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
}

func TestGenerate_LandscapeJPEG(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postJSON(t, "/generate", map[string]interface{}{
		"reviewer_name": "Jane D.", "rating": 5, "review_text": "Excellent",
		"size": "landscape", "format": "jpeg",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "1200", rec.Header().Get("X-Image-Width"))
	assert.Equal(t, "630", rec.Header().Get("X-Image-Height"))
	assert.Equal(t, []byte{0xFF, 0xD8}, rec.Body.Bytes()[:2])
}

func TestGenerate_QueryString(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/generate?reviewer_name=Jane&rating=4&review_text=Nice&size=story", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1080", rec.Header().Get("X-Image-Width"))
	assert.Equal(t, "1920", rec.Header().Get("X-Image-Height"))
}

func TestGenerate_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		payload map[string]interface{}
	}{
		{
			name:    "Missing reviewer name",
			payload: map[string]interface{}{"rating": 5},
		},
		{
			name:    "Rating out of range",
			payload: map[string]interface{}{"reviewer_name": "J", "rating": 99},
		},
		{
			name:    "Rating zero",
			payload: map[string]interface{}{"reviewer_name": "J", "rating": 0},
		},
		{
			name:    "Unknown size",
			payload: map[string]interface{}{"reviewer_name": "J", "rating": 5, "size": "billboard"},
		},
		{
			name:    "Unknown format",
			payload: map[string]interface{}{"reviewer_name": "J", "rating": 5, "format": "gif"},
		},
		{
			name:    "Unknown template",
			payload: map[string]interface{}{"reviewer_name": "J", "rating": 5, "template": "missing"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.postJSON(t, "/generate", tt.payload)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode(t, rec)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestGenerate_CallbackMode(t *testing.T) {
	delivered := make(chan []byte, 1)
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		delivered <- buf.Bytes()
	}))
	defer callback.Close()

	env := newTestEnv(t)

	rec := env.postJSON(t, "/generate", map[string]interface{}{
		"reviewer_name": "Jane D.", "rating": 5, "review_text": "Excellent",
		"callback_url": callback.URL,
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["accepted"])

	select {
	case image := <-delivered:
		assert.Equal(t, pngMagic, image)
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not delivered")
	}
}

func TestGenerateBatch(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postJSON(t, "/generate/batch", map[string]interface{}{
		"reviews": []map[string]interface{}{
			{"reviewer_name": "A", "rating": 5, "review_text": "One"},
			{"reviewer_name": "B", "rating": 4, "review_text": "Two"},
		},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Results []struct {
			Index   int    `json:"index"`
			Success bool   `json:"success"`
			Image   string `json:"image"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 2)
	for i, result := range body.Results {
		assert.Equal(t, i, result.Index)
		assert.True(t, result.Success)
		assert.NotEmpty(t, result.Image)
	}
}

func TestGenerateBatch_Limits(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postJSON(t, "/generate/batch", map[string]interface{}{"reviews": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	oversize := make([]map[string]interface{}, 21)
	for i := range oversize {
		oversize[i] = map[string]interface{}{"reviewer_name": "A", "rating": 5}
	}
	rec = env.postJSON(t, "/generate/batch", map[string]interface{}{"reviews": oversize})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImport_JSONTwice(t *testing.T) {
	env := newTestEnv(t)
	payload := map[string]interface{}{
		"source": "x",
		"reviews": []map[string]interface{}{
			{"reviewer_name": "A", "rating": 5, "review_text": "T"},
		},
	}

	first := env.postJSON(t, "/api/ingestion/import", payload)
	require.Equal(t, http.StatusOK, first.Code)
	body := decode(t, first)
	assert.Equal(t, float64(1), body["imported"])
	assert.Equal(t, float64(0), body["duplicates"])

	second := env.postJSON(t, "/api/ingestion/import", payload)
	require.Equal(t, http.StatusOK, second.Code)
	body = decode(t, second)
	assert.Equal(t, float64(0), body["imported"])
	assert.Equal(t, float64(1), body["duplicates"])
}

func TestImport_CSV(t *testing.T) {
	env := newTestEnv(t)

	csv := "reviewer_name,rating,review_text,source\nJane,5,Great,google\n"
	rec := env.do(t, "POST", "/api/ingestion/import", []byte(csv),
		map[string]string{"Content-Type": "text/csv"})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["imported"])

	reviews := env.store.Recent(10, "google")
	require.Len(t, reviews, 1)
	assert.Equal(t, "Jane", reviews[0].ReviewerName)
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhook_HMAC(t *testing.T) {
	env := newTestEnv(t)
	body := []byte(`[{"reviewer_name":"A","rating":5,"review_text":"T"}]`)

	// Valid signature under either accepted header.
	for _, header := range []string{"X-Hub-Signature-256", "X-Webhook-Signature"} {
		rec := env.do(t, "POST", "/api/ingestion/webhook/x", body,
			map[string]string{header: signBody("s", body)})
		require.Equal(t, http.StatusOK, rec.Code, "header %s", header)
		assert.Equal(t, true, decode(t, rec)["accepted"])
	}

	// A flipped byte in the signature is rejected.
	sig := []byte(signBody("s", body))
	sig[len(sig)-1] ^= 1
	rec := env.do(t, "POST", "/api/ingestion/webhook/x", body,
		map[string]string{"X-Hub-Signature-256": string(sig)})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// A missing signature is rejected when a secret is configured.
	rec = env.do(t, "POST", "/api/ingestion/webhook/x", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// An altered body no longer matches the original signature.
	altered := append([]byte{}, body...)
	altered[10] ^= 1
	rec = env.do(t, "POST", "/api/ingestion/webhook/x", altered,
		map[string]string{"X-Hub-Signature-256": signBody("s", body)})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_NoSecretConfigured(t *testing.T) {
	env := newTestEnv(t)
	body := []byte(`[{"reviewer_name":"A","rating":5,"review_text":"T"}]`)

	rec := env.do(t, "POST", "/api/ingestion/webhook/unsigned", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	reviews := env.store.Recent(10, "unsigned")
	require.Len(t, reviews, 1)
}

func TestWebhook_Verification(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/ingestion/webhook/x?verification=tok-123", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok-123", rec.Body.String())
}

func TestReviewGenerate(t *testing.T) {
	env := newTestEnv(t)

	review := models.Review{
		ID: "google:1", Source: "google", ReviewerName: "Jane",
		Rating: 5, ReviewText: "Great", ReviewDate: time.Now(),
	}
	require.NoError(t, env.store.Add(review))

	rec := env.do(t, "POST", "/api/ingestion/reviews/google:1/generate", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	stored, _ := env.store.Get("google:1")
	assert.True(t, stored.ImageGenerated)
}

func TestReviewGenerate_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/ingestion/reviews/google:missing/generate", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReviewShare(t *testing.T) {
	env := newTestEnv(t)

	review := models.Review{
		ID: "google:1", Source: "google", ReviewerName: "Jane",
		Rating: 5, ReviewText: "Great", ReviewDate: time.Now(),
	}
	require.NoError(t, env.store.Add(review))

	rec := env.do(t, "POST", "/api/ingestion/reviews/google:1/share", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.sharer.calls)

	stored, _ := env.store.Get("google:1")
	assert.True(t, stored.ImageGenerated)
	assert.True(t, stored.ChatShared)
}

func TestRecentReviews(t *testing.T) {
	env := newTestEnv(t)

	for _, id := range []string{"google:1", "yelp:1"} {
		source := "google"
		if id == "yelp:1" {
			source = "yelp"
		}
		require.NoError(t, env.store.Add(models.Review{
			ID: id, Source: source, ReviewerName: "J", Rating: 5, ReviewDate: time.Now(),
		}))
	}

	rec := env.do(t, "GET", "/api/ingestion/reviews", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["count"])

	rec = env.do(t, "GET", "/api/ingestion/reviews?source=yelp", nil, nil)
	assert.Equal(t, float64(1), decode(t, rec)["count"])

	rec = env.do(t, "GET", "/api/ingestion/reviews?limit=0", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestionStatus(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/ingestion/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["enabled"])
	assert.Contains(t, body, "stats")
	assert.Contains(t, body, "sources")
}

func TestMetaEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/config", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	company := decode(t, rec)["company"].(map[string]interface{})
	assert.Equal(t, "Acme Plumbing", company["name"])

	rec = env.do(t, "GET", "/api/templates", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "default")

	rec = env.do(t, "GET", "/api/sizes", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sizes := decode(t, rec)["sizes"].(map[string]interface{})
	assert.Len(t, sizes, 4)

	rec = env.do(t, "GET", "/api/platforms", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	platforms := decode(t, rec)["platforms"].(map[string]interface{})
	assert.Contains(t, platforms, "google")

	rec = env.do(t, "GET", "/api/chat/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["configured"])
}

func TestShareChat(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postJSON(t, "/api/share/chat", map[string]interface{}{
		"reviewer_name": "Jane", "rating": 5, "review_text": "Great",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.sharer.calls)

	env.sharer.configured = false
	rec = env.postJSON(t, "/api/share/chat", map[string]interface{}{
		"reviewer_name": "Jane", "rating": 5,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSniffImageExt(t *testing.T) {
	assert.Equal(t, ".png", sniffImageExt(pngMagic))
	assert.Equal(t, ".jpg", sniffImageExt(jpegMagic))
	assert.Equal(t, "", sniffImageExt([]byte("GIF89a")))
	assert.Equal(t, "", sniffImageExt(nil))
}
