package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/reviewpix/reviewpix/internal/apierr"
	"github.com/reviewpix/reviewpix/internal/config"
	"github.com/reviewpix/reviewpix/internal/models"
	"github.com/sirupsen/logrus"
)

const batchChunkSize = 3

// Coordinator turns render requests into images: template expansion,
// a shared headless browser, and a content-addressed LRU result cache.
type Coordinator struct {
	company   config.CompanyConfig
	templates *templateSet
	cache     *lruCache
	browser   Browser
	client    *resty.Client
}

// New creates a render coordinator backed by a local Chrome. The
// browser is launched lazily on the first render unless Warm is called.
func New(company config.CompanyConfig, templatesDir string) *Coordinator {
	return NewWithBrowser(company, templatesDir, newChromeBrowser())
}

// NewWithBrowser creates a coordinator over an explicit browser
// implementation.
func NewWithBrowser(company config.CompanyConfig, templatesDir string, browser Browser) *Coordinator {
	return &Coordinator{
		company:   company,
		templates: loadTemplates(templatesDir),
		cache:     newLRUCache(cacheCapacity),
		browser:   browser,
		client: resty.New().
			SetTimeout(30 * time.Second).
			SetHeader("User-Agent", "ReviewPix/1.0"),
	}
}

// Warm launches the browser eagerly.
func (c *Coordinator) Warm() {
	if b, ok := c.browser.(*chromeBrowser); ok {
		if _, err := b.ensure(); err != nil {
			logrus.Errorf("Browser warm-up failed: %v", err)
		}
	}
}

// BrowserConnected reports browser health for the health endpoint.
func (c *Coordinator) BrowserConnected() bool {
	return c.browser.Connected()
}

// TemplateNames lists the available templates.
func (c *Coordinator) TemplateNames() []string {
	return c.templates.names()
}

// Shutdown closes the browser.
func (c *Coordinator) Shutdown() {
	c.browser.Close()
}

// Render produces one image, serving from the cache when the request
// hash and format match a stored entry.
func (c *Coordinator) Render(ctx context.Context, req models.RenderRequest) (*models.RenderResult, error) {
	start := time.Now()

	if req.Size == "" {
		req.Size = models.DefaultSize
	}
	if req.Format == "" {
		req.Format = models.DefaultFormat
	}
	if req.Template == "" {
		req.Template = "default"
	}

	preset, ok := models.SizePresets[req.Size]
	if !ok {
		return nil, apierr.BadRequest(fmt.Sprintf("unknown size %q", req.Size),
			apierr.FieldError{Field: "size", Message: "must be one of square, portrait, story, landscape"})
	}

	key := req.CacheKey()
	if entry, ok := c.cache.get(key); ok && entry.format == req.Format {
		logrus.Debugf("Render cache hit %s", key[:12])
		return &models.RenderResult{
			Bytes:    entry.bytes,
			Format:   entry.format,
			Width:    entry.width,
			Height:   entry.height,
			Duration: time.Since(start),
			Cached:   true,
		}, nil
	}

	tpl, ok := c.templates.get(req.Template)
	if !ok {
		return nil, apierr.BadRequest(fmt.Sprintf("unknown template %q", req.Template),
			apierr.FieldError{Field: "template", Message: "no such template"})
	}

	html := expandTemplate(tpl, req, c.company)

	bytes, err := c.browser.Capture(ctx, html, preset.Width, preset.Height, req.Format)
	if err != nil {
		return nil, apierr.Internal("render failed", err)
	}

	c.cache.put(&cacheEntry{
		key:    key,
		bytes:  bytes,
		format: req.Format,
		width:  preset.Width,
		height: preset.Height,
	})

	duration := time.Since(start)
	logrus.Infof("Rendered %s %dx%d %s in %v", req.Size, preset.Width, preset.Height, req.Format, duration)

	return &models.RenderResult{
		Bytes:    bytes,
		Format:   req.Format,
		Width:    preset.Width,
		Height:   preset.Height,
		Duration: duration,
	}, nil
}

// BatchItem is one entry of a batch render response, order-preserving.
type BatchItem struct {
	Index   int                  `json:"index"`
	Success bool                 `json:"success"`
	Error   string               `json:"error,omitempty"`
	Result  *models.RenderResult `json:"-"`
}

// RenderBatch renders the requests in input order, processing chunks of
// three concurrently.
func (c *Coordinator) RenderBatch(ctx context.Context, reqs []models.RenderRequest) []BatchItem {
	items := make([]BatchItem, len(reqs))

	for chunkStart := 0; chunkStart < len(reqs); chunkStart += batchChunkSize {
		chunkEnd := chunkStart + batchChunkSize
		if chunkEnd > len(reqs) {
			chunkEnd = len(reqs)
		}

		var wg sync.WaitGroup
		for i := chunkStart; i < chunkEnd; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				result, err := c.Render(ctx, reqs[i])
				items[i] = BatchItem{Index: i, Success: err == nil, Result: result}
				if err != nil {
					items[i].Error = err.Error()
				}
			}(i)
		}
		wg.Wait()
	}

	return items
}

// DeliverCallback renders out-of-band and POSTs the raw image bytes to
// the request's callback URL. Failures are logged, never retried.
func (c *Coordinator) DeliverCallback(req models.RenderRequest) {
	result, err := c.Render(context.Background(), req)
	if err != nil {
		logrus.Errorf("Callback render for %s failed: %v", req.CallbackURL, err)
		return
	}

	resp, err := c.client.R().
		SetHeader("Content-Type", "image/"+result.Format).
		SetBody(result.Bytes).
		Post(req.CallbackURL)
	if err != nil {
		logrus.Errorf("Callback delivery to %s failed: %v", req.CallbackURL, err)
		return
	}
	if resp.StatusCode() >= 300 {
		logrus.Errorf("Callback delivery to %s returned status %d", req.CallbackURL, resp.StatusCode())
		return
	}
	logrus.Infof("Delivered callback render to %s (%d bytes)", req.CallbackURL, len(result.Bytes))
}
