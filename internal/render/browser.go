package render

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

const (
	navigateTimeout = 30 * time.Second
	jpegQuality     = 90
)

// Browser is the seam between the coordinator and the headless
// browser engine; tests substitute a fake.
type Browser interface {
	Capture(ctx context.Context, html string, width, height int, format string) ([]byte, error)
	Connected() bool
	Close()
}

// chromeBrowser owns one long-lived Chrome instance. Launch is lazy on
// first use; a lost connection drops the handle so the next render
// relaunches.
type chromeBrowser struct {
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

func newChromeBrowser() *chromeBrowser {
	return &chromeBrowser{}
}

// ensure returns a connected browser, launching or relaunching as
// needed. Callers hold no lock; pages are created outside it.
func (c *chromeBrowser) ensure() (*rod.Browser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browser != nil {
		if _, err := (proto.BrowserGetVersion{}).Call(c.browser); err == nil {
			return c.browser, nil
		}
		logrus.Warn("Browser connection lost, relaunching")
		c.cleanupLocked()
	}

	l := launcher.New().Headless(true)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	c.browser = browser
	c.lnch = l
	logrus.Info("Headless browser launched")
	return browser, nil
}

func (c *chromeBrowser) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser == nil {
		return false
	}
	_, err := proto.BrowserGetVersion{}.Call(c.browser)
	return err == nil
}

func (c *chromeBrowser) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
}

func (c *chromeBrowser) cleanupLocked() {
	if c.browser != nil {
		if err := c.browser.Close(); err != nil {
			logrus.Debugf("Browser close: %v", err)
		}
		c.browser = nil
	}
	if c.lnch != nil {
		c.lnch.Cleanup()
		c.lnch = nil
	}
}

// Capture renders the document in a fresh page at the given viewport
// and screenshots a width x height clip. The page is never shared and
// is closed on every exit path.
func (c *chromeBrowser) Capture(ctx context.Context, html string, width, height int, format string) ([]byte, error) {
	browser, err := c.ensure()
	if err != nil {
		return nil, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			logrus.Debugf("Page close: %v", err)
		}
	}()

	navCtx, cancel := context.WithTimeout(ctx, navigateTimeout)
	defer cancel()
	page = page.Context(navCtx)

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}

	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(html))
	if err := page.Navigate(dataURL); err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("document load did not finish: %w", err)
	}
	// Let in-document assets (logo, tech photo) settle.
	if err := page.WaitIdle(5 * time.Second); err != nil {
		logrus.Debugf("Page idle wait: %v", err)
	}

	shot := &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
		Clip: &proto.PageViewport{
			Width:  float64(width),
			Height: float64(height),
			Scale:  1,
		},
	}
	if format == "jpeg" {
		quality := jpegQuality
		shot.Format = proto.PageCaptureScreenshotFormatJpeg
		shot.Quality = &quality
	}

	data, err := page.Screenshot(false, shot)
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return data, nil
}
