package render

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/reviewpix/reviewpix/internal/config"
	"github.com/reviewpix/reviewpix/internal/models"
	"github.com/sirupsen/logrus"
)

//go:embed templates/default.html
var defaultTemplate string

const starGlyph = "★"

// PlatformBadge describes the source badge injected into templates.
type PlatformBadge struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

// PlatformBadges maps source tags to their badge styling.
var PlatformBadges = map[string]PlatformBadge{
	"google":   {Label: "Google", Color: "#4285F4"},
	"yelp":     {Label: "Yelp", Color: "#D32323"},
	"facebook": {Label: "Facebook", Color: "#1877F2"},
}

// templateSet resolves template names to their HTML text. "default"
// resolves to the built-in template; additional templates are loaded
// from the templates directory at construction.
type templateSet struct {
	templates map[string]string
}

func loadTemplates(dir string) *templateSet {
	set := &templateSet{templates: map[string]string{"default": defaultTemplate}}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logrus.Warnf("Failed to read template directory %s: %v", dir, err)
		}
		return set
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".html" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			logrus.Warnf("Failed to read template %s: %v", entry.Name(), err)
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".html")
		set.templates[name] = string(data)
	}

	logrus.Infof("Loaded %d render templates", len(set.templates))
	return set
}

func (t *templateSet) get(name string) (string, bool) {
	tpl, ok := t.templates[name]
	return tpl, ok
}

func (t *templateSet) names() []string {
	names := make([]string, 0, len(t.templates))
	for name := range t.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// escapeHTML entity-escapes the five characters that matter inside the
// rendered document. Applied to every user-originated value.
func escapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// expandTemplate substitutes the placeholder set into the template text.
// Brand colours, tech display, and the low-rating class are replaced at
// every occurrence; the remaining placeholders appear once by contract.
func expandTemplate(tpl string, req models.RenderRequest, company config.CompanyConfig) string {
	brandColor := company.BrandColor
	if req.BrandColor != "" {
		brandColor = req.BrandColor
	}
	logoURL := company.LogoURL
	if req.LogoURL != "" {
		logoURL = req.LogoURL
	}
	logoURL = absolutizeURL(logoURL, req.BaseURL)
	techPhotoURL := absolutizeURL(req.TechPhotoURL, req.BaseURL)

	rating := req.Rating
	if rating < 0 {
		rating = 0
	}
	if rating > 5 {
		rating = 5
	}

	techDisplay := "none"
	if req.TechName != "" && req.TechPhotoURL != "" {
		techDisplay = "flex"
	}

	lowRatingClass := ""
	if rating <= 3 {
		lowRatingClass = "low-rating"
	}

	badgeHTML := ""
	if badge, ok := PlatformBadges[req.Source]; ok {
		badgeHTML = fmt.Sprintf(
			`<div class="platform-badge" style="background-color: %s;">%s</div>`,
			badge.Color, badge.Label)
	}

	out := tpl
	out = strings.ReplaceAll(out, "{{BRAND_COLOR}}", brandColor)
	out = strings.ReplaceAll(out, "{{BRAND_COLOR_DARK}}", company.BrandColorDark)
	out = strings.ReplaceAll(out, "{{TECH_DISPLAY}}", techDisplay)
	out = strings.ReplaceAll(out, "{{LOW_RATING_CLASS}}", lowRatingClass)
	out = strings.Replace(out, "{{COMPANY_NAME}}", escapeHTML(company.Name), 1)
	out = strings.Replace(out, "{{COMPANY_PHONE}}", escapeHTML(company.Phone), 1)
	out = strings.Replace(out, "{{LOGO_URL}}", escapeHTML(logoURL), 1)
	out = strings.Replace(out, "{{REVIEWER_NAME}}", escapeHTML(req.ReviewerName), 1)
	out = strings.Replace(out, "{{REVIEW_TEXT}}", escapeHTML(req.ReviewText), 1)
	out = strings.Replace(out, "{{STARS}}", strings.Repeat(starGlyph, rating), 1)
	out = strings.Replace(out, "{{TECH_PHOTO_URL}}", escapeHTML(techPhotoURL), 1)
	out = strings.Replace(out, "{{TECH_NAME}}", escapeHTML(req.TechName), 1)
	out = strings.Replace(out, "{{PLATFORM_BADGE}}", badgeHTML, 1)
	return out
}

// absolutizeURL resolves a relative asset URL against the base URL so
// the browser can fetch it while rendering.
func absolutizeURL(u, base string) string {
	if u == "" || base == "" {
		return u
	}
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "data:") {
		return u
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(u, "/")
}
