package render

import (
	"strings"
	"testing"

	"github.com/reviewpix/reviewpix/internal/config"
	"github.com/reviewpix/reviewpix/internal/models"
	"github.com/stretchr/testify/assert"
)

var testCompany = config.CompanyConfig{
	Name:           "Acme Plumbing",
	Phone:          "(555) 010-0100",
	BrandColor:     "#2563eb",
	BrandColorDark: "#1e40af",
	LogoURL:        "/static/logo.png",
}

func TestExpandTemplate_Escaping(t *testing.T) {
	tpl := `<div>{{REVIEWER_NAME}}</div><p>{{REVIEW_TEXT}}</p>`
	req := models.RenderRequest{
		ReviewerName: `<script>alert("x")</script>`,
		ReviewText:   `Tom & Jerry's "great" <work>`,
		Rating:       5,
	}

	out := expandTemplate(tpl, req, testCompany)

	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "&lt;script&gt;")
	assert.Contains(t, out, "Tom &amp; Jerry&#39;s &quot;great&quot; &lt;work&gt;")
}

func TestExpandTemplate_Stars(t *testing.T) {
	tests := []struct {
		name     string
		rating   int
		expected string
	}{
		{name: "Five stars", rating: 5, expected: "★★★★★"},
		{name: "One star", rating: 1, expected: "★"},
		{name: "Zero clamps to none", rating: 0, expected: ""},
		{name: "Negative clamps to none", rating: -2, expected: ""},
		{name: "Six clamps to five", rating: 6, expected: "★★★★★"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := expandTemplate("[{{STARS}}]", models.RenderRequest{Rating: tt.rating}, testCompany)
			assert.Equal(t, "["+tt.expected+"]", out)
		})
	}
}

func TestExpandTemplate_BrandColorGlobal(t *testing.T) {
	tpl := `{{BRAND_COLOR}} {{BRAND_COLOR}} {{BRAND_COLOR_DARK}} {{BRAND_COLOR_DARK}}`

	out := expandTemplate(tpl, models.RenderRequest{Rating: 5}, testCompany)
	assert.Equal(t, "#2563eb #2563eb #1e40af #1e40af", out)

	// A request override replaces the company colour.
	out = expandTemplate(tpl, models.RenderRequest{Rating: 5, BrandColor: "#ff0000"}, testCompany)
	assert.True(t, strings.HasPrefix(out, "#ff0000 #ff0000"))
}

func TestExpandTemplate_TechDisplay(t *testing.T) {
	tpl := `{{TECH_DISPLAY}}|{{TECH_DISPLAY}}`

	both := models.RenderRequest{Rating: 5, TechName: "Sam", TechPhotoURL: "/t/sam.jpg"}
	assert.Equal(t, "flex|flex", expandTemplate(tpl, both, testCompany))

	nameOnly := models.RenderRequest{Rating: 5, TechName: "Sam"}
	assert.Equal(t, "none|none", expandTemplate(tpl, nameOnly, testCompany))

	photoOnly := models.RenderRequest{Rating: 5, TechPhotoURL: "/t/sam.jpg"}
	assert.Equal(t, "none|none", expandTemplate(tpl, photoOnly, testCompany))
}

func TestExpandTemplate_LowRatingClass(t *testing.T) {
	tpl := `class="{{LOW_RATING_CLASS}}" data="{{LOW_RATING_CLASS}}"`

	low := expandTemplate(tpl, models.RenderRequest{Rating: 3}, testCompany)
	assert.Equal(t, `class="low-rating" data="low-rating"`, low)

	high := expandTemplate(tpl, models.RenderRequest{Rating: 4}, testCompany)
	assert.Equal(t, `class="" data=""`, high)
}

func TestExpandTemplate_PlatformBadge(t *testing.T) {
	tpl := `{{PLATFORM_BADGE}}`

	google := expandTemplate(tpl, models.RenderRequest{Rating: 5, Source: "google"}, testCompany)
	assert.Contains(t, google, "Google")
	assert.Contains(t, google, "#4285F4")

	unknown := expandTemplate(tpl, models.RenderRequest{Rating: 5, Source: "smoke-signals"}, testCompany)
	assert.Equal(t, "", unknown)
}

func TestExpandTemplate_CompanyFields(t *testing.T) {
	tpl := `{{COMPANY_NAME}} {{COMPANY_PHONE}} {{LOGO_URL}}`

	out := expandTemplate(tpl, models.RenderRequest{Rating: 5, BaseURL: "http://localhost:3000"}, testCompany)
	assert.Contains(t, out, "Acme Plumbing")
	assert.Contains(t, out, "(555) 010-0100")
	assert.Contains(t, out, "http://localhost:3000/static/logo.png")
}

func TestAbsolutizeURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		base     string
		expected string
	}{
		{name: "Relative with base", url: "/logo.png", base: "http://h:3000", expected: "http://h:3000/logo.png"},
		{name: "Relative without slash", url: "logo.png", base: "http://h:3000/", expected: "http://h:3000/logo.png"},
		{name: "Absolute http untouched", url: "http://cdn/x.png", base: "http://h", expected: "http://cdn/x.png"},
		{name: "Absolute https untouched", url: "https://cdn/x.png", base: "http://h", expected: "https://cdn/x.png"},
		{name: "Data URL untouched", url: "data:image/png;base64,xx", base: "http://h", expected: "data:image/png;base64,xx"},
		{name: "No base", url: "/logo.png", base: "", expected: "/logo.png"},
		{name: "Empty URL", url: "", base: "http://h", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, absolutizeURL(tt.url, tt.base))
		})
	}
}

func TestLoadTemplates_BuiltinDefault(t *testing.T) {
	set := loadTemplates(t.TempDir())

	tpl, ok := set.get("default")
	assert.True(t, ok)
	assert.Contains(t, tpl, "{{REVIEW_TEXT}}")
	assert.Contains(t, tpl, "{{STARS}}")

	_, ok = set.get("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"default"}, set.names())
}

func TestDefaultTemplate_CoversPlaceholderSet(t *testing.T) {
	for _, placeholder := range []string{
		"{{BRAND_COLOR}}", "{{BRAND_COLOR_DARK}}", "{{COMPANY_NAME}}",
		"{{COMPANY_PHONE}}", "{{LOGO_URL}}", "{{REVIEWER_NAME}}",
		"{{REVIEW_TEXT}}", "{{STARS}}", "{{TECH_PHOTO_URL}}",
		"{{TECH_NAME}}", "{{TECH_DISPLAY}}", "{{LOW_RATING_CLASS}}",
		"{{PLATFORM_BADGE}}",
	} {
		assert.Contains(t, defaultTemplate, placeholder)
	}

	// Nothing is left unexpanded after a full substitution.
	out := expandTemplate(defaultTemplate, models.RenderRequest{
		ReviewerName: "Jane", Rating: 5, ReviewText: "Great",
		TechName: "Sam", TechPhotoURL: "/t/sam.jpg", Source: "google",
	}, testCompany)
	assert.NotContains(t, out, "{{")
}
