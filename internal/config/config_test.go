package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
company:
  name: Acme Plumbing
  phone: "(555) 010-0100"
chat:
  bot_token: xoxb-1
  channel: C012345
  technicians:
    Sam Rivera: U0456
ingestion:
  enabled: true
  auto_generate: true
  sources:
    google:
      enabled: true
      client_id: cid
      client_secret: cs
      refresh_token: rt
      account_id: acc
      location_id: loc
      webhook_secret: hook
  generic:
    field_mapping:
      reviewer_name_field: name
      rating_field: stars
`

func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("CONFIG_PATH", path)
}

func TestLoad(t *testing.T) {
	writeConfig(t, sampleConfig)
	t.Setenv("PORT", "")
	t.Setenv("BASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "Acme Plumbing", cfg.Company.Name)
	assert.True(t, cfg.Chat.Configured())
	assert.Equal(t, "U0456", cfg.Chat.Technicians["Sam Rivera"])
	assert.True(t, cfg.Ingestion.Sources["google"].Enabled)
	assert.Equal(t, "hook", cfg.Ingestion.Sources["google"].WebhookSecret)
	assert.Equal(t, "name", cfg.Ingestion.Generic.FieldMapping.ReviewerNameField)
}

func TestLoad_Defaults(t *testing.T) {
	writeConfig(t, "company:\n  name: Acme\n")
	t.Setenv("PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, 4, cfg.Ingestion.MinRatingForAutoShare)
	assert.Equal(t, "default", cfg.Ingestion.DefaultTemplate)
	assert.Equal(t, "square", cfg.Ingestion.DefaultSize)
	assert.Equal(t, 60, cfg.Ingestion.PollIntervalMinutes)
	assert.Equal(t, 90, cfg.Ingestion.RetentionDays)
	assert.Equal(t, "data/reviews.json", cfg.Ingestion.DataPath)
	assert.Equal(t, "#2563eb", cfg.Company.BrandColor)
	assert.Equal(t, 587, cfg.Notifications.SMTPPort)
	assert.False(t, cfg.Chat.Configured())
	assert.False(t, cfg.Notifications.Configured())
}

func TestLoad_EnvOverrides(t *testing.T) {
	writeConfig(t, "company:\n  name: Acme\n")
	t.Setenv("PORT", "8080")
	t.Setenv("BASE_URL", "https://img.example.com")
	t.Setenv("DEBUG", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "https://img.example.com", cfg.BaseURL)
	assert.True(t, cfg.Debug)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "Missing company name",
			content: "company:\n  phone: '555'\n",
		},
		{
			name:    "Bad default size",
			content: "company:\n  name: A\ningestion:\n  default_size: billboard\n",
		},
		{
			name:    "Auto share without chat",
			content: "company:\n  name: A\ningestion:\n  auto_share: true\n",
		},
		{
			name:    "Email without SMTP",
			content: "company:\n  name: A\nnotifications:\n  email: a@b.c\n",
		},
		{
			name:    "Invalid YAML",
			content: "company: [unclosed\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeConfig(t, tt.content)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
