package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration document plus the environment
// overrides applied on top of it.
type Config struct {
	Company       CompanyConfig       `yaml:"company" json:"company"`
	Chat          ChatConfig          `yaml:"chat" json:"chat"`
	Notifications NotificationsConfig `yaml:"notifications" json:"notifications"`
	Ingestion     IngestionConfig     `yaml:"ingestion" json:"ingestion"`

	// Environment
	Port       string `yaml:"-" json:"-"`
	BaseURL    string `yaml:"-" json:"-"`
	Debug      bool   `yaml:"-" json:"-"`
	EagerStart bool   `yaml:"-" json:"-"`
}

// CompanyConfig is the branding block substituted into render templates.
type CompanyConfig struct {
	Name           string `yaml:"name" json:"name"`
	Phone          string `yaml:"phone" json:"phone"`
	BrandColor     string `yaml:"brand_color" json:"brand_color"`
	BrandColorDark string `yaml:"brand_color_dark" json:"brand_color_dark"`
	LogoURL        string `yaml:"logo_url" json:"logo_url"`
}

// ChatConfig configures the chat workspace used for sharing images.
type ChatConfig struct {
	BotToken    string            `yaml:"bot_token" json:"-"`
	Channel     string            `yaml:"channel" json:"channel"`
	Technicians map[string]string `yaml:"technicians" json:"-"` // display name -> mention id
}

// Configured reports whether chat sharing can be used at all.
func (c ChatConfig) Configured() bool {
	return c.BotToken != "" && c.Channel != ""
}

// NotificationsConfig configures the optional daily email digest.
type NotificationsConfig struct {
	Email        string `yaml:"email" json:"email"`
	SMTPHost     string `yaml:"smtp_host" json:"-"`
	SMTPPort     int    `yaml:"smtp_port" json:"-"`
	SMTPUsername string `yaml:"smtp_username" json:"-"`
	SMTPPassword string `yaml:"smtp_password" json:"-"`
}

// Configured reports whether the digest should be scheduled.
func (n NotificationsConfig) Configured() bool {
	return n.Email != "" && n.SMTPHost != "" && n.SMTPUsername != ""
}

// IngestionConfig controls the review ingestion pipeline.
type IngestionConfig struct {
	Enabled               bool                    `yaml:"enabled" json:"enabled"`
	AutoGenerate          bool                    `yaml:"auto_generate" json:"auto_generate"`
	AutoShare             bool                    `yaml:"auto_share" json:"auto_share"`
	MinRatingForAutoShare int                     `yaml:"min_rating_for_auto_share" json:"min_rating_for_auto_share"`
	DefaultTemplate       string                  `yaml:"default_template" json:"default_template"`
	DefaultSize           string                  `yaml:"default_size" json:"default_size"`
	PollIntervalMinutes   int                     `yaml:"poll_interval_minutes" json:"poll_interval_minutes"`
	RetentionDays         int                     `yaml:"retention_days" json:"retention_days"`
	DataPath              string                  `yaml:"data_path" json:"-"`
	Sources               map[string]SourceConfig `yaml:"sources" json:"-"`
	Generic               GenericConfig           `yaml:"generic" json:"-"`
}

// SourceConfig carries one adapter's credentials. Fields beyond the
// common trio are adapter-specific and opaque to the core.
type SourceConfig struct {
	Enabled             bool   `yaml:"enabled"`
	PollIntervalMinutes int    `yaml:"poll_interval_minutes"`
	WebhookSecret       string `yaml:"webhook_secret"`

	// google
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	AccountID    string `yaml:"account_id"`
	LocationID   string `yaml:"location_id"`

	// yelp
	APIKey     string `yaml:"api_key"`
	BusinessID string `yaml:"business_id"`

	// facebook
	AccessToken string `yaml:"access_token"`
	PageID      string `yaml:"page_id"`
}

// GenericConfig maps unknown-platform payload fields onto the review
// record for webhook and import ingress.
type GenericConfig struct {
	WebhookSecret string       `yaml:"webhook_secret"`
	FieldMapping  FieldMapping `yaml:"field_mapping"`
}

// FieldMapping names the payload keys holding each review field.
type FieldMapping struct {
	ReviewerNameField string `yaml:"reviewer_name_field"`
	RatingField       string `yaml:"rating_field"`
	ReviewTextField   string `yaml:"review_text_field"`
	ReviewDateField   string `yaml:"review_date_field"`
	TechNameField     string `yaml:"tech_name_field"`
	TechPhotoURLField string `yaml:"tech_photo_url_field"`
}

// Load reads the YAML config document and applies environment overrides.
func Load() (*Config, error) {
	path := getEnv("CONFIG_PATH", "config.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config file %s is required: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg.Port = getEnv("PORT", "3000")
	cfg.BaseURL = getEnv("BASE_URL", "")
	cfg.Debug = getBoolEnv("DEBUG", false)
	cfg.EagerStart = getBoolEnv("RENDER_EAGER", false)

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Ingestion.MinRatingForAutoShare == 0 {
		c.Ingestion.MinRatingForAutoShare = 4
	}
	if c.Ingestion.DefaultTemplate == "" {
		c.Ingestion.DefaultTemplate = "default"
	}
	if c.Ingestion.DefaultSize == "" {
		c.Ingestion.DefaultSize = "square"
	}
	if c.Ingestion.PollIntervalMinutes == 0 {
		c.Ingestion.PollIntervalMinutes = 60
	}
	if c.Ingestion.RetentionDays == 0 {
		c.Ingestion.RetentionDays = 90
	}
	if c.Ingestion.DataPath == "" {
		c.Ingestion.DataPath = "data/reviews.json"
	}
	if c.Company.BrandColor == "" {
		c.Company.BrandColor = "#2563eb"
	}
	if c.Company.BrandColorDark == "" {
		c.Company.BrandColorDark = "#1e40af"
	}
	if c.Notifications.SMTPPort == 0 {
		c.Notifications.SMTPPort = 587
	}
}

func (c *Config) validate() error {
	if c.Company.Name == "" {
		return fmt.Errorf("company.name is required")
	}
	if _, ok := sizeNames[c.Ingestion.DefaultSize]; !ok {
		return fmt.Errorf("ingestion.default_size %q is not a known size preset", c.Ingestion.DefaultSize)
	}
	if c.Ingestion.AutoShare && !c.Chat.Configured() {
		return fmt.Errorf("ingestion.auto_share requires chat.bot_token and chat.channel")
	}
	if c.Notifications.Email != "" && !c.Notifications.Configured() {
		return fmt.Errorf("SMTP configuration is required when notifications.email is set")
	}
	return nil
}

var sizeNames = map[string]struct{}{
	"square": {}, "portrait": {}, "story": {}, "landscape": {},
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
