package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "solardesk.yml"

// Config models solardesk.yml.
type Config struct {
	Business struct {
		Name string `yaml:"name" json:"name"`
	} `yaml:"business" json:"business"`
	Catalog struct {
		PanelCompanies []string `yaml:"panel_companies" json:"panel_companies"`
		DocumentTypes  []string `yaml:"document_types" json:"document_types"`
	} `yaml:"catalog" json:"catalog"`
	Notifications Notifications `yaml:"notifications" json:"notifications"`
}

type Notifications struct {
	Enabled          *bool           `yaml:"enabled" json:"enabled,omitempty"`
	Consent          string          `yaml:"consent" json:"consent"`
	Interval         time.Duration   `yaml:"interval" json:"interval"`
	Lookahead        time.Duration   `yaml:"lookahead" json:"lookahead"`
	PromptDelay      time.Duration   `yaml:"prompt_delay" json:"prompt_delay"`
	ConsentCheck     time.Duration   `yaml:"consent_check" json:"consent_check"`
	NotifiedCapacity int             `yaml:"notified_capacity" json:"notified_capacity"`
	NotifiedTTL      time.Duration   `yaml:"notified_ttl" json:"notified_ttl"`
	Title            string          `yaml:"title" json:"title"`
	Log              *bool           `yaml:"log" json:"log,omitempty"`
	Webhooks         []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
	Slack            struct {
		WebhookURL string `yaml:"webhook_url" json:"webhook_url,omitempty"`
	} `yaml:"slack" json:"slack"`
}

type WebhookConfig struct {
	URL            string `yaml:"url" json:"url"`
	Secret         string `yaml:"secret" json:"-"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool  `yaml:"enabled" json:"enabled,omitempty"`
}

// IsEnabled reports whether deadline alerts run at all.
func (n Notifications) IsEnabled() bool {
	return n.Enabled == nil || *n.Enabled
}

// LogEnabled reports whether alerts are also written to the process log.
func (n Notifications) LogEnabled() bool {
	return n.Log == nil || *n.Log
}

// EffectiveLookahead returns the lookahead window with its default applied.
func (n Notifications) EffectiveLookahead() time.Duration {
	if n.Lookahead <= 0 {
		return 24 * time.Hour
	}
	return n.Lookahead
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with solardesk config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	seen := map[string]struct{}{}
	for _, company := range c.Catalog.PanelCompanies {
		name := strings.TrimSpace(company)
		if name == "" {
			return fmt.Errorf("config.catalog.panel_companies contains an empty name")
		}
		if strings.EqualFold(name, "all") {
			return fmt.Errorf("config.catalog.panel_companies cannot contain the reserved name %q", company)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("config.catalog.panel_companies lists %s twice", name)
		}
		seen[name] = struct{}{}
	}
	n := c.Notifications
	switch strings.ToLower(n.Consent) {
	case "", "ask", "granted", "denied":
	default:
		return fmt.Errorf("config.notifications.consent must be ask, granted or denied")
	}
	if n.Interval < 0 || n.Lookahead < 0 || n.PromptDelay < 0 || n.ConsentCheck < 0 || n.NotifiedTTL < 0 {
		return fmt.Errorf("config.notifications durations must not be negative")
	}
	if n.Interval > 0 && n.Interval < time.Second {
		return fmt.Errorf("config.notifications.interval must be at least 1s")
	}
	if n.NotifiedCapacity < 0 {
		return fmt.Errorf("config.notifications.notified_capacity must not be negative")
	}
	if n.NotifiedTTL > 0 && n.NotifiedTTL < n.EffectiveLookahead() {
		return fmt.Errorf("config.notifications.notified_ttl (%s) must cover the lookahead window (%s)", n.NotifiedTTL, n.EffectiveLookahead())
	}
	for i, hook := range n.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.notifications.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.notifications.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// HasCompany reports whether name is in the panel company catalog. An empty
// catalog accepts any name.
func (c *Config) HasCompany(name string) bool {
	if len(c.Catalog.PanelCompanies) == 0 {
		return true
	}
	for _, company := range c.Catalog.PanelCompanies {
		if company == name {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(businessName string) string {
	return fmt.Sprintf(defaultTemplate, businessName)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault("SolarDesk"))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `business:
  name: %q

catalog:
  panel_companies:
    - Tata Power Solar
    - Adani Solar
    - Vikram Solar
    - Waaree
    - Luminous
  document_types:
    - Aadhaar
    - Electricity Bill
    - Bank Statement
    - Site Photos
    - Invoice

notifications:
  enabled: true
  # ask | granted | denied
  consent: ask
  interval: 1h
  lookahead: 24h
  prompt_delay: 3s
  # how often a waiting scheduler re-reads consent granted from another process
  consent_check: 5s
  notified_capacity: 10000
  # 0 keeps entries for the life of the process
  notified_ttl: 0s
  title: "Task Deadline Approaching"
  log: true
  webhooks: []
  slack:
    webhook_url: ""
`
