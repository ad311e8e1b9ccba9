package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models inspectline.yml.
type Config struct {
	Auth struct {
		// AdminDomain is the reserved corporate email domain; addresses
		// under it derive the admin role.
		AdminDomain            string `yaml:"admin_domain"`
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
		DevLoginEnabled        bool   `yaml:"dev_login_enabled"`
	} `yaml:"auth"`
	Forms struct {
		DefaultPageSize int `yaml:"default_page_size"`
		MaxPageSize     int `yaml:"max_page_size"`
	} `yaml:"forms"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Auth.AdminDomain == "" {
		return fmt.Errorf("config.auth.admin_domain is required")
	}
	if c.Forms.DefaultPageSize <= 0 {
		return fmt.Errorf("config.forms.default_page_size must be positive")
	}
	if c.Forms.MaxPageSize < c.Forms.DefaultPageSize {
		return fmt.Errorf("config.forms.max_page_size must be >= default_page_size")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "inspectline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run il init or pass --workspace", Path(workspace))
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
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

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the baseline Config.
func Default() *Config {
	var cfg Config
	cfg.Auth.AdminDomain = "inspectline.io"
	cfg.Forms.DefaultPageSize = 10
	cfg.Forms.MaxPageSize = 100
	return &cfg
}

// GenerateDefault returns default config YAML for il init.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `auth:
  # Addresses under this domain derive the admin role; everyone else is primary.
  admin_domain: inspectline.io
  jwt_secret: ""
  allow_legacy_actor_header: false
  dev_login_enabled: false

forms:
  default_page_size: 10
  max_page_size: 100

# webhooks:
#   - url: https://example.com/hooks/inspectline
#     events: [form.submitted, form.approved, form.declined]
`
