// Package configs loads and serves the process-wide mutable configuration
// consumed by every component: a YAML file with get/set/save semantics and
// a .env secret overlay via github.com/joho/godotenv.
package configs

import (
	"fmt"
	"os"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// NetworkDiscoveryTarget is one CIDR block to scan for new miners.
type NetworkDiscoveryTarget struct {
	CIDR string `yaml:"cidr"`
	Name string `yaml:"name"`
}

// Data is the full configuration surface of the controller.
type Data struct {
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	OctopusAgile struct {
		Enabled bool   `yaml:"enabled"`
		Region  string `yaml:"region"` // single-letter regional code A-N except I/O
	} `yaml:"octopus_agile"`

	EnergyOptimization struct {
		Enabled        bool    `yaml:"enabled"`
		PriceThreshold float64 `yaml:"price_threshold"` // p/kWh
	} `yaml:"energy_optimization"`

	NetworkDiscovery struct {
		Enabled           bool                     `yaml:"enabled"`
		Networks          []NetworkDiscoveryTarget `yaml:"networks"`
		AutoAdd           bool                     `yaml:"auto_add"`
		ScanIntervalHours int                      `yaml:"scan_interval_hours"`
	} `yaml:"network_discovery"`

	Cloud struct {
		Enabled             bool `yaml:"enabled"`
		PushIntervalMinutes int  `yaml:"push_interval_minutes"`
	} `yaml:"cloud"`

	Integrations struct {
		SolopoolEnabled   bool   `yaml:"solopool_enabled"`
		BraiinsEnabled    bool   `yaml:"braiins_enabled"`
		BraiinsAPIToken   string `yaml:"braiins_api_token"`
		SupportXMREnabled bool   `yaml:"supportxmr_enabled"`
	} `yaml:"integrations"`

	Alerts struct {
		TelegramWebhookURL string `yaml:"telegram_webhook_url"`
		DiscordWebhookURL  string `yaml:"discord_webhook_url"`
		CooldownMinutes    int    `yaml:"cooldown_minutes"` // default 60
	} `yaml:"alerts"`

	Logging struct {
		FilePath  string `yaml:"file_path"`
		SentryDSN string `yaml:"sentry_dsn"`
	} `yaml:"logging"`
}

// Config is the process-wide mutable configuration surface. All reads and
// writes go through Get/Set so every component observes a consistent
// snapshot and Save persists the same structure back to disk.
type Config struct {
	mu   sync.RWMutex
	path string
	data Data
}

// Load reads path as YAML into a new Config, then overlays any values
// present in envPath (a .env file; secrets like API tokens and pool
// passwords are expected to live there rather than in the checked-in YAML).
// envPath may be empty, in which case no overlay is applied.
func Load(path string, envPath string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var data Data
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("load env overlay %s: %w", envPath, err)
		}
		if tok := os.Getenv("BRAIINS_API_TOKEN"); tok != "" {
			data.Integrations.BraiinsAPIToken = tok
		}
		if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
			data.Database.DSN = dsn
		}
		if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
			data.Logging.SentryDSN = dsn
		}
	}

	if data.Alerts.CooldownMinutes == 0 {
		data.Alerts.CooldownMinutes = 60
	}

	return &Config{path: path, data: data}, nil
}

// Get returns a copy of the current configuration snapshot.
func (c *Config) Get() Data {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data
}

// Set replaces the configuration snapshot. Callers at the API boundary are
// responsible for validating a Data value before calling Set; an invalid
// value must be rejected there, never stored.
func (c *Config) Set(data Data) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
}

// Save serialises the current snapshot back to the YAML file it was loaded
// from.
func (c *Config) Save() error {
	c.mu.RLock()
	data := c.data
	path := c.path
	c.mu.RUnlock()

	out, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal config YAML: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
