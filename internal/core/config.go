package core

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/potd/internal/backend/cache"
	"github.com/jo-hoe/potd/internal/backend/commandstructure"
	"github.com/jo-hoe/potd/internal/logging"
	"github.com/jo-hoe/potd/internal/resilience"
	"github.com/jo-hoe/potd/internal/summarizer"
)

type Database struct {
	Type             string `yaml:"type"`
	ConnectionString string `yaml:"connectionString"`
}

// Source describes where the picture of the day is scraped from.
type Source struct {
	URL       string        `yaml:"url"`
	UserAgent string        `yaml:"userAgent"`
	RegionID  string        `yaml:"regionId"`
	Timeout   time.Duration `yaml:"timeout"`
}

type Image struct {
	// size used for SVGs that declare neither width/height nor a viewBox
	SVGFallbackWidth  int `yaml:"svgFallbackWidth"`
	SVGFallbackHeight int `yaml:"svgFallbackHeight"`
	// concurrent image transforms, 0 means GOMAXPROCS
	Workers int `yaml:"workers"`
}

// Display is the command pipeline producing the e-ink display image.
type Display struct {
	Commands []commandstructure.CommandConfig `yaml:"commands"`
}

type ServiceConfig struct {
	Port       int               `yaml:"port"`
	Timezone   string            `yaml:"timezone"`
	Database   Database          `yaml:"database"`
	Cache      cache.Config      `yaml:"cache"`
	Source     Source            `yaml:"source"`
	Summarizer summarizer.Config `yaml:"summarizer"`
	Resilience resilience.Policy `yaml:"resilience"`
	Image      Image             `yaml:"image"`
	Display    Display           `yaml:"display"`
	// optional file lock shared by all processes scraping into the same database
	LockPath string `yaml:"lockPath"`
	// run the scraper periodically from the server process, 0 disables it
	ScrapeInterval time.Duration  `yaml:"scrapeInterval"`
	Logging        logging.Config `yaml:"logging"`
}

// DefaultConfig returns the configuration used for every field the config
// file leaves out.
func DefaultConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:     8080,
		Timezone: "UTC",
		Database: Database{
			Type:             "sqlite",
			ConnectionString: "potd.db",
		},
		Cache: cache.Config{
			Type: "none",
			TTL:  24 * time.Hour,
		},
		Source: Source{
			URL:       "https://en.wikipedia.org/wiki/Main_Page",
			UserAgent: "potd/1.0 (https://github.com/jo-hoe/potd)",
			RegionID:  "mp-tfp",
			Timeout:   30 * time.Second,
		},
		Summarizer: summarizer.Config{
			Enabled:   false,
			Model:     "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
			Timeout:   30 * time.Second,
		},
		Resilience: resilience.DefaultPolicy(),
		Image: Image{
			SVGFallbackWidth:  1024,
			SVGFallbackHeight: 768,
		},
		Display: Display{
			Commands: []commandstructure.CommandConfig{
				{Name: "CoverCommand", Params: map[string]any{"width": 800, "height": 480}},
				{Name: "DitherCommand", Params: map[string]any{}},
			},
		},
		Logging: logging.Config{
			Level:  "info",
			Format: logging.FormatAuto,
		},
	}
}

// LoadConfig loads configuration from the specified YAML file on top of
// DefaultConfig.
func LoadConfig(configPath string) (*ServiceConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}
	config, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", configPath, err)
	}
	return config, nil
}

func ParseConfig(data []byte) (*ServiceConfig, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func (c *ServiceConfig) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if c.Database.Type == "" || c.Database.ConnectionString == "" {
		errs = append(errs, errors.New("database type and connectionString are required"))
	}
	switch c.Cache.Type {
	case "", "none":
	case "redis":
		if c.Cache.Address == "" {
			errs = append(errs, errors.New("cache address is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported cache type %q", c.Cache.Type))
	}
	if u, err := url.Parse(c.Source.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("source url %q must be an absolute http(s) URL", c.Source.URL))
	}
	if c.Source.Timeout < 0 {
		errs = append(errs, errors.New("source timeout must not be negative"))
	}
	if c.Summarizer.Enabled && c.Summarizer.APIKeyEnv == "" {
		errs = append(errs, errors.New("summarizer apiKeyEnv is required when enabled"))
	}
	if err := c.Resilience.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("resilience: %w", err))
	}
	if c.Image.SVGFallbackWidth < 0 || c.Image.SVGFallbackHeight < 0 || c.Image.Workers < 0 {
		errs = append(errs, errors.New("image sizes and workers must not be negative"))
	}
	if err := validateCommands(c.Display.Commands); err != nil {
		errs = append(errs, fmt.Errorf("display: %w", err))
	}
	if c.ScrapeInterval < 0 {
		errs = append(errs, errors.New("scrapeInterval must not be negative"))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location returns the time zone that decides the current picture date.
func (c *ServiceConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// validateCommands ensures all command configurations name a registered command
func validateCommands(commands []commandstructure.CommandConfig) error {
	for i, cmd := range commands {
		if cmd.Name == "" {
			return fmt.Errorf("command at index %d has empty name", i)
		}
		if !commandstructure.DefaultRegistry.IsRegistered(cmd.Name) {
			return fmt.Errorf("command at index %d: unknown command %s", i, cmd.Name)
		}
	}
	return nil
}
