// Package config handles configuration loading for the sxmview server.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Data      DataConfig      `yaml:"data"`
	Cache     CacheConfig     `yaml:"cache"`
	Render    RenderConfig    `yaml:"render"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DataConfig contains data source settings.
type DataConfig struct {
	ScanFolder    string `yaml:"scan_folder"`
	SpectroFolder string `yaml:"spectro_folder"`
	HeaderDBPath  string `yaml:"header_db_path"`
}

// CacheConfig contains cache tier capacities.
type CacheConfig struct {
	RawEntries       int    `yaml:"raw_entries"`
	ProcessedEntries int    `yaml:"processed_entries"`
	ThumbEntries     int    `yaml:"thumb_entries"`
	RenderedSizeMB   int    `yaml:"rendered_size_mb"`
	RenderedTTLMin   int    `yaml:"rendered_ttl_minutes"`
	ThumbDiskDir     string `yaml:"thumb_disk_dir"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	ThumbSize       int     `yaml:"thumb_size"`
	DefaultColormap string  `yaml:"default_colormap"`
	LowPercentile   float64 `yaml:"low_percentile"`
	HighPercentile  float64 `yaml:"high_percentile"`
}

// SchedulerConfig sizes the render worker pool.
type SchedulerConfig struct {
	Workers    int `yaml:"workers"`
	QueueDepth int `yaml:"queue_depth"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Data: DataConfig{
			ScanFolder:    "./data/scans",
			HeaderDBPath:  "./data/headers.db",
			SpectroFolder: "",
		},
		Cache: CacheConfig{
			RawEntries:       24,
			ProcessedEntries: 32,
			ThumbEntries:     256,
			RenderedSizeMB:   256,
			RenderedTTLMin:   10,
			ThumbDiskDir:     "",
		},
		Render: RenderConfig{
			ThumbSize:       256,
			DefaultColormap: "viridis",
			LowPercentile:   1,
			HighPercentile:  99,
		},
		Scheduler: SchedulerConfig{
			Workers:    4,
			QueueDepth: 256,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Data.ScanFolder == "" {
		cfg.Data.ScanFolder = defaults.Data.ScanFolder
	}
	if cfg.Data.HeaderDBPath == "" {
		cfg.Data.HeaderDBPath = defaults.Data.HeaderDBPath
	}
	if cfg.Cache.RawEntries == 0 {
		cfg.Cache.RawEntries = defaults.Cache.RawEntries
	}
	if cfg.Cache.ProcessedEntries == 0 {
		cfg.Cache.ProcessedEntries = defaults.Cache.ProcessedEntries
	}
	if cfg.Cache.ThumbEntries == 0 {
		cfg.Cache.ThumbEntries = defaults.Cache.ThumbEntries
	}
	if cfg.Cache.RenderedSizeMB == 0 {
		cfg.Cache.RenderedSizeMB = defaults.Cache.RenderedSizeMB
	}
	if cfg.Cache.RenderedTTLMin == 0 {
		cfg.Cache.RenderedTTLMin = defaults.Cache.RenderedTTLMin
	}
	if cfg.Render.ThumbSize == 0 {
		cfg.Render.ThumbSize = defaults.Render.ThumbSize
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
	if cfg.Render.HighPercentile == 0 {
		cfg.Render.LowPercentile = defaults.Render.LowPercentile
		cfg.Render.HighPercentile = defaults.Render.HighPercentile
	}
	if cfg.Scheduler.Workers == 0 {
		cfg.Scheduler.Workers = defaults.Scheduler.Workers
	}
	if cfg.Scheduler.QueueDepth == 0 {
		cfg.Scheduler.QueueDepth = defaults.Scheduler.QueueDepth
	}
}

// Validate rejects non-positive capacities and malformed percentile
// bounds. Construction fails rather than falling back silently.
func (c *Config) Validate() error {
	if c.Cache.RawEntries <= 0 || c.Cache.ProcessedEntries <= 0 || c.Cache.ThumbEntries <= 0 {
		return fmt.Errorf("config: cache capacities must be positive")
	}
	if c.Cache.RenderedSizeMB <= 0 {
		return fmt.Errorf("config: rendered_size_mb must be positive")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("config: scheduler workers must be positive")
	}
	if c.Render.ThumbSize <= 0 {
		return fmt.Errorf("config: thumb_size must be positive")
	}
	if c.Render.LowPercentile < 0 || c.Render.HighPercentile > 100 ||
		c.Render.LowPercentile >= c.Render.HighPercentile {
		return fmt.Errorf("config: percentile bounds must satisfy 0 <= low < high <= 100")
	}
	return nil
}
