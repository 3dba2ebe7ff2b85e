package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "OBSERVER_"
	defaultConfigFile = "observer.yaml"
)

type AppConfig struct {
	HTTPAddr string `koanf:"http_addr"`

	ProbeWSURL   string `koanf:"probe_ws_url"`
	ProbeHeaders string `koanf:"probe_headers"`

	SinkURL       string  `koanf:"sink_url"`
	SinkMode      string  `koanf:"sink_mode"`
	SinkTimeoutMS int     `koanf:"sink_timeout_ms"`
	SinkRetry     int     `koanf:"sink_retry"`
	SinkRPS       float64 `koanf:"sink_rps"`
	SinkDryRun    bool    `koanf:"sink_dryrun"`

	RedisURL      string `koanf:"redis_url"`
	MaxLogs       int    `koanf:"max_logs"`
	ArchiveDriver string `koanf:"archive_driver"`
	ArchiveDSN    string `koanf:"archive_dsn"`

	MessagesDir string `koanf:"messages_dir"`
	ShowDebug   bool   `koanf:"show_debug"`
	QueueSize   int    `koanf:"queue_size"`
}

var defaults = map[string]any{
	"http_addr":       "127.0.0.1:8766",
	"sink_url":        "http://127.0.0.1:8765/fen",
	"sink_mode":       "http",
	"sink_timeout_ms": 10000,
	"sink_retry":      3,
	"sink_rps":        0.0,
	"max_logs":        100,
	"queue_size":      256,
}

// Load reads an optional YAML file, then OBSERVER_* environment variables.
// The file is OBSERVER_CONFIG when set, else observer.yaml when present.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	path := strings.TrimSpace(os.Getenv(envPrefix + "CONFIG"))
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, err
	}

	for key, v := range defaults {
		if !k.Exists(key) || strings.TrimSpace(k.String(key)) == "" {
			k.Set(key, v)
		}
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) normalize() {
	c.HTTPAddr = strings.TrimSpace(c.HTTPAddr)
	c.ProbeWSURL = strings.TrimSpace(c.ProbeWSURL)
	c.SinkURL = strings.TrimSpace(c.SinkURL)
	c.SinkMode = strings.ToLower(strings.TrimSpace(c.SinkMode))
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.ArchiveDriver = strings.ToLower(strings.TrimSpace(c.ArchiveDriver))
	c.ArchiveDSN = strings.TrimSpace(c.ArchiveDSN)
	if c.MaxLogs < 10 {
		c.MaxLogs = 10
	}
	if c.MaxLogs > 1000 {
		c.MaxLogs = 1000
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
}

func (c *AppConfig) Validate() error {
	if c.HTTPAddr == "" && c.ProbeWSURL == "" {
		return errors.New("OBSERVER_HTTP_ADDR or OBSERVER_PROBE_WS_URL is required")
	}
	switch c.SinkMode {
	case "http", "none":
	case "ws", "auto":
		if c.ProbeWSURL == "" {
			return fmt.Errorf("sink_mode %s requires OBSERVER_PROBE_WS_URL", c.SinkMode)
		}
	default:
		return fmt.Errorf("unknown sink_mode: %q", c.SinkMode)
	}
	if (c.SinkMode == "http" || c.SinkMode == "auto") && c.SinkURL == "" {
		return errors.New("OBSERVER_SINK_URL is required")
	}
	if c.ArchiveDSN != "" {
		switch c.ArchiveDriver {
		case "postgres", "sqlite":
		default:
			return fmt.Errorf("archive_driver must be postgres or sqlite, got %q", c.ArchiveDriver)
		}
	}
	return nil
}

// Headers parses ProbeHeaders ("K=V,K2=V2").
func (c *AppConfig) Headers() map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(c.ProbeHeaders, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		if k, v = strings.TrimSpace(k), strings.TrimSpace(v); k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}
