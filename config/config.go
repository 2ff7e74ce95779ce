// Package config loads the stream monitor configuration from YAML or CUE
// files and validates it.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support unmarshalling from strings like
// "5s" or "1m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	return d.parse(raw)
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// UnmarshalJSON parses duration strings; used by the CUE decoder.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	return d.parse(raw)
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

func (d *Duration) parse(raw string) error {
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// LokiConfig enables shipping logs to a Loki endpoint.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Labels  map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// LoggingConfig controls the zerolog setup.
type LoggingConfig struct {
	Level  string     `yaml:"level,omitempty" json:"level,omitempty"`
	Format string     `yaml:"format,omitempty" json:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki,omitempty" json:"loki,omitempty"`
}

// TelemetryConfig controls the Prometheus metrics endpoint.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Listen  string `yaml:"listen,omitempty" json:"listen,omitempty"`
}

// DriverConfig carries the simulated acquisition client's settings. The maps
// are passed through to the driver as JSON, mirroring how driver settings
// stay opaque to the service core.
type DriverConfig struct {
	Source     string                    `yaml:"source,omitempty" json:"source,omitempty"`
	Seed       *int64                    `yaml:"seed,omitempty" json:"seed,omitempty"`
	Defaults   map[string]any            `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	Parameters map[string]map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// SettingsJSON renders the driver configuration as raw JSON for the driver's
// settings parser.
func (d DriverConfig) SettingsJSON() (json.RawMessage, error) {
	payload := map[string]any{}
	if d.Source != "" {
		payload["source"] = d.Source
	}
	if d.Seed != nil {
		payload["seed"] = *d.Seed
	}
	if len(d.Defaults) > 0 {
		payload["defaults"] = d.Defaults
	}
	if len(d.Parameters) > 0 {
		payload["parameters"] = d.Parameters
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode driver settings: %w", err)
	}
	return raw, nil
}

// StreamConfig describes one subscription the monitor opens. Exactly one of
// Name and Names must be set; Names opens a group stream.
type StreamConfig struct {
	Name       string   `yaml:"name,omitempty" json:"name,omitempty"`
	Names      []string `yaml:"names,omitempty" json:"names,omitempty"`
	MaxLen     *int     `yaml:"maxlen,omitempty" json:"maxlen,omitempty"`
	Selector   string   `yaml:"selector,omitempty" json:"selector,omitempty"`
	Filter     string   `yaml:"filter,omitempty" json:"filter,omitempty"`
	PopTimeout Duration `yaml:"pop_timeout,omitempty" json:"pop_timeout,omitempty"`
}

// Group reports whether the entry describes a group stream.
func (s StreamConfig) Group() bool {
	return len(s.Names) > 0
}

// Label returns a human-readable identifier for logs.
func (s StreamConfig) Label() string {
	if s.Group() {
		return strings.Join(s.Names, ",")
	}
	return s.Name
}

// Config is the root configuration of the stream monitor.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging,omitempty" json:"logging,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty" json:"telemetry,omitempty"`
	Driver    DriverConfig    `yaml:"driver,omitempty" json:"driver,omitempty"`
	Streams   []StreamConfig  `yaml:"streams" json:"streams"`
}

// Load reads and validates a configuration file. The format is chosen by
// extension: .cue files are evaluated with CUE, everything else is parsed as
// YAML.
func Load(path string) (*Config, error) {
	var cfg *Config
	var err error
	if strings.EqualFold(filepath.Ext(path), ".cue") {
		cfg, err = loadCUE(path)
	} else {
		cfg, err = loadYAML(path)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(string(raw)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

func loadCUE(path string) (*Config, error) {
	instances := load.Instances([]string{path}, &load.Config{})
	if len(instances) == 0 {
		return nil, fmt.Errorf("load config %s: no CUE instance", path)
	}
	instance := instances[0]
	if instance.Err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, instance.Err)
	}
	value := cuecontext.New().BuildInstance(instance)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("evaluate config %s: %w", path, err)
	}
	var cfg Config
	if err := value.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("configuration is nil")
	}
	if len(c.Streams) == 0 {
		return errors.New("at least one stream must be configured")
	}
	seen := make(map[string]struct{}, len(c.Streams))
	for i, entry := range c.Streams {
		if entry.Name == "" && len(entry.Names) == 0 {
			return fmt.Errorf("stream %d: name or names must be set", i)
		}
		if entry.Name != "" && len(entry.Names) > 0 {
			return fmt.Errorf("stream %d: name and names are mutually exclusive", i)
		}
		for _, name := range append([]string{entry.Name}, entry.Names...) {
			if name == "" {
				continue
			}
			if _, dup := seen[name]; dup {
				return fmt.Errorf("stream %d: parameter %s configured twice", i, name)
			}
			seen[name] = struct{}{}
		}
		if entry.MaxLen != nil && *entry.MaxLen < 0 {
			return fmt.Errorf("stream %d: maxlen must not be negative", i)
		}
		if entry.PopTimeout.Duration < 0 {
			return fmt.Errorf("stream %d: pop_timeout must not be negative", i)
		}
	}
	if c.Telemetry.Enabled && c.Telemetry.Listen == "" {
		return errors.New("telemetry.listen is required when telemetry is enabled")
	}
	if c.Logging.Loki.Enabled && c.Logging.Loki.URL == "" {
		return errors.New("logging.loki.url is required when loki is enabled")
	}
	return nil
}
