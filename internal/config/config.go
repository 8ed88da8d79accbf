package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is the application config looked up in the working
// directory. Per-project builder sets live in buildwatch.json marker files;
// this file only tunes the machinery around them.
const DefaultFileName = "config.yaml"

// Config is the application-level configuration for buildwatch.
type Config struct {
	Compiler CompilerConfig `yaml:"compiler"`
	Watch    WatchConfig    `yaml:"watch"`
	HTTP     HTTPConfig     `yaml:"http"`
	Events   EventsConfig   `yaml:"events"`
	History  HistoryConfig  `yaml:"history"`
	Schedule ScheduleConfig `yaml:"schedule"`
}

// CompilerConfig names the wrapped compiler binary and the argument layers
// placed around each builder's own compilerArgs.
type CompilerConfig struct {
	Command     string   `yaml:"command" validate:"required"`
	BaseArgs    []string `yaml:"base_args"`
	MachineArgs []string `yaml:"machine_args"`
}

// WatchConfig tunes source watching shared by every builder.
type WatchConfig struct {
	Debounce         string   `yaml:"debounce"`
	SourceExtensions []string `yaml:"source_extensions"`
	OutputDir        string   `yaml:"output_dir"`
}

// HTTPConfig configures the daemon status server.
type HTTPConfig struct {
	Addr    string        `yaml:"addr" validate:"omitempty,hostname_port"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig gates the Prometheus endpoint on the status server.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// EventsConfig configures outbound event publishing.
type EventsConfig struct {
	NATS NATSConfig `yaml:"nats"`
}

// NATSConfig gates JSON event publishing to a NATS subject.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url" validate:"omitempty,url"`
	Subject string `yaml:"subject"`
}

// HistoryConfig gates the SQLite build-attempt history store.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ScheduleConfig gates periodic full rebuilds of every registered builder.
// Every is a Go duration string; empty disables the schedule.
type ScheduleConfig struct {
	Every string `yaml:"every"`
}

// Load reads the configuration file, expands environment variables in its
// content and applies defaults. A missing file yields the defaults, so the
// daemon runs without any config.yaml at all.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return Default(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate checks struct tags and the duration fields.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if _, err := time.ParseDuration(c.Watch.Debounce); err != nil {
		return fmt.Errorf("invalid watch.debounce %q: %w", c.Watch.Debounce, err)
	}
	if c.Schedule.Every != "" {
		every, err := time.ParseDuration(c.Schedule.Every)
		if err != nil {
			return fmt.Errorf("invalid schedule.every %q: %w", c.Schedule.Every, err)
		}
		if every < time.Minute {
			return fmt.Errorf("schedule.every %q is below the 1m minimum", c.Schedule.Every)
		}
	}
	return nil
}

// Debounce returns the parsed watch debounce window.
func (c *Config) Debounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// ScheduleEvery returns the parsed rebuild interval, zero when disabled.
func (c *Config) ScheduleEvery() time.Duration {
	if c.Schedule.Every == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Schedule.Every)
	if err != nil {
		return 0
	}
	return d
}

func applyDefaults(cfg *Config) {
	if cfg.Compiler.Command == "" {
		cfg.Compiler.Command = "qx"
	}
	if cfg.Compiler.BaseArgs == nil {
		cfg.Compiler.BaseArgs = []string{"compile"}
	}
	if cfg.Compiler.MachineArgs == nil {
		cfg.Compiler.MachineArgs = []string{"--machine-readable", "--feedback=false"}
	}
	if cfg.Watch.Debounce == "" {
		cfg.Watch.Debounce = "500ms"
	}
	if cfg.Watch.SourceExtensions == nil {
		cfg.Watch.SourceExtensions = []string{".js"}
	}
	if cfg.Watch.OutputDir == "" {
		cfg.Watch.OutputDir = "compiled"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8780"
	}
	if cfg.HTTP.Metrics.Path == "" {
		cfg.HTTP.Metrics.Path = "/metrics"
	}
	if cfg.Events.NATS.URL == "" {
		cfg.Events.NATS.URL = "nats://127.0.0.1:4222"
	}
	if cfg.Events.NATS.Subject == "" {
		cfg.Events.NATS.Subject = "buildwatch.events"
	}
	if cfg.History.Path == "" {
		cfg.History.Path = "./buildwatch-history.db"
	}
}

// loadEnvFiles loads the first present .env file without overriding
// variables already set in the process environment.
func loadEnvFiles() {
	for _, name := range []string{".env", ".env.local"} {
		if err := godotenv.Load(name); err == nil {
			return
		}
	}
}

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := Config{
		Compiler: CompilerConfig{
			Command:     "qx",
			BaseArgs:    []string{"compile"},
			MachineArgs: []string{"--machine-readable", "--feedback=false"},
		},
		Watch: WatchConfig{
			Debounce:         "500ms",
			SourceExtensions: []string{".js"},
			OutputDir:        "compiled",
		},
		HTTP: HTTPConfig{
			Addr: ":8780",
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Events: EventsConfig{
			NATS: NATSConfig{
				Enabled: false,
				URL:     "nats://127.0.0.1:4222",
				Subject: "buildwatch.events",
			},
		},
		History: HistoryConfig{
			Enabled: false,
			Path:    "./buildwatch-history.db",
		},
	}

	data, err := yaml.Marshal(&example)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
