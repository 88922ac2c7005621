package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata" // timezone names resolve in minimal containers

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/fluxd/internal/schedule"
)

var (
	ErrInvalidSchedule = errors.New("config: invalid schedule")
	ErrNoDevices       = errors.New("config: no devices configured")
	ErrInvalidColor    = errors.New("config: invalid color settings")
	ErrInvalidMQTT     = errors.New("config: invalid mqtt settings")
	ErrInvalidTimezone = errors.New("config: invalid timezone")
	ErrInvalidDuration = errors.New("config: invalid duration")
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig         `yaml:"log"`
	Timezone        string            `yaml:"timezone"`
	Devices         DevicesConfig     `yaml:"devices"`
	Schedule        []ScheduleEntry   `yaml:"schedule"`
	Color           ColorConfig       `yaml:"color"`
	Controller      ControllerConfig  `yaml:"controller"`
	Database        DatabaseConfig    `yaml:"database"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	MQTT            MQTTConfig        `yaml:"mqtt"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"json"`
}

// GetLevel returns the lower-cased log level
func (c *LogConfig) GetLevel() string {
	return strings.ToLower(strings.TrimSpace(c.Level))
}

// DevicesConfig lists the bulbs driven together
type DevicesConfig struct {
	Addresses    []string `yaml:"addresses"`      // host or host:port
	Simulate     bool     `yaml:"simulate"`       // drive in-memory bulbs instead of the network
	Timeout      Duration `yaml:"timeout"`        // per device call
	Attempts     int      `yaml:"attempts"`       // distinct devices tried by probe/query
	Stagger      Duration `yaml:"stagger"`        // pause between bulbs when entering RGBW mode
	RateLimitRPS float64  `yaml:"rate_limit_rps"` // datagrams per second, per bulb
}

// ScheduleEntry is one "at HH:MM show N kelvin" checkpoint
type ScheduleEntry struct {
	At     string `yaml:"at"`
	Kelvin int    `yaml:"kelvin"`
}

// RGB is a color triple in config
type RGB struct {
	R uint8 `yaml:"r"`
	G uint8 `yaml:"g"`
	B uint8 `yaml:"b"`
}

// ColorConfig controls how temperatures are rendered and compared
type ColorConfig struct {
	MinKelvin       int  `yaml:"min_kelvin"`       // native floor; below it the RGBW approximation is used
	MaxKelvin       int  `yaml:"max_kelvin"`       // native ceiling; targets above it are clamped
	KelvinTolerance int  `yaml:"kelvin_tolerance"` // reported temperatures within this are not an override
	ResetColor      *RGB `yaml:"reset_color"`      // picking this color hands control back
}

// ControllerConfig contains control loop settings
type ControllerConfig struct {
	OfflineInterval  Duration `yaml:"offline_interval"`
	UpdateInterval   Duration `yaml:"update_interval"`
	OverrideInterval Duration `yaml:"override_interval"`
	Debounce         Duration `yaml:"debounce"`
	AlwaysResend     bool     `yaml:"always_resend"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	Enabled         bool     `yaml:"enabled"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MQTTConfig contains the optional status publisher settings
type MQTTConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Broker         string   `yaml:"broker"` // tcp://host:1883
	ClientID       string   `yaml:"client_id"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	TopicPrefix    string   `yaml:"topic_prefix"`
	QoS            int      `yaml:"qos"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads, parses and validates the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, applies defaults and validates
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./fluxd.sqlite"
	}

	// Device defaults
	if cfg.Devices.Timeout == 0 {
		cfg.Devices.Timeout = Duration(2 * time.Second)
	}
	if cfg.Devices.Attempts == 0 {
		cfg.Devices.Attempts = 3
	}
	if cfg.Devices.Stagger == 0 {
		cfg.Devices.Stagger = Duration(2 * time.Second)
	}
	if cfg.Devices.RateLimitRPS == 0 {
		cfg.Devices.RateLimitRPS = 5.0
	}
	if cfg.Devices.Simulate && len(cfg.Devices.Addresses) == 0 {
		cfg.Devices.Addresses = []string{"sim-1", "sim-2", "sim-3"}
	}

	// Color defaults
	if cfg.Color.MinKelvin == 0 {
		cfg.Color.MinKelvin = 2200
	}
	if cfg.Color.MaxKelvin == 0 {
		cfg.Color.MaxKelvin = 6500
	}
	if cfg.Color.KelvinTolerance == 0 {
		cfg.Color.KelvinTolerance = 50
	}
	if cfg.Color.ResetColor == nil {
		cfg.Color.ResetColor = &RGB{R: 1, G: 1, B: 1}
	}

	// Controller defaults
	if cfg.Controller.OfflineInterval == 0 {
		cfg.Controller.OfflineInterval = Duration(1 * time.Second)
	}
	if cfg.Controller.UpdateInterval == 0 {
		cfg.Controller.UpdateInterval = Duration(60 * time.Second)
	}
	if cfg.Controller.OverrideInterval == 0 {
		cfg.Controller.OverrideInterval = Duration(5 * time.Second)
	}
	if cfg.Controller.Debounce == 0 {
		cfg.Controller.Debounce = Duration(60 * time.Second)
	}

	// Ledger defaults - the ledger is OFF by default
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "fluxd"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "fluxd"
	}
	cfg.MQTT.TopicPrefix = strings.TrimRight(cfg.MQTT.TopicPrefix, "/")
	if cfg.MQTT.ConnectTimeout == 0 {
		cfg.MQTT.ConnectTimeout = Duration(10 * time.Second)
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks everything that would otherwise fail after startup.
func (cfg *Config) Validate() error {
	if _, err := cfg.ParseSchedule(); err != nil {
		return err
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}

	if len(cfg.Devices.Addresses) == 0 {
		return ErrNoDevices
	}
	seen := make(map[string]struct{}, len(cfg.Devices.Addresses))
	for _, addr := range cfg.Devices.Addresses {
		if strings.TrimSpace(addr) == "" {
			return fmt.Errorf("%w: empty address", ErrNoDevices)
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("%w: duplicate address %q", ErrNoDevices, addr)
		}
		seen[addr] = struct{}{}
	}

	if cfg.Color.MinKelvin <= 0 || cfg.Color.MaxKelvin <= cfg.Color.MinKelvin {
		return fmt.Errorf("%w: min_kelvin %d must be positive and below max_kelvin %d",
			ErrInvalidColor, cfg.Color.MinKelvin, cfg.Color.MaxKelvin)
	}
	if cfg.Color.KelvinTolerance < 0 {
		return fmt.Errorf("%w: negative kelvin_tolerance", ErrInvalidColor)
	}

	if err := cfg.validateDurations(); err != nil {
		return err
	}

	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("%w: broker is required", ErrInvalidMQTT)
		}
		if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
			return fmt.Errorf("%w: qos %d", ErrInvalidMQTT, cfg.MQTT.QoS)
		}
	}

	return nil
}

func (cfg *Config) validateDurations() error {
	positive := []struct {
		name string
		d    Duration
	}{
		{"devices.timeout", cfg.Devices.Timeout},
		{"controller.offline_interval", cfg.Controller.OfflineInterval},
		{"controller.update_interval", cfg.Controller.UpdateInterval},
		{"controller.override_interval", cfg.Controller.OverrideInterval},
		{"controller.debounce", cfg.Controller.Debounce},
		{"ledger.cleanup_interval", cfg.Ledger.CleanupInterval},
		{"mqtt.connect_timeout", cfg.MQTT.ConnectTimeout},
		{"shutdown_timeout", cfg.ShutdownTimeout},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidDuration, p.name, time.Duration(p.d))
		}
	}

	if cfg.Devices.Stagger < 0 {
		return fmt.Errorf("%w: devices.stagger must not be negative, got %s",
			ErrInvalidDuration, time.Duration(cfg.Devices.Stagger))
	}
	if cfg.Ledger.RetentionDays <= 0 {
		return fmt.Errorf("%w: ledger.retention_days must be positive, got %d",
			ErrInvalidDuration, cfg.Ledger.RetentionDays)
	}
	return nil
}

// ParseSchedule parses the schedule section.
func (cfg *Config) ParseSchedule() (*schedule.Schedule, error) {
	raw := make([]schedule.Raw, len(cfg.Schedule))
	for i, e := range cfg.Schedule {
		raw[i] = schedule.Raw{At: e.At, Kelvin: e.Kelvin}
	}
	s, err := schedule.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}
	return s, nil
}

// Location resolves the configured timezone.
func (cfg *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidTimezone, cfg.Timezone, err)
	}
	return loc, nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
