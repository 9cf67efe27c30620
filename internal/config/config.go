// Package config handles carbridge configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure returned from
// [Config.Validate].
var ErrInvalid = errors.New("invalid configuration")

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/carbridge/config.yaml, /etc/carbridge/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "carbridge", "config.yaml"))
	}

	paths = append(paths, "/etc/carbridge/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all carbridge configuration.
type Config struct {
	MQTT          MQTTConfig          `yaml:"mqtt"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Garage        GarageConfig        `yaml:"garage"`
	Listen        ListenConfig        `yaml:"listen"`
	DataDir       string              `yaml:"data_dir"`
	LogLevel      string              `yaml:"log_level"`
	LogFormat     string              `yaml:"log_format"` // text or json
}

// MQTTConfig defines the broker connection and the topic prefix under
// which vehicle attributes are mirrored.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Prefix is prepended to every attribute path, e.g.
	// "carconnectivity/0" + "/garage/<VIN>/odometer".
	Prefix string `yaml:"prefix"`
	// ClientID overrides the generated carbridge-<instance id>.
	ClientID string `yaml:"client_id"`
	// ImageFormat is "png" or "none". Image entities are only
	// advertised for png.
	ImageFormat string `yaml:"image_format"`
	// MessageRateLimit caps inbound messages per second (default 200).
	MessageRateLimit int `yaml:"message_rate_limit"`
}

// Configured reports whether enough is set to attempt a broker connection.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// HomeAssistantConfig controls discovery publishing.
type HomeAssistantConfig struct {
	// Prefix is the discovery topic root (homeassistant_prefix).
	Prefix string `yaml:"prefix"`
	// Discovery enables discovery documents (homeassistant_discovery).
	// A nil pointer means "not set" and defaults to true.
	Discovery *bool `yaml:"discovery"`
	// RediscoverOnValueChange re-renders discovery documents on every
	// value change, not only when attributes are enabled or disabled.
	RediscoverOnValueChange bool `yaml:"rediscover_on_value_change"`
}

// DiscoveryEnabled resolves the Discovery tri-state.
func (c HomeAssistantConfig) DiscoveryEnabled() bool {
	return c.Discovery == nil || *c.Discovery
}

// GarageConfig points at the vehicle snapshot file.
type GarageConfig struct {
	File  string `yaml:"file"`
	Watch *bool  `yaml:"watch"`
}

// WatchEnabled resolves the Watch tri-state (default true).
func (c GarageConfig) WatchEnabled() bool {
	return c.Watch == nil || *c.Watch
}

// ListenConfig defines the status API settings. Port -1 disables it;
// 0 selects the default.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// Enabled reports whether the status API should be served.
func (c ListenConfig) Enabled() bool {
	return c.Port > 0
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.MQTT.Prefix == "" {
		c.MQTT.Prefix = "carconnectivity/0"
	}
	if c.MQTT.ImageFormat == "" {
		c.MQTT.ImageFormat = "png"
	}
	if c.MQTT.MessageRateLimit <= 0 {
		c.MQTT.MessageRateLimit = 200
	}
	if c.HomeAssistant.Prefix == "" {
		c.HomeAssistant.Prefix = "homeassistant"
	}
	if c.Garage.File == "" {
		c.Garage.File = "garage.yaml"
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = 8099
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate checks the configuration for values that would make the
// bridge misbehave rather than fail loudly.
func (c *Config) Validate() error {
	var errs []error

	if strings.HasSuffix(c.MQTT.Prefix, "/") {
		errs = append(errs, fmt.Errorf("%w: mqtt.prefix %q must not end with /", ErrInvalid, c.MQTT.Prefix))
	}
	switch c.MQTT.ImageFormat {
	case "png", "none":
	default:
		errs = append(errs, fmt.Errorf("%w: mqtt.image_format %q (valid: png, none)", ErrInvalid, c.MQTT.ImageFormat))
	}
	if strings.ContainsAny(c.HomeAssistant.Prefix, "#+") || strings.HasSuffix(c.HomeAssistant.Prefix, "/") {
		errs = append(errs, fmt.Errorf("%w: homeassistant.prefix %q", ErrInvalid, c.HomeAssistant.Prefix))
	}
	if c.Listen.Port < -1 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: listen.port %d", ErrInvalid, c.Listen.Port))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("%w: log_format %q (valid: text, json)", ErrInvalid, c.LogFormat))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}

	return errors.Join(errs...)
}
