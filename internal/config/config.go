// Package config loads the bridge's static configuration: its own
// identity, the upstream gateways it reconciles against, and the
// HTTP/SSE, DTLS entertainment, and persistence settings each
// subsystem's constructor takes as a dependency.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the bridge's top-level configuration document.
type Config struct {
	Bridge        BridgeConfig        `yaml:"bridge"`
	Gateways      []GatewayConfig     `yaml:"gateways"`
	API           APIConfig           `yaml:"api"`
	Entertainment EntertainmentConfig `yaml:"entertainment"`
	Persistence   PersistenceConfig   `yaml:"persistence"`
	Log           LogConfig           `yaml:"log"`
}

// BridgeConfig is this bridge's own identity.
type BridgeConfig struct {
	Name string `yaml:"name"`
	MAC  string `yaml:"mac"`
}

// Default bridge values.
const DefaultBridgeName = "Hue Bridge"

// GetName returns the bridge's advertised name with default.
func (c *BridgeConfig) GetName() string {
	if c.Name == "" {
		return DefaultBridgeName
	}
	return c.Name
}

// GatewayConfig names one upstream gateway's connection and filtering
// parameters (mirrors reconciler.GatewayConfig's fields; kept as a
// separate YAML-facing type so the wire config shape doesn't leak
// reconciler's internal type directly into every caller).
type GatewayConfig struct {
	Name              string   `yaml:"name"`
	URL               string   `yaml:"url"`
	TLSInsecure       bool     `yaml:"tls_insecure"`
	GroupPrefix       string   `yaml:"group_prefix"`
	CommandRPS        float64  `yaml:"command_rps"`
	InventoryTTL      Duration `yaml:"inventory_ttl"`
	DeviceGracePeriod Duration `yaml:"device_grace_period"`
}

// Default gateway values.
const (
	DefaultGatewayCommandRPS        = 10.0
	DefaultGatewayInventoryTTL      = 5 * time.Minute
	DefaultGatewayDeviceGracePeriod = 2 * time.Minute
)

// GetCommandRPS returns the gateway's outbound command rate limit with default.
func (c *GatewayConfig) GetCommandRPS() float64 {
	if c.CommandRPS == 0 {
		return DefaultGatewayCommandRPS
	}
	return c.CommandRPS
}

// GetInventoryTTL returns the inventory refresh TTL with default.
func (c *GatewayConfig) GetInventoryTTL() time.Duration {
	if c.InventoryTTL == 0 {
		return DefaultGatewayInventoryTTL
	}
	return c.InventoryTTL.Duration()
}

// GetDeviceGracePeriod returns how long a device/light may be missing
// from consecutive inventory fetches before it is deleted from the
// graph, with default.
func (c *GatewayConfig) GetDeviceGracePeriod() time.Duration {
	if c.DeviceGracePeriod == 0 {
		return DefaultGatewayDeviceGracePeriod
	}
	return c.DeviceGracePeriod.Duration()
}

// APIConfig configures the client-facing HTTP(S) surface (internal/api).
type APIConfig struct {
	Addr             string   `yaml:"addr"`
	CertFile         string   `yaml:"cert_file"`
	KeyFile          string   `yaml:"key_file"`
	ShutdownTimeout  Duration `yaml:"shutdown_timeout"`
	LinkButtonWindow Duration `yaml:"link_button_window"`
}

// Default API values.
const (
	DefaultAPIAddr             = ":443"
	DefaultAPIShutdownTimeout  = 5 * time.Second
	DefaultAPILinkButtonWindow = 30 * time.Second
)

func (c *APIConfig) GetAddr() string {
	if c.Addr == "" {
		return DefaultAPIAddr
	}
	return c.Addr
}

func (c *APIConfig) GetShutdownTimeout() time.Duration {
	if c.ShutdownTimeout == 0 {
		return DefaultAPIShutdownTimeout
	}
	return c.ShutdownTimeout.Duration()
}

func (c *APIConfig) GetLinkButtonWindow() time.Duration {
	if c.LinkButtonWindow == 0 {
		return DefaultAPILinkButtonWindow
	}
	return c.LinkButtonWindow.Duration()
}

// EntertainmentConfig configures the DTLS entertainment-streaming
// listener (internal/entertainment).
type EntertainmentConfig struct {
	Addr            string   `yaml:"addr"`
	MinFrameSpacing Duration `yaml:"min_frame_spacing"`
	FrameSilence    Duration `yaml:"frame_silence"`
}

// Default entertainment values.
const (
	DefaultEntertainmentAddr            = ":2100"
	DefaultEntertainmentMinFrameSpacing = 20 * time.Millisecond
	DefaultEntertainmentFrameSilence    = 5 * time.Second
)

func (c *EntertainmentConfig) GetAddr() string {
	if c.Addr == "" {
		return DefaultEntertainmentAddr
	}
	return c.Addr
}

func (c *EntertainmentConfig) GetMinFrameSpacing() time.Duration {
	if c.MinFrameSpacing == 0 {
		return DefaultEntertainmentMinFrameSpacing
	}
	return c.MinFrameSpacing.Duration()
}

func (c *EntertainmentConfig) GetFrameSilence() time.Duration {
	if c.FrameSilence == 0 {
		return DefaultEntertainmentFrameSilence
	}
	return c.FrameSilence.Duration()
}

// PersistenceConfig names the on-disk locations internal/persist reads
// and writes.
type PersistenceConfig struct {
	SnapshotPath    string `yaml:"snapshot_path"`
	PairedClientsDB string `yaml:"paired_clients_db"`
}

// Default persistence values.
const (
	DefaultSnapshotPath    = "./bridge-state.yaml"
	DefaultPairedClientsDB = "./bridge-clients.sqlite"
)

func (c *PersistenceConfig) GetSnapshotPath() string {
	if c.SnapshotPath == "" {
		return DefaultSnapshotPath
	}
	return c.SnapshotPath
}

func (c *PersistenceConfig) GetPairedClientsDB() string {
	if c.PairedClientsDB == "" {
		return DefaultPairedClientsDB
	}
	return c.PairedClientsDB
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"use_json"` // If true, JSON output; if false (default), console output.
	Colors  bool   `yaml:"colors"`   // Colorize console output (ignored when use_json is true).
}

// Default log values.
const DefaultLogLevel = "info"

func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return DefaultLogLevel
	}
	return c.Level
}

// Duration is a wrapper around time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
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

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file at path, expanding
// ${VAR} / ${VAR:default} references against the process environment
// first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands environment variables in the format ${VAR} or
// ${VAR:default}.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
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
