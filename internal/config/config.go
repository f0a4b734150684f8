// Package config handles configuration loading, validation, and management for imesync.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Engine configuration for reaching the conversion engine.
	Engine EngineConfig `toml:"engine" json:"engine" yaml:"engine"`

	// InputMode configuration for open/close and conversion mode handling.
	InputMode InputModeConfig `toml:"input_mode" json:"input_mode" yaml:"input_mode"`

	// Surrounding text configuration.
	Surrounding SurroundingConfig `toml:"surrounding" json:"surrounding" yaml:"surrounding"`

	// ModeStore configuration for the host-visible mode.
	ModeStore ModeStoreConfig `toml:"mode_store" json:"mode_store" yaml:"mode_store"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configuration.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// EngineConfig holds the engine transport configuration.
type EngineConfig struct {
	// SocketPath is the Unix socket of the engine server.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// Codec is the payload encoding: "cbor" (default) or "json".
	Codec string `toml:"codec" json:"codec" yaml:"codec"`

	// TimeoutMs bounds one engine request.
	TimeoutMs int `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`

	// ConnectTimeoutMs bounds dialing the engine server.
	ConnectTimeoutMs int `toml:"connect_timeout_ms" json:"connect_timeout_ms" yaml:"connect_timeout_ms"`

	// MaxConnections limits concurrent text services on the server side.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`

	// RequireSameUser rejects clients running as another user.
	RequireSameUser bool `toml:"require_same_user" json:"require_same_user" yaml:"require_same_user"`
}

// InputModeConfig holds the input mode behaviour flags.
type InputModeConfig struct {
	// RespectHostModeChanges applies conversion mode changes made by the host.
	RespectHostModeChanges bool `toml:"respect_host_mode_changes" json:"respect_host_mode_changes" yaml:"respect_host_mode_changes"`

	// UseIndicator shows the mode indicator after mode changes.
	UseIndicator bool `toml:"use_indicator" json:"use_indicator" yaml:"use_indicator"`

	// KanaInput reports kana rather than romaji input to the host.
	KanaInput bool `toml:"kana_input" json:"kana_input" yaml:"kana_input"`
}

// SurroundingConfig holds surrounding text configuration.
type SurroundingConfig struct {
	// Radius is the number of UTF-16 units read on each side of the selection.
	Radius int `toml:"radius" json:"radius" yaml:"radius"`

	// SendContext attaches the surrounding text to key events.
	SendContext bool `toml:"send_context" json:"send_context" yaml:"send_context"`
}

// ModeStoreConfig holds the host-visible mode store configuration.
type ModeStoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `toml:"backend" json:"backend" yaml:"backend"`

	// Path is the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// Scope separates mode rows of independent hosts in one database.
	Scope string `toml:"scope" json:"scope" yaml:"scope"`

	// DBus broadcasts mode changes on the session bus.
	DBus bool `toml:"dbus" json:"dbus" yaml:"dbus"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is where logs go: "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path when output includes a file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is how long rotated files are kept.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress gzips rotated files.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`

	// Redact hides typed text in log attributes.
	Redact bool `toml:"redact" json:"redact" yaml:"redact"`
}

// MetricsConfig holds metrics export configuration.
type MetricsConfig struct {
	// Enabled serves the Prometheus text endpoint.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Listen is the HTTP listen address, e.g. "127.0.0.1:9464".
	Listen string `toml:"listen" json:"listen" yaml:"listen"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	paths := GetDefaultPaths()

	return &Config{
		Version: Version,
		Engine: EngineConfig{
			SocketPath:       paths.SocketPath,
			Codec:            "cbor",
			TimeoutMs:        1000,
			ConnectTimeoutMs: 2000,
			MaxConnections:   16,
			RequireSameUser:  true,
		},
		InputMode: InputModeConfig{
			RespectHostModeChanges: true,
			UseIndicator:           true,
		},
		Surrounding: SurroundingConfig{
			Radius: 20,
		},
		ModeStore: ModeStoreConfig{
			Backend: "memory",
			Path:    paths.ModeDatabase,
			Scope:   "default",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(paths.LogDir, "imesync.log"),
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
			Redact:     true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the configured files live in.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Engine.SocketPath),
	}
	if c.ModeStore.Backend == "sqlite" {
		dirs = append(dirs, filepath.Dir(c.ModeStore.Path))
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "IMESYNC_"

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Malformed numeric or boolean values are ignored.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	envString("ENGINE_SOCKET", &c.Engine.SocketPath)
	envString("ENGINE_CODEC", &c.Engine.Codec)
	envInt("ENGINE_TIMEOUT_MS", &c.Engine.TimeoutMs)

	envBool("RESPECT_HOST_MODE_CHANGES", &c.InputMode.RespectHostModeChanges)
	envBool("USE_INDICATOR", &c.InputMode.UseIndicator)
	envBool("KANA_INPUT", &c.InputMode.KanaInput)

	envInt("SURROUNDING_RADIUS", &c.Surrounding.Radius)
	envBool("SEND_CONTEXT", &c.Surrounding.SendContext)

	envString("MODE_STORE", &c.ModeStore.Backend)
	envString("MODE_STORE_PATH", &c.ModeStore.Path)
	envBool("MODE_STORE_DBUS", &c.ModeStore.DBus)

	envString("LOG_LEVEL", &c.Logging.Level)
	envString("LOG_FORMAT", &c.Logging.Format)
	envString("LOG_PATH", &c.Logging.FilePath)

	envBool("METRICS", &c.Metrics.Enabled)
	envString("METRICS_LISTEN", &c.Metrics.Listen)
}

func envString(name string, dst *string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Version:     c.Version,
		Engine:      c.Engine,
		InputMode:   c.InputMode,
		Surrounding: c.Surrounding,
		ModeStore:   c.ModeStore,
		Logging:     c.Logging,
		Metrics:     c.Metrics,
	}
}

// String renders the configuration as TOML.
func (c *Config) String() string {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(c.Clone()); err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return b.String()
}
