package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/imesync/
//   - Linux:   ~/.local/share/imesync/
//   - Windows: %APPDATA%\imesync\
//
// IMESYNC_DATA_DIR overrides all of them.
func PlatformDataDir() string {
	if envDir := os.Getenv(EnvPrefix + "DATA_DIR"); envDir != "" {
		return envDir
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", "imesync")
	case "windows":
		return windowsDir("APPDATA", "Roaming")
	default:
		return xdgDir("XDG_DATA_HOME", ".local", "share")
	}
}

// PlatformConfigDir returns the platform-specific config directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/imesync/
//   - Linux:   ~/.config/imesync/
//   - Windows: %APPDATA%\imesync\
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "darwin", "windows":
		return PlatformDataDir()
	default:
		return xdgDir("XDG_CONFIG_HOME", ".config")
	}
}

// PlatformLogDir returns the platform-specific log directory.
func PlatformLogDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Logs", "imesync")
	case "windows":
		return filepath.Join(windowsDir("LOCALAPPDATA", "Local"), "logs")
	default:
		return xdgDir("XDG_STATE_HOME", ".local", "state")
	}
}

// PlatformRuntimeDir returns the directory for the engine socket.
//
// Platform paths:
//   - Linux:   $XDG_RUNTIME_DIR/imesync/ or /tmp/imesync-$UID/
//   - others:  /tmp/imesync-$UID/
func PlatformRuntimeDir() string {
	if runtime.GOOS == "linux" {
		if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
			return filepath.Join(xdgRuntime, "imesync")
		}
	}
	return filepath.Join(os.TempDir(), "imesync-"+strconv.Itoa(os.Getuid()))
}

func homeDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return home
}

// xdgDir follows the XDG Base Directory Specification.
func xdgDir(env string, fallback ...string) string {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, "imesync")
	}
	return filepath.Join(append(append([]string{homeDir()}, fallback...), "imesync")...)
}

func windowsDir(env, fallback string) string {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, "imesync")
	}
	return filepath.Join(homeDir(), "AppData", fallback, "imesync")
}

// DefaultPaths holds the default locations for the current platform.
type DefaultPaths struct {
	DataDir    string
	ConfigDir  string
	LogDir     string
	RuntimeDir string

	ConfigFile   string
	ModeDatabase string
	SocketPath   string
}

// GetDefaultPaths returns all default paths for the current platform.
func GetDefaultPaths() *DefaultPaths {
	dataDir := PlatformDataDir()
	configDir := PlatformConfigDir()
	runtimeDir := PlatformRuntimeDir()

	return &DefaultPaths{
		DataDir:    dataDir,
		ConfigDir:  configDir,
		LogDir:     PlatformLogDir(),
		RuntimeDir: runtimeDir,

		ConfigFile:   filepath.Join(configDir, "config.toml"),
		ModeDatabase: filepath.Join(dataDir, "mode.db"),
		SocketPath:   filepath.Join(runtimeDir, "engine.sock"),
	}
}

// SupportedConfigFormats returns the list of supported config file formats.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile searches for a config file in the current directory and
// then the config directory. It returns "" when there is none.
func FindConfigFile() string {
	for _, dir := range []string{".", PlatformConfigDir()} {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
