package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pelletier/go-toml/v2"
)

// GlobalConfig is the user's global configuration at ~/.wrknv/config.toml,
// currently just the URL replacement map applied to every outbound fetch.
type GlobalConfig struct {
	URLReplacements map[string]string `toml:"url_replacements,omitempty"`
}

// globalConfigDirFunc is overridable for testing.
var globalConfigDirFunc = getGlobalConfigDirImpl

func getGlobalConfigDir() (string, error) {
	return globalConfigDirFunc()
}

func getGlobalConfigDirImpl() (string, error) {
	var homeDir string
	var err error

	if runtime.GOOS == "windows" {
		homeDir = os.Getenv("USERPROFILE")
		if homeDir == "" {
			homeDir = os.Getenv("HOMEDRIVE") + os.Getenv("HOMEPATH")
		}
	} else {
		homeDir, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
	}

	if homeDir == "" {
		return "", fmt.Errorf("unable to determine user home directory")
	}

	return filepath.Join(homeDir, ".wrknv"), nil
}

// LoadGlobalConfig loads ~/.wrknv/config.toml, returning an empty config
// (not an error) if it does not exist.
func LoadGlobalConfig() (*GlobalConfig, error) {
	configDir, err := getGlobalConfigDir()
	if err != nil {
		return nil, err
	}

	path := filepath.Join(configDir, "config.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &GlobalConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read global config file %s: %w", path, err)
	}

	var cfg GlobalConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse global config file %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveGlobalConfig writes cfg to ~/.wrknv/config.toml.
func SaveGlobalConfig(cfg *GlobalConfig) error {
	configDir, err := getGlobalConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create global config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to format global configuration: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write global configuration file: %w", err)
	}
	return nil
}

// GetGlobalConfigPath returns the path to the global configuration file.
func GetGlobalConfigPath() (string, error) {
	configDir, err := getGlobalConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}

// GetGlobalConfigDirFunc returns the current global config directory
// function (for testing).
func GetGlobalConfigDirFunc() func() (string, error) {
	return globalConfigDirFunc
}

// SetGlobalConfigDirFunc overrides the global config directory function
// (for testing).
func SetGlobalConfigDirFunc(fn func() (string, error)) {
	globalConfigDirFunc = fn
}
