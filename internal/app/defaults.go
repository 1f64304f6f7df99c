package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - FILEFLOW_CONFIG_PATH: config file location (default: ~/.config/fileflow.toml)
//   - FILEFLOW_HOME: base directory for fileflow data (default: ~/.local/share/fileflow)
func GetDefaults() (map[string]string, error) {
	v := viper.New()
	v.SetEnvPrefix("FILEFLOW")
	// Empty variables count as unset.
	v.AllowEmptyEnv(false)
	if err := v.BindEnv("config_path"); err != nil {
		return nil, fmt.Errorf("binding FILEFLOW_CONFIG_PATH: %w", err)
	}
	if err := v.BindEnv("home"); err != nil {
		return nil, fmt.Errorf("binding FILEFLOW_HOME: %w", err)
	}

	configPath := v.GetString("config_path")
	baseDir := v.GetString("home")
	if configPath == "" || baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		if configPath == "" {
			configPath = filepath.Join(homeDir, ".config", "fileflow.toml")
		}
		if baseDir == "" {
			baseDir = filepath.Join(homeDir, ".local", "share", "fileflow")
		}
	}

	return map[string]string{
		"config_path":     configPath,
		"base_dir":        baseDir,
		"log_dir":         filepath.Join(baseDir, "log"),
		"credential_path": filepath.Join(baseDir, "credential"),
	}, nil
}
