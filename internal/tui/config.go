package tui

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jonandersen/apca/internal/config"
)

// UIConfig holds TUI-specific configuration separate from CLI config.
type UIConfig struct {
	Watchlist []string `yaml:"watchlist,omitempty"`

	path string
}

// ConfigPath returns the path to the TUI config file.
func ConfigPath() string {
	return filepath.Join(config.ConfigDir(), "ui.yaml")
}

// LoadConfig loads the TUI config from path. A missing file yields an
// empty config that saves to path.
func LoadConfig(path string) (*UIConfig, error) {
	cfg := &UIConfig{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config back to the path it was loaded from.
func (c *UIConfig) Save() error {
	if c.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0600)
}
