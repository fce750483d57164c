package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// DefaultBaseURL is the backend used when neither config nor env names one.
const DefaultBaseURL = "http://localhost:8000"

type Config struct {
	API     API     `yaml:"api"`
	Server  Server  `yaml:"server"`
	Output  Output  `yaml:"output"`
	Logging Logging `yaml:"logging"`
}

type API struct {
	BaseURL    string        `yaml:"base_url"`
	BaseURLEnv string        `yaml:"base_url_env"`
	Timeout    time.Duration `yaml:"timeout"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for ragdash.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "ragdash")
}

// DataDir returns the XDG data directory for ragdash.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "ragdash")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/ragdash/config.yaml > ./config.yaml.
// It returns "" without error when no file exists and none was requested.
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", nil
}

// Load reads and parses a config YAML file. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return parse(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// LoadDotEnv loads KEY=value pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		API: API{
			BaseURL:    DefaultBaseURL,
			BaseURLEnv: "RAGDASH_API_URL",
		},
		Server:  Server{Port: 3000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("parsing config: invalid server.port %d", cfg.Server.Port)
	}

	return cfg, nil
}

// BaseURL resolves the backend base URL: the environment variable named by
// api.base_url_env, then api.base_url, then DefaultBaseURL. Callers resolve
// it once at startup.
func (c *Config) BaseURL() string {
	if c.API.BaseURLEnv != "" {
		if v := strings.TrimSpace(os.Getenv(c.API.BaseURLEnv)); v != "" {
			return v
		}
	}
	if c.API.BaseURL != "" {
		return c.API.BaseURL
	}
	return DefaultBaseURL
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// JournalPath is the SQLite file holding the action journal.
func (c *Config) JournalPath() string {
	return filepath.Join(c.GetDataDir(), "ragdash.db")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
