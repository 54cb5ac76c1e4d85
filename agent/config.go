package agent

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level agent configuration.
type Config struct {
	ServerURL string        `yaml:"server_url"`
	PageURL   string        `yaml:"page_url"`
	CacheDir  string        `yaml:"cache_dir"`
	Poll      PollConfig    `yaml:"poll"`
	ClearAll  ClearConfig   `yaml:"clear_all"`
	Browser   BrowserConfig `yaml:"browser"`
	LogLevel  string        `yaml:"log_level"` // debug | info | warn | error
}

// PollConfig tunes the change poller.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
	Debounce time.Duration `yaml:"debounce"`
}

// ClearConfig tunes the clear-all confirmation.
type ClearConfig struct {
	ConfirmWindow time.Duration `yaml:"confirm_window"`
}

// BrowserConfig controls page acquisition.
type BrowserConfig struct {
	// Escalate enables the headless-browser fallback for JS-rendered pages.
	Escalate bool          `yaml:"escalate"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoadConfig reads a YAML configuration file and applies defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.ServerURL == "" {
		return nil, errors.New("config: server_url is required")
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.CacheDir == "" {
		c.CacheDir = filepathCacheDefault()
	}
	if c.Poll.Interval <= 0 {
		c.Poll.Interval = 3 * time.Second
	}
	if c.ClearAll.ConfirmWindow <= 0 {
		c.ClearAll.ConfirmWindow = 5 * time.Second
	}
	if c.Browser.Timeout <= 0 {
		c.Browser.Timeout = 30 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func filepathCacheDefault() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + "/margin"
	}
	return ".margin-cache"
}
