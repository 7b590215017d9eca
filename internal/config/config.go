// Package config loads process configuration (defaults < config file
// < environment < CLI flags) and persists chat destinations to a YAML
// sidecar file.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all server configuration.
type Config struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	NoBrowser bool   `json:"no_browser"`

	// DataDir is where the search index, destination config, and
	// optional debug log live.
	DataDir string `json:"data_dir"`

	// Roots are the directories scanned for session log files, each
	// laid out as <root>/<project_encoded>/<session_id>.jsonl.
	Roots []string `json:"roots"`

	IncludeSubagents bool          `json:"include_subagents"`
	MaxIndexAgeHours float64       `json:"max_index_age_hours"`
	RefreshInterval  time.Duration `json:"-"`

	SearchRateLimit  int           `json:"search_rate_limit"`
	SearchRateWindow time.Duration `json:"-"`

	SlackBotToken    string `json:"-"`
	TelegramBotToken string `json:"-"`

	WriteTimeout time.Duration `json:"-"`
}

func (c *Config) StateDir() string {
	return c.DataDir
}

func (c *Config) DestinationsPath() string {
	return filepath.Join(c.DataDir, "destinations.yaml")
}

func (c *Config) configPath() string {
	return filepath.Join(c.DataDir, "config.json")
}

// Default returns a Config with default values.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("determining home directory: %w", err)
	}
	dataDir := filepath.Join(home, ".sessionwatcher")
	defaultRoot := filepath.Join(home, ".claude", "projects")

	return Config{
		Host:             "127.0.0.1",
		Port:             8080,
		DataDir:          dataDir,
		Roots:            []string{defaultRoot},
		IncludeSubagents: false,
		MaxIndexAgeHours: 1.0,
		RefreshInterval:  5 * time.Minute,
		SearchRateLimit:  30,
		SearchRateWindow: time.Minute,
		WriteTimeout:     30 * time.Second,
	}, nil
}

// Load builds a Config by layering: defaults < config file < env <
// flags. The provided FlagSet must already be parsed by the caller.
// Only flags that were explicitly set override the lower layers.
func Load(fs *flag.FlagSet) (Config, error) {
	cfg, err := LoadMinimal()
	if err != nil {
		return cfg, err
	}
	applyFlags(&cfg, fs)
	return cfg, nil
}

// LoadMinimal builds a Config from defaults, env, and config file,
// without parsing CLI flags.
func LoadMinimal() (Config, error) {
	cfg, err := Default()
	if err != nil {
		return cfg, err
	}
	if err := cfg.loadFile(); err != nil {
		return cfg, fmt.Errorf("loading config file: %w", err)
	}
	cfg.loadEnv()
	return cfg, nil
}

func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.configPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var file struct {
		Host             *string  `json:"host"`
		Port             *int     `json:"port"`
		NoBrowser        *bool    `json:"no_browser"`
		DataDir          *string  `json:"data_dir"`
		Roots            []string `json:"roots"`
		IncludeSubagents *bool    `json:"include_subagents"`
		MaxIndexAgeHours *float64 `json:"max_index_age_hours"`
		SearchRateLimit  *int     `json:"search_rate_limit"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	if file.Host != nil {
		c.Host = *file.Host
	}
	if file.Port != nil {
		c.Port = *file.Port
	}
	if file.NoBrowser != nil {
		c.NoBrowser = *file.NoBrowser
	}
	if file.DataDir != nil {
		c.DataDir = *file.DataDir
	}
	if len(file.Roots) > 0 {
		c.Roots = file.Roots
	}
	if file.IncludeSubagents != nil {
		c.IncludeSubagents = *file.IncludeSubagents
	}
	if file.MaxIndexAgeHours != nil {
		c.MaxIndexAgeHours = *file.MaxIndexAgeHours
	}
	if file.SearchRateLimit != nil {
		c.SearchRateLimit = *file.SearchRateLimit
	}
	return nil
}

func (c *Config) loadEnv() {
	if v := os.Getenv("WATCHER_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("WATCHER_ROOTS"); v != "" {
		c.Roots = filepath.SplitList(v)
	}
	if v := os.Getenv("WATCHER_SLACK_BOT_TOKEN"); v != "" {
		c.SlackBotToken = v
	}
	if v := os.Getenv("WATCHER_TELEGRAM_BOT_TOKEN"); v != "" {
		c.TelegramBotToken = v
	}
}

// RegisterServeFlags registers serve-command flags on fs. The caller
// must call fs.Parse before passing fs to Load.
func RegisterServeFlags(fs *flag.FlagSet) {
	fs.String("host", "127.0.0.1", "Host to bind to")
	fs.Int("port", 8080, "Port to listen on")
	fs.Bool("no-browser", false, "Accepted and stored; the service never opens a browser")
	fs.Bool("include-subagents", false, "Include subagent session files in the index")
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *flag.FlagSet) {
	if fs == nil {
		return
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = f.Value.String()
		case "port":
			cfg.Port, _ = strconv.Atoi(f.Value.String())
		case "no-browser":
			cfg.NoBrowser = f.Value.String() == "true"
		case "include-subagents":
			cfg.IncludeSubagents = f.Value.String() == "true"
		}
	})
}
