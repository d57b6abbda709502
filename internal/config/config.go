package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/msalah0e/attackgraph/internal/builder"
	"github.com/msalah0e/attackgraph/internal/graph"
)

// Environment variables that override the config file.
const (
	EnvAPIURL   = "ATTACKGRAPH_API_URL"
	EnvAPIToken = "ATTACKGRAPH_API_TOKEN"
	EnvListen   = "ATTACKGRAPH_LISTEN"
	EnvLogLevel = "ATTACKGRAPH_LOG_LEVEL"
	EnvLogFile  = "ATTACKGRAPH_LOG_FILE"
)

// ProjectFile is looked up from the working directory upwards and, when
// found, overrides the user config.
const ProjectFile = ".attackgraph.toml"

// ErrInvalid is wrapped by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config holds attackgraph configuration.
type Config struct {
	API    APIConfig    `toml:"api"`
	Server ServerConfig `toml:"server"`
	Graph  GraphConfig  `toml:"graph"`
	Log    LogConfig    `toml:"log"`
	UI     UIConfig     `toml:"ui"`
}

// APIConfig points at the ATT&CK matrix API.
type APIConfig struct {
	URL            string `toml:"url"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxBodyBytes   int64  `toml:"max_body_bytes"`
	MaxJSONDepth   int    `toml:"max_json_depth"`
}

// ServerConfig controls the HTTP front end.
type ServerConfig struct {
	Listen                 string `toml:"listen"`
	ReadTimeoutSeconds     int    `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `toml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
}

// GraphConfig is the builder policy plus output defaults.
type GraphConfig struct {
	SuppressedKeys []string `toml:"suppressed_keys"`
	ExpandOnly     []string `toml:"expand_only,omitempty"`
	MaxDepth       int      `toml:"max_depth"`
	SummaryWords   int      `toml:"summary_words"`
	Style          string   `toml:"style"`
	Curve          string   `toml:"curve"`
	Format         string   `toml:"format"`
}

// LogConfig controls the zap logger and its optional rotating file.
type LogConfig struct {
	Level      string `toml:"level"`  // debug, info, warn, error
	Format     string `toml:"format"` // console, json
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// UIConfig controls terminal and page display.
type UIConfig struct {
	Color     bool   `toml:"color"`
	Emoji     bool   `toml:"emoji"`
	PageTitle string `toml:"page_title"`
	D3URL     string `toml:"d3_url"`
	DagreURL  string `toml:"dagre_url"`
}

// Default returns the default configuration.
func Default() *Config {
	page := graph.DefaultPageOptions()
	return &Config{
		API: APIConfig{
			URL:            "http://localhost:8008/api",
			TimeoutSeconds: 30,
			MaxBodyBytes:   32 << 20,
			MaxJSONDepth:   512,
		},
		Server: ServerConfig{
			Listen:                 "127.0.0.1:8080",
			ReadTimeoutSeconds:     10,
			WriteTimeoutSeconds:    60,
			ShutdownTimeoutSeconds: 10,
		},
		Graph: GraphConfig{
			SuppressedKeys: append([]string(nil), builder.DefaultSuppressedKeys...),
			MaxDepth:       builder.DefaultMaxDepth,
			SummaryWords:   builder.DefaultSummaryWords,
			Style:          graph.DefaultStyle,
			Curve:          graph.DefaultCurve,
			Format:         graph.FormatHTML,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		UI: UIConfig{
			Color:     true,
			Emoji:     true,
			PageTitle: page.Title,
			D3URL:     page.D3URL,
			DagreURL:  page.DagreURL,
		},
	}
}

// Policy converts the graph section into a builder policy.
func (g GraphConfig) Policy() builder.Policy {
	return builder.Policy{
		SuppressedKeys: append([]string(nil), g.SuppressedKeys...),
		ExpandOnly:     g.ExpandOnly,
		MaxDepth:       g.MaxDepth,
		SummaryWords:   g.SummaryWords,
		Style:          g.Style,
		Curve:          g.Curve,
	}
}

// PageOptions converts the UI section into HTML page options.
func (u UIConfig) PageOptions() graph.PageOptions {
	return graph.PageOptions{Title: u.PageTitle, D3URL: u.D3URL, DagreURL: u.DagreURL}
}

// ConfigDir returns the attackgraph config directory path.
func ConfigDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "attackgraph")
}

// Path returns the default config file path.
func Path() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads the config at path (Path() when empty), then the nearest
// project file, then .env and the environment. A missing user config yields
// the defaults; a malformed one is an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}
	cfg := Default()

	if err := decodeFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if project := findProjectConfig(); project != "" && project != path {
		if err := decodeFile(project, cfg); err != nil {
			return nil, err
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// findProjectConfig walks up from the working directory looking for
// ProjectFile.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ProjectFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ApplyEnv loads .env from the working directory, if present, and applies
// the ATTACKGRAPH_* overrides. Variables already set in the process win over
// .env entries.
func ApplyEnv(cfg *Config) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.API.URL = v
	}
	if v := os.Getenv(EnvAPIToken); v != "" {
		cfg.API.Token = v
	}
	if v := os.Getenv(EnvListen); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		cfg.Log.File = v
	}
	return nil
}

// Validate rejects settings the rest of the program cannot work with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: api.url %q is not an http(s) URL", ErrInvalid, c.API.URL)
	}

	positive := []struct {
		name string
		v    int
	}{
		{"api.timeout_seconds", c.API.TimeoutSeconds},
		{"api.max_json_depth", c.API.MaxJSONDepth},
		{"server.read_timeout_seconds", c.Server.ReadTimeoutSeconds},
		{"server.write_timeout_seconds", c.Server.WriteTimeoutSeconds},
		{"server.shutdown_timeout_seconds", c.Server.ShutdownTimeoutSeconds},
		{"graph.max_depth", c.Graph.MaxDepth},
		{"graph.summary_words", c.Graph.SummaryWords},
	}
	for _, f := range positive {
		if f.v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalid, f.name, f.v)
		}
	}
	if c.API.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: api.max_body_bytes must be positive", ErrInvalid)
	}

	if !graph.ValidFormat(c.Graph.Format) {
		return fmt.Errorf("%w: graph.format %q is not one of %v", ErrInvalid, c.Graph.Format, graph.Formats)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log.level %q", ErrInvalid, c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}

// Save writes the config to path (Path() when empty).
func Save(cfg *Config, path string) error {
	if path == "" {
		path = Path()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// EnsureExists creates the config file with defaults if it doesn't exist.
// It reports whether a file was written.
func EnsureExists(path string) (bool, error) {
	if path == "" {
		path = Path()
	}
	if _, err := os.Stat(path); err == nil {
		return false, nil // already exists
	}
	return true, Save(Default(), path)
}
