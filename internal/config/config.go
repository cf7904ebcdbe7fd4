// Package config loads vibetabber settings from a TOML file and the
// environment. Every field is optional; a missing file yields defaults.
//
// Precedence, lowest first: built-in defaults, the config file, VIBETABBER_*
// environment variables. Command-line flags are applied by the caller.
//
//	host = "ws"                  # or "cdp"
//	port = 19191
//	cdp_url = "ws://127.0.0.1:9222"
//	db_path = "~/.local/share/vibetabber/vibetabber.db"
//	log_dir = "~/.local/share/vibetabber/logs"
//	write_delay = "1s"
//	new_tab_urls = ["chrome://newtab/", "about:newtab"]
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Host modes.
const (
	HostWebSocket = "ws"
	HostCDP       = "cdp"
)

const (
	defaultConfigPath = "~/.config/vibetabber/config.toml"
	defaultDBPath     = "~/.local/share/vibetabber/vibetabber.db"
	defaultLogDir     = "~/.local/share/vibetabber/logs"
	defaultPort       = 19191
	defaultCDPURL     = "ws://127.0.0.1:9222"
	defaultWriteDelay = time.Second
)

// Config holds resolved settings. Paths are absolute.
type Config struct {
	Host       string
	Port       int
	CDPURL     string
	DBPath     string
	LogDir     string
	WriteDelay time.Duration
	NewTabURLs []string
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Host:       HostWebSocket,
		Port:       defaultPort,
		CDPURL:     defaultCDPURL,
		DBPath:     mustExpand(defaultDBPath),
		LogDir:     mustExpand(defaultLogDir),
		WriteDelay: defaultWriteDelay,
	}
}

type fileConfig struct {
	Host       string   `toml:"host"`
	Port       int      `toml:"port"`
	CDPURL     string   `toml:"cdp_url"`
	DBPath     string   `toml:"db_path"`
	LogDir     string   `toml:"log_dir"`
	WriteDelay string   `toml:"write_delay"`
	NewTabURLs []string `toml:"new_tab_urls"`
}

// Load reads the config file at path, or the default location when path is
// empty, then applies environment overrides.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	raw, err := readFile(resolved)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.apply(raw); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", resolved, err)
	}

	env, err := fromEnv()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.apply(env); err != nil {
		return Config{}, fmt.Errorf("environment: %w", err)
	}
	return cfg, nil
}

func readFile(path string) (fileConfig, error) {
	var raw fileConfig
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return raw, nil
		}
		return raw, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return raw, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return raw, fmt.Errorf("parse config: %w", err)
	}
	return raw, nil
}

func fromEnv() (fileConfig, error) {
	raw := fileConfig{
		Host:       os.Getenv("VIBETABBER_HOST"),
		CDPURL:     os.Getenv("VIBETABBER_CDP_URL"),
		DBPath:     os.Getenv("VIBETABBER_DB"),
		LogDir:     os.Getenv("VIBETABBER_LOG_DIR"),
		WriteDelay: os.Getenv("VIBETABBER_WRITE_DELAY"),
	}
	if v := strings.TrimSpace(os.Getenv("VIBETABBER_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return raw, fmt.Errorf("VIBETABBER_PORT: %w", err)
		}
		raw.Port = port
	}
	if v := strings.TrimSpace(os.Getenv("VIBETABBER_NEW_TAB_URLS")); v != "" {
		raw.NewTabURLs = strings.Split(v, ",")
	}
	return raw, nil
}

// apply overlays the non-empty fields of raw.
func (c *Config) apply(raw fileConfig) error {
	if v := strings.TrimSpace(raw.Host); v != "" {
		if err := c.SetHost(v); err != nil {
			return err
		}
	}
	if raw.Port != 0 {
		if raw.Port < 0 || raw.Port > 65535 {
			return fmt.Errorf("port %d out of range", raw.Port)
		}
		c.Port = raw.Port
	}
	if v := strings.TrimSpace(raw.CDPURL); v != "" {
		c.CDPURL = v
	}
	if v := strings.TrimSpace(raw.DBPath); v != "" {
		c.DBPath = mustExpand(v)
	}
	if v := strings.TrimSpace(raw.LogDir); v != "" {
		c.LogDir = mustExpand(v)
	}
	if v := strings.TrimSpace(raw.WriteDelay); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("write_delay: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("write_delay must be positive, got %s", d)
		}
		c.WriteDelay = d
	}
	var urls []string
	for _, u := range raw.NewTabURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) > 0 {
		c.NewTabURLs = urls
	}
	return nil
}

// SetHost selects the browser backend.
func (c *Config) SetHost(mode string) error {
	switch mode {
	case HostWebSocket, HostCDP:
		c.Host = mode
		return nil
	}
	return fmt.Errorf("unknown host %q (want %s or %s)", mode, HostWebSocket, HostCDP)
}

// LogPath returns the path of the main log file.
func (c Config) LogPath() string {
	return filepath.Join(c.LogDir, "vibetabber.log")
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
