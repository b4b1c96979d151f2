// Package config holds the run configuration: defaults, optional TOML file,
// normalization, and validation. Command-line flags override file values; the
// file override chain is an explicit --config path, then
// ~/.config/bsdl/config.toml, then bsdl.toml in the working directory.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultOutputRoot        = "."
	defaultJobs              = 4
	defaultMaxAttempts       = 3
	defaultBackoffSeconds    = 1.0
	defaultBackoffCapSeconds = 30.0
	defaultCDNBase           = "https://r2cdn.beatsaver.com"

	maxJobs = 64
)

// Config encapsulates every knob a bsdl run recognizes.
type Config struct {
	// OutputRoot is the directory playlist folders are created under.
	OutputRoot string `toml:"output_root"`

	// Jobs is the number of concurrent downloads, 1 to 64.
	Jobs int `toml:"jobs"`

	// MaxAttempts is the number of tries per song before giving up.
	MaxAttempts int `toml:"max_attempts"`

	// BackoffSeconds is the wait before the second attempt; later attempts
	// double it.
	BackoffSeconds float64 `toml:"backoff_seconds"`

	// BackoffCapSeconds bounds any single retry wait.
	BackoffCapSeconds float64 `toml:"backoff_cap_seconds"`

	// CDNBase is the base url song archives are fetched from when a song
	// carries no direct download url.
	CDNBase string `toml:"cdn_base"`

	// UserAgent overrides the User-Agent header on every request. Empty
	// selects the built-in browser-like agent.
	UserAgent string `toml:"user_agent"`

	// Quiet suppresses progress output; the final summary still prints.
	Quiet bool `toml:"quiet"`
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		OutputRoot:        defaultOutputRoot,
		Jobs:              defaultJobs,
		MaxAttempts:       defaultMaxAttempts,
		BackoffSeconds:    defaultBackoffSeconds,
		BackoffCapSeconds: defaultBackoffCapSeconds,
		CDNBase:           defaultCDNBase,
	}
}

// BackoffBase returns the first retry delay as a duration.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffSeconds * float64(time.Second))
}

// BackoffCap returns the retry delay bound as a duration.
func (c *Config) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapSeconds * float64(time.Second))
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/bsdl/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has its path fields expanded and normalized. The second and third
// results report which path was considered and whether a file was found
// there; a missing file is not an error, the defaults apply.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", false, fmt.Errorf("config file not found: %s", expanded)
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("bsdl.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error

	c.OutputRoot = strings.TrimSpace(c.OutputRoot)
	if c.OutputRoot == "" {
		c.OutputRoot = defaultOutputRoot
	}
	if c.OutputRoot, err = expandPath(c.OutputRoot); err != nil {
		return fmt.Errorf("output_root: %w", err)
	}

	c.CDNBase = strings.TrimSpace(c.CDNBase)
	if c.CDNBase == "" {
		c.CDNBase = defaultCDNBase
	}
	c.CDNBase = strings.TrimRight(c.CDNBase, "/")

	c.UserAgent = strings.TrimSpace(c.UserAgent)

	return nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Jobs < 1 || c.Jobs > maxJobs {
		return fmt.Errorf("jobs must be between 1 and %d, have %d", maxJobs, c.Jobs)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be positive, have %d", c.MaxAttempts)
	}
	if c.BackoffSeconds <= 0 {
		return errors.New("backoff_seconds must be positive")
	}
	if c.BackoffCapSeconds <= 0 {
		return errors.New("backoff_cap_seconds must be positive")
	}

	u, err := url.Parse(c.CDNBase)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("cdn_base must be an http(s) url, have %q", c.CDNBase)
	}

	return nil
}

// ExpandPath exposes the config path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
