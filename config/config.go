// Package config loads the YAML file read by the storefinder binary and
// turns it into [storefinder.Option] values.
//
// A full file:
//
//	title: LCBO Store Finder
//	port: 8080
//	stores_url: https://lcboapi.com/stores
//	inventory_url: "https://lcboapi.com/stores/{{.StoreID}}/products/{{.ProductID}}/inventory"
//	headers:
//	  Authorization: Token ${LCBO_API_KEY}
//	timeout: 5s
//	max_concurrency: 8
//	default_location:
//	  latitude: 43.647219
//	  longitude: -79.3789987
//	cache_path: ${STOREFINDER_CACHE:-/var/lib/storefinder/stores.db}
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/storefinder/geo"
	"github.com/jpalmerr/storefinder/internal/fetch"
)

const (
	defaultPort               = 8080
	defaultTimeout            = 10 * time.Second
	defaultMaxConcurrency     = 10
	defaultSessionIdleTimeout = 30 * time.Minute

	minTimeout            = 100 * time.Millisecond
	maxTimeout            = 2 * time.Minute
	minSessionIdleTimeout = time.Minute
)

// Config mirrors storefinder.yaml. Build one with [Load] or [Parse].
type Config struct {
	// Title is the page title. Defaults to "Store Finder" if not set.
	Title string `yaml:"title"`

	// Port defaults to 8080.
	Port int `yaml:"port"`

	// StoresURL returns the full store list. Required; ${VAR} and
	// ${VAR:-default} are expanded.
	StoresURL string `yaml:"stores_url"`

	// InventoryURL is a Go template rendered with {{.StoreID}} and
	// {{.ProductID}}. Required. Supports environment variable substitution.
	InventoryURL string `yaml:"inventory_url"`

	// Headers go out with every upstream request, values env-expanded.
	Headers map[string]string `yaml:"headers"`

	// Timeout bounds each upstream request. Defaults to 10s.
	Timeout Duration `yaml:"timeout"`

	// MaxConcurrency bounds the in-flight inventory requests of one refresh.
	// Defaults to 10.
	MaxConcurrency int `yaml:"max_concurrency"`

	// DefaultLocation is searched from when the user cannot be located.
	// Defaults to Bay and Front, Toronto.
	DefaultLocation *LocationConfig `yaml:"default_location"`

	// CachePath enables the SQLite store list snapshot.
	CachePath string `yaml:"cache_path"`

	// SessionIdleTimeout is how long an unused UI session is kept.
	// Defaults to 30m.
	SessionIdleTimeout Duration `yaml:"session_idle_timeout"`

	// SkipClosedStores excludes stores flagged dead from the search.
	SkipClosedStores bool `yaml:"skip_closed_stores"`

	// LogLevel is one of debug, info, warn or error. Defaults to info.
	LogLevel string `yaml:"log_level"`
}

// Level returns the configured log level.
func (c *Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// LocationConfig is a latitude/longitude pair.
type LocationConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// Location converts l to a [geo.Location].
func (l LocationConfig) Location() geo.Location {
	return geo.Location{Latitude: l.Latitude, Longitude: l.Longitude}
}

// Duration is a time.Duration written in YAML as "5s" or "30m".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern captures the name, the ":-" marker and the fallback of a
// ${NAME:-fallback} reference.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars substitutes environment references in s. A reference with
// no fallback to an unset variable is an error.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		sub := envVarPattern.FindStringSubmatch(match)
		varName := sub[1]
		hasDefault := sub[2] != ""

		if value, ok := os.LookupEnv(varName); ok {
			return value
		}
		if hasDefault {
			return sub[3]
		}
		firstErr = fmt.Errorf("environment variable %q is not set", varName)
		return match
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads path and hands its contents to [Parse].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a config document, fills defaults and validates it.
//
// Environment variables are expanded in the URLs, header values and the
// cache path. Defaults are applied for Port (8080), Timeout (10s),
// MaxConcurrency (10) and SessionIdleTimeout (30m).
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.Timeout == 0 {
		c.Timeout = Duration(defaultTimeout)
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = defaultMaxConcurrency
	}
	if c.SessionIdleTimeout == 0 {
		c.SessionIdleTimeout = Duration(defaultSessionIdleTimeout)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// expandAndValidate resolves env references, then checks URLs and bounds.
func (c *Config) expandAndValidate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	if c.StoresURL == "" {
		return errors.New("stores_url is required")
	}
	expanded, err := expandEnvVars(c.StoresURL)
	if err != nil {
		return fmt.Errorf("stores_url: %w", err)
	}
	c.StoresURL = expanded
	if err := validateHTTPURL(c.StoresURL); err != nil {
		return fmt.Errorf("stores_url: %w", err)
	}

	if c.InventoryURL == "" {
		return errors.New("inventory_url is required")
	}
	expanded, err = expandEnvVars(c.InventoryURL)
	if err != nil {
		return fmt.Errorf("inventory_url: %w", err)
	}
	c.InventoryURL = expanded
	if err := validateHTTPURL(c.InventoryURL); err != nil {
		return fmt.Errorf("inventory_url: %w", err)
	}
	// fail fast before the SDK tries to render an invalid template
	if _, err := fetch.ParseInventoryURL(c.InventoryURL); err != nil {
		return fmt.Errorf("inventory_url: %w", err)
	}

	for k, v := range c.Headers {
		if strings.TrimSpace(k) == "" {
			return errors.New("headers: name cannot be empty")
		}
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("headers[%s]: %w", k, err)
		}
		c.Headers[k] = expanded
	}

	if d := c.Timeout.Duration(); d < minTimeout || d > maxTimeout {
		return fmt.Errorf("timeout must be between %s and %s, got %s", minTimeout, maxTimeout, d)
	}

	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1, got %d", c.MaxConcurrency)
	}

	if c.DefaultLocation != nil {
		if loc := c.DefaultLocation.Location(); !loc.Valid() {
			return fmt.Errorf("default_location: invalid coordinates %s", loc)
		}
	}

	if c.CachePath != "" {
		expanded, err := expandEnvVars(c.CachePath)
		if err != nil {
			return fmt.Errorf("cache_path: %w", err)
		}
		c.CachePath = expanded
	}

	if d := c.SessionIdleTimeout.Duration(); d < minSessionIdleTimeout {
		return fmt.Errorf("session_idle_timeout must be at least %s, got %s", minSessionIdleTimeout, d)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}

	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme == "" {
		return errors.New("url must have a scheme (http:// or https://)")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url must have a host")
	}
	return nil
}
