// Package config provides configuration management for contentgraph.
//
// Settings come from a YAML file, then environment variables (optionally
// from a .env file in the working directory) override individual fields.
//
// Config file locations (priority order):
//  1. $CONTENTGRAPH_CONFIG
//  2. ./contentgraph.yaml
//  3. ~/.config/contentgraph/config.yaml
//  4. /etc/contentgraph/config.yaml
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default mounts that inherit the global basic auth
var DefaultFileSystems = []string{"public", "private", "temporary"}

var validate = validator.New()

// Load finds and loads the config file, or returns defaults if none found.
// Environment overrides are applied either way; the result is not
// validated so callers can layer flags on top first.
func Load() (*Config, string, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, "", err
	}

	path := FindConfigPath()
	if path == "" {
		cfg := DefaultConfig()
		if err := cfg.applyEnv(); err != nil {
			return nil, "", err
		}
		return cfg, "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, path, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, path, err
	}

	return cfg, path, nil
}

// Parse decodes YAML and fills in defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.APIBase == "" {
		c.APIBase = "jsonapi"
	}
	if c.DisallowedLinkTypes == nil {
		c.DisallowedLinkTypes = []string{"self", "describedby"}
	}
	if len(c.FileSystems) == 0 {
		for _, name := range DefaultFileSystems {
			c.FileSystems = append(c.FileSystems, FileSystem{Name: name})
		}
	}
	if c.ConcurrentFileRequests == 0 {
		c.ConcurrentFileRequests = 20
	}
	if c.Concurrency.Collections == 0 {
		c.Concurrency.Collections = 4
	}
	if c.OnFetchError == "" {
		c.OnFetchError = FetchErrorAbort
	}
	if c.Files.Dir == "" {
		c.Files.Dir = "./files"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		c.Store.Path = "./contentgraph.db"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":3000"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.File != "" && c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
}

type envBasicAuth struct {
	Username string `env:"CONTENTGRAPH_BASIC_AUTH_USERNAME"`
	Password string `env:"CONTENTGRAPH_BASIC_AUTH_PASSWORD"`
}

// applyEnv overrides fields from the environment
func (c *Config) applyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	var auth envBasicAuth
	if err := env.Parse(&auth); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	if auth.Username != "" {
		c.BasicAuth = &BasicAuth{Username: auth.Username, Password: auth.Password}
	}

	// the store path default depends on the driver, which env may have changed
	c.applyDefaults()
	return nil
}

// Validate checks the config and returns readable field errors
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// FileSystem returns the mount with the given name
func (c *Config) FileSystem(name string) (FileSystem, bool) {
	for _, fs := range c.FileSystems {
		if fs.Name == name {
			return fs, true
		}
	}
	return FileSystem{}, false
}

// MountAuth returns the credentials for a mount: its own, else the global
// basic auth when the mount is configured, else nil
func (c *Config) MountAuth(name string) *BasicAuth {
	fs, ok := c.FileSystem(name)
	if !ok {
		return nil
	}
	if fs.BasicAuth != nil {
		return fs.BasicAuth
	}
	return c.BasicAuth
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	mounts := make([]string, 0, len(c.FileSystems))
	for _, fs := range c.FileSystems {
		mounts = append(mounts, fs.Name)
	}
	summary := fmt.Sprintf("Source: %s/%s\n", strings.TrimRight(c.BaseURL, "/"), c.APIBase)
	summary += fmt.Sprintf("Store: %s, Fetch errors: %s, Concurrency: %d collections / %d files\n",
		c.Store.Driver, c.OnFetchError, c.Concurrency.Collections, c.ConcurrentFileRequests)
	summary += fmt.Sprintf("Disallowed: %s; Mounts: %s", strings.Join(c.DisallowedLinkTypes, ","), strings.Join(mounts, ","))
	return summary
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// formatValidationError formats validation errors into readable messages
func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	msgs := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		msgs = append(msgs, formatFieldError(e))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// formatFieldError formats a single field validation error
func formatFieldError(e validator.FieldError) string {
	field := e.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "url":
		return fmt.Sprintf("%s must be an absolute URL", field)
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
