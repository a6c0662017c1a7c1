package config

import (
	"time"
)

// Config is the root configuration structure
type Config struct {
	BaseURL     string            `yaml:"base_url" env:"CONTENTGRAPH_BASE_URL" validate:"required,url"`
	APIBase     string            `yaml:"api_base" env:"CONTENTGRAPH_API_BASE" validate:"required"`
	BasicAuth   *BasicAuth        `yaml:"basic_auth,omitempty"`
	BearerToken string            `yaml:"bearer_token,omitempty" env:"CONTENTGRAPH_BEARER_TOKEN"`
	Headers     map[string]string `yaml:"headers,omitempty"`

	// Relation names (API index keys and resource types) that are neither
	// fetched nor linked
	DisallowedLinkTypes []string `yaml:"disallowed_link_types" env:"CONTENTGRAPH_DISALLOWED_LINK_TYPES" envSeparator:","`

	// Per-type query strings appended to the first page URL
	Filters  map[string]string `yaml:"filters,omitempty"`
	Includes map[string]string `yaml:"includes,omitempty"`

	FileSystems            []FileSystem `yaml:"file_systems" validate:"dive"`
	SkipFileDownloads      bool         `yaml:"skip_file_downloads" env:"CONTENTGRAPH_SKIP_FILE_DOWNLOADS"`
	ConcurrentFileRequests int          `yaml:"concurrent_file_requests" env:"CONTENTGRAPH_CONCURRENT_FILE_REQUESTS" validate:"gte=1"`

	Concurrency  ConcurrencyConfig `yaml:"concurrency"`
	OnFetchError FetchErrorPolicy  `yaml:"on_fetch_error" env:"CONTENTGRAPH_ON_FETCH_ERROR" validate:"oneof=abort skip"`

	Files        FilesConfig   `yaml:"files"`
	Store        StoreConfig   `yaml:"store"`
	Server       ServerConfig  `yaml:"server"`
	Webhook      WebhookConfig `yaml:"webhook"`
	Spool        SpoolConfig   `yaml:"spool"`
	PollInterval Duration      `yaml:"poll_interval,omitempty" env:"CONTENTGRAPH_POLL_INTERVAL"`
	Log          LogConfig     `yaml:"log"`
}

// BasicAuth holds HTTP basic credentials
type BasicAuth struct {
	Username string `yaml:"username" env:"CONTENTGRAPH_BASIC_AUTH_USERNAME" validate:"required"`
	Password string `yaml:"password" env:"CONTENTGRAPH_BASIC_AUTH_PASSWORD"`
}

// FileSystem is a file mount ("public", "private", "s3"...). Files on a
// mount are downloaded with the mount's credentials, or with the global
// basic auth when the mount sets none.
type FileSystem struct {
	Name      string     `yaml:"name" validate:"required"`
	URLPrefix string     `yaml:"url_prefix,omitempty"` // matches string-form file URIs
	BasicAuth *BasicAuth `yaml:"basic_auth,omitempty"`
}

// FetchErrorPolicy decides what a failed collection does to a full import
type FetchErrorPolicy string

const (
	FetchErrorAbort FetchErrorPolicy = "abort" // whole import fails, nothing committed
	FetchErrorSkip  FetchErrorPolicy = "skip"  // failed type reported, others committed
)

// ConcurrencyConfig bounds concurrent collection fetches
type ConcurrencyConfig struct {
	Collections int `yaml:"collections" env:"CONTENTGRAPH_CONCURRENT_COLLECTIONS" validate:"gte=1"`
}

// FilesConfig selects where materialized files go
type FilesConfig struct {
	Dir string    `yaml:"dir" env:"CONTENTGRAPH_FILES_DIR"`
	S3  *S3Config `yaml:"s3,omitempty"`
}

// S3Config holds bucket settings for the S3 materializer
type S3Config struct {
	Bucket    string `yaml:"bucket" validate:"required"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	AccessKey string `yaml:"access_key" env:"CONTENTGRAPH_S3_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"CONTENTGRAPH_S3_SECRET_KEY"`
	Prefix    string `yaml:"prefix,omitempty"`
}

// StoreConfig holds graph store settings
type StoreConfig struct {
	Driver string `yaml:"driver" env:"CONTENTGRAPH_STORE_DRIVER" validate:"oneof=memory sqlite"`
	Path   string `yaml:"path" env:"CONTENTGRAPH_STORE_PATH"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr string `yaml:"addr" env:"CONTENTGRAPH_ADDR"`
}

// WebhookConfig holds incremental update endpoint settings
type WebhookConfig struct {
	Secret string `yaml:"secret,omitempty" env:"CONTENTGRAPH_WEBHOOK_SECRET"`
}

// SpoolConfig holds the payload spool directory watched for updates
type SpoolConfig struct {
	Dir string `yaml:"dir,omitempty" env:"CONTENTGRAPH_SPOOL_DIR"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level      string `yaml:"level" env:"CONTENTGRAPH_LOG_LEVEL" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" env:"CONTENTGRAPH_LOG_FORMAT" validate:"oneof=json console"`
	File       string `yaml:"file,omitempty" env:"CONTENTGRAPH_LOG_FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText lets environment overrides use the same format
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
