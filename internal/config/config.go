package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/zmcp/tap-aptem/internal/constants"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "TAP_APTEM"

// Config holds all configuration options for the tap
type Config struct {
	// Service
	APIToken   string `mapstructure:"api_token"`
	TenantName string `mapstructure:"tenant_name"`
	BaseURL    string `mapstructure:"base_url"` // Overrides the tenant URL
	UserAgent  string `mapstructure:"user_agent"`

	// Replication
	StartDate                time.Time         `mapstructure:"start_date"`
	ReplicationKeys          map[string]string `mapstructure:"replication_keys"`
	ReplicationKeyCandidates []string          `mapstructure:"replication_key_candidates"`

	// Paging
	PageSizes       map[string]int `mapstructure:"page_sizes"`
	DefaultPageSize int            `mapstructure:"default_page_size"`

	// HTTP behaviour
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	RateBurst         int     `mapstructure:"rate_burst"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RequestTimeout    int     `mapstructure:"request_timeout"` // seconds

	ValidateRecords bool `mapstructure:"validate_records"`

	// State persistence
	StateBackend string `mapstructure:"state_backend"`
	StateURI     string `mapstructure:"state_uri"`
}

// ValidationError reports one invalid setting
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]*$`)

var stateBackends = map[string]bool{"": true, "none": true, "file": true, "sqlite": true, "postgres": true}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_token", "")
	v.SetDefault("tenant_name", "")
	v.SetDefault("base_url", "")
	v.SetDefault("user_agent", constants.DefaultUserAgent)
	v.SetDefault("start_date", "")
	v.SetDefault("replication_keys", "")
	v.SetDefault("replication_key_candidates", constants.DefaultReplicationKeyCandidates)
	v.SetDefault("page_sizes", "")
	v.SetDefault("default_page_size", constants.DefaultPageSize)
	v.SetDefault("requests_per_second", constants.DefaultRequestsPerSecond)
	v.SetDefault("rate_burst", constants.DefaultRateBurst)
	v.SetDefault("max_retries", constants.DefaultMaxRetries)
	v.SetDefault("request_timeout", constants.DefaultTimeout)
	v.SetDefault("validate_records", false)
	v.SetDefault("state_backend", "")
	v.SetDefault("state_uri", "")
}

// New returns a viper instance with defaults and environment binding.
// Environment variables are TAP_APTEM_<KEY>, e.g. TAP_APTEM_API_TOKEN.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the JSON config file at path (optional) overlaid with the
// environment, then validates it.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = New()
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stringToTimeHook(),
		jsonStringHook(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := restoreMapKeys(path, cfg); err != nil {
		return nil, err
	}

	cfg.TenantName = strings.TrimSpace(cfg.TenantName)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// restoreMapKeys re-reads the per-stream maps from the file, since viper
// lower-cases nested keys and entity set names are case sensitive.
// Environment values still win.
func restoreMapKeys(path string, cfg *Config) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var raw struct {
		PageSizes       map[string]int    `json:"page_sizes"`
		ReplicationKeys map[string]string `json:"replication_keys"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if _, ok := os.LookupEnv(EnvPrefix + "_PAGE_SIZES"); !ok && raw.PageSizes != nil {
		cfg.PageSizes = raw.PageSizes
	}
	if _, ok := os.LookupEnv(EnvPrefix + "_REPLICATION_KEYS"); !ok && raw.ReplicationKeys != nil {
		cfg.ReplicationKeys = raw.ReplicationKeys
	}
	return nil
}

// ParseStartDate accepts RFC3339 timestamps and plain dates. An empty
// string is the zero time.
func ParseStartDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid start_date %q: want RFC3339 or YYYY-MM-DD", s)
}

func stringToTimeHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(time.Time{}) {
			return data, nil
		}
		return ParseStartDate(data.(string))
	}
}

// jsonStringHook decodes map settings given as JSON text, which is how
// they arrive from environment variables.
func jsonStringHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Map {
			return data, nil
		}
		s := strings.TrimSpace(data.(string))
		if s == "" {
			return map[string]interface{}{}, nil
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, fmt.Errorf("expected a JSON object: %w", err)
		}
		return m, nil
	}
}

// Validate checks every setting and returns all problems together
func (c *Config) Validate() error {
	var errs error
	add := func(field, format string, args ...interface{}) {
		errs = multierr.Append(errs, &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if c.APIToken == "" {
		add("api_token", "is required")
	}

	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("base_url", "must be an absolute http(s) URL, got %q", c.BaseURL)
		}
	} else if c.TenantName == "" {
		add("tenant_name", "is required unless base_url is set")
	} else if !tenantPattern.MatchString(c.TenantName) {
		add("tenant_name", "must be a host label, got %q", c.TenantName)
	}

	if c.DefaultPageSize <= 0 {
		add("default_page_size", "must be positive, got %d", c.DefaultPageSize)
	}
	for set, size := range c.PageSizes {
		if size <= 0 {
			add("page_sizes", "%s must be positive, got %d", set, size)
		}
	}
	if c.RequestsPerSecond < 0 {
		add("requests_per_second", "must not be negative")
	}
	if c.RateBurst < 0 {
		add("rate_burst", "must not be negative")
	}
	if c.MaxRetries < 0 {
		add("max_retries", "must not be negative")
	}
	if c.RequestTimeout <= 0 {
		add("request_timeout", "must be positive, got %d", c.RequestTimeout)
	}

	backend := strings.ToLower(c.StateBackend)
	if !stateBackends[backend] {
		add("state_backend", "must be one of none, file, sqlite, postgres, got %q", c.StateBackend)
	} else if backend != "" && backend != "none" && c.StateURI == "" {
		add("state_uri", "is required for the %s backend", backend)
	}
	return errs
}

// ServiceURL returns the OData service root
func (c *Config) ServiceURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return constants.AptemBaseURL(c.TenantName)
}

// PageSize returns the $top used for an entity set
func (c *Config) PageSize(entitySet string) int {
	return constants.PageSize(entitySet, c.PageSizes, c.DefaultPageSize)
}

// StartTime returns start_date, or nil when unset
func (c *Config) StartTime() *time.Time {
	if c.StartDate.IsZero() {
		return nil
	}
	t := c.StartDate
	return &t
}

// Timeout returns the per-request timeout
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}
