package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/zmcp/xrm-webapi/internal/constants"
	"github.com/zmcp/xrm-webapi/internal/guid"
	"github.com/zmcp/xrm-webapi/internal/models"
	xhttp "github.com/zmcp/xrm-webapi/internal/transport/http"
)

// Config holds all configuration options for the xrm-webapi CLI
type Config struct {
	// Service configuration
	URL        string `mapstructure:"url"`         // Organization root, e.g. https://org.crm.dynamics.com
	APIVersion string `mapstructure:"api_version"` // Web API version without the "v"
	BaseURL    string `mapstructure:"base_url"`    // Explicit service root, overrides URL + APIVersion

	// Authentication
	Token        string `mapstructure:"token"`         // Pre-acquired bearer token
	Tenant       string `mapstructure:"tenant"`        // Azure AD tenant ID or domain
	ClientID     string `mapstructure:"client_id"`     // App registration client ID
	ClientSecret string `mapstructure:"client_secret"` // Set for the client credentials flow
	TokenCache   string `mapstructure:"token_cache"`   // Token cache file location
	NoBrowser    bool   `mapstructure:"no_browser"`    // Do not open the device code page

	// Transport
	Timeout           int     `mapstructure:"timeout"` // Seconds
	MaxRetries        int     `mapstructure:"max_retries"`
	InitialBackoffMs  int     `mapstructure:"initial_backoff_ms"`
	MaxBackoffMs      int     `mapstructure:"max_backoff_ms"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
	UserAgent         string  `mapstructure:"user_agent"`

	// Request options
	FormattedValues bool   `mapstructure:"formatted_values"`
	LookupNames     bool   `mapstructure:"lookup_names"`
	NavProps        bool   `mapstructure:"nav_props"`
	PageSize        int    `mapstructure:"page_size"`
	Impersonate     string `mapstructure:"impersonate"` // systemuserid to act as

	// Output and debugging
	Output      string `mapstructure:"output"` // json, yaml or table; empty picks by terminal
	Verbose     bool   `mapstructure:"verbose"`
	Trace       bool   `mapstructure:"trace"`
	MetricsFile string `mapstructure:"metrics_file"` // Prometheus text file written on exit
}

// Default returns a Config with the defaults applied
func Default() *Config {
	return &Config{
		APIVersion:        constants.DefaultAPIVersion,
		Tenant:            constants.DefaultTenant,
		ClientID:          constants.DefaultClientID,
		Timeout:           constants.DefaultTimeout,
		MaxRetries:        3,
		InitialBackoffMs:  100,
		MaxBackoffMs:      10000,
		BackoffMultiplier: 2.0,
		UserAgent:         constants.DefaultUserAgent,
	}
}

// Validate checks the settings every command relies on
func (c *Config) Validate() error {
	if c.URL == "" && c.BaseURL == "" {
		return fmt.Errorf("organization URL is required (--url or XRM_URL)")
	}
	if _, err := c.ServiceRoot(); err != nil {
		return err
	}
	switch c.Output {
	case "", "json", "yaml", "table":
	default:
		return fmt.Errorf("unsupported output format %q (json, yaml or table)", c.Output)
	}
	if c.Impersonate != "" {
		if _, err := guid.Parse(c.Impersonate); err != nil {
			return fmt.Errorf("invalid impersonate id: %w", err)
		}
	}
	if c.PageSize < 0 {
		return fmt.Errorf("page size must not be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	return nil
}

// OrgURL returns the organization root (scheme and host only)
func (c *Config) OrgURL() (string, error) {
	raw := c.URL
	if raw == "" {
		raw = c.BaseURL
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return "", fmt.Errorf("%s: %q", constants.ErrInvalidServiceURL, raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

// ServiceRoot returns the Web API root ending in "/", built as
// <url>/api/data/v<version>/ unless BaseURL is set
func (c *Config) ServiceRoot() (string, error) {
	if c.BaseURL != "" {
		if _, err := c.OrgURL(); err != nil {
			return "", err
		}
		if !strings.HasSuffix(c.BaseURL, "/") {
			return c.BaseURL + "/", nil
		}
		return c.BaseURL, nil
	}

	org, err := c.OrgURL()
	if err != nil {
		return "", err
	}
	version := strings.TrimPrefix(c.APIVersion, "v")
	if version == "" {
		version = constants.DefaultAPIVersion
	}
	return fmt.Sprintf("%s/api/data/v%s/", org, version), nil
}

// QueryOptions returns the request options selected by flags, or nil when
// none is set so that no Prefer header is sent
func (c *Config) QueryOptions() (*models.QueryOptions, error) {
	opts := &models.QueryOptions{
		IncludeFormattedValues:                c.FormattedValues,
		IncludeLookupLogicalNames:             c.LookupNames,
		IncludeAssociatedNavigationProperties: c.NavProps,
		MaxPageSize:                           c.PageSize,
	}
	if c.Impersonate != "" {
		id, err := guid.Parse(c.Impersonate)
		if err != nil {
			return nil, err
		}
		opts.ImpersonateUser = &id
	}
	if *opts == (models.QueryOptions{}) {
		return nil, nil
	}
	return opts, nil
}

// RetryConfig converts the retry settings for the HTTP transport
func (c *Config) RetryConfig() *xhttp.RetryConfig {
	rc := xhttp.DefaultRetryConfig()
	rc.MaxRetries = c.MaxRetries
	if c.InitialBackoffMs > 0 {
		rc.InitialBackoff = time.Duration(c.InitialBackoffMs) * time.Millisecond
	}
	if c.MaxBackoffMs > 0 {
		rc.MaxBackoff = time.Duration(c.MaxBackoffMs) * time.Millisecond
	}
	if c.BackoffMultiplier > 0 {
		rc.BackoffMultiplier = c.BackoffMultiplier
	}
	return rc
}

// RequestTimeout returns the per-attempt HTTP timeout
func (c *Config) RequestTimeout() time.Duration {
	if c.Timeout <= 0 {
		return time.Duration(constants.DefaultTimeout) * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}

// UsesClientSecret reports whether the client credentials flow applies
func (c *Config) UsesClientSecret() bool {
	return c.ClientSecret != ""
}
