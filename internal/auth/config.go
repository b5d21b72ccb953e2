package auth

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/zmcp/xrm-webapi/internal/constants"
	"github.com/zmcp/xrm-webapi/internal/guid"
)

// AADConfig holds Azure AD authentication configuration
type AADConfig struct {
	// TenantID is the Azure AD tenant ID (e.g., "contoso.onmicrosoft.com" or GUID).
	// Use "organizations" for work accounts from any tenant.
	TenantID string

	// ClientID is the application (client) ID from app registration
	ClientID string

	// ClientSecret selects the client credentials flow when set
	ClientSecret string

	// Scopes are the permissions requested (e.g., ["https://org.crm.dynamics.com/.default"])
	Scopes []string

	// CacheLocation is the path for token cache storage (optional)
	CacheLocation string

	// Authority URL (optional, defaults to public cloud)
	Authority string
}

// DefaultAADConfig returns a default AAD configuration
func DefaultAADConfig() *AADConfig {
	return &AADConfig{
		TenantID: constants.DefaultTenant,
		ClientID: constants.DefaultClientID,
		Scopes:   []string{},
	}
}

// Validate checks if the AAD configuration is valid
func (c *AADConfig) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}

	if c.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}

	if _, err := guid.Parse(c.ClientID); err != nil {
		return fmt.Errorf("client ID must be a valid GUID: %w", err)
	}

	if c.ClientSecret != "" && isMultiTenant(c.TenantID) {
		return fmt.Errorf("client credentials flow needs a specific tenant, not %q", c.TenantID)
	}

	return nil
}

// GetAuthority returns the authority URL for the tenant
func (c *AADConfig) GetAuthority() string {
	if c.Authority != "" {
		return c.Authority
	}

	// Default to public cloud
	return fmt.Sprintf("https://login.microsoftonline.com/%s", c.TenantID)
}

// GetDefaultScopes returns the scopes to request for the organization at
// serviceURL. Dataverse accepts <org>/.default for all delegated and
// application permissions.
func (c *AADConfig) GetDefaultScopes(serviceURL string) ([]string, error) {
	if len(c.Scopes) > 0 {
		return c.Scopes, nil
	}

	resource, err := resourceURL(serviceURL)
	if err != nil {
		return nil, err
	}
	return []string{resource + "/.default"}, nil
}

func isMultiTenant(tenant string) bool {
	switch strings.ToLower(tenant) {
	case "common", "organizations", "consumers":
		return true
	}
	return false
}

// resourceURL reduces a service URL to its scheme and host
func resourceURL(serviceURL string) (string, error) {
	u, err := url.Parse(serviceURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%s: %q", constants.ErrInvalidServiceURL, serviceURL)
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + u.Host, nil
}
