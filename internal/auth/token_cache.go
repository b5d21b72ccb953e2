package auth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/cache"
)

// TokenCache persists the MSAL token cache to a file so that refresh tokens
// survive between runs. It implements cache.ExportReplace.
type TokenCache struct {
	mu   sync.Mutex
	path string
}

// NewTokenCache returns a cache backed by path. An empty path keeps tokens
// in memory only.
func NewTokenCache(path string) *TokenCache {
	return &TokenCache{path: path}
}

// Path returns the cache file location
func (tc *TokenCache) Path() string {
	return tc.path
}

// Replace loads the file into the MSAL cache
func (tc *TokenCache) Replace(ctx context.Context, u cache.Unmarshaler, _ cache.ReplaceHints) error {
	if tc.path == "" {
		return nil
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()

	data, err := os.ReadFile(tc.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read token cache: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	if err := u.Unmarshal(data); err != nil {
		return fmt.Errorf("failed to parse token cache: %w", err)
	}
	return nil
}

// Export writes the MSAL cache to the file
func (tc *TokenCache) Export(ctx context.Context, m cache.Marshaler, _ cache.ExportHints) error {
	if tc.path == "" {
		return nil
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()

	data, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal token cache: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(tc.path), 0700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	// Write with restricted permissions
	if err := os.WriteFile(tc.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write token cache: %w", err)
	}

	return nil
}

// Clear removes the cache file
func (tc *TokenCache) Clear() error {
	if tc.path == "" {
		return nil
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()

	if err := os.Remove(tc.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove token cache: %w", err)
	}
	return nil
}

// GetDefaultCacheLocation returns the default cache file location
func GetDefaultCacheLocation() string {
	// Use XDG cache directory on Linux/macOS, AppData on Windows
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "xrm-webapi", "msal_cache.json")
	}

	if dir := os.Getenv("APPDATA"); dir != "" { // Windows
		return filepath.Join(dir, "xrm-webapi", "msal_cache.json")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".cache", "xrm-webapi", "msal_cache.json")
}
