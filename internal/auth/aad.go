// Package auth acquires Azure AD access tokens for the Dataverse Web API.
// Users sign in with the device code flow; services use a client secret.
package auth

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/confidential"
	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/public"
	"github.com/charmbracelet/log"
	"github.com/pkg/browser"

	"github.com/zmcp/xrm-webapi/internal/debug"
)

// refreshMargin is how long before expiry a cached token is renewed
const refreshMargin = 5 * time.Minute

var openURL = browser.OpenURL

// Options tune an AADAuthProvider. The zero value is usable.
type Options struct {
	Logger      *log.Logger
	Trace       *debug.TraceLogger // traces token endpoint calls
	Prompt      io.Writer          // device code instructions, stderr when nil
	OpenBrowser bool               // open the verification page automatically
	Timeout     time.Duration
}

// AADAuthProvider hands out bearer tokens for one organization. It
// satisfies client.TokenSource and is safe for concurrent use; concurrent
// callers share a single sign-in.
type AADAuthProvider struct {
	config *AADConfig
	scopes []string
	cache  *TokenCache

	publicClient       public.Client
	confidentialClient confidential.Client
	usesSecret         bool

	mu     sync.Mutex
	cached *AADToken

	logger      *log.Logger
	prompt      io.Writer
	openBrowser bool
}

// AADToken represents an AAD access token with metadata
type AADToken struct {
	AccessToken string
	ExpiresAt   time.Time
	Scopes      []string
}

// Valid reports whether the token can still be used for a while
func (t *AADToken) Valid() bool {
	return t != nil && t.AccessToken != "" && t.ExpiresAt.After(time.Now().Add(refreshMargin))
}

// NewAADAuthProvider creates a token provider for the organization at serviceURL
func NewAADAuthProvider(config *AADConfig, serviceURL string, opts Options) (*AADAuthProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AAD configuration: %w", err)
	}

	scopes, err := config.GetDefaultScopes(serviceURL)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	prompt := opts.Prompt
	if prompt == nil {
		prompt = os.Stderr
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	provider := &AADAuthProvider{
		config:      config,
		scopes:      scopes,
		cache:       NewTokenCache(config.CacheLocation),
		logger:      logger,
		prompt:      prompt,
		openBrowser: opts.OpenBrowser,
	}
	httpClient := tracedClient(opts.Trace, timeout)
	logger.Debug("MSAL token cache", "path", provider.cache.Path())

	if config.ClientSecret != "" {
		cred, err := confidential.NewCredFromSecret(config.ClientSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to create client credential: %w", err)
		}
		client, err := confidential.New(config.GetAuthority(), config.ClientID, cred,
			confidential.WithCache(provider.cache),
			confidential.WithHTTPClient(httpClient),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create MSAL client: %w", err)
		}
		provider.confidentialClient = client
		provider.usesSecret = true
		return provider, nil
	}

	client, err := public.New(config.ClientID,
		public.WithAuthority(config.GetAuthority()),
		public.WithCache(provider.cache),
		public.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create MSAL client: %w", err)
	}
	provider.publicClient = client
	return provider, nil
}

// Scopes returns the scopes tokens are requested for
func (a *AADAuthProvider) Scopes() []string {
	return a.scopes
}

// Token returns a valid access token, signing in if needed
func (a *AADAuthProvider) Token(ctx context.Context) (string, error) {
	token, err := a.AcquireToken(ctx)
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// AcquireToken returns the cached token or obtains a new one
func (a *AADAuthProvider) AcquireToken(ctx context.Context) (*AADToken, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cached.Valid() {
		return a.cached, nil
	}

	var (
		token *AADToken
		err   error
	)
	if a.usesSecret {
		token, err = a.authenticateClientCredentials(ctx)
	} else {
		token, err = a.authenticatePublic(ctx)
	}
	if err != nil {
		return nil, err
	}

	a.cached = token
	a.logger.Debug("acquired AAD token", "expires", token.ExpiresAt.Format(time.RFC3339), "token", debug.MaskToken(token.AccessToken))
	return token, nil
}

func (a *AADAuthProvider) authenticateClientCredentials(ctx context.Context) (*AADToken, error) {
	result, err := a.confidentialClient.AcquireTokenSilent(ctx, a.scopes)
	if err == nil {
		a.logger.Debug("acquired AAD token silently")
		return &AADToken{AccessToken: result.AccessToken, ExpiresAt: result.ExpiresOn, Scopes: a.scopes}, nil
	}

	result, err = a.confidentialClient.AcquireTokenByCredential(ctx, a.scopes)
	if err != nil {
		return nil, fmt.Errorf("client credentials authentication failed: %w", err)
	}
	return &AADToken{AccessToken: result.AccessToken, ExpiresAt: result.ExpiresOn, Scopes: a.scopes}, nil
}

func (a *AADAuthProvider) authenticatePublic(ctx context.Context) (*AADToken, error) {
	// Try silent authentication first (uses MSAL cache)
	accounts, err := a.publicClient.Accounts(ctx)
	if err == nil && len(accounts) > 0 {
		result, err := a.publicClient.AcquireTokenSilent(ctx, a.scopes, public.WithSilentAccount(accounts[0]))
		if err == nil {
			a.logger.Debug("acquired AAD token silently", "account", accounts[0].PreferredUsername)
			return &AADToken{AccessToken: result.AccessToken, ExpiresAt: result.ExpiresOn, Scopes: a.scopes}, nil
		}
		a.logger.Debug("silent token acquisition failed", "err", err)
	}

	return a.AuthenticateDeviceCode(ctx)
}

// AuthenticateDeviceCode performs device code flow authentication
func (a *AADAuthProvider) AuthenticateDeviceCode(ctx context.Context) (*AADToken, error) {
	if a.usesSecret {
		return nil, fmt.Errorf("device code flow is not available with a client secret")
	}

	deviceCode, err := a.publicClient.AcquireTokenByDeviceCode(ctx, a.scopes)
	if err != nil {
		return nil, fmt.Errorf("failed to initiate device code flow: %w", err)
	}

	// Display device code to user
	fmt.Fprintln(a.prompt, "\n=== Azure AD Authentication Required ===")
	fmt.Fprintf(a.prompt, "To sign in, use a web browser to open the page %s\n", deviceCode.Result.VerificationURL)
	fmt.Fprintf(a.prompt, "Enter the code: %s\n", deviceCode.Result.UserCode)
	fmt.Fprintln(a.prompt, "Waiting for authentication...")
	fmt.Fprintln(a.prompt, "=========================================")

	if a.openBrowser {
		if err := openURL(deviceCode.Result.VerificationURL); err != nil {
			a.logger.Warn("could not open browser", "err", err)
		}
	}

	// Wait for user to authenticate
	result, err := deviceCode.AuthenticationResult(ctx)
	if err != nil {
		return nil, fmt.Errorf("device code authentication failed: %w", err)
	}

	a.logger.Info("signed in", "account", result.Account.PreferredUsername)
	return &AADToken{AccessToken: result.AccessToken, ExpiresAt: result.ExpiresOn, Scopes: a.scopes}, nil
}

// ClearCache forgets the in-memory token, the signed-in accounts and the
// cache file
func (a *AADAuthProvider) ClearCache(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cached = nil

	if !a.usesSecret {
		accounts, err := a.publicClient.Accounts(ctx)
		if err != nil {
			return err
		}
		for _, account := range accounts {
			if err := a.publicClient.RemoveAccount(ctx, account); err != nil {
				a.logger.Warn("failed to remove account from cache", "account", account.PreferredUsername, "err", err)
			}
		}
	}

	return a.cache.Clear()
}
