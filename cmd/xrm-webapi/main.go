package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/zmcp/xrm-webapi/internal/auth"
	"github.com/zmcp/xrm-webapi/internal/client"
	"github.com/zmcp/xrm-webapi/internal/config"
	"github.com/zmcp/xrm-webapi/internal/debug"
	"github.com/zmcp/xrm-webapi/internal/models"
	xhttp "github.com/zmcp/xrm-webapi/internal/transport/http"
)

var (
	cfg     = config.Default()
	cfgFile string
	app     *session
)

var rootCmd = &cobra.Command{
	Use:   "xrm-webapi",
	Short: "Command line client for the Dataverse / Dynamics 365 Web API",
	Long: `Command line client for the Dataverse / Dynamics 365 Web API (OData v4).

Every command maps to one Web API operation. Settings come from flags,
XRM_* environment variables, a .env file or a config file.

Examples:
  xrm-webapi --url https://org.crm.dynamics.com whoami
  xrm-webapi retrieve accounts 87989176-0887-45d1-93da-4d5f228c10e6 --query '$select=name'
  xrm-webapi retrieve-multiple contacts --query '$filter=lastname eq '\''Smith'\''' --all
  xrm-webapi create accounts --data '{"name":"Contoso"}' --return
  xrm-webapi batch --changeset 'POST:accounts:{"name":"A"}' --get 'contacts?$top=1'`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if app == nil {
			return nil
		}
		return app.Close()
	},
}

// flagKeys maps persistent flag names to their config keys
var flagKeys = map[string]string{
	"url":                "url",
	"api-version":        "api_version",
	"base-url":           "base_url",
	"token":              "token",
	"tenant":             "tenant",
	"client-id":          "client_id",
	"client-secret":      "client_secret",
	"token-cache":        "token_cache",
	"no-browser":         "no_browser",
	"timeout":            "timeout",
	"max-retries":        "max_retries",
	"initial-backoff-ms": "initial_backoff_ms",
	"max-backoff-ms":     "max_backoff_ms",
	"backoff-multiplier": "backoff_multiplier",
	"user-agent":         "user_agent",
	"formatted-values":   "formatted_values",
	"lookup-names":       "lookup_names",
	"nav-props":          "nav_props",
	"page-size":          "page_size",
	"impersonate":        "impersonate",
	"output":             "output",
	"verbose":            "verbose",
	"trace":              "trace",
	"metrics-file":       "metrics_file",
}

func init() {
	// Load .env file if it exists
	godotenv.Load()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (yaml, json or toml)")

	// Service
	flags.String("url", "", "Organization URL, e.g. https://org.crm.dynamics.com (XRM_URL)")
	flags.String("api-version", cfg.APIVersion, "Web API version")
	flags.String("base-url", "", "Full service root, overrides --url and --api-version")

	// Authentication
	flags.String("token", "", "Bearer token to use instead of signing in (XRM_TOKEN)")
	flags.String("tenant", cfg.Tenant, "Azure AD tenant ID or domain")
	flags.String("client-id", cfg.ClientID, "Azure AD application (client) ID")
	flags.String("client-secret", "", "Client secret for the client credentials flow, '-' to prompt")
	flags.String("token-cache", auth.GetDefaultCacheLocation(), "Token cache file, empty to keep tokens in memory")
	flags.Bool("no-browser", false, "Do not open the device code page in a browser")

	// Transport
	flags.Int("timeout", cfg.Timeout, "Per-request timeout in seconds")
	flags.Int("max-retries", cfg.MaxRetries, "Retries for 429 and 5xx answers")
	flags.Int("initial-backoff-ms", cfg.InitialBackoffMs, "First retry delay in milliseconds")
	flags.Int("max-backoff-ms", cfg.MaxBackoffMs, "Largest retry delay in milliseconds")
	flags.Float64("backoff-multiplier", cfg.BackoffMultiplier, "Retry delay growth factor")
	flags.String("user-agent", cfg.UserAgent, "User-Agent header")

	// Request options
	flags.Bool("formatted-values", false, "Include formatted values (Prefer odata.include-annotations)")
	flags.Bool("lookup-names", false, "Include lookup logical names")
	flags.Bool("nav-props", false, "Include associated navigation properties")
	flags.Int("page-size", 0, "Page size (Prefer odata.maxpagesize)")
	flags.String("impersonate", "", "systemuserid to impersonate (MSCRMCallerID)")

	// Output and debugging
	flags.StringP("output", "o", "", "Output format: json, yaml or table (default table on a terminal, json otherwise)")
	flags.BoolP("verbose", "v", false, "Enable debug logging to stderr")
	flags.Bool("trace", false, "Write a JSON trace of every request to a temp file")
	flags.String("metrics-file", "", "Write Prometheus metrics to this file on exit")

	// Bind flags to viper for environment variable and config file support
	for flag, key := range flagKeys {
		viper.BindPFlag(key, flags.Lookup(flag))
	}

	// Set up environment variable mapping
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix("XRM")
	viper.AutomaticEnv()

	rootCmd.AddCommand(
		newRetrieveCmd(),
		newRetrieveMultipleCmd(),
		newCreateCmd(),
		newUpdateCmd(),
		newUpdatePropertyCmd(),
		newDeleteCmd(),
		newDeletePropertyCmd(),
		newAssociateCmd(),
		newDisassociateCmd(),
		newActionCmd(),
		newFunctionCmd(),
		newBatchCmd(),
		newWhoAmICmd(),
		newTokenCmd(),
	)
}

func setup(cmd *cobra.Command, args []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	s, err := newSession(cfg)
	if err != nil {
		return err
	}
	app = s
	return nil
}

// session is the state shared by one command invocation
type session struct {
	cfg      *config.Config
	logger   *log.Logger
	registry *prometheus.Registry
	trace    *debug.TraceLogger
	auth     *auth.AADAuthProvider
	tokens   client.TokenSource
	client   *client.Client
	options  *models.QueryOptions
	printer  *printer
}

func newLogger(w io.Writer, verbose bool) *log.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
		Prefix:          "xrm",
	})
}

func newSession(cfg *config.Config) (*session, error) {
	s := &session{
		cfg:      cfg,
		logger:   newLogger(os.Stderr, cfg.Verbose),
		registry: prometheus.NewRegistry(),
	}

	trace, err := debug.NewTraceLogger(cfg.Trace)
	if err != nil {
		return nil, err
	}
	s.trace = trace
	if cfg.Trace {
		s.logger.Info("trace logging enabled", "file", trace.GetFilename())
	}

	root, err := cfg.ServiceRoot()
	if err != nil {
		return nil, err
	}

	transport, err := xhttp.New(root, xhttp.Options{
		Timeout:   cfg.RequestTimeout(),
		Retry:     cfg.RetryConfig(),
		UserAgent: cfg.UserAgent,
		Logger:    s.logger,
		Metrics:   xhttp.NewMetrics(s.registry),
		Trace:     trace,
	})
	if err != nil {
		return nil, err
	}

	if s.options, err = cfg.QueryOptions(); err != nil {
		return nil, err
	}

	if s.tokens, err = s.tokenSource(root); err != nil {
		return nil, err
	}

	s.client = client.New(transport.BaseURL(), transport)
	s.client.SetTokenSource(s.tokens)
	s.printer = newPrinter(os.Stdout, resolveFormat(cfg.Output, os.Stdout))

	s.logger.Debug("session ready", "service", debug.MaskURL(root), "options", describeOptions(s.options))
	return s, nil
}

func (s *session) tokenSource(root string) (client.TokenSource, error) {
	if s.cfg.Token != "" {
		s.logger.Debug("using bearer token from configuration", "token", debug.MaskToken(s.cfg.Token))
		return client.StaticToken(s.cfg.Token), nil
	}

	secret := s.cfg.ClientSecret
	if secret == "-" {
		var err error
		if secret, err = readSecret("Client secret: "); err != nil {
			return nil, err
		}
	}

	aadConfig := &auth.AADConfig{
		TenantID:      s.cfg.Tenant,
		ClientID:      s.cfg.ClientID,
		ClientSecret:  secret,
		CacheLocation: s.cfg.TokenCache,
	}

	provider, err := auth.NewAADAuthProvider(aadConfig, root, auth.Options{
		Logger:      s.logger,
		Trace:       s.trace,
		OpenBrowser: !s.cfg.NoBrowser,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AAD auth provider: %w", err)
	}

	flow := "device code"
	if s.cfg.UsesClientSecret() {
		flow = "client credentials"
	}
	s.logger.Debug("using Azure AD authentication", "flow", flow, "tenant", aadConfig.TenantID,
		"client_secret", debug.MaskPassword(secret), "scopes", provider.Scopes())

	s.auth = provider
	return provider, nil
}

// Close flushes metrics and the trace file
func (s *session) Close() error {
	var firstErr error
	if s.cfg.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(s.cfg.MetricsFile, s.registry); err != nil {
			s.trace.LogError("write metrics", err, map[string]interface{}{"file": s.cfg.MetricsFile})
			firstErr = fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	if err := s.trace.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func describeOptions(o *models.QueryOptions) string {
	if o == nil {
		return "none"
	}
	return fmt.Sprintf("%+v", *o)
}

func readSecret(prompt string) (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("cannot prompt for a secret: stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	secretBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return strings.TrimSpace(string(secretBytes)), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
