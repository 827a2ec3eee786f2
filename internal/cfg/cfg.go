package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/linnemanlabs/caseinv/internal/authmw"
)

// Config adds application-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APITokens             string
	DatabaseURL           string
	SlowQueryMillis       int
	SlackWebhookURL       string
	LocalUser             string
	BrowserURL            string
	CaseURLPrefix         string
	DebounceMillis        int
	IPInfoEndpoint        string
	IPInfoToken           string
	EnrichRateRPS         float64
	EnrichCacheTTL        time.Duration
	RedisURL              string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APITokens, "api-tokens", "", "comma-separated operator:token pairs accepted by the operator API")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for flow records (empty = in-memory store)")
	fs.IntVar(&c.SlowQueryMillis, "slow-query-ms", 0, "log only queries slower than this many milliseconds, failures always logged (0 = log all)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for flow outcome notifications")
	fs.StringVar(&c.LocalUser, "local-user", "", "case-portal display name of the operator this engine acts for")
	fs.StringVar(&c.BrowserURL, "browser-url", "http://127.0.0.1:9222", "Chrome DevTools endpoint of the browser showing the case portal")
	fs.StringVar(&c.CaseURLPrefix, "case-url-prefix", "", "URL prefix identifying the case portal tab to attach to")
	fs.IntVar(&c.DebounceMillis, "debounce-ms", 500, "quiet period after page changes before affordances are re-evaluated (50..10000)")
	fs.StringVar(&c.IPInfoEndpoint, "ipinfo-endpoint", "https://ipinfo.io", "ipinfo-compatible address enrichment endpoint")
	fs.StringVar(&c.IPInfoToken, "ipinfo-token", "", "ipinfo API token")
	fs.Float64Var(&c.EnrichRateRPS, "enrich-rate-rps", 5, "maximum enrichment requests per second (> 0)")
	fs.DurationVar(&c.EnrichCacheTTL, "enrich-cache-ttl", 24*time.Hour, "how long enrichment results are cached (>= 1m)")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis URL for the shared enrichment cache (empty = in-process cache)")
}

// Credentials returns the parsed operator API credentials.
func (c *Config) Credentials() []authmw.Credential {
	return authmw.ParseCredentials(c.APITokens)
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Operator API is never served unauthenticated
	creds := c.Credentials()
	if len(creds) == 0 {
		errs = append(errs, errors.New("API_TOKENS is required"))
	}
	for i, cr := range creds {
		if cr.Operator == "" || cr.Token == "" {
			errs = append(errs, fmt.Errorf("API_TOKENS entry %d must be operator:token", i+1))
		}
	}

	if c.SlowQueryMillis < 0 {
		errs = append(errs, fmt.Errorf("invalid SLOW_QUERY_MS %d (must be >= 0)", c.SlowQueryMillis))
	}

	// Governor needs to know who "me" is
	if strings.TrimSpace(c.LocalUser) == "" {
		errs = append(errs, errors.New("LOCAL_USER is required"))
	}

	if err := checkURL("BROWSER_URL", c.BrowserURL, "http", "https", "ws", "wss"); err != nil {
		errs = append(errs, err)
	}
	if c.CaseURLPrefix == "" {
		errs = append(errs, errors.New("CASE_URL_PREFIX is required"))
	}
	if c.DebounceMillis < 50 || c.DebounceMillis > 10000 {
		errs = append(errs, fmt.Errorf("invalid DEBOUNCE_MS %d (must be 50..10000)", c.DebounceMillis))
	}

	// Enrichment
	if err := checkURL("IPINFO_ENDPOINT", c.IPInfoEndpoint, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if c.EnrichRateRPS <= 0 {
		errs = append(errs, fmt.Errorf("invalid ENRICH_RATE_RPS %g (must be > 0)", c.EnrichRateRPS))
	}
	if c.EnrichCacheTTL < time.Minute {
		errs = append(errs, fmt.Errorf("invalid ENRICH_CACHE_TTL %s (must be >= 1m)", c.EnrichCacheTTL))
	}
	if c.RedisURL != "" {
		if err := checkURL("REDIS_URL", c.RedisURL, "redis", "rediss"); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// DebounceQuiet returns the debounce window as a duration.
func (c *Config) DebounceQuiet() time.Duration {
	return time.Duration(c.DebounceMillis) * time.Millisecond
}

func checkURL(name, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q (scheme must be one of %s)", name, raw, strings.Join(schemes, ", "))
}
