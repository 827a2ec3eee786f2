package cfg

import (
	"flag"
	"math"
	"strings"
	"testing"
	"time"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		APITokens:             "alice:test-token-123",
		LocalUser:             "Alice Analyst",
		BrowserURL:            "http://127.0.0.1:9222",
		CaseURLPrefix:         "https://cases.example.com/case/",
		DebounceMillis:        500,
		IPInfoEndpoint:        "https://ipinfo.io",
		EnrichRateRPS:         5,
		EnrichCacheTTL:        24 * time.Hour,
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.BrowserURL != "http://127.0.0.1:9222" {
		t.Errorf("BrowserURL = %q, want %q", c.BrowserURL, "http://127.0.0.1:9222")
	}
	if c.DebounceMillis != 500 {
		t.Errorf("DebounceMillis = %d, want 500", c.DebounceMillis)
	}
	if c.EnrichCacheTTL != 24*time.Hour {
		t.Errorf("EnrichCacheTTL = %s, want 24h", c.EnrichCacheTTL)
	}
	if c.EnrichRateRPS != 5 {
		t.Errorf("EnrichRateRPS = %g, want 5", c.EnrichRateRPS)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-local-user", "Bob Responder",
		"-api-tokens", "bob:tok",
		"-debounce-ms", "250",
		"-enrich-cache-ttl", "2h",
		"-enrich-rate-rps", "0.5",
		"-redis-url", "redis://cache:6379/0",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 120 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 120", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.LocalUser != "Bob Responder" {
		t.Errorf("LocalUser = %q, want %q", c.LocalUser, "Bob Responder")
	}
	if c.APITokens != "bob:tok" {
		t.Errorf("APITokens = %q, want %q", c.APITokens, "bob:tok")
	}
	if got := c.DebounceQuiet(); got != 250*time.Millisecond {
		t.Errorf("DebounceQuiet() = %s, want 250ms", got)
	}
	if c.EnrichCacheTTL != 2*time.Hour {
		t.Errorf("EnrichCacheTTL = %s, want 2h", c.EnrichCacheTTL)
	}
	if c.EnrichRateRPS != 0.5 {
		t.Errorf("EnrichRateRPS = %g, want 0.5", c.EnrichRateRPS)
	}
	if c.RedisURL != "redis://cache:6379/0" {
		t.Errorf("RedisURL = %q", c.RedisURL)
	}
}

func TestCredentials(t *testing.T) {
	t.Parallel()

	c := validBase()
	c.APITokens = "alice:a1, bob:b2"
	creds := c.Credentials()
	if len(creds) != 2 {
		t.Fatalf("len(creds) = %d, want 2", len(creds))
	}
	if creds[1].Operator != "bob" || creds[1].Token != "b2" {
		t.Errorf("creds[1] = %+v, want bob/b2", creds[1])
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	with := func(mut func(*Config)) Config {
		c := validBase()
		mut(&c)
		return c
	}

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "defaults are valid",
			cfg:     validBase(),
			wantErr: false,
		},
		{
			name: "minimum valid values",
			cfg: with(func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 1, 2, 1
				c.DebounceMillis = 50
				c.EnrichCacheTTL = time.Minute
			}),
			wantErr: false,
		},
		{
			name: "maximum valid values",
			cfg: with(func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 299, 300, 65535
				c.DebounceMillis = 10000
			}),
			wantErr: false,
		},
		{
			name:    "optional backends set",
			cfg:     with(func(c *Config) { c.RedisURL = "rediss://cache:6380"; c.DatabaseURL = "postgres://db/caseinv" }),
			wantErr: false,
		},
		{
			name:    "bare token gets default operator",
			cfg:     with(func(c *Config) { c.APITokens = "just-a-token" }),
			wantErr: false,
		},
		// Drain and shutdown budgets
		{
			name:      "drain zero",
			cfg:       with(func(c *Config) { c.DrainSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			cfg:       with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 301, 302 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget equal to drain",
			cfg:       with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 60, 60 }),
			wantErr:   true,
			errSubstr: []string{"must be greater than DRAIN_SECONDS"},
		},
		{
			name:      "port zero",
			cfg:       with(func(c *Config) { c.APIPort = 0 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "port above max",
			cfg:       with(func(c *Config) { c.APIPort = 65536 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		// Operator identity
		{
			name:      "no api tokens",
			cfg:       with(func(c *Config) { c.APITokens = " , " }),
			wantErr:   true,
			errSubstr: []string{"API_TOKENS is required"},
		},
		{
			name:      "token without operator",
			cfg:       with(func(c *Config) { c.APITokens = "alice:a1,:b2" }),
			wantErr:   true,
			errSubstr: []string{"API_TOKENS entry 2"},
		},
		{
			name:      "operator without token",
			cfg:       with(func(c *Config) { c.APITokens = "alice:" }),
			wantErr:   true,
			errSubstr: []string{"API_TOKENS entry 1"},
		},
		{
			name:      "blank local user",
			cfg:       with(func(c *Config) { c.LocalUser = "   " }),
			wantErr:   true,
			errSubstr: []string{"LOCAL_USER"},
		},
		// Page attachment
		{
			name:      "browser url wrong scheme",
			cfg:       with(func(c *Config) { c.BrowserURL = "ftp://127.0.0.1:9222" }),
			wantErr:   true,
			errSubstr: []string{"BROWSER_URL"},
		},
		{
			name:    "browser websocket url",
			cfg:     with(func(c *Config) { c.BrowserURL = "ws://127.0.0.1:9222/devtools/browser/abc" }),
			wantErr: false,
		},
		{
			name:      "missing case url prefix",
			cfg:       with(func(c *Config) { c.CaseURLPrefix = "" }),
			wantErr:   true,
			errSubstr: []string{"CASE_URL_PREFIX"},
		},
		{
			name:      "debounce too short",
			cfg:       with(func(c *Config) { c.DebounceMillis = 10 }),
			wantErr:   true,
			errSubstr: []string{"DEBOUNCE_MS"},
		},
		// Enrichment
		{
			name:      "ipinfo endpoint without host",
			cfg:       with(func(c *Config) { c.IPInfoEndpoint = "https://" }),
			wantErr:   true,
			errSubstr: []string{"IPINFO_ENDPOINT"},
		},
		{
			name:      "zero rate",
			cfg:       with(func(c *Config) { c.EnrichRateRPS = 0 }),
			wantErr:   true,
			errSubstr: []string{"ENRICH_RATE_RPS"},
		},
		{
			name:      "cache ttl too short",
			cfg:       with(func(c *Config) { c.EnrichCacheTTL = 30 * time.Second }),
			wantErr:   true,
			errSubstr: []string{"ENRICH_CACHE_TTL"},
		},
		{
			name:      "redis url wrong scheme",
			cfg:       with(func(c *Config) { c.RedisURL = "http://cache:6379" }),
			wantErr:   true,
			errSubstr: []string{"REDIS_URL"},
		},
		{
			name:      "negative slow query threshold",
			cfg:       with(func(c *Config) { c.SlowQueryMillis = -1 }),
			wantErr:   true,
			errSubstr: []string{"SLOW_QUERY_MS"},
		},
		// Multiple errors reported together
		{
			name:      "zero config",
			cfg:       Config{},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT", "API_TOKENS", "LOCAL_USER", "BROWSER_URL", "CASE_URL_PREFIX", "DEBOUNCE_MS", "IPINFO_ENDPOINT", "ENRICH_RATE_RPS", "ENRICH_CACHE_TTL"},
		},
		// Extreme values
		{
			name: "extreme negative values",
			cfg: with(func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = math.MinInt32, math.MinInt32, math.MinInt32
			}),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate(f *testing.F) {
	// Seeds: defaults, boundaries, extremes
	seeds := []struct {
		drain, budget, port, debounce int
		tokens, user                  string
	}{
		{60, 90, 8080, 500, "alice:tok", "Alice"},
		{1, 2, 1, 50, "a:t", "u"},
		{299, 300, 65535, 10000, "a:t,b:u", "u"},
		{0, 0, 0, 0, "", ""},
		{-1, -1, -1, -1, ":", " "},
		{300, 300, 65535, 500, "a:t", "u"},
		{301, 302, 65536, 10001, "a:", "u"},
		{150, 100, 8080, 500, "a:t", "u"},
		{math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, "", ""},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, "", ""},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.debounce, s.tokens, s.user)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port, debounce int, tokens, user string) {
		c := validBase()
		c.DrainSeconds = drain
		c.ShutdownBudgetSeconds = budget
		c.APIPort = port
		c.DebounceMillis = debounce
		c.APITokens = tokens
		c.LocalUser = user
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		debounceOK := debounce >= 50 && debounce <= 10000
		userOK := strings.TrimSpace(user) != ""

		creds := c.Credentials()
		tokensOK := len(creds) > 0
		for _, cr := range creds {
			if cr.Operator == "" || cr.Token == "" {
				tokensOK = false
			}
		}

		allValid := drainOK && budgetOK && portOK && crossOK && debounceOK && userOK && tokensOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
