// Package enrich resolves network addresses to a coarse location and network
// owner. Lookups never fail: every fault degrades to Unknown so narrative
// generation is never blocked by the third-party service.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	// UnknownValue is reported for any field the lookup could not determine.
	UnknownValue = "Unknown"

	// DefaultEndpoint is the ipinfo API base URL.
	DefaultEndpoint = "https://ipinfo.io"

	httpTimeout = 5 * time.Second
	maxBody     = 64 << 10
)

// Info is the enrichment record used in narratives.
type Info struct {
	Location     string `json:"location"`
	NetworkOwner string `json:"network_owner"`
}

// Unknown is the degraded result.
var Unknown = Info{Location: UnknownValue, NetworkOwner: UnknownValue}

// Outcome labels one lookup for metrics.
type Outcome string

const (
	OutcomeHit         Outcome = "hit"
	OutcomeOK          Outcome = "ok"
	OutcomeError       Outcome = "error"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeBreakerOpen Outcome = "breaker_open"
)

// Hooks receives lookup telemetry. Nil fields are skipped.
type Hooks struct {
	OnLookup func(outcome Outcome, duration float64)
}

// Cache stores successful lookups.
type Cache interface {
	Get(ctx context.Context, address string) (Info, bool, error)
	Set(ctx context.Context, address string, info Info) error
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	Endpoint     string
	Token        string
	RateLimitRPS float64
	Burst        int
	Cache        Cache
	HTTPClient   *http.Client
	Logger       log.Logger
	Hooks        Hooks
}

// Client queries an ipinfo-compatible endpoint.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
	cache      Cache
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     log.Logger
	hooks      Hooks
}

type ipinfoResponse struct {
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country"`
	Org     string `json:"org"`
}

var errIncomplete = errors.New("response missing city, region or country")

// New creates a Client.
func New(opts Options) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: httpTimeout}
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	limit := rate.Inf
	if opts.RateLimitRPS > 0 {
		limit = rate.Limit(opts.RateLimitRPS)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	return &Client{
		endpoint:   strings.TrimRight(opts.Endpoint, "/"),
		token:      opts.Token,
		httpClient: opts.HTTPClient,
		cache:      opts.Cache,
		limiter:    rate.NewLimiter(limit, opts.Burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "enrich",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			// incomplete records count as answers, not failures
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, errIncomplete)
			},
		}),
		logger: opts.Logger,
		hooks:  opts.Hooks,
	}
}

// Lookup resolves address. It always returns a usable Info.
func (c *Client) Lookup(ctx context.Context, address string) Info {
	start := time.Now()
	L := c.logger.With("address", address)

	ip, err := netip.ParseAddr(strings.TrimSpace(address))
	if err != nil {
		L.Warn(ctx, "enrichment skipped, not an ip address")
		c.observe(OutcomeInvalid, start)
		return Unknown
	}
	key := ip.String()

	if c.cache != nil {
		info, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			L.Warn(ctx, "enrichment cache read failed", "error", err)
		} else if ok {
			c.observe(OutcomeHit, start)
			return info
		}
	}

	v, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, key)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			L.Warn(ctx, "enrichment circuit open")
			c.observe(OutcomeBreakerOpen, start)
			return Unknown
		}
		L.Error(ctx, err, "enrichment lookup failed")
		c.observe(OutcomeError, start)
		return Unknown
	}
	info := v.(Info)

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, info); err != nil {
			L.Warn(ctx, "enrichment cache write failed", "error", err)
		}
	}

	L.Info(ctx, "enrichment lookup", "location", info.Location, "network_owner", info.NetworkOwner)
	c.observe(OutcomeOK, start)
	return info
}

func (c *Client) fetch(ctx context.Context, address string) (Info, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Info{}, fmt.Errorf("rate limit wait: %w", err)
	}

	u, err := url.Parse(c.endpoint + "/" + url.PathEscape(address) + "/json")
	if err != nil {
		return Info{}, fmt.Errorf("invalid endpoint: %w", err)
	}
	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return Info{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: endpoint is from trusted config, address is validated as an IP
	if err != nil {
		return Info{}, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Info{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Info{}, fmt.Errorf("enrichment service returned %d: %s", resp.StatusCode, string(body))
	}

	return parse(body)
}

func parse(body []byte) (Info, error) {
	var r ipinfoResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Info{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if r.City == "" || r.Region == "" || r.Country == "" {
		return Info{}, errIncomplete
	}
	owner := r.Org
	if owner == "" {
		owner = UnknownValue
	}
	return Info{
		Location:     fmt.Sprintf("%s, %s, %s", r.City, r.Region, r.Country),
		NetworkOwner: owner,
	}, nil
}

func (c *Client) observe(o Outcome, start time.Time) {
	if c.hooks.OnLookup != nil {
		c.hooks.OnLookup(o, time.Since(start).Seconds())
	}
}
