// Package airqo fetches PM2.5 measurements from the AirQo devices API.
package airqo

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/airqo-platform/heatmap-cli/internal/model"
	"github.com/airqo-platform/heatmap-cli/internal/resilience"
)

const (
	// DefaultBaseURL is the public AirQo API.
	DefaultBaseURL = "https://api.airqo.net"
	// DefaultMaxPages bounds a single fetch.
	DefaultMaxPages = 100
	// DefaultPath is the windowed, paginated measurements endpoint.
	DefaultPath = "/api/v2/devices/measurements"
)

// Window is the time range of a fetch. Zero bounds are left to the API's defaults.
type Window struct {
	Start time.Time
	End   time.Time
}

// Result is the outcome of a fetch.
type Result struct {
	Readings []model.SensorReading
	// Dropped counts records that failed decoding or validation.
	Dropped int
	Pages   int
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit throttles page requests to r per second with the given burst.
func WithRateLimit(r float64, burst int) Option {
	return func(c *Client) {
		if r > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(r), max(burst, 1))
		}
	}
}

// WithRetry sets the retry policy for page requests.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithBreaker sets the circuit breaker guarding the API.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// WithMaxPages caps the number of pages followed.
func WithMaxPages(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithPath overrides the measurements endpoint path.
func WithPath(path string) Option {
	return func(c *Client) {
		path = strings.TrimSpace(path)
		if path == "" {
			return
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		c.path = path
	}
}

// Client reads measurements from the AirQo API.
type Client struct {
	baseURL  string
	path     string
	token    string
	http     *http.Client
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
	breaker  *resilience.CircuitBreaker
	maxPages int
	validate *validator.Validate
}

// NewClient creates a Client. An empty token is a configuration error.
func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, eris.Wrap(model.ErrConfiguration, "airqo: missing API token")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, eris.Wrapf(model.ErrConfiguration, "airqo: invalid base url %q", baseURL)
	}

	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		path:     DefaultPath,
		token:    token,
		http:     &http.Client{Timeout: 60 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(5), 1),
		retry:    resilience.DefaultRetryConfig(),
		maxPages: DefaultMaxPages,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		cfg := resilience.DefaultBreakerConfig()
		cfg.Counts = resilience.IsTransient
		c.breaker = resilience.NewCircuitBreaker(cfg)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.LogRetries("airqo", "measurements")
	}
	return c, nil
}

// Measurements fetches every page of measurements in w. Malformed records
// are dropped and counted; any request that still fails after retries aborts
// the fetch with model.ErrFetch.
func (c *Client) Measurements(ctx context.Context, w Window) (*Result, error) {
	res := &Result{}
	pages := 1
	for page := 1; page <= pages; page++ {
		body, err := c.fetchPage(ctx, w, page)
		if err != nil {
			return nil, eris.Wrapf(model.ErrFetch, "airqo: page %d: %v", page, err)
		}
		res.Pages++

		if page == 1 && body.Meta != nil && body.Meta.Pages > 1 {
			pages = body.Meta.Pages
			if pages > c.maxPages {
				zap.L().Warn("airqo: truncating fetch",
					zap.Int("pages", pages),
					zap.Int("max_pages", c.maxPages),
				)
				pages = c.maxPages
			}
		}

		for i, raw := range body.Measurements {
			r, err := c.parse(raw)
			if err != nil {
				res.Dropped++
				zap.L().Debug("airqo: dropping measurement",
					zap.Int("page", page),
					zap.Int("index", i),
					zap.Error(err),
				)
				continue
			}
			res.Readings = append(res.Readings, r)
		}
	}

	zap.L().Info("airqo: fetched measurements",
		zap.Int("pages", res.Pages),
		zap.Int("readings", len(res.Readings)),
		zap.Int("dropped", res.Dropped),
	)
	return res, nil
}

func (c *Client) fetchPage(ctx context.Context, w Window, page int) (*pageResponse, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*pageResponse, error) {
		return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*pageResponse, error) {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "airqo: rate limiter")
			}
			return c.get(ctx, w, page)
		})
	})
}

func (c *Client) get(ctx context.Context, w Window, page int) (*pageResponse, error) {
	q := url.Values{}
	q.Set("token", c.token)
	if !w.Start.IsZero() {
		q.Set("startTime", w.Start.UTC().Format(time.RFC3339))
	}
	if !w.End.IsZero() {
		q.Set("endTime", w.End.UTC().Format(time.RFC3339))
	}
	q.Set("page", strconv.Itoa(page))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "airqo: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "airqo: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "airqo: read body"), resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := eris.Errorf("airqo: unexpected status %d: %s", resp.StatusCode, truncate(body, 200))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	var out pageResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "airqo: decode response")
	}
	return &out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
