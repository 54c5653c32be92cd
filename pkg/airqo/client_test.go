package airqo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airqo-platform/heatmap-cli/internal/model"
	"github.com/airqo-platform/heatmap-cli/internal/resilience"
)

func record(city string, lat, lon, pm float64) string {
	return fmt.Sprintf(`{
		"time": "2026-05-02T09:00:00.000Z",
		"pm2_5": {"value": %g, "calibratedValue": null},
		"siteDetails": {
			"city": %q, "country": "Uganda",
			"site_category": {"latitude": %g, "longitude": %g, "category": "Urban Background"}
		}
	}`, pm, city, lat, lon)
}

func page(pages int, records ...string) string {
	body := fmt.Sprintf(`{"success": true, "meta": {"page": 1, "pages": %d, "total": %d}, "measurements": [`, pages, len(records))
	for i, r := range records {
		if i > 0 {
			body += ","
		}
		body += r
	}
	return body + "]}"
}

func fastRetry() Option {
	return WithRetry(resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{fastRetry(), WithRateLimit(1000, 10)}, opts...)
	c, err := NewClient(srv.URL, "test-token", opts...)
	require.NoError(t, err)
	return c
}

func TestMeasurements_FollowsPages(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/devices/measurements", r.URL.Path)
		assert.Equal(t, "test-token", r.URL.Query().Get("token"))
		assert.Equal(t, "2026-05-01T00:00:00Z", r.URL.Query().Get("startTime"))
		assert.Equal(t, "2026-05-02T00:00:00Z", r.URL.Query().Get("endTime"))

		p := r.URL.Query().Get("page")
		seen = append(seen, p)
		n, _ := strconv.Atoi(p)
		_, _ = fmt.Fprint(w, page(3, record("Kampala", 0.3, 32.51, float64(10*n))))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	res, err := c.Measurements(context.Background(), Window{
		Start: time.Date(2026, 5, 1, 3, 0, 0, 0, time.FixedZone("EAT", 3*3600)),
		End:   time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2", "3"}, seen)
	assert.Equal(t, 3, res.Pages)
	require.Len(t, res.Readings, 3)
	assert.Equal(t, model.SensorReading{
		Latitude:  0.3,
		Longitude: 32.51,
		PM25:      10,
		Timestamp: time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC),
		City:      "Kampala",
		Country:   "Uganda",
	}, res.Readings[0])
}

func TestMeasurements_MaxPages(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = fmt.Fprint(w, page(50, record("Jinja", 0.4, 33.2, 12)))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithMaxPages(2))
	res, err := c.Measurements(context.Background(), Window{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, res.Readings, 2)
}

func TestMeasurements_MissingMetaIsSinglePage(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = fmt.Fprintf(w, `{"measurements": [%s]}`, record("Gulu", 2.7, 32.3, 8))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv).Measurements(context.Background(), Window{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Len(t, res.Readings, 1)
}

func TestMeasurements_CustomPath(t *testing.T) {
	var path atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		_, _ = fmt.Fprintf(w, `{"measurements": [%s]}`, record("Gulu", 2.7, 32.3, 8))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv, WithPath("api/v2/devices/readings/map")).Measurements(context.Background(), Window{})
	require.NoError(t, err)
	assert.Equal(t, "/api/v2/devices/readings/map", path.Load())
	assert.Len(t, res.Readings, 1)
}

func TestMeasurements_DropsMalformedRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, page(1,
			record("Kampala", 0.31, 32.58, 40),
			record("Kampala", 0.32, 32.59, 0),
			record("Kampala", 91, 32.58, 40),   // latitude out of range
			record("Kampala", 0.31, 32.58, -3), // negative PM2.5
			record("", 0.31, 32.58, 40),        // no city
			`{"time": "2026-05-02T09:00:00Z", "pm2_5": {"value": 12}}`,
			`{"time": "2026-05-02T09:00:00Z", "pm2_5": {"value": null}, "siteDetails": {"city": "Kampala", "country": "Uganda", "site_category": {"latitude": 0.3, "longitude": 32.5}}}`,
			`{"time": "not a time", "pm2_5": {"value": 3}}`,
			`"just a string"`,
		))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv).Measurements(context.Background(), Window{})
	require.NoError(t, err)
	assert.Len(t, res.Readings, 2)
	assert.Equal(t, 7, res.Dropped)
	assert.Equal(t, 0.0, res.Readings[1].PM25)
}

func TestMeasurements_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprint(w, page(1, record("Mbarara", -0.6, 30.6, 22)))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv).Measurements(context.Background(), Window{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, res.Readings, 1)
}

func TestMeasurements_PermanentStatusIsFetchError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message":"invalid token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv).Measurements(context.Background(), Window{})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, model.ErrFetch))
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestMeasurements_ExhaustedRetriesIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Measurements(context.Background(), Window{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrFetch))
}

func TestMeasurements_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := resilience.BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour, Counts: resilience.IsTransient}
	c := newTestClient(t, srv, WithBreaker(resilience.NewCircuitBreaker(cfg)))

	_, err := c.Measurements(context.Background(), Window{})
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load(), "third attempt rejected by the open breaker")
	assert.Contains(t, err.Error(), "circuit breaker is open")
}

func TestMeasurements_BadJSONIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `<html>maintenance</html>`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Measurements(context.Background(), Window{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrFetch))
}

func TestNewClient_Configuration(t *testing.T) {
	_, err := NewClient(DefaultBaseURL, "  ")
	assert.True(t, errors.Is(err, model.ErrConfiguration))

	_, err = NewClient("not a url", "tok")
	assert.True(t, errors.Is(err, model.ErrConfiguration))

	c, err := NewClient("", "tok")
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
}
