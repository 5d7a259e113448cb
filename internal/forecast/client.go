// Package forecast looks up projected ward occupancy from the hospital's
// bed management forecast service. Every call is guarded by a circuit
// breaker, and any failure degrades to a constant rate so scoring never
// blocks on the upstream.
package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wardops/go-dde/internal/domain/discharge"
	"github.com/wardops/go-dde/pkg/circuitbreaker"
)

// Config holds forecast client settings.
type Config struct {
	// BaseURL is the root of the forecast service, e.g. http://forecast:8085.
	BaseURL string
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
	// FallbackRate is the occupancy ratio assumed when the service is
	// unreachable or returns garbage.
	FallbackRate float64
}

// DefaultConfig returns client defaults.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		Timeout:      3 * time.Second,
		FallbackRate: discharge.DefaultOccupancyFallback,
	}
}

// Client fetches occupancy projections over HTTP.
type Client struct {
	config     Config
	httpClient *http.Client
	breakers   *circuitbreaker.Manager
	fallbacks  prometheus.Counter
	logger     *zap.Logger
}

// NewClient creates a forecast client. fallbacks may be nil when the
// caller does not track fallback usage.
func NewClient(cfg Config, fallbacks prometheus.Counter, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.FallbackRate <= 0 {
		cfg.FallbackRate = discharge.DefaultOccupancyFallback
	}

	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breakers:   circuitbreaker.NewManager(logger),
		fallbacks:  fallbacks,
		logger:     logger,
	}
}

type occupancyResponse struct {
	Ward      string  `json:"ward"`
	Date      string  `json:"date"`
	Occupancy float64 `json:"occupancy"`
}

// Rate returns the projected occupancy ratio for ward on date. It never
// returns an error: any failure is logged, counted and replaced by the
// fallback rate.
func (c *Client) Rate(ctx context.Context, ward string, date time.Time) float64 {
	breaker, err := c.breakers.GetOrCreate("forecast-"+ward, circuitbreaker.DefaultConfig("forecast-"+ward))
	if err != nil {
		c.logger.Error("create forecast breaker", zap.String("ward", ward), zap.Error(err))
		return c.fallback(ward, date, err)
	}

	result, err := breaker.ExecuteWithFallback(ctx,
		func() (interface{}, error) {
			return c.fetch(ctx, ward, date)
		},
		func(cause error) (interface{}, error) {
			return c.fallback(ward, date, cause), nil
		})
	if err != nil {
		return c.fallback(ward, date, err)
	}

	rate, ok := result.(float64)
	if !ok {
		return c.fallback(ward, date, fmt.Errorf("unexpected result type %T", result))
	}
	return rate
}

// RateRange fetches projections for every day in [from, to].
func (c *Client) RateRange(ctx context.Context, ward string, from, to time.Time) map[string]float64 {
	rates := make(map[string]float64)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		rates[discharge.FormatISODate(d)] = c.Rate(ctx, ward, d)
	}
	return rates
}

// Provider adapts the client to the scoring engine's occupancy lookup.
func (c *Client) Provider(ctx context.Context, ward string) discharge.OccupancyProvider {
	return func(date time.Time) float64 {
		return c.Rate(ctx, ward, date)
	}
}

func (c *Client) fetch(ctx context.Context, ward string, date time.Time) (interface{}, error) {
	endpoint := fmt.Sprintf("%s/api/v1/occupancy?ward=%s&date=%s",
		c.config.BaseURL, url.QueryEscape(ward), discharge.FormatISODate(date))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build forecast request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forecast request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("forecast service returned %d", resp.StatusCode)
	}

	var body occupancyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode forecast response: %w", err)
	}
	if body.Occupancy < 0 || body.Occupancy > 1 {
		return nil, fmt.Errorf("forecast occupancy out of range: %f", body.Occupancy)
	}

	return body.Occupancy, nil
}

func (c *Client) fallback(ward string, date time.Time, cause error) float64 {
	if c.fallbacks != nil {
		c.fallbacks.Inc()
	}
	c.logger.Warn("using occupancy fallback",
		zap.String("ward", ward),
		zap.String("date", discharge.FormatISODate(date)),
		zap.Float64("rate", c.config.FallbackRate),
		zap.Error(cause))
	return c.config.FallbackRate
}

// Breakers exposes breaker health for the readiness endpoint.
func (c *Client) Breakers() *circuitbreaker.Manager {
	return c.breakers
}
