// Package geocode wraps the upstream free-text geocoding service, turning
// address text into normalized components plus coordinates.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Service status values.
const (
	statusOK          = "OK"
	statusZeroResults = "ZERO_RESULTS"
	statusOverLimit   = "OVER_QUERY_LIMIT"
)

// ThrottleError indicates the upstream quota was exhausted even after
// bounded retries. Batch drivers can detect it with errors.As and abort a
// whole run rather than hammer a capped quota.
type ThrottleError struct {
	Query string
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("geocode: rate limited on query %q", e.Query)
}

// APIError indicates a non-ok, non-throttle service status.
type APIError struct {
	Status string
	Query  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("geocode: service status %q on query %q", e.Status, e.Query)
}

// LatLng is a coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Component is one normalized address component of a geocoding result.
type Component struct {
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
	Types     []string `json:"types"`
}

// Result is a single geocoding result.
type Result struct {
	Types             []string    `json:"types"`
	AddressComponents []Component `json:"address_components"`
	FormattedAddress  string      `json:"formatted_address"`
	Geometry          struct {
		Location LatLng `json:"location"`
	} `json:"geometry"`
}

type response struct {
	Status  string   `json:"status"`
	Results []Result `json:"results"`
}

// Option customizes a single geocoding request. Options are applied to a
// fresh request state per call; they never share mutable defaults.
type Option func(*requestOpts)

type requestOpts struct {
	bounds string
	region string
}

// WithBounds biases results toward the box spanned by the southwest and
// northeast corners.
func WithBounds(sw, ne LatLng) Option {
	return func(o *requestOpts) {
		o.bounds = fmt.Sprintf("%f,%f|%f,%f", sw.Lat, sw.Lng, ne.Lat, ne.Lng)
	}
}

// WithRegion biases results toward the given 2-letter country code.
func WithRegion(cc string) Option {
	return func(o *requestOpts) {
		o.region = cc
	}
}

// Config holds the client settings supplied by the composition root.
type Config struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	ThrottleRetries int
	ThrottleDelay   time.Duration
	RequestsPerSec  float64
}

// Client is an HTTP client for the geocoding service.
type Client struct {
	httpClient      *http.Client
	baseURL         string
	apiKey          string
	throttleRetries int
	throttleDelay   time.Duration
	limiter         *rate.Limiter
	logger          zerolog.Logger
}

// NewClient creates a geocode client from config.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	delay := cfg.ThrottleDelay
	if delay == 0 {
		delay = 2 * time.Second
	}
	qps := cfg.RequestsPerSec
	if qps == 0 {
		qps = 5
	}
	return &Client{
		httpClient:      &http.Client{Timeout: timeout},
		baseURL:         cfg.BaseURL,
		apiKey:          cfg.APIKey,
		throttleRetries: cfg.ThrottleRetries,
		throttleDelay:   delay,
		limiter:         rate.NewLimiter(rate.Limit(qps), 1),
		logger:          logger,
	}
}

// Geocode sends free text to the geocoder and returns the best (first)
// result. No match returns (nil, nil). A rate-limited response is retried a
// bounded number of times with a fixed delay before surfacing as a
// ThrottleError.
func (c *Client) Geocode(ctx context.Context, address string, opts ...Option) (*Result, error) {
	ro := requestOpts{}
	for _, opt := range opts {
		opt(&ro)
	}

	vals := url.Values{}
	vals.Set("address", address)
	if ro.bounds != "" {
		vals.Set("bounds", ro.bounds)
	}
	if ro.region != "" {
		vals.Set("region", ro.region)
	}
	if c.apiKey != "" {
		vals.Set("key", c.apiKey)
	}
	reqURL := c.baseURL + "?" + vals.Encode()

	var parsed response
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("geocode: rate limiter wait: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("geocode: failed to build request: %w", err))
		}

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("geocode: request failed: %w", err)
		}
		defer httpResp.Body.Close()

		if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("geocode: failed to decode response: %w", err))
		}

		if parsed.Status == statusOverLimit {
			c.logger.Warn().Str("address", address).Msg("geocode: over query limit, backing off")
			return &ThrottleError{Query: address}
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.throttleDelay),
			uint64(c.throttleRetries)),
		ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}

	switch parsed.Status {
	case statusOK:
	case statusZeroResults:
		return nil, nil
	default:
		return nil, &APIError{Status: parsed.Status, Query: address}
	}
	if len(parsed.Results) == 0 {
		return nil, nil
	}
	return &parsed.Results[0], nil
}
