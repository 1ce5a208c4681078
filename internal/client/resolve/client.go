// Package resolve wraps the upstream fielded place-resolution service, which
// matches partial structured place records against a curated reference
// database and returns ranked candidates.
package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Query holds the non-empty fields sent to the resolve service. Nil pointer
// coordinates are omitted from the request.
type Query struct {
	Name      string
	Address   string
	Town      string
	State     string
	Postcode  string
	Latitude  *float64
	Longitude *float64
}

// IsEmpty reports whether the query carries no fields at all.
func (q Query) IsEmpty() bool {
	return q.Name == "" && q.Address == "" && q.Town == "" && q.State == "" &&
		q.Postcode == "" && q.Latitude == nil && q.Longitude == nil
}

// Candidate is one ranked result from the resolve service. Resolved means
// the service is confident this is the right match.
type Candidate struct {
	UID        string   `json:"uid"`
	Name       string   `json:"name"`
	Address    string   `json:"address"`
	Town       string   `json:"town"`
	State      string   `json:"state"`
	Postcode   string   `json:"postcode"`
	Country    string   `json:"country"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	Similarity float64  `json:"similarity"`
	Resolved   bool     `json:"resolved"`
}

// ServiceError is returned when the resolve service reports a non-ok status.
type ServiceError struct {
	ErrorType string
	Message   string
	Query     Query
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("resolve: service error %q: %s", e.ErrorType, e.Message)
}

type response struct {
	Status    string      `json:"status"`
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Results   []Candidate `json:"results"`
}

// Client is an HTTP client for the fielded resolve service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	maxRetries uint64
	retryDelay time.Duration
	logger     zerolog.Logger
}

// Config holds the client settings supplied by the composition root.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// NewClient creates a resolve client from config.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	delay := cfg.RetryDelay
	if delay == 0 {
		delay = time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		maxRetries: uint64(max(cfg.MaxRetries, 0)),
		retryDelay: delay,
		logger:     logger,
	}
}

// Resolve sends all non-empty query fields to the service and returns the
// top candidate only if the service confidently resolved it. An ambiguous or
// empty response returns (nil, nil).
//
// The service is known to mark an arbitrarily-chosen candidate as resolved
// when several candidates tie at similarity 1.0; in that case the result is
// treated as ambiguous rather than silently picking one.
func (c *Client) Resolve(ctx context.Context, q Query) (*Candidate, error) {
	resp, err := c.request(ctx, q)
	if err != nil {
		return nil, err
	}

	if resp.Status != "ok" {
		return nil, &ServiceError{ErrorType: resp.ErrorType, Message: resp.Message, Query: q}
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}

	perfect := 0
	for _, cand := range resp.Results {
		if cand.Similarity == 1.0 {
			perfect++
		}
	}
	if perfect > 1 {
		resp.Results[0].Resolved = false
	}

	top := resp.Results[0]
	if !top.Resolved {
		c.logger.Debug().Str("name", q.Name).Float64("similarity", top.Similarity).
			Msg("resolve: top candidate not confident, treating as unresolved")
		return nil, nil
	}
	return &top, nil
}

// request performs the HTTP exchange, retrying transient failures with
// exponential backoff before surfacing the terminal error.
func (c *Client) request(ctx context.Context, q Query) (*response, error) {
	vals := url.Values{}
	setIf := func(key, val string) {
		if val != "" {
			vals.Set(key, val)
		}
	}
	setIf("name", q.Name)
	setIf("address", q.Address)
	setIf("town", q.Town)
	setIf("state", q.State)
	setIf("postcode", q.Postcode)
	if q.Latitude != nil {
		vals.Set("latitude", strconv.FormatFloat(*q.Latitude, 'f', -1, 64))
	}
	if q.Longitude != nil {
		vals.Set("longitude", strconv.FormatFloat(*q.Longitude, 'f', -1, 64))
	}
	if c.apiKey != "" {
		vals.Set("key", c.apiKey)
	}

	reqURL := c.baseURL + "?" + vals.Encode()

	var parsed response
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("resolve: failed to build request: %w", err))
		}

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("resolve: request failed: %w", err)
		}
		defer httpResp.Body.Close()

		if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("resolve: failed to decode response: %w", err))
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(c.retryDelay)), c.maxRetries),
		ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return &parsed, nil
}
