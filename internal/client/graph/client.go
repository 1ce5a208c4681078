// Package graph wraps the social-graph object lookup service: batch
// retrieval of page/profile records by external object id.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// IDSet is an explicit tagged union of one or many object ids; callers never
// pass untyped single-or-list values.
type IDSet struct {
	ids []string
}

// SingleID wraps one object id.
func SingleID(id string) IDSet {
	return IDSet{ids: []string{id}}
}

// IDList wraps a list of object ids.
func IDList(ids ...string) IDSet {
	return IDSet{ids: ids}
}

// IDs returns the wrapped ids in order.
func (s IDSet) IDs() []string {
	return s.ids
}

// PageLocation is the venue address block embedded in a page record.
type PageLocation struct {
	Street    string   `json:"street"`
	City      string   `json:"city"`
	State     string   `json:"state"`
	Zip       string   `json:"zip"`
	Country   string   `json:"country"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// Record is one graph object. Pages carry a name, an optional location
// block and an optional free-text venue hint.
type Record struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Name     string        `json:"name"`
	Venue    string        `json:"venue,omitempty"`
	Location *PageLocation `json:"location,omitempty"`
}

// LookupError is returned when the service reports a per-id or whole-request
// failure (empty, false or error-tagged response).
type LookupError struct {
	ID      string
	Code    string
	Message string
}

func (e *LookupError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("graph: lookup of %q failed: %s %s", e.ID, e.Code, e.Message)
	}
	return fmt.Sprintf("graph: lookup failed: %s %s", e.Code, e.Message)
}

// Config holds the client settings supplied by the composition root.
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
	MaxRetries  int
}

// Client is an HTTP client for the graph object service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	maxRetries uint64
	logger     zerolog.Logger
}

// NewClient creates a graph client from config.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		token:      cfg.AccessToken,
		maxRetries: uint64(cfg.MaxRetries),
		logger:     logger,
	}
}

// rawEntry distinguishes a record object from the service's false/error
// markers for an individual id.
type rawEntry struct {
	record *Record
	failed bool
}

func (e *rawEntry) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "false" || trimmed == "null" {
		e.failed = true
		return nil
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	e.record = &rec
	return nil
}

// Lookup fetches the given object ids in one batch request and returns the
// records keyed by id. Ids the service reports as empty, false or
// error-tagged are surfaced as a LookupError for the first such id.
func (c *Client) Lookup(ctx context.Context, ids IDSet) (map[string]Record, error) {
	if len(ids.IDs()) == 0 {
		return map[string]Record{}, nil
	}

	vals := url.Values{}
	vals.Set("ids", strings.Join(ids.IDs(), ","))
	if c.token != "" {
		vals.Set("access_token", c.token)
	}
	reqURL := c.baseURL + "?" + vals.Encode()

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("graph: failed to build request: %w", err))
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("graph: request failed: %w", err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("graph: failed to read response: %w", err)
		}
		body = b
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}

	return parseBatch(body, ids)
}

// parseBatch interprets the batch response body. A top-level error object or
// literal false means the whole request failed.
func parseBatch(body []byte, ids IDSet) (map[string]Record, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "false" || trimmed == "null" {
		return nil, &LookupError{Code: "empty_response", Message: "service returned no data"}
	}

	var svcErr struct {
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &svcErr); err == nil && svcErr.Error != nil {
		return nil, &LookupError{Code: svcErr.Error.Type, Message: svcErr.Error.Message}
	}

	var entries map[string]rawEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("graph: failed to decode response: %w", err)
	}

	records := make(map[string]Record, len(entries))
	for _, id := range ids.IDs() {
		entry, ok := entries[id]
		if !ok || entry.failed || entry.record == nil {
			return nil, &LookupError{ID: id, Code: "not_found", Message: "no record in response"}
		}
		records[id] = *entry.record
	}
	return records, nil
}
