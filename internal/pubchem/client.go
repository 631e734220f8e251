// Package pubchem is the HTTP client for the PubChem PUG REST and PUG View
// services: CAS to CID resolution and retrieval of compound data views.
package pubchem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/charmap"

	"toxfetch/internal/logging"
	"toxfetch/internal/metrics"
	"toxfetch/internal/model"
	"toxfetch/internal/util"
)

const (
	DefaultBaseURL   = "https://pubchem.ncbi.nlm.nih.gov/rest/pug"
	DefaultViewURL   = "https://pubchem.ncbi.nlm.nih.gov/rest/pug_view"
	DefaultUserAgent = "toxfetch/1.0"
	DefaultTimeout   = 30 * time.Second

	// maxBodyBytes bounds a single response body read.
	maxBodyBytes = 64 << 20
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the PUG REST root, ViewURL the PUG View root.
	BaseURL string
	ViewURL string

	// UserAgent is sent with every request.
	UserAgent string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// Retry is the policy shared by every request of the run.
	Retry RetryPolicy

	// HTTPClient replaces the default client (for testing).
	HTTPClient *http.Client
}

// DefaultConfig returns a configuration pointing at the public PubChem endpoints.
func DefaultConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		ViewURL:   DefaultViewURL,
		UserAgent: DefaultUserAgent,
		Timeout:   DefaultTimeout,
		Retry:     DefaultRetryPolicy(),
	}
}

// Client is the run-scoped PubChem session. One Client owns one connection
// pool, shared by every concurrent request; Close releases it.
type Client struct {
	httpClient *http.Client
	baseURL    string
	viewURL    string
	userAgent  string
	retry      RetryPolicy
	sleep      sleepFunc
	logger     zerolog.Logger
}

// New creates a new PubChem client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ViewURL == "" {
		cfg.ViewURL = DefaultViewURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		}
	}
	return &Client{
		httpClient: hc,
		baseURL:    trimSlash(cfg.BaseURL),
		viewURL:    trimSlash(cfg.ViewURL),
		userAgent:  cfg.UserAgent,
		retry:      cfg.Retry.normalized(),
		sleep:      sleepContext,
		logger:     logging.Component("pubchem"),
	}
}

// Close releases the idle connections of the session. Safe to call more than once.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// fault is the error envelope PUG REST returns with non-200 responses.
type fault struct {
	Fault *struct {
		Code    string   `json:"Code"`
		Message string   `json:"Message"`
		Details []string `json:"Details"`
	} `json:"Fault"`
}

// get performs a GET with the shared retry policy and returns the decoded body.
func (c *Client) get(ctx context.Context, view model.ViewType, rawURL string) ([]byte, error) {
	var body []byte
	err := c.retryWithBackoff(ctx, func(attempt int) error {
		b, err := c.attempt(ctx, view, rawURL)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// attempt sends one request and classifies the outcome.
func (c *Client) attempt(ctx context.Context, view model.ViewType, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{View: view, URL: rawURL, Class: ErrorClassClient, Message: "create request", Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.RequestDuration.WithLabelValues(string(view)).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctxErr)
		}
		metrics.RequestsTotal.WithLabelValues(string(view), "network_error").Inc()
		c.logger.Warn().Err(err).Str("view", string(view)).Msg("HTTP request failed")
		return nil, &FetchError{View: view, URL: rawURL, Class: ErrorClassNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	metrics.RequestsTotal.WithLabelValues(string(view), strconv.Itoa(resp.StatusCode)).Inc()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{View: view, URL: rawURL, StatusCode: resp.StatusCode, Class: ErrorClassNetwork, Message: "read body: " + err.Error()}
	}
	body := decodeBody(raw)

	if resp.StatusCode == http.StatusOK {
		return body, nil
	}

	class := classify(resp.StatusCode, body)
	msg := faultMessage(body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	fe := &FetchError{View: view, URL: rawURL, StatusCode: resp.StatusCode, Class: class, Message: msg}
	if resp.StatusCode == http.StatusNotFound {
		fe.Err = ErrNotFound
	}

	c.logger.Warn().
		Str("view", string(view)).
		Int("status", resp.StatusCode).
		Str("error_class", string(class)).
		Str("body", util.Snippet(body)).
		Msg("PubChem request error")
	return nil, fe
}

// classify maps a non-200 response onto an error class.
func classify(status int, body []byte) ErrorClass {
	switch {
	case status == http.StatusAccepted:
		return ErrorClassProcessing
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status == http.StatusServiceUnavailable && bytes.Contains(body, []byte("ServerBusy")):
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	case status >= 400:
		return ErrorClassClient
	default:
		// Other 2xx/3xx statuses carry no usable body for us; treat as server side.
		return ErrorClassServer
	}
}

// faultMessage extracts the PUG REST fault message, if any.
func faultMessage(body []byte) string {
	var f fault
	if err := json.Unmarshal(body, &f); err != nil || f.Fault == nil {
		return ""
	}
	if f.Fault.Message != "" {
		return f.Fault.Message
	}
	return f.Fault.Code
}

// decodeBody returns UTF-8 text, transcoding from ISO-8859-1 when the body is not valid UTF-8.
func decodeBody(raw []byte) []byte {
	if utf8.Valid(raw) {
		return raw
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

func escape(s string) string {
	return url.PathEscape(s)
}
