package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"homepair-go/internal/auth"
	"homepair-go/internal/metrics"
)

const maxErrorBodySize = 1 << 20

// Client is a typed client for the household API. Its http.Client is
// normally backed by an auth.Coordinator.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *log.Logger
	debug      bool
}

// NewClient creates a Client rooted at baseURL.
func NewClient(baseURL string, httpClient *http.Client, logger *log.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host required", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// SetDebug turns per-request logging on or off.
func (c *Client) SetDebug(debug bool) {
	c.debug = debug
}

// do sends a JSON request and decodes a JSON response into out, if non-nil.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.APIRequestDuration.WithLabelValues(method, "error").Observe(time.Since(start).Seconds())
		var refreshErr *auth.RefreshError
		if errors.As(err, &refreshErr) {
			return fmt.Errorf("%s %s: %w", method, path, refreshErr)
		}
		return &TransportError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	metrics.APIRequestDuration.WithLabelValues(method, statusClass(resp.StatusCode)).Observe(time.Since(start).Seconds())
	if c.debug {
		c.logger.Printf("api: %s %s -> %d (%s, request %s)", method, path, resp.StatusCode, time.Since(start).Round(time.Millisecond), requestID)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if errBody, ok := auth.ParseErrorBody(b); ok && errBody.Message != "" {
		return &AppError{Status: resp.StatusCode, Code: errBody.Code, Message: errBody.Message}
	}
	return &StatusError{Status: resp.StatusCode, Body: string(b)}
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
