// Package api is the REST client for the storefront backend.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/scamazon/storefront/internal/credentials"
	"github.com/scamazon/storefront/internal/version"
	"github.com/scamazon/storefront/pkg/logger"
	"resty.dev/v3"
)

const (
	// DefaultTimeout bounds a single REST call.
	DefaultTimeout = 15 * time.Second

	headerRequestID = "X-Request-ID"
)

// Client calls the backend REST API with the current bearer token.
type Client struct {
	http   *resty.Client
	tokens credentials.Source
}

// Option configures a Client.
type Option func(*resty.Client)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *resty.Client) {
		if d > 0 {
			c.SetTimeout(d)
		}
	}
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, tokens credentials.Source, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("api: base URL is required")
	}
	if tokens == nil {
		return nil, errors.New("api: credential source is required")
	}

	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(DefaultTimeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", version.UserAgent())
	for _, opt := range opts {
		opt(rc)
	}
	return &Client{http: rc, tokens: tokens}, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.http.Close()
}

// envelope is the response wrapper every endpoint uses.
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// call performs one authenticated request and decodes the envelope's data
// into out (if non-nil).
func (c *Client) call(ctx context.Context, method, path string, prepare func(*resty.Request), out any) error {
	token, err := c.tokens.Token(ctx)
	if err == nil && token == "" {
		err = credentials.ErrNoCredentials
	}
	if err != nil {
		return &Error{Status: http.StatusUnauthorized, Message: "not signed in", Err: err}
	}

	reqID := uuid.NewString()
	req := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader(headerRequestID, reqID)
	if prepare != nil {
		prepare(req)
	}

	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		logger.Warnf("api: %s %s [%s] failed: %v", method, path, reqID, err)
		return networkError(err)
	}

	status := resp.StatusCode()
	body := []byte(resp.String())
	logger.Debugf("api: %s %s [%s] -> %d in %s", method, path, reqID, status, time.Since(start).Round(time.Millisecond))

	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		apiErr := statusError(status, body)
		logger.Warnf("api: %s %s [%s]: %v", method, path, reqID, apiErr)
		return apiErr
	}
	return decodeEnvelope(status, body, out)
}

func decodeEnvelope(status int, body []byte, out any) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		if out == nil {
			return nil
		}
		return &Error{Status: status, Message: "empty response"}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &Error{Status: status, Message: fmt.Sprintf("invalid response: %v", err), Err: err}
	}
	if env.Success != nil && !*env.Success {
		msg := env.Message
		if strings.TrimSpace(msg) == "" {
			msg = extractMessage(body, status)
		}
		return &Error{Status: status, Message: msg}
	}
	if out == nil {
		return nil
	}

	data := env.Data
	if env.Success == nil && len(data) == 0 {
		// Bare payload without the wrapper.
		data = body
	}
	if len(data) == 0 || string(data) == "null" {
		return &Error{Status: status, Message: "response has no data"}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Status: status, Message: fmt.Sprintf("invalid response data: %v", err), Err: err}
	}
	return nil
}
