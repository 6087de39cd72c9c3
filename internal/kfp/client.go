// SPDX-License-Identifier: AGPL-3.0-or-later

// Package kfp submits compiled pipelines to a Kubeflow Pipelines API server
// through its v1beta1 REST API.
package kfp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/flowd-org/kfpt/internal/logging"
	"github.com/flowd-org/kfpt/internal/observability/tracing"
	"google.golang.org/api/idtoken"
)

// DefaultNamespace is the namespace the API server is installed in when none
// is configured.
const DefaultNamespace = "kubeflow"

// ClientConfig identifies the API server and how to authenticate to it.
type ClientConfig struct {
	// Host is the API server base URL. Empty means the in-cluster service
	// address in Namespace.
	Host string
	// ClientID is the OAuth client id of an Identity-Aware Proxy in front of
	// Host. When set, requests carry an ID token for that audience.
	ClientID string
	// Namespace is the namespace the API server runs in.
	Namespace string
	// OtherClientID and OtherClientSecret are the desktop OAuth client used
	// by interactive logins. They are kept for reporting only.
	OtherClientID     string
	OtherClientSecret string
}

// Client is a high-level client for the pipelines API server.
type Client struct {
	cfg        ClientConfig
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures the Client during construction.
type Option func(*clientConfig) error

type clientConfig struct {
	httpClient *http.Client
	logger     *slog.Logger
	timeout    time.Duration
	now        func() time.Time
}

// DefaultHost returns the in-cluster address of the API server.
func DefaultHost(namespace string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return fmt.Sprintf("http://ml-pipeline.%s.svc.cluster.local:8888", namespace)
}

// NewClient creates a Client for cfg. ctx is only used to build the IAP
// token source.
func NewClient(ctx context.Context, cfg ClientConfig, opts ...Option) (*Client, error) {
	cc := &clientConfig{}
	for _, opt := range opts {
		if err := opt(cc); err != nil {
			return nil, err
		}
	}

	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	baseURL := strings.TrimSuffix(cfg.Host, "/")
	if baseURL == "" {
		baseURL = DefaultHost(cfg.Namespace)
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "https://" + baseURL
	}

	httpClient := cc.httpClient
	if httpClient == nil && cfg.ClientID != "" {
		iap, err := idtoken.NewClient(ctx, cfg.ClientID)
		if err != nil {
			return nil, fmt.Errorf("kfp: iap client for %s: %w", cfg.ClientID, err)
		}
		httpClient = iap
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cc.timeout > 0 {
		httpClient.Timeout = cc.timeout
	}

	logger := cc.logger
	if logger == nil {
		logger = logging.New("kfp")
	}
	now := cc.now
	if now == nil {
		now = time.Now
	}

	return &Client{
		cfg:        cfg,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		now:        now,
	}, nil
}

// WithHTTPClient overrides the default HTTP client, including the IAP one.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithLogger configures structured logging.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *clientConfig) error {
		cfg.logger = l
		return nil
	}
}

// WithTimeout sets a timeout on the HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) error {
		if d < 0 {
			return fmt.Errorf("kfp: negative timeout %s", d)
		}
		cfg.timeout = d
		return nil
	}
}

// WithNow sets the clock used for generated run names.
func WithNow(now func() time.Time) Option {
	return func(cfg *clientConfig) error {
		cfg.now = now
		return nil
	}
}

// BaseURL returns the API server address requests are sent to.
func (c *Client) BaseURL() string { return c.baseURL }

// doJSON executes an HTTP request and decodes the JSON response into dst.
// A non-2xx status is returned as an *APIError.
func (c *Client) doJSON(ctx context.Context, method, path, operation string, body, dst any) (err error) {
	ctx, span := tracing.Start(ctx, "kfp."+strings.ReplaceAll(operation, " ", "_"),
		tracing.String(tracing.AttrHTTPMethod, method))
	defer tracing.End(span, &err)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", operation, err)
		}
		reader = bytes.NewReader(data)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.DebugContext(ctx, "API request", "operation", operation, "method", method, "url", url)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: do request: %w", operation, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(tracing.Int(tracing.AttrHTTPStatus, resp.StatusCode))
	c.logger.DebugContext(ctx, "API response", "operation", operation, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		var status struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &status) == nil {
			switch {
			case status.Error != "":
				msg = status.Error
			case status.Message != "":
				msg = status.Message
			}
		}
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Operation: operation, StatusCode: resp.StatusCode, Message: msg}
	}

	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return fmt.Errorf("%s: decode response: %w", operation, err)
		}
	}
	return nil
}
