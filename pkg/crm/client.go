// Package crm is the outbound HTTP client for the loyalty CRM sync API.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jwalitptl/pos-sync/pkg/auth"
	"github.com/jwalitptl/pos-sync/pkg/logger"
)

const (
	CustomerPath    = "/api/v1/sync/customer"
	TransactionPath = "/api/v1/sync/transaction"
	HealthPath      = "/api/v1/sync/health"
	CustomersPath   = "/api/sync/customers"

	TenantHeader = "X-Tenant-ID"

	maxBodyBytes = 1 << 20
)

var ErrMissingSecret = auth.ErrMissingSecret

type Config struct {
	BaseURL string
	Secret  string
	// Issuer is the iss claim of outbound tokens.
	Issuer  string
	Timeout time.Duration
	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	tokens  auth.JWTService
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	logger  *logger.Logger
	now     func() time.Time
}

func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("crm base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("crm")

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "crm",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Rejections are the caller's fault and say nothing about CRM health.
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		tokens:  auth.NewJWTService(cfg.Secret, cfg.Issuer, auth.DefaultTTL),
		http:    httpClient,
		cb:      cb,
		logger:  log,
		now:     time.Now,
	}, nil
}

// BaseURL returns the configured CRM root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token mints a short-lived HS256 token scoped to tenantID.
func (c *Client) Token(tenantID string) (string, error) {
	return c.tokens.GenerateIntegrationToken(tenantID)
}

// Post sends body as JSON to path on behalf of tenantID. Any status other
// than 200 or 201 is returned as a *StatusError.
func (c *Client) Post(ctx context.Context, tenantID, path string, body interface{}) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal crm payload: %w", err)
	}
	return c.send(ctx, http.MethodPost, tenantID, path, payload)
}

// Get reads path on behalf of tenantID.
func (c *Client) Get(ctx context.Context, tenantID, path string) (*Response, error) {
	return c.send(ctx, http.MethodGet, tenantID, path, nil)
}

func (c *Client) send(ctx context.Context, method, tenantID, path string, payload []byte) (*Response, error) {
	token, err := c.Token(tenantID)
	if err != nil {
		return nil, err
	}

	result, err := c.cb.Execute(func() (interface{}, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set(TenantHeader, tenantID)
		return c.do(req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("crm unavailable: %w", err)
		}
		return nil, err
	}
	return result.(*Response), nil
}

func (c *Client) do(req *http.Request) (*Response, error) {
	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crm request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read crm response: %w", err)
	}

	c.logger.Debug("crm request",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start).String(),
	)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
	}
	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// HealthResult reports CRM reachability.
type HealthResult struct {
	OK         bool            `json:"ok"`
	StatusCode int             `json:"status_code,omitempty"`
	URL        string          `json:"url"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Health calls the unauthenticated health endpoint. It bypasses the
// circuit breaker so operators see the real state.
func (c *Client) Health(ctx context.Context) *HealthResult {
	result := &HealthResult{URL: c.baseURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+HealthPath, nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	resp, err := c.do(req)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			result.StatusCode = statusErr.StatusCode
		}
		result.Error = err.Error()
		return result
	}

	result.OK = true
	result.StatusCode = resp.StatusCode
	if json.Valid(resp.Body) {
		result.Data = resp.Body
	}
	return result
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
