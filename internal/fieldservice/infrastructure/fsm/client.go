// Package fsm is the HTTP client for the field-service-management system.
package fsm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
	"github.com/felixgeelhaar/fieldsync/pkg/observability"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultAPIKeyHeader = "x-api-key"
)

// Config configures the FSM client.
type Config struct {
	BaseURL      string
	APIKey       string
	APIKeyHeader string
	Timeout      time.Duration

	// RatePerSec paces outbound requests. Zero disables pacing.
	RatePerSec float64

	BreakerEnabled     bool
	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration
}

// Client performs authenticated, time-bounded requests against the FSM API.
// Each call resolves fully before returning; nothing is held between calls.
type Client struct {
	baseURL    string
	apiKey     string
	header     string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[json.RawMessage]
	logger     *slog.Logger
	metrics    observability.Metrics
}

// NewClient creates an FSM client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	header := cfg.APIKeyHeader
	if header == "" {
		header = defaultAPIKeyHeader
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		header:     header,
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     logger,
		metrics:    observability.NoopMetrics{},
	}

	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}

	if cfg.BreakerEnabled {
		failures := cfg.BreakerFailures
		if failures == 0 {
			failures = 5
		}
		openTimeout := cfg.BreakerOpenTimeout
		if openTimeout <= 0 {
			openTimeout = 30 * time.Second
		}
		c.breaker = gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
			Name:        "fsm",
			MaxRequests: 1,
			Timeout:     openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			// Rejections the FSM reports deliberately say nothing about its health.
			IsSuccessful: func(err error) bool {
				var ae *domain.ApplicationError
				return err == nil || (errors.As(err, &ae) && ae.StatusCode < http.StatusInternalServerError)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Info("circuit breaker state changed",
					"breaker", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
		})
	}

	return c
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.httpClient = hc
	}
	return c
}

// WithMetrics sets the metrics sink.
func (c *Client) WithMetrics(m observability.Metrics) *Client {
	if m != nil {
		c.metrics = m
	}
	return c
}

// BreakerState returns the circuit breaker state, or "disabled".
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

// do sends one request and returns the unwrapped data payload. A nil payload
// with a nil error means the FSM answered 2xx without a JSON body.
func (c *Client) do(ctx context.Context, op, method, path string, body any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var (
		data json.RawMessage
		err  error
	)
	if c.limiter != nil {
		if werr := c.limiter.Wait(ctx); werr != nil {
			err = &domain.TransportError{Op: op, Timeout: limiterTimeout(ctx, werr), Err: werr}
		}
	}
	if err == nil {
		if c.breaker != nil {
			data, err = c.breaker.Execute(func() (json.RawMessage, error) {
				return c.roundTrip(ctx, op, method, path, body)
			})
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				err = &domain.TransportError{Op: op, Err: err}
			}
		} else {
			data, err = c.roundTrip(ctx, op, method, path, body)
		}
	}

	status := "ok"
	if err != nil {
		status = "error"
		c.logger.Warn("fsm request failed",
			"operation", op,
			"method", method,
			"path", path,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
	}
	c.metrics.Counter(observability.MetricFSMRequests, 1, observability.T("operation", op), observability.T("status", status))
	c.metrics.Timing(observability.MetricFSMDuration, time.Since(start), observability.T("operation", op))
	return data, err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: encode request", op)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: build request", op)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(c.header, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Op: op, Timeout: isTimeout(ctx, err), Err: err}
	}
	defer resp.Body.Close()

	// Read once as text; a non-JSON error body is still a usable answer.
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransportError{Op: op, Timeout: isTimeout(ctx, err), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := envelopeMessage(raw)
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return nil, &domain.ApplicationError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}

	return unwrapEnvelope(op, resp.StatusCode, raw)
}

// unwrapEnvelope strips a {type, data} or {success, data} envelope and turns
// an application-level failure into an ApplicationError.
func unwrapEnvelope(op string, status int, raw []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil, nil
	}
	if trimmed[0] != '{' {
		return json.RawMessage(trimmed), nil
	}

	var env struct {
		Type    *string         `json:"type"`
		Success *bool           `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return json.RawMessage(trimmed), nil
	}

	failed := false
	if env.Type != nil {
		switch strings.ToLower(*env.Type) {
		case "error", "failure", "failed", "fail":
			failed = true
		}
	}
	if env.Success != nil && !*env.Success {
		failed = true
	}
	if failed {
		msg := envelopeMessage(trimmed)
		if msg == "" {
			msg = "request rejected"
		}
		return nil, &domain.ApplicationError{Op: op, StatusCode: status, Message: msg}
	}

	if (env.Type != nil || env.Success != nil) && env.Data != nil {
		if bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
			return nil, nil
		}
		return env.Data, nil
	}
	return json.RawMessage(trimmed), nil
}

// envelopeMessage extracts a message or error string from a JSON body.
func envelopeMessage(raw []byte) string {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	for _, key := range []string{"message", "error", "title"} {
		switch v := body[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if m, ok := v["message"].(string); ok && m != "" {
				return m
			}
		}
	}
	return ""
}

// limiterTimeout treats a limiter refusal as a timeout unless the caller
// canceled. Wait fails early, before ctx expires, when the reservation
// would outlast the deadline.
func limiterTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return false
	}
	_, ok := ctx.Deadline()
	return ok || isTimeout(ctx, err)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
