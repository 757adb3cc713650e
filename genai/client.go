// Package genai provides a provider-agnostic client for the enhancement,
// generation, and validation operations, with retry and fallback support.
// It integrates with the model.Registry for endpoint selection and
// circuit-breaker health.
package genai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/c360studio/retouch/model"
)

// maxResponseSize limits the response body to prevent memory exhaustion.
// Image responses arrive base64-encoded, so this is well above the text cap
// a chat client would use.
const maxResponseSize = 32 * 1024 * 1024 // 32MB

// Operation identifies which pipeline phase a request serves. Providers
// use it to pick the wire shape (chat vs. image endpoints).
type Operation string

const (
	OpEnhance  Operation = "enhance"
	OpGenerate Operation = "generate"
	OpValidate Operation = "validate"
)

// Request defines one provider call.
type Request struct {
	// Op selects the operation wire shape.
	Op Operation

	// Prompt is the full prompt text, composed by the caller.
	Prompt string

	// Images are attached in order. Enhancement sends at most one
	// (the reference), generation exactly one (the base image), and
	// validation two (candidate first, then reference).
	Images [][]byte

	// MaxTokens limits response length for text operations. 0 uses the
	// endpoint default.
	MaxTokens int
}

// TokenUsage represents token consumption details for a call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response contains the provider call result.
type Response struct {
	// Text is the generated text, for enhance/validate operations.
	Text string

	// Image holds decoded image bytes, for generate operations.
	Image []byte

	// Locator is a provider-side reference to the image when the API
	// returns one (a URL or object id). Often empty.
	Locator string

	// Model is the actual model that was used.
	Model string

	// Usage contains token consumption metrics when the API reports them.
	Usage TokenUsage

	// FinishReason indicates why generation stopped.
	FinishReason string
}

// Recorder observes provider call outcomes, one observation per HTTP
// attempt. Implementations must be safe for concurrent use. A nil recorder
// disables recording.
type Recorder interface {
	RecordCall(provider string, op Operation, duration time.Duration, err error)
}

// Client is a provider-agnostic client with retry and fallback support.
type Client struct {
	registry    *model.Registry
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger

	// recorder optionally observes per-attempt call outcomes, feeding
	// the metrics collectors. If nil, recording is disabled.
	recorder Recorder
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// WithRecorder sets the call recorder.
func WithRecorder(r Recorder) ClientOption {
	return func(client *Client) {
		client.recorder = r
	}
}

// NewClient creates a new client with the given model registry.
func NewClient(registry *model.Registry, opts ...ClientOption) *Client {
	c := &Client{
		registry:    registry,
		retryConfig: DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // Allow time for image generation
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// CallCapability sends a request through the capability's fallback chain,
// filtered by endpoint health.
func (c *Client) CallCapability(ctx context.Context, cap model.Capability, req *Request) (*Response, error) {
	chain := c.registry.AvailableChain(cap)
	if len(chain) == 0 {
		return nil, fmt.Errorf("no endpoints configured for capability %s", cap)
	}
	return c.CallChain(ctx, chain, req)
}

// CallChain tries each named endpoint in order, retrying transient errors
// per endpoint and falling through to the next on exhaustion. Fatal errors
// stop the chain immediately.
func (c *Client) CallChain(ctx context.Context, chain []string, req *Request) (*Response, error) {
	var lastErr error

	for _, name := range chain {
		endpoint, err := c.registry.Endpoint(name)
		if err != nil {
			c.logger.Debug("No endpoint definition, skipping", "endpoint", name)
			continue
		}

		// Check circuit breaker status
		if !c.registry.IsEndpointAvailable(name) {
			c.logger.Debug("Endpoint circuit open, skipping", "endpoint", name)
			continue
		}

		resp, err := c.tryEndpointWithRetry(ctx, &endpoint, name, req)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		c.logger.Warn("Endpoint failed, trying fallback",
			"endpoint", name,
			"provider", endpoint.Provider,
			"op", req.Op,
			"error", err)

		// Check if error is fatal (non-retryable)
		if IsFatal(err) {
			c.logger.Warn("Fatal error, not trying fallbacks", "error", err)
			return nil, err
		}
	}

	if lastErr == nil {
		return nil, fmt.Errorf("no usable endpoints in chain for %s", req.Op)
	}
	return nil, fmt.Errorf("all endpoints failed for %s: %w", req.Op, lastErr)
}

// tryEndpointWithRetry attempts a request with retry logic.
func (c *Client) tryEndpointWithRetry(ctx context.Context, ep *model.EndpointConfig, endpointName string, req *Request) (*Response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		start := time.Now()
		resp, err := c.doRequest(ctx, ep, req)
		c.recordCall(ep.Provider, req.Op, time.Since(start), err)

		if err == nil {
			// Mark endpoint as healthy on success
			c.registry.MarkEndpointSuccess(endpointName)
			return resp, nil
		}

		lastErr = err

		// Don't retry fatal errors.
		// Fatal errors may indicate config issues, not endpoint health,
		// so don't mark the endpoint unhealthy for auth/bad request errors.
		if IsFatal(err) {
			return nil, err
		}

		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("Request failed, retrying",
				"attempt", attempt,
				"max_attempts", c.retryConfig.MaxAttempts,
				"backoff", backoff,
				"error", err)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				// Continue to retry
			}
		}
	}

	// All retries exhausted - mark endpoint as unhealthy
	c.registry.MarkEndpointFailure(endpointName)

	return nil, lastErr
}

// recordCall reports a call outcome if a recorder is configured.
func (c *Client) recordCall(provider string, op Operation, duration time.Duration, err error) {
	if c.recorder == nil {
		return
	}
	c.recorder.RecordCall(provider, op, duration, err)
}

// calculateBackoff computes exponential backoff duration with jitter.
// Jitter prevents thundering herd when multiple pipelines retry
// simultaneously.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retryConfig.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.retryConfig.BackoffBase) * multiplier)
	if backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}

	// Add jitter: +/- 25% to prevent synchronized retries
	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// doRequest executes a single HTTP request to the provider endpoint.
func (c *Client) doRequest(ctx context.Context, ep *model.EndpointConfig, req *Request) (*Response, error) {
	provider := GetProvider(ep.Provider)
	if provider == nil {
		return nil, NewFatalError(fmt.Errorf("unknown provider: %s", ep.Provider))
	}

	url := provider.BuildURL(ep.URL, req.Op, ep.Model)

	body, contentType, err := provider.BuildRequestBody(ep.Model, req)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	c.logger.Debug("Sending provider request",
		"provider", ep.Provider,
		"model", ep.Model,
		"op", req.Op,
		"url", url,
		"images", len(req.Images))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", contentType)
	provider.SetHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network errors are transient
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	// Read response body with size limit to prevent memory exhaustion
	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	return provider.ParseResponse(req.Op, respBody, ep.Model)
}

// classifyHTTPError determines if an HTTP error is transient or fatal.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("provider API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		// Rate limiting is transient
		return NewTransientError(err)
	case statusCode == http.StatusServiceUnavailable,
		statusCode == http.StatusBadGateway,
		statusCode == http.StatusGatewayTimeout:
		// Server errors are transient
		return NewTransientError(err)
	case statusCode >= 500:
		// Other 5xx errors are transient
		return NewTransientError(err)
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden:
		// Auth errors are fatal
		return NewFatalError(err)
	case statusCode == http.StatusBadRequest:
		// Bad requests are fatal
		return NewFatalError(err)
	default:
		// Unknown errors default to fatal
		return NewFatalError(err)
	}
}
