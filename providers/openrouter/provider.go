// Package openrouter is the upstream-facing stage of the pipeline: it sends
// chat completion requests to OpenRouter's OpenAI-compatible API, decodes
// the SSE event stream despite arbitrary fragmentation, folds it into a
// chatstream.StreamAccumulator, and re-encodes the internal marker format.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/teamcmcbot/chatstream"
)

const providerName = "openrouter"

// Options configures a Provider. Zero values fall back to defaults.
type Options struct {
	// BaseURL overrides the API endpoint (tests, proxies).
	BaseURL string

	// HTTPClient overrides the default client (120s timeout).
	HTTPClient *http.Client

	// Logger receives structured pipeline logs. Defaults to the process-wide
	// standard logger.
	Logger *logrus.Logger

	// MaxAttempts is the non-streaming retry ceiling, counting the first
	// attempt. Defaults to 3.
	MaxAttempts int

	// RetryBase is the first backoff delay for the non-streaming retry
	// machine; subsequent delays double, with jitter. Defaults to 500ms.
	RetryBase time.Duration
}

// Provider talks to OpenRouter's unified API.
//
// The :online suffix enables OpenRouter's built-in web search for
// compatible models; citations come back as url_citation annotations.
// Reasoning-capable models (e.g. moonshotai/kimi-k2-thinking) stream
// incremental reasoning deltas when the reasoning gate is open.
type Provider struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	log         *logrus.Logger
	maxAttempts int
	retryBase   time.Duration
}

// NewProvider creates a new OpenRouter provider with the given API key.
func NewProvider(apiKey string, opts Options) (*Provider, error) {
	if apiKey == "" {
		return nil, chatstream.ErrInvalidAPIKey
	}

	p := &Provider{
		apiKey:      apiKey,
		baseURL:     "https://openrouter.ai/api/v1",
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		log:         logrus.StandardLogger(),
		maxAttempts: 3,
		retryBase:   500 * time.Millisecond,
	}
	if opts.BaseURL != "" {
		p.baseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		p.httpClient = opts.HTTPClient
	}
	if opts.Logger != nil {
		p.log = opts.Logger
	}
	if opts.MaxAttempts > 0 {
		p.maxAttempts = opts.MaxAttempts
	}
	if opts.RetryBase > 0 {
		p.retryBase = opts.RetryBase
	}
	return p, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}

// SupportsModel returns true if this provider supports the given model.
// OpenRouter uses "provider/model" format (e.g. "anthropic/claude-3.5-sonnet").
func (p *Provider) SupportsModel(model string) bool {
	return strings.Contains(model, "/")
}

// newHTTPRequest creates a POST to the chat completions endpoint.
func (p *Provider) newHTTPRequest(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// validateRequest runs the shared request checks for both paths.
func (p *Provider) validateRequest(req *chatstream.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if !p.SupportsModel(req.Model) {
		return &chatstream.ModelError{
			Model:    req.Model,
			Provider: providerName,
			Reason:   "model not supported by OpenRouter (must be in 'provider/model' format)",
			Err:      chatstream.ErrInvalidModel,
		}
	}
	return nil
}

// handleErrorResponse classifies non-success responses from OpenRouter.
func (p *Provider) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	// Try to parse structured error
	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	message := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	switch resp.StatusCode {
	case 401:
		return chatstream.ErrInvalidAPIKey
	case 403:
		return &chatstream.ProviderError{
			Provider:   providerName,
			StatusCode: resp.StatusCode,
			Message:    message,
			Retryable:  false,
			Err:        chatstream.ErrForbidden,
		}
	case 429:
		return &chatstream.ProviderError{
			Provider:   providerName,
			StatusCode: resp.StatusCode,
			Message:    message,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Retryable:  false,
			Err:        chatstream.ErrRateLimited,
		}
	case 404:
		if message == "" {
			message = "model not found on OpenRouter - verify model name at https://openrouter.ai/models"
		}
		return &chatstream.ModelError{
			Provider: providerName,
			Reason:   message,
			Err:      chatstream.ErrInvalidModel,
		}
	default:
		return &chatstream.ProviderError{
			Provider:   providerName,
			StatusCode: resp.StatusCode,
			Message:    message,
			Retryable:  resp.StatusCode >= 500,
			Err:        chatstream.ErrProviderUnavailable,
		}
	}
}

// parseRetryAfter handles the delay-seconds form of the header; the HTTP
// date form is rare enough upstream to ignore.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
