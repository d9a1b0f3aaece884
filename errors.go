package chatstream

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for common failure modes.
// These can be checked with errors.Is().
var (
	// ErrInvalidAPIKey indicates the API key is missing, malformed, or unauthorized.
	ErrInvalidAPIKey = errors.New("chatstream: invalid API key")

	// ErrForbidden indicates the upstream rejected the request outright (HTTP 403).
	ErrForbidden = errors.New("chatstream: access forbidden")

	// ErrRateLimited indicates the provider's rate limit has been exceeded.
	ErrRateLimited = errors.New("chatstream: rate limit exceeded")

	// ErrInvalidModel indicates the requested model is not supported upstream.
	ErrInvalidModel = errors.New("chatstream: invalid or unsupported model")

	// ErrInvalidRequest indicates the request parameters are invalid.
	ErrInvalidRequest = errors.New("chatstream: invalid request")

	// ErrProviderUnavailable indicates the upstream service is down or unreachable.
	ErrProviderUnavailable = errors.New("chatstream: provider unavailable")

	// ErrEmptyCompletion indicates the provider returned a well-formed response
	// with no content.
	ErrEmptyCompletion = errors.New("chatstream: provider returned empty completion")
)

// ProviderError represents a classified error from the upstream API.
type ProviderError struct {
	Provider   string        // The provider name
	StatusCode int           // HTTP status code (if applicable)
	Message    string        // Error message from the provider
	RetryAfter time.Duration // Parsed Retry-After hint on 429 responses, zero when absent
	Retryable  bool          // Whether this error is potentially retryable
	Err        error         // Wrapped sentinel error (ErrRateLimited, ErrProviderUnavailable, etc.)
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider '%s' error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider '%s' error: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ModelError represents an error related to model validation or availability.
type ModelError struct {
	Model    string // The model that was requested
	Provider string // The provider name
	Reason   string // Human-readable explanation
	Err      error  // Wrapped error (usually ErrInvalidModel)
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model '%s' for provider '%s': %s (%v)", e.Model, e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("model '%s' for provider '%s': %s", e.Model, e.Provider, e.Reason)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// EmptyCompletionError is returned when the non-streaming path exhausts its
// retry budget without ever receiving content. Suggestions lists alternative
// models the caller can offer the user, drawn from the model catalog and
// excluding the model just tried.
type EmptyCompletionError struct {
	Model       string
	Attempts    int
	Suggestions []string
	Err         error
}

func (e *EmptyCompletionError) Error() string {
	msg := fmt.Sprintf("model '%s' returned no content after %d attempts", e.Model, e.Attempts)
	if len(e.Suggestions) > 0 {
		msg += " (alternatives: " + strings.Join(e.Suggestions, ", ") + ")"
	}
	return msg
}

func (e *EmptyCompletionError) Unwrap() error {
	return e.Err
}

// IsRetryable checks if an error is potentially retryable. Rate limits are
// deliberately not retryable here: the retry state machine fails fast on
// them and surfaces the Retry-After hint to the caller instead.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Retryable
	}

	return errors.Is(err, ErrProviderUnavailable)
}

// IsAuthError checks if an error is related to authentication or
// authorization.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrInvalidAPIKey) || errors.Is(err, ErrForbidden) {
		return true
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.StatusCode == 401 || providerErr.StatusCode == 403
	}

	return false
}
