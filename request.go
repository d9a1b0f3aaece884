package chatstream

import "fmt"

// Message is one turn of the normalized conversation produced by the chat
// layer. Role is "system", "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamOptions are the caller-supplied feature gates, resolved by the
// entitlement layer before the pipeline starts. The marker encoder is the
// single authority for these gates; the reassembler forwards whatever the
// encoder emitted without re-checking.
type StreamOptions struct {
	// Reasoning forwards reasoning deltas as __REASONING_CHUNK__ blocks and
	// includes reasoning in the accumulated summary.
	Reasoning bool

	// WebSearch forwards citation batches as __ANNOTATIONS_CHUNK__ blocks.
	WebSearch bool
}

// Request carries everything the pipeline consumes from its collaborators:
// the normalized message list, the model identifier, the token budget from
// the token-accounting layer, the temperature and system prompt resolved
// from the user profile, and the entitlement gates.
type Request struct {
	Model        string
	Messages     []Message
	SystemPrompt string
	Temperature  *float64
	MaxTokens    int
	Options      StreamOptions
}

// Validate checks the request shape before it is sent upstream.
func (r *Request) Validate() error {
	if r.Model == "" {
		return fmt.Errorf("%w: model must not be empty", ErrInvalidRequest)
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", ErrInvalidRequest)
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("%w: max_tokens must not be negative", ErrInvalidRequest)
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("%w: temperature must be between 0 and 2", ErrInvalidRequest)
	}
	return nil
}
