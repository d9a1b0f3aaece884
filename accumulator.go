package chatstream

import (
	"encoding/json"
	"strings"
)

// Usage reports token consumption for one generation. The upstream sends a
// final usage record near the end of the stream; last write wins.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Citation is a url_citation annotation attributed to generated content.
// Two citations are the same entity iff their URLs are equal ignoring case;
// the first-seen title/content/indices win.
type Citation struct {
	Type       string `json:"type"`
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	Content    string `json:"content,omitempty"`
	StartIndex *int   `json:"start_index,omitempty"`
	EndIndex   *int   `json:"end_index,omitempty"`
}

// CitationTypeURL is the only citation type the pipeline produces.
const CitationTypeURL = "url_citation"

// StreamAccumulator folds upstream chunk fields into the per-request
// summary that becomes the terminal metadata block. It is owned exclusively
// by the event aggregator for the lifetime of one request and is never read
// concurrently with its own mutation.
type StreamAccumulator struct {
	ID               string            `json:"id,omitempty"`
	Usage            *Usage            `json:"usage,omitempty"`
	ReasoningText    string            `json:"reasoning,omitempty"`
	ReasoningDetails []json.RawMessage `json:"reasoning_details,omitempty"`
	Annotations      []Citation        `json:"annotations,omitempty"`

	seen map[string]struct{} // lower-cased citation URLs
}

// NewStreamAccumulator creates an empty accumulator for one request.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{seen: make(map[string]struct{})}
}

// SetID records the upstream-assigned generation id. Last write wins;
// empty ids are ignored.
func (a *StreamAccumulator) SetID(id string) {
	if id != "" {
		a.ID = id
	}
}

// SetUsage overwrites the usage record. Last write wins.
func (a *StreamAccumulator) SetUsage(u Usage) {
	a.Usage = &u
}

// AppendReasoning appends one incremental reasoning delta.
func (a *StreamAccumulator) AppendReasoning(delta string) {
	a.ReasoningText += delta
}

// ReplaceReasoning overwrites the reasoning text with a complete value, as
// sent by upstream variants that deliver reasoning in a terminal message
// field rather than incrementally.
func (a *StreamAccumulator) ReplaceReasoning(text string) {
	a.ReasoningText = text
}

// ReplaceReasoningDetails replaces the structured reasoning blocks
// wholesale. An empty slice is ignored.
func (a *StreamAccumulator) ReplaceReasoningDetails(blocks []json.RawMessage) {
	if len(blocks) > 0 {
		a.ReasoningDetails = blocks
	}
}

// AddCitation inserts c unless a citation with the same URL (compared
// case-insensitively) is already present. Insertion order is preserved.
// Returns true when the annotation list grew.
func (a *StreamAccumulator) AddCitation(c Citation) bool {
	if c.URL == "" {
		return false
	}
	if a.seen == nil {
		a.seen = make(map[string]struct{})
	}
	key := strings.ToLower(c.URL)
	if _, dup := a.seen[key]; dup {
		return false
	}
	a.seen[key] = struct{}{}
	if c.Type == "" {
		c.Type = CitationTypeURL
	}
	a.Annotations = append(a.Annotations, c)
	return true
}
