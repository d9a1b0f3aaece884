package openrouter

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"

	"github.com/teamcmcbot/chatstream"
)

// ChatCompletionRequest represents an OpenRouter chat completion request.
// OpenRouter uses OpenAI-compatible format.
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream"`
}

// Message represents a message in the conversation.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ChatCompletionResponse represents a non-streaming completion response.
type ChatCompletionResponse struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"` // "chat.completion"
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []Choice          `json:"choices"`
	Usage   *chatstream.Usage `json:"usage"`
}

// Choice represents a completion choice in the response.
type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason *string         `json:"finish_reason"` // "stop", "length", "content_filter"
}

// ResponseMessage is the assistant message of a completed choice.
type ResponseMessage struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Reasoning   *string      `json:"reasoning,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// Annotation represents a citation in the response. OpenRouter's :online
// models nest the citation under url_citation; some upstream variants
// inline the same fields flat on the annotation object. Both shapes are
// accepted.
type Annotation struct {
	Type        string       `json:"type"` // "url_citation"
	URLCitation *URLCitation `json:"url_citation,omitempty"`

	// Flat variant fields.
	URL        string `json:"url,omitempty"`
	Title      string `json:"title,omitempty"`
	Content    string `json:"content,omitempty"`
	StartIndex *int   `json:"start_index,omitempty"`
	EndIndex   *int   `json:"end_index,omitempty"`
}

// URLCitation represents a web search result citation.
type URLCitation struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	Content    string `json:"content,omitempty"` // Snippet/excerpt from the page
	StartIndex *int   `json:"start_index,omitempty"`
	EndIndex   *int   `json:"end_index,omitempty"`
}

// toCitation normalizes either annotation shape into the library Citation.
// A candidate is valid only if it yields a non-empty URL.
func (a *Annotation) toCitation() (chatstream.Citation, bool) {
	c := chatstream.Citation{
		Type:       chatstream.CitationTypeURL,
		URL:        a.URL,
		Title:      a.Title,
		Content:    a.Content,
		StartIndex: a.StartIndex,
		EndIndex:   a.EndIndex,
	}
	if a.URLCitation != nil {
		c.URL = a.URLCitation.URL
		c.Title = a.URLCitation.Title
		c.Content = a.URLCitation.Content
		c.StartIndex = a.URLCitation.StartIndex
		c.EndIndex = a.URLCitation.EndIndex
	}
	if c.URL == "" {
		return chatstream.Citation{}, false
	}
	return c, true
}

// buildChatCompletionRequest constructs the upstream request body. The base
// struct carries the OpenAI-compatible core; entitlement-gated extensions
// (reasoning config, the web plugin) are spliced in afterwards so the base
// payload stays identical whether or not they are granted.
func buildChatCompletionRequest(req *chatstream.Request, stream bool) ([]byte, error) {
	messages := make([]Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, Message{Role: m.Role, Content: m.Content})
	}

	cr := &ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if req.MaxTokens > 0 {
		cr.MaxTokens = &req.MaxTokens
	}

	body, err := json.Marshal(cr)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if req.Options.Reasoning {
		if body, err = sjson.SetBytes(body, "reasoning.enabled", true); err != nil {
			return nil, fmt.Errorf("set reasoning config: %w", err)
		}
	}
	if req.Options.WebSearch {
		if body, err = sjson.SetRawBytes(body, "plugins", []byte(`[{"id":"web"}]`)); err != nil {
			return nil, fmt.Errorf("set web plugin: %w", err)
		}
	}
	return body, nil
}
