// Package lorem provides a fake OpenRouter-compatible upstream that
// generates lorem ipsum completions. Used for examples, development and
// pipeline tests without requiring real API keys.
package lorem

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	loremgen "github.com/bozaro/golorem"
)

// Server is an http.Handler that speaks the chat completions wire format:
// streaming requests get an SSE stream of delta chunks ending with a usage
// record and the [DONE] sentinel; non-streaming requests get a single JSON
// response.
type Server struct {
	// Words is the number of content words per completion. Default 30.
	Words int

	// Reasoning streams reasoning deltas before the content.
	Reasoning bool

	// Citations attaches a url_citation annotation chunk before the content.
	Citations bool

	// Delay between streamed chunks; zero streams as fast as possible.
	Delay time.Duration

	// Empty makes every completion come back with no content. Useful for
	// exercising the retry path.
	Empty bool

	generator *loremgen.Lorem
}

// NewServer creates a fake upstream with defaults.
func NewServer() *Server {
	return &Server{
		Words:     30,
		generator: loremgen.New(),
	}
}

type completionRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":{"message":"invalid request body"}}`, http.StatusBadRequest)
		return
	}

	id := fmt.Sprintf("gen-lorem-%d", time.Now().UnixNano())
	text := ""
	if !s.Empty {
		text = s.generateWords(s.words())
	}

	if req.Stream {
		s.serveStream(w, id, req.Model, text)
		return
	}
	s.serveComplete(w, id, req.Model, text)
}

func (s *Server) serveComplete(w http.ResponseWriter, id, model, text string) {
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"id":      id,
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"message":       map[string]interface{}{"role": "assistant", "content": text},
				"finish_reason": "stop",
			},
		},
		"usage": s.usage(text),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) serveStream(w http.ResponseWriter, id, model, text string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)

	send := func(chunk interface{}) {
		b, err := json.Marshal(chunk)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", b)
		if flusher != nil {
			flusher.Flush()
		}
		if s.Delay > 0 {
			time.Sleep(s.Delay)
		}
	}
	delta := func(d map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{
			"id":      id,
			"object":  "chat.completion.chunk",
			"model":   model,
			"choices": []map[string]interface{}{{"index": 0, "delta": d}},
		}
	}

	send(delta(map[string]interface{}{"role": "assistant"}))

	if s.Reasoning {
		for _, word := range strings.Fields(s.generateWords(8)) {
			send(delta(map[string]interface{}{"reasoning": word + " "}))
		}
	}

	if s.Citations {
		send(delta(map[string]interface{}{
			"annotations": []map[string]interface{}{
				{
					"type": "url_citation",
					"url_citation": map[string]interface{}{
						"url":   "https://lorem.example/ipsum",
						"title": "Lorem Ipsum",
					},
				},
			},
		}))
	}

	for _, word := range strings.Fields(text) {
		send(delta(map[string]interface{}{"content": word + " "}))
	}

	send(map[string]interface{}{
		"id":      id,
		"object":  "chat.completion.chunk",
		"model":   model,
		"choices": []map[string]interface{}{},
		"usage":   s.usage(text),
	})

	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

func (s *Server) usage(text string) map[string]int {
	// Word count as a rough token proxy.
	completion := len(strings.Fields(text))
	return map[string]int{
		"prompt_tokens":     12,
		"completion_tokens": completion,
		"total_tokens":      12 + completion,
	}
}

func (s *Server) words() int {
	if s.Words > 0 {
		return s.Words
	}
	return 30
}

func (s *Server) generateWords(target int) string {
	if s.generator == nil {
		s.generator = loremgen.New()
	}
	var sb strings.Builder
	count := 0
	for count < target {
		sentence := s.generator.Sentence(5, 12)
		sb.WriteString(sentence)
		sb.WriteString(" ")
		count += len(strings.Fields(sentence))
	}
	return strings.TrimSpace(sb.String())
}
