package chatstream

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestMarkerEncoder_ReasoningGate(t *testing.T) {
	var closed, open bytes.Buffer

	enc := NewMarkerEncoder(&closed, StreamOptions{})
	if err := enc.WriteReasoning("thinking"); err != nil {
		t.Fatalf("WriteReasoning: %v", err)
	}
	if closed.Len() != 0 {
		t.Errorf("gate closed but wrote %q", closed.String())
	}

	enc = NewMarkerEncoder(&open, StreamOptions{Reasoning: true})
	if err := enc.WriteReasoning("thinking"); err != nil {
		t.Fatalf("WriteReasoning: %v", err)
	}
	want := ReasoningMarker + `{"type":"reasoning","data":"thinking"}` + "\n"
	if open.String() != want {
		t.Errorf("got %q, want %q", open.String(), want)
	}
}

func TestMarkerEncoder_AnnotationsGate(t *testing.T) {
	list := []Citation{{Type: CitationTypeURL, URL: "https://a.example", Title: "A"}}

	var closed bytes.Buffer
	enc := NewMarkerEncoder(&closed, StreamOptions{Reasoning: true})
	if err := enc.WriteAnnotations(list); err != nil {
		t.Fatalf("WriteAnnotations: %v", err)
	}
	if closed.Len() != 0 {
		t.Errorf("web search gate closed but wrote %q", closed.String())
	}

	var open bytes.Buffer
	enc = NewMarkerEncoder(&open, StreamOptions{WebSearch: true})
	if err := enc.WriteAnnotations(list); err != nil {
		t.Fatalf("WriteAnnotations: %v", err)
	}
	out := open.String()
	if !strings.HasPrefix(out, AnnotationsMarker) || !strings.HasSuffix(out, "\n") {
		t.Fatalf("annotations block badly framed: %q", out)
	}
	if !strings.Contains(out, "https://a.example") {
		t.Errorf("citation URL missing from %q", out)
	}
}

func TestMarkerEncoder_EmptyWritesAreNoOps(t *testing.T) {
	var buf bytes.Buffer
	enc := NewMarkerEncoder(&buf, StreamOptions{Reasoning: true, WebSearch: true})

	if err := enc.WriteReasoning(""); err != nil {
		t.Fatalf("WriteReasoning: %v", err)
	}
	if err := enc.WriteAnnotations(nil); err != nil {
		t.Fatalf("WriteAnnotations: %v", err)
	}
	if err := enc.WriteContent(""); err != nil {
		t.Fatalf("WriteContent: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("empty writes produced output %q", buf.String())
	}
}

func TestMarkerEncoder_ContentPassthrough(t *testing.T) {
	var buf bytes.Buffer
	enc := NewMarkerEncoder(&buf, StreamOptions{})

	text := "# Title\n- item\n"
	if err := enc.WriteContent(text); err != nil {
		t.Fatalf("WriteContent: %v", err)
	}
	if buf.String() != text {
		t.Errorf("content = %q, want verbatim %q", buf.String(), text)
	}
}

func TestMarkerEncoder_Metadata(t *testing.T) {
	acc := NewStreamAccumulator()
	acc.SetID("gen-1")
	acc.SetUsage(Usage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7})
	acc.AddCitation(Citation{URL: "https://a.example"})

	var buf bytes.Buffer
	enc := NewMarkerEncoder(&buf, StreamOptions{})
	if err := enc.WriteMetadata(acc); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, MetadataStart) {
		t.Fatalf("missing start token: %q", out)
	}
	if !strings.HasSuffix(out, MetadataEnd) {
		t.Fatalf("missing end token: %q", out)
	}

	inner := strings.TrimSuffix(strings.TrimPrefix(out, MetadataStart), MetadataEnd)
	var env struct {
		Type string            `json:"type"`
		Data StreamAccumulator `json:"data"`
	}
	if err := json.Unmarshal([]byte(inner), &env); err != nil {
		t.Fatalf("metadata payload not valid JSON: %v", err)
	}
	if env.Type != "metadata" {
		t.Errorf("type = %q, want %q", env.Type, "metadata")
	}
	if env.Data.ID != "gen-1" || env.Data.Usage == nil || env.Data.Usage.TotalTokens != 7 {
		t.Errorf("metadata = %+v", env.Data)
	}
	if len(env.Data.Annotations) != 1 {
		t.Errorf("got %d annotations, want 1", len(env.Data.Annotations))
	}
}

func TestEncodeEvent(t *testing.T) {
	content := "hello"
	reasoning := "why"

	tests := []struct {
		name string
		ev   StreamEvent
		want string
	}{
		{name: "content bare", ev: StreamEvent{Content: &content}, want: "hello"},
		{
			name: "reasoning line",
			ev:   StreamEvent{Reasoning: &reasoning},
			want: ReasoningMarker + `{"type":"reasoning","data":"why"}` + "\n",
		},
		{
			name: "final line",
			ev:   StreamEvent{Final: &FinalRecord{Response: "hi", ID: "gen-1"}},
			want: `{"__FINAL_METADATA__":{"response":"hi","id":"gen-1"}}` + "\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeEvent(tt.ev)
			if err != nil {
				t.Fatalf("EncodeEvent: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
