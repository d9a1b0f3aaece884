package chatstream

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// eventSink records every event and, for invariance checks, re-encodes the
// sequence into the canonical client wire form. Content fragmentation washes
// out in that form while ordering is preserved.
type eventSink struct {
	t      *testing.T
	events []StreamEvent
	err    error
}

func (s *eventSink) emit(ev StreamEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *eventSink) canonical() string {
	var out bytes.Buffer
	for _, ev := range s.events {
		b, err := EncodeEvent(ev)
		if err != nil {
			s.t.Fatalf("encode event: %v", err)
		}
		out.Write(b)
	}
	return out.String()
}

// sampleStream encodes a representative first-hop stream: reasoning,
// markdown content with embedded newlines, citations, more content, and the
// terminal metadata block.
func sampleStream(t *testing.T) []byte {
	t.Helper()
	acc := NewStreamAccumulator()
	acc.SetID("gen-42")
	acc.SetUsage(Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30})
	acc.AddCitation(Citation{URL: "https://a.example", Title: "A"})

	var buf bytes.Buffer
	enc := NewMarkerEncoder(&buf, StreamOptions{Reasoning: true, WebSearch: true})
	for _, step := range []func() error{
		func() error { return enc.WriteReasoning("let me think ") },
		func() error { return enc.WriteReasoning("about this") },
		func() error { return enc.WriteContent("# Title\n") },
		func() error { return enc.WriteAnnotations(acc.Annotations) },
		func() error { return enc.WriteContent("- item one\n- item two\n") },
		func() error { return enc.WriteMetadata(acc) },
	} {
		if err := step(); err != nil {
			t.Fatalf("encode sample stream: %v", err)
		}
	}
	return buf.Bytes()
}

func runReassembler(t *testing.T, stream []byte, chunkSize int) (*Reassembler, *eventSink) {
	t.Helper()
	sink := &eventSink{t: t}
	re := NewReassembler(sink.emit, quietLogger())
	for i := 0; i < len(stream); i += chunkSize {
		end := i + chunkSize
		if end > len(stream) {
			end = len(stream)
		}
		if _, err := re.Write(stream[i:end]); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := re.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return re, sink
}

func TestReassembler_RoundTrip(t *testing.T) {
	stream := sampleStream(t)
	re, sink := runReassembler(t, stream, len(stream))

	if got, want := re.FullText(), "# Title\n- item one\n- item two\n"; got != want {
		t.Errorf("full text = %q, want %q", got, want)
	}

	var reasoning strings.Builder
	var annotationBatches int
	for _, ev := range sink.events {
		switch {
		case ev.Reasoning != nil:
			reasoning.WriteString(*ev.Reasoning)
		case ev.Annotations != nil:
			annotationBatches++
			if len(ev.Annotations) != 1 || ev.Annotations[0].URL != "https://a.example" {
				t.Errorf("annotations = %+v", ev.Annotations)
			}
		case ev.Content != nil:
			if strings.Contains(*ev.Content, "__") {
				t.Errorf("marker text leaked into content: %q", *ev.Content)
			}
		}
	}
	if reasoning.String() != "let me think about this" {
		t.Errorf("reasoning = %q", reasoning.String())
	}
	if annotationBatches != 1 {
		t.Errorf("got %d annotation batches, want 1", annotationBatches)
	}

	final := sink.events[len(sink.events)-1]
	if final.Final == nil {
		t.Fatal("last event is not the final record")
	}
	if final.Final.ID != "gen-42" {
		t.Errorf("final id = %q, want %q", final.Final.ID, "gen-42")
	}
	if final.Final.Usage == nil || final.Final.Usage.TotalTokens != 30 {
		t.Errorf("final usage = %+v", final.Final.Usage)
	}
	if final.Final.Response != re.FullText() {
		t.Error("final response differs from accumulated text")
	}

	meta := re.Metadata()
	if meta == nil || meta.ID != "gen-42" || len(meta.Annotations) != 1 {
		t.Errorf("metadata = %+v", meta)
	}
}

func TestReassembler_RechunkInvariance(t *testing.T) {
	stream := sampleStream(t)
	_, base := runReassembler(t, stream, len(stream))
	want := base.canonical()

	for _, size := range []int{1, 2, 3, 5, 7, 13, 64} {
		_, sink := runReassembler(t, stream, size)
		if got := sink.canonical(); got != want {
			t.Errorf("chunk size %d: canonical stream diverged\ngot  %q\nwant %q", size, got, want)
		}
	}
}

func TestReassembler_MarkerSplitAcrossWrites(t *testing.T) {
	sink := &eventSink{t: t}
	re := NewReassembler(sink.emit, quietLogger())

	// Literal text ending in a marker prefix: the prefix must be held.
	if _, err := re.Write([]byte("abc__REASONING")); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, ev := range sink.events {
		if ev.Content != nil && strings.Contains(*ev.Content, "__REASONING") {
			t.Fatalf("partial marker forwarded as literal: %q", *ev.Content)
		}
	}

	rest := "_CHUNK__" + `{"type":"reasoning","data":"ok"}` + "\n"
	if _, err := re.Write([]byte(rest)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := re.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if re.FullText() != "abc" {
		t.Errorf("full text = %q, want %q", re.FullText(), "abc")
	}
	var deltas []string
	for _, ev := range sink.events {
		if ev.Reasoning != nil {
			deltas = append(deltas, *ev.Reasoning)
		}
	}
	if len(deltas) != 1 || deltas[0] != "ok" {
		t.Errorf("reasoning deltas = %v, want [ok]", deltas)
	}
}

func TestReassembler_MalformedMarkerDropped(t *testing.T) {
	sink := &eventSink{t: t}
	re := NewReassembler(sink.emit, quietLogger())

	input := ReasoningMarker + "not-json\n" + "still here"
	if _, err := re.Write([]byte(input)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := re.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, ev := range sink.events {
		if ev.Reasoning != nil {
			t.Errorf("malformed marker produced reasoning event %q", *ev.Reasoning)
		}
	}
	if re.FullText() != "still here" {
		t.Errorf("full text = %q, want %q", re.FullText(), "still here")
	}
}

func TestReassembler_CloseWithoutMetadata(t *testing.T) {
	sink := &eventSink{t: t}
	re := NewReassembler(sink.emit, quietLogger())

	if _, err := re.Write([]byte("truncated response")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := re.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	final := sink.events[len(sink.events)-1]
	if final.Final == nil {
		t.Fatal("missing final record")
	}
	if final.Final.Response != "truncated response" {
		t.Errorf("response = %q", final.Final.Response)
	}
	if final.Final.ID != "" || final.Final.Usage != nil {
		t.Errorf("absent metadata must leave id/usage empty, got %+v", final.Final)
	}
}

func TestReassembler_HeldPrefixFlushedOnClose(t *testing.T) {
	sink := &eventSink{t: t}
	re := NewReassembler(sink.emit, quietLogger())

	// Ends with bytes that could be the start of a marker.
	if _, err := re.Write([]byte("text ends with __STREAM")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if re.FullText() != "text ends with " {
		t.Fatalf("held bytes forwarded early: %q", re.FullText())
	}
	if err := re.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if re.FullText() != "text ends with __STREAM" {
		t.Errorf("full text = %q, held prefix lost on close", re.FullText())
	}
}

func TestReassembler_UnterminatedMetadataFlushedOnClose(t *testing.T) {
	sink := &eventSink{t: t}
	re := NewReassembler(sink.emit, quietLogger())

	input := "body" + MetadataStart + `{"type":"metadata"`
	if _, err := re.Write([]byte(input)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := re.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if re.FullText() != input {
		t.Errorf("full text = %q, want truncated block flushed as literal %q", re.FullText(), input)
	}
	if re.Metadata() != nil {
		t.Error("unterminated metadata must not be parsed")
	}
}

func TestReassembler_EmitErrorPropagates(t *testing.T) {
	wantErr := errors.New("consumer gone")
	sink := &eventSink{t: t, err: wantErr}
	re := NewReassembler(sink.emit, quietLogger())

	if _, err := re.Write([]byte("hello")); !errors.Is(err, wantErr) {
		t.Errorf("Write error = %v, want %v", err, wantErr)
	}
}

func TestReassembler_CloseIdempotent(t *testing.T) {
	sink := &eventSink{t: t}
	re := NewReassembler(sink.emit, quietLogger())

	if _, err := re.Write([]byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := re.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := re.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	var finals int
	for _, ev := range sink.events {
		if ev.Final != nil {
			finals++
		}
	}
	if finals != 1 {
		t.Errorf("got %d final records, want 1", finals)
	}
}
