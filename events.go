package chatstream

import (
	"encoding/json"
	"fmt"
)

// StreamEvent is one unit of the reassembled client-facing stream. Exactly
// one field is set per event.
type StreamEvent struct {
	// Content is a fragment of literal response text, byte-for-byte as the
	// model produced it (nil if reasoning/annotations/final).
	Content *string

	// Reasoning is one reasoning delta recovered from a marker block.
	Reasoning *string

	// Annotations is the latest full deduplicated citation list. It is the
	// live accumulated set, not an increment; the last batch seen is the
	// complete one.
	Annotations []Citation

	// Final is the terminal summary record, emitted exactly once at
	// upstream end-of-stream.
	Final *FinalRecord
}

// FinalRecord is the terminal summary the finalizer produces for the
// ultimate consumer and the persistence layer. Reasoning and annotations
// are not repeated here; they were already delivered incrementally.
type FinalRecord struct {
	Response string `json:"response"`
	ID       string `json:"id,omitempty"`
	Usage    *Usage `json:"usage,omitempty"`
}

// EncodeEvent renders ev in the client wire format: bare bytes for content,
// sentinel-prefixed lines for reasoning and annotations, and the single
// __FINAL_METADATA__ line for the terminal record. The encoding is
// self-delimiting, so a consumer can apply the same marker parsing logic
// used by the Reassembler.
func EncodeEvent(ev StreamEvent) ([]byte, error) {
	switch {
	case ev.Content != nil:
		return []byte(*ev.Content), nil
	case ev.Reasoning != nil:
		return encodeMarkerLine(ReasoningMarker, "reasoning", *ev.Reasoning)
	case ev.Annotations != nil:
		return encodeMarkerLine(AnnotationsMarker, "annotations", ev.Annotations)
	case ev.Final != nil:
		return encodeFinalLine(ev.Final)
	}
	return nil, nil
}

// encodeFinalLine renders the terminal record as a single line keyed by
// FinalMetadataKey.
func encodeFinalLine(rec *FinalRecord) ([]byte, error) {
	body, err := json.Marshal(map[string]*FinalRecord{FinalMetadataKey: rec})
	if err != nil {
		return nil, fmt.Errorf("marshal final record: %w", err)
	}
	return append(body, '\n'), nil
}
