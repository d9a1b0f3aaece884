// Package chatstream implements the streaming completion transform pipeline
// that sits between an OpenRouter-compatible provider stream and a browser
// client: upstream SSE frames are folded into a per-request accumulator and
// re-emitted as an internal sentinel-marker wire format, which a second,
// independently-buffering hop reassembles into out-of-band events, the
// literal response text, and a terminal summary record.
package chatstream

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Marker wire protocol v1.
//
// These tokens are a fixed, versioned contract shared with every consumer of
// the internal stream format. Line markers are `<prefix><compact-JSON>\n`;
// the metadata marker is `<start><compact-JSON><end>` with the end token
// itself acting as the delimiter. Anything that is not a marker is literal
// response text, passed through with no framing at all.
const (
	// ReasoningMarker carries one incremental reasoning delta:
	// {"type":"reasoning","data":"<text>"}
	ReasoningMarker = "__REASONING_CHUNK__"

	// AnnotationsMarker carries the full deduplicated citation list as it
	// stands after the chunk that grew it: {"type":"annotations","data":[...]}
	AnnotationsMarker = "__ANNOTATIONS_CHUNK__"

	// MetadataStart/MetadataEnd bracket the terminal metadata block:
	// {"type":"metadata","data":{<StreamAccumulator>}}
	MetadataStart = "__STREAM_METADATA_START__"
	MetadataEnd   = "__STREAM_METADATA_END__"

	// FinalMetadataKey is the single key of the terminal summary line
	// emitted by the second hop: {"__FINAL_METADATA__":{...}}\n
	FinalMetadataKey = "__FINAL_METADATA__"
)

// markerPayload is the JSON envelope carried by every sentinel block.
type markerPayload struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// encodeMarkerLine renders one line-style marker: prefix, compact JSON
// envelope, trailing newline.
func encodeMarkerLine(prefix, typ string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s marker data: %w", typ, err)
	}
	body, err := json.Marshal(markerPayload{Type: typ, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s marker: %w", typ, err)
	}
	out := make([]byte, 0, len(prefix)+len(body)+1)
	out = append(out, prefix...)
	out = append(out, body...)
	out = append(out, '\n')
	return out, nil
}

// markerTokens are the tokens that can open a sentinel block.
var markerTokens = []string{ReasoningMarker, AnnotationsMarker, MetadataStart}

// findMarker returns the position and token of the earliest marker start in
// s, or (-1, "") when s contains none.
func findMarker(s string) (int, string) {
	best := -1
	var tok string
	for _, t := range markerTokens {
		if i := strings.Index(s, t); i >= 0 && (best < 0 || i < best) {
			best, tok = i, t
		}
	}
	return best, tok
}

// partialMarkerSuffix returns the length of the longest suffix of s that is
// a proper prefix of some marker token. Those bytes cannot be classified as
// literal text until more input arrives.
func partialMarkerSuffix(s string) int {
	max := 0
	for _, t := range markerTokens {
		for k := len(t) - 1; k > max; k-- {
			if k <= len(s) && strings.HasSuffix(s, t[:k]) {
				max = k
				break
			}
		}
	}
	return max
}

// StripMarkers removes marker-shaped substrings from s. Some providers echo
// prior assistant turns back inside content fields; sentinel blocks copied
// over that way must never re-enter the stream as literal text. A line
// marker is removed through its terminating newline (or to the end of s);
// the metadata marker is removed through its end token.
func StripMarkers(s string) string {
	for _, tok := range []string{ReasoningMarker, AnnotationsMarker} {
		s = stripLineMarker(s, tok)
	}
	return stripSpanMarker(s, MetadataStart, MetadataEnd)
}

func stripLineMarker(s, tok string) string {
	for {
		idx := strings.Index(s, tok)
		if idx < 0 {
			return s
		}
		nl := strings.IndexByte(s[idx:], '\n')
		if nl < 0 {
			return s[:idx]
		}
		s = s[:idx] + s[idx+nl+1:]
	}
}

func stripSpanMarker(s, start, end string) string {
	for {
		idx := strings.Index(s, start)
		if idx < 0 {
			return s
		}
		rest := s[idx+len(start):]
		stop := strings.Index(rest, end)
		if stop < 0 {
			return s[:idx]
		}
		s = s[:idx] + rest[stop+len(end):]
	}
}
