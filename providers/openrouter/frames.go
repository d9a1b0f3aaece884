package openrouter

import (
	"strings"

	"github.com/teamcmcbot/chatstream"
)

// doneSentinel is the payload OpenRouter sends to terminate the stream.
const doneSentinel = "[DONE]"

// sseScanner assembles complete SSE frames from arbitrarily fragmented
// reads. A frame is everything up to a blank line after newline
// normalization. A trailing partial frame at end of input is discarded:
// the upstream always terminates with an explicit [DONE] sentinel, so a
// dangling fragment can only be noise from a dropped connection.
type sseScanner struct {
	sc *chatstream.ChunkScanner
}

func newSSEScanner() *sseScanner {
	return &sseScanner{sc: chatstream.NewChunkScanner(true)}
}

func (s *sseScanner) push(p []byte) {
	s.sc.Push(p)
}

// next returns the next complete frame, without its blank-line delimiter.
func (s *sseScanner) next() (string, bool) {
	return s.sc.Next("\n\n")
}

// framePayload extracts the data payload from one frame. Multiple data
// lines within a frame are joined with a newline before JSON parsing, per
// the SSE spec. Comment lines and unknown fields are ignored. ok is false
// when the frame carries no payload at all (keep-alive comments).
func framePayload(frame string) (payload string, ok bool) {
	var parts []string
	for _, line := range strings.Split(frame, "\n") {
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		part := strings.TrimPrefix(line, "data:")
		part = strings.TrimPrefix(part, " ")
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n"), true
}
