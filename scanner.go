package chatstream

import "bytes"

// ChunkScanner turns an arbitrarily fragmented byte stream into complete
// text units. It is the shared buffering primitive behind both hops of the
// pipeline: the upstream SSE frame reader extracts blank-line-delimited
// frames from it, and the marker reassembler scans its buffered text for
// sentinel blocks.
//
// Bytes pushed in may split a multi-byte UTF-8 sequence at any point; a
// character's bytes are not moved into the decodable buffer until all of
// them have arrived. With newline normalization enabled, CRLF and bare CR
// are rewritten to LF before extraction (a trailing CR is held until the
// next push can tell whether an LF follows).
//
// Not safe for concurrent use; each scanner belongs to one in-flight stream.
type ChunkScanner struct {
	raw       []byte // bytes that may end mid-sequence, not yet decodable
	text      []byte // complete, normalized text ready for extraction
	normalize bool
}

// NewChunkScanner creates an empty scanner. normalizeNewlines selects the
// SSE framing behavior described above.
func NewChunkScanner(normalizeNewlines bool) *ChunkScanner {
	return &ChunkScanner{normalize: normalizeNewlines}
}

// Push appends a chunk of raw bytes and moves every complete character into
// the extractable buffer.
func (s *ChunkScanner) Push(p []byte) {
	s.raw = append(s.raw, p...)

	keep := incompleteTail(s.raw)
	chunk := s.raw[:len(s.raw)-keep]
	if s.normalize && len(chunk) > 0 && chunk[len(chunk)-1] == '\r' {
		// The next chunk may start with '\n'; hold the CR until we know.
		chunk = chunk[:len(chunk)-1]
		keep++
	}
	if len(chunk) == 0 {
		return
	}
	s.text = appendNormalized(s.text, chunk, s.normalize)

	tail := s.raw[len(s.raw)-keep:]
	s.raw = append(s.raw[:0], tail...)
}

// Flush moves everything still held (a trailing CR, or bytes of a character
// that never completed) into the extractable buffer. Call once at end of
// input before the final extraction pass.
func (s *ChunkScanner) Flush() {
	if len(s.raw) == 0 {
		return
	}
	s.text = appendNormalized(s.text, s.raw, s.normalize)
	s.raw = s.raw[:0]
}

// Next extracts the next complete unit ending with delim. The delimiter is
// consumed but not included in the returned unit. ok is false when no
// complete unit is buffered yet.
func (s *ChunkScanner) Next(delim string) (unit string, ok bool) {
	i := bytes.Index(s.text, []byte(delim))
	if i < 0 {
		return "", false
	}
	unit = string(s.text[:i])
	s.text = s.text[i+len(delim):]
	return unit, true
}

// Buffered returns the decoded text that has not been extracted yet.
func (s *ChunkScanner) Buffered() string {
	return string(s.text)
}

// Advance discards n bytes from the front of the buffered text.
func (s *ChunkScanner) Advance(n int) {
	if n > len(s.text) {
		n = len(s.text)
	}
	s.text = s.text[n:]
}

func appendNormalized(dst, chunk []byte, normalize bool) []byte {
	if !normalize {
		return append(dst, chunk...)
	}
	for i := 0; i < len(chunk); i++ {
		c := chunk[i]
		if c == '\r' {
			if i+1 < len(chunk) && chunk[i+1] == '\n' {
				i++
			}
			c = '\n'
		}
		dst = append(dst, c)
	}
	return dst
}

// incompleteTail returns how many trailing bytes of b form the start of a
// UTF-8 sequence whose remaining bytes have not arrived.
func incompleteTail(b []byte) int {
	n := len(b)
	for i := 1; i <= 4 && i <= n; i++ {
		c := b[n-i]
		if c < 0x80 {
			return 0 // ASCII, sequence complete
		}
		if c >= 0xC0 {
			if seqLen(c) > i {
				return i
			}
			return 0
		}
		// continuation byte, keep walking back to the sequence start
	}
	return 0
}

func seqLen(c byte) int {
	switch {
	case c >= 0xF0:
		return 4
	case c >= 0xE0:
		return 3
	case c >= 0xC0:
		return 2
	}
	return 1
}
