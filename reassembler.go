package chatstream

import (
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"
)

// ResponseAccumulator collects the literal response text of one stream,
// excluding every sentinel block, preserving embedded newlines exactly.
// Scoped to a single request, like StreamAccumulator.
type ResponseAccumulator struct {
	fullText strings.Builder
}

// FullText returns the literal response text accumulated so far.
func (a *ResponseAccumulator) FullText() string {
	return a.fullText.String()
}

// Reassembler re-parses the marker encoder's output after an intermediate
// transport may have re-chunked it at arbitrary boundaries. It strips
// sentinel blocks out of the literal text, forwards them as out-of-band
// StreamEvents, accumulates the full literal response, and on Close emits
// the terminal FinalRecord.
//
// A marker is only acted on once its closing delimiter has been observed;
// a prefix without its terminator is held, never forwarded or discarded.
// Marker payloads that fail to parse are dropped without aborting the
// stream. Visibility gating happened at the encoder; everything that
// arrives here is forwarded.
//
// Reassembler implements io.Writer so the first hop (or any transport
// shim) can write into it directly. Events are delivered synchronously
// from Write, which is what propagates consumer backpressure up to the
// upstream byte source. Cancellation is expressed by abandoning the
// reassembler without calling Close; partial state is simply discarded.
type Reassembler struct {
	sc     *ChunkScanner
	acc    ResponseAccumulator
	emit   func(StreamEvent) error
	log    *logrus.Logger
	meta   *StreamAccumulator
	closed bool
}

// NewReassembler creates a reassembler delivering events to emit. A nil
// logger falls back to the process-wide standard logger.
func NewReassembler(emit func(StreamEvent) error, log *logrus.Logger) *Reassembler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reassembler{
		sc:   NewChunkScanner(false),
		emit: emit,
		log:  log,
	}
}

// Write feeds one transport chunk into the reassembler. Chunk boundaries
// carry no meaning; any split of the same byte sequence produces the same
// events and the same accumulated text.
func (r *Reassembler) Write(p []byte) (int, error) {
	r.sc.Push(p)
	if err := r.drain(false); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close finalizes the stream after upstream end-of-input: held bytes are
// flushed and the terminal record is emitted from the last-seen metadata
// (absent fields stay empty if the metadata block never arrived). Do not
// call Close when the consumer canceled mid-stream.
func (r *Reassembler) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.sc.Flush()
	if err := r.drain(true); err != nil {
		return err
	}
	rec := &FinalRecord{Response: r.acc.FullText()}
	if r.meta != nil {
		rec.ID = r.meta.ID
		rec.Usage = r.meta.Usage
	}
	return r.emit(StreamEvent{Final: rec})
}

// FullText returns the literal response text accumulated so far.
func (r *Reassembler) FullText() string {
	return r.acc.FullText()
}

// Metadata returns the parsed terminal metadata block, or nil until it has
// arrived.
func (r *Reassembler) Metadata() *StreamAccumulator {
	return r.meta
}

// drain classifies as much buffered text as currently possible. With final
// set, nothing further will arrive: held prefixes are flushed as literal
// text (this only happens on truncated streams, since a well-formed stream
// ends with the metadata end token).
func (r *Reassembler) drain(final bool) error {
	for {
		buf := r.sc.Buffered()
		idx, tok := findMarker(buf)
		if idx < 0 {
			hold := 0
			if !final {
				hold = partialMarkerSuffix(buf)
			}
			if n := len(buf) - hold; n > 0 {
				if err := r.literal(buf[:n]); err != nil {
					return err
				}
				r.sc.Advance(n)
			}
			return nil
		}
		if idx > 0 {
			// Text before a recognized marker is literal.
			if err := r.literal(buf[:idx]); err != nil {
				return err
			}
			r.sc.Advance(idx)
			continue
		}

		rest := buf[len(tok):]
		if tok == MetadataStart {
			end := strings.Index(rest, MetadataEnd)
			if end < 0 {
				if final {
					return r.flushAsLiteral(buf)
				}
				return nil
			}
			r.sc.Advance(len(tok) + end + len(MetadataEnd))
			r.stashMetadata(rest[:end])
			continue
		}

		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			if final {
				return r.flushAsLiteral(buf)
			}
			return nil
		}
		r.sc.Advance(len(tok) + nl + 1)
		if err := r.forwardMarker(tok, rest[:nl]); err != nil {
			return err
		}
	}
}

func (r *Reassembler) flushAsLiteral(buf string) error {
	if err := r.literal(buf); err != nil {
		return err
	}
	r.sc.Advance(len(buf))
	return nil
}

// literal appends text to the response accumulator verbatim and forwards it.
func (r *Reassembler) literal(text string) error {
	r.acc.fullText.WriteString(text)
	return r.emit(StreamEvent{Content: &text})
}

// forwardMarker parses one completed line marker and forwards the
// equivalent event. Unparseable payloads are dropped.
func (r *Reassembler) forwardMarker(tok, payload string) error {
	var env markerPayload
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.log.WithField("marker", tok).Debug("dropping marker with malformed payload")
		return nil
	}
	switch tok {
	case ReasoningMarker:
		var delta string
		if err := json.Unmarshal(env.Data, &delta); err != nil {
			r.log.Debug("dropping reasoning marker with non-string data")
			return nil
		}
		return r.emit(StreamEvent{Reasoning: &delta})
	case AnnotationsMarker:
		var list []Citation
		if err := json.Unmarshal(env.Data, &list); err != nil {
			r.log.Debug("dropping annotations marker with malformed data")
			return nil
		}
		return r.emit(StreamEvent{Annotations: list})
	}
	return nil
}

// stashMetadata parses the terminal metadata block and keeps it aside for
// Close. It is never forwarded raw.
func (r *Reassembler) stashMetadata(payload string) {
	var env markerPayload
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.log.Debug("dropping metadata block with malformed payload")
		return
	}
	var meta StreamAccumulator
	if err := json.Unmarshal(env.Data, &meta); err != nil {
		r.log.Debug("dropping metadata block with malformed data")
		return
	}
	r.meta = &meta
}
