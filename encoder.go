package chatstream

import "io"

// MarkerEncoder serializes accumulator deltas as self-delimited sentinel
// blocks interleaved with literal content bytes, writing everything to a
// single io.Writer. Each write is synchronous with the caller's next
// upstream read, so downstream backpressure throttles the whole pipeline.
//
// The encoder is the single authority for the reasoning and web-search
// visibility gates. Blocks suppressed here never reach the second hop.
type MarkerEncoder struct {
	w    io.Writer
	opts StreamOptions
}

// NewMarkerEncoder creates an encoder writing to w with the given gates.
func NewMarkerEncoder(w io.Writer, opts StreamOptions) *MarkerEncoder {
	return &MarkerEncoder{w: w, opts: opts}
}

// WriteReasoning emits one reasoning marker for an incremental delta.
// No-op for empty deltas or when the reasoning gate is closed.
func (e *MarkerEncoder) WriteReasoning(delta string) error {
	if delta == "" || !e.opts.Reasoning {
		return nil
	}
	b, err := encodeMarkerLine(ReasoningMarker, "reasoning", delta)
	if err != nil {
		return err
	}
	_, err = e.w.Write(b)
	return err
}

// WriteAnnotations emits one annotations marker carrying the full
// deduplicated citation list. Callers invoke it only after a chunk grew the
// list, so the reassembler needs just the latest block. No-op for an empty
// list or when the web-search gate is closed.
func (e *MarkerEncoder) WriteAnnotations(list []Citation) error {
	if len(list) == 0 || !e.opts.WebSearch {
		return nil
	}
	b, err := encodeMarkerLine(AnnotationsMarker, "annotations", list)
	if err != nil {
		return err
	}
	_, err = e.w.Write(b)
	return err
}

// WriteContent passes literal content bytes through unmodified, with no
// framing and no trailing marker.
func (e *MarkerEncoder) WriteContent(text string) error {
	if text == "" {
		return nil
	}
	_, err := io.WriteString(e.w, text)
	return err
}

// WriteMetadata emits the terminal metadata block carrying the entire
// accumulator, then the stream is complete. Call at most once, after the
// upstream end sentinel; never call it on cancellation.
func (e *MarkerEncoder) WriteMetadata(acc *StreamAccumulator) error {
	raw, err := encodeMarkerLine(MetadataStart, "metadata", acc)
	if err != nil {
		return err
	}
	// The metadata block is delimited by its end token, not a newline.
	body := raw[:len(raw)-1]
	body = append(body, MetadataEnd...)
	_, err = e.w.Write(body)
	return err
}
