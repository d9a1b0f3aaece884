package openrouter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/teamcmcbot/chatstream"
)

// StreamCompletion runs the forward-only streaming pipeline: upstream SSE
// frames are folded into a fresh StreamAccumulator and re-encoded as the
// internal marker stream on w. When the upstream terminates (the [DONE]
// sentinel or end of body), the terminal metadata block is written and the
// accumulator is returned for persistence.
//
// The pipeline is single-threaded and pull-based: each write to w is
// synchronous with the next upstream read, so a slow consumer throttles
// the upstream connection. If ctx is canceled or w stops accepting writes,
// the upstream body is released promptly and no metadata block is written;
// partial state is discarded.
func (p *Provider) StreamCompletion(ctx context.Context, req *chatstream.Request, w io.Writer) (*chatstream.StreamAccumulator, error) {
	if err := p.validateRequest(req); err != nil {
		return nil, err
	}

	body, err := buildChatCompletionRequest(req, true)
	if err != nil {
		return nil, err
	}
	httpReq, err := p.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openrouter HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.handleErrorResponse(resp)
	}

	log := p.log.WithFields(logrus.Fields{
		"request_id": uuid.NewString(),
		"model":      req.Model,
	})
	log.Debug("stream started")

	acc := chatstream.NewStreamAccumulator()
	if err := runPipeline(ctx, resp.Body, acc, req.Options, w, log); err != nil {
		log.WithError(err).Debug("stream aborted")
		return nil, err
	}
	log.WithField("annotations", len(acc.Annotations)).Debug("stream complete")
	return acc, nil
}

// runPipeline is the read loop: frame reader, aggregator and marker
// encoder chained over one upstream byte source. Factored out so tests can
// drive it from any reader with any fragmentation.
func runPipeline(ctx context.Context, r io.Reader, acc *chatstream.StreamAccumulator, opts chatstream.StreamOptions, w io.Writer, log *logrus.Entry) error {
	frames := newSSEScanner()
	agg := newAggregator(acc, opts, log)
	enc := chatstream.NewMarkerEncoder(w, opts)

	buf := make([]byte, 4096)
	done := false
	for !done {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := r.Read(buf)
		if n > 0 {
			frames.push(buf[:n])
			for !done {
				frame, ok := frames.next()
				if !ok {
					break
				}
				payload, ok := framePayload(frame)
				if !ok {
					continue
				}
				if payload == doneSentinel {
					done = true
					break
				}
				if err := forward(enc, agg.apply(payload), acc); err != nil {
					return err
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return fmt.Errorf("read upstream stream: %w", readErr)
		}
	}

	return enc.WriteMetadata(acc)
}

// forward emits one chunk's contributions in wire order: reasoning marker,
// annotations marker, then literal content.
func forward(enc *chatstream.MarkerEncoder, upd chunkUpdate, acc *chatstream.StreamAccumulator) error {
	if err := enc.WriteReasoning(upd.reasoningDelta); err != nil {
		return err
	}
	if upd.annotationsAdded {
		if err := enc.WriteAnnotations(acc.Annotations); err != nil {
			return err
		}
	}
	return enc.WriteContent(upd.content)
}
