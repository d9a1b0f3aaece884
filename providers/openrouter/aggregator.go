package openrouter

import (
	"encoding/json"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/teamcmcbot/chatstream"
)

// aggregator folds decoded upstream chunks into the per-request
// StreamAccumulator and reports what each chunk contributed. Malformed
// frames are dropped silently; a chunk with no recognized fields is a
// no-op. Fields are applied in a fixed priority order (usage, id,
// reasoning, annotations, content) independent of each other.
type aggregator struct {
	acc  *chatstream.StreamAccumulator
	opts chatstream.StreamOptions
	log  *logrus.Entry
}

// chunkUpdate reports the parts of one chunk the marker encoder may need
// to forward.
type chunkUpdate struct {
	reasoningDelta   string
	annotationsAdded bool
	content          string
}

func newAggregator(acc *chatstream.StreamAccumulator, opts chatstream.StreamOptions, log *logrus.Entry) *aggregator {
	return &aggregator{acc: acc, opts: opts, log: log}
}

// citationPaths are the three nesting locations citations can surface at,
// depending on the upstream variant.
var citationPaths = []string{
	"annotations",
	"choices.0.delta.annotations",
	"choices.0.message.annotations",
}

// apply folds one frame payload into the accumulator.
func (a *aggregator) apply(payload string) chunkUpdate {
	var upd chunkUpdate
	if !gjson.Valid(payload) {
		a.log.WithField("payload_len", len(payload)).Debug("dropping malformed frame")
		return upd
	}
	chunk := gjson.Parse(payload)

	if usage := chunk.Get("usage"); usage.IsObject() {
		a.acc.SetUsage(chatstream.Usage{
			PromptTokens:     int(usage.Get("prompt_tokens").Int()),
			CompletionTokens: int(usage.Get("completion_tokens").Int()),
			TotalTokens:      int(usage.Get("total_tokens").Int()),
		})
	}

	a.acc.SetID(chunk.Get("id").String())

	if a.opts.Reasoning {
		if delta := chunk.Get("choices.0.delta.reasoning"); delta.Type == gjson.String && delta.Str != "" {
			a.acc.AppendReasoning(delta.Str)
			upd.reasoningDelta = delta.Str
		} else if msg := chunk.Get("choices.0.message.reasoning"); msg.Type == gjson.String && msg.Str != "" {
			// Terminal message-style reasoning is already complete: replace
			// rather than append, and do not re-emit it incrementally.
			a.acc.ReplaceReasoning(msg.Str)
		}
		if details := chunk.Get("reasoning_details"); details.IsArray() {
			arr := details.Array()
			blocks := make([]json.RawMessage, 0, len(arr))
			for _, d := range arr {
				blocks = append(blocks, json.RawMessage(d.Raw))
			}
			a.acc.ReplaceReasoningDetails(blocks)
		}
	}

	for _, path := range citationPaths {
		for _, cand := range chunk.Get(path).Array() {
			c, ok := parseCitation(cand.Raw)
			if !ok {
				continue
			}
			if a.acc.AddCitation(c) {
				upd.annotationsAdded = true
			}
		}
	}

	if content := chunk.Get("choices.0.delta.content"); content.Type == gjson.String && content.Str != "" {
		// Providers that echo prior turns can copy sentinel blocks back
		// into content; strip them before they re-enter the stream.
		upd.content = chatstream.StripMarkers(content.Str)
	}

	return upd
}

// parseCitation normalizes one candidate annotation object.
func parseCitation(raw string) (chatstream.Citation, bool) {
	var ann Annotation
	if err := json.Unmarshal([]byte(raw), &ann); err != nil {
		return chatstream.Citation{}, false
	}
	return ann.toCitation()
}
