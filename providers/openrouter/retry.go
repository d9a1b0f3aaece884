package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/teamcmcbot/chatstream"
)

// Completion is the result of the non-streaming path.
type Completion struct {
	ID          string
	Model       string
	Content     string
	Reasoning   string
	Annotations []chatstream.Citation
	Usage       *chatstream.Usage
}

// Complete runs the retry-only sibling of the streaming pipeline. Attempts
// are separated by exponential backoff with jitter. A success with empty
// content counts as a failed attempt and is retried up to the ceiling;
// auth, forbidden and rate-limit errors abort immediately with no further
// attempts. Exhausting the ceiling on empty content yields an
// EmptyCompletionError carrying alternative-model suggestions.
func (p *Provider) Complete(ctx context.Context, req *chatstream.Request) (*Completion, error) {
	if err := p.validateRequest(req); err != nil {
		return nil, err
	}

	log := p.log.WithFields(logrus.Fields{
		"request_id": uuid.NewString(),
		"model":      req.Model,
	})

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoff(p.retryBase, attempt)
			log.WithFields(logrus.Fields{"attempt": attempt, "delay": delay}).Warn("retrying completion")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		comp, err := p.completeOnce(ctx, req)
		if err != nil {
			if chatstream.IsAuthError(err) || errors.Is(err, chatstream.ErrRateLimited) {
				return nil, err
			}
			if !chatstream.IsRetryable(err) {
				return nil, err
			}
			lastErr = err
			continue
		}
		if comp.Content != "" {
			return comp, nil
		}
		log.WithField("attempt", attempt).Warn("provider returned empty content")
		lastErr = chatstream.ErrEmptyCompletion
	}

	if errors.Is(lastErr, chatstream.ErrEmptyCompletion) {
		return nil, &chatstream.EmptyCompletionError{
			Model:       req.Model,
			Attempts:    p.maxAttempts,
			Suggestions: chatstream.GetModelCatalog().SuggestAlternatives(req.Model, 3),
			Err:         chatstream.ErrEmptyCompletion,
		}
	}
	return nil, lastErr
}

// completeOnce performs a single non-streaming request.
func (p *Provider) completeOnce(ctx context.Context, req *chatstream.Request) (*Completion, error) {
	body, err := buildChatCompletionRequest(req, false)
	if err != nil {
		return nil, err
	}
	httpReq, err := p.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openrouter HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.handleErrorResponse(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	var cr ChatCompletionResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	comp := &Completion{
		ID:    cr.ID,
		Model: cr.Model,
		Usage: cr.Usage,
	}
	if len(cr.Choices) == 0 {
		return comp, nil
	}

	msg := cr.Choices[0].Message
	comp.Content = msg.Content
	if req.Options.Reasoning && msg.Reasoning != nil {
		comp.Reasoning = *msg.Reasoning
	}
	if len(msg.Annotations) > 0 {
		// Reuse the accumulator for its case-insensitive URL dedup.
		acc := chatstream.NewStreamAccumulator()
		for i := range msg.Annotations {
			if c, ok := msg.Annotations[i].toCitation(); ok {
				acc.AddCitation(c)
			}
		}
		comp.Annotations = acc.Annotations
	}
	return comp, nil
}

// backoff returns the delay before the given attempt (attempt >= 2): the
// base doubled per prior attempt, plus up to 25% random jitter.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 2)
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}
