// Package moderation implements the abuse-report pipeline: at-most-once
// report dedup, verdict caching, asynchronous toxicity classification, and
// the honor penalty applied to confirmed offenders.
package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/strangercall/backend/internal/messaging"
)

// Classifier is the external toxicity model boundary. Classify returns true
// when text is abusive. Calls may be slow; implementations must respect ctx.
type Classifier interface {
	Classify(ctx context.Context, text string) (bool, error)
}

// CheckRequest is the wire form of a classification request.
type CheckRequest struct {
	Text string `json:"text"`
}

// CheckResponse is the wire form of a classification verdict. Error is set
// when the moderator could not score the text.
type CheckResponse struct {
	Abusive bool   `json:"abusive"`
	Error   string `json:"error,omitempty"`
}

// DefaultClassifyTimeout bounds a single classification round trip so a
// wedged moderator surfaces as a service-unavailable acknowledgment instead
// of a hung report.
const DefaultClassifyTimeout = 10 * time.Second

// RemoteClassifier reaches the moderator service over NATS request–reply.
type RemoteClassifier struct {
	nats    *messaging.NATSClient
	timeout time.Duration
}

// NewRemoteClassifier creates a classifier client. A non-positive timeout
// falls back to DefaultClassifyTimeout.
func NewRemoteClassifier(nc *messaging.NATSClient, timeout time.Duration) *RemoteClassifier {
	if timeout <= 0 {
		timeout = DefaultClassifyTimeout
	}
	return &RemoteClassifier{nats: nc, timeout: timeout}
}

// Classify sends text to the moderator and waits for its verdict. The wait
// is bounded by the configured timeout or the ctx deadline, whichever is
// sooner.
func (c *RemoteClassifier) Classify(ctx context.Context, text string) (bool, error) {
	data, err := json.Marshal(CheckRequest{Text: text})
	if err != nil {
		return false, fmt.Errorf("moderation: marshal request: %w", err)
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return false, context.DeadlineExceeded
	}

	respData, err := c.nats.Request(messaging.SubjectModerationCheck, data, timeout)
	if err != nil {
		return false, fmt.Errorf("moderation: classify request: %w", err)
	}

	var resp CheckResponse
	if err := json.Unmarshal(respData, &resp); err != nil {
		return false, fmt.Errorf("moderation: decode verdict: %w", err)
	}
	if resp.Error != "" {
		return false, fmt.Errorf("moderation: classifier error: %s", resp.Error)
	}
	return resp.Abusive, nil
}
