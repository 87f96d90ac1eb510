// Package dispatch routes accepted scan results to the background context and
// gates proactive save prompts on the receiving side.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/detect"
	"github.com/Veraticus/subdupes/internal/service"
)

// Dispatcher suppresses identical consecutive detections and forwards the rest.
type Dispatcher struct {
	handler       service.Handler
	lastSignature string
	mu            sync.Mutex
}

// New creates a dispatcher that sends to handler.
func New(handler service.Handler) *Dispatcher {
	return &Dispatcher{handler: handler}
}

// Dispatch sends a detection message for an accepted result and, when the
// result also cleared the prompt threshold, a separate prompt message.
// A candidate identical to the previous one is dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, result detect.Result) error {
	if !result.Detected {
		return nil
	}

	candidate := result.Candidate
	signature := candidate.Signature()

	d.mu.Lock()
	if signature == d.lastSignature {
		d.mu.Unlock()
		common.LogDebug("Skipping duplicate detection", common.Fields{"name": candidate.Name})
		return nil
	}
	d.lastSignature = signature
	d.mu.Unlock()

	var errs []error

	resp := d.handler.Handle(ctx, service.Message{
		Type:      service.MsgSubscriptionDetected,
		Candidate: &candidate,
	})
	if !resp.Success {
		errs = append(errs, fmt.Errorf("detection not accepted: %s", resp.Error))
	}

	if result.Prompt {
		resp := d.handler.Handle(ctx, service.Message{
			Type:      service.MsgSubscriptionPromptReady,
			Candidate: &candidate,
		})
		if !resp.Success {
			errs = append(errs, fmt.Errorf("prompt not accepted: %s", resp.Error))
		}
	}

	return errors.Join(errs...)
}

// Reset forgets the last signature so a revisited page is not suppressed.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSignature = ""
}
