// Package webhook delivers rendered hook payloads to their targets.
package webhook

import (
	"context"
	"fmt"

	"github.com/innovatingdev/mail2hooks/internal/hook"
)

// Deliverer is the interface webhook delivery backends implement.
type Deliverer interface {
	// Deliver performs one request to h's target with body as payload. A
	// failed delivery is returned as a *DeliveryError and never retried.
	Deliver(ctx context.Context, h *hook.Hook, body string) error

	// Name returns the human-readable name of this deliverer.
	Name() string
}

// DeliveryError describes a failed delivery: either the target answered
// with a non-2xx status, or the request could not be completed at all.
type DeliveryError struct {
	Hook       string
	Target     string
	StatusCode int
	Status     string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery to %s for hook %s failed: %v", e.Target, e.Hook, e.Err)
	}
	return fmt.Sprintf("delivery to %s for hook %s failed: HTTP %d %s", e.Target, e.Hook, e.StatusCode, e.Status)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
