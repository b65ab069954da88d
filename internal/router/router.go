// Package router fans a parsed message out across the configured hooks.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/innovatingdev/mail2hooks/internal/email"
	"github.com/innovatingdev/mail2hooks/internal/hook"
	"github.com/innovatingdev/mail2hooks/internal/match"
	"github.com/innovatingdev/mail2hooks/internal/metrics"
	"github.com/innovatingdev/mail2hooks/internal/render"
	"github.com/innovatingdev/mail2hooks/internal/webhook"
)

// Router evaluates every hook against a message concurrently and delivers
// the rendered payload of each hook that accepts it.
type Router struct {
	hooks     hook.Set
	deliverer webhook.Deliverer
	logger    *slog.Logger

	// ctx is the parent of every delivery. It is only cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards closed and orders wg.Add before the wg.Wait in Shutdown.
	mu     sync.RWMutex
	closed bool
}

// New creates a Router over hooks. A nil logger uses slog.Default().
func New(hooks hook.Set, d webhook.Deliverer, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		hooks:     hooks,
		deliverer: d,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Hooks returns the hook set the router dispatches to.
func (r *Router) Hooks() hook.Set {
	return r.hooks
}

// Dispatch starts one goroutine per hook and returns without waiting for
// any of them. Outcomes are only observable through logs and metrics.
//
// ctx is accepted for symmetry with the caller's request scope but does not
// bound the deliveries: an SMTP transaction ending must not abort them.
//
// Messages dispatched after Shutdown has started are logged and dropped.
func (r *Router) Dispatch(_ context.Context, msg *email.Message) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("router is shut down, dropping message", "message_id", msg.ID)
		return
	}
	for _, h := range r.hooks {
		r.wg.Add(1)
		go r.handle(msg, h)
	}
}

func (r *Router) handle(msg *email.Message, h *hook.Hook) {
	defer r.wg.Done()

	log := r.logger.With("message_id", msg.ID, "hook", h.Name)

	defer func() {
		if p := recover(); p != nil {
			log.Error("panic while processing hook", "panic", fmt.Sprint(p))
		}
	}()

	if err := match.Check(msg, h); err != nil {
		metrics.HookMatches.WithLabelValues(h.Name, "rejected").Inc()

		var rej *match.Rejection
		if errors.As(err, &rej) && rej.Reason == match.ReasonNoRecipients {
			log.Warn("message has no recipients")
			return
		}
		log.Debug("hook did not match", "reason", err.Error())
		return
	}
	metrics.HookMatches.WithLabelValues(h.Name, "accepted").Inc()

	body := render.Render(msg, h)

	start := time.Now()
	err := r.deliverer.Deliver(r.ctx, h, body)
	metrics.DeliveryDuration.WithLabelValues(h.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.Deliveries.WithLabelValues(h.Name, "failure").Inc()

		attrs := []any{"target", h.Target, "error", err}
		var derr *webhook.DeliveryError
		if errors.As(err, &derr) && derr.StatusCode != 0 {
			attrs = append(attrs, "status", derr.StatusCode)
		}
		log.Warn("webhook delivery failed", attrs...)
		return
	}

	metrics.Deliveries.WithLabelValues(h.Name, "success").Inc()
	log.Info("webhook delivered",
		"target", h.Target,
		"method", h.Method,
		"duration", time.Since(start),
	)
}

// Shutdown waits for in-flight deliveries. If ctx expires first, the
// remaining deliveries are cancelled and ctx's error is returned.
func (r *Router) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}
