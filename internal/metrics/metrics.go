// Package metrics defines the Prometheus collectors of the service and the
// HTTP endpoint exposing them.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mail2hooks"

var (
	Messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "smtp",
			Name:      "messages_total",
			Help:      "Inbound messages by outcome (accepted, parse_error)",
		},
		[]string{"result"},
	)
	FailedLogins = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "smtp",
			Name:      "failed_logins_total",
			Help:      "AUTH attempts with invalid credentials",
		},
	)
	HookMatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hook",
			Name:      "matches_total",
			Help:      "Hook evaluations by outcome (accepted, rejected)",
		},
		[]string{"hook", "result"},
	)
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Webhook deliveries by outcome (success, failure)",
		},
		[]string{"hook", "result"},
	)
	DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time spent delivering one webhook request",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"hook"},
	)
)

func init() {
	prometheus.MustRegister(Messages)
	prometheus.MustRegister(FailedLogins)
	prometheus.MustRegister(HookMatches)
	prometheus.MustRegister(Deliveries)
	prometheus.MustRegister(DeliveryDuration)
}

// Handler returns the /metrics handler for the default registry.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Serve exposes /metrics on ln until ctx is cancelled.
func Serve(ctx context.Context, ln net.Listener, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	srv := &http.Server{
		Handler:           Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}()

	logger.Info("metrics endpoint listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
