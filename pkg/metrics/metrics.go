// Package metrics exposes host-side counters for the bridge. The optional
// HTTP listener is a separate socket; metrics never touch the protocol
// stream.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcome labels
const (
	OutcomeOK         = "ok"
	OutcomeError      = "error"
	OutcomeTimeout    = "timeout"
	OutcomeNotAllowed = "not_allowed"
	OutcomeNotFound   = "not_found"
	OutcomeMalformed  = "malformed"
)

var (
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scriptbridge",
		Name:      "requests_total",
		Help:      "Protocol requests handled, by outcome.",
	}, []string{"outcome"})

	EventsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scriptbridge",
		Name:      "events_emitted_total",
		Help:      "Asynchronous events written to the protocol stream.",
	})

	MethodDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scriptbridge",
		Name:      "method_duration_seconds",
		Help:      "Wall-clock duration of method invocations.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Serve runs a prometheus scrape endpoint on addr until ctx is cancelled.
// Returns nil on graceful shutdown.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
