// Package metrics provides Prometheus counters for the subscription pipeline.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "subscriber"

// Delivery results.
const (
	ResultPosted    = "posted"
	ResultDiscarded = "discarded"
	ResultFailed    = "failed"
)

// Metrics holds the pipeline counters on a private registry. A nil *Metrics
// records nothing, so components can be built without it.
type Metrics struct {
	registry *prometheus.Registry

	polledUpdates *prometheus.CounterVec
	adapterErrors *prometheus.CounterVec
	postsCreated  prometheus.Counter
	deliveries    *prometheus.CounterVec
	removals      *prometheus.CounterVec
}

// New registers the counters on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		polledUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polled_updates_total",
			Help:      "Updates returned by adapters that were not seen before",
		}, []string{"kind"}),
		adapterErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_errors_total",
			Help:      "Failed source polls",
		}, []string{"kind"}),
		postsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_created_total",
			Help:      "Posts stored for the first time",
		}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Notification attempts by destination and result",
		}, []string{"destination", "result"}),
		removals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "removals_total",
			Help:      "Messages removed from destinations",
		}, []string{"destination"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// PolledUpdate counts one unseen update of an adapter kind.
func (m *Metrics) PolledUpdate(kind string) {
	if m == nil {
		return
	}
	m.polledUpdates.WithLabelValues(kind).Inc()
}

// AdapterError counts one failed poll of an adapter kind.
func (m *Metrics) AdapterError(kind string) {
	if m == nil {
		return
	}
	m.adapterErrors.WithLabelValues(kind).Inc()
}

// PostCreated counts one new post.
func (m *Metrics) PostCreated() {
	if m == nil {
		return
	}
	m.postsCreated.Inc()
}

// Delivery counts one notification attempt.
func (m *Metrics) Delivery(destination, result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(destination, result).Inc()
}

// Removal counts one removed message.
func (m *Metrics) Removal(destination string) {
	if m == nil {
		return
	}
	m.removals.WithLabelValues(destination).Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("metrics shutdown failed", "error", err)
		}
	}()

	log.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}
	return nil
}
