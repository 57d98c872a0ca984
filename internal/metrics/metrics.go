// Package metrics exposes Prometheus counters for the daily reconciliation
// and the outbound API clients, plus the scrape endpoint.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wishbot/pkg/logx"
)

type Metrics struct {
	reg *prometheus.Registry

	ReconcileRuns     *prometheus.CounterVec // result: success|failure|skipped
	AnnouncementsSent *prometheus.CounterVec // kind: birthday|holiday
	RolesRemoved      prometheus.Counter
	DepartedCleaned   prometheus.Counter
	RetryExhaustions  *prometheus.CounterVec // call: calendar lookup|text generation
	LastRunUnix       prometheus.Gauge
}

// New builds the metric set on a private registry so tests can run in
// parallel without duplicate-registration panics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		ReconcileRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wishbot_reconcile_runs_total",
			Help: "Daily reconciliation runs by result.",
		}, []string{"result"}),
		AnnouncementsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wishbot_announcements_sent_total",
			Help: "Announcements delivered to audience channels by kind.",
		}, []string{"kind"}),
		RolesRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "wishbot_roles_removed_total",
			Help: "Transient birthday roles revoked during cleanup.",
		}),
		DepartedCleaned: factory.NewCounter(prometheus.CounterOpts{
			Name: "wishbot_departed_cleaned_total",
			Help: "Birthday records removed for departed members.",
		}),
		RetryExhaustions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wishbot_retry_exhaustions_total",
			Help: "Outbound calls that burned the whole attempt budget.",
		}, []string{"call"}),
		LastRunUnix: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wishbot_last_run_timestamp_seconds",
			Help: "Unix time of the last reconciliation attempt.",
		}),
	}
}

// Serve runs the scrape endpoint until ctx is done.
func (m *Metrics) Serve(ctx context.Context, listen string, log logx.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listening", logx.String("addr", listen))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
