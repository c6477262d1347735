// Package metrics exposes Prometheus instruments for attachments,
// injections and channel transactions.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry *Registry
)

// Result labels
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultCancelled = "cancelled"
)

// Registry holds all tabcon metrics.
type Registry struct {
	// Orchestrator
	LiveProcesses prometheus.Gauge
	Attachments   *prometheus.CounterVec

	// Injection
	Injections *prometheus.CounterVec

	// Channel
	Transactions *prometheus.CounterVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.LiveProcesses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tabcon_live_processes",
		Help: "Remote processes currently backed by a live OS process",
	})

	r.Attachments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabcon_attachments_total",
		Help: "Attachments started, by how the process was obtained",
	}, []string{"mode"})

	r.Injections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabcon_injections_total",
		Help: "Agent injections by strategy and result",
	}, []string{"strategy", "result"})

	r.Transactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabcon_transactions_total",
		Help: "Channel transactions by command and result",
	}, []string{"command", "result"})

	return r
}

// Serve exposes /metrics on addr until ctx is cancelled.
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
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
