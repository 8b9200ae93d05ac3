// Package metrics exposes session counters in the Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thruflo/devloop/internal/logging"
)

// Recorder holds the session metrics on its own registry, so several
// recorders can coexist in one process (tests, repeated sessions).
//
// Metrics:
//   - devloop_iterations_total{status} - completed iterations by outcome
//   - devloop_commits_total - commits made
//   - devloop_rollbacks_total - rollbacks performed
//   - devloop_recoveries_total - ticks that ended in recovery
//   - devloop_assistant_fallbacks_total{kind} - default suggestions used
//   - devloop_verify_duration_seconds - verification run time
type Recorder struct {
	registry *prometheus.Registry

	iterations *prometheus.CounterVec
	commits    prometheus.Counter
	rollbacks  prometheus.Counter
	recoveries prometheus.Counter
	fallbacks  *prometheus.CounterVec
	verify     prometheus.Histogram
}

// NewRecorder creates a Recorder with a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		iterations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devloop_iterations_total",
				Help: "Total number of completed iterations",
			},
			[]string{"status"}, // "success" or "failed"
		),
		commits: factory.NewCounter(prometheus.CounterOpts{
			Name: "devloop_commits_total",
			Help: "Total number of commits made",
		}),
		rollbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "devloop_rollbacks_total",
			Help: "Total number of rollbacks performed",
		}),
		recoveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "devloop_recoveries_total",
			Help: "Total number of ticks that ended in recovery",
		}),
		fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devloop_assistant_fallbacks_total",
				Help: "Total number of times the default suggestion was used",
			},
			[]string{"kind"},
		),
		verify: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "devloop_verify_duration_seconds",
			Help:    "Duration of verification runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}
}

// Iteration counts a completed iteration.
func (r *Recorder) Iteration(status string) { r.iterations.WithLabelValues(status).Inc() }

// Commit counts a commit.
func (r *Recorder) Commit() { r.commits.Inc() }

// Rollback counts a rollback.
func (r *Recorder) Rollback() { r.rollbacks.Inc() }

// Recovery counts a recovery.
func (r *Recorder) Recovery() { r.recoveries.Inc() }

// AssistantFallback counts a fallback to the default suggestion.
func (r *Recorder) AssistantFallback(kind string) {
	if kind == "" {
		kind = "other"
	}
	r.fallbacks.WithLabelValues(kind).Inc()
}

// VerifyDuration observes one verification run.
func (r *Recorder) VerifyDuration(d time.Duration) { r.verify.Observe(d.Seconds()) }

// Handler serves the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Serve exposes /metrics on addr until ctx is done. The listener is bound
// before Serve returns, so a bad address fails fast.
func (r *Recorder) Serve(ctx context.Context, addr string, log *logging.Logger) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving metrics", "addr", ln.Addr().String())
	return ln.Addr(), nil
}
