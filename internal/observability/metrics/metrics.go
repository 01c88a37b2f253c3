package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the client's Prometheus collectors. A nil *Registry is a
// valid no-op recorder.
type Registry struct {
	registry          *prometheus.Registry
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	assistantRequests *prometheus.CounterVec
	assistantLatency  *prometheus.HistogramVec
	proposalsTotal    *prometheus.CounterVec
	pendingActions    prometheus.Gauge
}

// NewRegistry creates and registers all collectors.
func NewRegistry() *Registry {
	executions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptonite_executions_total",
		Help: "Transaction executions by action kind and outcome status",
	}, []string{"kind", "status"})

	executionDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cryptonite_execution_duration_seconds",
		Help:    "Time from execution start to outcome",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 75},
	}, []string{"kind"})

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptonite_assistant_requests_total",
		Help: "Requests sent to the assistant backend",
	}, []string{"endpoint", "result"})

	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cryptonite_assistant_request_duration_seconds",
		Help:    "Assistant backend request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	proposals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptonite_action_proposals_total",
		Help: "Action proposals seen by intake",
	}, []string{"kind", "result"})

	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cryptonite_pending_actions",
		Help: "Whether an action currently awaits confirmation",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(executions, executionDuration, requests, latency, proposals, pending)

	return &Registry{
		registry:          r,
		executionsTotal:   executions,
		executionDuration: executionDuration,
		assistantRequests: requests,
		assistantLatency:  latency,
		proposalsTotal:    proposals,
		pendingActions:    pending,
	}
}

// ObserveExecution records one executor outcome.
func (m *Registry) ObserveExecution(kind, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.executionsTotal.WithLabelValues(kind, status).Inc()
	m.executionDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveAssistantRequest records one assistant backend call.
func (m *Registry) ObserveAssistantRequest(endpoint string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.assistantRequests.WithLabelValues(endpoint, result).Inc()
	m.assistantLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// IncProposal counts an action proposal as accepted or rejected.
func (m *Registry) IncProposal(kind, result string) {
	if m == nil {
		return
	}
	m.proposalsTotal.WithLabelValues(kind, result).Inc()
}

// SetPending flags whether the pending slot is occupied.
func (m *Registry) SetPending(occupied bool) {
	if m == nil {
		return
	}
	if occupied {
		m.pendingActions.Set(1)
		return
	}
	m.pendingActions.Set(0)
}

// Handler exposes the metrics in Prometheus text exposition format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics and /healthz until ctx is cancelled.
func (m *Registry) StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
