package fastpagi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the supervisor's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	accepted       prometheus.Counter
	dispatchErrors prometheus.Counter
	active         prometheus.Gauge
	exited         *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fastpagi_connections_accepted_total",
			Help: "Total number of accepted connections",
		}),
		dispatchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fastpagi_dispatch_errors_total",
			Help: "Total number of connections dropped because no worker could be started",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fastpagi_workers_active",
			Help: "Number of live workers",
		}),
		exited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fastpagi_workers_exited_total",
				Help: "Total number of reaped workers",
			},
			[]string{"reason"},
		),
	}

	m.Registry.MustRegister(m.accepted, m.dispatchErrors, m.active, m.exited)
	return m
}

func (m *Metrics) connectionAccepted() {
	if m != nil {
		m.accepted.Inc()
	}
}

func (m *Metrics) dispatchFailed() {
	if m != nil {
		m.dispatchErrors.Inc()
	}
}

func (m *Metrics) workerSpawned() {
	if m != nil {
		m.active.Inc()
	}
}

// workerGone records a reaped worker. reason is one of "exited", "failed" or
// "killed".
func (m *Metrics) workerGone(reason string) {
	if m != nil {
		m.active.Dec()
		m.exited.WithLabelValues(reason).Inc()
	}
}

// Handler returns the HTTP handler serving /metrics and /healthz.
func (m *Metrics) Handler() http.Handler {
	router := mux.NewRouter()
	router.Path("/metrics").Handler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	router.Path("/healthz").Methods(http.MethodGet).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	return router
}

// MetricsServer serves Metrics over HTTP.
type MetricsServer struct {
	srv *http.Server
	ln  net.Listener
}

// StartMetricsServer binds addr and serves m in the background.
func StartMetricsServer(addr string, m *Metrics, j Journaler) (*MetricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to bind metrics endpoint")
	}

	s := &MetricsServer{
		srv: &http.Server{
			Handler:           m.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln: ln,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			j.Write(&EventWarning{
				Component: "metrics",
				Error:     err.Error(),
			})
		}
	}()

	return s, nil
}

// Addr returns the bound address.
func (s *MetricsServer) Addr() net.Addr {
	return s.ln.Addr()
}

// Stop shuts the server down, waiting up to a second for requests in flight.
func (s *MetricsServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	return s.srv.Shutdown(ctx)
}
