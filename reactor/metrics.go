package reactor

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtaci/vortexd/httpconn"
)

// metricsRegistry holds the Prometheus collectors exposed on the admin
// listener, separate from the data-plane listener the reactor serves.
type metricsRegistry struct {
	registry        *prometheus.Registry
	connectionsGauge prometheus.GaugeFunc
	inflightGauge    prometheus.GaugeFunc
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

func newMetricsRegistry() *metricsRegistry {
	reg := prometheus.NewRegistry()
	m := &metricsRegistry{registry: reg}

	m.connectionsGauge = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "vortexd_connections_active",
		Help: "Number of currently open connections.",
	}, func() float64 {
		return float64(httpconn.UserCount)
	})

	m.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vortexd_requests_total",
		Help: "Total HTTP requests served, by status code.",
	}, []string{"code"})

	m.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vortexd_request_duration_seconds",
		Help:    "Request handling latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"code"})

	reg.MustRegister(m.connectionsGauge, m.requestsTotal, m.requestDuration)
	return m
}

// withInflightGauge registers a gauge backed by fn (Server.New passes the
// worker pool's Inflight).
func (m *metricsRegistry) withInflightGauge(fn func() int64) {
	m.inflightGauge = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "vortexd_worker_inflight",
		Help: "Number of worker-pool tasks currently executing.",
	}, func() float64 {
		return float64(fn())
	})
	m.registry.MustRegister(m.inflightGauge)
}

func (m *metricsRegistry) observe(code int, elapsed time.Duration) {
	label := statusLabel(code)
	m.requestsTotal.WithLabelValues(label).Inc()
	m.requestDuration.WithLabelValues(label).Observe(elapsed.Seconds())
}

func statusLabel(code int) string {
	switch code {
	case 200:
		return "200"
	case 400:
		return "400"
	case 403:
		return "403"
	case 404:
		return "404"
	case 503:
		return "503"
	default:
		return "other"
	}
}

// AdminServer serves /healthz and /metrics on a listener distinct from
// the data-plane socket the reactor owns, so a slow or saturated data
// plane never blocks health checks.
type AdminServer struct {
	httpSrv *http.Server
	ln      net.Listener
}

// ServeAdmin binds addr (typically a loopback address) and starts
// serving /healthz and /metrics in the background. Call Shutdown to stop
// it.
func (s *Server) ServeAdmin(addr string) (*AdminServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Handler: r}
	a := &AdminServer{httpSrv: srv, ln: ln}
	go srv.Serve(ln)
	return a, nil
}

// Shutdown stops the admin listener, waiting up to ctx's deadline for
// in-flight requests to finish.
func (a *AdminServer) Shutdown(ctx context.Context) error {
	return a.httpSrv.Shutdown(ctx)
}
