package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/n0remac/uavmesh/internal/supervise"
)

// DefaultAddr is the admin/metrics bind address (SPEC_FULL.md §6.1).
const DefaultAddr = ":9490"

// Server serves /metrics (Prometheus exposition) and /healthz over a plain
// http.Server, the way the teacher's admin conventions stay always-on
// regardless of which protocol features are enabled.
type Server struct {
	addr   string
	srv    *http.Server
	ready  atomic.Bool
	log    logrus.FieldLogger
}

// NewServer builds a Server exposing reg's collectors at addr.
func NewServer(addr string, reg *prometheus.Registry, log logrus.FieldLogger) *Server {
	s := &Server{addr: addr, log: log}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// SetReady flips the /healthz probe to 200 once every component goroutine
// has completed its first successful startup step.
func (s *Server) SetReady() { s.ready.Store(true) }

// Run serves until stop is requested, then shuts down gracefully.
func (s *Server) Run(stop *supervise.Stoppable) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()

	select {
	case <-stop.Done():
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(ctx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("metrics: admin server: %w", err)
	}
}
