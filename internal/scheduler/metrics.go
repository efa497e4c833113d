package scheduler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"crewcommand_backend/platform/logger"
)

// MetricsServer exposes the worker's Prometheus collectors on /metrics.
type MetricsServer struct {
	srv *http.Server
	log *logger.Logger
}

func NewMetricsServer(addr string, metrics http.Handler, log *logger.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics)
	return &MetricsServer{
		srv: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		log: log,
	}
}

// Run serves until ctx is canceled and then shuts the listener down.
func (m *MetricsServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", m.srv.Addr)
	if err != nil {
		return err
	}
	return m.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (m *MetricsServer) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- m.srv.Serve(ln) }()
	m.log.Info("scheduler metrics listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return m.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
