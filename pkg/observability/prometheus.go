package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server serves the Prometheus scrape endpoint. Unlike the API server it has
// no routes of its own beyond /metrics; it exists so scraping stays available
// even when the API surface is disabled.
type Server struct {
	log  logrus.FieldLogger
	addr string

	listener net.Listener
	server   *http.Server
}

// NewServer creates an unstarted metrics server
func NewServer(log logrus.FieldLogger, addr string) *Server {
	return &Server{
		log:  log.WithField("service", "metrics"),
		addr: addr,
	}
}

// Start binds the listener and begins serving. Binding synchronously means a
// taken port fails startup instead of a goroutine log line.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind metrics listener: %w", err)
	}

	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		s.log.WithField("addr", s.Addr()).Info("Starting metrics server")

		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Metrics server failed")
		}
	}()

	return nil
}

// Addr returns the bound listen address, which differs from the configured
// one when the configuration asked for port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}

	return s.listener.Addr().String()
}

// Stop gracefully shuts down the metrics server
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}

	return nil
}
