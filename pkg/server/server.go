package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	//nolint:gosec // only exposed if pprofAddr config is set
	_ "net/http/pprof"

	"github.com/ethpandaops/bookkeeping/pkg/observability"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ReadinessFunc reports whether the backing services are reachable
type ReadinessFunc func(ctx context.Context) error

// Server runs the metrics, health and pprof listeners
type Server struct {
	log    logrus.FieldLogger
	config *Config
	ready  ReadinessFunc

	mu           sync.Mutex
	pprofServer  *http.Server
	healthServer *http.Server
}

// NewServer creates the operational servers. A nil ready func always reports ready.
func NewServer(log logrus.FieldLogger, config *Config, ready ReadinessFunc) *Server {
	if ready == nil {
		ready = func(context.Context) error { return nil }
	}

	return &Server{
		log:    log.WithField("component", "ops-server"),
		config: config,
		ready:  ready,
	}
}

// Run serves until ctx is done or a listener fails, then shuts everything down
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	observability.StartMetricsServer(s.log, s.config.MetricsAddr)

	if s.config.PProfAddr != nil {
		srv := s.newPProfServer(*s.config.PProfAddr)

		g.Go(func() error {
			return serve(srv)
		})
	}

	if s.config.HealthCheckAddr != nil {
		srv := s.newHealthServer(*s.config.HealthCheckAddr)

		g.Go(func() error {
			return serve(srv)
		})
	}

	g.Go(func() error {
		<-ctx.Done()

		return s.stop()
	})

	return g.Wait()
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pprofServer != nil {
		if err := s.pprofServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Error("failed to shutdown pprof server")
		}
	}

	if s.healthServer != nil {
		if err := s.healthServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Error("failed to shutdown health server")
		}
	}

	if err := observability.StopMetricsServer(ctx); err != nil {
		s.log.WithError(err).Error("failed to stop metrics server")
	}

	return nil
}

func (s *Server) newPProfServer(addr string) *http.Server {
	s.log.WithField("addr", addr).Info("Starting pprof server")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pprofServer = &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 120 * time.Second,
	}

	return s.pprofServer
}

func (s *Server) newHealthServer(addr string) *http.Server {
	s.log.WithField("addr", addr).Info("Starting healthcheck server")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.healthServer = &http.Server{
		Addr:              addr,
		Handler:           s.HealthHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s.healthServer
}

// HealthHandler serves /health (liveness) and /ready (store and Redis reachable)
func (s *Server) HealthHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.ready(ctx); err != nil {
			s.log.WithError(err).Warn("Readiness check failed")
			http.Error(w, err.Error(), http.StatusServiceUnavailable)

			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return mux
}
