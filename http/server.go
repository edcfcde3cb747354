package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/karansahani78/sattrack/config"
	"github.com/karansahani78/sattrack/metrics"
	"github.com/karansahani78/sattrack/services"
	"github.com/karansahani78/sattrack/services/orchestrator"
	slogctx "github.com/veqryn/slog-context"
)

// Server re-serves cached satellite positions to dashboard clients over
// websocket. Browsers send control-plane tracking messages per entity;
// the server keeps the sync running (pool) and relays accepted updates.
type Server struct {
	pool          *orchestrator.Pool
	cache         services.PositionCache
	feedConns     FeedConnManager
	logger        *slog.Logger
	config        *config.Config
	healthChecker *HealthChecker

	httpServer *http.Server
	shutdownWg sync.WaitGroup
}

func New(
	pool *orchestrator.Pool,
	cache services.PositionCache,
	feedConns FeedConnManager,
	logger *slog.Logger,
	cfg *config.Config) *Server {

	return &Server{
		pool:          pool,
		cache:         cache,
		feedConns:     feedConns,
		logger:        logger,
		config:        cfg,
		healthChecker: NewHealthChecker(logger, "1.0.0"),
	}
}

func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWs)

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if s.config.Server.TLS.Enabled {
		tlsConfig, err := s.loadTLSConfig()
		if err != nil {
			return fmt.Errorf("failed to load TLS config: %w", err)
		}
		s.httpServer.TLSConfig = tlsConfig
		s.logger.Info("TLS enabled for feed server")
	}

	s.healthChecker.SetReady(true)

	s.shutdownWg.Add(1)
	go func() {
		defer s.shutdownWg.Done()
		<-ctx.Done()
		s.logger.Info("shutting down feed server")
		s.healthChecker.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(s.config.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("feed server shutdown error", "err", err)
		}
	}()

	s.logger.Info("starting feed server", "address", addr, "tls", s.config.Server.TLS.Enabled)

	var err error
	if s.config.Server.TLS.Enabled {
		err = s.httpServer.ListenAndServeTLS(
			s.config.Server.TLS.CertFile,
			s.config.Server.TLS.KeyFile,
		)
	} else {
		err = s.httpServer.ListenAndServe()
	}

	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("feed server error: %w", err)
	}
	return nil
}

func (s *Server) loadTLSConfig() (*tls.Config, error) {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.CurveP256,
			tls.X25519,
		},
	}, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.healthChecker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(ctx,
		time.Duration(s.config.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error shutting down feed server", "err", err)
			return err
		}
	}

	done := make(chan struct{})
	go func() {
		s.shutdownWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("feed server shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		s.logger.Warn("shutdown timeout exceeded")
		return shutdownCtx.Err()
	}
}

func (s *Server) HealthChecker() *HealthChecker {
	return s.healthChecker
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the dashboard is served from a different origin
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	metrics.FeedConnections.WithLabelValues(metrics.Hostname).Inc()
	connID := uuid.New().String()

	s.feedConns.Register(connID, conn)
	ctx, cancel := context.WithCancel(r.Context())
	ctx = slogctx.NewCtx(ctx, s.logger)
	defer func() {
		cancel()
		s.feedConns.Unregister(connID)
		conn.Close()
		metrics.FeedConnections.WithLabelValues(metrics.Hostname).Dec()
	}()

	bridge := newFeedBridge(connID, conn, s.pool, s.cache, s.feedConns, s.logger)
	bridge.processClientMessages(ctx)
}
