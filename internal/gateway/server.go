// Package gateway is the HTTP request gateway: one route, three methods.
// GET/HEAD answer readiness probes; POST authenticates, validates, and hands
// a delivery off to the dispatch bridge without waiting on the platform.
package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"relaybot/internal/relay"
	logx "relaybot/pkg/logx"
)

type Config struct {
	// Addr is the listen address. Default ":8080".
	Addr string

	// Route is the single served route. Default "/notify".
	Route string

	// Secret is the shared api-key required on POST.
	Secret string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Server struct {
	cfg Config
	log logx.Logger

	// ready is read on every request; stale values are tolerated (the bridge
	// queue is the second safeguard).
	ready    func() bool
	schedule func(relay.DeliveryRequest)

	mu  sync.Mutex
	ln  net.Listener
	srv *http.Server
}

func New(cfg Config, ready func() bool, schedule func(relay.DeliveryRequest), log logx.Logger) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = ":8080"
	}
	if strings.TrimSpace(cfg.Route) == "" {
		cfg.Route = "/notify"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, log: log, ready: ready, schedule: schedule}
}

// Start listens and serves in the background. Serve errors other than a
// graceful close are returned through the supervisor restart loop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.srv != nil {
		s.mu.Unlock()
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Route, s.handleNotify)

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.ln = ln
	s.srv = srv
	s.mu.Unlock()

	s.log.Info("gateway listening", logx.String("addr", ln.Addr().String()), logx.String("route", s.cfg.Route))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		s.Stop(context.Background())
		return nil
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	ln := s.ln
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()

	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		// Ensure the listener is closed even if Shutdown timed out.
		_ = srv.Close()
		if ln != nil {
			_ = ln.Close()
		}
		s.log.Warn("gateway shutdown forced", logx.Err(err))
		return
	}
	s.log.Info("gateway stopped")
}

// Addr returns the bound listen address ("" when not started).
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}
