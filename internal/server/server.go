// Package server exposes the coordinator over HTTP and a WebSocket event
// stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/colonyops/crew/internal/coordinator"
	"github.com/rs/zerolog"
)

// Options configures the HTTP listener.
type Options struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	OriginPatterns    []string
	Pprof             bool
	Version           string
}

// Server serves the coordinator API.
type Server struct {
	svc        *coordinator.Service
	opts       Options
	log        zerolog.Logger
	httpServer *http.Server
	listener   net.Listener
}

// New builds a Server. Call Start to begin listening.
func New(svc *coordinator.Service, opts Options, log zerolog.Logger) *Server {
	s := &Server{svc: svc, opts: opts, log: log}

	// No read or write timeout: the event stream is long-lived.
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
		IdleTimeout:       opts.IdleTimeout,
	}
	return s
}

// Handler returns the routed handler wrapped in the access log and panic
// recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.routes(mux)

	if s.opts.Pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	return s.recoverer(s.accessLog(mux))
}

// Start binds the listener and serves in the background. Serve errors after
// startup are sent on the returned channel.
func (s *Server) Start(ctx context.Context) (<-chan error, error) {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}
	s.listener = listener
	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }

	s.log.Info().Str("addr", listener.Addr().String()).Msg("coordinator listening")

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	return errChan, nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down coordinator server")
	return s.httpServer.Shutdown(ctx)
}
