// Package httpserver wraps net/http.Server with the graceful-shutdown
// lifecycle from teacher's http_server.go, shared by cmd/as and cmd/rs.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	ReadTimeout     = 5 * time.Second
	WriteTimeout    = 30 * time.Second
	IdleTimeout     = 60 * time.Second
	ShutdownTimeout = 25 * time.Second
)

// Server is a chi-compatible router bound to an address, with graceful
// shutdown on context cancellation.
type Server struct {
	Router http.Handler
	Addr   string
}

// Serve blocks until ctx is cancelled or the server fails to start,
// shutting down gracefully within ShutdownTimeout.
func (s *Server) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.Addr,
		Handler:      s.Router,
		ReadTimeout:  ReadTimeout,
		WriteTimeout: WriteTimeout,
		IdleTimeout:  IdleTimeout,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())

	go func() {
		<-ctx.Done()
		server.SetKeepAlivesEnabled(false)

		timeoutCtx, cancel := context.WithTimeout(shutdownCtx, ShutdownTimeout)
		defer cancel()
		defer shutdownCancel()

		if err := server.Shutdown(timeoutCtx); err != nil {
			log.Warnf("could not gracefully shut down %s: %v", s.Addr, err)
		} else {
			log.Debugf("shut down HTTP server at %s", s.Addr)
		}
	}()

	log.Infof("starting HTTP server on %s", s.Addr)
	err := server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("error starting HTTP server: %w", err)
	}

	<-shutdownCtx.Done()
	return nil
}
