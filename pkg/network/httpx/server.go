// Package httpx contains an HTTP server with graceful shutdown and
// optional autocert TLS.
package httpx

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"github.com/imngui/stretch-web-teleop/pkg/logger"
	"golang.org/x/crypto/acme/autocert"
)

type Server struct {
	http.Server

	autoCert *autocert.Manager
	opts     Options
	log      *logger.Logger
}

func NewServer(address string, handler func(*Server) http.Handler, options ...Option) (*Server, error) {
	opts := &Options{
		IdleTimeout:  120 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	opts.override(options...)
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}

	server := &Server{
		Server: http.Server{
			Addr:         address,
			IdleTimeout:  opts.IdleTimeout,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		},
		opts: *opts,
		log:  opts.Logger,
	}
	server.Handler = handler(server)

	if opts.Https && opts.HttpsDomain != "" {
		server.autoCert = &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(opts.HttpsDomain),
			Cache:      autocert.DirCache(opts.HttpsCertCache),
		}
		server.TLSConfig = server.autoCert.TLSConfig()
	} else if opts.Https && opts.HttpsCert != "" {
		cert, err := tls.LoadX509KeyPair(opts.HttpsCert, opts.HttpsKey)
		if err != nil {
			return nil, err
		}
		server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}
	return server, nil
}

// Run starts the server without blocking the caller.
func (s *Server) Run() {
	go func() {
		s.log.Info().Msgf("Starting the server at %v", s.Addr)
		var err error
		if s.opts.Https {
			err = s.ListenAndServeTLS("", "")
		} else {
			err = s.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("The server was closed")
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error { return s.Server.Shutdown(ctx) }
