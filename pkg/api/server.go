package api

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/logger"
)

const (
	readBufferSize       = 16 * 1024
	maxRequestBodySize   = 64 * 1024 // admin endpoints take no bodies
	readTimeout          = 10 * time.Second
	writeTimeout         = 30 * time.Second // scans can return a full page
	idleTimeout          = 30 * time.Second
	maxKeepaliveDuration = 2 * time.Minute
)

// Server is the admin listener.
type Server struct {
	addr string
	srv  *fasthttp.Server
}

func NewServer(addr string, h fasthttp.RequestHandler) *Server {
	return &Server{
		addr: addr,
		srv: &fasthttp.Server{
			Name:                 "idtable-admin",
			Handler:              h,
			ReadBufferSize:       readBufferSize,
			MaxRequestBodySize:   maxRequestBodySize,
			ReduceMemoryUsage:    true,
			ReadTimeout:          readTimeout,
			WriteTimeout:         writeTimeout,
			IdleTimeout:          idleTimeout,
			MaxKeepaliveDuration: maxKeepaliveDuration,
		},
	}
}

func (s *Server) Addr() string { return s.addr }

// Start serves in the background. The channel delivers the listener's
// exit error, nil after a clean Shutdown.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin_listening", "addr", s.addr)
		errCh <- s.srv.ListenAndServe(s.addr)
	}()
	return errCh
}

// Shutdown stops accepting connections and waits for open ones, up to
// ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.srv.Shutdown() }()
	select {
	case err := <-done:
		logger.Info("admin_stopped", "addr", s.addr)
		return err
	case <-ctx.Done():
		logger.Warn("admin_shutdown_timeout", "addr", s.addr)
		return ctx.Err()
	}
}
