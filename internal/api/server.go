package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// AdminServer serves the admin router on a local address.
type AdminServer struct {
	addr   string
	log    *zap.Logger
	server *http.Server
	ready  chan net.Addr
}

// NewAdminServer constructs an AdminServer without starting it.
func NewAdminServer(addr string, handler http.Handler, log *zap.Logger) *AdminServer {
	return &AdminServer{
		addr: addr,
		log:  log,
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		ready: make(chan net.Addr, 1),
	}
}

// Ready yields the bound address once the listener is up.
func (a *AdminServer) Ready() <-chan net.Addr { return a.ready }

// Run listens and serves until ctx is cancelled, then shuts down gracefully.
func (a *AdminServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", a.addr, err)
	}
	a.log.Info("admin api listening", zap.String("addr", ln.Addr().String()))
	a.ready <- ln.Addr()

	srvErr := make(chan error, 1)
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("context cancelled, shutting down admin api")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutCtx)
	case err := <-srvErr:
		return err
	}
}
