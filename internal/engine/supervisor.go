// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"
)

// httpService adapts an *http.Server to suture.Service: Serve blocks until
// ctx is cancelled (graceful shutdown) or the listener fails outright.
type httpService struct {
	listener net.Listener
	handler  http.Handler
}

// NewHTTPService binds addr immediately so a port-in-use error surfaces at
// construction time rather than inside the supervised goroutine.
func NewHTTPService(addr string, handler http.Handler) (*httpService, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &httpService{listener: ln, handler: handler}, nil
}

func (s *httpService) Serve(ctx context.Context) error {
	srv := &http.Server{Handler: s.handler}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(s.listener) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// BuildSupervisor assembles the engine's always-on helper services (HTTP
// server, mDNS advertiser) under one suture tree so a panic in either
// restarts that service without taking the other, or the camera
// supervisors, down with it.
func BuildSupervisor(services ...suture.Service) *suture.Supervisor {
	sup := suture.NewSimple("stageview")
	for _, svc := range services {
		sup.Add(svc)
	}
	return sup
}
