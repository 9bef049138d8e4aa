package httphandler

import (
	"net/http"
	"time"
)

type Server struct {
	*http.Server
}

// NewServer returns a server for handler on addr.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{Server: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// TryListenAndServe starts the server; if it has not failed after d it
// returns nil and keeps serving in the background.
func (s *Server) TryListenAndServe(d time.Duration) error {
	errC := make(chan error, 1)
	go func() {
		if err := s.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errC <- err
		}
	}()

	select {
	case err := <-errC:
		return err
	case <-time.After(d):
		return nil
	}
}
