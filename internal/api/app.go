package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

func newServer(port int, h *Handler) *http.Server {
	// No WriteTimeout: live streams stay open.
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// RunServerInterruptible runs the server in the background in a Go routine and immediately returns a chan to
// the caller. The caller can then send a signal to the chan to gracefully shutdown the server.
// Open live streams are closed by the caller (stream.Registry.CloseAll) before signalling stop.
func RunServerInterruptible(port int, d Deps) (stop chan<- struct{}, done <-chan error) {
	srv := newServer(port, NewHandler(d))

	stopCh := make(chan struct{})
	doneCh := make(chan error, 1)

	go func() {
		log.Printf("kickoff listening on %s\n", srv.Addr)
		err := srv.ListenAndServe()
		// http.ErrServerClosed is returned on Shutdown; treat that as clean exit
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			doneCh <- err
			return
		}
		doneCh <- nil
	}()

	go func() {
		<-stopCh
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()
	return stopCh, doneCh
}
