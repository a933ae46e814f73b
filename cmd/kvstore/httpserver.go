package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
)

// httpServer is a thin Start/Stop wrapper around http.Server, giving
// the metrics listener the same lifecycle shape as the TCP servers it
// runs alongside.
type httpServer struct {
	addr    string
	handler http.Handler
	srv     *http.Server
}

func (h *httpServer) Start() error {
	h.srv = &http.Server{Addr: h.addr, Handler: h.handler}
	go func() {
		if err := h.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", h.addr).Msg("metrics server error")
		}
	}()
	return nil
}

func (h *httpServer) Stop(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}
