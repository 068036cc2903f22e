package http_server

import (
	"context"
	"net"
	"net/http"

	"github.com/jaennil/guide_helper/tilestream/pkg/config"
)

// NewServer builds the http.Server for the diagnostics surface. Requests
// inherit ctx so handlers can reach the logger attached to it.
func NewServer(ctx context.Context, cfg config.Server, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
