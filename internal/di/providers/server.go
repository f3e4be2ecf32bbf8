package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-reader/internal/api"
	"github.com/listenupapp/listenup-reader/internal/config"
	"github.com/listenupapp/listenup-reader/internal/service"
	"github.com/listenupapp/listenup-reader/internal/sse"
)

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
	api     *api.Server
	timeout time.Duration
	// Errors receives the serve error if the server stops unexpectedly.
	Errors <-chan error
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	err := h.Server.Shutdown(ctx)
	h.api.Close()
	return err
}

// ProvideHTTPServer provides the HTTP server, already listening.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	library := do.MustInvoke[*service.LibraryService](i)
	sessions := do.MustInvoke[*SessionServiceHandle](i)

	handler := api.NewServer(api.Services{
		Library:  library,
		Sessions: sessions.SessionService,
	}, sse.NewHandler(sseHandle.Manager, log), api.Config{
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		Burst:             cfg.Server.Burst,
	}, log)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}
	// Event streams never finish on their own.
	srv.RegisterOnShutdown(sseHandle.Manager.DisconnectAll)

	// Listen before returning so that a busy port fails startup.
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		handler.Close()
		return nil, fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}

	errs := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
			errs <- err
		}
		close(errs)
	}()

	log.Info("HTTP server listening", "addr", ln.Addr().String())
	return &HTTPServerHandle{Server: srv, api: handler, timeout: cfg.Server.ShutdownTimeout, Errors: errs}, nil
}
