// Package diag exposes a loopback-only diagnostics HTTP server: a health
// check and a read-only JSON dump of every monitor's current state. It is
// an ambient operational surface outside the AMQP control plane, grounded
// on the teacher's internal/server.Server chi wiring, trimmed to the two
// endpoints this agent needs.
package diag

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SnapshotFunc returns whatever the caller wants the /monitors endpoint to dump;
// the controller supplies a closure over its live monitor kernels.
type SnapshotFunc func() map[string]any

// Serve starts the diagnostics server on addr (expected to be a loopback
// address, e.g. 127.0.0.1:8732) and blocks until ctx is canceled, then
// shuts down gracefully. It refuses to bind a non-loopback address, since
// this surface carries no authentication of its own.
func Serve(ctx context.Context, addr string, snapshot SnapshotFunc, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "diag")

	if err := requireLoopback(addr); err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	})

	r.Get("/monitors", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshot())
	})

	srv := &http.Server{Addr: addr, Handler: r}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("diagnostics server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// requireLoopback rejects any addr whose host doesn't resolve to a
// loopback IP, so a misconfigured bind address never exposes unauth'd
// monitor state beyond the host.
func requireLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return errors.New("diag server address must be loopback-only")
	}
	return nil
}
