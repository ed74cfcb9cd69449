// Package srv serves the run history and on-demand checks over HTTP.
package srv

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	worker "permitcheck.dev/worker"
	"permitcheck.dev/worker/park"
)

// CheckRequest is the body of POST /api/check.
type CheckRequest struct {
	Park          string   `json:"park"`
	Lodges        []string `json:"lodges"`
	Start         string   `json:"start"`
	End           string   `json:"end"`
	TeamSize      int      `json:"team_size"`
	CheckRetained bool     `json:"check_retained"`
}

// CheckFunc runs and records one check.
type CheckFunc func(ctx context.Context, req CheckRequest) (*worker.Report, error)

type Server struct {
	Runs     *worker.RunStore
	Registry *park.Registry
	// Check is nil when on-demand checks are disabled.
	Check CheckFunc
}

func New(runs *worker.RunStore, registry *park.Registry, check CheckFunc) *Server {
	return &Server{Runs: runs, Registry: registry, Check: check}
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/parks", s.HandleListParks)
	mux.HandleFunc("GET /api/runs", s.HandleListRuns)
	mux.HandleFunc("GET /api/runs/{id}/windows", s.HandleListWindows)
	mux.Handle("POST /api/check", basicAuthMiddleware(http.HandlerFunc(s.HandleCheck)))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			slog.Warn("server shutdown", "error", err)
		}
	}()

	slog.Info("starting server", "addr", addr)
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// basicAuthMiddleware wraps a handler with HTTP Basic Authentication.
// Credentials are read from environment variables ADMIN_USER and ADMIN_PASS.
// If either is not set, authentication is disabled.
func basicAuthMiddleware(next http.Handler) http.Handler {
	user := os.Getenv("ADMIN_USER")
	pass := os.Getenv("ADMIN_PASS")

	if user == "" || pass == "" {
		slog.Warn("ADMIN_USER or ADMIN_PASS not set, check endpoint has no authentication")
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="permitcheck"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
