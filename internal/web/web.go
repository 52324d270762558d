// Package web serves the agenda tools over HTTP.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agendacal/internal/agenda"
	"agendacal/internal/cache"
	"agendacal/internal/config"
	appLog "agendacal/internal/log"
	"agendacal/internal/tools"
)

const maxBodyBytes = 1 << 20

// StatusReporter is the cache status surface /health needs.
type StatusReporter interface {
	Status() cache.Status
}

// Options wires a Server. Tools, Agenda and Cache are required.
type Options struct {
	Tools   *tools.Registry
	Agenda  *agenda.Service
	Cache   StatusReporter
	Auth    config.AuthConfig
	Version string
	// RequestTimeout bounds a single API request (60s when zero). A tool
	// call that waits on a slow first fetch is cut off here, not the fetch.
	RequestTimeout time.Duration
	Now            func() time.Time
}

// Server is the HTTP front-end. Its auth settings can be swapped at runtime
// with SetAuth.
type Server struct {
	tools   *tools.Registry
	agenda  *agenda.Service
	cache   StatusReporter
	version string
	timeout time.Duration
	now     func() time.Time

	auth atomic.Pointer[config.AuthConfig]
	log  appLog.Logger
	mux  chi.Router
}

func NewServer(opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		tools:   opts.Tools,
		agenda:  opts.Agenda,
		cache:   opts.Cache,
		version: opts.Version,
		timeout: opts.RequestTimeout,
		now:     opts.Now,
		log:     appLog.Named("web"),
	}
	s.SetAuth(opts.Auth)
	s.mux = s.routes()
	return s
}

// SetAuth replaces the bearer token and origin allow-list.
func (s *Server) SetAuth(a config.AuthConfig) {
	a.AllowedOrigins = append([]string(nil), a.AllowedOrigins...)
	s.auth.Store(&a)
	s.log.Info("auth settings applied", "bearer_required", a.BearerToken != "", "origins", len(a.AllowedOrigins))
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  func(_ *http.Request, origin string) bool { return s.originAllowed(origin) },
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Bearer", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Use(s.requireOrigin)
		r.Use(middleware.Timeout(s.timeout))

		r.Get("/", s.handleInfo)
		r.Get("/api/tools", s.handleListTools)
		r.Get("/api/tools/{name}", s.handleCallTool)
		r.Post("/api/tools/{name}", s.handleCallTool)
		r.Get("/agenda.ics", s.handleCalendar)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// StartServer serves until ctx is cancelled, then shuts down gracefully
// within grace.
func StartServer(ctx context.Context, listen string, s *Server, grace time.Duration) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting HTTP server", "listen", "http://"+listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	s.log.Info("shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		kv := []any{
			"status", ww.Status(),
			"method", r.Method,
			"path", r.URL.Path,
			"elapsed", elapsed,
			"request_id", middleware.GetReqID(r.Context()),
		}
		if elapsed >= 5*time.Second {
			s.log.Warn("slow request", kv...)
			return
		}
		s.log.Debug("request done", kv...)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
