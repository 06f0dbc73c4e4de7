package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	apimw "github.com/hamed0406/waitprobe/internal/httpapi/middleware"
	"github.com/hamed0406/waitprobe/internal/metrics"
	"github.com/hamed0406/waitprobe/internal/repo"
	"github.com/hamed0406/waitprobe/internal/scheduler"
)

const maxListLimit = 500

// Probes is the live side of watch mode, implemented by scheduler.Supervisor.
type Probes interface {
	Live() []scheduler.ProbeStatus
	Terminate(name string) error
}

type Server struct {
	Logger *zap.Logger
	Runs   repo.RunStore
	Probes Probes
}

func NewServer(l *zap.Logger, runs repo.RunStore, probes Probes) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{Logger: l, Runs: runs, Probes: probes}
}

// Options configure the router.
type Options struct {
	Keys apimw.Keys
	// AllowedOrigins for CORS; empty allows any.
	AllowedOrigins []string
	// RatePerMin limits /api requests per caller; 0 disables.
	RatePerMin int
	RateBurst  int
}

func (s *Server) Router(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(metrics.HTTPMiddleware)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(apimw.RateLimit(opts.RatePerMin, opts.RateBurst))
		r.Use(apimw.RequireAny(opts.Keys))

		r.Get("/runs", s.handleListRuns)
		r.Get("/probes", s.handleListProbes)
		r.With(apimw.RequireAdmin(opts.Keys)).Post("/probes/{name}/terminate", s.handleTerminate)
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.Logger.Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// GET /api/runs?probe=name&limit=n lists the history of one probe, newest
// first; without probe it returns the latest run of every probe.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("probe")
	if name == "" {
		runs, err := s.Runs.Latest(r.Context())
		if err != nil {
			s.Logger.Warn("api_latest_error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list error")
			return
		}
		writeJSON(w, http.StatusOK, runs)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}
	runs, err := s.Runs.List(r.Context(), name, limit)
	if err != nil {
		s.Logger.Warn("api_list_error", zap.String("probe", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list error")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleListProbes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Probes.Live())
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.Probes.Terminate(name); err != nil {
		if errors.Is(err, scheduler.ErrUnknownProbe) {
			writeError(w, http.StatusNotFound, "unknown probe")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.Logger.Info("api_terminated", zap.String("probe", name))
	for _, p := range s.Probes.Live() {
		if p.Name == name {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
