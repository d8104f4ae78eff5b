package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/alma-bulk/internal/index"
	"github.com/JakeFAU/alma-bulk/internal/metrics"
	"github.com/JakeFAU/alma-bulk/internal/mous"
)

// DefaultTopErrors is used when /v1/status carries no top parameter.
const DefaultTopErrors = 10

// Store is the read side of the index the server needs.
type Store interface {
	Ping(ctx context.Context) error
	Report(ctx context.Context, topN int) (index.Report, error)
	GetUnit(ctx context.Context, mousUID string) (index.Unit, error)
	EBs(ctx context.Context, mousUID string) ([]string, error)
	Artifacts(ctx context.Context, mousUID string) ([]index.ArtifactRow, error)
}

// Server wires HTTP handlers to the index store.
type Server struct {
	router chi.Router
	store  Store
	logger *zap.Logger
}

// UnitDetail is the /v1/units response body.
type UnitDetail struct {
	Unit      index.Unit          `json:"unit"`
	EBs       []string            `json:"eb_uids"`
	Artifacts []index.ArtifactRow `json:"artifacts"`
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{store: store, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/status.txt", s.statusText)
		r.Get("/units/{segment}", s.unit)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "index store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) (index.Report, bool) {
	top := DefaultTopErrors
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "top must be a non-negative integer")
			return index.Report{}, false
		}
		top = n
	}
	rep, err := s.store.Report(r.Context(), top)
	if err != nil {
		s.logger.Error("build status report", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to build report")
		return index.Report{}, false
	}
	return rep, true
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	if rep, ok := s.report(w, r); ok {
		s.writeJSON(w, http.StatusOK, rep)
	}
}

func (s *Server) statusText(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.report(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := index.FormatReport(w, rep); err != nil {
		s.logger.Error("write status report", zap.Error(err))
	}
}

func (s *Server) unit(w http.ResponseWriter, r *http.Request) {
	uid := unitUID(chi.URLParam(r, "segment"))
	if uid == "" {
		s.writeError(w, http.StatusBadRequest, "invalid unit identifier")
		return
	}
	u, err := s.store.GetUnit(r.Context(), uid)
	if errors.Is(err, sql.ErrNoRows) {
		s.writeError(w, http.StatusNotFound, "unit not found")
		return
	}
	if err != nil {
		s.logger.Error("get unit", zap.String("mous_uid", uid), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load unit")
		return
	}
	ebs, err := s.store.EBs(r.Context(), uid)
	if err != nil {
		s.logger.Error("get unit ebs", zap.String("mous_uid", uid), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load unit")
		return
	}
	arts, err := s.store.Artifacts(r.Context(), uid)
	if err != nil {
		s.logger.Error("get unit artifacts", zap.String("mous_uid", uid), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load unit")
		return
	}
	if ebs == nil {
		ebs = []string{}
	}
	if arts == nil {
		arts = []index.ArtifactRow{}
	}
	s.writeJSON(w, http.StatusOK, UnitDetail{Unit: u, EBs: ebs, Artifacts: arts})
}

// unitUID accepts a path segment or an escaped uid:// identifier.
func unitUID(param string) string {
	raw, err := url.PathUnescape(param)
	if err != nil {
		return ""
	}
	if strings.HasPrefix(raw, "uid://") {
		return raw
	}
	return mous.UIDFromPathSegment(raw)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal server error"}` + "\n"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
