package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lexindo/harvester/internal/harvest"
	"github.com/lexindo/harvester/internal/metrics"
	"github.com/lexindo/harvester/internal/progress/sinks"
	"github.com/lexindo/harvester/internal/scheduler"
)

// Server wires HTTP handlers to the live run state. All endpoints are
// read-only; the run itself is driven by the CLI, not the API.
type Server struct {
	router    chi.Router
	snapshot  *sinks.SnapshotSink
	scheduler *scheduler.Scheduler
	tracker   *harvest.ErrorTracker
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The registry
// backs /metrics and receives the HTTP collectors; snapshot, scheduler, and
// tracker back the progress endpoints and may be nil when the corresponding
// surface is not wired.
func NewServer(
	registry *prometheus.Registry,
	snapshot *sinks.SnapshotSink,
	sched *scheduler.Scheduler,
	tracker *harvest.ErrorTracker,
	logger *zap.Logger,
) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		snapshot:  snapshot,
		scheduler: sched,
		tracker:   tracker,
		logger:    logger,
	}
	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(httpMetrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/progress", s.getProgress)
		r.Get("/pages", s.getPages)
		r.Get("/errors", s.getErrors)
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve runs the HTTP server until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// getProgress returns the folded event snapshot: pages accepted, degraded,
// failed, retries, items, and artifact counters.
func (s *Server) getProgress(w http.ResponseWriter, _ *http.Request) {
	if s.snapshot == nil {
		s.writeError(w, http.StatusServiceUnavailable, "progress snapshot unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, s.snapshot.Snapshot())
}

// getPages returns the scheduler's per-page view of the run.
func (s *Server) getPages(w http.ResponseWriter, _ *http.Request) {
	if s.scheduler == nil {
		s.writeError(w, http.StatusServiceUnavailable, "scheduler unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"scraped":  s.scheduler.ScrapedPages(),
		"degraded": s.scheduler.DegradedPages(),
		"failed":   s.scheduler.FailedPages(),
		"pending":  s.scheduler.Pending(),
		"items":    s.scheduler.TotalItems(),
	})
}

// getErrors returns the per-category error summary with suggestions.
func (s *Server) getErrors(w http.ResponseWriter, _ *http.Request) {
	if s.tracker == nil {
		s.writeError(w, http.StatusServiceUnavailable, "error tracker unavailable")
		return
	}
	summary := s.tracker.Summary()
	type entry struct {
		harvest.CategorySummary
		Suggestion string `json:"suggestion"`
	}
	entries := make([]entry, 0, len(summary))
	for _, cat := range summary {
		entries = append(entries, entry{
			CategorySummary: cat,
			Suggestion:      s.tracker.Suggest(cat.Category),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"categories": entries})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

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
