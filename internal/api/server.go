// Package api exposes the operator HTTP interface for the runner service.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flowforge/browser-runner/internal/config"
	"github.com/flowforge/browser-runner/internal/database"
	"github.com/flowforge/browser-runner/internal/metrics"
	"github.com/flowforge/browser-runner/internal/queue"
	"github.com/flowforge/browser-runner/internal/task"
)

// StatusSource reports how many messages are currently being processed.
type StatusSource interface {
	InFlight() int
}

// Server wires HTTP handlers to the queue, attempt log, and processor.
type Server struct {
	router   chi.Router
	queue    queue.Provider
	attempts database.Provider
	status   StatusSource
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	q queue.Provider,
	attempts database.Provider,
	status StatusSource,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		queue:    q,
		attempts: attempts,
		status:   status,
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages/test", s.publishTestMessage)
		r.Get("/status", s.getStatus)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.attempts.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// publishTestMessage validates and enqueues a task body, letting operators
// exercise the full pipeline without an upstream producer.
func (s *Server) publishTestMessage(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r, 1<<20)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cls := task.Classify(body)
	if cls.Kind == task.KindInvalid {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid message: %s", cls.Reason))
		return
	}

	publishCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	id, err := s.queue.Publish(publishCtx, body)
	metrics.ObserveQueueOp("publish", err)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("publish failed: %v", err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message_id": id,
		"type":       string(cls.Message.Type),
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	recent, err := s.attempts.ListRecent(r.Context(), 20)
	if err != nil {
		s.logger.Warn("list recent attempts failed", zap.Error(err))
	}
	attempts := make([]map[string]any, 0, len(recent))
	for _, a := range recent {
		attempts = append(attempts, map[string]any{
			"id":          a.ID,
			"message_id":  a.MessageID,
			"project_id":  a.ProjectID,
			"flow_id":     a.FlowID,
			"type":        a.Type,
			"status":      a.Status,
			"duration_ms": a.Duration.Milliseconds(),
			"error":       a.Error,
			"created_at":  a.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"in_flight": s.status.InFlight(),
		"config": map[string]any{
			"queue_provider":   s.cfg.Queue.Provider,
			"storage_provider": s.cfg.Storage.Provider,
			"db_provider":      s.cfg.DB.Provider,
			"concurrency":      s.cfg.Processor.Concurrency,
			"max_sessions":     s.cfg.Browser.MaxSessions,
		},
		"recent_attempts": attempts,
	})
}

func readBody(r *http.Request, limit int64) ([]byte, error) {
	var body json.RawMessage
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, limit))
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	return body, nil
}

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
		s.logger.Info("request completed",
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
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
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

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
