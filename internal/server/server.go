// Package server exposes the pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tendant/simple-docparser/internal/pipeline"
	"github.com/tendant/simple-docparser/pkg/schema"
)

const (
	maxRequestBytes = 1 << 20
	healthProbeKey  = ".healthz"
)

// Runner runs one job for an input key.
type Runner interface {
	Run(ctx context.Context, key string) (*schema.JobResult, error)
}

// Prober checks that the object store answers.
type Prober interface {
	Exists(ctx context.Context, key string) (bool, error)
}

type Options struct {
	MaxConcurrentJobs int
	JobTimeout        time.Duration
	Metrics           http.Handler
	Track             func() func()
	Logger            *slog.Logger
}

type Server struct {
	runner Runner
	store  Prober
	opts   Options
	slots  chan struct{}
	logger *slog.Logger
}

func New(runner Runner, store Prober, opts Options) *Server {
	if opts.MaxConcurrentJobs < 1 {
		opts.MaxConcurrentJobs = 1
	}
	if opts.Track == nil {
		opts.Track = func() func() { return func() {} }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		runner: runner,
		store:  store,
		opts:   opts,
		slots:  make(chan struct{}, opts.MaxConcurrentJobs),
		logger: logger,
	}
}

// Router builds the chi router with middleware and routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(s.recovery)

	r.Get("/healthz", s.health)
	r.Post("/run", s.run)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}
	return r
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	var req schema.JobRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, schema.JobReply{Error: "invalid request body: " + err.Error()})
		return
	}
	key := strings.TrimSpace(req.Input.ObjectPath)
	if key == "" {
		writeJSON(w, http.StatusBadRequest, schema.JobReply{Error: "input.object_path is required"})
		return
	}

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-r.Context().Done():
		writeJSON(w, http.StatusServiceUnavailable, schema.JobReply{Error: "request cancelled while waiting for a job slot"})
		return
	}
	defer s.opts.Track()()

	ctx := r.Context()
	if s.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.JobTimeout)
		defer cancel()
	}

	res, err := s.runner.Run(ctx, key)
	writeJSON(w, statusFor(err), pipeline.Reply(res, err))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if _, err := s.store.Exists(ctx, healthProbeKey); err != nil {
		s.logger.Warn("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps a pipeline error to an HTTP status.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, pipeline.ErrInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrConversion), errors.Is(err, pipeline.ErrPublish):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered",
					"err", err,
					"stack", string(debug.Stack()),
					"method", r.Method,
					"path", r.URL.Path,
				)
				writeJSON(w, http.StatusInternalServerError, schema.JobReply{Error: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves the router on addr until ctx is cancelled, then
// shuts down, letting running jobs finish within grace.
func (s *Server) ListenAndServe(ctx context.Context, addr string, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
