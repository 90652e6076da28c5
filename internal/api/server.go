// Package api serves the upload/optimize HTTP interface and the async job endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/dunamismax/pixelopt/internal/config"
	"github.com/dunamismax/pixelopt/internal/domain"
	"github.com/dunamismax/pixelopt/internal/preset"
	"github.com/dunamismax/pixelopt/internal/queue"
	"github.com/dunamismax/pixelopt/internal/ratelimit"
	"github.com/dunamismax/pixelopt/internal/service"
	"github.com/dunamismax/pixelopt/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type optimizer interface {
	StoreOriginal(ctx context.Context, safeFilename string, data []byte, contentType string) error
	Optimize(ctx context.Context, safeFilename string, data []byte, opts domain.ProcessingOptions) (service.Outcome, error)
	Reoptimize(ctx context.Context, name string, opts domain.ProcessingOptions) (service.Outcome, error)
	ResolveOriginal(ctx context.Context, name string) (string, error)
	Open(ctx context.Context, kind, name string) ([]byte, error)
	Discard(ctx context.Context, outputName string) error
}

type queueEnqueuer interface {
	EnqueueOptimize(ctx context.Context, payload queue.OptimizePayload) (*asynq.TaskInfo, error)
}

type purger interface {
	PurgeAll(ctx context.Context) (int, error)
}

// Deps are the collaborators behind the HTTP handlers. Queue may be nil, which disables the
// async job endpoints; Limiter may be nil, which disables rate limiting.
type Deps struct {
	Files   optimizer
	Presets preset.Table
	Jobs    store.JobStore
	Queue   queueEnqueuer
	Limiter ratelimit.Limiter
	Janitor purger
}

type Server struct {
	logger              zerolog.Logger
	deps                Deps
	maxUploadBytes      int64
	requestTimeout      time.Duration
	deleteAfterDownload bool
	now                 func() time.Time
	metrics             *metrics
	tracer              trace.Tracer
	router              chi.Router
}

func NewServer(logger zerolog.Logger, cfg config.Config, deps Deps) *Server {
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.Unlimited{}
	}

	s := &Server{
		logger:              logger,
		deps:                deps,
		maxUploadBytes:      cfg.Limits.MaxUploadBytes,
		requestTimeout:      cfg.API.RequestTimeout,
		deleteAfterDownload: cfg.API.DeleteAfterDownload,
		now:                 time.Now,
		metrics:             newMetrics(),
		tracer:              otel.Tracer("github.com/dunamismax/pixelopt/internal/api"),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.withTracing)
	r.Use(s.withObservability)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.handler())
	r.Get("/download/{filename}", s.handleDownload)
	r.Get("/preview/{kind}/{filename}", s.handlePreview)
	r.Get("/v1/jobs/{id}", s.handleGetJob)

	r.Group(func(r chi.Router) {
		r.Use(s.withRateLimit)
		r.Post("/upload", s.handleUpload)
		r.Post("/reoptimize", s.handleReoptimize)
		r.Post("/cleanup-all", s.handleCleanupAll)
		r.Post("/v1/jobs", s.handleCreateJob)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "image-optimization",
	})
}
