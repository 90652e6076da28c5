// Package worker consumes optimize and cleanup tasks from the asynq queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/pixelopt/internal/config"
	"github.com/dunamismax/pixelopt/internal/domain"
	"github.com/dunamismax/pixelopt/internal/queue"
	"github.com/dunamismax/pixelopt/internal/service"
	"github.com/dunamismax/pixelopt/internal/storage"
	"github.com/dunamismax/pixelopt/internal/store"
	"github.com/dunamismax/pixelopt/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type reoptimizer interface {
	Reoptimize(ctx context.Context, safeFilename string, opts domain.ProcessingOptions) (service.Outcome, error)
}

type sweeper interface {
	RunOnce(ctx context.Context) (int, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// Deps are the collaborators a worker needs. Usage and Webhooks may be nil.
type Deps struct {
	Optimizer reoptimizer
	Jobs      store.JobStore
	Usage     store.UsageRecorder
	Webhooks  webhookSender
	Janitor   sweeper
}

type Server struct {
	logger    zerolog.Logger
	server    *asynq.Server
	scheduler *asynq.Scheduler
	queueName string
	interval  time.Duration
	sem       chan struct{}
	deps      Deps
	metrics   *metrics
	tracer    trace.Tracer
}

func NewServer(logger zerolog.Logger, cfg config.Config, deps Deps) (*Server, error) {
	if deps.Optimizer == nil || deps.Jobs == nil || deps.Janitor == nil {
		return nil, errors.New("optimizer, job store and janitor are required")
	}
	if deps.Usage == nil {
		deps.Usage = store.DiscardUsage{}
	}

	redisOpt := cfg.Queue.RedisClientOpt()
	alog := asynqLogger{logger: logger.With().Str("subsystem", "asynq").Logger()}

	s := &Server{
		logger:    logger,
		queueName: cfg.Queue.Name,
		interval:  cfg.Cleanup.Interval,
		sem:       make(chan struct{}, max(1, cfg.Worker.MaxActiveJobs)),
		deps:      deps,
		metrics:   newMetrics(),
		tracer:    otel.Tracer("github.com/dunamismax/pixelopt/internal/worker"),
	}
	s.server = asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues:      map[string]int{cfg.Queue.Name: 1},
		Logger:      alog,
		LogLevel:    asynq.InfoLevel,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Warn().Err(err).
				Str("type", task.Type()).
				Int("retry", retried).
				Int("max_retry", maxRetry).
				Msg("task failed")
		}),
	})
	s.scheduler = asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   alog,
		LogLevel: asynq.InfoLevel,
	})
	return s, nil
}

// Handler routes task types to their handlers.
func (s *Server) Handler() asynq.Handler {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeOptimizeImage, s.handleOptimize)
	mux.HandleFunc(queue.TypeCleanupFiles, s.handleCleanup)
	return mux
}

// Run processes tasks and schedules periodic cleanup until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	spec := "@every " + s.interval.String()
	if _, err := s.scheduler.Register(spec, queue.NewCleanupTask(),
		asynq.Queue(s.queueName),
		asynq.Unique(s.interval),
	); err != nil {
		return fmt.Errorf("register cleanup schedule: %w", err)
	}

	if err := s.server.Start(s.Handler()); err != nil {
		return fmt.Errorf("start task server: %w", err)
	}
	if err := s.scheduler.Start(); err != nil {
		s.server.Shutdown()
		return fmt.Errorf("start scheduler: %w", err)
	}
	s.logger.Info().Str("queue", s.queueName).Str("cleanup_every", s.interval.String()).Msg("worker started")

	<-ctx.Done()
	s.scheduler.Shutdown()
	s.server.Shutdown()
	s.logger.Info().Msg("worker stopped")
	return nil
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleOptimize(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	status, kind := domain.JobStatusFailed, ""

	payload, err := queue.ParseOptimizePayload(task)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.optimize", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.output_format", payload.Options.OutputFormat),
		attribute.String("job.preset", payload.Options.Preset),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(status).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(status, kind).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	log := s.logger.With().Str("job_id", payload.JobID).Str("file", payload.SafeFilename).Logger()
	log.Info().Msg("optimizing")
	s.updateJob(ctx, payload.JobID, func(j *domain.Job) { j.Status = domain.JobStatusProcessing })

	outcome, err := s.deps.Optimizer.Reoptimize(ctx, payload.SafeFilename, payload.Options)
	if err != nil {
		kind = domain.ErrorKind(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)

		if retryable(err) && !finalAttempt(ctx) {
			status = domain.JobStatusQueued
			s.updateJob(ctx, payload.JobID, func(j *domain.Job) { j.Status = domain.JobStatusQueued })
			return fmt.Errorf("optimize: %w", err)
		}

		log.Error().Err(err).Str("kind", kind).Msg("optimize failed")
		job := s.updateJob(ctx, payload.JobID, func(j *domain.Job) {
			j.Status = domain.JobStatusFailed
			j.Error = err.Error()
		})
		s.notify(ctx, payload, job)
		return fmt.Errorf("optimize: %w: %w", err, asynq.SkipRetry)
	}

	compute := time.Since(startedAt)
	status = domain.JobStatusSucceeded
	span.SetAttributes(
		attribute.String("image.target_format", string(outcome.Result.TargetFormat)),
		attribute.Float64("image.reduction_percent", outcome.Result.ReductionPercent),
	)
	span.SetStatus(codes.Ok, "optimized")
	log.Info().
		Str("output", outcome.OutputName).
		Int64("reduction_bytes", outcome.Result.ReductionBytes).
		Dur("took", compute).
		Msg("optimized")

	job := s.updateJob(ctx, payload.JobID, func(j *domain.Job) {
		j.Status = domain.JobStatusSucceeded
		j.OutputName = outcome.OutputName
		j.Result = &outcome.Result
		j.Error = ""
	})
	s.recordUsage(ctx, payload, outcome.Result, compute)
	s.notify(ctx, payload, job)
	return nil
}

func (s *Server) handleCleanup(ctx context.Context, _ *asynq.Task) error {
	removed, err := s.deps.Janitor.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	s.metrics.filesExpiredTotal.Add(float64(removed))
	return nil
}

// retryable reports failures that may succeed on another attempt. Pipeline rejections and
// missing originals are deterministic.
func retryable(err error) bool {
	switch {
	case domain.ErrorKind(err) != "Internal":
		return false
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrInvalidKey):
		return false
	default:
		return true
	}
}

func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return retried >= maxRetry
}

// updateJob returns the job after mutation, or nil when the record is gone.
func (s *Server) updateJob(ctx context.Context, id string, mutate func(*domain.Job)) *domain.Job {
	job, err := s.deps.Jobs.Update(ctx, id, mutate)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", id).Msg("job update failed")
		return nil
	}
	return &job
}

func (s *Server) recordUsage(ctx context.Context, payload queue.OptimizePayload, res domain.OptimizationResult, compute time.Duration) {
	usage := domain.NewUsageLog(payload.ClientID, payload.JobID, res, compute)
	if err := s.deps.Usage.RecordUsage(ctx, usage); err != nil {
		s.logger.Warn().Err(err).Str("job_id", payload.JobID).Msg("usage log write failed")
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(usage.PixelsProcessed))
	s.metrics.bytesSavedTotal.Add(float64(usage.BytesSaved))
	s.metrics.computeTimeMSTotal.Add(float64(usage.ComputeTimeMS))
}

// notify delivers the completion webhook. Delivery failures are logged; they never fail the job.
func (s *Server) notify(ctx context.Context, payload queue.OptimizePayload, job *domain.Job) {
	if payload.WebhookURL == "" || s.deps.Webhooks == nil || job == nil {
		return
	}
	event, body := webhook.PayloadFor(*job)
	if err := s.deps.Webhooks.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Warn().Err(err).Str("job_id", payload.JobID).Str("event", event).Msg("webhook delivery failed")
	}
}
