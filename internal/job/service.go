package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/maauso/tripreel-api/internal/poll"
	"github.com/maauso/tripreel-api/internal/storage"
)

// ErrJobActive is returned when an operation needs a finished job.
var ErrJobActive = errors.New("job is still running")

// Service holds what story and slideshow jobs share: persistence, scratch
// storage, and the cap on concurrently running jobs.
type Service struct {
	repo    Repository
	storage storage.Storage
	logger  *slog.Logger
	// slots limits how many jobs run at once.
	slots chan struct{}
}

// NewService creates a new Service. maxConcurrent values below 1 are treated as 1.
func NewService(repo Repository, store storage.Storage, logger *slog.Logger, maxConcurrent int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Service{
		repo:    repo,
		storage: store,
		logger:  logger,
		slots:   make(chan struct{}, maxConcurrent),
	}
}

// GetJob retrieves a job by ID.
func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns every job, oldest first.
func (s *Service) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// DeleteJob removes a finished job and its local output video.
// Returns ErrJobActive for jobs that are still queued or running.
func (s *Service) DeleteJob(ctx context.Context, id string) error {
	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !j.IsTerminal() {
		return ErrJobActive
	}

	if j.OutputVideoPath != "" {
		if err := os.Remove(j.OutputVideoPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove output video",
				slog.String("job_id", id),
				slog.String("path", j.OutputVideoPath),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("job deleted", slog.String("job_id", id))
	return nil
}

// create persists a new job.
func (s *Service) create(ctx context.Context, j *Job) error {
	if err := s.repo.Save(ctx, j); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// save persists progress. Failures are logged, not returned, so a flaky
// store never aborts a running job.
func (s *Service) save(ctx context.Context, j *Job) {
	if err := s.repo.Save(context.WithoutCancel(ctx), j); err != nil {
		s.logger.Warn("failed to persist job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
}

// execute waits for a free slot, runs work on the job and records the outcome.
func (s *Service) execute(ctx context.Context, jobID string, work func(context.Context, *Job) error) (*Job, error) {
	j, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		_ = j.Cancel()
		s.save(ctx, j)
		return j, fmt.Errorf("waiting for a free slot: %w", ctx.Err())
	}

	if err := j.Start(); err != nil {
		return j, fmt.Errorf("start job %s: %w", jobID, err)
	}
	s.save(ctx, j)

	log := s.logger.With(slog.String("job_id", j.ID), slog.String("kind", string(j.Kind)))
	log.Info("job started")

	workErr := work(ctx, j)
	s.finish(j, workErr, log)
	s.save(ctx, j)
	return j, workErr
}

// finish moves the job to its terminal state.
func (s *Service) finish(j *Job, err error, log *slog.Logger) {
	switch {
	case err == nil:
		_ = j.Complete()
		log.Info("job completed")
	case errors.Is(err, context.Canceled):
		_ = j.Cancel()
		log.Warn("job cancelled", slog.String("error", err.Error()))
	case errors.Is(err, poll.ErrTimeout), errors.Is(err, poll.ErrAttemptsExhausted):
		_ = j.Timeout(err.Error())
		log.Error("job timed out", slog.String("error", err.Error()))
	default:
		_ = j.Fail(err.Error())
		log.Error("job failed", slog.String("error", err.Error()))
	}
}
