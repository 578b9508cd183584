// Package bootstrap provides dependency initialization for the TripReel API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/maauso/tripreel-api/internal/caption"
	"github.com/maauso/tripreel-api/internal/config"
	"github.com/maauso/tripreel-api/internal/job"
	"github.com/maauso/tripreel-api/internal/media"
	"github.com/maauso/tripreel-api/internal/storage"
	"github.com/maauso/tripreel-api/internal/workflow"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Jobs             *job.Service
	StoryService     *job.StoryService
	SlideshowService *job.SlideshowService

	closers []func()
}

// Close releases connections opened during initialization.
func (d *Dependencies) Close() {
	for _, c := range d.closers {
		c()
	}
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	repo, err := initRepository(ctx, cfg, logger, deps)
	if err != nil {
		return nil, err
	}

	orchestrator, err := initOrchestrator(ctx, cfg, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}

	captioner, err := initCaptioner(ctx, cfg, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}

	processor := media.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath)
	base := job.NewService(repo, store, logger, cfg.MaxConcurrentJobs)

	deps.Jobs = base
	deps.StoryService = job.NewStoryService(base, captioner, processor)
	deps.SlideshowService = job.NewSlideshowService(
		base,
		job.NewMediaAssembler(processor, processor, logger),
		orchestrator,
		job.SlideshowConfig{
			OutputDir:      filepath.Join(cfg.TempDir, "output"),
			OutputKey:      cfg.SlideshowOutputKey,
			FPS:            cfg.SlideshowFPS,
			ImageSeconds:   cfg.ImageSeconds,
			WorkflowPolicy: cfg.WorkflowPollPolicy(),
		},
	)
	return deps, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}

func initRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps *Dependencies) (job.Repository, error) {
	if cfg.JobStore != config.JobStorePostgres {
		logger.Info("in-memory job store configured")
		return job.NewMemoryRepository(), nil
	}

	repo, err := job.NewPostgresRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("create postgres job store: %w", err)
	}
	deps.closers = append(deps.closers, repo.Close)
	logger.Info("postgres job store configured")
	return repo, nil
}

// initOrchestrator returns nil when no workflow provider is configured.
func initOrchestrator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (workflow.Orchestrator, error) {
	switch cfg.WorkflowProvider {
	case config.WorkflowHTTP:
		opts := []workflow.ClientOption{}
		if cfg.WorkflowToken != "" {
			opts = append(opts, workflow.WithToken(cfg.WorkflowToken))
		}
		client, err := workflow.NewHTTPClient(cfg.WorkflowURL, opts...)
		if err != nil {
			return nil, fmt.Errorf("create workflow client: %w", err)
		}
		logger.Info("HTTP workflow orchestrator configured", slog.String("url", cfg.WorkflowURL))
		return client, nil

	case config.WorkflowStepFunctions:
		awsCfg, err := storage.LoadAWSConfig(ctx, cfg.S3Region, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey)
		if err != nil {
			return nil, err
		}
		sfn, err := workflow.NewStepFunctionsFromConfig(awsCfg, cfg.StateMachineARN)
		if err != nil {
			return nil, fmt.Errorf("create Step Functions orchestrator: %w", err)
		}
		logger.Info("Step Functions orchestrator configured", slog.String("state_machine", cfg.StateMachineARN))
		return sfn, nil

	default:
		logger.Info("no workflow orchestrator configured")
		return nil, nil
	}
}

// initCaptioner returns a nil Captioner when no API key is set; story jobs
// then fail with caption.ErrAPIKeyRequired.
func initCaptioner(ctx context.Context, cfg *config.Config, logger *slog.Logger) (job.Captioner, error) {
	if !cfg.CaptionEnabled() {
		logger.Warn("GEMINI_API_KEY not set, story jobs will fail")
		return nil, nil
	}

	c, err := caption.NewGemini(ctx, cfg.GeminiAPIKey,
		caption.WithModel(cfg.GeminiModel),
		caption.WithFilePolicy(cfg.CaptionPollPolicy()),
		caption.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create captioner: %w", err)
	}
	logger.Info("Gemini captioner configured", slog.String("model", c.Model()))
	return c, nil
}
