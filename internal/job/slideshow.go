package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/maauso/tripreel-api/internal/archive"
	"github.com/maauso/tripreel-api/internal/assembly"
	"github.com/maauso/tripreel-api/internal/media"
	"github.com/maauso/tripreel-api/internal/poll"
	"github.com/maauso/tripreel-api/internal/storage"
	"github.com/maauso/tripreel-api/internal/workflow"
)

// DefaultOutputKey is the S3 key template for assembled slideshows.
const DefaultOutputKey = "slideshows/{job_id}.mp4"

// Assembler turns input files into one video.
type Assembler interface {
	Assemble(ctx context.Context, job assembly.Job, onProgress func(frames int)) (*assembly.Report, error)
}

// MediaAssembler runs assembly.Assembler over a media decoder and encoder.
type MediaAssembler struct {
	decoder media.Decoder
	encoder media.Encoder
	logger  *slog.Logger
}

// NewMediaAssembler creates a MediaAssembler.
func NewMediaAssembler(dec media.Decoder, enc media.Encoder, logger *slog.Logger) *MediaAssembler {
	return &MediaAssembler{decoder: dec, encoder: enc, logger: logger}
}

// Assemble builds a fresh assembly.Assembler per call so progress hooks are not shared.
func (m *MediaAssembler) Assemble(ctx context.Context, job assembly.Job, onProgress func(frames int)) (*assembly.Report, error) {
	a := assembly.New(m.decoder, m.encoder,
		assembly.WithLogger(m.logger),
		assembly.WithProgressHook(onProgress),
	)
	return a.Assemble(ctx, job)
}

// SlideshowInput contains the input parameters for a slideshow job.
type SlideshowInput struct {
	// Files are uploaded local files. Zip archives among them are extracted.
	Files []string
	// FolderURI is an optional s3://bucket/prefix with more inputs.
	FolderURI string
	// FPS is the output frame rate. Zero uses the service default.
	FPS float64
	// ImageSeconds is how long each image is shown. Zero uses the service default.
	ImageSeconds float64
}

// SlideshowConfig holds the settings of a SlideshowService.
type SlideshowConfig struct {
	// OutputDir is where finished videos are written.
	OutputDir string
	// OutputKey is the S3 key template; {job_id} is substituted.
	OutputKey    string
	FPS          float64
	ImageSeconds float64
	// WorkflowPolicy bounds the wait for the orchestrator execution.
	WorkflowPolicy poll.Policy
	// ArchiveLimits bounds zip extraction.
	ArchiveLimits archive.Limits
}

// SlideshowService assembles uploaded media into a video, uploads it and
// hands it to the workflow orchestrator.
type SlideshowService struct {
	*Service
	assembler    Assembler
	orchestrator workflow.Orchestrator
	cfg          SlideshowConfig
}

// NewSlideshowService creates a new SlideshowService. orchestrator may be
// nil, in which case the orchestrating stage is skipped.
func NewSlideshowService(base *Service, assembler Assembler, orchestrator workflow.Orchestrator, cfg SlideshowConfig) *SlideshowService {
	if cfg.OutputKey == "" {
		cfg.OutputKey = DefaultOutputKey
	}
	if cfg.FPS <= 0 {
		cfg.FPS = assembly.DefaultFrameRate
	}
	if cfg.ImageSeconds <= 0 {
		cfg.ImageSeconds = assembly.DefaultImageSeconds
	}
	if cfg.ArchiveLimits == (archive.Limits{}) {
		cfg.ArchiveLimits = archive.DefaultLimits()
	}
	if cfg.WorkflowPolicy == (poll.Policy{}) {
		cfg.WorkflowPolicy = poll.DefaultPolicy()
	}
	return &SlideshowService{
		Service:      base,
		assembler:    assembler,
		orchestrator: orchestrator,
		cfg:          cfg,
	}
}

// SaveUpload stores an uploaded file in scratch storage and returns its path.
func (s *SlideshowService) SaveUpload(ctx context.Context, name string, r io.Reader) (string, error) {
	path, err := s.storage.SaveTemp(ctx, name, r)
	if err != nil {
		return "", fmt.Errorf("save upload %s: %w", name, err)
	}
	return path, nil
}

// Discard removes uploaded files that will not be processed.
func (s *SlideshowService) Discard(ctx context.Context, paths []string) {
	if err := s.storage.CleanupTemp(ctx, paths); err != nil {
		s.logger.Warn("failed to remove uploads", slog.String("error", err.Error()))
	}
}

// CreateJob creates a slideshow job in IN_QUEUE status.
func (s *SlideshowService) CreateJob(ctx context.Context, input SlideshowInput) (*Job, error) {
	j := New(KindSlideshow)
	j.SourceURI = input.FolderURI
	j.FPS = s.fps(input)
	j.ImageSeconds = s.imageSeconds(input)

	s.logger.Info("creating new job",
		slog.String("job_id", j.ID),
		slog.String("kind", string(j.Kind)),
		slog.Int("uploads", len(input.Files)),
		slog.String("source", input.FolderURI),
		slog.Float64("fps", j.FPS),
		slog.Float64("image_seconds", j.ImageSeconds),
	)

	if err := s.create(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// ProcessExistingJob runs the slideshow pipeline for a job created by CreateJob.
// Uploaded files are removed once the job ends.
func (s *SlideshowService) ProcessExistingJob(ctx context.Context, jobID string, input SlideshowInput) (*Job, error) {
	defer s.Discard(context.WithoutCancel(ctx), input.Files)

	return s.execute(ctx, jobID, func(ctx context.Context, j *Job) error {
		log := s.logger.With(slog.String("job_id", j.ID))

		j.SetStage(StageCollecting)
		s.save(ctx, j)

		workDir, err := s.storage.MakeTempDir(ctx, j.ID)
		if err != nil {
			return fmt.Errorf("create work dir: %w", err)
		}
		defer func() { _ = s.storage.CleanupTemp(context.WithoutCancel(ctx), []string{workDir}) }()

		paths, err := s.collect(ctx, input, workDir)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return ErrNoMedia
		}
		log.Info("inputs collected", slog.Int("files", len(paths)))

		j.SetStage(StageAssembling)
		j.UpdateProgress(10)
		s.save(ctx, j)

		rep, err := s.assemble(ctx, j, paths)
		if err != nil {
			return err
		}

		j.SetStage(StageUploading)
		j.UpdateProgress(70)
		s.save(ctx, j)

		obj, err := s.upload(ctx, j)
		if errors.Is(err, storage.ErrS3NotConfigured) {
			log.Info("S3 not configured, keeping local output", slog.String("path", j.OutputVideoPath))
			return nil
		}
		if err != nil {
			return err
		}
		j.SetOutput(obj.Key, obj.URL)
		j.UpdateProgress(80)
		s.save(ctx, j)

		if s.orchestrator == nil {
			return nil
		}

		j.SetStage(StageOrchestrating)
		s.save(ctx, j)
		return s.orchestrate(ctx, j, obj, rep)
	})
}

// collect gathers local input paths: uploads, extracted archives and the
// contents of the S3 folder.
func (s *SlideshowService) collect(ctx context.Context, input SlideshowInput, workDir string) ([]string, error) {
	files := append([]string(nil), input.Files...)

	if input.FolderURI != "" {
		dir := filepath.Join(workDir, "s3")
		downloaded, err := s.storage.DownloadFolder(ctx, input.FolderURI, dir)
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", input.FolderURI, err)
		}
		files = append(files, downloaded...)
	}

	var paths []string
	for i, f := range files {
		if !archive.IsArchive(f) {
			paths = append(paths, f)
			continue
		}
		dir := filepath.Join(workDir, fmt.Sprintf("archive_%d", i))
		extracted, err := archive.Extract(ctx, f, dir, s.cfg.ArchiveLimits)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", filepath.Base(f), err)
		}
		paths = append(paths, extracted...)
	}
	return paths, nil
}

func (s *SlideshowService) assemble(ctx context.Context, j *Job, paths []string) (*assembly.Report, error) {
	if err := os.MkdirAll(s.cfg.OutputDir, 0750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	out := filepath.Join(s.cfg.OutputDir, j.ID+".mp4")

	aj, unsupported := assembly.NewJob(paths, j.FPS, j.ImageSeconds, out)
	skipped := make([]string, 0, len(unsupported))
	for _, p := range unsupported {
		skipped = append(skipped, filepath.Base(p)+": unsupported file type")
	}

	rep, err := s.assembler.Assemble(ctx, aj, func(frames int) {
		s.logger.Debug("assembly progress",
			slog.String("job_id", j.ID),
			slog.Int("frames", frames))
	})
	if err != nil {
		if rmErr := os.Remove(out); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger.Warn("failed to remove partial output",
				slog.String("job_id", j.ID),
				slog.String("error", rmErr.Error()))
		}
		return nil, fmt.Errorf("assemble slideshow: %w", err)
	}

	for _, sk := range rep.Skipped {
		skipped = append(skipped, filepath.Base(sk.Path)+": "+sk.Reason)
	}
	j.SetAssembly(rep.OutputPath, rep.Width, rep.Height, rep.Frames, skipped)
	return rep, nil
}

func (s *SlideshowService) upload(ctx context.Context, j *Job) (*storage.Object, error) {
	f, err := os.Open(j.OutputVideoPath)
	if err != nil {
		return nil, fmt.Errorf("open output video: %w", err)
	}
	defer func() { _ = f.Close() }()

	key := storage.ExpandKey(s.cfg.OutputKey, j.ID)
	obj, err := s.storage.UploadToS3(ctx, key, media.MIMEType(j.OutputVideoPath), f)
	if err != nil {
		return nil, fmt.Errorf("upload slideshow: %w", err)
	}
	return obj, nil
}

func (s *SlideshowService) orchestrate(ctx context.Context, j *Job, obj *storage.Object, rep *assembly.Report) error {
	execID, err := s.orchestrator.Trigger(ctx, workflow.Payload{
		JobID:    j.ID,
		Bucket:   obj.Bucket,
		Key:      obj.Key,
		VideoURI: obj.URI(),
		VideoURL: obj.URL,
		Width:    rep.Width,
		Height:   rep.Height,
		Frames:   rep.Frames,
		FPS:      j.FPS,
	})
	if err != nil {
		return fmt.Errorf("trigger workflow: %w", err)
	}
	j.SetExecution(Execution{ID: execID, Status: string(workflow.StatusRunning)})
	j.UpdateProgress(90)
	s.save(ctx, j)

	exec, err := workflow.Wait(ctx, s.orchestrator, execID, s.cfg.WorkflowPolicy, s.logger)
	if exec.ID != "" || exec.Status != "" {
		j.SetExecution(Execution{ID: execID, Status: string(exec.Status), Output: exec.Output})
	}
	if err != nil {
		return fmt.Errorf("workflow %s: %w", execID, err)
	}
	return nil
}

func (s *SlideshowService) fps(input SlideshowInput) float64 {
	if input.FPS > 0 {
		return input.FPS
	}
	return s.cfg.FPS
}

func (s *SlideshowService) imageSeconds(input SlideshowInput) float64 {
	if input.ImageSeconds > 0 {
		return input.ImageSeconds
	}
	return s.cfg.ImageSeconds
}
