package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/maauso/tripreel-api/internal/caption"
	"github.com/maauso/tripreel-api/internal/media"
)

// ErrNoMedia is returned when a job finds no input files.
var ErrNoMedia = errors.New("no media files found")

// Captioner generates a travel story for one file.
type Captioner interface {
	Caption(ctx context.Context, req caption.Request) (caption.Story, error)
}

// VideoProber reads video metadata.
type VideoProber interface {
	ProbeVideo(ctx context.Context, path string) (*media.VideoMetadata, error)
}

// StoryInput contains the input parameters for a story job.
type StoryInput struct {
	// FolderURI is the s3://bucket/prefix holding the media.
	FolderURI string
	// Location is where the media was captured.
	Location string
}

// StoryService captions every file of an S3 folder.
type StoryService struct {
	*Service
	captioner Captioner
	prober    VideoProber
}

// NewStoryService creates a new StoryService.
func NewStoryService(base *Service, captioner Captioner, prober VideoProber) *StoryService {
	return &StoryService{Service: base, captioner: captioner, prober: prober}
}

// CreateJob creates a story job in IN_QUEUE status.
func (s *StoryService) CreateJob(ctx context.Context, input StoryInput) (*Job, error) {
	j := New(KindStory)
	j.SourceURI = input.FolderURI
	j.Location = input.Location

	s.logger.Info("creating new job",
		slog.String("job_id", j.ID),
		slog.String("kind", string(j.Kind)),
		slog.String("source", input.FolderURI),
		slog.String("location", input.Location),
	)

	if err := s.create(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// ProcessExistingJob downloads the folder and captions each file.
// A file that fails is recorded with an error result; the job still completes.
func (s *StoryService) ProcessExistingJob(ctx context.Context, jobID string, input StoryInput) (*Job, error) {
	return s.execute(ctx, jobID, func(ctx context.Context, j *Job) error {
		if s.captioner == nil {
			return caption.ErrAPIKeyRequired
		}

		j.SetStage(StageCollecting)
		s.save(ctx, j)

		dir, err := s.storage.MakeTempDir(ctx, j.ID)
		if err != nil {
			return fmt.Errorf("create work dir: %w", err)
		}
		defer func() { _ = s.storage.CleanupTemp(context.WithoutCancel(ctx), []string{dir}) }()

		paths, err := s.storage.DownloadFolder(ctx, input.FolderURI, dir)
		if err != nil {
			return fmt.Errorf("download %s: %w", input.FolderURI, err)
		}
		if len(paths) == 0 {
			return fmt.Errorf("%w under %s", ErrNoMedia, input.FolderURI)
		}

		j.SetStage(StageCaptioning)
		j.UpdateProgress(10)
		s.save(ctx, j)

		for i, p := range paths {
			if err := ctx.Err(); err != nil {
				return err
			}
			j.AddResult(s.CaptionFile(ctx, p, input.Location))
			j.UpdateProgress(10 + 90*(i+1)/len(paths))
			s.save(ctx, j)
		}
		return nil
	})
}

// CaptionFile reads the metadata of one file and asks for its story.
// Failures are reported in the result rather than returned.
func (s *StoryService) CaptionFile(ctx context.Context, path, location string) FileResult {
	kind := media.ClassifyForCaption(path)
	res := FileResult{
		File:     filepath.Base(path),
		Kind:     string(kind),
		Location: location,
	}
	log := s.logger.With(slog.String("file", res.File), slog.String("kind", res.Kind))

	req := caption.Request{Path: path, Kind: kind, Location: location}
	if kind == media.KindVideo {
		meta, err := s.prober.ProbeVideo(ctx, path)
		if err != nil {
			log.Warn("failed to read video metadata", slog.String("error", err.Error()))
			return failed(res, err)
		}
		req.Duration = meta.Duration
		res.Metadata = meta
	} else if meta, err := media.ReadImageMetadata(path); err == nil {
		res.Metadata = meta
	} else {
		log.Debug("no image metadata", slog.String("error", err.Error()))
	}

	story, err := s.captioner.Caption(ctx, req)
	if err != nil {
		log.Warn("failed to caption file", slog.String("error", err.Error()))
		return failed(res, err)
	}

	res.Story = &story
	res.Status = ResultSuccess
	return res
}

func failed(res FileResult, err error) FileResult {
	res.Status = ResultError
	res.ErrorMessage = err.Error()
	return res
}
