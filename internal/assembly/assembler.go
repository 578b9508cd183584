package assembly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/maauso/tripreel-api/internal/media"
)

// Stage is the lifecycle position of a single assembly run.
type Stage string

// Assembly stages. A run moves Collecting -> Normalizing -> Encoding and
// ends in Done or Failed.
const (
	StageCollecting  Stage = "collecting"
	StageNormalizing Stage = "normalizing"
	StageEncoding    Stage = "encoding"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

// SkippedSource records an input that contributed no frames.
type SkippedSource struct {
	Path   string     `json:"path"`
	Kind   media.Kind `json:"kind"`
	Reason string     `json:"reason"`
}

// Report summarizes a finished run.
type Report struct {
	OutputPath  string          `json:"output_path"`
	Width       int             `json:"width"`
	Height      int             `json:"height"`
	Frames      int             `json:"frames"`
	VideoFrames int             `json:"video_frames"`
	ImageFrames int             `json:"image_frames"`
	Skipped     []SkippedSource `json:"skipped,omitempty"`
}

// Assembler runs assembly jobs. Runs are independent; one Assembler may be
// used from several goroutines as long as its hooks are safe for that.
type Assembler struct {
	decoder    media.Decoder
	encoder    media.Encoder
	logger     *slog.Logger
	onStage    func(Stage)
	onProgress func(frames int)
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithStageHook registers a callback invoked on every stage change.
func WithStageHook(fn func(Stage)) Option {
	return func(a *Assembler) {
		a.onStage = fn
	}
}

// WithProgressHook registers a callback invoked every ProgressInterval written frames.
func WithProgressHook(fn func(frames int)) Option {
	return func(a *Assembler) {
		a.onProgress = fn
	}
}

// New creates an Assembler reading through dec and writing through enc.
func New(dec media.Decoder, enc media.Encoder, opts ...Option) *Assembler {
	a := &Assembler{
		decoder: dec,
		encoder: enc,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble decodes every source, normalizes frames to the resolution of the
// first decoded frame, and encodes them in order (all videos, then all
// images) into job.OutputPath.
//
// Unreadable sources are skipped and listed in the report. The run fails with
// ErrEmptyJob when no frame was produced, ErrEncoderInit when the output
// cannot be opened, and ErrEncodeWrite when writing fails. Cancelling ctx
// stops the run and removes the partial output.
func (a *Assembler) Assemble(ctx context.Context, job Job) (*Report, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	r := &run{a: a, job: job}
	r.report.OutputPath = job.OutputPath

	rep, err := r.execute(ctx)
	if err != nil {
		r.fail(err)
		return nil, err
	}
	return rep, nil
}

func (a *Assembler) stage(s Stage) {
	if a.onStage != nil {
		a.onStage(s)
	}
}

// run holds the state of one Assemble call.
type run struct {
	a      *Assembler
	job    Job
	report Report

	writer        media.FrameWriter
	width, height int
}

func (r *run) execute(ctx context.Context) (*Report, error) {
	r.a.stage(StageCollecting)
	r.a.logger.Info("assembly started",
		slog.String("output", r.job.OutputPath),
		slog.Int("sources", len(r.job.Sources)),
		slog.Float64("fps", r.job.FrameRate),
	)

	for _, src := range r.job.Ordered() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("assembly cancelled: %w", err)
		}

		var err error
		switch src.Kind {
		case media.KindVideo:
			err = r.video(ctx, src)
		case media.KindImage:
			err = r.image(ctx, src)
		}

		if errors.Is(err, ErrSourceUnreadable) {
			r.skip(src, err)
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
				// ffmpeg killed by the context surfaces as a pipe error.
				err = fmt.Errorf("assembly cancelled: %w: %w", ctxErr, err)
			}
			return nil, err
		}
	}

	if r.writer == nil {
		return nil, ErrEmptyJob
	}

	if err := r.writer.Close(); err != nil {
		return nil, fmt.Errorf("%w: finalize output: %w", ErrEncodeWrite, err)
	}
	r.writer = nil

	r.a.stage(StageDone)
	r.a.logger.Info("assembly completed",
		slog.String("output", r.job.OutputPath),
		slog.Int("frames", r.report.Frames),
		slog.Int("video_frames", r.report.VideoFrames),
		slog.Int("image_frames", r.report.ImageFrames),
		slog.Int("width", r.width),
		slog.Int("height", r.height),
		slog.Int("skipped", len(r.report.Skipped)),
	)

	rep := r.report
	return &rep, nil
}

// video streams one video, keeping every stride-th frame.
func (r *run) video(ctx context.Context, src Source) error {
	reader, err := r.a.decoder.OpenVideo(ctx, src.Path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("assembly cancelled: %w", ctxErr)
		}
		return fmt.Errorf("%w: %s: %w", ErrSourceUnreadable, src.Path, err)
	}
	defer func() { _ = reader.Close() }()

	stride := Stride(reader.FPS(), src.SampleRate)
	r.a.logger.Debug("sampling video",
		slog.String("path", src.Path),
		slog.Float64("native_fps", reader.FPS()),
		slog.Float64("target_fps", src.SampleRate),
		slog.Int("stride", stride),
	)

	emitted := 0
	for index := 0; ; index++ {
		f, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("assembly cancelled: %w", ctxErr)
			}
			r.a.logger.Warn("video decode stopped early",
				slog.String("path", src.Path),
				slog.Int("frames_read", index),
				slog.String("error", err.Error()),
			)
			break
		}
		if index%stride != 0 {
			continue
		}
		if err := r.emit(ctx, f); err != nil {
			return err
		}
		emitted++
		r.report.VideoFrames++
	}

	if emitted == 0 {
		return fmt.Errorf("%w: %s: no frames decoded", ErrSourceUnreadable, src.Path)
	}
	return nil
}

// image decodes one still image and emits it RepeatCount times.
func (r *run) image(ctx context.Context, src Source) error {
	if src.RepeatCount == 0 {
		return nil
	}

	f, err := r.a.decoder.DecodeImage(ctx, src.Path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("assembly cancelled: %w", ctxErr)
		}
		return fmt.Errorf("%w: %s: %w", ErrSourceUnreadable, src.Path, err)
	}

	width, height := r.width, r.height
	if r.writer == nil {
		width, height = EvenSize(f.Width), EvenSize(f.Height)
	}
	if f.Width != width || f.Height != height {
		if f, err = media.Resize(f, width, height); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrSourceUnreadable, src.Path, err)
		}
	}

	for i := 0; i < src.RepeatCount; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("assembly cancelled: %w", err)
		}
		if err := r.emit(ctx, f); err != nil {
			return err
		}
		r.report.ImageFrames++
	}
	return nil
}

// emit writes one frame. The first frame fixes the standard resolution,
// rounded down to even dimensions for yuv420p, and opens the encoder. Frames
// of any other size are resized to match it.
func (r *run) emit(ctx context.Context, f media.Frame) error {
	if r.writer == nil {
		if err := r.open(ctx, EvenSize(f.Width), EvenSize(f.Height)); err != nil {
			return err
		}
	}

	if f.Width != r.width || f.Height != r.height {
		resized, err := media.Resize(f, r.width, r.height)
		if err != nil {
			return fmt.Errorf("%w: resize frame %d: %w", ErrEncodeWrite, r.report.Frames, err)
		}
		f = resized
	}

	if err := r.writer.WriteFrame(f); err != nil {
		if errors.Is(err, media.ErrEncoderUnavailable) {
			return fmt.Errorf("%w: %w", ErrEncoderInit, err)
		}
		return fmt.Errorf("%w: frame %d: %w", ErrEncodeWrite, r.report.Frames, err)
	}
	r.report.Frames++

	if r.report.Frames%ProgressInterval == 0 {
		r.a.logger.Info("assembly progress",
			slog.String("output", r.job.OutputPath),
			slog.Int("frames", r.report.Frames),
		)
		if r.a.onProgress != nil {
			r.a.onProgress(r.report.Frames)
		}
	}
	return nil
}

func (r *run) open(ctx context.Context, width, height int) error {
	r.width, r.height = width, height
	r.report.Width, r.report.Height = width, height
	r.a.stage(StageNormalizing)
	r.a.logger.Info("standard resolution set",
		slog.Int("width", width),
		slog.Int("height", height),
	)

	w, err := r.a.encoder.CreateVideo(ctx, r.job.OutputPath, width, height, r.job.FrameRate)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncoderInit, err)
	}
	r.writer = w
	r.a.stage(StageEncoding)
	return nil
}

// EvenSize rounds an odd dimension down to the nearest even one, with a
// minimum of 2.
func EvenSize(n int) int {
	if n < 2 {
		return 2
	}
	return n &^ 1
}

func (r *run) skip(src Source, err error) {
	r.a.logger.Warn("skipping unreadable source",
		slog.String("path", src.Path),
		slog.String("kind", string(src.Kind)),
		slog.String("error", err.Error()),
	)
	r.report.Skipped = append(r.report.Skipped, SkippedSource{
		Path:   src.Path,
		Kind:   src.Kind,
		Reason: err.Error(),
	})
}

// fail releases the encoder and removes output that must not survive.
func (r *run) fail(err error) {
	if r.writer != nil {
		_ = r.writer.Abort()
		r.writer = nil
	}

	if errors.Is(err, ErrEncoderInit) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if rmErr := os.Remove(r.job.OutputPath); rmErr != nil && !os.IsNotExist(rmErr) {
			r.a.logger.Warn("failed to remove output",
				slog.String("output", r.job.OutputPath),
				slog.String("error", rmErr.Error()),
			)
		}
	}

	r.a.stage(StageFailed)
	r.a.logger.Error("assembly failed",
		slog.String("output", r.job.OutputPath),
		slog.Int("frames", r.report.Frames),
		slog.String("error", err.Error()),
	)
}
