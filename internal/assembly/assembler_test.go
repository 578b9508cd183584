package assembly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/tripreel-api/internal/media"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func outputPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "out.mp4")
}

func TestAssemble_ImageOnly(t *testing.T) {
	dec := newFakeDecoder()
	dec.images["a.png"] = [2]int{64, 48}
	dec.images["b.jpg"] = [2]int{64, 48}
	dec.images["c.gif"] = [2]int{64, 48}
	enc := &fakeEncoder{}

	repeat := RepeatCount(DefaultFrameRate, DefaultImageSeconds)
	job := Job{
		FrameRate:  DefaultFrameRate,
		OutputPath: outputPath(t),
		Sources: []Source{
			ImageSource("a.png", repeat),
			ImageSource("b.jpg", repeat),
			ImageSource("c.gif", repeat),
		},
	}

	rep, err := New(dec, enc, WithLogger(quietLogger())).Assemble(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 50, repeat)
	assert.Equal(t, 3*repeat, rep.Frames)
	assert.Equal(t, 3*repeat, rep.ImageFrames)
	assert.Zero(t, rep.VideoFrames)
	assert.Len(t, enc.writer.frames, 3*repeat)
	assert.True(t, enc.writer.closed)
	assert.InDelta(t, DefaultFrameRate, enc.writer.fps, 0.001)
}

func TestAssemble_VideoOnly(t *testing.T) {
	dec := newFakeDecoder()
	dec.videos["one.mp4"] = fakeVideo{fps: 30, frames: 150, width: 64, height: 48}
	dec.videos["two.mov"] = fakeVideo{fps: 30, frames: 90, width: 64, height: 48}
	enc := &fakeEncoder{}

	job := Job{
		FrameRate:  10,
		OutputPath: outputPath(t),
		Sources:    []Source{VideoSource("one.mp4", 10), VideoSource("two.mov", 10)},
	}

	rep, err := New(dec, enc, WithLogger(quietLogger())).Assemble(context.Background(), job)
	require.NoError(t, err)

	// stride 3: 150/3 + 90/3
	assert.Equal(t, 80, rep.Frames)
	assert.Equal(t, 80, rep.VideoFrames)
	assert.Equal(t, 2, dec.closed, "every decode handle must be released")
}

func TestAssemble_MixedVideosThenImages(t *testing.T) {
	dec := newFakeDecoder()
	dec.videos["v1.mp4"] = fakeVideo{fps: 30, frames: 150, width: 64, height: 48}
	dec.videos["v2.mp4"] = fakeVideo{fps: 30, frames: 150, width: 128, height: 96}
	dec.images["photo.png"] = [2]int{100, 100}
	enc := &fakeEncoder{}

	// The image is listed first but must still come after all video frames.
	job := Job{
		FrameRate:  10,
		OutputPath: outputPath(t),
		Sources: []Source{
			ImageSource("photo.png", RepeatCount(10, 5)),
			VideoSource("v1.mp4", 10),
			VideoSource("v2.mp4", 10),
		},
	}

	rep, err := New(dec, enc, WithLogger(quietLogger())).Assemble(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 150, rep.Frames)
	assert.Equal(t, 100, rep.VideoFrames)
	assert.Equal(t, 50, rep.ImageFrames)
	assert.Equal(t, 64, rep.Width)
	assert.Equal(t, 48, rep.Height)

	frames := enc.writer.frames
	require.Len(t, frames, 150)
	for i, f := range frames {
		assert.Equal(t, 64, f.Width, "frame %d width", i)
		assert.Equal(t, 48, f.Height, "frame %d height", i)
	}
	for i := 0; i < 50; i++ {
		assert.Equal(t, byte(50), frames[i].Pix[0], "frame %d should come from v1", i)
	}
	for i := 50; i < 100; i++ {
		assert.InDelta(t, 100, int(frames[i].Pix[0]), 2, "frame %d should come from v2", i)
	}
	for i := 100; i < 150; i++ {
		assert.InDelta(t, 255, int(frames[i].Pix[0]), 2, "frame %d should be an image frame", i)
	}
}

func TestAssemble_Deterministic(t *testing.T) {
	dec := newFakeDecoder()
	dec.videos["v.mp4"] = fakeVideo{fps: 24, frames: 48, width: 32, height: 32}
	dec.images["i.png"] = [2]int{10, 10}

	job := Job{
		FrameRate:  12,
		OutputPath: outputPath(t),
		Sources:    []Source{VideoSource("v.mp4", 12), ImageSource("i.png", 12)},
	}

	a := New(dec, &fakeEncoder{}, WithLogger(quietLogger()))
	first, err := a.Assemble(context.Background(), job)
	require.NoError(t, err)
	second, err := a.Assemble(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, first.Frames, second.Frames)
	assert.Equal(t, first.Width, second.Width)
	assert.Equal(t, first.Height, second.Height)
}

func TestAssemble_EmptyJob(t *testing.T) {
	enc := &fakeEncoder{}
	out := outputPath(t)

	_, err := New(newFakeDecoder(), enc, WithLogger(quietLogger())).Assemble(context.Background(), Job{FrameRate: 10, OutputPath: out})

	require.ErrorIs(t, err, ErrEmptyJob)
	assert.Nil(t, enc.writer, "encoder must not be opened")
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestAssemble_AllSourcesUnreadable(t *testing.T) {
	job := Job{
		FrameRate:  10,
		OutputPath: outputPath(t),
		Sources:    []Source{VideoSource("gone.mp4", 10), ImageSource("gone.png", 50)},
	}

	_, err := New(newFakeDecoder(), &fakeEncoder{}, WithLogger(quietLogger())).Assemble(context.Background(), job)
	require.ErrorIs(t, err, ErrEmptyJob)
}

func TestAssemble_SkipsUnreadableImage(t *testing.T) {
	dec := newFakeDecoder()
	dec.images["a.png"] = [2]int{20, 20}
	dec.images["c.png"] = [2]int{20, 20}
	enc := &fakeEncoder{}

	job := Job{
		FrameRate:  10,
		OutputPath: outputPath(t),
		Sources:    []Source{ImageSource("a.png", 50), ImageSource("corrupt.png", 50), ImageSource("c.png", 50)},
	}

	rep, err := New(dec, enc, WithLogger(quietLogger())).Assemble(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 100, rep.Frames)
	require.Len(t, rep.Skipped, 1)
	assert.Equal(t, "corrupt.png", rep.Skipped[0].Path)
	assert.Equal(t, media.KindImage, rep.Skipped[0].Kind)
}

func TestAssemble_SkipsUnopenableVideo(t *testing.T) {
	dec := newFakeDecoder()
	dec.videos["ok.mp4"] = fakeVideo{fps: 10, frames: 20, width: 16, height: 16}

	job := Job{
		FrameRate:  10,
		OutputPath: outputPath(t),
		Sources:    []Source{VideoSource("missing.avi", 10), VideoSource("ok.mp4", 10)},
	}

	rep, err := New(dec, &fakeEncoder{}, WithLogger(quietLogger())).Assemble(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 20, rep.Frames)
	require.Len(t, rep.Skipped, 1)
	assert.Equal(t, "missing.avi", rep.Skipped[0].Path)
}

func TestAssemble_UnknownNativeRateUsesStrideOne(t *testing.T) {
	dec := newFakeDecoder()
	dec.videos["v.avi"] = fakeVideo{fps: 0, frames: 37, width: 16, height: 16}

	job := Job{FrameRate: 10, OutputPath: outputPath(t), Sources: []Source{VideoSource("v.avi", 10)}}

	rep, err := New(dec, &fakeEncoder{}, WithLogger(quietLogger())).Assemble(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 37, rep.Frames)
}

func TestAssemble_DecodeErrorMidVideoKeepsFramesSoFar(t *testing.T) {
	dec := newFakeDecoder()
	dec.videos["v.mp4"] = fakeVideo{fps: 10, frames: 100, width: 16, height: 16, failAfter: 12}

	job := Job{FrameRate: 10, OutputPath: outputPath(t), Sources: []Source{VideoSource("v.mp4", 10)}}

	rep, err := New(dec, &fakeEncoder{}, WithLogger(quietLogger())).Assemble(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 12, rep.Frames)
	assert.Equal(t, 1, dec.closed)
}

func TestAssemble_EncoderInitFailure(t *testing.T) {
	out := outputPath(t)
	require.NoError(t, os.WriteFile(out, []byte("stale"), 0600))

	dec := newFakeDecoder()
	dec.images["a.png"] = [2]int{8, 8}
	enc := &fakeEncoder{initErr: errors.New("no encoder")}

	job := Job{FrameRate: 10, OutputPath: out, Sources: []Source{ImageSource("a.png", 5)}}

	_, err := New(dec, enc, WithLogger(quietLogger())).Assemble(context.Background(), job)
	require.ErrorIs(t, err, ErrEncoderInit)

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "no output may remain after encoder init failure")
}

func TestAssemble_EncoderRejectsFirstFrame(t *testing.T) {
	out := outputPath(t)
	require.NoError(t, os.WriteFile(out, []byte{}, 0600))

	dec := newFakeDecoder()
	dec.images["a.png"] = [2]int{8, 8}
	enc := &fakeEncoder{failAt: 1, writeErr: fmt.Errorf("%w: Unknown encoder libx264", media.ErrEncoderUnavailable)}

	job := Job{FrameRate: 10, OutputPath: out, Sources: []Source{ImageSource("a.png", 5)}}

	_, err := New(dec, enc, WithLogger(quietLogger())).Assemble(context.Background(), job)
	require.ErrorIs(t, err, ErrEncoderInit)
	assert.NotErrorIs(t, err, ErrEncodeWrite)
	assert.True(t, enc.writer.aborted)
	assert.NoFileExists(t, out)
}

func TestAssemble_OddResolutionRoundedToEven(t *testing.T) {
	dec := newFakeDecoder()
	dec.images["a.png"] = [2]int{33, 21}
	dec.images["b.png"] = [2]int{40, 40}
	enc := &fakeEncoder{}

	job := Job{FrameRate: 10, OutputPath: outputPath(t), Sources: []Source{
		ImageSource("a.png", 2),
		ImageSource("b.png", 2),
	}}

	rep, err := New(dec, enc, WithLogger(quietLogger())).Assemble(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 32, rep.Width)
	assert.Equal(t, 20, rep.Height)
	assert.Equal(t, 32, enc.writer.width)
	assert.Equal(t, 20, enc.writer.height)
	require.Len(t, enc.writer.frames, 4)
	for i, f := range enc.writer.frames {
		assert.Equal(t, 32, f.Width, "frame %d width", i)
		assert.Equal(t, 20, f.Height, "frame %d height", i)
	}
}

func TestEvenSize(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 2},
		{1, 2},
		{2, 2},
		{33, 32},
		{1080, 1080},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EvenSize(tt.in), "EvenSize(%d)", tt.in)
	}
}

func TestAssemble_EncodeWriteFailure(t *testing.T) {
	out := outputPath(t)
	require.NoError(t, os.WriteFile(out, []byte("partial"), 0600))

	dec := newFakeDecoder()
	dec.images["a.png"] = [2]int{8, 8}
	writeErr := errors.New("disk full")
	enc := &fakeEncoder{failAt: 3, writeErr: writeErr}

	job := Job{FrameRate: 10, OutputPath: out, Sources: []Source{ImageSource("a.png", 5)}}

	_, err := New(dec, enc, WithLogger(quietLogger())).Assemble(context.Background(), job)
	require.ErrorIs(t, err, ErrEncodeWrite)
	assert.ErrorIs(t, err, writeErr)
	assert.True(t, enc.writer.aborted)

	_, statErr := os.Stat(out)
	assert.NoError(t, statErr, "partial output is left for the caller")
}

func TestAssemble_Cancelled(t *testing.T) {
	dec := newFakeDecoder()
	dec.videos["v.mp4"] = fakeVideo{fps: 10, frames: 1000, width: 8, height: 8}

	ctx, cancel := context.WithCancel(context.Background())
	progress := WithProgressHook(func(int) { cancel() })

	job := Job{FrameRate: 10, OutputPath: outputPath(t), Sources: []Source{VideoSource("v.mp4", 10)}}
	enc := &fakeEncoder{}

	_, err := New(dec, enc, WithLogger(quietLogger()), progress).Assemble(ctx, job)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, enc.writer.aborted)
	assert.Equal(t, 1, dec.closed)
	assert.Len(t, enc.writer.frames, ProgressInterval)
}

func TestAssemble_StagesAndProgress(t *testing.T) {
	dec := newFakeDecoder()
	dec.images["a.png"] = [2]int{8, 8}

	var stages []Stage
	var progress []int
	a := New(dec, &fakeEncoder{},
		WithLogger(quietLogger()),
		WithStageHook(func(s Stage) { stages = append(stages, s) }),
		WithProgressHook(func(n int) { progress = append(progress, n) }),
	)

	job := Job{FrameRate: 10, OutputPath: outputPath(t), Sources: []Source{ImageSource("a.png", 250)}}
	_, err := a.Assemble(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, []Stage{StageCollecting, StageNormalizing, StageEncoding, StageDone}, stages)
	assert.Equal(t, []int{100, 200}, progress)
}

func TestAssemble_FailedStage(t *testing.T) {
	var stages []Stage
	a := New(newFakeDecoder(), &fakeEncoder{},
		WithLogger(quietLogger()),
		WithStageHook(func(s Stage) { stages = append(stages, s) }),
	)

	_, err := a.Assemble(context.Background(), Job{FrameRate: 10, OutputPath: outputPath(t)})
	require.Error(t, err)
	assert.Equal(t, []Stage{StageCollecting, StageFailed}, stages)
}

func TestAssemble_InvalidJob(t *testing.T) {
	a := New(newFakeDecoder(), &fakeEncoder{}, WithLogger(quietLogger()))

	_, err := a.Assemble(context.Background(), Job{FrameRate: 0, OutputPath: "x.mp4"})
	assert.ErrorIs(t, err, ErrInvalidJob)

	_, err = a.Assemble(context.Background(), Job{FrameRate: 10})
	assert.ErrorIs(t, err, ErrInvalidJob)
}
