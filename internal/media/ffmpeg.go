package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
)

// Static errors for media operations.
var (
	// ErrInvalidFrameRate is returned when a frame rate is not positive.
	ErrInvalidFrameRate = errors.New("invalid frame rate: must be positive")
	// ErrFrameSizeMismatch is returned when a frame does not match the writer's size.
	ErrFrameSizeMismatch = errors.New("frame size does not match output size")
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("frame writer is closed")
	// ErrEncoderUnavailable is returned when ffmpeg rejects the codec, size or
	// frame rate before any frame was encoded.
	ErrEncoderUnavailable = errors.New("encoder unavailable")
)

// FFmpegProcessor implements Decoder and Encoder using the ffmpeg and ffprobe CLIs.
type FFmpegProcessor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string

	mu sync.Mutex
	// encoderOK holds the size/rate combinations that passed checkEncoder.
	encoderOK map[string]struct{}
}

var (
	_ Decoder = (*FFmpegProcessor)(nil)
	_ Encoder = (*FFmpegProcessor)(nil)
)

// NewFFmpegProcessor creates a new FFmpegProcessor.
// Empty paths default to "ffmpeg" and "ffprobe" (found via PATH).
func NewFFmpegProcessor(ffmpegPath, ffprobePath string) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegProcessor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		encoderOK:   make(map[string]struct{}),
	}
}

// OpenVideo probes the video and starts an ffmpeg process that streams its
// frames as raw RGB24 on stdout.
func (p *FFmpegProcessor) OpenVideo(ctx context.Context, path string) (FrameReader, error) {
	meta, err := p.ProbeVideo(ctx, path)
	if err != nil {
		return nil, err
	}

	args := []string{
		"-v", "error",
		"-noautorotate", // keep the probed width/height
		"-i", path,
		"-an", "-sn",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-",
	}

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	return &videoReader{
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		width:  meta.Width,
		height: meta.Height,
		fps:    meta.FPS,
		buf:    make([]byte, meta.Width*meta.Height*3),
	}, nil
}

// videoReader reads fixed-size RGB24 frames from a running ffmpeg process.
type videoReader struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer

	width, height int
	fps           float64
	buf           []byte

	closeOnce sync.Once
}

func (r *videoReader) FPS() float64 { return r.fps }

func (r *videoReader) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	_, err := io.ReadFull(r.stdout, r.buf)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		// A trailing partial frame is dropped.
		return Frame{}, io.EOF
	default:
		return Frame{}, fmt.Errorf("read frame: %w", err)
	}

	pix := make([]byte, len(r.buf))
	copy(pix, r.buf)
	return Frame{Width: r.width, Height: r.height, Pix: pix}, nil
}

// Close stops the ffmpeg process if it is still running and reaps it.
func (r *videoReader) Close() error {
	r.closeOnce.Do(func() {
		_ = r.stdout.Close()
		if r.cmd.ProcessState == nil && r.cmd.Process != nil {
			_ = r.cmd.Process.Kill()
		}
		// The exit status is meaningless after an early kill.
		_ = r.cmd.Wait()
	})
	return nil
}

// encodeArgs are the output options shared by CreateVideo and checkEncoder.
var encodeArgs = []string{
	"-an",
	"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
	"-c:v", "libx264",
	"-preset", "fast",
	"-crf", "23",
	"-pix_fmt", "yuv420p",
}

// CreateVideo starts an ffmpeg process that encodes raw RGB24 frames from
// stdin into an H.264/yuv420p file. Odd dimensions are padded to even ones.
//
// The destination is created first so an unwritable path fails here, then
// the codec is tried on one synthetic frame of the same size and rate. Any
// failure removes the file and wraps ErrEncoderUnavailable.
func (p *FFmpegProcessor) CreateVideo(ctx context.Context, path string, width, height int, fps float64) (FrameWriter, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: width=%d, height=%d", ErrInvalidDimensions, width, height)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("%w: got %.2f", ErrInvalidFrameRate, fps)
	}

	f, err := os.Create(path) // #nosec G304 - path is chosen by the application
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	_ = f.Close()

	w, err := p.startEncoder(ctx, path, width, height, fps)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return w, nil
}

func (p *FFmpegProcessor) startEncoder(ctx context.Context, path string, width, height int, fps float64) (*videoWriter, error) {
	if err := p.checkEncoder(ctx, width, height, fps); err != nil {
		return nil, err
	}

	rate := strconv.FormatFloat(fps, 'f', -1, 64)
	args := []string{
		"-y",
		"-v", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", rate,
		"-i", "-",
	}
	args = append(args, encodeArgs...)
	args = append(args, "-movflags", "+faststart", path)

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %w", ErrEncoderUnavailable, err)
	}

	return &videoWriter{
		cmd:    cmd,
		args:   args,
		stdin:  stdin,
		stderr: stderr,
		width:  width,
		height: height,
	}, nil
}

// checkEncoder encodes one synthetic frame to the null muxer. Passing
// combinations are remembered for the life of the processor.
func (p *FFmpegProcessor) checkEncoder(ctx context.Context, width, height int, fps float64) error {
	rate := strconv.FormatFloat(fps, 'f', -1, 64)
	key := fmt.Sprintf("%dx%d@%s", width, height, rate)

	p.mu.Lock()
	_, ok := p.encoderOK[key]
	p.mu.Unlock()
	if ok {
		return nil
	}

	args := []string{
		"-v", "error",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=black:s=%dx%d:r=%s", width, height, rate),
		"-frames:v", "1",
	}
	args = append(args, encodeArgs...)
	args = append(args, "-f", "null", "-")

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %w", ErrEncoderUnavailable, &FFmpegError{Args: args, Stderr: stderr.String(), Err: err})
	}

	p.mu.Lock()
	p.encoderOK[key] = struct{}{}
	p.mu.Unlock()
	return nil
}

// videoWriter feeds raw frames into a running ffmpeg encoder.
type videoWriter struct {
	cmd    *exec.Cmd
	args   []string
	stdin  io.WriteCloser
	stderr *bytes.Buffer

	width, height int
	written       int
	done          bool
}

func (w *videoWriter) WriteFrame(f Frame) error {
	if w.done {
		return ErrWriterClosed
	}
	if f.Width != w.width || f.Height != w.height || len(f.Pix) != w.width*w.height*3 {
		return fmt.Errorf("%w: got %dx%d, want %dx%d", ErrFrameSizeMismatch, f.Width, f.Height, w.width, w.height)
	}
	if _, err := w.stdin.Write(f.Pix); err != nil {
		// ffmpeg has most likely exited; surface its stderr.
		_ = w.Abort()
		ferr := &FFmpegError{Args: w.args, Stderr: w.stderr.String(), Err: err}
		if w.written == 0 {
			return fmt.Errorf("%w: %w", ErrEncoderUnavailable, ferr)
		}
		return ferr
	}
	w.written++
	return nil
}

func (w *videoWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	if err := w.stdin.Close(); err != nil {
		_ = w.cmd.Process.Kill()
		_ = w.cmd.Wait()
		return fmt.Errorf("close ffmpeg stdin: %w", err)
	}
	if err := w.cmd.Wait(); err != nil {
		return &FFmpegError{Args: w.args, Stderr: w.stderr.String(), Err: err}
	}
	return nil
}

func (w *videoWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true

	_ = w.stdin.Close()
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
	_ = w.cmd.Wait()
	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
