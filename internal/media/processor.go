// Package media provides image and video decoding, encoding and metadata
// extraction on top of the ffmpeg CLI and the Go image libraries.
package media

import "context"

// FrameReader yields decoded frames from one video, in presentation order.
// A reader is finite and cannot be restarted.
type FrameReader interface {
	// Next returns the next frame, or io.EOF once the video is exhausted.
	Next(ctx context.Context) (Frame, error)

	// FPS returns the native frame rate reported by the container,
	// or 0 when it is unknown.
	FPS() float64

	// Close releases the decode handle. It is safe to call more than once.
	Close() error
}

// FrameWriter encodes frames of a fixed size into one output file.
type FrameWriter interface {
	// WriteFrame appends a frame. Frames must match the size the writer was opened with.
	WriteFrame(f Frame) error

	// Close flushes and finalizes the output file.
	Close() error

	// Abort stops encoding without finalizing; the partial file is left in place.
	Abort() error
}

// Decoder opens media sources for reading.
type Decoder interface {
	// OpenVideo starts decoding a video file.
	OpenVideo(ctx context.Context, path string) (FrameReader, error)

	// DecodeImage decodes a still image into a single frame.
	DecodeImage(ctx context.Context, path string) (Frame, error)
}

// Encoder creates output video files.
type Encoder interface {
	// CreateVideo opens a writer for a video of the given size and frame rate.
	CreateVideo(ctx context.Context, path string, width, height int, fps float64) (FrameWriter, error)
}
