package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

var (
	// ErrFFprobeExecution is returned when ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrNoVideoStream is returned when a file has no decodable video stream.
	ErrNoVideoStream = errors.New("no video stream found")
)

// VideoMetadata describes a video file as reported by ffprobe.
type VideoMetadata struct {
	// Duration is the playing time in seconds.
	Duration   float64 `json:"duration"`
	FPS        float64 `json:"fps"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Resolution string  `json:"resolution"`
	FrameCount int     `json:"frame_count"`
	Codec      string  `json:"codec,omitempty"`
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeStream struct {
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	NbFrames     string `json:"nb_frames"`
	Duration     string `json:"duration"`
}

// ProbeVideo returns duration, frame rate, resolution and frame count for
// the first video stream of a file.
func (p *FFmpegProcessor) ProbeVideo(ctx context.Context, path string) (*VideoMetadata, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, strings.TrimSpace(stderr.String()))
	}

	return parseProbeOutput(stdout.Bytes())
}

func parseProbeOutput(data []byte) (*VideoMetadata, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var stream *ffprobeStream
	for i := range out.Streams {
		if out.Streams[i].CodecType == "video" {
			stream = &out.Streams[i]
			break
		}
	}
	if stream == nil || stream.Width <= 0 || stream.Height <= 0 {
		return nil, ErrNoVideoStream
	}

	meta := &VideoMetadata{
		Width:      stream.Width,
		Height:     stream.Height,
		Resolution: fmt.Sprintf("%dx%d", stream.Width, stream.Height),
		Codec:      stream.CodecName,
	}

	meta.FPS = parseFrameRate(stream.RFrameRate)
	if meta.FPS <= 0 {
		meta.FPS = parseFrameRate(stream.AvgFrameRate)
	}

	meta.Duration = parseFloat(out.Format.Duration)
	if meta.Duration <= 0 {
		meta.Duration = parseFloat(stream.Duration)
	}

	if n, err := strconv.Atoi(stream.NbFrames); err == nil && n > 0 {
		meta.FrameCount = n
	} else if meta.FPS > 0 && meta.Duration > 0 {
		meta.FrameCount = int(math.Round(meta.Duration * meta.FPS))
	}

	if meta.Duration <= 0 && meta.FPS > 0 && meta.FrameCount > 0 {
		meta.Duration = float64(meta.FrameCount) / meta.FPS
	}

	return meta, nil
}

// parseFrameRate parses ffprobe rates such as "30000/1001" or "25".
// Unparseable or undefined rates ("0/0") yield 0.
func parseFrameRate(value string) float64 {
	parts := strings.Split(value, "/")
	if len(parts) == 2 {
		num, _ := strconv.ParseFloat(parts[0], 64)
		den, _ := strconv.ParseFloat(parts[1], 64)
		if den != 0 {
			return num / den
		}
		return 0
	}
	return parseFloat(value)
}

func parseFloat(value string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
