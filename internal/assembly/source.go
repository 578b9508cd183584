// Package assembly turns an ordered mix of videos and still images into a
// single output video with one uniform resolution.
package assembly

import (
	"fmt"
	"math"

	"github.com/maauso/tripreel-api/internal/media"
)

// Frame-rate and timing defaults.
const (
	// DefaultFrameRate is used for slideshow jobs triggered by an upload.
	DefaultFrameRate = 10.0
	// DefaultExtractionRate is used when frames are sampled without assembling.
	DefaultExtractionRate = 30.0
	// DefaultImageSeconds is how long each still image stays on screen.
	DefaultImageSeconds = 5.0
	// ProgressInterval is the number of written frames between progress logs.
	ProgressInterval = 100
)

// Source is one input of an assembly job: a video sampled at a target rate
// or a still image repeated a fixed number of times.
type Source struct {
	Kind media.Kind
	Path string
	// SampleRate is the target frames per second for video sources.
	SampleRate float64
	// RepeatCount is the number of identical frames emitted for an image source.
	RepeatCount int
}

// VideoSource returns a video input sampled at targetRate frames per second.
func VideoSource(path string, targetRate float64) Source {
	return Source{Kind: media.KindVideo, Path: path, SampleRate: targetRate}
}

// ImageSource returns a still-image input emitted repeat times.
func ImageSource(path string, repeat int) Source {
	return Source{Kind: media.KindImage, Path: path, RepeatCount: repeat}
}

// Job describes one assembly run.
type Job struct {
	Sources    []Source
	FrameRate  float64
	OutputPath string
}

// Validate checks the job parameters. An empty source list is not a
// validation error; it fails later with ErrEmptyJob.
func (j Job) Validate() error {
	if j.FrameRate <= 0 {
		return fmt.Errorf("%w: frame rate %.2f", ErrInvalidJob, j.FrameRate)
	}
	if j.OutputPath == "" {
		return fmt.Errorf("%w: output path is required", ErrInvalidJob)
	}
	for i, s := range j.Sources {
		switch s.Kind {
		case media.KindVideo:
			if s.SampleRate <= 0 {
				return fmt.Errorf("%w: source %d: sample rate %.2f", ErrInvalidJob, i, s.SampleRate)
			}
		case media.KindImage:
			if s.RepeatCount < 0 {
				return fmt.Errorf("%w: source %d: repeat count %d", ErrInvalidJob, i, s.RepeatCount)
			}
		default:
			return fmt.Errorf("%w: source %d: unsupported kind %q", ErrInvalidJob, i, s.Kind)
		}
	}
	return nil
}

// Ordered returns the sources with every video before every image, each
// group keeping its original relative order.
func (j Job) Ordered() []Source {
	out := make([]Source, 0, len(j.Sources))
	for _, s := range j.Sources {
		if s.Kind == media.KindVideo {
			out = append(out, s)
		}
	}
	for _, s := range j.Sources {
		if s.Kind == media.KindImage {
			out = append(out, s)
		}
	}
	return out
}

// Stride returns the sampling stride for a video: every stride-th native
// frame is kept. A missing or zero native rate falls back to the target rate,
// and the stride is never below 1.
func Stride(nativeFPS, targetFPS float64) int {
	if targetFPS <= 0 {
		return 1
	}
	if nativeFPS <= 0 || math.IsNaN(nativeFPS) {
		nativeFPS = targetFPS
	}
	s := int(math.Round(nativeFPS / targetFPS))
	if s < 1 {
		return 1
	}
	return s
}

// RepeatCount returns how many frames a still image occupies at fps for seconds.
func RepeatCount(fps, seconds float64) int {
	if fps <= 0 || seconds <= 0 {
		return 0
	}
	return int(math.Round(fps * seconds))
}

// NewJob builds a job from input files: videos sample at fps and images
// repeat for imageSeconds. Files with unsupported extensions are returned
// separately and left out of the job.
func NewJob(paths []string, fps, imageSeconds float64, outputPath string) (Job, []string) {
	images, videos, skipped := media.Partition(paths)

	job := Job{FrameRate: fps, OutputPath: outputPath}
	repeat := RepeatCount(fps, imageSeconds)
	for _, v := range videos {
		job.Sources = append(job.Sources, VideoSource(v, fps))
	}
	for _, img := range images {
		job.Sources = append(job.Sources, ImageSource(img, repeat))
	}
	return job, skipped
}
