// Package server provides the HTTP server for the TripReel API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/tripreel-api/internal/job"
)

// CreateStoryRequest is the HTTP request body for creating a story job.
type CreateStoryRequest struct {
	// S3FolderLink is the s3://bucket/prefix holding the trip media.
	S3FolderLink string `json:"s3_folder_link" validate:"required,startswith=s3://"`
	// Location is where the media was captured.
	Location string `json:"location" validate:"required,max=200"`
}

// CreateSlideshowRequest holds the slideshow parameters, sent either as a
// JSON body or as multipart form fields next to the uploaded files.
type CreateSlideshowRequest struct {
	// S3FolderLink is an optional s3://bucket/prefix with more inputs.
	S3FolderLink string `json:"s3_folder_link" validate:"omitempty,startswith=s3://"`
	// FPS is the output frame rate. Zero uses the server default.
	FPS float64 `json:"fps" validate:"gte=0,lte=60"`
	// ImageSeconds is how long each still image is shown. Zero uses the server default.
	ImageSeconds float64 `json:"image_seconds" validate:"gte=0,lte=60"`
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// StoryResponse is the generated story for one file.
type StoryResponse struct {
	StoryText            string   `json:"story_text"`
	RecommendedVoiceTone string   `json:"recommended_voice_tone"`
	DurationSeconds      *float64 `json:"duration_seconds,omitempty"`
}

// FileResultResponse is the outcome for one captioned file.
type FileResultResponse struct {
	File         string         `json:"file"`
	Kind         string         `json:"kind"`
	Location     string         `json:"location"`
	Story        *StoryResponse `json:"story,omitempty"`
	Metadata     any            `json:"metadata,omitempty"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// ExecutionResponse describes the orchestrator run of a slideshow.
type ExecutionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
	Output string `json:"output,omitempty"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Kind is story or slideshow.
	Kind string `json:"kind"`
	// Status is the current job status.
	Status string `json:"status"`
	// Stage is the step a running job is in.
	Stage string `json:"stage,omitempty"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
	// Error contains any error message if the job failed.
	Error string `json:"error,omitempty"`

	Location  string               `json:"location,omitempty"`
	SourceURI string               `json:"source_uri,omitempty"`
	Results   []FileResultResponse `json:"results,omitempty"`

	FPS          float64  `json:"fps,omitempty"`
	ImageSeconds float64  `json:"image_seconds,omitempty"`
	Width        int      `json:"width,omitempty"`
	Height       int      `json:"height,omitempty"`
	Frames       int      `json:"frames,omitempty"`
	Skipped      []string `json:"skipped,omitempty"`
	// VideoURL is the S3 URL of the output video.
	VideoURL string `json:"video_url,omitempty"`
	// OutputPath is the local video path when it was not uploaded.
	OutputPath string             `json:"output_path,omitempty"`
	Execution  *ExecutionResponse `json:"execution,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobListResponse is the HTTP response for listing jobs.
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

func newJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:           j.ID,
		Kind:         string(j.Kind),
		Status:       string(j.Status),
		Stage:        string(j.Stage),
		Progress:     j.Progress,
		Error:        j.Error,
		Location:     j.Location,
		SourceURI:    j.SourceURI,
		FPS:          j.FPS,
		ImageSeconds: j.ImageSeconds,
		Width:        j.Width,
		Height:       j.Height,
		Frames:       j.Frames,
		Skipped:      j.Skipped,
		VideoURL:     j.VideoURL,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}

	if j.VideoURL == "" {
		resp.OutputPath = j.OutputVideoPath
	}
	if j.Execution.ID != "" {
		resp.Execution = &ExecutionResponse{
			ID:     j.Execution.ID,
			Status: j.Execution.Status,
			Output: j.Execution.Output,
		}
	}
	if !j.CompletedAt.IsZero() {
		t := j.CompletedAt
		resp.CompletedAt = &t
	}

	for _, r := range j.Results {
		fr := FileResultResponse{
			File:         r.File,
			Kind:         r.Kind,
			Location:     r.Location,
			Metadata:     r.Metadata,
			Status:       r.Status,
			ErrorMessage: r.ErrorMessage,
		}
		if r.Story != nil {
			fr.Story = &StoryResponse{
				StoryText:            r.Story.StoryText,
				RecommendedVoiceTone: r.Story.RecommendedVoiceTone,
				DurationSeconds:      r.Story.DurationSeconds,
			}
		}
		resp.Results = append(resp.Results, fr)
	}
	return resp
}
