// Package job provides the Job aggregate for story and slideshow jobs.
// It includes the Job entity with its state machine, the repository port with
// in-memory and Postgres adapters, and the services that run jobs.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/tripreel-api/internal/caption"
	"github.com/maauso/tripreel-api/internal/job/id"
)

// Kind is the type of work a job performs.
type Kind string

const (
	// KindStory captions every file of an S3 folder.
	KindStory Kind = "story"
	// KindSlideshow assembles, uploads and publishes a slideshow video.
	KindSlideshow Kind = "slideshow"
)

// IsValid returns true if the kind is known.
func (k Kind) IsValid() bool {
	return k == KindStory || k == KindSlideshow
}

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job is waiting for a free worker slot.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the job is being processed.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the job finished successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the job encountered an error during execution.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was stopped before finishing.
	StatusCancelled Status = "CANCELLED"
	// StatusTimedOut indicates the workflow execution did not finish in time.
	StatusTimedOut Status = "TIMED_OUT"
)

// Stage is the step a running job is in.
type Stage string

// Job stages. Story jobs go collecting → captioning → done; slideshow jobs go
// collecting → assembling → uploading → orchestrating → done.
const (
	StageCollecting    Stage = "collecting"
	StageCaptioning    Stage = "captioning"
	StageAssembling    Stage = "assembling"
	StageUploading     Stage = "uploading"
	StageOrchestrating Stage = "orchestrating"
	StageDone          Stage = "done"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled, StatusFailed},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusTimedOut:  {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Per-file result statuses.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// FileResult is the outcome of captioning one file.
type FileResult struct {
	File         string         `json:"file"`
	Kind         string         `json:"kind"`
	Location     string         `json:"location"`
	Story        *caption.Story `json:"story,omitempty"`
	Metadata     any            `json:"metadata,omitempty"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Execution tracks the orchestrator run started for a slideshow.
type Execution struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status,omitempty"`
	Output string `json:"output,omitempty"`
}

// Job represents a story or slideshow job aggregate.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string `json:"id"`
	// Kind is story or slideshow.
	Kind Kind `json:"kind"`
	// Status is the current job state.
	Status Status `json:"status"`
	// Stage is the step a running job is in.
	Stage Stage `json:"stage,omitempty"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
	// Error contains any error message if the job failed.
	Error string `json:"error,omitempty"`

	// Location is the place the media was captured, used in story prompts.
	Location string `json:"location,omitempty"`
	// SourceURI is the s3:// folder the inputs were taken from, if any.
	SourceURI string `json:"source_uri,omitempty"`
	// Results holds one entry per captioned file.
	Results []FileResult `json:"results,omitempty"`

	// FPS is the slideshow frame rate.
	FPS float64 `json:"fps,omitempty"`
	// ImageSeconds is how long each still image is shown.
	ImageSeconds float64 `json:"image_seconds,omitempty"`
	// Width and Height are the slideshow resolution.
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
	// Frames is the number of frames written.
	Frames int `json:"frames,omitempty"`
	// Skipped lists inputs that could not be used.
	Skipped []string `json:"skipped,omitempty"`
	// OutputVideoPath is the path to the local slideshow.
	OutputVideoPath string `json:"output_video_path,omitempty"`
	// OutputKey is the S3 key the slideshow was uploaded to.
	OutputKey string `json:"output_key,omitempty"`
	// VideoURL is the S3 URL of the uploaded slideshow.
	VideoURL string `json:"video_url,omitempty"`
	// Execution is the orchestrator run for the slideshow.
	Execution Execution `json:"execution,omitzero"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time `json:"updated_at"`
	// StartedAt is when processing started.
	StartedAt time.Time `json:"started_at,omitzero"`
	// CompletedAt is when processing finished.
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// New creates a new Job of the given kind with a generated ID and initial IN_QUEUE status.
func New(kind Kind) *Job {
	return NewWithID(id.Generate(), kind)
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE status.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string, kind Kind) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Kind:      kind,
		Status:    StatusInQueue,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted:
		j.CompletedAt = j.UpdatedAt
		j.Stage = StageDone
		j.Progress = 100
	case StatusFailed, StatusCancelled, StatusTimedOut:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED state.
func (j *Job) Complete() error {
	return j.TransitionTo(StatusCompleted)
}

// Fail transitions the job to FAILED state with an error message.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	j.Error = errMsg
	j.mu.Unlock()
	return j.TransitionTo(StatusFailed)
}

// Cancel transitions the job to CANCELLED state.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// Timeout transitions the job to TIMED_OUT state with an error message.
func (j *Job) Timeout(errMsg string) error {
	j.mu.Lock()
	j.Error = errMsg
	j.mu.Unlock()
	return j.TransitionTo(StatusTimedOut)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// SetStage records the step the job is in.
func (j *Job) SetStage(stage Stage) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Stage = stage
	j.UpdatedAt = time.Now()
}

// UpdateProgress sets the progress percentage (0-100).
func (j *Job) UpdateProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	j.Progress = progress
	j.UpdatedAt = time.Now()
}

// AddResult appends a per-file caption result.
func (j *Job) AddResult(r FileResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Results = append(j.Results, r)
	j.UpdatedAt = time.Now()
}

// SetAssembly records what the slideshow assembly produced.
func (j *Job) SetAssembly(path string, width, height, frames int, skipped []string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputVideoPath = path
	j.Width = width
	j.Height = height
	j.Frames = frames
	j.Skipped = append([]string(nil), skipped...)
	j.UpdatedAt = time.Now()
}

// SetOutput sets the uploaded object key and URL.
func (j *Job) SetOutput(key, videoURL string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputKey = key
	j.VideoURL = videoURL
	j.UpdatedAt = time.Now()
}

// SetExecution records the orchestrator execution state.
func (j *Job) SetExecution(exec Execution) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Execution = exec
	j.UpdatedAt = time.Now()
}

// ClearOutput clears the local output path.
// This is used when deleting the job's video file.
func (j *Job) ClearOutput() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputVideoPath = ""
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted ||
		j.Status == StatusFailed ||
		j.Status == StatusCancelled ||
		j.Status == StatusTimedOut
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var results []FileResult
	if j.Results != nil {
		results = make([]FileResult, len(j.Results))
		copy(results, j.Results)
	}
	var skipped []string
	if j.Skipped != nil {
		skipped = make([]string, len(j.Skipped))
		copy(skipped, j.Skipped)
	}

	return &Job{
		ID:              j.ID,
		Kind:            j.Kind,
		Status:          j.Status,
		Stage:           j.Stage,
		Progress:        j.Progress,
		Error:           j.Error,
		Location:        j.Location,
		SourceURI:       j.SourceURI,
		Results:         results,
		FPS:             j.FPS,
		ImageSeconds:    j.ImageSeconds,
		Width:           j.Width,
		Height:          j.Height,
		Frames:          j.Frames,
		Skipped:         skipped,
		OutputVideoPath: j.OutputVideoPath,
		OutputKey:       j.OutputKey,
		VideoURL:        j.VideoURL,
		Execution:       j.Execution,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
	}
}
