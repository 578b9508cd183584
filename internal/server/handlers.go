package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/tripreel-api/internal/archive"
	"github.com/maauso/tripreel-api/internal/job"
)

// DefaultMaxUploadBytes caps a multipart slideshow upload.
const DefaultMaxUploadBytes int64 = 512 << 20

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to disk.
const multipartMemory = 32 << 20

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	jobs               *job.Service
	stories            *job.StoryService
	slideshows         *job.SlideshowService
	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool
	maxUploadBytes     int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, job creation only stores the job and returns immediately
// without starting background processing.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithMaxUploadBytes sets the multipart upload cap.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(jobs *job.Service, stories *job.StoryService, slideshows *job.SlideshowService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		jobs:               jobs,
		stories:            stories,
		slideshows:         slideshows,
		validator:          validator.New(),
		logger:             logger,
		enableAsyncProcess: true,
		maxUploadBytes:     DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateStory handles POST /stories requests.
func (h *Handlers) CreateStory(w http.ResponseWriter, r *http.Request) {
	var req CreateStoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	input := job.StoryInput{
		FolderURI: req.S3FolderLink,
		Location:  req.Location,
	}

	createdJob, err := h.stories.CreateJob(r.Context(), input)
	if err != nil {
		h.logger.Error("failed to create job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	// Detached from the request so processing outlives it.
	if h.enableAsyncProcess {
		go func(ctx context.Context, jobID string, inp job.StoryInput) {
			if _, err := h.stories.ProcessExistingJob(ctx, jobID, inp); err != nil {
				h.logger.Error("background processing failed",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}(context.WithoutCancel(r.Context()), createdJob.ID, input)
	}

	h.logger.Info("story job created",
		slog.String("job_id", createdJob.ID),
		slog.String("source", req.S3FolderLink),
	)

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:     createdJob.ID,
		Status: string(createdJob.Status),
	})
}

// CreateSlideshow handles POST /slideshows requests. It accepts either a
// multipart form with "archive" and "files" parts or a JSON body naming an
// S3 folder.
func (h *Handlers) CreateSlideshow(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		input job.SlideshowInput
		ok    bool
	)
	if mediaType == "multipart/form-data" {
		input, ok = h.readSlideshowForm(w, r)
	} else {
		input, ok = h.readSlideshowJSON(w, r)
	}
	if !ok {
		return
	}

	createdJob, err := h.slideshows.CreateJob(r.Context(), input)
	if err != nil {
		h.slideshows.Discard(r.Context(), input.Files)
		h.logger.Error("failed to create job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	if h.enableAsyncProcess {
		go func(ctx context.Context, jobID string, inp job.SlideshowInput) {
			if _, err := h.slideshows.ProcessExistingJob(ctx, jobID, inp); err != nil {
				h.logger.Error("background processing failed",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}(context.WithoutCancel(r.Context()), createdJob.ID, input)
	}

	h.logger.Info("slideshow job created",
		slog.String("job_id", createdJob.ID),
		slog.Int("uploads", len(input.Files)),
		slog.String("source", input.FolderURI),
	)

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:     createdJob.ID,
		Status: string(createdJob.Status),
	})
}

func (h *Handlers) readSlideshowJSON(w http.ResponseWriter, r *http.Request) (job.SlideshowInput, bool) {
	var req CreateSlideshowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return job.SlideshowInput{}, false
	}
	if !h.validSlideshow(w, req) {
		return job.SlideshowInput{}, false
	}
	if req.S3FolderLink == "" {
		writeError(w, http.StatusBadRequest, "s3_folder_link is required", "VALIDATION_ERROR")
		return job.SlideshowInput{}, false
	}
	return job.SlideshowInput{
		FolderURI:    req.S3FolderLink,
		FPS:          req.FPS,
		ImageSeconds: req.ImageSeconds,
	}, true
}

// readSlideshowForm saves the uploaded parts to scratch storage. Saved files
// are discarded again when the request is rejected.
func (h *Handlers) readSlideshowForm(w http.ResponseWriter, r *http.Request) (job.SlideshowInput, bool) {
	if r.ContentLength > h.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("upload exceeds %d bytes", h.maxUploadBytes), "UPLOAD_TOO_LARGE")
		return job.SlideshowInput{}, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), "UPLOAD_TOO_LARGE")
			return job.SlideshowInput{}, false
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body", "INVALID_MULTIPART")
		return job.SlideshowInput{}, false
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req := CreateSlideshowRequest{S3FolderLink: r.FormValue("s3_folder_link")}
	var err error
	if req.FPS, err = formFloat(r, "fps"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return job.SlideshowInput{}, false
	}
	if req.ImageSeconds, err = formFloat(r, "image_seconds"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return job.SlideshowInput{}, false
	}
	if !h.validSlideshow(w, req) {
		return job.SlideshowInput{}, false
	}

	archives := r.MultipartForm.File["archive"]
	for _, fh := range archives {
		if !archive.IsArchive(fh.Filename) {
			writeError(w, http.StatusBadRequest, "archive must be a .zip file", "VALIDATION_ERROR")
			return job.SlideshowInput{}, false
		}
	}
	parts := append(append([]*multipart.FileHeader(nil), archives...), r.MultipartForm.File["files"]...)
	if len(parts) == 0 && req.S3FolderLink == "" {
		writeError(w, http.StatusBadRequest, "no media uploaded", "NO_MEDIA")
		return job.SlideshowInput{}, false
	}

	input := job.SlideshowInput{
		FolderURI:    req.S3FolderLink,
		FPS:          req.FPS,
		ImageSeconds: req.ImageSeconds,
	}
	for _, fh := range parts {
		path, err := h.saveUpload(r.Context(), fh)
		if err != nil {
			h.slideshows.Discard(r.Context(), input.Files)
			h.logger.Error("failed to store upload",
				slog.String("file", fh.Filename),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to store upload", "UPLOAD_FAILED")
			return job.SlideshowInput{}, false
		}
		input.Files = append(input.Files, path)
	}
	return input, true
}

func (h *Handlers) saveUpload(ctx context.Context, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	return h.slideshows.SaveUpload(ctx, fh.Filename, f)
}

func (h *Handlers) validSlideshow(w http.ResponseWriter, req CreateSlideshowRequest) bool {
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

func formFloat(r *http.Request, name string) (float64, error) {
	v := r.FormValue(name)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	return f, nil
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}

	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, newJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	foundJob, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, newJobResponse(foundJob))
}

// DeleteJob handles DELETE /jobs/{id} requests.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	err := h.jobs.DeleteJob(r.Context(), jobID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
	case errors.Is(err, job.ErrJobActive):
		writeError(w, http.StatusConflict, "job is still running", "JOB_ACTIVE")
	default:
		h.logger.Error("failed to delete job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete job", "JOB_DELETE_FAILED")
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
