package job

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/tripreel-api/internal/assembly"
	"github.com/maauso/tripreel-api/internal/media"
	"github.com/maauso/tripreel-api/internal/poll"
	"github.com/maauso/tripreel-api/internal/storage"
	"github.com/maauso/tripreel-api/internal/workflow"
)

// fakeAssembler writes a placeholder output and reports 50 frames per source.
type fakeAssembler struct {
	skipped []assembly.SkippedSource
	err     error
	jobs    []assembly.Job
}

func (f *fakeAssembler) Assemble(_ context.Context, job assembly.Job, _ func(int)) (*assembly.Report, error) {
	f.jobs = append(f.jobs, job)
	if f.err != nil {
		return nil, f.err
	}
	if err := os.WriteFile(job.OutputPath, []byte("mp4"), 0o600); err != nil {
		return nil, err
	}
	return &assembly.Report{
		OutputPath: job.OutputPath,
		Width:      640,
		Height:     480,
		Frames:     len(job.Sources) * 50,
		Skipped:    f.skipped,
	}, nil
}

type mockOrchestrator struct {
	mock.Mock
}

func (m *mockOrchestrator) Trigger(ctx context.Context, p workflow.Payload) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

func (m *mockOrchestrator) Status(ctx context.Context, id string) (workflow.Execution, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(workflow.Execution), args.Error(1)
}

func testWorkflowPolicy() poll.Policy {
	return poll.Policy{
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		Multiplier:      1,
		MaxAttempts:     5,
	}
}

func newSlideshowService(t *testing.T, store storage.Storage, a Assembler, o workflow.Orchestrator) (*SlideshowService, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	svc := NewSlideshowService(NewService(repo, store, discardLogger(), 1), a, o, SlideshowConfig{
		OutputDir:      filepath.Join(t.TempDir(), "output"),
		WorkflowPolicy: testWorkflowPolicy(),
	})
	return svc, repo
}

func writeUpload(t *testing.T, svc *SlideshowService, name string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "src")
	require.NoError(t, err)
	_, err = f.WriteString(name)
	require.NoError(t, err)
	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	p, err := svc.SaveUpload(context.Background(), name, f)
	require.NoError(t, err)
	return p
}

func writeZipUpload(t *testing.T, svc *SlideshowService, name string, entries ...string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e)
		require.NoError(t, err)
		_, err = w.Write([]byte(e))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	r, err := os.Open(p)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	saved, err := svc.SaveUpload(context.Background(), name, r)
	require.NoError(t, err)
	return saved
}

func TestNewSlideshowService_Defaults(t *testing.T) {
	svc := NewSlideshowService(NewService(NewMemoryRepository(), newFakeStorage(t), nil, 1), nil, nil, SlideshowConfig{})

	assert.Equal(t, DefaultOutputKey, svc.cfg.OutputKey)
	assert.InDelta(t, assembly.DefaultFrameRate, svc.cfg.FPS, 1e-9)
	assert.InDelta(t, assembly.DefaultImageSeconds, svc.cfg.ImageSeconds, 1e-9)
	assert.Equal(t, poll.DefaultPolicy(), svc.cfg.WorkflowPolicy)
	assert.Positive(t, svc.cfg.ArchiveLimits.MaxFiles)
}

func TestSlideshowService_CreateJob(t *testing.T) {
	svc, repo := newSlideshowService(t, newFakeStorage(t), &fakeAssembler{}, nil)
	ctx := context.Background()

	j, err := svc.CreateJob(ctx, SlideshowInput{FPS: 24})
	require.NoError(t, err)
	assert.Equal(t, KindSlideshow, j.Kind)
	assert.Equal(t, StatusInQueue, j.Status)
	assert.InDelta(t, 24.0, j.FPS, 1e-9)
	assert.InDelta(t, assembly.DefaultImageSeconds, j.ImageSeconds, 1e-9)

	_, err = repo.FindByID(ctx, j.ID)
	require.NoError(t, err)
}

func TestSlideshowService_ProcessExistingJob_LocalOnly(t *testing.T) {
	store := newFakeStorage(t)
	assembler := &fakeAssembler{skipped: []assembly.SkippedSource{{Path: "/tmp/bad.png", Kind: media.KindImage, Reason: "decode failed"}}}

	svc, _ := newSlideshowService(t, store, assembler, nil)
	ctx := context.Background()

	input := SlideshowInput{
		Files: []string{
			writeUpload(t, svc, "a.jpg"),
			writeUpload(t, svc, "notes.txt"),
			writeZipUpload(t, svc, "trip.zip", "clips/b.mp4", "c.png"),
		},
	}

	created, err := svc.CreateJob(ctx, input)
	require.NoError(t, err)

	j, err := svc.ProcessExistingJob(ctx, created.ID, input)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, j.Status)
	assert.Equal(t, StageDone, j.Stage)
	assert.Equal(t, 640, j.Width)
	assert.Equal(t, 480, j.Height)
	assert.FileExists(t, j.OutputVideoPath)
	assert.Empty(t, j.VideoURL)
	assert.Empty(t, j.Execution.ID)
	require.Len(t, j.Skipped, 2)
	assert.True(t, strings.HasPrefix(j.Skipped[0], "notes_"))
	assert.True(t, strings.HasSuffix(j.Skipped[0], ".txt: unsupported file type"))
	assert.Equal(t, "bad.png: decode failed", j.Skipped[1])

	require.Len(t, assembler.jobs, 1)
	aj := assembler.jobs[0]
	assert.Len(t, aj.Sources, 3)
	assert.InDelta(t, assembly.DefaultFrameRate, aj.FrameRate, 1e-9)
	ordered := aj.Ordered()
	assert.Equal(t, media.KindVideo, ordered[0].Kind)
	assert.Equal(t, "b.mp4", filepath.Base(ordered[0].Path))

	for _, f := range input.Files {
		assert.NoFileExists(t, f, "uploads are removed after processing")
	}
}

func TestSlideshowService_ProcessExistingJob_UploadAndOrchestrate(t *testing.T) {
	store := newFakeStorage(t)
	var uploadedKey string
	store.upload = func(_ context.Context, key, contentType string, r io.Reader) (*storage.Object, error) {
		uploadedKey = key
		if contentType != "video/mp4" {
			return nil, errors.New("unexpected content type " + contentType)
		}
		_, _ = io.Copy(io.Discard, r)
		return &storage.Object{Bucket: "reels", Key: key, URL: "https://reels.s3.amazonaws.com/" + key}, nil
	}

	assembler := &fakeAssembler{}

	orch := &mockOrchestrator{}
	orch.On("Trigger", mock.Anything, mock.MatchedBy(func(p workflow.Payload) bool {
		return p.Bucket == "reels" && p.Width == 640 && p.VideoURI == "s3://reels/"+p.Key
	})).Return("exec-1", nil)
	orch.On("Status", mock.Anything, "exec-1").Return(workflow.Execution{ID: "exec-1", Status: workflow.StatusRunning}, nil).Once()
	orch.On("Status", mock.Anything, "exec-1").Return(workflow.Execution{ID: "exec-1", Status: workflow.StatusSucceeded, Output: `{"ok":true}`}, nil)

	svc, repo := newSlideshowService(t, store, assembler, orch)
	ctx := context.Background()

	input := SlideshowInput{Files: []string{writeUpload(t, svc, "a.jpg")}, FPS: 5, ImageSeconds: 2}
	created, err := svc.CreateJob(ctx, input)
	require.NoError(t, err)

	j, err := svc.ProcessExistingJob(ctx, created.ID, input)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, j.Status)
	assert.Equal(t, "slideshows/"+created.ID+".mp4", uploadedKey)
	assert.Equal(t, uploadedKey, j.OutputKey)
	assert.Equal(t, "https://reels.s3.amazonaws.com/"+uploadedKey, j.VideoURL)
	assert.Equal(t, "exec-1", j.Execution.ID)
	assert.Equal(t, string(workflow.StatusSucceeded), j.Execution.Status)
	assert.JSONEq(t, `{"ok":true}`, j.Execution.Output)

	saved, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, saved.Status)
	orch.AssertExpectations(t)
}

func TestSlideshowService_ProcessExistingJob_WorkflowFailed(t *testing.T) {
	store := newFakeStorage(t)
	store.upload = func(_ context.Context, key, _ string, _ io.Reader) (*storage.Object, error) {
		return &storage.Object{Bucket: "reels", Key: key}, nil
	}
	assembler := &fakeAssembler{}

	orch := &mockOrchestrator{}
	orch.On("Trigger", mock.Anything, mock.Anything).Return("exec-2", nil)
	orch.On("Status", mock.Anything, "exec-2").Return(workflow.Execution{ID: "exec-2", Status: workflow.StatusFailed, Error: "States.TaskFailed"}, nil)

	svc, _ := newSlideshowService(t, store, assembler, orch)
	ctx := context.Background()

	input := SlideshowInput{Files: []string{writeUpload(t, svc, "a.jpg")}}
	created, err := svc.CreateJob(ctx, input)
	require.NoError(t, err)

	j, err := svc.ProcessExistingJob(ctx, created.ID, input)
	assert.ErrorIs(t, err, workflow.ErrExecutionFailed)
	assert.Equal(t, StatusFailed, j.Status)
	assert.Equal(t, string(workflow.StatusFailed), j.Execution.Status)
	assert.Contains(t, j.Error, "States.TaskFailed")
}

func TestSlideshowService_ProcessExistingJob_WorkflowTimeout(t *testing.T) {
	store := newFakeStorage(t)
	store.upload = func(_ context.Context, key, _ string, _ io.Reader) (*storage.Object, error) {
		return &storage.Object{Bucket: "reels", Key: key}, nil
	}
	assembler := &fakeAssembler{}

	orch := &mockOrchestrator{}
	orch.On("Trigger", mock.Anything, mock.Anything).Return("exec-3", nil)
	orch.On("Status", mock.Anything, "exec-3").Return(workflow.Execution{ID: "exec-3", Status: workflow.StatusRunning}, nil)

	svc, _ := newSlideshowService(t, store, assembler, orch)
	ctx := context.Background()

	input := SlideshowInput{Files: []string{writeUpload(t, svc, "a.jpg")}}
	created, err := svc.CreateJob(ctx, input)
	require.NoError(t, err)

	j, err := svc.ProcessExistingJob(ctx, created.ID, input)
	assert.ErrorIs(t, err, poll.ErrAttemptsExhausted)
	assert.Equal(t, StatusTimedOut, j.Status)
	orch.AssertNumberOfCalls(t, "Status", 5)
}

func TestSlideshowService_ProcessExistingJob_EmptyJob(t *testing.T) {
	assembler := &fakeAssembler{err: assembly.ErrEmptyJob}

	svc, _ := newSlideshowService(t, newFakeStorage(t), assembler, nil)
	ctx := context.Background()

	input := SlideshowInput{Files: []string{writeUpload(t, svc, "a.jpg")}}
	created, err := svc.CreateJob(ctx, input)
	require.NoError(t, err)

	j, err := svc.ProcessExistingJob(ctx, created.ID, input)
	assert.ErrorIs(t, err, assembly.ErrEmptyJob)
	assert.Equal(t, StatusFailed, j.Status)
	assert.Empty(t, j.OutputVideoPath)
}

func TestSlideshowService_ProcessExistingJob_NoInputs(t *testing.T) {
	svc, _ := newSlideshowService(t, newFakeStorage(t), &fakeAssembler{}, nil)
	ctx := context.Background()

	created, err := svc.CreateJob(ctx, SlideshowInput{})
	require.NoError(t, err)

	j, err := svc.ProcessExistingJob(ctx, created.ID, SlideshowInput{})
	assert.ErrorIs(t, err, ErrNoMedia)
	assert.Equal(t, StatusFailed, j.Status)
}

func TestSlideshowService_ProcessExistingJob_S3Folder(t *testing.T) {
	store := newFakeStorage(t)
	store.download = downloadFiles("x.jpg", "y.mov")
	assembler := &fakeAssembler{}

	svc, _ := newSlideshowService(t, store, assembler, nil)
	ctx := context.Background()

	input := SlideshowInput{FolderURI: "s3://trips/lisbon"}
	created, err := svc.CreateJob(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, "s3://trips/lisbon", created.SourceURI)

	j, err := svc.ProcessExistingJob(ctx, created.ID, input)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, j.Status)
	assert.Equal(t, 100, j.Frames)
}
