// Package caption asks a Gemini model for a short travel story about an
// image or video. Files go through the Gemini Files API: upload, wait until
// the file is ACTIVE, generate, then delete.
package caption

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"google.golang.org/genai"

	"github.com/maauso/tripreel-api/internal/media"
	"github.com/maauso/tripreel-api/internal/poll"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-1.5-pro"

// DefaultGenerateTimeout bounds a single generation call.
const DefaultGenerateTimeout = 600 * time.Second

// FileService is the subset of the Gemini Files API used here.
type FileService interface {
	Upload(ctx context.Context, r io.Reader, config *genai.UploadFileConfig) (*genai.File, error)
	Get(ctx context.Context, name string, config *genai.GetFileConfig) (*genai.File, error)
	Delete(ctx context.Context, name string, config *genai.DeleteFileConfig) (*genai.DeleteFileResponse, error)
}

// ModelService is the subset of the Gemini Models API used here.
type ModelService interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Captioner generates stories for media files.
type Captioner struct {
	files           FileService
	models          ModelService
	model           string
	filePolicy      poll.Policy
	retryPolicy     poll.Policy
	generateTimeout time.Duration
	logger          *slog.Logger
}

// Option configures a Captioner.
type Option func(*Captioner)

// WithModel sets the Gemini model name.
func WithModel(model string) Option {
	return func(c *Captioner) {
		if model != "" {
			c.model = model
		}
	}
}

// WithFilePolicy sets the policy used while waiting for uploads to become ACTIVE.
func WithFilePolicy(p poll.Policy) Option {
	return func(c *Captioner) {
		c.filePolicy = p
	}
}

// WithRetryPolicy sets the policy used to retry transient API failures.
func WithRetryPolicy(p poll.Policy) Option {
	return func(c *Captioner) {
		c.retryPolicy = p
	}
}

// WithGenerateTimeout bounds each generation call.
func WithGenerateTimeout(d time.Duration) Option {
	return func(c *Captioner) {
		if d > 0 {
			c.generateTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Captioner) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Captioner over the given Gemini services.
func New(files FileService, models ModelService, opts ...Option) *Captioner {
	c := &Captioner{
		files:  files,
		models: models,
		model:  DefaultModel,
		filePolicy: poll.Policy{
			InitialInterval: 2 * time.Second,
			MaxInterval:     15 * time.Second,
			Multiplier:      1.5,
			MaxAttempts:     120,
			Timeout:         10 * time.Minute,
		},
		retryPolicy: poll.Policy{
			InitialInterval: time.Second,
			MaxInterval:     8 * time.Second,
			Multiplier:      2,
			MaxAttempts:     4,
		},
		generateTimeout: DefaultGenerateTimeout,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewGemini creates a Captioner backed by the Gemini Developer API.
func NewGemini(ctx context.Context, apiKey string, opts ...Option) (*Captioner, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("caption: create gemini client: %w", err)
	}
	return New(client.Files, client.Models, opts...), nil
}

// Model returns the configured model name.
func (c *Captioner) Model() string {
	return c.model
}

// Caption uploads the file, waits for it to be processed and asks the model
// for a story. The uploaded file is deleted before returning.
func (c *Captioner) Caption(ctx context.Context, req Request) (Story, error) {
	if req.Kind != media.KindImage && req.Kind != media.KindVideo {
		return Story{}, fmt.Errorf("%w: %s", ErrUnsupportedMedia, req.Path)
	}

	log := c.logger.With(slog.String("file", req.Path), slog.String("kind", string(req.Kind)))

	file, err := c.upload(ctx, req.Path)
	if err != nil {
		return Story{}, err
	}
	defer c.deleteFile(ctx, file.Name, log)

	log.Info("file uploaded", slog.String("name", file.Name), slog.String("uri", file.URI))

	file, err = c.waitActive(ctx, file, log)
	if err != nil {
		return Story{}, err
	}

	raw, err := c.generate(ctx, file, BuildPrompt(req))
	if err != nil {
		return Story{}, err
	}

	story := ParseStory(raw, req)
	log.Info("story generated", slog.String("voice_tone", story.RecommendedVoiceTone))
	return story, nil
}

func (c *Captioner) upload(ctx context.Context, path string) (*genai.File, error) {
	var file *genai.File
	err := poll.Do(ctx, c.retryPolicy, func(ctx context.Context) error {
		f, err := os.Open(path) // #nosec G304 - path comes from a job-scoped temp dir
		if err != nil {
			return fmt.Errorf("caption: open %s: %w", path, err)
		}
		defer func() { _ = f.Close() }()

		file, err = c.files.Upload(ctx, f, &genai.UploadFileConfig{MIMEType: media.MIMEType(path)})
		if err != nil {
			return classify(fmt.Errorf("caption: upload %s: %w", path, err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

// waitActive polls the uploaded file until it leaves the PROCESSING state.
func (c *Captioner) waitActive(ctx context.Context, file *genai.File, log *slog.Logger) (*genai.File, error) {
	current := file
	checks, err := poll.Until(ctx, c.filePolicy, func(ctx context.Context) (bool, error) {
		switch current.State {
		case genai.FileStateActive:
			return true, nil
		case genai.FileStateFailed:
			return false, fmt.Errorf("%w: %s", ErrProcessingFailed, current.Name)
		}

		f, err := c.files.Get(ctx, current.Name, nil)
		if err != nil {
			return false, classify(fmt.Errorf("caption: get file %s: %w", current.Name, err))
		}
		current = f

		switch current.State {
		case genai.FileStateActive:
			return true, nil
		case genai.FileStateFailed:
			return false, fmt.Errorf("%w: %s", ErrProcessingFailed, current.Name)
		default:
			return false, nil
		}
	})
	if err != nil {
		return nil, err
	}
	log.Debug("file active", slog.Int("checks", checks))
	return current, nil
}

func (c *Captioner) generate(ctx context.Context, file *genai.File, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromURI(file.URI, file.MIMEType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}

	var text string
	err := poll.Do(ctx, c.retryPolicy, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.generateTimeout)
		defer cancel()

		resp, err := c.models.GenerateContent(callCtx, c.model, contents, cfg)
		if err != nil {
			return classify(fmt.Errorf("caption: generate content: %w", err))
		}
		if resp == nil {
			return ErrEmptyResponse
		}
		text = resp.Text()
		if text == "" {
			return ErrEmptyResponse
		}
		return nil
	})
	return text, err
}

func (c *Captioner) deleteFile(ctx context.Context, name string, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if _, err := c.files.Delete(ctx, name, nil); err != nil {
		log.Warn("failed to delete uploaded file", slog.String("name", name), slog.Any("error", err))
	}
}
