package caption

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/genai"

	"github.com/maauso/tripreel-api/internal/poll"
)

// Static errors for captioning.
var (
	// ErrAPIKeyRequired is returned when no Gemini API key is configured.
	ErrAPIKeyRequired = errors.New("caption: GEMINI_API_KEY is required")
	// ErrProcessingFailed is returned when the uploaded file ends in the FAILED state.
	ErrProcessingFailed = errors.New("caption: file processing failed")
	// ErrEmptyResponse is returned when the model returns no text.
	ErrEmptyResponse = errors.New("caption: empty response")
	// ErrUnsupportedMedia is returned for files that cannot be captioned.
	ErrUnsupportedMedia = errors.New("caption: unsupported media")
)

// classify marks transient Gemini failures as retryable.
// Rate limiting and server errors are retried; anything else is fatal.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	default:
		// No status code: transport failure.
		return poll.Retryable(err)
	}

	if code == http.StatusTooManyRequests || code >= http.StatusInternalServerError {
		return poll.Retryable(err)
	}
	return err
}
