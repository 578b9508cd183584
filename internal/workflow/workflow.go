// Package workflow triggers an external orchestrator once a slideshow has been
// uploaded and follows the resulting execution to a terminal state.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maauso/tripreel-api/internal/poll"
)

// Static errors for workflow operations.
var (
	// ErrExecutionIDRequired is returned when the execution ID is not provided.
	ErrExecutionIDRequired = errors.New("workflow: execution ID is required")
	// ErrNoExecutionID is returned when a trigger response carries no execution ID.
	ErrNoExecutionID = errors.New("workflow: trigger returned no execution ID")
	// ErrExecutionFailed is returned when the execution ends in a non-success terminal state.
	ErrExecutionFailed = errors.New("workflow: execution failed")
	// ErrServerError is returned when the orchestrator answers with a 5xx status code.
	ErrServerError = errors.New("workflow: server error")
	// ErrRateLimited is returned when the orchestrator answers with 429.
	ErrRateLimited = errors.New("workflow: rate limited")
	// ErrRequestFailed is returned for any other non-2xx answer.
	ErrRequestFailed = errors.New("workflow: request failed")
)

// Status is the state of an orchestrator execution.
type Status string

// Execution statuses, named after the Step Functions states.
const (
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusTimedOut  Status = "TIMED_OUT"
	StatusAborted   Status = "ABORTED"
)

// IsTerminal reports whether the execution will not change state again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusAborted:
		return true
	default:
		return false
	}
}

// Payload is the trigger input describing an uploaded slideshow.
type Payload struct {
	JobID    string  `json:"job_id"`
	Bucket   string  `json:"bucket"`
	Key      string  `json:"key"`
	VideoURI string  `json:"video_uri"`
	VideoURL string  `json:"video_url"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Frames   int     `json:"frames"`
	FPS      float64 `json:"fps"`
}

// Execution is a snapshot of an orchestrator run.
type Execution struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Orchestrator starts and inspects workflow executions.
type Orchestrator interface {
	// Trigger starts an execution for the payload and returns its ID.
	Trigger(ctx context.Context, payload Payload) (executionID string, err error)

	// Status returns the current state of an execution.
	Status(ctx context.Context, executionID string) (Execution, error)
}

// Wait polls the execution until it reaches a terminal state.
// A terminal state other than SUCCEEDED yields ErrExecutionFailed together
// with the last observed execution.
func Wait(ctx context.Context, o Orchestrator, executionID string, p poll.Policy, logger *slog.Logger) (Execution, error) {
	if executionID == "" {
		return Execution{}, ErrExecutionIDRequired
	}
	if logger == nil {
		logger = slog.Default()
	}

	var last Execution
	checks, err := poll.Until(ctx, p, func(ctx context.Context) (bool, error) {
		exec, err := o.Status(ctx, executionID)
		if err != nil {
			return false, err
		}
		last = exec

		switch {
		case exec.Status == StatusSucceeded:
			return true, nil
		case exec.Status.IsTerminal():
			return false, fmt.Errorf("%w: %s %s", ErrExecutionFailed, exec.Status, exec.Error)
		default:
			logger.Debug("execution in progress",
				slog.String("execution_id", executionID),
				slog.String("status", string(exec.Status)))
			return false, nil
		}
	})
	if err != nil {
		return last, err
	}

	logger.Info("execution succeeded",
		slog.String("execution_id", executionID),
		slog.Int("checks", checks))
	return last, nil
}
