package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/aws/smithy-go"

	"github.com/maauso/tripreel-api/internal/poll"
)

// ErrStateMachineRequired is returned when no state machine ARN is configured.
var ErrStateMachineRequired = errors.New("workflow: state machine ARN is required")

// SFNAPI is the subset of the Step Functions client used here.
type SFNAPI interface {
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
	DescribeExecution(ctx context.Context, params *sfn.DescribeExecutionInput, optFns ...func(*sfn.Options)) (*sfn.DescribeExecutionOutput, error)
}

// StepFunctions runs slideshow workflows as AWS Step Functions executions.
type StepFunctions struct {
	client          SFNAPI
	stateMachineARN string
}

// NewStepFunctions creates an orchestrator for the given state machine.
func NewStepFunctions(client SFNAPI, stateMachineARN string) (*StepFunctions, error) {
	if stateMachineARN == "" {
		return nil, ErrStateMachineRequired
	}
	return &StepFunctions{client: client, stateMachineARN: stateMachineARN}, nil
}

// NewStepFunctionsFromConfig builds the Step Functions client from an AWS config.
func NewStepFunctionsFromConfig(cfg aws.Config, stateMachineARN string) (*StepFunctions, error) {
	return NewStepFunctions(sfn.NewFromConfig(cfg), stateMachineARN)
}

// Trigger starts an execution named after the job so retries of the same job
// are rejected by Step Functions instead of running twice.
func (s *StepFunctions) Trigger(ctx context.Context, payload Payload) (string, error) {
	input, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("workflow: marshal payload: %w", err)
	}

	params := &sfn.StartExecutionInput{
		StateMachineArn: aws.String(s.stateMachineARN),
		Input:           aws.String(string(input)),
	}
	if name := executionName(payload.JobID); name != "" {
		params.Name = aws.String(name)
	}

	out, err := s.client.StartExecution(ctx, params)
	if err != nil {
		return "", classifyAWS(fmt.Errorf("workflow: start execution: %w", err))
	}
	if out == nil || aws.ToString(out.ExecutionArn) == "" {
		return "", ErrNoExecutionID
	}
	return aws.ToString(out.ExecutionArn), nil
}

// Status describes the execution.
func (s *StepFunctions) Status(ctx context.Context, executionID string) (Execution, error) {
	if executionID == "" {
		return Execution{}, ErrExecutionIDRequired
	}

	out, err := s.client.DescribeExecution(ctx, &sfn.DescribeExecutionInput{
		ExecutionArn: aws.String(executionID),
	})
	if err != nil {
		return Execution{}, classifyAWS(fmt.Errorf("workflow: describe execution: %w", err))
	}

	exec := Execution{
		ID:     executionID,
		Status: mapExecutionStatus(out.Status),
		Output: aws.ToString(out.Output),
	}
	if out.Error != nil || out.Cause != nil {
		exec.Error = fmt.Sprintf("%s: %s", aws.ToString(out.Error), aws.ToString(out.Cause))
	}
	return exec, nil
}

func mapExecutionStatus(s types.ExecutionStatus) Status {
	switch s {
	case types.ExecutionStatusSucceeded:
		return StatusSucceeded
	case types.ExecutionStatusFailed:
		return StatusFailed
	case types.ExecutionStatusTimedOut:
		return StatusTimedOut
	case types.ExecutionStatusAborted:
		return StatusAborted
	default:
		// RUNNING and PENDING_REDRIVE keep polling.
		return StatusRunning
	}
}

var invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// executionName turns a job ID into a valid execution name (max 80 chars).
func executionName(jobID string) string {
	name := invalidNameChars.ReplaceAllString(jobID, "-")
	if len(name) > 80 {
		name = name[:80]
	}
	return name
}

// classifyAWS marks throttling and server-side faults as retryable.
func classifyAWS(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ServiceUnavailable", "InternalServerError", "RequestLimitExceeded":
			return poll.Retryable(err)
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return poll.Retryable(err)
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return poll.Retryable(err)
}
