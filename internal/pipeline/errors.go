package pipeline

import (
	"errors"
	"fmt"

	"github.com/tendant/simple-docparser/pkg/schema"
)

// Error kinds. Every *Error matches exactly one of these with errors.Is.
var (
	ErrInput      = errors.New("input error")
	ErrConversion = errors.New("conversion error")
	ErrPackaging  = errors.New("packaging error")
	ErrPublish    = errors.New("publish error")
	ErrResource   = errors.New("resource error")
)

// Error is the failure of one pipeline stage.
type Error struct {
	JobID string
	Stage schema.ProcessingStage
	Kind  error
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind }

func kindOf(stage schema.ProcessingStage) error {
	switch stage {
	case schema.StageInput:
		return ErrInput
	case schema.StageConvert:
		return ErrConversion
	case schema.StagePackage:
		return ErrPackaging
	case schema.StagePublish:
		return ErrPublish
	default:
		return ErrResource
	}
}

func stageError(jobID string, stage schema.ProcessingStage, err error) *Error {
	return &Error{JobID: jobID, Stage: stage, Kind: kindOf(stage), Err: err}
}

// StageOf returns the stage an error was raised in, or "" for errors that
// did not come from a pipeline run.
func StageOf(err error) schema.ProcessingStage {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}

// Classify maps an error to the failure type reported in events. Bad input
// will not get better on retry; a backend rejecting a document is treated as
// permanent too. Storage and disk problems may clear up.
func Classify(err error) schema.FailureType {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInput):
		return schema.FailureTypeValidation
	case errors.Is(err, ErrConversion):
		return schema.FailureTypePermanent
	default:
		return schema.FailureTypeRetryable
	}
}

// Reply converts the outcome of Run into the payload returned to callers.
func Reply(res *schema.JobResult, err error) schema.JobReply {
	if err != nil {
		return schema.JobReply{
			Error:       err.Error(),
			Stage:       StageOf(err),
			FailureType: Classify(err),
		}
	}
	return schema.JobReply{JobResult: res}
}
