package tasks

import (
	"errors"
	"fmt"

	dErrors "osint/pkg/domain-errors"
)

var (
	ErrTaskNotFound       = dErrors.New(dErrors.CodeNotFound, "task not found")
	ErrQueueFull          = dErrors.New(dErrors.CodeUnavailable, "task queue is full")
	ErrStopped            = dErrors.New(dErrors.CodeUnavailable, "task orchestrator is stopped")
	ErrTaskRetryExhausted = errors.New("task retry exhausted")
	ErrTaskCancelled      = errors.New("task cancelled")
	ErrInterrupted        = fmt.Errorf("%w: interrupted by shutdown", ErrTaskCancelled)
)
