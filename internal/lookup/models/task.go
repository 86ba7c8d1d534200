package models

import "time"

type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskProcessing TaskState = "processing"
	TaskRetry      TaskState = "retry"
	TaskSuccess    TaskState = "success"
	TaskFailure    TaskState = "failure"
)

func (s TaskState) IsTerminal() bool {
	return s == TaskSuccess || s == TaskFailure
}

// InFlight reports whether a task in this state blocks a new submission for its key.
func (s TaskState) InFlight() bool {
	return s == TaskPending || s == TaskProcessing || s == TaskRetry
}

// CanTransitionTo encodes Pending -> Processing -> {Success | Retry -> Processing | Failure}.
// Any non-terminal state may move to Failure (cancellation).
func (s TaskState) CanTransitionTo(next TaskState) bool {
	switch s {
	case TaskPending:
		return next == TaskProcessing || next == TaskFailure
	case TaskProcessing:
		return next == TaskSuccess || next == TaskRetry || next == TaskFailure
	case TaskRetry:
		return next == TaskProcessing || next == TaskFailure
	default:
		return false
	}
}

// TaskErrorKind refines a Failure.
type TaskErrorKind string

const (
	TaskErrorNone           TaskErrorKind = ""
	TaskErrorCancelled      TaskErrorKind = "cancelled"
	TaskErrorRetryExhausted TaskErrorKind = "retry_exhausted"
	// TaskErrorFailed marks an inline lookup that failed; inline lookups are not retried.
	TaskErrorFailed         TaskErrorKind = "failed"
)

// Task progress milestones.
const (
	ProgressDispatched     = 10
	ProgressFanOutComplete = 60
	ProgressMergeComplete  = 80
	ProgressCacheWriteDone = 95
	ProgressComplete       = 100
)

// Task is a snapshot of an orchestrated lookup.
type Task struct {
	ID          string               `json:"id"`
	Key         string               `json:"key"`
	Query       Query                `json:"query"`
	State       TaskState            `json:"state"`
	Progress    int                  `json:"progress"`
	Attempt     int                  `json:"attempt"`
	Result      *ConsolidatedProfile `json:"result,omitempty"`
	Error       string               `json:"error,omitempty"`
	ErrorKind   TaskErrorKind        `json:"error_kind,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	CompletedAt time.Time            `json:"completed_at,omitzero"`
}

// TaskHandle is returned by asynchronous submissions.
type TaskHandle struct {
	TaskID    string `json:"task_id"`
	StatusURL string `json:"status_url"`
}

// TaskStatus is the polling view of a task.
type TaskStatus struct {
	TaskID    string               `json:"task_id"`
	State     TaskState            `json:"state"`
	Progress  int                  `json:"progress"`
	Attempt   int                  `json:"attempt"`
	Result    *ConsolidatedProfile `json:"result,omitempty"`
	Error     string               `json:"error,omitempty"`
	ErrorKind TaskErrorKind        `json:"error_kind,omitempty"`
}

func (t Task) Status() TaskStatus {
	return TaskStatus{
		TaskID:    t.ID,
		State:     t.State,
		Progress:  t.Progress,
		Attempt:   t.Attempt,
		Result:    t.Result,
		Error:     t.Error,
		ErrorKind: t.ErrorKind,
	}
}
