// Package events publishes task lifecycle events. Events carry the cache key
// rather than the raw query value so downstream consumers never see the phone
// number or email address being looked up.
package events

import (
	"context"
	"time"

	"osint/internal/lookup/models"
)

type Type string

const (
	TaskSubmitted  Type = "task_submitted"
	TaskProcessing Type = "task_processing"
	TaskRetrying   Type = "task_retrying"
	TaskSucceeded  Type = "task_succeeded"
	TaskFailed     Type = "task_failed"
	TaskCancelled  Type = "task_cancelled"
)

type TaskEvent struct {
	Type      Type                 `json:"type"`
	TaskID    string               `json:"task_id"`
	CacheKey  string               `json:"cache_key"`
	QueryType models.QueryType     `json:"query_type"`
	State     models.TaskState     `json:"state"`
	Progress  int                  `json:"progress"`
	Attempt   int                  `json:"attempt"`
	ErrorKind models.TaskErrorKind `json:"error_kind,omitempty"`
	Error     string               `json:"error,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// FromTask builds an event of type t from a task snapshot.
func FromTask(t Type, task models.Task) TaskEvent {
	return TaskEvent{
		Type:      t,
		TaskID:    task.ID,
		CacheKey:  task.Key,
		QueryType: task.Query.Type,
		State:     task.State,
		Progress:  task.Progress,
		Attempt:   task.Attempt,
		ErrorKind: task.ErrorKind,
		Error:     task.Error,
		Timestamp: task.UpdatedAt,
	}
}

// Publisher delivers task events. Publishing is best effort: callers log
// errors and carry on.
type Publisher interface {
	Publish(ctx context.Context, ev TaskEvent) error
}
