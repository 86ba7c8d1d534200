package tasks

import (
	"context"
	"sync"
	"time"

	"osint/internal/lookup/models"
)

type entry struct {
	task   models.Task
	cancel context.CancelFunc
	// done is closed when the task reaches a terminal state or is discarded.
	done chan struct{}
	// cause is the error handed to callers waiting on a failed task.
	cause error
}

// finish releases the key and wakes waiters. Callers hold r.mu and have
// already moved the task to a terminal state.
func (r *registry) finish(id string, e *entry, now time.Time) {
	e.task.CompletedAt = now
	e.cancel = nil
	if r.byKey[e.task.Key] == id {
		delete(r.byKey, e.task.Key)
	}
	close(e.done)
}

// registry holds tasks by id with a secondary index from cache key to the
// in-flight task for that key. One mutex guards both so that the check for an
// existing task and the creation of a new one are atomic.
type registry struct {
	mu    sync.Mutex
	byID  map[string]*entry
	byKey map[string]string
}

func newRegistry() *registry {
	return &registry{
		byID:  make(map[string]*entry),
		byKey: make(map[string]string),
	}
}

// createOrGet returns the in-flight task for key, or registers newTask.
// created is false when an existing task was returned.
func (r *registry) createOrGet(newTask models.Task) (models.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byKey[newTask.Key]; ok {
		if e, ok := r.byID[id]; ok && e.task.State.InFlight() {
			return e.task, false
		}
	}
	r.byID[newTask.ID] = &entry{task: newTask, done: make(chan struct{})}
	r.byKey[newTask.Key] = newTask.ID
	return newTask, true
}

// discard drops a task that was never started.
func (r *registry) discard(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[id]; ok {
		if r.byKey[e.task.Key] == id {
			delete(r.byKey, e.task.Key)
		}
		if !e.task.State.IsTerminal() {
			close(e.done)
		}
		delete(r.byID, id)
	}
}

func (r *registry) get(id string) (models.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return models.Task{}, false
	}
	return e.task, true
}

// transition moves id to next when the state machine allows it. mutate runs
// under the lock before the snapshot is taken.
func (r *registry) transition(id string, next models.TaskState, now time.Time, mutate func(*models.Task)) (models.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok || !e.task.State.CanTransitionTo(next) {
		return models.Task{}, false
	}
	e.task.State = next
	e.task.UpdatedAt = now
	if mutate != nil {
		mutate(&e.task)
	}
	if next.IsTerminal() {
		r.finish(id, e, now)
	}
	return e.task, true
}

// fail moves id to Failure and records cause for waiting callers.
func (r *registry) fail(id string, now time.Time, kind models.TaskErrorKind, message string, cause error) (models.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok || !e.task.State.CanTransitionTo(models.TaskFailure) {
		return models.Task{}, false
	}
	e.task.State = models.TaskFailure
	e.task.UpdatedAt = now
	e.task.ErrorKind = kind
	e.task.Error = message
	e.cause = cause
	r.finish(id, e, now)
	return e.task, true
}

// doneCh returns a channel closed once id finishes.
func (r *registry) doneCh(id string) (<-chan struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return e.done, true
}

// outcome returns the snapshot and failure cause of a task.
func (r *registry) outcome(id string) (task models.Task, ok bool, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return models.Task{}, false, nil
	}
	return e.task, true, e.cause
}

// setCancel attaches the interrupt for a running task. It fails when the task
// has already reached a terminal state.
func (r *registry) setCancel(id string, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok || e.task.State.IsTerminal() {
		return false
	}
	e.cancel = cancel
	return true
}

// progress raises the task's progress; it never decreases.
func (r *registry) progress(id string, p int, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok || e.task.State.IsTerminal() || p <= e.task.Progress {
		return
	}
	e.task.Progress = min(p, models.ProgressComplete)
	e.task.UpdatedAt = now
}

// cancel marks a non-terminal task as cancelled and interrupts its running
// attempt. cancelled is false when the task had already finished.
func (r *registry) cancel(id string, now time.Time) (task models.Task, cancelled bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return models.Task{}, false, ErrTaskNotFound
	}
	if e.task.State.IsTerminal() {
		return e.task, false, nil
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.task.State = models.TaskFailure
	e.task.ErrorKind = models.TaskErrorCancelled
	e.task.Error = ErrTaskCancelled.Error()
	e.task.UpdatedAt = now
	e.cause = ErrTaskCancelled
	r.finish(id, e, now)
	return e.task, true, nil
}

// removeCompletedBefore drops terminal tasks completed before cutoff.
func (r *registry) removeCompletedBefore(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, e := range r.byID {
		if e.task.State.IsTerminal() && e.task.CompletedAt.Before(cutoff) {
			delete(r.byID, id)
			removed++
		}
	}
	return removed
}

func (r *registry) counts() map[models.TaskState]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[models.TaskState]int)
	for _, e := range r.byID {
		out[e.task.State]++
	}
	return out
}
