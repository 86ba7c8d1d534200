package events

import (
	"context"
	"log/slog"
	"sync"
)

// LogPublisher writes events to a logger. Used when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, ev TaskEvent) error {
	p.logger.InfoContext(ctx, "task event",
		"event", string(ev.Type),
		"task_id", ev.TaskID,
		"state", string(ev.State),
		"progress", ev.Progress,
		"attempt", ev.Attempt,
	)
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []TaskEvent
}

func (r *Recorder) Publish(_ context.Context, ev TaskEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []TaskEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TaskEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types for taskID in order.
func (r *Recorder) Types(taskID string) []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Type
	for _, ev := range r.events {
		if ev.TaskID == taskID {
			out = append(out, ev.Type)
		}
	}
	return out
}
