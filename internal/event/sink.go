package event

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"sync"

	"laundry-branch-backend/internal/model"
)

// Sink receives emitted events.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) {})

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

// LogSink writes one line per event.
type LogSink struct {
	Logger *log.Logger
}

func (s LogSink) Emit(_ context.Context, ev Event) {
	logf := log.Printf
	if s.Logger != nil {
		logf = s.Logger.Printf
	}
	logf("event %s branch=%d machine=%s assignment=%s actor=%q reason=%q",
		ev.Type, ev.BranchID, idString(ev.MachineID), idString(ev.AssignmentID), ev.Actor, ev.Reason)
}

// Recorder keeps events in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	events := r.Events()
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

// Count returns how many events of the given type were recorded.
func (r *Recorder) Count(eventType string) int {
	n := 0
	for _, ev := range r.Events() {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

// EventRecorder persists audit rows.
type EventRecorder interface {
	RecordEvent(ctx context.Context, ev model.LifecycleEvent) error
}

// AuditSink persists every event as a LifecycleEvent row.
type AuditSink struct {
	Store EventRecorder
}

func (s AuditSink) Emit(ctx context.Context, ev Event) {
	row := model.LifecycleEvent{
		ID:            ev.ID,
		Type:          ev.Type,
		BranchID:      ev.BranchID,
		MachineID:     ev.MachineID,
		AssignmentID:  ev.AssignmentID,
		TransactionID: ev.TransactionID,
		Actor:         ev.Actor,
		Reason:        ev.Reason,
		OccurredAt:    ev.OccurredAt,
	}
	if len(ev.Data) > 0 {
		if b, err := json.Marshal(ev.Data); err == nil {
			row.Data = string(b)
		}
	}
	// Audit writes outlive request cancellation.
	if err := s.Store.RecordEvent(context.WithoutCancel(ctx), row); err != nil {
		log.Printf("Error recording audit event %s (%s): %v", ev.ID, ev.Type, err)
	}
}

func idString(id *int64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(*id, 10)
}
