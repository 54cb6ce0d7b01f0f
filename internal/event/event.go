// Package event defines lifecycle events emitted by the scheduler and the
// sinks that receive them. Emitting never fails the calling operation.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	ServiceCreated   = "service.created"
	ServiceAdded     = "service.added"
	ServiceQueued    = "service.queued"
	ServiceActivated = "service.activated"
	ServiceCompleted = "service.completed"
	ServiceCancelled = "service.cancelled"

	MachineClaimed  = "machine.claimed"
	MachineReleased = "machine.released"
	MachineBroken   = "machine.broken"
	MachineRepaired = "machine.repaired"

	DriftMachineReleased    = "drift.machine_released"
	DriftDuplicateClaim     = "drift.duplicate_claim"
	DriftAssignmentFinalize = "drift.assignment_finalized"
	DriftPlannedReplaced    = "drift.planned_replaced"
)

// Event is a single lifecycle occurrence.
type Event struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	BranchID      int64          `json:"branchId"`
	MachineID     *int64         `json:"machineId,omitempty"`
	AssignmentID  *int64         `json:"assignmentId,omitempty"`
	TransactionID *int64         `json:"transactionId,omitempty"`
	Actor         string         `json:"actor,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	OccurredAt    time.Time      `json:"occurredAt"`
	Data          map[string]any `json:"data,omitempty"`
}

// New creates an event of the given type for a branch.
func New(eventType string, branchID int64) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		BranchID:   branchID,
		OccurredAt: time.Now().UTC(),
	}
}

func (e Event) WithMachine(id int64) Event {
	e.MachineID = &id
	return e
}

func (e Event) WithAssignment(id int64) Event {
	e.AssignmentID = &id
	return e
}

func (e Event) WithTransaction(id int64) Event {
	e.TransactionID = &id
	return e
}

func (e Event) WithActor(actor string) Event {
	e.Actor = actor
	return e
}

func (e Event) WithReason(reason string) Event {
	e.Reason = reason
	return e
}

// At overrides the occurrence time.
func (e Event) At(t time.Time) Event {
	e.OccurredAt = t
	return e
}

// WithData attaches one key/value pair. The map is copied so derived events
// never share state.
func (e Event) WithData(key string, value any) Event {
	data := make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}
