package store

import (
	"errors"
	"time"

	"laundry-branch-backend/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// Transition describes a conditional assignment status change. The update
// only applies while the row is still in From.
type Transition struct {
	From model.AssignmentStatus
	To   model.AssignmentStatus
	At   time.Time

	MachineID    *int64
	ClearMachine bool
	StartedAt    *time.Time
	Deadline     *time.Time
	ClearTimer   bool
	CompletedAt  *time.Time
	CancelledAt  *time.Time
	CancelReason string
	CancelledBy  string
}

// AssignmentFilter narrows ListAssignments. Zero values are ignored.
type AssignmentFilter struct {
	BranchID       int64
	TransactionID  int64
	MachineID      int64
	MachineType    model.MachineType
	Statuses       []model.AssignmentStatus
	DeadlineBefore *time.Time
	CreatedBefore  *time.Time
	Limit          int
}

// EventFilter narrows ListEvents.
type EventFilter struct {
	BranchID      int64
	AssignmentID  int64
	TransactionID int64
	Types         []string
	Limit         int
}
