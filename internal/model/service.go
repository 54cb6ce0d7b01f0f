package model

import "time"

// ServiceType is a read-only catalog entry.
type ServiceType struct {
	ID   int64  `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex;size:128;not null" json:"name"`
	Kind string `gorm:"size:32;not null" json:"kind"`
	// MachineType is empty when the service needs no machine.
	MachineType     MachineType `gorm:"size:16" json:"machineType"`
	DurationMinutes int         `gorm:"not null" json:"durationMinutes"`
	Price           int64       `gorm:"not null" json:"price"`
	HasFee          bool        `gorm:"not null;default:false" json:"hasFee"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// NeedsMachine reports whether assignments of this type hold a machine.
func (s ServiceType) NeedsMachine() bool {
	return s.MachineType != ""
}

// Duration returns the standard duration of the service.
func (s ServiceType) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// AssignmentStatus is the lifecycle state of a ServiceAssignment.
type AssignmentStatus string

const (
	AssignmentPlanned   AssignmentStatus = "planned"
	AssignmentQueued    AssignmentStatus = "queued"
	AssignmentActive    AssignmentStatus = "active"
	AssignmentCompleted AssignmentStatus = "completed"
	AssignmentCancelled AssignmentStatus = "cancelled"
)

// Terminal reports whether s is an absorbing state.
func (s AssignmentStatus) Terminal() bool {
	return s == AssignmentCompleted || s == AssignmentCancelled
}

// Valid reports whether s names a known status.
func (s AssignmentStatus) Valid() bool {
	switch s {
	case AssignmentPlanned, AssignmentQueued, AssignmentActive, AssignmentCompleted, AssignmentCancelled:
		return true
	}
	return false
}

// NonTerminalStatuses lists the states a cancellation may start from.
var NonTerminalStatuses = []AssignmentStatus{AssignmentPlanned, AssignmentQueued, AssignmentActive}

// ServiceAssignment is one requested service instance within a transaction.
type ServiceAssignment struct {
	ID            int64            `gorm:"primaryKey" json:"id"`
	TransactionID int64            `gorm:"index;not null" json:"transactionId"`
	BranchID      int64            `gorm:"index:idx_assignment_queue,priority:1;not null" json:"branchId"`
	ServiceTypeID int64            `gorm:"not null" json:"serviceTypeId"`
	ServiceName   string           `gorm:"size:128;not null" json:"serviceName"`
	MachineType   MachineType      `gorm:"index:idx_assignment_queue,priority:2;size:16" json:"machineType"`
	Status        AssignmentStatus `gorm:"index:idx_assignment_queue,priority:3;size:16;not null" json:"status"`
	MachineID     *int64           `gorm:"index" json:"machineId,omitempty"`
	StartedAt     *time.Time       `json:"startedAt,omitempty"`
	Deadline      *time.Time       `gorm:"index" json:"deadline,omitempty"`
	CompletedAt   *time.Time       `json:"completedAt,omitempty"`
	CancelledAt   *time.Time       `json:"cancelledAt,omitempty"`
	CancelReason  string           `gorm:"size:256" json:"cancelReason,omitempty"`
	CancelledBy   string           `gorm:"size:128" json:"cancelledBy,omitempty"`
	CreatedBy     string           `gorm:"size:128" json:"createdBy"`
	DurationMin   int              `gorm:"column:duration_minutes;not null" json:"durationMinutes"`
	Price         int64            `gorm:"not null" json:"price"`
	Fee           int64            `gorm:"not null" json:"fee"`
	CreatedAt     time.Time        `gorm:"index:idx_assignment_queue,priority:4;not null" json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}
