package model

import "time"

// LifecycleEvent is the persisted audit trail of scheduler events.
type LifecycleEvent struct {
	ID            string    `gorm:"primaryKey;size:36"`
	Type          string    `gorm:"size:64;not null;index"`
	BranchID      int64     `gorm:"index"`
	MachineID     *int64    `gorm:"index"`
	AssignmentID  *int64    `gorm:"index"`
	TransactionID *int64    `gorm:"index"`
	Actor         string    `gorm:"size:128"`
	Reason        string    `gorm:"size:256"`
	Data          string    `gorm:"type:text"`
	OccurredAt    time.Time `gorm:"not null;index"`
}
