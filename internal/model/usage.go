package model

import "time"

// MachineUsage is the historical log of machine occupancy, one row per release.
type MachineUsage struct {
	ID           int64     `gorm:"primaryKey"`
	MachineID    int64     `gorm:"not null;index"`
	AssignmentID int64     `gorm:"not null;index"`
	PeriodStart  time.Time `gorm:"not null"`
	PeriodEnd    time.Time `gorm:"not null"` // Predicted end (deadline)
	ObservedEnd  time.Time `gorm:"not null;index"`
	EndTrigger   string    `gorm:"size:32;not null"`
}
