package model

import "time"

// MachineType is the kind of physical resource a service needs.
type MachineType string

const (
	MachineTypeWasher MachineType = "washer"
	MachineTypeDryer  MachineType = "dryer"
)

// MachineTypes lists every machine type, in sweep order.
var MachineTypes = []MachineType{MachineTypeWasher, MachineTypeDryer}

// Valid reports whether t names a known machine type.
func (t MachineType) Valid() bool {
	return t == MachineTypeWasher || t == MachineTypeDryer
}

// MachineStatus is the registry state of a machine.
type MachineStatus string

const (
	MachineAvailable MachineStatus = "available"
	MachineInUse     MachineStatus = "in_use"
	MachineBroken    MachineStatus = "broken"
)

// Machine is a washer or dryer owned by a branch.
type Machine struct {
	ID             int64         `gorm:"primaryKey" json:"id"`
	BranchID       int64         `gorm:"uniqueIndex:idx_machine_branch_type_number;not null" json:"branchId"`
	Type           MachineType   `gorm:"uniqueIndex:idx_machine_branch_type_number;size:16;not null" json:"type"`
	Number         int           `gorm:"uniqueIndex:idx_machine_branch_type_number;not null" json:"number"`
	Label          string        `gorm:"size:64" json:"label"`
	Status         MachineStatus `gorm:"size:16;not null;index" json:"status"`
	Retired        bool          `gorm:"not null;default:false" json:"retired"`
	LastModifiedAt time.Time     `gorm:"not null" json:"lastModifiedAt"`
	LastModifiedBy string        `gorm:"size:128" json:"lastModifiedBy"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`

	// Associations
	Branch Branch `gorm:"constraint:OnDelete:RESTRICT" json:"-"`
}
