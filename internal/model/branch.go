package model

import "time"

// Branch represents a physical retail location with its own machine pool.
type Branch struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:128;not null" json:"name"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`

	// Associations
	Machines []Machine `gorm:"foreignKey:BranchID" json:"-"`
}
