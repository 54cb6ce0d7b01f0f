package model

import "time"

// TransactionStatus is open until staff close the ticket.
type TransactionStatus string

const (
	TransactionOpen   TransactionStatus = "open"
	TransactionClosed TransactionStatus = "closed"
)

// Transaction aggregates service assignments and product lines.
type Transaction struct {
	ID        int64             `gorm:"primaryKey" json:"id"`
	BranchID  int64             `gorm:"index;not null" json:"branchId"`
	OpenedBy  string            `gorm:"size:128;not null" json:"openedBy"`
	Status    TransactionStatus `gorm:"size:16;not null" json:"status"`
	Total     int64             `gorm:"not null;default:0" json:"total"`
	ClosedAt  *time.Time        `json:"closedAt,omitempty"`
	ClosedBy  string            `gorm:"size:128" json:"closedBy,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`

	// Associations
	Assignments []ServiceAssignment `gorm:"foreignKey:TransactionID" json:"assignments,omitempty"`
	Products    []ProductLine       `gorm:"foreignKey:TransactionID" json:"products,omitempty"`
}

// ProductLine is a retail item sold within a transaction.
type ProductLine struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	TransactionID int64     `gorm:"index;not null" json:"transactionId"`
	Name          string    `gorm:"size:128;not null" json:"name"`
	Quantity      int       `gorm:"not null" json:"quantity"`
	UnitPrice     int64     `gorm:"not null" json:"unitPrice"`
	AddedBy       string    `gorm:"size:128" json:"addedBy"`
	CreatedAt     time.Time `json:"createdAt"`
}
