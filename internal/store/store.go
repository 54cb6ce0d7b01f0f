package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"laundry-branch-backend/internal/model"
)

// Store defines the ledger operations: branches, catalog, transactions,
// assignments and the audit/usage history. Machine rows belong to the registry.
type Store interface {
	DB() *gorm.DB

	UpsertBranches(ctx context.Context, names []string) (map[string]model.Branch, error)
	ListBranches(ctx context.Context) ([]model.Branch, error)
	GetBranch(ctx context.Context, id int64) (model.Branch, error)

	UpsertServiceTypes(ctx context.Context, types []model.ServiceType) error
	ListServiceTypes(ctx context.Context) ([]model.ServiceType, error)
	GetServiceType(ctx context.Context, id int64) (model.ServiceType, error)

	CreateTransaction(ctx context.Context, tx *model.Transaction) error
	GetTransaction(ctx context.Context, id int64, withLines bool) (model.Transaction, error)
	CloseTransaction(ctx context.Context, id int64, actor string, at time.Time) (bool, error)
	AddProductLine(ctx context.Context, line *model.ProductLine) error
	RecomputeTotal(ctx context.Context, transactionID int64, at time.Time) (int64, error)

	CreateAssignment(ctx context.Context, a *model.ServiceAssignment) error
	GetAssignment(ctx context.Context, id int64) (model.ServiceAssignment, error)
	TransitionAssignment(ctx context.Context, id int64, t Transition) (bool, error)
	ListAssignments(ctx context.Context, f AssignmentFilter) ([]model.ServiceAssignment, error)
	OldestQueued(ctx context.Context, branchID int64, machineType model.MachineType) (*model.ServiceAssignment, error)
	CountPending(ctx context.Context, transactionID int64) (int64, error)

	ArchiveUsage(ctx context.Context, usage model.MachineUsage) error
	RecordEvent(ctx context.Context, ev model.LifecycleEvent) error
	ListEvents(ctx context.Context, f EventFilter) ([]model.LifecycleEvent, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// DB exposes the underlying handle for handlers that need ad-hoc queries.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// UpsertBranches makes sure every named branch exists and returns all branches by name.
func (s *gormStore) UpsertBranches(ctx context.Context, names []string) (map[string]model.Branch, error) {
	branchesToUpsert := make(map[string]model.Branch)
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, exists := branchesToUpsert[name]; !exists {
			branchesToUpsert[name] = model.Branch{Name: name}
		}
	}

	if len(branchesToUpsert) > 0 {
		var branchList []model.Branch
		for _, b := range branchesToUpsert {
			branchList = append(branchList, b)
		}

		log.Printf("Batch upserting %d branches...", len(branchList))
		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}).Create(&branchList).Error; err != nil {
			return nil, fmt.Errorf("batch upsert branches failed: %w", err)
		}
	}

	allBranches, err := s.ListBranches(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve branches after upsert: %w", err)
	}

	branchMap := make(map[string]model.Branch, len(allBranches))
	for _, b := range allBranches {
		branchMap[b.Name] = b
	}
	return branchMap, nil
}

func (s *gormStore) ListBranches(ctx context.Context) ([]model.Branch, error) {
	var branches []model.Branch
	if err := s.db.WithContext(ctx).Order("id").Find(&branches).Error; err != nil {
		return nil, err
	}
	return branches, nil
}

func (s *gormStore) GetBranch(ctx context.Context, id int64) (model.Branch, error) {
	var branch model.Branch
	if err := s.db.WithContext(ctx).First(&branch, id).Error; err != nil {
		return model.Branch{}, notFound(err)
	}
	return branch, nil
}

// UpsertServiceTypes loads catalog entries keyed by name.
func (s *gormStore) UpsertServiceTypes(ctx context.Context, types []model.ServiceType) error {
	if len(types) == 0 {
		return nil
	}
	log.Printf("Batch upserting %d service types...", len(types))
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "machine_type", "duration_minutes", "price", "has_fee", "updated_at"}),
	}).Create(&types).Error
}

func (s *gormStore) ListServiceTypes(ctx context.Context) ([]model.ServiceType, error) {
	var types []model.ServiceType
	if err := s.db.WithContext(ctx).Order("id").Find(&types).Error; err != nil {
		return nil, err
	}
	return types, nil
}

func (s *gormStore) GetServiceType(ctx context.Context, id int64) (model.ServiceType, error) {
	var st model.ServiceType
	if err := s.db.WithContext(ctx).First(&st, id).Error; err != nil {
		return model.ServiceType{}, notFound(err)
	}
	return st, nil
}

func (s *gormStore) CreateTransaction(ctx context.Context, tx *model.Transaction) error {
	if err := s.db.WithContext(ctx).Create(tx).Error; err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (s *gormStore) GetTransaction(ctx context.Context, id int64, withLines bool) (model.Transaction, error) {
	q := s.db.WithContext(ctx)
	if withLines {
		q = q.Preload("Assignments", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at, id")
		}).Preload("Products", func(db *gorm.DB) *gorm.DB {
			return db.Order("id")
		})
	}
	var tx model.Transaction
	if err := q.First(&tx, id).Error; err != nil {
		return model.Transaction{}, notFound(err)
	}
	return tx, nil
}

// CloseTransaction closes an open transaction that has no pending assignments.
// It reports false when the transaction was not open or still has pending work.
func (s *gormStore) CloseTransaction(ctx context.Context, id int64, actor string, at time.Time) (bool, error) {
	pending := s.db.Model(&model.ServiceAssignment{}).
		Select("1").
		Where("transaction_id = ? AND status IN ?", id, model.NonTerminalStatuses)

	res := s.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("id = ? AND status = ?", id, model.TransactionOpen).
		Where("NOT EXISTS (?)", pending).
		Updates(map[string]any{
			"status":     model.TransactionClosed,
			"closed_at":  at,
			"closed_by":  actor,
			"updated_at": at,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to close transaction %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) AddProductLine(ctx context.Context, line *model.ProductLine) error {
	if err := s.db.WithContext(ctx).Create(line).Error; err != nil {
		return fmt.Errorf("failed to add product line to transaction %d: %w", line.TransactionID, err)
	}
	return nil
}

// RecomputeTotal derives the running total from the ledger in one statement:
// non-cancelled assignment prices plus product lines.
func (s *gormStore) RecomputeTotal(ctx context.Context, transactionID int64, at time.Time) (int64, error) {
	err := s.db.WithContext(ctx).Exec(`UPDATE transactions SET total =
		COALESCE((SELECT SUM(price) FROM service_assignments WHERE transaction_id = ? AND status <> ?), 0) +
		COALESCE((SELECT SUM(quantity * unit_price) FROM product_lines WHERE transaction_id = ?), 0),
		updated_at = ?
		WHERE id = ?`,
		transactionID, model.AssignmentCancelled, transactionID, at, transactionID).Error
	if err != nil {
		return 0, fmt.Errorf("failed to recompute total for transaction %d: %w", transactionID, err)
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&model.Transaction{}).
		Select("total").Where("id = ?", transactionID).Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("failed to read total for transaction %d: %w", transactionID, err)
	}
	return total, nil
}

func (s *gormStore) CreateAssignment(ctx context.Context, a *model.ServiceAssignment) error {
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("failed to create assignment for transaction %d: %w", a.TransactionID, err)
	}
	return nil
}

func (s *gormStore) GetAssignment(ctx context.Context, id int64) (model.ServiceAssignment, error) {
	var a model.ServiceAssignment
	if err := s.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return model.ServiceAssignment{}, notFound(err)
	}
	return a, nil
}

// TransitionAssignment applies t only if the assignment is still in t.From.
// Exactly one of several racing callers observes true.
func (s *gormStore) TransitionAssignment(ctx context.Context, id int64, t Transition) (bool, error) {
	updates := map[string]any{
		"status":     t.To,
		"updated_at": t.At,
	}
	if t.MachineID != nil {
		updates["machine_id"] = *t.MachineID
	}
	if t.ClearMachine {
		updates["machine_id"] = nil
	}
	if t.StartedAt != nil {
		updates["started_at"] = *t.StartedAt
	}
	if t.Deadline != nil {
		updates["deadline"] = *t.Deadline
	}
	if t.ClearTimer {
		updates["deadline"] = nil
	}
	if t.CompletedAt != nil {
		updates["completed_at"] = *t.CompletedAt
	}
	if t.CancelledAt != nil {
		updates["cancelled_at"] = *t.CancelledAt
	}
	if t.CancelReason != "" {
		updates["cancel_reason"] = t.CancelReason
	}
	if t.CancelledBy != "" {
		updates["cancelled_by"] = t.CancelledBy
	}

	res := s.db.WithContext(ctx).Model(&model.ServiceAssignment{}).
		Where("id = ? AND status = ?", id, t.From).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to move assignment %d from %s to %s: %w", id, t.From, t.To, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) ListAssignments(ctx context.Context, f AssignmentFilter) ([]model.ServiceAssignment, error) {
	q := s.db.WithContext(ctx).Model(&model.ServiceAssignment{})
	if f.BranchID != 0 {
		q = q.Where("branch_id = ?", f.BranchID)
	}
	if f.TransactionID != 0 {
		q = q.Where("transaction_id = ?", f.TransactionID)
	}
	if f.MachineID != 0 {
		q = q.Where("machine_id = ?", f.MachineID)
	}
	if f.MachineType != "" {
		q = q.Where("machine_type = ?", f.MachineType)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.DeadlineBefore != nil {
		q = q.Where("deadline IS NOT NULL AND deadline < ?", *f.DeadlineBefore)
	}
	if f.CreatedBefore != nil {
		q = q.Where("created_at < ?", *f.CreatedBefore)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var out []model.ServiceAssignment
	if err := q.Order("created_at, id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	return out, nil
}

// OldestQueued returns the head of the derived FIFO queue, or nil when it is empty.
func (s *gormStore) OldestQueued(ctx context.Context, branchID int64, machineType model.MachineType) (*model.ServiceAssignment, error) {
	var a model.ServiceAssignment
	err := s.db.WithContext(ctx).
		Where("branch_id = ? AND machine_type = ? AND status = ?", branchID, machineType, model.AssignmentQueued).
		Order("created_at, id").
		Limit(1).
		Find(&a).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read queue head for branch %d %s: %w", branchID, machineType, err)
	}
	if a.ID == 0 {
		return nil, nil
	}
	return &a, nil
}

func (s *gormStore) CountPending(ctx context.Context, transactionID int64) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.ServiceAssignment{}).
		Where("transaction_id = ? AND status IN ?", transactionID, model.NonTerminalStatuses).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count pending assignments for transaction %d: %w", transactionID, err)
	}
	return n, nil
}

// ArchiveUsage creates a historical record of a finished machine occupancy.
func (s *gormStore) ArchiveUsage(ctx context.Context, usage model.MachineUsage) error {
	if usage.PeriodEnd.IsZero() {
		usage.PeriodEnd = usage.ObservedEnd
	}
	if err := s.db.WithContext(ctx).Create(&usage).Error; err != nil {
		return fmt.Errorf("failed to archive usage for machine %d: %w", usage.MachineID, err)
	}
	return nil
}

func (s *gormStore) RecordEvent(ctx context.Context, ev model.LifecycleEvent) error {
	if err := s.db.WithContext(ctx).Create(&ev).Error; err != nil {
		return fmt.Errorf("failed to record event %s: %w", ev.Type, err)
	}
	return nil
}

func (s *gormStore) ListEvents(ctx context.Context, f EventFilter) ([]model.LifecycleEvent, error) {
	q := s.db.WithContext(ctx).Model(&model.LifecycleEvent{})
	if f.BranchID != 0 {
		q = q.Where("branch_id = ?", f.BranchID)
	}
	if f.AssignmentID != 0 {
		q = q.Where("assignment_id = ?", f.AssignmentID)
	}
	if f.TransactionID != 0 {
		q = q.Where("transaction_id = ?", f.TransactionID)
	}
	if len(f.Types) > 0 {
		q = q.Where("type IN ?", f.Types)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	var events []model.LifecycleEvent
	if err := q.Order("occurred_at DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}
