// Package registry owns the machine rows of every branch. All machine status
// mutation passes through it; claim is the only primitive that needs
// storage-level atomicity and is implemented as a single-row conditional update.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"laundry-branch-backend/internal/event"
	"laundry-branch-backend/internal/model"
	"laundry-branch-backend/internal/parse"
)

var (
	// ErrMachineNotFound is returned for operations on an unknown machine.
	ErrMachineNotFound = errors.New("machine not found")
	// ErrNotBroken is returned when repairing a machine that is not broken.
	ErrNotBroken = errors.New("machine is not broken")
	// ErrMachineInUse is returned when retiring a machine that holds an assignment.
	ErrMachineInUse = errors.New("machine is in use")
)

// Filter narrows ListByBranch. Zero values are ignored.
type Filter struct {
	Type           model.MachineType
	Status         model.MachineStatus
	IncludeRetired bool
}

// Registry is the authoritative machine state.
type Registry interface {
	Claim(ctx context.Context, branchID int64, machineType model.MachineType, actor string) (model.Machine, bool, error)
	Release(ctx context.Context, machineID int64, actor string) (bool, error)
	ForceAvailable(ctx context.Context, machineID int64, actor string) (bool, error)
	MarkBroken(ctx context.Context, machineID int64, actor string) (model.MachineStatus, error)
	MarkRepaired(ctx context.Context, machineID int64, actor string) error
	Retire(ctx context.Context, machineID int64, actor string) error
	Get(ctx context.Context, machineID int64) (model.Machine, error)
	ListByBranch(ctx context.Context, branchID int64, f Filter) ([]model.Machine, error)
	EnsureMachines(ctx context.Context, branchID int64, labels []parse.ParsedLabel, actor string) error
}

// gormRegistry implements Registry on top of the machines table.
type gormRegistry struct {
	db   *gorm.DB
	sink event.Sink
	now  func() time.Time
}

// Option configures a registry.
type Option func(*gormRegistry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *gormRegistry) { r.now = now }
}

// WithSink sets the destination of machine.* events.
func WithSink(sink event.Sink) Option {
	return func(r *gormRegistry) { r.sink = sink }
}

// New creates a GORM-backed registry.
func New(db *gorm.DB, opts ...Option) Registry {
	r := &gormRegistry{
		db:   db,
		sink: event.Discard,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Claim selects an available machine of the given type in the branch and marks
// it in_use. Candidates are tried lowest number first; each attempt is a
// conditional update on one row, so a machine is won by exactly one caller.
// ok is false when nothing is free.
func (r *gormRegistry) Claim(ctx context.Context, branchID int64, machineType model.MachineType, actor string) (model.Machine, bool, error) {
	var candidates []model.Machine
	err := r.db.WithContext(ctx).
		Where("branch_id = ? AND type = ? AND status = ? AND retired = ?", branchID, machineType, model.MachineAvailable, false).
		Order("number").
		Find(&candidates).Error
	if err != nil {
		return model.Machine{}, false, fmt.Errorf("failed to list claim candidates for branch %d %s: %w", branchID, machineType, err)
	}

	for _, m := range candidates {
		now := r.now()
		res := r.db.WithContext(ctx).Model(&model.Machine{}).
			Where("id = ? AND status = ? AND retired = ?", m.ID, model.MachineAvailable, false).
			Updates(map[string]any{
				"status":           model.MachineInUse,
				"last_modified_at": now,
				"last_modified_by": actor,
				"updated_at":       now,
			})
		if res.Error != nil {
			return model.Machine{}, false, fmt.Errorf("failed to claim machine %d: %w", m.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			m.Status = model.MachineInUse
			m.LastModifiedAt = now
			m.LastModifiedBy = actor
			r.sink.Emit(ctx, event.New(event.MachineClaimed, branchID).WithMachine(m.ID).WithActor(actor))
			return m, true, nil
		}
	}
	return model.Machine{}, false, nil
}

// Release moves an in_use machine back to available. Releasing an available
// or broken machine changes nothing and reports false, as does releasing a
// machine an active assignment still holds: a late release from an earlier
// holder must not free the machine under its new one. Callers settle their
// assignment before releasing.
func (r *gormRegistry) Release(ctx context.Context, machineID int64, actor string) (bool, error) {
	return r.free(ctx, machineID, actor, event.MachineReleased, true)
}

// ForceAvailable frees an in_use machine regardless of what the assignment
// table says. Reconciliation calls it for machines it found unheld.
func (r *gormRegistry) ForceAvailable(ctx context.Context, machineID int64, actor string) (bool, error) {
	return r.free(ctx, machineID, actor, event.DriftMachineReleased, false)
}

func (r *gormRegistry) free(ctx context.Context, machineID int64, actor, eventType string, unheld bool) (bool, error) {
	now := r.now()
	q := r.db.WithContext(ctx).Model(&model.Machine{}).
		Where("id = ? AND status = ?", machineID, model.MachineInUse)
	if unheld {
		holder := r.db.Model(&model.ServiceAssignment{}).
			Select("1").
			Where("service_assignments.machine_id = machines.id AND service_assignments.status = ?", model.AssignmentActive)
		q = q.Where("NOT EXISTS (?)", holder)
	}
	res := q.Updates(map[string]any{
		"status":           model.MachineAvailable,
		"last_modified_at": now,
		"last_modified_by": actor,
		"updated_at":       now,
	})
	if res.Error != nil {
		return false, fmt.Errorf("failed to release machine %d: %w", machineID, res.Error)
	}
	if res.RowsAffected == 0 {
		m, err := r.Get(ctx, machineID)
		if err != nil {
			return false, err
		}
		if m.Status == model.MachineInUse {
			log.Printf("registry: machine %d is held by an active assignment, release is a no-op", machineID)
		} else {
			log.Printf("registry: machine %d already %s, release is a no-op", machineID, m.Status)
		}
		return false, nil
	}

	m, err := r.Get(ctx, machineID)
	if err != nil {
		return true, err
	}
	r.sink.Emit(ctx, event.New(eventType, m.BranchID).WithMachine(machineID).WithActor(actor))
	return true, nil
}

// MarkBroken takes a machine out of service from any status and returns the
// status it had before.
func (r *gormRegistry) MarkBroken(ctx context.Context, machineID int64, actor string) (model.MachineStatus, error) {
	var prior model.Machine
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := q.First(&prior, machineID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMachineNotFound
			}
			return err
		}
		if prior.Status == model.MachineBroken {
			return nil
		}
		now := r.now()
		return tx.Model(&model.Machine{}).Where("id = ?", machineID).Updates(map[string]any{
			"status":           model.MachineBroken,
			"last_modified_at": now,
			"last_modified_by": actor,
			"updated_at":       now,
		}).Error
	})
	if err != nil {
		if errors.Is(err, ErrMachineNotFound) {
			return "", err
		}
		return "", fmt.Errorf("failed to mark machine %d broken: %w", machineID, err)
	}

	if prior.Status != model.MachineBroken {
		r.sink.Emit(ctx, event.New(event.MachineBroken, prior.BranchID).
			WithMachine(machineID).WithActor(actor).
			WithData("priorStatus", string(prior.Status)))
	}
	return prior.Status, nil
}

// MarkRepaired returns a broken machine to service.
func (r *gormRegistry) MarkRepaired(ctx context.Context, machineID int64, actor string) error {
	now := r.now()
	res := r.db.WithContext(ctx).Model(&model.Machine{}).
		Where("id = ? AND status = ?", machineID, model.MachineBroken).
		Updates(map[string]any{
			"status":           model.MachineAvailable,
			"last_modified_at": now,
			"last_modified_by": actor,
			"updated_at":       now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark machine %d repaired: %w", machineID, res.Error)
	}

	m, err := r.Get(ctx, machineID)
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return ErrNotBroken
	}
	r.sink.Emit(ctx, event.New(event.MachineRepaired, m.BranchID).WithMachine(machineID).WithActor(actor))
	return nil
}

// Retire soft-deletes a machine that is not currently in use.
func (r *gormRegistry) Retire(ctx context.Context, machineID int64, actor string) error {
	now := r.now()
	res := r.db.WithContext(ctx).Model(&model.Machine{}).
		Where("id = ? AND status <> ?", machineID, model.MachineInUse).
		Updates(map[string]any{
			"retired":          true,
			"last_modified_at": now,
			"last_modified_by": actor,
			"updated_at":       now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to retire machine %d: %w", machineID, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, machineID); err != nil {
			return err
		}
		return ErrMachineInUse
	}
	return nil
}

func (r *gormRegistry) Get(ctx context.Context, machineID int64) (model.Machine, error) {
	var m model.Machine
	if err := r.db.WithContext(ctx).First(&m, machineID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Machine{}, ErrMachineNotFound
		}
		return model.Machine{}, fmt.Errorf("failed to load machine %d: %w", machineID, err)
	}
	return m, nil
}

// ListByBranch is a read-only projection for status boards.
func (r *gormRegistry) ListByBranch(ctx context.Context, branchID int64, f Filter) ([]model.Machine, error) {
	q := r.db.WithContext(ctx).Where("branch_id = ?", branchID)
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if !f.IncludeRetired {
		q = q.Where("retired = ?", false)
	}

	var machines []model.Machine
	if err := q.Order("type, number").Find(&machines).Error; err != nil {
		return nil, fmt.Errorf("failed to list machines for branch %d: %w", branchID, err)
	}
	return machines, nil
}

// EnsureMachines creates missing machines of a branch. Existing rows only get
// their label refreshed; status is never touched here.
func (r *gormRegistry) EnsureMachines(ctx context.Context, branchID int64, labels []parse.ParsedLabel, actor string) error {
	if len(labels) == 0 {
		return nil
	}
	now := r.now()
	machines := make([]model.Machine, 0, len(labels))
	for _, l := range labels {
		machines = append(machines, model.Machine{
			BranchID:       branchID,
			Type:           l.Type,
			Number:         l.Number,
			Label:          l.Label,
			Status:         model.MachineAvailable,
			LastModifiedAt: now,
			LastModifiedBy: actor,
		})
	}

	log.Printf("Batch upserting %d machines for branch %d...", len(machines), branchID)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "branch_id"}, {Name: "type"}, {Name: "number"}},
		DoUpdates: clause.AssignmentColumns([]string{"label", "updated_at"}),
	}).Create(&machines).Error
}
