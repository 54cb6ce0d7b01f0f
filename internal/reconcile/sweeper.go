// Package reconcile heals drift between machine rows and the assignments that
// reference them. It never invents assignments and never trusts a machine
// status without an assignment behind it.
package reconcile

import (
	"context"
	"errors"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"laundry-branch-backend/internal/event"
	"laundry-branch-backend/internal/lifecycle"
	"laundry-branch-backend/internal/model"
	"laundry-branch-backend/internal/registry"
	"laundry-branch-backend/internal/store"
	"laundry-branch-backend/internal/tracing"
)

// DuplicateClaimReason is recorded on assignments cancelled because another
// assignment already held their machine.
const DuplicateClaimReason = "duplicate_claim"

// Lifecycle is the part of the lifecycle manager the sweeper drives.
type Lifecycle interface {
	SweepExpired(ctx context.Context, branchID int64) (lifecycle.SweepReport, error)
	ActivateNextQueued(ctx context.Context, branchID int64, machineType model.MachineType) ([]model.ServiceAssignment, error)
	ResumePlanned(ctx context.Context, assignmentID int64) (bool, error)
	FinalizeStale(ctx context.Context, assignmentID int64) (bool, error)
	CancelBySystem(ctx context.Context, assignmentID int64, reason string) (lifecycle.Result, error)
	SystemActor() string
}

// Report lists what one Reconcile pass changed.
type Report struct {
	BranchID            int64   `json:"branchId"`
	ReleasedMachines    []int64 `json:"releasedMachines,omitempty"`
	DuplicatesCancelled []int64 `json:"duplicatesCancelled,omitempty"`
	Finalized           []int64 `json:"finalized,omitempty"`
	Replaced            []int64 `json:"replaced,omitempty"`
	Activated           []int64 `json:"activated,omitempty"`
}

// Empty reports whether the pass found no drift.
func (r Report) Empty() bool {
	return len(r.ReleasedMachines) == 0 && len(r.DuplicatesCancelled) == 0 &&
		len(r.Finalized) == 0 && len(r.Replaced) == 0 && len(r.Activated) == 0
}

// Sweeper runs reconciliation passes.
type Sweeper struct {
	store       store.Store
	registry    registry.Registry
	lifecycle   Lifecycle
	sink        event.Sink
	now         func() time.Time
	orphanGrace time.Duration
	staleGrace  time.Duration
}

// Option configures a Sweeper.
type Option func(*Sweeper)

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func WithSink(sink event.Sink) Option {
	return func(s *Sweeper) { s.sink = sink }
}

// WithGrace sets how long a machine or planned assignment may look orphaned,
// and how far past its deadline an active assignment may run, before the
// sweeper steps in.
func WithGrace(orphan, stale time.Duration) Option {
	return func(s *Sweeper) {
		s.orphanGrace = orphan
		s.staleGrace = stale
	}
}

// NewSweeper creates a Sweeper with a two minute orphan grace and a fifteen
// minute stale grace.
func NewSweeper(st store.Store, reg registry.Registry, lc Lifecycle, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:       st,
		registry:    reg,
		lifecycle:   lc,
		sink:        event.Discard,
		now:         func() time.Time { return time.Now().UTC() },
		orphanGrace: 2 * time.Minute,
		staleGrace:  15 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reconcile compares machine rows with the assignments that reference them
// and repairs what disagrees. Steps that fail are logged and joined into the
// returned error; later steps still run.
func (s *Sweeper) Reconcile(ctx context.Context, branchID int64) (rep Report, err error) {
	ctx, span := tracing.Start(ctx, "reconcile.Reconcile", attribute.Int64("branch.id", branchID))
	defer func() { tracing.End(span, err) }()

	rep = Report{BranchID: branchID}
	now := s.now()
	var errs []error

	if err := s.healMachines(ctx, branchID, now, &rep); err != nil {
		errs = append(errs, err)
	}
	if err := s.finalizeStale(ctx, branchID, now, &rep); err != nil {
		errs = append(errs, err)
	}
	if err := s.replacePlanned(ctx, branchID, now, &rep); err != nil {
		errs = append(errs, err)
	}
	for _, t := range model.MachineTypes {
		activated, err := s.lifecycle.ActivateNextQueued(ctx, branchID, t)
		if err != nil {
			errs = append(errs, err)
		}
		for _, a := range activated {
			rep.Activated = append(rep.Activated, a.ID)
		}
	}

	if !rep.Empty() {
		log.Printf("Reconcile branch %d: released=%d duplicates=%d finalized=%d replaced=%d activated=%d",
			branchID, len(rep.ReleasedMachines), len(rep.DuplicatesCancelled),
			len(rep.Finalized), len(rep.Replaced), len(rep.Activated))
	}
	return rep, errors.Join(errs...)
}

// healMachines looks at in_use machines untouched for longer than the orphan
// grace. No active assignment means the machine is freed; several mean all
// but the earliest started are cancelled.
func (s *Sweeper) healMachines(ctx context.Context, branchID int64, now time.Time, rep *Report) error {
	busy, err := s.registry.ListByBranch(ctx, branchID, registry.Filter{Status: model.MachineInUse, IncludeRetired: true})
	if err != nil {
		return err
	}

	cutoff := now.Add(-s.orphanGrace)
	var errs []error
	for _, m := range busy {
		if !m.LastModifiedAt.Before(cutoff) {
			continue
		}
		holders, err := s.store.ListAssignments(ctx, store.AssignmentFilter{
			MachineID: m.ID,
			Statuses:  []model.AssignmentStatus{model.AssignmentActive},
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}

		switch {
		case len(holders) == 0:
			released, err := s.registry.ForceAvailable(ctx, m.ID, s.lifecycle.SystemActor())
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if released {
				rep.ReleasedMachines = append(rep.ReleasedMachines, m.ID)
			}
		case len(holders) > 1:
			keep := earliestStarted(holders)
			for _, a := range holders {
				if a.ID == keep.ID {
					continue
				}
				res, err := s.lifecycle.CancelBySystem(ctx, a.ID, DuplicateClaimReason)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				if res.Rejected() {
					continue
				}
				rep.DuplicatesCancelled = append(rep.DuplicatesCancelled, a.ID)
				s.sink.Emit(ctx, event.New(event.DriftDuplicateClaim, branchID).
					At(now).
					WithMachine(m.ID).
					WithAssignment(a.ID).
					WithActor(s.lifecycle.SystemActor()).
					WithReason(DuplicateClaimReason).
					WithData("kept", keep.ID))
			}
		}
	}
	return errors.Join(errs...)
}

// finalizeStale completes active assignments long past their deadline whose
// machine is no longer in use.
func (s *Sweeper) finalizeStale(ctx context.Context, branchID int64, now time.Time, rep *Report) error {
	cutoff := now.Add(-s.staleGrace)
	stale, err := s.store.ListAssignments(ctx, store.AssignmentFilter{
		BranchID:       branchID,
		Statuses:       []model.AssignmentStatus{model.AssignmentActive},
		DeadlineBefore: &cutoff,
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, a := range stale {
		if a.MachineID == nil {
			continue
		}
		m, err := s.registry.Get(ctx, *a.MachineID)
		if err != nil && !errors.Is(err, registry.ErrMachineNotFound) {
			errs = append(errs, err)
			continue
		}
		if err == nil && m.Status == model.MachineInUse {
			continue
		}

		done, err := s.lifecycle.FinalizeStale(ctx, a.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !done {
			continue
		}
		rep.Finalized = append(rep.Finalized, a.ID)
		s.sink.Emit(ctx, event.New(event.DriftAssignmentFinalize, branchID).
			At(now).
			WithMachine(*a.MachineID).
			WithAssignment(a.ID).
			WithTransaction(a.TransactionID).
			WithActor(s.lifecycle.SystemActor()).
			WithData("machineStatus", string(m.Status)))
	}
	return errors.Join(errs...)
}

// replacePlanned places assignments left planned by an interrupted schedule.
func (s *Sweeper) replacePlanned(ctx context.Context, branchID int64, now time.Time, rep *Report) error {
	cutoff := now.Add(-s.orphanGrace)
	planned, err := s.store.ListAssignments(ctx, store.AssignmentFilter{
		BranchID:      branchID,
		Statuses:      []model.AssignmentStatus{model.AssignmentPlanned},
		CreatedBefore: &cutoff,
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, a := range planned {
		moved, err := s.lifecycle.ResumePlanned(ctx, a.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !moved {
			continue
		}
		rep.Replaced = append(rep.Replaced, a.ID)
		s.sink.Emit(ctx, event.New(event.DriftPlannedReplaced, branchID).
			At(now).
			WithAssignment(a.ID).
			WithTransaction(a.TransactionID).
			WithActor(s.lifecycle.SystemActor()))
	}
	return errors.Join(errs...)
}

func earliestStarted(as []model.ServiceAssignment) model.ServiceAssignment {
	keep := as[0]
	for _, a := range as[1:] {
		switch {
		case a.StartedAt == nil:
		case keep.StartedAt == nil, a.StartedAt.Before(*keep.StartedAt):
			keep = a
		case a.StartedAt.Equal(*keep.StartedAt) && a.ID < keep.ID:
			keep = a
		}
	}
	return keep
}
