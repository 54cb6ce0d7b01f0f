package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"laundry-branch-backend/internal/catalog"
	"laundry-branch-backend/internal/event"
	"laundry-branch-backend/internal/model"
	"laundry-branch-backend/internal/store"
	"laundry-branch-backend/internal/tracing"
)

// ScheduleService adds a service of the given type to an open transaction and
// places it: straight to active when a machine can be claimed, queued
// otherwise. It never waits for capacity.
func (m *Manager) ScheduleService(ctx context.Context, transactionID, serviceTypeID int64, actor string) (res Result, err error) {
	ctx, span := tracing.Start(ctx, "lifecycle.ScheduleService",
		attribute.Int64("transaction.id", transactionID),
		attribute.Int64("service_type.id", serviceTypeID))
	defer func() { tracing.End(span, err) }()

	return m.schedule(ctx, transactionID, serviceTypeID, actor, "", event.ServiceCreated)
}

// AddService is ScheduleService for a service appended to a transaction that is
// already underway. The reason is mandatory and lands in the audit trail.
func (m *Manager) AddService(ctx context.Context, transactionID, serviceTypeID int64, actor, reason string) (res Result, err error) {
	ctx, span := tracing.Start(ctx, "lifecycle.AddService",
		attribute.Int64("transaction.id", transactionID),
		attribute.Int64("service_type.id", serviceTypeID))
	defer func() { tracing.End(span, err) }()

	if strings.TrimSpace(reason) == "" {
		return rejected(ReasonInvalidRequest, "a reason is required to add a service"), nil
	}
	return m.schedule(ctx, transactionID, serviceTypeID, actor, reason, event.ServiceAdded)
}

func (m *Manager) schedule(ctx context.Context, transactionID, serviceTypeID int64, actor, reason, createdEvent string) (Result, error) {
	tx, rej, err := m.loadOpenTransaction(ctx, transactionID)
	if err != nil || rej != nil {
		return deref(rej), err
	}

	st, err := m.catalog.Get(ctx, serviceTypeID)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownServiceType) {
			return rejected(ReasonNotFound, fmt.Sprintf("service type %d not found", serviceTypeID)), nil
		}
		return Result{}, err
	}

	now := m.now()
	a := &model.ServiceAssignment{
		TransactionID: tx.ID,
		BranchID:      tx.BranchID,
		ServiceTypeID: st.ID,
		ServiceName:   st.Name,
		MachineType:   st.MachineType,
		Status:        model.AssignmentPlanned,
		CreatedBy:     actor,
		DurationMin:   st.DurationMinutes,
		Price:         st.Price,
		Fee:           m.fee(st),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if !st.NeedsMachine() {
		placeWithoutMachine(a, now)
	}
	if err := m.store.CreateAssignment(ctx, a); err != nil {
		return Result{}, err
	}

	// A close can land between the open check and the insert. Closing refuses
	// while work is pending, so reading the status after the insert decides it.
	current, err := m.store.GetTransaction(ctx, tx.ID, false)
	if err != nil {
		return Result{}, err
	}
	if current.Status != model.TransactionOpen {
		m.withdraw(ctx, a, now)
		return rejected(ReasonTransactionClosed, fmt.Sprintf("transaction %d is closed", tx.ID)), nil
	}
	m.emit(ctx, createdEvent, a, actor, reason)

	switch a.Status {
	case model.AssignmentActive:
		m.emit(ctx, event.ServiceActivated, a, actor, "")
	case model.AssignmentCompleted:
		m.emit(ctx, event.ServiceCompleted, a, actor, "")
	case model.AssignmentPlanned:
		if err := m.activatePlanned(ctx, a, actor); err != nil {
			return Result{}, err
		}
	}

	total, err := m.total(ctx, tx.ID)
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: outcomeFor(a.Status), Assignment: a, Total: total}, nil
}

// withdraw cancels an assignment inserted into a transaction that closed
// underneath it. No machine has been claimed for it yet.
func (m *Manager) withdraw(ctx context.Context, a *model.ServiceAssignment, at time.Time) {
	_, err := m.store.TransitionAssignment(ctx, a.ID, store.Transition{
		From:         a.Status,
		To:           model.AssignmentCancelled,
		At:           at,
		ClearTimer:   true,
		CancelledAt:  &at,
		CancelReason: string(ReasonTransactionClosed),
		CancelledBy:  m.systemActor,
	})
	if err != nil {
		log.Printf("lifecycle: failed to withdraw assignment %d from closed transaction %d: %v", a.ID, a.TransactionID, err)
	}
}

// placeWithoutMachine settles a machine-less service at creation: timed
// services run on their own deadline, instant ones are done on the spot.
func placeWithoutMachine(a *model.ServiceAssignment, at time.Time) {
	if a.DurationMin > 0 {
		deadline := at.Add(minutes(a.DurationMin))
		a.Status = model.AssignmentActive
		a.StartedAt = &at
		a.Deadline = &deadline
		return
	}
	a.Status = model.AssignmentCompleted
	a.StartedAt = &at
	a.CompletedAt = &at
}

// activatePlanned claims a machine for a planned assignment or queues it. A
// non-empty queue is never overtaken: the assignment joins it and the cascade
// hands out whatever is free, oldest first. On return a reflects the stored
// state.
func (m *Manager) activatePlanned(ctx context.Context, a *model.ServiceAssignment, actor string) error {
	waiting, err := m.store.OldestQueued(ctx, a.BranchID, a.MachineType)
	if err != nil {
		return err
	}

	if waiting == nil {
		machine, ok, err := m.registry.Claim(ctx, a.BranchID, a.MachineType, actor)
		if err != nil {
			// The assignment stays planned; the sweeper places it again later.
			return err
		}
		if ok {
			return m.activateClaimed(ctx, a, machine, actor)
		}
	}

	won, err := m.transitionTo(ctx, a, model.AssignmentPlanned, model.AssignmentQueued)
	if err != nil {
		return err
	}
	if !won {
		return m.reload(ctx, a)
	}
	m.emit(ctx, event.ServiceQueued, a, actor, "")

	// Capacity may be free already, or a release may have landed between the
	// failed claim and the queue insert.
	if _, err := m.ActivateNextQueued(ctx, a.BranchID, a.MachineType); err != nil {
		return err
	}
	return m.reload(ctx, a)
}

func (m *Manager) activateClaimed(ctx context.Context, a *model.ServiceAssignment, machine model.Machine, actor string) error {
	won, err := m.activate(ctx, a, machine, model.AssignmentPlanned, actor)
	if err != nil {
		m.releaseQuietly(ctx, machine.ID)
		return err
	}
	if won {
		return nil
	}
	m.releaseQuietly(ctx, machine.ID)
	return m.reload(ctx, a)
}

// ResumePlanned places an assignment left planned by an interrupted schedule.
// It reports false when the assignment is no longer planned.
func (m *Manager) ResumePlanned(ctx context.Context, assignmentID int64) (bool, error) {
	a, err := m.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return false, err
	}
	if a.Status != model.AssignmentPlanned {
		return false, nil
	}
	if !a.MachineType.Valid() {
		return false, fmt.Errorf("planned assignment %d has no machine type", a.ID)
	}
	if err := m.activatePlanned(ctx, &a, m.systemActor); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) reload(ctx context.Context, a *model.ServiceAssignment) error {
	fresh, err := m.store.GetAssignment(ctx, a.ID)
	if err != nil {
		return err
	}
	*a = fresh
	return nil
}

func deref(r *Result) Result {
	if r == nil {
		return Result{}
	}
	return *r
}
