package lifecycle

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"laundry-branch-backend/internal/event"
	"laundry-branch-backend/internal/model"
	"laundry-branch-backend/internal/tracing"
)

// ForceStatus applies a staff-requested edge. Only legal edges are honored and
// the FIFO order is never bypassed: a queued assignment can only be forced
// active when it heads its queue.
func (m *Manager) ForceStatus(ctx context.Context, assignmentID int64, to model.AssignmentStatus, actor string) (res Result, err error) {
	ctx, span := tracing.Start(ctx, "lifecycle.ForceStatus",
		attribute.Int64("assignment.id", assignmentID),
		attribute.String("status", string(to)))
	defer func() { tracing.End(span, err) }()

	if !to.Valid() {
		return rejected(ReasonInvalidRequest, fmt.Sprintf("unknown status %q", to)), nil
	}

	a, rej, err := m.loadAssignment(ctx, assignmentID)
	if err != nil || rej != nil {
		return deref(rej), err
	}
	if a.Status == to {
		return m.settled(ctx, a)
	}
	if !a.Status.Terminal() {
		if _, rej, err := m.loadOpenTransaction(ctx, a.TransactionID); err != nil || rej != nil {
			return deref(rej), err
		}
	}

	switch {
	case to == model.AssignmentCancelled:
		return m.CancelService(ctx, a.ID, actor, "forced by "+actor)
	case a.Status == model.AssignmentActive && to == model.AssignmentCompleted:
		return m.CompleteOrRelease(ctx, a.ID, TriggerForced, actor)
	case a.Status == model.AssignmentPlanned && to == model.AssignmentQueued:
		return m.forceQueued(ctx, a, actor)
	case (a.Status == model.AssignmentPlanned || a.Status == model.AssignmentQueued) && to == model.AssignmentActive:
		// Only the queue head may start; a planned service counts as behind
		// every queued one.
		head, err := m.store.OldestQueued(ctx, a.BranchID, a.MachineType)
		if err != nil {
			return Result{}, err
		}
		if (a.Status == model.AssignmentQueued && (head == nil || head.ID != a.ID)) ||
			(a.Status == model.AssignmentPlanned && head != nil) {
			return rejected(ReasonNotQueueHead, fmt.Sprintf("assignment %d is not at the head of its queue", a.ID)), nil
		}
		return m.forceActive(ctx, a, actor)
	}
	return rejected(ReasonIllegalTransition, fmt.Sprintf("cannot move assignment %d from %s to %s", a.ID, a.Status, to)), nil
}

func (m *Manager) forceQueued(ctx context.Context, a model.ServiceAssignment, actor string) (Result, error) {
	won, err := m.transitionTo(ctx, &a, model.AssignmentPlanned, model.AssignmentQueued)
	if err != nil {
		return Result{}, err
	}
	if won {
		m.emit(ctx, event.ServiceQueued, &a, actor, "forced")
		if _, err := m.ActivateNextQueued(ctx, a.BranchID, a.MachineType); err != nil {
			return Result{}, err
		}
	}
	if err := m.reload(ctx, &a); err != nil {
		return Result{}, err
	}
	return m.settled(ctx, a)
}

func (m *Manager) forceActive(ctx context.Context, a model.ServiceAssignment, actor string) (Result, error) {
	if !a.MachineType.Valid() {
		return rejected(ReasonIllegalTransition, fmt.Sprintf("assignment %d needs no machine", a.ID)), nil
	}
	machine, ok, err := m.registry.Claim(ctx, a.BranchID, a.MachineType, actor)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return rejected(ReasonNoCapacity, fmt.Sprintf("no %s available", a.MachineType)), nil
	}

	won, err := m.activate(ctx, &a, machine, a.Status, actor)
	if err != nil {
		m.releaseQuietly(ctx, machine.ID)
		return Result{}, err
	}
	if !won {
		m.releaseQuietly(ctx, machine.ID)
		if err := m.reload(ctx, &a); err != nil {
			return Result{}, err
		}
	}
	return m.settled(ctx, a)
}
