package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"laundry-branch-backend/internal/event"
	"laundry-branch-backend/internal/model"
	"laundry-branch-backend/internal/store"
	"laundry-branch-backend/internal/tracing"
)

// cancelAttempts bounds retries when the assignment moves under a cancel.
const cancelAttempts = 3

// onCancel says what happens to the machine of a cancelled active assignment.
type onCancel int

const (
	releaseMachine onCancel = iota // free it and cascade
	keepBroken                     // leave it broken, archive the occupancy
	keepHeld                       // another assignment holds it
)

// CompleteOrRelease finishes an active assignment, frees its machine and hands
// the machine to the head of the queue. Completing an already completed
// assignment returns its settled state.
func (m *Manager) CompleteOrRelease(ctx context.Context, assignmentID int64, trigger Trigger, actor string) (res Result, err error) {
	ctx, span := tracing.Start(ctx, "lifecycle.CompleteOrRelease",
		attribute.Int64("assignment.id", assignmentID),
		attribute.String("trigger", string(trigger)))
	defer func() { tracing.End(span, err) }()

	a, rej, err := m.loadAssignment(ctx, assignmentID)
	if err != nil || rej != nil {
		return deref(rej), err
	}

	for attempt := 0; attempt < 2; attempt++ {
		switch a.Status {
		case model.AssignmentCompleted:
			return m.settled(ctx, a)
		case model.AssignmentActive:
		default:
			return rejected(ReasonIllegalTransition,
				fmt.Sprintf("assignment %d is %s, only active assignments complete", a.ID, a.Status)), nil
		}

		held := a
		now := m.now()
		won, err := m.store.TransitionAssignment(ctx, a.ID, store.Transition{
			From:        model.AssignmentActive,
			To:          model.AssignmentCompleted,
			At:          now,
			CompletedAt: &now,
			ClearTimer:  true,
		})
		if err != nil {
			return Result{}, err
		}
		if !won {
			// A concurrent sweep or staff action settled it first.
			if a, err = m.store.GetAssignment(ctx, assignmentID); err != nil {
				return Result{}, err
			}
			continue
		}

		a.Status = model.AssignmentCompleted
		a.CompletedAt = &now
		a.Deadline = nil
		a.UpdatedAt = now
		m.emit(ctx, event.ServiceCompleted, &a, actor, string(trigger))

		if err := m.releaseAndCascade(ctx, held, trigger, actor); err != nil {
			return Result{}, err
		}
		return m.settled(ctx, a)
	}
	return m.settled(ctx, a)
}

// CancelService cancels a planned, queued or active assignment. An active
// assignment frees its machine and cascades exactly like a completion. The
// price leaves the transaction total.
func (m *Manager) CancelService(ctx context.Context, assignmentID int64, actor, reason string) (res Result, err error) {
	ctx, span := tracing.Start(ctx, "lifecycle.CancelService", attribute.Int64("assignment.id", assignmentID))
	defer func() { tracing.End(span, err) }()

	if strings.TrimSpace(reason) == "" {
		return rejected(ReasonInvalidRequest, "a reason is required to cancel a service"), nil
	}

	a, rej, err := m.loadAssignment(ctx, assignmentID)
	if err != nil || rej != nil {
		return deref(rej), err
	}
	if !a.Status.Terminal() {
		if _, rej, err := m.loadOpenTransaction(ctx, a.TransactionID); err != nil || rej != nil {
			return deref(rej), err
		}
	}
	return m.cancel(ctx, a, actor, reason, releaseMachine)
}

// CancelBySystem cancels an assignment on behalf of the system actor without
// touching the machine it references, which another assignment holds.
func (m *Manager) CancelBySystem(ctx context.Context, assignmentID int64, reason string) (Result, error) {
	a, rej, err := m.loadAssignment(ctx, assignmentID)
	if err != nil || rej != nil {
		return deref(rej), err
	}
	return m.cancel(ctx, a, m.systemActor, reason, keepHeld)
}

func (m *Manager) cancel(ctx context.Context, a model.ServiceAssignment, actor, reason string, machine onCancel) (Result, error) {
	for attempt := 0; attempt < cancelAttempts; attempt++ {
		switch a.Status {
		case model.AssignmentCompleted:
			return rejected(ReasonAlreadyCompleted, fmt.Sprintf("assignment %d is already completed", a.ID)), nil
		case model.AssignmentCancelled:
			return m.settled(ctx, a)
		}

		held := a
		now := m.now()
		won, err := m.store.TransitionAssignment(ctx, a.ID, store.Transition{
			From:         a.Status,
			To:           model.AssignmentCancelled,
			At:           now,
			ClearMachine: true,
			ClearTimer:   true,
			CancelledAt:  &now,
			CancelReason: reason,
			CancelledBy:  actor,
		})
		if err != nil {
			return Result{}, err
		}
		if !won {
			if a, err = m.store.GetAssignment(ctx, a.ID); err != nil {
				return Result{}, err
			}
			continue
		}

		a.Status = model.AssignmentCancelled
		a.MachineID = nil
		a.Deadline = nil
		a.CancelledAt = &now
		a.CancelReason = reason
		a.CancelledBy = actor
		a.UpdatedAt = now
		// The event still names the machine that was held.
		m.emit(ctx, event.ServiceCancelled, &held, actor, reason)

		if held.Status == model.AssignmentActive {
			switch machine {
			case releaseMachine:
				if err := m.releaseAndCascade(ctx, held, TriggerCancel, actor); err != nil {
					return Result{}, err
				}
			case keepBroken:
				m.archive(ctx, held, TriggerBroken)
			}
		}
		return m.settled(ctx, a)
	}
	return Result{}, fmt.Errorf("assignment %d kept changing during cancel", a.ID)
}

// FinalizeStale completes an active assignment whose machine was already
// freed elsewhere. The machine is not touched. It reports false when the
// assignment was not active.
func (m *Manager) FinalizeStale(ctx context.Context, assignmentID int64) (bool, error) {
	a, err := m.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return false, err
	}
	if a.Status != model.AssignmentActive {
		return false, nil
	}

	now := m.now()
	won, err := m.store.TransitionAssignment(ctx, a.ID, store.Transition{
		From:        model.AssignmentActive,
		To:          model.AssignmentCompleted,
		At:          now,
		CompletedAt: &now,
		ClearTimer:  true,
	})
	if err != nil || !won {
		return false, err
	}
	m.archive(ctx, a, TriggerReconcile)
	m.emit(ctx, event.ServiceCompleted, &a, m.systemActor, string(TriggerReconcile))
	return true, nil
}
