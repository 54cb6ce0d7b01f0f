// Package lifecycle is the state machine for service assignments. It is the
// only component that decides when assignments queue or activate and the only
// caller of the registry on the request path.
//
// Edges: planned→active, planned→queued, queued→active, active→completed and
// {planned,queued,active}→cancelled. Every edge is a conditional update, so
// concurrent callers converge without locks: one wins, the rest observe the
// settled state.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"laundry-branch-backend/internal/catalog"
	"laundry-branch-backend/internal/event"
	"laundry-branch-backend/internal/model"
	"laundry-branch-backend/internal/registry"
	"laundry-branch-backend/internal/store"
)

// maxCascade bounds one activation cascade; branches hold tens of machines.
const maxCascade = 256

// Manager orchestrates assignment, queueing, activation, completion and cancellation.
type Manager struct {
	store       store.Store
	registry    registry.Registry
	catalog     catalog.Catalog
	sink        event.Sink
	now         func() time.Time
	feePercent  int64
	systemActor string
}

// Option configures a Manager.
type Option func(*Manager)

// WithSink sets the destination of service.* events.
func WithSink(sink event.Sink) Option {
	return func(m *Manager) { m.sink = sink }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithFeePercent sets the fee charged on services whose type has the fee flag.
func WithFeePercent(pct int64) Option {
	return func(m *Manager) { m.feePercent = pct }
}

// WithSystemActor names the actor used for timer and repair transitions.
func WithSystemActor(actor string) Option {
	return func(m *Manager) { m.systemActor = actor }
}

// New creates a Manager.
func New(st store.Store, reg registry.Registry, cat catalog.Catalog, opts ...Option) *Manager {
	m := &Manager{
		store:       st,
		registry:    reg,
		catalog:     cat,
		sink:        event.Discard,
		now:         func() time.Time { return time.Now().UTC() },
		systemActor: "system",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SystemActor returns the actor recorded on automatic transitions.
func (m *Manager) SystemActor() string {
	return m.systemActor
}

// Now returns the manager's current time.
func (m *Manager) Now() time.Time {
	return m.now()
}

func (m *Manager) fee(st model.ServiceType) int64 {
	if !st.HasFee {
		return 0
	}
	return st.Price * m.feePercent / 100
}

func (m *Manager) emit(ctx context.Context, eventType string, a *model.ServiceAssignment, actor, reason string) {
	ev := event.New(eventType, a.BranchID).
		At(m.now()).
		WithAssignment(a.ID).
		WithTransaction(a.TransactionID).
		WithActor(actor).
		WithReason(reason).
		WithData("service", a.ServiceName)
	if a.MachineID != nil {
		ev = ev.WithMachine(*a.MachineID)
	}
	m.sink.Emit(ctx, ev)
}

func (m *Manager) total(ctx context.Context, transactionID int64) (*int64, error) {
	t, err := m.store.RecomputeTotal(ctx, transactionID, m.now())
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// settled returns the current state of an assignment as a successful result.
func (m *Manager) settled(ctx context.Context, a model.ServiceAssignment) (Result, error) {
	total, err := m.total(ctx, a.TransactionID)
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: outcomeFor(a.Status), Assignment: &a, Total: total}, nil
}

func outcomeFor(status model.AssignmentStatus) Outcome {
	if status == model.AssignmentQueued {
		return OutcomeQueued
	}
	return OutcomeSuccess
}

// loadAssignment translates a missing row into a rejected result.
func (m *Manager) loadAssignment(ctx context.Context, id int64) (model.ServiceAssignment, *Result, error) {
	a, err := m.store.GetAssignment(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r := rejected(ReasonNotFound, fmt.Sprintf("assignment %d not found", id))
			return model.ServiceAssignment{}, &r, nil
		}
		return model.ServiceAssignment{}, nil, err
	}
	return a, nil, nil
}

// loadOpenTransaction translates a missing or closed transaction into a rejected result.
func (m *Manager) loadOpenTransaction(ctx context.Context, id int64) (model.Transaction, *Result, error) {
	tx, err := m.store.GetTransaction(ctx, id, false)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r := rejected(ReasonNotFound, fmt.Sprintf("transaction %d not found", id))
			return model.Transaction{}, &r, nil
		}
		return model.Transaction{}, nil, err
	}
	if tx.Status == model.TransactionClosed {
		r := rejected(ReasonTransactionClosed, fmt.Sprintf("transaction %d is closed", id))
		return tx, &r, nil
	}
	return tx, nil, nil
}

// activate moves a to active on machine, starting its timer. It reports false
// when a left status from in the meantime.
func (m *Manager) activate(ctx context.Context, a *model.ServiceAssignment, machine model.Machine, from model.AssignmentStatus, actor string) (bool, error) {
	now := m.now()
	deadline := now.Add(minutes(a.DurationMin))
	machineID := machine.ID

	won, err := m.store.TransitionAssignment(ctx, a.ID, store.Transition{
		From:      from,
		To:        model.AssignmentActive,
		At:        now,
		MachineID: &machineID,
		StartedAt: &now,
		Deadline:  &deadline,
	})
	if err != nil || !won {
		return false, err
	}

	a.Status = model.AssignmentActive
	a.MachineID = &machineID
	a.StartedAt = &now
	a.Deadline = &deadline
	a.UpdatedAt = now
	m.emit(ctx, event.ServiceActivated, a, actor, "")
	return true, nil
}

// ActivateNextQueued hands free machines of the branch+type to queued
// assignments, oldest first. Activated assignments are not completed here.
func (m *Manager) ActivateNextQueued(ctx context.Context, branchID int64, machineType model.MachineType) ([]model.ServiceAssignment, error) {
	var activated []model.ServiceAssignment
	for i := 0; i < maxCascade; i++ {
		head, err := m.store.OldestQueued(ctx, branchID, machineType)
		if err != nil {
			return activated, err
		}
		if head == nil {
			return activated, nil
		}

		machine, ok, err := m.registry.Claim(ctx, branchID, machineType, m.systemActor)
		if err != nil {
			return activated, err
		}
		if !ok {
			return activated, nil
		}

		won, err := m.activate(ctx, head, machine, model.AssignmentQueued, m.systemActor)
		if err != nil {
			m.releaseQuietly(ctx, machine.ID)
			return activated, err
		}
		if !won {
			// Someone else settled the head first; give the machine back and look again.
			m.releaseQuietly(ctx, machine.ID)
			continue
		}
		activated = append(activated, *head)
	}
	log.Printf("lifecycle: cascade for branch %d %s stopped after %d rounds", branchID, machineType, maxCascade)
	return activated, nil
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

// transitionTo applies a bare status edge and mirrors it on a when it wins.
func (m *Manager) transitionTo(ctx context.Context, a *model.ServiceAssignment, from, to model.AssignmentStatus) (bool, error) {
	now := m.now()
	won, err := m.store.TransitionAssignment(ctx, a.ID, store.Transition{From: from, To: to, At: now})
	if err != nil || !won {
		return false, err
	}
	a.Status = to
	a.UpdatedAt = now
	return true, nil
}

func (m *Manager) releaseQuietly(ctx context.Context, machineID int64) {
	if _, err := m.registry.Release(ctx, machineID, m.systemActor); err != nil {
		log.Printf("lifecycle: failed to return machine %d after lost activation: %v", machineID, err)
	}
}

// releaseAndCascade frees the machine held by a (a snapshot taken while it was
// active), archives the occupancy and re-evaluates the queue. Completion and
// cancellation both end here.
func (m *Manager) releaseAndCascade(ctx context.Context, a model.ServiceAssignment, trigger Trigger, actor string) error {
	if a.MachineID == nil {
		return nil
	}
	machineID := *a.MachineID

	released, err := m.registry.Release(ctx, machineID, actor)
	if err != nil {
		return err
	}
	if released {
		m.archive(ctx, a, trigger)
	}

	_, err = m.ActivateNextQueued(ctx, a.BranchID, a.MachineType)
	return err
}

func (m *Manager) archive(ctx context.Context, a model.ServiceAssignment, trigger Trigger) {
	if a.MachineID == nil || a.StartedAt == nil {
		return
	}
	usage := model.MachineUsage{
		MachineID:    *a.MachineID,
		AssignmentID: a.ID,
		PeriodStart:  *a.StartedAt,
		ObservedEnd:  m.now(),
		EndTrigger:   string(trigger),
	}
	if a.Deadline != nil {
		usage.PeriodEnd = *a.Deadline
	}
	if err := m.store.ArchiveUsage(ctx, usage); err != nil {
		log.Printf("lifecycle: %v", err)
	}
}
