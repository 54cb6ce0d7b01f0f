package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"laundry-branch-backend/internal/model"
	"laundry-branch-backend/internal/registry"
	"laundry-branch-backend/internal/store"
	"laundry-branch-backend/internal/tracing"
)

// BrokenReason is recorded on assignments cancelled because their machine broke.
const BrokenReason = "machine_broken"

// MarkMachineBroken takes a machine out of service. The assignment running on
// it, if any, is cancelled by the system actor; the machine stays broken so
// nothing cascades onto it.
func (m *Manager) MarkMachineBroken(ctx context.Context, machineID int64, actor, reason string) (res Result, err error) {
	ctx, span := tracing.Start(ctx, "lifecycle.MarkMachineBroken", attribute.Int64("machine.id", machineID))
	defer func() { tracing.End(span, err) }()

	if _, err := m.registry.MarkBroken(ctx, machineID, actor); err != nil {
		if errors.Is(err, registry.ErrMachineNotFound) {
			return rejected(ReasonNotFound, fmt.Sprintf("machine %d not found", machineID)), nil
		}
		return Result{}, err
	}

	running, err := m.store.ListAssignments(ctx, store.AssignmentFilter{
		MachineID: machineID,
		Statuses:  []model.AssignmentStatus{model.AssignmentActive},
	})
	if err != nil {
		return Result{}, err
	}

	cancelReason := BrokenReason
	if reason != "" {
		cancelReason = BrokenReason + ": " + reason
	}

	res = Result{Outcome: OutcomeSuccess}
	var errs []error
	for _, a := range running {
		r, err := m.cancel(ctx, a, m.systemActor, cancelReason, keepBroken)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if r.Assignment != nil {
			res.Assignment = r.Assignment
			res.Total = r.Total
		}
	}
	if err := errors.Join(errs...); err != nil {
		return Result{}, err
	}

	machine, err := m.registry.Get(ctx, machineID)
	if err != nil {
		return Result{}, err
	}
	res.Machine = &machine
	return res, nil
}

// MarkMachineRepaired returns a broken machine to service and lets the queue
// of its type take it.
func (m *Manager) MarkMachineRepaired(ctx context.Context, machineID int64, actor string) (res Result, err error) {
	ctx, span := tracing.Start(ctx, "lifecycle.MarkMachineRepaired", attribute.Int64("machine.id", machineID))
	defer func() { tracing.End(span, err) }()

	if err := m.registry.MarkRepaired(ctx, machineID, actor); err != nil {
		switch {
		case errors.Is(err, registry.ErrMachineNotFound):
			return rejected(ReasonNotFound, fmt.Sprintf("machine %d not found", machineID)), nil
		case errors.Is(err, registry.ErrNotBroken):
			return rejected(ReasonMachineNotBroken, fmt.Sprintf("machine %d is not broken", machineID)), nil
		}
		return Result{}, err
	}

	machine, err := m.registry.Get(ctx, machineID)
	if err != nil {
		return Result{}, err
	}
	activated, err := m.ActivateNextQueued(ctx, machine.BranchID, machine.Type)
	if err != nil {
		return Result{}, err
	}

	res = Result{Outcome: OutcomeSuccess}
	if len(activated) > 0 {
		res.Assignment = &activated[0]
		if machine, err = m.registry.Get(ctx, machineID); err != nil {
			return Result{}, err
		}
	}
	res.Machine = &machine
	return res, nil
}

// RetireMachine removes an idle machine from the pool.
func (m *Manager) RetireMachine(ctx context.Context, machineID int64, actor string) (Result, error) {
	if err := m.registry.Retire(ctx, machineID, actor); err != nil {
		switch {
		case errors.Is(err, registry.ErrMachineNotFound):
			return rejected(ReasonNotFound, fmt.Sprintf("machine %d not found", machineID)), nil
		case errors.Is(err, registry.ErrMachineInUse):
			return rejected(ReasonMachineInUse, fmt.Sprintf("machine %d is in use", machineID)), nil
		}
		return Result{}, err
	}
	machine, err := m.registry.Get(ctx, machineID)
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeSuccess, Machine: &machine}, nil
}
