package lifecycle

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"laundry-branch-backend/internal/model"
	"laundry-branch-backend/internal/store"
	"laundry-branch-backend/internal/tracing"
)

// SweepReport summarizes one SweepExpired pass.
type SweepReport struct {
	BranchID  int64   `json:"branchId"`
	Completed []int64 `json:"completed"`
	Activated []int64 `json:"activated"`
}

// SweepExpired completes every active assignment of the branch whose deadline
// has passed, then gives each machine type one cascade pass. Individual
// failures do not stop the sweep; they are joined into the returned error.
func (m *Manager) SweepExpired(ctx context.Context, branchID int64) (rep SweepReport, err error) {
	ctx, span := tracing.Start(ctx, "lifecycle.SweepExpired", attribute.Int64("branch.id", branchID))
	defer func() { tracing.End(span, err) }()

	rep = SweepReport{BranchID: branchID}
	now := m.now()
	expired, err := m.store.ListAssignments(ctx, store.AssignmentFilter{
		BranchID:       branchID,
		Statuses:       []model.AssignmentStatus{model.AssignmentActive},
		DeadlineBefore: &now,
	})
	if err != nil {
		return rep, err
	}

	var errs []error
	for _, a := range expired {
		res, err := m.CompleteOrRelease(ctx, a.ID, TriggerDeadline, m.systemActor)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !res.Rejected() {
			rep.Completed = append(rep.Completed, a.ID)
		}
	}

	for _, t := range model.MachineTypes {
		activated, err := m.ActivateNextQueued(ctx, branchID, t)
		if err != nil {
			errs = append(errs, err)
		}
		for _, a := range activated {
			rep.Activated = append(rep.Activated, a.ID)
		}
	}
	return rep, errors.Join(errs...)
}
