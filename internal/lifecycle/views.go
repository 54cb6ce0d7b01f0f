package lifecycle

import (
	"context"
	"log"
	"time"

	"laundry-branch-backend/internal/model"
	"laundry-branch-backend/internal/registry"
	"laundry-branch-backend/internal/store"
)

// MachineView is a machine with the assignment currently running on it.
type MachineView struct {
	model.Machine
	Assignment *model.ServiceAssignment `json:"assignment,omitempty"`
	// RemainingSeconds is the time left on the running assignment.
	RemainingSeconds *int64 `json:"remainingSeconds,omitempty"`
}

// Board is the staff-facing machine board of a branch.
type Board struct {
	Branch      model.Branch              `json:"branch"`
	Machines    []MachineView             `json:"machines"`
	QueueLength map[model.MachineType]int `json:"queueLength"`
	GeneratedAt time.Time                 `json:"generatedAt"`
}

// Board sweeps expired assignments and then projects the machines of a
// branch. A failing sweep is logged; the board is still served.
func (m *Manager) Board(ctx context.Context, branchID int64, f registry.Filter) (Board, error) {
	branch, err := m.store.GetBranch(ctx, branchID)
	if err != nil {
		return Board{}, err
	}

	if _, err := m.SweepExpired(ctx, branchID); err != nil {
		log.Printf("lifecycle: opportunistic sweep of branch %d failed: %v", branchID, err)
	}

	machines, err := m.registry.ListByBranch(ctx, branchID, f)
	if err != nil {
		return Board{}, err
	}
	running, err := m.store.ListAssignments(ctx, store.AssignmentFilter{
		BranchID: branchID,
		Statuses: []model.AssignmentStatus{model.AssignmentActive},
	})
	if err != nil {
		return Board{}, err
	}
	queued, err := m.store.ListAssignments(ctx, store.AssignmentFilter{
		BranchID: branchID,
		Statuses: []model.AssignmentStatus{model.AssignmentQueued},
	})
	if err != nil {
		return Board{}, err
	}

	now := m.now()
	byMachine := make(map[int64]model.ServiceAssignment, len(running))
	for _, a := range running {
		if a.MachineID != nil {
			byMachine[*a.MachineID] = a
		}
	}

	board := Board{
		Branch:      branch,
		Machines:    make([]MachineView, 0, len(machines)),
		QueueLength: make(map[model.MachineType]int, len(model.MachineTypes)),
		GeneratedAt: now,
	}
	for _, t := range model.MachineTypes {
		board.QueueLength[t] = 0
	}
	for _, a := range queued {
		board.QueueLength[a.MachineType]++
	}
	for _, machine := range machines {
		view := MachineView{Machine: machine}
		if a, ok := byMachine[machine.ID]; ok {
			a := a
			view.Assignment = &a
			if a.Deadline != nil {
				left := int64(a.Deadline.Sub(now).Seconds())
				if left < 0 {
					left = 0
				}
				view.RemainingSeconds = &left
			}
		}
		board.Machines = append(board.Machines, view)
	}
	return board, nil
}

// Queue returns the waiting assignments of a branch and machine type in
// activation order.
func (m *Manager) Queue(ctx context.Context, branchID int64, machineType model.MachineType) ([]model.ServiceAssignment, error) {
	if _, err := m.store.GetBranch(ctx, branchID); err != nil {
		return nil, err
	}
	return m.store.ListAssignments(ctx, store.AssignmentFilter{
		BranchID:    branchID,
		MachineType: machineType,
		Statuses:    []model.AssignmentStatus{model.AssignmentQueued},
	})
}

// Transaction returns a transaction with its assignments and product lines.
func (m *Manager) Transaction(ctx context.Context, transactionID int64) (model.Transaction, error) {
	return m.store.GetTransaction(ctx, transactionID, true)
}
