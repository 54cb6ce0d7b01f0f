package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"laundry-branch-backend/internal/model"
	"laundry-branch-backend/internal/store"
)

// OpenTransaction starts a ticket for a branch.
func (m *Manager) OpenTransaction(ctx context.Context, branchID int64, actor string) (Result, error) {
	if _, err := m.store.GetBranch(ctx, branchID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return rejected(ReasonNotFound, fmt.Sprintf("branch %d not found", branchID)), nil
		}
		return Result{}, err
	}

	now := m.now()
	tx := &model.Transaction{
		BranchID:  branchID,
		OpenedBy:  actor,
		Status:    model.TransactionOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateTransaction(ctx, tx); err != nil {
		return Result{}, err
	}
	var total int64
	return Result{Outcome: OutcomeSuccess, Transaction: tx, Total: &total}, nil
}

// CloseTransaction closes a ticket once every assignment has settled.
func (m *Manager) CloseTransaction(ctx context.Context, transactionID int64, actor string) (Result, error) {
	tx, err := m.store.GetTransaction(ctx, transactionID, false)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return rejected(ReasonNotFound, fmt.Sprintf("transaction %d not found", transactionID)), nil
		}
		return Result{}, err
	}
	if tx.Status == model.TransactionClosed {
		return m.transactionResult(ctx, transactionID)
	}

	closed, err := m.store.CloseTransaction(ctx, transactionID, actor, m.now())
	if err != nil {
		return Result{}, err
	}
	if !closed {
		pending, err := m.store.CountPending(ctx, transactionID)
		if err != nil {
			return Result{}, err
		}
		if pending > 0 {
			return rejected(ReasonPendingServices,
				fmt.Sprintf("transaction %d has %d unfinished services", transactionID, pending)), nil
		}
	}
	return m.transactionResult(ctx, transactionID)
}

// AddProduct sells a retail item within an open transaction.
func (m *Manager) AddProduct(ctx context.Context, transactionID int64, name string, quantity int, unitPrice int64, actor string) (Result, error) {
	name = strings.TrimSpace(name)
	if name == "" || quantity <= 0 || unitPrice < 0 {
		return rejected(ReasonInvalidRequest, "product needs a name, a positive quantity and a non-negative price"), nil
	}

	tx, rej, err := m.loadOpenTransaction(ctx, transactionID)
	if err != nil || rej != nil {
		return deref(rej), err
	}

	line := &model.ProductLine{
		TransactionID: tx.ID,
		Name:          name,
		Quantity:      quantity,
		UnitPrice:     unitPrice,
		AddedBy:       actor,
		CreatedAt:     m.now(),
	}
	if err := m.store.AddProductLine(ctx, line); err != nil {
		return Result{}, err
	}
	return m.transactionResult(ctx, transactionID)
}

func (m *Manager) transactionResult(ctx context.Context, transactionID int64) (Result, error) {
	total, err := m.total(ctx, transactionID)
	if err != nil {
		return Result{}, err
	}
	tx, err := m.store.GetTransaction(ctx, transactionID, true)
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeSuccess, Transaction: &tx, Total: total}, nil
}
