package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"laundry-branch-backend/internal/lifecycle"
	"laundry-branch-backend/internal/store"
)

// BranchLister lists the branches a runner pass visits.
type BranchLister interface {
	BranchIDs(ctx context.Context) ([]int64, error)
}

// BranchListerFunc adapts a function to BranchLister.
type BranchListerFunc func(ctx context.Context) ([]int64, error)

func (f BranchListerFunc) BranchIDs(ctx context.Context) ([]int64, error) { return f(ctx) }

// StoreBranches lists every branch known to the store.
func StoreBranches(st store.Store) BranchLister {
	return BranchListerFunc(func(ctx context.Context) ([]int64, error) {
		branches, err := st.ListBranches(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]int64, 0, len(branches))
		for _, b := range branches {
			ids = append(ids, b.ID)
		}
		return ids, nil
	})
}

// BranchReport is the outcome of one runner pass over one branch.
type BranchReport struct {
	BranchID  int64                 `json:"branchId"`
	Sweep     lifecycle.SweepReport `json:"sweep"`
	Reconcile Report                `json:"reconcile"`
}

// Runner drives SweepExpired and Reconcile for every branch on a fixed cadence.
type Runner struct {
	lifecycle   Lifecycle
	sweeper     *Sweeper
	branches    BranchLister
	interval    time.Duration
	concurrency int
}

// NewRunner creates a Runner. concurrency bounds how many branches are
// processed at once; values below 1 mean one at a time.
func NewRunner(lc Lifecycle, sweeper *Sweeper, branches BranchLister, interval time.Duration, concurrency int) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{
		lifecycle:   lc,
		sweeper:     sweeper,
		branches:    branches,
		interval:    interval,
		concurrency: concurrency,
	}
}

// Run performs a pass immediately and then one per interval until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	log.Printf("Starting sweep runner, interval %s...", r.interval)

	r.runLogged(ctx)

	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Sweep runner shutting down.")
			return
		case <-timer.C:
			r.runLogged(ctx)
			timer.Reset(r.interval)
		}
	}
}

func (r *Runner) runLogged(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		log.Printf("Sweep pass finished with errors: %v", err)
	}
}

// RunOnce sweeps the given branches, or every branch when none are given.
// Expired assignments are completed before reconciliation so genuine
// completions are never mistaken for drift.
func (r *Runner) RunOnce(ctx context.Context, branchIDs ...int64) ([]BranchReport, error) {
	if len(branchIDs) == 0 {
		ids, err := r.branches.BranchIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list branches: %w", err)
		}
		branchIDs = ids
	}

	var (
		mu      sync.Mutex
		reports = make([]BranchReport, len(branchIDs))
		errs    []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, id := range branchIDs {
		i, id := i, id
		g.Go(func() error {
			rep := BranchReport{BranchID: id}
			var branchErrs []error

			sweep, err := r.lifecycle.SweepExpired(gctx, id)
			if err != nil {
				branchErrs = append(branchErrs, fmt.Errorf("sweep branch %d: %w", id, err))
			}
			rep.Sweep = sweep

			rec, err := r.sweeper.Reconcile(gctx, id)
			if err != nil {
				branchErrs = append(branchErrs, fmt.Errorf("reconcile branch %d: %w", id, err))
			}
			rep.Reconcile = rec

			mu.Lock()
			reports[i] = rep
			errs = append(errs, branchErrs...)
			mu.Unlock()
			// Per-branch failures are collected instead of cancelling the group.
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}
	return reports, errors.Join(errs...)
}
