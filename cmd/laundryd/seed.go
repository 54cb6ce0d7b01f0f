package main

import (
	"context"
	"fmt"

	"laundry-branch-backend/config"
	"laundry-branch-backend/internal/model"
	"laundry-branch-backend/internal/parse"
	"laundry-branch-backend/internal/registry"
	"laundry-branch-backend/internal/store"
)

const seedActor = "seed"

// seed upserts the configured branches, their machine pools and the service
// catalog. Running it again only adds what is missing.
func seed(ctx context.Context, cfg *config.Config, st store.Store, reg registry.Registry) error {
	types, err := serviceTypes(cfg.ServiceTypes)
	if err != nil {
		return err
	}
	if err := st.UpsertServiceTypes(ctx, types); err != nil {
		return fmt.Errorf("failed to seed service types: %w", err)
	}

	names := make([]string, 0, len(cfg.Branches))
	for _, b := range cfg.Branches {
		names = append(names, b.Name)
	}
	branches, err := st.UpsertBranches(ctx, names)
	if err != nil {
		return fmt.Errorf("failed to seed branches: %w", err)
	}

	for _, b := range cfg.Branches {
		branch, ok := branches[b.Name]
		if !ok {
			continue
		}
		labels := make([]parse.ParsedLabel, 0, len(b.Machines))
		for _, raw := range b.Machines {
			l, err := parse.ParseMachineLabel(raw)
			if err != nil {
				return fmt.Errorf("branch %q: %w", b.Name, err)
			}
			labels = append(labels, l)
		}
		if err := reg.EnsureMachines(ctx, branch.ID, labels, seedActor); err != nil {
			return fmt.Errorf("failed to seed machines of branch %q: %w", b.Name, err)
		}
	}
	return nil
}

func serviceTypes(seeds []config.ServiceTypeSeed) ([]model.ServiceType, error) {
	out := make([]model.ServiceType, 0, len(seeds))
	for _, s := range seeds {
		mt := model.MachineType(s.MachineType)
		if mt != "" && !mt.Valid() {
			return nil, fmt.Errorf("service type %q: unknown machine type %q", s.Name, s.MachineType)
		}
		if s.DurationMinutes < 0 || s.Price < 0 {
			return nil, fmt.Errorf("service type %q: duration and price must not be negative", s.Name)
		}
		out = append(out, model.ServiceType{
			Name:            s.Name,
			Kind:            s.Kind,
			MachineType:     mt,
			DurationMinutes: s.DurationMinutes,
			Price:           s.Price,
			HasFee:          s.HasFee,
		})
	}
	return out, nil
}
