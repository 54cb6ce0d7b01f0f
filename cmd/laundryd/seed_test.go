package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laundry-branch-backend/config"
	"laundry-branch-backend/internal/db/dbtest"
	"laundry-branch-backend/internal/event"
	"laundry-branch-backend/internal/model"
	"laundry-branch-backend/internal/registry"
	"laundry-branch-backend/internal/store"
)

func seedConfig() *config.Config {
	cfg := &config.Config{
		Branches: []config.BranchSeed{
			{Name: "Downtown", Machines: []string{"W-1", "W-2", "D-1"}},
			{Name: "Riverside", Machines: []string{"Washer 1"}},
		},
		ServiceTypes: []config.ServiceTypeSeed{
			{Name: "Wash", Kind: "wash", MachineType: "washer", DurationMinutes: 45, Price: 700, HasFee: true},
			{Name: "Fold", Kind: "fold", DurationMinutes: 15, Price: 400},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestSeed_Idempotent(t *testing.T) {
	ctx := context.Background()
	gormDB := dbtest.Open(t)
	st := store.NewGormStore(gormDB)
	a := newApp(seedConfig(), gormDB, st, event.Discard)

	require.NoError(t, seed(ctx, seedConfig(), a.store, a.registry))
	require.NoError(t, seed(ctx, seedConfig(), a.store, a.registry))

	branches, err := st.ListBranches(ctx)
	require.NoError(t, err)
	require.Len(t, branches, 2)

	machines, err := a.registry.ListByBranch(ctx, branches[0].ID, registry.Filter{})
	require.NoError(t, err)
	assert.Len(t, machines, 3)

	types, err := a.catalog.List(ctx)
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.False(t, types[1].NeedsMachine())
}

func TestSeed_RejectsBadEntries(t *testing.T) {
	ctx := context.Background()
	gormDB := dbtest.Open(t)
	st := store.NewGormStore(gormDB)

	cfg := seedConfig()
	cfg.Branches[0].Machines = append(cfg.Branches[0].Machines, "Boiler 1")
	a := newApp(cfg, gormDB, st, event.Discard)
	assert.Error(t, seed(ctx, cfg, a.store, a.registry))

	cfg = seedConfig()
	cfg.ServiceTypes[0].MachineType = "ironer"
	assert.Error(t, seed(ctx, cfg, a.store, a.registry))
}

func TestServiceTypes_MapsMachineType(t *testing.T) {
	types, err := serviceTypes(seedConfig().ServiceTypes)
	require.NoError(t, err)
	assert.Equal(t, model.MachineTypeWasher, types[0].MachineType)
	assert.True(t, types[0].HasFee)
}
