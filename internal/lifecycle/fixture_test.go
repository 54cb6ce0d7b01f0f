package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"laundry-branch-backend/internal/catalog"
	"laundry-branch-backend/internal/db/dbtest"
	"laundry-branch-backend/internal/event"
	"laundry-branch-backend/internal/model"
	"laundry-branch-backend/internal/parse"
	"laundry-branch-backend/internal/registry"
	"laundry-branch-backend/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  store.Store
	reg    registry.Registry
	mgr    *Manager
	events *event.Recorder
	clock  *fakeClock
	branch model.Branch
	types  map[string]model.ServiceType
}

// newFixture builds a branch with the given machine labels and a small catalog:
// Wash (washer, 45m, 700, fee), Dry (dryer, 40m, 600), Fold (no machine, 15m,
// 400) and Detergent (instant, 100). The fee is 10%.
func newFixture(t *testing.T, machines ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	gormDB := dbtest.Open(t)

	f := &fixture{
		t:      t,
		ctx:    ctx,
		store:  store.NewGormStore(gormDB),
		events: &event.Recorder{},
		clock:  newFakeClock(),
	}
	f.reg = registry.New(gormDB, registry.WithClock(f.clock.Now), registry.WithSink(f.events))

	branches, err := f.store.UpsertBranches(ctx, []string{"Downtown"})
	require.NoError(t, err)
	f.branch = branches["Downtown"]

	labels := make([]parse.ParsedLabel, 0, len(machines))
	for _, raw := range machines {
		l, err := parse.ParseMachineLabel(raw)
		require.NoError(t, err)
		labels = append(labels, l)
	}
	require.NoError(t, f.reg.EnsureMachines(ctx, f.branch.ID, labels, "seed"))

	require.NoError(t, f.store.UpsertServiceTypes(ctx, []model.ServiceType{
		{Name: "Wash", Kind: "wash", MachineType: model.MachineTypeWasher, DurationMinutes: 45, Price: 700, HasFee: true},
		{Name: "Dry", Kind: "dry", MachineType: model.MachineTypeDryer, DurationMinutes: 40, Price: 600},
		{Name: "Fold", Kind: "fold", DurationMinutes: 15, Price: 400},
		{Name: "Detergent", Kind: "addon", Price: 100},
	}))
	types, err := f.store.ListServiceTypes(ctx)
	require.NoError(t, err)
	f.types = make(map[string]model.ServiceType, len(types))
	for _, st := range types {
		f.types[st.Name] = st
	}

	f.mgr = New(f.store, f.reg, catalog.NewCached(f.store, time.Minute),
		WithSink(f.events),
		WithClock(f.clock.Now),
		WithFeePercent(10),
	)
	return f
}

func (f *fixture) open() model.Transaction {
	f.t.Helper()
	res, err := f.mgr.OpenTransaction(f.ctx, f.branch.ID, "alice")
	require.NoError(f.t, err)
	require.Equal(f.t, OutcomeSuccess, res.Outcome)
	return *res.Transaction
}

func (f *fixture) schedule(txID int64, service string) Result {
	f.t.Helper()
	res, err := f.mgr.ScheduleService(f.ctx, txID, f.types[service].ID, "alice")
	require.NoError(f.t, err)
	return res
}

func (f *fixture) assignment(id int64) model.ServiceAssignment {
	f.t.Helper()
	a, err := f.store.GetAssignment(f.ctx, id)
	require.NoError(f.t, err)
	return a
}

func (f *fixture) machine(label string) model.Machine {
	f.t.Helper()
	l, err := parse.ParseMachineLabel(label)
	require.NoError(f.t, err)
	machines, err := f.reg.ListByBranch(f.ctx, f.branch.ID, registry.Filter{Type: l.Type, IncludeRetired: true})
	require.NoError(f.t, err)
	for _, m := range machines {
		if m.Number == l.Number {
			return m
		}
	}
	f.t.Fatalf("machine %s not found", label)
	return model.Machine{}
}

// countFor counts events of a type that concern one assignment.
func (f *fixture) countFor(eventType string, assignmentID int64) int {
	n := 0
	for _, ev := range f.events.Events() {
		if ev.Type == eventType && ev.AssignmentID != nil && *ev.AssignmentID == assignmentID {
			n++
		}
	}
	return n
}
