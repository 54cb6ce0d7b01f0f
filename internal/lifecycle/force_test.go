package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laundry-branch-backend/internal/event"
	"laundry-branch-backend/internal/model"
	"laundry-branch-backend/internal/store"
)

// plannedWash inserts a planned wash the way an interrupted schedule leaves it.
func (f *fixture) plannedWash(txID int64) model.ServiceAssignment {
	f.t.Helper()
	st := f.types["Wash"]
	a := model.ServiceAssignment{
		TransactionID: txID,
		BranchID:      f.branch.ID,
		ServiceTypeID: st.ID,
		ServiceName:   st.Name,
		MachineType:   st.MachineType,
		Status:        model.AssignmentPlanned,
		DurationMin:   st.DurationMinutes,
		Price:         st.Price,
		CreatedBy:     "alice",
		CreatedAt:     f.clock.Now(),
		UpdatedAt:     f.clock.Now(),
	}
	require.NoError(f.t, f.store.CreateAssignment(f.ctx, &a))
	return a
}

func TestForceStatusEdges(t *testing.T) {
	f := newFixture(t, "W-1")
	tx := f.open()
	running := f.schedule(tx.ID, "Wash")

	t.Run("same status is a no-op", func(t *testing.T) {
		res, err := f.mgr.ForceStatus(f.ctx, running.Assignment.ID, model.AssignmentActive, "bob")
		require.NoError(t, err)
		assert.Equal(t, OutcomeSuccess, res.Outcome)
		assert.Equal(t, model.AssignmentActive, res.Assignment.Status)
	})

	t.Run("unknown status", func(t *testing.T) {
		res, err := f.mgr.ForceStatus(f.ctx, running.Assignment.ID, "washing", "bob")
		require.NoError(t, err)
		assert.Equal(t, ReasonInvalidRequest, res.Reason)
	})

	t.Run("backwards edge", func(t *testing.T) {
		res, err := f.mgr.ForceStatus(f.ctx, running.Assignment.ID, model.AssignmentQueued, "bob")
		require.NoError(t, err)
		assert.Equal(t, ReasonIllegalTransition, res.Reason)
	})

	t.Run("planned to active without capacity", func(t *testing.T) {
		planned := f.plannedWash(tx.ID)
		res, err := f.mgr.ForceStatus(f.ctx, planned.ID, model.AssignmentActive, "bob")
		require.NoError(t, err)
		assert.Equal(t, ReasonNoCapacity, res.Reason)
		assert.Equal(t, model.AssignmentPlanned, f.assignment(planned.ID).Status)
	})

	t.Run("missing assignment", func(t *testing.T) {
		res, err := f.mgr.ForceStatus(f.ctx, 9999, model.AssignmentCompleted, "bob")
		require.NoError(t, err)
		assert.Equal(t, ReasonNotFound, res.Reason)
	})
}

func TestForceQueuedToActiveOnlyForHead(t *testing.T) {
	f := newFixture(t, "W-1", "W-2")
	tx := f.open()
	busy := f.schedule(tx.ID, "Wash")
	f.schedule(tx.ID, "Wash")
	first := f.plannedWash(tx.ID)
	f.clock.Advance(time.Second)
	second := f.plannedWash(tx.ID)

	// Both washers are busy; queue the two planned ones directly.
	for _, id := range []int64{first.ID, second.ID} {
		won, err := f.store.TransitionAssignment(f.ctx, id, store.Transition{
			From: model.AssignmentPlanned, To: model.AssignmentQueued, At: f.clock.Now(),
		})
		require.NoError(t, err)
		require.True(t, won)
	}

	res, err := f.mgr.ForceStatus(f.ctx, second.ID, model.AssignmentActive, "bob")
	require.NoError(t, err)
	assert.Equal(t, ReasonNotQueueHead, res.Reason)

	res, err = f.mgr.ForceStatus(f.ctx, first.ID, model.AssignmentActive, "bob")
	require.NoError(t, err)
	assert.Equal(t, ReasonNoCapacity, res.Reason)

	late := f.plannedWash(tx.ID)
	res, err = f.mgr.ForceStatus(f.ctx, late.ID, model.AssignmentActive, "bob")
	require.NoError(t, err)
	assert.Equal(t, ReasonNotQueueHead, res.Reason)
	assert.Equal(t, model.AssignmentPlanned, f.assignment(late.ID).Status)

	_, err = f.mgr.CompleteOrRelease(f.ctx, busy.Assignment.ID, TriggerManual, "bob")
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentActive, f.assignment(first.ID).Status)
	assert.Equal(t, model.AssignmentQueued, f.assignment(second.ID).Status)
}

func TestForcePlannedTransitions(t *testing.T) {
	f := newFixture(t, "W-1")
	tx := f.open()

	toActive := f.plannedWash(tx.ID)
	res, err := f.mgr.ForceStatus(f.ctx, toActive.ID, model.AssignmentActive, "bob")
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, model.AssignmentActive, res.Assignment.Status)
	assert.Equal(t, f.machine("W-1").ID, *res.Assignment.MachineID)

	toQueued := f.plannedWash(tx.ID)
	res, err = f.mgr.ForceStatus(f.ctx, toQueued.ID, model.AssignmentQueued, "bob")
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.Equal(t, 1, f.countFor(event.ServiceQueued, toQueued.ID))

	res, err = f.mgr.ForceStatus(f.ctx, toActive.ID, model.AssignmentCompleted, "bob")
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentCompleted, res.Assignment.Status)
	assert.Equal(t, model.AssignmentActive, f.assignment(toQueued.ID).Status)

	res, err = f.mgr.ForceStatus(f.ctx, toQueued.ID, model.AssignmentCancelled, "bob")
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentCancelled, res.Assignment.Status)
	assert.Equal(t, "forced by bob", res.Assignment.CancelReason)
	assert.Equal(t, model.MachineAvailable, f.machine("W-1").Status)
}

func TestResumePlanned(t *testing.T) {
	f := newFixture(t, "W-1")
	tx := f.open()
	planned := f.plannedWash(tx.ID)

	moved, err := f.mgr.ResumePlanned(f.ctx, planned.ID)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, model.AssignmentActive, f.assignment(planned.ID).Status)

	moved, err = f.mgr.ResumePlanned(f.ctx, planned.ID)
	require.NoError(t, err)
	assert.False(t, moved)
}
