package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"payvault/internal/config"
	"payvault/internal/events"
	"payvault/internal/models"
	"payvault/internal/reconciler"
	"payvault/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemote struct {
	mu         sync.Mutex
	dispatched []models.SyncOperation
	respond    func(op *models.SyncOperation) (*reconciler.Outcome, error)
}

func (f *fakeRemote) Dispatch(ctx context.Context, op *models.SyncOperation) (*reconciler.Outcome, error) {
	f.mu.Lock()
	f.dispatched = append(f.dispatched, *op)
	f.mu.Unlock()

	if f.respond != nil {
		return f.respond(op)
	}
	return nil, nil
}

func (f *fakeRemote) calls() []models.SyncOperation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.SyncOperation(nil), f.dispatched...)
}

type stubConnectivity struct{ online bool }

func (s *stubConnectivity) Online() bool { return s.online }

func newTestEngine(t *testing.T, remote *fakeRemote, online bool) (*Engine, *store.Store, *events.Bus) {
	t.Helper()

	logger := zerolog.Nop()
	st, err := store.Open(filepath.Join(t.TempDir(), "payvault.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := events.NewBus(&logger)
	eng := New(st, remote, &stubConnectivity{online: online}, bus, config.SyncConfig{
		MaxAttempts:    3,
		RetentionHours: 24,
	}, &logger)
	t.Cleanup(eng.Close)

	return eng, st, bus
}

// enqueueOnly persists without triggering a background pass.
func enqueueOnly(t *testing.T, eng *Engine, payload models.OperationPayload) *models.SyncOperation {
	t.Helper()

	conn := eng.connectivity.(*stubConnectivity)
	was := conn.online
	conn.online = false
	op, err := eng.Enqueue(context.Background(), payload)
	conn.online = was
	require.NoError(t, err)
	return op
}

func TestSyncReplaysInEnqueueOrder(t *testing.T) {
	remote := &fakeRemote{}
	eng, _, _ := newTestEngine(t, remote, true)

	enqueueOnly(t, eng, models.EmployeeDelete{EmployeeID: 1})
	enqueueOnly(t, eng, models.EmployeeDelete{EmployeeID: 2})
	enqueueOnly(t, eng, models.EmployeeDelete{EmployeeID: 3})

	require.NoError(t, eng.Sync(context.Background()))

	calls := remote.calls()
	require.Len(t, calls, 3)
	for i, call := range calls {
		var p models.EmployeeDelete
		payload, err := models.DecodePayload(call.EntityType, call.Action, call.Payload)
		require.NoError(t, err)
		p = payload.(models.EmployeeDelete)
		assert.Equal(t, int64(i+1), p.EmployeeID)
	}

	pending, err := eng.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
}

func TestSyncIsSingleFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	remote := &fakeRemote{
		respond: func(op *models.SyncOperation) (*reconciler.Outcome, error) {
			close(started)
			<-release
			return nil, nil
		},
	}
	eng, _, _ := newTestEngine(t, remote, true)

	enqueueOnly(t, eng, models.EmployeeDelete{EmployeeID: 1})

	done := make(chan error, 1)
	go func() { done <- eng.Sync(context.Background()) }()
	<-started

	// Second caller must return immediately without a second pass.
	require.NoError(t, eng.Sync(context.Background()))
	assert.Len(t, remote.calls(), 1)

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, remote.calls(), 1)
}

func TestSyncedOperationsAreNotReplayed(t *testing.T) {
	remote := &fakeRemote{}
	eng, _, _ := newTestEngine(t, remote, true)

	enqueueOnly(t, eng, models.EmployeeDelete{EmployeeID: 1})
	enqueueOnly(t, eng, models.EmployeeDelete{EmployeeID: 2})

	require.NoError(t, eng.Sync(context.Background()))
	require.NoError(t, eng.Sync(context.Background()))
	require.NoError(t, eng.Sync(context.Background()))

	assert.Len(t, remote.calls(), 2)
}

func TestSyncOfflineIsNoop(t *testing.T) {
	remote := &fakeRemote{}
	eng, _, _ := newTestEngine(t, remote, false)

	enqueueOnly(t, eng, models.EmployeeDelete{EmployeeID: 1})

	require.NoError(t, eng.Sync(context.Background()))
	assert.Empty(t, remote.calls())

	pending, err := eng.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestFailedOperationRetriesUpToCeiling(t *testing.T) {
	remote := &fakeRemote{
		respond: func(op *models.SyncOperation) (*reconciler.Outcome, error) {
			return nil, &reconciler.TransientError{Err: errors.New("connection refused")}
		},
	}
	eng, st, bus := newTestEngine(t, remote, true)

	var failures []events.Event
	bus.AddListener(func(e events.Event) {
		if e.Type == events.EventSyncError {
			failures = append(failures, e)
		}
	})

	op := enqueueOnly(t, eng, models.EmployeeDelete{EmployeeID: 7})

	for i := 1; i <= 3; i++ {
		require.NoError(t, eng.Sync(context.Background()))

		stored, err := st.GetOperation(context.Background(), op.ID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, i, stored.Attempts)
		assert.False(t, stored.Synced)
		require.NotNil(t, stored.LastError)
		assert.Contains(t, *stored.LastError, "connection refused")
	}

	// Past the ceiling: stays queued but no longer dispatched.
	require.NoError(t, eng.Sync(context.Background()))
	assert.Len(t, remote.calls(), 3)

	require.Len(t, failures, 1)
	assert.Equal(t, op.ID, failures[0].OperationID)
	assert.Equal(t, 3, failures[0].Attempts)

	stuck, err := eng.TerminallyFailed(context.Background())
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.True(t, stuck[0].TerminallyFailed())
}

func TestFailureDoesNotBlockLaterOperations(t *testing.T) {
	remote := &fakeRemote{
		respond: func(op *models.SyncOperation) (*reconciler.Outcome, error) {
			payload, err := models.DecodePayload(op.EntityType, op.Action, op.Payload)
			if err != nil {
				return nil, err
			}
			if payload.(models.EmployeeDelete).EmployeeID == 1 {
				return nil, &reconciler.RejectedError{Status: 422, Body: "validation failed"}
			}
			return nil, nil
		},
	}
	eng, st, _ := newTestEngine(t, remote, true)

	bad := enqueueOnly(t, eng, models.EmployeeDelete{EmployeeID: 1})
	good := enqueueOnly(t, eng, models.EmployeeDelete{EmployeeID: 2})

	require.NoError(t, eng.Sync(context.Background()))
	assert.Len(t, remote.calls(), 2)

	stored, err := st.GetOperation(context.Background(), bad.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Attempts)
	assert.False(t, stored.Synced)

	stored, err = st.GetOperation(context.Background(), good.ID)
	require.NoError(t, err)
	assert.True(t, stored.Synced)
}

func TestUnknownOperationFailsTerminally(t *testing.T) {
	remote := &fakeRemote{
		respond: func(op *models.SyncOperation) (*reconciler.Outcome, error) {
			return nil, fmt.Errorf("%w: employee/archive", models.ErrUnknownOperation)
		},
	}
	eng, st, bus := newTestEngine(t, remote, true)

	var failed []events.Event
	bus.AddListener(func(e events.Event) {
		if e.Type == events.EventOperationFailed {
			failed = append(failed, e)
		}
	})

	op := enqueueOnly(t, eng, models.EmployeeDelete{EmployeeID: 1})

	require.NoError(t, eng.Sync(context.Background()))

	stored, err := st.GetOperation(context.Background(), op.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Attempts)
	assert.True(t, stored.TerminallyFailed())
	require.Len(t, failed, 1)

	// Never dispatched again.
	require.NoError(t, eng.Sync(context.Background()))
	assert.Len(t, remote.calls(), 1)
}

func TestAuthFailureStopsPassWithoutChargingAttempt(t *testing.T) {
	remote := &fakeRemote{
		respond: func(op *models.SyncOperation) (*reconciler.Outcome, error) {
			return nil, reconciler.ErrAuthRequired
		},
	}
	eng, st, bus := newTestEngine(t, remote, true)

	var authEvents []events.Event
	bus.AddListener(func(e events.Event) {
		if e.Type == events.EventAuthRequired {
			authEvents = append(authEvents, e)
		}
	})

	first := enqueueOnly(t, eng, models.EmployeeDelete{EmployeeID: 1})
	enqueueOnly(t, eng, models.EmployeeDelete{EmployeeID: 2})

	require.NoError(t, eng.Sync(context.Background()))

	// Only the first operation hit the wire; the pass stopped there.
	assert.Len(t, remote.calls(), 1)
	require.Len(t, authEvents, 1)

	stored, err := st.GetOperation(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Attempts)
	assert.False(t, stored.Synced)
}

func TestPurgeKeepsRecentAndUnsyncedOperations(t *testing.T) {
	remote := &fakeRemote{}
	eng, st, _ := newTestEngine(t, remote, true)

	ctx := context.Background()
	now := time.Now()

	mkSynced := func(age time.Duration) *models.SyncOperation {
		syncedAt := now.Add(-age)
		op := enqueueOnly(t, eng, models.EmployeeDelete{EmployeeID: 1})
		op.Synced = true
		op.SyncedAt = &syncedAt
		require.NoError(t, st.UpdateOperation(ctx, op))
		return op
	}

	old := mkSynced(25 * time.Hour)
	recent := mkSynced(23 * time.Hour)

	stale := enqueueOnly(t, eng, models.EmployeeDelete{EmployeeID: 2})
	// Unsynced entries outlive the retention window no matter their age.
	_, err := st.GetOperation(ctx, stale.ID)
	require.NoError(t, err)

	require.NoError(t, eng.Sync(ctx))

	gone, err := st.GetOperation(ctx, old.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := st.GetOperation(ctx, recent.ID)
	require.NoError(t, err)
	assert.NotNil(t, kept)

	keptStale, err := st.GetOperation(ctx, stale.ID)
	require.NoError(t, err)
	require.NotNil(t, keptStale)
	assert.True(t, keptStale.Synced) // replayed by the pass above
}

func TestCreateReplacesLocalRecordWithServerRecord(t *testing.T) {
	serverEmp := models.Employee{
		ID:           42,
		EmployeeCode: "EMP042",
		FullName:     "Jane Smith",
		Salary:       52000,
		Status:       models.EmployeeActive,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	remote := &fakeRemote{
		respond: func(op *models.SyncOperation) (*reconciler.Outcome, error) {
			emp := serverEmp
			return &reconciler.Outcome{Employee: &emp}, nil
		},
	}
	eng, st, _ := newTestEngine(t, remote, true)
	ctx := context.Background()

	local := models.Employee{
		ID:           -1,
		EmployeeCode: "EMP042",
		FullName:     "Jane Smith",
		Salary:       52000,
		Status:       models.EmployeeActive,
		Dirty:        true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	require.NoError(t, st.PutEmployee(ctx, &local))
	enqueueOnly(t, eng, models.EmployeeCreate{Employee: local})

	require.NoError(t, eng.Sync(ctx))

	ghost, err := st.GetEmployee(ctx, -1)
	require.NoError(t, err)
	assert.Nil(t, ghost)

	cached, err := st.GetEmployee(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "Jane Smith", cached.FullName)
	assert.False(t, cached.Dirty)
}

func TestOfflineLifecycleReplaysInOrderAndEndsDeleted(t *testing.T) {
	serverID := int64(42)
	var wire []string
	remote := &fakeRemote{
		respond: func(op *models.SyncOperation) (*reconciler.Outcome, error) {
			wire = append(wire, op.Action)
			payload, err := models.DecodePayload(op.EntityType, op.Action, op.Payload)
			if err != nil {
				return nil, err
			}
			switch p := payload.(type) {
			case models.EmployeeCreate:
				emp := p.Employee
				emp.ID = serverID
				return &reconciler.Outcome{Employee: &emp}, nil
			case models.EmployeeUpdate:
				emp := p.Employee
				return &reconciler.Outcome{Employee: &emp}, nil
			default:
				return &reconciler.Outcome{Deleted: true}, nil
			}
		},
	}
	eng, st, _ := newTestEngine(t, remote, true)
	ctx := context.Background()

	// All three mutations queued against the same record while offline.
	eng.connectivity.(*stubConnectivity).online = false

	now := time.Now()
	local := models.Employee{ID: -1, FullName: "Draft", Dirty: true, Status: models.EmployeeActive, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.PutEmployee(ctx, &local))
	enqueueOnly(t, eng, models.EmployeeCreate{Employee: local})

	local.FullName = "Draft Final"
	require.NoError(t, st.PutEmployee(ctx, &local))
	enqueueOnly(t, eng, models.EmployeeUpdate{Employee: local})

	require.NoError(t, st.DeleteEmployee(ctx, local.ID))
	enqueueOnly(t, eng, models.EmployeeDelete{EmployeeID: local.ID})

	// Reconnect.
	eng.connectivity.(*stubConnectivity).online = true
	require.NoError(t, eng.Sync(ctx))

	assert.Equal(t, []string{models.ActionCreate, models.ActionUpdate, models.ActionDelete}, wire)

	ops, err := st.SyncedOperations(ctx)
	require.NoError(t, err)
	assert.Len(t, ops, 3)

	pending, err := eng.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	// The record ends deleted in the cache, under both the placeholder id
	// and the server id the create produced mid-pass.
	gone, err := st.GetEmployee(ctx, local.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	gone, err = st.GetEmployee(ctx, serverID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	all, err := st.AllEmployees(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	// The queued update and delete reached the wire with the server id.
	calls := remote.calls()
	require.Len(t, calls, 3)
	upd, err := models.DecodePayload(calls[1].EntityType, calls[1].Action, calls[1].Payload)
	require.NoError(t, err)
	assert.Equal(t, serverID, upd.(models.EmployeeUpdate).Employee.ID)
	del, err := models.DecodePayload(calls[2].EntityType, calls[2].Action, calls[2].Payload)
	require.NoError(t, err)
	assert.Equal(t, serverID, del.(models.EmployeeDelete).EmployeeID)
}

func TestSyncReconcilesPaymentBatches(t *testing.T) {
	remote := &fakeRemote{
		respond: func(op *models.SyncOperation) (*reconciler.Outcome, error) {
			return &reconciler.Outcome{Payments: []models.SalaryPayment{
				{ID: 10, EmployeeID: 1, PaymentMonth: "2026-08", Amount: 4000, Status: models.PaymentPending, CreatedAt: time.Now(), UpdatedAt: time.Now()},
				{ID: 11, EmployeeID: 2, PaymentMonth: "2026-08", Amount: 4500, Status: models.PaymentPending, CreatedAt: time.Now(), UpdatedAt: time.Now()},
			}}, nil
		},
	}
	eng, st, _ := newTestEngine(t, remote, true)
	ctx := context.Background()

	enqueueOnly(t, eng, models.SalaryGenerate{PaymentMonth: "2026-08"})
	require.NoError(t, eng.Sync(ctx))

	payments, err := st.PaymentsByMonth(ctx, "2026-08")
	require.NoError(t, err)
	assert.Len(t, payments, 2)
}

func TestRetryOperationResetsBudget(t *testing.T) {
	fail := true
	remote := &fakeRemote{
		respond: func(op *models.SyncOperation) (*reconciler.Outcome, error) {
			if fail {
				return nil, &reconciler.TransientError{Err: errors.New("boom")}
			}
			return nil, nil
		},
	}
	eng, st, _ := newTestEngine(t, remote, true)
	ctx := context.Background()

	op := enqueueOnly(t, eng, models.EmployeeDelete{EmployeeID: 1})
	for i := 0; i < 3; i++ {
		require.NoError(t, eng.Sync(ctx))
	}

	stored, err := st.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	require.True(t, stored.TerminallyFailed())

	fail = false
	eng.connectivity.(*stubConnectivity).online = false // keep the retry from racing the assertions
	require.NoError(t, eng.RetryOperation(ctx, op.ID))

	stored, err = st.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Attempts)
	assert.Nil(t, stored.LastError)

	eng.connectivity.(*stubConnectivity).online = true
	require.NoError(t, eng.Sync(ctx))

	stored, err = st.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.True(t, stored.Synced)
}

func TestDiscardOperationDropsEntry(t *testing.T) {
	remote := &fakeRemote{}
	eng, st, _ := newTestEngine(t, remote, false)
	ctx := context.Background()

	op := enqueueOnly(t, eng, models.EmployeeDelete{EmployeeID: 1})
	require.NoError(t, eng.DiscardOperation(ctx, op.ID))

	stored, err := st.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestSyncEmitsLifecycleEvents(t *testing.T) {
	remote := &fakeRemote{}
	eng, _, bus := newTestEngine(t, remote, true)

	var types []string
	var complete events.Event
	bus.AddListener(func(e events.Event) {
		types = append(types, e.Type)
		if e.Type == events.EventSyncComplete {
			complete = e
		}
	})

	enqueueOnly(t, eng, models.EmployeeDelete{EmployeeID: 1})
	enqueueOnly(t, eng, models.EmployeeDelete{EmployeeID: 2})
	require.NoError(t, eng.Sync(context.Background()))

	require.Contains(t, types, events.EventSyncStart)
	require.Contains(t, types, events.EventSyncComplete)
	assert.Equal(t, 2, complete.SuccessCount)
	assert.Equal(t, 0, complete.ErrorCount)
}
