package syncqueue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"payvault/internal/config"
	"payvault/internal/domain"
	"payvault/internal/events"
	"payvault/internal/metrics"
	"payvault/internal/models"
	"payvault/internal/reconciler"
	"payvault/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine owns queue semantics: enqueue order, the single-flight sync pass,
// retry bookkeeping and the retention purge. All persisted bytes belong to
// the store; the engine only goes through its put/get/delete contract.
type Engine struct {
	store        *store.Store
	remote       domain.Reconciler
	connectivity domain.ConnectivitySource
	bus          *events.Bus
	logger       *zerolog.Logger

	maxAttempts int
	retention   time.Duration

	syncing atomic.Bool
	wg      sync.WaitGroup
}

func New(
	st *store.Store,
	remote domain.Reconciler,
	connectivity domain.ConnectivitySource,
	bus *events.Bus,
	cfg config.SyncConfig,
	logger *zerolog.Logger,
) *Engine {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = models.MaxSyncAttempts
	}
	retention := cfg.Retention()
	if retention <= 0 {
		retention = models.SyncedRetention
	}

	return &Engine{
		store:        st,
		remote:       remote,
		connectivity: connectivity,
		bus:          bus,
		logger:       logger,
		maxAttempts:  maxAttempts,
		retention:    retention,
	}
}

// Enqueue persists a new operation and, when online, schedules a background
// sync pass. The caller is never blocked on the network.
func (e *Engine) Enqueue(ctx context.Context, payload models.OperationPayload) (*models.SyncOperation, error) {
	raw, err := models.EncodePayload(payload)
	if err != nil {
		return nil, err
	}

	op := &models.SyncOperation{
		EntityType: payload.EntityType(),
		Action:     payload.Action(),
		Payload:    raw,
		DedupKey:   uuid.NewString(),
		CreatedAt:  time.Now(),
	}

	if err := e.store.AppendOperation(ctx, op); err != nil {
		return nil, err
	}

	e.logger.Debug().
		Int64("operation_id", op.ID).
		Str("entity", op.EntityType).
		Str("action", op.Action).
		Msg("operation queued")

	if n, err := e.store.PendingCount(ctx); err == nil {
		metrics.SetPending(n)
	}

	if e.online() {
		e.kickoff()
	}

	return op, nil
}

// kickoff starts a background pass; concurrent kicks collapse in Sync.
func (e *Engine) kickoff() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.Sync(context.Background()); err != nil {
			e.logger.Error().Err(err).Msg("background sync failed")
		}
	}()
}

// Sync replays every eligible pending operation in enqueue order. At most
// one pass runs at a time; a second caller returns immediately and is
// satisfied by the in-flight pass. Offline, it is a no-op.
func (e *Engine) Sync(ctx context.Context) error {
	if !e.syncing.CompareAndSwap(false, true) {
		return nil
	}
	defer e.syncing.Store(false)

	if !e.online() {
		return nil
	}

	ops, err := e.store.UnsyncedOperations(ctx)
	if err != nil {
		metrics.IncPass("storage_error")
		return err
	}

	// Operations past the attempt ceiling stay queued but are not retried
	// automatically; they need RetryOperation or DiscardOperation.
	eligible := ops[:0]
	for _, op := range ops {
		if op.Attempts < e.maxAttempts {
			eligible = append(eligible, op)
		}
	}

	// Later operations may depend on ids created by earlier ones, so the
	// pass is strictly sequential in enqueue order.
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].ID < eligible[j].ID
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	e.bus.Notify(events.Event{Type: events.EventSyncStart})

	// Placeholder employee ids assigned by confirmed creates, so later
	// operations queued against the placeholder reach the server with the
	// real id.
	idMap := make(map[int64]int64)

	successCount, errorCount := 0, 0
	for i := range eligible {
		op := &eligible[i]

		e.substituteIDs(ctx, op, idMap)

		outcome, err := e.remote.Dispatch(ctx, op)
		if err == nil {
			e.markSynced(ctx, op, outcome)
			e.recordIDMapping(op, outcome, idMap)
			successCount++
			continue
		}

		errorCount++

		if errors.Is(err, reconciler.ErrAuthRequired) {
			// Not the payload's fault: no attempt is charged, and the rest
			// of the pass would fail the same way.
			e.logger.Warn().Int64("operation_id", op.ID).Msg("sync stopped, re-authentication required")
			e.bus.Notify(events.Event{
				Type:        events.EventAuthRequired,
				OperationID: op.ID,
				EntityType:  op.EntityType,
				Action:      op.Action,
				Error:       err.Error(),
			})
			break
		}

		e.markFailed(ctx, op, err)
	}

	cutoff := time.Now().Add(-e.retention)
	if purged, err := e.store.PurgeSynced(ctx, cutoff); err != nil {
		e.logger.Error().Err(err).Msg("purge synced operations")
	} else if purged > 0 {
		e.logger.Debug().Int64("purged", purged).Msg("old synced operations removed")
	}

	if n, err := e.store.PendingCount(ctx); err == nil {
		metrics.SetPending(n)
	}

	e.bus.Notify(events.Event{
		Type:         events.EventSyncComplete,
		SuccessCount: successCount,
		ErrorCount:   errorCount,
	})
	metrics.IncPass("ok")

	return nil
}

// substituteIDs rewrites placeholder employee ids in an operation's payload
// once the creating operation has synced and revealed the server id. The
// rewritten payload is persisted so a crash between passes does not resurrect
// the placeholder.
func (e *Engine) substituteIDs(ctx context.Context, op *models.SyncOperation, idMap map[int64]int64) {
	if len(idMap) == 0 {
		return
	}

	payload, err := models.DecodePayload(op.EntityType, op.Action, op.Payload)
	if err != nil {
		return
	}

	var rewritten models.OperationPayload
	switch p := payload.(type) {
	case models.EmployeeUpdate:
		serverID, ok := idMap[p.Employee.ID]
		if !ok {
			return
		}
		p.Employee.ID = serverID
		rewritten = p
	case models.EmployeeDelete:
		serverID, ok := idMap[p.EmployeeID]
		if !ok {
			return
		}
		p.EmployeeID = serverID
		rewritten = p
	default:
		return
	}

	raw, err := models.EncodePayload(rewritten)
	if err != nil {
		return
	}
	op.Payload = raw

	if err := e.store.UpdateOperation(ctx, op); err != nil {
		e.logger.Error().Err(err).Int64("operation_id", op.ID).Msg("persist id substitution")
	}
}

// recordIDMapping captures the placeholder-to-server id pair from a confirmed
// create.
func (e *Engine) recordIDMapping(op *models.SyncOperation, outcome *reconciler.Outcome, idMap map[int64]int64) {
	if outcome == nil || outcome.Employee == nil {
		return
	}
	payload, err := models.DecodePayload(op.EntityType, op.Action, op.Payload)
	if err != nil {
		return
	}
	if p, ok := payload.(models.EmployeeCreate); ok && p.Employee.IsLocal() {
		idMap[p.Employee.ID] = outcome.Employee.ID
	}
}

func (e *Engine) markSynced(ctx context.Context, op *models.SyncOperation, outcome *reconciler.Outcome) {
	now := time.Now()
	op.Synced = true
	op.SyncedAt = &now
	op.LastError = nil

	if err := e.store.UpdateOperation(ctx, op); err != nil {
		// The remote call succeeded; the dedup key keeps a later replay safe.
		e.logger.Error().Err(err).Int64("operation_id", op.ID).Msg("persist synced flag")
	}

	e.reconcile(ctx, op, outcome)
	metrics.IncOperation(op.EntityType, op.Action, "synced")
}

func (e *Engine) markFailed(ctx context.Context, op *models.SyncOperation, cause error) {
	op.Attempts++
	msg := cause.Error()
	op.LastError = &msg

	unknown := errors.Is(cause, models.ErrUnknownOperation)
	if unknown && op.Attempts < e.maxAttempts {
		// Replaying an unrecognized operation can never succeed; burn the
		// remaining budget so it surfaces as stuck right away.
		op.Attempts = e.maxAttempts
	}

	if err := e.store.UpdateOperation(ctx, op); err != nil {
		e.logger.Error().Err(err).Int64("operation_id", op.ID).Msg("persist failed attempt")
	}

	e.logger.Warn().
		Err(cause).
		Int64("operation_id", op.ID).
		Str("entity", op.EntityType).
		Str("action", op.Action).
		Int("attempts", op.Attempts).
		Msg("operation replay failed")

	switch {
	case unknown:
		e.bus.Notify(events.Event{
			Type:        events.EventOperationFailed,
			OperationID: op.ID,
			EntityType:  op.EntityType,
			Action:      op.Action,
			Attempts:    op.Attempts,
			Error:       msg,
		})
	case op.Attempts >= e.maxAttempts:
		e.bus.Notify(events.Event{
			Type:        events.EventSyncError,
			OperationID: op.ID,
			EntityType:  op.EntityType,
			Action:      op.Action,
			Attempts:    op.Attempts,
			Error:       "max retry attempts reached",
		})
	}

	metrics.IncOperation(op.EntityType, op.Action, "failed")
}

// reconcile folds the server's authoritative record back into the cache.
func (e *Engine) reconcile(ctx context.Context, op *models.SyncOperation, outcome *reconciler.Outcome) {
	if outcome == nil {
		return
	}

	payload, err := models.DecodePayload(op.EntityType, op.Action, op.Payload)
	if err != nil {
		e.logger.Error().Err(err).Int64("operation_id", op.ID).Msg("reconcile decode")
		return
	}

	switch p := payload.(type) {
	case models.EmployeeCreate:
		if outcome.Employee == nil {
			return
		}
		outcome.Employee.Dirty = false
		if p.Employee.IsLocal() {
			err = e.store.ReplaceEmployee(ctx, p.Employee.ID, outcome.Employee)
		} else {
			err = e.store.PutEmployee(ctx, outcome.Employee)
		}

	case models.EmployeeUpdate:
		if outcome.Employee == nil {
			return
		}
		outcome.Employee.Dirty = false
		err = e.store.PutEmployee(ctx, outcome.Employee)

	case models.EmployeeDelete:
		err = e.store.DeleteEmployee(ctx, p.EmployeeID)

	case models.SalaryGenerate:
		for i := range outcome.Payments {
			outcome.Payments[i].Dirty = false
		}
		// The authoritative batch supersedes any optimistic placeholders.
		if err = e.store.DeleteLocalPayments(ctx, p.PaymentMonth); err == nil {
			err = e.store.PutPayments(ctx, outcome.Payments)
		}

	case models.SalaryBulkUpdate:
		for i := range outcome.Payments {
			outcome.Payments[i].Dirty = false
		}
		err = e.store.PutPayments(ctx, outcome.Payments)

	case models.SalaryUpdateStatus:
		if outcome.Payment == nil {
			return
		}
		outcome.Payment.Dirty = false
		err = e.store.PutPayment(ctx, outcome.Payment)
	}

	if err != nil {
		e.logger.Error().Err(err).Int64("operation_id", op.ID).Msg("reconcile cache")
	}
}

// PendingCount reports operations not yet confirmed by the server.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	return e.store.PendingCount(ctx)
}

// TerminallyFailed lists operations stuck past the attempt ceiling. They are
// never dropped silently; the user retries or discards them.
func (e *Engine) TerminallyFailed(ctx context.Context) ([]models.SyncOperation, error) {
	ops, err := e.store.UnsyncedOperations(ctx)
	if err != nil {
		return nil, err
	}

	var stuck []models.SyncOperation
	for _, op := range ops {
		if op.Attempts >= e.maxAttempts {
			stuck = append(stuck, op)
		}
	}
	return stuck, nil
}

// RetryOperation resets a stuck operation's budget and schedules a pass.
func (e *Engine) RetryOperation(ctx context.Context, id int64) error {
	op, err := e.store.GetOperation(ctx, id)
	if err != nil {
		return err
	}
	if op == nil || op.Synced {
		return nil
	}

	op.Attempts = 0
	op.LastError = nil
	if err := e.store.UpdateOperation(ctx, op); err != nil {
		return err
	}

	if e.online() {
		e.kickoff()
	}
	return nil
}

// DiscardOperation drops an operation without replaying it.
func (e *Engine) DiscardOperation(ctx context.Context, id int64) error {
	return e.store.DeleteOperation(ctx, id)
}

func (e *Engine) online() bool {
	return e.connectivity == nil || e.connectivity.Online()
}

// Close waits for any background pass started by Enqueue or RetryOperation.
func (e *Engine) Close() {
	e.wg.Wait()
}
