package domain

import (
	"context"

	"payvault/internal/models"
	"payvault/internal/reconciler"
)

// Reconciler turns one queued operation into one remote call.
type Reconciler interface {
	Dispatch(ctx context.Context, op *models.SyncOperation) (*reconciler.Outcome, error)
}

// ConnectivitySource answers whether the network currently looks usable.
type ConnectivitySource interface {
	Online() bool
}

// Syncer is what connectivity triggers and services enqueue through.
type Syncer interface {
	Enqueue(ctx context.Context, payload models.OperationPayload) (*models.SyncOperation, error)
	Sync(ctx context.Context) error
	PendingCount(ctx context.Context) (int, error)
}

// SessionRepository stores the current authenticated session.
type SessionRepository interface {
	Session(ctx context.Context) (*models.Session, error)
	SetSession(ctx context.Context, session *models.Session) error
	Clear(ctx context.Context) error
}
