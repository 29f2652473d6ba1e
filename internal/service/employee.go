package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"payvault/internal/domain"
	"payvault/internal/models"
	"payvault/internal/store"

	"github.com/rs/zerolog"
)

// EmployeeService applies employee mutations optimistically: the local cache
// changes immediately and a queue entry carries the change to the server when
// connectivity allows.
type EmployeeService struct {
	store  *store.Store
	syncer domain.Syncer
	logger *zerolog.Logger
}

func NewEmployeeService(st *store.Store, syncer domain.Syncer, logger *zerolog.Logger) *EmployeeService {
	return &EmployeeService{store: st, syncer: syncer, logger: logger}
}

// Create caches the record under a placeholder id and queues the creation.
// The placeholder is swapped for the server id once the operation syncs.
func (s *EmployeeService) Create(ctx context.Context, e models.Employee) (*models.Employee, error) {
	if e.FullName == "" {
		return nil, fmt.Errorf("employee full name is required")
	}

	now := time.Now()
	e.ID = -now.UnixNano()
	e.Dirty = true
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.Status == "" {
		e.Status = models.EmployeeActive
	}

	if err := s.store.PutEmployee(ctx, &e); err != nil {
		return nil, err
	}

	if _, err := s.syncer.Enqueue(ctx, models.EmployeeCreate{Employee: e}); err != nil {
		return nil, err
	}

	s.logger.Info().Int64("local_id", e.ID).Str("name", e.FullName).Msg("employee created locally")
	return &e, nil
}

// Update rewrites the cached record and queues the change.
func (s *EmployeeService) Update(ctx context.Context, e models.Employee) (*models.Employee, error) {
	existing, err := s.store.GetEmployee(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("employee %d not found", e.ID)
	}

	e.Dirty = true
	e.CreatedAt = existing.CreatedAt
	e.UpdatedAt = time.Now()

	if err := s.store.PutEmployee(ctx, &e); err != nil {
		return nil, err
	}

	if _, err := s.syncer.Enqueue(ctx, models.EmployeeUpdate{Employee: e}); err != nil {
		return nil, err
	}
	return &e, nil
}

// Delete removes the cached record. For a record the server never saw, the
// pending creation is withdrawn from the queue instead of queuing a delete.
func (s *EmployeeService) Delete(ctx context.Context, id int64) error {
	e, err := s.store.GetEmployee(ctx, id)
	if err != nil {
		return err
	}
	if e == nil {
		return nil
	}

	if err := s.store.DeleteEmployee(ctx, id); err != nil {
		return err
	}

	if e.IsLocal() {
		return s.withdrawPendingCreate(ctx, id)
	}

	_, err = s.syncer.Enqueue(ctx, models.EmployeeDelete{EmployeeID: id})
	return err
}

// withdrawPendingCreate drops the queued creation matching a placeholder id.
func (s *EmployeeService) withdrawPendingCreate(ctx context.Context, localID int64) error {
	ops, err := s.store.UnsyncedOperations(ctx)
	if err != nil {
		return err
	}

	for _, op := range ops {
		if op.EntityType != models.EntityEmployee || op.Action != models.ActionCreate {
			continue
		}
		var p models.EmployeeCreate
		if err := json.Unmarshal([]byte(op.Payload), &p); err != nil {
			continue
		}
		if p.Employee.ID == localID {
			s.logger.Debug().Int64("operation_id", op.ID).Msg("pending creation withdrawn")
			return s.store.DeleteOperation(ctx, op.ID)
		}
	}
	return nil
}

// Get returns the cached record, nil when absent.
func (s *EmployeeService) Get(ctx context.Context, id int64) (*models.Employee, error) {
	return s.store.GetEmployee(ctx, id)
}

// List returns cached employees, optionally filtered by status.
func (s *EmployeeService) List(ctx context.Context, status string) ([]models.Employee, error) {
	if status == "" {
		return s.store.AllEmployees(ctx)
	}
	return s.store.EmployeesByStatus(ctx, status)
}
