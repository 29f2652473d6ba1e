package repository

import (
	"context"
	"sync"
	"time"

	"payvault/internal/models"
)

type MemorySessionRepository struct {
	mu      sync.RWMutex
	session *models.Session
	savedAt time.Time
	ttl     time.Duration
}

func NewMemorySessionRepository(ttl time.Duration) *MemorySessionRepository {
	return &MemorySessionRepository{
		ttl: ttl,
	}
}

func (r *MemorySessionRepository) Session(ctx context.Context) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.session == nil {
		return nil, nil
	}
	if r.ttl > 0 && time.Since(r.savedAt) > r.ttl {
		return nil, nil
	}
	return r.session, nil
}

func (r *MemorySessionRepository) SetSession(ctx context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.session = session
	r.savedAt = time.Now()
	return nil
}

func (r *MemorySessionRepository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.session = nil
	return nil
}
