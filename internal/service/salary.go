package service

import (
	"context"
	"fmt"
	"time"

	"payvault/internal/domain"
	"payvault/internal/models"
	"payvault/internal/store"

	"github.com/rs/zerolog"
)

// SalaryService applies payment mutations optimistically and queues them for
// replay, mirroring the employee service.
type SalaryService struct {
	store  *store.Store
	syncer domain.Syncer
	logger *zerolog.Logger
}

func NewSalaryService(st *store.Store, syncer domain.Syncer, logger *zerolog.Logger) *SalaryService {
	return &SalaryService{store: st, syncer: syncer, logger: logger}
}

// GeneratePayments queues a payment run for a "2006-01" month and writes
// optimistic pending placeholders for every active employee. The server's
// batch replaces the placeholders when the operation syncs.
func (s *SalaryService) GeneratePayments(ctx context.Context, month string) ([]models.SalaryPayment, error) {
	if _, err := time.Parse("2006-01", month); err != nil {
		return nil, fmt.Errorf("invalid payment month %q: %w", month, err)
	}

	employees, err := s.store.EmployeesByStatus(ctx, models.EmployeeActive)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	placeholders := make([]models.SalaryPayment, 0, len(employees))
	for i, e := range employees {
		placeholders = append(placeholders, models.SalaryPayment{
			ID:           -(now.UnixNano() + int64(i)),
			EmployeeID:   e.ID,
			EmployeeName: e.FullName,
			PaymentMonth: month,
			Amount:       e.Salary,
			Currency:     e.Currency,
			Status:       models.PaymentPending,
			Dirty:        true,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	if err := s.store.PutPayments(ctx, placeholders); err != nil {
		return nil, err
	}

	if _, err := s.syncer.Enqueue(ctx, models.SalaryGenerate{PaymentMonth: month}); err != nil {
		return nil, err
	}

	s.logger.Info().Str("month", month).Int("employees", len(placeholders)).Msg("payment run queued")
	return placeholders, nil
}

// UpdateStatus moves a payment through pending/processed/failed locally and
// queues the change.
func (s *SalaryService) UpdateStatus(ctx context.Context, paymentID int64, status, processedBy string) (*models.SalaryPayment, error) {
	if !validPaymentStatus(status) {
		return nil, fmt.Errorf("invalid payment status %q", status)
	}

	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("payment %d not found", paymentID)
	}

	now := time.Now()
	p.Status = status
	p.ProcessedBy = processedBy
	p.Dirty = true
	p.UpdatedAt = now
	if status == models.PaymentProcessed {
		p.PaidAt = &now
	}

	if err := s.store.PutPayment(ctx, p); err != nil {
		return nil, err
	}

	if _, err := s.syncer.Enqueue(ctx, models.SalaryUpdateStatus{PaymentID: paymentID, Status: status}); err != nil {
		return nil, err
	}
	return p, nil
}

// BulkUpdate applies one status to many payments in a single queued operation.
func (s *SalaryService) BulkUpdate(ctx context.Context, paymentIDs []int64, status string) error {
	if !validPaymentStatus(status) {
		return fmt.Errorf("invalid payment status %q", status)
	}
	if len(paymentIDs) == 0 {
		return nil
	}

	now := time.Now()
	for _, id := range paymentIDs {
		p, err := s.store.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			continue
		}
		p.Status = status
		p.Dirty = true
		p.UpdatedAt = now
		if status == models.PaymentProcessed {
			p.PaidAt = &now
		}
		if err := s.store.PutPayment(ctx, p); err != nil {
			return err
		}
	}

	_, err := s.syncer.Enqueue(ctx, models.SalaryBulkUpdate{PaymentIDs: paymentIDs, Status: status})
	return err
}

// PaymentsByMonth returns cached payments for a month.
func (s *SalaryService) PaymentsByMonth(ctx context.Context, month string) ([]models.SalaryPayment, error) {
	return s.store.PaymentsByMonth(ctx, month)
}

// PaymentsByStatus returns cached payments in a status.
func (s *SalaryService) PaymentsByStatus(ctx context.Context, status string) ([]models.SalaryPayment, error) {
	return s.store.PaymentsByStatus(ctx, status)
}

func validPaymentStatus(status string) bool {
	switch status {
	case models.PaymentPending, models.PaymentProcessed, models.PaymentFailed:
		return true
	}
	return false
}
