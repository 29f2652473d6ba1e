package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ErrUnknownOperation marks an entity_type/action pair no reconciler can
// serve. Retrying it can never succeed.
var ErrUnknownOperation = fmt.Errorf("unknown operation")

// SyncOperation is the persisted unit of offline work. The queue assigns ID
// and CreatedAt on append; DedupKey travels to the server so a replayed
// request after a lost response is not applied twice.
type SyncOperation struct {
	ID         int64      `json:"id"`
	EntityType string     `json:"entity_type"`
	Action     string     `json:"action"`
	Payload    string     `json:"data"`
	DedupKey   string     `json:"dedup_key"`
	Synced     bool       `json:"synced"`
	SyncedAt   *time.Time `json:"synced_at,omitempty"`
	Attempts   int        `json:"attempts"`
	LastError  *string    `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// TerminallyFailed reports whether the operation exhausted its retry budget
// without being confirmed.
func (op *SyncOperation) TerminallyFailed() bool {
	return !op.Synced && op.Attempts >= MaxSyncAttempts
}

// OperationPayload is the closed set of replayable mutations. Each variant
// knows the entity_type/action pair it is persisted under.
type OperationPayload interface {
	EntityType() string
	Action() string
}

type EmployeeCreate struct {
	Employee Employee `json:"employee"`
}

type EmployeeUpdate struct {
	Employee Employee `json:"employee"`
}

type EmployeeDelete struct {
	EmployeeID int64 `json:"employee_id"`
}

type SalaryGenerate struct {
	PaymentMonth string `json:"payment_month"`
}

type SalaryUpdateStatus struct {
	PaymentID int64  `json:"payment_id"`
	Status    string `json:"status"`
}

type SalaryBulkUpdate struct {
	PaymentIDs []int64 `json:"payment_ids"`
	Status     string  `json:"status"`
}

func (EmployeeCreate) EntityType() string { return EntityEmployee }
func (EmployeeCreate) Action() string     { return ActionCreate }

func (EmployeeUpdate) EntityType() string { return EntityEmployee }
func (EmployeeUpdate) Action() string     { return ActionUpdate }

func (EmployeeDelete) EntityType() string { return EntityEmployee }
func (EmployeeDelete) Action() string     { return ActionDelete }

func (SalaryGenerate) EntityType() string { return EntitySalary }
func (SalaryGenerate) Action() string     { return ActionGenerate }

func (SalaryUpdateStatus) EntityType() string { return EntitySalary }
func (SalaryUpdateStatus) Action() string     { return ActionUpdateStatus }

func (SalaryBulkUpdate) EntityType() string { return EntitySalary }
func (SalaryBulkUpdate) Action() string     { return ActionBulkUpdate }

// EncodePayload serializes a typed payload for queue storage.
func EncodePayload(payload OperationPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s/%s payload: %w", payload.EntityType(), payload.Action(), err)
	}
	return string(raw), nil
}

// DecodePayload maps a stored queue entry back to its typed variant.
// Unrecognized pairs return ErrUnknownOperation.
func DecodePayload(entityType, action, raw string) (OperationPayload, error) {
	var (
		payload OperationPayload
		err     error
	)

	switch {
	case entityType == EntityEmployee && action == ActionCreate:
		var p EmployeeCreate
		err = json.Unmarshal([]byte(raw), &p)
		payload = p
	case entityType == EntityEmployee && action == ActionUpdate:
		var p EmployeeUpdate
		err = json.Unmarshal([]byte(raw), &p)
		payload = p
	case entityType == EntityEmployee && action == ActionDelete:
		var p EmployeeDelete
		err = json.Unmarshal([]byte(raw), &p)
		payload = p
	case entityType == EntitySalary && action == ActionGenerate:
		var p SalaryGenerate
		err = json.Unmarshal([]byte(raw), &p)
		payload = p
	case entityType == EntitySalary && action == ActionUpdateStatus:
		var p SalaryUpdateStatus
		err = json.Unmarshal([]byte(raw), &p)
		payload = p
	case entityType == EntitySalary && action == ActionBulkUpdate:
		var p SalaryBulkUpdate
		err = json.Unmarshal([]byte(raw), &p)
		payload = p
	default:
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownOperation, entityType, action)
	}

	if err != nil {
		return nil, fmt.Errorf("decode %s/%s payload: %w", entityType, action, err)
	}
	return payload, nil
}
