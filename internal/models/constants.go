package models

import "time"

// Employee statuses.
const (
	EmployeeActive   = "active"
	EmployeeInactive = "inactive"
)

// Salary payment statuses.
const (
	PaymentPending   = "pending"
	PaymentProcessed = "processed"
	PaymentFailed    = "failed"
)

// Queue entity types.
const (
	EntityEmployee = "employee"
	EntitySalary   = "salary"
)

// Queue actions.
const (
	ActionCreate       = "create"
	ActionUpdate       = "update"
	ActionDelete       = "delete"
	ActionGenerate     = "generate"
	ActionUpdateStatus = "update_status"
	ActionBulkUpdate   = "bulk_update"
)

const (
	// MaxSyncAttempts is the retry ceiling; an operation that fails this many
	// times stays queued but is excluded from automatic retries.
	MaxSyncAttempts = 3

	// SyncedRetention is how long confirmed operations are kept before purge.
	SyncedRetention = 24 * time.Hour

	// OnlineDebounce lets the network stabilize before replaying the queue.
	OnlineDebounce = time.Second

	// DefaultRequestTimeout bounds one reconciler call.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultSessionTTL is how long a cached session survives in redis.
	DefaultSessionTTL = 12 * time.Hour
)
