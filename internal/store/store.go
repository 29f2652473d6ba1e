package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"payvault/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Logical containers. Everything the client persists lives in one of these.
const (
	ContainerEmployees = "employees"
	ContainerPayments  = "salary_payments"
	ContainerQueue     = "sync_queue"
	ContainerSettings  = "settings"
)

var containers = []string{ContainerEmployees, ContainerPayments, ContainerQueue, ContainerSettings}

// StorageError wraps any failure of the underlying storage engine. Callers
// must not assume a partial write succeeded when they see one.
type StorageError struct {
	Op        string
	Container string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Container, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op, container string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Container: container, Err: err}
}

// Store is the durable local store: cached employees, cached salary payments,
// the pending-operation queue and a small settings container, all in one
// SQLite file. A single connection serializes writers per container.
type Store struct {
	db     *sql.DB
	path   string
	logger *zerolog.Logger
}

func Open(path string, logger *zerolog.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	// One connection at a time: put/delete pairs can never interleave.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to store: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Local store initialized")
	return &Store{db: db, path: path, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS employees (
            id INTEGER PRIMARY KEY,
            employee_code TEXT NOT NULL,
            full_name TEXT NOT NULL,
            address TEXT,
            bank_account_number TEXT,
            bank_name TEXT,
            sort_code TEXT,
            iban TEXT,
            currency TEXT,
            salary REAL NOT NULL DEFAULT 0,
            status TEXT NOT NULL DEFAULT 'active',
            dirty BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS salary_payments (
            id INTEGER PRIMARY KEY,
            employee_id INTEGER NOT NULL,
            employee_name TEXT,
            payment_month TEXT NOT NULL,
            amount REAL NOT NULL DEFAULT 0,
            currency TEXT,
            status TEXT NOT NULL DEFAULT 'pending',
            processed_by TEXT,
            paid_at DATETIME,
            dirty BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS sync_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            entity_type TEXT NOT NULL,
            action TEXT NOT NULL,
            payload TEXT NOT NULL,
            dedup_key TEXT NOT NULL UNIQUE,
            synced BOOLEAN NOT NULL DEFAULT 0,
            synced_at DATETIME,
            attempts INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS settings (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_employees_status ON employees(status)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_month ON salary_payments(payment_month)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_status ON salary_payments(status)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_employee ON salary_payments(employee_id)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_synced ON sync_queue(synced)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_created_at ON sync_queue(created_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %v", query, err)
		}
	}
	return nil
}

// Path returns the backing file path (used by the backup service).
func (s *Store) Path() string { return s.path }

// Employee cache

// PutEmployee upserts by primary key and never fails on "already exists".
func (s *Store) PutEmployee(ctx context.Context, e *models.Employee) error {
	query := `
        INSERT INTO employees (id, employee_code, full_name, address, bank_account_number, bank_name, sort_code, iban, currency, salary, status, dirty, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            employee_code = excluded.employee_code,
            full_name = excluded.full_name,
            address = excluded.address,
            bank_account_number = excluded.bank_account_number,
            bank_name = excluded.bank_name,
            sort_code = excluded.sort_code,
            iban = excluded.iban,
            currency = excluded.currency,
            salary = excluded.salary,
            status = excluded.status,
            dirty = excluded.dirty,
            updated_at = excluded.updated_at
    `

	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.EmployeeCode, e.FullName, e.Address, e.BankAccountNumber,
		e.BankName, e.SortCode, e.IBAN, e.Currency, e.Salary, e.Status,
		e.Dirty, e.CreatedAt, e.UpdatedAt,
	)
	return storageErr("put", ContainerEmployees, err)
}

// GetEmployee returns (nil, nil) when the id is not cached.
func (s *Store) GetEmployee(ctx context.Context, id int64) (*models.Employee, error) {
	query := `
        SELECT id, employee_code, full_name, address, bank_account_number, bank_name, sort_code, iban, currency, salary, status, dirty, created_at, updated_at
        FROM employees WHERE id = ?
    `

	var e models.Employee
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.EmployeeCode, &e.FullName, &e.Address, &e.BankAccountNumber,
		&e.BankName, &e.SortCode, &e.IBAN, &e.Currency, &e.Salary, &e.Status,
		&e.Dirty, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get", ContainerEmployees, err)
	}
	return &e, nil
}

// DeleteEmployee is a no-op when the id is absent.
func (s *Store) DeleteEmployee(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM employees WHERE id = ?`, id)
	return storageErr("delete", ContainerEmployees, err)
}

// ReplaceEmployee swaps a locally-created record for the server's
// authoritative one in a single transaction (temp id out, server id in).
func (s *Store) ReplaceEmployee(ctx context.Context, oldID int64, e *models.Employee) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("replace", ContainerEmployees, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM employees WHERE id = ?`, oldID); err != nil {
		return storageErr("replace", ContainerEmployees, err)
	}

	query := `
        INSERT INTO employees (id, employee_code, full_name, address, bank_account_number, bank_name, sort_code, iban, currency, salary, status, dirty, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            employee_code = excluded.employee_code,
            full_name = excluded.full_name,
            address = excluded.address,
            bank_account_number = excluded.bank_account_number,
            bank_name = excluded.bank_name,
            sort_code = excluded.sort_code,
            iban = excluded.iban,
            currency = excluded.currency,
            salary = excluded.salary,
            status = excluded.status,
            dirty = excluded.dirty,
            updated_at = excluded.updated_at
    `
	if _, err := tx.ExecContext(ctx, query,
		e.ID, e.EmployeeCode, e.FullName, e.Address, e.BankAccountNumber,
		e.BankName, e.SortCode, e.IBAN, e.Currency, e.Salary, e.Status,
		e.Dirty, e.CreatedAt, e.UpdatedAt,
	); err != nil {
		return storageErr("replace", ContainerEmployees, err)
	}

	return storageErr("replace", ContainerEmployees, tx.Commit())
}

// EmployeesByStatus returns cached employees whose status equals the value.
func (s *Store) EmployeesByStatus(ctx context.Context, status string) ([]models.Employee, error) {
	return s.queryEmployees(ctx, `WHERE status = ?`, status)
}

// AllEmployees returns every cached employee.
func (s *Store) AllEmployees(ctx context.Context) ([]models.Employee, error) {
	return s.queryEmployees(ctx, ``)
}

func (s *Store) queryEmployees(ctx context.Context, where string, args ...interface{}) ([]models.Employee, error) {
	query := `
        SELECT id, employee_code, full_name, address, bank_account_number, bank_name, sort_code, iban, currency, salary, status, dirty, created_at, updated_at
        FROM employees ` + where

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query", ContainerEmployees, err)
	}
	defer rows.Close()

	var employees []models.Employee
	for rows.Next() {
		var e models.Employee
		err := rows.Scan(
			&e.ID, &e.EmployeeCode, &e.FullName, &e.Address, &e.BankAccountNumber,
			&e.BankName, &e.SortCode, &e.IBAN, &e.Currency, &e.Salary, &e.Status,
			&e.Dirty, &e.CreatedAt, &e.UpdatedAt,
		)
		if err != nil {
			return nil, storageErr("scan", ContainerEmployees, err)
		}
		employees = append(employees, e)
	}
	if err = rows.Err(); err != nil {
		return nil, storageErr("query", ContainerEmployees, err)
	}
	return employees, nil
}

// Salary payment cache

func (s *Store) PutPayment(ctx context.Context, p *models.SalaryPayment) error {
	query := `
        INSERT INTO salary_payments (id, employee_id, employee_name, payment_month, amount, currency, status, processed_by, paid_at, dirty, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            employee_id = excluded.employee_id,
            employee_name = excluded.employee_name,
            payment_month = excluded.payment_month,
            amount = excluded.amount,
            currency = excluded.currency,
            status = excluded.status,
            processed_by = excluded.processed_by,
            paid_at = excluded.paid_at,
            dirty = excluded.dirty,
            updated_at = excluded.updated_at
    `

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.EmployeeID, p.EmployeeName, p.PaymentMonth, p.Amount,
		p.Currency, p.Status, p.ProcessedBy, p.PaidAt, p.Dirty,
		p.CreatedAt, p.UpdatedAt,
	)
	return storageErr("put", ContainerPayments, err)
}

// PutPayments upserts a batch, e.g. the server's response to a generate call.
func (s *Store) PutPayments(ctx context.Context, payments []models.SalaryPayment) error {
	for i := range payments {
		if err := s.PutPayment(ctx, &payments[i]); err != nil {
			return err
		}
	}
	return nil
}

// GetPayment returns (nil, nil) when the id is not cached.
func (s *Store) GetPayment(ctx context.Context, id int64) (*models.SalaryPayment, error) {
	query := `
        SELECT id, employee_id, employee_name, payment_month, amount, currency, status, processed_by, paid_at, dirty, created_at, updated_at
        FROM salary_payments WHERE id = ?
    `

	var p models.SalaryPayment
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.EmployeeID, &p.EmployeeName, &p.PaymentMonth, &p.Amount,
		&p.Currency, &p.Status, &p.ProcessedBy, &p.PaidAt, &p.Dirty,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get", ContainerPayments, err)
	}
	return &p, nil
}

func (s *Store) DeletePayment(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM salary_payments WHERE id = ?`, id)
	return storageErr("delete", ContainerPayments, err)
}

// DeleteLocalPayments drops optimistic placeholder rows (negative ids) for a
// month, ahead of writing the server's authoritative batch.
func (s *Store) DeleteLocalPayments(ctx context.Context, month string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM salary_payments WHERE id < 0 AND payment_month = ?`, month)
	return storageErr("delete", ContainerPayments, err)
}

// PaymentsByMonth returns cached payments for a "2006-01" month.
func (s *Store) PaymentsByMonth(ctx context.Context, month string) ([]models.SalaryPayment, error) {
	return s.queryPayments(ctx, `WHERE payment_month = ?`, month)
}

// PaymentsByStatus returns cached payments in a given status.
func (s *Store) PaymentsByStatus(ctx context.Context, status string) ([]models.SalaryPayment, error) {
	return s.queryPayments(ctx, `WHERE status = ?`, status)
}

func (s *Store) queryPayments(ctx context.Context, where string, args ...interface{}) ([]models.SalaryPayment, error) {
	query := `
        SELECT id, employee_id, employee_name, payment_month, amount, currency, status, processed_by, paid_at, dirty, created_at, updated_at
        FROM salary_payments ` + where

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query", ContainerPayments, err)
	}
	defer rows.Close()

	var payments []models.SalaryPayment
	for rows.Next() {
		var p models.SalaryPayment
		err := rows.Scan(
			&p.ID, &p.EmployeeID, &p.EmployeeName, &p.PaymentMonth, &p.Amount,
			&p.Currency, &p.Status, &p.ProcessedBy, &p.PaidAt, &p.Dirty,
			&p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			return nil, storageErr("scan", ContainerPayments, err)
		}
		payments = append(payments, p)
	}
	if err = rows.Err(); err != nil {
		return nil, storageErr("query", ContainerPayments, err)
	}
	return payments, nil
}

// Settings

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	query := `
        INSERT INTO settings (key, value) VALUES (?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value
    `
	_, err := s.db.ExecContext(ctx, query, key, value)
	return storageErr("put", ContainerSettings, err)
}

// GetSetting returns ("", false, nil) when the key is absent.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("get", ContainerSettings, err)
	}
	return value, true, nil
}

// Container-level operations

// Clear wipes a single container.
func (s *Store) Clear(ctx context.Context, container string) error {
	if !validContainer(container) {
		return storageErr("clear", container, fmt.Errorf("unknown container"))
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+container)
	return storageErr("clear", container, err)
}

// ClearAll wipes every container; used on logout.
func (s *Store) ClearAll(ctx context.Context) error {
	for _, c := range containers {
		if err := s.Clear(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of records in a container.
func (s *Store) Count(ctx context.Context, container string) (int, error) {
	if !validContainer(container) {
		return 0, storageErr("count", container, fmt.Errorf("unknown container"))
	}
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+container).Scan(&count)
	if err != nil {
		return 0, storageErr("count", container, err)
	}
	return count, nil
}

func validContainer(name string) bool {
	for _, c := range containers {
		if c == name {
			return true
		}
	}
	return false
}

func (s *Store) Close() error {
	return s.db.Close()
}
