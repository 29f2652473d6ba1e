package models

import "time"

// Employee mirrors a server-owned employee record in the local cache.
// ID is the server-assigned identifier; records created while offline carry
// a negative local id until the create is confirmed and reconciled.
type Employee struct {
	ID                int64     `json:"id" yaml:"id"`
	EmployeeCode      string    `json:"employee_id" yaml:"employee_code"`
	FullName          string    `json:"full_name" yaml:"full_name"`
	Address           string    `json:"address,omitempty" yaml:"address,omitempty"`
	BankAccountNumber string    `json:"bank_account_number" yaml:"bank_account_number,omitempty"`
	BankName          string    `json:"bank_name,omitempty" yaml:"bank_name,omitempty"`
	SortCode          string    `json:"sort_code,omitempty" yaml:"sort_code,omitempty"`
	IBAN              string    `json:"iban,omitempty" yaml:"iban,omitempty"`
	Currency          string    `json:"currency" yaml:"currency"`
	Salary            float64   `json:"salary" yaml:"salary"`
	Status            string    `json:"status" yaml:"status"`
	Dirty             bool      `json:"dirty,omitempty" yaml:"-"`
	CreatedAt         time.Time `json:"created_at" yaml:"-"`
	UpdatedAt         time.Time `json:"updated_at" yaml:"-"`
}

// IsLocal reports whether the record has not yet received a server id.
func (e *Employee) IsLocal() bool {
	return e.ID < 0
}
