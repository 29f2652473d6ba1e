package models

import "time"

// SalaryPayment mirrors one monthly payment row from the server.
// PaymentMonth uses the "2006-01" form.
type SalaryPayment struct {
	ID           int64      `json:"id"`
	EmployeeID   int64      `json:"employee_id"`
	EmployeeName string     `json:"full_name,omitempty"`
	PaymentMonth string     `json:"payment_month"`
	Amount       float64    `json:"amount"`
	Currency     string     `json:"currency"`
	Status       string     `json:"status"`
	ProcessedBy  string     `json:"processed_by,omitempty"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
	Dirty        bool       `json:"dirty,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
