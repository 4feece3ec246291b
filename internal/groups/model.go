// Package groups lists the expense-splitting groups a signed-in identity
// belongs to, newest first, each with its expenses.
package groups

import (
	"errors"
	"time"
)

var (
	// ErrNotAuthenticated is returned when the device is not in the Authenticated phase.
	ErrNotAuthenticated = errors.New("device is not authenticated")
	// ErrUnavailable wraps storage failures.
	ErrUnavailable = errors.New("group store unavailable")
)

// Expense is the part of an expense the group list shows.
type Expense struct {
	ID          string `json:"id"`
	TotalAmount int64  `json:"total_amount"`
	Status      string `json:"status"`
}

// Group is one group the caller is a member of.
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	Members     int       `json:"members"`
	Expenses    []Expense `json:"expenses"`
}
