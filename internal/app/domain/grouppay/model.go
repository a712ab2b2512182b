// Package grouppay defines the pooled group payment record.
package grouppay

import "time"

// Status tracks the one-way lifecycle of a group payment.
type Status string

const (
	StatusOpen      Status = "open"
	StatusCompleted Status = "completed"
)

// Payment pools fixed-size contributions from several parties toward a
// single payout. Collected funds live in a ledger account addressed by Key
// until the target is met.
type Payment struct {
	Key             string
	PaymentID       uint64
	Creator         string
	Recipient       string
	NumParticipants uint64
	AmountPerPerson uint64
	TotalAmount     uint64
	AmountCollected uint64
	Remarks         string
	Status          Status
	Timestamp       time.Time
	UpdatedAt       time.Time
}

// Terminal reports whether the payment accepts further contributions.
func (p Payment) Terminal() bool { return p.Status != StatusOpen }
