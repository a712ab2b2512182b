// Package transfer defines the escrowed single-recipient transfer record.
package transfer

import "time"

// Status tracks the one-way lifecycle of a transfer. A record leaves
// StatusPending exactly once and never changes again.
type Status string

const (
	StatusPending  Status = "pending"
	StatusClaimed  Status = "claimed"
	StatusRefunded Status = "refunded"
)

// Transfer is a single-sender, single-recipient escrow record. The escrowed
// funds live in a ledger account addressed by Key, not with either party.
type Transfer struct {
	Key        string
	TransferID uint64
	Sender     string
	Recipient  string
	Amount     uint64
	Remarks    string
	Status     Status
	Timestamp  time.Time
	UpdatedAt  time.Time
}

// Terminal reports whether the record can no longer move funds.
func (t Transfer) Terminal() bool { return t.Status != StatusPending }
