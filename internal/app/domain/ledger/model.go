// Package ledger defines balance accounts and the funds movement journal.
package ledger

import (
	"errors"
	"time"
)

// ErrInsufficientBalance is returned when a movement would overdraw the
// source account.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Account holds a spendable balance for an address. Escrow accounts use the
// derived record key as their address, so a record literally holds its own
// funds.
type Account struct {
	Address   string
	Balance   uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MovementType classifies a journal entry.
type MovementType string

const (
	MovementDeposit  MovementType = "deposit"
	MovementTransfer MovementType = "transfer"
)

// Movement is one journal entry of funds moving between two accounts. The
// debit and credit it describes are applied atomically.
type Movement struct {
	ID        string
	Type      MovementType
	From      string
	To        string
	Amount    uint64
	Memo      string
	CreatedAt time.Time
}
