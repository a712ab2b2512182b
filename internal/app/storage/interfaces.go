// Package storage declares the persistence contracts of the payment layer.
package storage

import (
	"context"
	"errors"

	"github.com/befkir-pay/payment_layer/internal/app/domain/grouppay"
	"github.com/befkir-pay/payment_layer/internal/app/domain/ledger"
	"github.com/befkir-pay/payment_layer/internal/app/domain/profile"
	"github.com/befkir-pay/payment_layer/internal/app/domain/transfer"
)

// ErrNotFound is wrapped by store implementations when a record does not
// exist, so callers can classify lookups with errors.Is.
var ErrNotFound = errors.New("record not found")

// ProfileStore persists user profiles.
type ProfileStore interface {
	UpsertProfile(ctx context.Context, p profile.Profile) (profile.Profile, error)
	GetProfile(ctx context.Context, key string) (profile.Profile, error)
}

// TransferStore persists escrowed transfers.
type TransferStore interface {
	CreateTransfer(ctx context.Context, t transfer.Transfer) (transfer.Transfer, error)
	UpdateTransfer(ctx context.Context, t transfer.Transfer) (transfer.Transfer, error)
	DeleteTransfer(ctx context.Context, key string) error
	GetTransfer(ctx context.Context, key string) (transfer.Transfer, error)
	ListTransfersBySender(ctx context.Context, sender string) ([]transfer.Transfer, error)
	ListTransfersByRecipient(ctx context.Context, recipient string) ([]transfer.Transfer, error)
}

// GroupPaymentStore persists pooled group payments.
type GroupPaymentStore interface {
	CreateGroupPayment(ctx context.Context, p grouppay.Payment) (grouppay.Payment, error)
	UpdateGroupPayment(ctx context.Context, p grouppay.Payment) (grouppay.Payment, error)
	GetGroupPayment(ctx context.Context, key string) (grouppay.Payment, error)
	ListGroupPaymentsByCreator(ctx context.Context, creator string) ([]grouppay.Payment, error)
}

// LedgerStore persists balance accounts and the movement journal. Move must
// apply the debit, the credit and the journal entry atomically: either the
// whole movement happens or none of it does.
type LedgerStore interface {
	EnsureAccount(ctx context.Context, address string) (ledger.Account, error)
	GetAccount(ctx context.Context, address string) (ledger.Account, error)
	Credit(ctx context.Context, m ledger.Movement) (ledger.Account, ledger.Movement, error)
	Move(ctx context.Context, m ledger.Movement) (ledger.Movement, error)
	ListMovements(ctx context.Context, address string) ([]ledger.Movement, error)
}
