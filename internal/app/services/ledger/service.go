// Package ledger provides the funds movement primitive the payment engines
// build on: balance accounts keyed by address, with atomic debit/credit
// between any two of them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/befkir-pay/payment_layer/internal/app/domain/ledger"
	"github.com/befkir-pay/payment_layer/internal/app/storage"
	"github.com/befkir-pay/payment_layer/internal/app/validate"
	"github.com/befkir-pay/payment_layer/pkg/logger"
)

var (
	// ErrZeroAmount is returned for deposits and movements of zero units.
	ErrZeroAmount = errors.New("amount must be positive")
	// ErrSelfMove is returned when a movement names the same account on
	// both sides. Every movement must conserve the total balance.
	ErrSelfMove = errors.New("from and to accounts must differ")
)

// Service manages balance accounts and the movement journal.
type Service struct {
	store storage.LedgerStore
	log   *logger.Logger
}

// New constructs a ledger service.
func New(store storage.LedgerStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{store: store, log: log}
}

// EnsureAccount creates the account for address if it does not exist.
func (s *Service) EnsureAccount(ctx context.Context, address string) (ledger.Account, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return ledger.Account{}, fmt.Errorf("%w: address", validate.ErrRequired)
	}
	return s.store.EnsureAccount(ctx, address)
}

// Deposit credits amount to address, creating the account if needed.
func (s *Service) Deposit(ctx context.Context, address string, amount uint64) (ledger.Account, ledger.Movement, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return ledger.Account{}, ledger.Movement{}, fmt.Errorf("%w: address", validate.ErrRequired)
	}
	if amount == 0 {
		return ledger.Account{}, ledger.Movement{}, ErrZeroAmount
	}

	acct, mov, err := s.store.Credit(ctx, ledger.Movement{
		Type:   ledger.MovementDeposit,
		To:     address,
		Amount: amount,
		Memo:   "deposit",
	})
	if err != nil {
		return ledger.Account{}, ledger.Movement{}, err
	}

	s.log.WithField("address", address).
		WithField("amount", amount).
		Info("deposit credited")
	return acct, mov, nil
}

// Balance returns the spendable balance of address. Unknown addresses hold
// zero.
func (s *Service) Balance(ctx context.Context, address string) (uint64, error) {
	acct, err := s.store.GetAccount(ctx, address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return acct.Balance, nil
}

// Account returns the account record for address.
func (s *Service) Account(ctx context.Context, address string) (ledger.Account, error) {
	return s.store.GetAccount(ctx, address)
}

// Move transfers amount from one address to another. The debit and credit
// are applied atomically; on ledger.ErrInsufficientBalance nothing moved.
func (s *Service) Move(ctx context.Context, from, to string, amount uint64, memo string) (ledger.Movement, error) {
	if amount == 0 {
		return ledger.Movement{}, ErrZeroAmount
	}
	if from == "" || to == "" {
		return ledger.Movement{}, fmt.Errorf("%w: from and to addresses", validate.ErrRequired)
	}
	if from == to {
		return ledger.Movement{}, ErrSelfMove
	}

	mov, err := s.store.Move(ctx, ledger.Movement{
		Type:   ledger.MovementTransfer,
		From:   from,
		To:     to,
		Amount: amount,
		Memo:   memo,
	})
	if err != nil {
		return ledger.Movement{}, err
	}

	s.log.WithField("from", from).
		WithField("to", to).
		WithField("amount", amount).
		Info("funds moved")
	return mov, nil
}

// Movements lists the journal entries touching address.
func (s *Service) Movements(ctx context.Context, address string) ([]ledger.Movement, error) {
	return s.store.ListMovements(ctx, address)
}
