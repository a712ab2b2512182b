// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and serves tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/befkir-pay/payment_layer/internal/app/domain/grouppay"
	"github.com/befkir-pay/payment_layer/internal/app/domain/ledger"
	"github.com/befkir-pay/payment_layer/internal/app/domain/profile"
	"github.com/befkir-pay/payment_layer/internal/app/domain/transfer"
	"github.com/befkir-pay/payment_layer/internal/app/storage"
)

// Store keeps every record type behind a single mutex, which gives the
// per-record serialization the engines rely on for free.
type Store struct {
	mu            sync.RWMutex
	nextID        int64
	profiles      map[string]profile.Profile
	transfers     map[string]transfer.Transfer
	groupPayments map[string]grouppay.Payment
	accounts      map[string]ledger.Account
	movements     []ledger.Movement
}

var _ storage.ProfileStore = (*Store)(nil)
var _ storage.TransferStore = (*Store)(nil)
var _ storage.GroupPaymentStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:        1,
		profiles:      make(map[string]profile.Profile),
		transfers:     make(map[string]transfer.Transfer),
		groupPayments: make(map[string]grouppay.Payment),
		accounts:      make(map[string]ledger.Account),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// ProfileStore implementation -------------------------------------------------

func (s *Store) UpsertProfile(_ context.Context, p profile.Profile) (profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.profiles[p.Key]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	s.profiles[p.Key] = p
	return p, nil
}

func (s *Store) GetProfile(_ context.Context, key string) (profile.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[key]
	if !ok {
		return profile.Profile{}, fmt.Errorf("profile %s: %w", key, storage.ErrNotFound)
	}
	return p, nil
}

// TransferStore implementation ------------------------------------------------

func (s *Store) CreateTransfer(_ context.Context, t transfer.Transfer) (transfer.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transfers[t.Key]; exists {
		return transfer.Transfer{}, fmt.Errorf("transfer %s already exists", t.Key)
	}

	now := time.Now().UTC()
	if t.Timestamp.IsZero() {
		t.Timestamp = now
	}
	t.UpdatedAt = now

	s.transfers[t.Key] = t
	return t, nil
}

func (s *Store) UpdateTransfer(_ context.Context, t transfer.Transfer) (transfer.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.transfers[t.Key]
	if !ok {
		return transfer.Transfer{}, fmt.Errorf("transfer %s: %w", t.Key, storage.ErrNotFound)
	}

	t.Timestamp = original.Timestamp
	t.UpdatedAt = time.Now().UTC()

	s.transfers[t.Key] = t
	return t, nil
}

func (s *Store) DeleteTransfer(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transfers[key]; !ok {
		return fmt.Errorf("transfer %s: %w", key, storage.ErrNotFound)
	}
	delete(s.transfers, key)
	return nil
}

func (s *Store) GetTransfer(_ context.Context, key string) (transfer.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transfers[key]
	if !ok {
		return transfer.Transfer{}, fmt.Errorf("transfer %s: %w", key, storage.ErrNotFound)
	}
	return t, nil
}

func (s *Store) ListTransfersBySender(_ context.Context, sender string) ([]transfer.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []transfer.Transfer
	for _, t := range s.transfers {
		if t.Sender == sender {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *Store) ListTransfersByRecipient(_ context.Context, recipient string) ([]transfer.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []transfer.Transfer
	for _, t := range s.transfers {
		if t.Recipient == recipient {
			result = append(result, t)
		}
	}
	return result, nil
}

// GroupPaymentStore implementation --------------------------------------------

func (s *Store) CreateGroupPayment(_ context.Context, p grouppay.Payment) (grouppay.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groupPayments[p.Key]; exists {
		return grouppay.Payment{}, fmt.Errorf("group payment %s already exists", p.Key)
	}

	now := time.Now().UTC()
	if p.Timestamp.IsZero() {
		p.Timestamp = now
	}
	p.UpdatedAt = now

	s.groupPayments[p.Key] = p
	return p, nil
}

func (s *Store) UpdateGroupPayment(_ context.Context, p grouppay.Payment) (grouppay.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.groupPayments[p.Key]
	if !ok {
		return grouppay.Payment{}, fmt.Errorf("group payment %s: %w", p.Key, storage.ErrNotFound)
	}

	p.Timestamp = original.Timestamp
	p.UpdatedAt = time.Now().UTC()

	s.groupPayments[p.Key] = p
	return p, nil
}

func (s *Store) GetGroupPayment(_ context.Context, key string) (grouppay.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.groupPayments[key]
	if !ok {
		return grouppay.Payment{}, fmt.Errorf("group payment %s: %w", key, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Store) ListGroupPaymentsByCreator(_ context.Context, creator string) ([]grouppay.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []grouppay.Payment
	for _, p := range s.groupPayments {
		if p.Creator == creator {
			result = append(result, p)
		}
	}
	return result, nil
}

// LedgerStore implementation --------------------------------------------------

func (s *Store) EnsureAccount(_ context.Context, address string) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureAccountLocked(address), nil
}

func (s *Store) ensureAccountLocked(address string) ledger.Account {
	if acct, ok := s.accounts[address]; ok {
		return acct
	}
	now := time.Now().UTC()
	acct := ledger.Account{Address: address, CreatedAt: now, UpdatedAt: now}
	s.accounts[address] = acct
	return acct
}

func (s *Store) GetAccount(_ context.Context, address string) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[address]
	if !ok {
		return ledger.Account{}, fmt.Errorf("account %s: %w", address, storage.ErrNotFound)
	}
	return acct, nil
}

func (s *Store) Credit(_ context.Context, m ledger.Movement) (ledger.Account, ledger.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.ensureAccountLocked(m.To)
	acct.Balance += m.Amount
	acct.UpdatedAt = time.Now().UTC()
	s.accounts[m.To] = acct

	m = s.recordMovementLocked(m)
	return acct, m, nil
}

// Move debits m.From and credits m.To under the store lock, so no caller ever
// observes the debit without the credit.
func (s *Store) Move(_ context.Context, m ledger.Movement) (ledger.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.accounts[m.From]
	if !ok || from.Balance < m.Amount {
		return ledger.Movement{}, fmt.Errorf("move %d from %s: %w", m.Amount, m.From, ledger.ErrInsufficientBalance)
	}

	now := time.Now().UTC()

	// The debit is written back before the credit side is read, so a
	// movement whose sides name the same account nets to zero.
	from.Balance -= m.Amount
	from.UpdatedAt = now
	s.accounts[m.From] = from

	to := s.ensureAccountLocked(m.To)
	to.Balance += m.Amount
	to.UpdatedAt = now
	s.accounts[m.To] = to

	return s.recordMovementLocked(m), nil
}

func (s *Store) recordMovementLocked(m ledger.Movement) ledger.Movement {
	if m.ID == "" {
		m.ID = s.nextIDLocked()
	}
	m.CreatedAt = time.Now().UTC()
	s.movements = append(s.movements, m)
	return m
}

func (s *Store) ListMovements(_ context.Context, address string) ([]ledger.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []ledger.Movement
	for _, m := range s.movements {
		if m.From == address || m.To == address {
			result = append(result, m)
		}
	}
	return result, nil
}
