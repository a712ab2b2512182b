// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/befkir-pay/payment_layer/internal/app/domain/grouppay"
	"github.com/befkir-pay/payment_layer/internal/app/domain/ledger"
	"github.com/befkir-pay/payment_layer/internal/app/domain/profile"
	"github.com/befkir-pay/payment_layer/internal/app/domain/transfer"
	"github.com/befkir-pay/payment_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.ProfileStore = (*Store)(nil)
var _ storage.TransferStore = (*Store)(nil)
var _ storage.GroupPaymentStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- ProfileStore -----------------------------------------------------------

func (s *Store) UpsertProfile(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	now := time.Now().UTC()
	p.UpdatedAt = now

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO pay_profiles (key, owner, username, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (key) DO UPDATE
		SET username = EXCLUDED.username, updated_at = EXCLUDED.updated_at
		RETURNING created_at
	`, p.Key, p.Owner, p.Username, now)
	if err := row.Scan(&p.CreatedAt); err != nil {
		return profile.Profile{}, err
	}
	return p, nil
}

func (s *Store) GetProfile(ctx context.Context, key string) (profile.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, owner, username, created_at, updated_at
		FROM pay_profiles
		WHERE key = $1
	`, key)

	var p profile.Profile
	if err := row.Scan(&p.Key, &p.Owner, &p.Username, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return profile.Profile{}, fmt.Errorf("profile %s: %w", key, storage.ErrNotFound)
		}
		return profile.Profile{}, err
	}
	return p, nil
}

// --- TransferStore ----------------------------------------------------------

func (s *Store) CreateTransfer(ctx context.Context, t transfer.Transfer) (transfer.Transfer, error) {
	now := time.Now().UTC()
	if t.Timestamp.IsZero() {
		t.Timestamp = now
	}
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pay_transfers (key, transfer_id, sender, recipient, amount, remarks, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.Key, int64(t.TransferID), t.Sender, t.Recipient, int64(t.Amount), t.Remarks, string(t.Status), t.Timestamp, t.UpdatedAt)
	if err != nil {
		return transfer.Transfer{}, err
	}
	return t, nil
}

func (s *Store) UpdateTransfer(ctx context.Context, t transfer.Transfer) (transfer.Transfer, error) {
	t.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE pay_transfers
		SET status = $2, updated_at = $3
		WHERE key = $1
	`, t.Key, string(t.Status), t.UpdatedAt)
	if err != nil {
		return transfer.Transfer{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return transfer.Transfer{}, fmt.Errorf("transfer %s: %w", t.Key, storage.ErrNotFound)
	}
	return t, nil
}

func (s *Store) DeleteTransfer(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pay_transfers WHERE key = $1`, key)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("transfer %s: %w", key, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) GetTransfer(ctx context.Context, key string) (transfer.Transfer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, transfer_id, sender, recipient, amount, remarks, status, created_at, updated_at
		FROM pay_transfers
		WHERE key = $1
	`, key)
	return scanTransfer(row)
}

func (s *Store) ListTransfersBySender(ctx context.Context, sender string) ([]transfer.Transfer, error) {
	return s.listTransfers(ctx, `sender = $1`, sender)
}

func (s *Store) ListTransfersByRecipient(ctx context.Context, recipient string) ([]transfer.Transfer, error) {
	return s.listTransfers(ctx, `recipient = $1`, recipient)
}

func (s *Store) listTransfers(ctx context.Context, where string, arg any) ([]transfer.Transfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, transfer_id, sender, recipient, amount, remarks, status, created_at, updated_at
		FROM pay_transfers
		WHERE `+where+`
		ORDER BY created_at
	`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []transfer.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (transfer.Transfer, error) {
	var (
		t          transfer.Transfer
		transferID int64
		amount     int64
		status     string
	)
	if err := row.Scan(&t.Key, &transferID, &t.Sender, &t.Recipient, &amount, &t.Remarks, &status, &t.Timestamp, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return transfer.Transfer{}, fmt.Errorf("transfer: %w", storage.ErrNotFound)
		}
		return transfer.Transfer{}, err
	}
	t.TransferID = uint64(transferID)
	t.Amount = uint64(amount)
	t.Status = transfer.Status(status)
	return t, nil
}

// --- GroupPaymentStore ------------------------------------------------------

func (s *Store) CreateGroupPayment(ctx context.Context, p grouppay.Payment) (grouppay.Payment, error) {
	now := time.Now().UTC()
	if p.Timestamp.IsZero() {
		p.Timestamp = now
	}
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pay_group_payments
			(key, payment_id, creator, recipient, num_participants, amount_per_person,
			 total_amount, amount_collected, remarks, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.Key, int64(p.PaymentID), p.Creator, p.Recipient, int64(p.NumParticipants), int64(p.AmountPerPerson),
		int64(p.TotalAmount), int64(p.AmountCollected), p.Remarks, string(p.Status), p.Timestamp, p.UpdatedAt)
	if err != nil {
		return grouppay.Payment{}, err
	}
	return p, nil
}

func (s *Store) UpdateGroupPayment(ctx context.Context, p grouppay.Payment) (grouppay.Payment, error) {
	p.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE pay_group_payments
		SET amount_collected = $2, status = $3, updated_at = $4
		WHERE key = $1
	`, p.Key, int64(p.AmountCollected), string(p.Status), p.UpdatedAt)
	if err != nil {
		return grouppay.Payment{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return grouppay.Payment{}, fmt.Errorf("group payment %s: %w", p.Key, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Store) GetGroupPayment(ctx context.Context, key string) (grouppay.Payment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, payment_id, creator, recipient, num_participants, amount_per_person,
		       total_amount, amount_collected, remarks, status, created_at, updated_at
		FROM pay_group_payments
		WHERE key = $1
	`, key)
	return scanGroupPayment(row)
}

func (s *Store) ListGroupPaymentsByCreator(ctx context.Context, creator string) ([]grouppay.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, payment_id, creator, recipient, num_participants, amount_per_person,
		       total_amount, amount_collected, remarks, status, created_at, updated_at
		FROM pay_group_payments
		WHERE creator = $1
		ORDER BY created_at
	`, creator)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []grouppay.Payment
	for rows.Next() {
		p, err := scanGroupPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func scanGroupPayment(row rowScanner) (grouppay.Payment, error) {
	var p grouppay.Payment
	var paymentID, participants, perPerson, totalAmount, collected int64
	var status string
	err := row.Scan(&p.Key, &paymentID, &p.Creator, &p.Recipient, &participants, &perPerson,
		&totalAmount, &collected, &p.Remarks, &status, &p.Timestamp, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return grouppay.Payment{}, fmt.Errorf("group payment: %w", storage.ErrNotFound)
		}
		return grouppay.Payment{}, err
	}
	p.PaymentID = uint64(paymentID)
	p.NumParticipants = uint64(participants)
	p.AmountPerPerson = uint64(perPerson)
	p.TotalAmount = uint64(totalAmount)
	p.AmountCollected = uint64(collected)
	p.Status = grouppay.Status(status)
	return p, nil
}

// --- LedgerStore ------------------------------------------------------------

func (s *Store) EnsureAccount(ctx context.Context, address string) (ledger.Account, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pay_accounts (address, balance, created_at, updated_at)
		VALUES ($1, 0, $2, $2)
		ON CONFLICT (address) DO NOTHING
	`, address, now)
	if err != nil {
		return ledger.Account{}, err
	}
	return s.GetAccount(ctx, address)
}

func (s *Store) GetAccount(ctx context.Context, address string) (ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT address, balance, created_at, updated_at
		FROM pay_accounts
		WHERE address = $1
	`, address)

	var (
		acct    ledger.Account
		balance int64
	)
	if err := row.Scan(&acct.Address, &balance, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Account{}, fmt.Errorf("account %s: %w", address, storage.ErrNotFound)
		}
		return ledger.Account{}, err
	}
	acct.Balance = uint64(balance)
	return acct, nil
}

func (s *Store) Credit(ctx context.Context, m ledger.Movement) (ledger.Account, ledger.Movement, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Account{}, ledger.Movement{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		INSERT INTO pay_accounts (address, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (address) DO UPDATE
		SET balance = pay_accounts.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at
		RETURNING balance, created_at
	`, m.To, int64(m.Amount), m.CreatedAt)

	var (
		acct    ledger.Account
		balance int64
	)
	acct.Address = m.To
	acct.UpdatedAt = m.CreatedAt
	if err := row.Scan(&balance, &acct.CreatedAt); err != nil {
		return ledger.Account{}, ledger.Movement{}, err
	}
	acct.Balance = uint64(balance)

	if err := insertMovement(ctx, tx, m); err != nil {
		return ledger.Account{}, ledger.Movement{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Account{}, ledger.Movement{}, err
	}
	return acct, m, nil
}

// Move runs the debit, credit and journal insert in one transaction; the row
// lock on the source account serializes concurrent movements touching it.
func (s *Store) Move(ctx context.Context, m ledger.Movement) (ledger.Movement, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Movement{}, err
	}
	defer tx.Rollback()

	var balance int64
	row := tx.QueryRowContext(ctx, `
		SELECT balance FROM pay_accounts WHERE address = $1 FOR UPDATE
	`, m.From)
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Movement{}, fmt.Errorf("move %d from %s: %w", m.Amount, m.From, ledger.ErrInsufficientBalance)
		}
		return ledger.Movement{}, err
	}
	if uint64(balance) < m.Amount {
		return ledger.Movement{}, fmt.Errorf("move %d from %s: %w", m.Amount, m.From, ledger.ErrInsufficientBalance)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE pay_accounts SET balance = balance - $2, updated_at = $3 WHERE address = $1
	`, m.From, int64(m.Amount), m.CreatedAt); err != nil {
		return ledger.Movement{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pay_accounts (address, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (address) DO UPDATE
		SET balance = pay_accounts.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at
	`, m.To, int64(m.Amount), m.CreatedAt); err != nil {
		return ledger.Movement{}, err
	}

	if err := insertMovement(ctx, tx, m); err != nil {
		return ledger.Movement{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Movement{}, err
	}
	return m, nil
}

func insertMovement(ctx context.Context, tx *sql.Tx, m ledger.Movement) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pay_movements (id, type, from_address, to_address, amount, memo, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, string(m.Type), m.From, m.To, int64(m.Amount), m.Memo, m.CreatedAt)
	return err
}

func (s *Store) ListMovements(ctx context.Context, address string) ([]ledger.Movement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, from_address, to_address, amount, memo, created_at
		FROM pay_movements
		WHERE from_address = $1 OR to_address = $1
		ORDER BY created_at
	`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ledger.Movement
	for rows.Next() {
		var (
			m      ledger.Movement
			mtype  string
			amount int64
		)
		if err := rows.Scan(&m.ID, &mtype, &m.From, &m.To, &amount, &m.Memo, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Type = ledger.MovementType(mtype)
		m.Amount = uint64(amount)
		result = append(result, m)
	}
	return result, rows.Err()
}
