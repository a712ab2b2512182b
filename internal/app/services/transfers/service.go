// Package transfers implements the single-recipient escrow state machine:
// send places funds in escrow, claim releases them to the recipient, refund
// returns them to the sender. A transfer leaves Pending exactly once.
package transfers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/befkir-pay/payment_layer/internal/app/domain/transfer"
	"github.com/befkir-pay/payment_layer/internal/app/events"
	"github.com/befkir-pay/payment_layer/internal/app/keys"
	"github.com/befkir-pay/payment_layer/internal/app/metrics"
	ledgersvc "github.com/befkir-pay/payment_layer/internal/app/services/ledger"
	"github.com/befkir-pay/payment_layer/internal/app/storage"
	"github.com/befkir-pay/payment_layer/internal/app/validate"
	"github.com/befkir-pay/payment_layer/pkg/logger"
)

var (
	// ErrRemarksTooLong is returned when remarks exceed the program limit.
	ErrRemarksTooLong = errors.New("remarks too long")
	// ErrZeroAmount is returned for transfers of zero units.
	ErrZeroAmount = errors.New("transfer amount must be positive")
	// ErrUnauthorized is returned when the caller is not the party entitled
	// to act on the transfer.
	ErrUnauthorized = errors.New("caller is not authorized for this transfer")
	// ErrInvalidTransferState is returned when the transfer has already been
	// claimed or refunded.
	ErrInvalidTransferState = errors.New("transfer is not pending")
	// ErrTransferExists is returned when the (sender, id) pair is already in
	// use; record addresses are collision-free per pair.
	ErrTransferExists = errors.New("transfer id already used")
	// ErrEscrowAddress is returned when a party address equals the record's
	// own escrow address. Only the engine moves funds through that account.
	ErrEscrowAddress = errors.New("party address matches the escrow address")
)

// Service manages escrowed transfers.
type Service struct {
	// mu serializes every command that mutates a transfer, so of two racing
	// claim/refund attempts only the first observes Pending.
	mu       sync.Mutex
	store    storage.TransferStore
	ledger   *ledgersvc.Service
	notifier events.Notifier
	log      *logger.Logger
}

// New constructs a transfer service.
func New(store storage.TransferStore, ledger *ledgersvc.Service, notifier events.Notifier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("transfers")
	}
	if notifier == nil {
		notifier = events.NoopNotifier{}
	}
	return &Service{store: store, ledger: ledger, notifier: notifier, log: log}
}

// Send creates a Pending transfer and moves amount from sender into the
// record's escrow account. On any failure no record survives.
func (s *Service) Send(ctx context.Context, sender, recipient string, amount uint64, remarks string, transferID uint64) (transfer.Transfer, error) {
	sender = strings.TrimSpace(sender)
	recipient = strings.TrimSpace(recipient)
	if sender == "" || recipient == "" {
		return transfer.Transfer{}, fmt.Errorf("%w: sender and recipient", validate.ErrRequired)
	}
	if validate.CodeUnitLen(remarks) > validate.MaxRemarksLen {
		metrics.OperationRejected(string(events.TransferInitiated), "remarks_too_long")
		return transfer.Transfer{}, ErrRemarksTooLong
	}
	if amount == 0 {
		metrics.OperationRejected(string(events.TransferInitiated), "zero_amount")
		return transfer.Transfer{}, ErrZeroAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := keys.Transfer(sender, transferID)
	if sender == key || recipient == key {
		metrics.OperationRejected(string(events.TransferInitiated), "escrow_address")
		return transfer.Transfer{}, ErrEscrowAddress
	}
	if _, err := s.store.GetTransfer(ctx, key); err == nil {
		return transfer.Transfer{}, ErrTransferExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return transfer.Transfer{}, err
	}

	created, err := s.store.CreateTransfer(ctx, transfer.Transfer{
		Key:        key,
		TransferID: transferID,
		Sender:     sender,
		Recipient:  recipient,
		Amount:     amount,
		Remarks:    remarks,
		Status:     transfer.StatusPending,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		return transfer.Transfer{}, err
	}

	// The record is written first; if escrowing the funds fails the record
	// is removed so no partial state survives.
	if _, err := s.ledger.Move(ctx, sender, key, amount, "transfer escrow"); err != nil {
		if delErr := s.store.DeleteTransfer(ctx, key); delErr != nil {
			s.log.WithError(delErr).WithField("transfer", key).Error("rollback of unfunded transfer failed")
		}
		metrics.OperationRejected(string(events.TransferInitiated), "insufficient_balance")
		return transfer.Transfer{}, err
	}

	s.notifier.Log(events.Event{
		Type:         events.TransferInitiated,
		Actor:        sender,
		Counterparty: recipient,
		RecordKey:    key,
		Amount:       amount,
	})
	metrics.OperationAccepted(string(events.TransferInitiated))
	s.log.WithField("transfer", key).
		WithField("sender", sender).
		WithField("recipient", recipient).
		WithField("amount", amount).
		Info("transfer initiated")
	return created, nil
}

// Claim releases an escrowed transfer to its recipient. The caller supplies
// the sender address to re-derive the record key.
func (s *Service) Claim(ctx context.Context, caller, sender string, transferID uint64) (transfer.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := keys.Transfer(sender, transferID)
	rec, err := s.store.GetTransfer(ctx, key)
	if err != nil {
		return transfer.Transfer{}, err
	}
	if rec.TransferID != transferID {
		return transfer.Transfer{}, fmt.Errorf("transfer %s: stored id %d does not match requested %d", key, rec.TransferID, transferID)
	}
	if rec.Recipient != caller {
		metrics.OperationRejected(string(events.TransferClaimed), "unauthorized")
		return transfer.Transfer{}, ErrUnauthorized
	}
	if rec.Status != transfer.StatusPending {
		metrics.OperationRejected(string(events.TransferClaimed), "not_pending")
		return transfer.Transfer{}, ErrInvalidTransferState
	}

	// The status flips before the funds move so no caller can observe a
	// Pending record whose escrow has already been paid out.
	rec.Status = transfer.StatusClaimed
	updated, err := s.store.UpdateTransfer(ctx, rec)
	if err != nil {
		return transfer.Transfer{}, err
	}

	if _, err := s.ledger.Move(ctx, key, caller, rec.Amount, "transfer claim"); err != nil {
		rec.Status = transfer.StatusPending
		if _, restoreErr := s.store.UpdateTransfer(ctx, rec); restoreErr != nil {
			s.log.WithError(restoreErr).WithField("transfer", key).Error("restore of failed claim failed")
		}
		return transfer.Transfer{}, fmt.Errorf("claim payout: %w", err)
	}

	s.notifier.Log(events.Event{
		Type:         events.TransferClaimed,
		Actor:        caller,
		Counterparty: rec.Sender,
		RecordKey:    key,
		Amount:       rec.Amount,
	})
	metrics.OperationAccepted(string(events.TransferClaimed))
	s.log.WithField("transfer", key).WithField("recipient", caller).Info("transfer claimed")
	return updated, nil
}

// Refund returns an escrowed transfer to its sender. The record key derives
// from the caller, since only the original sender can refund.
func (s *Service) Refund(ctx context.Context, caller string, transferID uint64) (transfer.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := keys.Transfer(caller, transferID)
	rec, err := s.store.GetTransfer(ctx, key)
	if err != nil {
		return transfer.Transfer{}, err
	}
	if rec.TransferID != transferID {
		return transfer.Transfer{}, fmt.Errorf("transfer %s: stored id %d does not match requested %d", key, rec.TransferID, transferID)
	}
	if rec.Sender != caller {
		metrics.OperationRejected(string(events.TransferRefunded), "unauthorized")
		return transfer.Transfer{}, ErrUnauthorized
	}
	if rec.Status != transfer.StatusPending {
		metrics.OperationRejected(string(events.TransferRefunded), "not_pending")
		return transfer.Transfer{}, ErrInvalidTransferState
	}

	rec.Status = transfer.StatusRefunded
	updated, err := s.store.UpdateTransfer(ctx, rec)
	if err != nil {
		return transfer.Transfer{}, err
	}

	if _, err := s.ledger.Move(ctx, key, caller, rec.Amount, "transfer refund"); err != nil {
		rec.Status = transfer.StatusPending
		if _, restoreErr := s.store.UpdateTransfer(ctx, rec); restoreErr != nil {
			s.log.WithError(restoreErr).WithField("transfer", key).Error("restore of failed refund failed")
		}
		return transfer.Transfer{}, fmt.Errorf("refund payout: %w", err)
	}

	s.notifier.Log(events.Event{
		Type:         events.TransferRefunded,
		Actor:        caller,
		Counterparty: rec.Recipient,
		RecordKey:    key,
		Amount:       rec.Amount,
	})
	metrics.OperationAccepted(string(events.TransferRefunded))
	s.log.WithField("transfer", key).WithField("sender", caller).Info("transfer refunded")
	return updated, nil
}

// Get returns the transfer created by sender under transferID.
func (s *Service) Get(ctx context.Context, sender string, transferID uint64) (transfer.Transfer, error) {
	return s.store.GetTransfer(ctx, keys.Transfer(sender, transferID))
}

// ListBySender lists transfers initiated by sender.
func (s *Service) ListBySender(ctx context.Context, sender string) ([]transfer.Transfer, error) {
	return s.store.ListTransfersBySender(ctx, sender)
}

// ListByRecipient lists transfers addressed to recipient.
func (s *Service) ListByRecipient(ctx context.Context, recipient string) ([]transfer.Transfer, error) {
	return s.store.ListTransfersByRecipient(ctx, recipient)
}
