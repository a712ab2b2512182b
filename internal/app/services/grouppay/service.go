// Package grouppay implements the pooled payment state machine: a creator
// opens a payment with a fixed participant count and per-person amount, and
// the contribution that meets the target triggers the payout in the same
// operation.
package grouppay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/befkir-pay/payment_layer/internal/app/domain/grouppay"
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
	// ErrZeroParticipants is returned when the participant count is zero.
	ErrZeroParticipants = errors.New("participant count must be positive")
	// ErrZeroAmount is returned when the per-person amount is zero.
	ErrZeroAmount = errors.New("amount per person must be positive")
	// ErrAmountOverflow is returned when participants times per-person amount
	// does not fit in 64 bits.
	ErrAmountOverflow = errors.New("total amount overflows")
	// ErrWrongContribution is returned when a contribution differs from the
	// per-person amount; partial and over-payments are rejected.
	ErrWrongContribution = errors.New("contribution must equal the per-person amount")
	// ErrGroupPaymentCompleted is returned for contributions to a payment
	// that has already paid out.
	ErrGroupPaymentCompleted = errors.New("group payment already completed")
	// ErrPaymentExists is returned when the (creator, id) pair is already in
	// use.
	ErrPaymentExists = errors.New("payment id already used")
	// ErrEscrowAddress is returned when a party address equals the record's
	// own escrow address. Only the engine moves funds through that account.
	ErrEscrowAddress = errors.New("party address matches the escrow address")
)

// Service manages pooled group payments.
type Service struct {
	// mu serializes contributions, so of two racing to cross the completion
	// threshold only one performs the payout.
	mu       sync.Mutex
	store    storage.GroupPaymentStore
	ledger   *ledgersvc.Service
	notifier events.Notifier
	log      *logger.Logger
}

// New constructs a group payment service.
func New(store storage.GroupPaymentStore, ledger *ledgersvc.Service, notifier events.Notifier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("grouppay")
	}
	if notifier == nil {
		notifier = events.NoopNotifier{}
	}
	return &Service{store: store, ledger: ledger, notifier: notifier, log: log}
}

// Create opens a group payment. No funds move at creation.
func (s *Service) Create(ctx context.Context, creator, recipient string, numParticipants, amountPerPerson uint64, remarks string, paymentID uint64) (grouppay.Payment, error) {
	creator = strings.TrimSpace(creator)
	recipient = strings.TrimSpace(recipient)
	if creator == "" || recipient == "" {
		return grouppay.Payment{}, fmt.Errorf("%w: creator and recipient", validate.ErrRequired)
	}
	if validate.CodeUnitLen(remarks) > validate.MaxRemarksLen {
		metrics.OperationRejected(string(events.GroupPaymentCreated), "remarks_too_long")
		return grouppay.Payment{}, ErrRemarksTooLong
	}
	if numParticipants == 0 {
		metrics.OperationRejected(string(events.GroupPaymentCreated), "zero_participants")
		return grouppay.Payment{}, ErrZeroParticipants
	}
	if amountPerPerson == 0 {
		metrics.OperationRejected(string(events.GroupPaymentCreated), "zero_amount")
		return grouppay.Payment{}, ErrZeroAmount
	}
	if numParticipants > math.MaxUint64/amountPerPerson {
		metrics.OperationRejected(string(events.GroupPaymentCreated), "amount_overflow")
		return grouppay.Payment{}, ErrAmountOverflow
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := keys.GroupPayment(creator, paymentID)
	if creator == key || recipient == key {
		metrics.OperationRejected(string(events.GroupPaymentCreated), "escrow_address")
		return grouppay.Payment{}, ErrEscrowAddress
	}
	if _, err := s.store.GetGroupPayment(ctx, key); err == nil {
		return grouppay.Payment{}, ErrPaymentExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return grouppay.Payment{}, err
	}

	created, err := s.store.CreateGroupPayment(ctx, grouppay.Payment{
		Key:             key,
		PaymentID:       paymentID,
		Creator:         creator,
		Recipient:       recipient,
		NumParticipants: numParticipants,
		AmountPerPerson: amountPerPerson,
		TotalAmount:     numParticipants * amountPerPerson,
		Remarks:         remarks,
		Status:          grouppay.StatusOpen,
		Timestamp:       time.Now().UTC(),
	})
	if err != nil {
		return grouppay.Payment{}, err
	}

	s.notifier.Log(events.Event{
		Type:         events.GroupPaymentCreated,
		Actor:        creator,
		Counterparty: recipient,
		RecordKey:    key,
		Amount:       created.TotalAmount,
	})
	metrics.OperationAccepted(string(events.GroupPaymentCreated))
	s.log.WithField("payment", key).
		WithField("creator", creator).
		WithField("participants", numParticipants).
		WithField("per_person", amountPerPerson).
		Info("group payment created")
	return created, nil
}

// Contribute moves one per-person share from the contributor into the
// payment's escrow. The contribution that meets the target completes the
// payment and pays the recipient within the same call; there is no separate
// completion command.
func (s *Service) Contribute(ctx context.Context, contributor, creator string, paymentID uint64, amount uint64) (grouppay.Payment, error) {
	contributor = strings.TrimSpace(contributor)
	if contributor == "" {
		return grouppay.Payment{}, fmt.Errorf("%w: contributor", validate.ErrRequired)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := keys.GroupPayment(creator, paymentID)
	if contributor == key {
		metrics.OperationRejected(string(events.GroupPaymentContributed), "escrow_address")
		return grouppay.Payment{}, ErrEscrowAddress
	}
	rec, err := s.store.GetGroupPayment(ctx, key)
	if err != nil {
		return grouppay.Payment{}, err
	}
	if rec.Status != grouppay.StatusOpen {
		metrics.OperationRejected(string(events.GroupPaymentContributed), "completed")
		return grouppay.Payment{}, ErrGroupPaymentCompleted
	}
	if amount != rec.AmountPerPerson {
		metrics.OperationRejected(string(events.GroupPaymentContributed), "wrong_amount")
		return grouppay.Payment{}, ErrWrongContribution
	}

	if _, err := s.ledger.Move(ctx, contributor, key, amount, "group payment contribution"); err != nil {
		metrics.OperationRejected(string(events.GroupPaymentContributed), "insufficient_balance")
		return grouppay.Payment{}, err
	}

	rec.AmountCollected += amount
	updated, err := s.store.UpdateGroupPayment(ctx, rec)
	if err != nil {
		// The share is already escrowed but not counted; move it back so
		// the escrow balance stays equal to AmountCollected.
		if _, revErr := s.ledger.Move(ctx, key, contributor, amount, "contribution reversal"); revErr != nil {
			s.log.WithError(revErr).WithField("payment", key).Error("reversal of unrecorded contribution failed")
		}
		return grouppay.Payment{}, err
	}

	s.notifier.Log(events.Event{
		Type:         events.GroupPaymentContributed,
		Actor:        contributor,
		Counterparty: rec.Recipient,
		RecordKey:    key,
		Amount:       amount,
	})
	metrics.OperationAccepted(string(events.GroupPaymentContributed))
	s.log.WithField("payment", key).
		WithField("contributor", contributor).
		WithField("collected", updated.AmountCollected).
		Info("contribution accepted")

	if updated.AmountCollected < updated.TotalAmount {
		return updated, nil
	}
	return s.completeLocked(ctx, updated)
}

// completeLocked pays out a fully funded payment. The status flips before
// the payout moves so no contribution can slip in between threshold and
// completion.
func (s *Service) completeLocked(ctx context.Context, rec grouppay.Payment) (grouppay.Payment, error) {
	rec.Status = grouppay.StatusCompleted
	updated, err := s.store.UpdateGroupPayment(ctx, rec)
	if err != nil {
		return grouppay.Payment{}, err
	}

	if _, err := s.ledger.Move(ctx, rec.Key, rec.Recipient, rec.AmountCollected, "group payment payout"); err != nil {
		// The escrow account holds exactly AmountCollected, so this only
		// fails on store errors; reopen so the funds stay claimable.
		rec.Status = grouppay.StatusOpen
		if _, restoreErr := s.store.UpdateGroupPayment(ctx, rec); restoreErr != nil {
			s.log.WithError(restoreErr).WithField("payment", rec.Key).Error("reopen of failed payout failed")
		}
		return grouppay.Payment{}, fmt.Errorf("group payment payout: %w", err)
	}

	s.notifier.Log(events.Event{
		Type:         events.GroupPaymentCompleted,
		Actor:        rec.Creator,
		Counterparty: rec.Recipient,
		RecordKey:    rec.Key,
		Amount:       rec.AmountCollected,
	})
	metrics.OperationAccepted(string(events.GroupPaymentCompleted))
	s.log.WithField("payment", rec.Key).
		WithField("recipient", rec.Recipient).
		WithField("amount", rec.AmountCollected).
		Info("group payment completed")
	return updated, nil
}

// Get returns the payment created by creator under paymentID.
func (s *Service) Get(ctx context.Context, creator string, paymentID uint64) (grouppay.Payment, error) {
	return s.store.GetGroupPayment(ctx, keys.GroupPayment(creator, paymentID))
}

// ListByCreator lists payments opened by creator.
func (s *Service) ListByCreator(ctx context.Context, creator string) ([]grouppay.Payment, error) {
	return s.store.ListGroupPaymentsByCreator(ctx, creator)
}
