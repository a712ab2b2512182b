package transfers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	ledgerdomain "github.com/befkir-pay/payment_layer/internal/app/domain/ledger"
	"github.com/befkir-pay/payment_layer/internal/app/domain/transfer"
	"github.com/befkir-pay/payment_layer/internal/app/events"
	"github.com/befkir-pay/payment_layer/internal/app/keys"
	ledgersvc "github.com/befkir-pay/payment_layer/internal/app/services/ledger"
	"github.com/befkir-pay/payment_layer/internal/app/storage"
	"github.com/befkir-pay/payment_layer/internal/app/storage/memory"
)

type fixture struct {
	svc      *Service
	ledger   *ledgersvc.Service
	notifier *events.RingBuffer
}

func newFixture(t *testing.T, balances map[string]uint64) fixture {
	t.Helper()

	store := memory.New()
	ledgerService := ledgersvc.New(store, nil)
	notifier := events.NewRingBuffer(100)
	svc := New(store, ledgerService, notifier, nil)

	ctx := context.Background()
	for address, amount := range balances {
		if _, _, err := ledgerService.Deposit(ctx, address, amount); err != nil {
			t.Fatalf("seed deposit for %s: %v", address, err)
		}
	}
	return fixture{svc: svc, ledger: ledgerService, notifier: notifier}
}

func TestSend(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 100})
	ctx := context.Background()

	rec, err := f.svc.Send(ctx, "alice", "bob", 60, "rent", 1)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if rec.Status != transfer.StatusPending {
		t.Errorf("Status = %q, want pending", rec.Status)
	}
	if rec.Key != keys.Transfer("alice", 1) {
		t.Errorf("Key = %q, want derived transfer key", rec.Key)
	}

	// Funds sit in the record's escrow account, not with either party.
	escrow, _ := f.ledger.Balance(ctx, rec.Key)
	if escrow != 60 {
		t.Errorf("escrow balance = %d, want 60", escrow)
	}
	aliceBalance, _ := f.ledger.Balance(ctx, "alice")
	if aliceBalance != 40 {
		t.Errorf("alice balance = %d, want 40", aliceBalance)
	}
	bobBalance, _ := f.ledger.Balance(ctx, "bob")
	if bobBalance != 0 {
		t.Errorf("bob balance = %d, want 0", bobBalance)
	}

	if got := len(f.notifier.RecentByType(events.TransferInitiated, 10)); got != 1 {
		t.Errorf("initiated events = %d, want 1", got)
	}
}

func TestSend_Validation(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 100})
	ctx := context.Background()

	if _, err := f.svc.Send(ctx, "alice", "bob", 0, "", 1); !errors.Is(err, ErrZeroAmount) {
		t.Errorf("zero amount err = %v, want ErrZeroAmount", err)
	}
	if _, err := f.svc.Send(ctx, "alice", "bob", 10, strings.Repeat("r", 101), 1); !errors.Is(err, ErrRemarksTooLong) {
		t.Errorf("long remarks err = %v, want ErrRemarksTooLong", err)
	}
	if _, err := f.svc.Send(ctx, "alice", "bob", 10, strings.Repeat("r", 100), 1); err != nil {
		t.Errorf("100 code unit remarks should be accepted: %v", err)
	}
	if _, err := f.svc.Send(ctx, "", "bob", 10, "", 2); err == nil {
		t.Error("empty sender should fail")
	}
}

func TestSend_InsufficientBalanceLeavesNoRecord(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 50})
	ctx := context.Background()

	_, err := f.svc.Send(ctx, "alice", "bob", 60, "", 1)
	if !errors.Is(err, ledgerdomain.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	if _, err := f.svc.Get(ctx, "alice", 1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("record should be rolled back, got err %v", err)
	}
	aliceBalance, _ := f.ledger.Balance(ctx, "alice")
	if aliceBalance != 50 {
		t.Errorf("alice balance = %d, want 50 (unchanged)", aliceBalance)
	}
}

func TestSend_DuplicateID(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 100})
	ctx := context.Background()

	if _, err := f.svc.Send(ctx, "alice", "bob", 10, "", 1); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := f.svc.Send(ctx, "alice", "carol", 10, "", 1); !errors.Is(err, ErrTransferExists) {
		t.Errorf("duplicate id err = %v, want ErrTransferExists", err)
	}

	// The same id under a different sender is a different record.
	if _, _, err := f.ledger.Deposit(ctx, "dave", 20); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if _, err := f.svc.Send(ctx, "dave", "bob", 10, "", 1); err != nil {
		t.Errorf("same id from another sender should succeed: %v", err)
	}
}

func TestClaim(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 100})
	ctx := context.Background()

	sent, err := f.svc.Send(ctx, "alice", "bob", 60, "", 1)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	claimed, err := f.svc.Claim(ctx, "bob", "alice", 1)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimed.Status != transfer.StatusClaimed {
		t.Errorf("Status = %q, want claimed", claimed.Status)
	}

	bobBalance, _ := f.ledger.Balance(ctx, "bob")
	if bobBalance != 60 {
		t.Errorf("bob balance = %d, want 60", bobBalance)
	}
	escrow, _ := f.ledger.Balance(ctx, sent.Key)
	if escrow != 0 {
		t.Errorf("escrow balance = %d, want 0", escrow)
	}

	if got := len(f.notifier.RecentByType(events.TransferClaimed, 10)); got != 1 {
		t.Errorf("claimed events = %d, want 1", got)
	}
}

func TestClaim_Unauthorized(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 100})
	ctx := context.Background()

	if _, err := f.svc.Send(ctx, "alice", "bob", 60, "", 1); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if _, err := f.svc.Claim(ctx, "mallory", "alice", 1); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}

	// The record stays pending and the funds stay in escrow.
	rec, err := f.svc.Get(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != transfer.StatusPending {
		t.Errorf("Status = %q, want pending", rec.Status)
	}
}

func TestClaim_SecondAttemptRejected(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 100})
	ctx := context.Background()

	if _, err := f.svc.Send(ctx, "alice", "bob", 60, "", 1); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := f.svc.Claim(ctx, "bob", "alice", 1); err != nil {
		t.Fatalf("first Claim: %v", err)
	}

	if _, err := f.svc.Claim(ctx, "bob", "alice", 1); !errors.Is(err, ErrInvalidTransferState) {
		t.Errorf("second claim err = %v, want ErrInvalidTransferState", err)
	}

	// The escrow paid out exactly once.
	bobBalance, _ := f.ledger.Balance(ctx, "bob")
	if bobBalance != 60 {
		t.Errorf("bob balance = %d, want 60", bobBalance)
	}
}

func TestClaim_ThenRefundRejected(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 100})
	ctx := context.Background()

	if _, err := f.svc.Send(ctx, "alice", "bob", 60, "", 1); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := f.svc.Claim(ctx, "bob", "alice", 1); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	if _, err := f.svc.Refund(ctx, "alice", 1); !errors.Is(err, ErrInvalidTransferState) {
		t.Errorf("refund after claim err = %v, want ErrInvalidTransferState", err)
	}
}

func TestRefund(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 100})
	ctx := context.Background()

	if _, err := f.svc.Send(ctx, "alice", "bob", 60, "", 1); err != nil {
		t.Fatalf("Send: %v", err)
	}

	refunded, err := f.svc.Refund(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if refunded.Status != transfer.StatusRefunded {
		t.Errorf("Status = %q, want refunded", refunded.Status)
	}

	aliceBalance, _ := f.ledger.Balance(ctx, "alice")
	if aliceBalance != 100 {
		t.Errorf("alice balance = %d, want 100", aliceBalance)
	}

	if _, err := f.svc.Claim(ctx, "bob", "alice", 1); !errors.Is(err, ErrInvalidTransferState) {
		t.Errorf("claim after refund err = %v, want ErrInvalidTransferState", err)
	}
}

func TestRefund_OnlySenderDerivesTheRecord(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 100})
	ctx := context.Background()

	if _, err := f.svc.Send(ctx, "alice", "bob", 60, "", 1); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// A different caller derives a different key, so the record is simply
	// not there.
	if _, err := f.svc.Refund(ctx, "bob", 1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestClaim_ConcurrentSinglePayout(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 100})
	ctx := context.Background()

	if _, err := f.svc.Send(ctx, "alice", "bob", 60, "", 1); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Claim(ctx, "bob", "alice", 1)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrInvalidTransferState) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("%d claims succeeded, want exactly 1", succeeded)
	}

	bobBalance, _ := f.ledger.Balance(ctx, "bob")
	if bobBalance != 60 {
		t.Errorf("bob balance = %d, want 60 (single payout)", bobBalance)
	}
}

func TestListBySenderAndRecipient(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 100, "dave": 100})
	ctx := context.Background()

	if _, err := f.svc.Send(ctx, "alice", "bob", 10, "", 1); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := f.svc.Send(ctx, "alice", "carol", 10, "", 2); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := f.svc.Send(ctx, "dave", "bob", 10, "", 1); err != nil {
		t.Fatalf("Send: %v", err)
	}

	bySender, err := f.svc.ListBySender(ctx, "alice")
	if err != nil {
		t.Fatalf("ListBySender: %v", err)
	}
	if len(bySender) != 2 {
		t.Errorf("sender list len = %d, want 2", len(bySender))
	}

	byRecipient, err := f.svc.ListByRecipient(ctx, "bob")
	if err != nil {
		t.Fatalf("ListByRecipient: %v", err)
	}
	if len(byRecipient) != 2 {
		t.Errorf("recipient list len = %d, want 2", len(byRecipient))
	}
}

func TestSend_EscrowRecipientRejected(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 100})
	ctx := context.Background()

	key := keys.Transfer("alice", 7)
	if _, err := f.svc.Send(ctx, "alice", key, 40, "", 7); !errors.Is(err, ErrEscrowAddress) {
		t.Fatalf("escrow recipient err = %v, want ErrEscrowAddress", err)
	}
	if _, err := f.svc.Get(ctx, "alice", 7); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("no record should survive, got err = %v", err)
	}
	balance, _ := f.ledger.Balance(ctx, "alice")
	if balance != 100 {
		t.Errorf("alice balance = %d, want 100", balance)
	}
}
