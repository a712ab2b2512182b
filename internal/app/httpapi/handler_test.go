package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	app "github.com/befkir-pay/payment_layer/internal/app"
	"github.com/befkir-pay/payment_layer/internal/app/domain/ledger"
	grouppaysvc "github.com/befkir-pay/payment_layer/internal/app/services/grouppay"
	transfersvc "github.com/befkir-pay/payment_layer/internal/app/services/transfers"
	"github.com/befkir-pay/payment_layer/internal/app/storage"
	"github.com/befkir-pay/payment_layer/internal/app/validate"
)

func newTestHandler(t *testing.T, opts Options) http.Handler {
	t.Helper()
	application, err := app.New(app.Stores{}, nil)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	return New(application, opts)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	handler := newTestHandler(t, Options{})

	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestDepositAndGetWallet(t *testing.T) {
	handler := newTestHandler(t, Options{})

	rec := doJSON(t, handler, http.MethodPost, "/wallets/alice/deposit", map[string]interface{}{"amount": 100})
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/wallets/alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get wallet status = %d", rec.Code)
	}
	var acct struct {
		Address string `json:"Address"`
		Balance uint64 `json:"Balance"`
	}
	decode(t, rec, &acct)
	if acct.Balance != 100 {
		t.Errorf("balance = %d, want 100", acct.Balance)
	}
}

func TestDeposit_ZeroRejected(t *testing.T) {
	handler := newTestHandler(t, Options{})

	rec := doJSON(t, handler, http.MethodPost, "/wallets/alice/deposit", map[string]interface{}{"amount": 0})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	handler := newTestHandler(t, Options{})

	rec := doJSON(t, handler, http.MethodPut, "/profiles/alice", map[string]interface{}{"username": "ali"})
	if rec.Code != http.StatusOK {
		t.Fatalf("register status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/profiles/alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var prof struct {
		Username string `json:"Username"`
	}
	decode(t, rec, &prof)
	if prof.Username != "ali" {
		t.Errorf("username = %q, want 'ali'", prof.Username)
	}

	rec = doJSON(t, handler, http.MethodGet, "/profiles/nobody", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing profile status = %d, want 404", rec.Code)
	}
}

func TestTransferFlow(t *testing.T) {
	handler := newTestHandler(t, Options{})

	if rec := doJSON(t, handler, http.MethodPost, "/wallets/alice/deposit", map[string]interface{}{"amount": 100}); rec.Code != http.StatusOK {
		t.Fatalf("deposit status = %d", rec.Code)
	}

	rec := doJSON(t, handler, http.MethodPost, "/transfers", map[string]interface{}{
		"sender":      "alice",
		"recipient":   "bob",
		"amount":      60,
		"remarks":     "rent",
		"transfer_id": 1,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/transfers/alice/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var got struct {
		Status string `json:"Status"`
	}
	decode(t, rec, &got)
	if got.Status != "pending" {
		t.Errorf("status = %q, want 'pending'", got.Status)
	}

	rec = doJSON(t, handler, http.MethodPost, "/transfers/alice/1/claim", map[string]interface{}{"caller": "bob"})
	if rec.Code != http.StatusOK {
		t.Fatalf("claim status = %d: %s", rec.Code, rec.Body.String())
	}

	// A second claim conflicts.
	rec = doJSON(t, handler, http.MethodPost, "/transfers/alice/1/claim", map[string]interface{}{"caller": "bob"})
	if rec.Code != http.StatusConflict {
		t.Errorf("second claim status = %d, want 409", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/wallets/bob", nil)
	var acct struct {
		Balance uint64 `json:"Balance"`
	}
	decode(t, rec, &acct)
	if acct.Balance != 60 {
		t.Errorf("bob balance = %d, want 60", acct.Balance)
	}
}

func TestTransfer_InsufficientBalance(t *testing.T) {
	handler := newTestHandler(t, Options{})

	rec := doJSON(t, handler, http.MethodPost, "/transfers", map[string]interface{}{
		"sender":      "alice",
		"recipient":   "bob",
		"amount":      10,
		"transfer_id": 1,
	})
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("status = %d, want 402: %s", rec.Code, rec.Body.String())
	}
}

func TestTransfer_ClaimUnauthorized(t *testing.T) {
	handler := newTestHandler(t, Options{})

	doJSON(t, handler, http.MethodPost, "/wallets/alice/deposit", map[string]interface{}{"amount": 100})
	doJSON(t, handler, http.MethodPost, "/transfers", map[string]interface{}{
		"sender": "alice", "recipient": "bob", "amount": 10, "transfer_id": 1,
	})

	rec := doJSON(t, handler, http.MethodPost, "/transfers/alice/1/claim", map[string]interface{}{"caller": "mallory"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestTransfer_RefundCallerMustMatchSender(t *testing.T) {
	handler := newTestHandler(t, Options{})

	doJSON(t, handler, http.MethodPost, "/wallets/alice/deposit", map[string]interface{}{"amount": 100})
	doJSON(t, handler, http.MethodPost, "/transfers", map[string]interface{}{
		"sender": "alice", "recipient": "bob", "amount": 10, "transfer_id": 1,
	})

	rec := doJSON(t, handler, http.MethodPost, "/transfers/alice/1/refund", map[string]interface{}{"caller": "bob"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/transfers/alice/1/refund", map[string]interface{}{"caller": "alice"})
	if rec.Code != http.StatusOK {
		t.Errorf("refund status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGroupPaymentFlow(t *testing.T) {
	handler := newTestHandler(t, Options{})

	for _, p := range []string{"p1", "p2", "p3"} {
		if rec := doJSON(t, handler, http.MethodPost, "/wallets/"+p+"/deposit", map[string]interface{}{"amount": 10}); rec.Code != http.StatusOK {
			t.Fatalf("deposit %s status = %d", p, rec.Code)
		}
	}

	rec := doJSON(t, handler, http.MethodPost, "/group-payments", map[string]interface{}{
		"creator":           "alice",
		"recipient":         "venue",
		"num_participants":  3,
		"amount_per_person": 5,
		"remarks":           "dinner",
		"payment_id":        1,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}

	var got struct {
		Status          string `json:"Status"`
		AmountCollected uint64 `json:"AmountCollected"`
	}
	for i, p := range []string{"p1", "p2"} {
		rec = doJSON(t, handler, http.MethodPost, "/group-payments/alice/1/contributions", map[string]interface{}{
			"contributor": p, "amount": 5,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("contribution %d status = %d: %s", i+1, rec.Code, rec.Body.String())
		}
		decode(t, rec, &got)
		if got.Status != "open" {
			t.Errorf("status after contribution %d = %q, want 'open'", i+1, got.Status)
		}
	}

	// Wrong amount is rejected without affecting the pool.
	rec = doJSON(t, handler, http.MethodPost, "/group-payments/alice/1/contributions", map[string]interface{}{
		"contributor": "p3", "amount": 4,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("wrong amount status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/group-payments/alice/1/contributions", map[string]interface{}{
		"contributor": "p3", "amount": 5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("final contribution status = %d: %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &got)
	if got.Status != "completed" {
		t.Errorf("status = %q, want 'completed'", got.Status)
	}
	if got.AmountCollected != 15 {
		t.Errorf("collected = %d, want 15", got.AmountCollected)
	}

	rec = doJSON(t, handler, http.MethodGet, "/wallets/venue", nil)
	var acct struct {
		Balance uint64 `json:"Balance"`
	}
	decode(t, rec, &acct)
	if acct.Balance != 15 {
		t.Errorf("venue balance = %d, want 15", acct.Balance)
	}

	// Late contribution conflicts.
	rec = doJSON(t, handler, http.MethodPost, "/group-payments/alice/1/contributions", map[string]interface{}{
		"contributor": "p1", "amount": 5,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("late contribution status = %d, want 409", rec.Code)
	}
}

func TestListEndpoints(t *testing.T) {
	handler := newTestHandler(t, Options{})

	doJSON(t, handler, http.MethodPost, "/wallets/alice/deposit", map[string]interface{}{"amount": 100})
	doJSON(t, handler, http.MethodPost, "/transfers", map[string]interface{}{
		"sender": "alice", "recipient": "bob", "amount": 10, "transfer_id": 1,
	})

	rec := doJSON(t, handler, http.MethodGet, "/transfers?sender=alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list by sender status = %d", rec.Code)
	}
	var transfers []json.RawMessage
	decode(t, rec, &transfers)
	if len(transfers) != 1 {
		t.Errorf("sender list len = %d, want 1", len(transfers))
	}

	rec = doJSON(t, handler, http.MethodGet, "/transfers", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("list without filter status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/events", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events status = %d", rec.Code)
	}
	var evts []map[string]interface{}
	decode(t, rec, &evts)
	if len(evts) != 1 {
		t.Errorf("events len = %d, want 1", len(evts))
	}

	rec = doJSON(t, handler, http.MethodGet, "/audit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit status = %d", rec.Code)
	}
	var entries []map[string]interface{}
	decode(t, rec, &entries)
	if len(entries) == 0 {
		t.Error("audit trail should record handled requests")
	}
}

func TestBearerAuth(t *testing.T) {
	handler := newTestHandler(t, Options{Tokens: []string{"secret-token"}})

	// Health is reachable without a token.
	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/profiles/alice", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/profiles/alice", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/profiles/alice", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("valid token status = %d, want 404 (no profile yet)", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	handler := newTestHandler(t, Options{})

	rec := doJSON(t, handler, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("metrics body should not be empty")
	}
}

func TestBadID(t *testing.T) {
	handler := newTestHandler(t, Options{})

	rec := doJSON(t, handler, http.MethodGet, "/transfers/alice/notanumber", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", storage.ErrNotFound, http.StatusNotFound},
		{"unauthorized", transfersvc.ErrUnauthorized, http.StatusForbidden},
		{"state conflict", transfersvc.ErrInvalidTransferState, http.StatusConflict},
		{"insufficient", ledger.ErrInsufficientBalance, http.StatusPaymentRequired},
		{"wrong contribution", grouppaysvc.ErrWrongContribution, http.StatusBadRequest},
		{"missing field", validate.ErrRequired, http.StatusBadRequest},
		{"store failure", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusForError(tc.err); got != tc.want {
			t.Errorf("%s: statusForError = %d, want %d", tc.name, got, tc.want)
		}
	}
}
