package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	app "github.com/befkir-pay/payment_layer/internal/app"
	"github.com/befkir-pay/payment_layer/internal/app/domain/ledger"
	"github.com/befkir-pay/payment_layer/internal/app/events"
	"github.com/befkir-pay/payment_layer/internal/app/metrics"
	grouppaysvc "github.com/befkir-pay/payment_layer/internal/app/services/grouppay"
	identitysvc "github.com/befkir-pay/payment_layer/internal/app/services/identity"
	ledgersvc "github.com/befkir-pay/payment_layer/internal/app/services/ledger"
	transfersvc "github.com/befkir-pay/payment_layer/internal/app/services/transfers"
	"github.com/befkir-pay/payment_layer/internal/app/storage"
	"github.com/befkir-pay/payment_layer/internal/app/validate"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	audit *auditLog
}

// newRouter builds the mux exposing the core REST API.
func newRouter(application *app.Application, audit *auditLog) *mux.Router {
	h := &handler{app: application, audit: audit}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	r.HandleFunc("/wallets/{address}", h.getWallet).Methods(http.MethodGet)
	r.HandleFunc("/wallets/{address}/deposit", h.deposit).Methods(http.MethodPost)
	r.HandleFunc("/wallets/{address}/movements", h.listMovements).Methods(http.MethodGet)

	r.HandleFunc("/profiles/{owner}", h.registerProfile).Methods(http.MethodPut)
	r.HandleFunc("/profiles/{owner}", h.getProfile).Methods(http.MethodGet)

	r.HandleFunc("/transfers", h.sendTransfer).Methods(http.MethodPost)
	r.HandleFunc("/transfers", h.listTransfers).Methods(http.MethodGet)
	r.HandleFunc("/transfers/{sender}/{id}", h.getTransfer).Methods(http.MethodGet)
	r.HandleFunc("/transfers/{sender}/{id}/claim", h.claimTransfer).Methods(http.MethodPost)
	r.HandleFunc("/transfers/{sender}/{id}/refund", h.refundTransfer).Methods(http.MethodPost)

	r.HandleFunc("/group-payments", h.createGroupPayment).Methods(http.MethodPost)
	r.HandleFunc("/group-payments", h.listGroupPayments).Methods(http.MethodGet)
	r.HandleFunc("/group-payments/{creator}/{id}", h.getGroupPayment).Methods(http.MethodGet)
	r.HandleFunc("/group-payments/{creator}/{id}/contributions", h.contribute).Methods(http.MethodPost)

	r.HandleFunc("/events", h.listEvents).Methods(http.MethodGet)
	r.HandleFunc("/audit", h.listAudit).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) getWallet(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	acct, err := h.app.Ledger.Account(r.Context(), address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Unknown wallets read as empty rather than missing.
			writeJSON(w, http.StatusOK, ledger.Account{Address: address})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *handler) deposit(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	var payload struct {
		Amount uint64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	acct, movement, err := h.app.Ledger.Deposit(r.Context(), address, payload.Amount)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Account  ledger.Account  `json:"account"`
		Movement ledger.Movement `json:"movement"`
	}{Account: acct, Movement: movement})
}

func (h *handler) listMovements(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	movements, err := h.app.Ledger.Movements(r.Context(), address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, movements)
}

func (h *handler) registerProfile(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	var payload struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	prof, err := h.app.Identity.Register(r.Context(), owner, payload.Username)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

func (h *handler) getProfile(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	prof, err := h.app.Identity.Get(r.Context(), owner)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

func (h *handler) sendTransfer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Sender     string `json:"sender"`
		Recipient  string `json:"recipient"`
		Amount     uint64 `json:"amount"`
		Remarks    string `json:"remarks"`
		TransferID uint64 `json:"transfer_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.app.Transfers.Send(r.Context(), payload.Sender, payload.Recipient, payload.Amount, payload.Remarks, payload.TransferID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *handler) listTransfers(w http.ResponseWriter, r *http.Request) {
	if sender := r.URL.Query().Get("sender"); sender != "" {
		recs, err := h.app.Transfers.ListBySender(r.Context(), sender)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, recs)
		return
	}
	if recipient := r.URL.Query().Get("recipient"); recipient != "" {
		recs, err := h.app.Transfers.ListByRecipient(r.Context(), recipient)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, recs)
		return
	}
	writeError(w, http.StatusBadRequest, errors.New("sender or recipient query parameter is required"))
}

func (h *handler) getTransfer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := parseID(vars["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.app.Transfers.Get(r.Context(), vars["sender"], id)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) claimTransfer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := parseID(vars["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		Caller string `json:"caller"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.app.Transfers.Claim(r.Context(), payload.Caller, vars["sender"], id)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) refundTransfer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := parseID(vars["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		Caller string `json:"caller"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Caller != vars["sender"] {
		writeError(w, http.StatusForbidden, transfersvc.ErrUnauthorized)
		return
	}
	rec, err := h.app.Transfers.Refund(r.Context(), payload.Caller, id)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) createGroupPayment(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Creator         string `json:"creator"`
		Recipient       string `json:"recipient"`
		NumParticipants uint64 `json:"num_participants"`
		AmountPerPerson uint64 `json:"amount_per_person"`
		Remarks         string `json:"remarks"`
		PaymentID       uint64 `json:"payment_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.app.GroupPayments.Create(r.Context(), payload.Creator, payload.Recipient, payload.NumParticipants, payload.AmountPerPerson, payload.Remarks, payload.PaymentID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *handler) listGroupPayments(w http.ResponseWriter, r *http.Request) {
	creator := r.URL.Query().Get("creator")
	if creator == "" {
		writeError(w, http.StatusBadRequest, errors.New("creator query parameter is required"))
		return
	}
	recs, err := h.app.GroupPayments.ListByCreator(r.Context(), creator)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handler) getGroupPayment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := parseID(vars["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.app.GroupPayments.Get(r.Context(), vars["creator"], id)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) contribute(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := parseID(vars["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		Contributor string `json:"contributor"`
		Amount      uint64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.app.GroupPayments.Contribute(r.Context(), payload.Contributor, vars["creator"], id, payload.Amount)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) listEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	var out []events.Event
	switch {
	case r.URL.Query().Get("type") != "":
		out = h.app.Events.RecentByType(events.Type(r.URL.Query().Get("type")), limit)
	case r.URL.Query().Get("actor") != "":
		out = h.app.Events.RecentByActor(r.URL.Query().Get("actor"), limit)
	default:
		out = h.app.Events.Recent(limit)
	}
	if out == nil {
		out = []events.Event{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

func parseID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.New("id must be an unsigned integer")
	}
	return id, nil
}

// statusForError maps service errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, transfersvc.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, transfersvc.ErrInvalidTransferState),
		errors.Is(err, transfersvc.ErrTransferExists),
		errors.Is(err, grouppaysvc.ErrPaymentExists),
		errors.Is(err, grouppaysvc.ErrGroupPaymentCompleted):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, validate.ErrRequired),
		errors.Is(err, identitysvc.ErrUsernameTooLong),
		errors.Is(err, transfersvc.ErrRemarksTooLong),
		errors.Is(err, transfersvc.ErrZeroAmount),
		errors.Is(err, transfersvc.ErrEscrowAddress),
		errors.Is(err, grouppaysvc.ErrRemarksTooLong),
		errors.Is(err, grouppaysvc.ErrZeroParticipants),
		errors.Is(err, grouppaysvc.ErrZeroAmount),
		errors.Is(err, grouppaysvc.ErrAmountOverflow),
		errors.Is(err, grouppaysvc.ErrWrongContribution),
		errors.Is(err, grouppaysvc.ErrEscrowAddress),
		errors.Is(err, ledgersvc.ErrZeroAmount),
		errors.Is(err, ledgersvc.ErrSelfMove):
		return http.StatusBadRequest
	default:
		// Unclassified errors come from the stores, not the caller.
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
