/*
handlers.go - HTTP API handlers for the ledger engine

PURPOSE:
  Exposes the balance-mutation engine via REST. Handles HTTP
  request/response, JSON serialization, and delegates to the engine and
  the two domain services. The engine itself performs no presentation;
  this layer owns the translation of engine errors into HTTP responses.

ENDPOINTS:
  Engine:
    POST   /api/accounts                    Create account
    GET    /api/accounts/{id}               Get account
    GET    /api/accounts/{id}/entries       Entry history (order/limit/offset)
    GET    /api/accounts/{id}/balance       Live + projected balance
    POST   /api/accounts/{id}/apply         Apply a signed delta

  Fees:
    POST   /api/fees/accounts               Open fee account
    POST   /api/fees/accounts/{id}/payments Record payment
    POST   /api/fees/accounts/{id}/charges  Record charge
    GET    /api/fees/accounts/{id}/statement

  Inventory:
    POST   /api/inventory/items                 Register item
    POST   /api/inventory/items/{id}/usage      Record usage
    POST   /api/inventory/items/{id}/restock    Record restock
    GET    /api/inventory/items/{id}/log        Usage log

  Admin:
    POST   /api/admin/reconcile             Drift sweep over all accounts

ERROR HANDLING:
  - 400: Malformed JSON or undecodable numbers
  - 404: Unknown account
  - 409: Retry budget exhausted, duplicate account
  - 422: Business-rule rejection (zero delta, insufficient stock, missing note)
  - 500: Unexpected internal errors
  - 503: Datastore unreachable

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cypjiji-star/edusphere-ledger/fees"
	"github.com/cypjiji-star/edusphere-ledger/inventory"
	"github.com/cypjiji-star/edusphere-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     ledger.TxStore
	Processor *ledger.Processor
	Projector *ledger.Projector
	Fees      *fees.Service
	Inventory *inventory.Service
}

// NewHandler creates a handler with the given store.
func NewHandler(store ledger.TxStore) *Handler {
	return &Handler{
		Store:     store,
		Processor: ledger.NewProcessor(store),
		Projector: ledger.NewProjector(store),
		Fees:      fees.NewService(store),
		Inventory: inventory.NewService(store),
	}
}

// =============================================================================
// ENGINE HANDLERS
// =============================================================================

// CreateAccount creates a raw engine account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	kind := ledger.Kind(req.Kind)
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown account kind %q", req.Kind), nil)
		return
	}
	initial, err := decimal.NewFromString(req.InitialValue)
	if err != nil {
		writeError(w, http.StatusBadRequest, "initial_value must be a decimal string", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}

	acct := ledger.Account{
		ID:           ledger.AccountID(req.ID),
		Kind:         kind,
		CurrentValue: initial,
		InitialValue: initial,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.Store.CreateAccount(r.Context(), acct); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(acct))
}

// GetAccount returns one account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	acct, err := h.Store.GetAccount(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// ListEntries returns an account's entry history.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	entries, err := h.Processor.ListEntries(r.Context(), id, listOptions(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// GetBalance returns the live value alongside the projected value.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	acct, err := h.Store.GetAccount(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	projected, err := h.Projector.Project(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		AccountID:  string(id),
		Live:       acct.CurrentValue.String(),
		Projected:  projected.String(),
		Consistent: acct.CurrentValue.Equal(projected),
	})
}

// Apply applies a signed delta to an account.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	var req ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	delta, err := decimal.NewFromString(req.Delta)
	if err != nil {
		writeError(w, http.StatusBadRequest, "delta must be a decimal string", err)
		return
	}

	entry, err := h.Processor.Apply(r.Context(), ledger.ApplyInput{
		AccountID:      id,
		Delta:          delta,
		Actor:          toActor(req.Actor),
		Note:           req.Note,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// =============================================================================
// FEE HANDLERS
// =============================================================================

// OpenFeeAccount opens a student fee account.
func (h *Handler) OpenFeeAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenFeeAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	billed, err := decimal.NewFromString(req.Billed)
	if err != nil {
		writeError(w, http.StatusBadRequest, "billed must be a decimal string", err)
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required", nil)
		return
	}

	acct, err := h.Fees.OpenAccount(r.Context(), req.AccountID, billed)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(acct))
}

// RecordPayment records a fee payment.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a decimal string", err)
		return
	}

	entry, err := h.Fees.RecordPayment(r.Context(), fees.Payment{
		AccountID: chi.URLParam(r, "id"),
		Amount:    amount,
		Actor:     toActor(req.Actor),
		Note:      req.Note,
		Reference: req.Reference,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// RecordCharge adds a charge to a fee account.
func (h *Handler) RecordCharge(w http.ResponseWriter, r *http.Request) {
	var req RecordChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a decimal string", err)
		return
	}

	entry, err := h.Fees.RecordCharge(r.Context(), fees.Charge{
		AccountID: chi.URLParam(r, "id"),
		Amount:    amount,
		Actor:     toActor(req.Actor),
		Note:      req.Note,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// GetStatement returns a fee account with its history.
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	stmt, err := h.Fees.Statement(r.Context(), chi.URLParam(r, "id"), listOptions(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatementDTO{
		Account: toAccountDTO(stmt.Account),
		Entries: toEntryDTOs(stmt.Entries),
	})
}

// =============================================================================
// INVENTORY HANDLERS
// =============================================================================

// RegisterItem registers a consumable item.
func (h *Handler) RegisterItem(w http.ResponseWriter, r *http.Request) {
	var req RegisterItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	stock, err := decimal.NewFromString(req.OpeningStock)
	if err != nil {
		writeError(w, http.StatusBadRequest, "opening_stock must be a decimal string", err)
		return
	}
	if req.ItemID == "" {
		writeError(w, http.StatusBadRequest, "item_id is required", nil)
		return
	}

	acct, err := h.Inventory.RegisterItem(r.Context(), req.ItemID, stock)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(acct))
}

// RecordUsage records stock consumption.
func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	var req RecordUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, "quantity must be a decimal string", err)
		return
	}

	entry, err := h.Inventory.RecordUsage(r.Context(), inventory.Usage{
		ItemID:   chi.URLParam(r, "id"),
		Quantity: qty,
		Actor:    toActor(req.Actor),
		Note:     req.Note,
		Key:      req.Key,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// RecordRestock records stock replenishment.
func (h *Handler) RecordRestock(w http.ResponseWriter, r *http.Request) {
	var req RecordRestockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, "quantity must be a decimal string", err)
		return
	}

	entry, err := h.Inventory.RecordRestock(r.Context(), inventory.Restock{
		ItemID:   chi.URLParam(r, "id"),
		Quantity: qty,
		Actor:    toActor(req.Actor),
		Note:     req.Note,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// GetUsageLog returns an item's usage history.
func (h *Handler) GetUsageLog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Inventory.UsageLog(r.Context(), chi.URLParam(r, "id"), listOptions(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Reconcile sweeps every account, reprojecting each balance from history
// and reporting any divergence from the live value.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Store.ListAccounts(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}

	drifts, err := h.Projector.ReconcileAll(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := ReconcileResponse{Checked: len(accounts), Drifts: []DriftDTO{}}
	for _, d := range drifts {
		resp.Drifts = append(resp.Drifts, DriftDTO{
			AccountID: string(d.AccountID),
			Live:      d.Live.String(),
			Projected: d.Projected.String(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func listOptions(r *http.Request) ledger.ListOptions {
	opts := ledger.ListOptions{Order: ledger.OrderCommittedDesc}
	if r.URL.Query().Get("order") == "asc" {
		opts.Order = ledger.OrderCommittedAsc
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		opts.Limit = n
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && n > 0 {
		opts.Offset = n
	}
	return opts
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine errors to HTTP responses. The engine
// returns everything synchronously and never logs-and-ignores; this is
// the single place its taxonomy meets HTTP.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "account not found", Code: "account_not_found"})

	case errors.Is(err, ledger.ErrAccountExists):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "account already exists", Code: "account_exists"})

	case errors.Is(err, ledger.ErrInvalidDelta):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "delta must be non-zero", Code: "invalid_delta"})

	case errors.Is(err, ledger.ErrInsufficientQuantity):
		resp := ErrorResponse{Error: "cannot use more than what is available", Code: "insufficient_quantity"}
		var insufficient *ledger.InsufficientQuantityError
		if errors.As(err, &insufficient) {
			resp.Details = map[string]string{
				"requested": insufficient.Requested.String(),
				"available": insufficient.Available.String(),
			}
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)

	case errors.Is(err, inventory.ErrNoteRequired):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "usage note is required", Code: "note_required"})

	case errors.Is(err, fees.ErrNonPositiveAmount),
		errors.Is(err, inventory.ErrNonPositiveQuantity),
		errors.Is(err, inventory.ErrNegativeOpeningStock):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: "invalid_amount"})

	case errors.Is(err, ledger.ErrConcurrencyExhausted):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "account is contended, please retry", Code: "concurrency_exhausted"})

	case errors.Is(err, ledger.ErrStorageUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "datastore unavailable", Code: "storage_unavailable"})

	default:
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error", Details: err.Error()})
	}
}
