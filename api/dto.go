/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY/QUANTITY ENCODING:
  Decimal values cross the wire as strings ("1500.00"), never floats, so
  no precision is lost between the form layer and the engine.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/cypjiji-star/edusphere-ledger/ledger"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	CurrentValue string `json:"current_value"`
	InitialValue string `json:"initial_value"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// CreateAccountRequest is the request to create a raw engine account.
type CreateAccountRequest struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	InitialValue string `json:"initial_value"`
}

// ActorDTO identifies who caused a mutation.
type ActorDTO struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ApplyRequest is the request to apply a signed delta to an account.
type ApplyRequest struct {
	Delta          string   `json:"delta"`
	Actor          ActorDTO `json:"actor"`
	Note           string   `json:"note,omitempty"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
}

// EntryDTO represents one committed ledger entry.
type EntryDTO struct {
	ID             string   `json:"id"`
	AccountID      string   `json:"account_id"`
	Delta          string   `json:"delta"`
	ResultingValue string   `json:"resulting_value"`
	Actor          ActorDTO `json:"actor"`
	Note           string   `json:"note,omitempty"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
	CommittedAt    string   `json:"committed_at"`
}

// BalanceDTO pairs the live value with the value reconstructed from
// history. The two must agree; "consistent" makes the check explicit.
type BalanceDTO struct {
	AccountID  string `json:"account_id"`
	Live       string `json:"live"`
	Projected  string `json:"projected"`
	Consistent bool   `json:"consistent"`
}

// OpenFeeAccountRequest opens a student fee account.
type OpenFeeAccountRequest struct {
	AccountID string `json:"account_id"`
	Billed    string `json:"billed"`
}

// RecordPaymentRequest records a fee payment.
type RecordPaymentRequest struct {
	Amount    string   `json:"amount"`
	Actor     ActorDTO `json:"actor"`
	Note      string   `json:"note,omitempty"`
	Reference string   `json:"reference,omitempty"`
}

// RecordChargeRequest adds a charge to a fee account.
type RecordChargeRequest struct {
	Amount string   `json:"amount"`
	Actor  ActorDTO `json:"actor"`
	Note   string   `json:"note,omitempty"`
}

// StatementDTO is a fee account with its history.
type StatementDTO struct {
	Account AccountDTO `json:"account"`
	Entries []EntryDTO `json:"entries"`
}

// RegisterItemRequest registers a consumable inventory item.
type RegisterItemRequest struct {
	ItemID       string `json:"item_id"`
	OpeningStock string `json:"opening_stock"`
}

// RecordUsageRequest records stock consumption.
type RecordUsageRequest struct {
	Quantity string   `json:"quantity"`
	Actor    ActorDTO `json:"actor"`
	Note     string   `json:"note"`
	Key      string   `json:"key,omitempty"`
}

// RecordRestockRequest records stock replenishment.
type RecordRestockRequest struct {
	Quantity string   `json:"quantity"`
	Actor    ActorDTO `json:"actor"`
	Note     string   `json:"note,omitempty"`
}

// DriftDTO reports one divergent account from a reconciliation sweep.
type DriftDTO struct {
	AccountID string `json:"account_id"`
	Live      string `json:"live"`
	Projected string `json:"projected"`
}

// ReconcileResponse is the result of a full reconciliation sweep.
type ReconcileResponse struct {
	Checked int        `json:"checked"`
	Drifts  []DriftDTO `json:"drifts"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toAccountDTO(acct ledger.Account) AccountDTO {
	return AccountDTO{
		ID:           string(acct.ID),
		Kind:         string(acct.Kind),
		CurrentValue: acct.CurrentValue.String(),
		InitialValue: acct.InitialValue.String(),
		CreatedAt:    acct.CreatedAt.Format(time.RFC3339),
	}
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:             string(e.ID),
		AccountID:      string(e.AccountID),
		Delta:          e.Delta.String(),
		ResultingValue: e.ResultingValue.String(),
		Actor:          ActorDTO{ID: e.Actor.ID, Name: e.Actor.Name},
		Note:           e.Note,
		IdempotencyKey: e.IdempotencyKey,
		CommittedAt:    e.CommittedAt.Format(time.RFC3339Nano),
	}
}

func toEntryDTOs(entries []ledger.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toActor(a ActorDTO) ledger.Actor {
	if a.ID == "" {
		return ledger.SystemActor
	}
	return ledger.Actor{ID: a.ID, Name: a.Name}
}
