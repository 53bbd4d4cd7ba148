/*
Package inventory is the consumable-stock call site of the ledger engine.

PURPOSE:
  Wraps the generic Processor with stock vocabulary: an item registers
  with an opening stock level, usage debits it, restocking credits it.
  Stock never goes below zero - the engine enforces the bound against the
  freshly-read level, so two classrooms racing for the last boxes cannot
  both succeed.

NOTE REQUIREMENT:
  Every usage entry must say what the stock was used for. The usage log
  doubles as the consumption audit trail shown to the administrator, so a
  blank reason is rejected before the engine is ever called.

SEE ALSO:
  - ledger/processor.go: The shared engine
  - fees/: The other call site, same pattern
*/
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cypjiji-star/edusphere-ledger/ledger"
)

var (
	// ErrNoteRequired is returned when usage is recorded without a reason.
	ErrNoteRequired = errors.New("usage note is required")

	// ErrNonPositiveQuantity is returned when a usage or restock quantity
	// is zero or negative. Callers supply magnitudes; the service picks
	// the sign.
	ErrNonPositiveQuantity = errors.New("quantity must be positive")

	// ErrNegativeOpeningStock is returned when registering an item with a
	// negative opening stock.
	ErrNegativeOpeningStock = errors.New("opening stock cannot be negative")
)

// Service records stock usage and replenishment for consumable items.
type Service struct {
	store ledger.TxStore
	proc  *ledger.Processor
}

// NewService creates an inventory service over the given store.
func NewService(store ledger.TxStore, opts ...ledger.Option) *Service {
	return &Service{
		store: store,
		proc:  ledger.NewProcessor(store, opts...),
	}
}

// RegisterItem creates a stock account for a consumable item.
func (s *Service) RegisterItem(ctx context.Context, itemID string, openingStock decimal.Decimal) (ledger.Account, error) {
	if openingStock.IsNegative() {
		return ledger.Account{}, fmt.Errorf("%w: got %s", ErrNegativeOpeningStock, openingStock)
	}
	acct := ledger.Account{
		ID:           ledger.AccountID(itemID),
		Kind:         ledger.KindInventoryQuantity,
		CurrentValue: openingStock,
		InitialValue: openingStock,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		return ledger.Account{}, err
	}
	return acct, nil
}

// Usage describes one consumption of stock.
type Usage struct {
	ItemID   string
	Quantity decimal.Decimal // positive magnitude
	Actor    ledger.Actor
	Note     string // required, e.g. "classroom use"

	// Key optionally deduplicates a re-submitted usage form.
	Key string
}

// RecordUsage debits the stock level. Fails with
// ledger.ErrInsufficientQuantity when the freshly-read level cannot cover
// the quantity; the failed call leaves no trace in level or log.
func (s *Service) RecordUsage(ctx context.Context, u Usage) (ledger.Entry, error) {
	if u.Note == "" {
		return ledger.Entry{}, ErrNoteRequired
	}
	if !u.Quantity.IsPositive() {
		return ledger.Entry{}, fmt.Errorf("%w: got %s", ErrNonPositiveQuantity, u.Quantity)
	}
	return s.proc.Apply(ctx, ledger.ApplyInput{
		AccountID:      ledger.AccountID(u.ItemID),
		Delta:          u.Quantity.Neg(),
		Actor:          u.Actor,
		Note:           u.Note,
		IdempotencyKey: u.Key,
	})
}

// Restock describes a replenishment of stock.
type Restock struct {
	ItemID   string
	Quantity decimal.Decimal // positive magnitude
	Actor    ledger.Actor
	Note     string // optional, e.g. supplier delivery note
}

// RecordRestock credits the stock level.
func (s *Service) RecordRestock(ctx context.Context, r Restock) (ledger.Entry, error) {
	if !r.Quantity.IsPositive() {
		return ledger.Entry{}, fmt.Errorf("%w: got %s", ErrNonPositiveQuantity, r.Quantity)
	}
	return s.proc.Apply(ctx, ledger.ApplyInput{
		AccountID: ledger.AccountID(r.ItemID),
		Delta:     r.Quantity,
		Actor:     r.Actor,
		Note:      r.Note,
	})
}

// StockLevel returns the live stock level for an item.
func (s *Service) StockLevel(ctx context.Context, itemID string) (decimal.Decimal, error) {
	acct, err := s.store.GetAccount(ctx, ledger.AccountID(itemID))
	if err != nil {
		return decimal.Zero, err
	}
	return acct.CurrentValue, nil
}

// UsageLog returns an item's entries in the requested order - the usage
// and restock history behind the current level.
func (s *Service) UsageLog(ctx context.Context, itemID string, opts ledger.ListOptions) ([]ledger.Entry, error) {
	if _, err := s.store.GetAccount(ctx, ledger.AccountID(itemID)); err != nil {
		return nil, err
	}
	return s.store.Entries(ctx, ledger.AccountID(itemID), opts)
}
