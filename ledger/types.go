/*
Package ledger provides the core balance-mutation engine.

PURPOSE:
  This package contains the domain-agnostic types and algorithms for
  managing a ledgered balance. Whether tracking a student's outstanding
  fee balance or a storeroom's chalk-box count, the same engine handles
  the mutation, the immutable history entry, and the consistency check.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: A tracked quantity (fee balance or stock level)
  - Entry: An immutable ledger record of one applied delta
  - Actor: Who or what caused a mutation
  - Kind: Which validation rules apply (fees may go negative, stock may not)

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified, only offset by new entries
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Single writer path: CurrentValue changes only through the Processor
  4. Auditability: Every entry carries actor, note, and resulting value

SEE ALSO:
  - processor.go: The only write path for account values
  - projector.go: Rebuilds balances from history for drift detection
  - store.go: Persistence contracts
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type EntryID string

// =============================================================================
// ACCOUNT - A tracked quantity with an immutable starting value
// =============================================================================

// Kind determines which validation rules apply to an account's value.
type Kind string

const (
	// KindFeeBalance tracks a student's outstanding school fees.
	// May go negative: a negative balance represents a credit.
	KindFeeBalance Kind = "fee_balance"

	// KindInventoryQuantity tracks stock of a consumable resource.
	// Never goes below zero.
	KindInventoryQuantity Kind = "inventory_quantity"
)

// Valid reports whether k is a known account kind.
func (k Kind) Valid() bool {
	return k == KindFeeBalance || k == KindInventoryQuantity
}

// AllowsNegative reports whether this kind's value may drop below zero.
func (k Kind) AllowsNegative() bool {
	return k == KindFeeBalance
}

// Account holds the current value of a tracked quantity.
//
// INVARIANT:
//   CurrentValue == InitialValue + sum of all entry deltas for this account.
// Enforced by construction: every mutation of CurrentValue is paired, in the
// same atomic commit, with exactly one new Entry carrying the same delta.
type Account struct {
	ID           AccountID
	Kind         Kind
	CurrentValue decimal.Decimal
	InitialValue decimal.Decimal
	CreatedAt    time.Time
}

// =============================================================================
// ACTOR - Who caused a mutation
// =============================================================================

// Actor identifies who or what caused a mutation (a user, or "system").
type Actor struct {
	ID   string
	Name string
}

// SystemActor is used for mutations not attributable to a user.
var SystemActor = Actor{ID: "system", Name: "System"}

// =============================================================================
// ENTRY - Immutable record of one applied delta
// =============================================================================

// Entry is one immutable ledger record. Once committed it is never updated
// or deleted; corrections are new offsetting entries.
type Entry struct {
	ID        EntryID
	AccountID AccountID

	// Delta is the signed quantity applied.
	// Negative = debit/consumption, positive = credit/replenishment.
	Delta decimal.Decimal

	// ResultingValue is the account's CurrentValue immediately after this
	// entry was applied. Stored redundantly so history is self-describing
	// without replaying from InitialValue.
	ResultingValue decimal.Decimal

	Actor Actor

	// Note is a free-text reason. Required for inventory usage,
	// optional for fee payments.
	Note string

	// IdempotencyKey, when set by the caller, makes a duplicate submission
	// of the same logical operation a no-op instead of a double-debit.
	IdempotencyKey string

	// CommittedAt is server-assigned at commit time.
	CommittedAt time.Time
}

// =============================================================================
// LISTING - Stable, caller-selectable entry ordering
// =============================================================================

type Order string

const (
	OrderCommittedDesc Order = "committed_desc" // newest first (default)
	OrderCommittedAsc  Order = "committed_asc"  // replay order
)

// ListOptions controls entry listing. Zero value = all entries, newest first.
type ListOptions struct {
	Order  Order
	Limit  int // 0 = no limit
	Offset int
}
