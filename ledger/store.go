/*
store.go - Persistence contracts for accounts and ledger entries

PURPOSE:
  Defines the interface between the engine and the database. Two narrow
  primitives are all the Processor depends on: an atomic read-modify-write
  on the account value, and an insert-only append on the entry log. Any
  datastore offering both can back the engine (a relational database, a
  document store with transactions, or a mutex-guarded in-memory map).

APPEND-ONLY CONTRACT:
  EntryStore exposes no Update and no Delete. Corrections are new
  offsetting entries.

ATOMIC UNIT OF WORK:
  TxStore.WithTx scopes the account read + account write + entry append
  into one commit. The scope is strictly the account row and the new
  entry: no lock is ever held across a call to another service.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory (tests, dev)
  - store/sqlite/sqlite.go: SQLite (production)

SEE ALSO:
  - processor.go: Sole consumer of the write path
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCOUNT STORE
// =============================================================================

// AccountStore holds the current value of each tracked quantity.
type AccountStore interface {
	// GetAccount resolves an account or returns ErrAccountNotFound.
	GetAccount(ctx context.Context, id AccountID) (Account, error)

	// CreateAccount persists a new account with CurrentValue == InitialValue
	// and zero entries. Returns ErrAccountExists on an ID collision.
	CreateAccount(ctx context.Context, acct Account) error

	// ListAccounts returns every account. Used by reconciliation sweeps.
	ListAccounts(ctx context.Context) ([]Account, error)

	// CompareAndSwapValue sets the account's CurrentValue to next iff it
	// still equals expected. Returns ErrConcurrentModification if another
	// writer got there first, ErrAccountNotFound if the account vanished.
	CompareAndSwapValue(ctx context.Context, id AccountID, expected, next decimal.Decimal) error
}

// =============================================================================
// ENTRY STORE - Append-only. No Update, No Delete. Ever.
// =============================================================================

// EntryStore is the append-only collection of ledger entries.
type EntryStore interface {
	// AppendEntry persists an entry. Returns ErrDuplicateIdempotencyKey if
	// the entry carries a key that already exists. This is the ONLY write.
	AppendEntry(ctx context.Context, entry Entry) error

	// Entries returns an account's entries in the requested stable order.
	Entries(ctx context.Context, id AccountID, opts ListOptions) ([]Entry, error)

	// EntryByIdempotencyKey returns the entry previously committed under
	// key, or nil if the key has never been used.
	EntryByIdempotencyKey(ctx context.Context, key string) (*Entry, error)
}

// =============================================================================
// COMBINED / TRANSACTIONAL STORES
// =============================================================================

// Store combines the two primitives the Processor depends on.
type Store interface {
	AccountStore
	EntryStore
}

// TxStore wraps Store with an atomic unit of work.
//
// WithTx executes fn against a transactional view of the store. If fn
// returns an error the unit is rolled back and no partial state is
// observable to any other reader; if it returns nil the unit commits.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
