/*
processor.go - The only writer path for account values

PURPOSE:
  Processor.Apply validates a proposed delta, computes the new value from a
  freshly-read current value, and commits the account update together with
  the new ledger entry as one atomic unit, retrying on conflicting
  concurrent commits.

ALGORITHM (per attempt):
  1. Open an atomic unit of work (TxStore.WithTx)
  2. Read CurrentValue inside that unit
  3. Validate the delta against the freshly-read value - never a cached one;
     this is the crux of correctness under concurrency
  4. Compute newValue = CurrentValue + delta
  5. Compare-and-swap the account value AND append the entry, same unit
  6. Commit. On ErrConcurrentModification the whole unit is retried from
     step 1, bounded; past the bound the caller gets ConcurrencyExhausted

ORDERING GUARANTEE:
  The CAS inside the atomic unit ensures two concurrent Apply calls can
  never both read the same CurrentValue and both commit. The committed
  entry sequence for one account is a valid linearization of all Apply
  calls against it; no delta is lost or double-applied.

FAILURE SEMANTICS:
  AccountNotFound, InvalidDelta, InsufficientQuantity and
  ConcurrencyExhausted are all synchronous and terminal. Only the internal
  optimistic-conflict path is auto-retried, invisibly to the caller.

SEE ALSO:
  - store.go: The two primitives this depends on
  - projector.go: Read-only drift detection
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// RETRY POLICY - Bounded optimistic-conflict retry
// =============================================================================

const (
	// DefaultMaxAttempts bounds the optimistic retry loop. Validation
	// failures are terminal and never consume attempts.
	DefaultMaxAttempts = 5

	// DefaultRetryBackoff is the base delay between conflicting attempts.
	// Attempt n waits n*backoff, so contention backs off linearly.
	DefaultRetryBackoff = 5 * time.Millisecond
)

// =============================================================================
// PROCESSOR
// =============================================================================

// Processor is the only component permitted to mutate an account's value.
type Processor struct {
	store TxStore

	maxAttempts int
	backoff     time.Duration

	// now and newID are injectable for tests.
	now   func() time.Time
	newID func() EntryID
}

// Option configures a Processor.
type Option func(*Processor)

// WithMaxAttempts overrides the optimistic retry budget.
func WithMaxAttempts(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithRetryBackoff overrides the base delay between conflicting attempts.
func WithRetryBackoff(d time.Duration) Option {
	return func(p *Processor) { p.backoff = d }
}

// WithClock overrides the commit-time source.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates a Processor over the given transactional store.
func NewProcessor(store TxStore, opts ...Option) *Processor {
	p := &Processor{
		store:       store,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultRetryBackoff,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       func() EntryID { return EntryID(uuid.NewString()) },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// =============================================================================
// APPLY - The single write contract
// =============================================================================

// ApplyInput describes one proposed mutation.
type ApplyInput struct {
	AccountID AccountID
	Delta     decimal.Decimal
	Actor     Actor
	Note      string

	// IdempotencyKey, when set, makes a duplicate submission of the same
	// logical operation return the original entry instead of double-applying.
	IdempotencyKey string
}

// Apply validates and atomically commits one delta against one account,
// returning the newly created entry as the receipt of the operation.
//
// Exactly one account mutation and exactly one new entry per successful
// call - never more, never fewer. A failed call leaves no trace.
func (p *Processor) Apply(ctx context.Context, in ApplyInput) (Entry, error) {
	if in.Delta.IsZero() {
		return Entry{}, fmt.Errorf("%w: zero delta has nothing to record", ErrInvalidDelta)
	}

	// Duplicate submission of the same logical event is a no-op: return the
	// receipt of the original commit.
	if in.IdempotencyKey != "" {
		existing, err := p.store.EntryByIdempotencyKey(ctx, in.IdempotencyKey)
		if err != nil {
			return Entry{}, err
		}
		if existing != nil {
			return *existing, nil
		}
	}

	var committed Entry
	for attempt := 1; ; attempt++ {
		// A canceled caller must never observe a half-applied unit. Before
		// the commit nothing has happened; after it, cancellation is moot.
		if err := ctx.Err(); err != nil {
			return Entry{}, err
		}

		err := p.store.WithTx(ctx, func(s Store) error {
			acct, err := s.GetAccount(ctx, in.AccountID)
			if err != nil {
				return err
			}

			// Validate against the freshly-read value, inside the unit.
			if !acct.Kind.AllowsNegative() {
				if acct.CurrentValue.Add(in.Delta).IsNegative() {
					return &InsufficientQuantityError{
						AccountID: acct.ID,
						Requested: in.Delta.Abs(),
						Available: acct.CurrentValue,
					}
				}
			}

			newValue := acct.CurrentValue.Add(in.Delta)
			if err := s.CompareAndSwapValue(ctx, acct.ID, acct.CurrentValue, newValue); err != nil {
				return err
			}

			committed = Entry{
				ID:             p.newID(),
				AccountID:      acct.ID,
				Delta:          in.Delta,
				ResultingValue: newValue,
				Actor:          in.Actor,
				Note:           in.Note,
				IdempotencyKey: in.IdempotencyKey,
				CommittedAt:    p.now(),
			}
			return s.AppendEntry(ctx, committed)
		})

		switch {
		case err == nil:
			return committed, nil

		case errors.Is(err, ErrConcurrentModification):
			if attempt >= p.maxAttempts {
				return Entry{}, &ConcurrencyExhaustedError{AccountID: in.AccountID, Attempts: attempt}
			}
			if waitErr := sleepCtx(ctx, time.Duration(attempt)*p.backoff); waitErr != nil {
				return Entry{}, waitErr
			}

		case errors.Is(err, ErrDuplicateIdempotencyKey) && in.IdempotencyKey != "":
			// Lost a race against a concurrent submit with the same key.
			// The other writer's commit is this operation's receipt.
			existing, lookupErr := p.store.EntryByIdempotencyKey(ctx, in.IdempotencyKey)
			if lookupErr != nil {
				return Entry{}, lookupErr
			}
			if existing != nil {
				return *existing, nil
			}
			return Entry{}, err

		default:
			return Entry{}, err
		}
	}
}

// GetAccount resolves an account for external readers.
func (p *Processor) GetAccount(ctx context.Context, id AccountID) (Account, error) {
	return p.store.GetAccount(ctx, id)
}

// ListEntries returns an account's committed entries in a stable,
// caller-selectable order. The account must exist.
func (p *Processor) ListEntries(ctx context.Context, id AccountID, opts ListOptions) ([]Entry, error) {
	if _, err := p.store.GetAccount(ctx, id); err != nil {
		return nil, err
	}
	return p.store.Entries(ctx, id, opts)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
