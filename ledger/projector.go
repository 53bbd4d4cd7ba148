/*
projector.go - Read-only balance reconstruction and drift detection

PURPOSE:
  Recomputes a balance by folding InitialValue with the ordered sum of all
  entry deltas. This is an invariant checker, not a write path and not the
  live read path: the account's CurrentValue is the authoritative fast-path
  value. Projection must always equal it; any divergence indicates a bug in
  the Processor's atomicity and is treated as a fatal consistency fault.

USES:
  - Periodic reconciliation sweeps (api: POST /api/admin/reconcile)
  - Test assertions

SEE ALSO:
  - processor.go: The write path whose atomicity this checks
*/
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Projector derives balances from ledger history.
type Projector struct {
	store Store
}

// NewProjector creates a Projector over the given store.
func NewProjector(store Store) *Projector {
	return &Projector{store: store}
}

// Project reconstructs an account's balance from its full history:
// InitialValue + the ordered sum of all entry deltas.
func (pr *Projector) Project(ctx context.Context, id AccountID) (decimal.Decimal, error) {
	acct, err := pr.store.GetAccount(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}

	entries, err := pr.store.Entries(ctx, id, ListOptions{Order: OrderCommittedAsc})
	if err != nil {
		return decimal.Zero, err
	}

	balance := acct.InitialValue
	for _, e := range entries {
		balance = balance.Add(e.Delta)
	}
	return balance, nil
}

// Reconcile projects an account and compares the result against the live
// CurrentValue. It also replays each entry's stored ResultingValue against
// the running fold, so a corrupted history is caught even when the final
// values happen to agree.
//
// Returns a *DriftError on any divergence.
func (pr *Projector) Reconcile(ctx context.Context, id AccountID) error {
	acct, err := pr.store.GetAccount(ctx, id)
	if err != nil {
		return err
	}

	entries, err := pr.store.Entries(ctx, id, ListOptions{Order: OrderCommittedAsc})
	if err != nil {
		return err
	}

	running := acct.InitialValue
	for _, e := range entries {
		running = running.Add(e.Delta)
		if !running.Equal(e.ResultingValue) {
			return &DriftError{AccountID: id, Live: e.ResultingValue, Projected: running}
		}
	}

	if !running.Equal(acct.CurrentValue) {
		return &DriftError{AccountID: id, Live: acct.CurrentValue, Projected: running}
	}
	return nil
}

// ReconcileAll sweeps every account and returns one DriftError per
// divergent account. An empty result means the store is consistent.
func (pr *Projector) ReconcileAll(ctx context.Context) ([]*DriftError, error) {
	accounts, err := pr.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	var drifts []*DriftError
	for _, acct := range accounts {
		err := pr.Reconcile(ctx, acct.ID)
		if err == nil {
			continue
		}
		var drift *DriftError
		if errors.As(err, &drift) {
			drifts = append(drifts, drift)
			continue
		}
		return nil, err
	}
	return drifts, nil
}
