package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cypjiji-star/edusphere-ledger/ledger"
	"github.com/cypjiji-star/edusphere-ledger/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func createAccount(t *testing.T, st *sqlite.Store, id string, kind ledger.Kind, value int64) {
	t.Helper()
	err := st.CreateAccount(context.Background(), ledger.Account{
		ID:           ledger.AccountID(id),
		Kind:         kind,
		CurrentValue: dec(value),
		InitialValue: dec(value),
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestStore_AccountRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	createAccount(t, st, "stu-1", ledger.KindFeeBalance, 15000)

	acct, err := st.GetAccount(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.KindFeeBalance, acct.Kind)
	assert.True(t, acct.CurrentValue.Equal(dec(15000)))
	assert.True(t, acct.InitialValue.Equal(dec(15000)))

	_, err = st.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestStore_DuplicateAccount(t *testing.T) {
	st := newStore(t)
	createAccount(t, st, "stu-1", ledger.KindFeeBalance, 100)

	err := st.CreateAccount(context.Background(), ledger.Account{
		ID:           "stu-1",
		Kind:         ledger.KindFeeBalance,
		CurrentValue: dec(0),
		InitialValue: dec(0),
		CreatedAt:    time.Now().UTC(),
	})
	assert.ErrorIs(t, err, ledger.ErrAccountExists)
}

func TestStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	createAccount(t, st, "item-1", ledger.KindInventoryQuantity, 50)

	require.NoError(t, st.CompareAndSwapValue(ctx, "item-1", dec(50), dec(38)))

	// Stale expectation: the value moved on since our read.
	err := st.CompareAndSwapValue(ctx, "item-1", dec(50), dec(20))
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)

	err = st.CompareAndSwapValue(ctx, "ghost", dec(0), dec(1))
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	acct, err := st.GetAccount(ctx, "item-1")
	require.NoError(t, err)
	assert.True(t, acct.CurrentValue.Equal(dec(38)))
}

func TestStore_EntriesOrderAndPagination(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	createAccount(t, st, "stu-1", ledger.KindFeeBalance, 1000)

	base := time.Date(2026, time.February, 10, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"e1", "e2", "e3", "e4"} {
		require.NoError(t, st.AppendEntry(ctx, ledger.Entry{
			ID:             ledger.EntryID(id),
			AccountID:      "stu-1",
			Delta:          dec(-100),
			ResultingValue: dec(1000 - int64(i+1)*100),
			Actor:          ledger.SystemActor,
			CommittedAt:    base.Add(time.Duration(i) * time.Minute),
		}))
	}

	desc, err := st.Entries(ctx, "stu-1", ledger.ListOptions{})
	require.NoError(t, err)
	require.Len(t, desc, 4)
	assert.Equal(t, ledger.EntryID("e4"), desc[0].ID, "default order is newest first")

	asc, err := st.Entries(ctx, "stu-1", ledger.ListOptions{Order: ledger.OrderCommittedAsc})
	require.NoError(t, err)
	assert.Equal(t, ledger.EntryID("e1"), asc[0].ID)

	page, err := st.Entries(ctx, "stu-1", ledger.ListOptions{
		Order: ledger.OrderCommittedAsc, Limit: 2, Offset: 1,
	})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ledger.EntryID("e2"), page[0].ID)
	assert.Equal(t, ledger.EntryID("e3"), page[1].ID)
}

func TestStore_SameTimestampPreservesInsertionOrder(t *testing.T) {
	// Two entries committed at the identical instant must still list in
	// the order they were appended (the seq column is the commit order).

	ctx := context.Background()
	st := newStore(t)
	createAccount(t, st, "stu-1", ledger.KindFeeBalance, 1000)

	at := time.Date(2026, time.February, 10, 8, 0, 0, 0, time.UTC)
	for _, id := range []string{"first", "second"} {
		require.NoError(t, st.AppendEntry(ctx, ledger.Entry{
			ID:             ledger.EntryID(id),
			AccountID:      "stu-1",
			Delta:          dec(-1),
			ResultingValue: dec(999),
			Actor:          ledger.SystemActor,
			CommittedAt:    at,
		}))
	}

	asc, err := st.Entries(ctx, "stu-1", ledger.ListOptions{Order: ledger.OrderCommittedAsc})
	require.NoError(t, err)
	require.Len(t, asc, 2)
	assert.Equal(t, ledger.EntryID("first"), asc[0].ID)
	assert.Equal(t, ledger.EntryID("second"), asc[1].ID)
}

func TestStore_SubMicrosecondCommitsListInCommitOrder(t *testing.T) {
	// GIVEN: Two commits landing 700ns apart, so the first timestamp's
	//        fractional second is a prefix of the second's once trailing
	//        zeros are trimmed
	// THEN: Listing still follows commit order and reconciliation is clean

	ctx := context.Background()
	st := newStore(t)
	createAccount(t, st, "stu-1", ledger.KindFeeBalance, 1000)

	base := time.Date(2026, time.February, 10, 8, 0, 0, 0, time.UTC)
	times := []time.Time{
		base.Add(123456000 * time.Nanosecond),
		base.Add(123456700 * time.Nanosecond),
	}
	next := 0
	proc := ledger.NewProcessor(st, ledger.WithClock(func() time.Time {
		at := times[next]
		next++
		return at
	}))

	_, err := proc.Apply(ctx, ledger.ApplyInput{
		AccountID: "stu-1", Delta: dec(-200), Actor: ledger.SystemActor, Note: "first",
	})
	require.NoError(t, err)
	_, err = proc.Apply(ctx, ledger.ApplyInput{
		AccountID: "stu-1", Delta: dec(-100), Actor: ledger.SystemActor, Note: "second",
	})
	require.NoError(t, err)

	asc, err := st.Entries(ctx, "stu-1", ledger.ListOptions{Order: ledger.OrderCommittedAsc})
	require.NoError(t, err)
	require.Len(t, asc, 2)
	assert.True(t, asc[0].Delta.Equal(dec(-200)), "first commit lists first, got %s", asc[0].Delta)
	assert.True(t, asc[1].ResultingValue.Equal(dec(700)))

	require.NoError(t, ledger.NewProjector(st).Reconcile(ctx, "stu-1"))
}

func TestStore_IdempotencyKeyUnique(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	createAccount(t, st, "stu-1", ledger.KindFeeBalance, 1000)

	first := ledger.Entry{
		ID: "e1", AccountID: "stu-1",
		Delta: dec(-500), ResultingValue: dec(500),
		Actor:          ledger.SystemActor,
		IdempotencyKey: "receipt-42",
		CommittedAt:    time.Now().UTC(),
	}
	require.NoError(t, st.AppendEntry(ctx, first))

	dup := first
	dup.ID = "e2"
	err := st.AppendEntry(ctx, dup)
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	found, err := st.EntryByIdempotencyKey(ctx, "receipt-42")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, ledger.EntryID("e1"), found.ID)

	// Entries without a key never collide with each other.
	for _, id := range []string{"e3", "e4"} {
		require.NoError(t, st.AppendEntry(ctx, ledger.Entry{
			ID: ledger.EntryID(id), AccountID: "stu-1",
			Delta: dec(-1), ResultingValue: dec(499),
			Actor:       ledger.SystemActor,
			CommittedAt: time.Now().UTC(),
		}))
	}

	none, err := st.EntryByIdempotencyKey(ctx, "unused")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStore_EntryIDCollisionNotMistakenForReplay(t *testing.T) {
	// An entries.id collision is an internal fault. It must surface as a
	// storage error, never as the idempotency-replay path.

	ctx := context.Background()
	st := newStore(t)
	createAccount(t, st, "stu-1", ledger.KindFeeBalance, 1000)

	first := ledger.Entry{
		ID: "e1", AccountID: "stu-1",
		Delta: dec(-100), ResultingValue: dec(900),
		Actor:          ledger.SystemActor,
		IdempotencyKey: "key-a",
		CommittedAt:    time.Now().UTC(),
	}
	require.NoError(t, st.AppendEntry(ctx, first))

	collision := first
	collision.IdempotencyKey = "key-b"
	err := st.AppendEntry(ctx, collision)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)
	assert.ErrorIs(t, err, ledger.ErrStorageUnavailable)
}

func TestStore_CorruptStoredDecimalSurfacesStorageError(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	st, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	createAccount(t, st, "stu-1", ledger.KindFeeBalance, 1000)

	// Corrupt the stored value behind the store's back.
	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.Exec(`UPDATE accounts SET current_value = 'garbage' WHERE id = 'stu-1'`)
	require.NoError(t, err)

	_, err = st.GetAccount(ctx, "stu-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrStorageUnavailable)
	assert.NotErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestStore_WithTxRollback(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	createAccount(t, st, "stu-1", ledger.KindFeeBalance, 1000)

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(s ledger.Store) error {
		if err := s.CompareAndSwapValue(ctx, "stu-1", dec(1000), dec(400)); err != nil {
			return err
		}
		if err := s.AppendEntry(ctx, ledger.Entry{
			ID: "e1", AccountID: "stu-1",
			Delta: dec(-600), ResultingValue: dec(400),
			Actor:       ledger.SystemActor,
			CommittedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	acct, err := st.GetAccount(ctx, "stu-1")
	require.NoError(t, err)
	assert.True(t, acct.CurrentValue.Equal(dec(1000)), "value must roll back")

	entries, err := st.Entries(ctx, "stu-1", ledger.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, entries, "entry must roll back with the value")
}

func TestStore_TxReadsSeeTxWrites(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	createAccount(t, st, "stu-1", ledger.KindFeeBalance, 1000)

	err := st.WithTx(ctx, func(s ledger.Store) error {
		if err := s.CompareAndSwapValue(ctx, "stu-1", dec(1000), dec(800)); err != nil {
			return err
		}
		acct, err := s.GetAccount(ctx, "stu-1")
		if err != nil {
			return err
		}
		if !acct.CurrentValue.Equal(dec(800)) {
			return errors.New("read inside tx did not see own write")
		}
		return nil
	})
	require.NoError(t, err)
}

func TestStore_ProcessorEndToEnd(t *testing.T) {
	// The processor run over SQLite behaves exactly as over the memory
	// store: concurrent applies serialize and no delta is lost.

	ctx := context.Background()
	st := newStore(t)
	createAccount(t, st, "item-1", ledger.KindInventoryQuantity, 100)

	proc := ledger.NewProcessor(st)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := proc.Apply(ctx, ledger.ApplyInput{
				AccountID: "item-1",
				Delta:     dec(-2),
				Actor:     ledger.Actor{ID: "staff-7", Name: "Lab Tech"},
				Note:      "session draw",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	acct, err := st.GetAccount(ctx, "item-1")
	require.NoError(t, err)
	assert.True(t, acct.CurrentValue.Equal(dec(60)), "100 - 20*2, got %s", acct.CurrentValue)

	entries, err := st.Entries(ctx, "item-1", ledger.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, entries, workers)

	require.NoError(t, ledger.NewProjector(st).Reconcile(ctx, "item-1"))
}

func TestStore_InsufficientQuantityLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	createAccount(t, st, "item-1", ledger.KindInventoryQuantity, 3)

	proc := ledger.NewProcessor(st)
	_, err := proc.Apply(ctx, ledger.ApplyInput{
		AccountID: "item-1",
		Delta:     dec(-5),
		Actor:     ledger.SystemActor,
		Note:      "overdraw",
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientQuantity)

	acct, err := st.GetAccount(ctx, "item-1")
	require.NoError(t, err)
	assert.True(t, acct.CurrentValue.Equal(dec(3)))

	entries, err := st.Entries(ctx, "item-1", ledger.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}
