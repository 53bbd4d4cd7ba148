/*
Package sqlite provides a SQLite-backed implementation of the ledger stores.

PURPOSE:
  Implements ledger.TxStore using SQLite. The same patterns apply to
  PostgreSQL in production - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  No UPDATE and no DELETE statements exist for the entries table.
  Corrections are new offsetting entries.

KEY TABLES:
  accounts: Current + initial value per tracked quantity
  entries:  Immutable ledger of applied deltas (seq = insertion order)

CONCURRENCY:
  A sync.Mutex serializes write units on top of SQLite's single-writer
  model. The account update is still guarded by a compare-and-swap
  (UPDATE ... WHERE current_value = ?), so a conflicting concurrent commit
  surfaces as ledger.ErrConcurrentModification rather than a lost delta.

WAL MODE:
  The database is opened with WAL (Write-Ahead Logging): readers don't
  block, one writer at a time, better crash recovery.

USAGE:
  st, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  proc := ledger.NewProcessor(st)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/cypjiji-star/edusphere-ledger/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrStorageUnavailable, err)
	}

	// One connection: SQLite allows a single writer, and a pooled ":memory:"
	// database would otherwise be a different database per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		current_value TEXT NOT NULL,
		initial_value TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Append-only ledger. Writes are serialized, so seq is the commit
	-- order.
	CREATE TABLE IF NOT EXISTS entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		delta TEXT NOT NULL,
		resulting_value TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		actor_name TEXT,
		note TEXT,
		idempotency_key TEXT,
		committed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_account
		ON entries(account_id, seq);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_idempotency
		ON entries(idempotency_key) WHERE idempotency_key IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	return getAccount(ctx, s.db, id)
}

func getAccount(ctx context.Context, q querier, id ledger.AccountID) (ledger.Account, error) {
	var (
		acct             ledger.Account
		current, initial string
		createdAt        string
	)

	err := q.QueryRowContext(ctx,
		"SELECT id, kind, current_value, initial_value, created_at FROM accounts WHERE id = ?",
		string(id),
	).Scan(&acct.ID, &acct.Kind, &current, &initial, &createdAt)

	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	if err != nil {
		return ledger.Account{}, storageErr("get account", err)
	}

	if acct.CurrentValue, err = parseDecimal(current); err != nil {
		return ledger.Account{}, err
	}
	if acct.InitialValue, err = parseDecimal(initial); err != nil {
		return ledger.Account{}, err
	}
	acct.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return acct, nil
}

func (s *Store) CreateAccount(ctx context.Context, acct ledger.Account) error {
	return createAccount(ctx, s.db, acct)
}

func createAccount(ctx context.Context, q querier, acct ledger.Account) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO accounts (id, kind, current_value, initial_value, created_at) VALUES (?, ?, ?, ?, ?)",
		string(acct.ID),
		string(acct.Kind),
		acct.CurrentValue.String(),
		acct.InitialValue.String(),
		acct.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if uniqueViolation(err, "accounts.id") {
			return ledger.ErrAccountExists
		}
		return storageErr("create account", err)
	}
	return nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	return listAccounts(ctx, s.db)
}

func listAccounts(ctx context.Context, q querier) ([]ledger.Account, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, kind, current_value, initial_value, created_at FROM accounts ORDER BY id",
	)
	if err != nil {
		return nil, storageErr("list accounts", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var (
			acct             ledger.Account
			current, initial string
			createdAt        string
		)
		if err := rows.Scan(&acct.ID, &acct.Kind, &current, &initial, &createdAt); err != nil {
			return nil, storageErr("scan account", err)
		}
		if acct.CurrentValue, err = parseDecimal(current); err != nil {
			return nil, err
		}
		if acct.InitialValue, err = parseDecimal(initial); err != nil {
			return nil, err
		}
		acct.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

func (s *Store) CompareAndSwapValue(ctx context.Context, id ledger.AccountID, expected, next decimal.Decimal) error {
	return compareAndSwap(ctx, s.db, id, expected, next)
}

func compareAndSwap(ctx context.Context, q querier, id ledger.AccountID, expected, next decimal.Decimal) error {
	res, err := q.ExecContext(ctx,
		"UPDATE accounts SET current_value = ? WHERE id = ? AND current_value = ?",
		next.String(), string(id), expected.String(),
	)
	if err != nil {
		return storageErr("compare-and-swap", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("compare-and-swap", err)
	}
	if affected == 1 {
		return nil
	}

	// Nothing matched: either the account is gone or another writer
	// changed the value between our read and this update.
	if _, err := getAccount(ctx, q, id); err != nil {
		return err
	}
	return ledger.ErrConcurrentModification
}

// =============================================================================
// ENTRY STORE - Append-only. No UPDATE, no DELETE.
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, entry ledger.Entry) error {
	return appendEntry(ctx, s.db, entry)
}

func appendEntry(ctx context.Context, q querier, entry ledger.Entry) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO entries
		 (id, account_id, delta, resulting_value, actor_id, actor_name, note, idempotency_key, committed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(entry.ID),
		string(entry.AccountID),
		entry.Delta.String(),
		entry.ResultingValue.String(),
		entry.Actor.ID,
		entry.Actor.Name,
		entry.Note,
		nullString(entry.IdempotencyKey),
		entry.CommittedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		// Only the idempotency index maps to the replay path. A collision
		// on entries.id is an internal fault, not a duplicate submission.
		if uniqueViolation(err, "entries.idempotency_key") {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return storageErr("append entry", err)
	}
	return nil
}

func (s *Store) Entries(ctx context.Context, id ledger.AccountID, opts ledger.ListOptions) ([]ledger.Entry, error) {
	return queryEntries(ctx, s.db, id, opts)
}

func queryEntries(ctx context.Context, q querier, id ledger.AccountID, opts ledger.ListOptions) ([]ledger.Entry, error) {
	order := "DESC"
	if opts.Order == ledger.OrderCommittedAsc {
		order = "ASC"
	}

	// seq decides the order: it is the commit order, and the committed_at
	// text cannot be compared lexicographically (RFC3339Nano trims
	// trailing zeros from the fractional second).
	query := fmt.Sprintf(`
		SELECT id, account_id, delta, resulting_value, actor_id, actor_name, note, idempotency_key, committed_at
		FROM entries
		WHERE account_id = ?
		ORDER BY seq %s`, order)

	args := []any{string(id)}
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit == 0 {
			limit = -1 // SQLite: no limit
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, opts.Offset)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query entries", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) EntryByIdempotencyKey(ctx context.Context, key string) (*ledger.Entry, error) {
	return entryByKey(ctx, s.db, key)
}

func entryByKey(ctx context.Context, q querier, key string) (*ledger.Entry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, account_id, delta, resulting_value, actor_id, actor_name, note, idempotency_key, committed_at
		FROM entries
		WHERE idempotency_key = ?
		LIMIT 1`, key)
	if err != nil {
		return nil, storageErr("query idempotency key", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	entry, err := scanEntry(rows)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func scanEntry(rows *sql.Rows) (ledger.Entry, error) {
	var (
		entry            ledger.Entry
		delta, resulting string
		actorName        sql.NullString
		note             sql.NullString
		idempotencyKey   sql.NullString
		committedAt      string
	)

	err := rows.Scan(
		&entry.ID, &entry.AccountID, &delta, &resulting,
		&entry.Actor.ID, &actorName, &note, &idempotencyKey, &committedAt,
	)
	if err != nil {
		return entry, storageErr("scan entry", err)
	}

	if entry.Delta, err = parseDecimal(delta); err != nil {
		return entry, err
	}
	if entry.ResultingValue, err = parseDecimal(resulting); err != nil {
		return entry, err
	}
	entry.Actor.Name = actorName.String
	entry.Note = note.String
	entry.IdempotencyKey = idempotencyKey.String
	entry.CommittedAt, _ = time.Parse(time.RFC3339Nano, committedAt)
	return entry, nil
}

// =============================================================================
// ATOMIC UNIT OF WORK
// =============================================================================

// WithTx executes fn within a database transaction. Either every write in
// the unit commits or none do; intermediate state is invisible to readers.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return storageErr("commit transaction", err)
	}
	return nil
}

// txStore routes every operation through the open transaction, so reads
// inside the unit see the unit's own writes and nothing newer.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	return getAccount(ctx, ts.tx, id)
}

func (ts *txStore) CreateAccount(ctx context.Context, acct ledger.Account) error {
	return createAccount(ctx, ts.tx, acct)
}

func (ts *txStore) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	return listAccounts(ctx, ts.tx)
}

func (ts *txStore) CompareAndSwapValue(ctx context.Context, id ledger.AccountID, expected, next decimal.Decimal) error {
	return compareAndSwap(ctx, ts.tx, id, expected, next)
}

func (ts *txStore) AppendEntry(ctx context.Context, entry ledger.Entry) error {
	return appendEntry(ctx, ts.tx, entry)
}

func (ts *txStore) Entries(ctx context.Context, id ledger.AccountID, opts ledger.ListOptions) ([]ledger.Entry, error) {
	return queryEntries(ctx, ts.tx, id, opts)
}

func (ts *txStore) EntryByIdempotencyKey(ctx context.Context, key string) (*ledger.Entry, error) {
	return entryByKey(ctx, ts.tx, key)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// parseDecimal rejects a value that does not round-trip. A corrupt stored
// decimal is an infrastructure fault and must never read back as zero.
func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, storageErr("parse stored decimal", err)
	}
	return d, nil
}

// uniqueViolation reports whether err is a UNIQUE-constraint failure on the
// named column. SQLite names the failing column in the message.
func uniqueViolation(err error, column string) bool {
	return err != nil &&
		strings.Contains(err.Error(), "UNIQUE constraint failed") &&
		strings.Contains(err.Error(), column)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ledger.ErrStorageUnavailable, err)
}
