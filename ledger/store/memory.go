// Package store provides in-memory ledger.TxStore implementations.
package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/cypjiji-star/edusphere-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - Mutex-guarded implementation (tests/dev)
// =============================================================================

// Memory is an in-memory ledger.TxStore. The atomic unit of work is a
// mutex-guarded critical section with snapshot/rollback.
type Memory struct {
	mu          sync.RWMutex
	accounts    map[ledger.AccountID]ledger.Account
	entries     map[ledger.AccountID][]ledger.Entry // insertion order == commit order
	idempotency map[string]ledger.Entry
}

func NewMemory() *Memory {
	return &Memory{
		accounts:    make(map[ledger.AccountID]ledger.Account),
		entries:     make(map[ledger.AccountID][]ledger.Entry),
		idempotency: make(map[string]ledger.Entry),
	}
}

// -----------------------------------------------------------------------------
// AccountStore
// -----------------------------------------------------------------------------

func (m *Memory) GetAccount(_ context.Context, id ledger.AccountID) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccountLocked(id)
}

func (m *Memory) getAccountLocked(id ledger.AccountID) (ledger.Account, error) {
	acct, ok := m.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return acct, nil
}

func (m *Memory) CreateAccount(_ context.Context, acct ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createAccountLocked(acct)
}

func (m *Memory) createAccountLocked(acct ledger.Account) error {
	if _, ok := m.accounts[acct.ID]; ok {
		return ledger.ErrAccountExists
	}
	m.accounts[acct.ID] = acct
	return nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAccountsLocked()
}

func (m *Memory) listAccountsLocked() ([]ledger.Account, error) {
	accounts := make([]ledger.Account, 0, len(m.accounts))
	for _, acct := range m.accounts {
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

func (m *Memory) CompareAndSwapValue(_ context.Context, id ledger.AccountID, expected, next decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.casLocked(id, expected, next)
}

func (m *Memory) casLocked(id ledger.AccountID, expected, next decimal.Decimal) error {
	acct, ok := m.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	if !acct.CurrentValue.Equal(expected) {
		return ledger.ErrConcurrentModification
	}
	acct.CurrentValue = next
	m.accounts[id] = acct
	return nil
}

// -----------------------------------------------------------------------------
// EntryStore - append-only
// -----------------------------------------------------------------------------

func (m *Memory) AppendEntry(_ context.Context, entry ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(entry)
}

func (m *Memory) appendLocked(entry ledger.Entry) error {
	if entry.IdempotencyKey != "" {
		if _, ok := m.idempotency[entry.IdempotencyKey]; ok {
			return ledger.ErrDuplicateIdempotencyKey
		}
		m.idempotency[entry.IdempotencyKey] = entry
	}
	m.entries[entry.AccountID] = append(m.entries[entry.AccountID], entry)
	return nil
}

func (m *Memory) Entries(_ context.Context, id ledger.AccountID, opts ledger.ListOptions) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesLocked(id, opts)
}

func (m *Memory) entriesLocked(id ledger.AccountID, opts ledger.ListOptions) ([]ledger.Entry, error) {
	stored := m.entries[id]
	result := make([]ledger.Entry, len(stored))

	if opts.Order == ledger.OrderCommittedAsc {
		copy(result, stored)
	} else {
		// Default: newest first.
		for i, e := range stored {
			result[len(stored)-1-i] = e
		}
	}

	return paginate(result, opts), nil
}

func (m *Memory) EntryByIdempotencyKey(_ context.Context, key string) (*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entryByKeyLocked(key)
}

func (m *Memory) entryByKeyLocked(key string) (*ledger.Entry, error) {
	entry, ok := m.idempotency[key]
	if !ok {
		return nil, nil
	}
	e := entry
	return &e, nil
}

func paginate(entries []ledger.Entry, opts ledger.ListOptions) []ledger.Entry {
	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries
}

// =============================================================================
// ATOMIC UNIT OF WORK
// =============================================================================

// WithTx executes fn within a critical section. State is snapshotted first
// and restored on error, so a failed unit leaves nothing behind.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()

	view := &memoryView{parent: m}
	if err := fn(view); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	accounts    map[ledger.AccountID]ledger.Account
	entries     map[ledger.AccountID][]ledger.Entry
	idempotency map[string]ledger.Entry
}

func (m *Memory) snapshot() memorySnapshot {
	accounts := make(map[ledger.AccountID]ledger.Account, len(m.accounts))
	for k, v := range m.accounts {
		accounts[k] = v
	}
	entries := make(map[ledger.AccountID][]ledger.Entry, len(m.entries))
	for k, v := range m.entries {
		entries[k] = append([]ledger.Entry{}, v...)
	}
	idempotency := make(map[string]ledger.Entry, len(m.idempotency))
	for k, v := range m.idempotency {
		idempotency[k] = v
	}
	return memorySnapshot{accounts: accounts, entries: entries, idempotency: idempotency}
}

func (m *Memory) restore(s memorySnapshot) {
	m.accounts = s.accounts
	m.entries = s.entries
	m.idempotency = s.idempotency
}

// memoryView is the transactional view handed to WithTx callbacks. The
// parent mutex is already held; all access goes through *Locked helpers.
type memoryView struct {
	parent *Memory
}

func (v *memoryView) GetAccount(_ context.Context, id ledger.AccountID) (ledger.Account, error) {
	return v.parent.getAccountLocked(id)
}

func (v *memoryView) CreateAccount(_ context.Context, acct ledger.Account) error {
	return v.parent.createAccountLocked(acct)
}

func (v *memoryView) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	return v.parent.listAccountsLocked()
}

func (v *memoryView) CompareAndSwapValue(_ context.Context, id ledger.AccountID, expected, next decimal.Decimal) error {
	return v.parent.casLocked(id, expected, next)
}

func (v *memoryView) AppendEntry(_ context.Context, entry ledger.Entry) error {
	return v.parent.appendLocked(entry)
}

func (v *memoryView) Entries(_ context.Context, id ledger.AccountID, opts ledger.ListOptions) ([]ledger.Entry, error) {
	return v.parent.entriesLocked(id, opts)
}

func (v *memoryView) EntryByIdempotencyKey(_ context.Context, key string) (*ledger.Entry, error) {
	return v.parent.entryByKeyLocked(key)
}
