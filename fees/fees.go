/*
Package fees is the school-fee call site of the ledger engine.

PURPOSE:
  Wraps the generic Processor with fee-specific vocabulary: a fee account
  opens with the billed amount outstanding, payments debit it, charges
  (term invoices, penalties) credit it. A balance below zero is a credit
  in the student's favor - the engine allows it for this kind.

PAYMENT IDEMPOTENCY:
  Mobile-money confirmations are frequently re-submitted by a retried
  form. Payments therefore pass the payment reference as the idempotency
  key: posting the same reference twice returns the original receipt
  instead of double-debiting the balance.

SEE ALSO:
  - ledger/processor.go: The shared engine
  - inventory/: The other call site, same pattern
*/
package fees

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cypjiji-star/edusphere-ledger/ledger"
)

// ErrNonPositiveAmount is returned when a payment or charge amount is
// zero or negative. Callers supply magnitudes; the service picks the sign.
var ErrNonPositiveAmount = errors.New("amount must be positive")

// Service records fee payments and charges against student fee accounts.
type Service struct {
	store ledger.TxStore
	proc  *ledger.Processor
}

// NewService creates a fee service over the given store.
func NewService(store ledger.TxStore, opts ...ledger.Option) *Service {
	return &Service{
		store: store,
		proc:  ledger.NewProcessor(store, opts...),
	}
}

// OpenAccount creates a fee account for a student with the billed amount
// as both initial and current value.
func (s *Service) OpenAccount(ctx context.Context, accountID string, billed decimal.Decimal) (ledger.Account, error) {
	acct := ledger.Account{
		ID:           ledger.AccountID(accountID),
		Kind:         ledger.KindFeeBalance,
		CurrentValue: billed,
		InitialValue: billed,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		return ledger.Account{}, err
	}
	return acct, nil
}

// Payment describes one fee payment to record.
type Payment struct {
	AccountID string
	Amount    decimal.Decimal // positive magnitude
	Actor     ledger.Actor
	Note      string // optional, e.g. "M-Pesa payment"

	// Reference is the external payment reference (receipt number,
	// transaction code). Used as the idempotency key when present.
	Reference string
}

// RecordPayment debits the outstanding balance. The balance may go
// negative: an overpayment becomes a credit.
func (s *Service) RecordPayment(ctx context.Context, p Payment) (ledger.Entry, error) {
	if !p.Amount.IsPositive() {
		return ledger.Entry{}, fmt.Errorf("%w: got %s", ErrNonPositiveAmount, p.Amount)
	}
	return s.proc.Apply(ctx, ledger.ApplyInput{
		AccountID:      ledger.AccountID(p.AccountID),
		Delta:          p.Amount.Neg(),
		Actor:          p.Actor,
		Note:           p.Note,
		IdempotencyKey: p.Reference,
	})
}

// Charge describes an addition to the outstanding balance.
type Charge struct {
	AccountID string
	Amount    decimal.Decimal // positive magnitude
	Actor     ledger.Actor
	Note      string // e.g. "Term 2 invoice"
}

// RecordCharge credits the outstanding balance (a new invoice or penalty).
func (s *Service) RecordCharge(ctx context.Context, c Charge) (ledger.Entry, error) {
	if !c.Amount.IsPositive() {
		return ledger.Entry{}, fmt.Errorf("%w: got %s", ErrNonPositiveAmount, c.Amount)
	}
	return s.proc.Apply(ctx, ledger.ApplyInput{
		AccountID: ledger.AccountID(c.AccountID),
		Delta:     c.Amount,
		Actor:     c.Actor,
		Note:      c.Note,
	})
}

// Outstanding returns the live outstanding balance. Negative = credit.
func (s *Service) Outstanding(ctx context.Context, accountID string) (decimal.Decimal, error) {
	acct, err := s.store.GetAccount(ctx, ledger.AccountID(accountID))
	if err != nil {
		return decimal.Zero, err
	}
	return acct.CurrentValue, nil
}

// Statement is the account plus its history, newest entry first.
type Statement struct {
	Account ledger.Account
	Entries []ledger.Entry
}

// Statement assembles a fee statement for presentation code.
func (s *Service) Statement(ctx context.Context, accountID string, opts ledger.ListOptions) (Statement, error) {
	acct, err := s.store.GetAccount(ctx, ledger.AccountID(accountID))
	if err != nil {
		return Statement{}, err
	}
	entries, err := s.store.Entries(ctx, acct.ID, opts)
	if err != nil {
		return Statement{}, err
	}
	return Statement{Account: acct, Entries: entries}, nil
}
