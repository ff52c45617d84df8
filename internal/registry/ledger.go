package registry

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ticketforge/ticket-registry/internal/domain"
)

// ReceiveHook runs on an account's behalf when funds arrive. A recipient may
// use it to react to payment; if it returns an error the transfer, and the
// whole operation that triggered it, fails. Hooks are invoked while the
// registry busy flag is set, so any attempt to re-enter a mutating operation
// is rejected.
type ReceiveHook func(from domain.Account, amount uint64) error

// Ledger tracks account balances in indivisible units. The registry is the
// only writer during an operation; its own escrow account accumulates the
// attached payment of an in-flight buy until the payout legs complete.
type Ledger struct {
	mu       sync.Mutex
	balances map[domain.Account]uint64
	hooks    map[domain.Account]ReceiveHook
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[domain.Account]uint64),
		hooks:    make(map[domain.Account]ReceiveHook),
	}
}

// Deposit credits account outside any operation. It exists for funding
// accounts from the gateway and from tests; it does not run receive hooks.
func (l *Ledger) Deposit(account domain.Account, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
}

func (l *Ledger) Balance(account domain.Account) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}

// SetReceiveHook installs or clears (nil) the receive hook for account.
func (l *Ledger) SetReceiveHook(account domain.Account, hook ReceiveHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if hook == nil {
		delete(l.hooks, account)
		return
	}
	l.hooks[account] = hook
}

func (l *Ledger) hook(account domain.Account) ReceiveHook {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hooks[account]
}

// debit journals and applies a balance decrease. The undo applies the
// inverse delta rather than restoring a snapshot, so deposits that land on
// the account while the operation is in flight survive a revert.
func (l *Ledger) debit(j *journal, account domain.Account, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[account] < amount {
		return domain.ErrInsufficientFunds
	}
	j.record(func() {
		l.mu.Lock()
		l.balances[account] += amount
		l.mu.Unlock()
	})
	l.balances[account] -= amount
	return nil
}

// credit journals and applies a balance increase.
func (l *Ledger) credit(j *journal, account domain.Account, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	j.record(func() {
		l.mu.Lock()
		l.balances[account] -= amount
		l.mu.Unlock()
	})
	l.balances[account] += amount
}

// transfer moves amount from one account to another, then runs the
// recipient's receive hook. The hook executes after the balances moved and
// without any ledger lock held, so it can observe the registry; a hook error
// fails the transfer. Zero-amount transfers are skipped entirely.
func (l *Ledger) transfer(j *journal, from, to domain.Account, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := l.debit(j, from, amount); err != nil {
		return err
	}
	l.credit(j, to, amount)
	if hook := l.hook(to); hook != nil {
		if err := hook(from, amount); err != nil {
			return errors.WithSecondaryError(domain.ErrTransferFailed, err)
		}
	}
	return nil
}
