package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ticketforge/ticket-registry/internal/domain"
)

func TestLedgerDebitCredit(t *testing.T) {
	l := NewLedger()
	l.Deposit(alice, 100)

	j := &journal{}
	require.NoError(t, l.debit(j, alice, 60))
	l.credit(j, bob, 60)
	assert.Equal(t, uint64(40), l.Balance(alice))
	assert.Equal(t, uint64(60), l.Balance(bob))

	assert.ErrorIs(t, l.debit(j, alice, 41), domain.ErrInsufficientFunds)

	j.revert()
	assert.Equal(t, uint64(100), l.Balance(alice))
	assert.Equal(t, uint64(0), l.Balance(bob))
}

func TestLedgerTransferHook(t *testing.T) {
	l := NewLedger()
	l.Deposit(alice, 100)

	var gotFrom domain.Account
	var gotAmount uint64
	l.SetReceiveHook(bob, func(from domain.Account, amount uint64) error {
		gotFrom = from
		gotAmount = amount
		return nil
	})

	j := &journal{}
	require.NoError(t, l.transfer(j, alice, bob, 30))
	assert.Equal(t, alice, gotFrom)
	assert.Equal(t, uint64(30), gotAmount)
	assert.Equal(t, uint64(30), l.Balance(bob))
}

func TestLedgerTransferHookError(t *testing.T) {
	l := NewLedger()
	l.Deposit(alice, 100)
	l.SetReceiveHook(bob, func(domain.Account, uint64) error {
		return assert.AnError
	})

	j := &journal{}
	err := l.transfer(j, alice, bob, 30)
	assert.ErrorIs(t, err, domain.ErrTransferFailed)

	// balances moved; the caller's journal revert puts them back
	j.revert()
	assert.Equal(t, uint64(100), l.Balance(alice))
	assert.Equal(t, uint64(0), l.Balance(bob))
}

func TestLedgerTransferZeroIsNoop(t *testing.T) {
	l := NewLedger()
	hookRan := false
	l.SetReceiveHook(bob, func(domain.Account, uint64) error {
		hookRan = true
		return nil
	})

	j := &journal{}
	require.NoError(t, l.transfer(j, alice, bob, 0))
	assert.False(t, hookRan)
}

func TestJournalRevertOrder(t *testing.T) {
	var got []int
	j := &journal{}
	for i := 0; i < 3; i++ {
		i := i
		j.record(func() { got = append(got, i) })
	}
	j.revert()
	assert.Equal(t, []int{2, 1, 0}, got)

	// revert drains the journal, a second call replays nothing
	j.revert()
	assert.Len(t, got, 3)
}
