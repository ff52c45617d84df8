package registry

import (
	"time"

	"github.com/ticketforge/ticket-registry/internal/domain"
)

// RateLimiter bounds abusive volume at the protocol level: a cumulative,
// never-resetting mint cap per account, and a rolling per-window buy cap.
// One instance belongs to one registry; it is never shared.
type RateLimiter struct {
	params domain.Params

	mintCount map[domain.Account]uint64
	buyCount  map[domain.Account]uint64
	buyWindow map[domain.Account]int64
}

func NewRateLimiter(params domain.Params) *RateLimiter {
	return &RateLimiter{
		params:    params,
		mintCount: make(map[domain.Account]uint64),
		buyCount:  make(map[domain.Account]uint64),
		buyWindow: make(map[domain.Account]int64),
	}
}

// MintCount reports lifetime successful mints credited to account.
func (rl *RateLimiter) MintCount(account domain.Account) uint64 {
	return rl.mintCount[account]
}

// noteMint enforces the lifetime mint cap and charges one mint to account.
func (rl *RateLimiter) noteMint(j *journal, account domain.Account) error {
	if rl.mintCount[account] >= rl.params.MaxMintsPerAccount {
		return domain.ErrMintCapExceeded
	}
	prev := rl.mintCount[account]
	j.record(func() { rl.mintCount[account] = prev })
	rl.mintCount[account] = prev + 1
	return nil
}

// windowIndex buckets now into fixed-length windows.
func (rl *RateLimiter) windowIndex(now time.Time) int64 {
	return now.Unix() / int64(rl.params.BuyWindow/time.Second)
}

// noteBuy rolls the account's window counter if the window index advanced,
// then enforces and charges the per-window buy cap.
func (rl *RateLimiter) noteBuy(j *journal, account domain.Account, now time.Time) error {
	idx := rl.windowIndex(now)
	prevIdx, hadIdx := rl.buyWindow[account]
	prevCount := rl.buyCount[account]

	count := prevCount
	if !hadIdx || prevIdx != idx {
		count = 0
	}
	if count >= rl.params.MaxBuysPerWindow {
		return domain.ErrRateLimitExceeded
	}

	j.record(func() {
		rl.buyCount[account] = prevCount
		if hadIdx {
			rl.buyWindow[account] = prevIdx
		} else {
			delete(rl.buyWindow, account)
		}
	})
	rl.buyCount[account] = count + 1
	rl.buyWindow[account] = idx
	return nil
}
