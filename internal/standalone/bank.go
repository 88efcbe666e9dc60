package standalone

import (
	"fmt"
	"strings"
	"sync"
)

// Bank is a thread-safe in-memory multi-currency wallet store keyed by
// (account, currency code), with a fixed exchange-rate table against
// the reference currency. It implements service.Bank.
type Bank struct {
	mu       sync.RWMutex
	accounts map[string]map[string]int64 // account → code → coins
	rates    map[string]float64
}

// NewBank creates an empty bank with the given exchange rates.
func NewBank(rates map[string]float64) *Bank {
	norm := make(map[string]float64, len(rates))
	for code, r := range rates {
		norm[normCode(code)] = r
	}
	return &Bank{
		accounts: make(map[string]map[string]int64),
		rates:    norm,
	}
}

func normCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Rate implements service.Bank. Unknown codes return 0 (unpriceable).
func (b *Bank) Rate(code string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rates[normCode(code)]
}

// Withdraw implements service.Bank. Overdrafts are rejected.
func (b *Bank) Withdraw(account, code string, coins int64) bool {
	if coins <= 0 || account == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	wallet := b.accounts[account]
	if wallet == nil || wallet[normCode(code)] < coins {
		return false
	}
	wallet[normCode(code)] -= coins
	return true
}

// Deposit implements service.Bank. Non-positive amounts are ignored.
func (b *Bank) Deposit(account, code string, coins int64) {
	if coins <= 0 || account == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	wallet := b.accounts[account]
	if wallet == nil {
		wallet = make(map[string]int64)
		b.accounts[account] = wallet
	}
	wallet[normCode(code)] += coins
}

// Balance implements service.Bank. An unknown currency code is an
// error (balance unknown), while a known code with no wallet is a
// plain zero.
func (b *Bank) Balance(account, code string) (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c := normCode(code)
	if _, ok := b.rates[c]; !ok {
		return 0, fmt.Errorf("unknown currency %q", code)
	}
	return float64(b.accounts[account][c]), nil
}

// Coins returns the raw integer balance, for handlers and tests.
func (b *Bank) Coins(account, code string) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.accounts[account][normCode(code)]
}
