package standalone

import (
	"strings"
	"sync"
)

// Holdings is a thread-safe in-memory goods store keyed by (account,
// item kind), with a per-account capacity so partial deliveries are a
// reachable state. It implements service.Inventory.
type Holdings struct {
	mu       sync.RWMutex
	capacity int64 // max total units per account; 0 means unlimited
	items    map[string]map[string]int64
}

// NewHoldings creates an empty goods store. capacity <= 0 means
// unlimited.
func NewHoldings(capacity int64) *Holdings {
	return &Holdings{
		capacity: capacity,
		items:    make(map[string]map[string]int64),
	}
}

func normItem(item string) string {
	return strings.ToUpper(strings.TrimSpace(item))
}

// Deliver implements service.Inventory: gives up to qty units and
// returns the leftover that did not fit.
func (h *Holdings) Deliver(account, item string, qty int64) int64 {
	it := normItem(item)
	if qty <= 0 || account == "" || it == "" {
		return qty
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	held := h.items[account]
	if held == nil {
		held = make(map[string]int64)
		h.items[account] = held
	}

	give := qty
	if h.capacity > 0 {
		var total int64
		for _, n := range held {
			total += n
		}
		room := h.capacity - total
		if room <= 0 {
			return qty
		}
		if give > room {
			give = room
		}
	}
	held[it] += give
	return qty - give
}

// Remove implements service.Inventory: takes up to qty units and
// returns the quantity actually removed.
func (h *Holdings) Remove(account, item string, qty int64) int64 {
	it := normItem(item)
	if qty <= 0 || account == "" || it == "" {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	held := h.items[account]
	if held == nil {
		return 0
	}
	have := held[it]
	take := qty
	if take > have {
		take = have
	}
	if take <= 0 {
		return 0
	}
	if have-take == 0 {
		delete(held, it)
	} else {
		held[it] = have - take
	}
	if len(held) == 0 {
		delete(h.items, account)
	}
	return take
}

// Count returns how many units of an item the account holds.
func (h *Holdings) Count(account, item string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.items[account][normItem(item)]
}
