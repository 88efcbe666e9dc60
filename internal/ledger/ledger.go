// Package ledger keeps the per-market supply, demand, and stock books
// behind a single mutex. It is the only shared mutable state in the
// market core: every exported call is one critical section, and no
// collaborator call ever happens under the lock.
package ledger

import (
	"math"
	"strings"
	"sync"

	"github.com/brandon/medievalmarkets/internal/domain"
)

const (
	// Baseline is the supply/demand count assumed for an unseeded
	// market, so a fresh market prices at ratio 1 instead of spiking.
	Baseline = 1000

	// MinCount / MaxCount bound supply and demand counters.
	MinCount = 1
	MaxCount = 50_000_000

	// Stock is bounded to [0, MaxCount].
)

// Ledger tracks supply, demand, and held stock per (market, commodity).
type Ledger struct {
	mu     sync.Mutex
	supply map[domain.MarketID]map[string]int64
	demand map[domain.MarketID]map[string]int64
	stock  map[domain.MarketID]map[string]int64
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		supply: make(map[domain.MarketID]map[string]int64),
		demand: make(map[domain.MarketID]map[string]int64),
		stock:  make(map[domain.MarketID]map[string]int64),
	}
}

// normalizeID lowercases and trims a commodity id. Empty after
// normalization means "no such key".
func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// RecordSupply merges qty into the market's supply counter for the
// commodity. No-op when qty <= 0 or either key is absent.
func (l *Ledger) RecordSupply(market domain.MarketID, commodityID string, qty int64) {
	l.record(l.supply, market, commodityID, qty)
}

// RecordDemand merges qty into the market's demand counter for the
// commodity. No-op when qty <= 0 or either key is absent.
func (l *Ledger) RecordDemand(market domain.MarketID, commodityID string, qty int64) {
	l.record(l.demand, market, commodityID, qty)
}

func (l *Ledger) record(table map[domain.MarketID]map[string]int64, market domain.MarketID, commodityID string, qty int64) {
	id := normalizeID(commodityID)
	if qty <= 0 || market.IsZero() || id == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	m := table[market]
	if m == nil {
		m = make(map[string]int64)
		table[market] = m
	}
	// An absent entry reads as Baseline, so the merge starts there:
	// recording 1000 demand at a fresh market yields 2000, not 1000.
	cur, ok := m[id]
	if !ok {
		cur = Baseline
	}
	m[id] = satAdd(cur, qty)
	clampCounts(m, MinCount, MaxCount)
}

// AddStock merges qty into the market's held stock for the commodity.
// No-op when qty <= 0 or either key is absent.
func (l *Ledger) AddStock(market domain.MarketID, commodityID string, qty int64) {
	id := normalizeID(commodityID)
	if qty <= 0 || market.IsZero() || id == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	m := l.stock[market]
	if m == nil {
		m = make(map[string]int64)
		l.stock[market] = m
	}
	m[id] = satAdd(m[id], qty)
	clampCounts(m, 0, MaxCount)
}

// RemoveStock removes up to qty units of held stock and returns the
// amount actually removed. Entries that reach zero are deleted, and a
// market whose last entry goes is dropped from the table entirely.
func (l *Ledger) RemoveStock(market domain.MarketID, commodityID string, qty int64) int64 {
	id := normalizeID(commodityID)
	if qty <= 0 || market.IsZero() || id == "" {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	m := l.stock[market]
	if m == nil {
		return 0
	}
	have := m[id]
	if have <= 0 {
		delete(m, id)
		if len(m) == 0 {
			delete(l.stock, market)
		}
		return 0
	}
	taken := qty
	if taken > have {
		taken = have
	}
	if have-taken <= 0 {
		delete(m, id)
	} else {
		m[id] = have - taken
	}
	if len(m) == 0 {
		delete(l.stock, market)
	}
	return taken
}

// Supply returns the market's supply counter, or Baseline when the
// market has never recorded supply for this commodity.
func (l *Ledger) Supply(market domain.MarketID, commodityID string) int64 {
	return l.read(l.supply, market, commodityID, Baseline)
}

// Demand returns the market's demand counter, or Baseline when absent.
func (l *Ledger) Demand(market domain.MarketID, commodityID string) int64 {
	return l.read(l.demand, market, commodityID, Baseline)
}

// Stock returns the market's held stock, or 0 when absent.
func (l *Ledger) Stock(market domain.MarketID, commodityID string) int64 {
	return l.read(l.stock, market, commodityID, 0)
}

func (l *Ledger) read(table map[domain.MarketID]map[string]int64, market domain.MarketID, commodityID string, def int64) int64 {
	id := normalizeID(commodityID)
	if market.IsZero() || id == "" {
		return def
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	m := table[market]
	if m == nil {
		return def
	}
	v, ok := m[id]
	if !ok {
		return def
	}
	return v
}

// GlobalSupply sums every market's supply for the commodity. Returns
// Baseline when no market has ever recorded any, and saturates at
// math.MaxInt64 instead of overflowing.
func (l *Ledger) GlobalSupply(commodityID string) int64 {
	return l.global(l.supply, commodityID)
}

// GlobalDemand sums every market's demand for the commodity, with the
// same baseline-and-saturation policy as GlobalSupply.
func (l *Ledger) GlobalDemand(commodityID string) int64 {
	return l.global(l.demand, commodityID)
}

func (l *Ledger) global(table map[domain.MarketID]map[string]int64, commodityID string) int64 {
	id := normalizeID(commodityID)
	if id == "" {
		return Baseline
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var sum int64
	seen := false
	for _, m := range table {
		if v, ok := m[id]; ok {
			sum = satAdd(sum, v)
			seen = true
		}
	}
	if !seen {
		return Baseline
	}
	return sum
}

// SeedTownIfMissing ensures every listed commodity has at least the
// baseline supply and demand entry for the market, without touching
// existing values. A brand-new town seeded this way quotes sane prices
// on its very first query.
func (l *Ledger) SeedTownIfMissing(market domain.MarketID, commodityIDs []string) {
	if market.IsZero() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, raw := range commodityIDs {
		id := normalizeID(raw)
		if id == "" {
			continue
		}
		setIfAbsent(l.supply, market, id, Baseline)
		setIfAbsent(l.demand, market, id, Baseline)
	}
}

func setIfAbsent(table map[domain.MarketID]map[string]int64, market domain.MarketID, id string, v int64) {
	m := table[market]
	if m == nil {
		m = make(map[string]int64)
		table[market] = m
	}
	if _, ok := m[id]; !ok {
		m[id] = v
	}
}

// clampCounts clamps every entry of a market's counter map into
// [min, max] in place.
func clampCounts(m map[string]int64, min, max int64) {
	for k, v := range m {
		if v < min {
			m[k] = min
		} else if v > max {
			m[k] = max
		}
	}
}

func satAdd(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
