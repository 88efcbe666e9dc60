package ledger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/brandon/medievalmarkets/internal/domain"
)

// marketDoc is the persisted shape of one market's books.
type marketDoc struct {
	Supply map[string]int64 `yaml:"supply,omitempty"`
	Demand map[string]int64 `yaml:"demand,omitempty"`
	Stock  map[string]int64 `yaml:"stock,omitempty"`
}

// ledgerDoc is the persisted root: market id (string form) → books.
type ledgerDoc map[string]marketDoc

// SaveToFile writes a full snapshot of the ledger. The write is
// atomic (temp file + rename) so a crash mid-save never leaves a
// truncated document, and values are re-clamped on the way out as a
// last line of defense against corrupted in-memory state.
func (l *Ledger) SaveToFile(path string) error {
	doc := l.snapshot()

	b, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

// snapshot copies the union of all markets appearing in any of the
// three tables into a document, under one critical section.
func (l *Ledger) snapshot() ledgerDoc {
	l.mu.Lock()
	defer l.mu.Unlock()

	markets := make(map[domain.MarketID]bool)
	for m := range l.supply {
		markets[m] = true
	}
	for m := range l.demand {
		markets[m] = true
	}
	for m := range l.stock {
		markets[m] = true
	}

	doc := make(ledgerDoc, len(markets))
	for m := range markets {
		doc[m.String()] = marketDoc{
			Supply: copyClamped(l.supply[m], MinCount, MaxCount),
			Demand: copyClamped(l.demand[m], MinCount, MaxCount),
			Stock:  copyClamped(l.stock[m], 0, MaxCount),
		}
	}
	return doc
}

func copyClamped(m map[string]int64, min, max int64) map[string]int64 {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]int64, len(m))
	for k, v := range m {
		if v < min {
			v = min
		} else if v > max {
			v = max
		}
		out[k] = v
	}
	return out
}

// LoadFromFile clears the ledger and repopulates it from the given
// file. A missing or malformed document means "fresh start": the
// ledger stays empty and a valid empty document is written back.
// Unparsable market identifiers are skipped with a warning, not fatal.
func (l *Ledger) LoadFromFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("no ledger file; starting fresh", "path", path)
		} else {
			slog.Warn("ledger file unreadable; starting fresh", "path", path, "error", err)
		}
		l.clear()
		return l.SaveToFile(path)
	}

	var doc ledgerDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		slog.Warn("ledger file malformed; starting fresh", "path", path, "error", err)
		l.clear()
		return l.SaveToFile(path)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.supply = make(map[domain.MarketID]map[string]int64)
	l.demand = make(map[domain.MarketID]map[string]int64)
	l.stock = make(map[domain.MarketID]map[string]int64)

	for key, md := range doc {
		market, err := domain.ParseMarketID(key)
		if err != nil || market.IsZero() {
			slog.Warn("skipping unparsable market id in ledger file", "key", key)
			continue
		}
		if m := loadCounts(md.Supply, MinCount, MaxCount); m != nil {
			l.supply[market] = m
		}
		if m := loadCounts(md.Demand, MinCount, MaxCount); m != nil {
			l.demand[market] = m
		}
		if m := loadCounts(md.Stock, 0, MaxCount); m != nil {
			l.stock[market] = m
		}
	}
	return nil
}

func loadCounts(src map[string]int64, min, max int64) map[string]int64 {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]int64, len(src))
	for k, v := range src {
		id := normalizeID(k)
		if id == "" {
			continue
		}
		if v < min {
			v = min
		} else if v > max {
			v = max
		}
		out[id] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (l *Ledger) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.supply = make(map[domain.MarketID]map[string]int64)
	l.demand = make(map[domain.MarketID]map[string]int64)
	l.stock = make(map[domain.MarketID]map[string]int64)
}
