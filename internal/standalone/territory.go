// Package standalone provides built-in territory, bank, and inventory
// collaborators so the market runs on its own when no external
// territory/economy plugin is wired in. Each type implements the
// corresponding interface consumed by the service layer.
package standalone

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/brandon/medievalmarkets/internal/domain"
)

// Town is one configured settlement: a named market with an adopted
// currency, a sales tax rate, and the location keys it claims.
type Town struct {
	Key      string
	Name     string
	Currency string
	TaxRate  float64
	Treasury int64 // starting treasury balance, in coins
	Market   domain.MarketID
}

// TownTable resolves location keys to towns. It is immutable after
// load, so lookups need no locking.
type TownTable struct {
	towns      map[string]Town // town key → town
	byLocation map[string]string
	byMarket   map[domain.MarketID]string
}

// TownMarketID mints the deterministic market id for a town key, so
// the same town resolves to the same treasury across restarts.
func TownMarketID(key string) domain.MarketID {
	u := uuid.NewSHA1(uuid.NameSpaceOID, []byte("town:"+strings.ToLower(key)))
	return domain.MarketID(u)
}

type townDoc struct {
	Name      string   `yaml:"name"`
	Currency  string   `yaml:"currency"`
	TaxRate   float64  `yaml:"tax-rate"`
	Treasury  int64    `yaml:"treasury"`
	Locations []string `yaml:"locations"`
}

type townsFile struct {
	Rates map[string]float64 `yaml:"rates"`
	Towns map[string]townDoc `yaml:"towns"`
}

// LoadTowns reads the town table and exchange-rate table from a yaml
// file. Towns with no locations still exist (reachable by key-as-
// location). Duplicate location claims keep the first claimant.
func LoadTowns(path string) (*TownTable, map[string]float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var doc townsFile
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, nil, fmt.Errorf("towns file %s: %w", path, err)
	}

	t := &TownTable{
		towns:      make(map[string]Town),
		byLocation: make(map[string]string),
		byMarket:   make(map[domain.MarketID]string),
	}
	for key, td := range doc.Towns {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		town := Town{
			Key:      key,
			Name:     td.Name,
			Currency: strings.ToUpper(strings.TrimSpace(td.Currency)),
			TaxRate:  td.TaxRate,
			Treasury: td.Treasury,
			Market:   TownMarketID(key),
		}
		if town.Name == "" {
			town.Name = key
		}
		t.towns[key] = town
		t.byMarket[town.Market] = key
		for _, loc := range append([]string{key}, td.Locations...) {
			loc = strings.ToLower(strings.TrimSpace(loc))
			if loc == "" {
				continue
			}
			if prev, taken := t.byLocation[loc]; taken && prev != key {
				slog.Warn("location claimed twice; keeping first claimant",
					"location", loc, "kept", prev, "ignored", key)
				continue
			}
			t.byLocation[loc] = key
		}
	}

	rates := make(map[string]float64, len(doc.Rates))
	for code, r := range doc.Rates {
		rates[strings.ToUpper(strings.TrimSpace(code))] = r
	}
	return t, rates, nil
}

func (t *TownTable) townAt(location string) (Town, bool) {
	key, ok := t.byLocation[strings.ToLower(strings.TrimSpace(location))]
	if !ok {
		return Town{}, false
	}
	return t.towns[key], true
}

// MarketAt implements service.Territory.
func (t *TownTable) MarketAt(location string) (domain.MarketID, bool) {
	town, ok := t.townAt(location)
	if !ok {
		return domain.NoMarket, false
	}
	return town.Market, true
}

// CurrencyAt implements service.Territory.
func (t *TownTable) CurrencyAt(location string) (string, bool) {
	town, ok := t.townAt(location)
	if !ok || town.Currency == "" {
		return "", false
	}
	return town.Currency, true
}

// TaxRateAt implements service.Territory.
func (t *TownTable) TaxRateAt(location string) float64 {
	town, ok := t.townAt(location)
	if !ok {
		return 0
	}
	return town.TaxRate
}

// NameOf returns the display name of a market's town.
func (t *TownTable) NameOf(market domain.MarketID) (string, bool) {
	key, ok := t.byMarket[market]
	if !ok {
		return "", false
	}
	return t.towns[key].Name, true
}

// Towns returns all configured towns sorted by key, for seeding and
// listing.
func (t *TownTable) Towns() []Town {
	out := make([]Town, 0, len(t.towns))
	for _, town := range t.towns {
		out = append(out, town)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
