package domain

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// itemKindRegex matches the uppercase token naming the physical good a
// commodity represents (e.g. WHEAT, IRON_INGOT).
var itemKindRegex = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,63}$`)

// Commodity is one immutable catalog entry. BaseValue is the
// reference-currency price at balanced supply and demand; Elasticity
// is the exponent applied to the demand/supply ratio.
type Commodity struct {
	ID         string
	Item       string
	BaseValue  float64
	Elasticity float64
}

// Registry is the immutable commodity catalog, built once at load.
type Registry struct {
	byID   map[string]Commodity
	byItem map[string]string // item kind → commodity id
	ids    []string          // sorted
}

// NewRegistry builds a registry from the given commodities. Entries
// with invalid fields are skipped with a warning, never fatal — one
// bad config line must not take out the rest of the catalog.
func NewRegistry(commodities []Commodity) *Registry {
	r := &Registry{
		byID:   make(map[string]Commodity),
		byItem: make(map[string]string),
	}
	for _, c := range commodities {
		c.ID = strings.ToLower(strings.TrimSpace(c.ID))
		c.Item = strings.ToUpper(strings.TrimSpace(c.Item))
		if err := c.validate(); err != nil {
			slog.Warn("skipping commodity", "id", c.ID, "error", err)
			continue
		}
		if _, dup := r.byID[c.ID]; dup {
			slog.Warn("skipping duplicate commodity", "id", c.ID)
			continue
		}
		r.byID[c.ID] = c
		if _, taken := r.byItem[c.Item]; !taken {
			r.byItem[c.Item] = c.ID
		}
		r.ids = append(r.ids, c.ID)
	}
	sort.Strings(r.ids)
	return r
}

func (c Commodity) validate() error {
	if c.ID == "" {
		return fmt.Errorf("empty id")
	}
	if !itemKindRegex.MatchString(c.Item) {
		return fmt.Errorf("unrecognized item kind %q", c.Item)
	}
	if math.IsNaN(c.BaseValue) || math.IsInf(c.BaseValue, 0) || c.BaseValue <= 0 {
		return fmt.Errorf("base value must be a positive finite number, got %v", c.BaseValue)
	}
	if math.IsNaN(c.Elasticity) || math.IsInf(c.Elasticity, 0) || c.Elasticity < 0 {
		return fmt.Errorf("elasticity must be a non-negative finite number, got %v", c.Elasticity)
	}
	return nil
}

// Get returns the commodity for a (case-insensitive) id.
func (r *Registry) Get(id string) (Commodity, bool) {
	c, ok := r.byID[strings.ToLower(strings.TrimSpace(id))]
	return c, ok
}

// ByItem returns the commodity representing the given item kind.
func (r *Registry) ByItem(item string) (Commodity, bool) {
	id, ok := r.byItem[strings.ToUpper(strings.TrimSpace(item))]
	if !ok {
		return Commodity{}, false
	}
	return r.byID[id], true
}

// IDs returns all commodity ids in sorted order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// Len returns the number of commodities in the catalog.
func (r *Registry) Len() int {
	return len(r.byID)
}

// commodityDoc is the yaml shape of one registry entry.
type commodityDoc struct {
	Item       string  `yaml:"item"`
	BaseValue  float64 `yaml:"base-value"`
	Elasticity float64 `yaml:"elasticity"`
}

// registryDoc is the yaml shape of the commodities file.
type registryDoc struct {
	Commodities map[string]commodityDoc `yaml:"commodities"`
}

// LoadRegistry reads the commodity catalog from a yaml file.
// A missing commodities section yields an empty registry, not an error.
func LoadRegistry(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc registryDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("commodities file %s: %w", path, err)
	}
	if doc.Commodities == nil {
		slog.Warn("no commodities section found", "path", path)
	}
	list := make([]Commodity, 0, len(doc.Commodities))
	for id, cd := range doc.Commodities {
		list = append(list, Commodity{
			ID:         id,
			Item:       cd.Item,
			BaseValue:  cd.BaseValue,
			Elasticity: cd.Elasticity,
		})
	}
	return NewRegistry(list), nil
}
