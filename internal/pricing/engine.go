// Package pricing turns ledger counts into reference values using the
// elasticity curve: value = base * (demand/supply)^elasticity.
package pricing

import (
	"math"

	"github.com/brandon/medievalmarkets/internal/domain"
	"github.com/brandon/medievalmarkets/internal/ledger"
)

// Engine computes commodity values from the ledger's current
// supply/demand ratios. It is stateless given its two inputs.
type Engine struct {
	ledger   *ledger.Ledger
	registry *domain.Registry
}

// New creates a price engine over the given ledger and catalog.
func New(l *ledger.Ledger, r *domain.Registry) *Engine {
	return &Engine{ledger: l, registry: r}
}

// Value returns the reference-currency value of a commodity at one
// market. Returns 0 for an unknown commodity or the wilderness market:
// callers must treat 0 as "unpriceable here", not "free".
func (e *Engine) Value(market domain.MarketID, commodityID string) float64 {
	if market.IsZero() {
		return 0
	}
	c, ok := e.registry.Get(commodityID)
	if !ok {
		return 0
	}
	s := e.ledger.Supply(market, c.ID)
	d := e.ledger.Demand(market, c.ID)
	return curve(c, s, d)
}

// GlobalValue returns the commodity's value against the aggregate
// supply/demand across every market. Currency integrations use this
// to value commodity-backed currencies.
func (e *Engine) GlobalValue(commodityID string) float64 {
	c, ok := e.registry.Get(commodityID)
	if !ok {
		return 0
	}
	s := e.ledger.GlobalSupply(c.ID)
	d := e.ledger.GlobalDemand(c.ID)
	return curve(c, s, d)
}

// curve applies the elasticity curve. Demand-heavy commodities rise in
// price; elasticity 0 pins the value at base.
func curve(c domain.Commodity, supply, demand int64) float64 {
	if supply < 1 {
		supply = 1
	}
	if demand < 1 {
		demand = 1
	}
	ratio := float64(demand) / float64(supply)
	return c.BaseValue * math.Pow(ratio, c.Elasticity)
}
