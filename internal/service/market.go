package service

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/brandon/medievalmarkets/internal/domain"
	"github.com/brandon/medievalmarkets/internal/ledger"
	"github.com/brandon/medievalmarkets/internal/pricing"
)

// Territory resolves where a trade is happening: which market (town)
// claims a location, what currency it trades in, and what sales tax it
// charges. Implementations may be backed by an external plugin; the
// core only sees this interface.
type Territory interface {
	// MarketAt returns the market claiming the location, or false in
	// the wilderness.
	MarketAt(location string) (domain.MarketID, bool)
	// CurrencyAt returns the currency code adopted at the location,
	// or false if none is set.
	CurrencyAt(location string) (string, bool)
	// TaxRateAt returns the sales tax rate at the location. The value
	// is untrusted; the service clamps it.
	TaxRateAt(location string) float64
}

// Bank moves coins between accounts. Amounts are whole coins.
type Bank interface {
	// Rate returns the exchange rate of a currency code against the
	// reference currency. Non-positive, NaN, or infinite means the
	// code cannot be priced.
	Rate(code string) float64
	// Withdraw removes coins from an account, reporting whether the
	// account could afford it.
	Withdraw(account, code string, coins int64) bool
	// Deposit credits coins to an account.
	Deposit(account, code string, coins int64)
	// Balance returns an account's balance. An error means the
	// balance is unknown, not zero.
	Balance(account, code string) (float64, error)
}

// Inventory holds physical goods per account.
type Inventory interface {
	// Deliver gives qty units of an item to the account and returns
	// the leftover quantity that did not fit.
	Deliver(account, item string, qty int64) int64
	// Remove takes up to qty units of an item from the account and
	// returns the quantity actually removed.
	Remove(account, item string, qty int64) int64
}

// Params tunes the liquidity defense and tax policy. As a treasury
// runs low, buying from it gets more expensive and selling to it pays
// less, self-limiting a treasury run.
type Params struct {
	// TreasuryTarget is the balance at which a treasury counts as
	// fully healthy (stress 0).
	TreasuryTarget float64
	// BuySpread is added to the buy multiplier at full stress.
	BuySpread float64
	// SellSpread is subtracted from the sell multiplier at full stress.
	SellSpread float64
	// MinSellMult floors the sell multiplier so offers never reach 0.
	MinSellMult float64
	// MaxTax caps the tax rate no matter what the territory reports.
	MaxTax float64
	// DefaultCurrency is quoted in the wilderness, display only.
	DefaultCurrency string
}

// DefaultParams returns the stock tuning.
func DefaultParams() Params {
	return Params{
		TreasuryTarget:  10_000,
		BuySpread:       1.00,
		SellSpread:      0.80,
		MinSellMult:     0.10,
		MaxTax:          0.35,
		DefaultCurrency: "SHEKEL",
	}
}

// Quote is a defended price for one commodity at one market, computed
// fresh per request and never cached.
type Quote struct {
	Raw      float64 // base market price each, in the requested currency
	BuyUnit  float64 // liquidity-defended buy unit price
	SellUnit float64 // liquidity-defended sell unit price
	BuyEach  int64   // ceil(BuyUnit): the market never undercharges
	SellEach int64   // floor(SellUnit): the market never overpays
	Stress   float64 // treasury stress in [0,1]
}

// TradeResult reports the outcome of a settled trade.
type TradeResult struct {
	Market   domain.MarketID
	Currency string
	Filled   int64 // units delivered (buy) or removed (sell)
	Coins    int64 // grand total paid (buy) or net payout received (sell)
	Tax      int64
}

// MarketService quotes prices and settles taxed, integer-safe trades
// against the ledger and the wired collaborators. Territory, bank, and
// inventory integrations are optional: a missing one degrades the
// service (no trades, unpriceable quotes) but never crashes it.
type MarketService struct {
	params    Params
	registry  *domain.Registry
	ledger    *ledger.Ledger
	prices    *pricing.Engine
	territory Territory
	bank      Bank
	inv       Inventory
}

// NewMarketService wires the market core. Any of territory, bank, and
// inv may be nil ("integration absent").
func NewMarketService(
	params Params,
	registry *domain.Registry,
	l *ledger.Ledger,
	prices *pricing.Engine,
	territory Territory,
	bank Bank,
	inv Inventory,
) *MarketService {
	return &MarketService{
		params:    params,
		registry:  registry,
		ledger:    l,
		prices:    prices,
		territory: territory,
		bank:      bank,
		inv:       inv,
	}
}

// Registry exposes the commodity catalog.
func (s *MarketService) Registry() *domain.Registry {
	return s.registry
}

// MarketAt resolves the market at a location, or NoMarket in the
// wilderness or when no territory integration is wired.
func (s *MarketService) MarketAt(location string) (domain.MarketID, bool) {
	if s.territory == nil {
		return domain.NoMarket, false
	}
	return s.territory.MarketAt(location)
}

// CurrencyAt returns the currency adopted at a location, falling back
// to the configured default for display.
func (s *MarketService) CurrencyAt(location string) string {
	if s.territory != nil {
		if code, ok := s.territory.CurrencyAt(location); ok && strings.TrimSpace(code) != "" {
			return strings.ToUpper(strings.TrimSpace(code))
		}
	}
	return s.params.DefaultCurrency
}

// PriceEach returns the base market price of one unit in the requested
// currency, with no liquidity defense applied. 0 means unpriceable.
func (s *MarketService) PriceEach(market domain.MarketID, commodityID, currency string) float64 {
	v := s.prices.Value(market, commodityID) // in reference currency
	r := s.rate(currency)
	if r == 0 {
		return 0
	}
	return v / r
}

// ReferenceValue returns the global value of the commodity backing the
// given item kind, in reference currency units. 0 if no commodity
// represents the item.
func (s *MarketService) ReferenceValue(item string) float64 {
	c, ok := s.registry.ByItem(item)
	if !ok {
		return 0
	}
	return s.prices.GlobalValue(c.ID)
}

// ReferenceValueEach returns the global price of one unit in the
// requested currency. 0 means unpriceable.
func (s *MarketService) ReferenceValueEach(commodityID, currency string) float64 {
	v := s.prices.GlobalValue(commodityID)
	r := s.rate(currency)
	if r == 0 {
		return 0
	}
	return v / r
}

// rate returns a validated exchange rate, or 0 when the code cannot
// be priced (bad rate or no bank wired).
func (s *MarketService) rate(currency string) float64 {
	if s.bank == nil {
		return 0
	}
	r := s.bank.Rate(strings.ToUpper(strings.TrimSpace(currency)))
	if math.IsNaN(r) || math.IsInf(r, 0) || r <= 0 {
		return 0
	}
	return r
}

// QuoteFor computes a defended quote for the commodity at the market.
// A zero quote means no trade may proceed.
func (s *MarketService) QuoteFor(market domain.MarketID, commodityID, currency string) Quote {
	raw := s.PriceEach(market, commodityID, currency)
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw <= 0 {
		return Quote{}
	}

	stress := s.treasuryStress(market, currency)

	buyMult := 1.0 + s.params.BuySpread*stress
	sellMult := 1.0 - s.params.SellSpread*stress
	if sellMult < s.params.MinSellMult {
		sellMult = s.params.MinSellMult
	}

	buyUnit := raw * buyMult
	sellUnit := raw * sellMult

	return Quote{
		Raw:      raw,
		BuyUnit:  buyUnit,
		SellUnit: sellUnit,
		BuyEach:  domain.CeilCoins(buyUnit),
		SellEach: domain.FloorCoins(sellUnit),
		Stress:   stress,
	}
}

// treasuryStress returns 0 (healthy) to 1 (broke). A failed balance
// lookup degrades to 0: a flaky bank integration must not widen
// spreads and choke trade.
func (s *MarketService) treasuryStress(market domain.MarketID, currency string) float64 {
	if s.bank == nil || market.IsZero() {
		return 0
	}
	target := s.params.TreasuryTarget
	if target < 1 {
		target = 1
	}
	bal, err := s.bank.Balance(market.Account(), currency)
	if err != nil || math.IsNaN(bal) || math.IsInf(bal, 0) {
		return 0
	}
	t := bal / target
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return 1 - t
}

func (s *MarketService) taxRateAt(location string) float64 {
	if s.territory == nil {
		return 0
	}
	return domain.ClampTaxRate(s.territory.TaxRateAt(location), s.params.MaxTax)
}

// Buy settles a purchase: the buyer pays cost plus tax into the town
// treasury and receives goods. A partial delivery refunds exactly the
// cost and tax attributable to the undelivered portion; if the
// treasury-side reversal fails the buyer is credited anyway, so nobody
// ever pays for goods they did not get.
func (s *MarketService) Buy(location, account, commodityID string, qty int64) (res TradeResult, err error) {
	// Best-effort compensation on a collaborator panic: whatever the
	// buyer has been charged and not yet received goods for is
	// credited straight back.
	var charged int64
	var currency string
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("buy aborted by collaborator panic", "panic", r)
			if charged > 0 {
				s.bank.Deposit(account, currency, charged)
			}
			res = TradeResult{}
			err = fmt.Errorf("buy failed: %v", r)
		}
	}()

	if s.bank == nil || s.inv == nil {
		return TradeResult{}, domain.ErrUnpriceable
	}
	market, ok := s.MarketAt(location)
	if !ok || market.IsZero() {
		return TradeResult{}, domain.ErrNoMarket
	}
	c, ok := s.registry.Get(commodityID)
	if !ok {
		return TradeResult{}, domain.ErrUnknownCommodity
	}
	if qty <= 0 {
		return TradeResult{}, &domain.ValidationError{Message: "quantity must be positive"}
	}

	currency = s.CurrencyAt(location)
	q := s.QuoteFor(market, c.ID, currency)
	if !(q.BuyUnit > 0) || math.IsNaN(q.BuyUnit) || math.IsInf(q.BuyUnit, 0) {
		return TradeResult{}, domain.ErrUnpriceable
	}

	// Buy totals round up: the market never undercharges.
	cost := domain.CeilCoins(q.BuyUnit * float64(qty))
	if cost <= 0 {
		return TradeResult{}, domain.ErrUnpriceable
	}
	taxRate := s.taxRateAt(location)
	tax := domain.SalesTax(cost, taxRate)

	grand, err := domain.AddCoins(cost, tax)
	if err != nil {
		return TradeResult{}, domain.ErrOverflow
	}

	if !s.bank.Withdraw(account, currency, grand) {
		return TradeResult{}, domain.ErrInsufficientFunds
	}
	charged = grand
	s.bank.Deposit(market.Account(), currency, grand)

	leftover := s.inv.Deliver(account, c.Item, qty)
	if leftover < 0 {
		leftover = 0
	} else if leftover > qty {
		leftover = qty
	}
	delivered := qty - leftover
	// Goods are in the buyer's hands now; the remaining steps settle
	// partial-delivery refunds on their own.
	charged = 0

	paid := grand
	paidTax := tax
	if leftover > 0 {
		// Re-price only what was delivered, on the same defended unit,
		// and refund the difference.
		deliveredCost := domain.CeilCoins(q.BuyUnit * float64(delivered))
		deliveredTax := domain.SalesTax(deliveredCost, taxRate)
		deliveredGrand, aerr := domain.AddCoins(deliveredCost, deliveredTax)
		if aerr != nil {
			deliveredGrand = grand // cannot compute a refund; keep the charge
			deliveredTax = tax
		}
		if refund := grand - deliveredGrand; refund > 0 {
			if s.bank.Withdraw(market.Account(), currency, refund) {
				s.bank.Deposit(account, currency, refund)
			} else {
				// Treasury reversal failed; credit the buyer anyway.
				slog.Warn("treasury refund reversal failed; crediting buyer",
					"market", market, "currency", currency, "refund", refund)
				s.bank.Deposit(account, currency, refund)
			}
			paid = deliveredGrand
			paidTax = deliveredTax
		}
	}

	if delivered > 0 {
		s.ledger.RecordDemand(market, c.ID, delivered)
	}

	return TradeResult{
		Market:   market,
		Currency: currency,
		Filled:   delivered,
		Coins:    paid,
		Tax:      paidTax,
	}, nil
}

// Sell settles a sale: goods leave the seller first, then the treasury
// pays the net payout. Every failure after removal restores the goods
// before returning. A stockless market pays a 1-coin bootstrap rather
// than refusing a worthless first sale, so it can begin accumulating
// inventory.
func (s *MarketService) Sell(location, account, commodityID string, qty int64) (res TradeResult, err error) {
	// Goods leave the seller before money moves; a collaborator panic
	// anywhere after removal must put them back.
	var goodsOut int64
	var item string
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("sell aborted by collaborator panic", "panic", r)
			if goodsOut > 0 {
				s.inv.Deliver(account, item, goodsOut)
			}
			res = TradeResult{}
			err = fmt.Errorf("sell failed: %v", r)
		}
	}()

	if s.bank == nil || s.inv == nil {
		return TradeResult{}, domain.ErrUnpriceable
	}
	market, ok := s.MarketAt(location)
	if !ok || market.IsZero() {
		return TradeResult{}, domain.ErrNoMarket
	}
	c, ok := s.registry.Get(commodityID)
	if !ok {
		return TradeResult{}, domain.ErrUnknownCommodity
	}
	if qty <= 0 {
		return TradeResult{}, &domain.ValidationError{Message: "quantity must be positive"}
	}

	currency := s.CurrencyAt(location)
	item = c.Item

	// Goods leave first; everything below must restore them on failure.
	removed := s.inv.Remove(account, c.Item, qty)
	if removed <= 0 {
		return TradeResult{}, domain.ErrNothingToSell
	}
	goodsOut = removed
	restore := func() {
		goodsOut = 0
		s.inv.Deliver(account, c.Item, removed)
	}

	q := s.QuoteFor(market, c.ID, currency)
	if !(q.SellUnit > 0) || math.IsNaN(q.SellUnit) || math.IsInf(q.SellUnit, 0) {
		restore()
		return TradeResult{}, domain.ErrUnpriceable
	}

	// Sell totals round down: the market never overpays.
	payout := domain.FloorCoins(q.SellUnit * float64(removed))
	if payout <= 0 {
		if s.ledger.Stock(market, c.ID) == 0 {
			// Bootstrap: a market with no stock pays 1 coin so trade
			// can start at all.
			payout = 1
		} else {
			restore()
			return TradeResult{}, domain.ErrNotWorthTrading
		}
	}

	taxRate := s.taxRateAt(location)
	tax := domain.SalesTax(payout, taxRate)
	net := payout - tax
	if net <= 0 {
		restore()
		return TradeResult{}, domain.ErrNotWorthTrading
	}

	// The treasury pays net only; tax stays in town. It must never go
	// negative to complete a sale.
	if !s.bank.Withdraw(market.Account(), currency, net) {
		restore()
		return TradeResult{}, domain.ErrTreasuryBroke
	}
	s.bank.Deposit(account, currency, net)
	goodsOut = 0

	s.ledger.RecordSupply(market, c.ID, removed)
	s.ledger.AddStock(market, c.ID, removed)

	return TradeResult{
		Market:   market,
		Currency: currency,
		Filled:   removed,
		Coins:    net,
		Tax:      tax,
	}, nil
}
