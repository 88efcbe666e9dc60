package service

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/brandon/medievalmarkets/internal/domain"
	"github.com/brandon/medievalmarkets/internal/ledger"
	"github.com/brandon/medievalmarkets/internal/pricing"
)

func testMarket(n byte) domain.MarketID {
	var u uuid.UUID
	u[15] = n
	u[0] = 0xc0
	return domain.MarketID(u)
}

// fakeTerritory claims a single location for a single market.
type fakeTerritory struct {
	location string
	market   domain.MarketID
	currency string
	taxRate  float64
}

func (f *fakeTerritory) MarketAt(location string) (domain.MarketID, bool) {
	if location == f.location {
		return f.market, true
	}
	return domain.NoMarket, false
}

func (f *fakeTerritory) CurrencyAt(location string) (string, bool) {
	if location == f.location && f.currency != "" {
		return f.currency, true
	}
	return "", false
}

func (f *fakeTerritory) TaxRateAt(location string) float64 {
	return f.taxRate
}

// fakeBank is an in-memory bank with scriptable failure modes.
type fakeBank struct {
	rates      map[string]float64
	balances   map[string]int64 // account|code → coins
	balanceErr bool
	panicOn    string // "deposit" or "withdraw"; fires once
}

func newFakeBank(rate float64) *fakeBank {
	return &fakeBank{
		rates:    map[string]float64{"SHEKEL": rate},
		balances: make(map[string]int64),
	}
}

func bkey(account, code string) string { return account + "|" + code }

func (f *fakeBank) Rate(code string) float64 { return f.rates[code] }

func (f *fakeBank) Withdraw(account, code string, coins int64) bool {
	if f.panicOn == "withdraw" {
		f.panicOn = ""
		panic("bank withdraw exploded")
	}
	if f.balances[bkey(account, code)] < coins {
		return false
	}
	f.balances[bkey(account, code)] -= coins
	return true
}

func (f *fakeBank) Deposit(account, code string, coins int64) {
	if f.panicOn == "deposit" {
		f.panicOn = ""
		panic("bank deposit exploded")
	}
	f.balances[bkey(account, code)] += coins
}

func (f *fakeBank) Balance(account, code string) (float64, error) {
	if f.balanceErr {
		return 0, fmt.Errorf("api mismatch")
	}
	return float64(f.balances[bkey(account, code)]), nil
}

// fakeInventory holds goods with an optional delivery cap per call.
type fakeInventory struct {
	items       map[string]int64 // account|item → count
	deliverCap  int64            // max units per Deliver call; 0 = unlimited
	failDeliver bool             // deliver nothing at all
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{items: make(map[string]int64)}
}

func (f *fakeInventory) Deliver(account, item string, qty int64) int64 {
	if f.failDeliver {
		return qty
	}
	give := qty
	if f.deliverCap > 0 && give > f.deliverCap {
		give = f.deliverCap
	}
	f.items[bkey(account, item)] += give
	return qty - give
}

func (f *fakeInventory) Remove(account, item string, qty int64) int64 {
	have := f.items[bkey(account, item)]
	take := qty
	if take > have {
		take = have
	}
	f.items[bkey(account, item)] -= take
	return take
}

type fixture struct {
	svc    *MarketService
	ledger *ledger.Ledger
	terr   *fakeTerritory
	bank   *fakeBank
	inv    *fakeInventory
	market domain.MarketID
}

// newFixture builds a service around one town ("square") trading
// wheat in SHEKEL at rate 1, with a healthy treasury (stress 0) and
// no tax unless configured.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := testMarket(1)
	reg := domain.NewRegistry([]domain.Commodity{
		{ID: "wheat", Item: "WHEAT", BaseValue: 5.0, Elasticity: 0.5},
		{ID: "straw", Item: "STRAW", BaseValue: 0.5, Elasticity: 0.5},
	})
	l := ledger.New()
	terr := &fakeTerritory{location: "square", market: m, currency: "SHEKEL"}
	bank := newFakeBank(1.0)
	inv := newFakeInventory()

	// Healthy treasury at the default target.
	bank.balances[bkey(m.Account(), "SHEKEL")] = 10_000

	svc := NewMarketService(DefaultParams(), reg, l, pricing.New(l, reg), terr, bank, inv)
	return &fixture{svc: svc, ledger: l, terr: terr, bank: bank, inv: inv, market: m}
}

// --- Quoting ---

func TestQuoteFor_HealthyTreasuryNoSpread(t *testing.T) {
	f := newFixture(t)

	q := f.svc.QuoteFor(f.market, "wheat", "SHEKEL")
	if q.Raw != 5.0 {
		t.Fatalf("Raw = %v, want 5.0", q.Raw)
	}
	if q.Stress != 0 {
		t.Fatalf("Stress = %v, want 0", q.Stress)
	}
	if q.BuyUnit != 5.0 || q.SellUnit != 5.0 {
		t.Fatalf("units = %v/%v, want 5.0/5.0", q.BuyUnit, q.SellUnit)
	}
	if q.BuyEach != 5 || q.SellEach != 5 {
		t.Fatalf("each = %d/%d, want 5/5", q.BuyEach, q.SellEach)
	}
}

func TestQuoteFor_BrokeTreasuryWidensSpread(t *testing.T) {
	f := newFixture(t)
	f.bank.balances[bkey(f.market.Account(), "SHEKEL")] = 0

	q := f.svc.QuoteFor(f.market, "wheat", "SHEKEL")
	if q.Stress != 1 {
		t.Fatalf("Stress = %v, want 1", q.Stress)
	}
	// BuySpread 1.0 → 2x buy; SellSpread 0.8 → 0.2x sell.
	if math.Abs(q.BuyUnit-10.0) > 1e-9 {
		t.Fatalf("BuyUnit = %v, want 10.0", q.BuyUnit)
	}
	if math.Abs(q.SellUnit-1.0) > 1e-9 {
		t.Fatalf("SellUnit = %v, want 1.0", q.SellUnit)
	}
}

func TestQuoteFor_SellMultiplierFloored(t *testing.T) {
	f := newFixture(t)
	f.bank.balances[bkey(f.market.Account(), "SHEKEL")] = 0

	params := DefaultParams()
	params.SellSpread = 1.0 // would zero the sell side without the floor
	svc := NewMarketService(params, f.svc.Registry(), f.ledger, pricing.New(f.ledger, f.svc.Registry()), f.terr, f.bank, f.inv)

	q := svc.QuoteFor(f.market, "wheat", "SHEKEL")
	if math.Abs(q.SellUnit-5.0*params.MinSellMult) > 1e-9 {
		t.Fatalf("SellUnit = %v, want floored at %v", q.SellUnit, 5.0*params.MinSellMult)
	}
}

func TestQuoteFor_BalanceLookupFailureAssumesHealthy(t *testing.T) {
	f := newFixture(t)
	f.bank.balanceErr = true

	q := f.svc.QuoteFor(f.market, "wheat", "SHEKEL")
	if q.Stress != 0 {
		t.Fatalf("Stress = %v, want 0 on lookup failure", q.Stress)
	}
	if q.BuyUnit != 5.0 {
		t.Fatalf("BuyUnit = %v, want undistorted 5.0", q.BuyUnit)
	}
}

func TestQuoteFor_InvalidRateIsUnpriceable(t *testing.T) {
	f := newFixture(t)
	for _, rate := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		f.bank.rates["SHEKEL"] = rate
		q := f.svc.QuoteFor(f.market, "wheat", "SHEKEL")
		if q != (Quote{}) {
			t.Fatalf("rate %v: quote = %+v, want zero quote", rate, q)
		}
	}
}

func TestPriceEach_ConvertsByRate(t *testing.T) {
	f := newFixture(t)
	f.bank.rates["FLORIN"] = 2.0

	// 5 SHEKEL reference value at rate 2 → 2.5 FLORIN.
	if got := f.svc.PriceEach(f.market, "wheat", "FLORIN"); math.Abs(got-2.5) > 1e-9 {
		t.Fatalf("PriceEach = %v, want 2.5", got)
	}
}

// --- Buy settlement ---

func TestBuy_HappyPath(t *testing.T) {
	f := newFixture(t)
	f.bank.balances[bkey("alice", "SHEKEL")] = 1000
	f.terr.taxRate = 0.10

	res, err := f.svc.Buy("square", "alice", "wheat", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// cost = ceil(5.0*10) = 50, tax = floor(50*0.10) = 5, grand = 55.
	if res.Filled != 10 || res.Coins != 55 || res.Tax != 5 {
		t.Fatalf("result = %+v, want filled 10, coins 55, tax 5", res)
	}
	if got := f.bank.balances[bkey("alice", "SHEKEL")]; got != 945 {
		t.Fatalf("buyer balance = %d, want 945", got)
	}
	if got := f.bank.balances[bkey(f.market.Account(), "SHEKEL")]; got != 10_055 {
		t.Fatalf("treasury = %d, want 10055", got)
	}
	if got := f.inv.items[bkey("alice", "WHEAT")]; got != 10 {
		t.Fatalf("delivered = %d, want 10", got)
	}
	// Demand recorded for the delivered quantity.
	if got := f.ledger.Demand(f.market, "wheat"); got != ledger.Baseline+10 {
		t.Fatalf("demand = %d, want %d", got, ledger.Baseline+10)
	}
}

func TestBuy_WorkedExample(t *testing.T) {
	// buyUnit ≈ 7.07 (ratio 2, elasticity 0.5), qty 10 →
	// cost = ceil(70.7) = 71, tax = floor(71*0.10) = 7, grand = 78.
	f := newFixture(t)
	f.terr.taxRate = 0.10
	f.ledger.RecordDemand(f.market, "wheat", 1000) // demand 2000 vs supply 1000
	f.bank.balances[bkey("alice", "SHEKEL")] = 1000

	res, err := f.svc.Buy("square", "alice", "wheat", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Coins != 78 || res.Tax != 7 {
		t.Fatalf("coins = %d, tax = %d; want 78, 7", res.Coins, res.Tax)
	}
}

func TestBuy_InsufficientFundsNoSideEffects(t *testing.T) {
	f := newFixture(t)
	f.bank.balances[bkey("alice", "SHEKEL")] = 3 // needs 50

	_, err := f.svc.Buy("square", "alice", "wheat", 10)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("error = %v, want ErrInsufficientFunds", err)
	}
	if got := f.bank.balances[bkey("alice", "SHEKEL")]; got != 3 {
		t.Fatalf("buyer balance = %d, want untouched 3", got)
	}
	if got := f.inv.items[bkey("alice", "WHEAT")]; got != 0 {
		t.Fatalf("delivered = %d, want 0", got)
	}
	if got := f.ledger.Demand(f.market, "wheat"); got != ledger.Baseline {
		t.Fatalf("demand = %d, want untouched baseline", got)
	}
}

func TestBuy_PartialDeliveryRefundsUndeliveredPortion(t *testing.T) {
	f := newFixture(t)
	f.terr.taxRate = 0.10
	f.bank.balances[bkey("alice", "SHEKEL")] = 1000
	f.inv.deliverCap = 4 // only 4 of 10 fit

	res, err := f.svc.Buy("square", "alice", "wheat", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Filled != 4 {
		t.Fatalf("filled = %d, want 4", res.Filled)
	}

	// Full: cost 50, tax 5, grand 55. Delivered 4: cost 20, tax 2,
	// grand 22. Refund 33.
	if res.Coins != 22 || res.Tax != 2 {
		t.Fatalf("coins = %d, tax = %d; want 22, 2", res.Coins, res.Tax)
	}
	if got := f.bank.balances[bkey("alice", "SHEKEL")]; got != 978 {
		t.Fatalf("buyer balance = %d, want 978", got)
	}
	// Treasury retains exactly the delivered portion's cost+tax.
	if got := f.bank.balances[bkey(f.market.Account(), "SHEKEL")]; got != 10_022 {
		t.Fatalf("treasury = %d, want 10022", got)
	}
	// Demand recorded only for what was delivered.
	if got := f.ledger.Demand(f.market, "wheat"); got != ledger.Baseline+4 {
		t.Fatalf("demand = %d, want %d", got, ledger.Baseline+4)
	}
}

func TestBuy_NothingDeliveredRefundsEverything(t *testing.T) {
	f := newFixture(t)
	f.terr.taxRate = 0.10
	f.bank.balances[bkey("alice", "SHEKEL")] = 100
	f.inv.failDeliver = true

	res, err := f.svc.Buy("square", "alice", "wheat", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Filled != 0 || res.Coins != 0 || res.Tax != 0 {
		t.Fatalf("result = %+v, want all-zero settlement", res)
	}
	if got := f.bank.balances[bkey("alice", "SHEKEL")]; got != 100 {
		t.Fatalf("buyer balance = %d, want fully refunded 100", got)
	}
}

func TestBuy_TaxRateClamped(t *testing.T) {
	f := newFixture(t)
	f.terr.taxRate = 5.0 // misbehaving integration reports 500%
	f.bank.balances[bkey("alice", "SHEKEL")] = 1000

	res, err := f.svc.Buy("square", "alice", "wheat", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// cost 50, tax clamped to MaxTax 0.35 → floor(17.5) = 17.
	if res.Tax != 17 {
		t.Fatalf("tax = %d, want clamped 17", res.Tax)
	}
}

func TestBuy_Preconditions(t *testing.T) {
	f := newFixture(t)
	f.bank.balances[bkey("alice", "SHEKEL")] = 1000

	if _, err := f.svc.Buy("wilderness", "alice", "wheat", 1); !errors.Is(err, domain.ErrNoMarket) {
		t.Errorf("wilderness buy error = %v, want ErrNoMarket", err)
	}
	if _, err := f.svc.Buy("square", "alice", "diamond", 1); !errors.Is(err, domain.ErrUnknownCommodity) {
		t.Errorf("unknown commodity error = %v, want ErrUnknownCommodity", err)
	}
	var ve *domain.ValidationError
	if _, err := f.svc.Buy("square", "alice", "wheat", 0); !errors.As(err, &ve) {
		t.Errorf("zero qty error = %v, want ValidationError", err)
	}
}

func TestBuy_CollaboratorPanicRefundsBuyer(t *testing.T) {
	f := newFixture(t)
	f.bank.balances[bkey("alice", "SHEKEL")] = 1000
	f.bank.panicOn = "deposit" // treasury deposit explodes after withdraw

	_, err := f.svc.Buy("square", "alice", "wheat", 10)
	if err == nil {
		t.Fatal("expected an error from the panicking collaborator")
	}
	if got := f.bank.balances[bkey("alice", "SHEKEL")]; got != 1000 {
		t.Fatalf("buyer balance = %d, want fully refunded 1000", got)
	}
	if got := f.inv.items[bkey("alice", "WHEAT")]; got != 0 {
		t.Fatalf("delivered = %d, want 0", got)
	}
}

// --- Sell settlement ---

func TestSell_HappyPath(t *testing.T) {
	f := newFixture(t)
	f.terr.taxRate = 0.10
	f.inv.items[bkey("bob", "WHEAT")] = 20

	res, err := f.svc.Sell("square", "bob", "wheat", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// payout = floor(5.0*10) = 50, tax = floor(50*0.10) = 5, net = 45.
	if res.Filled != 10 || res.Coins != 45 || res.Tax != 5 {
		t.Fatalf("result = %+v, want filled 10, coins 45, tax 5", res)
	}
	if got := f.bank.balances[bkey("bob", "SHEKEL")]; got != 45 {
		t.Fatalf("seller balance = %d, want 45", got)
	}
	// Treasury pays net only; tax stays in town.
	if got := f.bank.balances[bkey(f.market.Account(), "SHEKEL")]; got != 10_000-45 {
		t.Fatalf("treasury = %d, want %d", got, 10_000-45)
	}
	if got := f.inv.items[bkey("bob", "WHEAT")]; got != 10 {
		t.Fatalf("remaining goods = %d, want 10", got)
	}
	if got := f.ledger.Supply(f.market, "wheat"); got != ledger.Baseline+10 {
		t.Fatalf("supply = %d, want %d", got, ledger.Baseline+10)
	}
	if got := f.ledger.Stock(f.market, "wheat"); got != 10 {
		t.Fatalf("stock = %d, want 10", got)
	}
}

func TestSell_PartialRemoval(t *testing.T) {
	f := newFixture(t)
	f.inv.items[bkey("bob", "WHEAT")] = 3

	res, err := f.svc.Sell("square", "bob", "wheat", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Filled != 3 {
		t.Fatalf("filled = %d, want the 3 actually held", res.Filled)
	}
	if res.Coins != 15 {
		t.Fatalf("coins = %d, want floor(5*3) = 15", res.Coins)
	}
}

func TestSell_NothingHeld(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Sell("square", "bob", "wheat", 10)
	if !errors.Is(err, domain.ErrNothingToSell) {
		t.Fatalf("error = %v, want ErrNothingToSell", err)
	}
}

func TestSell_BootstrapPayout(t *testing.T) {
	// One unit of a cheap commodity floors to 0 coins. With zero stock
	// the market pays the 1-coin bootstrap instead of refusing.
	f := newFixture(t)
	f.inv.items[bkey("bob", "STRAW")] = 1

	res, err := f.svc.Sell("square", "bob", "straw", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Coins != 1 {
		t.Fatalf("coins = %d, want bootstrap 1", res.Coins)
	}
	if got := f.ledger.Stock(f.market, "straw"); got != 1 {
		t.Fatalf("stock = %d, want 1", got)
	}
	if got := f.bank.balances[bkey("bob", "SHEKEL")]; got != 1 {
		t.Fatalf("seller balance = %d, want 1", got)
	}
}

func TestSell_WorthlessWithStockFails(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddStock(f.market, "straw", 100) // market already has stock
	f.inv.items[bkey("bob", "STRAW")] = 1

	_, err := f.svc.Sell("square", "bob", "straw", 1)
	if !errors.Is(err, domain.ErrNotWorthTrading) {
		t.Fatalf("error = %v, want ErrNotWorthTrading", err)
	}
	// Goods returned.
	if got := f.inv.items[bkey("bob", "STRAW")]; got != 1 {
		t.Fatalf("goods = %d, want restored 1", got)
	}
}

func TestSell_TreasuryBrokeRestoresGoods(t *testing.T) {
	f := newFixture(t)
	f.inv.items[bkey("bob", "WHEAT")] = 10

	// Near-empty treasury: the stressed payout still exceeds what the
	// treasury can pay, so the withdrawal is refused.
	f.bank.balances[bkey(f.market.Account(), "SHEKEL")] = 3

	before := f.bank.balances[bkey("bob", "SHEKEL")]
	_, err := f.svc.Sell("square", "bob", "wheat", 10)
	if !errors.Is(err, domain.ErrTreasuryBroke) {
		t.Fatalf("error = %v, want ErrTreasuryBroke", err)
	}
	if got := f.inv.items[bkey("bob", "WHEAT")]; got != 10 {
		t.Fatalf("goods = %d, want fully restored 10", got)
	}
	if got := f.bank.balances[bkey("bob", "SHEKEL")]; got != before {
		t.Fatalf("seller balance = %d, want unchanged %d", got, before)
	}
}

func TestSell_CollaboratorPanicRestoresGoods(t *testing.T) {
	f := newFixture(t)
	f.inv.items[bkey("bob", "WHEAT")] = 10
	f.bank.panicOn = "withdraw"

	_, err := f.svc.Sell("square", "bob", "wheat", 10)
	if err == nil {
		t.Fatal("expected an error from the panicking collaborator")
	}
	if got := f.inv.items[bkey("bob", "WHEAT")]; got != 10 {
		t.Fatalf("goods = %d, want restored 10", got)
	}
}

// --- Degraded integrations ---

func TestTrade_AbsentIntegrations(t *testing.T) {
	reg := domain.NewRegistry([]domain.Commodity{
		{ID: "wheat", Item: "WHEAT", BaseValue: 5.0, Elasticity: 0.5},
	})
	l := ledger.New()
	svc := NewMarketService(DefaultParams(), reg, l, pricing.New(l, reg), nil, nil, nil)

	if _, ok := svc.MarketAt("anywhere"); ok {
		t.Fatal("absent territory must resolve no market")
	}
	if got := svc.CurrencyAt("anywhere"); got != "SHEKEL" {
		t.Fatalf("CurrencyAt = %q, want default SHEKEL", got)
	}
	if q := svc.QuoteFor(testMarket(1), "wheat", "SHEKEL"); q != (Quote{}) {
		t.Fatalf("quote = %+v, want zero quote with no bank", q)
	}
	if _, err := svc.Buy("anywhere", "alice", "wheat", 1); err == nil {
		t.Fatal("buy must fail cleanly with absent integrations")
	}
	if _, err := svc.Sell("anywhere", "bob", "wheat", 1); err == nil {
		t.Fatal("sell must fail cleanly with absent integrations")
	}
}

func TestReferenceValue(t *testing.T) {
	f := newFixture(t)

	if got := f.svc.ReferenceValue("WHEAT"); got != 5.0 {
		t.Fatalf("ReferenceValue = %v, want 5.0", got)
	}
	if got := f.svc.ReferenceValue("DIAMOND"); got != 0 {
		t.Fatalf("ReferenceValue(unknown) = %v, want 0", got)
	}
	if got := f.svc.ReferenceValueEach("wheat", "SHEKEL"); got != 5.0 {
		t.Fatalf("ReferenceValueEach = %v, want 5.0", got)
	}
}
