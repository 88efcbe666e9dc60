package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/brandon/medievalmarkets/internal/domain"
	"github.com/brandon/medievalmarkets/internal/ledger"
	"github.com/brandon/medievalmarkets/internal/service"
)

// TownNamer maps a market id back to a display name. Optional: the
// handler works without one.
type TownNamer interface {
	NameOf(market domain.MarketID) (string, bool)
}

// MarketHandler handles HTTP requests for quotes and trades.
type MarketHandler struct {
	svc    *service.MarketService
	ledger *ledger.Ledger
	namer  TownNamer
}

// NewMarketHandler creates a MarketHandler. namer may be nil.
func NewMarketHandler(svc *service.MarketService, l *ledger.Ledger, namer TownNamer) *MarketHandler {
	return &MarketHandler{svc: svc, ledger: l, namer: namer}
}

// commodityResponse is one entry of GET /commodities.
type commodityResponse struct {
	ID          string  `json:"id"`
	Item        string  `json:"item"`
	BaseValue   float64 `json:"base_value"`
	Elasticity  float64 `json:"elasticity"`
	GlobalValue float64 `json:"global_value"`
}

// ListCommodities handles GET /commodities.
func (h *MarketHandler) ListCommodities(w http.ResponseWriter, r *http.Request) {
	reg := h.svc.Registry()
	out := make([]commodityResponse, 0, reg.Len())
	for _, id := range reg.IDs() {
		c, _ := reg.Get(id)
		out = append(out, commodityResponse{
			ID:          c.ID,
			Item:        c.Item,
			BaseValue:   c.BaseValue,
			Elasticity:  c.Elasticity,
			GlobalValue: h.svc.ReferenceValue(c.Item),
		})
	}
	WriteJSON(w, http.StatusOK, out)
}

// quoteResponse is the JSON response for a defended quote.
type quoteResponse struct {
	Market    string  `json:"market"`
	Town      string  `json:"town,omitempty"`
	Commodity string  `json:"commodity"`
	Currency  string  `json:"currency"`
	Raw       float64 `json:"raw"`
	BuyUnit   float64 `json:"buy_unit"`
	SellUnit  float64 `json:"sell_unit"`
	BuyEach   int64   `json:"buy_each"`
	SellEach  int64   `json:"sell_each"`
	Stress    float64 `json:"stress"`
	Supply    int64   `json:"supply"`
	Demand    int64   `json:"demand"`
	Stock     int64   `json:"stock"`
}

// GetQuote handles GET /markets/{location}/quotes/{commodity}.
func (h *MarketHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	location := chi.URLParam(r, "location")
	commodity := chi.URLParam(r, "commodity")

	market, ok := h.svc.MarketAt(location)
	if !ok || market.IsZero() {
		WriteError(w, http.StatusNotFound, "no_market_here", "No market claims this location")
		return
	}
	c, ok := h.svc.Registry().Get(commodity)
	if !ok {
		WriteError(w, http.StatusNotFound, "unknown_commodity", "No such commodity")
		return
	}

	currency := h.svc.CurrencyAt(location)
	q := h.svc.QuoteFor(market, c.ID, currency)
	if q.Raw <= 0 {
		WriteError(w, http.StatusConflict, "unpriceable", "This commodity cannot be priced here")
		return
	}

	resp := quoteResponse{
		Market:    market.String(),
		Commodity: c.ID,
		Currency:  currency,
		Raw:       q.Raw,
		BuyUnit:   q.BuyUnit,
		SellUnit:  q.SellUnit,
		BuyEach:   q.BuyEach,
		SellEach:  q.SellEach,
		Stress:    q.Stress,
		Supply:    h.ledger.Supply(market, c.ID),
		Demand:    h.ledger.Demand(market, c.ID),
		Stock:     h.ledger.Stock(market, c.ID),
	}
	if h.namer != nil {
		if name, ok := h.namer.NameOf(market); ok {
			resp.Town = name
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// tradeRequest is the JSON body for buy and sell.
type tradeRequest struct {
	Account   string `json:"account"`
	Commodity string `json:"commodity"`
	Quantity  int64  `json:"quantity"`
}

// tradeResponse reports a settled trade.
type tradeResponse struct {
	Market   string `json:"market"`
	Currency string `json:"currency"`
	Filled   int64  `json:"filled"`
	Coins    int64  `json:"coins"`
	Tax      int64  `json:"tax"`
}

// Buy handles POST /markets/{location}/buy.
func (h *MarketHandler) Buy(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, h.svc.Buy)
}

// Sell handles POST /markets/{location}/sell.
func (h *MarketHandler) Sell(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, h.svc.Sell)
}

func (h *MarketHandler) trade(w http.ResponseWriter, r *http.Request, settle func(location, account, commodity string, qty int64) (service.TradeResult, error)) {
	location := chi.URLParam(r, "location")

	var req tradeRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Account == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "account is required")
		return
	}

	res, err := settle(location, req.Account, req.Commodity, req.Quantity)
	if err != nil {
		mapTradeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, tradeResponse{
		Market:   res.Market.String(),
		Currency: res.Currency,
		Filled:   res.Filled,
		Coins:    res.Coins,
		Tax:      res.Tax,
	})
}

// mapTradeError maps settlement sentinels to HTTP status codes.
func mapTradeError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		WriteError(w, http.StatusBadRequest, "validation_error", ve.Message)
	case errors.Is(err, domain.ErrNoMarket):
		WriteError(w, http.StatusNotFound, "no_market_here", "No market claims this location")
	case errors.Is(err, domain.ErrUnknownCommodity):
		WriteError(w, http.StatusNotFound, "unknown_commodity", "No such commodity")
	case errors.Is(err, domain.ErrUnpriceable):
		WriteError(w, http.StatusConflict, "unpriceable", "This commodity cannot be priced here")
	case errors.Is(err, domain.ErrInsufficientFunds):
		WriteError(w, http.StatusUnprocessableEntity, "insufficient_funds", "The account cannot afford this purchase")
	case errors.Is(err, domain.ErrTreasuryBroke):
		WriteError(w, http.StatusUnprocessableEntity, "treasury_cannot_afford", "The town treasury cannot afford this purchase")
	case errors.Is(err, domain.ErrNothingToSell):
		WriteError(w, http.StatusUnprocessableEntity, "nothing_to_sell", "The account holds none of this item")
	case errors.Is(err, domain.ErrNotWorthTrading):
		WriteError(w, http.StatusUnprocessableEntity, "not_worth_trading", "The sale is not worth a single coin here")
	case errors.Is(err, domain.ErrOverflow):
		WriteError(w, http.StatusUnprocessableEntity, "total_overflow", "Trade total overflow")
	default:
		slog.Error("trade failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "internal_error", "Trade failed")
	}
}
