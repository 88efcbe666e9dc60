package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brandon/medievalmarkets/internal/service"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// defaultStreamInterval between quote pushes.
	defaultStreamInterval = 2 * time.Second
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. In production, restrict this to known origins.
		return true
	},
}

// QuoteStream pushes fresh defended quotes for one location over a
// WebSocket on an interval. Quotes are recomputed every tick — they
// are ephemeral by design and never cached.
type QuoteStream struct {
	svc      *service.MarketService
	interval time.Duration
}

// NewQuoteStream creates a QuoteStream. interval <= 0 uses the default.
func NewQuoteStream(svc *service.MarketService, interval time.Duration) *QuoteStream {
	if interval <= 0 {
		interval = defaultStreamInterval
	}
	return &QuoteStream{svc: svc, interval: interval}
}

// streamMsg is one pushed quote frame.
type streamMsg struct {
	Location  string  `json:"location"`
	Commodity string  `json:"commodity"`
	Currency  string  `json:"currency"`
	BuyEach   int64   `json:"buy_each"`
	SellEach  int64   `json:"sell_each"`
	Stress    float64 `json:"stress"`
	At        string  `json:"at"`
}

// Serve handles GET /ws/quotes?location=...&commodity=...
func (s *QuoteStream) Serve(w http.ResponseWriter, r *http.Request) {
	location := r.URL.Query().Get("location")
	commodity := r.URL.Query().Get("commodity")

	market, ok := s.svc.MarketAt(location)
	if !ok || market.IsZero() {
		WriteError(w, http.StatusNotFound, "no_market_here", "No market claims this location")
		return
	}
	if _, ok := s.svc.Registry().Get(commodity); !ok {
		WriteError(w, http.StatusNotFound, "unknown_commodity", "No such commodity")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Drain client frames so pings/close are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	currency := s.svc.CurrencyAt(location)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		q := s.svc.QuoteFor(market, commodity, currency)
		msg := streamMsg{
			Location:  location,
			Commodity: commodity,
			Currency:  currency,
			BuyEach:   q.BuyEach,
			SellEach:  q.SellEach,
			Stress:    q.Stress,
			At:        time.Now().UTC().Format(time.RFC3339),
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
