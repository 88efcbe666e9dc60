package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrUnknownCommodity  = errors.New("unknown_commodity")
	ErrNoMarket          = errors.New("no_market_here")
	ErrUnpriceable       = errors.New("unpriceable")
	ErrInsufficientFunds = errors.New("insufficient_funds")
	ErrTreasuryBroke     = errors.New("treasury_cannot_afford")
	ErrNothingToSell     = errors.New("nothing_to_sell")
	ErrNotWorthTrading   = errors.New("not_worth_trading")
	ErrOverflow          = errors.New("total_overflow")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
