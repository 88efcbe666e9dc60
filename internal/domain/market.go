package domain

import "github.com/google/uuid"

// MarketID identifies one trading venue and its treasury. It is an
// opaque key supplied by whatever territory integration is wired in;
// the core never mints one itself and never interprets its contents.
type MarketID uuid.UUID

// NoMarket is the zero MarketID, meaning "no market here" (wilderness).
var NoMarket MarketID

// ParseMarketID parses the string form produced by String.
func ParseMarketID(s string) (MarketID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NoMarket, err
	}
	return MarketID(u), nil
}

func (m MarketID) String() string {
	return uuid.UUID(m).String()
}

// IsZero reports whether m is the wilderness sentinel.
func (m MarketID) IsZero() bool {
	return m == NoMarket
}

// Account returns the string account key of this market's treasury
// wallet, for use with a Bank collaborator.
func (m MarketID) Account() string {
	return m.String()
}
