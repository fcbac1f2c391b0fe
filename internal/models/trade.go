package models

import (
	"time"
)

// TradeSide is the aggressor side of a trade.
type TradeSide string

const (
	Buy  TradeSide = "BUY"
	Sell TradeSide = "SELL"
)

// Trade is one decoded live trade notification. Trades are created only by
// the ingestion pipeline and never mutated afterwards.
type Trade struct {
	ID          string
	Timestamp   time.Time
	Side        TradeSide
	Outcome     string
	Price       float64
	Size        float64
	Value       float64
	MarketTitle string
	AssetID     string
	Trader      string
}

// Profile is the upstream view of the authenticated user.
type Profile struct {
	Address   string `json:"proxyWallet"`
	Name      string `json:"name"`
	Pseudonym string `json:"pseudonym"`
}

// Position is a single portfolio holding.
type Position struct {
	AssetID      string  `json:"asset"`
	MarketTitle  string  `json:"title"`
	Outcome      string  `json:"outcome"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	CurrentValue float64 `json:"currentValue"`
	CashPnL      float64 `json:"cashPnl"`
}

// Portfolio aggregates the user's balance and open positions.
type Portfolio struct {
	Balance   float64
	Positions []Position
}
