// Package broker provides the position book the strategy loop polls:
// a paper variant that never touches the network and a live variant speaking
// the brokerage HTTP API, both behind the PositionSource interface, plus the
// TOTP login exchange that produces the session credential.
package broker

import (
	"context"

	"hedgegram/utils"
)

// Side is the direction of a held position.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Position is one enriched row of the position book. Qty is always the
// absolute held size; the sign of PnL already encodes direction.
type Position struct {
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Qty      int     `json:"qty"`
	AvgPrice float64 `json:"avg_price"`
	LTP      float64 `json:"ltp"`
	PnL      float64 `json:"pnl"`
}

// PositionSource is the surface the strategy loop polls each iteration.
type PositionSource interface {
	// FetchPositions returns the current position book with PnL filled in.
	// A nil error with an empty slice means genuinely zero open positions.
	FetchPositions(ctx context.Context) ([]Position, error)
}

// pnlPrecision is the fixed display precision for money amounts.
const pnlPrecision = 2

// ComputePnL returns the unrealized profit for one position, rounded for
// display consistency.
func ComputePnL(side Side, qty int, avgPrice, ltp float64) float64 {
	var pnl float64
	if side == Sell {
		pnl = (avgPrice - ltp) * float64(qty)
	} else {
		pnl = (ltp - avgPrice) * float64(qty)
	}
	return utils.RoundToPrecision(pnl, pnlPrecision)
}

// Enrich returns a new slice with PnL computed for every position, preserving
// the broker's report order. The input is never mutated.
func Enrich(raw []Position) []Position {
	out := make([]Position, len(raw))
	for i, p := range raw {
		p.PnL = ComputePnL(p.Side, p.Qty, p.AvgPrice, p.LTP)
		out[i] = p
	}
	return out
}

// TotalPnL sums the per-position PnL of a snapshot.
func TotalPnL(positions []Position) float64 {
	var total float64
	for _, p := range positions {
		total += p.PnL
	}
	return utils.RoundToPrecision(total, pnlPrecision)
}
