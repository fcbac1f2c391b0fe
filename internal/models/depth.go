package models

import (
	"sort"
	"strconv"
)

// RawLevel is a price level as returned by the upstream order-book
// endpoint: decimal strings, in no guaranteed order.
type RawLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// DepthLevel is one processed price level. Total is the cumulative
// price*size notional from the best level down to this one.
type DepthLevel struct {
	Price float64
	Size  float64
	Total float64
}

// DepthSnapshot is the processed order-book view for one asset. Bids are
// sorted descending by price, asks ascending, so the best level is first
// on both sides. The snapshot is rebuilt wholesale on every fetch.
type DepthSnapshot struct {
	AssetID   string
	Bids      []DepthLevel
	Asks      []DepthLevel
	Spread    float64
	HasSpread bool
	// Anomalous is set when best ask < best bid, which upstream data
	// should never produce.
	Anomalous bool
}

// BuildDepth converts raw bid and ask levels into a DepthSnapshot.
// Levels that fail numeric parsing are dropped.
func BuildDepth(assetID string, rawBids, rawAsks []RawLevel) DepthSnapshot {
	bids := parseLevels(rawBids)
	asks := parseLevels(rawAsks)

	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })

	accumulate(bids)
	accumulate(asks)

	snap := DepthSnapshot{
		AssetID: assetID,
		Bids:    bids,
		Asks:    asks,
	}
	if len(bids) > 0 && len(asks) > 0 {
		snap.Spread = asks[0].Price - bids[0].Price
		snap.HasSpread = true
		snap.Anomalous = snap.Spread < 0
	}
	return snap
}

func parseLevels(raw []RawLevel) []DepthLevel {
	levels := make([]DepthLevel, 0, len(raw))
	for _, r := range raw {
		price, err := strconv.ParseFloat(r.Price, 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseFloat(r.Size, 64)
		if err != nil {
			continue
		}
		levels = append(levels, DepthLevel{Price: price, Size: size})
	}
	return levels
}

func accumulate(levels []DepthLevel) {
	total := 0.0
	for i := range levels {
		total += levels[i].Price * levels[i].Size
		levels[i].Total = total
	}
}
