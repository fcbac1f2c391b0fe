package models

import (
	"math"
	"sort"
	"time"
)

// YieldOpportunity is a near-certain outcome that can still be bought at a
// discount. It carries only the event slug as a reference; the full event
// is resolved through the slug-keyed cache when selected.
type YieldOpportunity struct {
	EventSlug  string
	EventTitle string
	Question   string
	Outcome    string
	TokenID    string
	Price      float64
	DaysLeft   float64
	Periodic   float64
	Annualized float64
}

// minYieldPrice excludes outcomes that are effectively resolved already;
// buying at 0.999 leaves nothing to earn after fees.
const minYieldPrice = 0.50

// FindYieldOpportunities scans events for outcomes priced in
// [minPrice, maxPrice] with a known future end date and computes the
// periodic and annualized return of buying and holding to resolution.
// Results are sorted by annualized return, best first.
func FindYieldOpportunities(events []Event, minPrice, maxPrice float64, now time.Time) []YieldOpportunity {
	if minPrice < minYieldPrice {
		minPrice = minYieldPrice
	}
	var opps []YieldOpportunity
	for _, e := range events {
		if e.Closed || e.EndDate.IsZero() || !e.EndDate.After(now) {
			continue
		}
		days := e.EndDate.Sub(now).Hours() / 24
		if days < 1 {
			days = 1
		}
		for _, m := range e.Markets {
			if m.Closed {
				continue
			}
			for _, o := range m.Outcomes {
				if o.Price < minPrice || o.Price > maxPrice || o.Price <= 0 {
					continue
				}
				periodic := (1 - o.Price) / o.Price
				annualized := math.Pow(1/o.Price, 365/days) - 1
				opps = append(opps, YieldOpportunity{
					EventSlug:  e.Slug,
					EventTitle: e.Title,
					Question:   m.Question,
					Outcome:    o.Label,
					TokenID:    o.TokenID,
					Price:      o.Price,
					DaysLeft:   days,
					Periodic:   periodic,
					Annualized: annualized,
				})
			}
		}
	}
	sort.Slice(opps, func(i, j int) bool { return opps[i].Annualized > opps[j].Annualized })
	return opps
}
