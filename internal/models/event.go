// Package models defines the core domain entities: events, markets, trades,
// and the derived order-book depth and yield views.
package models

import (
	"errors"
	"time"
)

// Event represents a market topic fetched from the upstream API.
// The slug is the stable primary key used for identity and caching.
// Events are immutable snapshots: a refetch replaces the whole value,
// it never patches fields in place.
type Event struct {
	ID         string    `json:"id"`
	Slug       string    `json:"slug"`
	Title      string    `json:"title"`
	Category   string    `json:"category,omitempty"`
	Active     bool      `json:"active"`
	Closed     bool      `json:"closed"`
	Volume     float64   `json:"volume"`
	Volume24hr float64   `json:"volume_24hr"`
	Liquidity  float64   `json:"liquidity"`
	EndDate    time.Time `json:"end_date"`
	Tags       []string  `json:"tags,omitempty"`
	Markets    []Market  `json:"markets"`
}

// Market is a single tradable instrument within an Event. Closed markets
// are terminal: no further price or order-book activity is expected.
type Market struct {
	ConditionID string    `json:"condition_id"`
	Question    string    `json:"question"`
	Closed      bool      `json:"closed"`
	Outcomes    []Outcome `json:"outcomes"`
}

// Outcome is one side of a market with its token identifier and the
// last-known price.
type Outcome struct {
	TokenID string  `json:"token_id"`
	Label   string  `json:"label"`
	Price   float64 `json:"price"`
}

// Validate checks event field constraints.
func (e *Event) Validate() error {
	if e.Slug == "" {
		return errors.New("event slug must not be empty")
	}
	if e.Title == "" {
		return errors.New("event title must not be empty")
	}
	if e.Volume < 0 {
		return errors.New("volume must not be negative")
	}
	if e.Volume24hr < 0 {
		return errors.New("volume 24hr must not be negative")
	}
	if e.Liquidity < 0 {
		return errors.New("liquidity must not be negative")
	}
	for i := range e.Markets {
		if err := e.Markets[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks market field constraints.
func (m *Market) Validate() error {
	if m.ConditionID == "" {
		return errors.New("market condition ID must not be empty")
	}
	if len(m.Outcomes) < 2 {
		return errors.New("market must have at least two outcomes")
	}
	for _, o := range m.Outcomes {
		if o.TokenID == "" {
			return errors.New("outcome token ID must not be empty")
		}
		if o.Price < 0.0 || o.Price > 1.0 {
			return errors.New("outcome price must be between 0.0 and 1.0")
		}
	}
	return nil
}

// AssetIDs returns the token identifiers of every outcome across all
// markets of the event, in declaration order.
func (e *Event) AssetIDs() []string {
	var ids []string
	for _, m := range e.Markets {
		for _, o := range m.Outcomes {
			ids = append(ids, o.TokenID)
		}
	}
	return ids
}
