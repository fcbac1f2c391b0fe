package archive

import (
	"fmt"
	"testing"
	"time"

	"github.com/rewired-gh/polyterm/internal/models"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := New(100, ":memory:")
	if err != nil {
		t.Fatalf("failed to create test archive: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func testTrade(id string, ts time.Time) models.Trade {
	return models.Trade{
		ID:          id,
		Timestamp:   ts,
		Side:        models.Buy,
		Outcome:     "Yes",
		Price:       0.62,
		Size:        150,
		Value:       93,
		MarketTitle: "Will it happen?",
		AssetID:     "tok-yes",
		Trader:      "Quiet-Otter",
	}
}

func TestArchive_SaveAndRecentTrades(t *testing.T) {
	a := newTestArchive(t)
	now := time.Now()

	for i := 0; i < 5; i++ {
		trade := testTrade(fmt.Sprintf("t-%d", i), now.Add(time.Duration(i)*time.Second))
		if err := a.SaveTrade("ev", trade); err != nil {
			t.Fatalf("SaveTrade: %v", err)
		}
	}

	trades, err := a.RecentTrades("ev", 10)
	if err != nil {
		t.Fatalf("RecentTrades: %v", err)
	}
	if len(trades) != 5 {
		t.Fatalf("got %d trades, want 5", len(trades))
	}
	if trades[0].ID != "t-4" {
		t.Errorf("newest first: got %s, want t-4", trades[0].ID)
	}
	if trades[0].Side != models.Buy {
		t.Errorf("side round trip: got %s", trades[0].Side)
	}
	if trades[0].Trader != "Quiet-Otter" {
		t.Errorf("trader round trip: got %s", trades[0].Trader)
	}
}

func TestArchive_SaveTrade_DuplicateIgnored(t *testing.T) {
	a := newTestArchive(t)
	trade := testTrade("dup", time.Now())

	if err := a.SaveTrade("ev", trade); err != nil {
		t.Fatalf("SaveTrade: %v", err)
	}
	if err := a.SaveTrade("ev", trade); err != nil {
		t.Fatalf("SaveTrade replay: %v", err)
	}

	trades, _ := a.RecentTrades("ev", 10)
	if len(trades) != 1 {
		t.Errorf("got %d trades, want 1", len(trades))
	}
}

func TestArchive_PerEventCap(t *testing.T) {
	a, err := New(5, ":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	now := time.Now()
	for i := 0; i < 10; i++ {
		trade := testTrade(fmt.Sprintf("t-%d", i), now.Add(time.Duration(i)*time.Second))
		if err := a.SaveTrade("ev", trade); err != nil {
			t.Fatalf("SaveTrade: %v", err)
		}
	}
	// Another event's archive is independent
	if err := a.SaveTrade("other", testTrade("o-1", now)); err != nil {
		t.Fatalf("SaveTrade: %v", err)
	}

	trades, _ := a.RecentTrades("ev", 100)
	if len(trades) != 5 {
		t.Fatalf("got %d trades, want 5", len(trades))
	}
	if trades[len(trades)-1].ID != "t-5" {
		t.Errorf("oldest kept = %s, want t-5", trades[len(trades)-1].ID)
	}
	other, _ := a.RecentTrades("other", 100)
	if len(other) != 1 {
		t.Errorf("other event archive affected: %d trades", len(other))
	}
}

func TestArchive_PurgeTradesBefore(t *testing.T) {
	a := newTestArchive(t)
	now := time.Now()

	a.SaveTrade("ev", testTrade("old", now.Add(-48*time.Hour)))
	a.SaveTrade("ev", testTrade("new", now))

	if err := a.PurgeTradesBefore(now.Add(-24 * time.Hour)); err != nil {
		t.Fatalf("PurgeTradesBefore: %v", err)
	}

	trades, _ := a.RecentTrades("ev", 10)
	if len(trades) != 1 || trades[0].ID != "new" {
		t.Errorf("purge kept wrong rows: %+v", trades)
	}
}

func TestArchive_SessionRoundTrip(t *testing.T) {
	a := newTestArchive(t)

	if _, ok, err := a.LoadSession(); err != nil || ok {
		t.Fatalf("LoadSession on empty archive = ok=%v err=%v", ok, err)
	}

	saved := Session{
		Tab:         2,
		Filter:      "volume24hr",
		SearchQuery: "election",
		Watched:     []string{"ev-a", "ev-b"},
		SavedAt:     time.Now(),
	}
	if err := a.SaveSession(saved); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, ok, err := a.LoadSession()
	if err != nil || !ok {
		t.Fatalf("LoadSession = ok=%v err=%v", ok, err)
	}
	if got.Tab != 2 || got.Filter != "volume24hr" || got.SearchQuery != "election" {
		t.Errorf("session fields: %+v", got)
	}
	if len(got.Watched) != 2 || got.Watched[0] != "ev-a" {
		t.Errorf("watched slugs: %+v", got.Watched)
	}

	// A second save replaces the first
	saved.Tab = 7
	saved.Watched = nil
	if err := a.SaveSession(saved); err != nil {
		t.Fatalf("SaveSession replace: %v", err)
	}
	got, _, _ = a.LoadSession()
	if got.Tab != 7 {
		t.Errorf("replaced tab = %d, want 7", got.Tab)
	}
	if len(got.Watched) != 0 {
		t.Errorf("replaced watched = %+v, want empty", got.Watched)
	}
}
