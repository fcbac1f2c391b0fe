package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rewired-gh/polyterm/internal/archive"
	"github.com/rewired-gh/polyterm/internal/config"
	"github.com/rewired-gh/polyterm/internal/input"
	"github.com/rewired-gh/polyterm/internal/models"
	"github.com/rewired-gh/polyterm/internal/polymarket"
	"github.com/rewired-gh/polyterm/internal/state"
)

// ---- doubles ---------------------------------------------------------

type fakeEvents struct {
	mu          sync.Mutex
	fetchCalls  int
	searchCalls int
	slugCalls   int
	events      []models.Event
	err         error
	block       chan struct{} // when non-nil, FetchEvents waits on it
}

func (f *fakeEvents) FetchEvents(_ context.Context, _ polymarket.Filter, _, _ int) ([]models.Event, error) {
	f.mu.Lock()
	f.fetchCalls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.events, f.err
}

func (f *fakeEvents) FetchEventBySlug(_ context.Context, slug string) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slugCalls++
	if f.err != nil {
		return nil, f.err
	}
	e := testEvent(slug)
	return &e, nil
}

func (f *fakeEvents) SearchEvents(_ context.Context, _ string, _ int) ([]models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	return f.events, f.err
}

func (f *fakeEvents) calls() (fetch, search, slug int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls, f.searchCalls, f.slugCalls
}

type fakeMarketData struct {
	mu         sync.Mutex
	bookCalls  int
	batchCalls int
	priceCalls int
	batchErr   error
	healthy    bool
}

func (f *fakeMarketData) FetchOrderbook(_ context.Context, _ string) ([]models.RawLevel, []models.RawLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookCalls++
	return []models.RawLevel{{Price: "0.60", Size: "100"}},
		[]models.RawLevel{{Price: "0.62", Size: "80"}}, nil
}

func (f *fakeMarketData) FetchPricesBatch(_ context.Context, ids []string) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	prices := make(map[string]float64, len(ids))
	for _, id := range ids {
		prices[id] = 0.5
	}
	return prices, nil
}

func (f *fakeMarketData) FetchPrice(_ context.Context, _ string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceCalls++
	return 0.42, nil
}

func (f *fakeMarketData) Healthy(_ context.Context) bool { return f.healthy }

type fakeAccount struct {
	mu          sync.Mutex
	addCalls    int
	removeCalls int
	err         error
}

func (f *fakeAccount) GetProfile(_ context.Context, _ string) (*models.Profile, error) {
	return &models.Profile{Name: "tester"}, nil
}

func (f *fakeAccount) GetPortfolio(_ context.Context, _ string) (*models.Portfolio, error) {
	return &models.Portfolio{Balance: 100}, nil
}

func (f *fakeAccount) ListFavorites(_ context.Context) ([]polymarket.Favorite, error) {
	return nil, nil
}

func (f *fakeAccount) AddFavorite(_ context.Context, eventID string) (*polymarket.Favorite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls++
	if f.err != nil {
		return nil, f.err
	}
	return &polymarket.Favorite{ID: "fav-" + eventID, EventID: eventID}, nil
}

func (f *fakeAccount) RemoveFavorite(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeCalls++
	return f.err
}

type fakeCanceller struct {
	mu        sync.Mutex
	cancelled int
}

func (f *fakeCanceller) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
}

func (f *fakeCanceller) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

type fakeStreams struct {
	mu         sync.Mutex
	subscribes int
	err        error
	block      chan struct{} // when non-nil, Subscribe waits on it
	handles    []*fakeCanceller
	onTrade    func(models.Trade)
}

func (f *fakeStreams) Subscribe(_ context.Context, _ string, onTrade func(models.Trade)) (state.Canceller, error) {
	f.mu.Lock()
	f.subscribes++
	block := f.block
	err := f.err
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &fakeCanceller{}
	f.handles = append(f.handles, h)
	f.onTrade = onTrade
	return h, nil
}

type nopRenderer struct{}

func (nopRenderer) Begin()              {}
func (nopRenderer) End()                {}
func (nopRenderer) Render(*state.State) {}

type scriptedInput struct {
	keys []input.Key
}

func (s *scriptedInput) Poll(_ time.Duration) (input.Key, bool) {
	if len(s.keys) == 0 {
		return input.Key{}, false
	}
	k := s.keys[0]
	s.keys = s.keys[1:]
	return k, true
}

// ---- fixtures --------------------------------------------------------

func testEvent(slug string) models.Event {
	return models.Event{
		ID:     "id-" + slug,
		Slug:   slug,
		Title:  "Event " + slug,
		Active: true,
		Markets: []models.Market{
			{
				ConditionID: "0x" + slug,
				Question:    "Question?",
				Outcomes: []models.Outcome{
					{TokenID: slug + "-yes", Label: "Yes", Price: 0.5},
					{TokenID: slug + "-no", Label: "No", Price: 0.5},
				},
			},
		},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		UI: config.UIConfig{
			InputPollTimeout: 100 * time.Millisecond,
			SearchDebounce:   500 * time.Millisecond,
			BookRefresh:      5 * time.Second,
			HealthPoll:       30 * time.Second,
			PageSize:         50,
			BookDepth:        10,
		},
		Account: config.AccountConfig{Address: "0xabc", SessionToken: "tok"},
	}
}

type fixture struct {
	app        *App
	store      *state.Store
	events     *fakeEvents
	marketData *fakeMarketData
	account    *fakeAccount
	streams    *fakeStreams
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testConfig()
	store := state.NewStore(true, cfg.Account.Address)
	f := &fixture{
		store:      store,
		events:     &fakeEvents{},
		marketData: &fakeMarketData{healthy: true},
		account:    &fakeAccount{},
		streams:    &fakeStreams{},
	}
	f.app = New(cfg, store, Deps{
		Events:     f.events,
		MarketData: f.marketData,
		Account:    f.account,
		Streams:    f.streams,
		Renderer:   nopRenderer{},
		Input:      &scriptedInput{},
	})
	return f
}

// ---- tests -----------------------------------------------------------

func TestTickFiresDebouncedSearch(t *testing.T) {
	f := newFixture(t)
	f.events.events = []models.Event{testEvent("hit")}
	ctx := context.Background()
	base := time.Now()

	f.store.SetTab(state.TabSearch)
	f.store.RecordSearchEdit("b", base)
	f.store.RecordSearchEdit("bt", base.Add(100*time.Millisecond))
	f.store.RecordSearchEdit("btc", base.Add(200*time.Millisecond))

	f.app.tick(ctx, base.Add(200*time.Millisecond).Add(499*time.Millisecond))
	f.app.bg.Wait()
	if _, search, _ := f.events.calls(); search != 0 {
		t.Fatalf("search fired before debounce elapsed: %d calls", search)
	}

	f.app.tick(ctx, base.Add(200*time.Millisecond).Add(500*time.Millisecond))
	f.app.bg.Wait()
	if _, search, _ := f.events.calls(); search != 1 {
		t.Fatalf("search calls = %d, want 1", search)
	}
	f.store.View(func(s *state.State) {
		if len(s.SearchResults) != 1 || s.SearchResults[0].Slug != "hit" {
			t.Errorf("results not published: %+v", s.SearchResults)
		}
	})

	// Timer consumed: later ticks fire nothing
	f.app.tick(ctx, base.Add(time.Hour))
	f.app.bg.Wait()
	if _, search, _ := f.events.calls(); search != 1 {
		t.Errorf("search fired again without an edit: %d calls", search)
	}
}

func TestDuplicateFetchSuppressed(t *testing.T) {
	f := newFixture(t)
	f.events.block = make(chan struct{})
	ctx := context.Background()

	f.app.fetchEvents(ctx, polymarket.FilterTrending)
	f.app.fetchEvents(ctx, polymarket.FilterTrending)
	f.app.fetchEvents(ctx, polymarket.FilterTrending)

	// Give the single spawned goroutine time to reach the block
	time.Sleep(20 * time.Millisecond)
	close(f.events.block)
	f.app.bg.Wait()

	if fetch, _, _ := f.events.calls(); fetch != 1 {
		t.Errorf("fetch calls = %d, want 1", fetch)
	}
	if f.store.IsPending(state.OpEvents) {
		t.Error("pending flag not cleared after completion")
	}
}

func TestSwitchDuringFetchKeepsNewFilter(t *testing.T) {
	f := newFixture(t)
	f.events.events = []models.Event{testEvent("ev")}
	f.events.block = make(chan struct{})
	ctx := context.Background()

	f.app.fetchEvents(ctx, polymarket.FilterTrending)
	// Switch views while the fetch is in flight; the volume fetch loses
	// the shared-flag race and is dropped for now
	f.app.switchTab(ctx, state.TabVolume)
	if got := f.store.Filter(); got != polymarket.FilterVolume {
		t.Fatalf("filter = %s, want %s", got, polymarket.FilterVolume)
	}

	close(f.events.block)
	f.app.bg.Wait()

	// The late trending completion lands in the cache, not the view
	if got := f.store.Filter(); got != polymarket.FilterVolume {
		t.Fatalf("filter = %s after stale completion, want %s", got, polymarket.FilterVolume)
	}
	if !f.store.HasFilter(polymarket.FilterTrending) {
		t.Error("stale completion not memoized")
	}

	// The dropped volume fetch is retried once the flag clears
	f.app.tick(ctx, time.Now())
	f.app.bg.Wait()
	if fetch, _, _ := f.events.calls(); fetch != 2 {
		t.Fatalf("fetch calls = %d, want 2", fetch)
	}
	f.store.View(func(s *state.State) {
		if len(s.Events) != 1 || s.Events[0].Slug != "ev" {
			t.Errorf("volume view not populated: %+v", s.Events)
		}
	})
}

func TestToggleWatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.app.toggleWatch(ctx, "ev")
	if !f.store.IsWatching("ev") {
		t.Fatal("event not registered as watched")
	}
	f.app.bg.Wait()
	if f.streams.subscribes != 1 {
		t.Fatalf("subscribes = %d, want 1", f.streams.subscribes)
	}

	// Trades flow through the registered callback into the store
	f.streams.onTrade(models.Trade{ID: "t-1", AssetID: "a", Price: 0.5, Size: 1, Value: 0.5})
	if got := len(f.store.TradesFor("ev")); got != 1 {
		t.Fatalf("trade log = %d entries, want 1", got)
	}

	// Second toggle unwatches and cancels, without a new subscription
	f.app.toggleWatch(ctx, "ev")
	if f.store.IsWatching("ev") {
		t.Error("still watched after second toggle")
	}
	if f.streams.subscribes != 1 {
		t.Errorf("subscribes = %d, want 1", f.streams.subscribes)
	}
	if f.streams.handles[0].count() != 1 {
		t.Errorf("handle cancelled %d times, want 1", f.streams.handles[0].count())
	}

	// Late trade after unwatch is dropped, history kept
	f.streams.onTrade(models.Trade{ID: "t-2", AssetID: "a", Price: 0.5, Size: 1, Value: 0.5})
	if got := len(f.store.TradesFor("ev")); got != 1 {
		t.Errorf("trade log = %d entries after unwatch, want 1", got)
	}
}

func TestToggleWatch_SubscribeFailure(t *testing.T) {
	f := newFixture(t)
	f.streams.err = errors.New("dial refused")

	f.app.toggleWatch(context.Background(), "ev")
	f.app.bg.Wait()
	if f.store.IsWatching("ev") {
		t.Error("failed subscribe left the event marked watched")
	}
}

func TestToggleWatch_UnwatchDuringDial(t *testing.T) {
	f := newFixture(t)
	f.streams.block = make(chan struct{})
	ctx := context.Background()

	// The dial stalls in the background; dispatch must not wait on it
	f.app.toggleWatch(ctx, "ev")
	if !f.store.IsWatching("ev") {
		t.Fatal("watch not registered while the dial is in flight")
	}

	f.app.toggleWatch(ctx, "ev")
	if f.store.IsWatching("ev") {
		t.Fatal("still watched after toggle off")
	}

	close(f.streams.block)
	f.app.bg.Wait()

	// The stream that arrived after the unwatch is torn down
	if f.streams.subscribes != 1 {
		t.Errorf("subscribes = %d, want 1", f.streams.subscribes)
	}
	if got := f.streams.handles[0].count(); got != 1 {
		t.Errorf("late stream cancelled %d times, want 1", got)
	}
}

func TestToggleFavorite_ConfirmBeforeMutate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.SetFilter(polymarket.FilterTrending)
	f.store.SetEvents(polymarket.FilterTrending, []models.Event{testEvent("ev")}, 50)

	// API failure leaves the local set untouched
	f.account.err = errors.New("backend down")
	f.app.toggleFavorite(ctx)
	f.app.bg.Wait()
	if _, ok := f.store.FavoriteFor("ev"); ok {
		t.Fatal("favorite added despite API failure")
	}

	// Success mutates after confirmation
	f.account.err = nil
	f.app.toggleFavorite(ctx)
	f.app.bg.Wait()
	fav, ok := f.store.FavoriteFor("ev")
	if !ok {
		t.Fatal("favorite missing after confirmed add")
	}
	if fav.EventSlug != "ev" {
		t.Errorf("favorite slug = %s", fav.EventSlug)
	}

	// Toggling again removes through the API
	f.app.toggleFavorite(ctx)
	f.app.bg.Wait()
	if _, ok := f.store.FavoriteFor("ev"); ok {
		t.Error("favorite still present after confirmed remove")
	}
	if f.account.removeCalls != 1 {
		t.Errorf("remove calls = %d, want 1", f.account.removeCalls)
	}
}

func TestRefreshBook_SkipsClosedMarket(t *testing.T) {
	f := newFixture(t)
	closed := models.Market{
		ConditionID: "0xdead",
		Closed:      true,
		Outcomes:    []models.Outcome{{TokenID: "tok", Label: "Yes"}},
	}

	f.app.refreshBook(context.Background(), closed)
	f.app.bg.Wait()

	if f.marketData.bookCalls != 0 {
		t.Errorf("book fetched for closed market: %d calls", f.marketData.bookCalls)
	}
	if f.store.IsPending(state.OpBook) {
		t.Error("pending flag set for skipped fetch")
	}
}

func TestRefreshBook_PublishesSnapshot(t *testing.T) {
	f := newFixture(t)
	market := testEvent("ev").Markets[0]

	f.app.refreshBook(context.Background(), market)
	f.app.bg.Wait()

	f.store.View(func(s *state.State) {
		if s.Book == nil {
			t.Fatal("no book published")
		}
		if !s.Book.HasSpread || s.Book.Spread <= 0 {
			t.Errorf("spread = %f HasSpread=%v", s.Book.Spread, s.Book.HasSpread)
		}
	})
}

func TestRefreshPrices_FallsBackPerAsset(t *testing.T) {
	f := newFixture(t)
	f.marketData.batchErr = errors.New("batch endpoint down")
	event := testEvent("ev")

	f.app.refreshPrices(context.Background(), event)
	f.app.bg.Wait()

	if f.marketData.priceCalls != 2 {
		t.Errorf("per-asset calls = %d, want 2", f.marketData.priceCalls)
	}
	f.store.View(func(s *state.State) {
		if s.Prices["ev-yes"] != 0.42 {
			t.Errorf("fallback price not merged: %v", s.Prices)
		}
	})
}

func TestSwitchTab_UsesCachedList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.SetEvents(polymarket.FilterVolume, []models.Event{testEvent("cached")}, 50)
	f.store.SetTab(state.TabTrending)

	f.app.switchTab(ctx, state.TabVolume)
	f.app.bg.Wait()

	if fetch, _, _ := f.events.calls(); fetch != 0 {
		t.Errorf("fetch issued despite cache hit: %d calls", fetch)
	}
	f.store.View(func(s *state.State) {
		if len(s.Events) != 1 || s.Events[0].Slug != "cached" {
			t.Errorf("cached list not restored: %+v", s.Events)
		}
	})

	// A filter never visited does fetch
	f.app.switchTab(ctx, state.TabNewest)
	f.app.bg.Wait()
	if fetch, _, _ := f.events.calls(); fetch != 1 {
		t.Errorf("fetch calls = %d, want 1", fetch)
	}
}

func TestTick_SelectionChangeLoadsEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	f.store.SetTab(state.TabYield)
	f.store.SetYieldResults([]models.YieldOpportunity{{EventSlug: "y1"}})

	f.app.tick(ctx, now)
	f.app.bg.Wait()

	if _, _, slug := f.events.calls(); slug != 1 {
		t.Fatalf("slug fetch calls = %d, want 1", slug)
	}
	if _, ok := f.store.CachedEvent("y1"); !ok {
		t.Error("selected event not cached after tick")
	}

	// Same selection on the next tick fetches nothing
	f.app.tick(ctx, now.Add(time.Millisecond))
	f.app.bg.Wait()
	if _, _, slug := f.events.calls(); slug != 1 {
		t.Errorf("slug fetch calls = %d, want 1", slug)
	}
}

func TestDetailFetchIndependentOfListFetch(t *testing.T) {
	f := newFixture(t)
	f.events.block = make(chan struct{})
	ctx := context.Background()

	f.app.fetchEvents(ctx, polymarket.FilterTrending)
	f.store.SetTab(state.TabYield)
	f.store.SetYieldResults([]models.YieldOpportunity{{EventSlug: "y1"}})

	// The slug fetch has its own flag; the stalled list fetch must not
	// starve it
	f.app.tick(ctx, time.Now())
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := f.store.CachedEvent("y1"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("selected event never resolved while a list fetch was in flight")
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(f.events.block)
	f.app.bg.Wait()
}

func TestDetailFetchRetriesAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.events.err = errors.New("upstream down")
	ctx := context.Background()
	now := time.Now()

	f.store.SetTab(state.TabYield)
	f.store.SetYieldResults([]models.YieldOpportunity{{EventSlug: "y1"}})

	f.app.tick(ctx, now)
	f.app.bg.Wait()
	if _, ok := f.store.CachedEvent("y1"); ok {
		t.Fatal("event cached despite fetch failure")
	}

	// Still selected and still unresolved: the refresh cadence tries again
	f.events.err = nil
	f.app.tick(ctx, now.Add(f.app.cfg.UI.BookRefresh))
	f.app.bg.Wait()
	if _, ok := f.store.CachedEvent("y1"); !ok {
		t.Fatal("selection never resolved after the upstream recovered")
	}
}

func TestTabKeyWrapsAround(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := state.Tab(0); i < state.TabCount(); i++ {
		f.app.handleKey(ctx, input.Key{Kind: input.KeyTab})
	}
	f.app.bg.Wait()
	if got := f.store.Tab(); got != state.TabTrending {
		t.Errorf("tab after a full cycle = %s, want %s", got, state.TabTrending)
	}
}

func TestRestoreSession_ClampsTab(t *testing.T) {
	f := newFixture(t)
	arch, err := archive.New(100, ":memory:")
	if err != nil {
		t.Fatalf("archive.New: %v", err)
	}
	t.Cleanup(func() { arch.Close() })
	f.app.deps.Archive = arch

	// A corrupt row from a newer or damaged install
	if err := arch.SaveSession(archive.Session{Tab: 42, SavedAt: time.Now()}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	f.app.restoreSession(context.Background())
	f.app.bg.Wait()
	if got := f.store.Tab(); got != state.TabTrending {
		t.Errorf("tab = %s, want %s", got, state.TabTrending)
	}
}

func TestHandleKey_QuitAndTyping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// In a list tab q quits
	f.app.handleKey(ctx, input.Key{Kind: input.KeyRune, Rune: 'q'})
	if !f.store.Quitting() {
		t.Fatal("q did not quit")
	}

	// In the search tab q is query text
	f2 := newFixture(t)
	f2.store.SetTab(state.TabSearch)
	f2.app.handleKey(ctx, input.Key{Kind: input.KeyRune, Rune: 'q'})
	if f2.store.Quitting() {
		t.Fatal("typing q in search quit the app")
	}
	f2.store.View(func(s *state.State) {
		if s.SearchQuery != "q" {
			t.Errorf("query = %q, want q", s.SearchQuery)
		}
	})

	// Backspace trims, escape clears
	f2.app.handleKey(ctx, input.Key{Kind: input.KeyRune, Rune: 'x'})
	f2.app.handleKey(ctx, input.Key{Kind: input.KeyBackspace})
	f2.store.View(func(s *state.State) {
		if s.SearchQuery != "q" {
			t.Errorf("query after backspace = %q, want q", s.SearchQuery)
		}
	})
	f2.app.handleKey(ctx, input.Key{Kind: input.KeyEscape})
	f2.store.View(func(s *state.State) {
		if s.SearchQuery != "" {
			t.Errorf("query after escape = %q, want empty", s.SearchQuery)
		}
	})

	// Ctrl-C always quits
	f2.app.handleKey(ctx, input.Key{Kind: input.KeyCtrlC})
	if !f2.store.Quitting() {
		t.Error("ctrl-c did not quit")
	}
}

func TestHandleKey_ModalLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.SetFilter(polymarket.FilterTrending)
	f.store.SetEvents(polymarket.FilterTrending, []models.Event{testEvent("ev")}, 50)

	f.app.handleKey(ctx, input.Key{Kind: input.KeyEnter})
	if f.store.Modal() != state.ModalEventDetail {
		t.Fatalf("modal = %s, want Event Detail", f.store.Modal())
	}

	f.app.handleKey(ctx, input.Key{Kind: input.KeyEscape})
	if f.store.Modal() != state.ModalNone {
		t.Errorf("modal = %s after escape, want None", f.store.Modal())
	}

	f.app.handleKey(ctx, input.Key{Kind: input.KeyRune, Rune: '?'})
	if f.store.Modal() != state.ModalHelp {
		t.Errorf("modal = %s, want Help", f.store.Modal())
	}
	f.app.handleKey(ctx, input.Key{Kind: input.KeyRune, Rune: '?'})
	if f.store.Modal() != state.ModalNone {
		t.Errorf("help did not toggle closed")
	}
	f.app.bg.Wait()
}
