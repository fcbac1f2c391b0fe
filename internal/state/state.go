// Package state holds the single mutable application state behind an
// exclusive section. All mutation goes through named Store methods; each
// method is atomic with respect to every other, and none performs I/O
// while holding the lock.
package state

import (
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/polyterm/internal/models"
	"github.com/rewired-gh/polyterm/internal/polymarket"
)

// MaxTradeHistory bounds the per-event trade log. The log is
// newest-first; the oldest entry is evicted on overflow.
const MaxTradeHistory = 500

// Canceller cancels a running live-trade subscription. Implementations
// must be idempotent.
type Canceller interface {
	Cancel()
}

// State is the dashboard's entire mutable state. It must only be touched
// through Store methods or inside a Store.View callback.
type State struct {
	Tab   Tab
	Modal Modal

	// Event lists. Events is the list for the current filter view;
	// FilterCache memoizes one list per filter and is only invalidated
	// by an explicit refresh. EventCache resolves a full event from any
	// slug-only reference (search hit, yield record, favorite).
	Filter      polymarket.Filter
	Events      []models.Event
	FilterCache map[polymarket.Filter][]models.Event
	EventCache  map[string]models.Event
	Limit       int

	// Market data for the selected event.
	Prices map[string]float64
	Book   *models.DepthSnapshot

	// Debounced searches. The *EditedAt stamps record the last keystroke;
	// the loop's timer phase fires a request once the configured delay
	// has elapsed with no further edit.
	SearchQuery    string
	SearchResults  []models.Event
	SearchEditedAt time.Time
	YieldQuery     string
	YieldResults   []models.YieldOpportunity
	YieldEditedAt  time.Time

	// Selection and scroll positions.
	EventCursor  int
	MarketCursor int
	BookScroll   int
	TradeScroll  int

	// Live trade ingestion. A slug is a key of Watched if and only if
	// the event is actively streaming; Trades outlives unwatch.
	Watched map[string]Canceller
	Trades  map[string][]models.Trade

	// Account.
	HasAuth   bool
	Address   string
	Profile   *models.Profile
	Portfolio *models.Portfolio
	Favorites map[string]polymarket.Favorite // keyed by event slug

	Status  string
	Healthy bool
	Quit    bool

	pending [opCount]bool
}

// Store wraps State in the application's single exclusive section.
type Store struct {
	mu sync.Mutex
	s  State
}

// NewStore creates a Store with empty caches.
func NewStore(hasAuth bool, address string) *Store {
	return &Store{
		s: State{
			FilterCache: make(map[polymarket.Filter][]models.Event),
			EventCache:  make(map[string]models.Event),
			Prices:      make(map[string]float64),
			Watched:     make(map[string]Canceller),
			Trades:      make(map[string][]models.Trade),
			Favorites:   make(map[string]polymarket.Favorite),
			HasAuth:     hasAuth,
			Address:     address,
			Healthy:     true,
		},
	}
}

// View runs fn with read access to the state. The callback must not
// retain references past its return; the renderer is the intended
// caller, once per tick.
func (st *Store) View(fn func(*State)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(&st.s)
}

// ---- lifecycle -------------------------------------------------------

// SetQuit marks the application for shutdown.
func (st *Store) SetQuit() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Quit = true
}

// Quitting reports whether shutdown has been requested.
func (st *Store) Quitting() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.Quit
}

// SetStatus sets the inline status message shown to the user.
func (st *Store) SetStatus(msg string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Status = msg
}

// SetHealthy records the result of the periodic API health poll.
func (st *Store) SetHealthy(ok bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Healthy = ok
}

// ---- tabs, modals, selection ----------------------------------------

// SetTab switches the active panel and resets event-scoped scroll state.
func (st *Store) SetTab(tab Tab) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.s.Tab == tab {
		return
	}
	st.s.Tab = tab
	st.resetSelectionLocked()
}

// Tab returns the active panel.
func (st *Store) Tab() Tab {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.Tab
}

// SetModal opens or closes a popup.
func (st *Store) SetModal(m Modal) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Modal = m
}

// Modal returns the open popup.
func (st *Store) Modal() Modal {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.Modal
}

func (st *Store) resetSelectionLocked() {
	st.s.EventCursor = 0
	st.s.MarketCursor = 0
	st.s.BookScroll = 0
	st.s.TradeScroll = 0
	st.s.Book = nil
}

// ActiveListLen is the length of the event list the cursor moves over
// for the current tab.
func (s *State) ActiveListLen() int {
	switch s.Tab {
	case TabSearch:
		return len(s.SearchResults)
	case TabYield:
		return len(s.YieldResults)
	case TabFavorites:
		return len(s.Favorites)
	default:
		return len(s.Events)
	}
}

// MoveEventCursor moves the event selection, clamped to the active list.
// Changing the selection resets the market cursor and book scroll.
func (st *Store) MoveEventCursor(delta int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := st.s.ActiveListLen()
	if n == 0 {
		st.s.EventCursor = 0
		return
	}
	c := st.s.EventCursor + delta
	if c < 0 {
		c = 0
	}
	if c >= n {
		c = n - 1
	}
	if c != st.s.EventCursor {
		st.s.EventCursor = c
		st.s.MarketCursor = 0
		st.s.BookScroll = 0
		st.s.TradeScroll = 0
	}
}

// MoveMarketCursor moves the market selection within the selected event.
func (st *Store) MoveMarketCursor(delta int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	event, ok := st.s.SelectedEvent()
	if !ok || len(event.Markets) == 0 {
		st.s.MarketCursor = 0
		return
	}
	c := st.s.MarketCursor + delta
	if c < 0 {
		c = 0
	}
	if c >= len(event.Markets) {
		c = len(event.Markets) - 1
	}
	if c != st.s.MarketCursor {
		st.s.MarketCursor = c
		st.s.BookScroll = 0
	}
}

// ScrollBook scrolls the order-book panel.
func (st *Store) ScrollBook(delta int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.BookScroll += delta
	if st.s.BookScroll < 0 {
		st.s.BookScroll = 0
	}
}

// ScrollTrades scrolls the live-trades panel.
func (st *Store) ScrollTrades(delta int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.TradeScroll += delta
	if st.s.TradeScroll < 0 {
		st.s.TradeScroll = 0
	}
}

// SelectedSlug returns the slug of the selected event reference for the
// current tab, or "" when nothing is selected. For slug-only references
// (search hits, yield records, favorites) the full event may still be
// missing from the cache.
func (s *State) SelectedSlug() string {
	c := s.EventCursor
	switch s.Tab {
	case TabSearch:
		if c < len(s.SearchResults) {
			return s.SearchResults[c].Slug
		}
	case TabYield:
		if c < len(s.YieldResults) {
			return s.YieldResults[c].EventSlug
		}
	case TabFavorites:
		favs := s.FavoritesSorted()
		if c < len(favs) {
			return favs[c].EventSlug
		}
	default:
		if c < len(s.Events) {
			return s.Events[c].Slug
		}
	}
	return ""
}

// SelectedSlug is the Store form of State.SelectedSlug.
func (st *Store) SelectedSlug() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.SelectedSlug()
}

// SelectedEvent resolves the selected event reference to a full event,
// consulting the slug cache for slug-only references.
func (s *State) SelectedEvent() (models.Event, bool) {
	c := s.EventCursor
	switch s.Tab {
	case TabSearch:
		if c < len(s.SearchResults) {
			return s.SearchResults[c], true
		}
	case TabYield, TabFavorites:
		slug := s.SelectedSlug()
		if slug == "" {
			return models.Event{}, false
		}
		event, ok := s.EventCache[slug]
		return event, ok
	default:
		if c < len(s.Events) {
			return s.Events[c], true
		}
	}
	return models.Event{}, false
}

// SelectedEvent is the Store form of State.SelectedEvent.
func (st *Store) SelectedEvent() (models.Event, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.SelectedEvent()
}

// SelectedMarket returns the selected market of the selected event.
func (st *Store) SelectedMarket() (models.Market, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	event, ok := st.s.SelectedEvent()
	if !ok || len(event.Markets) == 0 {
		return models.Market{}, false
	}
	c := st.s.MarketCursor
	if c >= len(event.Markets) {
		c = len(event.Markets) - 1
	}
	return event.Markets[c], true
}

// ---- event lists and caches -----------------------------------------

// SetFilter records the filter the view is switching to, before any
// fetch is spawned. Fetch completions for any other filter then merge
// into the cache without touching the visible list. Switching shows the
// memoized list for the new filter, if any, until fresh data lands.
func (st *Store) SetFilter(filter polymarket.Filter) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.s.Filter == filter {
		return
	}
	st.s.Filter = filter
	st.s.Events = st.s.FilterCache[filter]
	if st.s.EventCursor >= len(st.s.Events) {
		st.s.EventCursor = 0
	}
}

// SetEvents installs a fetched event list. The list is always memoized
// per filter and merged into the slug cache; the visible list is only
// replaced when the filter is still the current one. A completion for a
// filter the user has since left must not hijack the view.
func (st *Store) SetEvents(filter polymarket.Filter, events []models.Event, limit int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.FilterCache[filter] = events
	for _, e := range events {
		st.s.EventCache[e.Slug] = e
	}
	if st.s.Filter != filter {
		return
	}
	st.s.Events = events
	st.s.Limit = limit
	if st.s.EventCursor >= len(events) {
		st.s.EventCursor = 0
	}
}

// HasFilter reports whether a filter has a memoized list.
func (st *Store) HasFilter(filter polymarket.Filter) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.s.FilterCache[filter]
	return ok
}

// UseCachedEvents switches the view to a previously fetched filter list.
// It reports whether a cached list existed; when false the caller must
// spawn a fetch.
func (st *Store) UseCachedEvents(filter polymarket.Filter) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	events, ok := st.s.FilterCache[filter]
	if !ok {
		return false
	}
	st.s.Filter = filter
	st.s.Events = events
	if st.s.EventCursor >= len(events) {
		st.s.EventCursor = 0
	}
	return true
}

// InvalidateFilter drops the memoized list for a filter, forcing the
// next visit to refetch. Used by explicit refresh.
func (st *Store) InvalidateFilter(filter polymarket.Filter) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.s.FilterCache, filter)
}

// Filter returns the current filter view.
func (st *Store) Filter() polymarket.Filter {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.Filter
}

// AppendEvents extends the current filter view with a further page,
// dropping events whose slug is already present. Returns the number of
// events actually added.
func (st *Store) AppendEvents(filter polymarket.Filter, events []models.Event, limit int) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.s.Filter != filter {
		// The user switched views while the fetch was in flight; merge
		// into the cache only.
		cached := st.s.FilterCache[filter]
		st.s.FilterCache[filter] = appendDedupe(cached, events)
		return 0
	}
	before := len(st.s.Events)
	st.s.Events = appendDedupe(st.s.Events, events)
	st.s.FilterCache[filter] = st.s.Events
	st.s.Limit = limit
	for _, e := range events {
		st.s.EventCache[e.Slug] = e
	}
	return len(st.s.Events) - before
}

func appendDedupe(existing, more []models.Event) []models.Event {
	known := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		known[e.Slug] = struct{}{}
	}
	for _, e := range more {
		if _, ok := known[e.Slug]; ok {
			continue
		}
		existing = append(existing, e)
		known[e.Slug] = struct{}{}
	}
	return existing
}

// Limit returns the current pagination limit.
func (st *Store) Limit() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.Limit
}

// CacheEvent inserts a single event into the slug cache.
func (st *Store) CacheEvent(event models.Event) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.EventCache[event.Slug] = event
}

// CachedEvent resolves an event from the slug cache.
func (st *Store) CachedEvent(slug string) (models.Event, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	event, ok := st.s.EventCache[slug]
	return event, ok
}

// ---- market data -----------------------------------------------------

// MergePrices extends the price map with freshly fetched values.
func (st *Store) MergePrices(prices map[string]float64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for id, p := range prices {
		st.s.Prices[id] = p
	}
}

// SetBook replaces the depth snapshot for the selected market.
func (st *Store) SetBook(book *models.DepthSnapshot) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Book = book
}

// ---- debounced search ------------------------------------------------

// RecordSearchEdit applies one keystroke of the search query: the text
// mutates synchronously, selection resets, and the edit time overwrites
// any pending debounce timer.
func (st *Store) RecordSearchEdit(query string, now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.SearchQuery = query
	st.s.SearchEditedAt = now
	st.resetSelectionLocked()
}

// ConsumeSearchDue reports whether the search debounce delay has elapsed
// since the last edit. When it has, the timer is cleared and the query
// text at fire time is returned; an empty query clears the results
// synchronously and fires nothing.
func (st *Store) ConsumeSearchDue(delay time.Duration, now time.Time) (string, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.s.SearchEditedAt.IsZero() || now.Sub(st.s.SearchEditedAt) < delay {
		return "", false
	}
	st.s.SearchEditedAt = time.Time{}
	if st.s.SearchQuery == "" {
		st.s.SearchResults = nil
		return "", false
	}
	return st.s.SearchQuery, true
}

// SetSearchResults unconditionally replaces the search results. A slow
// stale response may overwrite a newer one; last to arrive wins.
func (st *Store) SetSearchResults(events []models.Event) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.SearchResults = events
	for _, e := range events {
		st.s.EventCache[e.Slug] = e
	}
	if st.s.Tab == TabSearch && st.s.EventCursor >= len(events) {
		st.s.EventCursor = 0
	}
}

// RecordYieldEdit is RecordSearchEdit for the yield search field.
func (st *Store) RecordYieldEdit(query string, now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.YieldQuery = query
	st.s.YieldEditedAt = now
	st.resetSelectionLocked()
}

// ConsumeYieldDue is ConsumeSearchDue for the yield search field.
func (st *Store) ConsumeYieldDue(delay time.Duration, now time.Time) (string, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.s.YieldEditedAt.IsZero() || now.Sub(st.s.YieldEditedAt) < delay {
		return "", false
	}
	st.s.YieldEditedAt = time.Time{}
	if st.s.YieldQuery == "" {
		st.s.YieldResults = nil
		return "", false
	}
	return st.s.YieldQuery, true
}

// SetYieldResults unconditionally replaces the yield search results.
func (st *Store) SetYieldResults(opps []models.YieldOpportunity) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.YieldResults = opps
	if st.s.Tab == TabYield && st.s.EventCursor >= len(opps) {
		st.s.EventCursor = 0
	}
}

// ---- pending-operation flags ----------------------------------------

// TryBegin sets the pending flag for an operation. It returns false, and
// the caller must not spawn the request, if one is already in flight.
func (st *Store) TryBegin(op Op) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.s.pending[op] {
		return false
	}
	st.s.pending[op] = true
	return true
}

// End clears the pending flag for an operation, on success or failure.
func (st *Store) End(op Op) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.pending[op] = false
}

// IsPending reports whether an operation is in flight.
func (st *Store) IsPending(op Op) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.pending[op]
}

// Pending reports whether the given op's flag is set; exposed on State
// for the renderer.
func (s *State) Pending(op Op) bool {
	return s.pending[op]
}

// ---- live trade ingestion -------------------------------------------

// StartWatching registers a subscription handle for an event and ensures
// its trade log exists. It returns false, without replacing the handle,
// if the event is already being watched: the caller must cancel the
// redundant subscription.
func (st *Store) StartWatching(slug string, h Canceller) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.s.Watched[slug]; ok {
		return false
	}
	st.s.Watched[slug] = h
	if _, ok := st.s.Trades[slug]; !ok {
		st.s.Trades[slug] = []models.Trade{}
	}
	return true
}

// StopWatching removes the subscription handle for an event and returns
// it for cancellation outside the lock. The trade log is retained. A nil
// return means the event was not being watched; stopping twice is a
// no-op.
func (st *Store) StopWatching(slug string) Canceller {
	st.mu.Lock()
	defer st.mu.Unlock()
	h, ok := st.s.Watched[slug]
	if !ok {
		return nil
	}
	delete(st.s.Watched, slug)
	return h
}

// AbandonWatch removes the registration for an event only while it
// still holds the given handle. Used when an asynchronous subscribe
// fails: the placeholder handle must not clobber a newer registration
// the user created in the meantime.
func (st *Store) AbandonWatch(slug string, h Canceller) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	cur, ok := st.s.Watched[slug]
	if !ok || cur != h {
		return false
	}
	delete(st.s.Watched, slug)
	return true
}

// IsWatching reports whether an event has a live subscription.
func (st *Store) IsWatching(slug string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.s.Watched[slug]
	return ok
}

// WatchedSlugs returns the slugs of all actively watched events.
func (st *Store) WatchedSlugs() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	slugs := make([]string, 0, len(st.s.Watched))
	for slug := range st.s.Watched {
		slugs = append(slugs, slug)
	}
	return slugs
}

// DrainWatches removes and returns every subscription handle; used on
// shutdown so all streams can be cancelled before the loop returns.
func (st *Store) DrainWatches() []Canceller {
	st.mu.Lock()
	defer st.mu.Unlock()
	handles := make([]Canceller, 0, len(st.s.Watched))
	for slug, h := range st.s.Watched {
		handles = append(handles, h)
		delete(st.s.Watched, slug)
	}
	return handles
}

// AppendTrade prepends a trade to an event's bounded log. Trades arriving
// for an event that is no longer watched are dropped; the log itself is
// kept for history. Returns whether the trade was stored.
func (st *Store) AppendTrade(slug string, trade models.Trade) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.s.Watched[slug]; !ok {
		return false
	}
	log := st.s.Trades[slug]
	if len(log) >= MaxTradeHistory {
		log = log[:MaxTradeHistory-1]
	}
	st.s.Trades[slug] = append([]models.Trade{trade}, log...)
	return true
}

// TradesFor returns a copy of an event's trade log, newest first.
func (st *Store) TradesFor(slug string) []models.Trade {
	st.mu.Lock()
	defer st.mu.Unlock()
	log := st.s.Trades[slug]
	out := make([]models.Trade, len(log))
	copy(out, log)
	return out
}

// ---- account ---------------------------------------------------------

// SetProfile stores the fetched profile.
func (st *Store) SetProfile(p *models.Profile) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Profile = p
}

// SetPortfolio stores the fetched portfolio.
func (st *Store) SetPortfolio(p *models.Portfolio) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Portfolio = p
}

// SetFavorites replaces the favorite set.
func (st *Store) SetFavorites(favorites []polymarket.Favorite) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Favorites = make(map[string]polymarket.Favorite, len(favorites))
	for _, f := range favorites {
		st.s.Favorites[f.EventSlug] = f
	}
}

// FavoriteFor returns the favorite record for an event slug.
func (st *Store) FavoriteFor(slug string) (polymarket.Favorite, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	f, ok := st.s.Favorites[slug]
	return f, ok
}

// AddFavoriteLocal records a favorite after the API confirmed it.
func (st *Store) AddFavoriteLocal(f polymarket.Favorite) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Favorites[f.EventSlug] = f
}

// RemoveFavoriteLocal removes a favorite after the API confirmed it.
func (st *Store) RemoveFavoriteLocal(slug string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.s.Favorites, slug)
}

// FavoritesSorted returns favorites in a stable order for cursor
// arithmetic and rendering.
func (s *State) FavoritesSorted() []polymarket.Favorite {
	favs := make([]polymarket.Favorite, 0, len(s.Favorites))
	for _, f := range s.Favorites {
		favs = append(favs, f)
	}
	sort.Slice(favs, func(i, j int) bool { return favs[i].EventSlug < favs[j].EventSlug })
	return favs
}

// FavoritesOrdered returns favorites in a stable order.
func (st *Store) FavoritesOrdered() []polymarket.Favorite {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.FavoritesSorted()
}
