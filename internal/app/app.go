// Package app wires the event loop: it polls input with a bounded wait,
// consumes due debounce timers, runs the periodic refreshes, and repaints.
// All remote work happens on background goroutines that publish results
// through the state store; the loop itself never blocks on the network.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/rewired-gh/polyterm/internal/archive"
	"github.com/rewired-gh/polyterm/internal/config"
	"github.com/rewired-gh/polyterm/internal/input"
	"github.com/rewired-gh/polyterm/internal/logger"
	"github.com/rewired-gh/polyterm/internal/models"
	"github.com/rewired-gh/polyterm/internal/notify"
	"github.com/rewired-gh/polyterm/internal/polymarket"
	"github.com/rewired-gh/polyterm/internal/state"
	"github.com/rewired-gh/polyterm/internal/stream"
)

// EventSource fetches event lists and single events.
type EventSource interface {
	FetchEvents(ctx context.Context, filter polymarket.Filter, limit, offset int) ([]models.Event, error)
	FetchEventBySlug(ctx context.Context, slug string) (*models.Event, error)
	SearchEvents(ctx context.Context, query string, limit int) ([]models.Event, error)
}

// MarketDataSource fetches prices and order books.
type MarketDataSource interface {
	FetchOrderbook(ctx context.Context, assetID string) ([]models.RawLevel, []models.RawLevel, error)
	FetchPricesBatch(ctx context.Context, assetIDs []string) (map[string]float64, error)
	FetchPrice(ctx context.Context, assetID string) (float64, error)
	Healthy(ctx context.Context) bool
}

// AccountSource serves the authenticated surface.
type AccountSource interface {
	GetProfile(ctx context.Context, address string) (*models.Profile, error)
	GetPortfolio(ctx context.Context, address string) (*models.Portfolio, error)
	ListFavorites(ctx context.Context) ([]polymarket.Favorite, error)
	AddFavorite(ctx context.Context, eventID string) (*polymarket.Favorite, error)
	RemoveFavorite(ctx context.Context, id string) error
}

// TradeStreamSource opens live-trade subscriptions.
type TradeStreamSource interface {
	Subscribe(ctx context.Context, eventSlug string, onTrade func(models.Trade)) (state.Canceller, error)
}

// Renderer paints frames from state snapshots.
type Renderer interface {
	Begin()
	End()
	Render(s *state.State)
}

// streamSource adapts the concrete stream client to TradeStreamSource.
type streamSource struct {
	c *stream.Client
}

func (s streamSource) Subscribe(ctx context.Context, eventSlug string, onTrade func(models.Trade)) (state.Canceller, error) {
	return s.c.Subscribe(ctx, eventSlug, onTrade)
}

// NewStreamSource wraps a stream client as a TradeStreamSource.
func NewStreamSource(c *stream.Client) TradeStreamSource {
	return streamSource{c: c}
}

// Deps bundles the app's collaborators. Archive and Notifier are
// optional; nil disables persistence and alerts respectively.
type Deps struct {
	Events     EventSource
	MarketData MarketDataSource
	Account    AccountSource
	Streams    TradeStreamSource
	Renderer   Renderer
	Input      input.Source
	Archive    *archive.Archive
	Notifier   *notify.Notifier
}

// App owns the event loop.
type App struct {
	cfg   *config.Config
	store *state.Store
	deps  Deps

	// Loop-local: last selection seen, to detect selection changes, and
	// the periodic refresh deadlines.
	lastSelected  string
	lastBookFetch time.Time
	lastHealth    time.Time

	bg sync.WaitGroup
}

// New creates the app. The store must be fresh; Run restores any
// persisted session into it.
func New(cfg *config.Config, store *state.Store, deps Deps) *App {
	return &App{cfg: cfg, store: store, deps: deps}
}

// Run drives the loop until quit is requested or ctx is cancelled. It
// owns the renderer lifecycle and drains all live subscriptions on the
// way out.
func (a *App) Run(ctx context.Context) error {
	a.deps.Renderer.Begin()
	defer a.deps.Renderer.End()

	a.restoreSession(ctx)
	a.fetchEvents(ctx, a.currentFilter())
	a.checkHealth(ctx)
	a.lastHealth = time.Now()

	for !a.store.Quitting() {
		if ctx.Err() != nil {
			break
		}
		if key, ok := a.deps.Input.Poll(a.cfg.UI.InputPollTimeout); ok {
			a.handleKey(ctx, key)
		}
		a.tick(ctx, time.Now())
		a.store.View(a.deps.Renderer.Render)
	}

	a.shutdown()
	return ctx.Err()
}

// tick runs the loop's timer phase: debounce expiry, selection-change
// reactions, and the periodic book and health refreshes.
func (a *App) tick(ctx context.Context, now time.Time) {
	if query, ok := a.store.ConsumeSearchDue(a.cfg.UI.SearchDebounce, now); ok {
		a.search(ctx, query)
	}
	if query, ok := a.store.ConsumeYieldDue(a.cfg.UI.SearchDebounce, now); ok {
		a.yieldSearch(ctx, query)
	}

	// A filter switch that lost the shared-flag race to an in-flight
	// fetch retries here once the flag clears; fetchEvents itself drops
	// the trigger while a fetch is running.
	if tab := a.store.Tab(); tab <= state.TabEndingSoon {
		if filter := filterForTab(tab); !a.store.HasFilter(filter) {
			a.fetchEvents(ctx, filter)
		}
	}

	selected := a.store.SelectedSlug()
	if selected != a.lastSelected {
		a.lastSelected = selected
		a.lastBookFetch = time.Time{}
		if selected != "" {
			a.ensureEvent(ctx, selected)
		}
	}

	if selected != "" && now.Sub(a.lastBookFetch) >= a.cfg.UI.BookRefresh {
		a.lastBookFetch = now
		if event, ok := a.store.SelectedEvent(); ok {
			a.refreshPrices(ctx, event)
			if a.store.Modal() == state.ModalEventDetail {
				if market, ok := a.store.SelectedMarket(); ok {
					a.refreshBook(ctx, market)
				}
			}
		} else {
			// Slug-only selection still unresolved, typically because the
			// first slug fetch failed; try again on the refresh cadence.
			a.ensureEvent(ctx, selected)
		}
	}

	if now.Sub(a.lastHealth) >= a.cfg.UI.HealthPoll {
		a.lastHealth = now
		a.checkHealth(ctx)
	}
}

func (a *App) shutdown() {
	a.saveSession()
	for _, h := range a.store.DrainWatches() {
		h.Cancel()
	}
	a.bg.Wait()
	logger.Info("Event loop stopped")
}

// currentFilter maps the active tab to its API filter; non-filter tabs
// fall back to trending.
func (a *App) currentFilter() polymarket.Filter {
	return filterForTab(a.store.Tab())
}

func filterForTab(tab state.Tab) polymarket.Filter {
	switch tab {
	case state.TabVolume:
		return polymarket.FilterVolume
	case state.TabLiquidity:
		return polymarket.FilterLiquidity
	case state.TabNewest:
		return polymarket.FilterNewest
	case state.TabEndingSoon:
		return polymarket.FilterEndingSoon
	default:
		return polymarket.FilterTrending
	}
}

func (a *App) restoreSession(ctx context.Context) {
	if a.deps.Archive == nil {
		return
	}
	sess, ok, err := a.deps.Archive.LoadSession()
	if err != nil {
		logger.Warn("Failed to load session: %v", err)
		return
	}
	if !ok {
		return
	}
	tab := state.Tab(sess.Tab)
	if tab < 0 || tab >= state.TabCount() {
		// A corrupt or future-version session row must not leave the UI
		// on a tab that does not exist.
		tab = state.TabTrending
	}
	a.store.SetTab(tab)
	for _, slug := range sess.Watched {
		a.toggleWatch(ctx, slug)
	}
	logger.Info("Restored session: tab=%s watched=%d", tab, len(sess.Watched))
}

func (a *App) saveSession() {
	if a.deps.Archive == nil {
		return
	}
	var sess archive.Session
	a.store.View(func(s *state.State) {
		sess = archive.Session{
			Tab:         int(s.Tab),
			Filter:      string(s.Filter),
			SearchQuery: s.SearchQuery,
			SavedAt:     time.Now(),
		}
		for slug := range s.Watched {
			sess.Watched = append(sess.Watched, slug)
		}
	})
	if err := a.deps.Archive.SaveSession(sess); err != nil {
		logger.Warn("Failed to save session: %v", err)
	}
}
