package app

import (
	"context"
	"errors"
	"time"

	"github.com/rewired-gh/polyterm/internal/logger"
	"github.com/rewired-gh/polyterm/internal/models"
	"github.com/rewired-gh/polyterm/internal/polymarket"
	"github.com/rewired-gh/polyterm/internal/state"
)

// Yield scans look for near-certain outcomes still trading at a
// discount; below the floor the risk profile is a bet, not a yield.
const (
	yieldMinPrice = 0.85
	yieldMaxPrice = 0.99
)

// spawn runs fn on a tracked goroutine if the operation's pending flag
// was clear. One in-flight request per operation; extra triggers are
// dropped silently.
func (a *App) spawn(op state.Op, fn func()) {
	if !a.store.TryBegin(op) {
		logger.Debug("Skipping %s: already in flight", op)
		return
	}
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		defer a.store.End(op)
		fn()
	}()
}

func (a *App) fetchEvents(ctx context.Context, filter polymarket.Filter) {
	// Record the intended filter synchronously so a completion for any
	// other filter merges into the cache instead of the visible list.
	a.store.SetFilter(filter)
	limit := a.cfg.UI.PageSize
	a.spawn(state.OpEvents, func() {
		events, err := a.deps.Events.FetchEvents(ctx, filter, limit, 0)
		if err != nil {
			logger.Error("Failed to fetch %s events: %v", filter, err)
			a.store.SetStatus("fetch failed: " + err.Error())
			return
		}
		a.store.SetEvents(filter, events, limit)
		a.store.SetStatus("")
	})
}

// fetchMore extends the current view by one page. The upstream paginates
// by offset over a moving list, so the page may overlap what is already
// shown; dedupe happens in the store.
func (a *App) fetchMore(ctx context.Context) {
	filter := a.currentFilter()
	offset := 0
	a.store.View(func(s *state.State) { offset = len(s.Events) })
	newLimit := offset + a.cfg.UI.PageSize
	a.spawn(state.OpMore, func() {
		events, err := a.deps.Events.FetchEvents(ctx, filter, a.cfg.UI.PageSize, offset)
		if err != nil {
			logger.Error("Failed to fetch more %s events: %v", filter, err)
			a.store.SetStatus("fetch failed: " + err.Error())
			return
		}
		added := a.store.AppendEvents(filter, events, newLimit)
		logger.Debug("Fetched %d more events, %d new after dedupe", len(events), added)
	})
}

func (a *App) search(ctx context.Context, query string) {
	a.spawn(state.OpSearch, func() {
		events, err := a.deps.Events.SearchEvents(ctx, query, a.cfg.UI.PageSize)
		if err != nil {
			logger.Error("Search %q failed: %v", query, err)
			a.store.SetStatus("search failed: " + err.Error())
			return
		}
		a.store.SetSearchResults(events)
	})
}

func (a *App) yieldSearch(ctx context.Context, query string) {
	a.spawn(state.OpYieldSearch, func() {
		events, err := a.deps.Events.SearchEvents(ctx, query, a.cfg.UI.PageSize)
		if err != nil {
			logger.Error("Yield scan %q failed: %v", query, err)
			a.store.SetStatus("yield scan failed: " + err.Error())
			return
		}
		opps := models.FindYieldOpportunities(events, yieldMinPrice, yieldMaxPrice, time.Now())
		for _, e := range events {
			a.store.CacheEvent(e)
		}
		a.store.SetYieldResults(opps)
	})
}

// ensureEvent fetches the full event for a slug-only reference and puts
// it in the slug cache. Already-cached events are not refetched.
func (a *App) ensureEvent(ctx context.Context, slug string) {
	if _, ok := a.store.CachedEvent(slug); ok {
		return
	}
	a.spawn(state.OpEventBySlug, func() {
		event, err := a.deps.Events.FetchEventBySlug(ctx, slug)
		if err != nil {
			logger.Error("Failed to fetch event %s: %v", slug, err)
			return
		}
		if event == nil {
			logger.Warn("Event %s no longer exists upstream", slug)
			a.store.SetStatus("event not found: " + slug)
			return
		}
		a.store.CacheEvent(*event)
	})
}

// refreshPrices updates live prices for every outcome of an event. The
// batch endpoint is tried first; on failure each asset falls back to an
// individual fetch so one bad token does not blank the whole panel.
func (a *App) refreshPrices(ctx context.Context, event models.Event) {
	ids := event.AssetIDs()
	if len(ids) == 0 {
		return
	}
	a.spawn(state.OpPrices, func() {
		prices, err := a.deps.MarketData.FetchPricesBatch(ctx, ids)
		if err != nil {
			logger.Warn("Batch price fetch failed, falling back per asset: %v", err)
			prices = make(map[string]float64, len(ids))
			for _, id := range ids {
				p, perr := a.deps.MarketData.FetchPrice(ctx, id)
				if perr != nil {
					continue
				}
				prices[id] = p
			}
		}
		if len(prices) > 0 {
			a.store.MergePrices(prices)
		}
	})
}

// refreshBook fetches the order book for a market's primary outcome.
// Closed markets have no book; the fetch is skipped entirely.
func (a *App) refreshBook(ctx context.Context, market models.Market) {
	if market.Closed || len(market.Outcomes) == 0 {
		return
	}
	assetID := market.Outcomes[0].TokenID
	a.spawn(state.OpBook, func() {
		bids, asks, err := a.deps.MarketData.FetchOrderbook(ctx, assetID)
		if err != nil {
			logger.Warn("Failed to fetch book for %s: %v", assetID, err)
			return
		}
		snap := models.BuildDepth(assetID, bids, asks)
		if snap.Anomalous {
			logger.Warn("Crossed book for %s: spread %.4f", assetID, snap.Spread)
		}
		a.store.SetBook(&snap)
	})
}

func (a *App) fetchProfile(ctx context.Context) {
	if !a.cfg.Account.HasAuth() {
		return
	}
	address := a.cfg.Account.Address
	a.spawn(state.OpProfile, func() {
		profile, err := a.deps.Account.GetProfile(ctx, address)
		if err != nil {
			logger.Error("Failed to fetch profile: %v", err)
			return
		}
		a.store.SetProfile(profile)
	})
}

func (a *App) fetchPortfolio(ctx context.Context) {
	if !a.cfg.Account.HasAuth() {
		a.store.SetStatus("portfolio requires a session token")
		return
	}
	address := a.cfg.Account.Address
	a.spawn(state.OpPortfolio, func() {
		portfolio, err := a.deps.Account.GetPortfolio(ctx, address)
		if err != nil {
			logger.Error("Failed to fetch portfolio: %v", err)
			a.store.SetStatus("portfolio fetch failed: " + err.Error())
			return
		}
		a.store.SetPortfolio(portfolio)
	})
}

func (a *App) fetchFavorites(ctx context.Context) {
	if !a.cfg.Account.HasAuth() {
		a.store.SetStatus("favorites require a session token")
		return
	}
	a.spawn(state.OpFavorites, func() {
		favorites, err := a.deps.Account.ListFavorites(ctx)
		if err != nil {
			if errors.Is(err, polymarket.ErrNoAuth) {
				a.store.SetStatus("favorites require a session token")
				return
			}
			logger.Error("Failed to fetch favorites: %v", err)
			a.store.SetStatus("favorites fetch failed: " + err.Error())
			return
		}
		a.store.SetFavorites(favorites)
	})
}

// toggleFavorite adds or removes the selected event from favorites. The
// local set mutates only after the API confirms, so the star never lies.
func (a *App) toggleFavorite(ctx context.Context) {
	if !a.cfg.Account.HasAuth() {
		a.store.SetStatus("favorites require a session token")
		return
	}
	slug := a.store.SelectedSlug()
	if slug == "" {
		return
	}

	if fav, ok := a.store.FavoriteFor(slug); ok {
		a.spawn(state.OpFavoriteToggle, func() {
			if err := a.deps.Account.RemoveFavorite(ctx, fav.ID); err != nil {
				logger.Error("Failed to remove favorite %s: %v", slug, err)
				a.store.SetStatus("unfavorite failed: " + err.Error())
				return
			}
			a.store.RemoveFavoriteLocal(slug)
		})
		return
	}

	event, ok := a.store.SelectedEvent()
	if !ok {
		a.store.SetStatus("event still loading")
		return
	}
	a.spawn(state.OpFavoriteToggle, func() {
		fav, err := a.deps.Account.AddFavorite(ctx, event.ID)
		if err != nil {
			logger.Error("Failed to add favorite %s: %v", slug, err)
			a.store.SetStatus("favorite failed: " + err.Error())
			return
		}
		if fav.EventSlug == "" {
			fav.EventSlug = slug
		}
		if fav.Title == "" {
			fav.Title = event.Title
		}
		a.store.AddFavoriteLocal(*fav)
	})
}

func (a *App) checkHealth(ctx context.Context) {
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		a.store.SetHealthy(a.deps.MarketData.Healthy(ctx))
	}()
}
