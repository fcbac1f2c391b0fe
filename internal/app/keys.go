package app

import (
	"context"
	"time"

	"github.com/rewired-gh/polyterm/internal/input"
	"github.com/rewired-gh/polyterm/internal/state"
)

// handleKey dispatches one keystroke. Text-entry tabs consume runes as
// query edits; everywhere else runes are commands.
func (a *App) handleKey(ctx context.Context, key input.Key) {
	if key.Kind == input.KeyCtrlC {
		a.store.SetQuit()
		return
	}

	if a.store.Modal() != state.ModalNone {
		a.handleModalKey(ctx, key)
		return
	}

	tab := a.store.Tab()
	typing := tab == state.TabSearch || tab == state.TabYield

	switch key.Kind {
	case input.KeyUp:
		a.store.MoveEventCursor(-1)
	case input.KeyDown:
		a.store.MoveEventCursor(1)
	case input.KeyLeft:
		a.store.MoveMarketCursor(-1)
	case input.KeyRight:
		a.store.MoveMarketCursor(1)
	case input.KeyEnter:
		a.openDetail(ctx)
	case input.KeyEscape:
		if typing {
			a.recordEdit(tab, "")
		}
	case input.KeyBackspace:
		if typing {
			q := a.currentQuery(tab)
			if len(q) > 0 {
				a.recordEdit(tab, string([]rune(q)[:len([]rune(q))-1]))
			}
		}
	case input.KeyTab:
		a.switchTab(ctx, (tab+1)%state.TabCount())
	case input.KeyPageUp:
		a.store.ScrollBook(-3)
		a.store.ScrollTrades(-3)
	case input.KeyPageDown:
		a.store.ScrollBook(3)
		a.store.ScrollTrades(3)
	case input.KeyRune:
		a.handleRune(ctx, key.Rune, typing)
	}
}

func (a *App) handleRune(ctx context.Context, r rune, typing bool) {
	if typing {
		tab := a.store.Tab()
		// Digits still switch tabs while typing would be hostile; in
		// text-entry tabs every printable rune belongs to the query.
		a.recordEdit(tab, a.currentQuery(tab)+string(r))
		return
	}

	switch r {
	case 'q':
		a.store.SetQuit()
	case '1', '2', '3', '4', '5', '6', '7', '8', '9':
		if tab := state.Tab(r - '1'); tab < state.TabCount() {
			a.switchTab(ctx, tab)
		}
	case 'j':
		a.store.MoveEventCursor(1)
	case 'k':
		a.store.MoveEventCursor(-1)
	case 'h':
		a.store.MoveMarketCursor(-1)
	case 'l':
		a.store.MoveMarketCursor(1)
	case 'w':
		if slug := a.store.SelectedSlug(); slug != "" {
			a.toggleWatch(ctx, slug)
		}
	case 'f':
		a.toggleFavorite(ctx)
	case 'm':
		a.fetchMore(ctx)
	case 'r':
		a.refresh(ctx)
	case '?':
		a.store.SetModal(state.ModalHelp)
	}
}

func (a *App) handleModalKey(ctx context.Context, key input.Key) {
	switch key.Kind {
	case input.KeyEscape, input.KeyEnter:
		a.store.SetModal(state.ModalNone)
	case input.KeyUp:
		a.store.MoveEventCursor(-1)
	case input.KeyDown:
		a.store.MoveEventCursor(1)
	case input.KeyLeft:
		a.store.MoveMarketCursor(-1)
	case input.KeyRight:
		a.store.MoveMarketCursor(1)
	case input.KeyPageUp:
		a.store.ScrollBook(-3)
		a.store.ScrollTrades(-3)
	case input.KeyPageDown:
		a.store.ScrollBook(3)
		a.store.ScrollTrades(3)
	case input.KeyRune:
		switch key.Rune {
		case 'q':
			a.store.SetModal(state.ModalNone)
		case 'w':
			if slug := a.store.SelectedSlug(); slug != "" {
				a.toggleWatch(ctx, slug)
			}
		case 'f':
			a.toggleFavorite(ctx)
		case '?':
			a.store.SetModal(state.ModalNone)
		}
	}
}

func (a *App) openDetail(ctx context.Context) {
	slug := a.store.SelectedSlug()
	if slug == "" {
		return
	}
	a.store.SetModal(state.ModalEventDetail)
	a.ensureEvent(ctx, slug)
	// Force an immediate book and price refresh on the next tick
	a.lastBookFetch = time.Time{}
}

// switchTab changes panels and triggers whatever fetch the new panel
// needs. Filter tabs reuse their memoized list when present.
func (a *App) switchTab(ctx context.Context, tab state.Tab) {
	a.store.SetTab(tab)
	switch tab {
	case state.TabSearch, state.TabYield:
		// Text-entry tabs fetch on debounce expiry, not on entry
	case state.TabFavorites:
		a.fetchFavorites(ctx)
	case state.TabPortfolio:
		a.fetchProfile(ctx)
		a.fetchPortfolio(ctx)
	default:
		filter := filterForTab(tab)
		if !a.store.UseCachedEvents(filter) {
			a.fetchEvents(ctx, filter)
		}
	}
}

// refresh drops the current view's cache and refetches.
func (a *App) refresh(ctx context.Context) {
	switch a.store.Tab() {
	case state.TabFavorites:
		a.fetchFavorites(ctx)
	case state.TabPortfolio:
		a.fetchPortfolio(ctx)
	case state.TabSearch, state.TabYield:
		// Nothing to refresh without a new query
	default:
		filter := a.currentFilter()
		a.store.InvalidateFilter(filter)
		a.fetchEvents(ctx, filter)
	}
}

func (a *App) currentQuery(tab state.Tab) string {
	var q string
	a.store.View(func(s *state.State) {
		if tab == state.TabYield {
			q = s.YieldQuery
		} else {
			q = s.SearchQuery
		}
	})
	return q
}

func (a *App) recordEdit(tab state.Tab, query string) {
	if tab == state.TabYield {
		a.store.RecordYieldEdit(query, time.Now())
	} else {
		a.store.RecordSearchEdit(query, time.Now())
	}
}
