package app

import (
	"context"
	"sync"

	"github.com/rewired-gh/polyterm/internal/logger"
	"github.com/rewired-gh/polyterm/internal/models"
	"github.com/rewired-gh/polyterm/internal/state"
)

// watchHandle is registered before the stream dial completes, so the
// dispatch path never waits on the network and an unwatch during the
// dial still has something to cancel. Once the dial succeeds the real
// stream handle is attached; cancelling before that marks the handle so
// the late stream is torn down on arrival.
type watchHandle struct {
	mu        sync.Mutex
	cancelled bool
	inner     state.Canceller
}

func (h *watchHandle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled = true
	if h.inner != nil {
		h.inner.Cancel()
	}
}

// attach binds the dialled stream. It reports false when the handle was
// cancelled mid-dial; the caller must cancel the stream itself.
func (h *watchHandle) attach(inner state.Canceller) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return false
	}
	h.inner = inner
	return true
}

// toggleWatch starts or stops the live-trade stream for an event. The
// registry invariant holds throughout: a handle is registered if and
// only if the event is watched, and stopping returns the handle so the
// cancel happens outside the store's lock. Subscribing dials on a
// background goroutine; the watch is registered immediately and rolled
// back if the dial fails.
func (a *App) toggleWatch(ctx context.Context, slug string) {
	if h := a.store.StopWatching(slug); h != nil {
		h.Cancel()
		a.store.SetStatus("stopped watching " + slug)
		return
	}

	handle := &watchHandle{}
	if !a.store.StartWatching(slug, handle) {
		return
	}
	a.store.SetStatus("watching " + slug)

	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		inner, err := a.deps.Streams.Subscribe(ctx, slug, func(t models.Trade) {
			a.onTrade(slug, t)
		})
		if err != nil {
			logger.Error("Failed to subscribe to %s: %v", slug, err)
			a.store.SetStatus("watch failed: " + err.Error())
			a.store.AbandonWatch(slug, handle)
			return
		}
		if !handle.attach(inner) {
			// Unwatched while the dial was in flight
			inner.Cancel()
		}
	}()
}

// onTrade runs on the stream's read goroutine for every decoded trade.
// The store bounds and orders the log; archived and alerted trades are
// only those the store accepted.
func (a *App) onTrade(slug string, t models.Trade) {
	if !a.store.AppendTrade(slug, t) {
		return
	}

	if a.deps.Archive != nil {
		if err := a.deps.Archive.SaveTrade(slug, t); err != nil {
			logger.Warn("Failed to archive trade %s: %v", t.ID, err)
		}
	}

	if a.deps.Notifier != nil && a.deps.Notifier.ShouldNotify(t) {
		title := t.MarketTitle
		if event, ok := a.store.CachedEvent(slug); ok {
			title = event.Title
		}
		a.bg.Add(1)
		go func() {
			defer a.bg.Done()
			if err := a.deps.Notifier.NotifyTrade(title, t); err != nil {
				logger.Warn("Failed to send trade alert: %v", err)
			}
		}()
	}
}
