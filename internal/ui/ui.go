// Package ui renders the dashboard state to the terminal with raw ANSI
// escape sequences. Rendering is a pure function of one state snapshot;
// the renderer holds no domain state of its own.
package ui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/rewired-gh/polyterm/internal/models"
	"github.com/rewired-gh/polyterm/internal/state"
)

const (
	cReset = "\033[0m"
	cBold  = "\033[1m"
	cDim   = "\033[2m"

	cPrimary = "\033[38;5;39m"
	cAccent  = "\033[38;5;220m"
	cSuccess = "\033[38;5;82m"
	cDanger  = "\033[38;5;196m"
	cWarn    = "\033[38;5;214m"

	cBgHeader = "\033[48;5;17m"
)

const (
	minWidth  = 60
	minHeight = 16
)

// Renderer draws full frames to stdout. It repaints in place with a
// cursor-home plus per-line erase, never a whole-screen clear, to avoid
// flicker at the loop's repaint rate.
type Renderer struct {
	width  int
	height int
}

// NewRenderer creates a renderer and reads the initial terminal size.
func NewRenderer() *Renderer {
	r := &Renderer{}
	r.Resize()
	return r
}

// Resize re-reads the terminal dimensions. Called every frame; the size
// query is cheap.
func (r *Renderer) Resize() {
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 || h <= 0 {
		w, h = 80, 24
	}
	if w < minWidth {
		w = minWidth
	}
	if h < minHeight {
		h = minHeight
	}
	r.width, r.height = w, h
}

// Begin switches to the alternate screen and hides the cursor.
func (r *Renderer) Begin() {
	fmt.Print("\033[?1049h\033[?25l\033[2J")
}

// End restores the main screen and the cursor.
func (r *Renderer) End() {
	fmt.Print("\033[?1049l\033[?25h" + cReset)
}

// Render draws one frame from a state snapshot.
func (r *Renderer) Render(s *state.State) {
	r.Resize()

	var b strings.Builder
	b.Grow(r.width * r.height)
	b.WriteString("\033[H")

	lines := r.frame(s)
	for i := 0; i < r.height; i++ {
		if i < len(lines) {
			b.WriteString(lines[i])
		}
		b.WriteString("\033[K")
		if i < r.height-1 {
			b.WriteString("\r\n")
		}
	}
	fmt.Print(b.String())
}

func (r *Renderer) frame(s *state.State) []string {
	var lines []string
	lines = append(lines, r.headerLine(s))
	lines = append(lines, r.tabLine(s))

	switch s.Modal {
	case state.ModalHelp:
		lines = append(lines, r.helpLines()...)
	case state.ModalEventDetail:
		lines = append(lines, r.detailLines(s)...)
	default:
		lines = append(lines, r.bodyLines(s)...)
	}

	for len(lines) < r.height-1 {
		lines = append(lines, "")
	}
	lines = lines[:r.height-1]
	return append(lines, r.statusLine(s))
}

func (r *Renderer) headerLine(s *state.State) string {
	health := cSuccess + "● online" + cReset
	if !s.Healthy {
		health = cDanger + "● offline" + cReset
	}
	left := cBgHeader + cBold + " POLYTERM " + cReset + " " + health
	right := cDim + time.Now().Format("15:04:05") + cReset
	pad := r.width - visibleLen(left) - visibleLen(right)
	if pad < 1 {
		pad = 1
	}
	return left + strings.Repeat(" ", pad) + right
}

func (r *Renderer) tabLine(s *state.State) string {
	tabs := []state.Tab{
		state.TabTrending, state.TabVolume, state.TabLiquidity, state.TabNewest,
		state.TabEndingSoon, state.TabFavorites, state.TabSearch, state.TabYield,
		state.TabPortfolio,
	}
	var b strings.Builder
	for i, tab := range tabs {
		label := fmt.Sprintf(" %d:%s ", i+1, tab)
		if tab == s.Tab {
			b.WriteString(cAccent + cBold + label + cReset)
		} else {
			b.WriteString(cDim + label + cReset)
		}
	}
	return truncate(b.String(), r.width)
}

func (r *Renderer) bodyLines(s *state.State) []string {
	switch s.Tab {
	case state.TabSearch:
		lines := []string{r.queryLine("Search", s.SearchQuery, s.Pending(state.OpSearch))}
		return append(lines, r.eventList(s, s.SearchResults)...)
	case state.TabYield:
		lines := []string{r.queryLine("Yield scan", s.YieldQuery, s.Pending(state.OpYieldSearch))}
		return append(lines, r.yieldList(s)...)
	case state.TabFavorites:
		return r.favoriteList(s)
	case state.TabPortfolio:
		return r.portfolioLines(s)
	default:
		return r.eventList(s, s.Events)
	}
}

func (r *Renderer) queryLine(label, query string, pending bool) string {
	spin := ""
	if pending {
		spin = " " + cWarn + "…" + cReset
	}
	return fmt.Sprintf(" %s%s:%s %s█%s", cBold, label, cReset, query, spin)
}

func (r *Renderer) eventList(s *state.State, events []models.Event) []string {
	if len(events) == 0 {
		return []string{"", cDim + "  no events" + cReset}
	}
	lines := []string{""}
	for i, e := range events {
		marker := "  "
		line := fmt.Sprintf("%-*s %10s %10s", r.width-28, truncate(e.Title, r.width-28),
			compactUSD(e.Volume24hr), compactUSD(e.Liquidity))
		if _, fav := s.Favorites[e.Slug]; fav {
			marker = cAccent + "★ " + cReset
		}
		if _, watched := s.Watched[e.Slug]; watched {
			line += cSuccess + " ◉" + cReset
		}
		if i == s.EventCursor {
			lines = append(lines, cPrimary+cBold+"▸ "+cReset+marker+cBold+line+cReset)
		} else {
			lines = append(lines, "  "+marker+line)
		}
	}
	return lines
}

func (r *Renderer) yieldList(s *state.State) []string {
	if len(s.YieldResults) == 0 {
		return []string{"", cDim + "  no opportunities" + cReset}
	}
	lines := []string{
		"",
		fmt.Sprintf("  %s%-*s %8s %6s %8s %8s%s", cDim, r.width-38, "OUTCOME",
			"PRICE", "DAYS", "PERIOD", "ANNUAL", cReset),
	}
	for i, o := range s.YieldResults {
		title := truncate(fmt.Sprintf("%s · %s", o.EventTitle, o.Outcome), r.width-38)
		line := fmt.Sprintf("%-*s %7.1f¢ %6.0f %7.1f%% %7.1f%%", r.width-38, title,
			o.Price*100, o.DaysLeft, o.Periodic*100, o.Annualized*100)
		if i == s.EventCursor {
			lines = append(lines, cPrimary+cBold+"▸ "+line+cReset)
		} else {
			lines = append(lines, "  "+line)
		}
	}
	return lines
}

func (r *Renderer) favoriteList(s *state.State) []string {
	favs := s.FavoritesSorted()
	if len(favs) == 0 {
		return []string{"", cDim + "  no favorites" + cReset}
	}
	lines := []string{""}
	for i, f := range favs {
		line := cAccent + "★ " + cReset + truncate(f.Title, r.width-6)
		if i == s.EventCursor {
			lines = append(lines, cPrimary+cBold+"▸ "+cReset+line)
		} else {
			lines = append(lines, "  "+line)
		}
	}
	return lines
}

func (r *Renderer) portfolioLines(s *state.State) []string {
	if !s.HasAuth {
		return []string{"", cDim + "  no session token configured" + cReset}
	}
	var lines []string
	if s.Profile != nil {
		name := s.Profile.Name
		if name == "" {
			name = s.Profile.Pseudonym
		}
		lines = append(lines, "", fmt.Sprintf("  %s%s%s  %s%s%s",
			cBold, name, cReset, cDim, s.Profile.Address, cReset))
	}
	if s.Portfolio == nil {
		return append(lines, "", cDim+"  loading portfolio"+cReset)
	}
	lines = append(lines, fmt.Sprintf("  Balance: %s%s%s", cBold, compactUSD(s.Portfolio.Balance), cReset), "")
	if len(s.Portfolio.Positions) == 0 {
		return append(lines, cDim+"  no open positions"+cReset)
	}
	lines = append(lines, fmt.Sprintf("  %s%-*s %10s %8s %10s %10s%s", cDim,
		r.width-44, "POSITION", "SIZE", "AVG", "VALUE", "PNL", cReset))
	for _, p := range s.Portfolio.Positions {
		pnl := cSuccess
		if p.CashPnL < 0 {
			pnl = cDanger
		}
		title := truncate(fmt.Sprintf("%s · %s", p.MarketTitle, p.Outcome), r.width-44)
		lines = append(lines, fmt.Sprintf("  %-*s %10.0f %7.1f¢ %10s %s%10s%s",
			r.width-44, title, p.Size, p.AvgPrice*100,
			compactUSD(p.CurrentValue), pnl, compactUSD(p.CashPnL), cReset))
	}
	return lines
}

// detailLines renders the event-detail modal: markets with prices on the
// left, order book and live trades stacked on the right.
func (r *Renderer) detailLines(s *state.State) []string {
	event, ok := s.SelectedEvent()
	if !ok {
		return []string{"", cDim + "  loading event" + cReset}
	}

	lines := []string{"", "  " + cBold + truncate(event.Title, r.width-4) + cReset, ""}

	for i, m := range event.Markets {
		marker := "  "
		if i == s.MarketCursor {
			marker = cPrimary + "▸ " + cReset
		}
		closed := ""
		if m.Closed {
			closed = cDim + " [closed]" + cReset
		}
		lines = append(lines, marker+truncate(m.Question, r.width-6)+closed)
		for _, o := range m.Outcomes {
			price := o.Price
			if live, ok := s.Prices[o.TokenID]; ok {
				price = live
			}
			lines = append(lines, fmt.Sprintf("      %-12s %s%5.1f¢%s",
				truncate(o.Label, 12), cBold, price*100, cReset))
		}
	}

	lines = append(lines, "", "  "+cBold+"Order book"+cReset)
	lines = append(lines, r.bookLines(s)...)

	lines = append(lines, "", "  "+cBold+"Live trades"+cReset)
	lines = append(lines, r.tradeLines(s, event.Slug)...)
	return lines
}

func (r *Renderer) bookLines(s *state.State) []string {
	book := s.Book
	if book == nil {
		if s.Pending(state.OpBook) {
			return []string{cDim + "  loading book" + cReset}
		}
		return []string{cDim + "  no book" + cReset}
	}
	var lines []string
	if book.Anomalous {
		lines = append(lines, cWarn+"  ⚠ crossed book"+cReset)
	} else if book.HasSpread {
		lines = append(lines, fmt.Sprintf("  spread %.1f¢", book.Spread*100))
	}
	depth := 8
	asks := book.Asks
	if len(asks) > depth {
		asks = asks[:depth]
	}
	for i := len(asks) - 1; i >= 0; i-- {
		l := asks[i]
		lines = append(lines, fmt.Sprintf("  %s%6.1f¢ %10.0f %12.0f%s",
			cDanger, l.Price*100, l.Size, l.Total, cReset))
	}
	bids := book.Bids
	if s.BookScroll < len(bids) {
		bids = bids[s.BookScroll:]
	} else {
		bids = nil
	}
	if len(bids) > depth {
		bids = bids[:depth]
	}
	for _, l := range bids {
		lines = append(lines, fmt.Sprintf("  %s%6.1f¢ %10.0f %12.0f%s",
			cSuccess, l.Price*100, l.Size, l.Total, cReset))
	}
	return lines
}

func (r *Renderer) tradeLines(s *state.State, slug string) []string {
	trades := s.Trades[slug]
	if len(trades) == 0 {
		if _, watched := s.Watched[slug]; watched {
			return []string{cDim + "  waiting for trades" + cReset}
		}
		return []string{cDim + "  press w to watch" + cReset}
	}
	if s.TradeScroll < len(trades) {
		trades = trades[s.TradeScroll:]
	} else {
		trades = nil
	}
	const visible = 10
	if len(trades) > visible {
		trades = trades[:visible]
	}
	var lines []string
	for _, t := range trades {
		side := cSuccess + "BUY " + cReset
		if t.Side == models.Sell {
			side = cDanger + "SELL" + cReset
		}
		lines = append(lines, fmt.Sprintf("  %s %s %-8s %6.1f¢ %9s  %s%s%s",
			cDim+t.Timestamp.Format("15:04:05")+cReset, side,
			truncate(t.Outcome, 8), t.Price*100, compactUSD(t.Value),
			cDim, truncate(t.Trader, 16), cReset))
	}
	return lines
}

func (r *Renderer) helpLines() []string {
	rows := []struct{ key, desc string }{
		{"1-9", "switch tab"},
		{"↑/↓ j/k", "move selection"},
		{"←/→ h/l", "select market"},
		{"enter", "open event detail"},
		{"esc", "close modal / clear search"},
		{"w", "watch or unwatch live trades"},
		{"f", "toggle favorite"},
		{"m", "fetch more events"},
		{"r", "refresh current view"},
		{"PgUp/PgDn", "scroll book and trades"},
		{"?", "toggle this help"},
		{"q / ctrl-c", "quit"},
	}
	lines := []string{"", "  " + cBold + "Keys" + cReset, ""}
	for _, row := range rows {
		lines = append(lines, fmt.Sprintf("  %s%-12s%s %s", cAccent, row.key, cReset, row.desc))
	}
	return lines
}

func (r *Renderer) statusLine(s *state.State) string {
	status := s.Status
	if status == "" {
		status = fmt.Sprintf("%s · %d events", s.Tab, s.ActiveListLen())
	}
	busy := ""
	for op := state.Op(0); op < state.OpCount(); op++ {
		if s.Pending(op) {
			busy = cWarn + " ⟳ " + op.String() + cReset
			break
		}
	}
	return cDim + " " + truncate(status, r.width-12) + cReset + busy
}

// visibleLen counts printable characters, skipping ANSI sequences.
func visibleLen(s string) int {
	n := 0
	inEscape := false
	for _, c := range s {
		switch {
		case inEscape:
			if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
				inEscape = false
			}
		case c == '\033':
			inEscape = true
		default:
			n++
		}
	}
	return n
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	return string(runes[:max-1]) + "…"
}

// compactUSD formats a dollar amount with k/M suffixes for column
// alignment.
func compactUSD(v float64) string {
	neg := ""
	if v < 0 {
		neg = "-"
		v = -v
	}
	switch {
	case v >= 1_000_000:
		return fmt.Sprintf("%s$%.1fM", neg, v/1_000_000)
	case v >= 1_000:
		return fmt.Sprintf("%s$%.1fk", neg, v/1_000)
	default:
		return fmt.Sprintf("%s$%.0f", neg, v)
	}
}
