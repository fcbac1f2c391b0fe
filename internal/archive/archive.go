// Package archive provides SQLite-backed persistence for observed trades
// and the last UI session, so a restart resumes where the user left off.
package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/polyterm/internal/models"
	_ "modernc.org/sqlite"
)

// Archive wraps a SQLite database for all persistence operations.
type Archive struct {
	db          *sql.DB
	maxPerEvent int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/polyterm/archive.db.
func New(maxPerEvent int, dbPath string) (*Archive, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "polyterm", "archive.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	a := &Archive{db: db, maxPerEvent: maxPerEvent}
	if err := a.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return a, nil
}

// Close closes the underlying database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id           TEXT PRIMARY KEY,
			event_slug   TEXT NOT NULL,
			ts           INTEGER NOT NULL,
			side         TEXT NOT NULL,
			outcome      TEXT,
			price        REAL NOT NULL,
			size         REAL NOT NULL,
			value        REAL NOT NULL,
			market_title TEXT,
			asset_id     TEXT NOT NULL,
			trader       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_event_ts ON trades(event_slug, ts DESC)`,
		`CREATE TABLE IF NOT EXISTS session (
			id           INTEGER PRIMARY KEY CHECK (id = 1),
			tab          INTEGER NOT NULL,
			filter       TEXT NOT NULL,
			search_query TEXT NOT NULL,
			watched      TEXT NOT NULL DEFAULT '[]',
			saved_at     INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := a.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveTrade archives one observed trade, then trims the event's archive
// to the newest maxPerEvent rows. A replayed trade ID is ignored.
func (a *Archive) SaveTrade(eventSlug string, t models.Trade) error {
	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT OR IGNORE INTO trades
			(id, event_slug, ts, side, outcome, price, size, value, market_title, asset_id, trader)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, eventSlug, t.Timestamp.UnixNano(), string(t.Side), t.Outcome,
		t.Price, t.Size, t.Value, t.MarketTitle, t.AssetID, t.Trader,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}

	if _, err = tx.Exec(`
		DELETE FROM trades WHERE event_slug = ? AND id NOT IN (
			SELECT id FROM trades WHERE event_slug = ? ORDER BY ts DESC LIMIT ?
		)`, eventSlug, eventSlug, a.maxPerEvent); err != nil {
		return fmt.Errorf("failed to enforce trade cap: %w", err)
	}

	return tx.Commit()
}

// RecentTrades returns up to limit archived trades for an event, newest
// first.
func (a *Archive) RecentTrades(eventSlug string, limit int) ([]models.Trade, error) {
	rows, err := a.db.Query(`
		SELECT id, ts, side, outcome, price, size, value, market_title, asset_id, trader
		FROM trades WHERE event_slug = ? ORDER BY ts DESC LIMIT ?`, eventSlug, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		var tsNano int64
		var side string
		err := rows.Scan(
			&t.ID, &tsNano, &side, &t.Outcome, &t.Price, &t.Size, &t.Value,
			&t.MarketTitle, &t.AssetID, &t.Trader,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Timestamp = time.Unix(0, tsNano)
		t.Side = models.TradeSide(side)
		trades = append(trades, t)
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	return trades, rows.Err()
}

// PurgeTradesBefore deletes archived trades older than cutoff.
func (a *Archive) PurgeTradesBefore(cutoff time.Time) error {
	if _, err := a.db.Exec(`DELETE FROM trades WHERE ts < ?`, cutoff.UnixNano()); err != nil {
		return fmt.Errorf("failed to purge trades: %w", err)
	}
	return nil
}

// Session is the persisted slice of UI state restored on startup.
type Session struct {
	Tab         int
	Filter      string
	SearchQuery string
	Watched     []string
	SavedAt     time.Time
}

// SaveSession persists the session snapshot, replacing any previous one.
func (a *Archive) SaveSession(s Session) error {
	watchedJSON, err := json.Marshal(s.Watched)
	if err != nil {
		return fmt.Errorf("failed to marshal watched slugs: %w", err)
	}
	_, err = a.db.Exec(`
		INSERT OR REPLACE INTO session (id, tab, filter, search_query, watched, saved_at)
		VALUES (1,?,?,?,?,?)`,
		s.Tab, s.Filter, s.SearchQuery, string(watchedJSON), s.SavedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// LoadSession returns the persisted session, or ok=false when none has
// been saved yet.
func (a *Archive) LoadSession() (Session, bool, error) {
	row := a.db.QueryRow(`SELECT tab, filter, search_query, watched, saved_at FROM session WHERE id = 1`)

	var s Session
	var watchedJSON string
	var savedAtNano int64
	err := row.Scan(&s.Tab, &s.Filter, &s.SearchQuery, &watchedJSON, &savedAtNano)
	if err == sql.ErrNoRows {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("failed to load session: %w", err)
	}
	if err := json.Unmarshal([]byte(watchedJSON), &s.Watched); err != nil {
		return Session{}, false, fmt.Errorf("failed to unmarshal watched slugs: %w", err)
	}
	s.SavedAt = time.Unix(0, savedAtNano)
	return s, true, nil
}
