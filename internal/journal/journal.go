// Package journal records session and fill history in SQLite.
//
// The journal is an audit trail, not trading state: the JSON state file
// remains the authority for recovery, and every journal write failure is
// logged and swallowed so bookkeeping can never stall the engine. A nil
// *Journal is valid and does nothing, which keeps the wiring simple when
// journaling is disabled.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"polymarket-lp/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id  TEXT PRIMARY KEY,
    market_slug TEXT NOT NULL,
    mode        TEXT NOT NULL,
    started_at  DATETIME NOT NULL,
    ended_at    DATETIME,
    end_reason  TEXT,
    pnl         REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS fills (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    order_id   TEXT NOT NULL,
    token_id   TEXT NOT NULL,
    side       TEXT NOT NULL,
    price      REAL NOT NULL,
    size       REAL NOT NULL,
    filled_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fills_session ON fills(session_id);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at DESC);
`

// Journal is the SQLite-backed trade history recorder.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the journal database, applies the schema, and
// prunes sessions older than retain. An empty path disables journaling
// and returns a nil journal.
func Open(path string, retain time.Duration, logger *slog.Logger) (*Journal, error) {
	if path == "" {
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %q: %w", path, err)
	}
	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}

	j := &Journal{db: db, logger: logger.With("component", "journal")}
	j.prune(retain)
	return j, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}

// prune deletes sessions (and their fills) older than the retention window.
func (j *Journal) prune(retain time.Duration) {
	if retain <= 0 {
		return
	}
	cutoff := time.Now().Add(-retain).UTC()

	res, err := j.db.Exec(
		`DELETE FROM fills WHERE session_id IN
		   (SELECT session_id FROM sessions WHERE started_at < ?)`, cutoff)
	if err != nil {
		j.logger.Error("journal prune fills", "error", err)
		return
	}
	if _, err := j.db.Exec(`DELETE FROM sessions WHERE started_at < ?`, cutoff); err != nil {
		j.logger.Error("journal prune sessions", "error", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		j.logger.Info("journal pruned", "fills", n)
	}
}

// SessionStarted records a new farming session.
func (j *Journal) SessionStarted(ctx context.Context, sessionID, marketSlug, mode string) {
	if j == nil {
		return
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (session_id, market_slug, mode, started_at) VALUES (?, ?, ?, ?)`,
		sessionID, marketSlug, mode, time.Now().UTC())
	if err != nil {
		j.logger.Error("journal session start", "error", err)
	}
}

// SessionEnded closes out a session with its final PnL and reason.
func (j *Journal) SessionEnded(ctx context.Context, sessionID, reason string, pnl float64) {
	if j == nil {
		return
	}
	_, err := j.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, end_reason = ?, pnl = ? WHERE session_id = ?`,
		time.Now().UTC(), reason, pnl, sessionID)
	if err != nil {
		j.logger.Error("journal session end", "error", err)
	}
}

// RecordFill appends one fill row for size shares. Partial fills produce a
// row per increment, so the history sums to the filled amount.
func (j *Journal) RecordFill(ctx context.Context, sessionID string, o types.Order, size float64) {
	if j == nil {
		return
	}
	filledAt := o.FilledAt
	if filledAt.IsZero() {
		filledAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO fills (session_id, order_id, token_id, side, price, size, filled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, o.ID, o.TokenID, string(o.Side), o.Price, size, filledAt.UTC())
	if err != nil {
		j.logger.Error("journal fill", "error", err)
	}
}

// SessionCount returns the number of recorded sessions. Used by tests and
// status reporting.
func (j *Journal) SessionCount(ctx context.Context) (int, error) {
	if j == nil {
		return 0, nil
	}
	var n int
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n, err
}

// FillCount returns the number of fills recorded for a session.
func (j *Journal) FillCount(ctx context.Context, sessionID string) (int, error) {
	if j == nil {
		return 0, nil
	}
	var n int
	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fills WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// FilledSize returns the total shares recorded for an order across all of
// its fill rows.
func (j *Journal) FilledSize(ctx context.Context, sessionID, orderID string) (float64, error) {
	if j == nil {
		return 0, nil
	}
	var total float64
	err := j.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size), 0) FROM fills WHERE session_id = ? AND order_id = ?`,
		sessionID, orderID).Scan(&total)
	return total, err
}
