package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"perp_go/internal/domain"
	"perp_go/internal/event"
	"perp_go/internal/marketdata"
)

// Store persists runs, orders, fills, positions, snapshots and the
// audit event log in SQLite. Domain rows are stored as JSON payloads
// with indexed key columns, so the schema never chases struct changes.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Configure SQLite for durable single-writer logging
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
		"PRAGMA foreign_keys=ON;",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			data BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			status TEXT NOT NULL,
			data BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS fills (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			order_id TEXT NOT NULL,
			position_id TEXT NOT NULL,
			at INTEGER NOT NULL,
			data BLOB NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			status TEXT NOT NULL,
			data BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS account_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			at INTEGER NOT NULL,
			data BLOB NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS price_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			at INTEGER NOT NULL,
			data BLOB NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS candles (
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			open_time INTEGER NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (symbol, timeframe, open_time)
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			type INTEGER NOT NULL,
			at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fills_position ON fills(position_id, at);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_run ON positions(run_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_run ON orders(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, id);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts or updates a run.
func (s *Store) SaveRun(ctx context.Context, r *domain.Run) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", r.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO runs (id, status, data, updated_at) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT(id) DO UPDATE SET status=excluded.status, data=excluded.data, updated_at=excluded.updated_at",
		r.ID, string(r.Status), payload, time.Now().UnixMicro())
	if err != nil {
		return fmt.Errorf("failed to upsert run %s: %w", r.ID, err)
	}
	return nil
}

// LoadRun fetches a run by id. Returns sql.ErrNoRows when absent.
func (s *Store) LoadRun(ctx context.Context, id string) (*domain.Run, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM runs WHERE id = ?", id).Scan(&data)
	if err != nil {
		return nil, err
	}
	var r domain.Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", id, err)
	}
	return &r, nil
}

// SaveOrder inserts or updates an order.
func (s *Store) SaveOrder(ctx context.Context, o *domain.Order) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order %s: %w", o.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO orders (id, run_id, status, data, updated_at) VALUES (?, ?, ?, ?, ?) "+
			"ON CONFLICT(id) DO UPDATE SET status=excluded.status, data=excluded.data, updated_at=excluded.updated_at",
		o.ID, o.RunID, string(o.Status), payload, time.Now().UnixMicro())
	if err != nil {
		return fmt.Errorf("failed to upsert order %s: %w", o.ID, err)
	}
	return nil
}

// OrdersForRun returns every order of a run, oldest first.
func (s *Store) OrdersForRun(ctx context.Context, runID string) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM orders WHERE run_id = ? ORDER BY updated_at ASC", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var o domain.Order
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// SaveFill appends a fill. Fills are immutable; a duplicate id is an error.
func (s *Store) SaveFill(ctx context.Context, f *domain.Fill) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal fill %s: %w", f.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO fills (id, run_id, order_id, position_id, at, data) VALUES (?, ?, ?, ?, ?, ?)",
		f.ID, f.RunID, f.OrderID, f.PositionID, f.At.UnixMicro(), payload)
	if err != nil {
		return fmt.Errorf("failed to insert fill %s: %w", f.ID, err)
	}
	return nil
}

// FillsForRun returns every fill of a run in time order.
func (s *Store) FillsForRun(ctx context.Context, runID string) ([]domain.Fill, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM fills WHERE run_id = ? ORDER BY at ASC, id ASC", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fills: %w", err)
	}
	defer rows.Close()

	var out []domain.Fill
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var f domain.Fill
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fill: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SavePosition inserts or updates a position.
func (s *Store) SavePosition(ctx context.Context, p *domain.Position) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal position %s: %w", p.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO positions (id, run_id, symbol, status, data, updated_at) VALUES (?, ?, ?, ?, ?, ?) "+
			"ON CONFLICT(id) DO UPDATE SET status=excluded.status, data=excluded.data, updated_at=excluded.updated_at",
		p.ID, p.RunID, p.Symbol, string(p.Status), payload, time.Now().UnixMicro())
	if err != nil {
		return fmt.Errorf("failed to upsert position %s: %w", p.ID, err)
	}
	return nil
}

// PositionsForRun returns a run's positions, optionally filtered by status.
func (s *Store) PositionsForRun(ctx context.Context, runID string, status domain.PositionStatus) ([]domain.Position, error) {
	query := "SELECT data FROM positions WHERE run_id = ?"
	args := []any{runID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY updated_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var p domain.Position
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveAccountSnapshot appends an equity snapshot.
func (s *Store) SaveAccountSnapshot(ctx context.Context, snap *domain.AccountSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal account snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO account_snapshots (run_id, at, data) VALUES (?, ?, ?)",
		snap.RunID, snap.At.UnixMicro(), payload)
	return err
}

// SavePriceSnapshot appends a decision-time price capture.
func (s *Store) SavePriceSnapshot(ctx context.Context, snap *domain.PriceSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal price snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO price_snapshots (run_id, symbol, at, data) VALUES (?, ?, ?, ?)",
		snap.RunID, snap.Symbol, snap.At.UnixMicro(), payload)
	return err
}

// SaveCandles upserts historical bars for backtests.
func (s *Store) SaveCandles(ctx context.Context, timeframe string, bars []marketdata.Candle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO candles (symbol, timeframe, open_time, data) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT(symbol, timeframe, open_time) DO UPDATE SET data=excluded.data")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range bars {
		payload, err := json.Marshal(&bars[i])
		if err != nil {
			return fmt.Errorf("failed to marshal candle: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, bars[i].Symbol, timeframe, bars[i].OpenTime.UnixMicro(), payload); err != nil {
			return fmt.Errorf("failed to upsert candle: %w", err)
		}
	}
	return tx.Commit()
}

// CandlesBetween returns stored bars for a symbol in [from, to), oldest first.
func (s *Store) CandlesBetween(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]marketdata.Candle, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM candles WHERE symbol = ? AND timeframe = ? AND open_time >= ? AND open_time < ? ORDER BY open_time ASC",
		symbol, timeframe, from.UnixMicro(), to.UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	return scanCandles(rows)
}

// Candles implements marketdata.Provider over the stored tape: bars with
// open time strictly after each symbol's watermark, oldest first.
func (s *Store) Candles(ctx context.Context, symbols []string, since map[string]time.Time, timeframe string) (map[string][]marketdata.Candle, error) {
	out := make(map[string][]marketdata.Candle, len(symbols))
	for _, sym := range symbols {
		rows, err := s.db.QueryContext(ctx,
			"SELECT data FROM candles WHERE symbol = ? AND timeframe = ? AND open_time > ? ORDER BY open_time ASC",
			sym, timeframe, since[sym].UnixMicro())
		if err != nil {
			return nil, fmt.Errorf("failed to query candles: %w", err)
		}
		bars, err := scanCandles(rows)
		if err != nil {
			return nil, err
		}
		out[sym] = bars
	}
	return out, nil
}

func scanCandles(rows *sql.Rows) ([]marketdata.Candle, error) {
	defer rows.Close()

	var out []marketdata.Candle
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var c marketdata.Candle
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal candle: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Append implements event.Sink: every domain event lands in the audit log.
func (s *Store) Append(ctx context.Context, ev event.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO events (run_id, type, at, payload) VALUES (?, ?, ?, ?)",
		ev.RunID, int(ev.Type), ev.At.UnixMicro(), payload)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// StoredEvent is one row of the audit log with its raw payload.
type StoredEvent struct {
	ID      int64
	RunID   string
	Type    event.Type
	At      time.Time
	Payload json.RawMessage
}

// EventsForRun returns a run's audit log in append order.
func (s *Store) EventsForRun(ctx context.Context, runID string) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, run_id, type, at, payload FROM events WHERE run_id = ? ORDER BY id ASC", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var (
			ev StoredEvent
			t  int
			at int64
		)
		if err := rows.Scan(&ev.ID, &ev.RunID, &t, &at, &ev.Payload); err != nil {
			return nil, err
		}
		ev.Type = event.Type(t)
		ev.At = time.UnixMicro(at).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}
