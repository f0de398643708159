// Package store provides the order manager's persistence layer: a
// SQLite-backed implementation of every CRUD and aggregate operation the
// core needs across claims, lots, allocations, pending trades, scheduled
// intents, and dependent trades. It is pure Go (modernc.org/sqlite, no
// cgo) so the binary stays a single static executable.
//
// Every public method is atomic; multi-row workflows (a fill producing a
// lot plus one allocation per claim plus a claim-amount update) run inside
// a single transaction via WithTx.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Store wraps a SQLite database connection.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at dsn and runs migrations.
// The driver pragmas are appended to any query string dsn already carries.
func Open(ctx context.Context, dsn string) (*Store, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", dsn+sep+"_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the underlying database is reachable; used by the
// health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	var version int
	_ = s.db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS claims (
				id            TEXT PRIMARY KEY,
				strategy      TEXT NOT NULL,
				sub_strategy  TEXT,
				ticker        TEXT NOT NULL,
				amount        TEXT NOT NULL,
				unit          TEXT NOT NULL,
				limit_price   TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_claims_ticker ON claims(ticker);

			CREATE TABLE IF NOT EXISTS lots (
				id         TEXT PRIMARY KEY,
				order_id   TEXT NOT NULL,
				ticker     TEXT NOT NULL,
				fill_time  TEXT NOT NULL,
				price      TEXT NOT NULL,
				shares     TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_lots_order ON lots(order_id);
			CREATE INDEX IF NOT EXISTS idx_lots_ticker ON lots(ticker);

			CREATE TABLE IF NOT EXISTS allocations (
				id        TEXT PRIMARY KEY,
				owner     TEXT NOT NULL,
				sub_owner TEXT,
				claim_id  TEXT,
				lot_id    TEXT NOT NULL,
				ticker    TEXT NOT NULL,
				shares    TEXT NOT NULL,
				basis     TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_allocations_owner_ticker ON allocations(owner, sub_owner, ticker);
			CREATE INDEX IF NOT EXISTS idx_allocations_ticker ON allocations(ticker);
			CREATE INDEX IF NOT EXISTS idx_allocations_lot ON allocations(lot_id);

			CREATE TABLE IF NOT EXISTS pending_trades (
				id          TEXT PRIMARY KEY,
				ticker      TEXT NOT NULL,
				qty         TEXT NOT NULL,
				pending_qty TEXT NOT NULL,
				datetime    TEXT NOT NULL,
				status      TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_pending_trades_ticker ON pending_trades(ticker);
			CREATE INDEX IF NOT EXISTS idx_pending_trades_status ON pending_trades(status);

			CREATE TABLE IF NOT EXISTS scheduled_intents (
				id              TEXT PRIMARY KEY,
				strategy        TEXT NOT NULL,
				sub_strategy    TEXT,
				time_stamp      TEXT NOT NULL,
				ticker          TEXT NOT NULL,
				amount          TEXT NOT NULL,
				unit            TEXT NOT NULL,
				update_policy   TEXT NOT NULL,
				decision_price  TEXT,
				limit_price     TEXT,
				stop_price      TEXT,
				before_time     TEXT,
				after_time      TEXT
			);

			CREATE TABLE IF NOT EXISTS dependent_trades (
				trigger_id    TEXT NOT NULL,
				trade_id      TEXT NOT NULL,
				ticker        TEXT NOT NULL,
				qty           TEXT NOT NULL,
				order_type    TEXT NOT NULL,
				time_in_force TEXT NOT NULL,
				limit_price   TEXT,
				stop_price    TEXT,
				PRIMARY KEY (trigger_id, trade_id)
			);
			CREATE INDEX IF NOT EXISTS idx_dependent_trades_trigger ON dependent_trades(trigger_id);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
	}

	return nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting each query
// method run standalone or as part of a caller-managed transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func scanNullableString(src sql.NullString) *string {
	if !src.Valid {
		return nil
	}
	v := src.String
	return &v
}

func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func scanNullableDecimal(src sql.NullString) (*decimal.Decimal, error) {
	if !src.Valid {
		return nil, nil
	}
	v, err := decimal.NewFromString(src.String)
	if err != nil {
		return nil, fmt.Errorf("parse decimal %q: %w", src.String, err)
	}
	return &v, nil
}
