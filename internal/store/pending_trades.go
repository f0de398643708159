package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordermanager/ordermanager/pkg/types"
)

// SavePendingTrade inserts bookkeeping for a newly dispatched trade intent.
func (s *Store) SavePendingTrade(ctx context.Context, t types.PendingTrade) error {
	return s.savePendingTrade(ctx, s.db, t)
}

func (s *Store) savePendingTrade(ctx context.Context, x execer, t types.PendingTrade) error {
	_, err := x.ExecContext(ctx, `
		INSERT INTO pending_trades (id, ticker, qty, pending_qty, datetime, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.Ticker, t.Qty.String(), t.PendingQty.String(),
		t.Datetime.Format(time.RFC3339Nano), string(t.Status),
	)
	if err != nil {
		return fmt.Errorf("save pending trade: %w", err)
	}
	return nil
}

// GetPendingTradeByID returns a single pending trade, or ErrNotFound.
func (s *Store) GetPendingTradeByID(ctx context.Context, id uuid.UUID) (types.PendingTrade, error) {
	return s.getPendingTradeByID(ctx, s.db, id)
}

func (s *Store) getPendingTradeByID(ctx context.Context, x execer, id uuid.UUID) (types.PendingTrade, error) {
	row := x.QueryRowContext(ctx, `
		SELECT id, ticker, qty, pending_qty, datetime, status
		FROM pending_trades WHERE id = ?`, id.String())
	t, err := scanPendingTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.PendingTrade{}, ErrNotFound
	}
	return t, err
}

func scanPendingTrade(row rowScanner) (types.PendingTrade, error) {
	var id, tickerSymbol, qty, pendingQty, datetime, status string
	if err := row.Scan(&id, &tickerSymbol, &qty, &pendingQty, &datetime, &status); err != nil {
		return types.PendingTrade{}, err
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return types.PendingTrade{}, fmt.Errorf("parse pending trade id: %w", err)
	}
	parsedQty, err := decimal.NewFromString(qty)
	if err != nil {
		return types.PendingTrade{}, fmt.Errorf("parse pending trade qty: %w", err)
	}
	parsedPendingQty, err := decimal.NewFromString(pendingQty)
	if err != nil {
		return types.PendingTrade{}, fmt.Errorf("parse pending trade pending_qty: %w", err)
	}
	parsedDatetime, err := time.Parse(time.RFC3339Nano, datetime)
	if err != nil {
		return types.PendingTrade{}, fmt.Errorf("parse pending trade datetime: %w", err)
	}
	return types.PendingTrade{
		ID:         parsedID,
		Ticker:     tickerSymbol,
		Qty:        parsedQty,
		PendingQty: parsedPendingQty,
		Datetime:   parsedDatetime,
		Status:     types.PendingStatus(status),
	}, nil
}

// UpdatePendingTradeQty overwrites the remaining pending_qty after a
// partial fill.
func (s *Store) UpdatePendingTradeQty(ctx context.Context, id uuid.UUID, pendingQty decimal.Decimal) error {
	return s.updatePendingTradeQty(ctx, s.db, id, pendingQty)
}

func (s *Store) updatePendingTradeQty(ctx context.Context, x execer, id uuid.UUID, pendingQty decimal.Decimal) error {
	_, err := x.ExecContext(ctx, `UPDATE pending_trades SET pending_qty = ? WHERE id = ?`,
		pendingQty.String(), id.String())
	if err != nil {
		return fmt.Errorf("update pending trade qty: %w", err)
	}
	return nil
}

// UpdatePendingTradeStatus advances a pending trade's broker-event state
// machine (§4.8).
func (s *Store) UpdatePendingTradeStatus(ctx context.Context, id uuid.UUID, status types.PendingStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE pending_trades SET status = ? WHERE id = ?`,
		string(status), id.String())
	if err != nil {
		return fmt.Errorf("update pending trade status: %w", err)
	}
	return nil
}

// DeletePendingTradeByID removes a pending trade, e.g. on terminal broker
// events or after the reconciler's unreported-expiry sweep.
func (s *Store) DeletePendingTradeByID(ctx context.Context, id uuid.UUID) error {
	return s.deletePendingTradeByID(ctx, s.db, id)
}

func (s *Store) deletePendingTradeByID(ctx context.Context, x execer, id uuid.UUID) error {
	_, err := x.ExecContext(ctx, `DELETE FROM pending_trades WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete pending trade: %w", err)
	}
	return nil
}

// GetPendingTradeAmountByTicker sums pending_qty over every non-terminal
// pending trade for a ticker.
func (s *Store) GetPendingTradeAmountByTicker(ctx context.Context, tickerSymbol string) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pending_qty, status FROM pending_trades WHERE ticker = ?`, tickerSymbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get pending trade amount: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var pendingQty, status string
		if err := rows.Scan(&pendingQty, &status); err != nil {
			return decimal.Zero, err
		}
		if types.PendingStatus(status).IsTerminal() {
			continue
		}
		v, err := decimal.NewFromString(pendingQty)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse pending trade pending_qty: %w", err)
		}
		total = total.Add(v)
	}
	return total, rows.Err()
}

// GetActivePendingTradesByTicker returns every non-terminal pending trade for a
// ticker — used by the reconciler's stranded-claims sweep to detect tickers
// with no live orders.
func (s *Store) GetActivePendingTradesByTicker(ctx context.Context, tickerSymbol string) ([]types.PendingTrade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticker, qty, pending_qty, datetime, status
		FROM pending_trades WHERE ticker = ?`, tickerSymbol)
	if err != nil {
		return nil, fmt.Errorf("get active pending trades: %w", err)
	}
	defer rows.Close()

	var out []types.PendingTrade
	for rows.Next() {
		t, err := scanPendingTrade(rows)
		if err != nil {
			return nil, err
		}
		if !t.IsActive() {
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetUnreportedPendingTradesOlderThan returns every pending trade still in
// status Unreported whose datetime is older than the cutoff — the
// reconciler's first sweep (§4.7.1).
func (s *Store) GetUnreportedPendingTradesOlderThan(ctx context.Context, cutoff time.Time) ([]types.PendingTrade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticker, qty, pending_qty, datetime, status
		FROM pending_trades WHERE status = ? AND datetime < ?`,
		string(types.PendingUnreported), cutoff.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("get unreported pending trades: %w", err)
	}
	defer rows.Close()

	var out []types.PendingTrade
	for rows.Next() {
		t, err := scanPendingTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
