package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/ordermanager/ordermanager/pkg/types"
)

// SaveDependentTrade durably records a trade intent that is held back until
// its trigger trade fully fills.
func (s *Store) SaveDependentTrade(ctx context.Context, d types.DependentTrade) error {
	return s.saveDependentTrade(ctx, s.db, d)
}

func (s *Store) saveDependentTrade(ctx context.Context, x execer, d types.DependentTrade) error {
	_, err := x.ExecContext(ctx, `
		INSERT INTO dependent_trades (trigger_id, trade_id, ticker, qty, order_type, time_in_force, limit_price, stop_price)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.TriggerID.String(), d.Intent.ID.String(), d.Intent.Ticker, strconv.FormatInt(d.Intent.Qty, 10),
		string(d.Intent.OrderType), string(d.Intent.TimeInForce),
		nullableDecimal(d.Intent.LimitPrice), nullableDecimal(d.Intent.StopPrice),
	)
	if err != nil {
		return fmt.Errorf("save dependent trade: %w", err)
	}
	return nil
}

// TakeDependentTradesByTrigger atomically returns and deletes every trade
// intent waiting on triggerID — used once the trigger trade is fully filled
// and its dependents can be released to dispatch.
func (s *Store) TakeDependentTradesByTrigger(ctx context.Context, triggerID uuid.UUID) ([]types.DependentTrade, error) {
	var out []types.DependentTrade
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = takeDependentTradesByTrigger(ctx, tx, triggerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// takeDependentTradesByTrigger does the select-then-delete against
// whatever execer it's given — the standalone *sql.DB for the public
// method above, or a shared *sql.Tx when called as part of fill
// attribution's single transaction (internal/store/tx.go).
func takeDependentTradesByTrigger(ctx context.Context, x execer, triggerID uuid.UUID) ([]types.DependentTrade, error) {
	rows, err := x.QueryContext(ctx, `
		SELECT trigger_id, trade_id, ticker, qty, order_type, time_in_force, limit_price, stop_price
		FROM dependent_trades WHERE trigger_id = ?`, triggerID.String())
	if err != nil {
		return nil, fmt.Errorf("query dependent trades: %w", err)
	}
	var out []types.DependentTrade
	for rows.Next() {
		d, err := scanDependentTrade(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := x.ExecContext(ctx, `DELETE FROM dependent_trades WHERE trigger_id = ?`, triggerID.String()); err != nil {
		return nil, fmt.Errorf("delete dependent trades: %w", err)
	}
	return out, nil
}

func scanDependentTrade(row rowScanner) (types.DependentTrade, error) {
	var (
		triggerID, tradeID, tickerSymbol, qty, orderType, timeInForce string
		limitPrice, stopPrice                                        sql.NullString
	)
	if err := row.Scan(&triggerID, &tradeID, &tickerSymbol, &qty, &orderType, &timeInForce, &limitPrice, &stopPrice); err != nil {
		return types.DependentTrade{}, err
	}
	parsedTriggerID, err := uuid.Parse(triggerID)
	if err != nil {
		return types.DependentTrade{}, fmt.Errorf("parse dependent trade trigger id: %w", err)
	}
	parsedTradeID, err := uuid.Parse(tradeID)
	if err != nil {
		return types.DependentTrade{}, fmt.Errorf("parse dependent trade trade id: %w", err)
	}
	parsedQty, err := strconv.ParseInt(qty, 10, 64)
	if err != nil {
		return types.DependentTrade{}, fmt.Errorf("parse dependent trade qty: %w", err)
	}
	limit, err := scanNullableDecimal(limitPrice)
	if err != nil {
		return types.DependentTrade{}, err
	}
	stop, err := scanNullableDecimal(stopPrice)
	if err != nil {
		return types.DependentTrade{}, err
	}
	return types.DependentTrade{
		TriggerID: parsedTriggerID,
		Intent: types.TradeIntent{
			ID:          parsedTradeID,
			Ticker:      tickerSymbol,
			Qty:         parsedQty,
			OrderType:   types.OrderType(orderType),
			TimeInForce: types.TimeInForce(timeInForce),
			LimitPrice:  limit,
			StopPrice:   stop,
		},
	}, nil
}
