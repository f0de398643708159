package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordermanager/ordermanager/pkg/types"
)

// SaveLot inserts a new (append-only) lot.
func (s *Store) SaveLot(ctx context.Context, l types.Lot) error {
	return s.saveLot(ctx, s.db, l)
}

func (s *Store) saveLot(ctx context.Context, x execer, l types.Lot) error {
	_, err := x.ExecContext(ctx, `
		INSERT INTO lots (id, order_id, ticker, fill_time, price, shares)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID.String(), l.OrderID.String(), l.Ticker, l.FillTime.Format(time.RFC3339Nano),
		l.Price.String(), l.Shares.String(),
	)
	if err != nil {
		return fmt.Errorf("save lot: %w", err)
	}
	return nil
}

// GetLotsByOrderID returns every lot recorded so far for an order, in fill
// order — used to reconstruct the running (prev_qty, prev_avg_price) an
// incremental fill is measured against.
func (s *Store) GetLotsByOrderID(ctx context.Context, orderID uuid.UUID) ([]types.Lot, error) {
	return s.getLotsByOrderID(ctx, s.db, orderID)
}

func (s *Store) getLotsByOrderID(ctx context.Context, x execer, orderID uuid.UUID) ([]types.Lot, error) {
	rows, err := x.QueryContext(ctx, `
		SELECT id, order_id, ticker, fill_time, price, shares
		FROM lots WHERE order_id = ? ORDER BY fill_time`, orderID.String())
	if err != nil {
		return nil, fmt.Errorf("get lots by order id: %w", err)
	}
	defer rows.Close()

	var out []types.Lot
	for rows.Next() {
		var (
			id, orderIDStr, tickerSymbol, fillTime, price, shares string
		)
		if err := rows.Scan(&id, &orderIDStr, &tickerSymbol, &fillTime, &price, &shares); err != nil {
			return nil, err
		}
		parsedID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse lot id: %w", err)
		}
		parsedOrderID, err := uuid.Parse(orderIDStr)
		if err != nil {
			return nil, fmt.Errorf("parse lot order id: %w", err)
		}
		parsedFillTime, err := time.Parse(time.RFC3339Nano, fillTime)
		if err != nil {
			return nil, fmt.Errorf("parse lot fill_time: %w", err)
		}
		parsedPrice, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("parse lot price: %w", err)
		}
		parsedShares, err := decimal.NewFromString(shares)
		if err != nil {
			return nil, fmt.Errorf("parse lot shares: %w", err)
		}
		out = append(out, types.Lot{
			ID:       parsedID,
			OrderID:  parsedOrderID,
			Ticker:   tickerSymbol,
			FillTime: parsedFillTime,
			Price:    parsedPrice,
			Shares:   parsedShares,
		})
	}
	return out, rows.Err()
}
