package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordermanager/ordermanager/pkg/types"
)

// ErrNotFound is returned when a row-level lookup by id finds nothing.
var ErrNotFound = errors.New("store: not found")

// SaveClaim inserts a new claim.
func (s *Store) SaveClaim(ctx context.Context, c types.Claim) error {
	return s.saveClaim(ctx, s.db, c)
}

func (s *Store) saveClaim(ctx context.Context, x execer, c types.Claim) error {
	value, unit := c.Amount.Columns()
	_, err := x.ExecContext(ctx, `
		INSERT INTO claims (id, strategy, sub_strategy, ticker, amount, unit, limit_price)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.Strategy, nullableString(c.SubStrategy), c.Ticker,
		value.String(), unit, nullableDecimal(c.LimitPrice),
	)
	if err != nil {
		return fmt.Errorf("save claim: %w", err)
	}
	return nil
}

// GetClaimByID returns a single claim, or ErrNotFound.
func (s *Store) GetClaimByID(ctx context.Context, id uuid.UUID) (types.Claim, error) {
	return s.getClaimByID(ctx, s.db, id)
}

func (s *Store) getClaimByID(ctx context.Context, x execer, id uuid.UUID) (types.Claim, error) {
	row := x.QueryRowContext(ctx, `
		SELECT id, strategy, sub_strategy, ticker, amount, unit, limit_price
		FROM claims WHERE id = ?`, id.String())
	c, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Claim{}, ErrNotFound
	}
	return c, err
}

// GetClaimsByTicker returns every claim for a ticker, in insertion order —
// the order in which C6's allocation splitting must consider them.
func (s *Store) GetClaimsByTicker(ctx context.Context, tickerSymbol string) ([]types.Claim, error) {
	return s.getClaimsByTicker(ctx, s.db, tickerSymbol)
}

func (s *Store) getClaimsByTicker(ctx context.Context, x execer, tickerSymbol string) ([]types.Claim, error) {
	rows, err := x.QueryContext(ctx, `
		SELECT id, strategy, sub_strategy, ticker, amount, unit, limit_price
		FROM claims WHERE ticker = ? ORDER BY rowid`, tickerSymbol)
	if err != nil {
		return nil, fmt.Errorf("get claims by ticker: %w", err)
	}
	defer rows.Close()

	var out []types.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row rowScanner) (types.Claim, error) {
	var (
		id, strategy, tickerSymbol, amount, unit string
		subStrategy, limitPrice                  sql.NullString
	)
	if err := row.Scan(&id, &strategy, &subStrategy, &tickerSymbol, &amount, &unit, &limitPrice); err != nil {
		return types.Claim{}, err
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return types.Claim{}, fmt.Errorf("parse claim amount: %w", err)
	}
	parsedAmount, err := types.AmountFromColumns(value, unit)
	if err != nil {
		return types.Claim{}, err
	}
	limit, err := scanNullableDecimal(limitPrice)
	if err != nil {
		return types.Claim{}, err
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return types.Claim{}, fmt.Errorf("parse claim id: %w", err)
	}
	return types.Claim{
		ID:          parsedID,
		Strategy:    strategy,
		SubStrategy: scanNullableString(subStrategy),
		Ticker:      tickerSymbol,
		Amount:      parsedAmount,
		LimitPrice:  limit,
	}, nil
}

// UpdateClaimAmount overwrites a claim's amount — used by fill attribution
// (§4.6.1) to decrement a claim as allocations are booked against it.
func (s *Store) UpdateClaimAmount(ctx context.Context, id uuid.UUID, amount types.Amount) error {
	return s.updateClaimAmount(ctx, s.db, id, amount)
}

func (s *Store) updateClaimAmount(ctx context.Context, x execer, id uuid.UUID, amount types.Amount) error {
	value, unit := amount.Columns()
	_, err := x.ExecContext(ctx, `UPDATE claims SET amount = ?, unit = ? WHERE id = ?`,
		value.String(), unit, id.String())
	if err != nil {
		return fmt.Errorf("update claim amount: %w", err)
	}
	return nil
}

// DeleteClaim removes a claim by id.
func (s *Store) DeleteClaim(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM claims WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete claim: %w", err)
	}
	return nil
}

// GetNonZeroClaims returns every claim whose amount is not zero — neither
// the zero variant nor a zero-valued Shares/Dollars amount — used by the
// reconciler's stranded-claims sweep.
func (s *Store) GetNonZeroClaims(ctx context.Context) ([]types.Claim, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy, sub_strategy, ticker, amount, unit, limit_price FROM claims`)
	if err != nil {
		return nil, fmt.Errorf("get non-zero claims: %w", err)
	}
	defer rows.Close()

	var out []types.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		if c.Amount.IsZero() {
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
