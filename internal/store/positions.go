package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ordermanager/ordermanager/pkg/types"
)

// GetPositionsByOwner returns the aggregated (shares, basis) for every
// ticker that owner holds an allocation in. Aggregation happens in Go, not
// SQL SUM(), so shares/basis stay exact decimal.Decimal values end to end —
// SQLite has no arbitrary-precision decimal aggregate.
func (s *Store) GetPositionsByOwner(ctx context.Context, owner types.Owner) ([]types.Position, error) {
	ownerCol, subOwnerCol := owner.Column()
	var (
		rows rowIterator
		err  error
	)
	if subOwnerCol == nil {
		rows, err = s.rawAllocationRows(ctx, "WHERE owner = ? AND sub_owner IS NULL", ownerCol)
	} else {
		rows, err = s.rawAllocationRows(ctx, "WHERE owner = ? AND sub_owner = ?", ownerCol, *subOwnerCol)
	}
	if err != nil {
		return nil, err
	}
	return aggregatePositions(rows)
}

// GetPositionsByTicker returns the aggregated (shares, basis) for every
// owner holding an allocation in the given ticker.
func (s *Store) GetPositionsByTicker(ctx context.Context, tickerSymbol string) ([]types.Position, error) {
	rows, err := s.rawAllocationRows(ctx, "WHERE ticker = ?", tickerSymbol)
	if err != nil {
		return nil, err
	}
	return aggregatePositions(rows)
}

type rowIterator = interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

func (s *Store) rawAllocationRows(ctx context.Context, where string, args ...any) (rowIterator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner, sub_owner, ticker, shares, basis
		FROM allocations `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query allocations: %w", err)
	}
	return rows, nil
}

// positionKey identifies one (owner, ticker) aggregation bucket.
type positionKey struct {
	owner  string
	sub    string
	ticker string
}

func aggregatePositions(rows rowIterator) ([]types.Position, error) {
	defer rows.Close()

	order := make([]positionKey, 0)
	totals := make(map[positionKey]*types.Position)

	for rows.Next() {
		var (
			ownerCol, tickerSymbol, sharesStr, basisStr string
			subOwnerCol                                 *string
		)
		if err := rows.Scan(&ownerCol, &subOwnerCol, &tickerSymbol, &sharesStr, &basisStr); err != nil {
			return nil, err
		}
		shares, err := decimal.NewFromString(sharesStr)
		if err != nil {
			return nil, fmt.Errorf("parse allocation shares: %w", err)
		}
		basis, err := decimal.NewFromString(basisStr)
		if err != nil {
			return nil, fmt.Errorf("parse allocation basis: %w", err)
		}
		sub := ""
		if subOwnerCol != nil {
			sub = *subOwnerCol
		}
		key := positionKey{owner: ownerCol, sub: sub, ticker: tickerSymbol}
		pos, ok := totals[key]
		if !ok {
			pos = &types.Position{
				Owner:  types.OwnerFromColumns(ownerCol, subOwnerCol),
				Ticker: tickerSymbol,
			}
			totals[key] = pos
			order = append(order, key)
		}
		pos.Shares = pos.Shares.Add(shares)
		pos.Basis = pos.Basis.Add(basis)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]types.Position, 0, len(order))
	for _, key := range order {
		out = append(out, *totals[key])
	}
	return out, nil
}
