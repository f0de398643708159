package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordermanager/ordermanager/pkg/types"
)

// SaveAllocation inserts one lot-to-owner split.
func (s *Store) SaveAllocation(ctx context.Context, a types.Allocation) error {
	return s.saveAllocation(ctx, s.db, a)
}

func (s *Store) saveAllocation(ctx context.Context, x execer, a types.Allocation) error {
	owner, subOwner := a.Owner.Column()
	var claimID any
	if a.ClaimID != nil {
		claimID = a.ClaimID.String()
	}
	_, err := x.ExecContext(ctx, `
		INSERT INTO allocations (id, owner, sub_owner, claim_id, lot_id, ticker, shares, basis)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), owner, nullableString(subOwner), claimID, a.LotID.String(), a.Ticker,
		a.Shares.String(), a.Basis.String(),
	)
	if err != nil {
		return fmt.Errorf("save allocation: %w", err)
	}
	return nil
}

// ListAllocations returns every allocation — used by position aggregation.
func (s *Store) ListAllocations(ctx context.Context) ([]types.Allocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, sub_owner, claim_id, lot_id, ticker, shares, basis FROM allocations`)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()

	var out []types.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAllocation(row rowScanner) (types.Allocation, error) {
	var (
		id, owner, lotID, tickerSymbol, shares, basis string
		subOwner, claimID                             sql.NullString
	)
	if err := row.Scan(&id, &owner, &subOwner, &claimID, &lotID, &tickerSymbol, &shares, &basis); err != nil {
		return types.Allocation{}, err
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return types.Allocation{}, fmt.Errorf("parse allocation id: %w", err)
	}
	parsedLotID, err := uuid.Parse(lotID)
	if err != nil {
		return types.Allocation{}, fmt.Errorf("parse allocation lot id: %w", err)
	}
	parsedShares, err := decimal.NewFromString(shares)
	if err != nil {
		return types.Allocation{}, fmt.Errorf("parse allocation shares: %w", err)
	}
	parsedBasis, err := decimal.NewFromString(basis)
	if err != nil {
		return types.Allocation{}, fmt.Errorf("parse allocation basis: %w", err)
	}
	var claimUUID *uuid.UUID
	if claimID.Valid {
		parsed, err := uuid.Parse(claimID.String)
		if err != nil {
			return types.Allocation{}, fmt.Errorf("parse allocation claim id: %w", err)
		}
		claimUUID = &parsed
	}
	return types.Allocation{
		ID:      parsedID,
		Owner:   types.OwnerFromColumns(owner, scanNullableString(subOwner)),
		ClaimID: claimUUID,
		LotID:   parsedLotID,
		Ticker:  tickerSymbol,
		Shares:  parsedShares,
		Basis:   parsedBasis,
	}, nil
}
