package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordermanager/ordermanager/pkg/types"
)

// Tx is a transactional handle exposing the subset of Store's operations
// that fill attribution (C6) needs to run as one atomic unit: a fill
// produces a lot, splits it into allocations, decrements the claims those
// allocations are booked against, and may release a dependent trade — all
// inside the single *sql.Tx WithTx opens (§4.1).
type Tx struct {
	s  *Store
	tx *sql.Tx
}

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on error or panic. Callers that mutate more than one entity
// kind per logical operation (fill attribution's lot+allocations+claims)
// must go through this instead of the individual per-entity methods, which
// each auto-commit on their own.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	return s.withTx(ctx, func(sqlTx *sql.Tx) error {
		return fn(&Tx{s: s, tx: sqlTx})
	})
}

func (t *Tx) GetPendingTradeByID(ctx context.Context, id uuid.UUID) (types.PendingTrade, error) {
	return t.s.getPendingTradeByID(ctx, t.tx, id)
}

func (t *Tx) SavePendingTrade(ctx context.Context, p types.PendingTrade) error {
	return t.s.savePendingTrade(ctx, t.tx, p)
}

func (t *Tx) UpdatePendingTradeQty(ctx context.Context, id uuid.UUID, pendingQty decimal.Decimal) error {
	return t.s.updatePendingTradeQty(ctx, t.tx, id, pendingQty)
}

func (t *Tx) DeletePendingTradeByID(ctx context.Context, id uuid.UUID) error {
	return t.s.deletePendingTradeByID(ctx, t.tx, id)
}

func (t *Tx) GetLotsByOrderID(ctx context.Context, orderID uuid.UUID) ([]types.Lot, error) {
	return t.s.getLotsByOrderID(ctx, t.tx, orderID)
}

func (t *Tx) SaveLot(ctx context.Context, l types.Lot) error {
	return t.s.saveLot(ctx, t.tx, l)
}

func (t *Tx) GetClaimsByTicker(ctx context.Context, ticker string) ([]types.Claim, error) {
	return t.s.getClaimsByTicker(ctx, t.tx, ticker)
}

func (t *Tx) UpdateClaimAmount(ctx context.Context, id uuid.UUID, amount types.Amount) error {
	return t.s.updateClaimAmount(ctx, t.tx, id, amount)
}

func (t *Tx) SaveAllocation(ctx context.Context, a types.Allocation) error {
	return t.s.saveAllocation(ctx, t.tx, a)
}

func (t *Tx) TakeDependentTradesByTrigger(ctx context.Context, triggerID uuid.UUID) ([]types.DependentTrade, error) {
	return takeDependentTradesByTrigger(ctx, t.tx, triggerID)
}
