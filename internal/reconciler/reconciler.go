// Package reconciler implements the three periodic sweeps (C7) a TimeTick
// drives: expiring stale unreported trades, re-dispatching claims whose
// ticker has gone quiet, and liquidating the house's accumulated
// fractional-share residue.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordermanager/ordermanager/pkg/types"
)

// houseResidueThreshold is the §4.7.3 bound: house positions at or below
// this magnitude are left alone.
var houseResidueThreshold = decimal.RequireFromString("0.99")

// Store is the subset of the persistence layer the reconciler needs.
type Store interface {
	GetUnreportedPendingTradesOlderThan(ctx context.Context, cutoff time.Time) ([]types.PendingTrade, error)
	DeletePendingTradeByID(ctx context.Context, id uuid.UUID) error

	GetNonZeroClaims(ctx context.Context) ([]types.Claim, error)
	GetActivePendingTradesByTicker(ctx context.Context, ticker string) ([]types.PendingTrade, error)

	GetPositionsByOwner(ctx context.Context, owner types.Owner) ([]types.Position, error)
}

// TradeGenerator re-runs C5 for a stranded claim's amount.
type TradeGenerator interface {
	GenerateFromAmount(ctx context.Context, ticker string, diffShares decimal.Decimal, limitPrice *decimal.Decimal) error
}

// Dispatcher submits a directly-constructed trade intent, bypassing claim
// construction — used for house liquidation, which isn't claim-driven.
type Dispatcher interface {
	Dispatch(ctx context.Context, intent types.TradeIntent) error
}

// Reconciler is C7.
type Reconciler struct {
	store            Store
	tradeGen         TradeGenerator
	dispatcher       Dispatcher
	unreportedExpiry time.Duration
	logger           *slog.Logger
	now              func() time.Time
}

func New(st Store, tradeGen TradeGenerator, dispatcher Dispatcher, unreportedExpiry time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:            st,
		tradeGen:         tradeGen,
		dispatcher:       dispatcher,
		unreportedExpiry: unreportedExpiry,
		logger:           logger.With("component", "reconciler"),
		now:              time.Now,
	}
}

// Handle runs all three sweeps for one TimeTick (§4.7). The tick's market
// session state doesn't gate any sweep — the source runs them on every tick.
func (r *Reconciler) Handle(ctx context.Context, _ types.TimeTick) error {
	if err := r.expireUnreportedTrades(ctx); err != nil {
		return fmt.Errorf("reconciler: expire unreported trades: %w", err)
	}
	if err := r.retryStrandedClaims(ctx); err != nil {
		return fmt.Errorf("reconciler: retry stranded claims: %w", err)
	}
	if err := r.liquidateHouseResidue(ctx); err != nil {
		return fmt.Errorf("reconciler: liquidate house residue: %w", err)
	}
	return nil
}

// expireUnreportedTrades deletes every PendingTrade the broker never
// acknowledged within the configured window (§4.7.1).
func (r *Reconciler) expireUnreportedTrades(ctx context.Context) error {
	cutoff := r.now().Add(-r.unreportedExpiry)
	stale, err := r.store.GetUnreportedPendingTradesOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, t := range stale {
		if err := r.store.DeletePendingTradeByID(ctx, t.ID); err != nil {
			return fmt.Errorf("delete pending trade %s: %w", t.ID, err)
		}
		r.logger.Info("expired unreported trade", "id", t.ID, "ticker", t.Ticker)
	}
	return nil
}

// retryStrandedClaims re-runs trade generation for every non-zero claim
// whose ticker currently has no live order working it (§4.7.2).
func (r *Reconciler) retryStrandedClaims(ctx context.Context) error {
	claims, err := r.store.GetNonZeroClaims(ctx)
	if err != nil {
		return err
	}
	for _, c := range claims {
		active, err := r.store.GetActivePendingTradesByTicker(ctx, c.Ticker)
		if err != nil {
			return fmt.Errorf("load active pending trades for %s: %w", c.Ticker, err)
		}
		if len(active) > 0 {
			continue
		}
		if c.Amount.Unit != types.UnitShares {
			r.logger.Warn("skipping stranded claim with non-shares amount", "claim", c.ID, "amount", c.Amount)
			continue
		}
		if err := r.tradeGen.GenerateFromAmount(ctx, c.Ticker, c.Amount.Value, c.LimitPrice); err != nil {
			return fmt.Errorf("regenerate trade for stranded claim %s: %w", c.ID, err)
		}
	}
	return nil
}

// liquidateHouseResidue dispatches a flattening market order for any house
// position whose magnitude exceeds the 0.99-share threshold (§4.7.3).
func (r *Reconciler) liquidateHouseResidue(ctx context.Context) error {
	positions, err := r.store.GetPositionsByOwner(ctx, types.HouseOwner)
	if err != nil {
		return err
	}
	for _, pos := range positions {
		if pos.Shares.Abs().LessThanOrEqual(houseResidueThreshold) {
			continue
		}
		liquidate := types.RoundAwayFromZero(pos.Shares.Abs().Sub(houseResidueThreshold))
		if pos.Shares.IsNegative() {
			liquidate = liquidate.Neg()
		}
		qty := liquidate.Neg().IntPart()
		if qty == 0 {
			continue
		}
		intent := types.TradeIntent{
			ID:          uuid.New(),
			Ticker:      pos.Ticker,
			Qty:         qty,
			OrderType:   types.OrderTypeMarket,
			TimeInForce: types.TimeInForceDay,
		}
		if err := r.dispatcher.Dispatch(ctx, intent); err != nil {
			return fmt.Errorf("dispatch house liquidation for %s: %w", pos.Ticker, err)
		}
		r.logger.Info("liquidated house residue", "ticker", pos.Ticker, "qty", qty)
	}
	return nil
}
