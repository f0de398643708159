// Package tradegen implements the trade generator (C5): it turns a claim's
// desired share delta into one or more broker-bound trade intents, splitting
// across a dependent trade whenever dispatching the full delta at once would
// cross the position through zero.
package tradegen

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordermanager/ordermanager/pkg/types"
)

// Store is the subset of the persistence layer the trade generator needs.
type Store interface {
	GetPositionsByTicker(ctx context.Context, ticker string) ([]types.Position, error)
	GetPendingTradeAmountByTicker(ctx context.Context, ticker string) (decimal.Decimal, error)
	SavePendingTrade(ctx context.Context, t types.PendingTrade) error
	SaveDependentTrade(ctx context.Context, d types.DependentTrade) error
}

// RiskGateway is C8's submission entrypoint: a trade intent is handed off
// for risk evaluation before it can ever reach trade-intents.
type RiskGateway interface {
	Submit(ctx context.Context, intent types.TradeIntent) error
}

// Generator is C5.
type Generator struct {
	store  Store
	risk   RiskGateway
	logger *slog.Logger
	now    func() time.Time
}

func New(st Store, risk RiskGateway, logger *slog.Logger) *Generator {
	return &Generator{
		store:  st,
		risk:   risk,
		logger: logger.With("component", "tradegen"),
		now:    time.Now,
	}
}

// Generate derives and dispatches the trade intent(s) for claim.
func (g *Generator) Generate(ctx context.Context, claim types.Claim) error {
	if claim.Amount.Unit != types.UnitShares {
		return fmt.Errorf("tradegen: claim %s has non-shares amount %s", claim.ID, claim.Amount)
	}
	diffShares := claim.Amount.Value

	positions, err := g.store.GetPositionsByTicker(ctx, claim.Ticker)
	if err != nil {
		return fmt.Errorf("tradegen: load positions for %s: %w", claim.Ticker, err)
	}
	totalShares := decimal.Zero
	for _, pos := range positions {
		totalShares = totalShares.Add(pos.Shares)
	}

	pendingShares, err := g.store.GetPendingTradeAmountByTicker(ctx, claim.Ticker)
	if err != nil {
		return fmt.Errorf("tradegen: load pending trade amount for %s: %w", claim.Ticker, err)
	}

	sent, saved := makeTrades(claim.Ticker, diffShares, totalShares, pendingShares, claim.LimitPrice, nil)
	if saved != nil {
		if err := g.store.SaveDependentTrade(ctx, types.DependentTrade{TriggerID: sent.ID, Intent: *saved}); err != nil {
			return fmt.Errorf("tradegen: save dependent trade: %w", err)
		}
	}
	return g.Dispatch(ctx, sent)
}

// GenerateFromAmount re-runs trade generation without an originating claim —
// used by the reconciler's stranded-claims sweep, where the claim itself
// isn't being re-persisted.
func (g *Generator) GenerateFromAmount(ctx context.Context, ticker string, diffShares decimal.Decimal, limitPrice *decimal.Decimal) error {
	return g.Generate(ctx, types.Claim{Ticker: ticker, Amount: types.Shares(diffShares), LimitPrice: limitPrice})
}

// Dispatch persists a trade intent as an Unreported PendingTrade, then
// forwards it to the risk gateway. Exported so fill attribution can
// re-dispatch a released dependent trade through the same path.
func (g *Generator) Dispatch(ctx context.Context, intent types.TradeIntent) error {
	now := g.now()
	pending := types.NewPendingTrade(intent.ID, intent.Ticker, decimal.NewFromInt(intent.Qty), now)
	if err := g.store.SavePendingTrade(ctx, pending); err != nil {
		return fmt.Errorf("tradegen: save pending trade: %w", err)
	}
	if err := g.risk.Submit(ctx, intent); err != nil {
		return fmt.Errorf("tradegen: submit to risk gateway: %w", err)
	}
	return nil
}

// makeTrades implements §4.5's zero-crossing split: before = total +
// pending, after = before + diff. If sign(before)*sign(after) is negative,
// the delta is split into a flattening "sent" leg and a "saved" remainder
// leg held as a dependent trade until the sent leg fully fills.
func makeTrades(ticker string, diffShares, totalShares, pendingShares decimal.Decimal, limitPrice, stopPrice *decimal.Decimal) (sent types.TradeIntent, saved *types.TradeIntent) {
	before := totalShares.Add(pendingShares)
	after := before.Add(diffShares)

	signumProduct := types.Signum(before) * types.Signum(after)
	if signumProduct >= 0 {
		return makeTradeIntent(ticker, diffShares, limitPrice, stopPrice), nil
	}

	sentIntent := makeTradeIntent(ticker, before.Neg(), limitPrice, stopPrice)
	savedIntent := makeTradeIntent(ticker, diffShares.Add(before), limitPrice, stopPrice)
	return sentIntent, &savedIntent
}

// makeTradeIntent quantizes a signed share delta and derives its order type.
func makeTradeIntent(ticker string, qty decimal.Decimal, limitPrice, stopPrice *decimal.Decimal) types.TradeIntent {
	return types.TradeIntent{
		ID:          uuid.New(),
		Ticker:      ticker,
		Qty:         types.RoundAwayFromZero(qty).IntPart(),
		OrderType:   types.DeriveOrderType(limitPrice, stopPrice),
		TimeInForce: types.TimeInForceDay,
		LimitPrice:  limitPrice,
		StopPrice:   stopPrice,
	}
}
