// Package triage implements intent triage (C4): expiry/activation
// dispatch, claim construction from a strategy's current position, and the
// "close everything" path for an AllTickers intent.
package triage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ordermanager/ordermanager/pkg/types"
)

// Store is the subset of the persistence layer triage needs.
type Store interface {
	GetPositionsByOwner(ctx context.Context, owner types.Owner) ([]types.Position, error)
	SaveClaim(ctx context.Context, c types.Claim) error
}

// Scheduler defers a PositionIntent until its activation time.
type Scheduler interface {
	Schedule(ctx context.Context, intent types.ScheduledIntent) error
}

// TradeGenerator is C5's entrypoint: given a freshly persisted claim, it
// derives and dispatches the corresponding trade intent(s).
type TradeGenerator interface {
	Generate(ctx context.Context, claim types.Claim) error
}

// Publisher fans a claim out to bus observers.
type Publisher interface {
	PublishClaim(ctx context.Context, c types.Claim) error
}

// Triage is C4.
type Triage struct {
	store     Store
	scheduler Scheduler
	tradeGen  TradeGenerator
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func New(st Store, sched Scheduler, tradeGen TradeGenerator, pub Publisher, logger *slog.Logger) *Triage {
	return &Triage{
		store:     st,
		scheduler: sched,
		tradeGen:  tradeGen,
		publisher: pub,
		logger:    logger.With("component", "triage"),
		now:       time.Now,
	}
}

// Handle triages one inbound PositionIntent.
func (t *Triage) Handle(ctx context.Context, intent types.PositionIntent) error {
	now := t.now()
	if intent.Expired(now) {
		t.logger.Info("dropping expired intent", "id", intent.ID, "before", intent.Before)
		return nil
	}
	if intent.NotYetActive(now) {
		return t.scheduler.Schedule(ctx, intent)
	}

	switch intent.Identifier.Kind {
	case types.IdentifierTicker:
		return t.handleTicker(ctx, intent)
	case types.IdentifierAll:
		if !intent.Amount.IsZero() {
			t.logger.Warn("dropping all-tickers intent with non-zero amount", "id", intent.ID)
			return nil
		}
		return t.handleMultiTickerClose(ctx, intent)
	default:
		return fmt.Errorf("triage: unknown identifier kind %q", intent.Identifier.Kind)
	}
}

func (t *Triage) handleTicker(ctx context.Context, intent types.PositionIntent) error {
	owner, err := types.NewStrategyOwner(intent.Strategy, intent.SubStrategy)
	if err != nil {
		return fmt.Errorf("triage: %w", err)
	}
	ticker := intent.Identifier.Ticker

	strategyShares, err := t.strategyShares(ctx, owner, ticker)
	if err != nil {
		return err
	}

	diff, ok, err := diffForAmount(intent.Amount, strategyShares, intent.DecisionPrice, intent.LimitPrice, intent.StopPrice)
	if err != nil {
		t.logger.Warn("dropping intent", "id", intent.ID, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	if !applyUpdatePolicy(intent.UpdatePolicy, strategyShares) {
		return nil
	}
	if diff.IsZero() {
		return nil
	}

	claim := types.NewClaim(intent.Strategy, intent.SubStrategy, ticker, types.Shares(diff), intent.LimitPrice)
	return t.dispatchClaim(ctx, claim)
}

func (t *Triage) handleMultiTickerClose(ctx context.Context, intent types.PositionIntent) error {
	owner, err := types.NewStrategyOwner(intent.Strategy, intent.SubStrategy)
	if err != nil {
		return fmt.Errorf("triage: %w", err)
	}
	positions, err := t.store.GetPositionsByOwner(ctx, owner)
	if err != nil {
		return fmt.Errorf("triage: load positions for multi-ticker close: %w", err)
	}

	for _, pos := range positions {
		if !applyUpdatePolicy(intent.UpdatePolicy, pos.Shares) {
			continue
		}
		if pos.Shares.IsZero() {
			continue
		}
		// Always a market order: closing a position by definition does not
		// cross zero, and the multi-ticker intent's own price fields don't
		// carry over to a per-position close.
		claim := types.NewClaim(intent.Strategy, intent.SubStrategy, pos.Ticker, types.Shares(pos.Shares.Neg()), nil)
		if err := t.dispatchClaim(ctx, claim); err != nil {
			return err
		}
	}
	return nil
}

func (t *Triage) dispatchClaim(ctx context.Context, claim types.Claim) error {
	if err := t.store.SaveClaim(ctx, claim); err != nil {
		return fmt.Errorf("triage: save claim: %w", err)
	}
	if err := t.publisher.PublishClaim(ctx, claim); err != nil {
		t.logger.Warn("publish claim failed, continuing", "claim", claim.ID, "error", err)
	}
	return t.tradeGen.Generate(ctx, claim)
}

func (t *Triage) strategyShares(ctx context.Context, owner types.Owner, ticker string) (decimal.Decimal, error) {
	positions, err := t.store.GetPositionsByOwner(ctx, owner)
	if err != nil {
		return decimal.Zero, fmt.Errorf("triage: load positions: %w", err)
	}
	for _, pos := range positions {
		if pos.Ticker == ticker {
			return pos.Shares, nil
		}
	}
	return decimal.Zero, nil
}

// diffForAmount computes the claim diff per §4.4.1. ok is false exactly when
// err is returned (and should be logged, not propagated as a failure): a
// domain violation like a dollar intent with no price or a zero price.
func diffForAmount(amount types.Amount, strategyShares decimal.Decimal, decisionPrice, limitPrice, stopPrice *decimal.Decimal) (decimal.Decimal, bool, error) {
	switch amount.Unit {
	case types.UnitDollars:
		price := firstNonNil(decisionPrice, limitPrice, stopPrice)
		if price == nil {
			return decimal.Zero, false, fmt.Errorf("dollar intent with no decision/limit/stop price")
		}
		if price.IsZero() {
			return decimal.Zero, false, fmt.Errorf("dollar intent price is zero")
		}
		return amount.Value.Div(*price).Sub(strategyShares), true, nil
	case types.UnitShares:
		return amount.Value.Sub(strategyShares), true, nil
	default: // UnitZero
		return strategyShares.Neg(), true, nil
	}
}

func firstNonNil(prices ...*decimal.Decimal) *decimal.Decimal {
	for _, p := range prices {
		if p != nil {
			return p
		}
	}
	return nil
}

// applyUpdatePolicy reports whether processing should continue given the
// strategy's current shares in the position the policy is scoped to.
func applyUpdatePolicy(policy types.UpdatePolicy, currentShares decimal.Decimal) bool {
	switch policy {
	case types.UpdatePolicyRetain:
		return false
	case types.UpdatePolicyRetainLong:
		return !currentShares.IsPositive()
	case types.UpdatePolicyRetainShort:
		return !currentShares.IsNegative()
	default: // Update
		return true
	}
}
