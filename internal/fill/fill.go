// Package fill implements fill attribution (C6): it advances a pending
// trade's broker-event state machine, builds lots from incremental fills,
// splits each lot across outstanding claims, and releases any dependent
// trade waiting on the triggering order.
package fill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordermanager/ordermanager/internal/store"
	"github.com/ordermanager/ordermanager/pkg/types"
)

// Store is the subset of the persistence layer fill attribution needs. A
// fill's lot, its allocations, the claim decrements they imply, and any
// dependent-trade release all land in one WithTx call (§4.1) — partial
// writes from a failed fill must never be observable.
type Store interface {
	WithTx(ctx context.Context, fn func(tx *store.Tx) error) error
	UpdatePendingTradeStatus(ctx context.Context, id uuid.UUID, status types.PendingStatus) error
}

// Dispatcher re-enters C5's dispatch path for a dependent trade released
// once its trigger order is fully filled.
type Dispatcher interface {
	Dispatch(ctx context.Context, intent types.TradeIntent) error
}

// Publisher fans lots and allocations out to bus observers as they're
// booked (§2, §4.2, §6). Publishing happens only after the transaction that
// produced them commits (§7); a publish failure is logged and does not roll
// back already-committed state.
type Publisher interface {
	PublishLot(ctx context.Context, l types.Lot) error
	PublishAllocation(ctx context.Context, a types.Allocation) error
}

// Attributor is C6.
type Attributor struct {
	store      Store
	dispatcher Dispatcher
	publisher  Publisher
	logger     *slog.Logger
}

func New(st Store, dispatcher Dispatcher, publisher Publisher, logger *slog.Logger) *Attributor {
	return &Attributor{store: st, dispatcher: dispatcher, publisher: publisher, logger: logger.With("component", "fill")}
}

// Handle applies a broker event to the pending trade identified by
// event.ClientOrderID (§4.6): New and Accepted mark it Accepted, a partial
// fill books a lot and lowers its remaining quantity, and a final fill or a
// cancel/expire/reject deletes it. Its status is not moved to
// PartiallyFilled.
func (a *Attributor) Handle(ctx context.Context, event types.BrokerOrderEvent) error {
	switch event.Event {
	case types.BrokerEventCanceled, types.BrokerEventExpired, types.BrokerEventRejected:
		err := a.store.WithTx(ctx, func(tx *store.Tx) error {
			return tx.DeletePendingTradeByID(ctx, event.ClientOrderID)
		})
		if err != nil {
			return fmt.Errorf("fill: delete pending trade on %s: %w", event.Event, err)
		}
		return nil

	case types.BrokerEventPartialFill:
		return a.handleFill(ctx, event, false)

	case types.BrokerEventFill:
		return a.handleFill(ctx, event, true)

	case types.BrokerEventNew, types.BrokerEventAccepted:
		// The broker has acknowledged the order, so it is no longer subject
		// to the reconciler's unreported-trade expiry. No position delta.
		if err := a.store.UpdatePendingTradeStatus(ctx, event.ClientOrderID, types.PendingAccepted); err != nil {
			return fmt.Errorf("fill: mark pending trade accepted on %s: %w", event.Event, err)
		}
		return nil

	default:
		return nil
	}
}

// fillOutcome is everything a committed fill produced, handed back out of
// the WithTx closure so it can be published/dispatched once the transaction
// that persisted it has actually landed.
type fillOutcome struct {
	lot         types.Lot
	allocations []types.Allocation
	dependents  []types.DependentTrade
}

func (a *Attributor) handleFill(ctx context.Context, event types.BrokerOrderEvent, terminal bool) error {
	if event.Price == nil || event.PositionQty == nil || event.Timestamp == nil {
		return fmt.Errorf("fill: %s event missing price/position_qty/timestamp", event.Event)
	}

	var outcome fillOutcome
	err := a.store.WithTx(ctx, func(tx *store.Tx) error {
		pending, err := tx.GetPendingTradeByID(ctx, event.ClientOrderID)
		if errors.Is(err, store.ErrNotFound) {
			// Open question (§9): a PartialFill with no prior PendingTrade is a
			// broker surprise, not necessarily a bug — best-effort synthesize an
			// Accepted trade and keep processing rather than dropping the fill.
			a.logger.Warn("partial fill with no prior pending trade, synthesizing accepted trade",
				"broker_surprise", true, "order_id", event.ClientOrderID, "event", event.Event)
			pending = types.NewPendingTrade(event.ClientOrderID, event.Symbol, event.SignedQty(), *event.Timestamp)
			pending.Accepted()
			if err := tx.SavePendingTrade(ctx, pending); err != nil {
				return fmt.Errorf("save synthesized pending trade: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("load pending trade %s: %w", event.ClientOrderID, err)
		}

		lot, err := buildIncrementalLot(ctx, tx, event, pending.Ticker)
		if err != nil {
			return err
		}

		if terminal {
			if err := tx.DeletePendingTradeByID(ctx, pending.ID); err != nil {
				return fmt.Errorf("delete pending trade: %w", err)
			}
		} else {
			remaining := pending.Qty.Sub(event.SignedFilledQty())
			if err := tx.UpdatePendingTradeQty(ctx, pending.ID, remaining); err != nil {
				return fmt.Errorf("update pending qty: %w", err)
			}
		}

		if err := tx.SaveLot(ctx, lot); err != nil {
			return fmt.Errorf("save lot: %w", err)
		}

		allocations, err := attribute(ctx, tx, lot)
		if err != nil {
			return fmt.Errorf("attribute lot: %w", err)
		}

		var dependents []types.DependentTrade
		if terminal {
			dependents, err = tx.TakeDependentTradesByTrigger(ctx, pending.ID)
			if err != nil {
				return fmt.Errorf("take dependent trades: %w", err)
			}
		}

		outcome = fillOutcome{lot: lot, allocations: allocations, dependents: dependents}
		return nil
	})
	if err != nil {
		return fmt.Errorf("fill: %w", err)
	}

	if err := a.publisher.PublishLot(ctx, outcome.lot); err != nil {
		a.logger.Warn("publish lot failed, continuing", "lot", outcome.lot.ID, "error", err)
	}
	for _, alloc := range outcome.allocations {
		if err := a.publisher.PublishAllocation(ctx, alloc); err != nil {
			a.logger.Warn("publish allocation failed, continuing", "allocation", alloc.ID, "error", err)
		}
	}
	for _, dep := range outcome.dependents {
		if err := a.dispatcher.Dispatch(ctx, dep.Intent); err != nil {
			return fmt.Errorf("fill: dispatch released dependent trade: %w", err)
		}
	}
	return nil
}

// buildIncrementalLot computes the (new_qty, new_price) for this fill
// report against the running (prev_qty, prev_price) for the order, per
// §4.6's incremental lot construction.
func buildIncrementalLot(ctx context.Context, tx *store.Tx, event types.BrokerOrderEvent, ticker string) (types.Lot, error) {
	priorLots, err := tx.GetLotsByOrderID(ctx, event.ClientOrderID)
	if err != nil {
		return types.Lot{}, fmt.Errorf("load prior lots: %w", err)
	}

	prevQty, prevBasis := decimal.Zero, decimal.Zero
	for _, l := range priorLots {
		prevQty = prevQty.Add(l.Shares)
		prevBasis = prevBasis.Add(l.Shares.Mul(l.Price))
	}

	positionQty := event.PositionQty
	if event.Side == types.SideSell {
		positionQty = ptrDecimal(positionQty.Neg())
	}

	newQty := positionQty.Sub(prevQty)
	if newQty.IsZero() {
		return types.Lot{}, fmt.Errorf("incremental fill has zero new quantity")
	}
	newPrice := event.Price.Mul(*positionQty).Sub(prevBasis).Div(newQty)

	return types.NewLot(event.ClientOrderID, ticker, *event.Timestamp, newPrice, newQty), nil
}

// attribute splits lot across the outstanding claims for its ticker, in
// claim order, per §4.6.1; any remainder is booked to House. It returns
// every allocation it saved, in the order booked, for publishing once the
// enclosing transaction commits.
func attribute(ctx context.Context, tx *store.Tx, lot types.Lot) ([]types.Allocation, error) {
	claims, err := tx.GetClaimsByTicker(ctx, lot.Ticker)
	if err != nil {
		return nil, fmt.Errorf("load claims for %s: %w", lot.Ticker, err)
	}

	remainingShares := lot.Shares
	remainingBasis := lot.Shares.Mul(lot.Price)
	var allocations []types.Allocation

	for _, c := range claims {
		if !eligible(c, lot) {
			continue
		}
		shares, basis, decrement := splitAgainst(c, lot, remainingBasis, remainingShares)
		if shares.IsZero() {
			continue
		}

		claimID := c.ID
		alloc := types.NewAllocation(strategyOwner(c), &claimID, lot.ID, lot.Ticker, shares, basis)
		if err := tx.SaveAllocation(ctx, alloc); err != nil {
			return nil, fmt.Errorf("save allocation: %w", err)
		}
		allocations = append(allocations, alloc)

		newClaimAmount := types.Amount{Unit: c.Amount.Unit, Value: c.Amount.Value.Sub(decrement)}
		if err := tx.UpdateClaimAmount(ctx, c.ID, newClaimAmount); err != nil {
			return nil, fmt.Errorf("decrement claim %s: %w", c.ID, err)
		}

		remainingShares = remainingShares.Sub(shares)
		remainingBasis = remainingBasis.Sub(basis)
	}

	if !remainingShares.IsZero() {
		alloc := types.NewAllocation(types.HouseOwner, nil, lot.ID, lot.Ticker, remainingShares, remainingBasis)
		if err := tx.SaveAllocation(ctx, alloc); err != nil {
			return nil, fmt.Errorf("save house allocation: %w", err)
		}
		allocations = append(allocations, alloc)
	}
	return allocations, nil
}

// eligible implements §4.6.1's per-claim filter.
func eligible(c types.Claim, lot types.Lot) bool {
	if c.Amount.IsZero() || c.Ticker != lot.Ticker {
		return false
	}
	if c.Amount.IsPositive() && lot.Shares.IsNegative() {
		return false
	}
	if c.Amount.IsNegative() && lot.Shares.IsPositive() {
		return false
	}
	if c.LimitPrice != nil {
		if lot.Shares.IsPositive() && lot.Price.GreaterThan(*c.LimitPrice) {
			return false
		}
		if lot.Shares.IsNegative() && lot.Price.LessThan(*c.LimitPrice) {
			return false
		}
	}
	return true
}

// splitAgainst allocates as much of c's outstanding amount as the lot's
// remainder allows, returning the allocation's (shares, basis) and the
// amount c's own amount should be decremented by, in c's native unit.
func splitAgainst(c types.Claim, lot types.Lot, remainingBasis, remainingShares decimal.Decimal) (shares, basis, decrement decimal.Decimal) {
	switch c.Amount.Unit {
	case types.UnitDollars:
		allocated := decimal.Min(c.Amount.Value.Abs(), remainingBasis.Abs())
		if c.Amount.Value.IsNegative() {
			allocated = allocated.Neg()
		}
		basis = allocated
		shares = allocated.Div(lot.Price).Round(8)
		return shares, basis, basis
	case types.UnitShares:
		allocated := decimal.Min(c.Amount.Value.Abs(), remainingShares.Abs())
		if c.Amount.Value.IsNegative() {
			allocated = allocated.Neg()
		}
		shares = allocated
		basis = allocated.Mul(lot.Price)
		return shares, basis, shares
	default:
		return decimal.Zero, decimal.Zero, decimal.Zero
	}
}

func strategyOwner(c types.Claim) types.Owner {
	return types.Owner{Kind: types.OwnerStrategy, Strategy: c.Strategy, SubStrategy: c.SubStrategy}
}

func ptrDecimal(d decimal.Decimal) *decimal.Decimal { return &d }
