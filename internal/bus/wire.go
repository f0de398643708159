// wire.go defines the JSON shapes exchanged on the bus (§6) and the
// conversions to/from the domain types in pkg/types. Keeping the wire
// shapes separate from the domain structs lets the domain model evolve
// (e.g. a future Amount variant) without silently changing the wire
// contract other services depend on.
package bus

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordermanager/ordermanager/pkg/types"
)

type wireAmount struct {
	Value decimal.Decimal `json:"value"`
	Unit  string          `json:"unit"`
}

func amountToWire(a types.Amount) wireAmount {
	value, unit := a.Columns()
	return wireAmount{Value: value, Unit: unit}
}

func (w wireAmount) toDomain() (types.Amount, error) {
	return types.AmountFromColumns(w.Value, w.Unit)
}

// wirePositionIntent is the position-intents input shape.
type wirePositionIntent struct {
	ID            uuid.UUID        `json:"id"`
	Strategy      string           `json:"strategy"`
	SubStrategy   *string          `json:"sub_strategy,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
	Ticker        *string          `json:"ticker,omitempty"`
	AllTickers    bool             `json:"all_tickers,omitempty"`
	Amount        wireAmount       `json:"amount"`
	UpdatePolicy  string           `json:"update_policy"`
	DecisionPrice *decimal.Decimal `json:"decision_price,omitempty"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice     *decimal.Decimal `json:"stop_price,omitempty"`
	Before        *time.Time       `json:"before,omitempty"`
	After         *time.Time       `json:"after,omitempty"`
}

func (w wirePositionIntent) toDomain() (types.PositionIntent, error) {
	amount, err := w.Amount.toDomain()
	if err != nil {
		return types.PositionIntent{}, fmt.Errorf("position intent amount: %w", err)
	}
	var identifier types.Identifier
	switch {
	case w.AllTickers:
		identifier = types.AllTickers
	case w.Ticker != nil:
		identifier = types.TickerIdentifier(*w.Ticker)
	default:
		return types.PositionIntent{}, fmt.Errorf("position intent: neither ticker nor all_tickers set")
	}
	return types.PositionIntent{
		ID:            w.ID,
		Strategy:      w.Strategy,
		SubStrategy:   w.SubStrategy,
		Timestamp:     w.Timestamp,
		Identifier:    identifier,
		Amount:        amount,
		UpdatePolicy:  types.UpdatePolicy(w.UpdatePolicy),
		DecisionPrice: w.DecisionPrice,
		LimitPrice:    w.LimitPrice,
		StopPrice:     w.StopPrice,
		Before:        w.Before,
		After:         w.After,
	}, nil
}

// wireBrokerOrder is the nested "order" object inside a broker-trades event.
type wireBrokerOrder struct {
	ClientOrderID uuid.UUID       `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	FilledQty     decimal.Decimal `json:"filled_qty"`
	Side          string          `json:"side"`
}

// wireBrokerOrderEvent is the broker-trades input shape.
type wireBrokerOrderEvent struct {
	Event       string           `json:"event"`
	Order       wireBrokerOrder  `json:"order"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	PositionQty *decimal.Decimal `json:"position_qty,omitempty"`
	Timestamp   *time.Time       `json:"timestamp,omitempty"`
}

func (w wireBrokerOrderEvent) toDomain() (types.BrokerOrderEvent, error) {
	side := types.Side(w.Order.Side)
	if side != types.SideBuy && side != types.SideSell {
		return types.BrokerOrderEvent{}, fmt.Errorf("broker order event: unknown side %q", w.Order.Side)
	}
	return types.BrokerOrderEvent{
		Event:         types.BrokerEventKind(w.Event),
		ClientOrderID: w.Order.ClientOrderID,
		Symbol:        w.Order.Symbol,
		Side:          side,
		Qty:           w.Order.Qty,
		FilledQty:     w.Order.FilledQty,
		Price:         w.Price,
		PositionQty:   w.PositionQty,
		Timestamp:     w.Timestamp,
	}, nil
}

// wireTradeIntent is the shape shared by trade-intents, risk-check-request,
// and the nested "intent" field of a risk-check-response.
type wireTradeIntent struct {
	ID          uuid.UUID        `json:"id"`
	Ticker      string           `json:"ticker"`
	Qty         int64            `json:"qty"`
	OrderType   string           `json:"order_type"`
	TimeInForce string           `json:"time_in_force"`
	LimitPrice  *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice   *decimal.Decimal `json:"stop_price,omitempty"`
}

func tradeIntentToWire(t types.TradeIntent) wireTradeIntent {
	return wireTradeIntent{
		ID:          t.ID,
		Ticker:      t.Ticker,
		Qty:         t.Qty,
		OrderType:   string(t.OrderType),
		TimeInForce: string(t.TimeInForce),
		LimitPrice:  t.LimitPrice,
		StopPrice:   t.StopPrice,
	}
}

func (w wireTradeIntent) toDomain() types.TradeIntent {
	return types.TradeIntent{
		ID:          w.ID,
		Ticker:      w.Ticker,
		Qty:         w.Qty,
		OrderType:   types.OrderType(w.OrderType),
		TimeInForce: types.TimeInForce(w.TimeInForce),
		LimitPrice:  w.LimitPrice,
		StopPrice:   w.StopPrice,
	}
}

// wireRiskCheckResponse is the risk-check-response input shape.
type wireRiskCheckResponse struct {
	Granted bool            `json:"granted"`
	Intent  wireTradeIntent `json:"intent"`
	Reason  string          `json:"reason,omitempty"`
}

func (w wireRiskCheckResponse) toDomain() types.RiskCheckResponse {
	return types.RiskCheckResponse{
		Granted: w.Granted,
		Intent:  w.Intent.toDomain(),
		Reason:  w.Reason,
	}
}

// wireTimeTick is the time input shape: {state, next_close|next_open: unix}.
type wireTimeTick struct {
	State     string `json:"state"`
	NextClose *int64 `json:"next_close,omitempty"`
	NextOpen  *int64 `json:"next_open,omitempty"`
}

func (w wireTimeTick) toDomain() types.TimeTick {
	tick := types.TimeTick{State: types.MarketState(w.State)}
	if w.NextClose != nil {
		t := time.Unix(*w.NextClose, 0).UTC()
		tick.NextClose = &t
	}
	if w.NextOpen != nil {
		t := time.Unix(*w.NextOpen, 0).UTC()
		tick.NextOpen = &t
	}
	return tick
}

// wireClaim, wireLot, wireAllocation are the fan-out-only output shapes for
// the claims, lots, and allocations topics — published for observers, never
// consumed by this process.

type wireClaim struct {
	ID          uuid.UUID        `json:"id"`
	Strategy    string           `json:"strategy"`
	SubStrategy *string          `json:"sub_strategy,omitempty"`
	Ticker      string           `json:"ticker"`
	Amount      wireAmount       `json:"amount"`
	LimitPrice  *decimal.Decimal `json:"limit_price,omitempty"`
}

func claimToWire(c types.Claim) wireClaim {
	return wireClaim{
		ID:          c.ID,
		Strategy:    c.Strategy,
		SubStrategy: c.SubStrategy,
		Ticker:      c.Ticker,
		Amount:      amountToWire(c.Amount),
		LimitPrice:  c.LimitPrice,
	}
}

type wireLot struct {
	ID       uuid.UUID       `json:"id"`
	OrderID  uuid.UUID       `json:"order_id"`
	Ticker   string          `json:"ticker"`
	FillTime time.Time       `json:"fill_time"`
	Price    decimal.Decimal `json:"price"`
	Shares   decimal.Decimal `json:"shares"`
}

func lotToWire(l types.Lot) wireLot {
	return wireLot{
		ID:       l.ID,
		OrderID:  l.OrderID,
		Ticker:   l.Ticker,
		FillTime: l.FillTime,
		Price:    l.Price,
		Shares:   l.Shares,
	}
}

type wireOwner struct {
	Owner    string  `json:"owner"`
	SubOwner *string `json:"sub_owner,omitempty"`
}

func ownerToWire(o types.Owner) wireOwner {
	owner, subOwner := o.Column()
	return wireOwner{Owner: owner, SubOwner: subOwner}
}

type wireAllocation struct {
	ID      uuid.UUID       `json:"id"`
	Owner   wireOwner       `json:"owner"`
	ClaimID *uuid.UUID      `json:"claim_id,omitempty"`
	LotID   uuid.UUID       `json:"lot_id"`
	Ticker  string          `json:"ticker"`
	Shares  decimal.Decimal `json:"shares"`
	Basis   decimal.Decimal `json:"basis"`
}

func allocationToWire(a types.Allocation) wireAllocation {
	return wireAllocation{
		ID:      a.ID,
		Owner:   ownerToWire(a.Owner),
		ClaimID: a.ClaimID,
		LotID:   a.LotID,
		Ticker:  a.Ticker,
		Shares:  a.Shares,
		Basis:   a.Basis,
	}
}
