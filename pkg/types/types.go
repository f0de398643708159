// Package types defines the shared data structures used across all layers
// of the order manager — position intents, claims, lots, allocations,
// pending trades, and the messages that flow between them on the bus. It has
// no dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Amount — sum type over Shares(decimal) | Dollars(decimal) | Zero
// ————————————————————————————————————————————————————————————————————————

// Unit tags which variant of Amount a value represents.
type Unit string

const (
	UnitShares  Unit = "shares"
	UnitDollars Unit = "dollars"
	UnitZero    Unit = "zero"
)

// Amount is the quantity carried by a PositionIntent or Claim: a number of
// shares, a dollar notional, or the zero variant (used to mean "flat").
// Value is meaningless when Unit is UnitZero and is always decimal.Zero in
// that case, so equality comparisons don't need to special-case it.
type Amount struct {
	Unit  Unit
	Value decimal.Decimal
}

// Shares constructs a share-denominated Amount.
func Shares(v decimal.Decimal) Amount { return Amount{Unit: UnitShares, Value: v} }

// Dollars constructs a dollar-denominated Amount.
func Dollars(v decimal.Decimal) Amount { return Amount{Unit: UnitDollars, Value: v} }

// ZeroAmount is the "flat" variant: neither shares nor dollars.
var ZeroAmount = Amount{Unit: UnitZero, Value: decimal.Zero}

func (a Amount) IsZero() bool {
	return a.Unit == UnitZero || a.Value.IsZero()
}

func (a Amount) IsPositive() bool {
	return a.Unit != UnitZero && a.Value.IsPositive()
}

func (a Amount) IsNegative() bool {
	return a.Unit != UnitZero && a.Value.IsNegative()
}

func (a Amount) String() string {
	switch a.Unit {
	case UnitShares:
		return fmt.Sprintf("%s shares", a.Value.String())
	case UnitDollars:
		return fmt.Sprintf("$%s", a.Value.String())
	default:
		return "zero"
	}
}

// AmountFromColumns reconstructs an Amount from the separate (decimal, unit)
// columns the Store persists them as.
func AmountFromColumns(value decimal.Decimal, unit string) (Amount, error) {
	switch Unit(unit) {
	case UnitShares:
		return Shares(value), nil
	case UnitDollars:
		return Dollars(value), nil
	case UnitZero:
		return ZeroAmount, nil
	default:
		return Amount{}, fmt.Errorf("types: unknown amount unit %q", unit)
	}
}

// Columns splits an Amount back into the (decimal, unit) pair the Store
// persists.
func (a Amount) Columns() (decimal.Decimal, string) {
	if a.Unit == UnitZero {
		return decimal.Zero, string(UnitZero)
	}
	return a.Value, string(a.Unit)
}

// ————————————————————————————————————————————————————————————————————————
// Owner — sum type over House | Strategy(name, sub?)
// ————————————————————————————————————————————————————————————————————————

type OwnerKind string

const (
	OwnerHouse    OwnerKind = "house"
	OwnerStrategy OwnerKind = "strategy"
)

// houseSentinel is the reserved strategy name that can never be claimed by
// NewStrategyOwner, so a Strategy-kind Owner can never collide with House.
const houseSentinel = "House"

// Owner identifies who holds a Position or Allocation: the firm's own book
// (House) or a named strategy, optionally with a sub-strategy.
type Owner struct {
	Kind        OwnerKind
	Strategy    string
	SubStrategy *string
}

var HouseOwner = Owner{Kind: OwnerHouse}

// NewStrategyOwner builds a Strategy owner, rejecting the reserved "House"
// name so the two variants can never alias each other in storage.
func NewStrategyOwner(strategy string, subStrategy *string) (Owner, error) {
	if strategy == houseSentinel {
		return Owner{}, fmt.Errorf("types: %q is a reserved owner name", houseSentinel)
	}
	return Owner{Kind: OwnerStrategy, Strategy: strategy, SubStrategy: subStrategy}, nil
}

func (o Owner) IsHouse() bool { return o.Kind == OwnerHouse }

func (o Owner) String() string {
	if o.Kind == OwnerHouse {
		return houseSentinel
	}
	if o.SubStrategy != nil {
		return fmt.Sprintf("%s:%s", o.Strategy, *o.SubStrategy)
	}
	return o.Strategy
}

// Column returns the (owner, sub_owner) pair the Store persists Owner as.
func (o Owner) Column() (owner string, subOwner *string) {
	if o.Kind == OwnerHouse {
		return houseSentinel, nil
	}
	return o.Strategy, o.SubStrategy
}

// OwnerFromColumns reconstructs an Owner from the persisted (owner,
// sub_owner) column pair.
func OwnerFromColumns(owner string, subOwner *string) Owner {
	if owner == houseSentinel {
		return HouseOwner
	}
	return Owner{Kind: OwnerStrategy, Strategy: owner, SubStrategy: subOwner}
}

// ————————————————————————————————————————————————————————————————————————
// Identifier — a specific ticker, or the "all tickers" sentinel
// ————————————————————————————————————————————————————————————————————————

// AllTickersSentinel is the reserved ticker value used to persist the "all
// tickers" identifier; it can never collide with a real exchange symbol
// because no legal ticker contains these characters.
const AllTickersSentinel = "__ALL__"

type IdentifierKind string

const (
	IdentifierTicker IdentifierKind = "ticker"
	IdentifierAll    IdentifierKind = "all"
)

// Identifier names the scope of a PositionIntent: one ticker, or every
// ticker the strategy currently holds.
type Identifier struct {
	Kind   IdentifierKind
	Ticker string // set only when Kind == IdentifierTicker
}

func TickerIdentifier(ticker string) Identifier {
	return Identifier{Kind: IdentifierTicker, Ticker: ticker}
}

var AllTickers = Identifier{Kind: IdentifierAll}

// Column returns the ticker string the Store persists, substituting the
// reserved sentinel for the "all tickers" case.
func (i Identifier) Column() string {
	if i.Kind == IdentifierAll {
		return AllTickersSentinel
	}
	return i.Ticker
}

// IdentifierFromColumn reconstructs an Identifier from its persisted column.
func IdentifierFromColumn(s string) Identifier {
	if s == AllTickersSentinel {
		return AllTickers
	}
	return TickerIdentifier(s)
}

// ————————————————————————————————————————————————————————————————————————
// UpdatePolicy
// ————————————————————————————————————————————————————————————————————————

type UpdatePolicy string

const (
	UpdatePolicyUpdate      UpdatePolicy = "update"
	UpdatePolicyRetain      UpdatePolicy = "retain"
	UpdatePolicyRetainLong  UpdatePolicy = "retain_long"
	UpdatePolicyRetainShort UpdatePolicy = "retain_short"
)

// ————————————————————————————————————————————————————————————————————————
// PositionIntent — external input, immutable
// ————————————————————————————————————————————————————————————————————————

type PositionIntent struct {
	ID           uuid.UUID
	Strategy     string
	SubStrategy  *string
	Timestamp    time.Time
	Identifier   Identifier
	Amount       Amount
	UpdatePolicy UpdatePolicy

	DecisionPrice *decimal.Decimal
	LimitPrice    *decimal.Decimal
	StopPrice     *decimal.Decimal

	Before *time.Time // expiry: drop the intent once this has passed
	After  *time.Time // activation: hold the intent in the scheduler until this arrives
}

// Expired reports whether Before has already passed as of now.
func (p PositionIntent) Expired(now time.Time) bool {
	return p.Before != nil && !p.Before.After(now)
}

// NotYetActive reports whether After is still in the future as of now.
func (p PositionIntent) NotYetActive(now time.Time) bool {
	return p.After != nil && p.After.After(now)
}

// ————————————————————————————————————————————————————————————————————————
// Claim — owned outstanding desired change
// ————————————————————————————————————————————————————————————————————————

type Claim struct {
	ID          uuid.UUID
	Strategy    string
	SubStrategy *string
	Ticker      string
	Amount      Amount
	LimitPrice  *decimal.Decimal
}

func NewClaim(strategy string, subStrategy *string, ticker string, amount Amount, limitPrice *decimal.Decimal) Claim {
	return Claim{
		ID:          uuid.New(),
		Strategy:    strategy,
		SubStrategy: subStrategy,
		Ticker:      ticker,
		Amount:      amount,
		LimitPrice:  limitPrice,
	}
}

// ————————————————————————————————————————————————————————————————————————
// Lot — immutable fill record
// ————————————————————————————————————————————————————————————————————————

type Lot struct {
	ID       uuid.UUID
	OrderID  uuid.UUID
	Ticker   string
	FillTime time.Time
	Price    decimal.Decimal
	Shares   decimal.Decimal // signed: positive = buy, negative = sell
}

func NewLot(orderID uuid.UUID, ticker string, fillTime time.Time, price, shares decimal.Decimal) Lot {
	return Lot{
		ID:       uuid.New(),
		OrderID:  orderID,
		Ticker:   ticker,
		FillTime: fillTime,
		Price:    price,
		Shares:   shares,
	}
}

// ————————————————————————————————————————————————————————————————————————
// Allocation — lot to owner split
// ————————————————————————————————————————————————————————————————————————

type Allocation struct {
	ID      uuid.UUID
	Owner   Owner
	ClaimID *uuid.UUID
	LotID   uuid.UUID
	Ticker  string
	Shares  decimal.Decimal
	Basis   decimal.Decimal
}

func NewAllocation(owner Owner, claimID *uuid.UUID, lotID uuid.UUID, ticker string, shares, basis decimal.Decimal) Allocation {
	return Allocation{
		ID:      uuid.New(),
		Owner:   owner,
		ClaimID: claimID,
		LotID:   lotID,
		Ticker:  ticker,
		Shares:  shares,
		Basis:   basis,
	}
}

// ————————————————————————————————————————————————————————————————————————
// Position — derived view, never stored directly
// ————————————————————————————————————————————————————————————————————————

type Position struct {
	Owner  Owner
	Ticker string
	Shares decimal.Decimal
	Basis  decimal.Decimal
}

func (p Position) IsLong() bool  { return p.Shares.IsPositive() }
func (p Position) IsShort() bool { return p.Shares.IsNegative() }

// ————————————————————————————————————————————————————————————————————————
// PendingTrade — in-flight broker order bookkeeping
// ————————————————————————————————————————————————————————————————————————

type PendingStatus string

const (
	PendingUnreported      PendingStatus = "unreported"
	PendingAccepted        PendingStatus = "accepted"
	PendingPartiallyFilled PendingStatus = "partially_filled"
	PendingFilled          PendingStatus = "filled"
	PendingCancelled       PendingStatus = "cancelled"
	PendingDead            PendingStatus = "dead"
)

// IsTerminal reports whether no further broker events are expected.
func (s PendingStatus) IsTerminal() bool {
	switch s {
	case PendingFilled, PendingCancelled, PendingDead:
		return true
	default:
		return false
	}
}

// PendingTrade tracks a dispatched trade intent until the broker resolves it.
type PendingTrade struct {
	ID         uuid.UUID // equal to the originating trade intent's id
	Ticker     string
	Qty        decimal.Decimal // signed
	PendingQty decimal.Decimal // signed; remaining
	Datetime   time.Time
	Status     PendingStatus
}

func NewPendingTrade(id uuid.UUID, ticker string, qty decimal.Decimal, at time.Time) PendingTrade {
	return PendingTrade{
		ID:         id,
		Ticker:     ticker,
		Qty:        qty,
		PendingQty: qty,
		Datetime:   at,
		Status:     PendingUnreported,
	}
}

func (t *PendingTrade) Accepted()        { t.Status = PendingAccepted }
func (t *PendingTrade) PartiallyFilled() { t.Status = PendingPartiallyFilled }
func (t *PendingTrade) Filled()          { t.Status = PendingFilled }
func (t *PendingTrade) Cancelled()       { t.Status = PendingCancelled }
func (t *PendingTrade) Dead()            { t.Status = PendingDead }

func (t PendingTrade) IsActive() bool {
	switch t.Status {
	case PendingUnreported, PendingAccepted, PendingPartiallyFilled:
		return true
	default:
		return false
	}
}

// ————————————————————————————————————————————————————————————————————————
// ScheduledIntent / DependentTrade
// ————————————————————————————————————————————————————————————————————————

// ScheduledIntent is a durable copy of a PositionIntent held by the
// scheduler until its activation time arrives.
type ScheduledIntent = PositionIntent

// DependentTrade is a trade intent held in reserve alongside the id of the
// "trigger" trade it depends on; it is released to the dispatch path once
// the trigger trade is fully filled.
type DependentTrade struct {
	TriggerID uuid.UUID
	Intent    TradeIntent
}

// ————————————————————————————————————————————————————————————————————————
// Trade intent and order type derivation
// ————————————————————————————————————————————————————————————————————————

type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// DeriveOrderType maps a (limit, stop) price pair to its order type.
func DeriveOrderType(limitPrice, stopPrice *decimal.Decimal) OrderType {
	switch {
	case limitPrice != nil && stopPrice != nil:
		return OrderTypeStopLimit
	case limitPrice != nil:
		return OrderTypeLimit
	case stopPrice != nil:
		return OrderTypeStop
	default:
		return OrderTypeMarket
	}
}

type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
)

// TradeIntent is the outbound order the trade generator emits; published to
// risk-check-request and, once granted, to trade-intents.
type TradeIntent struct {
	ID          uuid.UUID
	Ticker      string
	Qty         int64 // signed; quantized via RoundAwayFromZero
	OrderType   OrderType
	TimeInForce TimeInForce
	LimitPrice  *decimal.Decimal
	StopPrice   *decimal.Decimal
}

// ————————————————————————————————————————————————————————————————————————
// Broker order events (C6 input)
// ————————————————————————————————————————————————————————————————————————

type BrokerEventKind string

const (
	BrokerEventNew         BrokerEventKind = "new"
	BrokerEventAccepted    BrokerEventKind = "accepted"
	BrokerEventCanceled    BrokerEventKind = "canceled"
	BrokerEventExpired     BrokerEventKind = "expired"
	BrokerEventRejected    BrokerEventKind = "rejected"
	BrokerEventPartialFill BrokerEventKind = "partial_fill"
	BrokerEventFill        BrokerEventKind = "fill"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// BrokerOrderEvent is the order-lifecycle message the broker publishes on
// broker-trades.
type BrokerOrderEvent struct {
	Event         BrokerEventKind
	ClientOrderID uuid.UUID
	Symbol        string
	Side          Side
	Qty           decimal.Decimal
	FilledQty     decimal.Decimal
	Price         *decimal.Decimal // set for PartialFill/Fill
	PositionQty   *decimal.Decimal // cumulative position qty, set for PartialFill/Fill
	Timestamp     *time.Time       // set for PartialFill/Fill
}

// SignedQty returns Qty with its sign flipped for sells.
func (e BrokerOrderEvent) SignedQty() decimal.Decimal {
	if e.Side == SideSell {
		return e.Qty.Neg()
	}
	return e.Qty
}

// SignedFilledQty returns FilledQty with its sign flipped for sells.
func (e BrokerOrderEvent) SignedFilledQty() decimal.Decimal {
	if e.Side == SideSell {
		return e.FilledQty.Neg()
	}
	return e.FilledQty
}

// ————————————————————————————————————————————————————————————————————————
// Risk gateway (C8) messages
// ————————————————————————————————————————————————————————————————————————

// RiskCheckResponse is the external risk service's verdict on a dispatched
// trade intent.
type RiskCheckResponse struct {
	Granted bool
	Intent  TradeIntent
	Reason  string // set when !Granted
}

// ————————————————————————————————————————————————————————————————————————
// TimeTick (C7 trigger / market-session signal)
// ————————————————————————————————————————————————————————————————————————

type MarketState string

const (
	MarketOpen   MarketState = "open"
	MarketClosed MarketState = "closed"
)

// TimeTick drives the reconciler and carries the current market session
// state; NextClose/NextOpen is whichever boundary is next, as a Unix
// timestamp per the wire format in §6.
type TimeTick struct {
	State     MarketState
	NextClose *time.Time
	NextOpen  *time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Helpers
// ————————————————————————————————————————————————————————————————————————

// RoundAwayFromZero ceilings the magnitude of d to the nearest integer on
// any nonzero fractional remainder, preserving sign — Rust's
// round_dp_with_strategy(0, RoundingStrategy::AwayFromZero), equivalent to
// ROUND_UP, not a half-rounding rule. The quantization rule trade intents
// and house-liquidation sizing both use.
func RoundAwayFromZero(d decimal.Decimal) decimal.Decimal {
	truncated := d.Truncate(0)
	if d.Equal(truncated) {
		return truncated
	}
	if d.IsPositive() {
		return truncated.Add(decimal.NewFromInt(1))
	}
	return truncated.Sub(decimal.NewFromInt(1))
}

// Signum returns -1, 0, or 1 according to the sign of d.
func Signum(d decimal.Decimal) int {
	switch {
	case d.IsPositive():
		return 1
	case d.IsNegative():
		return -1
	default:
		return 0
	}
}
