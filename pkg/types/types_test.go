package types

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestAmountColumnsRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []Amount{
		Shares(d("10")),
		Shares(d("-2.5")),
		Dollars(d("400")),
		ZeroAmount,
	}
	for _, a := range cases {
		value, unit := a.Columns()
		got, err := AmountFromColumns(value, unit)
		if err != nil {
			t.Fatalf("AmountFromColumns: %v", err)
		}
		if got.Unit != a.Unit {
			t.Fatalf("unit mismatch: got %v want %v", got.Unit, a.Unit)
		}
		if a.Unit != UnitZero && !got.Value.Equal(a.Value) {
			t.Fatalf("value mismatch: got %v want %v", got.Value, a.Value)
		}
	}
}

func TestOwnerRejectsHouseSentinel(t *testing.T) {
	t.Parallel()

	if _, err := NewStrategyOwner("House", nil); err == nil {
		t.Fatal("expected error constructing a Strategy owner named House")
	}
	if _, err := NewStrategyOwner("momentum", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOwnerColumnRoundTrip(t *testing.T) {
	t.Parallel()

	sub := "B2"
	owners := []Owner{
		HouseOwner,
		{Kind: OwnerStrategy, Strategy: "A"},
		{Kind: OwnerStrategy, Strategy: "C", SubStrategy: &sub},
	}
	for _, o := range owners {
		owner, subOwner := o.Column()
		got := OwnerFromColumns(owner, subOwner)
		if got.String() != o.String() {
			t.Fatalf("round-trip mismatch: got %q want %q", got.String(), o.String())
		}
	}
}

func TestIdentifierAllTickersSentinel(t *testing.T) {
	t.Parallel()

	if AllTickers.Column() != AllTickersSentinel {
		t.Fatalf("expected sentinel column, got %q", AllTickers.Column())
	}
	if got := IdentifierFromColumn(AllTickersSentinel); got.Kind != IdentifierAll {
		t.Fatalf("expected IdentifierAll, got %v", got.Kind)
	}
	if got := IdentifierFromColumn("AAPL"); got.Kind != IdentifierTicker || got.Ticker != "AAPL" {
		t.Fatalf("expected ticker AAPL, got %+v", got)
	}
}

func TestDeriveOrderType(t *testing.T) {
	t.Parallel()

	limit := d("10")
	stop := d("9")
	cases := []struct {
		limit, stop *decimal.Decimal
		want        OrderType
	}{
		{nil, nil, OrderTypeMarket},
		{&limit, nil, OrderTypeLimit},
		{nil, &stop, OrderTypeStop},
		{&limit, &stop, OrderTypeStopLimit},
	}
	for _, c := range cases {
		if got := DeriveOrderType(c.limit, c.stop); got != c.want {
			t.Fatalf("DeriveOrderType(%v, %v) = %v, want %v", c.limit, c.stop, got, c.want)
		}
	}
}

func TestRoundAwayFromZero(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"2.5", "3"},
		{"-2.5", "-3"},
		{"2.1", "3"},
		{"-2.1", "-3"},
		{"2.4", "3"},
		{"-2.4", "-3"},
		{"0", "0"},
		{"2", "2"},
		{"-2", "-2"},
	}
	for _, c := range cases {
		got := RoundAwayFromZero(d(c.in))
		if !got.Equal(d(c.want)) {
			t.Fatalf("RoundAwayFromZero(%s) = %s, want %s", c.in, got, c.want)
		}
	}
}

// splitLot mirrors the allocation-splitting algorithm in internal/fill; it's
// duplicated here in miniature, against the same fixture, to pin the exact
// arithmetic this package's Amount/Owner/Claim/Lot/Allocation types must
// support, independently of internal/fill.
func splitLot(claims []Claim, lot Lot) []Allocation {
	remainingShares := lot.Shares
	remainingBasis := lot.Shares.Mul(lot.Price)
	var out []Allocation

	shouldAllocate := func(c Claim) bool {
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

	for _, c := range claims {
		if !shouldAllocate(c) {
			continue
		}
		var shares, basis decimal.Decimal
		switch c.Amount.Unit {
		case UnitDollars:
			allocated := decimal.Min(c.Amount.Value.Abs(), remainingBasis.Abs())
			if c.Amount.Value.IsNegative() {
				allocated = allocated.Neg()
			}
			basis = allocated
			shares = allocated.Div(lot.Price).Round(8)
		case UnitShares:
			allocated := decimal.Min(c.Amount.Value.Abs(), remainingShares.Abs())
			if c.Amount.Value.IsNegative() {
				allocated = allocated.Neg()
			}
			shares = allocated
			basis = allocated.Mul(lot.Price)
		default:
			continue
		}
		claimID := c.ID
		out = append(out, NewAllocation(Owner{Kind: OwnerStrategy, Strategy: c.Strategy, SubStrategy: c.SubStrategy}, &claimID, lot.ID, lot.Ticker, shares, basis))
		remainingShares = remainingShares.Sub(shares)
		remainingBasis = remainingBasis.Sub(basis)
	}

	if !remainingShares.IsZero() {
		out = append(out, NewAllocation(HouseOwner, nil, lot.ID, lot.Ticker, remainingShares, remainingBasis))
	}
	return out
}

func TestSplitLotWithRemainder(t *testing.T) {
	t.Parallel()

	lot := NewLot(uuid.New(), "AAPL", time.Now(), d("100"), d("10"))
	claims := []Claim{
		NewClaim("A", nil, "AAPL", Dollars(d("-400")), nil),
		NewClaim("B", nil, "AAPL", Dollars(d("400")), nil),
		NewClaim("C", ptr("B2"), "AAPL", Shares(d("2.5")), nil),
	}

	allocations := splitLot(claims, lot)
	if len(allocations) != 3 {
		t.Fatalf("expected 3 allocations, got %d", len(allocations))
	}

	want := []struct {
		owner  string
		shares string
		basis  string
	}{
		{"B", "4", "400"},
		{"C:B2", "2.5", "250"},
		{"House", "3.5", "350"},
	}
	for i, w := range want {
		if allocations[i].Owner.String() != w.owner {
			t.Errorf("allocation[%d].Owner = %s, want %s", i, allocations[i].Owner, w.owner)
		}
		if !allocations[i].Shares.Equal(d(w.shares)) {
			t.Errorf("allocation[%d].Shares = %s, want %s", i, allocations[i].Shares, w.shares)
		}
		if !allocations[i].Basis.Equal(d(w.basis)) {
			t.Errorf("allocation[%d].Basis = %s, want %s", i, allocations[i].Basis, w.basis)
		}
	}
}

func ptr(s string) *string { return &s }
