package triage

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordermanager/ordermanager/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type fakeStore struct {
	positions map[string][]types.Position // keyed by owner.Strategy+sub
	claims    []types.Claim
}

func ownerKey(o types.Owner) string {
	sub := ""
	if o.SubStrategy != nil {
		sub = *o.SubStrategy
	}
	return string(o.Kind) + "/" + o.Strategy + "/" + sub
}

func (f *fakeStore) GetPositionsByOwner(ctx context.Context, owner types.Owner) ([]types.Position, error) {
	return f.positions[ownerKey(owner)], nil
}

func (f *fakeStore) SaveClaim(ctx context.Context, c types.Claim) error {
	f.claims = append(f.claims, c)
	return nil
}

type fakeScheduler struct {
	scheduled []types.ScheduledIntent
}

func (f *fakeScheduler) Schedule(ctx context.Context, intent types.ScheduledIntent) error {
	f.scheduled = append(f.scheduled, intent)
	return nil
}

type fakeTradeGen struct {
	generated []types.Claim
}

func (f *fakeTradeGen) Generate(ctx context.Context, claim types.Claim) error {
	f.generated = append(f.generated, claim)
	return nil
}

type fakePublisher struct{ published []types.Claim }

func (f *fakePublisher) PublishClaim(ctx context.Context, c types.Claim) error {
	f.published = append(f.published, c)
	return nil
}

func newHarness() (*Triage, *fakeStore, *fakeScheduler, *fakeTradeGen, *fakePublisher) {
	st := &fakeStore{positions: make(map[string][]types.Position)}
	sched := &fakeScheduler{}
	tg := &fakeTradeGen{}
	pub := &fakePublisher{}
	return New(st, sched, tg, pub, testLogger()), st, sched, tg, pub
}

func tickerIntent(strategy, ticker string, amount types.Amount, policy types.UpdatePolicy) types.PositionIntent {
	return types.PositionIntent{
		ID:           uuid.New(),
		Strategy:     strategy,
		Timestamp:    time.Now(),
		Identifier:   types.TickerIdentifier(ticker),
		Amount:       amount,
		UpdatePolicy: policy,
	}
}

func TestHandleExpiredIntentIsDropped(t *testing.T) {
	tr, _, _, tg, _ := newHarness()
	past := time.Now().Add(-time.Hour)
	intent := tickerIntent("alpha", "AAPL", types.Shares(d("100")), types.UpdatePolicyUpdate)
	intent.Before = &past

	if err := tr.Handle(context.Background(), intent); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(tg.generated) != 0 {
		t.Fatalf("expired intent should not generate a claim, got %d", len(tg.generated))
	}
}

func TestHandleNotYetActiveIsScheduled(t *testing.T) {
	tr, _, sched, tg, _ := newHarness()
	future := time.Now().Add(time.Hour)
	intent := tickerIntent("alpha", "AAPL", types.Shares(d("100")), types.UpdatePolicyUpdate)
	intent.After = &future

	if err := tr.Handle(context.Background(), intent); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(sched.scheduled) != 1 {
		t.Fatalf("expected intent to be scheduled, got %d", len(sched.scheduled))
	}
	if len(tg.generated) != 0 {
		t.Fatal("not-yet-active intent should not generate a claim yet")
	}
}

func TestHandleSharesIntentProducesDiffClaim(t *testing.T) {
	tr, st, _, tg, _ := newHarness()
	owner, _ := types.NewStrategyOwner("alpha", nil)
	st.positions[ownerKey(owner)] = []types.Position{{Owner: owner, Ticker: "AAPL", Shares: d("30")}}

	intent := tickerIntent("alpha", "AAPL", types.Shares(d("100")), types.UpdatePolicyUpdate)
	if err := tr.Handle(context.Background(), intent); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(tg.generated) != 1 {
		t.Fatalf("expected one claim dispatched, got %d", len(tg.generated))
	}
	if !tg.generated[0].Amount.Value.Equal(d("70")) {
		t.Fatalf("claim diff = %s, want 70", tg.generated[0].Amount.Value)
	}
}

func TestHandleDollarIntentDividesByPrice(t *testing.T) {
	tr, st, _, tg, _ := newHarness()
	owner, _ := types.NewStrategyOwner("alpha", nil)
	st.positions[ownerKey(owner)] = []types.Position{{Owner: owner, Ticker: "AAPL", Shares: d("0")}}

	price := d("50")
	intent := tickerIntent("alpha", "AAPL", types.Dollars(d("5000")), types.UpdatePolicyUpdate)
	intent.DecisionPrice = &price

	if err := tr.Handle(context.Background(), intent); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(tg.generated) != 1 {
		t.Fatalf("expected one claim, got %d", len(tg.generated))
	}
	if !tg.generated[0].Amount.Value.Equal(d("100")) {
		t.Fatalf("claim diff = %s, want 100", tg.generated[0].Amount.Value)
	}
}

func TestHandleDollarIntentWithNoPriceIsDropped(t *testing.T) {
	tr, _, _, tg, _ := newHarness()
	intent := tickerIntent("alpha", "AAPL", types.Dollars(d("5000")), types.UpdatePolicyUpdate)

	if err := tr.Handle(context.Background(), intent); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(tg.generated) != 0 {
		t.Fatal("dollar intent with no price should be dropped, not dispatched")
	}
}

func TestRetainLongSkipsExistingLongPosition(t *testing.T) {
	tr, st, _, tg, _ := newHarness()
	owner, _ := types.NewStrategyOwner("alpha", nil)
	st.positions[ownerKey(owner)] = []types.Position{{Owner: owner, Ticker: "AAPL", Shares: d("50")}}

	intent := tickerIntent("alpha", "AAPL", types.Shares(d("200")), types.UpdatePolicyRetainLong)
	if err := tr.Handle(context.Background(), intent); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(tg.generated) != 0 {
		t.Fatal("retain_long should skip an already-long position")
	}
}

func TestRetainLongAppliesToFlatPosition(t *testing.T) {
	tr, st, _, tg, _ := newHarness()
	owner, _ := types.NewStrategyOwner("alpha", nil)
	st.positions[ownerKey(owner)] = []types.Position{{Owner: owner, Ticker: "AAPL", Shares: d("0")}}

	intent := tickerIntent("alpha", "AAPL", types.Shares(d("200")), types.UpdatePolicyRetainLong)
	if err := tr.Handle(context.Background(), intent); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(tg.generated) != 1 {
		t.Fatal("retain_long should still apply when flat")
	}
}

func TestRetainAlwaysSkips(t *testing.T) {
	tr, st, _, tg, _ := newHarness()
	owner, _ := types.NewStrategyOwner("alpha", nil)
	st.positions[ownerKey(owner)] = []types.Position{{Owner: owner, Ticker: "AAPL", Shares: d("0")}}

	intent := tickerIntent("alpha", "AAPL", types.Shares(d("200")), types.UpdatePolicyRetain)
	if err := tr.Handle(context.Background(), intent); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(tg.generated) != 0 {
		t.Fatal("retain should never dispatch a claim")
	}
}

func TestHandleZeroDiffProducesNoClaim(t *testing.T) {
	tr, st, _, tg, _ := newHarness()
	owner, _ := types.NewStrategyOwner("alpha", nil)
	st.positions[ownerKey(owner)] = []types.Position{{Owner: owner, Ticker: "AAPL", Shares: d("100")}}

	intent := tickerIntent("alpha", "AAPL", types.Shares(d("100")), types.UpdatePolicyUpdate)
	if err := tr.Handle(context.Background(), intent); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(tg.generated) != 0 {
		t.Fatal("no-op diff should not dispatch a claim")
	}
}

func TestHandleMultiTickerCloseDispatchesOnePerNonFlatPosition(t *testing.T) {
	tr, st, _, tg, _ := newHarness()
	owner, _ := types.NewStrategyOwner("alpha", nil)
	st.positions[ownerKey(owner)] = []types.Position{
		{Owner: owner, Ticker: "AAPL", Shares: d("100")},
		{Owner: owner, Ticker: "MSFT", Shares: d("-40")},
		{Owner: owner, Ticker: "TSLA", Shares: d("0")},
	}

	intent := types.PositionIntent{
		ID:           uuid.New(),
		Strategy:     "alpha",
		Timestamp:    time.Now(),
		Identifier:   types.AllTickers,
		Amount:       types.ZeroAmount,
		UpdatePolicy: types.UpdatePolicyUpdate,
	}
	if err := tr.Handle(context.Background(), intent); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(tg.generated) != 2 {
		t.Fatalf("expected 2 closing claims, got %d", len(tg.generated))
	}
	for _, c := range tg.generated {
		switch c.Ticker {
		case "AAPL":
			if !c.Amount.Value.Equal(d("-100")) {
				t.Fatalf("AAPL close diff = %s", c.Amount.Value)
			}
		case "MSFT":
			if !c.Amount.Value.Equal(d("40")) {
				t.Fatalf("MSFT close diff = %s", c.Amount.Value)
			}
		default:
			t.Fatalf("unexpected ticker closed: %s", c.Ticker)
		}
	}
}

func TestHandleMultiTickerCloseWithNonZeroAmountIsRejected(t *testing.T) {
	tr, _, _, tg, _ := newHarness()
	intent := types.PositionIntent{
		ID:           uuid.New(),
		Strategy:     "alpha",
		Timestamp:    time.Now(),
		Identifier:   types.AllTickers,
		Amount:       types.Shares(d("10")),
		UpdatePolicy: types.UpdatePolicyUpdate,
	}
	if err := tr.Handle(context.Background(), intent); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(tg.generated) != 0 {
		t.Fatal("all-tickers intent with non-zero amount must be rejected")
	}
}
