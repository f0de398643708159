package riskgate

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ordermanager/ordermanager/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePublisher struct {
	requests []types.TradeIntent
	granted  []types.TradeIntent
}

func (f *fakePublisher) PublishRiskCheckRequest(ctx context.Context, intent types.TradeIntent) error {
	f.requests = append(f.requests, intent)
	return nil
}

func (f *fakePublisher) PublishTradeIntent(ctx context.Context, intent types.TradeIntent) error {
	f.granted = append(f.granted, intent)
	return nil
}

func TestSubmitPublishesThroughRequestQueue(t *testing.T) {
	pub := &fakePublisher{}
	g := New(pub, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.RunRequestPublisher(ctx)

	intent := types.TradeIntent{ID: uuid.New(), Ticker: "AAPL", Qty: 10}
	if err := g.Submit(ctx, intent); err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitFor(t, func() bool { return len(pub.requests) == 1 })
	if pub.requests[0].ID != intent.ID {
		t.Fatalf("published request = %+v, want %+v", pub.requests[0], intent)
	}
}

func TestHandleGrantedPublishesTradeIntent(t *testing.T) {
	pub := &fakePublisher{}
	g := New(pub, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.RunTradeIntentPublisher(ctx)

	intent := types.TradeIntent{ID: uuid.New(), Ticker: "AAPL", Qty: 10}
	if err := g.Handle(ctx, types.RiskCheckResponse{Granted: true, Intent: intent}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	waitFor(t, func() bool { return len(pub.granted) == 1 })
	if pub.granted[0].ID != intent.ID {
		t.Fatalf("published trade intent = %+v, want %+v", pub.granted[0], intent)
	}
}

func TestHandleDeniedDoesNotPublish(t *testing.T) {
	pub := &fakePublisher{}
	g := New(pub, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.RunTradeIntentPublisher(ctx)

	intent := types.TradeIntent{ID: uuid.New(), Ticker: "AAPL", Qty: 10}
	if err := g.Handle(ctx, types.RiskCheckResponse{Granted: false, Intent: intent, Reason: "limit breach"}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if len(pub.granted) != 0 {
		t.Fatalf("denied intent should not be published, got %v", pub.granted)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
