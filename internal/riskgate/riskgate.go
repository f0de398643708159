// Package riskgate implements the risk gateway (C8): every outgoing trade
// intent is routed through an external risk-check service before it can
// reach trade-intents. The gateway owns two bounded queues, each drained by
// its own background publisher goroutine, so a slow bus publish never
// blocks the core event loop that called Submit or Handle.
package riskgate

import (
	"context"
	"log/slog"

	"github.com/ordermanager/ordermanager/pkg/types"
)

const (
	requestChanDepth = 256
	grantedChanDepth = 256
)

// Publisher is the bus surface the gateway publishes through.
type Publisher interface {
	PublishRiskCheckRequest(ctx context.Context, intent types.TradeIntent) error
	PublishTradeIntent(ctx context.Context, intent types.TradeIntent) error
}

// Gateway is C8.
type Gateway struct {
	pub    Publisher
	logger *slog.Logger

	requestCh chan types.TradeIntent
	grantedCh chan types.TradeIntent
}

func New(pub Publisher, logger *slog.Logger) *Gateway {
	return &Gateway{
		pub:       pub,
		logger:    logger.With("component", "riskgate"),
		requestCh: make(chan types.TradeIntent, requestChanDepth),
		grantedCh: make(chan types.TradeIntent, grantedChanDepth),
	}
}

// Submit enqueues a freshly dispatched trade intent for a risk check. It is
// the RiskGateway interface tradegen.Dispatch submits through, and never
// blocks: when the queue is full the incoming intent is dropped with a
// warning rather than stalling the caller's transaction.
func (g *Gateway) Submit(ctx context.Context, intent types.TradeIntent) error {
	select {
	case g.requestCh <- intent:
	default:
		g.logger.Warn("risk-check request queue full, dropping intent", "id", intent.ID, "ticker", intent.Ticker)
	}
	return nil
}

// Handle applies the external risk service's verdict (§4.8). A Granted
// intent is queued for the trade-intents publisher; a Denied intent is
// logged and left alone — its PendingTrade stays Unreported until the
// reconciler's expiry sweep cleans it up.
func (g *Gateway) Handle(ctx context.Context, resp types.RiskCheckResponse) error {
	if !resp.Granted {
		g.logger.Warn("trade intent denied by risk check",
			"id", resp.Intent.ID, "ticker", resp.Intent.Ticker, "reason", resp.Reason)
		return nil
	}
	select {
	case g.grantedCh <- resp.Intent:
	default:
		g.logger.Warn("trade-intent publish queue full, dropping intent", "id", resp.Intent.ID)
	}
	return nil
}

// RunRequestPublisher drains the risk-check-request queue until ctx is
// cancelled. One of the three independently spawned background tasks (§5).
func (g *Gateway) RunRequestPublisher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case intent := <-g.requestCh:
			if err := g.pub.PublishRiskCheckRequest(ctx, intent); err != nil {
				g.logger.Error("publish risk check request failed", "id", intent.ID, "error", err)
			}
		}
	}
}

// RunTradeIntentPublisher drains the granted-intent queue until ctx is
// cancelled.
func (g *Gateway) RunTradeIntentPublisher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case intent := <-g.grantedCh:
			if err := g.pub.PublishTradeIntent(ctx, intent); err != nil {
				g.logger.Error("publish trade intent failed", "id", intent.ID, "error", err)
			}
		}
	}
}
