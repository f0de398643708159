// Package bus adapts the order manager's core to a NATS-backed message bus
// (C2): four input subjects are delivered as typed Go channels, five output
// subjects are published as JSON. Subjects for trade-intents,
// risk-check-request, claims, lots, and allocations are keyed by ticker, so
// downstream consumers that partition by subject get per-ticker ordering
// for free.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ordermanager/ordermanager/internal/config"
	"github.com/ordermanager/ordermanager/pkg/types"
)

const (
	reconnectWait  = time.Second
	maxReconnects  = -1 // retry forever; the core treats bus loss as transient, not fatal, after startup
	inputChanDepth = 256
)

// Bus owns the NATS connection and the typed input channels the core event
// loop selects over.
type Bus struct {
	conn   *nats.Conn
	topics config.TopicsConfig
	logger *slog.Logger

	subs []*nats.Subscription

	positionIntentsCh   chan types.PositionIntent
	brokerTradesCh      chan types.BrokerOrderEvent
	riskCheckResponseCh chan types.RiskCheckResponse
	timeCh              chan types.TimeTick
}

// Connect dials the bus and subscribes to all four input subjects.
// Reconnection is handled by the nats client itself; Connect only fails for
// the initial dial, which the caller should treat as fatal (§7).
func Connect(url string, topics config.TopicsConfig, logger *slog.Logger) (*Bus, error) {
	b := &Bus{
		topics:              topics,
		logger:              logger.With("component", "bus"),
		positionIntentsCh:   make(chan types.PositionIntent, inputChanDepth),
		brokerTradesCh:      make(chan types.BrokerOrderEvent, inputChanDepth),
		riskCheckResponseCh: make(chan types.RiskCheckResponse, inputChanDepth),
		timeCh:              make(chan types.TimeTick, inputChanDepth),
	}

	conn, err := nats.Connect(url,
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("bus disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			b.logger.Info("bus reconnected")
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			b.logger.Warn("bus connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect bus: %w", err)
	}
	b.conn = conn

	if err := b.subscribeAll(); err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bus) subscribeAll() error {
	subscriptions := []struct {
		subject string
		handler func(*nats.Msg)
	}{
		{b.topics.PositionIntents, b.handlePositionIntent},
		{b.topics.BrokerTrades, b.handleBrokerTrade},
		{b.topics.RiskCheckResponse, b.handleRiskCheckResponse},
		{b.topics.Time, b.handleTimeTick},
	}
	for _, s := range subscriptions {
		sub, err := b.conn.Subscribe(s.subject, s.handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", s.subject, err)
		}
		b.subs = append(b.subs, sub)
	}
	return nil
}

func (b *Bus) handlePositionIntent(msg *nats.Msg) {
	var w wirePositionIntent
	if err := json.Unmarshal(msg.Data, &w); err != nil {
		b.logger.Error("drop malformed position intent", "error", err)
		return
	}
	intent, err := w.toDomain()
	if err != nil {
		b.logger.Error("drop malformed position intent", "error", err)
		return
	}
	deliverTo(b, b.positionIntentsCh, intent, "position-intents")
}

func (b *Bus) handleBrokerTrade(msg *nats.Msg) {
	var w wireBrokerOrderEvent
	if err := json.Unmarshal(msg.Data, &w); err != nil {
		b.logger.Error("drop malformed broker trade", "error", err)
		return
	}
	event, err := w.toDomain()
	if err != nil {
		b.logger.Error("drop malformed broker trade", "error", err)
		return
	}
	deliverTo(b, b.brokerTradesCh, event, "broker-trades")
}

func (b *Bus) handleRiskCheckResponse(msg *nats.Msg) {
	var w wireRiskCheckResponse
	if err := json.Unmarshal(msg.Data, &w); err != nil {
		b.logger.Error("drop malformed risk check response", "error", err)
		return
	}
	deliverTo(b, b.riskCheckResponseCh, w.toDomain(), "risk-check-response")
}

func (b *Bus) handleTimeTick(msg *nats.Msg) {
	var w wireTimeTick
	if err := json.Unmarshal(msg.Data, &w); err != nil {
		b.logger.Error("drop malformed time tick", "error", err)
		return
	}
	deliverTo(b, b.timeCh, w.toDomain(), "time")
}

func deliverTo[T any](b *Bus, ch chan T, v T, subject string) {
	select {
	case ch <- v:
	default:
		b.logger.Warn("input channel full, dropping message", "subject", subject)
	}
}

// PositionIntents returns the channel of inbound position intents.
func (b *Bus) PositionIntents() <-chan types.PositionIntent { return b.positionIntentsCh }

// BrokerTrades returns the channel of inbound broker order events.
func (b *Bus) BrokerTrades() <-chan types.BrokerOrderEvent { return b.brokerTradesCh }

// RiskCheckResponses returns the channel of inbound risk check verdicts.
func (b *Bus) RiskCheckResponses() <-chan types.RiskCheckResponse { return b.riskCheckResponseCh }

// TimeTicks returns the channel of inbound market-session ticks.
func (b *Bus) TimeTicks() <-chan types.TimeTick { return b.timeCh }

func (b *Bus) subjectFor(base, ticker string) string {
	return base + "." + ticker
}

func (b *Bus) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", subject, err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// PublishTradeIntent publishes a granted trade intent to trade-intents,
// keyed by ticker.
func (b *Bus) PublishTradeIntent(ctx context.Context, intent types.TradeIntent) error {
	return b.publish(b.subjectFor(b.topics.TradeIntents, intent.Ticker), tradeIntentToWire(intent))
}

// PublishRiskCheckRequest publishes a dispatched trade intent to
// risk-check-request, keyed by ticker.
func (b *Bus) PublishRiskCheckRequest(ctx context.Context, intent types.TradeIntent) error {
	return b.publish(b.subjectFor(b.topics.RiskCheckRequest, intent.Ticker), tradeIntentToWire(intent))
}

// PublishClaim fans out a claim to observers on the claims topic, keyed by
// ticker.
func (b *Bus) PublishClaim(ctx context.Context, c types.Claim) error {
	return b.publish(b.subjectFor(b.topics.Claims, c.Ticker), claimToWire(c))
}

// PublishLot fans out a lot to observers on the lots topic, keyed by ticker.
func (b *Bus) PublishLot(ctx context.Context, l types.Lot) error {
	return b.publish(b.subjectFor(b.topics.Lots, l.Ticker), lotToWire(l))
}

// PublishAllocation fans out an allocation to observers on the allocations
// topic, keyed by ticker.
func (b *Bus) PublishAllocation(ctx context.Context, a types.Allocation) error {
	return b.publish(b.subjectFor(b.topics.Allocations, a.Ticker), allocationToWire(a))
}

// Close drains outstanding publishes and closes the connection.
func (b *Bus) Close() error {
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("drain bus: %w", err)
	}
	return nil
}
