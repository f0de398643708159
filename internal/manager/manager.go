// Package manager wires C1-C8 together into the single cooperative event
// loop described in §5: one message is dispatched end to end, through its
// Store transaction and downstream publish, before the next is accepted.
package manager

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ordermanager/ordermanager/internal/bus"
	"github.com/ordermanager/ordermanager/internal/config"
	"github.com/ordermanager/ordermanager/internal/fill"
	"github.com/ordermanager/ordermanager/internal/reconciler"
	"github.com/ordermanager/ordermanager/internal/riskgate"
	"github.com/ordermanager/ordermanager/internal/scheduler"
	"github.com/ordermanager/ordermanager/internal/store"
	"github.com/ordermanager/ordermanager/internal/tradegen"
	"github.com/ordermanager/ordermanager/internal/triage"
)

// Manager owns the event loop and the three independently spawned
// background tasks (§5): the scheduler, the trade-intent publisher, and the
// risk-check publisher.
type Manager struct {
	store *store.Store
	bus   *bus.Bus
	sched *scheduler.Scheduler

	triage *triage.Triage
	fill   *fill.Attributor
	risk   *riskgate.Gateway
	recon  *reconciler.Reconciler

	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs the manager and wires every component. Call Start to begin
// running; call Stop to shut down gracefully.
func New(cfg config.Config, st *store.Store, b *bus.Bus, logger *slog.Logger) *Manager {
	sched := scheduler.New(st, logger)
	risk := riskgate.New(b, logger)
	tradeGen := tradegen.New(st, risk, logger)
	tr := triage.New(st, sched, tradeGen, b, logger)
	fillAttr := fill.New(st, tradeGen, b, logger)
	recon := reconciler.New(st, tradeGen, tradeGen, cfg.Reconciler.UnreportedTradeExpiry, logger)

	return &Manager{
		store:  st,
		bus:    b,
		sched:  sched,
		triage: tr,
		fill:   fillAttr,
		risk:   risk,
		recon:  recon,
		logger: logger.With("component", "manager"),
	}
}

// Start rehydrates the scheduler, launches the background publishers, and
// starts the main loop. It returns once everything is running.
func (m *Manager) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	if err := m.sched.Start(runCtx); err != nil {
		cancel()
		return err
	}

	m.spawn(func() { m.risk.RunRequestPublisher(runCtx) })
	m.spawn(func() { m.risk.RunTradeIntentPublisher(runCtx) })
	m.spawn(func() { m.loop(runCtx) })

	return nil
}

// Stop cancels every background task, waits for the two risk publishers and
// the main loop to exit, then closes the bus and the store. The scheduler's
// run loop stops on the same cancellation but is not waited for.
func (m *Manager) Stop() {
	m.logger.Info("shutting down")
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	if err := m.bus.Close(); err != nil {
		m.logger.Error("close bus", "error", err)
	}
	if err := m.store.Close(); err != nil {
		m.logger.Error("close store", "error", err)
	}
	m.logger.Info("shutdown complete")
}

func (m *Manager) spawn(fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}

// loop is the single cooperative event loop. Messages arriving on different
// sources may interleave, but each one is fully handled — Store
// transaction plus downstream publish — before the next select iteration,
// so claim/position state is never mutated concurrently.
func (m *Manager) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case intent := <-m.bus.PositionIntents():
			m.run(ctx, "position intent", intent.ID, func() error {
				return m.triage.Handle(ctx, intent)
			})

		case intent := <-m.sched.Due():
			m.run(ctx, "due scheduled intent", intent.ID, func() error {
				return m.triage.Handle(ctx, intent)
			})

		case event := <-m.bus.BrokerTrades():
			m.run(ctx, "broker trade", event.ClientOrderID, func() error {
				return m.fill.Handle(ctx, event)
			})

		case resp := <-m.bus.RiskCheckResponses():
			m.run(ctx, "risk check response", resp.Intent.ID, func() error {
				return m.risk.Handle(ctx, resp)
			})

		case tick := <-m.bus.TimeTicks():
			m.run(ctx, "time tick", uuid.Nil, func() error {
				return m.recon.Handle(ctx, tick)
			})
		}
	}
}

// run dispatches one message end to end. Per §7, a handler failure is
// logged and the message abandoned — the reconciler sweeps recover from
// whatever partial state results.
func (m *Manager) run(ctx context.Context, kind string, id uuid.UUID, fn func() error) {
	if err := fn(); err != nil {
		m.logger.Error("handler failed", "kind", kind, "id", id, "error", err)
	}
}
