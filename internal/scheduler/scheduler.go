// Package scheduler implements the delay queue (C3): it holds
// PositionIntents whose activation time (`after`) is still in the future,
// rehydrating from the Store on startup, and yields each one back to the
// core event loop the instant its activation time arrives.
//
// The queue is owned by a single goroutine; every other component talks to
// it through bounded channels, never by touching the heap directly.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ordermanager/ordermanager/pkg/types"
)

const (
	scheduleChanDepth = 64
	dueChanDepth      = 64
)

// Store is the subset of *store.Store the scheduler needs; declared locally
// so this package doesn't import internal/store, and can be tested against
// a fake.
type Store interface {
	SaveScheduledIntent(ctx context.Context, intent types.ScheduledIntent) error
	ListScheduledIntents(ctx context.Context) ([]types.ScheduledIntent, error)
	DeleteScheduledIntent(ctx context.Context, id uuid.UUID) error
}

// Scheduler is the C3 delay queue.
type Scheduler struct {
	store  Store
	logger *slog.Logger

	scheduleCh chan types.ScheduledIntent
	dueCh      chan types.ScheduledIntent

	h   intentHeap
	seq uint64
}

// New constructs a Scheduler. Call Start to rehydrate and begin running.
func New(st Store, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:      st,
		logger:     logger.With("component", "scheduler"),
		scheduleCh: make(chan types.ScheduledIntent, scheduleChanDepth),
		dueCh:      make(chan types.ScheduledIntent, dueChanDepth),
	}
}

// Start loads every durable scheduled intent that has an activation time
// into the delay queue and begins the background run loop. Intents whose
// activation has already passed are delivered on dueCh as soon as the run
// loop starts, for replay through C4.
func (s *Scheduler) Start(ctx context.Context) error {
	stored, err := s.store.ListScheduledIntents(ctx)
	if err != nil {
		return fmt.Errorf("rehydrate scheduler: %w", err)
	}
	for _, intent := range stored {
		if intent.After == nil {
			s.logger.Warn("dropping stored scheduled intent with no activation time", "id", intent.ID)
			continue
		}
		s.push(intent)
	}
	go s.run(ctx)
	return nil
}

// Schedule persists intent and enqueues it for activation-time delivery.
func (s *Scheduler) Schedule(ctx context.Context, intent types.ScheduledIntent) error {
	if intent.After == nil {
		return fmt.Errorf("scheduler: intent %s has no activation time", intent.ID)
	}
	if err := s.store.SaveScheduledIntent(ctx, intent); err != nil {
		return fmt.Errorf("persist scheduled intent: %w", err)
	}
	select {
	case s.scheduleCh <- intent:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Due returns the channel of intents whose activation time has arrived.
func (s *Scheduler) Due() <-chan types.ScheduledIntent { return s.dueCh }

func (s *Scheduler) push(intent types.ScheduledIntent) {
	s.seq++
	heap.Push(&s.h, &item{intent: intent, seq: s.seq})
}

func (s *Scheduler) run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	s.resetTimer(timer)

	for {
		select {
		case <-ctx.Done():
			return
		case intent := <-s.scheduleCh:
			s.push(intent)
			s.resetTimer(timer)
		case <-timer.C:
			s.fireDue(ctx)
			s.resetTimer(timer)
		}
	}
}

// fireDue pops every item whose activation time has arrived and delivers it
// to dueCh, deleting its durable row first so a crash mid-delivery can't
// double-fire it.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := time.Now()
	for s.h.Len() > 0 && !s.h[0].activatesAt().After(now) {
		it := heap.Pop(&s.h).(*item)
		if err := s.store.DeleteScheduledIntent(ctx, it.intent.ID); err != nil {
			s.logger.Error("delete fired scheduled intent", "id", it.intent.ID, "error", err)
		}
		select {
		case s.dueCh <- it.intent:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) resetTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	if s.h.Len() == 0 {
		timer.Reset(time.Hour)
		return
	}
	wait := time.Until(s.h[0].activatesAt())
	if wait < 0 {
		wait = 0
	}
	timer.Reset(wait)
}
