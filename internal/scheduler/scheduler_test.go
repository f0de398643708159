package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ordermanager/ordermanager/pkg/types"
)

// fakeStore is an in-memory stand-in for the persistence layer, sufficient
// to exercise rehydration and delete-on-fire.
type fakeStore struct {
	mu    sync.Mutex
	saved map[uuid.UUID]types.ScheduledIntent
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[uuid.UUID]types.ScheduledIntent)}
}

func (f *fakeStore) SaveScheduledIntent(ctx context.Context, intent types.ScheduledIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[intent.ID] = intent
	return nil
}

func (f *fakeStore) ListScheduledIntents(ctx context.Context) ([]types.ScheduledIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.ScheduledIntent
	for _, intent := range f.saved {
		out = append(out, intent)
	}
	return out, nil
}

func (f *fakeStore) DeleteScheduledIntent(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, id)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerFiresAtActivationTime(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := newFakeStore()
	sched := New(st, testLogger())
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	after := time.Now().Add(50 * time.Millisecond)
	intent := types.ScheduledIntent{ID: uuid.New(), Strategy: "alpha", After: &after}
	if err := sched.Schedule(ctx, intent); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	select {
	case due := <-sched.Due():
		if due.ID != intent.ID {
			t.Fatalf("fired wrong intent: %+v", due)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for intent to fire")
	}

	st.mu.Lock()
	_, stillStored := st.saved[intent.ID]
	st.mu.Unlock()
	if stillStored {
		t.Fatal("fired intent should be deleted from the store")
	}
}

func TestSchedulerPreservesInsertionOrderForSameInstant(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := newFakeStore()
	sched := New(st, testLogger())
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	after := time.Now().Add(50 * time.Millisecond)
	first := types.ScheduledIntent{ID: uuid.New(), Strategy: "alpha", After: &after}
	second := types.ScheduledIntent{ID: uuid.New(), Strategy: "beta", After: &after}

	if err := sched.Schedule(ctx, first); err != nil {
		t.Fatalf("schedule first: %v", err)
	}
	if err := sched.Schedule(ctx, second); err != nil {
		t.Fatalf("schedule second: %v", err)
	}

	var fired []uuid.UUID
	for i := 0; i < 2; i++ {
		select {
		case due := <-sched.Due():
			fired = append(fired, due.ID)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for intents to fire")
		}
	}
	if fired[0] != first.ID || fired[1] != second.ID {
		t.Fatalf("fire order = %v, want [first, second]", fired)
	}
}

func TestSchedulerRehydratesFromStoreOnStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := newFakeStore()
	after := time.Now().Add(50 * time.Millisecond)
	intent := types.ScheduledIntent{ID: uuid.New(), Strategy: "alpha", After: &after}
	if err := st.SaveScheduledIntent(ctx, intent); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	sched := New(st, testLogger())
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case due := <-sched.Due():
		if due.ID != intent.ID {
			t.Fatalf("fired wrong intent: %+v", due)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for rehydrated intent to fire")
	}
}
