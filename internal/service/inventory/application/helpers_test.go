package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"marketplace/internal/service/inventory/domain"
	"marketplace/internal/service/inventory/infrastructure/memory"
)

var testTracer = noop.NewTracerProvider().Tracer("test")

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingPublisher 记录发布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.ReservationEvent
}

func (p *recordingPublisher) PublishReservationEvent(_ context.Context, e *domain.ReservationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) states() []domain.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.State, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.State)
	}
	return out
}

type harness struct {
	store       *memory.Store
	clock       *fakeClock
	publisher   *recordingPublisher
	ledger      *StockLedger
	delivery    *DeliveryPolicyResolver
	coordinator *ReservationCoordinator
	reconciler  *StaleReservationReconciler
}

func testLedgerOptions() LedgerOptions {
	return LedgerOptions{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.NewStore()
	clock := newFakeClock()
	publisher := &recordingPublisher{}

	ledger := NewStockLedger(store.Stocks(), store, testLedgerOptions(), testTracer)
	delivery := NewDeliveryPolicyResolver(store.Policies(), testTracer)
	coordinator := NewReservationCoordinator(ledger, store.Reservations(), delivery, store, publisher, testTracer)
	coordinator.clock = clock.Now
	reconciler := NewStaleReservationReconciler(ledger, store.Reservations(), store, publisher, nil, ReconcilerOptions{
		Interval:        time.Minute,
		StalenessWindow: 15 * time.Minute,
		BatchSize:       50,
	}, testTracer)
	reconciler.clock = clock.Now

	return &harness{
		store:       store,
		clock:       clock,
		publisher:   publisher,
		ledger:      ledger,
		delivery:    delivery,
		coordinator: coordinator,
		reconciler:  reconciler,
	}
}

func (h *harness) seedStock(t *testing.T, storeID string, quantities map[string]int64) {
	t.Helper()
	for optionID, qty := range quantities {
		require.NoError(t, h.store.Stocks().Save(context.Background(), &domain.StockRecord{
			OptionID: optionID, StoreID: storeID, AvailableQuantity: qty,
		}))
	}
}

func (h *harness) seedPolicy(t *testing.T, storeID string) {
	t.Helper()
	require.NoError(t, h.store.Policies().Save(context.Background(), &domain.DeliveryPolicy{
		StoreID: storeID, DefaultFee: 3000, MinQuantityThreshold: 10, MinAmountThreshold: 50000,
	}))
}

func (h *harness) available(t *testing.T, optionID string) int64 {
	t.Helper()
	records, err := h.store.Stocks().FindByOptionIDs(context.Background(), []string{optionID})
	require.NoError(t, err)
	rec, ok := records[optionID]
	require.True(t, ok, "option %s missing", optionID)
	return rec.AvailableQuantity
}

func (h *harness) state(t *testing.T, reservationID string) domain.State {
	t.Helper()
	res, err := h.store.Reservations().FindByID(context.Background(), reservationID)
	require.NoError(t, err)
	return res.State
}

func items(pairs ...interface{}) []domain.StockItem {
	var out []domain.StockItem
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, domain.StockItem{OptionID: pairs[i].(string), Quantity: int64(pairs[i+1].(int))})
	}
	return out
}
