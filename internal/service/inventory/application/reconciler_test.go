package application

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/internal/service/inventory/domain"
	"marketplace/internal/service/inventory/domain/port"
)

func TestRunOnceFailsOnlyStaleReservations(t *testing.T) {
	h := newHarness(t)
	h.seedStock(t, "s-1", map[string]int64{"a": 20})
	h.seedPolicy(t, "s-1")

	reserve(t, h, "old", items("a", 5))
	h.clock.Advance(10 * time.Minute)
	reserve(t, h, "fresh", items("a", 3))
	reserve(t, h, "confirmed", items("a", 2))
	_, err := h.coordinator.Confirm(context.Background(), &ConfirmCommand{ReservationID: "confirmed"})
	require.NoError(t, err)
	h.clock.Advance(6 * time.Minute)

	report, err := h.reconciler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Scanned: 1, Failed: 1}, report)

	assert.Equal(t, domain.StateFailed, h.state(t, "old"))
	assert.Equal(t, domain.StatePending, h.state(t, "fresh"))
	assert.Equal(t, domain.StateConfirmed, h.state(t, "confirmed"))
	assert.Equal(t, int64(20-3-2), h.available(t, "a"))
	assert.Contains(t, h.publisher.states(), domain.StateFailed)

	// 第二轮不会重复释放
	report, err = h.reconciler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, int64(15), h.available(t, "a"))
}

func TestRunOnceRespectsBatchSize(t *testing.T) {
	h := newHarness(t)
	h.seedStock(t, "s-1", map[string]int64{"a": 100})
	h.seedPolicy(t, "s-1")
	for _, id := range []string{"o-1", "o-2", "o-3"} {
		reserve(t, h, id, items("a", 1))
		h.clock.Advance(time.Second)
	}
	h.clock.Advance(time.Hour)
	h.reconciler.opts.BatchSize = 2

	report, err := h.reconciler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, domain.StateFailed, h.state(t, "o-1"))
	assert.Equal(t, domain.StateFailed, h.state(t, "o-2"))
	assert.Equal(t, domain.StatePending, h.state(t, "o-3"))
}

// blockingLocker 在 TryAcquire 中阻塞，直到测试放行
type blockingLocker struct {
	entered chan struct{}
	proceed chan struct{}
}

func (l *blockingLocker) TryAcquire(context.Context) (func(), error) {
	close(l.entered)
	<-l.proceed
	return func() {}, nil
}

func TestRunOnceSkipsWhileSweepRunning(t *testing.T) {
	h := newHarness(t)
	locker := &blockingLocker{entered: make(chan struct{}), proceed: make(chan struct{})}
	h.reconciler.locker = locker

	done := make(chan error, 1)
	go func() {
		_, err := h.reconciler.RunOnce(context.Background())
		done <- err
	}()
	<-locker.entered

	_, err := h.reconciler.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrSweepInProgress)

	close(locker.proceed)
	require.NoError(t, <-done)
}

type stubLocker struct {
	err      error
	released bool
}

func (l *stubLocker) TryAcquire(context.Context) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	return func() { l.released = true }, nil
}

func TestRunOnceWithSweepLock(t *testing.T) {
	h := newHarness(t)
	h.seedStock(t, "s-1", map[string]int64{"a": 10})
	h.seedPolicy(t, "s-1")
	reserve(t, h, "o-1", items("a", 1))
	h.clock.Advance(time.Hour)

	held := &stubLocker{err: port.ErrLockNotAcquired}
	h.reconciler.locker = held
	_, err := h.reconciler.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrSweepInProgress)
	assert.Equal(t, domain.StatePending, h.state(t, "o-1"))

	broken := &stubLocker{err: errors.New("zk session expired")}
	h.reconciler.locker = broken
	_, err = h.reconciler.RunOnce(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSweepInProgress)

	free := &stubLocker{}
	h.reconciler.locker = free
	report, err := h.reconciler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.True(t, free.released)
}

func TestReconcilerStartStop(t *testing.T) {
	h := newHarness(t)
	h.seedStock(t, "s-1", map[string]int64{"a": 10})
	h.seedPolicy(t, "s-1")
	reserve(t, h, "o-1", items("a", 4))
	h.clock.Advance(time.Hour)
	h.reconciler.opts.Interval = 5 * time.Millisecond

	h.reconciler.Start(context.Background())
	assert.Eventually(t, func() bool {
		res, err := h.store.Reservations().FindByID(context.Background(), "o-1")
		return err == nil && res.State == domain.StateFailed
	}, time.Second, 5*time.Millisecond)
	h.reconciler.Stop()
	h.reconciler.Stop()

	assert.Equal(t, int64(10), h.available(t, "a"))
}
