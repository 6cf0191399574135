package application

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/internal/service/inventory/domain"
)

func TestDecrementAppliesWholeBatch(t *testing.T) {
	h := newHarness(t)
	h.seedStock(t, "s-1", map[string]int64{"a": 10, "b": 5})

	records, err := h.ledger.Decrement(context.Background(), "s-1", items("a", 4, "b", 5))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(6), records[0].AvailableQuantity)
	assert.Equal(t, int64(1), records[0].Version)
	assert.Equal(t, int64(0), records[1].AvailableQuantity)

	assert.Equal(t, int64(6), h.available(t, "a"))
	assert.Equal(t, int64(0), h.available(t, "b"))
}

func TestDecrementMergesDuplicateOptions(t *testing.T) {
	h := newHarness(t)
	h.seedStock(t, "s-1", map[string]int64{"a": 5})

	_, err := h.ledger.Decrement(context.Background(), "s-1", items("a", 3, "a", 3))
	require.ErrorIs(t, err, domain.ErrOutOfStock)
	assert.Equal(t, int64(5), h.available(t, "a"))
}

func TestDecrementRejectsBatchWithoutMutation(t *testing.T) {
	tests := []struct {
		name       string
		storeID    string
		batch      []domain.StockItem
		wantErr    error
		wantOption string
	}{
		{"out of stock names the option", "s-1", items("a", 2, "b", 9), domain.ErrOutOfStock, "b"},
		{"option of another store", "s-1", items("a", 1, "c", 1), domain.ErrStoreMismatch, "c"},
		{"unknown option", "s-1", items("a", 1, "zzz", 1), domain.ErrOptionNotFound, "zzz"},
		{"non positive quantity", "s-1", items("a", 0), domain.ErrInvalidQuantity, "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.seedStock(t, "s-1", map[string]int64{"a": 10, "b": 5})
			h.seedStock(t, "s-2", map[string]int64{"c": 10})

			_, err := h.ledger.Decrement(context.Background(), tt.storeID, tt.batch)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantOption, domain.OptionIDOf(err))

			assert.Equal(t, int64(10), h.available(t, "a"))
			assert.Equal(t, int64(5), h.available(t, "b"))
			assert.Equal(t, int64(10), h.available(t, "c"))
		})
	}
}

func TestDecrementConcurrentWithinAvailable(t *testing.T) {
	h := newHarness(t)
	h.seedStock(t, "s-1", map[string]int64{"a": 100})

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ledger.Decrement(context.Background(), "s-1", items("a", 5))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(0), h.available(t, "a"))
}

func TestDecrementConcurrentOversubscribed(t *testing.T) {
	h := newHarness(t)
	h.seedStock(t, "s-1", map[string]int64{"a": 100, "b": 1000})

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		rejected  atomic.Int64
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ledger.Decrement(context.Background(), "s-1", items("a", 5, "b", 1))
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrOutOfStock):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(20), succeeded.Load())
	assert.Equal(t, int64(10), rejected.Load())
	assert.Equal(t, int64(0), h.available(t, "a"))
	// 被拒绝的批次没有扣减 b
	assert.Equal(t, int64(1000-20), h.available(t, "b"))
}

// conflictingStocks 对指定规格值注入若干次版本冲突
type conflictingStocks struct {
	domain.StockRepository
	option    string
	conflicts atomic.Int32
	calls     atomic.Int32
}

func (c *conflictingStocks) DecrementIfVersion(ctx context.Context, optionID string, qty, version int64) error {
	if optionID == c.option {
		c.calls.Add(1)
		if c.conflicts.Add(-1) >= 0 {
			return domain.ErrVersionConflict
		}
	}
	return c.StockRepository.DecrementIfVersion(ctx, optionID, qty, version)
}

func TestDecrementRetriesVersionConflicts(t *testing.T) {
	h := newHarness(t)
	h.seedStock(t, "s-1", map[string]int64{"a": 10, "b": 10})

	stocks := &conflictingStocks{StockRepository: h.store.Stocks(), option: "b"}
	stocks.conflicts.Store(2)
	ledger := NewStockLedger(stocks, h.store, testLedgerOptions(), testTracer)

	_, err := ledger.Decrement(context.Background(), "s-1", items("a", 1, "b", 1))
	require.NoError(t, err)
	assert.Equal(t, int32(3), stocks.calls.Load())
	assert.Equal(t, int64(9), h.available(t, "a"))
	assert.Equal(t, int64(9), h.available(t, "b"))
}

func TestDecrementGivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	h.seedStock(t, "s-1", map[string]int64{"a": 10, "b": 10})

	stocks := &conflictingStocks{StockRepository: h.store.Stocks(), option: "b"}
	stocks.conflicts.Store(100)
	ledger := NewStockLedger(stocks, h.store, testLedgerOptions(), testTracer)

	_, err := ledger.Decrement(context.Background(), "s-1", items("a", 1, "b", 1))
	require.ErrorIs(t, err, domain.ErrConcurrentModification)
	assert.Equal(t, int32(3), stocks.calls.Load())
	// a 在每一轮事务里都被扣过，冲突后整批回滚
	assert.Equal(t, int64(10), h.available(t, "a"))
	assert.Equal(t, int64(10), h.available(t, "b"))
}

func TestRestoreAddsBackAndReportsMissingOption(t *testing.T) {
	h := newHarness(t)
	h.seedStock(t, "s-1", map[string]int64{"a": 1, "b": 2})

	err := h.ledger.Restore(context.Background(), "s-1", items("a", 4, "gone", 1, "b", 3))
	require.ErrorIs(t, err, domain.ErrOptionNotFound)
	assert.Equal(t, "gone", domain.OptionIDOf(err))
	assert.Equal(t, int64(5), h.available(t, "a"))
	assert.Equal(t, int64(5), h.available(t, "b"))
}

func TestProvision(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.ledger.Provision(ctx, "a", "s-1", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.AvailableQuantity)
	assert.Equal(t, int64(0), rec.Version)

	rec, err = h.ledger.Provision(ctx, "a", "s-1", 12)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, int64(12), h.available(t, "a"))

	_, err = h.ledger.Provision(ctx, "a", "s-2", 1)
	assert.ErrorIs(t, err, domain.ErrStoreMismatch)

	_, err = h.ledger.Provision(ctx, "b", "s-1", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}
