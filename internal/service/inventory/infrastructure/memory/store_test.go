package memory

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/internal/service/inventory/domain"
)

func TestWithinTransactionRollsBackOnError(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.Stocks().Save(ctx, &domain.StockRecord{OptionID: "a", StoreID: "s-1", AvailableQuantity: 5}))

	err := store.WithinTransaction(ctx, func(txCtx context.Context) error {
		require.NoError(t, store.Stocks().DecrementIfVersion(txCtx, "a", 2, 0))
		require.NoError(t, store.Reservations().Create(txCtx, domain.NewReservation("o-1", "s-1", nil, time.Now())))
		return errors.New("abort")
	})
	require.Error(t, err)

	records, err := store.Stocks().FindByOptionIDs(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), records["a"].AvailableQuantity)
	assert.Equal(t, int64(0), records["a"].Version)
	_, err = store.Reservations().FindByID(ctx, "o-1")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
}

func TestDecrementIfVersion(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.Stocks().Save(ctx, &domain.StockRecord{OptionID: "a", StoreID: "s-1", AvailableQuantity: 5, Version: 3}))

	assert.ErrorIs(t, store.Stocks().DecrementIfVersion(ctx, "a", 1, 2), domain.ErrVersionConflict)
	assert.ErrorIs(t, store.Stocks().DecrementIfVersion(ctx, "a", 6, 3), domain.ErrVersionConflict)
	require.NoError(t, store.Stocks().DecrementIfVersion(ctx, "a", 5, 3))
	assert.ErrorIs(t, store.Stocks().Increment(ctx, "missing", 1), domain.ErrOptionNotFound)
}

func TestReservationQueries(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := store.Reservations()

	require.NoError(t, repo.Create(ctx, domain.NewReservation("o-2", "s-1", nil, base.Add(2*time.Minute))))
	require.NoError(t, repo.Create(ctx, domain.NewReservation("o-1", "s-1", nil, base.Add(time.Minute))))
	require.NoError(t, repo.Create(ctx, domain.NewReservation("o-3", "s-2", nil, base.Add(3*time.Minute))))
	assert.ErrorIs(t, repo.Create(ctx, domain.NewReservation("o-1", "s-1", nil, base)), domain.ErrReservationExists)

	ok, err := repo.CompareAndSetState(ctx, "o-2", domain.StatePending, domain.StateConfirmed, base)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.CompareAndSetState(ctx, "o-2", domain.StatePending, domain.StateFailed, base)
	require.NoError(t, err)
	assert.False(t, ok)

	stale, err := repo.FindStale(ctx, base.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, "o-1", stale[0].ID)
	assert.Equal(t, "o-3", stale[1].ID)

	pending, err := repo.FindPendingByStore(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "o-1", pending[0].ID)
}
