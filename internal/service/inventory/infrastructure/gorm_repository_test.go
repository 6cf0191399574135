package infrastructure

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"marketplace/internal/service/inventory/domain"
)

// newMockDB 返回挂在 sqlmock 上的 gorm 连接，关闭默认事务以便逐条断言 SQL
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return db, mock
}

func TestGormStockRepositoryDecrementIfVersion(t *testing.T) {
	decrementSQL := regexp.QuoteMeta("UPDATE `option_stock` SET `available_quantity`=available_quantity - ?,`updated_at`=?,`version`=version + 1 " +
		"WHERE option_id = ? AND version = ? AND available_quantity >= ?")

	t.Run("version matches", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(decrementSQL).
			WithArgs(int64(4), sqlmock.AnyArg(), "opt-1", int64(3), int64(4)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := NewGormStockRepository(db).DecrementIfVersion(context.Background(), "opt-1", 4, 3)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no row matched is a version conflict", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(decrementSQL).
			WithArgs(int64(4), sqlmock.AnyArg(), "opt-1", int64(2), int64(4)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := NewGormStockRepository(db).DecrementIfVersion(context.Background(), "opt-1", 4, 2)
		assert.ErrorIs(t, err, domain.ErrVersionConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("driver error is wrapped", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(decrementSQL).WillReturnError(errors.New("connection reset"))

		err := NewGormStockRepository(db).DecrementIfVersion(context.Background(), "opt-1", 4, 3)
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrVersionConflict)
		assert.Contains(t, err.Error(), "decrement option opt-1")
	})
}

func TestGormStockRepositoryIncrementMissingOption(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `option_stock` SET `available_quantity`=available_quantity + ?")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewGormStockRepository(db).Increment(context.Background(), "gone", 2)
	assert.ErrorIs(t, err, domain.ErrOptionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormReservationRepositoryCompareAndSetState(t *testing.T) {
	casSQL := regexp.QuoteMeta("UPDATE `stock_reservation` SET `state`=?,`updated_at`=? WHERE id = ? AND state = ?")
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "pending row transitions", affected: 1, want: true},
		{name: "already moved by another path", affected: 0, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectExec(casSQL).
				WithArgs(string(domain.StateRolledBack), at, "o-1", string(domain.StatePending)).
				WillReturnResult(sqlmock.NewResult(0, tc.affected))

			ok, err := NewGormReservationRepository(db).CompareAndSetState(context.Background(), "o-1", domain.StatePending, domain.StateRolledBack, at)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGormReservationRepositoryCreateDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `stock_reservation`")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'o-1' for key 'PRIMARY'"})

	res := domain.NewReservation("o-1", "s-1", []domain.StockItem{{OptionID: "a", Quantity: 2}}, time.Now())
	err := NewGormReservationRepository(db).Create(context.Background(), res)
	assert.ErrorIs(t, err, domain.ErrReservationExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormReservationRepositoryFindByID(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("decodes items column", func(t *testing.T) {
		db, mock := newMockDB(t)
		rows := sqlmock.NewRows([]string{"id", "store_id", "items", "state", "created_at", "updated_at"}).
			AddRow("o-1", "s-1", []byte(`[{"option_value_id":"a","quantity":2}]`), "PENDING", created, created)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `stock_reservation` WHERE id = ?")).WillReturnRows(rows)

		res, err := NewGormReservationRepository(db).FindByID(context.Background(), "o-1")
		require.NoError(t, err)
		assert.Equal(t, "s-1", res.StoreID)
		assert.Equal(t, domain.StatePending, res.State)
		require.Len(t, res.Items, 1)
		assert.Equal(t, domain.StockItem{OptionID: "a", Quantity: 2}, res.Items[0])
	})

	t.Run("missing row", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `stock_reservation` WHERE id = ?")).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := NewGormReservationRepository(db).FindByID(context.Background(), "o-404")
		assert.ErrorIs(t, err, domain.ErrReservationNotFound)
	})
}

func TestGormDeliveryPolicyRepositorySoftDelete(t *testing.T) {
	t.Run("delete marks row and records operator", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec("UPDATE `delivery_policy` SET .*`deleted_by`=.* WHERE store_id = \\? AND `delivery_policy`.`deleted_at` IS NULL").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, NewGormDeliveryPolicyRepository(db).DeleteByStore(context.Background(), "s-1", "ops"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delete of unknown store", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec("UPDATE `delivery_policy` SET").WillReturnResult(sqlmock.NewResult(0, 0))

		err := NewGormDeliveryPolicyRepository(db).DeleteByStore(context.Background(), "s-x", "ops")
		assert.ErrorIs(t, err, domain.ErrPolicyNotFound)
	})

	t.Run("deleted policy is not found", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `delivery_policy` WHERE store_id = ? AND `delivery_policy`.`deleted_at` IS NULL")).
			WillReturnRows(sqlmock.NewRows([]string{"id", "store_id"}))

		_, err := NewGormDeliveryPolicyRepository(db).FindByStore(context.Background(), "s-1")
		assert.ErrorIs(t, err, domain.ErrPolicyNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("save upserts and clears deletion", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec("INSERT INTO `delivery_policy` .* ON DUPLICATE KEY UPDATE .*`deleted_at`=.*`deleted_by`=").
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := NewGormDeliveryPolicyRepository(db).Save(context.Background(), &domain.DeliveryPolicy{
			StoreID: "s-1", DefaultFee: 3000, MinQuantityThreshold: 10, MinAmountThreshold: 50000,
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormTransactorRollsBackDecrementWhenInsertFails(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `option_stock` SET")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `stock_reservation`")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()

	stocks := NewGormStockRepository(db)
	reservations := NewGormReservationRepository(db)
	tx := NewGormTransactor(db)

	err := tx.WithinTransaction(context.Background(), func(txCtx context.Context) error {
		if err := stocks.DecrementIfVersion(txCtx, "a", 1, 0); err != nil {
			return err
		}
		// 嵌套调用复用外层事务
		return tx.WithinTransaction(txCtx, func(inner context.Context) error {
			return reservations.Create(inner, domain.NewReservation("o-1", "s-1", nil, time.Now()))
		})
	})
	assert.ErrorIs(t, err, domain.ErrReservationExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}
