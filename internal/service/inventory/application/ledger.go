package application

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"marketplace/internal/pkg/logger"
	"marketplace/internal/pkg/metrics"
	"marketplace/internal/pkg/tracing"
	"marketplace/internal/service/inventory/domain"
)

// LedgerOptions 乐观锁重试参数
type LedgerOptions struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// StockLedger 持有规格值库存计数，是唯一允许写库存的组件。
// 同一进程内对同一规格值的扣减通过 keyedMutex 串行化；跨进程依赖 version 乐观锁。
type StockLedger struct {
	stocks domain.StockRepository
	tx     domain.Transactor
	locks  *keyedMutex
	opts   LedgerOptions
	tracer trace.Tracer
}

// NewStockLedger 创建库存账本
func NewStockLedger(stocks domain.StockRepository, tx domain.Transactor, opts LedgerOptions, tracer trace.Tracer) *StockLedger {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &StockLedger{
		stocks: stocks,
		tx:     tx,
		locks:  newKeyedMutex(),
		opts:   opts,
		tracer: tracer,
	}
}

// Decrement 批量扣减：整批校验通过后在一个事务里全部扣减，任一失败则全部不生效
func (l *StockLedger) Decrement(ctx context.Context, storeID string, items []domain.StockItem) ([]domain.StockRecord, error) {
	return l.DecrementThen(ctx, storeID, items, nil)
}

// DecrementThen 与 Decrement 相同，但在扣减所在的事务里继续执行 then；
// then 返回错误时扣减一并回滚，错误原样返回
func (l *StockLedger) DecrementThen(
	ctx context.Context,
	storeID string,
	items []domain.StockItem,
	then func(txCtx context.Context) error,
) ([]domain.StockRecord, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.Decrement")
	defer span.End()

	normalized, err := domain.NormalizeItems(items)
	if err != nil {
		return nil, tracing.Fail(span, err)
	}
	ids := optionIDs(normalized)
	span.SetAttributes(
		attribute.String("store.id", storeID),
		attribute.StringSlice("option.ids", ids),
	)

	unlock := l.locks.lockAll(ids)
	defer unlock()

	var (
		updated []domain.StockRecord
		attempt int
	)
	operation := func() error {
		attempt++
		records, err := l.tryDecrement(ctx, storeID, normalized, then)
		if err == nil {
			updated = records
			return nil
		}
		if errors.Is(err, domain.ErrVersionConflict) {
			metrics.VersionConflicts.Inc()
			logger.Ctx(ctx).Warn().Err(err).
				Str("store_id", storeID).
				Int("attempt", attempt).
				Msg("stock version conflict, retrying batch")
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(l.newBackOff(), uint64(l.opts.MaxAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			err = errors.Wrapf(domain.ErrConcurrentModification, "gave up after %d attempts", attempt)
		}
		return nil, tracing.Fail(span, err)
	}

	span.SetAttributes(attribute.Int("ledger.attempts", attempt))
	return updated, nil
}

// tryDecrement 执行一轮 读取-校验-提交
func (l *StockLedger) tryDecrement(
	ctx context.Context,
	storeID string,
	items []domain.StockItem,
	then func(txCtx context.Context) error,
) ([]domain.StockRecord, error) {
	records, err := l.stocks.FindByOptionIDs(ctx, optionIDs(items))
	if err != nil {
		return nil, err
	}

	// 先校验归属，再校验数量，全部通过才允许写
	for _, it := range items {
		rec, ok := records[it.OptionID]
		if !ok {
			return nil, domain.NewOptionError(domain.ErrOptionNotFound, it.OptionID, it.Quantity, 0)
		}
		if rec.StoreID != storeID {
			return nil, domain.NewOptionError(domain.ErrStoreMismatch, it.OptionID, it.Quantity, rec.AvailableQuantity)
		}
	}
	for _, it := range items {
		if err := records[it.OptionID].CheckDecrement(storeID, it.Quantity); err != nil {
			return nil, err
		}
	}

	err = l.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		for _, it := range items {
			if err := l.stocks.DecrementIfVersion(txCtx, it.OptionID, it.Quantity, records[it.OptionID].Version); err != nil {
				return err
			}
		}
		if then == nil {
			return nil
		}
		return then(txCtx)
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]domain.StockRecord, 0, len(items))
	for _, it := range items {
		rec := *records[it.OptionID]
		rec.AvailableQuantity -= it.Quantity
		rec.Version++
		rec.UpdatedAt = now
		out = append(out, rec)
	}
	return out, nil
}

// Restore 把数量加回库存。不存在的规格值记为 OPTION_NOT_FOUND，其余照常加回
func (l *StockLedger) Restore(ctx context.Context, storeID string, items []domain.StockItem) error {
	ctx, span := l.tracer.Start(ctx, "ledger.Restore")
	defer span.End()
	span.SetAttributes(attribute.String("store.id", storeID))

	normalized, err := domain.NormalizeItems(items)
	if err != nil {
		return tracing.Fail(span, err)
	}

	var missing error
	for _, it := range normalized {
		err := l.stocks.Increment(ctx, it.OptionID, it.Quantity)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrOptionNotFound):
			logger.Ctx(ctx).Error().
				Str("store_id", storeID).
				Str("option_id", it.OptionID).
				Int64("quantity", it.Quantity).
				Msg("cannot restore stock: option no longer exists")
			if missing == nil {
				missing = domain.NewOptionError(domain.ErrOptionNotFound, it.OptionID, it.Quantity, 0)
			}
		default:
			return tracing.Fail(span, errors.Wrapf(err, "restore option %s", it.OptionID))
		}
	}
	if missing != nil {
		return tracing.Fail(span, missing)
	}
	return nil
}

// Levels 读取当前库存，按 optionIDs 顺序返回存在的记录
func (l *StockLedger) Levels(ctx context.Context, optionIDs []string) ([]domain.StockRecord, error) {
	records, err := l.stocks.FindByOptionIDs(ctx, optionIDs)
	if err != nil {
		return nil, err
	}
	out := make([]domain.StockRecord, 0, len(optionIDs))
	for _, id := range optionIDs {
		if rec, ok := records[id]; ok {
			out = append(out, *rec)
		}
	}
	return out, nil
}

// Provision 新建或重置一个规格值的库存（运营补货入口）
func (l *StockLedger) Provision(ctx context.Context, optionID, storeID string, quantity int64) (*domain.StockRecord, error) {
	if optionID == "" || storeID == "" {
		return nil, errors.Wrap(domain.ErrInvalidRequest, "option_value_id and store_id are required")
	}
	if quantity < 0 {
		return nil, domain.NewOptionError(domain.ErrInvalidQuantity, optionID, quantity, 0)
	}

	unlock := l.locks.lockAll([]string{optionID})
	defer unlock()

	records, err := l.stocks.FindByOptionIDs(ctx, []string{optionID})
	if err != nil {
		return nil, err
	}
	rec := &domain.StockRecord{OptionID: optionID, StoreID: storeID}
	if existing, ok := records[optionID]; ok {
		if existing.StoreID != storeID {
			return nil, domain.NewOptionError(domain.ErrStoreMismatch, optionID, quantity, existing.AvailableQuantity)
		}
		rec.Version = existing.Version + 1
	}
	rec.AvailableQuantity = quantity
	rec.UpdatedAt = time.Now()
	if err := l.stocks.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (l *StockLedger) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.opts.InitialBackoff
	if b.InitialInterval <= 0 {
		b.InitialInterval = 10 * time.Millisecond
	}
	b.MaxInterval = l.opts.MaxBackoff
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func optionIDs(items []domain.StockItem) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.OptionID)
	}
	return ids
}
