package application

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"marketplace/internal/pkg/logger"
	"marketplace/internal/pkg/metrics"
	"marketplace/internal/pkg/tracing"
	"marketplace/internal/service/inventory/domain"
	"marketplace/internal/service/inventory/domain/port"
)

// ErrSweepInProgress 上一轮对账尚未结束（本进程或其他实例）
var ErrSweepInProgress = errors.New("reconciler sweep already in progress")

// ReconcilerOptions 对账任务参数
type ReconcilerOptions struct {
	Interval        time.Duration
	StalenessWindow time.Duration
	BatchSize       int
}

// StaleReservationReconciler 定期把超时未结束的 PENDING 预占单置为 FAILED 并释放库存
type StaleReservationReconciler struct {
	reservations domain.ReservationRepository
	releaser     *stockReleaser
	locker       port.SweepLocker // 可为 nil
	opts         ReconcilerOptions
	tracer       trace.Tracer
	clock        func() time.Time

	running  atomic.Bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewStaleReservationReconciler 创建对账任务；locker 为 nil 时只做进程内互斥
func NewStaleReservationReconciler(
	ledger *StockLedger,
	reservations domain.ReservationRepository,
	tx domain.Transactor,
	publisher port.ReservationEventPublisher,
	locker port.SweepLocker,
	opts ReconcilerOptions,
	tracer trace.Tracer,
) *StaleReservationReconciler {
	if publisher == nil {
		publisher = port.NopPublisher{}
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 100
	}
	r := &StaleReservationReconciler{
		reservations: reservations,
		locker:       locker,
		opts:         opts,
		tracer:       tracer,
		clock:        time.Now,
		stopChan:     make(chan struct{}),
	}
	r.releaser = &stockReleaser{
		tx:           tx,
		reservations: reservations,
		ledger:       ledger,
		publisher:    publisher,
		clock:        func() time.Time { return r.clock() },
	}
	return r
}

// Start 启动固定间隔的后台对账循环
func (r *StaleReservationReconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.opts.Interval)
		defer ticker.Stop()
		logger.Ctx(ctx).Info().
			Dur("interval", r.opts.Interval).
			Dur("staleness_window", r.opts.StalenessWindow).
			Msg("✅ Stale reservation reconciler started.")
		for {
			select {
			case <-ticker.C:
				if _, err := r.RunOnce(ctx); err != nil {
					if errors.Is(err, ErrSweepInProgress) {
						logger.Ctx(ctx).Debug().Msg("previous sweep still running, tick skipped")
						continue
					}
					logger.Ctx(ctx).Error().Err(err).Msg("reconciler sweep failed")
				}
			case <-r.stopChan:
				logger.Ctx(ctx).Info().Msg("🛑 Stale reservation reconciler stopped.")
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop 停止后台循环并等待当前一轮结束
func (r *StaleReservationReconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()
}

// RunOnce 执行一轮对账。上一轮未结束时直接返回 ErrSweepInProgress，不会并发执行
func (r *StaleReservationReconciler) RunOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	if !r.running.CompareAndSwap(false, true) {
		metrics.ReconcilerSweeps.WithLabelValues("skipped").Inc()
		return report, ErrSweepInProgress
	}
	defer r.running.Store(false)

	if r.locker != nil {
		release, err := r.locker.TryAcquire(ctx)
		if err != nil {
			if errors.Is(err, port.ErrLockNotAcquired) {
				metrics.ReconcilerSweeps.WithLabelValues("skipped").Inc()
				return report, errors.Wrap(ErrSweepInProgress, err.Error())
			}
			metrics.ReconcilerSweeps.WithLabelValues("error").Inc()
			return report, errors.Wrap(err, "acquire sweep lock")
		}
		defer release()
	}

	ctx, span := r.tracer.Start(ctx, "reconciler.Sweep")
	defer span.End()
	started := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(started).Seconds()) }()

	cutoff := r.clock().Add(-r.opts.StalenessWindow)
	stale, err := r.reservations.FindStale(ctx, cutoff, r.opts.BatchSize)
	if err != nil {
		metrics.ReconcilerSweeps.WithLabelValues("error").Inc()
		return report, tracing.Fail(span, errors.Wrap(err, "find stale reservations"))
	}
	report.Scanned = len(stale)

	for _, res := range stale {
		if ctx.Err() != nil {
			break
		}
		applied, err := r.releaser.release(ctx, res, domain.StateFailed)
		switch {
		case err != nil:
			// 留到下一轮
			report.Errors++
			logger.Ctx(ctx).Error().Err(err).Str("reservation_id", res.ID).Msg("failed to release stale reservation")
		case !applied:
			report.Skipped++
		default:
			report.Failed++
			metrics.ReconcilerReleased.Inc()
			r.releaser.publish(ctx, res, domain.StateFailed, "stale")
			logger.Ctx(ctx).Info().
				Str("reservation_id", res.ID).
				Str("store_id", res.StoreID).
				Time("created_at", res.CreatedAt).
				Msg("stale reservation failed, stock released")
		}
	}

	span.SetAttributes(
		attribute.Int("sweep.scanned", report.Scanned),
		attribute.Int("sweep.failed", report.Failed),
		attribute.Int("sweep.skipped", report.Skipped),
		attribute.Int("sweep.errors", report.Errors),
	)
	metrics.ReconcilerSweeps.WithLabelValues("completed").Inc()
	if report.Scanned > 0 {
		logger.Ctx(ctx).Info().Interface("report", report).Msg("reconciler sweep finished")
	}
	return report, nil
}
