// Package memory 提供进程内的仓储实现，用于 storage.driver=memory 和测试。
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"marketplace/internal/service/inventory/domain"
)

type txKey struct{}

// Store 用一把锁保护全部数据；WithinTransaction 持锁执行，出错时回滚到快照
type Store struct {
	mu           sync.Mutex
	stocks       map[string]domain.StockRecord
	reservations map[string]domain.Reservation
	policies     map[string]domain.DeliveryPolicy
}

func NewStore() *Store {
	return &Store{
		stocks:       make(map[string]domain.StockRecord),
		reservations: make(map[string]domain.Reservation),
		policies:     make(map[string]domain.DeliveryPolicy),
	}
}

// WithinTransaction 实现 domain.Transactor
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.stocks, s.reservations, s.policies = snapshot.stocks, snapshot.reservations, snapshot.policies
		return err
	}
	return nil
}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*Store)
	return ok
}

// lock 在事务外加锁；事务内已经持有锁
func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type dataSnapshot struct {
	stocks       map[string]domain.StockRecord
	reservations map[string]domain.Reservation
	policies     map[string]domain.DeliveryPolicy
}

func (s *Store) snapshot() dataSnapshot {
	snap := dataSnapshot{
		stocks:       make(map[string]domain.StockRecord, len(s.stocks)),
		reservations: make(map[string]domain.Reservation, len(s.reservations)),
		policies:     make(map[string]domain.DeliveryPolicy, len(s.policies)),
	}
	for k, v := range s.stocks {
		snap.stocks[k] = v
	}
	for k, v := range s.reservations {
		snap.reservations[k] = v
	}
	for k, v := range s.policies {
		snap.policies[k] = v
	}
	return snap
}

// ---- StockRepository ----

// Stocks 返回基于该 Store 的库存仓储
func (s *Store) Stocks() *StockRepository { return &StockRepository{s: s} }

type StockRepository struct{ s *Store }

func (r *StockRepository) FindByOptionIDs(ctx context.Context, optionIDs []string) (map[string]*domain.StockRecord, error) {
	defer r.s.lock(ctx)()
	out := make(map[string]*domain.StockRecord, len(optionIDs))
	for _, id := range optionIDs {
		if rec, ok := r.s.stocks[id]; ok {
			rec := rec
			out[id] = &rec
		}
	}
	return out, nil
}

func (r *StockRepository) DecrementIfVersion(ctx context.Context, optionID string, qty, expectedVersion int64) error {
	defer r.s.lock(ctx)()
	rec, ok := r.s.stocks[optionID]
	if !ok || rec.Version != expectedVersion || rec.AvailableQuantity < qty {
		return domain.ErrVersionConflict
	}
	rec.AvailableQuantity -= qty
	rec.Version++
	rec.UpdatedAt = time.Now()
	r.s.stocks[optionID] = rec
	return nil
}

func (r *StockRepository) Increment(ctx context.Context, optionID string, qty int64) error {
	defer r.s.lock(ctx)()
	rec, ok := r.s.stocks[optionID]
	if !ok {
		return domain.ErrOptionNotFound
	}
	rec.AvailableQuantity += qty
	rec.Version++
	rec.UpdatedAt = time.Now()
	r.s.stocks[optionID] = rec
	return nil
}

func (r *StockRepository) Save(ctx context.Context, record *domain.StockRecord) error {
	defer r.s.lock(ctx)()
	r.s.stocks[record.OptionID] = *record
	return nil
}

// Delete 删除规格值库存，模拟商品下架
func (r *StockRepository) Delete(ctx context.Context, optionID string) {
	defer r.s.lock(ctx)()
	delete(r.s.stocks, optionID)
}

// ---- ReservationRepository ----

func (s *Store) Reservations() *ReservationRepository { return &ReservationRepository{s: s} }

type ReservationRepository struct{ s *Store }

func (r *ReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.reservations[res.ID]; ok {
		return domain.ErrReservationExists
	}
	r.s.reservations[res.ID] = cloneReservation(*res)
	return nil
}

func (r *ReservationRepository) FindByID(ctx context.Context, id string) (*domain.Reservation, error) {
	defer r.s.lock(ctx)()
	res, ok := r.s.reservations[id]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	out := cloneReservation(res)
	return &out, nil
}

func (r *ReservationRepository) CompareAndSetState(ctx context.Context, id string, from, to domain.State, at time.Time) (bool, error) {
	defer r.s.lock(ctx)()
	res, ok := r.s.reservations[id]
	if !ok {
		return false, domain.ErrReservationNotFound
	}
	if res.State != from {
		return false, nil
	}
	res.State = to
	res.UpdatedAt = at
	r.s.reservations[id] = res
	return true, nil
}

func (r *ReservationRepository) FindStale(ctx context.Context, before time.Time, limit int) ([]*domain.Reservation, error) {
	defer r.s.lock(ctx)()
	var out []*domain.Reservation
	for _, res := range r.s.reservations {
		if res.State == domain.StatePending && res.CreatedAt.Before(before) {
			c := cloneReservation(res)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ReservationRepository) FindPendingByStore(ctx context.Context, storeID string) ([]*domain.Reservation, error) {
	defer r.s.lock(ctx)()
	var out []*domain.Reservation
	for _, res := range r.s.reservations {
		if res.State == domain.StatePending && res.StoreID == storeID {
			c := cloneReservation(res)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func cloneReservation(res domain.Reservation) domain.Reservation {
	res.Items = append([]domain.StockItem(nil), res.Items...)
	return res
}

// ---- DeliveryPolicyRepository ----

func (s *Store) Policies() *DeliveryPolicyRepository { return &DeliveryPolicyRepository{s: s} }

type DeliveryPolicyRepository struct{ s *Store }

func (r *DeliveryPolicyRepository) FindByStore(ctx context.Context, storeID string) (*domain.DeliveryPolicy, error) {
	defer r.s.lock(ctx)()
	p, ok := r.s.policies[storeID]
	if !ok {
		return nil, domain.ErrPolicyNotFound
	}
	return &p, nil
}

func (r *DeliveryPolicyRepository) Save(ctx context.Context, policy *domain.DeliveryPolicy) error {
	defer r.s.lock(ctx)()
	r.s.policies[policy.StoreID] = *policy
	return nil
}

func (r *DeliveryPolicyRepository) DeleteByStore(ctx context.Context, storeID, _ string) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.policies[storeID]; !ok {
		return domain.ErrPolicyNotFound
	}
	delete(r.s.policies, storeID)
	return nil
}
