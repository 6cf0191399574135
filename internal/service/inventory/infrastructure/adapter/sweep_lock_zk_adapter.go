package adapter

import (
	"context"
	"errors"

	"marketplace/internal/pkg/zookeeper"
	"marketplace/internal/service/inventory/domain/port"
)

const sweepLockResource = "inventory-reservation-sweep"

// SweepLockZKAdapter 实现了 port.SweepLocker，多实例部署时只有一个实例执行对账
type SweepLockZKAdapter struct {
	conn zookeeper.Conn
}

func NewSweepLockZKAdapter(conn zookeeper.Conn) *SweepLockZKAdapter {
	return &SweepLockZKAdapter{conn: conn}
}

// TryAcquire 非阻塞加锁，锁被占用时返回 port.ErrLockNotAcquired
func (a *SweepLockZKAdapter) TryAcquire(ctx context.Context) (func(), error) {
	lock, err := zookeeper.NewDistributedLock(a.conn, sweepLockResource)
	if err != nil {
		return nil, err
	}
	if err := lock.TryLock(); err != nil {
		if errors.Is(err, zookeeper.ErrLockHeld) {
			return nil, port.ErrLockNotAcquired
		}
		return nil, err
	}
	return func() { _ = lock.Unlock() }, nil
}
