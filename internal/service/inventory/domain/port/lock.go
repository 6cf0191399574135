package port

import (
	"context"
	"errors"
)

// ErrLockNotAcquired 表示另一个实例正在执行同一任务。
var ErrLockNotAcquired = errors.New("sweep lock held by another instance")

// SweepLocker 保证多实例部署时同一时刻只有一个实例在对账。
type SweepLocker interface {
	// TryAcquire 不阻塞；拿不到锁时返回 ErrLockNotAcquired
	TryAcquire(ctx context.Context) (release func(), err error)
}
