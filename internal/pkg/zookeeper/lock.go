// internal/pkg/zookeeper/lock.go
package zookeeper

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

const lockRoot = "/distributed_locks" // 所有分布式锁的根节点

// ErrLockHeld 表示锁已被其他实例持有
var ErrLockHeld = errors.New("zookeeper lock is held by another session")

// Conn 是锁实现用到的 zk 操作子集，*zk.Conn 满足该接口
type Conn interface {
	Exists(path string) (bool, *zk.Stat, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	CreateProtectedEphemeralSequential(path string, data []byte, acl []zk.ACL) (string, error)
	Children(path string) ([]string, *zk.Stat, error)
	Delete(path string, version int32) error
}

// Connect 建立 zk 会话，并等待首次连接成功
func Connect(servers []string, sessionTimeout time.Duration) (*zk.Conn, error) {
	conn, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("failed to connect zookeeper %v: %w", servers, err)
	}
	deadline := time.After(sessionTimeout)
	for {
		select {
		case ev := <-events:
			if ev.State == zk.StateHasSession {
				return conn, nil
			}
		case <-deadline:
			conn.Close()
			return nil, fmt.Errorf("timeout establishing zookeeper session with %v", servers)
		}
	}
}

// DistributedLock 基于临时顺序节点的分布式锁
type DistributedLock struct {
	conn     Conn
	path     string // 锁路径，例如 /distributed_locks/reservation-sweep
	lockNode string // 成功加锁后自己创建的节点
}

// NewDistributedLock 创建锁实例，并确保锁路径存在
func NewDistributedLock(conn Conn, resourceID string) (*DistributedLock, error) {
	lockPath := lockRoot + "/" + resourceID
	for _, p := range []string{lockRoot, lockPath} {
		exists, _, err := conn.Exists(p)
		if err != nil {
			return nil, fmt.Errorf("failed to check lock node %s: %w", p, err)
		}
		if exists {
			continue
		}
		if _, err := conn.Create(p, []byte(""), 0, zk.WorldACL(zk.PermAll)); err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return nil, fmt.Errorf("failed to create lock node %s: %w", p, err)
		}
	}
	return &DistributedLock{conn: conn, path: lockPath}, nil
}

// TryLock 尝试一次加锁，前面有等待者时立即返回 ErrLockHeld
func (l *DistributedLock) TryLock() error {
	if err := l.enqueue(); err != nil {
		return err
	}
	prev, err := l.predecessor()
	if err != nil {
		l.abandon()
		return err
	}
	if prev != "" {
		l.abandon()
		return ErrLockHeld
	}
	return nil
}

// Unlock 释放锁
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	l.lockNode = ""
	return nil
}

func (l *DistributedLock) enqueue() error {
	if l.lockNode != "" {
		return errors.New("lock already acquired by this instance")
	}
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("failed to create sequential node: %w", err)
	}
	l.lockNode = nodePath
	return nil
}

// predecessor 返回排在自己前面的节点名，自己最小时返回空串
func (l *DistributedLock) predecessor() (string, error) {
	children, _, err := l.conn.Children(l.path)
	if err != nil {
		return "", fmt.Errorf("failed to get children nodes: %w", err)
	}
	// protected 节点带有 _c_<guid>- 前缀，按序号排序
	sort.Slice(children, func(i, j int) bool { return sequenceOf(children[i]) < sequenceOf(children[j]) })

	me := strings.TrimPrefix(l.lockNode, l.path+"/")
	for i, child := range children {
		if child == me {
			if i == 0 {
				return "", nil
			}
			return children[i-1], nil
		}
	}
	return "", errors.New("own lock node disappeared, session may have expired")
}

func (l *DistributedLock) abandon() {
	if l.lockNode != "" {
		_ = l.conn.Delete(l.lockNode, -1)
		l.lockNode = ""
	}
}

func sequenceOf(node string) string {
	if idx := strings.LastIndex(node, "lock-"); idx >= 0 {
		return node[idx+len("lock-"):]
	}
	return node
}
