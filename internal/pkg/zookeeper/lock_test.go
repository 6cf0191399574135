package zookeeper

import (
	"fmt"
	"path"
	"strings"
	"sync"
	"testing"

	"github.com/go-zookeeper/zk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memConn 是内存版 zk，只实现锁用到的操作
type memConn struct {
	mu    sync.Mutex
	nodes map[string]bool
	seq   int
}

func newMemConn() *memConn {
	return &memConn{nodes: map[string]bool{"/": true}}
}

func (c *memConn) Exists(p string) (bool, *zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes[p], &zk.Stat{}, nil
}

func (c *memConn) Create(p string, _ []byte, _ int32, _ []zk.ACL) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nodes[p] {
		return "", zk.ErrNodeExists
	}
	c.nodes[p] = true
	return p, nil
}

func (c *memConn) CreateProtectedEphemeralSequential(p string, _ []byte, _ []zk.ACL) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	dir, prefix := path.Split(p)
	node := fmt.Sprintf("%s_c_%08x-%s%010d", dir, 1000-c.seq, prefix, c.seq)
	c.nodes[node] = true
	return node, nil
}

func (c *memConn) Children(p string) ([]string, *zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for node := range c.nodes {
		if strings.HasPrefix(node, p+"/") && !strings.Contains(strings.TrimPrefix(node, p+"/"), "/") {
			out = append(out, strings.TrimPrefix(node, p+"/"))
		}
	}
	return out, &zk.Stat{}, nil
}

func (c *memConn) Delete(p string, _ int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.nodes[p] {
		return zk.ErrNoNode
	}
	delete(c.nodes, p)
	return nil
}

func TestTryLock(t *testing.T) {
	conn := newMemConn()

	first, err := NewDistributedLock(conn, "sweep")
	require.NoError(t, err)
	require.NoError(t, first.TryLock())

	second, err := NewDistributedLock(conn, "sweep")
	require.NoError(t, err)
	assert.ErrorIs(t, second.TryLock(), ErrLockHeld)

	children, _, _ := conn.Children(lockRoot + "/sweep")
	assert.Len(t, children, 1, "losing TryLock removes its node")

	require.NoError(t, first.Unlock())
	require.NoError(t, second.TryLock())
	require.NoError(t, second.Unlock())
	assert.Error(t, second.Unlock())
}

func TestSequenceOrderIgnoresProtectedPrefix(t *testing.T) {
	assert.Less(t, sequenceOf("_c_ffff-lock-0000000001"), sequenceOf("_c_0000-lock-0000000002"))
}
