package server

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/spaolacci/murmur3"
)

// ConnectionManager tracks live connections in a table partitioned by a
// hash of the connection id, so connections arriving and leaving on
// different partitions do not contend.
type ConnectionManager struct {
	partitions []*partition
	maxConns   int
	logger     *slog.Logger

	active       atomic.Int64
	totalCreated atomic.Uint64
	totalClosed  atomic.Uint64
	peak         atomic.Int64
}

type partition struct {
	sync.RWMutex
	conns map[string]*Connection
}

// NewConnectionManager creates a manager with n partitions. maxConns of 0
// means no limit.
func NewConnectionManager(n, maxConns int, logger *slog.Logger) *ConnectionManager {
	if n <= 0 {
		n = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &ConnectionManager{
		partitions: make([]*partition, n),
		maxConns:   maxConns,
		logger:     logger,
	}
	for i := range m.partitions {
		m.partitions[i] = &partition{conns: make(map[string]*Connection)}
	}
	return m
}

func (m *ConnectionManager) partition(id string) *partition {
	return m.partitions[murmur3.Sum32([]byte(id))%uint32(len(m.partitions))]
}

// Add tracks c. It fails with ErrMaxConnections when the table is full and
// ErrDuplicateConnection when the id is already tracked.
func (m *ConnectionManager) Add(c *Connection) error {
	n := m.active.Add(1)
	if m.maxConns > 0 && n > int64(m.maxConns) {
		m.active.Add(-1)
		return ErrMaxConnections
	}

	p := m.partition(c.ID())
	p.Lock()
	if _, ok := p.conns[c.ID()]; ok {
		p.Unlock()
		m.active.Add(-1)
		return ErrDuplicateConnection
	}
	p.conns[c.ID()] = c
	p.Unlock()

	m.totalCreated.Add(1)
	for {
		peak := m.peak.Load()
		if n <= peak || m.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return nil
}

// Remove stops tracking the connection with id and returns it.
func (m *ConnectionManager) Remove(id string) (*Connection, bool) {
	p := m.partition(id)
	p.Lock()
	c, ok := p.conns[id]
	delete(p.conns, id)
	p.Unlock()

	if ok {
		m.active.Add(-1)
		m.totalClosed.Add(1)
	}
	return c, ok
}

// Get returns the connection with id.
func (m *ConnectionManager) Get(id string) (*Connection, bool) {
	p := m.partition(id)
	p.RLock()
	c, ok := p.conns[id]
	p.RUnlock()
	return c, ok
}

// Count returns the number of tracked connections.
func (m *ConnectionManager) Count() int {
	return int(m.active.Load())
}

// ForEach calls fn for every connection until fn returns false. Connections
// added or removed during the walk may or may not be visited.
func (m *ConnectionManager) ForEach(fn func(*Connection) bool) {
	for _, p := range m.partitions {
		p.RLock()
		conns := make([]*Connection, 0, len(p.conns))
		for _, c := range p.conns {
			conns = append(conns, c)
		}
		p.RUnlock()

		for _, c := range conns {
			if !fn(c) {
				return
			}
		}
	}
}

// Snapshot returns info on every connection, ordered by id.
func (m *ConnectionManager) Snapshot() []ConnectionInfo {
	var infos []ConnectionInfo
	m.ForEach(func(c *Connection) bool {
		infos = append(infos, c.Info())
		return true
	})
	slices.SortFunc(infos, func(a, b ConnectionInfo) int {
		return strings.Compare(a.ID, b.ID)
	})
	return infos
}

// CloseAll closes every connection with reason.
func (m *ConnectionManager) CloseAll(reason string) {
	var wg sync.WaitGroup
	m.ForEach(func(c *Connection) bool {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Close(reason); err != nil {
				m.logger.Debug("close error", "conn_id", c.ID(), "error", err)
			}
		}()
		return true
	})
	wg.Wait()
}

// ManagerStats contains connection table statistics.
type ManagerStats struct {
	Active       int
	TotalCreated uint64
	TotalClosed  uint64
	Peak         int
	Partitions   int
}

// Stats returns connection table statistics.
func (m *ConnectionManager) Stats() ManagerStats {
	return ManagerStats{
		Active:       int(m.active.Load()),
		TotalCreated: m.totalCreated.Load(),
		TotalClosed:  m.totalClosed.Load(),
		Peak:         int(m.peak.Load()),
		Partitions:   len(m.partitions),
	}
}
