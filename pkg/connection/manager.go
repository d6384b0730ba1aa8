package connection

import (
	"sync"
)

// Manager is the process-wide connection map. A connection id exists in the
// map iff the connection is live.
type Manager struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{connections: make(map[string]*Connection)}
}

// Register adds a connection to the map.
func (m *Manager) Register(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[conn.ID] = conn
}

// Get returns the connection for id, or nil.
func (m *Manager) Get(id string) *Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connections[id]
}

// Count returns the number of live connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Snapshot returns a stable copy of the live connections for iteration
// during pub/sub fan-out.
func (m *Manager) Snapshot() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		out = append(out, conn)
	}
	return out
}

// Destroy removes a connection from the map. It is safe to call more than
// once but acts exactly once; no pub/sub delivery reaches the connection
// afterwards.
func (m *Manager) Destroy(conn *Connection) {
	conn.destroyOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.connections, conn.ID)
	})
}
