package syncer

import "time"

// Status is broadcast to listeners after every state transition.
type Status struct {
	IsSyncing    bool      `json:"isSyncing"`
	LastSyncTime time.Time `json:"lastSyncTime"`
	PendingItems int       `json:"pendingItems"`
	FailedItems  int       `json:"failedItems"`
	SuccessCount int       `json:"successCount"`
	ErrorCount   int       `json:"errorCount"`

	Online bool `json:"online"`
	// LocalOnly is set when the last pass found no usable backend.
	LocalOnly   bool `json:"localOnly"`
	DeadLetters int  `json:"deadLetters"`
}

// Listener receives status snapshots. It runs on the goroutine that changed
// the status and must not block.
type Listener func(Status)

// Subscribe registers fn and returns a function that removes it.
func (m *Manager) Subscribe(fn Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Status returns the current snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// update applies fn to the status under the lock, then notifies listeners
// outside of it.
func (m *Manager) update(fn func(*Status)) Status {
	m.mu.Lock()
	fn(&m.status)
	snap := m.status
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	m.metrics.observeStatus(snap)
	for _, l := range listeners {
		l(snap)
	}
	return snap
}
