package iosched

import "sync"

// MockCall is one backend call recorded by MockBackend
type MockCall struct {
	Method string // "read", "write", "flush", "discard", "write_zeroes", "sync"
	Offset int64
	Length int64
}

// MockBackend provides a mock implementation of Backend for testing.
// It implements all optional interfaces and records every call in order.
type MockBackend struct {
	data    []byte
	size    int64
	closed  bool
	flushed bool
	synced  bool
	stats   map[string]interface{}

	readErr  error
	writeErr error

	// Method call tracking
	mu         sync.RWMutex
	calls      []MockCall
	readCalls  int
	writeCalls int
	flushCalls int
	syncCalls  int
}

// NewMockBackend creates a new mock backend with the specified size.
// This is useful for unit testing code that submits requests to a device.
func NewMockBackend(size int64) *MockBackend {
	return &MockBackend{
		data:  make([]byte, size),
		size:  size,
		stats: make(map[string]interface{}),
	}
}

// ReadAt implements the Backend interface
func (m *MockBackend) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls++
	m.calls = append(m.calls, MockCall{"read", off, int64(len(p))})

	if m.closed {
		return 0, ErrQueueClosed
	}
	if m.readErr != nil {
		return 0, m.readErr
	}

	if off >= m.size {
		return 0, nil
	}

	// Calculate how much we can actually read
	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}

	n := copy(p, m.data[off:off+int64(len(p))])
	return n, nil
}

// WriteAt implements the Backend interface
func (m *MockBackend) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeCalls++
	m.calls = append(m.calls, MockCall{"write", off, int64(len(p))})

	if m.closed {
		return 0, ErrQueueClosed
	}
	if m.writeErr != nil {
		return 0, m.writeErr
	}

	if off >= m.size {
		return 0, ErrInvalidParameters
	}

	// Calculate how much we can actually write
	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}

	n := copy(m.data[off:off+int64(len(p))], p)
	return n, nil
}

// Size implements the Backend interface
func (m *MockBackend) Size() int64 {
	return m.size
}

// Close implements the Backend interface
func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}

// Flush implements the Backend interface
func (m *MockBackend) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flushCalls++
	m.calls = append(m.calls, MockCall{Method: "flush"})
	m.flushed = true
	return nil
}

// Discard implements the DiscardBackend interface
func (m *MockBackend) Discard(offset, length int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{"discard", offset, length})
	m.zero(offset, length)
	return nil
}

// WriteZeroes implements the WriteZeroesBackend interface
func (m *MockBackend) WriteZeroes(offset, length int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{"write_zeroes", offset, length})
	m.zero(offset, length)
	return nil
}

func (m *MockBackend) zero(offset, length int64) {
	if offset >= m.size {
		return
	}
	end := offset + length
	if end > m.size {
		end = m.size
	}
	clear(m.data[offset:end])
}

// Sync implements the SyncBackend interface
func (m *MockBackend) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.syncCalls++
	m.calls = append(m.calls, MockCall{Method: "sync"})
	m.synced = true
	return nil
}

// SyncRange implements the SyncBackend interface
func (m *MockBackend) SyncRange(offset, length int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.syncCalls++
	m.calls = append(m.calls, MockCall{"sync", offset, length})
	m.synced = true
	return nil
}

// Stats implements the StatBackend interface
func (m *MockBackend) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]interface{})
	for k, v := range m.stats {
		stats[k] = v
	}

	stats["read_calls"] = m.readCalls
	stats["write_calls"] = m.writeCalls
	stats["flush_calls"] = m.flushCalls
	stats["sync_calls"] = m.syncCalls

	return stats
}

// Testing utility methods

// SetReadError makes subsequent reads fail with err (nil clears it)
func (m *MockBackend) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// SetWriteError makes subsequent writes fail with err (nil clears it)
func (m *MockBackend) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// Calls returns the recorded calls in execution order
func (m *MockBackend) Calls() []MockCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MockCall(nil), m.calls...)
}

// Bytes returns a copy of the backing data
func (m *MockBackend) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.data...)
}

// IsClosed returns true if the backend has been closed
func (m *MockBackend) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// IsFlushed returns true if Flush has been called
func (m *MockBackend) IsFlushed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flushed
}

// IsSynced returns true if Sync or SyncRange has been called
func (m *MockBackend) IsSynced() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.synced
}

// CallCounts returns the number of times each method has been called
func (m *MockBackend) CallCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int{
		"read":  m.readCalls,
		"write": m.writeCalls,
		"flush": m.flushCalls,
		"sync":  m.syncCalls,
	}
}

// Reset resets all call counters, the call log and state flags
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = nil
	m.readCalls = 0
	m.writeCalls = 0
	m.flushCalls = 0
	m.syncCalls = 0
	m.flushed = false
	m.synced = false
}

// SetCustomStats allows setting custom statistics for testing
func (m *MockBackend) SetCustomStats(stats map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats = make(map[string]interface{})
	for k, v := range stats {
		m.stats[k] = v
	}
}

// Compile-time interface checks
var (
	_ Backend            = (*MockBackend)(nil)
	_ DiscardBackend     = (*MockBackend)(nil)
	_ WriteZeroesBackend = (*MockBackend)(nil)
	_ SyncBackend        = (*MockBackend)(nil)
	_ StatBackend        = (*MockBackend)(nil)
)
