// Package backend provides storage backends that devices execute
// dispatched requests against
package backend

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/go-iosched/internal/interfaces"
)

var (
	// ErrClosed is returned by I/O on a closed backend
	ErrClosed = errors.New("backend closed")

	// ErrOutOfRange is returned by writes starting at or past the end
	ErrOutOfRange = errors.New("write beyond end of device")
)

// shardSize is the span covered by one lock (64KB).
// Requests touching disjoint spans proceed in parallel.
const shardSize = 64 * 1024

// Memory provides a RAM-based backend
type Memory struct {
	data   []byte
	size   int64
	shards []sync.RWMutex
	closed atomic.Bool

	reads    atomic.Uint64
	writes   atomic.Uint64
	discards atomic.Uint64
}

// NewMemory creates a new memory backend of the specified size
func NewMemory(size int64) *Memory {
	numShards := (size + shardSize - 1) / shardSize
	if numShards == 0 {
		numShards = 1
	}
	return &Memory{
		data:   make([]byte, size),
		size:   size,
		shards: make([]sync.RWMutex, numShards),
	}
}

func (m *Memory) shardRange(off, length int64) (start, end int) {
	start = int(off / shardSize)
	end = int((off + length - 1) / shardSize)
	if end >= len(m.shards) {
		end = len(m.shards) - 1
	}
	if end < start {
		end = start
	}
	return start, end
}

func (m *Memory) lock(off, length int64, write bool) func() {
	start, end := m.shardRange(off, length)
	for i := start; i <= end; i++ {
		if write {
			m.shards[i].Lock()
		} else {
			m.shards[i].RLock()
		}
	}
	return func() {
		for i := start; i <= end; i++ {
			if write {
				m.shards[i].Unlock()
			} else {
				m.shards[i].RUnlock()
			}
		}
	}
}

// ReadAt implements the Backend interface. Reads past the end are short
// and return io.EOF.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	if off >= m.size {
		return 0, io.EOF
	}
	m.reads.Add(1)

	// Calculate how much we can actually read
	available := m.size - off
	short := int64(len(p)) > available
	if short {
		p = p[:available]
	}

	unlock := m.lock(off, int64(len(p)), false)
	if m.data == nil {
		unlock()
		return 0, ErrClosed
	}
	n := copy(p, m.data[off:off+int64(len(p))])
	unlock()

	if short {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements the Backend interface
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	if off >= m.size {
		return 0, ErrOutOfRange
	}
	m.writes.Add(1)

	// Calculate how much we can actually write
	available := m.size - off
	short := int64(len(p)) > available
	if short {
		p = p[:available]
	}

	unlock := m.lock(off, int64(len(p)), true)
	if m.data == nil {
		unlock()
		return 0, ErrClosed
	}
	n := copy(m.data[off:off+int64(len(p))], p)
	unlock()

	if short {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Size implements the Backend interface
func (m *Memory) Size() int64 {
	return m.size
}

// Close implements the Backend interface
func (m *Memory) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	unlock := m.lock(0, m.size, true)
	m.data = nil
	unlock()
	return nil
}

// Flush implements the Backend interface
func (m *Memory) Flush() error {
	// Memory backend doesn't need flushing
	return nil
}

// Discard implements the DiscardBackend interface
func (m *Memory) Discard(offset, length int64) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if offset >= m.size || length <= 0 {
		return nil
	}
	m.discards.Add(1)

	end := offset + length
	if end > m.size {
		end = m.size
	}

	unlock := m.lock(offset, end-offset, true)
	defer unlock()
	if m.data == nil {
		return ErrClosed
	}
	clear(m.data[offset:end])
	return nil
}

// WriteZeroes implements the WriteZeroesBackend interface
func (m *Memory) WriteZeroes(offset, length int64) error {
	return m.Discard(offset, length)
}

// Sync implements the SyncBackend interface
func (m *Memory) Sync() error {
	return nil
}

// SyncRange implements the SyncBackend interface
func (m *Memory) SyncRange(offset, length int64) error {
	return nil
}

// Stats implements the StatBackend interface
func (m *Memory) Stats() map[string]interface{} {
	return map[string]interface{}{
		"type":     "memory",
		"size":     m.size,
		"shards":   len(m.shards),
		"reads":    m.reads.Load(),
		"writes":   m.writes.Load(),
		"discards": m.discards.Load(),
	}
}

// Compile-time interface checks
var (
	_ interfaces.Backend            = (*Memory)(nil)
	_ interfaces.DiscardBackend     = (*Memory)(nil)
	_ interfaces.WriteZeroesBackend = (*Memory)(nil)
	_ interfaces.SyncBackend        = (*Memory)(nil)
	_ interfaces.StatBackend        = (*Memory)(nil)
)
