package interfaces

// Backend is the storage that dispatched requests are executed against.
// The method set mirrors io.ReaderAt and io.WriterAt.
type Backend interface {
	// ReadAt reads len(p) bytes into p starting at offset off.
	// Implementations must not retain p.
	ReadAt(p []byte, off int64) (n int, err error)

	// WriteAt writes len(p) bytes from p at offset off.
	// WriteAt must return a non-nil error if it returns n < len(p).
	// Implementations must not retain p.
	WriteAt(p []byte, off int64) (n int, err error)

	// Size returns the size of the backend in bytes
	Size() int64

	// Close releases the backend. No other method may be called afterwards.
	Close() error

	// Flush makes completed writes durable. Called for OpFlush requests.
	Flush() error
}

// DiscardBackend is implemented by backends that can drop a byte range
// natively. offset and length are in bytes.
type DiscardBackend interface {
	Backend
	Discard(offset, length int64) error
}

// WriteZeroesBackend is implemented by backends that can zero a byte
// range without a data buffer.
type WriteZeroesBackend interface {
	Backend
	WriteZeroes(offset, length int64) error
}

// SyncBackend is implemented by backends with finer grained durability
// control than Flush.
type SyncBackend interface {
	Backend
	Sync() error
	SyncRange(offset, length int64) error
}

// StatBackend is implemented by backends that report their own statistics
type StatBackend interface {
	Backend
	Stats() map[string]interface{}
}
