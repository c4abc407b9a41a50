//go:build linux

package backend

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-iosched/internal/interfaces"
)

// zeroChunk bounds the buffer used when the filesystem cannot zero a
// range itself
const zeroChunk = 64 * 1024

// File is a backend stored in a regular file, accessed with positional
// I/O. Discard punches holes where the filesystem supports it.
type File struct {
	f    *os.File
	fd   int
	path string
	size int64

	closed    atomic.Bool
	noPunch   atomic.Bool // filesystem rejected FALLOC_FL_PUNCH_HOLE
	noZeroing atomic.Bool // filesystem rejected FALLOC_FL_ZERO_RANGE
}

// OpenFile opens or creates the file at path. A positive size grows the
// file to size bytes, preallocating where possible; size 0 uses the
// existing length.
func OpenFile(path string, size int64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%s: not a regular file", path)
	}

	fd := int(f.Fd())
	if size > fi.Size() {
		if err := unix.Fallocate(fd, 0, 0, size); err != nil {
			if !errors.Is(err, unix.EOPNOTSUPP) {
				f.Close()
				return nil, fmt.Errorf("preallocate %s: %w", path, err)
			}
			// Sparse fallback
			if err := f.Truncate(size); err != nil {
				f.Close()
				return nil, fmt.Errorf("resize %s: %w", path, err)
			}
		}
	} else {
		size = fi.Size()
	}
	if size == 0 {
		f.Close()
		return nil, fmt.Errorf("%s: empty backing file", path)
	}

	return &File{f: f, fd: fd, path: path, size: size}, nil
}

// Path returns the backing file path
func (b *File) Path() string {
	return b.path
}

// ReadAt implements the Backend interface
func (b *File) ReadAt(p []byte, off int64) (int, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	n := 0
	for n < len(p) {
		m, err := unix.Pread(b.fd, p[n:], off+int64(n))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, io.EOF
		}
		n += m
	}
	return n, nil
}

// WriteAt implements the Backend interface
func (b *File) WriteAt(p []byte, off int64) (int, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	if off >= b.size {
		return 0, ErrOutOfRange
	}
	if off+int64(len(p)) > b.size {
		n, err := b.WriteAt(p[:b.size-off], off)
		if err == nil {
			err = io.ErrShortWrite
		}
		return n, err
	}

	n := 0
	for n < len(p) {
		m, err := unix.Pwrite(b.fd, p[n:], off+int64(n))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, io.ErrShortWrite
		}
		n += m
	}
	return n, nil
}

// Size implements the Backend interface
func (b *File) Size() int64 {
	return b.size
}

// Close implements the Backend interface
func (b *File) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.f.Close()
}

// Flush implements the Backend interface
func (b *File) Flush() error {
	if b.closed.Load() {
		return ErrClosed
	}
	return unix.Fdatasync(b.fd)
}

// Sync implements the SyncBackend interface
func (b *File) Sync() error {
	if b.closed.Load() {
		return ErrClosed
	}
	return unix.Fsync(b.fd)
}

// SyncRange implements the SyncBackend interface
func (b *File) SyncRange(offset, length int64) error {
	if b.closed.Load() {
		return ErrClosed
	}
	flags := unix.SYNC_FILE_RANGE_WAIT_BEFORE | unix.SYNC_FILE_RANGE_WRITE | unix.SYNC_FILE_RANGE_WAIT_AFTER
	return unix.SyncFileRange(b.fd, offset, length, flags)
}

// clamp trims a byte range to the file. ok is false for empty ranges.
func (b *File) clamp(offset, length int64) (int64, int64, bool) {
	if offset >= b.size || length <= 0 {
		return 0, 0, false
	}
	if offset+length > b.size {
		length = b.size - offset
	}
	return offset, length, true
}

// Discard implements the DiscardBackend interface. The range reads back
// as zeroes afterwards.
func (b *File) Discard(offset, length int64) error {
	if b.closed.Load() {
		return ErrClosed
	}
	offset, length, ok := b.clamp(offset, length)
	if !ok {
		return nil
	}

	if !b.noPunch.Load() {
		err := unix.Fallocate(b.fd, unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, offset, length)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EOPNOTSUPP) {
			return err
		}
		b.noPunch.Store(true)
	}
	return b.WriteZeroes(offset, length)
}

// WriteZeroes implements the WriteZeroesBackend interface
func (b *File) WriteZeroes(offset, length int64) error {
	if b.closed.Load() {
		return ErrClosed
	}
	offset, length, ok := b.clamp(offset, length)
	if !ok {
		return nil
	}

	if !b.noZeroing.Load() {
		err := unix.Fallocate(b.fd, unix.FALLOC_FL_ZERO_RANGE|unix.FALLOC_FL_KEEP_SIZE, offset, length)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EOPNOTSUPP) {
			return err
		}
		b.noZeroing.Store(true)
	}

	zeroes := make([]byte, min(length, zeroChunk))
	for length > 0 {
		chunk := zeroes[:min(length, int64(len(zeroes)))]
		n, err := b.WriteAt(chunk, offset)
		if err != nil {
			return err
		}
		offset += int64(n)
		length -= int64(n)
	}
	return nil
}

// Stats implements the StatBackend interface
func (b *File) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"type": "file",
		"path": b.path,
		"size": b.size,
	}
	var st unix.Stat_t
	if !b.closed.Load() && unix.Fstat(b.fd, &st) == nil {
		stats["allocated"] = st.Blocks * 512
	}
	return stats
}

// Compile-time interface checks
var (
	_ interfaces.Backend            = (*File)(nil)
	_ interfaces.DiscardBackend     = (*File)(nil)
	_ interfaces.WriteZeroesBackend = (*File)(nil)
	_ interfaces.SyncBackend        = (*File)(nil)
	_ interfaces.StatBackend        = (*File)(nil)
)
