//go:build linux

package backend

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestFile(t *testing.T, size int64) *File {
	t.Helper()
	f, err := OpenFile(filepath.Join(t.TempDir(), "disk.img"), size)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestOpenFileCreatesAndSizes(t *testing.T) {
	f := openTestFile(t, 1<<20)
	assert.Equal(t, int64(1<<20), f.Size())

	fi, err := os.Stat(f.Path())
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), fi.Size())
}

func TestOpenFileExistingSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, os.WriteFile(path, make([]byte, 8192), 0o644))

	f, err := OpenFile(path, 0)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, int64(8192), f.Size())
}

func TestOpenFileRejects(t *testing.T) {
	dir := t.TempDir()

	_, err := OpenFile(filepath.Join(dir, "empty.img"), 0)
	assert.Error(t, err, "empty file")

	_, err = OpenFile(dir, 4096)
	assert.Error(t, err, "directory")
}

func TestFileReadWrite(t *testing.T) {
	f := openTestFile(t, 64*1024)

	data := bytes.Repeat([]byte("anxiety!"), 512)
	n, err := f.WriteAt(data, 4096)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	require.NoError(t, f.Flush())

	buf := make([]byte, len(data))
	n, err = f.ReadAt(buf, 4096)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, buf)
}

func TestFileBoundaries(t *testing.T) {
	f := openTestFile(t, 4096)

	n, err := f.WriteAt(make([]byte, 100), 4046)
	assert.ErrorIs(t, err, io.ErrShortWrite)
	assert.Equal(t, 50, n)

	_, err = f.WriteAt([]byte{1}, 4096)
	assert.ErrorIs(t, err, ErrOutOfRange)

	n, err = f.ReadAt(make([]byte, 100), 4046)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 50, n)
}

func TestFileDiscardAndZeroes(t *testing.T) {
	f := openTestFile(t, 256*1024)

	ones := bytes.Repeat([]byte{0xff}, 256*1024)
	_, err := f.WriteAt(ones, 0)
	require.NoError(t, err)

	require.NoError(t, f.Discard(4096, 8192))
	require.NoError(t, f.WriteZeroes(128*1024, 100*1024))

	buf := make([]byte, 256*1024)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)

	zeroed := func(i int) bool {
		return (i >= 4096 && i < 4096+8192) || (i >= 128*1024 && i < 228*1024)
	}
	for i, b := range buf {
		if zeroed(i) && b != 0 {
			t.Fatalf("byte %d not zeroed", i)
		}
		if !zeroed(i) && b != 0xff {
			t.Fatalf("byte %d outside range modified", i)
		}
	}

	// Ranges past the end are ignored
	assert.NoError(t, f.Discard(1<<30, 4096))
}

func TestFileSyncAndStats(t *testing.T) {
	f := openTestFile(t, 16*1024)

	_, err := f.WriteAt([]byte{1, 2, 3}, 0)
	require.NoError(t, err)
	assert.NoError(t, f.Sync())
	assert.NoError(t, f.SyncRange(0, 4096))

	stats := f.Stats()
	assert.Equal(t, "file", stats["type"])
	assert.Equal(t, int64(16*1024), stats["size"])
	assert.Contains(t, stats, "allocated")
}

func TestFileClosed(t *testing.T) {
	f := openTestFile(t, 4096)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	_, err := f.ReadAt(make([]byte, 1), 0)
	assert.True(t, errors.Is(err, ErrClosed))
	_, err = f.WriteAt([]byte{1}, 0)
	assert.True(t, errors.Is(err, ErrClosed))
	assert.ErrorIs(t, f.Flush(), ErrClosed)
	assert.ErrorIs(t, f.Discard(0, 512), ErrClosed)
}

func BenchmarkFile(b *testing.B) {
	f, err := OpenFile(filepath.Join(b.TempDir(), "bench.img"), 64<<20)
	if err != nil {
		b.Fatal(err)
	}
	defer f.Close()
	benchmarkBackend(b, f)
}
