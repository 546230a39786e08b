package bytesource

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"
)

// LocalFile is a Source backed by an os.File opened for random access.
// Read is pread-equivalent: the shared file descriptor's read offset is
// never mutated, so concurrent reads never race each other.
type LocalFile struct {
	f        *os.File
	size     int64
	sizeOnce sync.Once
	sizeErr  error

	mmapMu sync.RWMutex
	mmap   mmap.MMap // nil unless EnableMmap was called and succeeded
	closed atomic.Bool
}

// OpenLocalFile opens path for random-access reads.
func OpenLocalFile(path string) (*LocalFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening local file: %w", err)
	}
	return &LocalFile{f: f}, nil
}

// EnableMmap memory-maps the file read-only. It is an optional optimization
// for local files on fast storage; HTTP/S3 sources obviously have no
// analogue. Safe to call once after construction, before the first Read.
func (l *LocalFile) EnableMmap() error {
	info, err := l.f.Stat()
	if err != nil {
		return fmt.Errorf("stat for mmap: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}
	m, err := mmap.Map(l.f, mmap.RDONLY, 0)
	if err != nil {
		return fmt.Errorf("mmap: %w", err)
	}
	l.mmapMu.Lock()
	l.mmap = m
	l.mmapMu.Unlock()
	return nil
}

func (l *LocalFile) Read(_ context.Context, offset, length int64) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}

	l.mmapMu.RLock()
	m := l.mmap
	l.mmapMu.RUnlock()
	if m != nil {
		if offset < 0 || offset+length > int64(len(m)) {
			return nil, ioErrorf("mmap read", fmt.Errorf("range [%d,%d) out of bounds (size %d)", offset, offset+length, len(m)))
		}
		out := make([]byte, length)
		copy(out, m[offset:offset+length])
		return out, nil
	}

	buf := make([]byte, length)
	n, err := l.f.ReadAt(buf, offset)
	if err != nil && int64(n) != length {
		return nil, ioErrorf("pread", err)
	}
	return buf, nil
}

func (l *LocalFile) Size(context.Context) (int64, error) {
	l.sizeOnce.Do(func() {
		info, err := l.f.Stat()
		if err != nil {
			l.sizeErr = ioErrorf("stat", err)
			return
		}
		l.size = info.Size()
	})
	return l.size, l.sizeErr
}

func (l *LocalFile) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.mmapMu.Lock()
	if l.mmap != nil {
		_ = l.mmap.Unmap()
		l.mmap = nil
	}
	l.mmapMu.Unlock()
	return l.f.Close()
}
