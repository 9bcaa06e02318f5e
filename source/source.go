// Package source bridges caller-supplied pull-based read callbacks into the
// byte-stream shape the rendering engines consume. A Source is released
// exactly once, on document close or on a failed open, even when the engine
// never issued a single read.
package source

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// Source supplies document bytes on demand. Close releases the caller's
// backing resource and is safe to call more than once; the release side
// effect fires only on the first call.
type Source interface {
	io.ReaderAt
	Size() int64
	Close() error
}

// ReadFunc copies up to len(p) bytes starting at off into p and reports how
// many bytes it provided. A short count signals EOF or an I/O shortfall at
// that position; the engines decide how to treat it.
type ReadFunc func(p []byte, off int64) (int, error)

type callbackSource struct {
	size    int64
	read    ReadFunc
	release func()
	once    sync.Once
}

// New builds a Source of known total size from a read callback and a
// release hook. release may be nil.
func New(size int64, read ReadFunc, release func()) Source {
	return &callbackSource{size: size, read: read, release: release}
}

func (s *callbackSource) Size() int64 { return s.size }

func (s *callbackSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > s.size {
		return 0, fmt.Errorf("source: read at %d outside of %d byte source", off, s.size)
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := s.read(p, off)
	if n < 0 {
		n = 0
	}
	if err != nil {
		return n, err
	}
	if n < len(p) {
		if off+int64(n) >= s.size {
			return n, io.EOF
		}
		// The callback came up short inside the advertised range. Surface
		// it as an error so the engine fails the decode instead of parsing
		// garbage.
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

func (s *callbackSource) Close() error {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
	return nil
}

// FromBytes wraps an in-memory block as a Source. release may be nil.
func FromBytes(data []byte, release func()) Source {
	return New(int64(len(data)), func(p []byte, off int64) (int, error) {
		if off >= int64(len(data)) {
			return 0, io.EOF
		}
		return copy(p, data[off:]), nil
	}, release)
}

// ReadSeeker adapts a Source to the io.ReadSeeker shape the engines open
// documents from. Not safe for concurrent use; the engines drive it from a
// single decode path.
type ReadSeeker struct {
	src Source
	off int64
}

// NewReadSeeker wraps src. Closing the ReadSeeker closes src.
func NewReadSeeker(src Source) *ReadSeeker {
	return &ReadSeeker{src: src}
}

func (rs *ReadSeeker) Read(p []byte) (int, error) {
	if rs.off >= rs.src.Size() {
		return 0, io.EOF
	}
	n, err := rs.src.ReadAt(p, rs.off)
	rs.off += int64(n)
	return n, err
}

func (rs *ReadSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = rs.off + offset
	case io.SeekEnd:
		abs = rs.src.Size() + offset
	default:
		return 0, errors.New("source: invalid seek whence")
	}
	if abs < 0 {
		return 0, errors.New("source: negative seek position")
	}
	rs.off = abs
	return abs, nil
}

// Close releases the underlying Source exactly once.
func (rs *ReadSeeker) Close() error { return rs.src.Close() }
