package engine

import (
	"fmt"
	"sync"

	"github.com/drummonds/gopdfrender/engine/pdfrenderer"
)

// BitmapHandle is an opaque reference to a pixel surface.
type BitmapHandle uint64

// A bitmap's pixel memory is either owned (allocated here, reclaimed by the
// runtime) or borrowed (caller buffer plus an optional release hook). The
// two are distinguished by the release field so exactly one release path
// fires per bitmap, exactly once.
type bitmap struct {
	width   int
	height  int
	format  pdfrenderer.PixelFormat
	stride  int
	pix     []byte
	release func()
	once    sync.Once
}

// CreateBitmap registers a pixel surface. stride 0 selects the tight
// default of width times bytes-per-pixel. A nil buf allocates owned memory;
// a non-nil buf is borrowed, must hold stride*height bytes, and release (if
// non-nil) is invoked exactly once when the bitmap is released — the
// zero-copy path where a host buffer is reused as the render target.
func (e *Engine) CreateBitmap(width, height int, format PixelFormat, stride int, buf []byte, release func()) (BitmapHandle, error) {
	bpp := format.BytesPerPixel()
	if bpp == 0 {
		return 0, fmt.Errorf("engine: invalid pixel format %d", format)
	}
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("engine: invalid bitmap size %dx%d", width, height)
	}
	if stride == 0 {
		stride = width * bpp
	}
	if stride < width*bpp {
		return 0, fmt.Errorf("engine: stride %d below row size %d", stride, width*bpp)
	}
	if buf == nil {
		buf = make([]byte, stride*height)
		release = nil
	} else if len(buf) < stride*height {
		return 0, fmt.Errorf("engine: buffer holds %d bytes, bitmap needs %d", len(buf), stride*height)
	}
	b := &bitmap{
		width:   width,
		height:  height,
		format:  format,
		stride:  stride,
		pix:     buf,
		release: release,
	}
	return BitmapHandle(e.bitmaps.insert(b)), nil
}

// ReleaseBitmap releases the surface. For borrowed memory the caller's
// release hook fires exactly once, even if this races a redundant release
// or the hook panics.
func (e *Engine) ReleaseBitmap(h BitmapHandle) error {
	b, err := e.bitmaps.remove(uint64(h))
	if err != nil {
		return err
	}
	if b.release != nil {
		b.once.Do(func() {
			closeQuietly("bitmap buffer", func() error {
				b.release()
				return nil
			})
		})
	}
	return nil
}

// BitmapWidth reports the surface width in pixels.
func (e *Engine) BitmapWidth(h BitmapHandle) (int, error) {
	b, err := e.bitmaps.lookup(uint64(h))
	if err != nil {
		return 0, err
	}
	return b.width, nil
}

// BitmapHeight reports the surface height in pixels.
func (e *Engine) BitmapHeight(h BitmapHandle) (int, error) {
	b, err := e.bitmaps.lookup(uint64(h))
	if err != nil {
		return 0, err
	}
	return b.height, nil
}

// BitmapFormat reports the surface pixel format.
func (e *Engine) BitmapFormat(h BitmapHandle) (PixelFormat, error) {
	b, err := e.bitmaps.lookup(uint64(h))
	if err != nil {
		return pdfrenderer.PixelFormatInvalid, err
	}
	return b.format, nil
}

// BitmapStride reports the surface row size in bytes.
func (e *Engine) BitmapStride(h BitmapHandle) (int, error) {
	b, err := e.bitmaps.lookup(uint64(h))
	if err != nil {
		return 0, err
	}
	return b.stride, nil
}

// BitmapBuffer returns the live pixel memory without copying. The view is
// valid until the bitmap is released.
func (e *Engine) BitmapBuffer(h BitmapHandle) ([]byte, error) {
	b, err := e.bitmaps.lookup(uint64(h))
	if err != nil {
		return nil, err
	}
	return b.pix, nil
}
