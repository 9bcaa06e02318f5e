package pdfrenderer

import (
	"errors"
	"fmt"
	"image"
	"io"
)

// PixelFormat identifies the memory layout of a bitmap surface.
type PixelFormat int

const (
	PixelFormatInvalid PixelFormat = iota
	PixelFormatGray
	PixelFormatBGR
	PixelFormatBGRA
	PixelFormatRGB
	PixelFormatRGBA
)

// BytesPerPixel returns the per-pixel byte width of the format, or 0 for
// PixelFormatInvalid.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelFormatGray:
		return 1
	case PixelFormatBGR, PixelFormatRGB:
		return 3
	case PixelFormatBGRA, PixelFormatRGBA:
		return 4
	}
	return 0
}

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatGray:
		return "gray"
	case PixelFormatBGR:
		return "bgr"
	case PixelFormatBGRA:
		return "bgra"
	case PixelFormatRGB:
		return "rgb"
	case PixelFormatRGBA:
		return "rgba"
	}
	return "invalid"
}

// Rotation is a clockwise page rotation applied at render time, independent
// of the rotation metadata stored in the page.
type Rotation int

const (
	Rotate0 Rotation = iota
	Rotate90
	Rotate180
	Rotate270
)

// Degrees returns the clockwise rotation in degrees.
func (r Rotation) Degrees() int { return int(r) * 90 }

// Valid reports whether r is one of the four supported quarter turns.
func (r Rotation) Valid() bool { return r >= Rotate0 && r <= Rotate270 }

// RenderFlags is a bitmask of independent rasterization behavior modifiers.
// The bit values are identical to PDFium's FPDF_* render flags, so the
// PDFium backend passes them through unchanged.
type RenderFlags uint32

const (
	// FlagAnnotations renders annotations.
	FlagAnnotations RenderFlags = 0x01
	// FlagLCDText uses text rendering optimized for LCD display.
	FlagLCDText RenderFlags = 0x02
	// FlagNoNativeText disables the platform-native text output path.
	FlagNoNativeText RenderFlags = 0x04
	// FlagGrayscale forces grayscale output.
	FlagGrayscale RenderFlags = 0x08
	// FlagReverseByteOrder reverses the byte order of output pixels. Only
	// meaningful when the destination is a bitmap.
	FlagReverseByteOrder RenderFlags = 0x10
	// FlagNoWhiteFill skips the white fill of the destination before
	// drawing.
	FlagNoWhiteFill RenderFlags = 0x20
	// FlagDebug emits engine debug diagnostics.
	FlagDebug RenderFlags = 0x80
	// FlagNoCatch propagates engine faults instead of intercepting them.
	FlagNoCatch RenderFlags = 0x100
	// FlagLimitedImageCache bounds the engine's internal image cache.
	FlagLimitedImageCache RenderFlags = 0x200
	// FlagForceHalftone always uses halftone for image stretching.
	FlagForceHalftone RenderFlags = 0x400
	// FlagForPrinting renders in print layout mode.
	FlagForPrinting RenderFlags = 0x800
	// FlagNoSmoothText disables anti-aliasing on text.
	FlagNoSmoothText RenderFlags = 0x1000
	// FlagNoSmoothImage disables anti-aliasing on images.
	FlagNoSmoothImage RenderFlags = 0x2000
	// FlagNoSmoothPath disables anti-aliasing on vector paths.
	FlagNoSmoothPath RenderFlags = 0x4000
)

// ErrBadPassword reports that the document is encrypted and the supplied
// password did not open it.
var ErrBadPassword = errors.New("pdfrenderer: invalid or missing password")

// Renderer is the boundary to a black-box PDF engine: parse bytes into a
// document, rasterize page regions into pixel buffers. Implementations are
// not required to be safe for concurrent use; callers serialize.
type Renderer interface {
	// OpenFile opens a document from a file on disk.
	OpenFile(path, password string) (Document, error)

	// OpenMemory opens a document from an in-memory block. The block must
	// stay valid until the document is closed.
	OpenMemory(data []byte, password string) (Document, error)

	// OpenReader opens a document from a streaming source of known size.
	OpenReader(r io.ReadSeeker, size int64, password string) (Document, error)

	// Close shuts the engine down. All documents must be closed first.
	Close() error
}

// Document is one open PDF document.
type Document interface {
	PageCount() (int, error)
	LoadPage(index int) (Page, error)
	Close() error
}

// Page is one loaded page of a Document. It must not outlive the Document.
type Page interface {
	// Width and Height report the page size in points.
	Width() float64
	Height() float64

	// Rotation reports the page's stored rotation metadata in degrees.
	Rotation() int

	// Render rasterizes the page scaled to width x height pixels, honoring
	// the flags the engine understands. No render-time rotation is applied
	// here; the render pipeline rotates the result.
	Render(width, height int, flags RenderFlags) (*image.RGBA, error)

	Close() error
}

// NewRenderer creates the engine backend selected by name: "pdfium" (pure
// Go via WebAssembly, the default) or "fitz" (MuPDF, requires CGo).
func NewRenderer(name string) (Renderer, error) {
	switch name {
	case "", "pdfium":
		return NewPDFiumRenderer()
	case "fitz":
		return NewFitzRenderer()
	}
	return nil, fmt.Errorf("pdfrenderer: unknown backend %q", name)
}
