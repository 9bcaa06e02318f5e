// Package engine owns the opaque-handle boundary around the PDF rendering
// backends: generation-checked document/page/bitmap handle tables, the
// open/use/close lifecycle, and the render pipeline. All operations are
// synchronous; operations touching the same document are serialized
// internally, distinct documents may be used from different goroutines.
package engine

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/drummonds/gopdfrender/engine/pdfrenderer"
)

// Logger is injected from main; defaults to discard so the package is
// usable as a plain library.
var Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Type aliases and re-exported values so callers of the handle API don't
// need to import the backend package for the flag vocabulary.
type (
	PixelFormat = pdfrenderer.PixelFormat
	Rotation    = pdfrenderer.Rotation
	RenderFlags = pdfrenderer.RenderFlags
)

const (
	PixelFormatInvalid = pdfrenderer.PixelFormatInvalid
	PixelFormatGray    = pdfrenderer.PixelFormatGray
	PixelFormatBGR     = pdfrenderer.PixelFormatBGR
	PixelFormatBGRA    = pdfrenderer.PixelFormatBGRA
	PixelFormatRGB     = pdfrenderer.PixelFormatRGB
	PixelFormatRGBA    = pdfrenderer.PixelFormatRGBA

	Rotate0   = pdfrenderer.Rotate0
	Rotate90  = pdfrenderer.Rotate90
	Rotate180 = pdfrenderer.Rotate180
	Rotate270 = pdfrenderer.Rotate270

	FlagAnnotations       = pdfrenderer.FlagAnnotations
	FlagLCDText           = pdfrenderer.FlagLCDText
	FlagNoNativeText      = pdfrenderer.FlagNoNativeText
	FlagGrayscale         = pdfrenderer.FlagGrayscale
	FlagReverseByteOrder  = pdfrenderer.FlagReverseByteOrder
	FlagNoWhiteFill       = pdfrenderer.FlagNoWhiteFill
	FlagDebug             = pdfrenderer.FlagDebug
	FlagNoCatch           = pdfrenderer.FlagNoCatch
	FlagLimitedImageCache = pdfrenderer.FlagLimitedImageCache
	FlagForceHalftone     = pdfrenderer.FlagForceHalftone
	FlagForPrinting       = pdfrenderer.FlagForPrinting
	FlagNoSmoothText      = pdfrenderer.FlagNoSmoothText
	FlagNoSmoothImage     = pdfrenderer.FlagNoSmoothImage
	FlagNoSmoothPath      = pdfrenderer.FlagNoSmoothPath
)

// Options configures Initialize.
type Options struct {
	// Backend selects the rendering engine: "pdfium" (default) or "fitz".
	Backend string
}

// Engine is the process-scoped registry tying handles to backend resources.
type Engine struct {
	renderer pdfrenderer.Renderer
	docs     table[*document]
	pages    table[*page]
	bitmaps  table[*bitmap]
}

// New builds an Engine around an already-constructed backend. Most callers
// use Initialize/Default instead; New exists for embedding and tests.
func New(r pdfrenderer.Renderer) *Engine {
	return &Engine{renderer: r}
}

// Close releases every resource still registered, documents before the
// backend, and shuts the backend down. A misbehaving release hook never
// prevents the remaining resources from being freed.
func (e *Engine) Close() error {
	for _, h := range e.docs.liveHandles() {
		if err := e.CloseDocument(DocumentHandle(h)); err != nil {
			Logger.Warn("document left open at engine close", "handle", h, "error", err)
		}
	}
	for _, h := range e.bitmaps.liveHandles() {
		if err := e.ReleaseBitmap(BitmapHandle(h)); err != nil {
			Logger.Warn("bitmap left open at engine close", "handle", h, "error", err)
		}
	}
	return e.renderer.Close()
}

var (
	initMu   sync.Mutex
	initRefs int
	shared   *Engine
)

// Initialize sets the process-wide engine up. Calls nest: each Initialize
// must be paired with a Finalize, and the backend is constructed on the
// first call and torn down on the last, so independent host integrations
// may bracket their own lifetimes safely.
func Initialize(opts Options) error {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs > 0 {
		initRefs++
		return nil
	}
	r, err := pdfrenderer.NewRenderer(opts.Backend)
	if err != nil {
		return fmt.Errorf("engine: backend setup failed: %w", err)
	}
	shared = New(r)
	initRefs = 1
	Logger.Info("engine initialized", "backend", opts.Backend)
	return nil
}

// Default returns the process-wide engine, or nil before Initialize.
func Default() *Engine {
	initMu.Lock()
	defer initMu.Unlock()
	return shared
}

// Finalize undoes one Initialize. The last Finalize closes all remaining
// handles and shuts the backend down.
func Finalize() error {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		return ErrNotInitialized
	}
	initRefs--
	if initRefs > 0 {
		return nil
	}
	err := shared.Close()
	shared = nil
	Logger.Info("engine finalized")
	return err
}

// closeQuietly runs one release step of a teardown sequence. Errors and
// panics are logged and swallowed so the remaining owned resources still
// get released.
func closeQuietly(what string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("panic recovered during resource release", "resource", what, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		Logger.Warn("resource release reported an error", "resource", what, "error", err)
	}
}
