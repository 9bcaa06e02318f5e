package engine

import (
	"errors"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/drummonds/gopdfrender/engine/pdfrenderer"
)

// stubRenderer is a hermetic pdfrenderer.Renderer for registry and pipeline
// tests. Documents must start with "%PDF" to open; pages render a left-red,
// right-blue pattern so tests can observe placement, rotation and format
// conversion.
type stubRenderer struct {
	pageCount   int
	renderPanic bool
	// transparentRight leaves the right half fully transparent instead of
	// blue, mimicking a raster whose blank areas carry zero alpha.
	transparentRight bool
	closed           int
	docsClosed       int
	pagesClosed      int
}

func newStubRenderer() *stubRenderer {
	return &stubRenderer{pageCount: 1}
}

func (r *stubRenderer) openBytes(data []byte, password string) (pdfrenderer.Document, error) {
	if password == "secret" {
		// accepted
	} else if password != "" {
		return nil, pdfrenderer.ErrBadPassword
	}
	if !strings.HasPrefix(string(data), "%PDF") {
		return nil, errors.New("not a PDF")
	}
	return &stubDocument{renderer: r}, nil
}

func (r *stubRenderer) OpenFile(path, password string) (pdfrenderer.Document, error) {
	return r.openBytes([]byte("%PDF-stub"), password)
}

func (r *stubRenderer) OpenMemory(data []byte, password string) (pdfrenderer.Document, error) {
	return r.openBytes(data, password)
}

func (r *stubRenderer) OpenReader(rs io.ReadSeeker, size int64, password string) (pdfrenderer.Document, error) {
	// Engines pull the stream through the adapter; a truncated source must
	// surface here as an open failure.
	data, err := io.ReadAll(rs)
	if err != nil {
		return nil, fmt.Errorf("source read failed: %w", err)
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("source advertised %d bytes, read %d", size, len(data))
	}
	return r.openBytes(data, password)
}

func (r *stubRenderer) Close() error {
	r.closed++
	return nil
}

type stubDocument struct {
	renderer *stubRenderer
	closed   bool
}

func (d *stubDocument) PageCount() (int, error) {
	return d.renderer.pageCount, nil
}

func (d *stubDocument) LoadPage(index int) (pdfrenderer.Page, error) {
	if index < 0 || index >= d.renderer.pageCount {
		return nil, fmt.Errorf("page index %d out of range", index)
	}
	return &stubPage{renderer: d.renderer}, nil
}

func (d *stubDocument) Close() error {
	if d.closed {
		return errors.New("stub document closed twice")
	}
	d.closed = true
	d.renderer.docsClosed++
	return nil
}

type stubPage struct {
	renderer *stubRenderer
	closed   bool
}

func (p *stubPage) Width() float64  { return 612 }
func (p *stubPage) Height() float64 { return 792 }
func (p *stubPage) Rotation() int   { return 0 }

func (p *stubPage) Render(width, height int, flags pdfrenderer.RenderFlags) (*image.RGBA, error) {
	if p.renderer.renderPanic {
		panic("stub engine fault")
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*img.Stride + x*4
			if x < width/2 {
				img.Pix[i+0] = 255 // red
			} else if p.renderer.transparentRight {
				continue
			} else {
				img.Pix[i+2] = 255 // blue
			}
			img.Pix[i+3] = 255
		}
	}
	return img, nil
}

func (p *stubPage) Close() error {
	if p.closed {
		return errors.New("stub page closed twice")
	}
	p.closed = true
	p.renderer.pagesClosed++
	return nil
}
