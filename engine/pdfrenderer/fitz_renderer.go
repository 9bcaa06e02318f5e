package pdfrenderer

import (
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
)

// FitzRenderer implements the engine boundary using go-fitz (requires CGo
// and MuPDF). Limitations against the PDFium backend: encrypted documents
// cannot be opened with a password, stored page rotation metadata is not
// exposed (reported as 0), and rasters come back pre-composited over opaque
// white, so FlagNoWhiteFill has no effect.
type FitzRenderer struct {
}

// NewFitzRenderer creates a new Fitz-based engine backend.
func NewFitzRenderer() (*FitzRenderer, error) {
	return &FitzRenderer{}, nil
}

// OpenFile opens a document from disk.
func (r *FitzRenderer) OpenFile(path, password string) (Document, error) {
	if password != "" {
		return nil, ErrBadPassword
	}
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}
	return &fitzDocument{doc: doc}, nil
}

// OpenMemory opens a document from an in-memory block.
func (r *FitzRenderer) OpenMemory(data []byte, password string) (Document, error) {
	if password != "" {
		return nil, ErrBadPassword
	}
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}
	return &fitzDocument{doc: doc}, nil
}

// OpenReader opens a document from a streaming source. MuPDF wants the
// whole stream, so go-fitz slurps the reader; short reads from the source
// fail the open here.
func (r *FitzRenderer) OpenReader(rs io.ReadSeeker, size int64, password string) (Document, error) {
	if password != "" {
		return nil, ErrBadPassword
	}
	doc, err := fitz.NewFromReader(rs)
	if err != nil {
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}
	return &fitzDocument{doc: doc}, nil
}

// Close cleans up resources (no-op, documents hold the MuPDF state).
func (r *FitzRenderer) Close() error {
	return nil
}

type fitzDocument struct {
	doc *fitz.Document
}

func (d *fitzDocument) PageCount() (int, error) {
	return d.doc.NumPage(), nil
}

func (d *fitzDocument) LoadPage(index int) (Page, error) {
	if index < 0 || index >= d.doc.NumPage() {
		return nil, fmt.Errorf("page index %d out of range", index)
	}
	// Bound reports the page box at 72 dpi, which is numerically the page
	// size in points.
	bounds, err := d.doc.Bound(index)
	if err != nil {
		return nil, fmt.Errorf("unable to measure page %d: %w", index, err)
	}
	return &fitzPage{
		doc:    d.doc,
		index:  index,
		width:  float64(bounds.Dx()),
		height: float64(bounds.Dy()),
	}, nil
}

func (d *fitzDocument) Close() error {
	return d.doc.Close()
}

type fitzPage struct {
	doc    *fitz.Document
	index  int
	width  float64
	height float64
}

func (p *fitzPage) Width() float64  { return p.width }
func (p *fitzPage) Height() float64 { return p.height }

// Rotation metadata is not exposed by go-fitz.
func (p *fitzPage) Rotation() int { return 0 }

// Render rasterizes the page at the dpi closest to the requested pixel
// size, then resamples to the exact dimensions. MuPDF has no per-render
// flag surface here, so flags are honored by the pipeline only.
func (p *fitzPage) Render(width, height int, flags RenderFlags) (*image.RGBA, error) {
	if p.width <= 0 {
		return nil, fmt.Errorf("page %d has degenerate geometry", p.index)
	}
	dpi := 72.0 * float64(width) / p.width
	img, err := p.doc.ImageDPI(p.index, dpi)
	if err != nil {
		return nil, fmt.Errorf("unable to render page %d: %w", p.index, err)
	}
	if img.Bounds().Dx() == width && img.Bounds().Dy() == height {
		return img, nil
	}
	resized := imaging.Resize(img, width, height, imaging.Lanczos)
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		copy(out.Pix[y*out.Stride:y*out.Stride+width*4], resized.Pix[y*resized.Stride:])
	}
	return out, nil
}

func (p *fitzPage) Close() error {
	// Pages are addressed by index on the document; nothing to free.
	return nil
}
