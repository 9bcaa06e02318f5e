package pdfrenderer

import (
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/enums"
	pdfium_errors "github.com/klippa-app/go-pdfium/errors"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"
)

// Flags the PDFium engine consumes directly. Byte order and white fill are
// post-processing concerns owned by the render pipeline.
const pdfiumFlagMask = ^(FlagReverseByteOrder | FlagNoWhiteFill)

// PDFiumRenderer implements the engine boundary on go-pdfium's WebAssembly
// runtime (pure Go, no CGo). PDFium is not reentrant, so one worker
// instance serves all documents and callers serialize access.
type PDFiumRenderer struct {
	pool     pdfium.Pool
	instance pdfium.Pdfium
}

// NewPDFiumRenderer initializes a single-worker PDFium WebAssembly pool.
func NewPDFiumRenderer() (*PDFiumRenderer, error) {
	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1,
		MaxIdle:  1,
		MaxTotal: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PDFium WebAssembly: %w", err)
	}

	instance, err := pool.GetInstance(time.Second * 30)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to get PDFium instance: %w", err)
	}

	return &PDFiumRenderer{
		pool:     pool,
		instance: instance,
	}, nil
}

func (r *PDFiumRenderer) open(req *requests.OpenDocument, password string) (Document, error) {
	if password != "" {
		req.Password = &password
	}
	doc, err := r.instance.OpenDocument(req)
	if err != nil {
		if errors.Is(err, pdfium_errors.ErrPassword) {
			return nil, ErrBadPassword
		}
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}
	return &pdfiumDocument{instance: r.instance, ref: doc.Document}, nil
}

// OpenFile opens a document from disk.
func (r *PDFiumRenderer) OpenFile(path, password string) (Document, error) {
	return r.open(&requests.OpenDocument{FilePath: &path}, password)
}

// OpenMemory opens a document from an in-memory block.
func (r *PDFiumRenderer) OpenMemory(data []byte, password string) (Document, error) {
	return r.open(&requests.OpenDocument{File: &data}, password)
}

// OpenReader opens a document from a streaming source; PDFium pulls byte
// ranges through the reader on demand.
func (r *PDFiumRenderer) OpenReader(rs io.ReadSeeker, size int64, password string) (Document, error) {
	return r.open(&requests.OpenDocument{FileReader: rs, FileReaderSize: size}, password)
}

// Close tears the WebAssembly pool down.
func (r *PDFiumRenderer) Close() error {
	if r.pool != nil {
		r.pool.Close()
		r.pool = nil
	}
	r.instance = nil
	return nil
}

type pdfiumDocument struct {
	instance pdfium.Pdfium
	ref      references.FPDF_DOCUMENT
}

func (d *pdfiumDocument) PageCount() (int, error) {
	resp, err := d.instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{
		Document: d.ref,
	})
	if err != nil {
		return 0, fmt.Errorf("unable to get page count: %w", err)
	}
	return resp.PageCount, nil
}

func (d *pdfiumDocument) LoadPage(index int) (Page, error) {
	resp, err := d.instance.FPDF_LoadPage(&requests.FPDF_LoadPage{
		Document: d.ref,
		Index:    index,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to load page %d: %w", index, err)
	}

	page := &pdfiumPage{instance: d.instance, ref: resp.Page}

	widthResp, err := d.instance.FPDF_GetPageWidth(&requests.FPDF_GetPageWidth{
		Page: requests.Page{ByReference: &page.ref},
	})
	if err != nil {
		page.Close()
		return nil, fmt.Errorf("unable to get width of page %d: %w", index, err)
	}
	heightResp, err := d.instance.FPDF_GetPageHeight(&requests.FPDF_GetPageHeight{
		Page: requests.Page{ByReference: &page.ref},
	})
	if err != nil {
		page.Close()
		return nil, fmt.Errorf("unable to get height of page %d: %w", index, err)
	}
	rotationResp, err := d.instance.FPDFPage_GetRotation(&requests.FPDFPage_GetRotation{
		Page: requests.Page{ByReference: &page.ref},
	})
	if err != nil {
		page.Close()
		return nil, fmt.Errorf("unable to get rotation of page %d: %w", index, err)
	}

	page.width = widthResp.Width
	page.height = heightResp.Height
	page.rotation = int(rotationResp.PageRotation) * 90
	return page, nil
}

func (d *pdfiumDocument) Close() error {
	_, err := d.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{
		Document: d.ref,
	})
	if err != nil {
		return fmt.Errorf("unable to close document: %w", err)
	}
	return nil
}

type pdfiumPage struct {
	instance pdfium.Pdfium
	ref      references.FPDF_PAGE
	width    float64
	height   float64
	rotation int
}

func (p *pdfiumPage) Width() float64  { return p.width }
func (p *pdfiumPage) Height() float64 { return p.height }
func (p *pdfiumPage) Rotation() int   { return p.rotation }

// Render rasterizes the page into a fresh PDFium bitmap and copies the
// pixels out of the WebAssembly heap as an RGBA image.
func (p *pdfiumPage) Render(width, height int, flags RenderFlags) (*image.RGBA, error) {
	bmp, err := p.instance.FPDFBitmap_Create(&requests.FPDFBitmap_Create{
		Width:  width,
		Height: height,
		Alpha:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create render bitmap: %w", err)
	}
	defer p.instance.FPDFBitmap_Destroy(&requests.FPDFBitmap_Destroy{
		Bitmap: bmp.Bitmap,
	})

	// Start from a fully transparent raster so blank page areas keep zero
	// alpha. The render pipeline owns the white fill; without this,
	// FlagNoWhiteFill could never blend page content over existing
	// destination pixels.
	_, err = p.instance.FPDFBitmap_FillRect(&requests.FPDFBitmap_FillRect{
		Bitmap: bmp.Bitmap,
		Left:   0,
		Top:    0,
		Width:  width,
		Height: height,
		Color:  0x00000000,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to fill render bitmap: %w", err)
	}

	_, err = p.instance.FPDF_RenderPageBitmap(&requests.FPDF_RenderPageBitmap{
		Bitmap: bmp.Bitmap,
		Page:   requests.Page{ByReference: &p.ref},
		StartX: 0,
		StartY: 0,
		SizeX:  width,
		SizeY:  height,
		Rotate: enums.FPDF_PAGE_ROTATION_NONE,
		Flags:  enums.FPDF_RENDER_FLAG(flags & pdfiumFlagMask),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to render page: %w", err)
	}

	strideResp, err := p.instance.FPDFBitmap_GetStride(&requests.FPDFBitmap_GetStride{
		Bitmap: bmp.Bitmap,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to get render bitmap stride: %w", err)
	}
	bufResp, err := p.instance.FPDFBitmap_GetBuffer(&requests.FPDFBitmap_GetBuffer{
		Bitmap: bmp.Bitmap,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to get render bitmap buffer: %w", err)
	}

	// PDFium renders BGRA; swizzle into the RGBA image the pipeline works
	// with.
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	stride := strideResp.Stride
	for y := 0; y < height; y++ {
		src := bufResp.Buffer[y*stride:]
		dst := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			dst[x*4+0] = src[x*4+2]
			dst[x*4+1] = src[x*4+1]
			dst[x*4+2] = src[x*4+0]
			dst[x*4+3] = src[x*4+3]
		}
	}
	return img, nil
}

func (p *pdfiumPage) Close() error {
	_, err := p.instance.FPDF_ClosePage(&requests.FPDF_ClosePage{
		Page: p.ref,
	})
	if err != nil {
		return fmt.Errorf("unable to close page: %w", err)
	}
	return nil
}
