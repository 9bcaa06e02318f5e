package engine

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/drummonds/gopdfrender/engine/pdfrenderer"
)

// RenderPage rasterizes page content into the destination rectangle
// (x, y, width, height) of the bitmap, applying the clockwise rotation
// before placement. flags is a bitwise OR of pdfrenderer.Flag values; unset
// bits mean default engine behavior. The bitmap's pixel memory is mutated
// in place and never reallocated. Geometry and handles are validated here;
// the backend is never asked to reject a degenerate request.
func (e *Engine) RenderPage(ph PageHandle, bh BitmapHandle, x, y, width, height int, rotate Rotation, flags RenderFlags) error {
	pg, err := e.pages.lookup(uint64(ph))
	if err != nil {
		return err
	}
	bmp, err := e.bitmaps.lookup(uint64(bh))
	if err != nil {
		return err
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: degenerate destination rectangle %dx%d", ErrRender, width, height)
	}
	if !rotate.Valid() {
		return fmt.Errorf("%w: unsupported rotation %d", ErrRender, int(rotate))
	}

	pg.doc.mu.Lock()
	defer pg.doc.mu.Unlock()

	// The destination rectangle is sized after rotation; quarter turns
	// rasterize with the axes swapped.
	rw, rh := width, height
	if rotate == pdfrenderer.Rotate90 || rotate == pdfrenderer.Rotate270 {
		rw, rh = rh, rw
	}

	img, err := renderPage(pg.backend, rw, rh, flags)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRender, err)
	}

	var src *image.NRGBA
	if flags&pdfrenderer.FlagGrayscale != 0 {
		src = imaging.Grayscale(img)
	} else {
		src = imaging.Clone(img)
	}

	// imaging rotates counter-clockwise, the render contract is clockwise.
	switch rotate {
	case pdfrenderer.Rotate90:
		src = imaging.Rotate270(src)
	case pdfrenderer.Rotate180:
		src = imaging.Rotate180(src)
	case pdfrenderer.Rotate270:
		src = imaging.Rotate90(src)
	}

	bmp.compose(src, x, y, flags)
	return nil
}

// renderPage invokes the backend rasterizer. Unless FlagNoCatch is set,
// backend faults are intercepted and reported as errors; with the flag the
// fault propagates to the caller.
func renderPage(p pdfrenderer.Page, width, height int, flags RenderFlags) (img *image.RGBA, err error) {
	if flags&pdfrenderer.FlagNoCatch == 0 {
		defer func() {
			if r := recover(); r != nil {
				img = nil
				err = fmt.Errorf("engine fault: %v", r)
			}
		}()
	}
	return p.Render(width, height, flags)
}

// compose draws src over the bitmap with its top-left corner at (x, y),
// clipped to the surface bounds. Unless FlagNoWhiteFill is set the covered
// rectangle is treated as white before the page is drawn over it; with the
// flag, page content blends over whatever the bitmap already holds.
func (b *bitmap) compose(src *image.NRGBA, x, y int, flags RenderFlags) {
	reverse := flags&pdfrenderer.FlagReverseByteOrder != 0
	whiteFill := flags&pdfrenderer.FlagNoWhiteFill == 0

	w, h := src.Rect.Dx(), src.Rect.Dy()
	x0, y0 := max(x, 0), max(y, 0)
	x1, y1 := min(x+w, b.width), min(y+h, b.height)

	for dy := y0; dy < y1; dy++ {
		row := src.Pix[(dy-y)*src.Stride:]
		for dx := x0; dx < x1; dx++ {
			s := row[(dx-x)*4 : (dx-x)*4+4]
			sr, sg, sb, sa := uint32(s[0]), uint32(s[1]), uint32(s[2]), uint32(s[3])

			var dr, dg, db, da uint32
			if whiteFill {
				dr, dg, db, da = 255, 255, 255, 255
			} else {
				dr, dg, db, da = b.readPixel(dx, dy, reverse)
			}

			inv := 255 - sa
			outR := uint8((sr*sa + dr*inv) / 255)
			outG := uint8((sg*sa + dg*inv) / 255)
			outB := uint8((sb*sa + db*inv) / 255)
			outA := uint8(sa + da*inv/255)
			b.writePixel(dx, dy, outR, outG, outB, outA, reverse)
		}
	}
}

// readPixel decodes the pixel at (x, y) into logical RGBA regardless of the
// surface format. reverse mirrors the byte-order reversal applied on write.
func (b *bitmap) readPixel(x, y int, reverse bool) (r, g, bl, a uint32) {
	p := b.pix[y*b.stride+x*b.format.BytesPerPixel():]
	switch b.format {
	case pdfrenderer.PixelFormatGray:
		v := uint32(p[0])
		return v, v, v, 255
	case pdfrenderer.PixelFormatBGR:
		r, g, bl, a = uint32(p[2]), uint32(p[1]), uint32(p[0]), 255
	case pdfrenderer.PixelFormatBGRA:
		r, g, bl, a = uint32(p[2]), uint32(p[1]), uint32(p[0]), uint32(p[3])
	case pdfrenderer.PixelFormatRGB:
		r, g, bl, a = uint32(p[0]), uint32(p[1]), uint32(p[2]), 255
	case pdfrenderer.PixelFormatRGBA:
		r, g, bl, a = uint32(p[0]), uint32(p[1]), uint32(p[2]), uint32(p[3])
	}
	if reverse {
		r, bl = bl, r
	}
	return r, g, bl, a
}

// writePixel stores a logical RGBA value at (x, y) in the surface format,
// reversing the color byte order when requested. Grayscale surfaces store
// BT.601 luma.
func (b *bitmap) writePixel(x, y int, r, g, bl, a uint8, reverse bool) {
	if reverse {
		r, bl = bl, r
	}
	p := b.pix[y*b.stride+x*b.format.BytesPerPixel():]
	switch b.format {
	case pdfrenderer.PixelFormatGray:
		p[0] = uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(bl)) / 1000)
	case pdfrenderer.PixelFormatBGR:
		p[0], p[1], p[2] = bl, g, r
	case pdfrenderer.PixelFormatBGRA:
		p[0], p[1], p[2], p[3] = bl, g, r, a
	case pdfrenderer.PixelFormatRGB:
		p[0], p[1], p[2] = r, g, bl
	case pdfrenderer.PixelFormatRGBA:
		p[0], p[1], p[2], p[3] = r, g, bl, a
	}
}
