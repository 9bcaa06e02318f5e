package engine

import "github.com/drummonds/gopdfrender/engine/pdfrenderer"

// PageHandle is an opaque reference to a loaded page. A page never outlives
// its document: closing the document invalidates all of its page handles.
type PageHandle uint64

type page struct {
	doc     *document
	backend pdfrenderer.Page
}

// ClosePage closes one page. Pages already invalidated by their document's
// close report ErrDoubleClose; nothing is freed twice.
func (e *Engine) ClosePage(h PageHandle) error {
	pg, err := e.pages.remove(uint64(h))
	if err != nil {
		return err
	}
	pg.doc.mu.Lock()
	defer pg.doc.mu.Unlock()
	delete(pg.doc.pages, h)
	closeQuietly("page", pg.backend.Close)
	return nil
}

// PageWidth reports the page width in points.
func (e *Engine) PageWidth(h PageHandle) (float64, error) {
	pg, err := e.pages.lookup(uint64(h))
	if err != nil {
		return 0, err
	}
	pg.doc.mu.Lock()
	defer pg.doc.mu.Unlock()
	return pg.backend.Width(), nil
}

// PageHeight reports the page height in points.
func (e *Engine) PageHeight(h PageHandle) (float64, error) {
	pg, err := e.pages.lookup(uint64(h))
	if err != nil {
		return 0, err
	}
	pg.doc.mu.Lock()
	defer pg.doc.mu.Unlock()
	return pg.backend.Height(), nil
}

// PageRotation reports the page's stored rotation metadata in degrees.
func (e *Engine) PageRotation(h PageHandle) (int, error) {
	pg, err := e.pages.lookup(uint64(h))
	if err != nil {
		return 0, err
	}
	pg.doc.mu.Lock()
	defer pg.doc.mu.Unlock()
	return pg.backend.Rotation(), nil
}
