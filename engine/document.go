package engine

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/ledongthuc/pdf"
	"github.com/oklog/ulid/v2"

	"github.com/drummonds/gopdfrender/engine/pdfrenderer"
	"github.com/drummonds/gopdfrender/source"
)

// DocumentHandle is an opaque reference to an open document.
type DocumentHandle uint64

type document struct {
	// mu serializes every operation touching this document and its pages;
	// the backends are not reentrant.
	mu      sync.Mutex
	id      ulid.ULID
	backend pdfrenderer.Document

	// src is the custom source backing this document, closed exactly once
	// when the document closes. Nil for file and memory opens.
	src source.Source

	// Text extraction reads the raw bytes again outside the render
	// backend: by path for file opens, by ReaderAt otherwise.
	textPath string
	textAt   io.ReaderAt
	textSize int64

	pages map[PageHandle]*page
}

func (e *Engine) registerDocument(backend pdfrenderer.Document, doc *document, kind string) DocumentHandle {
	doc.id = ulid.Make()
	doc.backend = backend
	doc.pages = map[PageHandle]*page{}
	h := DocumentHandle(e.docs.insert(doc))
	Logger.Debug("document opened", "doc", doc.id, "source", kind)
	return h
}

// OpenFile opens a document from a file on disk. password may be empty.
func (e *Engine) OpenFile(path, password string) (DocumentHandle, error) {
	backend, err := e.renderer.OpenFile(path, password)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	return e.registerDocument(backend, &document{textPath: path}, "file"), nil
}

// OpenMemory opens a document from an in-memory block. The block must stay
// unchanged until the document is closed.
func (e *Engine) OpenMemory(data []byte, password string) (DocumentHandle, error) {
	backend, err := e.renderer.OpenMemory(data, password)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	doc := &document{textAt: bytes.NewReader(data), textSize: int64(len(data))}
	return e.registerDocument(backend, doc, "memory"), nil
}

// OpenCustom opens a document from a caller-supplied pull-based source.
// The source is released exactly once: when the document is closed, or
// right here if the open fails after the source was accepted.
func (e *Engine) OpenCustom(src source.Source, password string) (DocumentHandle, error) {
	backend, err := e.renderer.OpenReader(source.NewReadSeeker(src), src.Size(), password)
	if err != nil {
		closeQuietly("custom source", src.Close)
		return 0, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	doc := &document{src: src, textAt: src, textSize: src.Size()}
	return e.registerDocument(backend, doc, "custom"), nil
}

// CloseDocument closes a document and invalidates every page handle loaded
// from it. Each native resource is freed exactly once: pages first, then
// the document, then the custom source, and a failing step never skips the
// rest.
func (e *Engine) CloseDocument(h DocumentHandle) error {
	doc, err := e.docs.remove(uint64(h))
	if err != nil {
		return err
	}
	doc.mu.Lock()
	defer doc.mu.Unlock()
	for ph, pg := range doc.pages {
		if _, err := e.pages.remove(uint64(ph)); err == nil {
			closeQuietly("page", pg.backend.Close)
		}
		delete(doc.pages, ph)
	}
	closeQuietly("document", doc.backend.Close)
	if doc.src != nil {
		closeQuietly("custom source", doc.src.Close)
	}
	Logger.Debug("document closed", "doc", doc.id)
	return nil
}

// PageCount reports the number of pages in the document.
func (e *Engine) PageCount(h DocumentHandle) (int, error) {
	doc, err := e.docs.lookup(uint64(h))
	if err != nil {
		return 0, err
	}
	doc.mu.Lock()
	defer doc.mu.Unlock()
	return doc.backend.PageCount()
}

// LoadPage loads the page at the zero-based index and returns its handle.
func (e *Engine) LoadPage(h DocumentHandle, index int) (PageHandle, error) {
	doc, err := e.docs.lookup(uint64(h))
	if err != nil {
		return 0, err
	}
	doc.mu.Lock()
	defer doc.mu.Unlock()
	backend, err := doc.backend.LoadPage(index)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	pg := &page{doc: doc, backend: backend}
	ph := PageHandle(e.pages.insert(pg))
	doc.pages[ph] = pg
	return ph, nil
}

// ExtractText returns the concatenated plain text of every page, read with
// the pure-Go PDF parser rather than the render backend. Pages whose text
// cannot be decoded are skipped.
func (e *Engine) ExtractText(h DocumentHandle) (string, error) {
	doc, err := e.docs.lookup(uint64(h))
	if err != nil {
		return "", err
	}
	doc.mu.Lock()
	defer doc.mu.Unlock()

	var reader *pdf.Reader
	if doc.textPath != "" {
		f, r, err := pdf.Open(doc.textPath)
		if err != nil {
			return "", fmt.Errorf("unable to parse PDF for text extraction: %w", err)
		}
		defer f.Close()
		reader = r
	} else {
		r, err := pdf.NewReader(doc.textAt, doc.textSize)
		if err != nil {
			return "", fmt.Errorf("unable to parse PDF for text extraction: %w", err)
		}
		reader = r
	}

	var fullText string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			Logger.Warn("failed to extract text from page", "doc", doc.id, "page", pageNum, "error", err)
			continue
		}
		fullText += text
	}
	return fullText, nil
}
