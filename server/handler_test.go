package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/drummonds/gopdfrender/config"
	"github.com/drummonds/gopdfrender/engine"
	"github.com/drummonds/gopdfrender/engine/pdfrenderer"
)

// fakeRenderer keeps the handler tests hermetic: documents must start with
// "%PDF", pages are 612x792 and render solid opaque red.
type fakeRenderer struct{}

func (fakeRenderer) open(data []byte, password string) (pdfrenderer.Document, error) {
	if password != "" {
		return nil, pdfrenderer.ErrBadPassword
	}
	if !strings.HasPrefix(string(data), "%PDF") {
		return nil, errors.New("not a PDF")
	}
	return fakeDocument{}, nil
}

func (r fakeRenderer) OpenFile(path, password string) (pdfrenderer.Document, error) {
	return r.open([]byte("%PDF-fake"), password)
}

func (r fakeRenderer) OpenMemory(data []byte, password string) (pdfrenderer.Document, error) {
	return r.open(data, password)
}

func (r fakeRenderer) OpenReader(rs io.ReadSeeker, size int64, password string) (pdfrenderer.Document, error) {
	data, err := io.ReadAll(rs)
	if err != nil {
		return nil, err
	}
	return r.open(data, password)
}

func (fakeRenderer) Close() error { return nil }

type fakeDocument struct{}

func (fakeDocument) PageCount() (int, error) { return 2, nil }

func (fakeDocument) LoadPage(index int) (pdfrenderer.Page, error) {
	if index < 0 || index >= 2 {
		return nil, fmt.Errorf("page index %d out of range", index)
	}
	return fakePage{}, nil
}

func (fakeDocument) Close() error { return nil }

type fakePage struct{}

func (fakePage) Width() float64  { return 612 }
func (fakePage) Height() float64 { return 792 }
func (fakePage) Rotation() int   { return 0 }

func (fakePage) Render(width, height int, flags pdfrenderer.RenderFlags) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = 255
		img.Pix[i+3] = 255
	}
	return img, nil
}

func (fakePage) Close() error { return nil }

func newTestHandler(t *testing.T) *ServerHandler {
	t.Helper()
	eng := engine.New(fakeRenderer{})
	t.Cleanup(func() { eng.Close() })
	h := &ServerHandler{
		Echo:         echo.New(),
		ServerConfig: config.ServerConfig{MaxUploadMB: 1},
		Engine:       eng,
	}
	h.RegisterRoutes()
	return h
}

// call performs one JSON request against the handler and decodes the reply
// into out (which may be nil).
func call(t *testing.T, h *ServerHandler, method, path string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	h.Echo.ServeHTTP(rec, req)
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code
}

// openTestDocument opens the standard fake document over the API.
func openTestDocument(t *testing.T, h *ServerHandler) uint64 {
	t.Helper()
	var resp handleResponse
	code := call(t, h, http.MethodPost, "/api/document/data", openDataRequest{
		Data: base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 fake")),
	}, &resp)
	if code != http.StatusOK {
		t.Fatalf("open document: got status %d", code)
	}
	if resp.Handle == 0 {
		t.Fatal("open document returned the zero handle")
	}
	return resp.Handle
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t)
	var resp map[string]string
	if code := call(t, h, http.MethodGet, "/health", nil, &resp); code != http.StatusOK {
		t.Fatalf("health: got status %d", code)
	}
	if resp["status"] != "healthy" {
		t.Errorf("health status: got %q", resp["status"])
	}
}

func TestOpenDataAndPageCount(t *testing.T) {
	h := newTestHandler(t)
	handle := openTestDocument(t, h)

	var resp map[string]int
	code := call(t, h, http.MethodGet, fmt.Sprintf("/api/document/%d/pages", handle), nil, &resp)
	if code != http.StatusOK {
		t.Fatalf("page count: got status %d", code)
	}
	if resp["pageCount"] != 2 {
		t.Errorf("pageCount: got %d, want 2", resp["pageCount"])
	}
}

func TestOpenDataRejectsBadInput(t *testing.T) {
	h := newTestHandler(t)

	t.Run("missing data", func(t *testing.T) {
		if code := call(t, h, http.MethodPost, "/api/document/data", openDataRequest{}, nil); code != http.StatusBadRequest {
			t.Errorf("got status %d, want 400", code)
		}
	})

	t.Run("invalid base64", func(t *testing.T) {
		code := call(t, h, http.MethodPost, "/api/document/data", openDataRequest{Data: "!!not base64!!"}, nil)
		if code != http.StatusBadRequest {
			t.Errorf("got status %d, want 400", code)
		}
	})

	t.Run("not a pdf", func(t *testing.T) {
		code := call(t, h, http.MethodPost, "/api/document/data", openDataRequest{
			Data: base64.StdEncoding.EncodeToString([]byte("plain text")),
		}, nil)
		if code != http.StatusUnprocessableEntity {
			t.Errorf("got status %d, want 422", code)
		}
	})

	t.Run("over upload limit", func(t *testing.T) {
		big := append([]byte("%PDF"), make([]byte, 2<<20)...)
		code := call(t, h, http.MethodPost, "/api/document/data", openDataRequest{
			Data: base64.StdEncoding.EncodeToString(big),
		}, nil)
		if code != http.StatusRequestEntityTooLarge {
			t.Errorf("got status %d, want 413", code)
		}
	})
}

// callRaw performs one request with a raw (non-JSON) body.
func callRaw(t *testing.T, h *ServerHandler, method, path string, body []byte, out any) int {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(string(body)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEOctetStream)
	rec := httptest.NewRecorder()
	h.Echo.ServeHTTP(rec, req)
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code
}

func TestOpenCustom(t *testing.T) {
	h := newTestHandler(t)

	var resp handleResponse
	code := callRaw(t, h, http.MethodPost, "/api/document/custom", []byte("%PDF-1.4 streamed"), &resp)
	if code != http.StatusOK {
		t.Fatalf("open custom: got status %d", code)
	}
	if resp.Handle == 0 {
		t.Fatal("open custom returned the zero handle")
	}

	var pages map[string]int
	code = call(t, h, http.MethodGet, fmt.Sprintf("/api/document/%d/pages", resp.Handle), nil, &pages)
	if code != http.StatusOK || pages["pageCount"] != 2 {
		t.Errorf("page count over custom source: status %d, count %d", code, pages["pageCount"])
	}

	if code := call(t, h, http.MethodPost, "/api/document/close", handleRequest{Handle: resp.Handle}, nil); code != http.StatusOK {
		t.Errorf("close custom document: got status %d", code)
	}
}

func TestOpenCustomRejectsBadInput(t *testing.T) {
	h := newTestHandler(t)

	t.Run("empty body", func(t *testing.T) {
		if code := callRaw(t, h, http.MethodPost, "/api/document/custom", nil, nil); code != http.StatusBadRequest {
			t.Errorf("got status %d, want 400", code)
		}
	})

	t.Run("not a pdf", func(t *testing.T) {
		if code := callRaw(t, h, http.MethodPost, "/api/document/custom", []byte("plain text"), nil); code != http.StatusUnprocessableEntity {
			t.Errorf("got status %d, want 422", code)
		}
	})

	t.Run("over upload limit", func(t *testing.T) {
		big := append([]byte("%PDF"), make([]byte, 2<<20)...)
		if code := callRaw(t, h, http.MethodPost, "/api/document/custom", big, nil); code != http.StatusRequestEntityTooLarge {
			t.Errorf("got status %d, want 413", code)
		}
	})
}

func TestLoadPageAndGeometry(t *testing.T) {
	h := newTestHandler(t)
	doc := openTestDocument(t, h)

	var page pageResponse
	code := call(t, h, http.MethodPost, "/api/page/load", loadPageRequest{Document: doc, Index: 0}, &page)
	if code != http.StatusOK {
		t.Fatalf("load page: got status %d", code)
	}
	if page.Width != 612 || page.Height != 792 || page.Rotation != 0 {
		t.Errorf("page geometry: got %+v", page)
	}

	var again pageResponse
	code = call(t, h, http.MethodGet, fmt.Sprintf("/api/page/%d", page.Handle), nil, &again)
	if code != http.StatusOK || again != page {
		t.Errorf("page lookup: status %d, got %+v, want %+v", code, again, page)
	}
}

func TestRenderReturnsPixels(t *testing.T) {
	h := newTestHandler(t)
	doc := openTestDocument(t, h)

	var page pageResponse
	call(t, h, http.MethodPost, "/api/page/load", loadPageRequest{Document: doc, Index: 0}, &page)

	var resp renderResponse
	code := call(t, h, http.MethodPost, "/api/page/render", renderRequest{
		Page:   page.Handle,
		Width:  16,
		Height: 16,
	}, &resp)
	if code != http.StatusOK {
		t.Fatalf("render: got status %d, error %q", code, resp.Error)
	}
	if resp.Result != 1 {
		t.Fatalf("render result: got %d, want 1", resp.Result)
	}
	pix, err := base64.StdEncoding.DecodeString(resp.Data)
	if err != nil {
		t.Fatalf("render data is not base64: %v", err)
	}
	if len(pix) != resp.Stride*resp.Height {
		t.Fatalf("render data holds %d bytes, want stride*height = %d", len(pix), resp.Stride*resp.Height)
	}
	// Default format is BGRA and the fake page paints red.
	if resp.Format != "bgra" {
		t.Errorf("render format: got %q, want bgra", resp.Format)
	}
	if pix[0] != 0 || pix[2] != 255 {
		t.Errorf("first pixel: got % d, want red in BGRA order", pix[:4])
	}
}

func TestRenderPNG(t *testing.T) {
	h := newTestHandler(t)
	doc := openTestDocument(t, h)

	var page pageResponse
	call(t, h, http.MethodPost, "/api/page/load", loadPageRequest{Document: doc, Index: 0}, &page)

	var resp renderResponse
	code := call(t, h, http.MethodPost, "/api/page/render/png", renderRequest{
		Page:   page.Handle,
		Width:  16,
		Height: 16,
	}, &resp)
	if code != http.StatusOK || resp.Result != 1 {
		t.Fatalf("render png: status %d, result %d, error %q", code, resp.Result, resp.Error)
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data)
	if err != nil {
		t.Fatalf("png data is not base64: %v", err)
	}
	if !strings.HasPrefix(string(data), "\x89PNG") {
		t.Errorf("response is not a PNG stream: % x", data[:min(8, len(data))])
	}
}

func TestRenderErrors(t *testing.T) {
	h := newTestHandler(t)
	doc := openTestDocument(t, h)

	var page pageResponse
	call(t, h, http.MethodPost, "/api/page/load", loadPageRequest{Document: doc, Index: 0}, &page)

	t.Run("unknown format", func(t *testing.T) {
		var resp renderResponse
		code := call(t, h, http.MethodPost, "/api/page/render", renderRequest{
			Page: page.Handle, Width: 8, Height: 8, Format: "cmyk",
		}, &resp)
		if code != http.StatusBadRequest || resp.Result != 0 {
			t.Errorf("status %d, result %d, want 400 and 0", code, resp.Result)
		}
	})

	t.Run("unknown page handle", func(t *testing.T) {
		var resp renderResponse
		code := call(t, h, http.MethodPost, "/api/page/render", renderRequest{
			Page: 99999, Width: 8, Height: 8,
		}, &resp)
		if code != http.StatusNotFound || resp.Result != 0 {
			t.Errorf("status %d, result %d, want 404 and 0", code, resp.Result)
		}
	})

	t.Run("degenerate geometry", func(t *testing.T) {
		var resp renderResponse
		code := call(t, h, http.MethodPost, "/api/page/render", renderRequest{
			Page: page.Handle, Width: 0, Height: 8,
		}, &resp)
		if code != http.StatusBadRequest || resp.Result != 0 {
			t.Errorf("status %d, result %d, want 400 and 0", code, resp.Result)
		}
	})
}

func TestCloseDocumentTwice(t *testing.T) {
	h := newTestHandler(t)
	doc := openTestDocument(t, h)

	if code := call(t, h, http.MethodPost, "/api/document/close", handleRequest{Handle: doc}, nil); code != http.StatusOK {
		t.Fatalf("close: got status %d", code)
	}
	if code := call(t, h, http.MethodPost, "/api/document/close", handleRequest{Handle: doc}, nil); code != http.StatusConflict {
		t.Errorf("second close: got status %d, want 409", code)
	}
	code := call(t, h, http.MethodGet, fmt.Sprintf("/api/document/%d/pages", doc), nil, nil)
	if code != http.StatusNotFound {
		t.Errorf("page count of closed document: got status %d, want 404", code)
	}
}

func TestBufferAllocateFree(t *testing.T) {
	h := newTestHandler(t)

	var resp allocateResponse
	if code := call(t, h, http.MethodPost, "/api/buffer/allocate", allocateRequest{Size: 4096}, &resp); code != http.StatusOK {
		t.Fatalf("allocate: got status %d", code)
	}
	if resp.Address == 0 {
		t.Fatal("allocate returned the null address")
	}

	if code := call(t, h, http.MethodPost, "/api/buffer/free", resp, nil); code != http.StatusOK {
		t.Fatalf("free: got status %d", code)
	}
	if code := call(t, h, http.MethodPost, "/api/buffer/free", resp, nil); code != http.StatusNotFound {
		t.Errorf("second free: got status %d, want 404", code)
	}

	if code := call(t, h, http.MethodPost, "/api/buffer/allocate", allocateRequest{Size: -1}, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("allocate with bad size: got status %d, want 422", code)
	}
}
