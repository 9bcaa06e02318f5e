// Package server is the host integration shim: it maps method names onto
// the engine's handle operations and marshals handles as integers and pixel
// buffers as base64 across the HTTP boundary. It owns argument decoding and
// result encoding only; every semantic lives in the engine.
package server

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/drummonds/gopdfrender/config"
	"github.com/drummonds/gopdfrender/engine"
	"github.com/drummonds/gopdfrender/membuf"
	"github.com/drummonds/gopdfrender/source"
)

// Logger is injected from main; defaults to discard for tests.
var Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// ServerHandler will inject the variables needed into routes
type ServerHandler struct {
	Echo         *echo.Echo
	ServerConfig config.ServerConfig
	Engine       *engine.Engine
}

type openFileRequest struct {
	Path     string `json:"path"`
	Password string `json:"password"`
}

type openDataRequest struct {
	Data     string `json:"data"` // base64 encoded PDF bytes
	Password string `json:"password"`
}

type handleResponse struct {
	Handle uint64 `json:"handle"`
}

type handleRequest struct {
	Handle uint64 `json:"handle"`
}

type loadPageRequest struct {
	Document uint64 `json:"document"`
	Index    int    `json:"index"`
}

type pageResponse struct {
	Handle   uint64  `json:"handle"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation int     `json:"rotation"`
}

type renderRequest struct {
	Page       uint64 `json:"page"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	FullWidth  int    `json:"fullWidth"`  // bitmap width, defaults to width
	FullHeight int    `json:"fullHeight"` // bitmap height, defaults to height
	Rotation   int    `json:"rotation"`   // clockwise quarter turns 0..3
	Flags      uint32 `json:"flags"`
	Format     string `json:"format"` // gray|bgr|bgra|rgb|rgba, default bgra
}

type renderResponse struct {
	// Result keeps the engine's original integer convention: 0 failure,
	// 1 success.
	Result int    `json:"result"`
	Error  string `json:"error,omitempty"`
	Data   string `json:"data,omitempty"` // base64 raw pixel rows
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Stride int    `json:"stride,omitempty"`
	Format string `json:"format,omitempty"`
}

type allocateRequest struct {
	Size int `json:"size"`
}

type allocateResponse struct {
	Address uint64 `json:"address"`
}

// RegisterRoutes wires the method surface onto echo.
func (serverHandler *ServerHandler) RegisterRoutes() {
	e := serverHandler.Echo
	e.GET("/health", serverHandler.Health)

	// Document methods; route names follow the host channel methods.
	e.POST("/api/document/file", serverHandler.OpenFile)
	e.POST("/api/document/data", serverHandler.OpenData)
	e.POST("/api/document/custom", serverHandler.OpenCustom)
	e.POST("/api/document/close", serverHandler.CloseDocument)
	e.GET("/api/document/:handle/pages", serverHandler.GetPageCount)
	e.GET("/api/document/:handle/text", serverHandler.GetText)

	// Page methods.
	e.POST("/api/page/load", serverHandler.LoadPage)
	e.POST("/api/page/close", serverHandler.ClosePage)
	e.GET("/api/page/:handle", serverHandler.GetPage)
	e.POST("/api/page/render", serverHandler.Render)
	e.POST("/api/page/render/png", serverHandler.RenderPNG)

	// Raw buffer helpers for zero-copy hosts sharing the process.
	e.POST("/api/buffer/allocate", serverHandler.AllocateBuffer)
	e.POST("/api/buffer/free", serverHandler.FreeBuffer)
}

// Health reports liveness, mirroring the sibling services.
func (serverHandler *ServerHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// statusFor maps engine errors onto HTTP statuses at the boundary.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidHandle):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrDoubleClose):
		return http.StatusConflict
	case errors.Is(err, engine.ErrOpen):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrRender):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func jsonError(c echo.Context, err error) error {
	return c.JSON(statusFor(err), map[string]string{"error": err.Error()})
}

// OpenFile opens a document from a path on the server ("file" method).
func (serverHandler *ServerHandler) OpenFile(c echo.Context) error {
	var req openFileRequest
	if err := c.Bind(&req); err != nil || req.Path == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "path is required"})
	}
	handle, err := serverHandler.Engine.OpenFile(req.Path, req.Password)
	if err != nil {
		Logger.Warn("open file failed", "path", req.Path, "error", err)
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, handleResponse{Handle: uint64(handle)})
}

// OpenData opens a document from uploaded bytes ("data" method).
func (serverHandler *ServerHandler) OpenData(c echo.Context) error {
	var req openDataRequest
	if err := c.Bind(&req); err != nil || req.Data == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "data is required"})
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "data is not valid base64"})
	}
	if limit := serverHandler.ServerConfig.MaxUploadMB; limit > 0 && len(data) > limit<<20 {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "document exceeds upload limit"})
	}
	handle, err := serverHandler.Engine.OpenMemory(data, req.Password)
	if err != nil {
		Logger.Warn("open data failed", "size", len(data), "error", err)
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, handleResponse{Handle: uint64(handle)})
}

// OpenCustom opens a document from a raw request body ("custom" method).
// The body is spooled to a temporary file and served to the engine through
// the pull-based source adapter; the spool file is removed exactly once,
// when the document closes or the open fails.
func (serverHandler *ServerHandler) OpenCustom(c echo.Context) error {
	password := c.QueryParam("password")

	spool, err := os.CreateTemp("", "gopdfrender-*.pdf")
	if err != nil {
		Logger.Error("unable to create spool file", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "unable to spool upload"})
	}
	discardSpool := func() {
		spool.Close()
		os.Remove(spool.Name())
	}

	limit := int64(serverHandler.ServerConfig.MaxUploadMB) << 20
	body := c.Request().Body
	var size int64
	if limit > 0 {
		size, err = io.Copy(spool, io.LimitReader(body, limit+1))
	} else {
		size, err = io.Copy(spool, body)
	}
	if err != nil {
		discardSpool()
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unable to read upload"})
	}
	if limit > 0 && size > limit {
		discardSpool()
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "document exceeds upload limit"})
	}
	if size == 0 {
		discardSpool()
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "document body is required"})
	}

	src := source.New(size, spool.ReadAt, discardSpool)
	handle, err := serverHandler.Engine.OpenCustom(src, password)
	if err != nil {
		// The engine released the source, which removed the spool file.
		Logger.Warn("open custom failed", "size", size, "error", err)
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, handleResponse{Handle: uint64(handle)})
}

// CloseDocument closes a document handle ("close" method).
func (serverHandler *ServerHandler) CloseDocument(c echo.Context) error {
	var req handleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "handle is required"})
	}
	if err := serverHandler.Engine.CloseDocument(engine.DocumentHandle(req.Handle)); err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "closed"})
}

func parseHandleParam(c echo.Context) (uint64, error) {
	return strconv.ParseUint(c.Param("handle"), 10, 64)
}

// GetPageCount reports the page count of an open document.
func (serverHandler *ServerHandler) GetPageCount(c echo.Context) error {
	handle, err := parseHandleParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad handle"})
	}
	count, err := serverHandler.Engine.PageCount(engine.DocumentHandle(handle))
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"pageCount": count})
}

// GetText returns the document's plain text.
func (serverHandler *ServerHandler) GetText(c echo.Context) error {
	handle, err := parseHandleParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad handle"})
	}
	text, err := serverHandler.Engine.ExtractText(engine.DocumentHandle(handle))
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"text": text})
}

// LoadPage loads a page and returns its handle and geometry in one round
// trip, saving the host three follow-up calls.
func (serverHandler *ServerHandler) LoadPage(c echo.Context) error {
	var req loadPageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "document and index are required"})
	}
	handle, err := serverHandler.Engine.LoadPage(engine.DocumentHandle(req.Document), req.Index)
	if err != nil {
		return jsonError(c, err)
	}
	return serverHandler.pageResponse(c, handle)
}

// GetPage reports a loaded page's geometry.
func (serverHandler *ServerHandler) GetPage(c echo.Context) error {
	handle, err := parseHandleParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad handle"})
	}
	return serverHandler.pageResponse(c, engine.PageHandle(handle))
}

func (serverHandler *ServerHandler) pageResponse(c echo.Context, handle engine.PageHandle) error {
	width, err := serverHandler.Engine.PageWidth(handle)
	if err != nil {
		return jsonError(c, err)
	}
	height, err := serverHandler.Engine.PageHeight(handle)
	if err != nil {
		return jsonError(c, err)
	}
	rotation, err := serverHandler.Engine.PageRotation(handle)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, pageResponse{
		Handle:   uint64(handle),
		Width:    width,
		Height:   height,
		Rotation: rotation,
	})
}

// ClosePage closes a page handle.
func (serverHandler *ServerHandler) ClosePage(c echo.Context) error {
	var req handleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "handle is required"})
	}
	if err := serverHandler.Engine.ClosePage(engine.PageHandle(req.Handle)); err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "closed"})
}

func pixelFormatByName(name string) engine.PixelFormat {
	switch name {
	case "gray":
		return engine.PixelFormatGray
	case "bgr":
		return engine.PixelFormatBGR
	case "", "bgra":
		return engine.PixelFormatBGRA
	case "rgb":
		return engine.PixelFormatRGB
	case "rgba":
		return engine.PixelFormatRGBA
	}
	return engine.PixelFormatInvalid
}

// renderToBitmap runs one render request against a fresh owned bitmap and
// hands back the raw pixel rows. The bitmap lives only for the request; the
// returned slice stays valid after release since owned memory is never
// reused.
func (serverHandler *ServerHandler) renderToBitmap(req renderRequest) (renderResponse, []byte, error) {
	format := pixelFormatByName(req.Format)
	if format == engine.PixelFormatInvalid {
		return renderResponse{}, nil, echo.NewHTTPError(http.StatusBadRequest, "unknown pixel format")
	}
	if req.FullWidth == 0 {
		req.FullWidth = req.Width
	}
	if req.FullHeight == 0 {
		req.FullHeight = req.Height
	}
	if req.Width <= 0 || req.Height <= 0 || req.FullWidth <= 0 || req.FullHeight <= 0 {
		return renderResponse{}, nil, echo.NewHTTPError(http.StatusBadRequest, "degenerate render size")
	}

	eng := serverHandler.Engine
	bmp, err := eng.CreateBitmap(req.FullWidth, req.FullHeight, format, 0, nil, nil)
	if err != nil {
		return renderResponse{}, nil, err
	}
	defer eng.ReleaseBitmap(bmp)

	err = eng.RenderPage(engine.PageHandle(req.Page), bmp,
		req.X, req.Y, req.Width, req.Height,
		engine.Rotation(req.Rotation), engine.RenderFlags(req.Flags))
	if err != nil {
		return renderResponse{}, nil, err
	}

	pix, err := eng.BitmapBuffer(bmp)
	if err != nil {
		return renderResponse{}, nil, err
	}
	stride, _ := eng.BitmapStride(bmp)
	return renderResponse{
		Result: 1,
		Width:  req.FullWidth,
		Height: req.FullHeight,
		Stride: stride,
		Format: format.String(),
	}, pix, nil
}

// Render rasterizes a page region and returns the raw pixel rows.
func (serverHandler *ServerHandler) Render(c echo.Context) error {
	var req renderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, renderResponse{Result: 0, Error: "bad render request"})
	}
	resp, pix, err := serverHandler.renderToBitmap(req)
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return c.JSON(httpErr.Code, renderResponse{Result: 0, Error: httpErr.Error()})
		}
		Logger.Warn("render failed", "page", req.Page, "error", err)
		return c.JSON(statusFor(err), renderResponse{Result: 0, Error: err.Error()})
	}
	resp.Data = base64.StdEncoding.EncodeToString(pix)
	return c.JSON(http.StatusOK, resp)
}

// RenderPNG rasterizes a page region and returns a base64 PNG, mirroring
// the to-image responses of the sibling services.
func (serverHandler *ServerHandler) RenderPNG(c echo.Context) error {
	var req renderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, renderResponse{Result: 0, Error: "bad render request"})
	}
	req.Format = "rgba"
	resp, pix, err := serverHandler.renderToBitmap(req)
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return c.JSON(httpErr.Code, renderResponse{Result: 0, Error: httpErr.Error()})
		}
		return c.JSON(statusFor(err), renderResponse{Result: 0, Error: err.Error()})
	}

	img := &image.RGBA{Pix: pix, Stride: resp.Stride, Rect: image.Rect(0, 0, resp.Width, resp.Height)}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return c.JSON(http.StatusInternalServerError, renderResponse{Result: 0, Error: err.Error()})
	}
	return c.JSON(http.StatusOK, renderResponse{
		Result: 1,
		Data:   base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:  resp.Width,
		Height: resp.Height,
		Format: "png",
	})
}

// AllocateBuffer reserves a raw block for zero-copy interop.
func (serverHandler *ServerHandler) AllocateBuffer(c echo.Context) error {
	var req allocateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "size is required"})
	}
	addr, err := membuf.Allocate(req.Size)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, allocateResponse{Address: uint64(addr)})
}

// FreeBuffer releases a raw block.
func (serverHandler *ServerHandler) FreeBuffer(c echo.Context) error {
	var req allocateResponse
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "address is required"})
	}
	if err := membuf.Free(membuf.Address(req.Address)); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "freed"})
}
