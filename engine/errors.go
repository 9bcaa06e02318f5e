package engine

import "errors"

var (
	// ErrOpen is returned when a document cannot be opened or a page
	// cannot be loaded: bad bytes, wrong or missing password, unsupported
	// structure, or an I/O failure from a custom source. The cause is
	// wrapped.
	ErrOpen = errors.New("engine: open failed")

	// ErrInvalidHandle is returned on any use of a closed, unknown, or
	// foreign handle.
	ErrInvalidHandle = errors.New("engine: invalid handle")

	// ErrDoubleClose is returned by a redundant close. The close is a
	// no-op; nothing is freed twice.
	ErrDoubleClose = errors.New("engine: handle already closed")

	// ErrRender is returned for degenerate render geometry or an engine
	// fault that was intercepted (see FlagNoCatch).
	ErrRender = errors.New("engine: render failed")

	// ErrNotInitialized is returned by Finalize or Default without a
	// matching Initialize.
	ErrNotInitialized = errors.New("engine: not initialized")
)
