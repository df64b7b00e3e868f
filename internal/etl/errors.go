package etl

import "errors"

// Run-level and record-level error classes. Fatal errors returned by
// Engine.Run wrap one of these, so callers classify with errors.Is.
var (
	// ErrConfig indicates invalid input: missing store URL, no sources,
	// or a transform that cannot be loaded.
	ErrConfig = errors.New("configuration error")

	// ErrSource indicates a source could not be read.
	ErrSource = errors.New("source error")

	// ErrHook indicates beforeImport or afterImport failed.
	ErrHook = errors.New("hook error")

	// ErrRecord indicates a single record could not be transformed or written.
	// It is never returned by Engine.Run; the record is counted as failed.
	ErrRecord = errors.New("record error")

	// ErrStoreUnavailable indicates the target store could not be reached.
	ErrStoreUnavailable = errors.New("target store unavailable")
)
