package native

import "errors"

// Sentinel errors the loader's validation sequence can fail with, wrapped
// with %w alongside the offending name/value by loadFromHandle and its
// helpers.
var (
	ErrMissingDescriptor      = errors.New("missing module descriptor")
	ErrInvalidDescriptor      = errors.New("invalid descriptor")
	ErrInvalidABI             = errors.New("abi version mismatch")
	ErrInvalidExportsHash     = errors.New("exports_hash mismatch")
	ErrDuplicateExport        = errors.New("duplicate export")
	ErrInvalidFunctionPointer = errors.New("invalid function pointer")
	ErrCStringTooLong         = errors.New("native: C string exceeds max length without a nul terminator")
)
