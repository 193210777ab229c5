package format

import "errors"

// Sentinel errors shared by every layer of the loader.
var (
	// ErrFormat is returned when archive or mapper bytes are malformed.
	ErrFormat = errors.New("upkg: malformed data")

	// ErrCancelled is returned when a header parse was aborted by a cancel request.
	ErrCancelled = errors.New("upkg: load cancelled")

	// ErrVersionMismatch is returned when class packages disagree on file version.
	ErrVersionMismatch = errors.New("upkg: package version mismatch")

	// ErrNotFound is returned when a package name cannot be resolved.
	ErrNotFound = errors.New("upkg: package not found")

	// ErrDecompression is returned when a compressed chunk cannot be decoded.
	ErrDecompression = errors.New("upkg: decompression failed")

	// ErrSizeOverflow is returned when offsets or sizes exceed supported limits.
	ErrSizeOverflow = errors.New("upkg: size overflow")

	// ErrUnresolved marks an import that could not be satisfied.
	ErrUnresolved = errors.New("upkg: unresolved reference")
)
