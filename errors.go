package upkg

import (
	"errors"

	"github.com/meigma/upkg/internal/format"
)

// Re-export reference types from internal/format for the public API.
type (
	// ObjectRef references an export, an import or nothing.
	ObjectRef = format.ObjectRef

	// RefKind identifies what an ObjectRef points at.
	RefKind = format.RefKind

	// Summary is the fixed header at the start of every package.
	Summary = format.Summary

	// NameEntry is one element of a package names table.
	NameEntry = format.NameEntry
)

// Re-export reference kinds.
const (
	RefNull   = format.RefNull
	RefExport = format.RefExport
	RefImport = format.RefImport
)

// NullRef is the reference to no object.
var NullRef = format.NullRef

// Reference constructors re-exported from internal/format.
var (
	// ExportRef returns a reference to the export at a 0-based slot.
	ExportRef = format.ExportRef

	// ImportRef returns a reference to the import at a 0-based slot.
	ImportRef = format.ImportRef

	// RefFromIndex decodes a signed on-disk object index.
	RefFromIndex = format.RefFromIndex
)

// Sentinel errors re-exported from internal/format.
var (
	// ErrFormat is returned when package or mapper bytes are malformed.
	ErrFormat = format.ErrFormat

	// ErrCancelled is returned by Load when the parse was cancelled.
	ErrCancelled = format.ErrCancelled

	// ErrVersionMismatch is returned when class packages disagree on file version.
	ErrVersionMismatch = format.ErrVersionMismatch

	// ErrNotFound is returned when a package name cannot be resolved.
	ErrNotFound = format.ErrNotFound

	// ErrDecompression is returned when a compressed chunk cannot be decoded.
	ErrDecompression = format.ErrDecompression

	// ErrSizeOverflow is returned when offsets or sizes exceed supported limits.
	ErrSizeOverflow = format.ErrSizeOverflow

	// ErrUnresolved is returned when an object cannot be mapped to a reference.
	ErrUnresolved = format.ErrUnresolved
)

// Sentinel errors specific to the upkg package.
var (
	// ErrNotReady is returned when tables are accessed before Load succeeded.
	ErrNotReady = errors.New("upkg: package not loaded")

	// ErrClosed is returned when a closed package or registry is used.
	ErrClosed = errors.New("upkg: closed")
)
