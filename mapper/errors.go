package mapper

import (
	"errors"

	"github.com/meigma/upkg/internal/format"
)

var (
	// ErrCorrupt is returned when a mapper source or cache is malformed.
	// It matches format.ErrFormat.
	ErrCorrupt = format.ErrFormat

	// ErrSourceMissing is returned when neither a cache nor an encrypted
	// source exists for a table.
	ErrSourceMissing = errors.New("mapper: source file missing")
)
