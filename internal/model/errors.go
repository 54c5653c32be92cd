package model

import (
	"errors"

	"github.com/rotisserie/eris"
)

// Error kinds shared across the pipeline. Wrap them with eris and classify
// with errors.Is.
var (
	// ErrConfiguration means a required endpoint or credential is missing. Fatal to the run.
	ErrConfiguration = eris.New("configuration error")
	// ErrFetch means source readings could not be retrieved. Fatal to the run.
	ErrFetch = eris.New("fetch error")
	// ErrValidation marks a malformed record or mismatched interpolation input.
	ErrValidation = eris.New("validation error")
	// ErrNoBoundaryFile means no boundary file exists for a country.
	ErrNoBoundaryFile = eris.New("boundary file not found")
	// ErrBoundaryParse means a boundary file exists but could not be read.
	ErrBoundaryParse = eris.New("boundary file unreadable")
	// ErrGeometryEmpty means no polygon matched or no grid point survived clipping.
	ErrGeometryEmpty = eris.New("empty geometry")
)

// IsResourceMissing reports whether err stems from an absent or unparsable boundary file.
func IsResourceMissing(err error) bool {
	return errors.Is(err, ErrNoBoundaryFile) || errors.Is(err, ErrBoundaryParse)
}
