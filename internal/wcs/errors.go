package wcs

import "errors"

// Error taxonomy for the WCS engine. Callers match with errors.Is; the
// wrapped messages carry the underlying numeric status codes and calling
// context for diagnostics.
var (
	// ErrUnavailable reports that the WCS subsystem is disabled for this
	// process (see Available).
	ErrUnavailable = errors.New("wcs subsystem unavailable")

	// ErrNullInput reports a required argument or required header
	// content that is absent.
	ErrNullInput = errors.New("null input")

	// ErrIllegalInput reports an argument violating a documented
	// constraint.
	ErrIllegalInput = errors.New("illegal input")

	// ErrIncompatibleInput reports two arguments that must agree in
	// shape or axis count but do not.
	ErrIncompatibleInput = errors.New("incompatible input")

	// ErrNoWCS reports a header with no recognizable WCS keywords.
	ErrNoWCS = errors.New("no WCS present in header")

	// ErrInsufficientPoints reports fewer matched points than the fit
	// needs.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrDataNotFound reports that no usable data remained (all points
	// rejected).
	ErrDataNotFound = errors.New("data not found")

	// ErrUnsupportedMode reports a conversion mode outside the defined
	// set.
	ErrUnsupportedMode = errors.New("unsupported conversion mode")

	// ErrComputation reports a non-decodable failure in the underlying
	// projection engine.
	ErrComputation = errors.New("unspecified computation error")
)
