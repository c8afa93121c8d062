// Package wcs holds the astrometric world-coordinate-system engine: a
// structured model of a FITS WCS header and the coordinate-transform
// dispatcher that converts between physical (pixel), world (sky) and
// standard (projection-plane) coordinates.
//
// A Model is always built fresh from a header; it deep-copies everything
// it borrows, so no caller-owned storage is aliased. Mutation happens
// through ApplySolution only, which re-derives the cached linear matrix
// and per-axis copies afterwards.
package wcs

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/litescript/ls-astrom/internal/fitshdr"
	"github.com/litescript/ls-astrom/internal/projection"
)

// Model is the parsed, structured representation of one WCS header.
type Model struct {
	params *projection.Params

	naxis   int
	crval   []float64
	crpix   []float64
	ctype   []string
	cunit   []string
	cd      []float64 // row-major naxis×naxis cached copy
	syserr  []float64
	dims    []int // image pixel extents, nil unless image origin
	tabular bool
}

// NewFromHeader builds a Model from an ordered header. It detects an
// image-style (CRVALn) or table-style (TCRVLn) WCS, delegates the card
// text to the projection parser, and caches deep copies of the derived
// fields. Headers with no recognizable WCS keywords fail with ErrNoWCS.
func NewFromHeader(h *fitshdr.Header) (*Model, error) {
	if !Available() {
		return nil, fmt.Errorf("wcs: %w", ErrUnavailable)
	}
	if h == nil || h.Len() == 0 {
		return nil, fmt.Errorf("wcs: header: %w", ErrNullInput)
	}

	image := h.HasPrefix("CRVAL")
	table := !image && h.HasPrefix("TCRVL")
	if !image && !table {
		return nil, fmt.Errorf("wcs: %w", ErrNoWCS)
	}

	text := h.Text()
	var (
		params *projection.Params
		status int
	)
	if image {
		params, status = projection.ParseImage(text)
	} else {
		params, status = projection.ParseTable(text)
	}
	if status != projection.StatusOK {
		return nil, fmt.Errorf("wcs: header parse failed (status %d): %w", status, ErrComputation)
	}

	m := &Model{params: params, naxis: params.NAxis, tabular: table}
	m.refresh()

	if image && m.naxis > 0 {
		m.dims = readImageDims(h, m.naxis)
		if m.dims == nil {
			// Pixel-grid information is incomplete: the model still
			// describes the coordinate system, but carries no axes.
			m.naxis = 0
		}
	}
	return m, nil
}

// readImageDims reads per-axis pixel extents from NAXISi, or ZNAXISi for
// tile-compressed images. Any missing or non-integral extent voids the
// whole set.
func readImageDims(h *fitshdr.Header, naxis int) []int {
	prefix := "NAXIS"
	if h.Has("ZNAXIS") {
		prefix = "ZNAXIS"
	}
	dims := make([]int, naxis)
	for i := 1; i <= naxis; i++ {
		v, ok := h.Int(fmt.Sprintf("%s%d", prefix, i))
		if !ok {
			return nil
		}
		dims[i-1] = int(v)
	}
	return dims
}

// refresh recomputes the cached derived fields from the underlying
// parameter set. It must run after construction and after every
// mutation; it always succeeds for a well-formed model.
func (m *Model) refresh() {
	p := m.params
	m.crval = append([]float64(nil), p.CRVal...)
	m.crpix = append([]float64(nil), p.CRPix...)
	m.ctype = append([]string(nil), p.CType...)
	m.cunit = append([]string(nil), p.CUnit...)
	m.cd = append([]float64(nil), p.CD...)
	m.syserr = append([]float64(nil), p.CSYEr...)
}

// NAxis returns the number of coordinate axes. Zero means no spatial
// WCS is present (a valid state for solution-only headers).
func (m *Model) NAxis() int {
	return m.naxis
}

// RefValue returns a copy of the world coordinate at the reference
// point (CRVAL), or nil when the model carries no axes.
func (m *Model) RefValue() []float64 {
	if m.naxis == 0 {
		return nil
	}
	return append([]float64(nil), m.crval...)
}

// RefPixel returns a copy of the reference pixel (CRPIX), or nil when
// the model carries no axes.
func (m *Model) RefPixel() []float64 {
	if m.naxis == 0 {
		return nil
	}
	return append([]float64(nil), m.crpix...)
}

// AxisTypes returns a copy of the per-axis type strings, or nil.
func (m *Model) AxisTypes() []string {
	if m.naxis == 0 {
		return nil
	}
	return append([]string(nil), m.ctype...)
}

// AxisUnits returns a copy of the per-axis unit strings, or nil.
func (m *Model) AxisUnits() []string {
	if m.naxis == 0 {
		return nil
	}
	return append([]string(nil), m.cunit...)
}

// SysErr returns a copy of the per-axis systematic error estimates, or
// nil.
func (m *Model) SysErr() []float64 {
	if m.naxis == 0 {
		return nil
	}
	return append([]float64(nil), m.syserr...)
}

// Matrix returns the cached pixel-to-intermediate linear matrix (the CD
// equivalent) as a dense naxis×naxis matrix, or nil when the model
// carries no axes.
func (m *Model) Matrix() *mat.Dense {
	if m.naxis == 0 {
		return nil
	}
	return mat.NewDense(m.naxis, m.naxis, append([]float64(nil), m.cd...))
}

// ImageDims returns a copy of the per-axis pixel extents, or nil for
// table-derived and solution-only headers.
func (m *Model) ImageDims() []int {
	if m.dims == nil {
		return nil
	}
	return append([]int(nil), m.dims...)
}

// TableOrigin reports whether the header came from a tabular source.
func (m *Model) TableOrigin() bool {
	return m.tabular
}

// Solution is a fitted 2-axis linear calibration to install into a
// Model: new reference point, CD block and per-axis error estimates.
type Solution struct {
	RefPixel [2]float64
	RefValue [2]float64
	CD       [4]float64 // row-major 2×2
	SysErr   [2]float64
}

// ApplySolution installs a fitted plate solution, replacing the
// reference point, the linear matrix and the systematic error
// estimates, then recomputes all derived fields.
func (m *Model) ApplySolution(sol Solution) error {
	if !Available() {
		return fmt.Errorf("wcs: %w", ErrUnavailable)
	}
	if m == nil || m.params == nil {
		return fmt.Errorf("wcs: model: %w", ErrNullInput)
	}
	if m.params.NAxis != 2 {
		return fmt.Errorf("wcs: apply solution to %d-axis model: %w", m.params.NAxis, ErrIncompatibleInput)
	}
	p := m.params
	p.CRPix[0], p.CRPix[1] = sol.RefPixel[0], sol.RefPixel[1]
	p.CRVal[0], p.CRVal[1] = sol.RefValue[0], sol.RefValue[1]
	p.CSYEr[0], p.CSYEr[1] = sol.SysErr[0], sol.SysErr[1]
	p.SetCD(sol.CD[:])
	if status := p.Set(); status != projection.StatusOK {
		return fmt.Errorf("wcs: apply solution (status %d): %w", status, ErrComputation)
	}
	m.refresh()
	return nil
}

// HeaderText serializes the model back into 80-column card text via the
// projection engine.
func (m *Model) HeaderText() (string, error) {
	if !Available() {
		return "", fmt.Errorf("wcs: %w", ErrUnavailable)
	}
	if m == nil || m.params == nil {
		return "", fmt.Errorf("wcs: model: %w", ErrNullInput)
	}
	text, status := m.params.Serialize()
	if status != projection.StatusOK {
		return "", fmt.Errorf("wcs: serialize (status %d): %w", status, ErrComputation)
	}
	return text, nil
}

// Deproject inverts the spherical projection for a single intermediate
// coordinate pair, returning celestial world coordinates.
func (m *Model) Deproject(x, y float64) (lng, lat float64, err error) {
	if !Available() {
		return 0, 0, fmt.Errorf("wcs: %w", ErrUnavailable)
	}
	if m == nil || m.params == nil {
		return 0, 0, fmt.Errorf("wcs: model: %w", ErrNullInput)
	}
	lng, lat, status := m.params.X2S(x, y)
	if status != projection.StatusOK {
		return 0, 0, fmt.Errorf("wcs: deproject (status %d): %w", status, ErrComputation)
	}
	return lng, lat, nil
}
