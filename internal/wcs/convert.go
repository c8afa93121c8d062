package wcs

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/litescript/ls-astrom/internal/projection"
)

// ConvertMode selects the coordinate transformation performed by
// Convert. The standard-coordinate modes stop one stage short of the
// full spherical projection and report projection-plane coordinates,
// the residual space of the linear plate model.
type ConvertMode int

const (
	// PhysToWorld converts pixel coordinates to sky coordinates.
	PhysToWorld ConvertMode = iota
	// WorldToPhys converts sky coordinates to pixel coordinates.
	WorldToPhys
	// WorldToStd converts sky coordinates to standard coordinates.
	WorldToStd
	// PhysToStd converts pixel coordinates to standard coordinates.
	PhysToStd
)

func (m ConvertMode) String() string {
	switch m {
	case PhysToWorld:
		return "phys→world"
	case WorldToPhys:
		return "world→phys"
	case WorldToStd:
		return "world→std"
	case PhysToStd:
		return "phys→std"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Convert transforms each row of in (one point per row, one axis per
// column) according to mode, returning an output matrix of the same
// shape and a per-point status array (non-zero marks a point the
// projection engine could not transform).
//
// Both outputs are allocated even when some points fail, so callers can
// inspect exactly which rows went bad; the returned error then reports
// the underlying numeric status. Only an unsupported mode returns
// without allocating anything.
func Convert(m *Model, in *mat.Dense, mode ConvertMode) (*mat.Dense, []int, error) {
	if !Available() {
		return nil, nil, fmt.Errorf("wcs: %w", ErrUnavailable)
	}
	switch mode {
	case PhysToWorld, WorldToPhys, WorldToStd, PhysToStd:
	default:
		return nil, nil, fmt.Errorf("wcs: convert %v: %w", mode, ErrUnsupportedMode)
	}
	if m == nil || m.params == nil {
		return nil, nil, fmt.Errorf("wcs: convert %v: model: %w", mode, ErrNullInput)
	}
	if in == nil {
		return nil, nil, fmt.Errorf("wcs: convert %v: input: %w", mode, ErrNullInput)
	}
	rows, cols := in.Dims()
	if rows == 0 || cols == 0 {
		// Unreachable through the public fitting path; kept as a
		// defensive check on the raw dispatcher.
		return nil, nil, fmt.Errorf("wcs: convert %v: empty input matrix: %w", mode, ErrComputation)
	}
	if m.naxis == 0 || cols != m.naxis {
		return nil, nil, fmt.Errorf("wcs: convert %v: input has %d columns, model has %d axes: %w",
			mode, cols, m.naxis, ErrIncompatibleInput)
	}

	flat := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			flat[r*cols+c] = in.At(r, c)
		}
	}

	var (
		data   []float64
		stat   []int
		status int
	)
	switch mode {
	case PhysToWorld:
		_, data, stat, status = m.params.P2S(rows, flat)
	case PhysToStd:
		data, _, stat, status = m.params.P2S(rows, flat)
	case WorldToPhys:
		_, data, stat, status = m.params.S2P(rows, flat)
	case WorldToStd:
		data, _, stat, status = m.params.S2P(rows, flat)
	}

	// Outputs exist regardless of how the projection call went.
	if data == nil {
		data = make([]float64, rows*cols)
	}
	if stat == nil {
		stat = make([]int, rows)
	}
	out := mat.NewDense(rows, cols, data)

	switch status {
	case projection.StatusOK:
		return out, stat, nil
	case projection.StatusNullInput:
		return out, stat, fmt.Errorf("wcs: convert %v failed (status %d): %w", mode, status, ErrNullInput)
	default:
		return out, stat, fmt.Errorf("wcs: convert %v failed (status %d): %w", mode, status, ErrComputation)
	}
}
