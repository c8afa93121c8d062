// Package platesol derives a linear astrometric calibration (zero
// point, scale, rotation and optionally shear) from matched pixel/sky
// coordinate pairs.
//
// The fitter converts the sky positions into standard (projection-
// plane) coordinates through the current WCS, fits an affine relation
// against the pixel positions, iterates with robust outlier rejection,
// re-anchors the reference point, and emits a fresh header carrying the
// updated solution as a CD matrix.
package platesol

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/litescript/ls-astrom/internal/fitshdr"
	"github.com/litescript/ls-astrom/internal/wcs"
)

// FitMode selects the affine model fitted to the matched points.
type FitMode int

const (
	// Fit4 constrains both axes to a shared scale and rotation.
	Fit4 FitMode = iota
	// Fit6 fits the two axes independently (scale, rotation and shear).
	Fit6
)

func (m FitMode) String() string {
	switch m {
	case Fit4:
		return "4-parameter"
	case Fit6:
		return "6-parameter"
	default:
		return fmt.Sprintf("fit(%d)", int(m))
	}
}

// OriginMode selects which half of the reference point the solution
// moves.
type OriginMode int

const (
	// MoveRefValue keeps the reference pixel and recomputes the world
	// coordinate found there.
	MoveRefValue OriginMode = iota
	// MoveRefPixel keeps the reference world value and solves for the
	// pixel position that maps onto it.
	MoveRefPixel
)

func (m OriginMode) String() string {
	switch m {
	case MoveRefValue:
		return "move-ref-value"
	case MoveRefPixel:
		return "move-ref-pixel"
	default:
		return fmt.Sprintf("origin(%d)", int(m))
	}
}

// Options configures a plate solution fit.
type Options struct {
	MaxIter     int     // maximum fit/reject iterations, must be > 0
	RejectSigma float64 // rejection threshold in robust-sigma units
	Fit         FitMode
	Origin      OriginMode
}

// Iteration records one pass of the fit/reject loop.
type Iteration struct {
	N             int     // 1-based iteration number
	Sigma         float64 // pooled robust sigma used for rejection (deg)
	NewlyRejected int
	TotalRejected int
	Accepted      int
}

// PointFit is the final per-point fit state.
type PointFit struct {
	X, Y     float64 // pixel position
	Xi, Eta  float64 // standard coordinates (deg)
	ResXi    float64 // absolute fit residual in xi (deg)
	ResEta   float64 // absolute fit residual in eta (deg)
	Rejected bool
}

// Result carries the fitted solution and its diagnostics.
type Result struct {
	Coeffs     [6]float64 // a, b, c, d, e, f
	SigmaXi    float64    // robust sigma of the xi residuals (deg)
	SigmaEta   float64    // robust sigma of the eta residuals (deg)
	Iterations int
	Points     int
	Rejected   int
	RefPixel   [2]float64
	RefValue   [2]float64
	Trace      []Iteration
	PointFits  []PointFit
}

// Scale returns the mean plate scale of the fitted solution in degrees
// per pixel.
func (r *Result) Scale() float64 {
	a, b, d, e := r.Coeffs[0], r.Coeffs[1], r.Coeffs[3], r.Coeffs[4]
	return math.Sqrt(math.Abs(a*e - b*d))
}

// Rotation returns the fitted rotation angle in radians.
func (r *Result) Rotation() float64 {
	return math.Atan2(r.Coeffs[1], r.Coeffs[0])
}

// Solve computes a plate solution for the WCS in header h from matched
// celestial (RA/Dec degrees, one point per row) and physical (pixel)
// positions. It returns a freshly built header containing only the
// updated WCS keywords, with the fitted linear solution written as
// CD1_1..CD2_2 cards directly after CRPIX2.
//
// The input header is never modified; every call builds its own private
// model, so concurrent calls with separate inputs are safe.
func Solve(h *fitshdr.Header, celestial, physical *mat.Dense, opt Options) (*fitshdr.Header, *Result, error) {
	model, err := wcs.NewFromHeader(h)
	if err != nil {
		return nil, nil, err
	}
	if celestial == nil || physical == nil {
		return nil, nil, fmt.Errorf("platesol: coordinate matrices: %w", wcs.ErrNullInput)
	}
	crows, ccols := celestial.Dims()
	prows, pcols := physical.Dims()
	if crows != prows {
		return nil, nil, fmt.Errorf("platesol: %d celestial rows vs %d physical rows: %w",
			crows, prows, wcs.ErrIncompatibleInput)
	}
	if ccols != 2 || pcols != 2 {
		return nil, nil, fmt.Errorf("platesol: coordinate matrices must have 2 columns: %w",
			wcs.ErrIncompatibleInput)
	}
	if crows < 2 {
		return nil, nil, fmt.Errorf("platesol: %d matched points: %w", crows, wcs.ErrInsufficientPoints)
	}
	if opt.MaxIter <= 0 {
		return nil, nil, fmt.Errorf("platesol: max iterations %d: %w", opt.MaxIter, wcs.ErrIllegalInput)
	}
	switch opt.Fit {
	case Fit4, Fit6:
	default:
		return nil, nil, fmt.Errorf("platesol: %v: %w", opt.Fit, wcs.ErrIllegalInput)
	}
	switch opt.Origin {
	case MoveRefValue, MoveRefPixel:
	default:
		return nil, nil, fmt.Errorf("platesol: %v: %w", opt.Origin, wcs.ErrIllegalInput)
	}

	// The standard coordinates of the matched sky positions are the
	// residual space of the linear model.
	std, _, err := wcs.Convert(model, celestial, wcs.WorldToStd)
	if err != nil {
		return nil, nil, err
	}

	npts := crows
	x := make([]float64, npts)
	y := make([]float64, npts)
	xi := make([]float64, npts)
	eta := make([]float64, npts)
	for i := 0; i < npts; i++ {
		x[i] = physical.At(i, 0)
		y[i] = physical.At(i, 1)
		xi[i] = std.At(i, 0)
		eta[i] = std.At(i, 1)
	}

	res := &Result{Points: npts}
	rejected := make([]bool, npts)
	resXi := make([]float64, npts)
	resEta := make([]float64, npts)
	nrej := 0

	for iter := 1; iter <= opt.MaxIter; iter++ {
		res.Iterations = iter
		if opt.Fit == Fit4 {
			res.Coeffs = plate4(x, y, xi, eta, rejected)
		} else {
			res.Coeffs = plate6(x, y, xi, eta, rejected)
		}
		co := res.Coeffs
		for i := 0; i < npts; i++ {
			if rejected[i] {
				continue
			}
			resXi[i] = math.Abs(co[0]*x[i] + co[1]*y[i] + co[2] - xi[i])
			resEta[i] = math.Abs(co[3]*x[i] + co[4]*y[i] + co[5] - eta[i])
		}
		if iter == opt.MaxIter {
			break
		}

		// Pool both axes into one sample for the rejection sigma.
		pooled := make([]float64, 0, 2*(npts-nrej))
		for i := 0; i < npts; i++ {
			if rejected[i] {
				continue
			}
			pooled = append(pooled, resXi[i], resEta[i])
		}
		sigma := robustSigma(pooled)
		cut := opt.RejectSigma * sigma
		newly := 0
		for i := 0; i < npts; i++ {
			if rejected[i] {
				continue
			}
			if resXi[i] > cut || resEta[i] > cut {
				rejected[i] = true
				nrej++
				newly++
			}
		}
		res.Trace = append(res.Trace, Iteration{
			N:             iter,
			Sigma:         sigma,
			NewlyRejected: newly,
			TotalRejected: nrej,
			Accepted:      npts - nrej,
		})
		if npts-nrej < 2 {
			break
		}
		if newly == 0 && iter > 1 {
			break
		}
	}
	res.Rejected = nrej
	if npts-nrej <= 0 {
		return nil, nil, fmt.Errorf("platesol: all %d points rejected: %w", npts, wcs.ErrDataNotFound)
	}

	// Per-axis robust error estimates over the final accepted set.
	finalXi := make([]float64, 0, npts-nrej)
	finalEta := make([]float64, 0, npts-nrej)
	for i := 0; i < npts; i++ {
		if rejected[i] {
			continue
		}
		finalXi = append(finalXi, resXi[i])
		finalEta = append(finalEta, resEta[i])
	}
	res.SigmaXi = robustSigma(finalXi)
	res.SigmaEta = robustSigma(finalEta)
	for i := 0; i < npts; i++ {
		res.PointFits = append(res.PointFits, PointFit{
			X: x[i], Y: y[i], Xi: xi[i], Eta: eta[i],
			ResXi: resXi[i], ResEta: resEta[i], Rejected: rejected[i],
		})
	}

	sol, err := finalize(model, res.Coeffs, res.SigmaXi, res.SigmaEta, opt.Origin)
	if err != nil {
		return nil, nil, err
	}
	res.RefPixel = sol.RefPixel
	res.RefValue = sol.RefValue

	if err := model.ApplySolution(sol); err != nil {
		return nil, nil, err
	}
	out, err := buildHeader(model, sol)
	if err != nil {
		return nil, nil, err
	}
	return out, res, nil
}

// finalize computes the new reference point from the fitted affine
// coefficients according to the origin mode.
func finalize(model *wcs.Model, co [6]float64, sigXi, sigEta float64, origin OriginMode) (wcs.Solution, error) {
	a, b, c, d, e, f := co[0], co[1], co[2], co[3], co[4], co[5]
	crpix := model.RefPixel()
	crval := model.RefValue()
	sol := wcs.Solution{
		CD:     [4]float64{a, b, d, e},
		SysErr: [2]float64{sigXi, sigEta},
	}

	switch origin {
	case MoveRefPixel:
		// The existing reference value sits at standard (0,0); solve
		// the fitted 2×2 block for the pixel that lands there.
		det := a*e - b*d
		sol.RefPixel = [2]float64{(b*f - e*c) / det, (d*c - a*f) / det}
		sol.RefValue = [2]float64{crval[0], crval[1]}
	case MoveRefValue:
		// Keep the reference pixel; evaluate the fit there and invert
		// the spherical projection for the new world value.
		xiRef := a*crpix[0] + b*crpix[1] + c
		etaRef := d*crpix[0] + e*crpix[1] + f
		lng, lat, err := model.Deproject(xiRef, etaRef)
		if err != nil {
			return wcs.Solution{}, fmt.Errorf("platesol: reference value: %w", err)
		}
		sol.RefPixel = [2]float64{crpix[0], crpix[1]}
		sol.RefValue = [2]float64{lng, lat}
	}
	return sol, nil
}

// droppedKeys are the serialized keywords superseded by the CD matrix
// representation of the solution. This list is the contract: a newly
// observed redundant keyword is a deliberate change, not a silent
// addition.
var droppedKeys = []string{
	"PC1_1", "PC1_2", "PC2_1", "PC2_2",
	"CDELT1", "CDELT2",
	"RESTFRQ", "RESTWAV",
}

// buildHeader serializes the updated model and post-processes the card
// text into the output property list: redundant linear-representation
// keywords are dropped and the CD matrix cards are inserted directly
// after CRPIX2, keeping the header in conventional reading order.
func buildHeader(model *wcs.Model, sol wcs.Solution) (*fitshdr.Header, error) {
	text, err := model.HeaderText()
	if err != nil {
		return nil, err
	}
	parsed, err := fitshdr.ParseText(text)
	if err != nil {
		return nil, fmt.Errorf("platesol: reparse serialized header: %w", err)
	}
	for _, key := range droppedKeys {
		parsed.Remove(key)
	}

	cd := []fitshdr.Card{
		{Key: "CD1_1", Value: sol.CD[0], Comment: "Transformation matrix element"},
		{Key: "CD1_2", Value: sol.CD[1], Comment: "Transformation matrix element"},
		{Key: "CD2_1", Value: sol.CD[2], Comment: "Transformation matrix element"},
		{Key: "CD2_2", Value: sol.CD[3], Comment: "Transformation matrix element"},
	}
	anchor := "CRPIX2"
	for _, card := range cd {
		if err := parsed.InsertAfter(anchor, card); err != nil {
			return nil, fmt.Errorf("platesol: %w", err)
		}
		anchor = card.Key
	}
	return parsed, nil
}
