package platesol

import (
	"math"
	"sort"
)

// plate6 fits the affine relation
//
//	xi  = a·x + b·y + c
//	eta = d·x + e·y + f
//
// over the accepted points, solving the two linear equations
// independently from centered second-moment sums. A degenerate point
// pattern makes the shared denominator vanish; the division is left
// unguarded and the non-finite coefficients propagate to the caller.
func plate6(x, y, xi, eta []float64, rejected []bool) [6]float64 {
	xm, ym, xim, etam := moments(x, y, xi, eta, rejected)

	var sx1sq, sy1sq, sx1y1, sx1x2, sy1x2, sx1y2, sy1y2 float64
	for i := range x {
		if rejected[i] {
			continue
		}
		xx1 := x[i] - xm
		yy1 := y[i] - ym
		xx2 := xi[i] - xim
		yy2 := eta[i] - etam
		sx1sq += xx1 * xx1
		sy1sq += yy1 * yy1
		sx1y1 += xx1 * yy1
		sx1x2 += xx1 * xx2
		sy1x2 += yy1 * xx2
		sx1y2 += xx1 * yy2
		sy1y2 += yy1 * yy2
	}

	div := sx1sq*sy1sq - sx1y1*sx1y1
	a := (sx1x2*sy1sq - sy1x2*sx1y1) / div
	b := (sy1x2*sx1sq - sx1x2*sx1y1) / div
	c := xim - a*xm - b*ym
	d := (sx1y2*sy1sq - sy1y2*sx1y1) / div
	e := (sy1y2*sx1sq - sx1y2*sx1y1) / div
	f := etam - d*xm - e*ym
	return [6]float64{a, b, c, d, e, f}
}

// plate4 fits the same affine relation constrained to a single scale
// and rotation shared by both axes. The sign of the cross-moment
// determinant selects between the rotation and the reflection solution
// family; the two are distinct valid solutions for mirrored point
// configurations and the branch must not be folded into one formula.
func plate4(x, y, xi, eta []float64, rejected []bool) [6]float64 {
	xm, ym, xim, etam := moments(x, y, xi, eta, rejected)

	var sx1sq, sy1sq, sx1x2, sy1x2, sx1y2, sy1y2 float64
	for i := range x {
		if rejected[i] {
			continue
		}
		xx1 := x[i] - xm
		yy1 := y[i] - ym
		xx2 := xi[i] - xim
		yy2 := eta[i] - etam
		sx1sq += xx1 * xx1
		sy1sq += yy1 * yy1
		sx1x2 += xx1 * xx2
		sy1x2 += yy1 * xx2
		sx1y2 += xx1 * yy2
		sy1y2 += yy1 * yy2
	}

	det := sx1x2*sy1y2 - sy1x2*sx1y2
	var sxx, sxy float64
	if det < 0 {
		sxx = sx1x2 - sy1y2
		sxy = sy1x2 + sx1y2
	} else {
		sxx = sx1x2 + sy1y2
		sxy = sy1x2 - sx1y2
	}
	theta := 0.0
	if sxx != 0 || sxy != 0 {
		theta = math.Atan2(sxy, sxx)
	}
	sinT, cosT := math.Sincos(theta)

	// Scale is the projection of the moment sums onto the fitted
	// rotation. The denominator is the total source variance; it is
	// deliberately unguarded (see plate6).
	mag := (sxx*cosT + sxy*sinT) / (sx1sq + sy1sq)

	a := mag * cosT
	b := mag * sinT
	var d, e float64
	if det < 0 {
		d = mag * sinT
		e = -mag * cosT
	} else {
		d = -mag * sinT
		e = mag * cosT
	}
	c := xim - a*xm - b*ym
	f := etam - d*xm - e*ym
	return [6]float64{a, b, c, d, e, f}
}

// moments returns the per-column means over the accepted points.
func moments(x, y, xi, eta []float64, rejected []bool) (xm, ym, xim, etam float64) {
	n := 0.0
	for i := range x {
		if rejected[i] {
			continue
		}
		xm += x[i]
		ym += y[i]
		xim += xi[i]
		etam += eta[i]
		n++
	}
	return xm / n, ym / n, xim / n, etam / n
}

// robustSigma estimates the standard deviation of a residual sample as
// 1.48 times its median, which stays usable in the presence of
// outliers. The input is not modified.
func robustSigma(residuals []float64) float64 {
	return 1.48 * median(residuals)
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return 0.5 * (s[mid-1] + s[mid])
}
