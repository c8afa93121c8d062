package platesol

import (
	"fmt"
	"io"
	"strings"

	"gonum.org/v1/gonum/stat"
)

const arcsecPerDeg = 3600

// WriteReport writes a text summary of a plate solution to the given
// writer.
func WriteReport(w io.Writer, r *Result) {
	fmt.Fprintf(w, "Plate solution: %d points, %d rejected, %d iteration(s)\n",
		r.Points, r.Rejected, r.Iterations)
	fmt.Fprintln(w, strings.Repeat("─", 72))

	fmt.Fprintf(w, "Scale:      %.6g arcsec/pixel\n", r.Scale()*arcsecPerDeg)
	fmt.Fprintf(w, "Rotation:   %.4f deg\n", r.Rotation()*180/3.141592653589793)
	fmt.Fprintf(w, "Ref pixel:  (%.3f, %.3f)\n", r.RefPixel[0], r.RefPixel[1])
	fmt.Fprintf(w, "Ref value:  (%.7f, %.7f) deg\n", r.RefValue[0], r.RefValue[1])
	fmt.Fprintf(w, "Fit sigma:  %.4g / %.4g arcsec (xi / eta)\n",
		r.SigmaXi*arcsecPerDeg, r.SigmaEta*arcsecPerDeg)

	co := r.Coeffs
	fmt.Fprintf(w, "Coeffs:     a=%.6g b=%.6g c=%.6g\n", co[0], co[1], co[2])
	fmt.Fprintf(w, "            d=%.6g e=%.6g f=%.6g\n", co[3], co[4], co[5])

	if mean, sd, n := residualStats(r); n > 0 {
		fmt.Fprintf(w, "Residuals:  mean %.4g arcsec, stddev %.4g arcsec over %d accepted points\n",
			mean*arcsecPerDeg, sd*arcsecPerDeg, n)
	}

	if len(r.Trace) > 0 {
		fmt.Fprintln(w, strings.Repeat("─", 72))
		fmt.Fprintf(w, "%-6s %-14s %-10s %-10s %-10s\n",
			"Iter", "Sigma[arcsec]", "New rej", "Total rej", "Accepted")
		for _, it := range r.Trace {
			fmt.Fprintf(w, "%-6d %-14.4g %-10d %-10d %-10d\n",
				it.N, it.Sigma*arcsecPerDeg, it.NewlyRejected, it.TotalRejected, it.Accepted)
		}
	}
}

// WriteResiduals writes the per-point residual table.
func WriteResiduals(w io.Writer, r *Result) {
	fmt.Fprintf(w, "%-10s %-10s %-12s %-12s %-4s\n",
		"X", "Y", "ResXi[\"]", "ResEta[\"]", "Rej")
	fmt.Fprintln(w, strings.Repeat("─", 52))
	for _, p := range r.PointFits {
		flag := ""
		if p.Rejected {
			flag = "*"
		}
		fmt.Fprintf(w, "%-10.2f %-10.2f %-12.4g %-12.4g %-4s\n",
			p.X, p.Y, p.ResXi*arcsecPerDeg, p.ResEta*arcsecPerDeg, flag)
	}
}

// residualStats pools the accepted residuals of both axes.
func residualStats(r *Result) (mean, stddev float64, n int) {
	var sample []float64
	for _, p := range r.PointFits {
		if p.Rejected {
			continue
		}
		sample = append(sample, p.ResXi, p.ResEta)
	}
	if len(sample) == 0 {
		return 0, 0, 0
	}
	mean = stat.Mean(sample, nil)
	stddev = stat.StdDev(sample, nil)
	return mean, stddev, len(sample) / 2
}
