package platesol

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/litescript/ls-astrom/internal/fitshdr"
	"github.com/litescript/ls-astrom/internal/wcs"
)

const (
	refRA  = 85.599741667
	refDec = -32.108525
)

func solveHeader() *fitshdr.Header {
	h := fitshdr.New()
	h.Append(fitshdr.Card{Key: "NAXIS", Value: int64(2)})
	h.Append(fitshdr.Card{Key: "NAXIS1", Value: int64(2048)})
	h.Append(fitshdr.Card{Key: "NAXIS2", Value: int64(1024)})
	h.Append(fitshdr.Card{Key: "CTYPE1", Value: "RA---TAN"})
	h.Append(fitshdr.Card{Key: "CTYPE2", Value: "DEC--TAN"})
	h.Append(fitshdr.Card{Key: "CUNIT1", Value: "deg"})
	h.Append(fitshdr.Card{Key: "CUNIT2", Value: "deg"})
	h.Append(fitshdr.Card{Key: "CRVAL1", Value: refRA})
	h.Append(fitshdr.Card{Key: "CRVAL2", Value: refDec})
	h.Append(fitshdr.Card{Key: "CRPIX1", Value: 1024.0})
	h.Append(fitshdr.Card{Key: "CRPIX2", Value: 512.0})
	h.Append(fitshdr.Card{Key: "CD1_1", Value: -5.6e-5})
	h.Append(fitshdr.Card{Key: "CD1_2", Value: 0.0})
	h.Append(fitshdr.Card{Key: "CD2_1", Value: 0.0})
	h.Append(fitshdr.Card{Key: "CD2_2", Value: 5.6e-5})
	return h
}

// matchedPoints converts a pixel grid through the header's own WCS,
// giving a matched set whose true solution is the WCS itself. jitter
// returns a per-point (RA, Dec) offset in degrees.
func matchedPoints(t *testing.T, h *fitshdr.Header, pix []float64, jitter func(i int) (float64, float64)) (*mat.Dense, *mat.Dense) {
	t.Helper()
	model, err := wcs.NewFromHeader(h)
	if err != nil {
		t.Fatal(err)
	}
	n := len(pix) / 2
	phys := mat.NewDense(n, 2, append([]float64(nil), pix...))
	cel, _, err := wcs.Convert(model, phys, wcs.PhysToWorld)
	if err != nil {
		t.Fatal(err)
	}
	if jitter != nil {
		for i := 0; i < n; i++ {
			dra, ddec := jitter(i)
			cel.Set(i, 0, cel.At(i, 0)+dra)
			cel.Set(i, 1, cel.At(i, 1)+ddec)
		}
	}
	return cel, phys
}

// smallNoise is a deterministic sub-milliarcsecond scatter.
func smallNoise(i int) (float64, float64) {
	return float64(i%5-2) * 2e-6, float64((i+2)%5-2) * 2e-6
}

func gridPixels() []float64 {
	var pix []float64
	for gy := 0; gy < 4; gy++ {
		for gx := 0; gx < 3; gx++ {
			pix = append(pix, 200+float64(gx)*600, 100+float64(gy)*250)
		}
	}
	return pix
}

func TestSolveShapeMismatch(t *testing.T) {
	cel := mat.NewDense(5, 2, nil)
	phys := mat.NewDense(4, 2, nil)
	_, _, err := Solve(solveHeader(), cel, phys, Options{MaxIter: 1, RejectSigma: 3})
	if !errors.Is(err, wcs.ErrIncompatibleInput) {
		t.Errorf("err = %v, want ErrIncompatibleInput", err)
	}
}

func TestSolveInsufficientPoints(t *testing.T) {
	cel := mat.NewDense(1, 2, []float64{refRA, refDec})
	phys := mat.NewDense(1, 2, []float64{1024, 512})
	_, _, err := Solve(solveHeader(), cel, phys, Options{MaxIter: 1, RejectSigma: 3})
	if !errors.Is(err, wcs.ErrInsufficientPoints) {
		t.Errorf("err = %v, want ErrInsufficientPoints", err)
	}
}

func TestSolveIllegalOptions(t *testing.T) {
	cel, phys := matchedPoints(t, solveHeader(), gridPixels(), nil)

	_, _, err := Solve(solveHeader(), cel, phys, Options{MaxIter: 0, RejectSigma: 3})
	if !errors.Is(err, wcs.ErrIllegalInput) {
		t.Errorf("MaxIter=0 err = %v, want ErrIllegalInput", err)
	}

	_, _, err = Solve(solveHeader(), cel, phys, Options{MaxIter: 1, RejectSigma: 3, Fit: FitMode(7)})
	if !errors.Is(err, wcs.ErrIllegalInput) {
		t.Errorf("bad fit mode err = %v, want ErrIllegalInput", err)
	}

	_, _, err = Solve(solveHeader(), cel, phys, Options{MaxIter: 1, RejectSigma: 3, Origin: OriginMode(7)})
	if !errors.Is(err, wcs.ErrIllegalInput) {
		t.Errorf("bad origin mode err = %v, want ErrIllegalInput", err)
	}
}

func TestSolveNilInputs(t *testing.T) {
	cel, _ := matchedPoints(t, solveHeader(), gridPixels(), nil)
	_, _, err := Solve(solveHeader(), cel, nil, Options{MaxIter: 1, RejectSigma: 3})
	if !errors.Is(err, wcs.ErrNullInput) {
		t.Errorf("err = %v, want ErrNullInput", err)
	}
	_, _, err = Solve(nil, cel, cel, Options{MaxIter: 1, RejectSigma: 3})
	if !errors.Is(err, wcs.ErrNullInput) {
		t.Errorf("nil header err = %v, want ErrNullInput", err)
	}
}

func TestSolveNoWCSHeader(t *testing.T) {
	h := fitshdr.New()
	h.Append(fitshdr.Card{Key: "OBJECT", Value: "M31"})
	cel := mat.NewDense(2, 2, nil)
	_, _, err := Solve(h, cel, cel, Options{MaxIter: 1, RejectSigma: 3})
	if !errors.Is(err, wcs.ErrNoWCS) {
		t.Errorf("err = %v, want ErrNoWCS", err)
	}
}

// TestSolveKnownAffine4Param fits the exact relation xi = 2x+1,
// eta = -2y+3: scale 2 with zero rotation in the reflected family.
func TestSolveKnownAffine4Param(t *testing.T) {
	model, err := wcs.NewFromHeader(solveHeader())
	if err != nil {
		t.Fatal(err)
	}

	pix := [][2]float64{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	phys := mat.NewDense(4, 2, nil)
	cel := mat.NewDense(4, 2, nil)
	for i, p := range pix {
		phys.Set(i, 0, p[0])
		phys.Set(i, 1, p[1])
		xi := 2*p[0] + 1
		eta := -2*p[1] + 3
		lng, lat, err := model.Deproject(xi, eta)
		if err != nil {
			t.Fatal(err)
		}
		cel.Set(i, 0, lng)
		cel.Set(i, 1, lat)
	}

	_, res, err := Solve(solveHeader(), cel, phys, Options{
		MaxIter: 1, RejectSigma: 3, Fit: Fit4, Origin: MoveRefValue,
	})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}

	want := [6]float64{2, 0, 1, 0, -2, 3}
	for i, w := range want {
		if math.Abs(res.Coeffs[i]-w) > 1e-9 {
			t.Errorf("coeff %d = %v, want %v", i, res.Coeffs[i], w)
		}
	}
	if math.Abs(res.Scale()-2) > 1e-9 {
		t.Errorf("Scale = %v, want 2", res.Scale())
	}
	if math.Abs(res.Rotation()) > 1e-9 {
		t.Errorf("Rotation = %v, want 0", res.Rotation())
	}
}

// TestSolveRejectionNoOp: with a threshold no residual can exceed, any
// iteration count beyond the first changes nothing.
func TestSolveRejectionNoOp(t *testing.T) {
	cel, phys := matchedPoints(t, solveHeader(), gridPixels(), smallNoise)

	opt1 := Options{MaxIter: 1, RejectSigma: 1e6, Fit: Fit6, Origin: MoveRefValue}
	_, res1, err := Solve(solveHeader(), cel, phys, opt1)
	if err != nil {
		t.Fatal(err)
	}

	optN := opt1
	optN.MaxIter = 6
	_, resN, err := Solve(solveHeader(), cel, phys, optN)
	if err != nil {
		t.Fatal(err)
	}

	if res1.Coeffs != resN.Coeffs {
		t.Errorf("coefficients differ: %v vs %v", res1.Coeffs, resN.Coeffs)
	}
	if resN.Rejected != 0 {
		t.Errorf("Rejected = %d, want 0", resN.Rejected)
	}
}

// TestSolveMonotonicRejection: outliers get rejected, never reinstated,
// and the rejected count never decreases.
func TestSolveMonotonicRejection(t *testing.T) {
	jitter := func(i int) (float64, float64) {
		if i == 2 || i == 7 {
			return 5e-5, 5e-5 // far outliers
		}
		return smallNoise(i)
	}
	cel, phys := matchedPoints(t, solveHeader(), gridPixels(), jitter)

	_, res, err := Solve(solveHeader(), cel, phys, Options{
		MaxIter: 6, RejectSigma: 3, Fit: Fit6, Origin: MoveRefValue,
	})
	if err != nil {
		t.Fatal(err)
	}

	if !res.PointFits[2].Rejected || !res.PointFits[7].Rejected {
		t.Error("outlier points not rejected")
	}
	prev := 0
	for _, it := range res.Trace {
		if it.TotalRejected < prev {
			t.Errorf("iteration %d: rejected count decreased %d -> %d", it.N, prev, it.TotalRejected)
		}
		prev = it.TotalRejected
	}
	if res.Rejected < 2 {
		t.Errorf("Rejected = %d, want at least the 2 outliers", res.Rejected)
	}
}

// TestSolveSingleSurvivor: a rejection pass may leave exactly one
// accepted point. The loop stops there and the call still finalizes
// with the last full fit, rather than failing; only an empty accepted
// set is a data-not-found error.
func TestSolveSingleSurvivor(t *testing.T) {
	// Center point is exact; the four corners carry equal-magnitude
	// offsets whose signs cancel in the moment sums, so the fit stays
	// at the truth and the corner residuals all sit near the offset
	// magnitude. A threshold below that magnitude then rejects all
	// four corners in one pass.
	const off = 1e-4
	pix := []float64{
		1024, 512,
		1224, 712,
		824, 712,
		824, 312,
		1224, 312,
	}
	signs := []float64{0, 1, -1, 1, -1}
	jitter := func(i int) (float64, float64) {
		return signs[i] * off, signs[i] * off
	}
	cel, phys := matchedPoints(t, solveHeader(), pix, jitter)

	out, res, err := Solve(solveHeader(), cel, phys, Options{
		MaxIter: 3, RejectSigma: 0.5, Fit: Fit6, Origin: MoveRefValue,
	})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if out == nil {
		t.Fatal("no output header")
	}
	if res.Rejected != 4 {
		t.Fatalf("Rejected = %d, want 4", res.Rejected)
	}
	if res.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1 (loop stops once accepted drops below 2)", res.Iterations)
	}
	for i, p := range res.PointFits {
		if want := i != 0; p.Rejected != want {
			t.Errorf("point %d rejected = %v, want %v", i, p.Rejected, want)
		}
	}
	if len(res.Trace) != 1 || res.Trace[0].Accepted != 1 {
		t.Errorf("Trace = %+v, want one entry with Accepted 1", res.Trace)
	}
	if math.IsNaN(res.Scale()) || math.IsInf(res.Scale(), 0) {
		t.Errorf("Scale = %v, want finite", res.Scale())
	}
}

// TestSolveZeroVariance: every point at one location vanishes the fit
// denominator. The call must fail cleanly or surface non-finite scale.
func TestSolveZeroVariance(t *testing.T) {
	n := 4
	cel := mat.NewDense(n, 2, nil)
	phys := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		cel.Set(i, 0, refRA)
		cel.Set(i, 1, refDec)
		phys.Set(i, 0, 1024)
		phys.Set(i, 1, 512)
	}

	for _, origin := range []OriginMode{MoveRefValue, MoveRefPixel} {
		_, res, err := Solve(solveHeader(), cel, phys, Options{
			MaxIter: 2, RejectSigma: 3, Fit: Fit4, Origin: origin,
		})
		if err == nil && !math.IsNaN(res.Scale()) && !math.IsInf(res.Scale(), 0) {
			t.Errorf("origin %v: degenerate fit produced finite scale %v with no error", origin, res.Scale())
		}
	}
}

// TestSolveMoveRefPixel: for a matched set generated by the header's
// own WCS, re-anchoring the pixel recovers the original reference.
func TestSolveMoveRefPixel(t *testing.T) {
	cel, phys := matchedPoints(t, solveHeader(), gridPixels(), nil)

	out, res, err := Solve(solveHeader(), cel, phys, Options{
		MaxIter: 1, RejectSigma: 3, Fit: Fit6, Origin: MoveRefPixel,
	})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if math.Abs(res.RefPixel[0]-1024) > 1e-4 || math.Abs(res.RefPixel[1]-512) > 1e-4 {
		t.Errorf("RefPixel = %v, want (1024, 512)", res.RefPixel)
	}
	if res.RefValue[0] != refRA || res.RefValue[1] != refDec {
		t.Errorf("RefValue = %v, must stay unchanged", res.RefValue)
	}
	if v, ok := out.Float("CRVAL1"); !ok || math.Abs(v-refRA) > 1e-9 {
		t.Errorf("output CRVAL1 = %v, %v", v, ok)
	}
}

// TestSolveMoveRefValue: a constant pixel shift moves the reference
// value, not the reference pixel.
func TestSolveMoveRefValue(t *testing.T) {
	cel, _ := matchedPoints(t, solveHeader(), gridPixels(), nil)
	// Shift the pixel positions: the sky at pixel p is now what the old
	// model put at p+(12, -7).
	shifted := gridPixels()
	for i := 0; i < len(shifted); i += 2 {
		shifted[i] -= 12
		shifted[i+1] += 7
	}
	phys := mat.NewDense(len(shifted)/2, 2, shifted)

	out, res, err := Solve(solveHeader(), cel, phys, Options{
		MaxIter: 1, RejectSigma: 3, Fit: Fit6, Origin: MoveRefValue,
	})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if res.RefPixel[0] != 1024 || res.RefPixel[1] != 512 {
		t.Errorf("RefPixel = %v, must stay unchanged", res.RefPixel)
	}
	if math.Abs(res.RefValue[0]-refRA) < 1e-7 && math.Abs(res.RefValue[1]-refDec) < 1e-7 {
		t.Error("RefValue did not move for a shifted solution")
	}
	if res.SigmaXi > 1e-9 || res.SigmaEta > 1e-9 {
		t.Errorf("sigma = %v / %v, want ~0 for an exact shift", res.SigmaXi, res.SigmaEta)
	}
	if v, ok := out.Float("CRPIX1"); !ok || v != 1024 {
		t.Errorf("output CRPIX1 = %v, %v", v, ok)
	}
}

// TestSolveOutputHeader checks the post-processing contract: dropped
// keywords and CD cards right after CRPIX2.
func TestSolveOutputHeader(t *testing.T) {
	cel, phys := matchedPoints(t, solveHeader(), gridPixels(), nil)

	out, _, err := Solve(solveHeader(), cel, phys, Options{
		MaxIter: 1, RejectSigma: 3, Fit: Fit6, Origin: MoveRefValue,
	})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}

	for _, key := range []string{"PC1_1", "PC1_2", "PC2_1", "PC2_2",
		"CDELT1", "CDELT2", "RESTFRQ", "RESTWAV", "END"} {
		if out.Has(key) {
			t.Errorf("output header still carries %s", key)
		}
	}

	cards := out.Cards()
	idx := -1
	for i, c := range cards {
		if c.Key == "CRPIX2" {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.Fatal("output header has no CRPIX2")
	}
	want := []string{"CD1_1", "CD1_2", "CD2_1", "CD2_2"}
	for k, key := range want {
		if idx+1+k >= len(cards) || cards[idx+1+k].Key != key {
			t.Fatalf("card %d after CRPIX2 = %q, want %q", k+1, cards[idx+1+k].Key, key)
		}
		if cards[idx+1+k].Comment == "" {
			t.Errorf("%s carries no comment", key)
		}
	}

	// Fitted matrix reproduces the original CD to rounding.
	if v, ok := out.Float("CD1_1"); !ok || math.Abs(v+5.6e-5) > 1e-12 {
		t.Errorf("CD1_1 = %v, %v", v, ok)
	}
	if v, ok := out.Float("CD2_2"); !ok || math.Abs(v-5.6e-5) > 1e-12 {
		t.Errorf("CD2_2 = %v, %v", v, ok)
	}
}

func TestWriteReport(t *testing.T) {
	cel, phys := matchedPoints(t, solveHeader(), gridPixels(), nil)
	_, res, err := Solve(solveHeader(), cel, phys, Options{
		MaxIter: 3, RejectSigma: 3, Fit: Fit6, Origin: MoveRefValue,
	})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	WriteReport(&buf, res)
	text := buf.String()
	for _, want := range []string{"Plate solution", "Scale:", "Rotation:", "Ref pixel", "Ref value"} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q", want)
		}
	}

	buf.Reset()
	WriteResiduals(&buf, res)
	if !strings.Contains(buf.String(), "ResXi") {
		t.Error("residual table missing header")
	}
}

func TestFitModeStrings(t *testing.T) {
	if Fit4.String() != "4-parameter" || Fit6.String() != "6-parameter" {
		t.Error("fit mode strings")
	}
	if MoveRefValue.String() != "move-ref-value" || MoveRefPixel.String() != "move-ref-pixel" {
		t.Error("origin mode strings")
	}
}
