// Command ls-astrom computes astrometric plate solutions from FITS
// headers and matched star lists.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"
	"gonum.org/v1/gonum/mat"

	"github.com/litescript/ls-astrom/internal/fitshdr"
	"github.com/litescript/ls-astrom/internal/logging"
	"github.com/litescript/ls-astrom/internal/platesol"
	"github.com/litescript/ls-astrom/internal/ui"
	"github.com/litescript/ls-astrom/internal/wcs"
)

var (
	headerPath  string
	pointsPath  string
	outPath     string
	iters       int
	rejectSigma float64
	fitParams   int
	originName  string
	convertName string
	dumpMode    bool
	residMode   bool
	tuiMode     bool
)

func main() {
	flag.StringVar(&headerPath, "header", "", "FITS header card file (required)")
	flag.StringVar(&pointsPath, "points", "", "Matched points CSV: x,y,ra,dec")
	flag.StringVar(&outPath, "out", "", "Write the solved header here (- for stdout)")
	flag.IntVar(&iters, "iters", 3, "Maximum fit/reject iterations")
	flag.Float64Var(&rejectSigma, "reject", 3.0, "Rejection threshold in sigma units")
	flag.IntVar(&fitParams, "fit", 6, "Plate model: 4 or 6 parameters")
	flag.StringVar(&originName, "origin", "crval", "Reference point to move: crval or crpix")
	flag.StringVar(&convertName, "convert", "", "Convert points instead of solving: phys2world, world2phys, world2std or phys2std")
	flag.BoolVar(&dumpMode, "dump", false, "Print the parsed WCS and exit")
	flag.BoolVar(&residMode, "residuals", false, "Print the per-point residual table")
	flag.BoolVar(&tuiMode, "tui", false, "Browse the solution interactively")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := logging.New(logging.ParseLevel(*logLevel))

	if headerPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -header is required")
		flag.Usage()
		os.Exit(2)
	}

	header, err := readHeader(headerPath)
	if err != nil {
		fatal(err)
	}
	logger.Debug("Parsed %d cards from %s", header.Len(), headerPath)

	if dumpMode {
		if err := dumpWCS(header); err != nil {
			fatal(err)
		}
		return
	}

	if convertName != "" {
		if err := runConvert(header, logger); err != nil {
			fatal(err)
		}
		return
	}

	if err := runSolve(header, logger); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func readHeader(path string) (*fitshdr.Header, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	h, err := fitshdr.ParseText(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return h, nil
}

// readPoints reads a CSV file into a matrix with the given number of
// columns. Blank lines and lines starting with # are skipped.
func readPoints(path string, cols int) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comment = '#'
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: no points", path)
	}

	data := make([]float64, 0, len(records)*cols)
	for i, rec := range records {
		if len(rec) != cols {
			return nil, fmt.Errorf("%s line %d: %d fields, want %d", path, i+1, len(rec), cols)
		}
		for _, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: %w", path, i+1, err)
			}
			data = append(data, v)
		}
	}
	return mat.NewDense(len(records), cols, data), nil
}

func dumpWCS(h *fitshdr.Header) error {
	model, err := wcs.NewFromHeader(h)
	if err != nil {
		return err
	}
	fmt.Printf("Axes:      %d\n", model.NAxis())
	if model.NAxis() == 0 {
		fmt.Println("Solution-only WCS: no image extent")
		return nil
	}
	if types := model.AxisTypes(); types != nil {
		fmt.Printf("Types:     %s\n", strings.Join(types, ", "))
	}
	if units := model.AxisUnits(); units != nil {
		fmt.Printf("Units:     %s\n", strings.Join(units, ", "))
	}
	if crval := model.RefValue(); crval != nil {
		fmt.Printf("Ref value: %v\n", crval)
	}
	if crpix := model.RefPixel(); crpix != nil {
		fmt.Printf("Ref pixel: %v\n", crpix)
	}
	if cd := model.Matrix(); cd != nil {
		fmt.Printf("CD matrix: %v\n", mat.Formatted(cd, mat.Prefix("           ")))
	}
	if dims := model.ImageDims(); dims != nil {
		fmt.Printf("Extent:    %v\n", dims)
	}
	return nil
}

var convertModes = map[string]wcs.ConvertMode{
	"phys2world": wcs.PhysToWorld,
	"world2phys": wcs.WorldToPhys,
	"world2std":  wcs.WorldToStd,
	"phys2std":   wcs.PhysToStd,
}

func runConvert(h *fitshdr.Header, logger *logging.Logger) error {
	logger = logger.WithPrefix("convert")
	mode, ok := convertModes[convertName]
	if !ok {
		return fmt.Errorf("unknown conversion %q", convertName)
	}
	if pointsPath == "" {
		return fmt.Errorf("-convert requires -points")
	}

	model, err := wcs.NewFromHeader(h)
	if err != nil {
		return err
	}
	if model.NAxis() == 0 {
		return fmt.Errorf("header describes a solution-only WCS, nothing to convert")
	}
	in, err := readPoints(pointsPath, model.NAxis())
	if err != nil {
		return err
	}
	rows, _ := in.Dims()
	logger.Debug("Converting %d points (%v)", rows, mode)

	out, stat, err := wcs.Convert(model, in, mode)
	if err != nil && out == nil {
		return err
	}
	if err != nil {
		logger.Warn("Conversion finished with failures: %v", err)
	}

	w := csv.NewWriter(os.Stdout)
	for i := 0; i < rows; i++ {
		rec := make([]string, model.NAxis()+1)
		for j := 0; j < model.NAxis(); j++ {
			rec[j] = strconv.FormatFloat(out.At(i, j), 'g', -1, 64)
		}
		rec[model.NAxis()] = strconv.Itoa(stat[i])
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func runSolve(h *fitshdr.Header, logger *logging.Logger) error {
	logger = logger.WithPrefix("solve")
	if pointsPath == "" {
		return fmt.Errorf("-points is required to solve")
	}
	pts, err := readPoints(pointsPath, 4)
	if err != nil {
		return err
	}
	npts, _ := pts.Dims()

	physical := mat.NewDense(npts, 2, nil)
	celestial := mat.NewDense(npts, 2, nil)
	for i := 0; i < npts; i++ {
		physical.Set(i, 0, pts.At(i, 0))
		physical.Set(i, 1, pts.At(i, 1))
		celestial.Set(i, 0, pts.At(i, 2))
		celestial.Set(i, 1, pts.At(i, 3))
	}

	opt := platesol.Options{
		MaxIter:     iters,
		RejectSigma: rejectSigma,
	}
	switch fitParams {
	case 4:
		opt.Fit = platesol.Fit4
	case 6:
		opt.Fit = platesol.Fit6
	default:
		return fmt.Errorf("-fit must be 4 or 6, got %d", fitParams)
	}
	switch originName {
	case "crval":
		opt.Origin = platesol.MoveRefValue
	case "crpix":
		opt.Origin = platesol.MoveRefPixel
	default:
		return fmt.Errorf("-origin must be crval or crpix, got %q", originName)
	}

	logger.Info("Fitting %v solution over %d points (%v, max %d iterations)",
		opt.Fit, npts, opt.Origin, opt.MaxIter)

	solved, result, err := platesol.Solve(h, celestial, physical, opt)
	if err != nil {
		return err
	}
	logger.Info("Solution converged after %d iteration(s), %d point(s) rejected",
		result.Iterations, result.Rejected)

	if tuiMode {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("-tui requires a terminal")
		}
		p := tea.NewProgram(ui.New(result, solved.Text()), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("run TUI: %w", err)
		}
		return nil
	}

	platesol.WriteReport(os.Stdout, result)
	if residMode {
		fmt.Println()
		platesol.WriteResiduals(os.Stdout, result)
	}

	if outPath != "" {
		if outPath == "-" {
			fmt.Println()
			fmt.Print(solved.Text())
			return nil
		}
		if err := os.WriteFile(outPath, []byte(solved.Text()), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", outPath, err)
		}
		logger.Info("Wrote solved header to %s", outPath)
	}
	return nil
}
