// Package projection implements the WCS projection engine: parsing of
// FITS WCS keywords into a structured parameter set, the forward and
// inverse pixel/world transformations, and re-serialization of the
// parameter set into header cards.
//
// The package follows the wcslib contract: entry points report numeric
// status codes, transforms fill a per-point status array alongside the
// coordinate output, and the intermediate (projection-plane) coordinates
// are exposed next to the final world coordinates. Celestial axis pairs
// use the gnomonic (TAN) projection; all other axes are linear.
package projection

import (
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/litescript/ls-astrom/internal/fitshdr"
)

// Status codes reported by the package entry points. The numbering
// follows the wcslib convention so callers can surface the raw code.
const (
	StatusOK           = 0 // success
	StatusNullInput    = 1 // null parameter set or missing input
	StatusSingular     = 3 // linear transformation matrix is singular
	StatusBadAxisTypes = 4 // inconsistent or unrecognized axis types
	StatusBadParam     = 5 // invalid parameter value
	StatusBadPixel     = 8 // one or more pixel coordinates were invalid
	StatusBadWorld     = 9 // one or more world coordinates were invalid
)

// maxAxes bounds the axis indices recognized while scanning keywords.
const maxAxes = 9

// Params is the structured representation of one WCS. Matrix fields are
// row-major NAxis×NAxis. CD is derived from PC and CDELT (or taken
// directly from CDi_j cards) by Set.
type Params struct {
	NAxis int

	CRPix []float64
	CRVal []float64
	CDelt []float64
	PC    []float64
	CD    []float64
	CType []string
	CUnit []string
	CSYEr []float64

	LonPole float64
	LatPole float64
	RestFrq float64
	RestWav float64
	RADESys string
	Equinox float64

	hasCD bool // header carried CDi_j directly
	lng   int  // longitude axis index, -1 when no celestial pair
	lat   int  // latitude axis index, -1 when no celestial pair
	prj   string
	cdInv []float64
	set   bool
}

// newParams allocates a parameter set with FITS defaults.
func newParams(naxis int) *Params {
	p := &Params{
		NAxis:   naxis,
		CRPix:   make([]float64, naxis),
		CRVal:   make([]float64, naxis),
		CDelt:   make([]float64, naxis),
		PC:      make([]float64, naxis*naxis),
		CType:   make([]string, naxis),
		CUnit:   make([]string, naxis),
		CSYEr:   make([]float64, naxis),
		LonPole: 180,
		LatPole: 90,
		lng:     -1,
		lat:     -1,
	}
	for i := 0; i < naxis; i++ {
		p.CDelt[i] = 1
		p.PC[i*naxis+i] = 1
	}
	return p
}

// ParseImage parses image-style WCS keywords (CRVALn, CRPIXn, CDi_j or
// PCi_j with CDELTn, CTYPEn, CUNITn) from 80-column card text. Only the
// primary representation is read; alternate representations (keywords
// with a trailing letter) are skipped. Unrecognized cards are ignored.
func ParseImage(header string) (*Params, int) {
	if header == "" {
		return nil, StatusNullInput
	}
	cards := scanCards(header)

	naxis := 0
	if v, ok := findInt(cards, "WCSAXES"); ok {
		naxis = int(v)
	} else {
		for _, c := range cards {
			for _, prefix := range []string{"CRVAL", "CRPIX", "CDELT", "CTYPE", "CUNIT", "CSYER"} {
				if ax, ok := axisKey(c.Key, prefix); ok && ax > naxis {
					naxis = ax
				}
			}
			if i, j, ok := matrixKey(c.Key, "CD"); ok {
				naxis = maxInt(naxis, maxInt(i, j))
			}
			if i, j, ok := matrixKey(c.Key, "PC"); ok {
				naxis = maxInt(naxis, maxInt(i, j))
			}
		}
	}
	if naxis <= 0 || naxis > maxAxes {
		return nil, StatusBadParam
	}

	p := newParams(naxis)
	sawCRVal := false
	for _, c := range cards {
		key := c.Key
		switch {
		case key == "LONPOLE":
			p.LonPole, _ = cardFloat(c)
		case key == "LATPOLE":
			p.LatPole, _ = cardFloat(c)
		case key == "RESTFRQ" || key == "RESTFREQ":
			p.RestFrq, _ = cardFloat(c)
		case key == "RESTWAV":
			p.RestWav, _ = cardFloat(c)
		case key == "RADESYS" || key == "RADECSYS":
			if s, ok := c.Value.(string); ok {
				p.RADESys = strings.TrimSpace(s)
			}
		case key == "EQUINOX":
			p.Equinox, _ = cardFloat(c)
		default:
			if ax, ok := axisKey(key, "CRVAL"); ok && ax <= naxis {
				p.CRVal[ax-1], _ = cardFloat(c)
				sawCRVal = true
			} else if ax, ok := axisKey(key, "CRPIX"); ok && ax <= naxis {
				p.CRPix[ax-1], _ = cardFloat(c)
			} else if ax, ok := axisKey(key, "CDELT"); ok && ax <= naxis {
				p.CDelt[ax-1], _ = cardFloat(c)
			} else if ax, ok := axisKey(key, "CSYER"); ok && ax <= naxis {
				p.CSYEr[ax-1], _ = cardFloat(c)
			} else if ax, ok := axisKey(key, "CTYPE"); ok && ax <= naxis {
				if s, ok := c.Value.(string); ok {
					p.CType[ax-1] = strings.TrimSpace(s)
				}
			} else if ax, ok := axisKey(key, "CUNIT"); ok && ax <= naxis {
				if s, ok := c.Value.(string); ok {
					p.CUnit[ax-1] = strings.TrimSpace(s)
				}
			} else if i, j, ok := matrixKey(key, "CD"); ok && i <= naxis && j <= naxis {
				p.CD = ensureMatrix(p.CD, naxis)
				p.CD[(i-1)*naxis+(j-1)], _ = cardFloat(c)
				p.hasCD = true
			} else if i, j, ok := matrixKey(key, "PC"); ok && i <= naxis && j <= naxis {
				p.PC[(i-1)*naxis+(j-1)], _ = cardFloat(c)
			}
		}
	}
	if !sawCRVal {
		return nil, StatusBadParam
	}
	if status := p.Set(); status != StatusOK {
		return nil, status
	}
	return p, StatusOK
}

// ParseTable parses table-style WCS keywords (TCRVLn, TCRPXn, TCDLTn,
// TCTYPn, TCUNIn, and TCn_k matrix elements) from 80-column card text.
// Column numbers are mapped onto axes in ascending order.
func ParseTable(header string) (*Params, int) {
	if header == "" {
		return nil, StatusNullInput
	}
	cards := scanCards(header)

	// Collect the set of table columns carrying coordinate keywords.
	colSet := map[int]bool{}
	for _, c := range cards {
		for _, prefix := range []string{"TCRVL", "TCRPX", "TCDLT", "TCTYP", "TCUNI"} {
			if col, ok := axisKey(c.Key, prefix); ok {
				colSet[col] = true
			}
		}
	}
	if len(colSet) == 0 || len(colSet) > maxAxes {
		return nil, StatusBadParam
	}
	cols := sortedKeys(colSet)
	colAxis := map[int]int{}
	for i, col := range cols {
		colAxis[col] = i
	}
	naxis := len(cols)

	p := newParams(naxis)
	sawCRVal := false
	for _, c := range cards {
		key := c.Key
		if col, ok := axisKey(key, "TCRVL"); ok {
			p.CRVal[colAxis[col]], _ = cardFloat(c)
			sawCRVal = true
		} else if col, ok := axisKey(key, "TCRPX"); ok {
			p.CRPix[colAxis[col]], _ = cardFloat(c)
		} else if col, ok := axisKey(key, "TCDLT"); ok {
			p.CDelt[colAxis[col]], _ = cardFloat(c)
		} else if col, ok := axisKey(key, "TCTYP"); ok {
			if s, ok := c.Value.(string); ok {
				p.CType[colAxis[col]] = strings.TrimSpace(s)
			}
		} else if col, ok := axisKey(key, "TCUNI"); ok {
			if s, ok := c.Value.(string); ok {
				p.CUnit[colAxis[col]] = strings.TrimSpace(s)
			}
		} else if i, j, ok := matrixKey(key, "TC"); ok {
			ai, aok := colAxis[i]
			aj, bok := colAxis[j]
			if aok && bok {
				p.CD = ensureMatrix(p.CD, naxis)
				p.CD[ai*naxis+aj], _ = cardFloat(c)
				p.hasCD = true
			}
		}
	}
	if !sawCRVal {
		return nil, StatusBadParam
	}
	if status := p.Set(); status != StatusOK {
		return nil, status
	}
	return p, StatusOK
}

// Set validates the parameter set and computes derived quantities: the
// CD matrix (from PC and CDELT when no CDi_j cards were present), its
// inverse, and the celestial axis pair. It is idempotent and is invoked
// automatically by the transform entry points.
func (p *Params) Set() int {
	if p == nil {
		return StatusNullInput
	}
	n := p.NAxis
	if n <= 0 {
		return StatusBadParam
	}
	if !p.hasCD {
		p.CD = ensureMatrix(nil, n)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				p.CD[i*n+j] = p.CDelt[i] * p.PC[i*n+j]
			}
		}
	}

	// Locate the celestial longitude/latitude pair and projection code.
	p.lng, p.lat, p.prj = -1, -1, ""
	for i, ct := range p.CType {
		name, code := splitCType(ct)
		switch {
		case isLongitude(name):
			p.lng = i
			if code != "" {
				p.prj = code
			}
		case isLatitude(name):
			p.lat = i
			if code != "" {
				p.prj = code
			}
		}
	}
	if (p.lng >= 0) != (p.lat >= 0) {
		return StatusBadAxisTypes
	}
	if p.lng >= 0 && p.prj != "" && p.prj != "TAN" {
		return StatusBadAxisTypes
	}

	// Invert the linear matrix for the sky-to-pixel direction.
	cd := mat.NewDense(n, n, append([]float64(nil), p.CD...))
	var inv mat.Dense
	if err := inv.Inverse(cd); err != nil {
		return StatusSingular
	}
	p.cdInv = make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			p.cdInv[i*n+j] = inv.At(i, j)
		}
	}
	p.set = true
	return StatusOK
}

// HasCelestial reports whether a celestial longitude/latitude axis pair
// was identified.
func (p *Params) HasCelestial() bool {
	return p.lng >= 0 && p.lat >= 0
}

// Copy returns a deep copy of the parameter set.
func (p *Params) Copy() *Params {
	if p == nil {
		return nil
	}
	q := *p
	q.CRPix = append([]float64(nil), p.CRPix...)
	q.CRVal = append([]float64(nil), p.CRVal...)
	q.CDelt = append([]float64(nil), p.CDelt...)
	q.PC = append([]float64(nil), p.PC...)
	q.CD = append([]float64(nil), p.CD...)
	q.CSYEr = append([]float64(nil), p.CSYEr...)
	q.CType = append([]string(nil), p.CType...)
	q.CUnit = append([]string(nil), p.CUnit...)
	q.cdInv = append([]float64(nil), p.cdInv...)
	return &q
}

// SetCD installs a new linear matrix, replacing any PC/CDELT derivation.
// Set must be called afterwards to refresh derived quantities.
func (p *Params) SetCD(cd []float64) {
	p.CD = append([]float64(nil), cd...)
	p.hasCD = true
	p.set = false
}

// Serialize renders the parameter set as 80-column card text terminated
// by an END card, in conventional keyword order. When the matrix came in
// as CDi_j the linear terms are written in PC + unit-CDELT form, as the
// underlying library does; callers that want CD cards strip and replace
// them.
func (p *Params) Serialize() (string, int) {
	if p == nil {
		return "", StatusNullInput
	}
	if !p.set {
		if status := p.Set(); status != StatusOK {
			return "", status
		}
	}
	n := p.NAxis
	var b strings.Builder
	add := func(c fitshdr.Card) {
		b.WriteString(fitshdr.FormatCard(c))
	}

	add(fitshdr.Card{Key: "WCSAXES", Value: int64(n), Comment: "Number of coordinate axes"})
	for i := 0; i < n; i++ {
		add(fitshdr.Card{Key: axisKeyword("CRPIX", i + 1), Value: p.CRPix[i],
			Comment: "Pixel coordinate of reference point"})
	}
	pc, cdelt := p.linearTerms()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			add(fitshdr.Card{Key: matrixKeyword("PC", i+1, j+1), Value: pc[i*n+j],
				Comment: "Coordinate transformation matrix element"})
		}
	}
	for i := 0; i < n; i++ {
		add(fitshdr.Card{Key: axisKeyword("CDELT", i + 1), Value: cdelt[i],
			Comment: "Coordinate increment at reference point"})
	}
	for i := 0; i < n; i++ {
		unit := p.CUnit[i]
		if unit == "" && (i == p.lng || i == p.lat) {
			unit = "deg"
		}
		add(fitshdr.Card{Key: axisKeyword("CUNIT", i + 1), Value: unit,
			Comment: "Units of coordinate increment and value"})
	}
	for i := 0; i < n; i++ {
		add(fitshdr.Card{Key: axisKeyword("CTYPE", i + 1), Value: p.CType[i],
			Comment: ctypeComment(p.CType[i])})
	}
	for i := 0; i < n; i++ {
		add(fitshdr.Card{Key: axisKeyword("CRVAL", i + 1), Value: p.CRVal[i],
			Comment: "Coordinate value at reference point"})
	}
	if p.HasCelestial() {
		add(fitshdr.Card{Key: "LONPOLE", Value: p.LonPole,
			Comment: "Native longitude of celestial pole"})
		add(fitshdr.Card{Key: "LATPOLE", Value: p.LatPole,
			Comment: "Native latitude of celestial pole"})
	}
	for i := 0; i < n; i++ {
		if p.CSYEr[i] != 0 {
			add(fitshdr.Card{Key: axisKeyword("CSYER", i + 1), Value: p.CSYEr[i],
				Comment: "Systematic error in coordinate"})
		}
	}
	if p.RestFrq != 0 {
		add(fitshdr.Card{Key: "RESTFRQ", Value: p.RestFrq, Comment: "Line rest frequency (Hz)"})
	}
	if p.RestWav != 0 {
		add(fitshdr.Card{Key: "RESTWAV", Value: p.RestWav, Comment: "Line rest wavelength (m)"})
	}
	if p.RADESys != "" {
		add(fitshdr.Card{Key: "RADESYS", Value: p.RADESys, Comment: "Equatorial coordinate system"})
	}
	if p.Equinox != 0 {
		add(fitshdr.Card{Key: "EQUINOX", Value: p.Equinox, Comment: "Equinox of equatorial coordinates"})
	}
	b.WriteString(fitshdr.FormatCard(fitshdr.Card{Key: "END", Comment: ""}))
	return b.String(), StatusOK
}

// linearTerms returns the PC matrix and CDELT vector to serialize. A
// directly-installed CD matrix is expressed as PC with unit CDELT.
func (p *Params) linearTerms() ([]float64, []float64) {
	n := p.NAxis
	if p.hasCD {
		cdelt := make([]float64, n)
		for i := range cdelt {
			cdelt[i] = 1
		}
		return p.CD, cdelt
	}
	return p.PC, p.CDelt
}

func ctypeComment(ct string) string {
	name, code := splitCType(ct)
	switch {
	case isLongitude(name) && code == "TAN":
		return "Right ascension, gnomonic projection"
	case isLatitude(name) && code == "TAN":
		return "Declination, gnomonic projection"
	default:
		return "Coordinate type code"
	}
}

// scanCards splits header text into parsed cards, stopping at END and
// skipping anything unparsable or belonging to an alternate WCS.
func scanCards(header string) []fitshdr.Card {
	var cards []fitshdr.Card
	for i := 0; i < len(header); i += fitshdr.CardLen {
		end := i + fitshdr.CardLen
		if end > len(header) {
			end = len(header)
		}
		img := header[i:end]
		if strings.TrimRight(img, " ") == "END" {
			break
		}
		c, err := fitshdr.ParseCard(img)
		if err != nil || c.Key == "" || isAlternate(c.Key) {
			continue
		}
		cards = append(cards, c)
	}
	return cards
}

// isAlternate reports whether a keyword addresses an alternate WCS
// representation (axis-numbered keyword with a trailing letter).
func isAlternate(key string) bool {
	if len(key) < 2 {
		return false
	}
	last := key[len(key)-1]
	if last < 'A' || last > 'Z' {
		return false
	}
	// Trailing letter after a digit marks the representation code.
	prev := key[len(key)-2]
	return prev >= '0' && prev <= '9'
}

func axisKey(key, prefix string) (int, bool) {
	if !strings.HasPrefix(key, prefix) {
		return 0, false
	}
	digits := key[len(prefix):]
	if digits == "" {
		return 0, false
	}
	ax := 0
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
		ax = ax*10 + int(r-'0')
	}
	if ax < 1 {
		return 0, false
	}
	return ax, true
}

func matrixKey(key, prefix string) (int, int, bool) {
	if !strings.HasPrefix(key, prefix) {
		return 0, 0, false
	}
	body := key[len(prefix):]
	parts := strings.Split(body, "_")
	if len(parts) != 2 {
		return 0, 0, false
	}
	i, iok := axisDigits(parts[0])
	j, jok := axisDigits(parts[1])
	if !iok || !jok {
		return 0, 0, false
	}
	return i, j, true
}

func axisDigits(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	v := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		v = v*10 + int(r-'0')
	}
	if v < 1 {
		return 0, false
	}
	return v, true
}

func axisKeyword(prefix string, ax int) string {
	return prefix + itoa(ax)
}

func matrixKeyword(prefix string, i, j int) string {
	return prefix + itoa(i) + "_" + itoa(j)
}

func itoa(v int) string {
	if v < 10 {
		return string(rune('0' + v))
	}
	return string(rune('0'+v/10)) + string(rune('0'+v%10))
}

func splitCType(ct string) (name, code string) {
	if len(ct) >= 5 && ct[4] == '-' || strings.Contains(ct, "-") {
		idx := strings.Index(ct, "-")
		name = ct[:idx]
		code = strings.TrimLeft(ct[idx:], "-")
	} else {
		name = ct
	}
	return strings.TrimRight(name, "-"), code
}

func isLongitude(name string) bool {
	return name == "RA" || strings.HasSuffix(name, "LON")
}

func isLatitude(name string) bool {
	return name == "DEC" || strings.HasSuffix(name, "LAT")
}

func cardFloat(c fitshdr.Card) (float64, bool) {
	switch v := c.Value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func findInt(cards []fitshdr.Card, key string) (int64, bool) {
	for _, c := range cards {
		if c.Key == key {
			if v, ok := c.Value.(int64); ok {
				return v, true
			}
		}
	}
	return 0, false
}

func ensureMatrix(m []float64, n int) []float64 {
	if m != nil {
		return m
	}
	return make([]float64, n*n)
}

func sortedKeys(set map[int]bool) []int {
	keys := make([]int, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
