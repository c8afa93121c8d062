package projection

import "math"

const (
	degToRad = math.Pi / 180
	radToDeg = 180 / math.Pi
	// r0 is the radius of the generating sphere in degrees, so that
	// projection-plane coordinates come out in degrees.
	r0 = radToDeg
)

// P2S converts pixel coordinates to intermediate and world coordinates.
// pix holds npts rows of NAxis values, row-major. It returns the
// intermediate (projection-plane) coordinates, the world coordinates, a
// per-point status array (non-zero marks a failed point) and an overall
// status: StatusOK, or StatusBadPixel when any point failed.
func (p *Params) P2S(npts int, pix []float64) (img, world []float64, stat []int, status int) {
	if p == nil || pix == nil {
		return nil, nil, nil, StatusNullInput
	}
	if !p.set {
		if s := p.Set(); s != StatusOK {
			return nil, nil, nil, s
		}
	}
	n := p.NAxis
	if npts <= 0 || len(pix) < npts*n {
		return nil, nil, nil, StatusNullInput
	}

	img = make([]float64, npts*n)
	world = make([]float64, npts*n)
	stat = make([]int, npts)

	for r := 0; r < npts; r++ {
		row := pix[r*n : (r+1)*n]
		out := img[r*n : (r+1)*n]
		// Linear stage: CD * (pixel - CRPIX).
		for i := 0; i < n; i++ {
			sum := 0.0
			for j := 0; j < n; j++ {
				sum += p.CD[i*n+j] * (row[j] - p.CRPix[j])
			}
			out[i] = sum
		}
		wrow := world[r*n : (r+1)*n]
		for i := 0; i < n; i++ {
			wrow[i] = p.CRVal[i] + out[i]
		}
		if p.HasCelestial() {
			lng, lat, ok := p.deproject(out[p.lng], out[p.lat])
			if !ok {
				stat[r] = 1
				status = StatusBadPixel
				continue
			}
			wrow[p.lng] = lng
			wrow[p.lat] = lat
		}
	}
	return img, world, stat, status
}

// S2P converts world coordinates to intermediate and pixel coordinates.
// world holds npts rows of NAxis values, row-major. A point whose world
// coordinates fall outside the projection domain is flagged in stat and
// the overall status is StatusBadWorld.
func (p *Params) S2P(npts int, world []float64) (img, pix []float64, stat []int, status int) {
	if p == nil || world == nil {
		return nil, nil, nil, StatusNullInput
	}
	if !p.set {
		if s := p.Set(); s != StatusOK {
			return nil, nil, nil, s
		}
	}
	n := p.NAxis
	if npts <= 0 || len(world) < npts*n {
		return nil, nil, nil, StatusNullInput
	}

	img = make([]float64, npts*n)
	pix = make([]float64, npts*n)
	stat = make([]int, npts)

	for r := 0; r < npts; r++ {
		wrow := world[r*n : (r+1)*n]
		out := img[r*n : (r+1)*n]
		for i := 0; i < n; i++ {
			out[i] = wrow[i] - p.CRVal[i]
		}
		if p.HasCelestial() {
			x, y, ok := p.project(wrow[p.lng], wrow[p.lat])
			if !ok {
				stat[r] = 1
				status = StatusBadWorld
				// Intermediate values for a failed point are undefined;
				// leave the linear difference in place.
			} else {
				out[p.lng] = x
				out[p.lat] = y
			}
		}
		// Inverse linear stage: CRPIX + CD^-1 * intermediate.
		prow := pix[r*n : (r+1)*n]
		for i := 0; i < n; i++ {
			sum := 0.0
			for j := 0; j < n; j++ {
				sum += p.cdInv[i*n+j] * out[j]
			}
			prow[i] = p.CRPix[i] + sum
		}
	}
	return img, pix, stat, status
}

// X2S deprojects a single intermediate coordinate pair into celestial
// world coordinates. It is the projection inversion used when a fitted
// linear solution is re-anchored at a fixed reference pixel.
func (p *Params) X2S(x, y float64) (lng, lat float64, status int) {
	if p == nil {
		return 0, 0, StatusNullInput
	}
	if !p.set {
		if s := p.Set(); s != StatusOK {
			return 0, 0, s
		}
	}
	if !p.HasCelestial() {
		return 0, 0, StatusBadAxisTypes
	}
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return 0, 0, StatusBadWorld
	}
	lng, lat, ok := p.deproject(x, y)
	if !ok {
		return 0, 0, StatusBadWorld
	}
	return lng, lat, StatusOK
}

// deproject maps projection-plane coordinates (degrees) to celestial
// longitude/latitude via the gnomonic projection about the reference
// point.
func (p *Params) deproject(x, y float64) (lng, lat float64, ok bool) {
	// Native spherical coordinates of the zenithal projection.
	rTheta := math.Hypot(x, y)
	theta := math.Atan2(r0, rTheta) // atan(r0/r), pi/2 at the axis
	phi := 0.0
	if rTheta != 0 {
		phi = math.Atan2(x, -y)
	}
	return p.nativeToCelestial(phi, theta)
}

// project maps celestial longitude/latitude to projection-plane
// coordinates (degrees). Points at or behind the tangent plane are
// rejected.
func (p *Params) project(lng, lat float64) (x, y float64, ok bool) {
	phi, theta := p.celestialToNative(lng, lat)
	sinTheta := math.Sin(theta)
	if sinTheta <= 0 {
		return 0, 0, false
	}
	rTheta := r0 * math.Cos(theta) / sinTheta
	return rTheta * math.Sin(phi), -rTheta * math.Cos(phi), true
}

// nativeToCelestial rotates native spherical coordinates to celestial
// ones. For zenithal projections the reference point is the native pole.
func (p *Params) nativeToCelestial(phi, theta float64) (lng, lat float64, ok bool) {
	lng0 := p.CRVal[p.lng] * degToRad
	lat0 := p.CRVal[p.lat] * degToRad
	phiP := p.LonPole * degToRad

	sinTheta, cosTheta := math.Sincos(theta)
	sinLat0, cosLat0 := math.Sincos(lat0)
	sinDPhi, cosDPhi := math.Sincos(phi - phiP)

	sinLat := sinTheta*sinLat0 + cosTheta*cosLat0*cosDPhi
	if sinLat > 1 {
		sinLat = 1
	} else if sinLat < -1 {
		sinLat = -1
	}
	lat = math.Asin(sinLat)
	lng = lng0 + math.Atan2(-cosTheta*sinDPhi,
		sinTheta*cosLat0-cosTheta*sinLat0*cosDPhi)

	lngDeg := math.Mod(lng*radToDeg, 360)
	if lngDeg < 0 {
		lngDeg += 360
	}
	return lngDeg, lat * radToDeg, true
}

// celestialToNative rotates celestial coordinates into the native
// spherical system of the projection.
func (p *Params) celestialToNative(lng, lat float64) (phi, theta float64) {
	lng0 := p.CRVal[p.lng] * degToRad
	lat0 := p.CRVal[p.lat] * degToRad
	phiP := p.LonPole * degToRad

	dLng := lng*degToRad - lng0
	sinLat, cosLat := math.Sincos(lat * degToRad)
	sinLat0, cosLat0 := math.Sincos(lat0)
	sinDLng, cosDLng := math.Sincos(dLng)

	sinTheta := sinLat*sinLat0 + cosLat*cosLat0*cosDLng
	if sinTheta > 1 {
		sinTheta = 1
	} else if sinTheta < -1 {
		sinTheta = -1
	}
	theta = math.Asin(sinTheta)
	phi = phiP + math.Atan2(-cosLat*sinDLng,
		sinLat*cosLat0-cosLat*sinLat0*cosDLng)
	return phi, theta
}
