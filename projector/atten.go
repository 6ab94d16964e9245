package projector

import (
	"math"

	"github.com/xraylab/tomo/param"
)

// Attenuated (SPECT-style) projection is supported for parallel beams only.
// Each emission sample is weighted by exp(-A), where A is the attenuation
// line integral from the sample point to the detector side of the ray.

// chordAhead returns the length of the segment of the 2D ray (x,y)+t(dx,dy),
// t >= 0, lying inside the cylinder of radius r centered on the origin.
func chordAhead(x, y, dx, dy, r float64) float64 {
	b := x*dx + y*dy
	c := x*x + y*y - r*r
	disc := b*b - c
	if disc <= 0 {
		return 0
	}
	s := math.Sqrt(disc)
	t0 := math.Max(0, -b-s)
	t1 := math.Max(0, -b+s)
	return t1 - t0
}

// attenuationTo returns the attenuation integral from (x,y,z) to the
// detector along direction (dx,dy) for the configured model.
func attenuationTo(p *param.Params, c coords, x, y, z, dx, dy float64) float64 {
	if p.MuCoeff > 0 {
		return float64(p.MuCoeff) * chordAhead(x, y, dx, dy, float64(p.MuRadius))
	}
	// Full map: march to the edge of the grid accumulating mu.
	span := 2 * (float64(p.GridRadius()) + c.vw)
	dt := c.vw * 0.5
	n := int(span/dt) + 1
	var a float64
	fw := Full(p)
	mu := p.MuMap
	for i := 0; i < n; i++ {
		t := (float64(i) + 0.5) * dt
		a += sampleVolume(mu, p, fw, c.fx(x+t*dx), c.fy(y+t*dy), c.fzi(z)) * dt
	}
	return a
}

// integrateAttenuated is the parallel-beam forward integral with the
// attenuation weight applied per sample. The ray direction points toward
// the detector.
func integrateAttenuated(f []float32, p *param.Params, w Window, c coords, sx, sy, z, dx, dy float64) float64 {
	t0, t1, ok := clipToSphere(p, sx, sy, z, dx, dy, 0, 0, math.Inf(1))
	if !ok {
		return 0
	}
	dt := c.vw * 0.5
	n := int((t1-t0)/dt) + 1
	var sum float64
	for i := 0; i < n; i++ {
		t := t0 + (float64(i)+0.5)*dt
		if t > t1 {
			break
		}
		x := sx + t*dx
		y := sy + t*dy
		s := sampleVolume(f, p, w, c.fx(x), c.fy(y), c.fzi(z))
		if s != 0 {
			sum += s * math.Exp(-attenuationTo(p, c, x, y, z, dx, dy))
		}
	}
	return sum * dt
}
