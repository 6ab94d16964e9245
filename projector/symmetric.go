package projector

import (
	"fmt"
	"math"

	"github.com/xraylab/tomo/param"
)

// Cylindrically-symmetric mode: the volume collapses to a radial profile
// (numX == 1, the y axis carrying the radius) and a single view suffices.
// The dispatch layer runs symmetric problems in one CPU partition, so the
// adjoint below may scatter without racing.

func checkSymmetric(p *param.Params, w Window) error {
	if p.NumAngles != 1 {
		return fmt.Errorf("projector: symmetric mode requires a single view, have %d", p.NumAngles)
	}
	if p.Beam != param.BeamParallel && p.Beam != param.BeamCone {
		return fmt.Errorf("projector: symmetric mode requires a parallel or cone geometry, have %s", p.Beam)
	}
	if p.Vol.NumX != 1 {
		return fmt.Errorf("projector: symmetric volumes must have numX == 1, have %d", p.Vol.NumX)
	}
	full := Full(p)
	if w != full {
		return fmt.Errorf("projector: symmetric kernels accept only the full window")
	}
	return nil
}

// radialIndex maps a radius to the continuous y index of the profile.
func radialIndex(c coords, r float64) float64 {
	return (r-c.offY)/c.vw + 0.5*float64(c.ny-1)
}

const ia0 = 0

// symmetricRaySamples walks the half-voxel-spaced samples of the detector
// ray (u, v) and reports each as continuous (radial, slice) profile
// indices. Parallel rays run perpendicular to the axis at lateral offset u
// in the z plane of their row; cone rays diverge from the source toward
// the detector sample, so radius and slice both vary along the ray.
func symmetricRaySamples(p *param.Params, c coords, u, v float64, fn func(fy, fz float64)) {
	dt := c.vw * 0.5
	if p.Beam == param.BeamCone {
		phi := float64(p.Phis[ia0])
		sx32, sy32, sz32 := p.SourcePosition(ia0)
		sx, sy, sz := float64(sx32), float64(sy32), float64(sz32)
		sdd := float64(p.SDD)
		px := sx - sdd*math.Cos(phi) - u*math.Sin(phi)
		py := sy - sdd*math.Sin(phi) + u*math.Cos(phi)
		pz := sz + v
		dx, dy, dz := px-sx, py-sy, pz-sz
		norm := math.Sqrt(dx*dx + dy*dy + dz*dz)
		dx, dy, dz = dx/norm, dy/norm, dz/norm
		t0, t1, ok := clipToSphere(p, sx, sy, sz, dx, dy, dz, 0, float64(p.SOD)+sdd)
		if !ok {
			return
		}
		n := int((t1-t0)/dt) + 1
		for i := 0; i < n; i++ {
			t := t0 + (float64(i)+0.5)*dt
			if t > t1 {
				break
			}
			x := sx + t*dx
			y := sy + t*dy
			fn(radialIndex(c, math.Hypot(x, y)), c.fzi(sz+t*dz))
		}
		return
	}
	span := float64(p.GridRadius()) + c.vw
	n := int(2*span/dt) + 1
	fz := c.fzi(v)
	for i := 0; i < n; i++ {
		x := -span + (float64(i)+0.5)*dt
		fn(radialIndex(c, math.Hypot(x, u)), fz)
	}
}

func projectSymmetric(g, f []float32, p *param.Params, w Window) error {
	if err := checkSymmetric(p, w); err != nil {
		return err
	}
	c := newCoords(p)
	dt := c.vw * 0.5

	parallelFor(w.rows(), func(k int) {
		ir := w.RowStart + k
		v := float64(p.V(ir))
		for ic := 0; ic < p.NumCols; ic++ {
			u := float64(p.U(ic))
			var sum float64
			symmetricRaySamples(p, c, u, v, func(fy, fz float64) {
				sum += sampleVolume(f, p, w, 0, fy, fz)
			})
			g[gIndex(p, w, ia0, ir, ic)] = float32(sum * dt)
		}
	})
	return nil
}

func backprojectSymmetric(g, f []float32, p *param.Params, w Window) error {
	if err := checkSymmetric(p, w); err != nil {
		return err
	}
	c := newCoords(p)
	dt := c.vw * 0.5

	for i := range f {
		f[i] = 0
	}
	// Exact adjoint of projectSymmetric: scatter each ray sample back into
	// the radial profile with the same interpolation weights.
	for ir := w.RowStart; ir < w.RowEnd; ir++ {
		v := float64(p.V(ir))
		for ic := 0; ic < p.NumCols; ic++ {
			u := float64(p.U(ic))
			val := float64(g[gIndex(p, w, ia0, ir, ic)]) * dt
			if val == 0 {
				continue
			}
			symmetricRaySamples(p, c, u, v, func(fy, fz float64) {
				scatterRadial(f, p, w, fy, fz, val)
			})
		}
	}
	return nil
}

// scatterRadial adds val into the profile with the bilinear weights that
// sampleVolume uses to read it, keeping the pair exact adjoints.
func scatterRadial(f []float32, p *param.Params, w Window, fy, fz, val float64) {
	iy0 := int(math.Floor(fy))
	iz0 := int(math.Floor(fz))
	wy := fy - float64(iy0)
	wz := fz - float64(iz0)
	for dz := 0; dz < 2; dz++ {
		iz := iz0 + dz
		if iz < w.ZStart || iz >= w.ZEnd {
			continue
		}
		cz := wz
		if dz == 0 {
			cz = 1 - wz
		}
		for dy := 0; dy < 2; dy++ {
			iy := iy0 + dy
			if iy < 0 || iy >= p.Vol.NumY {
				continue
			}
			cy := wy
			if dy == 0 {
				cy = 1 - wy
			}
			f[fIndex(p, w, 0, iy, iz)] += float32(val * cz * cy)
		}
	}
}
