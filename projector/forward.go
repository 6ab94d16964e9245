package projector

import (
	"fmt"
	"math"

	"github.com/xraylab/tomo/param"
)

// Project forward projects the windowed volume f into the windowed
// projection buffer g. The forward kernels are ray-driven: each detector
// sample integrates the interpolated volume along its ray with a half-voxel
// step, so every output element is written independently.
func Project(g, f []float32, p *param.Params, w Window) error {
	if err := w.check(p, g, f); err != nil {
		return err
	}
	if p.Symmetric() {
		return projectSymmetric(g, f, p, w)
	}
	switch p.Beam {
	case param.BeamParallel:
		projectParallel(g, f, p, w)
	case param.BeamFan, param.BeamCone:
		projectDivergent(g, f, p, w)
	case param.BeamModular:
		projectModular(g, f, p, w)
	default:
		return fmt.Errorf("projector: unsupported beam type %v", p.Beam)
	}
	return nil
}

// integrate marches the ray S + t*dir over [tMin,tMax] clipped to the
// volume's bounding sphere, accumulating trilinear samples of f.
func integrate(f []float32, p *param.Params, w Window, c coords, sx, sy, sz, dx, dy, dz, tMin, tMax float64) float64 {
	t0, t1, ok := clipToSphere(p, sx, sy, sz, dx, dy, dz, tMin, tMax)
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
		z := sz + t*dz
		sum += sampleVolume(f, p, w, c.fx(x), c.fy(y), c.fzi(z))
	}
	return sum * dt
}

func projectParallel(g, f []float32, p *param.Params, w Window) {
	c := newCoords(p)
	atten := p.HasAttenuation()
	// Half-length covering the grid on either side of the isocenter.
	span := float64(p.GridRadius()) + c.vw

	parallelFor(p.NumAngles, func(ia int) {
		phi := float64(p.Phis[ia])
		dx, dy := math.Cos(phi), math.Sin(phi)
		ux, uy := -math.Sin(phi), math.Cos(phi)
		for ir := w.RowStart; ir < w.RowEnd; ir++ {
			v := float64(p.V(ir))
			for ic := 0; ic < p.NumCols; ic++ {
				u := float64(p.U(ic))
				sx := u*ux - span*dx
				sy := u*uy - span*dy
				var val float64
				if atten {
					val = integrateAttenuated(f, p, w, c, sx, sy, v, dx, dy)
				} else {
					val = integrate(f, p, w, c, sx, sy, v, dx, dy, 0, 0, 2*span)
				}
				g[gIndex(p, w, ia, ir, ic)] = float32(val)
			}
		}
	})
}

// projectDivergent handles fan and cone beams: the source orbits at SOD and
// rays diverge toward a flat detector at SDD. Fan beams keep rays in their
// detector row's z plane; cone beams diverge in z as well and may carry a
// helical source translation.
func projectDivergent(g, f []float32, p *param.Params, w Window) {
	c := newCoords(p)
	cone := p.Beam == param.BeamCone
	sod := float64(p.SOD)
	sdd := float64(p.SDD)

	parallelFor(p.NumAngles, func(ia int) {
		phi := float64(p.Phis[ia])
		sx, sy, sz32 := p.SourcePosition(ia)
		sxf, syf, szf := float64(sx), float64(sy), float64(sz32)
		// Central ray direction and the detector column axis.
		wx, wy := -math.Cos(phi), -math.Sin(phi)
		ux, uy := -math.Sin(phi), math.Cos(phi)
		for ir := w.RowStart; ir < w.RowEnd; ir++ {
			v := float64(p.V(ir))
			for ic := 0; ic < p.NumCols; ic++ {
				u := float64(p.U(ic))
				// Detector sample position for this ray.
				px := sxf + sdd*wx + u*ux
				py := syf + sdd*wy + u*uy
				pz := szf
				if cone {
					pz += v
				}
				dx, dy, dz := px-sxf, py-syf, 0.0
				if cone {
					dz = pz - szf
				}
				norm := math.Sqrt(dx*dx + dy*dy + dz*dz)
				dx, dy, dz = dx/norm, dy/norm, dz/norm
				oz := szf
				if !cone {
					// Fan rays live in the z plane of their row.
					oz = szf + v
				}
				val := integrate(f, p, w, c, sxf, syf, oz, dx, dy, dz, 0, sod+sdd)
				g[gIndex(p, w, ia, ir, ic)] = float32(val)
			}
		}
	})
}

func projectModular(g, f []float32, p *param.Params, w Window) {
	c := newCoords(p)
	ph := float64(p.PixelHeight)
	pw := float64(p.PixelWidth)

	parallelFor(p.NumAngles, func(ia int) {
		sx := float64(p.SourcePositions[3*ia])
		sy := float64(p.SourcePositions[3*ia+1])
		sz := float64(p.SourcePositions[3*ia+2])
		mx := float64(p.ModuleCenters[3*ia])
		my := float64(p.ModuleCenters[3*ia+1])
		mz := float64(p.ModuleCenters[3*ia+2])
		rx := float64(p.RowVectors[3*ia])
		ry := float64(p.RowVectors[3*ia+1])
		rz := float64(p.RowVectors[3*ia+2])
		cx := float64(p.ColVectors[3*ia])
		cy := float64(p.ColVectors[3*ia+1])
		cz := float64(p.ColVectors[3*ia+2])

		for ir := w.RowStart; ir < w.RowEnd; ir++ {
			rOff := (float64(ir) - float64(p.CenterRow)) * ph
			for ic := 0; ic < p.NumCols; ic++ {
				cOff := (float64(ic) - float64(p.CenterCol)) * pw
				px := mx + rOff*rx + cOff*cx
				py := my + rOff*ry + cOff*cy
				pz := mz + rOff*rz + cOff*cz
				dx, dy, dz := px-sx, py-sy, pz-sz
				norm := math.Sqrt(dx*dx + dy*dy + dz*dz)
				dx, dy, dz = dx/norm, dy/norm, dz/norm
				val := integrate(f, p, w, c, sx, sy, sz, dx, dy, dz, 0, norm)
				g[gIndex(p, w, ia, ir, ic)] = float32(val)
			}
		}
	})
}
