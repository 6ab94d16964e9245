package projector

import (
	"fmt"
	"math"

	"github.com/xraylab/tomo/param"
)

// Backproject smears the windowed projection data g into the windowed
// volume f. The adjoint kernels are voxel-driven: each voxel gathers the
// bilinearly interpolated detector value for every view, so a voxel writes
// only itself and slab partitions never race.
func Backproject(g, f []float32, p *param.Params, w Window) error {
	return backproject(g, f, p, w, false)
}

// WeightedBackproject is the backprojection stage of filtered
// backprojection: identical to Backproject for parallel beams, and carrying
// the FDK distance weight (sod/along)^2 for divergent beams.
func WeightedBackproject(g, f []float32, p *param.Params, w Window) error {
	return backproject(g, f, p, w, true)
}

func backproject(g, f []float32, p *param.Params, w Window, weighted bool) error {
	if err := w.check(p, g, f); err != nil {
		return err
	}
	if p.Symmetric() {
		return backprojectSymmetric(g, f, p, w)
	}
	switch p.Beam {
	case param.BeamParallel:
		backprojectParallel(g, f, p, w)
	case param.BeamFan, param.BeamCone:
		backprojectDivergent(g, f, p, w, weighted)
	case param.BeamModular:
		backprojectModular(g, f, p, w, weighted)
	default:
		return fmt.Errorf("projector: unsupported beam type %v", p.Beam)
	}
	return nil
}

// fovMask reports whether voxel (x,y) participates in backprojection.
func fovMask(p *param.Params, x, y float64) bool {
	if p.RFOV <= 0 {
		return true
	}
	r := float64(p.RFOV)
	return x*x+y*y <= r*r
}

func backprojectParallel(g, f []float32, p *param.Params, w Window) {
	c := newCoords(p)
	atten := p.HasAttenuation()
	ph := float64(p.PixelHeight)
	pw := float64(p.PixelWidth)
	cr := float64(p.CenterRow)
	cc := float64(p.CenterCol)

	parallelFor(w.slices(), func(k int) {
		iz := w.ZStart + k
		z := float64(p.Z(iz))
		fr := z/ph + cr
		for iy := 0; iy < p.Vol.NumY; iy++ {
			y := float64(p.Y(iy))
			for ix := 0; ix < p.Vol.NumX; ix++ {
				x := float64(p.X(ix))
				if !fovMask(p, x, y) {
					f[fIndex(p, w, ix, iy, iz)] = 0
					continue
				}
				var sum float64
				for ia := 0; ia < p.NumAngles; ia++ {
					phi := float64(p.Phis[ia])
					u := -x*math.Sin(phi) + y*math.Cos(phi)
					fc := u/pw + cc
					val := gatherProjection(g, p, w, ia, fr, fc)
					if val == 0 {
						continue
					}
					if atten {
						val *= math.Exp(-attenuationTo(p, c, x, y, z, math.Cos(phi), math.Sin(phi)))
					}
					sum += val
				}
				f[fIndex(p, w, ix, iy, iz)] = float32(sum)
			}
		}
	})
}

func backprojectDivergent(g, f []float32, p *param.Params, w Window, weighted bool) {
	cone := p.Beam == param.BeamCone
	sod := float64(p.SOD)
	sdd := float64(p.SDD)
	ph := float64(p.PixelHeight)
	pw := float64(p.PixelWidth)
	cr := float64(p.CenterRow)
	cc := float64(p.CenterCol)

	parallelFor(w.slices(), func(k int) {
		iz := w.ZStart + k
		z := float64(p.Z(iz))
		for iy := 0; iy < p.Vol.NumY; iy++ {
			y := float64(p.Y(iy))
			for ix := 0; ix < p.Vol.NumX; ix++ {
				x := float64(p.X(ix))
				if !fovMask(p, x, y) {
					f[fIndex(p, w, ix, iy, iz)] = 0
					continue
				}
				var sum float64
				for ia := 0; ia < p.NumAngles; ia++ {
					phi := float64(p.Phis[ia])
					sx, sy, sz32 := p.SourcePosition(ia)
					// Distance from the source plane to the voxel
					// along the central ray.
					wx, wy := -math.Cos(phi), -math.Sin(phi)
					dx, dy := x-float64(sx), y-float64(sy)
					along := dx*wx + dy*wy
					if along <= 0 {
						continue
					}
					u := sdd * (dx*(-math.Sin(phi)) + dy*math.Cos(phi)) / along
					var v float64
					if cone {
						v = sdd * (z - float64(sz32)) / along
					} else {
						v = z
					}
					fr := v/ph + cr
					fc := u/pw + cc
					val := gatherProjection(g, p, w, ia, fr, fc)
					if val == 0 {
						continue
					}
					if weighted {
						wgt := sod / along
						val *= wgt * wgt
					}
					sum += val
				}
				f[fIndex(p, w, ix, iy, iz)] = float32(sum)
			}
		}
	})
}

func backprojectModular(g, f []float32, p *param.Params, w Window, weighted bool) {
	ph := float64(p.PixelHeight)
	pw := float64(p.PixelWidth)
	cr := float64(p.CenterRow)
	cc := float64(p.CenterCol)

	parallelFor(w.slices(), func(k int) {
		iz := w.ZStart + k
		z := float64(p.Z(iz))
		for iy := 0; iy < p.Vol.NumY; iy++ {
			y := float64(p.Y(iy))
			for ix := 0; ix < p.Vol.NumX; ix++ {
				x := float64(p.X(ix))
				if !fovMask(p, x, y) {
					f[fIndex(p, w, ix, iy, iz)] = 0
					continue
				}
				var sum float64
				for ia := 0; ia < p.NumAngles; ia++ {
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

					// Unit detector plane normal (row x col).
					nx := ry*cz - rz*cy
					ny := rz*cx - rx*cz
					nz := rx*cy - ry*cx
					nlen := math.Sqrt(nx*nx + ny*ny + nz*nz)
					nx, ny, nz = nx/nlen, ny/nlen, nz/nlen
					d0 := (mx-sx)*nx + (my-sy)*ny + (mz-sz)*nz
					along := (x-sx)*nx + (y-sy)*ny + (z-sz)*nz
					if along == 0 || d0/along <= 0 {
						continue
					}
					t := d0 / along
					// Intersection with the detector plane, relative
					// to the module center.
					qx := sx + t*(x-sx) - mx
					qy := sy + t*(y-sy) - my
					qz := sz + t*(z-sz) - mz
					u := qx*cx + qy*cy + qz*cz
					v := qx*rx + qy*ry + qz*rz
					fr := v/ph + cr
					fc := u/pw + cc
					val := gatherProjection(g, p, w, ia, fr, fc)
					if val == 0 {
						continue
					}
					if weighted {
						// Magnification relative to the rotation axis,
						// matching the cone-beam (sod/along)^2 weight.
						wgt := math.Hypot(sx, sy) / along
						val *= wgt * wgt
					}
					sum += val
				}
				f[fIndex(p, w, ix, iy, iz)] = float32(sum)
			}
		}
	})
}
