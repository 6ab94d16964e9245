package param

import (
	"log"
	"math"
)

// Layout describes a 3D array as outer x rows x inner contiguous elements,
// where "rows" is the axis a request may be split along.
type Layout struct {
	Outer, Rows, Inner int
}

// Elems returns the total element count.
func (l Layout) Elems() int { return l.Outer * l.Rows * l.Inner }

// ProjectionLayout returns the layout of projection data, which is stored as
// g[angle][row][col].
func (p *Params) ProjectionLayout() Layout {
	return Layout{Outer: p.NumAngles, Rows: p.NumRows, Inner: p.NumCols}
}

// VolumeLayout returns the layout of volume data with z as the split axis.
func (p *Params) VolumeLayout() Layout {
	if p.Order == OrderZYX {
		return Layout{Outer: 1, Rows: p.Vol.NumZ, Inner: p.Vol.NumY * p.Vol.NumX}
	}
	// XYZ: z is the fastest axis, so a z-slab is strided.
	return Layout{Outer: p.Vol.NumX * p.Vol.NumY, Rows: p.Vol.NumZ, Inner: 1}
}

// VoxelIndex returns the linear index of voxel (ix,iy,iz) in a full volume.
func (p *Params) VoxelIndex(ix, iy, iz int) int {
	if p.Order == OrderZYX {
		return (iz*p.Vol.NumY+iy)*p.Vol.NumX + ix
	}
	return (ix*p.Vol.NumY+iy)*p.Vol.NumZ + iz
}

// Voxel center coordinates.

func (p *Params) X(ix int) float32 {
	return (float32(ix)-0.5*float32(p.Vol.NumX-1))*p.Vol.VoxelWidth + p.Vol.OffsetX
}

func (p *Params) Y(iy int) float32 {
	return (float32(iy)-0.5*float32(p.Vol.NumY-1))*p.Vol.VoxelWidth + p.Vol.OffsetY
}

func (p *Params) Z(iz int) float32 {
	return (float32(iz)-0.5*float32(p.Vol.NumZ-1))*p.Vol.VoxelHeight + p.Vol.OffsetZ
}

// Detector coordinates: U is the in-row (column) coordinate, V the row
// coordinate, both relative to the detector center ray.

func (p *Params) U(ic int) float32 { return (float32(ic) - p.CenterCol) * p.PixelWidth }

func (p *Params) V(ir int) float32 { return (float32(ir) - p.CenterRow) * p.PixelHeight }

// GridRadius returns the in-plane radius of the volume grid.
func (p *Params) GridRadius() float32 {
	hx := 0.5 * float32(p.Vol.NumX) * p.Vol.VoxelWidth
	hy := 0.5 * float32(p.Vol.NumY) * p.Vol.VoxelWidth
	cx := float64(p.Vol.OffsetX)
	cy := float64(p.Vol.OffsetY)
	r := math.Hypot(float64(hx), float64(hy)) + math.Hypot(cx, cy)
	return float32(r)
}

// FOVRadius returns the active field-of-view radius: RFOV when set,
// otherwise the grid radius.
func (p *Params) FOVRadius() float32 {
	if p.RFOV > 0 {
		return p.RFOV
	}
	return p.GridRadius()
}

// FBPScalar returns the normalization constant that makes filtered
// backprojection quantitatively accurate (attenuation per length). The ramp
// convolver is unit-spacing normalized, so the scalar carries both the
// angular integration weight and the detector sample spacing at isocenter.
func (p *Params) FBPScalar() float32 {
	if !p.GeometryDefined() {
		return 0
	}
	ds := p.PixelWidth
	if p.Beam == BeamFan || p.Beam == BeamCone {
		ds *= p.SOD / p.SDD
	} else if p.Beam == BeamModular {
		ds *= p.ModularAxisDistance(0) / p.ModularDetectorDistance(0)
	}
	return math.Pi / (float32(p.NumAngles) * ds)
}

// ModularAxisDistance returns the in-plane distance from view ia's source
// to the rotation axis, the modular analogue of SOD.
func (p *Params) ModularAxisDistance(ia int) float32 {
	sx := float64(p.SourcePositions[3*ia])
	sy := float64(p.SourcePositions[3*ia+1])
	return float32(math.Hypot(sx, sy))
}

// ModularDetectorDistance returns the perpendicular distance from view
// ia's source to its detector plane, the modular analogue of SDD.
func (p *Params) ModularDetectorDistance(ia int) float32 {
	r := p.RowVectors[3*ia:]
	c := p.ColVectors[3*ia:]
	nx := float64(r[1])*float64(c[2]) - float64(r[2])*float64(c[1])
	ny := float64(r[2])*float64(c[0]) - float64(r[0])*float64(c[2])
	nz := float64(r[0])*float64(c[1]) - float64(r[1])*float64(c[0])
	nlen := math.Sqrt(nx*nx + ny*ny + nz*nz)
	if nlen == 0 {
		return 0
	}
	dx := float64(p.ModuleCenters[3*ia] - p.SourcePositions[3*ia])
	dy := float64(p.ModuleCenters[3*ia+1] - p.SourcePositions[3*ia+1])
	dz := float64(p.ModuleCenters[3*ia+2] - p.SourcePositions[3*ia+2])
	return float32(math.Abs(dx*nx+dy*ny+dz*nz) / nlen)
}

// fz maps a z coordinate to a continuous volume slice index.
func (p *Params) fz(z float32) float64 {
	return float64(z-p.Vol.OffsetZ)/float64(p.Vol.VoxelHeight) + 0.5*float64(p.Vol.NumZ-1)
}

// fr maps a detector v coordinate to a continuous row index.
func (p *Params) fr(v float32) float64 {
	return float64(v)/float64(p.PixelHeight) + float64(p.CenterRow)
}

// mapMargin widens conservative slab/row mappings so that boundary rounding
// and interpolation can never reach outside the computed range.
const mapMargin = 2

func clampRange(lo, hi, n int) (int, int) {
	if lo < 0 {
		lo = 0
	}
	if hi > n {
		hi = n
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// SlabForRows returns a conservative half-open range of volume z slices
// needed to forward project detector rows [rowStart,rowEnd). Geometries with
// no usable row-to-slab structure return the full range.
func (p *Params) SlabForRows(rowStart, rowEnd int) (int, int) {
	nz := p.Vol.NumZ
	switch p.Beam {
	case BeamParallel, BeamFan:
		// Rays stay in the z plane of their detector row.
		vLo := p.V(rowStart)
		vHi := p.V(rowEnd - 1)
		lo := int(math.Floor(p.fz(vLo))) - mapMargin
		hi := int(math.Ceil(p.fz(vHi))) + 1 + mapMargin
		return clampRange(lo, hi, nz)
	case BeamCone:
		if p.HelicalPitch != 0 {
			return 0, nz
		}
		// z along a ray at detector coordinate v spans v*(sod±R)/sdd
		// while the ray crosses the field of view.
		r := p.FOVRadius()
		if r >= p.SOD {
			return 0, nz
		}
		zMin, zMax := math.Inf(1), math.Inf(-1)
		for _, v := range []float32{p.V(rowStart), p.V(rowEnd - 1)} {
			for _, d := range []float32{p.SOD - r, p.SOD + r} {
				z := float64(v) * float64(d) / float64(p.SDD)
				zMin = math.Min(zMin, z)
				zMax = math.Max(zMax, z)
			}
		}
		lo := int(math.Floor(p.fz(float32(zMin)))) - mapMargin
		hi := int(math.Ceil(p.fz(float32(zMax)))) + 1 + mapMargin
		return clampRange(lo, hi, nz)
	default:
		return 0, nz
	}
}

// RowsForSlab returns a conservative half-open range of detector rows needed
// to backproject volume slices [zStart,zEnd).
func (p *Params) RowsForSlab(zStart, zEnd int) (int, int) {
	nr := p.NumRows
	switch p.Beam {
	case BeamParallel, BeamFan:
		lo := int(math.Floor(p.fr(p.Z(zStart)))) - mapMargin
		hi := int(math.Ceil(p.fr(p.Z(zEnd-1)))) + 1 + mapMargin
		return clampRange(lo, hi, nr)
	case BeamCone:
		if p.HelicalPitch != 0 {
			return 0, nr
		}
		r := p.FOVRadius()
		if r >= p.SOD {
			return 0, nr
		}
		vMin, vMax := math.Inf(1), math.Inf(-1)
		for _, z := range []float32{p.Z(zStart), p.Z(zEnd - 1)} {
			for _, d := range []float32{p.SOD - r, p.SOD + r} {
				v := float64(z) * float64(p.SDD) / float64(d)
				vMin = math.Min(vMin, v)
				vMax = math.Max(vMax, v)
			}
		}
		lo := int(math.Floor(p.fr(float32(vMin)))) - mapMargin
		hi := int(math.Ceil(p.fr(float32(vMax)))) + 1 + mapMargin
		return clampRange(lo, hi, nr)
	default:
		return 0, nr
	}
}

// SourcePosition returns the (x,y,z) source position for view ia.
func (p *Params) SourcePosition(ia int) (float32, float32, float32) {
	if p.Beam == BeamModular {
		return p.SourcePositions[3*ia], p.SourcePositions[3*ia+1], p.SourcePositions[3*ia+2]
	}
	phi := p.Phis[ia]
	zs := float32(0)
	if p.HelicalPitch != 0 {
		zs = p.HelicalPitch * phi / (2 * math.Pi)
	}
	return p.SOD * float32(math.Cos(float64(phi))), p.SOD * float32(math.Sin(float64(phi))), zs
}

// Print writes the configured geometry and volume to the standard logger.
func (p *Params) Print() {
	if !p.GeometryDefined() {
		log.Printf("geometry: not set")
	} else {
		log.Printf("geometry: %s beam, %d angles, %d rows x %d cols, pixel %g x %g, center (%g, %g)",
			p.Beam, p.NumAngles, p.NumRows, p.NumCols, p.PixelHeight, p.PixelWidth, p.CenterRow, p.CenterCol)
		if p.Beam == BeamFan || p.Beam == BeamCone {
			log.Printf("geometry: sod=%g sdd=%g helicalPitch=%g", p.SOD, p.SDD, p.HelicalPitch)
		}
	}
	if !p.VolumeDefined() {
		log.Printf("volume: not set")
		return
	}
	log.Printf("volume: %d x %d x %d voxels, pitch %g / %g, offset (%g, %g, %g), order %v",
		p.Vol.NumX, p.Vol.NumY, p.Vol.NumZ, p.Vol.VoxelWidth, p.Vol.VoxelHeight,
		p.Vol.OffsetX, p.Vol.OffsetY, p.Vol.OffsetZ, p.Order)
}
