package filter

import (
	"fmt"
	"math"

	"github.com/xraylab/tomo/param"
)

func checkProjChunk(g []float32, p *param.Params, rowStart, rowEnd int) error {
	if !p.GeometryDefined() {
		return fmt.Errorf("filter: geometry not set")
	}
	if rowStart < 0 || rowEnd > p.NumRows || rowStart >= rowEnd {
		return fmt.Errorf("filter: row range [%d,%d) out of [0,%d)", rowStart, rowEnd, p.NumRows)
	}
	if want := p.NumAngles * (rowEnd - rowStart) * p.NumCols; len(g) != want {
		return fmt.Errorf("filter: projection chunk has %d elements, rows [%d,%d) need %d",
			len(g), rowStart, rowEnd, want)
	}
	return nil
}

// RampFilterProjections applies the ramp convolver to every detector row of
// the chunk, in place, and multiplies by scalar.
func RampFilterProjections(g []float32, p *param.Params, rowStart, rowEnd int, scalar float32) error {
	if err := checkProjChunk(g, p, rowStart, rowEnd); err != nil {
		return err
	}
	n := p.NumCols
	np := nextPow2(2 * n)
	resp := rampResponse(n, np, p.RampID)
	filterRows(g, p.NumAngles*(rowEnd-rowStart), n, np, resp, scalar)
	return nil
}

// HilbertFilterProjections applies the Hilbert transform to every detector
// row of the chunk, in place, and multiplies by scalar.
func HilbertFilterProjections(g []float32, p *param.Params, rowStart, rowEnd int, scalar float32) error {
	if err := checkProjChunk(g, p, rowStart, rowEnd); err != nil {
		return err
	}
	n := p.NumCols
	np := nextPow2(2 * n)
	filterRows(g, p.NumAngles*(rowEnd-rowStart), n, np, hilbertResponse(np), scalar)
	return nil
}

// Projections applies the full FBP filtering stage to the chunk in place:
// the divergent-beam cosine pre-weight followed by the ramp convolver.
// Row coordinates are global, so a chunked application matches a full one.
func Projections(g []float32, p *param.Params, rowStart, rowEnd int) error {
	if err := checkProjChunk(g, p, rowStart, rowEnd); err != nil {
		return err
	}
	if p.Beam == param.BeamFan || p.Beam == param.BeamCone || p.Beam == param.BeamModular {
		preWeight(g, p, rowStart, rowEnd)
	}
	return RampFilterProjections(g, p, rowStart, rowEnd, 1)
}

// preWeight applies the flat-detector FDK cosine weight
// d/sqrt(d^2+u^2(+v^2)) per sample, where d is the source-to-detector
// distance of the view.
func preWeight(g []float32, p *param.Params, rowStart, rowEnd int) {
	rows := rowEnd - rowStart
	flat := p.Beam == param.BeamFan
	for ia := 0; ia < p.NumAngles; ia++ {
		d := float64(p.SDD)
		if p.Beam == param.BeamModular {
			d = float64(p.ModularDetectorDistance(ia))
		}
		d2 := d * d
		for ir := rowStart; ir < rowEnd; ir++ {
			v2 := 0.0
			if !flat {
				v := float64(p.V(ir))
				v2 = v * v
			}
			for ic := 0; ic < p.NumCols; ic++ {
				u := float64(p.U(ic))
				wgt := float32(d / math.Sqrt(d2+u*u+v2))
				g[(ia*rows+(ir-rowStart))*p.NumCols+ic] *= wgt
			}
		}
	}
}

// RampVolume applies a 2D radial ramp filter to each z slice of the chunk,
// in place. The chunk holds nz slices of an nx x ny grid in the given
// dimension order.
func RampVolume(f []float32, nx, ny, nz int, zyx bool, scalar float32) error {
	if len(f) != nx*ny*nz {
		return fmt.Errorf("filter: volume chunk has %d elements, want %d", len(f), nx*ny*nz)
	}
	npx := nextPow2(2 * nx)
	npy := nextPow2(2 * ny)
	idx := func(ix, iy, iz int) int {
		if zyx {
			return (iz*ny+iy)*nx + ix
		}
		return (ix*ny+iy)*nz + iz
	}

	work := make([]complex128, npx*npy)
	for iz := 0; iz < nz; iz++ {
		for i := range work {
			work[i] = 0
		}
		for iy := 0; iy < ny; iy++ {
			for ix := 0; ix < nx; ix++ {
				work[iy*npx+ix] = complex(float64(f[idx(ix, iy, iz)]), 0)
			}
		}
		fft2(work, npx, npy, false)
		for ky := 0; ky < npy; ky++ {
			fy := freq(ky, npy)
			for kx := 0; kx < npx; kx++ {
				work[ky*npx+kx] *= complex(math.Hypot(freq(kx, npx), fy), 0)
			}
		}
		fft2(work, npx, npy, true)
		inv := float64(scalar) / float64(npx*npy)
		for iy := 0; iy < ny; iy++ {
			for ix := 0; ix < nx; ix++ {
				f[idx(ix, iy, iz)] = float32(real(work[iy*npx+ix]) * inv)
			}
		}
	}
	return nil
}

// freq returns the signed frequency in cycles per sample for bin k.
func freq(k, n int) float64 {
	if k <= n/2 {
		return float64(k) / float64(n)
	}
	return float64(k-n) / float64(n)
}
