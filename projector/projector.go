// Package projector implements the per-geometry forward and adjoint
// projection kernels. Each kernel is a pure function of its input buffer,
// the geometry description, and a window restricting it to a contiguous
// detector-row and volume-slab range; a kernel performs no partitioning or
// transfer itself and assumes its buffers fit in the execution context that
// invoked it. Windowed invocations are bit-identical to the matching region
// of a full-window invocation, which is what lets the dispatch layer split
// requests without changing the mathematical result.
package projector

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/xraylab/tomo/param"
)

// Window restricts a kernel call to detector rows [RowStart,RowEnd) and
// volume slices [ZStart,ZEnd). The projection buffer holds exactly the
// windowed rows for every angle; the volume buffer holds exactly the
// windowed slices.
type Window struct {
	RowStart, RowEnd int
	ZStart, ZEnd     int
}

// Full returns the window covering the entire problem.
func Full(p *param.Params) Window {
	return Window{RowStart: 0, RowEnd: p.NumRows, ZStart: 0, ZEnd: p.Vol.NumZ}
}

func (w Window) rows() int   { return w.RowEnd - w.RowStart }
func (w Window) slices() int { return w.ZEnd - w.ZStart }

func (w Window) check(p *param.Params, g, f []float32) error {
	if !p.AllDefined() {
		return fmt.Errorf("projector: geometry or volume not set")
	}
	if w.RowStart < 0 || w.RowEnd > p.NumRows || w.RowStart >= w.RowEnd ||
		w.ZStart < 0 || w.ZEnd > p.Vol.NumZ || w.ZStart >= w.ZEnd {
		return fmt.Errorf("projector: window %+v out of range (%d rows, %d slices)", w, p.NumRows, p.Vol.NumZ)
	}
	if want := p.NumAngles * w.rows() * p.NumCols; len(g) != want {
		return fmt.Errorf("projector: projection buffer has %d elements, window needs %d", len(g), want)
	}
	if want := w.slices() * p.Vol.NumX * p.Vol.NumY; len(f) != want {
		return fmt.Errorf("projector: volume buffer has %d elements, window needs %d", len(f), want)
	}
	return nil
}

// gIndex returns the index of (angle, global row, col) in a windowed
// projection buffer.
func gIndex(p *param.Params, w Window, ia, ir, ic int) int {
	return (ia*w.rows()+(ir-w.RowStart))*p.NumCols + ic
}

// fIndex returns the index of voxel (ix, iy, global iz) in a windowed
// volume buffer, honoring the configured dimension order.
func fIndex(p *param.Params, w Window, ix, iy, iz int) int {
	if p.Order == param.OrderZYX {
		return ((iz-w.ZStart)*p.Vol.NumY+iy)*p.Vol.NumX + ix
	}
	return (ix*p.Vol.NumY+iy)*w.slices() + (iz - w.ZStart)
}

// sampleVolume trilinearly interpolates a windowed volume at continuous
// voxel indices. Samples outside the volume read as zero; samples outside
// the window (a conservative-mapping miss) also read as zero.
func sampleVolume(f []float32, p *param.Params, w Window, fx, fy, fz float64) float64 {
	ix0 := int(math.Floor(fx))
	iy0 := int(math.Floor(fy))
	iz0 := int(math.Floor(fz))
	wx := fx - float64(ix0)
	wy := fy - float64(iy0)
	wz := fz - float64(iz0)

	var sum float64
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
			for dx := 0; dx < 2; dx++ {
				ix := ix0 + dx
				if ix < 0 || ix >= p.Vol.NumX {
					continue
				}
				cx := wx
				if dx == 0 {
					cx = 1 - wx
				}
				sum += cz * cy * cx * float64(f[fIndex(p, w, ix, iy, iz)])
			}
		}
	}
	return sum
}

// gatherProjection bilinearly interpolates a windowed projection buffer at
// continuous (row, col) indices for one angle. Rows and columns outside the
// detector, or outside the window, read as zero.
func gatherProjection(g []float32, p *param.Params, w Window, ia int, fr, fc float64) float64 {
	ir0 := int(math.Floor(fr))
	ic0 := int(math.Floor(fc))
	wr := fr - float64(ir0)
	wc := fc - float64(ic0)

	var sum float64
	for dr := 0; dr < 2; dr++ {
		ir := ir0 + dr
		if ir < w.RowStart || ir >= w.RowEnd || ir >= p.NumRows {
			continue
		}
		cr := wr
		if dr == 0 {
			cr = 1 - wr
		}
		for dc := 0; dc < 2; dc++ {
			ic := ic0 + dc
			if ic < 0 || ic >= p.NumCols {
				continue
			}
			cc := wc
			if dc == 0 {
				cc = 1 - wc
			}
			sum += cr * cc * float64(g[gIndex(p, w, ia, ir, ic)])
		}
	}
	return sum
}

// continuous volume indices for a physical coordinate
func (c coords) fx(x float64) float64 { return (x-c.offX)/c.vw + 0.5*float64(c.nx-1) }
func (c coords) fy(y float64) float64 { return (y-c.offY)/c.vw + 0.5*float64(c.ny-1) }
func (c coords) fzi(z float64) float64 {
	return (z-c.offZ)/c.vh + 0.5*float64(c.nz-1)
}

type coords struct {
	vw, vh           float64
	offX, offY, offZ float64
	nx, ny, nz       int
}

func newCoords(p *param.Params) coords {
	return coords{
		vw:   float64(p.Vol.VoxelWidth),
		vh:   float64(p.Vol.VoxelHeight),
		offX: float64(p.Vol.OffsetX),
		offY: float64(p.Vol.OffsetY),
		offZ: float64(p.Vol.OffsetZ),
		nx:   p.Vol.NumX,
		ny:   p.Vol.NumY,
		nz:   p.Vol.NumZ,
	}
}

// parallelFor runs fn(i) for i in [0,n) across worker goroutines and waits
// for all of them. Iterations must be independent.
func parallelFor(n int, fn func(i int)) {
	workers := runtime.NumCPU()
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	var wg sync.WaitGroup
	wg.Add(workers)
	per := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * per
		end := start + per
		if end > n {
			end = n
		}
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				fn(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// clipToSphere intersects the ray S + t*dir with the sphere of radius r
// around the volume center and returns the clipped [t0,t1] range. The
// second return is false when the ray misses.
func clipToSphere(p *param.Params, sx, sy, sz, dx, dy, dz, tMin, tMax float64) (float64, float64, bool) {
	cx := float64(p.Vol.OffsetX)
	cy := float64(p.Vol.OffsetY)
	cz := float64(p.Vol.OffsetZ)
	r := float64(p.GridRadius()) + float64(p.Vol.VoxelHeight)*0.5*float64(p.Vol.NumZ) + 2*float64(p.Vol.VoxelWidth)

	ox, oy, oz := sx-cx, sy-cy, sz-cz
	b := ox*dx + oy*dy + oz*dz
	c := ox*ox + oy*oy + oz*oz - r*r
	disc := b*b - c
	if disc <= 0 {
		return 0, 0, false
	}
	s := math.Sqrt(disc)
	t0 := math.Max(tMin, -b-s)
	t1 := math.Min(tMax, -b+s)
	if t1 <= t0 {
		return 0, 0, false
	}
	return t0, t1, true
}
