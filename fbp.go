package tomo

import (
	"github.com/xraylab/tomo/filter"
	"github.com/xraylab/tomo/param"
	"github.com/xraylab/tomo/projector"
)

// FBP reconstructs the volume f from the projection data g by filtered
// backprojection: ray weighting and ramp filtering per detector row,
// weighted backprojection, and the angular normalization scalar. The
// caller's projection data is not modified; filtering happens on the
// staged chunks.
func (e *Engine) FBP(g, f Buffer) error {
	scalar := e.params.FBPScalar()
	pre := func(in []float32, rowStart, rowEnd int) error {
		if err := filter.Projections(in, e.params, rowStart, rowEnd); err != nil {
			return err
		}
		for i := range in {
			in[i] *= scalar
		}
		return nil
	}
	return e.backprojectOp("FBP", g, f, projector.WeightedBackproject, pre)
}

// FilterProjections applies the full FBP filtering chain to g in place:
// ray weighting, ramp filter, and the FBP scalar. WeightedBackproject of
// the result equals FBP of the original data.
func (e *Engine) FilterProjections(g Buffer) error {
	scalar := e.params.FBPScalar()
	return e.filterOp("FilterProjections", g, func(chunk []float32, rowStart, rowEnd int) error {
		if err := filter.Projections(chunk, e.params, rowStart, rowEnd); err != nil {
			return err
		}
		for i := range chunk {
			chunk[i] *= scalar
		}
		return nil
	})
}

// RampFilterProjections applies the ramp filter along detector columns of
// g in place, scaled by the given factor. No ray weighting is applied.
func (e *Engine) RampFilterProjections(g Buffer, scalar float32) error {
	return e.filterOp("RampFilterProjections", g, func(chunk []float32, rowStart, rowEnd int) error {
		return filter.RampFilterProjections(chunk, e.params, rowStart, rowEnd, scalar)
	})
}

// HilbertFilterProjections applies the Hilbert transform along detector
// columns of g in place, scaled by the given factor.
func (e *Engine) HilbertFilterProjections(g Buffer, scalar float32) error {
	return e.filterOp("HilbertFilterProjections", g, func(chunk []float32, rowStart, rowEnd int) error {
		return filter.HilbertFilterProjections(chunk, e.params, rowStart, rowEnd, scalar)
	})
}

// filterOp partitions a projection-space filter along detector rows. Rows
// are filtered independently, so no halo or complementary input is staged.
func (e *Engine) filterOp(op string, g Buffer, apply func(chunk []float32, rowStart, rowEnd int) error) error {
	p := e.params
	if !p.GeometryDefined() {
		return newConfigError(op, "geometry not set")
	}
	if g.Len() != e.projectionSize() {
		return newInvalidArgError(op, "projection buffer size does not match the geometry")
	}
	gHost := g.Float32()
	if p.Symmetric() || e.directResident(g) {
		return apply(gHost, 0, p.NumRows)
	}

	projLy := p.ProjectionLayout()
	parts, err := planPartitions(op, p.NumRows, rowBytes(projLy), 0,
		func(a, b int) (int, int) { return a, a }, e.contexts)
	if err != nil {
		return err
	}
	return e.runPartitions(op, parts, func(pt workPartition) error {
		n := projLy.Outer * (pt.outEnd - pt.outStart) * projLy.Inner
		ptr, err := pt.ctx.pool.Allocate(n * bytesPerSample)
		if err != nil {
			return err
		}
		defer pt.ctx.pool.Free(ptr)
		chunk := ptr.Float32()[:n]
		copyRowsInto(chunk, gHost, projLy, pt.outStart, pt.outEnd)
		if err := apply(chunk, pt.outStart, pt.outEnd); err != nil {
			return err
		}
		combineRows(gHost, chunk, projLy, pt.outStart, pt.outEnd)
		return nil
	})
}

// RampFilterVolume applies a 2D radial ramp filter to every z slice of the
// volume f in place. Slices are independent, so the volume is partitioned
// along z with no halo.
func (e *Engine) RampFilterVolume(f Buffer) error {
	const op = "RampFilterVolume"
	p := e.params
	if !p.VolumeDefined() {
		return newConfigError(op, "volume not set")
	}
	if f.Len() != e.volumeSize() {
		return newInvalidArgError(op, "volume buffer size does not match the volume")
	}
	zyx := p.Order == param.OrderZYX
	fHost := f.Float32()
	if e.directResident(f) {
		return filter.RampVolume(fHost, p.Vol.NumX, p.Vol.NumY, p.Vol.NumZ, zyx, 1)
	}

	volLy := p.VolumeLayout()
	parts, err := planPartitions(op, p.Vol.NumZ, rowBytes(volLy), 0,
		func(a, b int) (int, int) { return a, a }, e.contexts)
	if err != nil {
		return err
	}
	return e.runPartitions(op, parts, func(pt workPartition) error {
		n := volLy.Outer * (pt.outEnd - pt.outStart) * volLy.Inner
		ptr, err := pt.ctx.pool.Allocate(n * bytesPerSample)
		if err != nil {
			return err
		}
		defer pt.ctx.pool.Free(ptr)
		chunk := ptr.Float32()[:n]
		copyRowsInto(chunk, fHost, volLy, pt.outStart, pt.outEnd)
		if err := filter.RampVolume(chunk, p.Vol.NumX, p.Vol.NumY, pt.outEnd-pt.outStart, zyx, 1); err != nil {
			return err
		}
		combineRows(fHost, chunk, volLy, pt.outStart, pt.outEnd)
		return nil
	})
}
