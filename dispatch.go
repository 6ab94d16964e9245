package tomo

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/xraylab/tomo/param"
	"github.com/xraylab/tomo/projector"
)

// runPartitions executes a request's partitions. Each enabled device
// processes its own partitions in order on a dedicated goroutine. The
// first kernel error aborts the remaining partitions; the call returns
// only after every worker has drained, so reassembled output is never
// touched concurrently with the caller.
func (e *Engine) runPartitions(op string, parts []workPartition, run func(pt workPartition) error) error {
	queues := make(map[*deviceContext][]workPartition)
	var order []*deviceContext
	for _, pt := range parts {
		if _, ok := queues[pt.ctx]; !ok {
			order = append(order, pt.ctx)
		}
		queues[pt.ctx] = append(queues[pt.ctx], pt)
	}

	var (
		wg    sync.WaitGroup
		abort atomic.Bool
		mu    sync.Mutex
		first error
	)
	for _, ctx := range order {
		wg.Add(1)
		go func(queue []workPartition) {
			defer wg.Done()
			for _, pt := range queue {
				if abort.Load() {
					return
				}
				if err := run(pt); err != nil {
					var te *Error
					if !errors.As(err, &te) {
						err = newExecutionError(op, err)
					}
					abort.Store(true)
					mu.Lock()
					if first == nil {
						first = err
					}
					mu.Unlock()
					return
				}
			}
		}(queues[ctx])
	}
	wg.Wait()
	return first
}

// stageAndRun services one partition with the standard transfer
// discipline: allocate input and output chunks from the partition's
// device pool, stage the input, run the kernel on the chunks, and merge
// the output rows back into the caller's buffer. Chunks are released to
// the pool before returning.
func stageAndRun(pt workPartition, outLy, inLy param.Layout,
	stage func(in []float32) error,
	kernel func(out, in []float32) error,
	merge func(out []float32) error) error {

	nIn := inLy.Outer * (pt.inEnd - pt.inStart) * inLy.Inner
	nOut := outLy.Outer * (pt.outEnd - pt.outStart) * outLy.Inner

	inPtr, err := pt.ctx.pool.Allocate(nIn * bytesPerSample)
	if err != nil {
		return err
	}
	defer pt.ctx.pool.Free(inPtr)
	outPtr, err := pt.ctx.pool.Allocate(nOut * bytesPerSample)
	if err != nil {
		return err
	}
	defer pt.ctx.pool.Free(outPtr)

	in := inPtr.Float32()[:nIn]
	out := outPtr.Float32()[:nOut]
	if err := stage(in); err != nil {
		return err
	}
	if err := kernel(out, in); err != nil {
		return err
	}
	return merge(out)
}

// directResident reports whether a request can run in place without
// staging: the CPU context executes on host memory directly, and a single
// enabled device executes directly on buffers already resident on it.
func (e *Engine) directResident(bufs ...Buffer) bool {
	if e.cpuOnly() {
		return true
	}
	if len(e.contexts) != 1 {
		return false
	}
	id := e.primary().dev.ID
	for _, b := range bufs {
		if b.IsHost() || b.Device() != id {
			return false
		}
	}
	return true
}

// Project computes the forward projection of the volume f into the
// projection buffer g. Requests larger than the device memory budget are
// split along detector rows; each partition stages the conservative
// volume slab its rays can touch and writes a disjoint row range of g.
func (e *Engine) Project(g, f Buffer) error {
	const op = "Project"
	if err := e.readyCheck(op, g, f, true, true); err != nil {
		return err
	}
	p := e.params
	if p.Symmetric() || e.directResident(g, f) {
		return projector.Project(g.Float32(), f.Float32(), p, projector.Full(p))
	}

	gHost, fHost := g.Float32(), f.Float32()
	projLy, volLy := p.ProjectionLayout(), p.VolumeLayout()
	inRange := func(a, b int) (int, int) {
		z0, z1 := p.SlabForRows(a, b)
		return haloed(z0, z1, p.Vol.NumZ)
	}
	parts, err := planPartitions(op, p.NumRows,
		rowBytes(projLy), rowBytes(volLy), inRange, e.contexts)
	if err != nil {
		return err
	}
	return e.runPartitions(op, parts, func(pt workPartition) error {
		w := projector.Window{
			RowStart: pt.outStart, RowEnd: pt.outEnd,
			ZStart: pt.inStart, ZEnd: pt.inEnd,
		}
		return stageAndRun(pt, projLy, volLy,
			func(in []float32) error {
				copyRowsInto(in, fHost, volLy, pt.inStart, pt.inEnd)
				return nil
			},
			func(out, in []float32) error {
				return projector.Project(out, in, p, w)
			},
			func(out []float32) error {
				combineRows(gHost, out, projLy, pt.outStart, pt.outEnd)
				return nil
			})
	})
}

// Backproject computes the adjoint of Project: the projection data g is
// smeared into the volume f. The split axis is the volume z range; each
// partition stages the detector rows its slab can see.
func (e *Engine) Backproject(g, f Buffer) error {
	return e.backprojectOp("Backproject", g, f, projector.Backproject, nil)
}

// WeightedBackproject backprojects with the distance weighting used by
// filtered backprojection for divergent beams.
func (e *Engine) WeightedBackproject(g, f Buffer) error {
	return e.backprojectOp("WeightedBackproject", g, f, projector.WeightedBackproject, nil)
}

// backprojectOp is the shared dispatch path for the adjoint operations.
// preStage, when non-nil, transforms a staged projection chunk in place
// before the kernel consumes it (FBP filters here).
func (e *Engine) backprojectOp(op string, g, f Buffer,
	kernel func(g, f []float32, p *param.Params, w projector.Window) error,
	preStage func(in []float32, rowStart, rowEnd int) error) error {

	if err := e.readyCheck(op, g, f, true, true); err != nil {
		return err
	}
	p := e.params
	if p.Symmetric() || (preStage == nil && e.directResident(g, f)) {
		gh := g.Float32()
		if preStage != nil {
			gh = append([]float32(nil), gh...)
			if err := preStage(gh, 0, p.NumRows); err != nil {
				return err
			}
		}
		return kernel(gh, f.Float32(), p, projector.Full(p))
	}

	gHost, fHost := g.Float32(), f.Float32()
	projLy, volLy := p.ProjectionLayout(), p.VolumeLayout()
	inRange := func(a, b int) (int, int) {
		r0, r1 := p.RowsForSlab(a, b)
		return haloed(r0, r1, p.NumRows)
	}
	parts, err := planPartitions(op, p.Vol.NumZ,
		rowBytes(volLy), rowBytes(projLy), inRange, e.contexts)
	if err != nil {
		return err
	}
	return e.runPartitions(op, parts, func(pt workPartition) error {
		w := projector.Window{
			RowStart: pt.inStart, RowEnd: pt.inEnd,
			ZStart: pt.outStart, ZEnd: pt.outEnd,
		}
		return stageAndRun(pt, volLy, projLy,
			func(in []float32) error {
				copyRowsInto(in, gHost, projLy, pt.inStart, pt.inEnd)
				if preStage != nil {
					return preStage(in, pt.inStart, pt.inEnd)
				}
				return nil
			},
			func(out, in []float32) error {
				return kernel(in, out, p, w)
			},
			func(out []float32) error {
				combineRows(fHost, out, volLy, pt.outStart, pt.outEnd)
				return nil
			})
	})
}

// Sensitivity backprojects a projection of all ones into f, producing the
// per-voxel sum of interpolation weights used to normalize iterative
// updates. No projection buffer is read; the ones chunk is synthesized on
// each partition.
func (e *Engine) Sensitivity(f Buffer) error {
	const op = "Sensitivity"
	if err := e.readyCheck(op, Buffer{}, f, false, true); err != nil {
		return err
	}
	p := e.params
	if p.Symmetric() || e.cpuOnly() {
		ones := make([]float32, e.projectionSize())
		for i := range ones {
			ones[i] = 1
		}
		return projector.Backproject(ones, f.Float32(), p, projector.Full(p))
	}

	fHost := f.Float32()
	projLy, volLy := p.ProjectionLayout(), p.VolumeLayout()
	inRange := func(a, b int) (int, int) {
		r0, r1 := p.RowsForSlab(a, b)
		return haloed(r0, r1, p.NumRows)
	}
	parts, err := planPartitions(op, p.Vol.NumZ,
		rowBytes(volLy), rowBytes(projLy), inRange, e.contexts)
	if err != nil {
		return err
	}
	return e.runPartitions(op, parts, func(pt workPartition) error {
		w := projector.Window{
			RowStart: pt.inStart, RowEnd: pt.inEnd,
			ZStart: pt.outStart, ZEnd: pt.outEnd,
		}
		return stageAndRun(pt, volLy, projLy,
			func(in []float32) error {
				for i := range in {
					in[i] = 1
				}
				return nil
			},
			func(out, in []float32) error {
				return projector.Backproject(in, out, p, w)
			},
			func(out []float32) error {
				combineRows(fHost, out, volLy, pt.outStart, pt.outEnd)
				return nil
			})
	})
}

// rowBytes returns the byte footprint of one split-axis row of a layout.
func rowBytes(ly param.Layout) int64 {
	return int64(ly.Outer) * int64(ly.Inner) * bytesPerSample
}
