package tomo

import (
	"sync"

	"github.com/xraylab/tomo/filter"
	"github.com/xraylab/tomo/param"
)

// The denoising operations work on any n1 x n2 x n3 array, independent of
// the configured geometry. Partitioning splits the first axis; each chunk
// stages halo rows on interior edges so boundary clamping only happens at
// the true array edges.

func checkArray(op string, b Buffer, n1, n2, n3 int) error {
	if n1 <= 0 || n2 <= 0 || n3 <= 0 {
		return newInvalidArgError(op, "array dimensions must be positive")
	}
	if b.Len() != n1*n2*n3 {
		return newInvalidArgError(op, "buffer size does not match the array dimensions")
	}
	return nil
}

// denoiseParts plans the n1-axis split: every staged row costs plane
// samples per input copy, plus one output row.
func (e *Engine) denoiseParts(op string, n1, plane, halo, numInputs int) ([]workPartition, error) {
	rb := int64(plane) * bytesPerSample
	inRange := func(a, b int) (int, int) {
		a -= halo
		b += halo
		if a < 0 {
			a = 0
		}
		if b > n1 {
			b = n1
		}
		return a, b
	}
	return planPartitions(op, n1, rb, rb*int64(numInputs), inRange, e.contexts)
}

// runChunks services denoise partitions: stage the haloed chunk of every
// source array, allocate an output chunk when dst is non-nil, invoke fn
// with the chunk coordinates, and merge the output rows into dst. dst must
// not alias any source.
func (e *Engine) runChunks(op string, parts []workPartition, n1, plane int, srcs [][]float32, dst []float32,
	fn func(pt workPartition, chunks [][]float32, out []float32, c1, lo, hi int) error) error {

	ly := param.Layout{Outer: 1, Rows: n1, Inner: plane}
	return e.runPartitions(op, parts, func(pt workPartition) error {
		c1 := pt.inEnd - pt.inStart
		lo := pt.outStart - pt.inStart
		hi := lo + (pt.outEnd - pt.outStart)

		var held []DevicePtr
		defer func() {
			for _, p := range held {
				pt.ctx.pool.Free(p)
			}
		}()

		chunks := make([][]float32, len(srcs))
		for i, src := range srcs {
			p, err := pt.ctx.pool.Allocate(c1 * plane * bytesPerSample)
			if err != nil {
				return err
			}
			held = append(held, p)
			chunks[i] = p.Float32()[:c1*plane]
			copyRowsInto(chunks[i], src, ly, pt.inStart, pt.inEnd)
		}
		var out []float32
		if dst != nil {
			rows := pt.outEnd - pt.outStart
			p, err := pt.ctx.pool.Allocate(rows * plane * bytesPerSample)
			if err != nil {
				return err
			}
			held = append(held, p)
			out = p.Float32()[:rows*plane]
		}
		if err := fn(pt, chunks, out, c1, lo, hi); err != nil {
			return err
		}
		if dst != nil {
			combineRows(dst, out, ly, pt.outStart, pt.outEnd)
		}
		return nil
	})
}

// BlurFilter applies a separable Gaussian low-pass with the given FWHM (in
// samples) to the array in place.
func (e *Engine) BlurFilter(f Buffer, n1, n2, n3 int, fwhm float32) error {
	const op = "BlurFilter"
	if err := checkArray(op, f, n1, n2, n3); err != nil {
		return err
	}
	if fwhm <= 0 {
		return nil
	}
	plane := n2 * n3
	fHost := f.Float32()
	result := make([]float32, n1*plane)
	if e.cpuOnly() {
		filter.Blur(result, fHost, n1, n2, n3, fwhm, 0, n1)
		copy(fHost, result)
		return nil
	}
	parts, err := e.denoiseParts(op, n1, plane, filter.GaussianRadius(fwhm), 1)
	if err != nil {
		return err
	}
	err = e.runChunks(op, parts, n1, plane, [][]float32{fHost}, result,
		func(pt workPartition, chunks [][]float32, out []float32, c1, lo, hi int) error {
			filter.Blur(out, chunks[0], c1, n2, n3, fwhm, lo, hi)
			return nil
		})
	if err != nil {
		return err
	}
	copy(fHost, result)
	return nil
}

// MedianFilter applies a thresholded 3x3x3 median to the array in place: a
// sample is replaced by its neighborhood median only when the relative
// difference exceeds threshold.
func (e *Engine) MedianFilter(f Buffer, n1, n2, n3 int, threshold float32) error {
	const op = "MedianFilter"
	if err := checkArray(op, f, n1, n2, n3); err != nil {
		return err
	}
	plane := n2 * n3
	fHost := f.Float32()
	result := make([]float32, n1*plane)
	if e.cpuOnly() {
		filter.Median(result, fHost, n1, n2, n3, threshold, 0, n1)
		copy(fHost, result)
		return nil
	}
	parts, err := e.denoiseParts(op, n1, plane, 1, 1)
	if err != nil {
		return err
	}
	err = e.runChunks(op, parts, n1, plane, [][]float32{fHost}, result,
		func(pt workPartition, chunks [][]float32, out []float32, c1, lo, hi int) error {
			filter.Median(out, chunks[0], c1, n2, n3, threshold, lo, hi)
			return nil
		})
	if err != nil {
		return err
	}
	copy(fHost, result)
	return nil
}

// foldChunkSums reassembles per-partition partial sums in partition order,
// so the result does not depend on goroutine scheduling.
func foldChunkSums(parts []workPartition, sums map[int]float64) float64 {
	var total float64
	for _, pt := range parts {
		total += sums[pt.outStart]
	}
	return total
}

// TVCost returns the anisotropic total-variation cost of the array under
// the Huber potential with transition delta, scaled by beta.
func (e *Engine) TVCost(f Buffer, n1, n2, n3 int, delta, beta float32) (float64, error) {
	const op = "TVCost"
	if err := checkArray(op, f, n1, n2, n3); err != nil {
		return 0, err
	}
	plane := n2 * n3
	fHost := f.Float32()
	if e.cpuOnly() {
		return filter.TVCost(fHost, n1, n2, n3, delta, beta, 0, n1), nil
	}
	parts, err := e.denoiseParts(op, n1, plane, 1, 1)
	if err != nil {
		return 0, err
	}
	var mu sync.Mutex
	sums := make(map[int]float64, len(parts))
	err = e.runChunks(op, parts, n1, plane, [][]float32{fHost}, nil,
		func(pt workPartition, chunks [][]float32, out []float32, c1, lo, hi int) error {
			s := filter.TVCost(chunks[0], c1, n2, n3, delta, beta, lo, hi)
			mu.Lock()
			sums[pt.outStart] = s
			mu.Unlock()
			return nil
		})
	if err != nil {
		return 0, err
	}
	return foldChunkSums(parts, sums), nil
}

// TVGradient writes the gradient of the TV functional at f into dst. dst
// must not alias f.
func (e *Engine) TVGradient(f, dst Buffer, n1, n2, n3 int, delta, beta float32) error {
	const op = "TVGradient"
	if err := checkArray(op, f, n1, n2, n3); err != nil {
		return err
	}
	if err := checkArray(op, dst, n1, n2, n3); err != nil {
		return err
	}
	plane := n2 * n3
	fHost, dstHost := f.Float32(), dst.Float32()
	if e.cpuOnly() {
		filter.TVGradient(dstHost, fHost, n1, n2, n3, delta, beta, 0, n1)
		return nil
	}
	parts, err := e.denoiseParts(op, n1, plane, 1, 1)
	if err != nil {
		return err
	}
	return e.runChunks(op, parts, n1, plane, [][]float32{fHost}, dstHost,
		func(pt workPartition, chunks [][]float32, out []float32, c1, lo, hi int) error {
			filter.TVGradient(out, chunks[0], c1, n2, n3, delta, beta, lo, hi)
			return nil
		})
}

// TVQuadForm returns the quadratic form of the TV functional at f in
// direction dir, used for the exact line search of regularized iterative
// reconstruction.
func (e *Engine) TVQuadForm(f, dir Buffer, n1, n2, n3 int, delta, beta float32) (float64, error) {
	const op = "TVQuadForm"
	if err := checkArray(op, f, n1, n2, n3); err != nil {
		return 0, err
	}
	if err := checkArray(op, dir, n1, n2, n3); err != nil {
		return 0, err
	}
	plane := n2 * n3
	fHost, dirHost := f.Float32(), dir.Float32()
	if e.cpuOnly() {
		return filter.TVQuadForm(fHost, dirHost, n1, n2, n3, delta, beta, 0, n1), nil
	}
	parts, err := e.denoiseParts(op, n1, plane, 1, 2)
	if err != nil {
		return 0, err
	}
	var mu sync.Mutex
	sums := make(map[int]float64, len(parts))
	err = e.runChunks(op, parts, n1, plane, [][]float32{fHost, dirHost}, nil,
		func(pt workPartition, chunks [][]float32, out []float32, c1, lo, hi int) error {
			s := filter.TVQuadForm(chunks[0], chunks[1], c1, n2, n3, delta, beta, lo, hi)
			mu.Lock()
			sums[pt.outStart] = s
			mu.Unlock()
			return nil
		})
	if err != nil {
		return 0, err
	}
	return foldChunkSums(parts, sums), nil
}

// Diffuse runs numIter gradient-descent passes of the TV functional on the
// array in place, smoothing while preserving edges sharper than delta.
func (e *Engine) Diffuse(f Buffer, n1, n2, n3 int, delta float32, numIter int) error {
	const op = "Diffuse"
	if err := checkArray(op, f, n1, n2, n3); err != nil {
		return err
	}
	if numIter <= 0 {
		return newInvalidArgError(op, "iteration count must be positive")
	}
	// Step size for which the 6-neighbor Huber gradient descent is a
	// contraction.
	const step = 0.125
	fHost := f.Float32()
	grad := make([]float32, len(fHost))
	for it := 0; it < numIter; it++ {
		if err := e.TVGradient(f, HostBuffer(grad), n1, n2, n3, delta, 1); err != nil {
			return err
		}
		for i := range fHost {
			fHost[i] -= step * grad[i]
		}
	}
	return nil
}
