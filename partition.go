package tomo

import (
	"fmt"

	"github.com/xraylab/tomo/param"
)

// A workPartition is a contiguous sub-range of the split axis assigned to
// one device context, together with the conservative range of the
// complementary dataset (including halo) its kernel call consumes.
// Partitions of a request are disjoint on the output axis and their union
// is the full range; they are created per request and discarded after
// reassembly.
type workPartition struct {
	outStart, outEnd int // output rows computed by this partition
	inStart, inEnd   int // complementary input rows staged for it
	ctx              *deviceContext
}

// copyRows returns a freshly allocated buffer holding rows
// [rowStart,rowEnd) of src, which is laid out as outer x rows x inner
// contiguous elements.
func copyRows(src []float32, ly param.Layout, rowStart, rowEnd int) []float32 {
	dst := make([]float32, ly.Outer*(rowEnd-rowStart)*ly.Inner)
	copyRowsInto(dst, src, ly, rowStart, rowEnd)
	return dst
}

// copyRowsInto stages rows [rowStart,rowEnd) of src into dst, which must
// hold exactly outer x (rowEnd-rowStart) x inner elements.
func copyRowsInto(dst, src []float32, ly param.Layout, rowStart, rowEnd int) {
	n := rowEnd - rowStart
	for o := 0; o < ly.Outer; o++ {
		srcBase := (o*ly.Rows + rowStart) * ly.Inner
		dstBase := o * n * ly.Inner
		copy(dst[dstBase:dstBase+n*ly.Inner], src[srcBase:srcBase+n*ly.Inner])
	}
}

// combineRows writes chunk, holding rows [rowStart,rowEnd), back into the
// matching rows of dst. combineRows(g, copyRows(g, a, b), a, b) leaves g
// unchanged.
func combineRows(dst, chunk []float32, ly param.Layout, rowStart, rowEnd int) {
	n := rowEnd - rowStart
	for o := 0; o < ly.Outer; o++ {
		dstBase := (o*ly.Rows + rowStart) * ly.Inner
		chunkBase := o * n * ly.Inner
		copy(dst[dstBase:dstBase+n*ly.Inner], chunk[chunkBase:chunkBase+n*ly.Inner])
	}
}

// planPartitions splits [0,totalRows) into contiguous chunks whose staged
// footprint (outRowBytes per output row plus inRowBytes per input row of
// the conservative input range) fits the smallest device budget, and
// assigns the chunks round-robin across the contexts. inRange maps an
// output range to its input range (halo included) and must be monotone in
// the range width.
func planPartitions(op string, totalRows int, outRowBytes, inRowBytes int64, inRange func(a, b int) (int, int), contexts []*deviceContext) ([]workPartition, error) {
	budget := contexts[0].planningBudget()
	for _, ctx := range contexts[1:] {
		if b := ctx.planningBudget(); b < budget {
			budget = b
		}
	}

	footprint := func(rows int) int64 {
		// Worst case over every chunk position of this width; chunks from
		// the even division below start at arbitrary offsets.
		var worst int64
		for s := 0; s+rows <= totalRows; s++ {
			a, b := inRange(s, s+rows)
			fp := int64(rows)*outRowBytes + int64(b-a)*inRowBytes
			if fp > worst {
				worst = fp
			}
		}
		return worst
	}

	if footprint(1) > budget {
		return nil, newResourceError(op,
			fmt.Sprintf("memory budget %d bytes cannot hold a single row of work", budget))
	}

	// Largest chunk width whose worst-case footprint fits the budget.
	lo, hi := 1, totalRows
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if footprint(mid) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	maxRows := lo

	numChunks := (totalRows + maxRows - 1) / maxRows
	base := totalRows / numChunks
	rem := totalRows % numChunks

	parts := make([]workPartition, 0, numChunks)
	start := 0
	for i := 0; i < numChunks; i++ {
		n := base
		if i < rem {
			n++
		}
		a, b := inRange(start, start+n)
		parts = append(parts, workPartition{
			outStart: start,
			outEnd:   start + n,
			inStart:  a,
			inEnd:    b,
			ctx:      contexts[i%len(contexts)],
		})
		start += n
	}
	return parts, nil
}

// haloed widens an input range by HaloRows on each side, clamped to [0,n).
func haloed(a, b, n int) (int, int) {
	a -= HaloRows
	b += HaloRows
	if a < 0 {
		a = 0
	}
	if b > n {
		b = n
	}
	return a, b
}
