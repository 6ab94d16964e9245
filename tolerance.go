package tomo

import (
	"fmt"
	"math"
)

// ToleranceConfig defines acceptable numerical differences when comparing
// float32 results. Projection kernels accumulate in float64 but store
// float32, and partitioned runs can legally reorder a handful of
// operations, so comparisons accept both absolute and relative slack.
type ToleranceConfig struct {
	AbsTol   float32 // absolute difference threshold
	RelTol   float32 // relative difference threshold
	CheckNaN bool    // fail when exactly one side is NaN
	CheckInf bool    // fail when exactly one side is Inf
}

// DefaultTolerance is appropriate for comparing full-pipeline results such
// as partitioned against unpartitioned reconstructions.
func DefaultTolerance() ToleranceConfig {
	return ToleranceConfig{
		AbsTol:   1e-5,
		RelTol:   1e-4,
		CheckNaN: true,
		CheckInf: true,
	}
}

// Float32Near reports whether a and b agree under the tolerance.
func (tc ToleranceConfig) Float32Near(a, b float32) bool {
	fa, fb := float64(a), float64(b)
	if tc.CheckNaN && (math.IsNaN(fa) != math.IsNaN(fb)) {
		return false
	}
	if math.IsNaN(fa) && math.IsNaN(fb) {
		return true
	}
	if tc.CheckInf && (math.IsInf(fa, 0) != math.IsInf(fb, 0)) {
		return false
	}
	if math.IsInf(fa, 0) || math.IsInf(fb, 0) {
		return fa == fb
	}
	diff := math.Abs(fa - fb)
	if diff <= float64(tc.AbsTol) {
		return true
	}
	scale := math.Max(math.Abs(fa), math.Abs(fb))
	return diff <= float64(tc.RelTol)*scale
}

// CompareFloat32 checks two slices elementwise and returns a descriptive
// error naming the first mismatch and the worst one.
func (tc ToleranceConfig) CompareFloat32(got, want []float32) error {
	if len(got) != len(want) {
		return fmt.Errorf("length mismatch: got %d, want %d", len(got), len(want))
	}
	firstBad := -1
	worst := -1
	var worstDiff float64
	for i := range got {
		if tc.Float32Near(got[i], want[i]) {
			continue
		}
		if firstBad < 0 {
			firstBad = i
		}
		if d := math.Abs(float64(got[i]) - float64(want[i])); d > worstDiff {
			worstDiff = d
			worst = i
		}
	}
	if firstBad < 0 {
		return nil
	}
	return fmt.Errorf("first mismatch at [%d]: got %v, want %v; worst at [%d]: got %v, want %v (diff %.3g)",
		firstBad, got[firstBad], want[firstBad], worst, got[worst], want[worst], worstDiff)
}
