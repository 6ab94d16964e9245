package filter

import (
	"math"
	"sort"
)

// The denoising kernels operate on a chunk of c1 rows from an n1 x n2 x n3
// array and write rows [lo,hi) of that chunk. Rows outside [lo,hi) are halo
// context supplied by the dispatch layer; when a chunk edge coincides with
// the array edge there is no halo and the kernels clamp, which matches the
// unchunked boundary handling.

// GaussianRadius returns the stencil radius of Blur for a given FWHM, which
// is the halo the dispatch layer must provide.
func GaussianRadius(fwhm float32) int {
	if fwhm <= 0 {
		return 0
	}
	sigma := float64(fwhm) / 2.3548
	r := int(2*sigma + 0.5)
	if r < 1 {
		r = 1
	}
	return r
}

func gaussianWeights(fwhm float32) []float64 {
	r := GaussianRadius(fwhm)
	sigma := float64(fwhm) / 2.3548
	w := make([]float64, 2*r+1)
	var sum float64
	for i := -r; i <= r; i++ {
		v := math.Exp(-0.5 * float64(i) * float64(i) / (sigma * sigma))
		w[i+r] = v
		sum += v
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// Blur applies a separable Gaussian low-pass with the given FWHM (in
// samples) to rows [lo,hi) of the chunk, writing the result to dst, which
// holds (hi-lo)*n2*n3 elements.
func Blur(dst, src []float32, c1, n2, n3 int, fwhm float32, lo, hi int) {
	rows := hi - lo
	if fwhm <= 0 {
		copy(dst, src[lo*n2*n3:hi*n2*n3])
		return
	}
	w := gaussianWeights(fwhm)
	r := len(w) / 2
	plane := n2 * n3

	// Pass along the first dimension, chunk rows clamped.
	tmp := make([]float32, rows*plane)
	for j := lo; j < hi; j++ {
		for q := 0; q < plane; q++ {
			var s float64
			for k := -r; k <= r; k++ {
				s += w[k+r] * float64(src[clamp(j+k, c1)*plane+q])
			}
			tmp[(j-lo)*plane+q] = float32(s)
		}
	}
	// Passes along the fully-present second and third dimensions.
	for j := 0; j < rows; j++ {
		base := j * plane
		for i3 := 0; i3 < n3; i3++ {
			for i2 := 0; i2 < n2; i2++ {
				var s float64
				for k := -r; k <= r; k++ {
					s += w[k+r] * float64(tmp[base+clamp(i2+k, n2)*n3+i3])
				}
				dst[base+i2*n3+i3] = float32(s)
			}
		}
		copy(tmp[base:base+plane], dst[base:base+plane])
		for i2 := 0; i2 < n2; i2++ {
			for i3 := 0; i3 < n3; i3++ {
				var s float64
				for k := -r; k <= r; k++ {
					s += w[k+r] * float64(tmp[base+i2*n3+clamp(i3+k, n3)])
				}
				dst[base+i2*n3+i3] = float32(s)
			}
		}
	}
}

// Median applies a thresholded 3x3x3 median to rows [lo,hi) of the chunk: a
// value is replaced by its neighborhood median only when the relative
// difference exceeds threshold.
func Median(dst, src []float32, c1, n2, n3 int, threshold float32, lo, hi int) {
	plane := n2 * n3
	hood := make([]float64, 0, 27)
	for j := lo; j < hi; j++ {
		for i2 := 0; i2 < n2; i2++ {
			for i3 := 0; i3 < n3; i3++ {
				hood = hood[:0]
				for d1 := -1; d1 <= 1; d1++ {
					j1 := clamp(j+d1, c1)
					for d2 := -1; d2 <= 1; d2++ {
						j2 := clamp(i2+d2, n2)
						for d3 := -1; d3 <= 1; d3++ {
							j3 := clamp(i3+d3, n3)
							hood = append(hood, float64(src[j1*plane+j2*n3+j3]))
						}
					}
				}
				sort.Float64s(hood)
				med := hood[len(hood)/2]
				v := src[j*plane+i2*n3+i3]
				out := v
				if diff := math.Abs(med - float64(v)); diff > float64(threshold)*math.Abs(float64(v)) {
					out = float32(med)
				}
				dst[(j-lo)*plane+i2*n3+i3] = out
			}
		}
	}
}

// Huber-like potential used by the anisotropic TV functional: quadratic
// inside [-delta,delta], linear outside.

func huber(t, delta float64) float64 {
	a := math.Abs(t)
	if a <= delta {
		return t * t / (2 * delta)
	}
	return a - delta/2
}

func huberDeriv(t, delta float64) float64 {
	if t > delta {
		return 1
	}
	if t < -delta {
		return -1
	}
	return t / delta
}

func huberSecond(t, delta float64) float64 {
	if math.Abs(t) < delta {
		return 1 / delta
	}
	return 0
}

// TVCost returns the anisotropic TV cost contribution of rows [lo,hi):
// each forward-difference edge is charged to its lower row, so chunk
// contributions sum to the unchunked cost.
func TVCost(src []float32, c1, n2, n3 int, delta, beta float32, lo, hi int) float64 {
	plane := n2 * n3
	d := float64(delta)
	var sum float64
	at := func(j, i2, i3 int) float64 { return float64(src[j*plane+i2*n3+i3]) }
	for j := lo; j < hi; j++ {
		for i2 := 0; i2 < n2; i2++ {
			for i3 := 0; i3 < n3; i3++ {
				v := at(j, i2, i3)
				if j+1 < c1 {
					sum += huber(at(j+1, i2, i3)-v, d)
				}
				if i2+1 < n2 {
					sum += huber(at(j, i2+1, i3)-v, d)
				}
				if i3+1 < n3 {
					sum += huber(at(j, i2, i3+1)-v, d)
				}
			}
		}
	}
	return float64(beta) * sum
}

// TVGradient writes the gradient of the TV functional for rows [lo,hi) of
// the chunk into dst ((hi-lo)*n2*n3 elements).
func TVGradient(dst, src []float32, c1, n2, n3 int, delta, beta float32, lo, hi int) {
	plane := n2 * n3
	d := float64(delta)
	b := float64(beta)
	at := func(j, i2, i3 int) float64 { return float64(src[j*plane+i2*n3+i3]) }
	for j := lo; j < hi; j++ {
		for i2 := 0; i2 < n2; i2++ {
			for i3 := 0; i3 < n3; i3++ {
				v := at(j, i2, i3)
				var g float64
				if j+1 < c1 {
					g += huberDeriv(v-at(j+1, i2, i3), d)
				}
				if j > 0 {
					g += huberDeriv(v-at(j-1, i2, i3), d)
				}
				if i2+1 < n2 {
					g += huberDeriv(v-at(j, i2+1, i3), d)
				}
				if i2 > 0 {
					g += huberDeriv(v-at(j, i2-1, i3), d)
				}
				if i3+1 < n3 {
					g += huberDeriv(v-at(j, i2, i3+1), d)
				}
				if i3 > 0 {
					g += huberDeriv(v-at(j, i2, i3-1), d)
				}
				dst[(j-lo)*plane+i2*n3+i3] = float32(b * g)
			}
		}
	}
}

// TVQuadForm returns the contribution of rows [lo,hi) to <d, R''(f) d>,
// the quadratic form of the TV functional at f in direction dir.
func TVQuadForm(f, dir []float32, c1, n2, n3 int, delta, beta float32, lo, hi int) float64 {
	plane := n2 * n3
	d := float64(delta)
	var sum float64
	fAt := func(j, i2, i3 int) float64 { return float64(f[j*plane+i2*n3+i3]) }
	dAt := func(j, i2, i3 int) float64 { return float64(dir[j*plane+i2*n3+i3]) }
	for j := lo; j < hi; j++ {
		for i2 := 0; i2 < n2; i2++ {
			for i3 := 0; i3 < n3; i3++ {
				fv := fAt(j, i2, i3)
				dv := dAt(j, i2, i3)
				if j+1 < c1 {
					dd := dAt(j+1, i2, i3) - dv
					sum += huberSecond(fAt(j+1, i2, i3)-fv, d) * dd * dd
				}
				if i2+1 < n2 {
					dd := dAt(j, i2+1, i3) - dv
					sum += huberSecond(fAt(j, i2+1, i3)-fv, d) * dd * dd
				}
				if i3+1 < n3 {
					dd := dAt(j, i2, i3+1) - dv
					sum += huberSecond(fAt(j, i2, i3+1)-fv, d) * dd * dd
				}
			}
		}
	}
	return float64(beta) * sum
}
