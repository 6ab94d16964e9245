// Package filter implements the 1D/2D filtering primitives consumed by the
// dispatch engine: the ramp and Hilbert filters used by filtered
// backprojection, the FBP pre-weighting stage, and the volume denoising
// kernels (blur, median, anisotropic total variation). All routines operate
// on whatever row range they are handed, so the engine can apply them with
// the same partitioning discipline as the projection kernels.
package filter

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Real-FFT plans are cached per transform length. A plan carries scratch
// state, so concurrent users each take their own instance from the pool.
var fftPools struct {
	sync.Mutex
	m map[int]*sync.Pool
}

func getFFT(n int) *fourier.FFT {
	fftPools.Lock()
	if fftPools.m == nil {
		fftPools.m = make(map[int]*sync.Pool)
	}
	pool, ok := fftPools.m[n]
	if !ok {
		pool = &sync.Pool{New: func() interface{} { return fourier.NewFFT(n) }}
		fftPools.m[n] = pool
	}
	fftPools.Unlock()
	return pool.Get().(*fourier.FFT)
}

func putFFT(n int, f *fourier.FFT) {
	fftPools.Lock()
	pool := fftPools.m[n]
	fftPools.Unlock()
	pool.Put(f)
}

// nextPow2 returns the smallest power of two >= n.
func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// rampResponse builds the frequency response of the discrete ramp
// convolver at padded length np for signals of length n. The spatial kernel
// is the unit-spacing Ram-Lak sequence (1/4 at zero, -1/(pi^2 k^2) at odd
// lags); rampID < 2 applies Shepp-Logan smoothing, larger values keep the
// full sharpness.
func rampResponse(n, np, rampID int) []complex128 {
	h := make([]float64, np)
	h[0] = 0.25
	for k := 1; k <= n; k += 2 {
		v := -1.0 / (math.Pi * math.Pi * float64(k) * float64(k))
		h[k] += v
		h[np-k] += v
	}
	fft := getFFT(np)
	resp := fft.Coefficients(nil, h)
	putFFT(np, fft)
	if rampID < 2 {
		for k := 1; k < len(resp); k++ {
			a := math.Pi * float64(k) / float64(np)
			resp[k] *= complex(math.Sin(a)/a, 0)
		}
	}
	return resp
}

// filterRows applies the given half-spectrum response to each length-n row
// of data, using zero padding to length np for linear convolution, and
// multiplies the result by scalar.
func filterRows(data []float32, rows, n, np int, resp []complex128, scalar float32) {
	fft := getFFT(np)
	defer putFFT(np, fft)

	pad := make([]float64, np)
	coeff := make([]complex128, np/2+1)
	inv := float64(scalar) / float64(np)
	for r := 0; r < rows; r++ {
		row := data[r*n : (r+1)*n]
		for i, v := range row {
			pad[i] = float64(v)
		}
		for i := n; i < np; i++ {
			pad[i] = 0
		}
		coeff = fft.Coefficients(coeff, pad)
		for i := range coeff {
			coeff[i] *= resp[i]
		}
		pad = fft.Sequence(pad, coeff)
		for i := range row {
			row[i] = float32(pad[i] * inv)
		}
	}
}

var cmplxPools struct {
	sync.Mutex
	m map[int]*sync.Pool
}

func getCmplxFFT(n int) *fourier.CmplxFFT {
	cmplxPools.Lock()
	if cmplxPools.m == nil {
		cmplxPools.m = make(map[int]*sync.Pool)
	}
	pool, ok := cmplxPools.m[n]
	if !ok {
		pool = &sync.Pool{New: func() interface{} { return fourier.NewCmplxFFT(n) }}
		cmplxPools.m[n] = pool
	}
	cmplxPools.Unlock()
	return pool.Get().(*fourier.CmplxFFT)
}

func putCmplxFFT(n int, f *fourier.CmplxFFT) {
	cmplxPools.Lock()
	pool := cmplxPools.m[n]
	cmplxPools.Unlock()
	pool.Put(f)
}

// fft2 transforms an ny x nx complex grid in place, rows then columns.
// The inverse is unnormalized; callers divide by nx*ny.
func fft2(data []complex128, nx, ny int, inverse bool) {
	fx := getCmplxFFT(nx)
	scratch := make([]complex128, nx)
	for y := 0; y < ny; y++ {
		row := data[y*nx : (y+1)*nx]
		if inverse {
			scratch = fx.Sequence(scratch, row)
		} else {
			scratch = fx.Coefficients(scratch, row)
		}
		copy(row, scratch)
	}
	putCmplxFFT(nx, fx)

	fy := getCmplxFFT(ny)
	col := make([]complex128, ny)
	out := make([]complex128, ny)
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			col[y] = data[y*nx+x]
		}
		if inverse {
			out = fy.Sequence(out, col)
		} else {
			out = fy.Coefficients(out, col)
		}
		for y := 0; y < ny; y++ {
			data[y*nx+x] = out[y]
		}
	}
	putCmplxFFT(ny, fy)
}

// hilbertResponse is the half-spectrum multiplier of the Hilbert transform,
// -i*sign(nu), with the DC and Nyquist bins zeroed.
func hilbertResponse(np int) []complex128 {
	resp := make([]complex128, np/2+1)
	for k := 1; k < len(resp)-1; k++ {
		resp[k] = complex(0, -1)
	}
	return resp
}
