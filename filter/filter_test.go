package filter

import (
	"math"
	"testing"

	"github.com/xraylab/tomo/param"
)

func uniformPhis(n int, arc float32) []float32 {
	phis := make([]float32, n)
	for i := range phis {
		phis[i] = arc * float32(i) / float32(n)
	}
	return phis
}

func parallelParams(t *testing.T, numAngles, numRows, numCols int) *param.Params {
	t.Helper()
	p := param.New()
	err := p.SetParallelBeam(numAngles, numRows, numCols, 1, 1,
		float32(numRows-1)/2, float32(numCols-1)/2, uniformPhis(numAngles, 180))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func fanParams(t *testing.T, numAngles, numRows, numCols int) *param.Params {
	t.Helper()
	p := param.New()
	err := p.SetFanBeam(numAngles, numRows, numCols, 1, 1,
		float32(numRows-1)/2, float32(numCols-1)/2, uniformPhis(numAngles, 360), 1100, 1400)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRampFilterRemovesDC(t *testing.T) {
	p := parallelParams(t, 1, 4, 64)
	g := make([]float32, 4*64)
	for i := range g {
		g[i] = 1
	}
	if err := RampFilterProjections(g, p, 0, 4, 1); err != nil {
		t.Fatal(err)
	}
	// Away from the row edges a constant has no high-frequency content.
	for r := 0; r < 4; r++ {
		for ic := 24; ic < 40; ic++ {
			if v := g[r*64+ic]; math.Abs(float64(v)) > 0.02 {
				t.Fatalf("ramp of a constant left %v at row %d col %d", v, r, ic)
			}
		}
	}
}

func TestRampFilterImpulse(t *testing.T) {
	p := parallelParams(t, 1, 1, 64)
	g := make([]float32, 64)
	const c = 32
	g[c] = 1
	if err := RampFilterProjections(g, p, 0, 1, 1); err != nil {
		t.Fatal(err)
	}
	// Unit-spacing Ram-Lak kernel: 1/4 at the impulse, symmetric negative
	// sidelobes at odd lags.
	if math.Abs(float64(g[c])-0.25) > 1e-4 {
		t.Errorf("peak = %v, want 0.25", g[c])
	}
	want := -1.0 / (math.Pi * math.Pi)
	if math.Abs(float64(g[c+1])-want) > 1e-4 {
		t.Errorf("first sidelobe = %v, want %v", g[c+1], want)
	}
	for k := 1; k < 16; k++ {
		if d := math.Abs(float64(g[c+k] - g[c-k])); d > 1e-5 {
			t.Fatalf("asymmetric response at lag %d: %v vs %v", k, g[c+k], g[c-k])
		}
	}
	if math.Abs(float64(g[c+2])) > 1e-4 {
		t.Errorf("even lag 2 = %v, want 0", g[c+2])
	}
}

func TestSheppLoganSmoothingLowersPeak(t *testing.T) {
	sharp := parallelParams(t, 1, 1, 64)
	smooth := parallelParams(t, 1, 1, 64)
	if err := smooth.SetRampID(0); err != nil {
		t.Fatal(err)
	}
	a := make([]float32, 64)
	b := make([]float32, 64)
	a[32], b[32] = 1, 1
	if err := RampFilterProjections(a, sharp, 0, 1, 1); err != nil {
		t.Fatal(err)
	}
	if err := RampFilterProjections(b, smooth, 0, 1, 1); err != nil {
		t.Fatal(err)
	}
	if b[32] >= a[32] {
		t.Errorf("apodized peak %v not below sharp peak %v", b[32], a[32])
	}
}

func TestHilbertImpulseAntisymmetric(t *testing.T) {
	p := parallelParams(t, 1, 1, 64)
	g := make([]float32, 64)
	const c = 32
	g[c] = 1
	if err := HilbertFilterProjections(g, p, 0, 1, 1); err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(g[c])) > 1e-5 {
		t.Errorf("Hilbert impulse center = %v, want 0", g[c])
	}
	if g[c+1] == 0 {
		t.Error("Hilbert impulse has no response at lag 1")
	}
	for k := 1; k < 16; k++ {
		if d := math.Abs(float64(g[c+k] + g[c-k])); d > 1e-5 {
			t.Fatalf("not antisymmetric at lag %d: %v vs %v", k, g[c+k], g[c-k])
		}
	}
}

func TestChunkedFilterMatchesFull(t *testing.T) {
	p := fanParams(t, 3, 16, 32)
	full := make([]float32, 3*16*32)
	for i := range full {
		full[i] = float32(i%37) / 10
	}
	chunked := append([]float32(nil), full...)

	if err := Projections(full, p, 0, 16); err != nil {
		t.Fatal(err)
	}
	// Row-partitioned application with global row coordinates.
	for _, rows := range [][2]int{{0, 5}, {5, 11}, {11, 16}} {
		n := rows[1] - rows[0]
		chunk := make([]float32, 3*n*32)
		for ia := 0; ia < 3; ia++ {
			src := (ia*16 + rows[0]) * 32
			copy(chunk[ia*n*32:(ia+1)*n*32], chunked[src:src+n*32])
		}
		if err := Projections(chunk, p, rows[0], rows[1]); err != nil {
			t.Fatal(err)
		}
		for ia := 0; ia < 3; ia++ {
			dst := (ia*16 + rows[0]) * 32
			copy(chunked[dst:dst+n*32], chunk[ia*n*32:(ia+1)*n*32])
		}
	}
	for i := range full {
		if full[i] != chunked[i] {
			t.Fatalf("chunked filtering differs at [%d]: %v vs %v", i, chunked[i], full[i])
		}
	}
}

func TestRampVolumeImpulse(t *testing.T) {
	const nx, ny, nz = 16, 16, 2
	f := make([]float32, nx*ny*nz)
	f[(1*ny+8)*nx+8] = 1 // slice 1, center
	if err := RampVolume(f, nx, ny, nz, true, 1); err != nil {
		t.Fatal(err)
	}
	// Slices are independent: the empty slice stays empty.
	for i := 0; i < nx*ny; i++ {
		if f[i] != 0 {
			t.Fatalf("slice 0 touched at [%d]: %v", i, f[i])
		}
	}
	peak := f[(1*ny+8)*nx+8]
	if peak <= 0 {
		t.Fatalf("impulse response peak = %v, want positive", peak)
	}
	// Radial symmetry of the |nu| response.
	left := f[(1*ny+8)*nx+7]
	right := f[(1*ny+8)*nx+9]
	up := f[(1*ny+7)*nx+8]
	if math.Abs(float64(left-right)) > 1e-5 || math.Abs(float64(left-up)) > 1e-5 {
		t.Errorf("impulse response not radially symmetric: %v %v %v", left, right, up)
	}
}

func TestBlurPreservesConstant(t *testing.T) {
	const n1, n2, n3 = 8, 8, 8
	src := make([]float32, n1*n2*n3)
	for i := range src {
		src[i] = 3
	}
	dst := make([]float32, len(src))
	Blur(dst, src, n1, n2, n3, 2.0, 0, n1)
	for i, v := range dst {
		if math.Abs(float64(v)-3) > 1e-5 {
			t.Fatalf("blur of a constant = %v at [%d]", v, i)
		}
	}
}

func TestBlurChunkedMatchesFull(t *testing.T) {
	const n1, n2, n3 = 12, 6, 5
	const fwhm = 2.0
	src := make([]float32, n1*n2*n3)
	for i := range src {
		src[i] = float32((i*i)%23) / 7
	}
	full := make([]float32, len(src))
	Blur(full, src, n1, n2, n3, fwhm, 0, n1)

	r := GaussianRadius(fwhm)
	plane := n2 * n3
	got := make([]float32, len(src))
	for _, rows := range [][2]int{{0, 5}, {5, 12}} {
		lo := rows[0] - r
		if lo < 0 {
			lo = 0
		}
		hi := rows[1] + r
		if hi > n1 {
			hi = n1
		}
		c1 := hi - lo
		out := make([]float32, (rows[1]-rows[0])*plane)
		Blur(out, src[lo*plane:hi*plane], c1, n2, n3, fwhm, rows[0]-lo, rows[1]-lo)
		copy(got[rows[0]*plane:rows[1]*plane], out)
	}
	for i := range full {
		if got[i] != full[i] {
			t.Fatalf("chunked blur differs at [%d]: %v vs %v", i, got[i], full[i])
		}
	}
}

func TestMedianRemovesSpike(t *testing.T) {
	const n1, n2, n3 = 5, 5, 5
	src := make([]float32, n1*n2*n3)
	for i := range src {
		src[i] = 1
	}
	center := (2*n2+2)*n3 + 2
	src[center] = 100
	dst := make([]float32, len(src))
	Median(dst, src, n1, n2, n3, 0.5, 0, n1)
	if dst[center] != 1 {
		t.Errorf("spike survived the median: %v", dst[center])
	}
	if dst[0] != 1 {
		t.Errorf("constant corner changed: %v", dst[0])
	}
}

func TestHuberPotentialRegions(t *testing.T) {
	// Two samples differing by t: one edge, cost beta*psi(t).
	cost := func(t2 float32, delta, beta float32) float64 {
		return TVCost([]float32{0, t2}, 2, 1, 1, delta, beta, 0, 2)
	}
	if got, want := cost(0.5, 1, 1), 0.125; math.Abs(got-want) > 1e-6 {
		t.Errorf("quadratic region: cost = %v, want %v", got, want)
	}
	if got, want := cost(2, 1, 3), 3*1.5; math.Abs(got-want) > 1e-6 {
		t.Errorf("linear region: cost = %v, want %v", got, want)
	}
}

func TestTVOfConstantIsZero(t *testing.T) {
	const n1, n2, n3 = 6, 6, 6
	f := make([]float32, n1*n2*n3)
	for i := range f {
		f[i] = 2.5
	}
	if c := TVCost(f, n1, n2, n3, 0.1, 1, 0, n1); c != 0 {
		t.Errorf("TV cost of a constant = %v", c)
	}
	grad := make([]float32, len(f))
	TVGradient(grad, f, n1, n2, n3, 0.1, 1, 0, n1)
	for i, v := range grad {
		if v != 0 {
			t.Fatalf("TV gradient of a constant = %v at [%d]", v, i)
		}
	}
}

func TestTVCostChunkAdditive(t *testing.T) {
	const n1, n2, n3 = 10, 4, 4
	f := make([]float32, n1*n2*n3)
	for i := range f {
		f[i] = float32((i*7)%13) / 3
	}
	full := TVCost(f, n1, n2, n3, 0.2, 1.5, 0, n1)

	plane := n2 * n3
	var sum float64
	for _, rows := range [][2]int{{0, 4}, {4, 7}, {7, 10}} {
		lo := rows[0] - 1
		if lo < 0 {
			lo = 0
		}
		hi := rows[1] + 1
		if hi > n1 {
			hi = n1
		}
		sum += TVCost(f[lo*plane:hi*plane], hi-lo, n2, n3, 0.2, 1.5, rows[0]-lo, rows[1]-lo)
	}
	if math.Abs(full-sum) > 1e-9*math.Abs(full) {
		t.Errorf("chunked TV cost = %v, full = %v", sum, full)
	}
}

func TestTVQuadFormPositive(t *testing.T) {
	const n1, n2, n3 = 6, 4, 4
	f := make([]float32, n1*n2*n3)
	d := make([]float32, len(f))
	for i := range f {
		f[i] = float32(i%5) / 50 // differences inside the quadratic region
		d[i] = float32((i*3)%7) - 3
	}
	q := TVQuadForm(f, d, n1, n2, n3, 1, 2, 0, n1)
	if q <= 0 {
		t.Errorf("quadratic form = %v, want positive", q)
	}
}
