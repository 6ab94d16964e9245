package projector

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
	if err := p.SetDefaultVolume(1); err != nil {
		t.Fatal(err)
	}
	return p
}

func divergentParams(t *testing.T, beam param.BeamType, numAngles, numRows, numCols int) *param.Params {
	t.Helper()
	p := param.New()
	phis := uniformPhis(numAngles, 360)
	cr, cc := float32(numRows-1)/2, float32(numCols-1)/2
	var err error
	if beam == param.BeamFan {
		err = p.SetFanBeam(numAngles, numRows, numCols, 1, 1, cr, cc, phis, 1100, 1400)
	} else {
		err = p.SetConeBeam(numAngles, numRows, numCols, 1, 1, cr, cc, phis, 1100, 1400)
	}
	if err != nil {
		t.Fatal(err)
	}
	if err := p.SetDefaultVolume(1); err != nil {
		t.Fatal(err)
	}
	return p
}

// cylinder fills the volume (ZYX order) with a unit-density cylinder of the
// given radius centered on the rotation axis.
func cylinder(p *param.Params, radius float64) []float32 {
	v := p.Vol
	f := make([]float32, v.NumX*v.NumY*v.NumZ)
	for iz := 0; iz < v.NumZ; iz++ {
		for iy := 0; iy < v.NumY; iy++ {
			y := float64(p.Y(iy))
			for ix := 0; ix < v.NumX; ix++ {
				x := float64(p.X(ix))
				if math.Hypot(x, y) <= radius {
					f[p.VoxelIndex(ix, iy, iz)] = 1
				}
			}
		}
	}
	return f
}

// lcg is a tiny deterministic generator for test data.
type lcg uint64

func (r *lcg) next() float32 {
	*r = *r*6364136223846793005 + 1442695040888963407
	return float32(*r>>40) / float32(1<<24)
}

func fillRandom(dst []float32, seed uint64) {
	r := lcg(seed)
	for i := range dst {
		dst[i] = r.next()
	}
}

func TestProjectZeroVolume(t *testing.T) {
	configs := []struct {
		name string
		p    *param.Params
	}{
		{"parallel", parallelParams(t, 4, 16, 16)},
		{"fan", divergentParams(t, param.BeamFan, 4, 16, 16)},
		{"cone", divergentParams(t, param.BeamCone, 4, 16, 16)},
	}
	for _, cfg := range configs {
		t.Run(cfg.name, func(t *testing.T) {
			p := cfg.p
			f := make([]float32, p.Vol.NumX*p.Vol.NumY*p.Vol.NumZ)
			g := make([]float32, p.NumAngles*p.NumRows*p.NumCols)
			if err := Project(g, f, p, Full(p)); err != nil {
				t.Fatal(err)
			}
			for i, v := range g {
				if v != 0 {
					t.Fatalf("g[%d] = %v for a zero volume", i, v)
				}
			}
		})
	}
}

func TestCylinderCentralRay(t *testing.T) {
	const radius = 8.0
	configs := []struct {
		name string
		p    *param.Params
	}{
		{"parallel", parallelParams(t, 2, 32, 32)},
		{"fan", divergentParams(t, param.BeamFan, 2, 32, 32)},
		{"cone", divergentParams(t, param.BeamCone, 2, 32, 32)},
	}
	for _, cfg := range configs {
		t.Run(cfg.name, func(t *testing.T) {
			p := cfg.p
			f := cylinder(p, radius)
			g := make([]float32, p.NumAngles*p.NumRows*p.NumCols)
			if err := Project(g, f, p, Full(p)); err != nil {
				t.Fatal(err)
			}
			// The central ray crosses the full diameter regardless of
			// beam divergence.
			ir, ic := p.NumRows/2, p.NumCols/2
			got := float64(g[(0*p.NumRows+ir)*p.NumCols+ic])
			want := 2 * radius
			if math.Abs(got-want) > 0.05*want {
				t.Errorf("central ray = %v, want %v within 5%%", got, want)
			}
		})
	}
}

func TestBackprojectUniformParallel(t *testing.T) {
	p := parallelParams(t, 8, 32, 32)
	g := make([]float32, p.NumAngles*p.NumRows*p.NumCols)
	for i := range g {
		g[i] = 1
	}
	f := make([]float32, p.Vol.NumX*p.Vol.NumY*p.Vol.NumZ)
	if err := Backproject(g, f, p, Full(p)); err != nil {
		t.Fatal(err)
	}
	// An interior voxel gathers exactly one unit per view.
	got := float64(f[p.VoxelIndex(16, 16, 16)])
	if math.Abs(got-float64(p.NumAngles)) > 1e-3 {
		t.Errorf("interior voxel = %v, want %v", got, p.NumAngles)
	}
}

// stageRows copies detector rows [r0,r1) of the chunk layout back into the
// full projection buffer.
func mergeRows(full, chunk []float32, p *param.Params, r0, r1 int) {
	n := r1 - r0
	for ia := 0; ia < p.NumAngles; ia++ {
		src := ia * n * p.NumCols
		dst := (ia*p.NumRows + r0) * p.NumCols
		copy(full[dst:dst+n*p.NumCols], chunk[src:src+n*p.NumCols])
	}
}

func TestWindowedProjectionMatchesFull(t *testing.T) {
	configs := []struct {
		name string
		p    *param.Params
	}{
		{"parallel", parallelParams(t, 4, 32, 32)},
		{"cone", divergentParams(t, param.BeamCone, 4, 32, 32)},
	}
	for _, cfg := range configs {
		t.Run(cfg.name, func(t *testing.T) {
			p := cfg.p
			f := cylinder(p, 8)
			want := make([]float32, p.NumAngles*p.NumRows*p.NumCols)
			if err := Project(want, f, p, Full(p)); err != nil {
				t.Fatal(err)
			}

			got := make([]float32, len(want))
			plane := p.Vol.NumX * p.Vol.NumY
			for _, rows := range [][2]int{{0, 10}, {10, 21}, {21, 32}} {
				z0, z1 := p.SlabForRows(rows[0], rows[1])
				w := Window{RowStart: rows[0], RowEnd: rows[1], ZStart: z0, ZEnd: z1}
				chunk := make([]float32, p.NumAngles*(rows[1]-rows[0])*p.NumCols)
				// ZYX order keeps a z slab contiguous.
				if err := Project(chunk, f[z0*plane:z1*plane], p, w); err != nil {
					t.Fatal(err)
				}
				mergeRows(got, chunk, p, rows[0], rows[1])
			}
			for i := range got {
				if got[i] != want[i] {
					t.Fatalf("windowed projection differs at [%d]: got %v, want %v", i, got[i], want[i])
				}
			}
		})
	}
}

func TestWindowedBackprojectionMatchesFull(t *testing.T) {
	p := divergentParams(t, param.BeamCone, 4, 32, 32)
	g := make([]float32, p.NumAngles*p.NumRows*p.NumCols)
	fillRandom(g, 7)

	want := make([]float32, p.Vol.NumX*p.Vol.NumY*p.Vol.NumZ)
	if err := Backproject(g, want, p, Full(p)); err != nil {
		t.Fatal(err)
	}

	got := make([]float32, len(want))
	plane := p.Vol.NumX * p.Vol.NumY
	for _, slab := range [][2]int{{0, 11}, {11, 20}, {20, 32}} {
		r0, r1 := p.RowsForSlab(slab[0], slab[1])
		w := Window{RowStart: r0, RowEnd: r1, ZStart: slab[0], ZEnd: slab[1]}
		n := r1 - r0
		gChunk := make([]float32, p.NumAngles*n*p.NumCols)
		for ia := 0; ia < p.NumAngles; ia++ {
			src := (ia*p.NumRows + r0) * p.NumCols
			copy(gChunk[ia*n*p.NumCols:(ia+1)*n*p.NumCols], g[src:src+n*p.NumCols])
		}
		fChunk := got[slab[0]*plane : slab[1]*plane]
		if err := Backproject(gChunk, fChunk, p, w); err != nil {
			t.Fatal(err)
		}
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("windowed backprojection differs at [%d]: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestModularMatchesCone(t *testing.T) {
	const numAngles, numRows, numCols = 4, 16, 16
	cone := divergentParams(t, param.BeamCone, numAngles, numRows, numCols)

	// Recreate the cone orbit as explicit per-view poses.
	src := make([]float32, 3*numAngles)
	centers := make([]float32, 3*numAngles)
	rowVecs := make([]float32, 3*numAngles)
	colVecs := make([]float32, 3*numAngles)
	for ia := 0; ia < numAngles; ia++ {
		phi := float64(cone.Phis[ia])
		sx, sy := 1100*math.Cos(phi), 1100*math.Sin(phi)
		src[3*ia], src[3*ia+1] = float32(sx), float32(sy)
		centers[3*ia] = float32(sx - 1400*math.Cos(phi))
		centers[3*ia+1] = float32(sy - 1400*math.Sin(phi))
		rowVecs[3*ia+2] = 1
		colVecs[3*ia] = float32(-math.Sin(phi))
		colVecs[3*ia+1] = float32(math.Cos(phi))
	}
	mod := param.New()
	err := mod.SetModularBeam(numAngles, numRows, numCols, 1, 1, src, centers, rowVecs, colVecs)
	if err != nil {
		t.Fatal(err)
	}
	mod.Vol = cone.Vol

	f := cylinder(cone, 4)
	gCone := make([]float32, numAngles*numRows*numCols)
	gMod := make([]float32, numAngles*numRows*numCols)
	if err := Project(gCone, f, cone, Full(cone)); err != nil {
		t.Fatal(err)
	}
	if err := Project(gMod, f, mod, Full(mod)); err != nil {
		t.Fatal(err)
	}
	for i := range gCone {
		diff := math.Abs(float64(gCone[i] - gMod[i]))
		if diff > 1e-3 && diff > 1e-3*math.Abs(float64(gCone[i])) {
			t.Fatalf("modular differs from cone at [%d]: %v vs %v", i, gMod[i], gCone[i])
		}
	}
}

func symmetricParams(t *testing.T) *param.Params {
	t.Helper()
	p := param.New()
	err := p.SetParallelBeam(1, 16, 16, 1, 1, 7.5, 7.5, []float32{0})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.SetVolume(1, 16, 16, 1, 1, 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := p.SetAxisOfSymmetry(0); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestSymmetricAdjointIdentity(t *testing.T) {
	p := symmetricParams(t)
	f := make([]float32, p.Vol.NumY*p.Vol.NumZ)
	g := make([]float32, p.NumRows*p.NumCols)
	fillRandom(f, 11)
	fillRandom(g, 13)

	pf := make([]float32, len(g))
	if err := Project(pf, f, p, Full(p)); err != nil {
		t.Fatal(err)
	}
	btg := make([]float32, len(f))
	if err := Backproject(g, btg, p, Full(p)); err != nil {
		t.Fatal(err)
	}

	var lhs, rhs float64
	for i := range g {
		lhs += float64(pf[i]) * float64(g[i])
	}
	for i := range f {
		rhs += float64(f[i]) * float64(btg[i])
	}
	if scale := math.Max(math.Abs(lhs), math.Abs(rhs)); math.Abs(lhs-rhs) > 1e-3*scale {
		t.Errorf("<Pf,g> = %v but <f,P'g> = %v", lhs, rhs)
	}
}

func symmetricConeParams(t *testing.T) *param.Params {
	t.Helper()
	p := param.New()
	err := p.SetConeBeam(1, 16, 16, 1, 1, 7.5, 7.5, []float32{0}, 100, 200)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.SetVolume(1, 16, 16, 1, 1, 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := p.SetAxisOfSymmetry(0); err != nil {
		t.Fatal(err)
	}
	return p
}

// diskProfile fills the radial profile with unit density inside radius.
func diskProfile(p *param.Params, radius float32) []float32 {
	f := make([]float32, p.Vol.NumY*p.Vol.NumZ)
	for iz := 0; iz < p.Vol.NumZ; iz++ {
		for iy := 0; iy < p.Vol.NumY; iy++ {
			if r := p.Y(iy); r >= 0 && r <= radius {
				f[iz*p.Vol.NumY+iy] = 1
			}
		}
	}
	return f
}

func TestSymmetricConeUsesDivergentRays(t *testing.T) {
	cone := symmetricConeParams(t)
	par := symmetricParams(t)
	f := diskProfile(cone, 5)

	gc := make([]float32, cone.NumRows*cone.NumCols)
	if err := Project(gc, f, cone, Full(cone)); err != nil {
		t.Fatal(err)
	}
	gp := make([]float32, par.NumRows*par.NumCols)
	if err := Project(gp, f, par, Full(par)); err != nil {
		t.Fatal(err)
	}

	// The near-central ray still crosses the full diameter.
	center := (cone.NumRows/2)*cone.NumCols + cone.NumCols/2
	if v := float64(gc[center]); math.Abs(v-10) > 1 {
		t.Errorf("central cone ray = %v, want ~10 (disk diameter)", v)
	}
	// Off-axis rays see the magnified fan geometry, not parallel offsets.
	var maxDiff float64
	for i := range gc {
		if d := math.Abs(float64(gc[i] - gp[i])); d > maxDiff {
			maxDiff = d
		}
	}
	if maxDiff < 1e-3 {
		t.Error("cone projection matches parallel projection, divergence ignored")
	}
}

func TestSymmetricConeAdjointIdentity(t *testing.T) {
	p := symmetricConeParams(t)
	f := make([]float32, p.Vol.NumY*p.Vol.NumZ)
	g := make([]float32, p.NumRows*p.NumCols)
	fillRandom(f, 17)
	fillRandom(g, 19)

	pf := make([]float32, len(g))
	if err := Project(pf, f, p, Full(p)); err != nil {
		t.Fatal(err)
	}
	btg := make([]float32, len(f))
	if err := Backproject(g, btg, p, Full(p)); err != nil {
		t.Fatal(err)
	}

	var lhs, rhs float64
	for i := range g {
		lhs += float64(pf[i]) * float64(g[i])
	}
	for i := range f {
		rhs += float64(f[i]) * float64(btg[i])
	}
	if scale := math.Max(math.Abs(lhs), math.Abs(rhs)); math.Abs(lhs-rhs) > 1e-3*scale {
		t.Errorf("<Pf,g> = %v but <f,P'g> = %v", lhs, rhs)
	}
}

func TestSymmetricRejectsPartialWindow(t *testing.T) {
	p := symmetricParams(t)
	f := make([]float32, p.Vol.NumY*p.Vol.NumZ)
	g := make([]float32, p.NumRows*p.NumCols)
	w := Full(p)
	w.RowEnd = 8
	gw := g[:p.NumCols*8]
	if err := Project(gw, f, p, w); err == nil {
		t.Error("partial window accepted in symmetric mode")
	}
}

func TestAttenuationReducesProjection(t *testing.T) {
	p := parallelParams(t, 2, 32, 32)
	f := cylinder(p, 8)
	plain := make([]float32, p.NumAngles*p.NumRows*p.NumCols)
	if err := Project(plain, f, p, Full(p)); err != nil {
		t.Fatal(err)
	}
	if err := p.SetCylindricalAttenuation(0.05, 8); err != nil {
		t.Fatal(err)
	}
	att := make([]float32, len(plain))
	if err := Project(att, f, p, Full(p)); err != nil {
		t.Fatal(err)
	}
	ir, ic := p.NumRows/2, p.NumCols/2
	center := ir*p.NumCols + ic
	if att[center] >= plain[center] {
		t.Errorf("attenuated central ray %v not below unattenuated %v", att[center], plain[center])
	}
	for i := range att {
		if att[i] > plain[i]+1e-4 {
			t.Fatalf("attenuation increased sample [%d]: %v > %v", i, att[i], plain[i])
		}
	}
}

func TestRFOVMasksBackprojection(t *testing.T) {
	p := parallelParams(t, 4, 16, 16)
	if err := p.SetRFOV(3); err != nil {
		t.Fatal(err)
	}
	g := make([]float32, p.NumAngles*p.NumRows*p.NumCols)
	for i := range g {
		g[i] = 1
	}
	f := make([]float32, p.Vol.NumX*p.Vol.NumY*p.Vol.NumZ)
	if err := Backproject(g, f, p, Full(p)); err != nil {
		t.Fatal(err)
	}
	if v := f[p.VoxelIndex(0, 0, 8)]; v != 0 {
		t.Errorf("voxel outside the field of view = %v, want 0", v)
	}
	if v := f[p.VoxelIndex(8, 8, 8)]; v == 0 {
		t.Error("voxel inside the field of view is zero")
	}
}
