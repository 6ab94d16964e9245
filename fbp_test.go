package tomo

import (
	"math"
	"testing"
)

// cylinderVolume returns a unit-density cylinder of the given radius
// centered in the engine's volume, stored in ZYX order.
func cylinderVolume(e *Engine, radius float32) []float32 {
	nx, ny, nz := e.NumX(), e.NumY(), e.NumZ()
	f := make([]float32, nx*ny*nz)
	cx := float32(nx-1) / 2
	cy := float32(ny-1) / 2
	r2 := radius * radius
	for iz := 0; iz < nz; iz++ {
		for iy := 0; iy < ny; iy++ {
			for ix := 0; ix < nx; ix++ {
				dx := float32(ix) - cx
				dy := float32(iy) - cy
				if dx*dx+dy*dy <= r2 {
					f[(iz*ny+iy)*nx+ix] = 1
				}
			}
		}
	}
	return f
}

func TestFBPReconstructsUniformCylinder(t *testing.T) {
	e := cpuEngine(t)
	phis := UniformAngles(90, 180)
	if err := e.SetParallelBeam(90, 8, 64, 1, 1, 3.5, 31.5, phis); err != nil {
		t.Fatal(err)
	}
	if err := e.SetDefaultVolume(1); err != nil {
		t.Fatal(err)
	}
	f := cylinderVolume(e, 16)
	g := make([]float32, e.NumAngles()*e.NumRows()*e.NumCols())
	if err := e.Project(HostBuffer(g), HostBuffer(f)); err != nil {
		t.Fatal(err)
	}
	rec := make([]float32, len(f))
	if err := e.FBP(HostBuffer(g), HostBuffer(rec)); err != nil {
		t.Fatal(err)
	}

	nx, ny := e.NumX(), e.NumY()
	zc := e.NumZ() / 2
	at := func(ix, iy int) float64 {
		return float64(rec[(zc*ny+iy)*nx+ix])
	}
	// Interior voxels recover the unit density.
	for _, pt := range [][2]int{{32, 32}, {28, 32}, {32, 38}, {36, 26}} {
		v := at(pt[0], pt[1])
		if math.Abs(v-1) > 0.15 {
			t.Errorf("reconstructed density at (%d,%d) = %v, want 1", pt[0], pt[1], v)
		}
	}
	// Voxels outside the cylinder but well inside the field of view
	// reconstruct to approximately zero.
	for _, pt := range [][2]int{{32, 8}, {8, 32}, {52, 32}} {
		if v := at(pt[0], pt[1]); math.Abs(v) > 0.1 {
			t.Errorf("background at (%d,%d) = %v, want 0", pt[0], pt[1], v)
		}
	}
}

// circularOrbitPoses returns modular pose arrays for a circular cone orbit:
// sources at radius sod, flat panels at sdd behind the axis, rows along z.
func circularOrbitPoses(numAngles int, sod, sdd float64) (src, mod, rowv, colv []float32) {
	for i := 0; i < numAngles; i++ {
		phi := 2 * math.Pi * float64(i) / float64(numAngles)
		cp, sp := math.Cos(phi), math.Sin(phi)
		src = append(src, float32(sod*cp), float32(sod*sp), 0)
		mod = append(mod, float32((sod-sdd)*cp), float32((sod-sdd)*sp), 0)
		rowv = append(rowv, 0, 0, 1)
		colv = append(colv, float32(-sp), float32(cp), 0)
	}
	return src, mod, rowv, colv
}

func TestModularFBPMatchesCone(t *testing.T) {
	const numAngles, numRows, numCols = 90, 8, 32
	const sod, sdd = 1100, 1400
	setVolume := func(e *Engine) {
		if err := e.SetVolume(32, 32, 8, 0.75, 0.75, 0, 0, 0); err != nil {
			t.Fatal(err)
		}
	}

	cone := cpuEngine(t)
	phis := UniformAngles(numAngles, 360)
	err := cone.SetConeBeam(numAngles, numRows, numCols, 1, 1, 3.5, 15.5, phis, sod, sdd)
	if err != nil {
		t.Fatal(err)
	}
	setVolume(cone)

	modular := cpuEngine(t)
	src, mod, rowv, colv := circularOrbitPoses(numAngles, sod, sdd)
	err = modular.SetModularBeam(numAngles, numRows, numCols, 1, 1, src, mod, rowv, colv)
	if err != nil {
		t.Fatal(err)
	}
	setVolume(modular)

	f := cylinderVolume(cone, 8)
	gc := make([]float32, numAngles*numRows*numCols)
	if err := cone.Project(HostBuffer(gc), HostBuffer(f)); err != nil {
		t.Fatal(err)
	}
	gm := make([]float32, len(gc))
	if err := modular.Project(HostBuffer(gm), HostBuffer(f)); err != nil {
		t.Fatal(err)
	}

	recC := make([]float32, len(f))
	if err := cone.FBP(HostBuffer(gc), HostBuffer(recC)); err != nil {
		t.Fatal(err)
	}
	recM := make([]float32, len(f))
	if err := modular.FBP(HostBuffer(gm), HostBuffer(recM)); err != nil {
		t.Fatal(err)
	}

	nx, ny := 32, 32
	center := (4*ny+16)*nx + 16
	if v := float64(recM[center]); math.Abs(v-1) > 0.15 {
		t.Errorf("modular center density = %v, want 1", v)
	}
	for i := range recM {
		if d := math.Abs(float64(recM[i] - recC[i])); d > 0.02 {
			t.Fatalf("modular and cone reconstructions differ by %v at [%d]", d, i)
		}
	}
}

func TestPartitionedFBPMatchesUnpartitioned(t *testing.T) {
	geometries := []struct {
		name string
		set  geometrySetter
	}{
		{"parallel", parallelGeometry(16, 32, 32)},
		{"cone", coneGeometry(16, 32, 32)},
	}
	for _, geo := range geometries {
		t.Run(geo.name, func(t *testing.T) {
			ref := cpuEngine(t)
			geo.set(t, ref)
			g := testProjections(ref)
			want := make([]float32, ref.NumX()*ref.NumY()*ref.NumZ())
			if err := ref.FBP(HostBuffer(g), HostBuffer(want)); err != nil {
				t.Fatal(err)
			}

			e := partitionedEngine(t, 2)
			geo.set(t, e)
			got := make([]float32, len(want))
			if err := e.FBP(HostBuffer(g), HostBuffer(got)); err != nil {
				t.Fatal(err)
			}
			if err := DefaultTolerance().CompareFloat32(got, want); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestFBPLeavesProjectionsAlone(t *testing.T) {
	e := partitionedEngine(t, 2)
	parallelGeometry(8, 32, 32)(t, e)
	g := testProjections(e)
	orig := append([]float32(nil), g...)
	f := make([]float32, e.NumX()*e.NumY()*e.NumZ())
	if err := e.FBP(HostBuffer(g), HostBuffer(f)); err != nil {
		t.Fatal(err)
	}
	for i := range g {
		if g[i] != orig[i] {
			t.Fatalf("FBP modified its input projections at [%d]", i)
		}
	}
}

func TestFilterThenBackprojectMatchesFBP(t *testing.T) {
	e := cpuEngine(t)
	parallelGeometry(8, 16, 16)(t, e)
	g := testProjections(e)

	want := make([]float32, e.NumX()*e.NumY()*e.NumZ())
	if err := e.FBP(HostBuffer(g), HostBuffer(want)); err != nil {
		t.Fatal(err)
	}

	filtered := append([]float32(nil), g...)
	if err := e.FilterProjections(HostBuffer(filtered)); err != nil {
		t.Fatal(err)
	}
	got := make([]float32, len(want))
	if err := e.WeightedBackproject(HostBuffer(filtered), HostBuffer(got)); err != nil {
		t.Fatal(err)
	}
	if err := DefaultTolerance().CompareFloat32(got, want); err != nil {
		t.Error(err)
	}
}

func TestPartitionedFilterProjectionsMatchesUnpartitioned(t *testing.T) {
	ref := cpuEngine(t)
	parallelGeometry(16, 32, 32)(t, ref)
	want := testProjections(ref)
	if err := ref.RampFilterProjections(HostBuffer(want), 1); err != nil {
		t.Fatal(err)
	}

	e := partitionedEngine(t, 2)
	parallelGeometry(16, 32, 32)(t, e)
	got := testProjections(e)
	if err := e.RampFilterProjections(HostBuffer(got), 1); err != nil {
		t.Fatal(err)
	}
	if err := DefaultTolerance().CompareFloat32(got, want); err != nil {
		t.Error(err)
	}
}

func TestHilbertFilterProjectionsScalar(t *testing.T) {
	e := cpuEngine(t)
	parallelGeometry(4, 16, 16)(t, e)
	a := testProjections(e)
	b := append([]float32(nil), a...)
	if err := e.HilbertFilterProjections(HostBuffer(a), 1); err != nil {
		t.Fatal(err)
	}
	if err := e.HilbertFilterProjections(HostBuffer(b), 2); err != nil {
		t.Fatal(err)
	}
	tol := DefaultTolerance()
	for i := range a {
		if !tol.Float32Near(2*a[i], b[i]) {
			t.Fatalf("scalar not linear at [%d]: 2*%v != %v", i, a[i], b[i])
		}
	}
}

func TestPartitionedRampFilterVolumeMatchesUnpartitioned(t *testing.T) {
	ref := cpuEngine(t)
	parallelGeometry(4, 32, 32)(t, ref)
	want := testVolume(ref)
	if err := ref.RampFilterVolume(HostBuffer(want)); err != nil {
		t.Fatal(err)
	}

	e := partitionedEngine(t, 2)
	parallelGeometry(4, 32, 32)(t, e)
	got := testVolume(e)
	if err := e.RampFilterVolume(HostBuffer(got)); err != nil {
		t.Fatal(err)
	}
	if err := DefaultTolerance().CompareFloat32(got, want); err != nil {
		t.Error(err)
	}
}
