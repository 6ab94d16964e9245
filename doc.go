// Package tomo computes forward and back projections for X-ray computed
// tomography and filtered backprojection (FBP) reconstruction, under
// parallel-, fan-, cone-, and modular-beam geometries.
//
// The package is the dispatch and resource-partitioning layer above the
// per-geometry projection kernels: given a request, the configured geometry,
// and the enabled devices, it splits the problem along the detector-row (or
// volume-slab) axis so every unit of work fits the memory of its execution
// context, runs the units concurrently across devices, and reassembles the
// results deterministically.
//
// Example usage:
//
//	e := tomo.NewEngine()
//	defer e.Close()
//
//	phis := tomo.UniformAngles(180, 180)
//	e.SetParallelBeam(180, 64, 64, 1, 1, 31.5, 31.5, phis)
//	e.SetDefaultVolume(1)
//
//	g := make([]float32, 180*64*64)
//	f := make([]float32, e.NumX()*e.NumY()*e.NumZ())
//	if err := e.Project(tomo.HostBuffer(g), tomo.HostBuffer(f)); err != nil {
//		return err
//	}
//	if err := e.FBP(tomo.HostBuffer(g), tomo.HostBuffer(f)); err != nil {
//		return err
//	}
package tomo
