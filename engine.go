package tomo

import (
	"math"

	"github.com/xraylab/tomo/param"
)

// Engine is the entry point for every projection, reconstruction, and
// filtering request. It owns the current geometry/volume description and
// the enabled device set, decides single- versus multi-device execution,
// computes memory-respecting partitions, manages host/device transfer, and
// reassembles partition results.
//
// Configuration calls must be serialized against in-flight requests by the
// caller; during a request the geometry and device set are read-only.
type Engine struct {
	params      *param.Params
	contexts    []*deviceContext
	memOverride uint64
}

// NewEngine returns an engine with no geometry configured and device 0
// enabled.
func NewEngine() *Engine {
	e := &Engine{params: param.New()}
	e.contexts = []*deviceContext{e.newDeviceContext(0)}
	return e
}

// Close releases the engine's device contexts.
func (e *Engine) Close() {
	e.contexts = nil
}

// Reset clears all geometry and volume parameters back to unconfigured.
// The device set is unaffected.
func (e *Engine) Reset() {
	e.params.Reset()
}

// Params exposes the current parameter set for inspection. Callers must not
// mutate it while requests are in flight.
func (e *Engine) Params() *param.Params { return e.params }

// UniformAngles returns n projection angles in degrees equally spaced over
// the given arc starting at zero.
func UniformAngles(n int, arcDegrees float64) []float32 {
	phis := make([]float32, n)
	for i := range phis {
		phis[i] = float32(arcDegrees * float64(i) / float64(n))
	}
	return phis
}

// Geometry configuration. Each setter validates and replaces the whole
// geometry; angles are given in degrees.

func (e *Engine) SetParallelBeam(numAngles, numRows, numCols int, pixelHeight, pixelWidth, centerRow, centerCol float32, phis []float32) error {
	if err := e.params.SetParallelBeam(numAngles, numRows, numCols, pixelHeight, pixelWidth, centerRow, centerCol, phis); err != nil {
		return wrapConfigError("SetParallelBeam", err)
	}
	return nil
}

func (e *Engine) SetFanBeam(numAngles, numRows, numCols int, pixelHeight, pixelWidth, centerRow, centerCol float32, phis []float32, sod, sdd float32) error {
	if err := e.params.SetFanBeam(numAngles, numRows, numCols, pixelHeight, pixelWidth, centerRow, centerCol, phis, sod, sdd); err != nil {
		return wrapConfigError("SetFanBeam", err)
	}
	return nil
}

func (e *Engine) SetConeBeam(numAngles, numRows, numCols int, pixelHeight, pixelWidth, centerRow, centerCol float32, phis []float32, sod, sdd float32) error {
	if err := e.params.SetConeBeam(numAngles, numRows, numCols, pixelHeight, pixelWidth, centerRow, centerCol, phis, sod, sdd); err != nil {
		return wrapConfigError("SetConeBeam", err)
	}
	return nil
}

func (e *Engine) SetModularBeam(numAngles, numRows, numCols int, pixelHeight, pixelWidth float32, sourcePositions, moduleCenters, rowVectors, colVectors []float32) error {
	if err := e.params.SetModularBeam(numAngles, numRows, numCols, pixelHeight, pixelWidth, sourcePositions, moduleCenters, rowVectors, colVectors); err != nil {
		return wrapConfigError("SetModularBeam", err)
	}
	return nil
}

func (e *Engine) SetVolume(numX, numY, numZ int, voxelWidth, voxelHeight, offsetX, offsetY, offsetZ float32) error {
	if err := e.params.SetVolume(numX, numY, numZ, voxelWidth, voxelHeight, offsetX, offsetY, offsetZ); err != nil {
		return wrapConfigError("SetVolume", err)
	}
	return nil
}

// SetDefaultVolume derives and stores the volume matching the scanned field
// of view, with the default voxel pitch divided by scale.
func (e *Engine) SetDefaultVolume(scale float32) error {
	if err := e.params.SetDefaultVolume(scale); err != nil {
		return wrapConfigError("SetDefaultVolume", err)
	}
	return nil
}

func (e *Engine) SetVolumeDimensionOrder(order param.DimensionOrder) error {
	if err := e.params.SetVolumeDimensionOrder(order); err != nil {
		return wrapConfigError("SetVolumeDimensionOrder", err)
	}
	return nil
}

func (e *Engine) SetHelicalPitch(pitch float32) error {
	if err := e.params.SetHelicalPitch(pitch); err != nil {
		return wrapConfigError("SetHelicalPitch", err)
	}
	return nil
}

func (e *Engine) SetRFOV(radius float32) error {
	if err := e.params.SetRFOV(radius); err != nil {
		return wrapConfigError("SetRFOV", err)
	}
	return nil
}

func (e *Engine) SetAxisOfSymmetry(degrees float32) error {
	if err := e.params.SetAxisOfSymmetry(degrees); err != nil {
		return wrapConfigError("SetAxisOfSymmetry", err)
	}
	return nil
}

func (e *Engine) ClearAxisOfSymmetry() { e.params.ClearAxisOfSymmetry() }

func (e *Engine) SetAttenuationMap(mu []float32) error {
	if err := e.params.SetAttenuationMap(mu); err != nil {
		return wrapConfigError("SetAttenuationMap", err)
	}
	return nil
}

func (e *Engine) SetCylindricalAttenuation(muCoeff, muRadius float32) error {
	if err := e.params.SetCylindricalAttenuation(muCoeff, muRadius); err != nil {
		return wrapConfigError("SetCylindricalAttenuation", err)
	}
	return nil
}

func (e *Engine) ClearAttenuationMap() { e.params.ClearAttenuationMap() }

func (e *Engine) SetProjector(which int) error {
	if err := e.params.SetProjector(which); err != nil {
		return wrapConfigError("SetProjector", err)
	}
	return nil
}

func (e *Engine) SetRampID(id int) error {
	if err := e.params.SetRampID(id); err != nil {
		return wrapConfigError("SetRampID", err)
	}
	return nil
}

// Getters return the stored value. Count getters return -1 while the
// corresponding geometry or volume is unconfigured; the physical pitches
// return zero.

func (e *Engine) NumAngles() int { return e.geomCount(e.params.NumAngles) }
func (e *Engine) NumRows() int   { return e.geomCount(e.params.NumRows) }
func (e *Engine) NumCols() int   { return e.geomCount(e.params.NumCols) }
func (e *Engine) NumX() int      { return e.volCount(e.params.Vol.NumX) }
func (e *Engine) NumY() int      { return e.volCount(e.params.Vol.NumY) }
func (e *Engine) NumZ() int      { return e.volCount(e.params.Vol.NumZ) }

func (e *Engine) geomCount(n int) int {
	if !e.params.GeometryDefined() {
		return -1
	}
	return n
}

func (e *Engine) volCount(n int) int {
	if !e.params.VolumeDefined() {
		return -1
	}
	return n
}

func (e *Engine) PixelWidth() float32                          { return e.params.PixelWidth }
func (e *Engine) PixelHeight() float32                         { return e.params.PixelHeight }
func (e *Engine) VoxelWidth() float32                          { return e.params.Vol.VoxelWidth }
func (e *Engine) VoxelHeight() float32                         { return e.params.Vol.VoxelHeight }
func (e *Engine) VolumeDimensionOrder() param.DimensionOrder   { return e.params.Order }
func (e *Engine) FBPScalar() float32                           { return e.params.FBPScalar() }

// SourcePositions returns a copy of the modular-beam source positions, or
// nil when not in modular mode.
func (e *Engine) SourcePositions() []float32 {
	return append([]float32(nil), e.params.SourcePositions...)
}

// ModuleCenters returns a copy of the modular-beam module centers.
func (e *Engine) ModuleCenters() []float32 {
	return append([]float32(nil), e.params.ModuleCenters...)
}

// RowVectors returns a copy of the modular-beam row direction vectors.
func (e *Engine) RowVectors() []float32 {
	return append([]float32(nil), e.params.RowVectors...)
}

// ColVectors returns a copy of the modular-beam column direction vectors.
func (e *Engine) ColVectors() []float32 {
	return append([]float32(nil), e.params.ColVectors...)
}

// PrintParameters writes the configured geometry and volume to the
// standard logger.
func (e *Engine) PrintParameters() {
	e.params.Print()
}

// projectionSize returns the projection sample count for the current
// geometry.
func (e *Engine) projectionSize() int {
	return e.params.NumAngles * e.params.NumRows * e.params.NumCols
}

// volumeSize returns the volume sample count.
func (e *Engine) volumeSize() int {
	return e.params.Vol.NumX * e.params.Vol.NumY * e.params.Vol.NumZ
}

// readyCheck validates that a request can be dispatched: geometry complete,
// volume configured when needed, symmetric-mode constraints honored, and
// buffer sizes matching the configured problem.
func (e *Engine) readyCheck(op string, g, f Buffer, needProjection, needVolume bool) error {
	p := e.params
	if !p.GeometryDefined() {
		return newConfigError(op, "geometry not set")
	}
	if needVolume && !p.VolumeDefined() {
		return newConfigError(op, "volume not set")
	}
	if p.Symmetric() {
		if p.NumAngles != 1 {
			return newConfigError(op, "symmetric mode requires a single projection angle")
		}
		if p.Beam != param.BeamParallel && p.Beam != param.BeamCone {
			return newConfigError(op, "symmetric mode requires a parallel or cone geometry")
		}
		if needVolume && p.Vol.NumX != 1 {
			return newConfigError(op, "symmetric volumes must have numX == 1")
		}
	}
	if needProjection && g.Len() != e.projectionSize() {
		return newInvalidArgError(op, "projection buffer size does not match the geometry")
	}
	if needVolume && f.Len() != e.volumeSize() {
		return newInvalidArgError(op, "volume buffer size does not match the volume")
	}
	return nil
}

// isFinite reports whether v is a finite number.
func isFinite(v float32) bool {
	return !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0)
}
