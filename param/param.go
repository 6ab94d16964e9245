// Package param holds the CT geometry and reconstruction volume description
// shared by the dispatch engine and the projector kernels. A Params value is
// populated through the Set* methods, each of which validates its arguments,
// and is treated as read-only for the duration of a projection request.
package param

import (
	"errors"
	"fmt"
	"math"
)

// BeamType identifies the acquisition geometry family.
type BeamType int

const (
	BeamNone BeamType = iota // unconfigured
	BeamParallel
	BeamFan
	BeamCone
	BeamModular
)

// String returns the beam family name.
func (b BeamType) String() string {
	switch b {
	case BeamParallel:
		return "parallel"
	case BeamFan:
		return "fan"
	case BeamCone:
		return "cone"
	case BeamModular:
		return "modular"
	default:
		return "none"
	}
}

// DimensionOrder selects the memory layout of volume data.
type DimensionOrder int

const (
	// OrderXYZ stores volumes as f[ix][iy][iz] (z fastest).
	OrderXYZ DimensionOrder = iota
	// OrderZYX stores volumes as f[iz][iy][ix] (x fastest). This is the
	// layout that keeps z-slabs contiguous and is the default.
	OrderZYX
)

// Projector model hints accepted by SetProjector.
const (
	ProjectorSiddon = 0
	ProjectorJoseph = 1
	ProjectorSF     = 2
)

// ErrNotSet is returned by derivations that require a configured geometry.
var ErrNotSet = errors.New("param: geometry not set")

// Volume describes the reconstruction volume grid. Voxel (ix,iy,iz) is
// centered at ((i-0.5(n-1))*pitch + offset) along each axis.
type Volume struct {
	NumX, NumY, NumZ        int
	VoxelWidth, VoxelHeight float32
	OffsetX, OffsetY, OffsetZ float32
}

// Defined reports whether the volume has been configured.
func (v Volume) Defined() bool {
	return v.NumX > 0 && v.NumY > 0 && v.NumZ > 0 && v.VoxelWidth > 0 && v.VoxelHeight > 0
}

// Params is the full acquisition and volume description. Geometry fields are
// valid only after one of the SetXxxBeam calls succeeds; volume fields after
// SetVolume or SetDefaultVolume.
type Params struct {
	Beam BeamType

	NumAngles, NumRows, NumCols int
	PixelHeight, PixelWidth     float32
	CenterRow, CenterCol        float32

	// Phis holds the projection angles in radians (fan/cone/parallel).
	Phis []float32
	// SOD and SDD are the source-to-object and source-to-detector
	// distances (fan/cone).
	SOD, SDD float32

	// Modular-beam pose arrays, each NumAngles*3 floats of (x,y,z) triples.
	SourcePositions []float32
	ModuleCenters   []float32
	RowVectors      []float32
	ColVectors      []float32

	// HelicalPitch is the source z translation per full rotation (cone).
	HelicalPitch float32
	// RFOV is the cylindrical field-of-view radius, <= 0 when unset.
	RFOV float32

	// Axis-of-symmetry angle in radians; valid when HasAxisOfSymmetry.
	AxisOfSymmetry    float32
	HasAxisOfSymmetry bool

	// Attenuation model for the attenuated (SPECT-style) transform:
	// either a full volume-shaped map, or a cylinder coefficient+radius.
	MuMap    []float32
	MuCoeff  float32
	MuRadius float32

	Vol   Volume
	Order DimensionOrder

	// ProjectorModel and RampID are behavior hints: the kernel model
	// requested (Siddon/Joseph/SF) and the ramp filter sharpness order.
	ProjectorModel int
	RampID         int
}

// New returns an unconfigured Params with default ordering and hints.
func New() *Params {
	p := &Params{}
	p.Reset()
	return p
}

// Reset clears all geometry and volume state back to unconfigured.
func (p *Params) Reset() {
	*p = Params{
		Beam:           BeamNone,
		Order:          OrderZYX,
		ProjectorModel: ProjectorJoseph,
		RampID:         2,
	}
}

// GeometryDefined reports whether a complete geometry has been set.
func (p *Params) GeometryDefined() bool {
	if p.Beam == BeamNone || p.NumAngles <= 0 || p.NumRows <= 0 || p.NumCols <= 0 {
		return false
	}
	if p.PixelHeight <= 0 || p.PixelWidth <= 0 {
		return false
	}
	if p.Beam == BeamModular {
		n := p.NumAngles * 3
		return len(p.SourcePositions) == n && len(p.ModuleCenters) == n &&
			len(p.RowVectors) == n && len(p.ColVectors) == n
	}
	return len(p.Phis) == p.NumAngles
}

// VolumeDefined reports whether the reconstruction volume has been set.
func (p *Params) VolumeDefined() bool { return p.Vol.Defined() }

// AllDefined reports whether both geometry and volume are configured.
func (p *Params) AllDefined() bool { return p.GeometryDefined() && p.VolumeDefined() }

// Symmetric reports whether the cylindrically-symmetric model is active.
func (p *Params) Symmetric() bool { return p.HasAxisOfSymmetry }

// HasAttenuation reports whether an attenuation model is configured.
func (p *Params) HasAttenuation() bool {
	return len(p.MuMap) > 0 || (p.MuCoeff > 0 && p.MuRadius > 0)
}

func checkDetector(op string, numAngles, numRows, numCols int, pixelHeight, pixelWidth float32) error {
	if numAngles <= 0 || numRows <= 0 || numCols <= 0 {
		return fmt.Errorf("%s: counts must be positive, got angles=%d rows=%d cols=%d",
			op, numAngles, numRows, numCols)
	}
	if pixelHeight <= 0 || pixelWidth <= 0 {
		return fmt.Errorf("%s: pixel pitch must be positive, got height=%g width=%g",
			op, pixelHeight, pixelWidth)
	}
	return nil
}

func degToRad(phis []float32) []float32 {
	out := make([]float32, len(phis))
	for i, d := range phis {
		out[i] = d * math.Pi / 180
	}
	return out
}

// SetParallelBeam configures a parallel-beam geometry. Angles are given in
// degrees and stored in radians.
func (p *Params) SetParallelBeam(numAngles, numRows, numCols int, pixelHeight, pixelWidth, centerRow, centerCol float32, phis []float32) error {
	const op = "SetParallelBeam"
	if err := checkDetector(op, numAngles, numRows, numCols, pixelHeight, pixelWidth); err != nil {
		return err
	}
	if len(phis) != numAngles {
		return fmt.Errorf("%s: need %d angles, got %d", op, numAngles, len(phis))
	}
	p.clearGeometry()
	p.Beam = BeamParallel
	p.NumAngles, p.NumRows, p.NumCols = numAngles, numRows, numCols
	p.PixelHeight, p.PixelWidth = pixelHeight, pixelWidth
	p.CenterRow, p.CenterCol = centerRow, centerCol
	p.Phis = degToRad(phis)
	return nil
}

// SetFanBeam configures a fan-beam geometry. sod and sdd are the
// source-to-object and source-to-detector distances.
func (p *Params) SetFanBeam(numAngles, numRows, numCols int, pixelHeight, pixelWidth, centerRow, centerCol float32, phis []float32, sod, sdd float32) error {
	const op = "SetFanBeam"
	if err := checkDetector(op, numAngles, numRows, numCols, pixelHeight, pixelWidth); err != nil {
		return err
	}
	if len(phis) != numAngles {
		return fmt.Errorf("%s: need %d angles, got %d", op, numAngles, len(phis))
	}
	if sod <= 0 || sdd <= sod {
		return fmt.Errorf("%s: need 0 < sod < sdd, got sod=%g sdd=%g", op, sod, sdd)
	}
	p.clearGeometry()
	p.Beam = BeamFan
	p.NumAngles, p.NumRows, p.NumCols = numAngles, numRows, numCols
	p.PixelHeight, p.PixelWidth = pixelHeight, pixelWidth
	p.CenterRow, p.CenterCol = centerRow, centerCol
	p.Phis = degToRad(phis)
	p.SOD, p.SDD = sod, sdd
	return nil
}

// SetConeBeam configures a cone-beam geometry.
func (p *Params) SetConeBeam(numAngles, numRows, numCols int, pixelHeight, pixelWidth, centerRow, centerCol float32, phis []float32, sod, sdd float32) error {
	const op = "SetConeBeam"
	if err := checkDetector(op, numAngles, numRows, numCols, pixelHeight, pixelWidth); err != nil {
		return err
	}
	if len(phis) != numAngles {
		return fmt.Errorf("%s: need %d angles, got %d", op, numAngles, len(phis))
	}
	if sod <= 0 || sdd <= sod {
		return fmt.Errorf("%s: need 0 < sod < sdd, got sod=%g sdd=%g", op, sod, sdd)
	}
	p.clearGeometry()
	p.Beam = BeamCone
	p.NumAngles, p.NumRows, p.NumCols = numAngles, numRows, numCols
	p.PixelHeight, p.PixelWidth = pixelHeight, pixelWidth
	p.CenterRow, p.CenterCol = centerRow, centerCol
	p.Phis = degToRad(phis)
	p.SOD, p.SDD = sod, sdd
	return nil
}

// SetModularBeam configures a fully general geometry from per-view pose data:
// source positions, detector module centers, and detector row/column
// direction unit vectors, each as numAngles (x,y,z) triples.
func (p *Params) SetModularBeam(numAngles, numRows, numCols int, pixelHeight, pixelWidth float32, sourcePositions, moduleCenters, rowVectors, colVectors []float32) error {
	const op = "SetModularBeam"
	if err := checkDetector(op, numAngles, numRows, numCols, pixelHeight, pixelWidth); err != nil {
		return err
	}
	n := numAngles * 3
	for _, a := range []struct {
		name string
		data []float32
	}{
		{"sourcePositions", sourcePositions},
		{"moduleCenters", moduleCenters},
		{"rowVectors", rowVectors},
		{"colVectors", colVectors},
	} {
		if len(a.data) != n {
			return fmt.Errorf("%s: %s needs %d floats (numAngles x 3), got %d", op, a.name, n, len(a.data))
		}
	}
	p.clearGeometry()
	p.Beam = BeamModular
	p.NumAngles, p.NumRows, p.NumCols = numAngles, numRows, numCols
	p.PixelHeight, p.PixelWidth = pixelHeight, pixelWidth
	p.CenterRow = 0.5 * float32(numRows-1)
	p.CenterCol = 0.5 * float32(numCols-1)
	p.SourcePositions = append([]float32(nil), sourcePositions...)
	p.ModuleCenters = append([]float32(nil), moduleCenters...)
	p.RowVectors = append([]float32(nil), rowVectors...)
	p.ColVectors = append([]float32(nil), colVectors...)
	return nil
}

func (p *Params) clearGeometry() {
	p.Beam = BeamNone
	p.NumAngles, p.NumRows, p.NumCols = 0, 0, 0
	p.PixelHeight, p.PixelWidth = 0, 0
	p.CenterRow, p.CenterCol = 0, 0
	p.Phis = nil
	p.SOD, p.SDD = 0, 0
	p.SourcePositions, p.ModuleCenters, p.RowVectors, p.ColVectors = nil, nil, nil, nil
	p.HelicalPitch = 0
}

// SetVolume configures the reconstruction volume grid.
func (p *Params) SetVolume(numX, numY, numZ int, voxelWidth, voxelHeight, offsetX, offsetY, offsetZ float32) error {
	const op = "SetVolume"
	if numX <= 0 || numY <= 0 || numZ <= 0 {
		return fmt.Errorf("%s: voxel counts must be positive, got %d %d %d", op, numX, numY, numZ)
	}
	if voxelWidth <= 0 || voxelHeight <= 0 {
		return fmt.Errorf("%s: voxel pitch must be positive, got width=%g height=%g", op, voxelWidth, voxelHeight)
	}
	p.Vol = Volume{
		NumX: numX, NumY: numY, NumZ: numZ,
		VoxelWidth: voxelWidth, VoxelHeight: voxelHeight,
		OffsetX: offsetX, OffsetY: offsetY, OffsetZ: offsetZ,
	}
	return nil
}

// DefaultVolume derives a volume matching the scanned field of view. The
// default voxel pitch is divided by scale, with the voxel counts scaled to
// keep the physical extent fixed.
func (p *Params) DefaultVolume(scale float32) (Volume, error) {
	if !p.GeometryDefined() {
		return Volume{}, ErrNotSet
	}
	if scale <= 0 {
		return Volume{}, fmt.Errorf("DefaultVolume: scale must be positive, got %g", scale)
	}
	mag := float32(1)
	if p.Beam == BeamFan || p.Beam == BeamCone {
		mag = p.SOD / p.SDD
	}
	round := func(x float32) int {
		n := int(x + 0.5)
		if n < 1 {
			n = 1
		}
		return n
	}
	return Volume{
		NumX:        round(float32(p.NumCols) * scale),
		NumY:        round(float32(p.NumCols) * scale),
		NumZ:        round(float32(p.NumRows) * scale),
		VoxelWidth:  p.PixelWidth * mag / scale,
		VoxelHeight: p.PixelHeight * mag / scale,
	}, nil
}

// SetDefaultVolume derives and stores the default volume.
func (p *Params) SetDefaultVolume(scale float32) error {
	v, err := p.DefaultVolume(scale)
	if err != nil {
		return err
	}
	p.Vol = v
	return nil
}

// SetVolumeDimensionOrder selects the volume memory layout.
func (p *Params) SetVolumeDimensionOrder(order DimensionOrder) error {
	if order != OrderXYZ && order != OrderZYX {
		return fmt.Errorf("SetVolumeDimensionOrder: unknown order %d", int(order))
	}
	p.Order = order
	return nil
}

// SetHelicalPitch sets the helical translation per rotation. Only meaningful
// for cone-beam scans.
func (p *Params) SetHelicalPitch(pitch float32) error {
	if p.Beam != BeamCone {
		return fmt.Errorf("SetHelicalPitch: requires a cone-beam geometry, have %s", p.Beam)
	}
	p.HelicalPitch = pitch
	return nil
}

// SetRFOV sets the cylindrical field-of-view radius used to mask
// backprojection. A value <= 0 disables the mask.
func (p *Params) SetRFOV(r float32) error {
	p.RFOV = r
	return nil
}

// SetAxisOfSymmetry enables the cylindrically-symmetric model. The angle is
// given in degrees. Symmetric problems require a single projection angle and
// a parallel or cone geometry; that is checked at dispatch time since the
// axis may be set before the geometry.
func (p *Params) SetAxisOfSymmetry(deg float32) error {
	p.AxisOfSymmetry = deg * math.Pi / 180
	p.HasAxisOfSymmetry = true
	return nil
}

// ClearAxisOfSymmetry disables the cylindrically-symmetric model.
func (p *Params) ClearAxisOfSymmetry() {
	p.AxisOfSymmetry = 0
	p.HasAxisOfSymmetry = false
}

// SetAttenuationMap sets a volume-shaped attenuation map for the attenuated
// transform. The volume must be configured first so the length can be checked.
func (p *Params) SetAttenuationMap(mu []float32) error {
	if !p.VolumeDefined() {
		return errors.New("SetAttenuationMap: volume not set")
	}
	if want := p.Vol.NumX * p.Vol.NumY * p.Vol.NumZ; len(mu) != want {
		return fmt.Errorf("SetAttenuationMap: need %d values, got %d", want, len(mu))
	}
	p.MuMap = append([]float32(nil), mu...)
	p.MuCoeff, p.MuRadius = 0, 0
	return nil
}

// SetCylindricalAttenuation sets the cylinder-approximation attenuation
// model: constant coefficient muCoeff inside radius muRadius.
func (p *Params) SetCylindricalAttenuation(muCoeff, muRadius float32) error {
	if muCoeff <= 0 || muRadius <= 0 {
		return fmt.Errorf("SetCylindricalAttenuation: coefficient and radius must be positive, got %g %g", muCoeff, muRadius)
	}
	p.MuMap = nil
	p.MuCoeff, p.MuRadius = muCoeff, muRadius
	return nil
}

// ClearAttenuationMap removes any attenuation model.
func (p *Params) ClearAttenuationMap() {
	p.MuMap = nil
	p.MuCoeff, p.MuRadius = 0, 0
}

// SetProjector records the requested kernel model.
func (p *Params) SetProjector(which int) error {
	switch which {
	case ProjectorSiddon, ProjectorJoseph, ProjectorSF:
		p.ProjectorModel = which
		return nil
	}
	return fmt.Errorf("SetProjector: unknown projector model %d", which)
}

// SetRampID sets the ramp filter sharpness order.
func (p *Params) SetRampID(id int) error {
	if id < 0 {
		return fmt.Errorf("SetRampID: must be non-negative, got %d", id)
	}
	p.RampID = id
	return nil
}
