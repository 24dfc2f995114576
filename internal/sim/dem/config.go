package dem

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"blockdem.dev/internal/sim/mathx"
	"blockdem.dev/internal/sim/quake"
)

var ErrInvalidConfig = errors.New("invalid config")

type Mode string

const (
	Dynamic     Mode = "dynamic"
	QuasiStatic Mode = "quasi_static"
	Static      Mode = "static"
)

type BoundaryMode string

const (
	BoundaryFree      BoundaryMode = "free"
	BoundaryFixedBase BoundaryMode = "fixed_base"
)

type MassScaling string

const (
	// MassScalingAuto scales inertial mass in QuasiStatic and Static runs only.
	MassScalingAuto MassScaling = "auto"
	MassScalingOff  MassScaling = "off"
)

// Config drives one simulation. Zero values are replaced by defaults where a zero is not
// meaningful; Gravity, the damping coefficients and BaseHeight are taken as given.
type Config struct {
	TimeStep      float64
	TotalTime     float64
	MaxIterations int
	Mode          Mode

	Gravity        mgl64.Vec3
	LocalDamping   float64 // [0,1], fraction of velocity removed per step
	ViscousDamping float64 // 1/s

	BoundaryMode BoundaryMode
	BaseHeight   float64
	// AllowedDisplacementDOF masks translation per axis; all false means unrestricted.
	AllowedDisplacementDOF [3]bool
	IncludeRotation        bool

	IncludeFluidPressure bool
	WaterTableZ          float64
	WaterDensity         float64

	EnableEarthquakeLoading bool
	Earthquakes             []quake.Load

	// SpatialHashGridSize is the broad-phase cell size in metres; <= 0 picks one.
	SpatialHashGridSize float64
	GridRebuildInterval int
	GridMargin          float64

	ConvergenceThreshold      float64 // m/s
	MinStepsBeforeConvergence int
	OutputFrequency           int
	SaveIntermediateStates    bool
	CheckpointEvery           int

	UseMultithreading bool
	Workers           int

	JointMatchToleranceDeg float64
	FailureDisplacement    float64
	MassScaling            MassScaling
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = QuasiStatic
	}
	if c.BoundaryMode == "" {
		c.BoundaryMode = BoundaryFree
	}
	if c.TimeStep <= 0 {
		c.TimeStep = 1e-4
	}
	if c.TotalTime <= 0 && c.MaxIterations <= 0 {
		c.TotalTime = 1
	}
	if c.AllowedDisplacementDOF == ([3]bool{}) {
		c.AllowedDisplacementDOF = [3]bool{true, true, true}
	}
	if c.WaterDensity <= 0 {
		c.WaterDensity = 1000
	}
	if c.GridRebuildInterval <= 0 {
		c.GridRebuildInterval = 1
	}
	if c.ConvergenceThreshold <= 0 {
		c.ConvergenceThreshold = 1e-5
	}
	if c.MinStepsBeforeConvergence <= 0 {
		c.MinStepsBeforeConvergence = 2
	}
	if c.OutputFrequency <= 0 {
		c.OutputFrequency = 100
	}
	if c.JointMatchToleranceDeg <= 0 {
		c.JointMatchToleranceDeg = 15
	}
	if c.FailureDisplacement <= 0 {
		c.FailureDisplacement = 0.1
	}
	if c.MassScaling == "" {
		c.MassScaling = MassScalingAuto
	}
}

func (c *Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	switch c.Mode {
	case Dynamic, QuasiStatic, Static:
	default:
		return bad("unknown mode %q", c.Mode)
	}
	switch c.BoundaryMode {
	case BoundaryFree, BoundaryFixedBase:
	default:
		return bad("unknown boundary mode %q", c.BoundaryMode)
	}
	switch c.MassScaling {
	case MassScalingAuto, MassScalingOff:
	default:
		return bad("unknown mass scaling %q", c.MassScaling)
	}
	if !(c.TimeStep > 0) || math.IsInf(c.TimeStep, 0) {
		return bad("time step must be > 0")
	}
	if c.TotalTime < 0 || c.MaxIterations < 0 {
		return bad("total time and max iterations must be >= 0")
	}
	if c.LocalDamping < 0 || c.LocalDamping > 1 {
		return bad("local damping %v outside [0,1]", c.LocalDamping)
	}
	if c.ViscousDamping < 0 {
		return bad("viscous damping must be >= 0")
	}
	if !mathx.IsFinite(c.Gravity) {
		return bad("gravity must be finite")
	}
	if c.CheckpointEvery < 0 || c.Workers < 0 {
		return bad("checkpoint interval and workers must be >= 0")
	}
	if c.EnableEarthquakeLoading && len(c.Earthquakes) == 0 {
		return bad("earthquake loading enabled without earthquakes")
	}
	return nil
}

// MaxSteps is the step budget implied by TotalTime and MaxIterations; the tighter wins.
func (c *Config) MaxSteps() uint64 {
	var n uint64
	if c.TotalTime > 0 {
		n = uint64(math.Ceil(c.TotalTime/c.TimeStep - 1e-9))
	}
	if c.MaxIterations > 0 && (n == 0 || uint64(c.MaxIterations) < n) {
		n = uint64(c.MaxIterations)
	}
	return n
}
