// Package scenario loads simulation scenarios from YAML, validates them against the
// embedded JSON schema and turns them into simulator inputs.
package scenario

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"blockdem.dev/internal/sim/block"
	"blockdem.dev/internal/sim/contact"
	"blockdem.dev/internal/sim/dem"
	"blockdem.dev/internal/sim/quake"
)

//go:embed scenario.schema.json
var schemaJSON string

const schemaURL = "https://blockdem.dev/schemas/scenario.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString(schemaURL, schemaJSON)
	})
	return schema, schemaErr
}

type Scenario struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Simulation  Simulation   `yaml:"simulation"`
	Materials   []Material   `yaml:"materials"`
	JointSets   []JointSet   `yaml:"joint_sets"`
	Earthquakes []Earthquake `yaml:"earthquakes"`
	Blocks      []Block      `yaml:"blocks"`
}

type Simulation struct {
	TimeStep                  float64   `yaml:"time_step"`
	TotalTime                 float64   `yaml:"total_time"`
	MaxIterations             int       `yaml:"max_iterations"`
	Mode                      string    `yaml:"mode"`
	Gravity                   []float64 `yaml:"gravity"`
	LocalDamping              float64   `yaml:"local_damping"`
	ViscousDamping            float64   `yaml:"viscous_damping"`
	BoundaryMode              string    `yaml:"boundary_mode"`
	BaseHeight                float64   `yaml:"base_height"`
	AllowedDOF                []bool    `yaml:"allowed_dof"`
	IncludeRotation           *bool     `yaml:"include_rotation"`
	IncludeFluidPressure      bool      `yaml:"include_fluid_pressure"`
	WaterTableZ               float64   `yaml:"water_table_z"`
	WaterDensity              float64   `yaml:"water_density"`
	EnableEarthquakeLoading   bool      `yaml:"enable_earthquake_loading"`
	SpatialHashGridSize       float64   `yaml:"spatial_hash_grid_size"`
	GridRebuildInterval       int       `yaml:"grid_rebuild_interval"`
	GridMargin                float64   `yaml:"grid_margin"`
	ConvergenceThreshold      float64   `yaml:"convergence_threshold"`
	MinStepsBeforeConvergence int       `yaml:"min_steps_before_convergence"`
	OutputFrequency           int       `yaml:"output_frequency"`
	SaveIntermediateStates    bool      `yaml:"save_intermediate_states"`
	CheckpointEvery           int       `yaml:"checkpoint_every"`
	UseMultithreading         *bool     `yaml:"use_multithreading"`
	Workers                   int       `yaml:"workers"`
	JointMatchToleranceDeg    float64   `yaml:"joint_match_tolerance_deg"`
	FailureDisplacement       float64   `yaml:"failure_displacement"`
	MassScaling               string    `yaml:"mass_scaling"`
}

type Material struct {
	ID          string  `yaml:"id"`
	Density     float64 `yaml:"density"`
	FrictionDeg float64 `yaml:"friction_deg"`
	Cohesion    float64 `yaml:"cohesion"`
	Tensile     float64 `yaml:"tensile"`
	Kn          float64 `yaml:"kn"`
	Ks          float64 `yaml:"ks"`
	DilationDeg float64 `yaml:"dilation_deg"`
}

type JointSet struct {
	ID          string  `yaml:"id"`
	DipDeg      float64 `yaml:"dip_deg"`
	DipDirDeg   float64 `yaml:"dip_dir_deg"`
	FrictionDeg float64 `yaml:"friction_deg"`
	Cohesion    float64 `yaml:"cohesion"`
	Tensile     float64 `yaml:"tensile"`
	Kn          float64 `yaml:"kn"`
	Ks          float64 `yaml:"ks"`
	DilationDeg float64 `yaml:"dilation_deg"`
	Spacing     float64 `yaml:"spacing"`
	// PorePressure fixes the water pressure on this set's contacts, Pa.
	PorePressure *float64 `yaml:"pore_pressure"`
}

type Earthquake struct {
	ID           string    `yaml:"id"`
	Epicenter    []float64 `yaml:"epicenter"`
	Depth        float64   `yaml:"depth"`
	Magnitude    float64   `yaml:"magnitude"`
	StartTime    float64   `yaml:"start_time"`
	Duration     float64   `yaml:"duration"`
	Frequency    float64   `yaml:"frequency"`
	Vp           float64   `yaml:"vp"`
	Vs           float64   `yaml:"vs"`
	Q            float64   `yaml:"q"`
	TimeFunction string    `yaml:"time_function"`
	Direction    []float64 `yaml:"direction"`
	Seed         int64     `yaml:"seed"`
	Series       []float64 `yaml:"series"`
	SeriesDt     float64   `yaml:"series_dt"`
	// FrequencyDependentQ selects exp(−π·f·r/(Q·Vs)) attenuation.
	FrequencyDependentQ bool `yaml:"frequency_dependent_q"`
}

type Box struct {
	Min []float64 `yaml:"min"`
	Max []float64 `yaml:"max"`
}

type Block struct {
	ID         int         `yaml:"id"`
	Material   string      `yaml:"material"`
	Density    float64     `yaml:"density"`
	JointSets  []string    `yaml:"joint_sets"`
	Fixed      bool        `yaml:"fixed"`
	AllowedDOF []bool      `yaml:"allowed_dof"`
	Velocity   []float64   `yaml:"velocity"`
	Box        *Box        `yaml:"box"`
	Vertices   [][]float64 `yaml:"vertices"`
	Faces      [][]int     `yaml:"faces"`
}

func Load(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Parse validates raw YAML against the scenario schema and decodes it.
func Parse(raw []byte) (*Scenario, error) {
	if err := Validate(raw); err != nil {
		return nil, err
	}
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	return &sc, nil
}

// Validate checks raw YAML against the embedded JSON schema.
func Validate(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse scenario: %w", err)
	}
	// Round-trip through JSON so the validator sees JSON types.
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("scenario to json: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("scenario to json: %w", err)
	}
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile scenario schema: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("scenario schema: %w", err)
	}
	return nil
}

// Inputs are the arguments of dem.New.
type Inputs struct {
	Config    dem.Config
	Blocks    []*block.Block
	Materials map[string]contact.Material
	JointSets map[string]contact.JointSet
}

// Build converts the scenario into simulator inputs.
func (sc *Scenario) Build() (*Inputs, error) {
	in := &Inputs{
		Config:    sc.Simulation.config(),
		Materials: make(map[string]contact.Material, len(sc.Materials)),
		JointSets: make(map[string]contact.JointSet, len(sc.JointSets)),
	}
	for _, m := range sc.Materials {
		if _, dup := in.Materials[m.ID]; dup {
			return nil, fmt.Errorf("duplicate material %q", m.ID)
		}
		in.Materials[m.ID] = contact.Material{
			ID:          m.ID,
			Density:     m.Density,
			FrictionDeg: m.FrictionDeg,
			Cohesion:    m.Cohesion,
			Tensile:     m.Tensile,
			Kn:          m.Kn,
			Ks:          m.Ks,
			DilationDeg: m.DilationDeg,
		}
	}
	for _, j := range sc.JointSets {
		if _, dup := in.JointSets[j.ID]; dup {
			return nil, fmt.Errorf("duplicate joint set %q", j.ID)
		}
		in.JointSets[j.ID] = contact.JointSet{
			ID:           j.ID,
			DipDeg:       j.DipDeg,
			DipDirDeg:    j.DipDirDeg,
			FrictionDeg:  j.FrictionDeg,
			Cohesion:     j.Cohesion,
			Tensile:      j.Tensile,
			Kn:           j.Kn,
			Ks:           j.Ks,
			DilationDeg:  j.DilationDeg,
			Spacing:      j.Spacing,
			PorePressure: j.PorePressure,
		}
	}
	for _, e := range sc.Earthquakes {
		in.Config.Earthquakes = append(in.Config.Earthquakes, quake.Load{
			ID:        e.ID,
			Epicenter: vec(e.Epicenter),
			Depth:     e.Depth,
			Magnitude: e.Magnitude,
			StartTime: e.StartTime,
			Duration:  e.Duration,
			Frequency: e.Frequency,
			Vp:        e.Vp,
			Vs:        e.Vs,
			Q:         e.Q,
			Function:  quake.TimeFunction(e.TimeFunction),
			Direction: vec(e.Direction),
			Seed:      e.Seed,
			Series:    e.Series,
			SeriesDt:  e.SeriesDt,

			FrequencyDependentQ: e.FrequencyDependentQ,
		})
	}
	for _, sb := range sc.Blocks {
		b, err := sb.build(in.Materials, in.JointSets)
		if err != nil {
			return nil, err
		}
		in.Blocks = append(in.Blocks, b)
	}
	return in, nil
}

func (s Simulation) config() dem.Config {
	c := dem.Config{
		TimeStep:                  s.TimeStep,
		TotalTime:                 s.TotalTime,
		MaxIterations:             s.MaxIterations,
		Mode:                      dem.Mode(s.Mode),
		Gravity:                   mgl64.Vec3{0, 0, -9.81},
		LocalDamping:              s.LocalDamping,
		ViscousDamping:            s.ViscousDamping,
		BoundaryMode:              dem.BoundaryMode(s.BoundaryMode),
		BaseHeight:                s.BaseHeight,
		IncludeRotation:           true,
		IncludeFluidPressure:      s.IncludeFluidPressure,
		WaterTableZ:               s.WaterTableZ,
		WaterDensity:              s.WaterDensity,
		EnableEarthquakeLoading:   s.EnableEarthquakeLoading,
		SpatialHashGridSize:       s.SpatialHashGridSize,
		GridRebuildInterval:       s.GridRebuildInterval,
		GridMargin:                s.GridMargin,
		ConvergenceThreshold:      s.ConvergenceThreshold,
		MinStepsBeforeConvergence: s.MinStepsBeforeConvergence,
		OutputFrequency:           s.OutputFrequency,
		SaveIntermediateStates:    s.SaveIntermediateStates,
		CheckpointEvery:           s.CheckpointEvery,
		UseMultithreading:         true,
		Workers:                   s.Workers,
		JointMatchToleranceDeg:    s.JointMatchToleranceDeg,
		FailureDisplacement:       s.FailureDisplacement,
		MassScaling:               dem.MassScaling(s.MassScaling),
	}
	if len(s.Gravity) == 3 {
		c.Gravity = vec(s.Gravity)
	}
	if len(s.AllowedDOF) == 3 {
		c.AllowedDisplacementDOF = [3]bool{s.AllowedDOF[0], s.AllowedDOF[1], s.AllowedDOF[2]}
	}
	if s.IncludeRotation != nil {
		c.IncludeRotation = *s.IncludeRotation
	}
	if s.UseMultithreading != nil {
		c.UseMultithreading = *s.UseMultithreading
	}
	return c
}

func (sb Block) build(materials map[string]contact.Material, joints map[string]contact.JointSet) (*block.Block, error) {
	mat, ok := materials[sb.Material]
	if !ok {
		return nil, fmt.Errorf("block %d: unknown material %q", sb.ID, sb.Material)
	}
	for _, id := range sb.JointSets {
		if _, ok := joints[id]; !ok {
			return nil, fmt.Errorf("block %d: unknown joint set %q", sb.ID, id)
		}
	}
	density := sb.Density
	if density == 0 {
		density = mat.Density
	}

	var b *block.Block
	if sb.Box != nil {
		lo, hi := vec(sb.Box.Min), vec(sb.Box.Max)
		for i := 0; i < 3; i++ {
			if !(hi[i] > lo[i]) {
				return nil, fmt.Errorf("block %d: box max must exceed min on every axis", sb.ID)
			}
		}
		b = block.NewBox(sb.ID, lo, hi, density)
	} else {
		verts := make([]mgl64.Vec3, len(sb.Vertices))
		for i, v := range sb.Vertices {
			verts[i] = vec(v)
		}
		for fi, f := range sb.Faces {
			for _, idx := range f {
				if idx >= len(verts) {
					return nil, fmt.Errorf("block %d: face %d references vertex %d of %d", sb.ID, fi, idx, len(verts))
				}
			}
		}
		b = block.New(sb.ID, verts, sb.Faces, density)
	}
	b.MaterialID = sb.Material
	b.JointSets = append([]string(nil), sb.JointSets...)
	b.Fixed = sb.Fixed
	if len(sb.AllowedDOF) == 3 {
		b.AllowedDOF = [3]bool{sb.AllowedDOF[0], sb.AllowedDOF[1], sb.AllowedDOF[2]}
	}
	if len(sb.Velocity) == 3 {
		b.Velocity = vec(sb.Velocity)
	}
	return b, nil
}

func vec(v []float64) mgl64.Vec3 {
	if len(v) != 3 {
		return mgl64.Vec3{}
	}
	return mgl64.Vec3{v[0], v[1], v[2]}
}
