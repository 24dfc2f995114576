// Package dem is the time-stepping orchestrator: it applies loads, detects and resolves
// contacts, integrates rigid-body motion and tracks convergence.
//
// A Simulator is driven by a single goroutine. Phases fan out over blocks or candidate
// pairs and join before the next phase starts.
package dem

import (
	"fmt"
	"io"
	"log"
	"sort"

	"blockdem.dev/internal/persistence/snapshot"
	"blockdem.dev/internal/sim/block"
	"blockdem.dev/internal/sim/broadphase"
	"blockdem.dev/internal/sim/contact"
	"blockdem.dev/internal/sim/narrowphase"
	"blockdem.dev/internal/sim/parallel"
	"blockdem.dev/internal/sim/quake"
)

type Status string

const (
	StatusInitializing Status = "initializing"
	StatusStepping     Status = "stepping"
	StatusConverged    Status = "converged"
	StatusExhausted    Status = "exhausted"
	StatusCancelled    Status = "cancelled"
)

// HistoryLogger receives one record every OutputFrequency steps.
type HistoryLogger interface {
	WriteHistory(rec HistoryRecord) error
}

type Simulator struct {
	cfg Config

	blocks    []*block.Block
	slotOf    map[int]int
	materials map[string]contact.Material
	joints    map[string]contact.JointSet

	contacts map[contact.PairKey]*contact.Interface
	grid     *broadphase.SpatialHashGrid
	detector narrowphase.Detector
	quakes   []*quake.Load
	pore     contact.PoreModel
	workers  int

	step      uint64
	time      float64
	maxSteps  uint64
	status    Status
	converged bool

	candidates [][2]int
	results    []narrowphase.Result
	stiffness  []float64 // per slot, Σ k·A over active contacts
	massScale  []float64 // per slot, >= 1
	nonFinite  []bool
	speed      []float64 // per slot, translational speed before damping
	bodyLoad   []float64 // per slot, magnitude of body and hydrostatic loads
	gross      []float64

	last      HistoryRecord
	history   []HistoryRecord
	snapshots []snapshot.SnapshotV1
	warnings  []string
	warned    map[string]bool

	runID    string
	scenario string

	logger        *log.Logger
	historyLogger HistoryLogger
	// Optional checkpoint sink (may be nil). Writing should be off-thread.
	checkpointSink chan<- snapshot.SnapshotV1
}

// New validates cfg and prepares a simulator over blocks. Blocks are owned by the
// simulator from here on. Materials are keyed by id; every block's MaterialID must resolve.
func New(cfg Config, blocks []*block.Block, materials map[string]contact.Material, joints map[string]contact.JointSet) (*Simulator, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: no blocks", ErrInvalidConfig)
	}
	s := &Simulator{
		cfg:       cfg,
		blocks:    blocks,
		slotOf:    make(map[int]int, len(blocks)),
		materials: materials,
		joints:    joints,
		contacts:  map[contact.PairKey]*contact.Interface{},
		detector:  narrowphase.NewSAT(),
		maxSteps:  cfg.MaxSteps(),
		status:    StatusInitializing,
		stiffness: make([]float64, len(blocks)),
		massScale: make([]float64, len(blocks)),
		nonFinite: make([]bool, len(blocks)),
		speed:     make([]float64, len(blocks)),
		bodyLoad:  make([]float64, len(blocks)),
		gross:     make([]float64, len(blocks)),
		warned:    map[string]bool{},
		logger:    log.New(io.Discard, "", 0),
	}
	if s.materials == nil {
		s.materials = map[string]contact.Material{}
	}
	if s.joints == nil {
		s.joints = map[string]contact.JointSet{}
	}
	for i, b := range blocks {
		if b == nil {
			return nil, fmt.Errorf("%w: block slot %d is nil", ErrInvalidConfig, i)
		}
		if _, dup := s.slotOf[b.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate block id %d", ErrInvalidConfig, b.ID)
		}
		s.slotOf[b.ID] = i
		if _, ok := s.materials[b.MaterialID]; !ok {
			return nil, fmt.Errorf("%w: block %d references unknown material %q", ErrInvalidConfig, b.ID, b.MaterialID)
		}
		s.massScale[i] = 1
		switch {
		case b.Inert:
			s.warnOnce(fmt.Sprintf("inert:%d", b.ID), "block %d has degenerate geometry and is inert", b.ID)
		case b.InvMass <= 0 && !b.Fixed:
			s.warnOnce(fmt.Sprintf("mass:%d", b.ID), "block %d has zero mass and is not integrated", b.ID)
		}
	}

	if cfg.EnableEarthquakeLoading {
		for i := range cfg.Earthquakes {
			q := cfg.Earthquakes[i]
			if err := q.Prepare(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
			}
			s.quakes = append(s.quakes, &q)
		}
	}
	s.pore = contact.PoreModel{
		Enabled:      cfg.IncludeFluidPressure,
		WaterTableZ:  cfg.WaterTableZ,
		WaterDensity: cfg.WaterDensity,
		Gravity:      cfg.Gravity.Len(),
	}
	s.workers = 1
	if cfg.UseMultithreading {
		s.workers = parallel.Workers(cfg.Workers)
	}

	scene := block.EmptyAABB()
	for _, b := range blocks {
		if !b.Inert {
			scene = scene.Union(b.AABB())
		}
	}
	if !scene.IsEmpty() {
		size := scene.Size()
		pad := 0.1 * max(size[0], size[1], size[2])
		scene = scene.Inflate(pad + cfg.GridMargin)
	}
	s.grid = broadphase.New(scene, cfg.SpatialHashGridSize, cfg.GridMargin)
	return s, nil
}

// SetLogger installs l and replays the warnings already raised by New.
func (s *Simulator) SetLogger(l *log.Logger) {
	if l == nil {
		l = log.New(io.Discard, "", 0)
	}
	s.logger = l
	for _, w := range s.warnings {
		l.Printf("warning: %s", w)
	}
}

func (s *Simulator) SetHistoryLogger(l HistoryLogger)                { s.historyLogger = l }
func (s *Simulator) SetCheckpointSink(ch chan<- snapshot.SnapshotV1) { s.checkpointSink = ch }
func (s *Simulator) SetDetector(d narrowphase.Detector)              { s.detector = d }
func (s *Simulator) SetRunInfo(runID, scenario string)               { s.runID, s.scenario = runID, scenario }
func (s *Simulator) Config() Config                                  { return s.cfg }
func (s *Simulator) Step() uint64                                    { return s.step }
func (s *Simulator) Time() float64                                   { return s.time }
func (s *Simulator) MaxSteps() uint64                                { return s.maxSteps }
func (s *Simulator) Status() Status                                  { return s.status }
func (s *Simulator) Warnings() []string                              { return append([]string(nil), s.warnings...) }

// Block returns the block with the given id, or nil.
func (s *Simulator) Block(id int) *block.Block {
	if i, ok := s.slotOf[id]; ok {
		return s.blocks[i]
	}
	return nil
}

// Contact returns the live contact between blocks a and b, or nil.
func (s *Simulator) Contact(a, b int) *contact.Interface {
	return s.contacts[contact.MakeKey(a, b)]
}

// Contacts returns the live contacts ordered by key.
func (s *Simulator) Contacts() []*contact.Interface {
	out := make([]*contact.Interface, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.A != out[j].Key.A {
			return out[i].Key.A < out[j].Key.A
		}
		return out[i].Key.B < out[j].Key.B
	})
	return out
}

// warnOnce records a warning the first time key is seen.
func (s *Simulator) warnOnce(key, format string, args ...any) {
	if s.warned[key] {
		return
	}
	s.warned[key] = true
	msg := fmt.Sprintf(format, args...)
	s.warnings = append(s.warnings, msg)
	s.logger.Printf("warning: %s", msg)
}
