package dem

import (
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"blockdem.dev/internal/persistence/snapshot"
)

// HistoryRecord is the convergence trace sampled every OutputFrequency steps.
type HistoryRecord struct {
	Step              uint64  `json:"step"`
	Time              float64 `json:"time"`
	PeakSpeed         float64 `json:"peak_speed"`
	MeanSpeed         float64 `json:"mean_speed"`
	KineticEnergy     float64 `json:"kinetic_energy"`
	MaxDisplacement   float64 `json:"max_displacement"`
	// UnbalancedRatio is the largest |net force| / Σ|applied force| over free blocks.
	UnbalancedRatio   float64 `json:"unbalanced_ratio"`
	ActiveContacts    int     `json:"active_contacts"`
	SlidingContacts   int     `json:"sliding_contacts"`
	SeparatedContacts int     `json:"separated_contacts"`
}

type BlockResult struct {
	ID              int
	Position        mgl64.Vec3
	Orientation     mgl64.Quat
	Velocity        mgl64.Vec3
	AngularVelocity mgl64.Vec3
	Displacement    float64
	MaxDisplacement float64
	Fixed           bool
	Inert           bool
	Failed          bool
	Touching        []int
}

type ContactResult struct {
	A, B         int
	State        string
	Point        mgl64.Vec3
	Normal       mgl64.Vec3
	Penetration  float64
	Area         float64
	NormalForce  float64
	ShearForce   float64
	ShearDisp    mgl64.Vec3
	PorePressure float64
	Opened       bool
	JointSetID   string
	FirstContact float64
	LastContact  float64
}

type Result struct {
	RunID     string
	Status    Status
	Converged bool
	Steps     uint64
	Time      float64

	PeakSpeed       float64
	MaxDisplacement float64
	FailedBlocks    []int

	Blocks    []BlockResult
	Contacts  []ContactResult
	History   []HistoryRecord
	Snapshots []snapshot.SnapshotV1
	Warnings  []string
}

func (s *Simulator) result() *Result {
	r := &Result{
		RunID:     s.runID,
		Status:    s.status,
		Converged: s.converged,
		Steps:     s.step,
		Time:      s.time,
		PeakSpeed: s.last.PeakSpeed,
		History:   append([]HistoryRecord(nil), s.history...),
		Snapshots: s.snapshots,
		Warnings:  s.Warnings(),
	}
	for _, b := range s.blocks {
		failed := !b.Inert && b.MaxDisplacement >= s.cfg.FailureDisplacement
		br := BlockResult{
			ID:              b.ID,
			Position:        b.Position,
			Orientation:     b.Orientation,
			Velocity:        b.Velocity,
			AngularVelocity: b.AngularVelocity,
			Displacement:    b.Displacement,
			MaxDisplacement: b.MaxDisplacement,
			Fixed:           b.Fixed,
			Inert:           b.Inert,
			Failed:          failed,
		}
		for id := range b.Touching {
			br.Touching = append(br.Touching, id)
		}
		sort.Ints(br.Touching)
		r.Blocks = append(r.Blocks, br)
		if failed {
			r.FailedBlocks = append(r.FailedBlocks, b.ID)
		}
		if b.MaxDisplacement > r.MaxDisplacement {
			r.MaxDisplacement = b.MaxDisplacement
		}
	}
	for _, c := range s.Contacts() {
		r.Contacts = append(r.Contacts, ContactResult{
			A:            c.Key.A,
			B:            c.Key.B,
			State:        c.State.String(),
			Point:        c.Point,
			Normal:       c.Normal,
			Penetration:  c.Penetration,
			Area:         c.Area,
			NormalForce:  c.NormalForce,
			ShearForce:   c.ShearForce,
			ShearDisp:    c.ShearDisp,
			PorePressure: c.PorePressure,
			Opened:       c.Opened,
			JointSetID:   c.Params.JointSetID,
			FirstContact: c.FirstContact,
			LastContact:  c.LastContact,
		})
	}
	return r
}
