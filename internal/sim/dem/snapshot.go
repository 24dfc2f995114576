package dem

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"blockdem.dev/internal/persistence/snapshot"
	"blockdem.dev/internal/sim/contact"
)

// ExportSnapshot captures the kinematic state, clock and contact history.
func (s *Simulator) ExportSnapshot() snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:  snapshot.Version,
			RunID:    s.runID,
			Scenario: s.scenario,
			Step:     s.step,
			Time:     s.time,
		},
		Blocks: make([]snapshot.BlockV1, 0, len(s.blocks)),
	}
	for _, b := range s.blocks {
		q := b.Orientation
		snap.Blocks = append(snap.Blocks, snapshot.BlockV1{
			ID:              b.ID,
			Position:        b.Position,
			Orientation:     [4]float64{q.W, q.V[0], q.V[1], q.V[2]},
			Velocity:        b.Velocity,
			AngularVelocity: b.AngularVelocity,
			InitialPosition: b.InitialPosition,
			Displacement:    b.Displacement,
			MaxDisplacement: b.MaxDisplacement,
			Fixed:           b.Fixed,
		})
	}
	for _, c := range s.Contacts() {
		snap.Contacts = append(snap.Contacts, snapshot.ContactV1{
			A:            c.Key.A,
			B:            c.Key.B,
			State:        uint8(c.State),
			Point:        c.Point,
			Normal:       c.Normal,
			Penetration:  c.Penetration,
			Area:         c.Area,
			ShearDisp:    c.ShearDisp,
			DilationDisp: c.DilationDisp,
			Opened:       c.Opened,
			JointSetID:   c.Params.JointSetID,
			FirstContact: c.FirstContact,
			LastContact:  c.LastContact,
		})
	}
	for _, b := range s.blocks {
		if b.IsFree() {
			snap.Header.KineticEnergy += b.KineticEnergy()
		}
	}
	snap.Header.Blocks = len(snap.Blocks)
	snap.Header.Contacts = len(snap.Contacts)
	return snap
}

// ImportSnapshot restores a checkpoint taken from a simulator built over the same blocks.
// Contact parameters are re-derived from the current materials and joint sets.
func (s *Simulator) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.Header.Version != snapshot.Version {
		return fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	for _, bs := range snap.Blocks {
		if _, ok := s.slotOf[bs.ID]; !ok {
			return fmt.Errorf("snapshot block %d not in scenario", bs.ID)
		}
	}
	for _, cs := range snap.Contacts {
		_, okA := s.slotOf[cs.A]
		_, okB := s.slotOf[cs.B]
		if !okA || !okB || cs.A >= cs.B {
			return fmt.Errorf("snapshot contact %d-%d invalid", cs.A, cs.B)
		}
	}

	for _, bs := range snap.Blocks {
		b := s.blocks[s.slotOf[bs.ID]]
		o := bs.Orientation
		b.Position = bs.Position
		b.Orientation = mgl64.Quat{W: o[0], V: mgl64.Vec3{o[1], o[2], o[3]}}.Normalize()
		b.Velocity = bs.Velocity
		b.AngularVelocity = bs.AngularVelocity
		b.InitialPosition = bs.InitialPosition
		b.Displacement = bs.Displacement
		b.MaxDisplacement = bs.MaxDisplacement
		b.Fixed = bs.Fixed
	}

	s.contacts = make(map[contact.PairKey]*contact.Interface, len(snap.Contacts))
	for _, cs := range snap.Contacts {
		key := contact.PairKey{A: cs.A, B: cs.B}
		ia, ib := s.slotOf[cs.A], s.slotOf[cs.B]
		a, b := s.blocks[ia], s.blocks[ib]
		params := contact.ParamsFor(s.materials[a.MaterialID], s.materials[b.MaterialID], a.JointSets, b.JointSets, s.joints, cs.Normal, s.cfg.JointMatchToleranceDeg)
		if j, ok := s.joints[cs.JointSetID]; ok {
			params = contact.ParamsFromJoint(j)
		}
		c := contact.New(key, params, cs.FirstContact)
		c.Update(cs.Point, cs.Normal, cs.Penetration, cs.Area, cs.LastContact)
		c.State = contact.State(cs.State)
		c.ShearDisp = cs.ShearDisp
		c.DilationDisp = cs.DilationDisp
		c.Opened = cs.Opened
		s.contacts[key] = c
	}

	s.step = snap.Header.Step
	s.time = snap.Header.Time
	s.candidates = nil
	s.converged = false
	if s.status != StatusInitializing {
		s.status = StatusStepping
	}
	return nil
}
