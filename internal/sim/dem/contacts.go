package dem

import (
	"blockdem.dev/internal/sim/contact"
	"blockdem.dev/internal/sim/narrowphase"
	"blockdem.dev/internal/sim/parallel"
)

// broadPhase refreshes the candidate pair list every GridRebuildInterval steps. Pairs of
// two immovable blocks are dropped.
func (s *Simulator) broadPhase() {
	if s.candidates != nil && s.step%uint64(s.cfg.GridRebuildInterval) != 0 {
		return
	}
	s.grid.Clear()
	for _, b := range s.blocks {
		if !b.Inert {
			s.grid.Insert(b.ID, b)
		}
	}
	pairs := s.grid.Pairs()
	s.candidates = s.candidates[:0]
	if s.candidates == nil {
		s.candidates = make([][2]int, 0, len(pairs))
	}
	for _, p := range pairs {
		if !s.Block(p[0]).IsFree() && !s.Block(p[1]).IsFree() {
			continue
		}
		s.candidates = append(s.candidates, p)
	}
}

// narrowPhase tests every candidate pair in parallel; each pair writes only its own slot.
// Candidates hold block ids with the lower id first, so normals match the contact key.
func (s *Simulator) narrowPhase() {
	if cap(s.results) < len(s.candidates) {
		s.results = make([]narrowphase.Result, len(s.candidates))
	}
	s.results = s.results[:len(s.candidates)]
	parallel.For(len(s.candidates), s.workers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			p := s.candidates[i]
			s.results[i] = s.detector.Test(s.Block(p[0]), s.Block(p[1]))
		}
	})
}

// buildContacts derives the next contact map from the previous one plus this step's
// detections. Shear history follows the pair key, not the iteration order.
func (s *Simulator) buildContacts() []*contact.Interface {
	next := make(map[contact.PairKey]*contact.Interface, len(s.contacts))
	for i, p := range s.candidates {
		key := contact.MakeKey(p[0], p[1])
		r := s.results[i]
		prev := s.contacts[key]

		if r.Colliding {
			c := prev
			switch {
			case c == nil:
				c = contact.New(key, s.paramsFor(key, r), s.time)
			case c.State == contact.StateSeparated:
				c.Reopen(s.paramsFor(key, r), s.time)
			}
			c.Update(r.Point, r.Normal, r.Penetration, r.Area, s.time)
			next[key] = c
			continue
		}
		if prev == nil {
			continue
		}
		if prev.Active() {
			// A gap opening on a live contact is held in tension until the force law
			// decides it has separated.
			prev.Update(prev.Point, prev.Normal, -r.Separation, prev.Area, s.time)
		}
		next[key] = prev
	}
	s.contacts = next

	list := s.Contacts()
	for _, c := range list {
		if !c.Active() {
			continue
		}
		a, b := s.blocks[s.slotOf[c.Key.A]], s.blocks[s.slotOf[c.Key.B]]
		a.Touch(b.ID)
		b.Touch(a.ID)
	}
	return list
}

func (s *Simulator) paramsFor(key contact.PairKey, r narrowphase.Result) contact.Params {
	a, b := s.Block(key.A), s.Block(key.B)
	return contact.ParamsFor(s.materials[a.MaterialID], s.materials[b.MaterialID], a.JointSets, b.JointSets, s.joints, r.Normal, s.cfg.JointMatchToleranceDeg)
}

// resolveContacts evaluates the force law on every contact and accumulates the result
// into both blocks; accumulation is serialized per block.
func (s *Simulator) resolveContacts(list []*contact.Interface) {
	dt := s.cfg.TimeStep
	parallel.For(len(list), s.workers, func(lo, hi int) {
		for _, c := range list[lo:hi] {
			a, b := s.blocks[s.slotOf[c.Key.A]], s.blocks[s.slotOf[c.Key.B]]
			c.Resolve(a, b, dt, s.pore)
			c.ApplyTo(a, b)
		}
	})

	for i := range s.stiffness {
		s.stiffness[i] = 0
	}
	for _, c := range list {
		if !c.Active() {
			continue
		}
		k := max(c.Params.Kn, c.Params.Ks) * c.Area
		s.stiffness[s.slotOf[c.Key.A]] += k
		s.stiffness[s.slotOf[c.Key.B]] += k
	}
}
