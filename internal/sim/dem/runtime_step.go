package dem

import (
	"math"

	"blockdem.dev/internal/persistence/snapshot"
	"blockdem.dev/internal/sim/contact"
)

// StepOnce advances the simulation by one time step using the same phase ordering as Run.
// It is primarily intended for tests and external drivers.
func (s *Simulator) StepOnce() HistoryRecord {
	if s.status == StatusInitializing {
		s.begin()
	}
	s.stepInternal()
	return s.last
}

func (s *Simulator) begin() {
	s.status = StatusStepping
	s.applyBoundary()
	s.logger.Printf("run %s: %d blocks, mode=%s dt=%g max_steps=%d workers=%d",
		s.runID, len(s.blocks), s.cfg.Mode, s.cfg.TimeStep, s.maxSteps, s.workers)
}

func (s *Simulator) stepInternal() {
	// Loads.
	s.clearForces()
	s.applyBodyForces()

	// Contacts.
	s.broadPhase()
	s.narrowPhase()
	list := s.buildContacts()
	s.resolveContacts(list)

	// Motion.
	s.updateMassScale()
	s.integrate()
	s.applyBoundary()

	stepNo := s.step + 1
	rec := s.measure(stepNo, s.time+s.cfg.TimeStep, list)
	s.last = rec
	s.record(rec)

	if s.cfg.Mode != Dynamic && stepNo >= uint64(s.cfg.MinStepsBeforeConvergence) && rec.PeakSpeed < s.cfg.ConvergenceThreshold {
		s.converged = true
	}

	s.step = stepNo
	s.time += s.cfg.TimeStep
}

func (s *Simulator) measure(step uint64, t float64, list []*contact.Interface) HistoryRecord {
	rec := HistoryRecord{Step: step, Time: t}

	// Gross applied force per block: body force plus every contact force magnitude.
	gross := s.gross
	for i := range s.blocks {
		gross[i] = s.bodyLoad[i]
	}
	for _, c := range list {
		if !c.Active() {
			continue
		}
		f := c.Force.Len()
		if i, ok := s.slotOf[c.Key.A]; ok {
			gross[i] += f
		}
		if i, ok := s.slotOf[c.Key.B]; ok {
			gross[i] += f
		}
	}

	free := 0
	for i, b := range s.blocks {
		if b.MaxDisplacement > rec.MaxDisplacement {
			rec.MaxDisplacement = b.MaxDisplacement
		}
		if !b.IsFree() {
			continue
		}
		free++
		v := s.speed[i]
		rec.PeakSpeed = math.Max(rec.PeakSpeed, v)
		rec.MeanSpeed += v
		rec.KineticEnergy += b.KineticEnergy()
		if gross[i] > 0 {
			rec.UnbalancedRatio = math.Max(rec.UnbalancedRatio, b.Force.Len()/gross[i])
		}
	}
	if free > 0 {
		rec.MeanSpeed /= float64(free)
	}
	for _, c := range list {
		switch c.State {
		case contact.StateSeparated:
			rec.SeparatedContacts++
		case contact.StateSliding:
			rec.SlidingContacts++
			rec.ActiveContacts++
		default:
			rec.ActiveContacts++
		}
	}
	return rec
}

func (s *Simulator) record(rec HistoryRecord) {
	if rec.Step%uint64(s.cfg.OutputFrequency) == 0 {
		s.history = append(s.history, rec)
		if s.historyLogger != nil {
			if err := s.historyLogger.WriteHistory(rec); err != nil {
				s.warnOnce("history", "history logger: %v", err)
			}
		}
		if s.cfg.SaveIntermediateStates {
			s.snapshots = append(s.snapshots, s.exportAt(rec.Step, rec.Time))
		}
	}
	if s.cfg.CheckpointEvery > 0 && s.checkpointSink != nil && rec.Step%uint64(s.cfg.CheckpointEvery) == 0 {
		select {
		case s.checkpointSink <- s.exportAt(rec.Step, rec.Time):
		default:
			s.logger.Printf("checkpoint at step %d dropped: sink busy", rec.Step)
		}
	}
}

// exportAt builds a snapshot labelled with a step that has not been committed yet.
func (s *Simulator) exportAt(step uint64, t float64) snapshot.SnapshotV1 {
	snap := s.ExportSnapshot()
	snap.Header.Step = step
	snap.Header.Time = t
	return snap
}
