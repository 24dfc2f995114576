package dem

import (
	"context"
)

// ProgressFunc is called every OutputFrequency steps and once at the end. Returning false
// stops the run after the current step.
type ProgressFunc func(HistoryRecord) bool

// Run steps until convergence, the step budget, cancellation of ctx or a stop request
// from progress. Cancellation is only observed between steps.
func (s *Simulator) Run(ctx context.Context, progress ProgressFunc) (*Result, error) {
	if s.status == StatusInitializing {
		s.begin()
	}
	for {
		if err := ctx.Err(); err != nil {
			s.status = StatusCancelled
			s.logger.Printf("run %s cancelled at step %d: %v", s.runID, s.step, err)
			return s.result(), err
		}
		if s.maxSteps > 0 && s.step >= s.maxSteps {
			s.status = StatusExhausted
			break
		}
		s.stepInternal()
		if s.converged {
			s.status = StatusConverged
			break
		}
		if progress != nil && s.step%uint64(s.cfg.OutputFrequency) == 0 && !progress(s.last) {
			s.status = StatusCancelled
			break
		}
	}
	if progress != nil {
		progress(s.last)
	}
	s.logger.Printf("run %s %s after %d steps (t=%.4gs, peak speed %.3g m/s)",
		s.runID, s.status, s.step, s.time, s.last.PeakSpeed)
	return s.result(), nil
}
