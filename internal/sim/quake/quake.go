// Package quake turns an earthquake description into a ground acceleration field that
// varies with distance from the hypocenter and time since wave arrival.
package quake

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"
)

type TimeFunction string

const (
	Sinusoid    TimeFunction = "sinusoid"
	Ricker      TimeFunction = "ricker"
	Noise       TimeFunction = "noise"
	KanaiTajimi TimeFunction = "kanai_tajimi"
)

const (
	StandardGravity = 9.81
	// ReferenceDistance is where the magnitude relation gives PGA directly (1 km).
	ReferenceDistance = 1000.0

	seriesDt      = 0.005
	noiseTerms    = 24
	kanaiTajimiZg = 0.6
)

// Load is one earthquake. Zero-valued optional fields are filled by Prepare.
type Load struct {
	ID        string
	Epicenter mgl64.Vec3 // ground-surface epicenter, m
	Depth     float64    // m below Epicenter
	Magnitude float64
	StartTime float64 // s, origin time
	Duration  float64 // s of strong shaking; derived from magnitude when zero
	Frequency float64 // dominant Hz
	Vp        float64
	Vs        float64
	Q         float64
	// FrequencyDependentQ scales material attenuation by π·f, the usual form when Q is
	// a quality factor per cycle. Off: exp(−r/(Q·Vs)).
	FrequencyDependentQ bool
	Function            TimeFunction
	// Direction fixes the shaking direction; zero means horizontal radial.
	Direction mgl64.Vec3
	Seed      int64

	// Series optionally supplies a normalised accelerogram sampled every SeriesDt seconds
	// from arrival; it overrides Function.
	Series   []float64
	SeriesDt float64

	PGA float64 // m/s² at ReferenceDistance
	PGV float64
	PGD float64

	prepared bool
}

// Prepare applies defaults, validates, derives peak ground motion and precomputes the
// stochastic series. It must be called before Acceleration.
func (l *Load) Prepare() error {
	if l.Frequency == 0 {
		l.Frequency = 2
	}
	if l.Vs == 0 {
		l.Vs = 3500
	}
	if l.Vp == 0 {
		l.Vp = l.Vs * math.Sqrt(3)
	}
	if l.Q == 0 {
		l.Q = 100
	}
	if l.Function == "" {
		l.Function = Sinusoid
	}
	if l.Duration == 0 {
		l.Duration = math.Pow(10, 0.32*l.Magnitude-0.7)
	}
	if err := l.validate(); err != nil {
		return fmt.Errorf("earthquake %q: %w", l.ID, err)
	}

	l.PGA = math.Pow(10, 0.3*l.Magnitude-2.3) * StandardGravity
	w := 2 * math.Pi * l.Frequency
	l.PGV = l.PGA / w
	l.PGD = l.PGV / w

	if len(l.Series) == 0 {
		switch l.Function {
		case Noise:
			l.Series, l.SeriesDt = noiseSeries(l.Frequency, l.Duration, l.Seed), seriesDt
		case KanaiTajimi:
			l.Series, l.SeriesDt = kanaiTajimiSeries(l.Frequency, l.Duration, l.Seed), seriesDt
		}
	}
	l.prepared = true
	return nil
}

func (l *Load) validate() error {
	switch {
	case !(l.Magnitude > 0 && l.Magnitude <= 10):
		return fmt.Errorf("magnitude %v out of range (0,10]", l.Magnitude)
	case l.Depth < 0:
		return errors.New("depth must be >= 0")
	case l.Duration <= 0:
		return errors.New("duration must be > 0")
	case l.Frequency <= 0 || l.Vs <= 0 || l.Vp <= 0 || l.Q <= 0:
		return errors.New("frequency, wave speeds and Q must be > 0")
	case len(l.Series) > 0 && l.SeriesDt <= 0:
		return errors.New("series_dt must be > 0 when a series is given")
	}
	switch l.Function {
	case Sinusoid, Ricker, Noise, KanaiTajimi:
	default:
		return fmt.Errorf("unknown time function %q", l.Function)
	}
	return nil
}

func (l *Load) Hypocenter() mgl64.Vec3 {
	return l.Epicenter.Sub(mgl64.Vec3{0, 0, l.Depth})
}

// ArrivalTime is when shear waves reach p.
func (l *Load) ArrivalTime(p mgl64.Vec3) float64 {
	return l.StartTime + p.Sub(l.Hypocenter()).Len()/l.Vs
}

// Acceleration is the ground acceleration at p and time t.
func (l *Load) Acceleration(p mgl64.Vec3, t float64) mgl64.Vec3 {
	if !l.prepared {
		return mgl64.Vec3{}
	}
	r := p.Sub(l.Hypocenter()).Len()
	tau := t - (l.StartTime + r/l.Vs)
	if tau < 0 || tau > l.Duration {
		return mgl64.Vec3{}
	}
	amp := l.PGA * l.attenuation(r) * l.envelope(tau) * l.shape(tau)
	if amp == 0 {
		return mgl64.Vec3{}
	}
	return l.direction(p).Mul(amp)
}

func (l *Load) attenuation(r float64) float64 {
	geo := 1.0
	if r > ReferenceDistance {
		geo = ReferenceDistance / r
	}
	k := 1.0
	if l.FrequencyDependentQ {
		k = math.Pi * l.Frequency
	}
	return geo * math.Exp(-k*r/(l.Q*l.Vs))
}

// envelope rises quadratically, holds, then decays exponentially to the end of shaking.
func (l *Load) envelope(tau float64) float64 {
	d := l.Duration
	tr, tp := 0.15*d, 0.55*d
	switch {
	case tau < 0 || tau > d:
		return 0
	case tau < tr:
		x := tau / tr
		return x * x
	case tau <= tp:
		return 1
	default:
		return math.Exp(-3 * (tau - tp) / (d - tp))
	}
}

func (l *Load) shape(tau float64) float64 {
	if len(l.Series) > 0 {
		return sample(l.Series, l.SeriesDt, tau)
	}
	switch l.Function {
	case Ricker:
		period := 1 / l.Frequency
		x := math.Pi * l.Frequency * (math.Mod(tau, period) - period/2)
		return (1 - 2*x*x) * math.Exp(-x*x)
	default:
		return math.Sin(2 * math.Pi * l.Frequency * tau)
	}
}

func (l *Load) direction(p mgl64.Vec3) mgl64.Vec3 {
	if l.Direction.Len() > 0 {
		return l.Direction.Normalize()
	}
	d := mgl64.Vec3{p[0] - l.Epicenter[0], p[1] - l.Epicenter[1], 0}
	if d.Len() < 1e-9 {
		return mgl64.Vec3{1, 0, 0}
	}
	return d.Normalize()
}

func sample(series []float64, dt, tau float64) float64 {
	x := tau / dt
	i := int(math.Floor(x))
	if i < 0 || i >= len(series) {
		return 0
	}
	if i == len(series)-1 {
		return series[i]
	}
	f := x - float64(i)
	return series[i]*(1-f) + series[i+1]*f
}

func samples(duration float64) int {
	return int(math.Ceil(duration/seriesDt)) + 1
}

func noiseSeries(freq, duration float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	type term struct{ w, phase float64 }
	terms := make([]term, noiseTerms)
	for i := range terms {
		f := freq * (0.5 + 1.5*rng.Float64())
		terms[i] = term{w: 2 * math.Pi * f, phase: 2 * math.Pi * rng.Float64()}
	}
	out := make([]float64, samples(duration))
	for k := range out {
		t := float64(k) * seriesDt
		var s float64
		for _, tm := range terms {
			s += math.Sin(tm.w*t + tm.phase)
		}
		out[k] = s
	}
	return normalizePeak(out)
}

// kanaiTajimiSeries filters seeded white noise through a damped ground oscillator and
// returns its absolute acceleration.
func kanaiTajimiSeries(freq, duration float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	wg := 2 * math.Pi * freq
	zg := kanaiTajimiZg
	out := make([]float64, samples(duration))
	var x, v float64
	for k := range out {
		w := rng.NormFloat64()
		a := -w - 2*zg*wg*v - wg*wg*x
		v += a * seriesDt
		x += v * seriesDt
		out[k] = -(2*zg*wg*v + wg*wg*x)
	}
	return normalizePeak(out)
}

func normalizePeak(s []float64) []float64 {
	var peak float64
	for _, v := range s {
		peak = math.Max(peak, math.Abs(v))
	}
	if peak == 0 {
		return s
	}
	for i := range s {
		s[i] /= peak
	}
	return s
}
