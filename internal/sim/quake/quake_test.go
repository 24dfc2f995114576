package quake

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func prepared(t *testing.T, l Load) *Load {
	t.Helper()
	if err := l.Prepare(); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	return &l
}

func TestDerivedValues_M6(t *testing.T) {
	l := prepared(t, Load{Magnitude: 6})
	if want := math.Pow(10, -0.5) * StandardGravity; math.Abs(l.PGA-want) > 1e-12 {
		t.Fatalf("PGA=%v want %v", l.PGA, want)
	}
	if want := math.Pow(10, 1.22); math.Abs(l.Duration-want) > 1e-9 {
		t.Fatalf("duration=%v want %v", l.Duration, want)
	}
	if l.PGV <= 0 || l.PGD <= 0 || l.PGD >= l.PGV {
		t.Fatalf("PGV=%v PGD=%v", l.PGV, l.PGD)
	}
}

func TestAcceleration_ZeroBeforeArrival_M6At10km(t *testing.T) {
	l := prepared(t, Load{Magnitude: 6, Frequency: 2, Vs: 3500})
	p := mgl64.Vec3{10000, 0, 0}
	arrival := l.ArrivalTime(p)
	if math.Abs(arrival-10000.0/3500) > 1e-12 {
		t.Fatalf("arrival=%v", arrival)
	}
	for _, tt := range []float64{0, 1, arrival - 0.01} {
		if a := l.Acceleration(p, tt); a != (mgl64.Vec3{}) {
			t.Fatalf("t=%v: acceleration %v before arrival", tt, a)
		}
	}
	a := l.Acceleration(p, arrival+0.05)
	if a.Len() == 0 {
		t.Fatalf("no shaking after arrival")
	}
	if a[2] != 0 || a[1] != 0 {
		t.Fatalf("shaking must be horizontal radial, got %v", a)
	}
	if a := l.Acceleration(p, arrival+l.Duration+0.01); a != (mgl64.Vec3{}) {
		t.Fatalf("shaking after duration: %v", a)
	}
}

func TestAcceleration_AttenuatesWithDistance(t *testing.T) {
	l := prepared(t, Load{Magnitude: 6, Function: Sinusoid, Direction: mgl64.Vec3{1, 0, 0}})
	peak := func(r float64) float64 {
		p := mgl64.Vec3{r, 0, 0}
		start := l.ArrivalTime(p)
		var m float64
		for k := 0; k < 2000; k++ {
			m = math.Max(m, l.Acceleration(p, start+float64(k)*0.005).Len())
		}
		return m
	}
	near, far := peak(2000), peak(20000)
	if !(near > far && far > 0) {
		t.Fatalf("near=%v far=%v", near, far)
	}
	if near > l.PGA {
		t.Fatalf("near=%v exceeds PGA %v", near, l.PGA)
	}
}

func TestAttenuation_Forms(t *testing.T) {
	l := prepared(t, Load{Magnitude: 6, Frequency: 2, Vs: 3500, Q: 100})
	r := 10000.0
	if got, want := l.attenuation(r), 0.1*math.Exp(-r/(100*3500)); math.Abs(got-want) > 1e-12 {
		t.Fatalf("attenuation=%v want %v", got, want)
	}
	if got := l.attenuation(500); math.Abs(got-math.Exp(-500.0/(100*3500))) > 1e-12 {
		t.Fatalf("no geometric spreading inside the reference distance, got %v", got)
	}

	l.FrequencyDependentQ = true
	if got, want := l.attenuation(r), 0.1*math.Exp(-math.Pi*2*r/(100*3500)); math.Abs(got-want) > 1e-12 {
		t.Fatalf("frequency-dependent attenuation=%v want %v", got, want)
	}
}

func TestTimeFunctions_BoundedAndDeterministic(t *testing.T) {
	for _, fn := range []TimeFunction{Sinusoid, Ricker, Noise, KanaiTajimi} {
		a := prepared(t, Load{Magnitude: 5, Function: fn, Seed: 7})
		b := prepared(t, Load{Magnitude: 5, Function: fn, Seed: 7})
		p := mgl64.Vec3{0, 500, 0}
		arrival := a.ArrivalTime(p)
		nonzero := false
		for k := 0; k < 400; k++ {
			tt := arrival + float64(k)*0.0123
			va, vb := a.Acceleration(p, tt), b.Acceleration(p, tt)
			if va != vb {
				t.Fatalf("%s: not deterministic at t=%v", fn, tt)
			}
			if va.Len() > a.PGA*(1+1e-9) {
				t.Fatalf("%s: |a|=%v exceeds PGA %v", fn, va.Len(), a.PGA)
			}
			if va.Len() > 0 {
				nonzero = true
			}
		}
		if !nonzero {
			t.Fatalf("%s: no shaking", fn)
		}
	}
}

func TestAcceleration_FallbackDirectionAboveEpicenter(t *testing.T) {
	l := prepared(t, Load{Magnitude: 5, Depth: 1000})
	p := mgl64.Vec3{0, 0, 0}
	a := l.Acceleration(p, l.ArrivalTime(p)+0.1)
	if a[1] != 0 || a[2] != 0 || a[0] == 0 {
		t.Fatalf("want fallback x direction, got %v", a)
	}
}

func TestPrepare_RejectsBadInput(t *testing.T) {
	for _, l := range []Load{
		{Magnitude: 0},
		{Magnitude: 6, Depth: -1},
		{Magnitude: 6, Function: "square"},
		{Magnitude: 6, Series: []float64{0, 1}},
	} {
		if err := l.Prepare(); err == nil {
			t.Fatalf("expected error for %+v", l)
		}
	}
}
