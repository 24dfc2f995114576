package contact

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"blockdem.dev/internal/sim/block"
)

func cubes() (*block.Block, *block.Block) {
	a := block.NewBox(0, mgl64.Vec3{0, 0, 0}, mgl64.Vec3{1, 1, 1}, 2600)
	b := block.NewBox(1, mgl64.Vec3{0, 0, 0.999}, mgl64.Vec3{1, 1, 1.999}, 2600)
	return a, b
}

func testParams() Params {
	return Params{Kn: 1e9, Ks: 1e9, FrictionDeg: 30, Cohesion: 1e4, Tensile: 0}
}

func newContact(pen float64) *Interface {
	c := New(MakeKey(0, 1), testParams(), 0)
	c.Update(mgl64.Vec3{0.5, 0.5, 1}, mgl64.Vec3{0, 0, 1}, pen, 1, 0)
	return c
}

func TestMakeKey_Ordered(t *testing.T) {
	if MakeKey(5, 2) != (PairKey{A: 2, B: 5}) || MakeKey(2, 5) != (PairKey{A: 2, B: 5}) {
		t.Fatalf("keys not canonical")
	}
}

func TestResolve_ShearBoundedByMohrCoulomb(t *testing.T) {
	a, b := cubes()
	b.Velocity = mgl64.Vec3{1, 0, 0}
	c := newContact(1e-3)
	for i := 0; i < 50; i++ {
		c.Resolve(a, b, 1e-3, PoreModel{})
	}
	p := c.Params
	n := p.Kn * (c.Penetration + c.DilationDisp) * c.Area
	fmax := p.Cohesion*c.Area + n*math.Tan(p.FrictionDeg*math.Pi/180)
	if c.ShearForce > fmax*(1+1e-12) {
		t.Fatalf("shear %v exceeds strength %v", c.ShearForce, fmax)
	}
	if c.State != StateSliding {
		t.Fatalf("state=%v want sliding", c.State)
	}
	if c.Force[0] >= 0 {
		t.Fatalf("shear force on B must oppose its motion, got %v", c.Force)
	}
}

func TestResolve_SmallSlipSticks(t *testing.T) {
	a, b := cubes()
	b.Velocity = mgl64.Vec3{1e-9, 0, 0}
	c := newContact(1e-3)
	c.Resolve(a, b, 1e-3, PoreModel{})
	if c.State != StateSticking {
		t.Fatalf("state=%v want sticking", c.State)
	}
}

func TestResolve_DilationGrowsWhileSliding(t *testing.T) {
	a, b := cubes()
	b.Velocity = mgl64.Vec3{1, 0, 0}
	c := newContact(1e-3)
	c.Params.DilationDeg = 10
	c.Resolve(a, b, 1e-3, PoreModel{})
	if c.DilationDisp <= 0 {
		t.Fatalf("dilation=%v want > 0", c.DilationDisp)
	}
}

func TestResolve_TensileOpening(t *testing.T) {
	a, b := cubes()
	c := newContact(-1e-6)
	c.Params.Tensile = 1e5 // opens above a 1e-4 m gap
	c.Resolve(a, b, 1e-3, PoreModel{})
	if c.State == StateSeparated {
		t.Fatalf("gap within tensile strength should hold")
	}
	if c.NormalForce >= 0 {
		t.Fatalf("normal force %v want tensile", c.NormalForce)
	}

	c.Update(c.Point, c.Normal, -1e-3, 1, 1)
	c.Resolve(a, b, 1e-3, PoreModel{})
	if c.State != StateSeparated || !c.Opened {
		t.Fatalf("state=%v opened=%v want separated", c.State, c.Opened)
	}
	if c.Force != (mgl64.Vec3{}) || c.NormalForce != 0 || c.ShearForce != 0 {
		t.Fatalf("separated contact carries force %v", c.Force)
	}

	// Separated contacts stay inert.
	c.Update(c.Point, c.Normal, 1e-3, 1, 2)
	c.Resolve(a, b, 1e-3, PoreModel{})
	if c.Force != (mgl64.Vec3{}) {
		t.Fatalf("separated contact resolved force")
	}
}

func TestPoreModel_OnlyBelowTable(t *testing.T) {
	p := PoreModel{Enabled: true, WaterTableZ: 10, WaterDensity: 1000, Gravity: 9.81}
	if u, sub := p.Pressure(10.5); u != 0 || sub {
		t.Fatalf("above table: u=%v submerged=%v", u, sub)
	}
	if u, sub := p.Pressure(8); !sub || math.Abs(u-1000*9.81*2) > 1e-9 {
		t.Fatalf("below table: u=%v submerged=%v", u, sub)
	}
	if u, _ := (PoreModel{WaterTableZ: 10, WaterDensity: 1000, Gravity: 9.81}).Pressure(0); u != 0 {
		t.Fatalf("disabled model returned %v", u)
	}
}

func TestResolve_PorePressureOnlyReducesStrength(t *testing.T) {
	run := func(pore PoreModel) *Interface {
		a, b := cubes()
		b.Velocity = mgl64.Vec3{1, 0, 0}
		c := newContact(1e-4)
		c.Params.Cohesion = 0
		c.Resolve(a, b, 1e-2, pore)
		return c
	}
	dry := run(PoreModel{})
	wet := run(PoreModel{Enabled: true, WaterTableZ: 5, WaterDensity: 1000, Gravity: 9.81})
	if !wet.Submerged || wet.PorePressure <= 0 {
		t.Fatalf("expected submerged contact, u=%v", wet.PorePressure)
	}
	if wet.ShearForce > dry.ShearForce {
		t.Fatalf("pore pressure raised shear strength: wet=%v dry=%v", wet.ShearForce, dry.ShearForce)
	}
	if wet.NormalForce != dry.NormalForce {
		t.Fatalf("pore pressure must not change the normal force")
	}

	// Very high pore pressure clamps the effective stress at zero.
	a, b := cubes()
	b.Velocity = mgl64.Vec3{1, 0, 0}
	c := newContact(1e-4)
	c.Params.Cohesion = 0
	u := 1e12
	c.Params.PorePressure = &u
	c.Resolve(a, b, 1e-2, PoreModel{})
	if c.ShearForce != 0 {
		t.Fatalf("shear=%v want 0 at zero effective stress", c.ShearForce)
	}
}

func TestShearHistory_PersistsAndResetsOnReopen(t *testing.T) {
	a, b := cubes()
	b.Velocity = mgl64.Vec3{1e-6, 0, 0}
	c := newContact(1e-3)
	c.Resolve(a, b, 1e-3, PoreModel{})
	first := c.ShearDisp
	c.Update(c.Point, c.Normal, 1e-3, 1, 1)
	c.Resolve(a, b, 1e-3, PoreModel{})
	if c.ShearDisp.Len() <= first.Len() {
		t.Fatalf("shear history not accumulated: %v then %v", first, c.ShearDisp)
	}

	c.State = StateSeparated
	c.Reopen(testParams(), 2)
	if c.ShearDisp != (mgl64.Vec3{}) || c.DilationDisp != 0 || c.Opened {
		t.Fatalf("reopen kept history: %+v", c)
	}
}

func TestResolve_SuppliedPorePressure(t *testing.T) {
	a, b := cubes()
	supplied := 2e5
	table := PoreModel{Enabled: true, WaterTableZ: 10, WaterDensity: 1000, Gravity: 9.81}

	c := newContact(1e-3)
	c.Params.PorePressure = &supplied
	c.Resolve(a, b, 1e-3, table)
	if !c.Submerged || c.PorePressure != supplied {
		t.Fatalf("u=%v submerged=%v, want supplied %v", c.PorePressure, c.Submerged, supplied)
	}

	// Reopening with parameters that carry no supplied value falls back to the table.
	c.State = StateSeparated
	c.Reopen(testParams(), 1)
	if c.PorePressure != 0 || c.Submerged {
		t.Fatalf("reopen kept pore pressure %v", c.PorePressure)
	}
	c.Update(c.Point, c.Normal, 1e-3, 1, 1)
	c.Resolve(a, b, 1e-3, table)
	want, _ := table.Pressure(c.Point[2])
	if c.PorePressure != want {
		t.Fatalf("u=%v want water-table %v", c.PorePressure, want)
	}
}

func TestParamsFromJoint_CarriesPorePressure(t *testing.T) {
	u := 5e4
	p := ParamsFromJoint(JointSet{ID: "j", PorePressure: &u})
	if p.PorePressure == nil || *p.PorePressure != u {
		t.Fatalf("pore pressure lost: %+v", p)
	}
}

func TestUpdate_ReprojectsShearWhenNormalRotates(t *testing.T) {
	c := newContact(1e-3)
	c.ShearDisp = mgl64.Vec3{1e-3, 0, 0}
	n := mgl64.Vec3{1, 0, 1}.Normalize()
	c.Update(c.Point, n, 1e-3, 1, 1)
	if math.Abs(c.ShearDisp.Dot(n)) > 1e-15 {
		t.Fatalf("shear displacement not tangential: %v", c.ShearDisp)
	}
}

func TestParamsFor_JointSetMatchAndMaterialFallback(t *testing.T) {
	granite := Material{ID: "granite", FrictionDeg: 40, Cohesion: 2e5, Tensile: 1e5, Kn: 5e9, Ks: 2e9}
	shale := Material{ID: "shale", FrictionDeg: 25, Cohesion: 5e4, Tensile: 2e4, Kn: 1e9, Ks: 5e8}
	joints := map[string]JointSet{
		"bedding": {ID: "bedding", DipDeg: 0, FrictionDeg: 20, Kn: 1e8, Ks: 1e8},
	}
	up := mgl64.Vec3{0, 0, 1}

	p := ParamsFor(granite, shale, []string{"bedding"}, []string{"bedding"}, joints, up, 15)
	if p.JointSetID != "bedding" || p.FrictionDeg != 20 {
		t.Fatalf("expected bedding parameters, got %+v", p)
	}

	steep := mgl64.Vec3{1, 0, 1}.Normalize()
	p = ParamsFor(granite, shale, []string{"bedding"}, []string{"bedding"}, joints, steep, 15)
	if p.JointSetID != "" {
		t.Fatalf("45° off the joint pole must not match: %+v", p)
	}
	want := Params{Kn: 1e9, Ks: 5e8, FrictionDeg: 25, Cohesion: 5e4, Tensile: 2e4}
	if p != want {
		t.Fatalf("got %+v want %+v", p, want)
	}

	p = ParamsFor(granite, shale, []string{"bedding"}, nil, joints, up, 15)
	if p.JointSetID != "" {
		t.Fatalf("joint set not shared by both blocks must not match")
	}
}
