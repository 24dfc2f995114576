package scenario

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"blockdem.dev/internal/sim/dem"
)

const minimal = `
name: one-block
materials:
  - {id: rock, density: 2600, friction_deg: 30, kn: 1.0e9, ks: 1.0e9}
blocks:
  - {id: 0, material: rock, box: {min: [0, 0, 0], max: [1, 2, 3]}}
`

func TestParse_MinimalDefaults(t *testing.T) {
	sc, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	in, err := sc.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(in.Blocks) != 1 || in.Blocks[0].MaterialID != "rock" {
		t.Fatalf("blocks=%+v", in.Blocks)
	}
	if got := in.Blocks[0].Mass; got < 2600*6-1e-6 || got > 2600*6+1e-6 {
		t.Fatalf("mass=%v want %v", got, 2600*6)
	}
	c := in.Config
	if c.Gravity[2] != -9.81 || !c.IncludeRotation || !c.UseMultithreading {
		t.Fatalf("defaults not applied: %+v", c)
	}
}

func TestBuild_JointSetPorePressure(t *testing.T) {
	doc := minimal + `
joint_sets:
  - {id: wet, dip_deg: 0, dip_dir_deg: 0, friction_deg: 20, kn: 1.0e8, ks: 1.0e8, pore_pressure: 1.5e5}
  - {id: dry, dip_deg: 90, dip_dir_deg: 0, friction_deg: 20, kn: 1.0e8, ks: 1.0e8}
`
	sc, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	in, err := sc.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if u := in.JointSets["wet"].PorePressure; u == nil || *u != 1.5e5 {
		t.Fatalf("wet pore pressure = %v", u)
	}
	if in.JointSets["dry"].PorePressure != nil {
		t.Fatalf("dry joint set got a supplied pore pressure")
	}

	if _, err := Parse([]byte(minimal + `
joint_sets:
  - {id: bad, dip_deg: 0, dip_dir_deg: 0, friction_deg: 20, kn: 1.0e8, ks: 1.0e8, pore_pressure: -1}
`)); err == nil {
		t.Fatalf("negative pore pressure accepted")
	}
}

func TestValidate_RejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"unknown field": minimal + "\nbogus: 1\n",
		"bad mode": `
materials: [{id: rock, density: 1, friction_deg: 30, kn: 1, ks: 1}]
simulation: {mode: sideways}
blocks: [{id: 0, material: rock, box: {min: [0,0,0], max: [1,1,1]}}]
`,
		"box and vertices": `
materials: [{id: rock, density: 1, friction_deg: 30, kn: 1, ks: 1}]
blocks: [{id: 0, material: rock, box: {min: [0,0,0], max: [1,1,1]}, vertices: [[0,0,0]], faces: [[0,0,0]]}]
`,
		"no geometry": `
materials: [{id: rock, density: 1, friction_deg: 30, kn: 1, ks: 1}]
blocks: [{id: 0, material: rock}]
`,
		"negative stiffness": `
materials: [{id: rock, density: 1, friction_deg: 30, kn: -1, ks: 1}]
blocks: [{id: 0, material: rock, box: {min: [0,0,0], max: [1,1,1]}}]
`,
		"not yaml": "blocks: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestBuild_SemanticErrors(t *testing.T) {
	cases := map[string]string{
		"unknown material": `
materials: [{id: rock, density: 1, friction_deg: 30, kn: 1, ks: 1}]
blocks: [{id: 0, material: clay, box: {min: [0,0,0], max: [1,1,1]}}]
`,
		"unknown joint set": `
materials: [{id: rock, density: 1, friction_deg: 30, kn: 1, ks: 1}]
blocks: [{id: 0, material: rock, joint_sets: [bedding], box: {min: [0,0,0], max: [1,1,1]}}]
`,
		"face out of range": `
materials: [{id: rock, density: 1, friction_deg: 30, kn: 1, ks: 1}]
blocks: [{id: 0, material: rock, vertices: [[0,0,0],[1,0,0],[0,1,0]], faces: [[0,1,7]]}]
`,
		"inverted box": `
materials: [{id: rock, density: 1, friction_deg: 30, kn: 1, ks: 1}]
blocks: [{id: 0, material: rock, box: {min: [0,0,0], max: [1,-1,1]}}]
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			sc, err := Parse([]byte(doc))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if _, err := sc.Build(); err == nil {
				t.Fatalf("expected build error")
			}
		})
	}
}

func TestShippedScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("..", "..", "..", "configs", "scenarios", "*.yaml"))
	if err != nil || len(paths) == 0 {
		t.Fatalf("no scenarios found: %v", err)
	}
	for _, p := range paths {
		sc, err := Load(p)
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		in, err := sc.Build()
		if err != nil {
			t.Fatalf("%s: build: %v", p, err)
		}
		if _, err := dem.New(in.Config, in.Blocks, in.Materials, in.JointSets); err != nil {
			t.Fatalf("%s: dem.New: %v", p, err)
		}
	}
}

func TestStackedCubesScenarioConverges(t *testing.T) {
	sc, err := Load(filepath.Join("..", "..", "..", "configs", "scenarios", "stacked_cubes.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	in, err := sc.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	s, err := dem.New(in.Config, in.Blocks, in.Materials, in.JointSets)
	if err != nil {
		t.Fatalf("dem.New: %v", err)
	}
	res, err := s.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Converged {
		t.Fatalf("status=%s peak=%v", res.Status, res.PeakSpeed)
	}
}

func TestLoad_ErrorNamesFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	path := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(path, []byte("blocks: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "broken.yaml") {
		t.Fatalf("error should name the file: %v", err)
	}
}
