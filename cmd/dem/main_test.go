package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"blockdem.dev/internal/sim/dem"
	"blockdem.dev/internal/sim/scenario"
)

func TestLatestCheckpoint(t *testing.T) {
	dir := t.TempDir()
	if got := latestCheckpoint(dir); got != "" {
		t.Fatalf("empty run dir: got %q", got)
	}
	ckpt := filepath.Join(dir, "checkpoints")
	if err := os.MkdirAll(ckpt, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"100.snap.zst", "2000.snap.zst", "300.snap.zst", "notes.txt", "x.snap.zst"} {
		if err := os.WriteFile(filepath.Join(ckpt, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if got, want := latestCheckpoint(dir), filepath.Join(ckpt, "2000.snap.zst"); got != want {
		t.Fatalf("latest=%q want %q", got, want)
	}
}

type recordingLogger struct {
	recs []dem.HistoryRecord
	err  error
}

func (r *recordingLogger) WriteHistory(rec dem.HistoryRecord) error {
	r.recs = append(r.recs, rec)
	return r.err
}

func TestMultiHistoryLogger_FansOut(t *testing.T) {
	failing := &recordingLogger{err: errors.New("disk full")}
	ok := &recordingLogger{}
	m := multiHistoryLogger{failing, nil, ok}
	if err := m.WriteHistory(dem.HistoryRecord{Step: 7}); err == nil {
		t.Fatalf("expected first error surfaced")
	}
	if len(ok.recs) != 1 || ok.recs[0].Step != 7 {
		t.Fatalf("healthy sink starved: %+v", ok.recs)
	}
}

func TestOpenRuntimeIndex_Disabled(t *testing.T) {
	idx, err := openRuntimeIndex(t.TempDir(), true)
	if err != nil || idx != nil {
		t.Fatalf("disabled index: idx=%v err=%v", idx, err)
	}
	t.Setenv("DEM_INDEX_BACKEND", "postgres")
	if _, err := openRuntimeIndex(t.TempDir(), false); err == nil {
		t.Fatalf("expected unsupported backend error")
	}
}

func TestPosesAndSummary(t *testing.T) {
	sc, err := scenario.Load(filepath.Join("..", "..", "configs", "scenarios", "stacked_cubes.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	in, err := sc.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sim, err := dem.New(in.Config, in.Blocks, in.Materials, in.JointSets)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var ids []int
	for _, b := range in.Blocks {
		ids = append(ids, b.ID)
	}
	ps := poses(sim, append(ids, 9999))
	if len(ps) != len(ids) {
		t.Fatalf("poses=%d want %d", len(ps), len(ids))
	}
	for _, p := range ps {
		if p.Rot[0] != 1 {
			t.Fatalf("block %d not at identity orientation: %v", p.ID, p.Rot)
		}
	}

	sim.StepOnce()
	path := filepath.Join(t.TempDir(), "out", "result.json")
	if err := writeSummary(path, &dem.Result{RunID: "r", Status: dem.StatusExhausted, Steps: 1}); err != nil {
		t.Fatalf("writeSummary: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("summary not json: %v", err)
	}
	if got["status"] != "exhausted" || got["run_id"] != "r" {
		t.Fatalf("summary=%v", got)
	}
}
