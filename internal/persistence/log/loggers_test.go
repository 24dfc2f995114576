package log

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"blockdem.dev/internal/sim/dem"
)

func TestHistoryLogger_RoundTripAcrossRotation(t *testing.T) {
	dir := t.TempDir()
	l := NewHistoryLogger(dir)
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	for i := 1; i <= 3; i++ {
		if err := l.WriteHistory(dem.HistoryRecord{Step: uint64(i * 100), PeakSpeed: 1 / float64(i)}); err != nil {
			t.Fatalf("WriteHistory: %v", err)
		}
	}
	clock = clock.Add(2 * time.Minute)
	if err := l.WriteHistory(dem.HistoryRecord{Step: 400}); err != nil {
		t.Fatalf("WriteHistory: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	recs, err := ReadHistory(dir)
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("records=%d want 4", len(recs))
	}
	for i, r := range recs {
		if r.Step != uint64((i+1)*100) {
			t.Fatalf("record %d step=%d", i, r.Step)
		}
	}
}

func TestHistoryLogger_ReopenAppends(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 1; i <= 2; i++ {
		l := NewHistoryLogger(dir)
		l.w.now = func() time.Time { return clock }
		if err := l.WriteHistory(dem.HistoryRecord{Step: uint64(i)}); err != nil {
			t.Fatalf("WriteHistory: %v", err)
		}
		_ = l.Close()
	}
	recs, err := ReadHistory(dir)
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records=%d want 2", len(recs))
	}
}

func TestContactLogger_WritesResult(t *testing.T) {
	dir := t.TempDir()
	l := NewContactLogger(dir)
	res := &dem.Result{
		RunID: "r1",
		Contacts: []dem.ContactResult{
			{A: 0, B: 1, State: "sliding", Normal: mgl64.Vec3{0, 0, 1}, NormalForce: 10},
			{A: 1, B: 2, State: "separated", Opened: true},
		},
	}
	if err := l.WriteResult(res); err != nil {
		t.Fatalf("WriteResult: %v", err)
	}
	_ = l.Close()

	var got []ContactEntry
	err := ReadJSONL(dir+"/contacts", "contacts", func(line []byte) error {
		var e ContactEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	if len(got) != 2 || got[0].State != "sliding" || got[0].Normal[2] != 1 || !got[1].Opened {
		t.Fatalf("entries=%+v", got)
	}
}
