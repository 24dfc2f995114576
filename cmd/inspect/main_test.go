package main

import (
	"bytes"
	"strings"
	"testing"

	"blockdem.dev/internal/persistence/snapshot"
	"blockdem.dev/internal/sim/contact"
)

func TestPrintSnapshot(t *testing.T) {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{Version: snapshot.Version, RunID: "r1", Scenario: "wedge", Step: 12000, Time: 1.2},
		Blocks: []snapshot.BlockV1{
			{ID: 0, Fixed: true},
			{ID: 1, MaxDisplacement: 0.25},
			{ID: 2, MaxDisplacement: 0.01},
		},
		Contacts: []snapshot.ContactV1{
			{A: 0, B: 1, State: uint8(contact.StateSliding)},
			{A: 1, B: 2, State: uint8(contact.StateSeparated), Opened: true},
			{A: 0, B: 2, State: uint8(contact.StateSticking)},
		},
	}
	var buf bytes.Buffer
	printSnapshot(&buf, "x.snap.zst", nil, snap, 2)
	out := buf.String()
	for _, want := range []string{
		"run       r1 (wedge)",
		"step      12,000",
		"contacts  3 [separated=1 sliding=1 sticking=1] opened=1",
		"block 1 ",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "block 0 ") {
		t.Fatalf("top=2 should list only the two largest displacements:\n%s", out)
	}
}
