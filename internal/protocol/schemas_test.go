package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"blockdem.dev/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	// Round-trip through JSON so the validator sees the wire form.
	validate := func(s *jsonschema.Schema, msg any) {
		t.Helper()
		b, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate %s: %v", b, err)
		}
	}

	validate(compile("subscribe.schema.json"), protocol.SubscribeMsg{
		Type:            protocol.TypeSubscribe,
		ProtocolVersion: protocol.Version,
		Frames:          true,
		FrameEvery:      5,
	})

	validate(compile("progress.schema.json"), protocol.ProgressMsg{
		Type:            protocol.TypeProgress,
		ProtocolVersion: protocol.Version,
		RunID:           "r1",
		Step:            100,
		Time:            0.01,
		PeakSpeed:       0.2,
		ActiveContacts:  3,
	})

	validate(compile("frame.schema.json"), protocol.FrameMsg{
		Type:            protocol.TypeFrame,
		ProtocolVersion: protocol.Version,
		RunID:           "r1",
		Step:            100,
		Blocks: []protocol.BlockPose{
			{ID: 0, Pos: [3]float64{0, 0, -0.5}, Rot: [4]float64{1, 0, 0, 0}, Fixed: true},
			{ID: 1, Pos: [3]float64{0, 0, 0.5}, Rot: [4]float64{1, 0, 0, 0}},
		},
	})

	validate(compile("done.schema.json"), protocol.DoneMsg{
		Type:            protocol.TypeDone,
		ProtocolVersion: protocol.Version,
		RunID:           "r1",
		Status:          "converged",
		Converged:       true,
		Steps:           17,
		FailedBlocks:    []int{},
	})
}

func TestSchemas_RejectUnknownFields(t *testing.T) {
	s, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", "progress.schema.json"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	var v any
	_ = json.Unmarshal([]byte(`{"type":"PROGRESS","protocol_version":"1.0","run_id":"r","step":1,"time":0,"peak_speed":0,"mean_speed":0,"kinetic_energy":0,"max_displacement":0,"unbalanced_ratio":0,"active_contacts":0,"sliding_contacts":0,"separated_contacts":0,"tick":5}`), &v)
	if err := s.Validate(v); err == nil {
		t.Fatalf("expected unknown field rejected")
	}
}
