package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version  int     `json:"version"`
	RunID    string  `json:"run_id"`
	Scenario string  `json:"scenario,omitempty"`
	Step     uint64  `json:"step"`
	Time     float64 `json:"time"`
	Blocks   int     `json:"blocks"`
	Contacts int     `json:"contacts"`

	KineticEnergy float64 `json:"kinetic_energy"`
}

// SnapshotV1 is a resumable checkpoint of the simulator's mutable state. Geometry and
// materials are not included; they come from the scenario on resume.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Blocks   []BlockV1   `json:"blocks"`
	Contacts []ContactV1 `json:"contacts"`
}

type BlockV1 struct {
	ID              int        `json:"id"`
	Position        [3]float64 `json:"position"`
	Orientation     [4]float64 `json:"orientation"` // w, x, y, z
	Velocity        [3]float64 `json:"velocity"`
	AngularVelocity [3]float64 `json:"angular_velocity"`
	InitialPosition [3]float64 `json:"initial_position"`
	Displacement    float64    `json:"displacement"`
	MaxDisplacement float64    `json:"max_displacement"`
	Fixed           bool       `json:"fixed,omitempty"`
}

type ContactV1 struct {
	A            int        `json:"a"`
	B            int        `json:"b"`
	State        uint8      `json:"state"`
	Point        [3]float64 `json:"point"`
	Normal       [3]float64 `json:"normal"`
	Penetration  float64    `json:"penetration"`
	Area         float64    `json:"area"`
	ShearDisp    [3]float64 `json:"shear_disp"`
	DilationDisp float64    `json:"dilation_disp"`
	Opened       bool       `json:"opened,omitempty"`
	JointSetID   string     `json:"joint_set_id,omitempty"`
	FirstContact float64    `json:"first_contact"`
	LastContact  float64    `json:"last_contact"`
}

// WriteSnapshot writes snap to path+".tmp" and renames it over path, so a reader never
// sees a partial file.
func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func encode(w io.Writer, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	snap.Header.Version = Version
	snap.Header.Blocks = len(snap.Blocks)
	snap.Header.Contacts = len(snap.Contacts)
	hb, err := json.Marshal(snap.Header)
	if err != nil {
		enc.Close()
		return fmt.Errorf("encode header: %w", err)
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return fmt.Errorf("flush: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("zstd close: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The header line is a preview; gob carries it too.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
