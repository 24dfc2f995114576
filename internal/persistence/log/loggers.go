package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"blockdem.dev/internal/sim/dem"
)

// JSONLZstdWriter appends JSON lines to zstd-compressed files rotated every hour.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// Appending creates a second zstd frame; readers decode concatenated frames.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// HistoryLogger writes one compressed JSONL entry per recorded convergence sample.
type HistoryLogger struct{ w *JSONLZstdWriter }

func NewHistoryLogger(runDir string) *HistoryLogger {
	return &HistoryLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, "history"), "history")}
}

func (l *HistoryLogger) WriteHistory(rec dem.HistoryRecord) error { return l.w.Write(rec) }
func (l *HistoryLogger) Close() error                             { return l.w.Close() }

// ContactLogger writes the final contact table of a run.
type ContactLogger struct{ w *JSONLZstdWriter }

type ContactEntry struct {
	RunID        string     `json:"run_id"`
	A            int        `json:"a"`
	B            int        `json:"b"`
	State        string     `json:"state"`
	Point        [3]float64 `json:"point"`
	Normal       [3]float64 `json:"normal"`
	NormalForce  float64    `json:"normal_force"`
	ShearForce   float64    `json:"shear_force"`
	PorePressure float64    `json:"pore_pressure"`
	Opened       bool       `json:"opened,omitempty"`
	JointSetID   string     `json:"joint_set_id,omitempty"`
}

func NewContactLogger(runDir string) *ContactLogger {
	return &ContactLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, "contacts"), "contacts")}
}

func (l *ContactLogger) WriteResult(res *dem.Result) error {
	for _, c := range res.Contacts {
		err := l.w.Write(ContactEntry{
			RunID:        res.RunID,
			A:            c.A,
			B:            c.B,
			State:        c.State,
			Point:        c.Point,
			Normal:       c.Normal,
			NormalForce:  c.NormalForce,
			ShearForce:   c.ShearForce,
			PorePressure: c.PorePressure,
			Opened:       c.Opened,
			JointSetID:   c.JointSetID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (l *ContactLogger) Close() error { return l.w.Close() }

// ReadJSONL decodes every line of every "<prefix>-*.jsonl.zst" file under dir, oldest
// segment first, calling fn once per line.
func ReadJSONL(dir, prefix string, fn func(line []byte) error) error {
	paths, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return err
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := readFile(p, fn); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func readFile(path string, fn func([]byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 128*1024)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 1 {
			if ferr := fn(line); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// ReadHistory loads the history records of a run directory.
func ReadHistory(runDir string) ([]dem.HistoryRecord, error) {
	var out []dem.HistoryRecord
	err := ReadJSONL(filepath.Join(runDir, "history"), "history", func(line []byte) error {
		var rec dem.HistoryRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}
