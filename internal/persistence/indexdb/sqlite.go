package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"blockdem.dev/internal/persistence/snapshot"
	"blockdem.dev/internal/sim/dem"
)

// SQLiteIndex is a secondary, queryable index of runs. Writes go through a buffered
// channel to a single writer goroutine; the JSONL history and snapshot files remain the
// source of truth.
type SQLiteIndex struct {
	db *sql.DB

	runID string

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropHistory    atomic.Uint64
	dropCheckpoint atomic.Uint64
	dropResult     atomic.Uint64
}

type reqKind int

const (
	reqHistory reqKind = iota + 1
	reqCheckpoint
	reqResult
)

type req struct {
	kind  reqKind
	runID string

	history    dem.HistoryRecord
	checkpoint checkpointRow
	result     *dem.Result
}

type checkpointRow struct {
	Step     uint64
	Time     float64
	Path     string
	Blocks   int
	Contacts int
}

// RunInfo describes a run at start.
type RunInfo struct {
	RunID    string
	Scenario string
	Config   dem.Config
	Blocks   int
}

type Stats struct {
	QueueDepth          int
	QueueCapacity       int
	DropHistoryTotal    uint64
	DropCheckpointTotal uint64
	DropResultTotal     uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			scenario TEXT NOT NULL,
			mode TEXT NOT NULL,
			blocks INTEGER NOT NULL,
			config_digest TEXT NOT NULL,
			config_json TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			status TEXT NOT NULL,
			converged INTEGER NOT NULL DEFAULT 0,
			steps INTEGER NOT NULL DEFAULT 0,
			sim_time REAL NOT NULL DEFAULT 0,
			peak_speed REAL NOT NULL DEFAULT 0,
			max_displacement REAL NOT NULL DEFAULT 0,
			failed_blocks TEXT NOT NULL DEFAULT '',
			warnings INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS history (
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			step INTEGER NOT NULL,
			sim_time REAL NOT NULL,
			peak_speed REAL NOT NULL,
			mean_speed REAL NOT NULL,
			kinetic_energy REAL NOT NULL,
			max_displacement REAL NOT NULL,
			unbalanced_ratio REAL NOT NULL,
			active_contacts INTEGER NOT NULL,
			sliding_contacts INTEGER NOT NULL,
			separated_contacts INTEGER NOT NULL,
			PRIMARY KEY (run_id, step)
		);`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			step INTEGER NOT NULL,
			sim_time REAL NOT NULL,
			path TEXT NOT NULL,
			blocks INTEGER NOT NULL,
			contacts INTEGER NOT NULL,
			PRIMARY KEY (run_id, step)
		);`,
		`CREATE TABLE IF NOT EXISTS final_blocks (
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			block_id INTEGER NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			displacement REAL NOT NULL,
			max_displacement REAL NOT NULL,
			fixed INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			PRIMARY KEY (run_id, block_id)
		);`,
		`CREATE TABLE IF NOT EXISTS final_contacts (
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			a INTEGER NOT NULL,
			b INTEGER NOT NULL,
			state TEXT NOT NULL,
			normal_force REAL NOT NULL,
			shear_force REAL NOT NULL,
			pore_pressure REAL NOT NULL,
			opened INTEGER NOT NULL,
			joint_set_id TEXT NOT NULL,
			PRIMARY KEY (run_id, a, b)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_final_contacts_state ON final_contacts(run_id, state);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`)
	return err
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(s.ch),
		QueueCapacity:       cap(s.ch),
		DropHistoryTotal:    s.dropHistory.Load(),
		DropCheckpointTotal: s.dropCheckpoint.Load(),
		DropResultTotal:     s.dropResult.Load(),
	}
}

// BeginRun records the run row synchronously and binds later writes to its id.
func (s *SQLiteIndex) BeginRun(ctx context.Context, info RunInfo) error {
	if s == nil {
		return nil
	}
	if info.RunID == "" {
		return fmt.Errorf("empty run id")
	}
	cfg, err := json.Marshal(info.Config)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(cfg)
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs(run_id,scenario,mode,blocks,config_digest,config_json,started_at,status) VALUES(?,?,?,?,?,?,?,?)`,
		info.RunID,
		info.Scenario,
		string(info.Config.Mode),
		info.Blocks,
		hex.EncodeToString(sum[:]),
		string(cfg),
		time.Now().UTC().Format(time.RFC3339Nano),
		string(dem.StatusStepping),
	)
	if err != nil {
		return err
	}
	s.runID = info.RunID
	return nil
}

// WriteHistory satisfies dem.HistoryLogger. It never blocks the simulation.
func (s *SQLiteIndex) WriteHistory(rec dem.HistoryRecord) error {
	if s == nil || s.closed.Load() || s.runID == "" {
		return nil
	}
	select {
	case s.ch <- req{kind: reqHistory, runID: s.runID, history: rec}:
	default:
		s.dropHistory.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordCheckpoint(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() || s.runID == "" {
		return
	}
	r := checkpointRow{
		Step:     snap.Header.Step,
		Time:     snap.Header.Time,
		Path:     path,
		Blocks:   len(snap.Blocks),
		Contacts: len(snap.Contacts),
	}
	select {
	case s.ch <- req{kind: reqCheckpoint, runID: s.runID, checkpoint: r}:
	default:
		s.dropCheckpoint.Add(1)
	}
}

// FinishRun queues the final summary, block table and contact table. Close flushes it.
func (s *SQLiteIndex) FinishRun(res *dem.Result) {
	if s == nil || s.closed.Load() || s.runID == "" || res == nil {
		return
	}
	select {
	case s.ch <- req{kind: reqResult, runID: s.runID, result: res}:
	default:
		s.dropResult.Add(1)
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertHistory, _ := s.db.Prepare(`INSERT OR REPLACE INTO history(run_id,step,sim_time,peak_speed,mean_speed,kinetic_energy,max_displacement,unbalanced_ratio,active_contacts,sliding_contacts,separated_contacts) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	insertCheckpoint, _ := s.db.Prepare(`INSERT OR REPLACE INTO checkpoints(run_id,step,sim_time,path,blocks,contacts) VALUES(?,?,?,?,?,?)`)
	defer func() {
		if insertHistory != nil {
			_ = insertHistory.Close()
		}
		if insertCheckpoint != nil {
			_ = insertCheckpoint.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqHistory:
			h := r.history
			if insertHistory != nil {
				if _, err := tx.Stmt(insertHistory).Exec(
					r.runID,
					int64(h.Step),
					h.Time,
					h.PeakSpeed,
					h.MeanSpeed,
					h.KineticEnergy,
					h.MaxDisplacement,
					h.UnbalancedRatio,
					h.ActiveContacts,
					h.SlidingContacts,
					h.SeparatedContacts,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqCheckpoint:
			c := r.checkpoint
			if insertCheckpoint != nil {
				if _, err := tx.Stmt(insertCheckpoint).Exec(
					r.runID,
					int64(c.Step),
					c.Time,
					c.Path,
					c.Blocks,
					c.Contacts,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqResult:
			n, err := writeResult(tx, r.runID, r.result)
			if err != nil {
				rollback()
				continue
			}
			opCount += n
			// The final summary is committed right away.
			commit()
			continue
		}
		flushIfNeeded()
	}

	commit()
}

func writeResult(tx *sql.Tx, runID string, res *dem.Result) (int, error) {
	failed := make([]string, 0, len(res.FailedBlocks))
	for _, id := range res.FailedBlocks {
		failed = append(failed, fmt.Sprint(id))
	}
	if _, err := tx.Exec(
		`UPDATE runs SET finished_at=?,status=?,converged=?,steps=?,sim_time=?,peak_speed=?,max_displacement=?,failed_blocks=?,warnings=? WHERE run_id=?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		string(res.Status),
		boolInt(res.Converged),
		int64(res.Steps),
		res.Time,
		res.PeakSpeed,
		res.MaxDisplacement,
		strings.Join(failed, ","),
		len(res.Warnings),
		runID,
	); err != nil {
		return 0, err
	}
	ops := 1

	blockStmt, err := tx.Prepare(`INSERT OR REPLACE INTO final_blocks(run_id,block_id,x,y,z,displacement,max_displacement,fixed,failed) VALUES(?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return ops, err
	}
	defer blockStmt.Close()
	for _, b := range res.Blocks {
		if _, err := blockStmt.Exec(runID, b.ID, b.Position[0], b.Position[1], b.Position[2], b.Displacement, b.MaxDisplacement, boolInt(b.Fixed), boolInt(b.Failed)); err != nil {
			return ops, err
		}
		ops++
	}

	contactStmt, err := tx.Prepare(`INSERT OR REPLACE INTO final_contacts(run_id,a,b,state,normal_force,shear_force,pore_pressure,opened,joint_set_id) VALUES(?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return ops, err
	}
	defer contactStmt.Close()
	for _, c := range res.Contacts {
		if _, err := contactStmt.Exec(runID, c.A, c.B, c.State, c.NormalForce, c.ShearForce, c.PorePressure, boolInt(c.Opened), c.JointSetID); err != nil {
			return ops, err
		}
		ops++
	}
	return ops, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
