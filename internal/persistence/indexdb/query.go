package indexdb

import (
	"context"
	"database/sql"
	"fmt"
)

// RunRow is one row of the runs table.
type RunRow struct {
	RunID           string
	Scenario        string
	Mode            string
	Blocks          int
	StartedAt       string
	FinishedAt      string
	Status          string
	Converged       bool
	Steps           uint64
	Time            float64
	PeakSpeed       float64
	MaxDisplacement float64
	FailedBlocks    string
}

// OpenReadOnly opens an existing index for queries without starting a writer.
func OpenReadOnly(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	return db, nil
}

func ListRuns(ctx context.Context, db *sql.DB, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `SELECT run_id,scenario,mode,blocks,started_at,COALESCE(finished_at,''),status,converged,steps,sim_time,peak_speed,max_displacement,failed_blocks
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRow
	for rows.Next() {
		var r RunRow
		var conv int
		var steps int64
		if err := rows.Scan(&r.RunID, &r.Scenario, &r.Mode, &r.Blocks, &r.StartedAt, &r.FinishedAt, &r.Status, &conv, &steps, &r.Time, &r.PeakSpeed, &r.MaxDisplacement, &r.FailedBlocks); err != nil {
			return nil, err
		}
		r.Converged = conv != 0
		r.Steps = uint64(steps)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountRows returns the number of rows of table belonging to runID.
func CountRows(ctx context.Context, db *sql.DB, table, runID string) (int, error) {
	switch table {
	case "history", "checkpoints", "final_blocks", "final_contacts":
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE run_id=?`, runID).Scan(&n)
	return n, err
}
