package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"blockdem.dev/internal/persistence/indexdb"
	"blockdem.dev/internal/persistence/snapshot"
	"blockdem.dev/internal/sim/dem"
)

type runtimeIndex interface {
	dem.HistoryLogger
	Close() error
	BeginRun(ctx context.Context, info indexdb.RunInfo) error
	RecordCheckpoint(path string, snap snapshot.SnapshotV1)
	FinishRun(res *dem.Result)
}

func openRuntimeIndex(dataDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("DEM_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "runs.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported DEM_INDEX_BACKEND: %s", backend)
	}
}

func runInfo(runID, scenarioName string, cfg dem.Config, blocks int) indexdb.RunInfo {
	return indexdb.RunInfo{RunID: runID, Scenario: scenarioName, Config: cfg, Blocks: blocks}
}

// multiHistoryLogger fans one history record out to every sink; a failing sink does not
// starve the others.
type multiHistoryLogger []dem.HistoryLogger

func (m multiHistoryLogger) WriteHistory(rec dem.HistoryRecord) error {
	var first error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.WriteHistory(rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}
