package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	persistlog "blockdem.dev/internal/persistence/log"
	"blockdem.dev/internal/persistence/snapshot"
	"blockdem.dev/internal/protocol"
	"blockdem.dev/internal/sim/dem"
	"blockdem.dev/internal/sim/scenario"
	"blockdem.dev/internal/transport/observer"
)

func main() {
	var (
		scenarioPath = flag.String("scenario", "./configs/scenarios/stacked_cubes.yaml", "scenario file (yaml)")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		runID        = flag.String("run", "", "run id (default: random uuid, or the resumed checkpoint's run)")
		resume       = flag.String("resume", "", "checkpoint to resume from, or \"latest\" with -run")
		disableDB    = flag.Bool("disable_db", false, "disable the sqlite run index")
		listen       = flag.String("listen", "", "progress observer listen address, e.g. 127.0.0.1:8081 (empty to disable)")
		checkpoint   = flag.Int("checkpoint_every", -1, "override checkpoint interval in steps (0 disables)")
		workers      = flag.Int("workers", -1, "override worker count (0 = GOMAXPROCS)")
		outPath      = flag.String("out", "", "write the final result summary as json (optional)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[dem] ", log.LstdFlags|log.Lmicroseconds)

	sc, err := scenario.Load(*scenarioPath)
	if err != nil {
		logger.Fatalf("load scenario: %v", err)
	}
	in, err := sc.Build()
	if err != nil {
		logger.Fatalf("build scenario: %v", err)
	}
	if *checkpoint >= 0 {
		in.Config.CheckpointEvery = *checkpoint
	}
	if *workers >= 0 {
		in.Config.Workers = *workers
	}

	var snap *snapshot.SnapshotV1
	snapPath := strings.TrimSpace(*resume)
	if snapPath == "latest" {
		if *runID == "" {
			logger.Fatalf("-resume latest needs -run")
		}
		snapPath = latestCheckpoint(runDir(*dataDir, *runID))
		if snapPath == "" {
			logger.Fatalf("no checkpoint found for run %s", *runID)
		}
	}
	if snapPath != "" {
		s, err := snapshot.ReadSnapshot(snapPath)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if s.Header.Scenario != "" && s.Header.Scenario != sc.Name {
			logger.Fatalf("snapshot scenario mismatch: scenario=%s snap=%s", sc.Name, s.Header.Scenario)
		}
		if *runID == "" {
			*runID = s.Header.RunID
		}
		snap = &s
	}
	if *runID == "" {
		*runID = uuid.NewString()
	}
	dir := runDir(*dataDir, *runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Fatalf("run dir: %v", err)
	}

	sim, err := dem.New(in.Config, in.Blocks, in.Materials, in.JointSets)
	if err != nil {
		logger.Fatalf("simulator: %v", err)
	}
	sim.SetLogger(logger)
	sim.SetRunInfo(*runID, sc.Name)
	if snap != nil {
		if err := sim.ImportSnapshot(*snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s step=%d", filepath.Base(snapPath), sim.Step())
	}

	ctx, cancel := signalContext()
	defer cancel()

	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.BeginRun(ctx, runInfo(*runID, sc.Name, sim.Config(), len(in.Blocks))); err != nil {
			logger.Printf("index: begin run: %v", err)
		}
	}

	historyLog := persistlog.NewHistoryLogger(dir)
	defer historyLog.Close()
	hist := multiHistoryLogger{historyLog}
	if idx != nil {
		hist = append(hist, idx)
	}

	var obs *observer.Server
	if addr := strings.TrimSpace(*listen); addr != "" {
		cfg := sim.Config()
		obs = observer.NewServer(protocol.BootstrapResponse{
			RunID:           *runID,
			Scenario:        sc.Name,
			Mode:            string(cfg.Mode),
			Blocks:          len(in.Blocks),
			TimeStep:        cfg.TimeStep,
			MaxSteps:        sim.MaxSteps(),
			OutputFrequency: cfg.OutputFrequency,
		}, logger)
		hist = append(hist, obs)
		stop := serveObserver(ctx, addr, obs, logger)
		defer stop()
	}
	sim.SetHistoryLogger(hist)

	// Checkpoint writer.
	ckptCh := make(chan snapshot.SnapshotV1, 2)
	ckptDone := make(chan struct{})
	sim.SetCheckpointSink(ckptCh)
	go func() {
		defer close(ckptDone)
		for snap := range ckptCh {
			path := filepath.Join(dir, "checkpoints", fmt.Sprintf("%d.snap.zst", snap.Header.Step))
			if err := snapshot.WriteSnapshot(path, snap); err != nil {
				logger.Printf("checkpoint write: %v", err)
				continue
			}
			if idx != nil {
				idx.RecordCheckpoint(path, snap)
			}
		}
	}()

	ids := make([]int, 0, len(in.Blocks))
	for _, b := range in.Blocks {
		ids = append(ids, b.ID)
	}

	logger.Printf("run %s: scenario=%s blocks=%d mode=%s max_steps=%s",
		*runID, sc.Name, len(in.Blocks), sim.Config().Mode, humanize.Comma(int64(sim.MaxSteps())))
	start := time.Now()
	res, runErr := sim.Run(ctx, func(rec dem.HistoryRecord) bool {
		if obs != nil && obs.WantsFrames() {
			obs.PublishFrame(rec.Step, rec.Time, poses(sim, ids))
		}
		return true
	})
	elapsed := time.Since(start)
	close(ckptCh)
	<-ckptDone

	if runErr != nil {
		logger.Printf("run stopped: %v", runErr)
	}
	if obs != nil {
		obs.Finish(res)
	}
	if idx != nil {
		idx.FinishRun(res)
	}
	contactLog := persistlog.NewContactLogger(dir)
	if err := contactLog.WriteResult(res); err != nil {
		logger.Printf("contact log: %v", err)
	}
	_ = contactLog.Close()

	// Always leave a final checkpoint so the run can be resumed or inspected.
	final := sim.ExportSnapshot()
	finalPath := filepath.Join(dir, "checkpoints", fmt.Sprintf("%d.snap.zst", final.Header.Step))
	if err := snapshot.WriteSnapshot(finalPath, final); err != nil {
		logger.Printf("final checkpoint: %v", err)
	}

	for _, w := range res.Warnings {
		logger.Printf("warning: %s", w)
	}
	logger.Printf("%s: %s steps in %s (%s steps/s), max displacement %.4g m, failed blocks %v",
		res.Status,
		humanize.Comma(int64(res.Steps)),
		elapsed.Round(time.Millisecond),
		humanize.CommafWithDigits(float64(res.Steps)/elapsed.Seconds(), 0),
		res.MaxDisplacement,
		res.FailedBlocks,
	)

	if *outPath != "" {
		if err := writeSummary(*outPath, res); err != nil {
			logger.Fatalf("write summary: %v", err)
		}
	}
	if res.Status == dem.StatusCancelled {
		os.Exit(130)
	}
}

func runDir(dataDir, runID string) string {
	return filepath.Join(dataDir, "runs", runID)
}

func poses(sim *dem.Simulator, ids []int) []protocol.BlockPose {
	out := make([]protocol.BlockPose, 0, len(ids))
	for _, id := range ids {
		b := sim.Block(id)
		if b == nil {
			continue
		}
		q := b.Orientation
		out = append(out, protocol.BlockPose{
			ID:    id,
			Pos:   b.Position,
			Rot:   [4]float64{q.W, q.V[0], q.V[1], q.V[2]},
			Fixed: b.Fixed,
		})
	}
	return out
}

// summary is the json form of a finished run without the in-memory snapshots.
type summary struct {
	RunID           string              `json:"run_id"`
	Status          dem.Status          `json:"status"`
	Converged       bool                `json:"converged"`
	Steps           uint64              `json:"steps"`
	Time            float64             `json:"time"`
	PeakSpeed       float64             `json:"peak_speed"`
	MaxDisplacement float64             `json:"max_displacement"`
	FailedBlocks    []int               `json:"failed_blocks"`
	Blocks          []dem.BlockResult   `json:"blocks"`
	Contacts        []dem.ContactResult `json:"contacts"`
	Warnings        []string            `json:"warnings,omitempty"`
}

func writeSummary(path string, res *dem.Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(summary{
		RunID:           res.RunID,
		Status:          res.Status,
		Converged:       res.Converged,
		Steps:           res.Steps,
		Time:            res.Time,
		PeakSpeed:       res.PeakSpeed,
		MaxDisplacement: res.MaxDisplacement,
		FailedBlocks:    res.FailedBlocks,
		Blocks:          res.Blocks,
		Contacts:        res.Contacts,
		Warnings:        res.Warnings,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

func serveObserver(ctx context.Context, addr string, obs *observer.Server, logger *log.Logger) func() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	obs.Routes(mux)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("observer listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("observer: %v", err)
		}
	}()
	return func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func latestCheckpoint(dir string) string {
	dir = filepath.Join(dir, "checkpoints")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestStep uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		step, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || step > bestStep {
			bestStep = step
			best = filepath.Join(dir, name)
		}
	}
	return best
}
