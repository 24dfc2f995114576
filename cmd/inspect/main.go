package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"blockdem.dev/internal/persistence/indexdb"
	persistlog "blockdem.dev/internal/persistence/log"
	"blockdem.dev/internal/persistence/snapshot"
	"blockdem.dev/internal/sim/contact"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "history":
			historyCmd(os.Args[2:])
			return
		case "contacts":
			contactsCmd(os.Args[2:])
			return
		case "runs":
			runsCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func fail(code int, args ...any) {
	fmt.Fprintln(os.Stderr, args...)
	os.Exit(code)
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "runs"))
	if err != nil {
		fail(1, "read:", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			fmt.Println(e.Name())
		}
	}
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	headerOnly := fs.Bool("header", false, "print only the header line")
	top := fs.Int("top", 10, "blocks listed by max displacement")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		fail(2, "usage: inspect snapshot [-header] [-top N] <path.snap.zst>")
	}
	path := fs.Arg(0)

	if *headerOnly {
		h, err := snapshot.ReadHeader(path)
		if err != nil {
			fail(1, "read header:", err)
		}
		_ = json.NewEncoder(os.Stdout).Encode(h)
		return
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fail(1, "read:", err)
	}
	st, _ := os.Stat(path)
	printSnapshot(os.Stdout, path, st, snap, *top)
}

func printSnapshot(w io.Writer, path string, st os.FileInfo, snap snapshot.SnapshotV1, top int) {
	h := snap.Header
	fmt.Fprintf(w, "%s\n", path)
	if st != nil {
		fmt.Fprintf(w, "  size      %s, written %s\n", humanize.Bytes(uint64(st.Size())), humanize.Time(st.ModTime()))
	}
	fmt.Fprintf(w, "  run       %s (%s)\n", h.RunID, h.Scenario)
	fmt.Fprintf(w, "  step      %s  t=%.6gs\n", humanize.Comma(int64(h.Step)), h.Time)

	states := map[string]int{}
	opened := 0
	for _, c := range snap.Contacts {
		states[contact.State(c.State).String()]++
		if c.Opened {
			opened++
		}
	}
	keys := make([]string, 0, len(states))
	for k := range states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, states[k]))
	}
	fmt.Fprintf(w, "  blocks    %d\n", len(snap.Blocks))
	fmt.Fprintf(w, "  contacts  %d [%s] opened=%d\n", len(snap.Contacts), strings.Join(parts, " "), opened)

	blocks := append([]snapshot.BlockV1(nil), snap.Blocks...)
	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].MaxDisplacement > blocks[j].MaxDisplacement })
	if top > len(blocks) {
		top = len(blocks)
	}
	for _, b := range blocks[:top] {
		fixed := ""
		if b.Fixed {
			fixed = " fixed"
		}
		fmt.Fprintf(w, "  block %-5d pos=(%.4g, %.4g, %.4g) max_disp=%.4g m%s\n",
			b.ID, b.Position[0], b.Position[1], b.Position[2], b.MaxDisplacement, fixed)
	}
}

func historyCmd(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	runID := fs.String("run", "", "run id (required)")
	tail := fs.Int("tail", 0, "print only the last N records")
	_ = fs.Parse(args)
	if strings.TrimSpace(*runID) == "" {
		fail(2, "missing -run")
	}

	recs, err := persistlog.ReadHistory(filepath.Join(*dataDir, "runs", *runID))
	if err != nil {
		fail(1, "read history:", err)
	}
	if *tail > 0 && len(recs) > *tail {
		recs = recs[len(recs)-*tail:]
	}
	enc := json.NewEncoder(os.Stdout)
	for _, r := range recs {
		_ = enc.Encode(r)
	}
}

func contactsCmd(args []string) {
	fs := flag.NewFlagSet("contacts", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	runID := fs.String("run", "", "run id (required)")
	state := fs.String("state", "", "state filter (sticking, sliding, separated)")
	_ = fs.Parse(args)
	if strings.TrimSpace(*runID) == "" {
		fail(2, "missing -run")
	}

	dir := filepath.Join(*dataDir, "runs", *runID, "contacts")
	err := persistlog.ReadJSONL(dir, "contacts", func(line []byte) error {
		if *state != "" {
			var e persistlog.ContactEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return err
			}
			if e.State != *state {
				return nil
			}
		}
		_, err := os.Stdout.Write(line)
		return err
	})
	if err != nil {
		fail(1, "read contacts:", err)
	}
}

func runsCmd(args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite index path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "runs.sqlite")
	}
	db, err := indexdb.OpenReadOnly(path)
	if err != nil {
		fail(1, "open:", err)
	}
	defer db.Close()

	runs, err := indexdb.ListRuns(context.Background(), db, *limit)
	if err != nil {
		fail(1, "query:", err)
	}
	for _, r := range runs {
		conv := "no"
		if r.Converged {
			conv = "yes"
		}
		fmt.Printf("%s  %-14s %-10s steps=%-10s converged=%-3s max_disp=%.4g m  %s\n",
			r.RunID, r.Scenario, r.Status, humanize.Comma(int64(r.Steps)), conv, r.MaxDisplacement, r.StartedAt)
	}
}
