package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"crateloot.ai/internal/loot/loadout"
	"crateloot.ai/internal/sim/catalogs"
)

// replay reads the compressed loadout log and reports what the engine
// actually handed out, per container type.
func main() {
	var (
		loadoutsDir = flag.String("loadouts", "./data/loadouts", "dir containing loadouts-*.jsonl.zst")
		configDir   = flag.String("configs", "./configs", "config directory")
		fromTick    = flag.Uint64("from_tick", 0, "first tick to include (inclusive, optional)")
		toTick      = flag.Uint64("to_tick", 0, "last tick to include (inclusive, optional)")
		prefab      = flag.String("prefab", "", "only this prefab id (optional)")
		top         = flag.Int("top", 10, "items listed per prefab")
	)
	flag.Parse()

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}

	files, err := listLoadoutFiles(*loadoutsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list loadouts:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no loadout files found in", *loadoutsDir)
		os.Exit(1)
	}

	sum := newSummary(cats, filter{From: *fromTick, To: *toTick, Prefab: strings.TrimSpace(*prefab)})
	for _, path := range files {
		if err := replayFile(path, sum); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	sum.print(os.Stdout, *top)
	if len(sum.Unknown) > 0 {
		os.Exit(3)
	}
}

func listLoadoutFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "loadouts-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func replayFile(path string, sum *summary) error {
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

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var rec loadout.Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		sum.add(rec)
	}
	return sc.Err()
}
