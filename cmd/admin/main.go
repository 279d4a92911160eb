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

	persistlog "crateloot.ai/internal/persistence/log"
	"crateloot.ai/internal/persistence/overrides"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	args := os.Args[2:]
	switch os.Args[1] {
	case "blacklist":
		blacklistCmd(args)
	case "refresh":
		refreshCmd(args)
	case "tables":
		tablesCmd(args)
	case "spawn":
		spawnCmd(args)
	case "state":
		stateCmd(args)
	case "db":
		dbCmd(args)
	case "audit":
		auditCmd(args)
	case "validate":
		validateCmd(args)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: admin <command> [flags]

commands:
  blacklist list|add|remove [item]   edit the item blacklist of a running server
  refresh                            re-roll every engine-owned container
  tables                             print loot table summaries
  spawn -prefab <id> [-pos x,y,z]    spawn a container
  state                              print world status
  db loadouts|blacklist              query the sqlite index
  audit                              print operator audit entries
  validate -overrides <file>         check a loot table override file`)
}

func validateCmd(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	path := fs.String("overrides", "", "override file to validate")
	_ = fs.Parse(args)

	if strings.TrimSpace(*path) == "" {
		fmt.Fprintln(os.Stderr, "missing -overrides")
		os.Exit(2)
	}
	doc, err := overrides.ValidateFile(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid:", err)
		os.Exit(1)
	}
	fmt.Printf("ok: version=%d tables=%d\n", doc.Version, len(doc.Tables))
}

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	sinceTick := fs.Uint64("since_tick", 0, "only entries at or after this tick")
	action := fs.String("action", "", "only entries with this action (e.g. blacklist_add)")
	_ = fs.Parse(args)

	recs, err := readAudit(filepath.Join(*dataDir, "audit"), *sinceTick, strings.TrimSpace(*action))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read audit:", err)
		os.Exit(1)
	}
	for _, r := range recs {
		printJSON(r)
	}
}

// readAudit returns matching entries in file order; files are named by hour
// so a lexical sort is chronological.
func readAudit(dir string, sinceTick uint64, action string) ([]persistlog.AuditEntry, error) {
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
		if strings.HasPrefix(name, "audit-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var out []persistlog.AuditEntry
	for _, name := range names {
		path := filepath.Join(dir, name)
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		dec, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		sc := bufio.NewScanner(dec)
		sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
		for sc.Scan() {
			var e persistlog.AuditEntry
			if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
				dec.Close()
				_ = f.Close()
				return nil, fmt.Errorf("%s: unmarshal: %w", name, err)
			}
			if e.Tick < sinceTick {
				continue
			}
			if action != "" && e.Action != action {
				continue
			}
			out = append(out, e)
		}
		err = sc.Err()
		dec.Close()
		_ = f.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
