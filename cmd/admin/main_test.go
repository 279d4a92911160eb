package main

import (
	"path/filepath"
	"testing"

	persistlog "crateloot.ai/internal/persistence/log"
)

func TestReadAudit_Filters(t *testing.T) {
	dir := t.TempDir()
	l := persistlog.NewAuditLogger(dir)
	for _, e := range []persistlog.AuditEntry{
		{Tick: 1, Actor: "admin_http", Action: "blacklist_add", Item: "gears"},
		{Tick: 5, Actor: "admin_http", Action: "refresh"},
		{Tick: 9, Actor: "admin_http", Action: "blacklist_remove", Item: "gears"},
	} {
		if err := l.WriteAudit(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	all, err := readAudit(filepath.Join(dir, "audit"), 0, "")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(all) != 3 || all[0].Action != "blacklist_add" || all[0].Time == "" {
		t.Fatalf("unexpected entries: %+v", all)
	}

	got, err := readAudit(filepath.Join(dir, "audit"), 2, "blacklist_remove")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 || got[0].Tick != 9 {
		t.Fatalf("unexpected filtered entries: %+v", got)
	}
}

func TestParseVec3(t *testing.T) {
	v, err := parseVec3(" 1.5, -2 ,3")
	if err != nil || v != [3]float64{1.5, -2, 3} {
		t.Fatalf("parseVec3: %v %v", v, err)
	}
	if _, err := parseVec3("1,2"); err == nil {
		t.Fatalf("expected error for short vector")
	}
}
