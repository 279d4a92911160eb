package overrides

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "loot_tables.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	doc, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc.Version != CurrentVersion || len(doc.Tables) != 0 {
		t.Fatalf("unexpected doc: %+v", doc)
	}
}

func TestSaveThenLoad_PreservesMissingFields(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "loot_tables.json")
	s, err := Open(p)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	doc := NewDocument()
	doc.Tables["crate_basic"] = &TableOverride{
		Enabled:      Bool(false),
		ItemCountMin: Int(2),
		ItemCountMax: Int(5),
		Items:        map[string]ItemEntry{"rope": {Min: 1, Max: 4}},
	}
	if err := s.Save(doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	tbl := got.Tables["crate_basic"]
	if tbl == nil || tbl.Enabled == nil || *tbl.Enabled {
		t.Fatalf("enabled not preserved: %+v", tbl)
	}
	if tbl.MaxBlueprints != nil || tbl.ScrapAmount != nil {
		t.Fatalf("unset fields should stay nil: %+v", tbl)
	}
	if tbl.Items["rope"].Max != 4 {
		t.Fatalf("items: %+v", tbl.Items)
	}
}

func TestLoad_CorruptStoreIsFatal(t *testing.T) {
	cases := map[string]string{
		"syntax":     `{"version": 2, "tables": {`,
		"schema":     `{"version": 2, "tables": {"c": {"item_count_min": "many"}}}`,
		"version":    `{"version": 9, "tables": {}}`,
		"item_shape": `{"version": 2, "tables": {"c": {"items": {"rope": {"min": 1}}}}}`,
	}
	for name, body := range cases {
		p := filepath.Join(t.TempDir(), name+".json")
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		s, err := Open(p)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if _, err := s.Load(); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("%s: expected ErrCorrupt, got %v", name, err)
		}
	}
}

func TestLoad_AcceptsVersion1(t *testing.T) {
	p := filepath.Join(t.TempDir(), "v1.json")
	body := `{"version": 1, "tables": {"crate_basic": {"enabled": true, "item_count_min": 1, "item_count_max": 3}}}`
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	doc, err := ValidateFile(p)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if doc.Version != 1 || doc.Tables["crate_basic"].Items != nil {
		t.Fatalf("v1 doc should have no items: %+v", doc.Tables["crate_basic"])
	}
}
