// Package overrides persists per-container loot tables so hand edits survive restarts.
package overrides

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// CurrentVersion is the document version written by Save. Version 1
// documents lack max_blueprints and items; the registry backfills them.
const CurrentVersion = 2

// ErrCorrupt marks a store that exists but cannot be trusted. Callers must
// abort rather than run with an empty registry.
var ErrCorrupt = errors.New("override store corrupt")

//go:embed loot_tables.schema.json
var schemaJSON string

const schemaURL = "loot_tables.schema.json"

type Document struct {
	Version int                       `json:"version"`
	Tables  map[string]*TableOverride `json:"tables"`
}

// TableOverride uses pointers so fields absent from older documents can be
// told apart from zero values.
type TableOverride struct {
	Enabled       *bool                `json:"enabled,omitempty"`
	ScrapAmount   *int                 `json:"scrap_amount,omitempty"`
	ItemCountMin  *int                 `json:"item_count_min,omitempty"`
	ItemCountMax  *int                 `json:"item_count_max,omitempty"`
	MaxBlueprints *int                 `json:"max_blueprints,omitempty"`
	Items         map[string]ItemEntry `json:"items"`
}

type ItemEntry struct {
	Min       int  `json:"min"`
	Max       int  `json:"max"`
	Blueprint bool `json:"blueprint,omitempty"`
}

func NewDocument() *Document {
	return &Document{Version: CurrentVersion, Tables: map[string]*TableOverride{}}
}

// IDs returns table ids in sorted order.
func (d *Document) IDs() []string {
	ids := make([]string, 0, len(d.Tables))
	for id := range d.Tables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Store is a JSON file on disk.
type Store struct {
	path   string
	schema *jsonschema.Schema
}

func Open(path string) (*Store, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return &Store{path: path, schema: schema}, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	s, err := jsonschema.CompileString(schemaURL, schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", schemaURL, err)
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

// Load returns an empty document when the file does not exist yet.
func (s *Store) Load() (*Document, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDocument(), nil
		}
		return nil, err
	}
	return s.Decode(raw)
}

// Decode validates raw against the schema and decodes it.
func (s *Store) Decode(raw []byte) (*Document, error) {
	name := filepath.Base(s.path)
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	if err := s.schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	if doc.Tables == nil {
		doc.Tables = map[string]*TableOverride{}
	}
	for id, t := range doc.Tables {
		if t == nil {
			doc.Tables[id] = &TableOverride{}
		}
	}
	return &doc, nil
}

// Save writes doc atomically and stamps it with CurrentVersion.
func (s *Store) Save(doc *Document) error {
	doc.Version = CurrentVersion
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// ValidateFile checks a store file without loading it into a registry.
func ValidateFile(path string) (*Document, error) {
	s, err := Open(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return s.Decode(raw)
}

func Bool(v bool) *bool { return &v }
func Int(v int) *int    { return &v }
