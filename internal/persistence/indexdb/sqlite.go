package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"crateloot.ai/internal/loot/loadout"
	"crateloot.ai/internal/sim/catalogs"
	"crateloot.ai/internal/sim/tuning"
)

var ErrClosed = errors.New("index closed")

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropLoadout atomic.Uint64
	written     atomic.Uint64
	writeFail   atomic.Uint64
}

type reqKind int

const (
	reqLoadout reqKind = iota + 1
	reqSync
)

type req struct {
	kind reqKind

	loadout loadout.Record
	done    chan struct{}
}

// QueueStats reports the state of the asynchronous loadout writer.
type QueueStats struct {
	QueueDepth       int    `json:"queue_depth"`
	QueueCapacity    int    `json:"queue_capacity"`
	DropLoadoutTotal uint64 `json:"drop_loadout_total"`
	WrittenTotal     uint64 `json:"written_total"`
	WriteFailTotal   uint64 `json:"write_fail_total"`
}

// LoadoutRow is one indexed loadout as read back by operators.
type LoadoutRow struct {
	LoadoutID   string             `json:"loadout_id"`
	Tick        uint64             `json:"tick"`
	ContainerID string             `json:"container_id"`
	PrefabID    string             `json:"prefab_id"`
	Items       int                `json:"items"`
	Blueprints  int                `json:"blueprints"`
	Scrap       int                `json:"scrap"`
	Contents    []loadout.Instance `json:"contents"`
	CreatedAt   string             `json:"created_at"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path+"?"+pragmaDSN())
	if err != nil {
		return nil, err
	}
	// The writer goroutine holds one connection inside its batch transaction;
	// blacklist edits and operator reads use the others.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(0)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

// pragmaDSN applies the pragmas to every pooled connection.
func pragmaDSN() string {
	// WAL lets operator reads run beside the batch writer.
	pragmas := []string{
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"busy_timeout(5000)",
		"temp_store(MEMORY)",
	}
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return q.Encode()
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS blacklist (
			item_id TEXT PRIMARY KEY,
			added_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS loadouts (
			loadout_id TEXT PRIMARY KEY,
			tick INTEGER NOT NULL,
			container_id TEXT NOT NULL,
			prefab_id TEXT NOT NULL,
			items INTEGER NOT NULL,
			blueprints INTEGER NOT NULL,
			scrap INTEGER NOT NULL,
			items_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_loadouts_prefab_tick ON loadouts(prefab_id, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_loadouts_container ON loadouts(container_id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
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

func (s *SQLiteIndex) LoadBlacklist() ([]string, error) {
	rows, err := s.db.Query(`SELECT item_id FROM blacklist ORDER BY item_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) AddBlacklist(itemID string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO blacklist(item_id,added_at) VALUES(?,?)`,
		itemID, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteIndex) RemoveBlacklist(itemID string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.db.Exec(`DELETE FROM blacklist WHERE item_id = ?`, itemID)
	return err
}

// RecordLoadout queues rec for the writer goroutine and never blocks.
func (s *SQLiteIndex) RecordLoadout(rec loadout.Record) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqLoadout, loadout: rec}:
	default:
		// The JSONL log remains the source of truth when the indexer falls behind.
		s.dropLoadout.Add(1)
	}
	return nil
}

// Sync blocks until every loadout queued before the call is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() QueueStats {
	st := QueueStats{
		DropLoadoutTotal: s.dropLoadout.Load(),
		WrittenTotal:     s.written.Load(),
		WriteFailTotal:   s.writeFail.Load(),
	}
	if s.ch != nil {
		st.QueueDepth = len(s.ch)
		st.QueueCapacity = cap(s.ch)
	}
	return st
}

func (s *SQLiteIndex) RecentLoadouts(limit int, prefabID string) ([]LoadoutRow, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT loadout_id,tick,container_id,prefab_id,items,blueprints,scrap,items_json,created_at FROM loadouts`
	args := []any{}
	if prefabID != "" {
		q += ` WHERE prefab_id = ?`
		args = append(args, prefabID)
	}
	q += ` ORDER BY tick DESC, created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LoadoutRow
	for rows.Next() {
		var (
			r    LoadoutRow
			tick int64
			raw  string
		)
		if err := rows.Scan(&r.LoadoutID, &tick, &r.ContainerID, &r.PrefabID, &r.Items, &r.Blueprints, &r.Scrap, &raw, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		if err := json.Unmarshal([]byte(raw), &r.Contents); err != nil {
			return nil, fmt.Errorf("loadout %s: %w", r.LoadoutID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertCatalogs stores the raw asset files and the applied tuning with their digests.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if configDir != "" {
		if b, err := os.ReadFile(filepath.Join(configDir, "prefabs.json")); err == nil {
			rows = append(rows, kv{name: "prefabs", digest: cats.Prefabs.Digest, json: b})
		}
		if b, err := os.ReadFile(filepath.Join(configDir, "items.json")); err == nil {
			rows = append(rows, kv{name: "items", digest: cats.Items.Digest, json: b})
		}
	}
	// Tuning: store the values we actually apply (canonical JSON).
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertLoadout, _ := s.db.Prepare(`INSERT OR REPLACE INTO loadouts(loadout_id,tick,container_id,prefab_id,items,blueprints,scrap,items_json,created_at) VALUES(?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertLoadout != nil {
			_ = insertLoadout.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
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
		if err := tx.Commit(); err != nil {
			s.writeFail.Add(uint64(opCount))
		} else {
			s.written.Add(uint64(opCount))
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.writeFail.Add(uint64(opCount))
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var r req
		select {
		case <-ticker.C:
			if time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
			continue
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		}
		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil || insertLoadout == nil {
			s.writeFail.Add(1)
			continue
		}
		rec := r.loadout
		raw, _ := json.Marshal(rec.Items)
		if _, err := tx.Stmt(insertLoadout).Exec(
			rec.LoadoutID,
			int64(rec.Tick),
			rec.ContainerID,
			rec.PrefabID,
			len(rec.Items),
			rec.Blueprints,
			rec.Scrap,
			string(raw),
			time.Now().UTC().Format(time.RFC3339Nano),
		); err != nil {
			s.writeFail.Add(1)
			rollback()
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
}
