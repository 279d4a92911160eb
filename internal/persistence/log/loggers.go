package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"crateloot.ai/internal/loot/loadout"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// LoadoutLogger writes one JSONL entry per generated loadout (compressed).
// RecordLoadout only queues; a single writer goroutine owns the disk.
type LoadoutLogger struct {
	w *JSONLZstdWriter

	ch    chan loadout.Record
	wg    sync.WaitGroup
	start sync.Once

	mu     sync.RWMutex
	closed bool

	dropped   atomic.Uint64
	written   atomic.Uint64
	writeFail atomic.Uint64
}

// LoadoutLogStats reports the state of the loadout writer queue.
type LoadoutLogStats struct {
	QueueDepth     int    `json:"queue_depth"`
	QueueCapacity  int    `json:"queue_capacity"`
	DropTotal      uint64 `json:"drop_total"`
	WrittenTotal   uint64 `json:"written_total"`
	WriteFailTotal uint64 `json:"write_fail_total"`
}

func NewLoadoutLogger(dataDir string) *LoadoutLogger {
	l := newLoadoutLogger(dataDir, 8192)
	l.run()
	return l
}

func newLoadoutLogger(dataDir string, queue int) *LoadoutLogger {
	return &LoadoutLogger{
		w:  NewJSONLZstdWriter(filepath.Join(dataDir, "loadouts"), "loadouts"),
		ch: make(chan loadout.Record, queue),
	}
}

func (l *LoadoutLogger) run() {
	l.start.Do(func() {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.loop()
		}()
	})
}

func (l *LoadoutLogger) loop() {
	for rec := range l.ch {
		if err := l.w.Write(rec); err != nil {
			l.writeFail.Add(1)
			continue
		}
		l.written.Add(1)
	}
}

// RecordLoadout queues v for the writer goroutine and never blocks. A full
// queue drops the record and counts it.
func (l *LoadoutLogger) RecordLoadout(v loadout.Record) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil
	}
	select {
	case l.ch <- v:
	default:
		l.dropped.Add(1)
	}
	return nil
}

// WriteLoadout writes v synchronously. Offline tools use it; the simulation
// goes through RecordLoadout.
func (l *LoadoutLogger) WriteLoadout(v loadout.Record) error { return l.w.Write(v) }

func (l *LoadoutLogger) Stats() LoadoutLogStats {
	return LoadoutLogStats{
		QueueDepth:     len(l.ch),
		QueueCapacity:  cap(l.ch),
		DropTotal:      l.dropped.Load(),
		WrittenTotal:   l.written.Load(),
		WriteFailTotal: l.writeFail.Load(),
	}
}

// Close drains the queue, then closes the current file.
func (l *LoadoutLogger) Close() error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
	l.mu.Unlock()
	l.run()
	l.wg.Wait()
	return l.w.Close()
}

// AuditEntry records one operator action.
type AuditEntry struct {
	Time   string `json:"time"`
	Tick   uint64 `json:"tick"`
	Actor  string `json:"actor"`
	Action string `json:"action"`
	Item   string `json:"item,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// AuditLogger writes operator audit entries (compressed).
type AuditLogger struct{ w *JSONLZstdWriter }

func NewAuditLogger(dataDir string) *AuditLogger {
	return &AuditLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "audit"), "audit")}
}

func (l *AuditLogger) WriteAudit(v AuditEntry) error {
	if v.Time == "" {
		v.Time = l.w.now().UTC().Format(time.RFC3339)
	}
	return l.w.Write(v)
}

func (l *AuditLogger) Close() error { return l.w.Close() }
