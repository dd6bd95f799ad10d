package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/threadweave/threadweave/core"
)

// SQLite is a durable core.Log backed by a SQLite database. Non-transient
// events are committed before Append returns; transient events live in an
// in-memory overlay that is merged into reads and delivered to subscribers
// but discarded on restart.
//
// Schema: one row per event keyed by (thread_id, seq), payload as JSON, so
// the store supports the three required operations: ordered scan by thread,
// atomic append, existence check.
type SQLite struct {
	db *sql.DB

	mu      sync.Mutex
	threads map[core.ThreadID]*sqliteThread
}

type sqliteThread struct {
	nextSeq   int64
	seqLoaded bool
	closed    bool
	transient []core.ThreadEvent
	nextSub   int
	subs      map[int]chan core.ThreadEvent
}

var _ core.Log = (*SQLite)(nil)

// NewSQLite opens (or creates) the database at path and initializes the
// schema. WAL mode keeps concurrent readers consistent with the single
// writer per thread.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	s := &SQLite{db: db, threads: make(map[core.ThreadID]*sqliteThread)}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			closed INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			id TEXT NOT NULL,
			type TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (thread_id, seq),
			FOREIGN KEY (thread_id) REFERENCES threads(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_thread ON events(thread_id, seq)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// CloseDB releases the underlying database handle.
func (s *SQLite) CloseDB() error { return s.db.Close() }

func (s *SQLite) threadState(ctx context.Context, id core.ThreadID) (*sqliteThread, error) {
	st, ok := s.threads[id]
	if !ok {
		st = &sqliteThread{subs: map[int]chan core.ThreadEvent{}}
		s.threads[id] = st
	}
	if !st.seqLoaded {
		var maxSeq sql.NullInt64
		err := s.db.QueryRowContext(ctx,
			`SELECT MAX(seq) FROM events WHERE thread_id = ?`, string(id)).Scan(&maxSeq)
		if err != nil {
			return nil, fmt.Errorf("%w: load sequence: %v", core.ErrStorageWrite, err)
		}
		if maxSeq.Valid {
			st.nextSeq = maxSeq.Int64 + 1
		}
		var closed sql.NullInt64
		err = s.db.QueryRowContext(ctx,
			`SELECT closed FROM threads WHERE id = ?`, string(id)).Scan(&closed)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: load thread: %v", core.ErrStorageWrite, err)
		}
		st.closed = closed.Valid && closed.Int64 != 0
		st.seqLoaded = true
	}
	return st, nil
}

// Append implements core.Log.
func (s *SQLite) Append(ctx context.Context, ev core.ThreadEvent) (core.ThreadEvent, error) {
	s.mu.Lock()
	st, err := s.threadState(ctx, ev.ThreadID)
	if err != nil {
		s.mu.Unlock()
		return core.ThreadEvent{}, err
	}
	if st.closed {
		s.mu.Unlock()
		return core.ThreadEvent{}, core.ErrThreadClosed
	}
	ev.Seq = st.nextSeq
	st.nextSeq++

	if ev.Transient {
		st.transient = append(st.transient, ev)
	} else if err := s.insert(ctx, ev); err != nil {
		// roll the counter back so the order stays dense after a failed write
		st.nextSeq--
		s.mu.Unlock()
		return core.ThreadEvent{}, err
	}
	subs := make([]chan core.ThreadEvent, 0, len(st.subs))
	for _, ch := range st.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev, nil
}

func (s *SQLite) insert(ctx context.Context, ev core.ThreadEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: encode event: %v", core.ErrStorageWrite, err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", core.ErrStorageWrite, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO threads (id, closed, created_at) VALUES (?, 0, ?)`,
		string(ev.ThreadID), time.Now().UTC()); err != nil {
		return fmt.Errorf("%w: ensure thread: %v", core.ErrStorageWrite, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (thread_id, seq, id, type, timestamp, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		string(ev.ThreadID), ev.Seq, ev.ID, string(ev.Type), ev.Timestamp, string(payload)); err != nil {
		return fmt.Errorf("%w: insert event: %v", core.ErrStorageWrite, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", core.ErrStorageWrite, err)
	}
	return nil
}

// Read implements core.Log: persisted rows merged with the transient overlay,
// ordered by sequence.
func (s *SQLite) Read(ctx context.Context, id core.ThreadID) ([]core.ThreadEvent, error) {
	persisted, err := s.ReadPersisted(ctx, id)
	if err != nil && !errors.Is(err, core.ErrThreadNotFound) {
		return nil, err
	}
	s.mu.Lock()
	var overlay []core.ThreadEvent
	if st, ok := s.threads[id]; ok {
		overlay = append(overlay, st.transient...)
	}
	s.mu.Unlock()

	if persisted == nil && overlay == nil {
		return nil, core.ErrThreadNotFound
	}
	merged := append(persisted, overlay...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Seq < merged[j].Seq })
	return merged, nil
}

// ReadPersisted implements core.Log.
func (s *SQLite) ReadPersisted(ctx context.Context, id core.ThreadID) ([]core.ThreadEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM events WHERE thread_id = ? ORDER BY seq`, string(id))
	if err != nil {
		return nil, fmt.Errorf("%w: scan events: %v", core.ErrStorageWrite, err)
	}
	defer rows.Close()

	var events []core.ThreadEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", core.ErrStorageWrite, err)
		}
		var ev core.ThreadEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("%w: decode event: %v", core.ErrStorageWrite, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate rows: %v", core.ErrStorageWrite, err)
	}
	if events == nil {
		exists, err := s.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, core.ErrThreadNotFound
		}
	}
	return events, nil
}

// Subscribe implements core.Log.
func (s *SQLite) Subscribe(id core.ThreadID) (<-chan core.ThreadEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.threads[id]
	if !ok {
		st = &sqliteThread{subs: map[int]chan core.ThreadEvent{}}
		s.threads[id] = st
	}
	key := st.nextSub
	st.nextSub++
	ch := make(chan core.ThreadEvent, 128)
	st.subs[key] = ch
	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := st.subs[key]; ok {
			delete(st.subs, key)
			close(ch)
		}
	}
	return ch, cancel
}

// Exists implements core.Log.
func (s *SQLite) Exists(ctx context.Context, id core.ThreadID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM threads WHERE id = ?`, string(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		s.mu.Lock()
		_, inMem := s.threads[id]
		hasTransient := inMem && len(s.threads[id].transient) > 0
		s.mu.Unlock()
		return hasTransient, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: existence check: %v", core.ErrStorageWrite, err)
	}
	return true, nil
}

// Close implements core.Log.
func (s *SQLite) Close(ctx context.Context, id core.ThreadID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.threadState(ctx, id)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE threads SET closed = 1 WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("%w: close thread: %v", core.ErrStorageWrite, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrThreadNotFound
	}
	st.closed = true
	return nil
}
