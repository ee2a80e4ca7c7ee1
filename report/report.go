// Package report stores batch manifests in SQLite so that rewrite runs
// can be compared after the fact.
package report

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/weave/instrument"
)

var log = commonlog.GetLogger("weave.report")

// ErrBatchNotFound indicates the requested batch doesn't exist
var ErrBatchNotFound = errors.New("batch not found")

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	label   TEXT NOT NULL,
	created INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS results (
	batch_id INTEGER NOT NULL REFERENCES batches(id),
	seq      INTEGER NOT NULL,
	input    TEXT NOT NULL,
	unit     TEXT NOT NULL,
	status   TEXT NOT NULL,
	reason   TEXT NOT NULL,
	methods  INTEGER NOT NULL,
	probes   INTEGER NOT NULL,
	PRIMARY KEY (batch_id, seq)
);`

// Store is a report database
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Batch is one stored manifest.
type Batch struct {
	ID      int64
	Label   string
	Created time.Time
	Rows    []Row
}

// Row is one stored manifest entry.
type Row struct {
	Input   string
	Unit    string
	Status  instrument.Status
	Reason  string
	Methods int
	Probes  int
}

// Open opens or creates the report database at path
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating report dir: %w", err)
		}
	}

	// Pragmas in the DSN apply to every pooled connection
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveManifest stores m under label and returns the new batch id
func (s *Store) SaveManifest(label string, m *instrument.Manifest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("INSERT INTO batches (label, created) VALUES (?, ?)", label, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("saving batch: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading batch id: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO results
		(batch_id, seq, input, unit, status, reason, methods, probes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range m.Entries {
		r := e.Result
		if _, err := stmt.Exec(id, i, e.Input, r.Unit, r.Status.String(), r.Reason, r.Stats.Methods, r.Stats.Probes()); err != nil {
			return 0, fmt.Errorf("saving result %s: %w", e.Input, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing batch: %w", err)
	}
	log.Debugf("saved batch %d (%s): %d results", id, label, len(m.Entries))
	return id, nil
}

// LoadBatch retrieves a batch and its rows in manifest order
func (s *Store) LoadBatch(id int64) (*Batch, error) {
	b := &Batch{ID: id}
	var created int64
	err := s.db.QueryRow("SELECT label, created FROM batches WHERE id = ?", id).Scan(&b.Label, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("querying batch: %w", err)
	}
	b.Created = time.Unix(created, 0)

	rows, err := s.db.Query(`SELECT input, unit, status, reason, methods, probes
		FROM results WHERE batch_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("querying results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r Row
		var status string
		if err := rows.Scan(&r.Input, &r.Unit, &status, &r.Reason, &r.Methods, &r.Probes); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		if r.Status, err = instrument.ParseStatus(status); err != nil {
			return nil, fmt.Errorf("result %s: %w", r.Input, err)
		}
		b.Rows = append(b.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading results: %w", err)
	}
	return b, nil
}

// Batches lists stored batches, newest first, without their rows
func (s *Store) Batches() ([]Batch, error) {
	rows, err := s.db.Query("SELECT id, label, created FROM batches ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("querying batches: %w", err)
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		var b Batch
		var created int64
		if err := rows.Scan(&b.ID, &b.Label, &created); err != nil {
			return nil, fmt.Errorf("scanning batch: %w", err)
		}
		b.Created = time.Unix(created, 0)
		out = append(out, b)
	}
	return out, rows.Err()
}

// Count returns the number of rows with status st.
func (b *Batch) Count(st instrument.Status) int {
	n := 0
	for _, r := range b.Rows {
		if r.Status == st {
			n++
		}
	}
	return n
}
