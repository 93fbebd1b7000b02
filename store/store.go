// Package store keeps a history of Flux runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/flux/vm"
	"github.com/chazu/flux/wire"
)

var log = commonlog.GetLogger("flux.store")

// ErrRunNotFound indicates the requested run doesn't exist
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded execution. Result is nil for a failed run, whose
// error text is in Error.
type Run struct {
	ID        uuid.UUID
	Name      string
	Mode      string
	Lanes     int
	Source    string
	Result    *vm.Result
	Error     string
	Elapsed   time.Duration
	CreatedAt time.Time
}

// Value returns the result value, or 0 for a failed run.
func (r *Run) Value() int32 {
	if r.Result == nil {
		return 0
	}
	return r.Result.Value
}

// Store is the run history database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

const schema = `CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	mode       TEXT NOT NULL,
	lanes      INTEGER NOT NULL,
	source     TEXT NOT NULL,
	value      INTEGER NOT NULL,
	result     BLOB,
	error      TEXT NOT NULL,
	elapsed    INTEGER NOT NULL,
	created_at INTEGER NOT NULL
)`

// Open opens or creates the database at path, creating parent directories
// as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened history %s", path)
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record saves a run, assigning its ID and creation time when unset.
func (s *Store) Record(ctx context.Context, r *Run) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	var result []byte
	if r.Result != nil {
		var err error
		if result, err = wire.MarshalResult(r.Result); err != nil {
			return uuid.Nil, fmt.Errorf("encoding result: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, name, mode, lanes, source, value, result, error, elapsed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.Name, r.Mode, r.Lanes, r.Source, r.Value(), result, r.Error,
		int64(r.Elapsed), r.CreatedAt.UnixNano(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("saving run: %w", err)
	}
	return r.ID, nil
}

const columns = `id, name, mode, lanes, source, result, error, elapsed, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r       Run
		id      string
		result  []byte
		elapsed int64
		created int64
	)
	if err := row.Scan(&id, &r.Name, &r.Mode, &r.Lanes, &r.Source, &result, &r.Error, &elapsed, &created); err != nil {
		return nil, err
	}

	var err error
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing run id %q: %w", id, err)
	}
	if len(result) > 0 {
		if r.Result, err = wire.UnmarshalResult(result); err != nil {
			return nil, err
		}
	}
	r.Elapsed = time.Duration(elapsed)
	r.CreatedAt = time.Unix(0, created)
	return &r, nil
}

// Get retrieves a run by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+columns+" FROM runs WHERE id = ?", id.String())
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return r, nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+columns+" FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("reading run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
