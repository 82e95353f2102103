package gcstats

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNoSamples indicates nothing was recorded for the requested arena.
var ErrNoSamples = errors.New("no samples recorded")

// Recorder stores samples in a SQLite database. Each row keeps a few
// columns for querying next to the full CBOR-encoded sample.
type Recorder struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Summary aggregates the recorded samples of one arena.
type Summary struct {
	Samples       int
	Cycles        uint64
	PeakAllocated uint64
	MeanDebt      float64
}

// OpenRecorder opens (creating if needed) the database at dbPath. Use
// ":memory:" for a throwaway database.
func OpenRecorder(dbPath string) (*Recorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS samples (
		arena TEXT NOT NULL,
		step INTEGER NOT NULL,
		phase TEXT NOT NULL,
		total_allocated INTEGER NOT NULL,
		debt REAL NOT NULL,
		cycles INTEGER NOT NULL,
		data BLOB NOT NULL,
		PRIMARY KEY (arena, step)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Recorder{db: db, dbPath: dbPath}, nil
}

// Path returns the database location.
func (r *Recorder) Path() string { return r.dbPath }

// Close closes the database connection.
func (r *Recorder) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Record stores s, replacing any earlier sample for the same arena and step.
func (r *Recorder) Record(s *Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding sample: %w", err)
	}
	_, err = r.db.Exec(
		`INSERT OR REPLACE INTO samples (arena, step, phase, total_allocated, debt, cycles, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.Arena.String(), s.Step, s.Phase, int64(s.TotalAllocated), s.Debt, int64(s.Cycles), data,
	)
	if err != nil {
		return fmt.Errorf("saving sample: %w", err)
	}
	return nil
}

// Samples returns every sample of arena in step order.
func (r *Recorder) Samples(arena uuid.UUID) ([]Sample, error) {
	rows, err := r.db.Query("SELECT data FROM samples WHERE arena = ? ORDER BY step", arena.String())
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		s, err := Unmarshal(data)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	return out, nil
}

// Latest returns the sample with the highest step for arena.
func (r *Recorder) Latest(arena uuid.UUID) (*Sample, error) {
	var data []byte
	err := r.db.QueryRow(
		"SELECT data FROM samples WHERE arena = ? ORDER BY step DESC LIMIT 1",
		arena.String(),
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoSamples
		}
		return nil, fmt.Errorf("querying sample: %w", err)
	}
	return Unmarshal(data)
}

// Arenas lists the arenas with recorded samples.
func (r *Recorder) Arenas() ([]uuid.UUID, error) {
	rows, err := r.db.Query("SELECT DISTINCT arena FROM samples ORDER BY arena")
	if err != nil {
		return nil, fmt.Errorf("querying arenas: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning arena: %w", err)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parsing arena id %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Summarize aggregates the samples of arena.
func (r *Recorder) Summarize(arena uuid.UUID) (Summary, error) {
	var (
		sum          Summary
		cycles, peak sql.NullInt64
		meanDebt     sql.NullFloat64
	)
	err := r.db.QueryRow(
		"SELECT COUNT(*), MAX(cycles), MAX(total_allocated), AVG(debt) FROM samples WHERE arena = ?",
		arena.String(),
	).Scan(&sum.Samples, &cycles, &peak, &meanDebt)
	if err != nil {
		return Summary{}, fmt.Errorf("summarizing samples: %w", err)
	}
	if sum.Samples == 0 {
		return Summary{}, ErrNoSamples
	}
	sum.Cycles = uint64(cycles.Int64)
	sum.PeakAllocated = uint64(peak.Int64)
	sum.MeanDebt = meanDebt.Float64
	return sum, nil
}
