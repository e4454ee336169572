// Package store persists the ephemeris dataset in a SQLite cache: one
// state_vectors table mapping the canonical epoch string to the record's
// numeric fields. The table is replaced wholesale inside a transaction on
// every load, so readers see either the previous dataset or the new one in
// full, never a mix.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/orbit/ephgo/internal/oem"
)

// ErrUnavailable indicates the cache backend could not be reached.
var ErrUnavailable = errors.New("state vector store unavailable")

const schema = `
CREATE TABLE IF NOT EXISTS state_vectors (
	epoch TEXT PRIMARY KEY,
	x     REAL NOT NULL,
	y     REAL NOT NULL,
	z     REAL NOT NULL,
	x_dot REAL NOT NULL,
	y_dot REAL NOT NULL,
	z_dot REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS dataset_meta (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	source     TEXT NOT NULL,
	fetched_at TEXT NOT NULL
);
`

// Store provides access to the SQLite-backed state vector cache.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the cache database at the given path and ensures the
// schema exists.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode=WAL&_pragma=synchronous=NORMAL&_pragma=busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the cache backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// HasData reports whether the cache currently holds any state vectors.
func (s *Store) HasData(ctx context.Context) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM state_vectors)`).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return exists, nil
}

// Load replaces all cache entries with the given dataset in one transaction.
func (s *Store) Load(ctx context.Context, ds *oem.Dataset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM state_vectors`); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO state_vectors (epoch, x, y, z, x_dot, y_dot, z_dot)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, sv := range ds.Vectors {
		_, err := stmt.ExecContext(ctx, oem.FormatEpoch(sv.Epoch),
			sv.X, sv.Y, sv.Z, sv.XDot, sv.YDot, sv.ZDot)
		if err != nil {
			return fmt.Errorf("inserting epoch %s: %w", oem.FormatEpoch(sv.Epoch), err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dataset_meta (id, source, fetched_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET source = excluded.source, fetched_at = excluded.fetched_at`,
		ds.Source, ds.FetchedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("writing dataset metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.logger.Info("cache loaded", "vectors", len(ds.Vectors), "source", ds.Source)
	return nil
}

// ReadAll returns every cached entry in epoch order. The canonical epoch
// layout is fixed width, so lexicographic TEXT order is chronological order.
// A row that fails typed deserialization is a *oem.ParseError, not a silent
// skip.
func (s *Store) ReadAll(ctx context.Context) (*oem.Dataset, error) {
	source, fetchedAt, err := s.readMeta(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT epoch, x, y, z, x_dot, y_dot, z_dot
		FROM state_vectors ORDER BY epoch`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var vectors []oem.StateVector
	for rows.Next() {
		var epochStr string
		var sv oem.StateVector
		if err := rows.Scan(&epochStr, &sv.X, &sv.Y, &sv.Z, &sv.XDot, &sv.YDot, &sv.ZDot); err != nil {
			return nil, fmt.Errorf("scanning cache row: %w", err)
		}
		sv.Epoch, err = oem.ParseEpoch(epochStr)
		if err != nil {
			return nil, &oem.ParseError{Offset: -1, Msg: fmt.Sprintf("malformed cached epoch %q", epochStr), Err: err}
		}
		if hasNonFinite(sv) {
			return nil, &oem.ParseError{Offset: -1, Msg: fmt.Sprintf("non-finite fields in cached epoch %q", epochStr)}
		}
		vectors = append(vectors, sv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return oem.NewDataset(source, fetchedAt, vectors), nil
}

func (s *Store) readMeta(ctx context.Context) (source string, fetchedAt time.Time, err error) {
	var fetchedStr string
	err = s.db.QueryRowContext(ctx, `SELECT source, fetched_at FROM dataset_meta WHERE id = 1`).
		Scan(&source, &fetchedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return "cache", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	fetchedAt, err = time.Parse(time.RFC3339Nano, fetchedStr)
	if err != nil {
		return "", time.Time{}, &oem.ParseError{Offset: -1, Msg: fmt.Sprintf("malformed fetched_at %q", fetchedStr), Err: err}
	}
	return source, fetchedAt, nil
}

func hasNonFinite(sv oem.StateVector) bool {
	for _, v := range []float64{sv.X, sv.Y, sv.Z, sv.XDot, sv.YDot, sv.ZDot} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}
