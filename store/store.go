// Package store persists matrix product state snapshots in sqlite.
//
// A snapshot is the list of site tensors A[n][s] of a chain at some step of a run, together with a record of the
// evolution time and energy at that step. Zero tensor elements are not stored.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/fumin/tdvp/mat"
)

const (
	tableStep    = "step"
	tableShape   = "shape"
	tableElement = "element"

	timeout = 10 * time.Second
)

var (
	ErrNotFound = errors.New("not found")
)

// Record describes a snapshot.
type Record struct {
	Step   int
	Tau    complex128
	Energy float64
	Eta    float64
}

// Store is a sqlite database of snapshots.
type Store struct {
	Path string

	db *sql.DB
}

// Open opens the database at path, creating it if needed.
func Open(path string) (*Store, error) {
	db, err := newDB(path)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return &Store{Path: path, db: db}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// Save stores the site tensors of a run at rec.Step, replacing any previous snapshot of the same step.
// state is indexed like mps.Chain.A, with state[0] unused.
func (s *Store) Save(run string, rec Record, state [][]*mat.Dense) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer tx.Rollback()

	if err := deleteStep(ctx, tx, run, rec.Step); err != nil {
		return errors.Wrap(err, "")
	}

	sqlStr := fmt.Sprintf(`INSERT INTO %s (run, step, tau_re, tau_im, energy, eta, sites) VALUES (?, ?, ?, ?, ?, ?, ?)`, tableStep)
	if _, err := tx.ExecContext(ctx, sqlStr, run, rec.Step, real(rec.Tau), imag(rec.Tau), rec.Energy, rec.Eta, len(state)-1); err != nil {
		return errors.Wrap(err, fmt.Sprintf("%s %d", run, rec.Step))
	}

	shapeStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (run, step, site, s, nrows, ncols) VALUES (?, ?, ?, ?, ?, ?)`, tableShape))
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer shapeStmt.Close()
	elemStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (run, step, site, s, i, j, re, im) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, tableElement))
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer elemStmt.Close()

	for n := 1; n < len(state); n++ {
		for sIdx, as := range state[n] {
			rows, cols := as.Dims()
			if _, err := shapeStmt.ExecContext(ctx, run, rec.Step, n, sIdx, rows, cols); err != nil {
				return errors.Wrap(err, fmt.Sprintf("%d %d", n, sIdx))
			}
			for i := 0; i < rows; i++ {
				for j := 0; j < cols; j++ {
					v := as.At(i, j)
					if v == 0 {
						continue
					}
					if _, err := elemStmt.ExecContext(ctx, run, rec.Step, n, sIdx, i, j, real(v), imag(v)); err != nil {
						return errors.Wrap(err, fmt.Sprintf("%d %d %d %d", n, sIdx, i, j))
					}
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// Load returns the snapshot of a run at step.
func (s *Store) Load(run string, step int) (Record, [][]*mat.Dense, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rec, numSites, err := s.record(ctx, run, step)
	if err != nil {
		return Record{}, nil, errors.Wrap(err, "")
	}

	state := make([][]*mat.Dense, numSites+1)
	sqlStr := fmt.Sprintf(`SELECT site, s, nrows, ncols FROM %s WHERE run=? AND step=? ORDER BY site, s`, tableShape)
	rows, err := s.db.QueryContext(ctx, sqlStr, run, step)
	if err != nil {
		return Record{}, nil, errors.Wrap(err, "")
	}
	defer rows.Close()
	for rows.Next() {
		var n, sIdx, r, c int
		if err := rows.Scan(&n, &sIdx, &r, &c); err != nil {
			return Record{}, nil, errors.Wrap(err, "")
		}
		if n < 1 || n > numSites || sIdx != len(state[n]) {
			return Record{}, nil, errors.Errorf("%d %d %d", n, sIdx, numSites)
		}
		state[n] = append(state[n], mat.New(r, c))
	}
	if err := rows.Err(); err != nil {
		return Record{}, nil, errors.Wrap(err, "")
	}

	sqlStr = fmt.Sprintf(`SELECT site, s, i, j, re, im FROM %s WHERE run=? AND step=?`, tableElement)
	elems, err := s.db.QueryContext(ctx, sqlStr, run, step)
	if err != nil {
		return Record{}, nil, errors.Wrap(err, "")
	}
	defer elems.Close()
	for elems.Next() {
		var n, sIdx, i, j int
		var re, im float64
		if err := elems.Scan(&n, &sIdx, &i, &j, &re, &im); err != nil {
			return Record{}, nil, errors.Wrap(err, "")
		}
		if n < 1 || n > numSites || sIdx >= len(state[n]) {
			return Record{}, nil, errors.Errorf("%d %d %d", n, sIdx, numSites)
		}
		state[n][sIdx].Set(i, j, complex(re, im))
	}
	if err := elems.Err(); err != nil {
		return Record{}, nil, errors.Wrap(err, "")
	}

	return rec, state, nil
}

// Records returns the records of a run in increasing order of step.
func (s *Store) Records(run string) ([]Record, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT step, tau_re, tau_im, energy, eta FROM %s WHERE run=? ORDER BY step`, tableStep)
	rows, err := s.db.QueryContext(ctx, sqlStr, run)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	recs := make([]Record, 0)
	for rows.Next() {
		var rec Record
		var tauRe, tauIm float64
		if err := rows.Scan(&rec.Step, &tauRe, &tauIm, &rec.Energy, &rec.Eta); err != nil {
			return nil, errors.Wrap(err, "")
		}
		rec.Tau = complex(tauRe, tauIm)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return recs, nil
}

// Latest returns the record with the largest step of a run.
func (s *Store) Latest(run string) (Record, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT max(step) FROM %s WHERE run=?`, tableStep)
	var step sql.NullInt64
	if err := s.db.QueryRowContext(ctx, sqlStr, run).Scan(&step); err != nil {
		return Record{}, errors.Wrap(err, "")
	}
	if !step.Valid {
		return Record{}, errors.Wrap(ErrNotFound, run)
	}
	rec, _, err := s.record(ctx, run, int(step.Int64))
	if err != nil {
		return Record{}, errors.Wrap(err, "")
	}
	return rec, nil
}

func (s *Store) record(ctx context.Context, run string, step int) (Record, int, error) {
	sqlStr := fmt.Sprintf(`SELECT tau_re, tau_im, energy, eta, sites FROM %s WHERE run=? AND step=?`, tableStep)
	rec := Record{Step: step}
	var tauRe, tauIm float64
	var numSites int
	err := s.db.QueryRowContext(ctx, sqlStr, run, step).Scan(&tauRe, &tauIm, &rec.Energy, &rec.Eta, &numSites)
	switch {
	case err == sql.ErrNoRows:
		return Record{}, -1, errors.Wrap(ErrNotFound, fmt.Sprintf("%s %d", run, step))
	case err != nil:
		return Record{}, -1, errors.Wrap(err, "")
	}
	rec.Tau = complex(tauRe, tauIm)
	return rec, numSites, nil
}

func deleteStep(ctx context.Context, tx *sql.Tx, run string, step int) error {
	for _, table := range []string{tableStep, tableShape, tableElement} {
		sqlStr := fmt.Sprintf(`DELETE FROM %s WHERE run=? AND step=?`, table)
		if _, err := tx.ExecContext(ctx, sqlStr, run, step); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%s %s %d", table, run, step))
		}
	}
	return nil
}

func newDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	if err := prepareDB(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "")
	}

	return db, nil
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	sqlStrs := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (run TEXT, step INTEGER, tau_re REAL, tau_im REAL, energy REAL, eta REAL, sites INTEGER, PRIMARY KEY (run, step)) STRICT`, tableStep),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (run TEXT, step INTEGER, site INTEGER, s INTEGER, nrows INTEGER, ncols INTEGER, PRIMARY KEY (run, step, site, s)) STRICT`, tableShape),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (run TEXT, step INTEGER, site INTEGER, s INTEGER, i INTEGER, j INTEGER, re REAL, im REAL, PRIMARY KEY (run, step, site, s, i, j)) STRICT`, tableElement),
	}
	for _, sqlStr := range sqlStrs {
		if _, err := db.ExecContext(ctx, sqlStr); err != nil {
			return errors.Wrap(err, sqlStr)
		}
	}
	return nil
}
