// Package tabledump writes tabulated pair actions to a SQLite file for
// offline inspection.
package tabledump

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/coulomb-action/core"
	"github.com/signalsfoundry/coulomb-action/internal/logging"
)

// Store wraps a SQLite connection holding pair table dumps. It satisfies
// core.TableSink.
type Store struct {
	conn *sqlx.DB
}

// TableRow is the summary of one dumped table.
type TableRow struct {
	ID      int64   `db:"id"`
	RunID   string  `db:"run_id"`
	Pair    string  `db:"pair"`
	Kind    string  `db:"kind"`
	Order   int     `db:"expansion_order"`
	Q1Q2    float64 `db:"q1q2"`
	Mu      float64 `db:"mu"`
	RMin    float64 `db:"rmin"`
	RMax    float64 `db:"rmax"`
	Points  int     `db:"points"`
	NImages int     `db:"n_images"`
	Created int64   `db:"created_unix"`
}

// SampleRow is one tabulated entry.
type SampleRow struct {
	R     float64 `db:"r"`
	Order int     `db:"expansion_order"`
	U     float64 `db:"u"`
	UTau  float64 `db:"utau"`
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*Store, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pair_tables (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		pair TEXT NOT NULL,
		kind TEXT NOT NULL,
		expansion_order INTEGER NOT NULL,
		q1q2 REAL NOT NULL,
		mu REAL NOT NULL,
		rmin REAL NOT NULL,
		rmax REAL NOT NULL,
		points INTEGER NOT NULL,
		n_images INTEGER NOT NULL,
		created_unix INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pair_samples (
		table_id INTEGER NOT NULL REFERENCES pair_tables(id),
		expansion_order INTEGER NOT NULL,
		r REAL NOT NULL,
		u REAL NOT NULL,
		utau REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_samples_table ON pair_samples(table_id, expansion_order);
	CREATE INDEX IF NOT EXISTS idx_tables_pair ON pair_tables(pair);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// WriteTable stores the summary and every sample of one pair table. The run
// ID is taken from ctx when present.
func (s *Store) WriteTable(ctx context.Context, t *core.PairActionTable) error {
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	pair := t.Pair()
	rmin, rmax := t.Grid().Range()
	res, err := tx.ExecContext(ctx, `INSERT INTO pair_tables
		(run_id, pair, kind, expansion_order, q1q2, mu, rmin, rmax, points, n_images, created_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		logging.RunIDFromContext(ctx), pair.String(), t.Kind().String(), pair.Order,
		pair.Q1Q2, pair.Mu, rmin, rmax, t.Grid().Len(), t.NImages(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert table %s: %w", pair, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO pair_samples
		(table_id, expansion_order, r, u, utau) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, smp := range t.Samples() {
		if _, err := stmt.ExecContext(ctx, id, smp.Order, smp.R, smp.U, smp.UTau); err != nil {
			return fmt.Errorf("insert sample of %s: %w", pair, err)
		}
	}
	return tx.Commit()
}

// Tables lists the dumped tables in insertion order.
func (s *Store) Tables(ctx context.Context) ([]TableRow, error) {
	var rows []TableRow
	err := s.conn.SelectContext(ctx, &rows, `SELECT id, run_id, pair, kind, expansion_order,
		q1q2, mu, rmin, rmax, points, n_images, created_unix FROM pair_tables ORDER BY id`)
	return rows, err
}

// Samples returns the entries of one table for one expansion order, ordered
// by radius.
func (s *Store) Samples(ctx context.Context, tableID int64, order int) ([]SampleRow, error) {
	var rows []SampleRow
	err := s.conn.SelectContext(ctx, &rows, `SELECT r, expansion_order, u, utau FROM pair_samples
		WHERE table_id = ? AND expansion_order = ? ORDER BY r`, tableID, order)
	return rows, err
}
