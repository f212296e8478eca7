package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/clem-data/clempick/internal/particles"
)

// DB wraps the catalog database. Runs and particles accumulate across
// extraction batches so results stay queryable after the fact.
type DB struct {
	*sql.DB
}

// New opens (or creates) the catalog database at path. The schema is
// managed separately via MigrateUp.
func New(path string) (*DB, error) {
	sdb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := sdb.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		sdb.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &DB{sdb}, nil
}

// Run records the parameters of one extraction batch.
type Run struct {
	ID      string
	BoxSize int
	DType   string
	Mean    *float64
	Std     *float64
}

// InsertRun stores the batch parameters.
func (db *DB) InsertRun(r Run) error {
	_, err := db.Exec(
		`INSERT INTO runs (id, box_size, dtype, mean, std) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.BoxSize, r.DType, r.Mean, r.Std,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

// InsertParticles stores catalog rows for a run in one transaction.
// isLabel marks label-mask particles as opposed to density particles.
func (db *DB) InsertParticles(runID string, isLabel bool, rows []particles.CatalogRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO particles
			(run_id, identifier, group_name, object_id, tomo_path, particle_path,
			 left_x, left_y, left_z, is_label)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(
			runID, r.Identifier, r.GroupName, r.ID, r.TomoPath, r.ParticlePath,
			r.LeftX, r.LeftY, r.LeftZ, isLabel,
		); err != nil {
			return fmt.Errorf("insert particle %s: %w", r.ParticlePath, err)
		}
	}
	return tx.Commit()
}

// ParticleRow is a catalog row as stored, with its run association.
type ParticleRow struct {
	particles.CatalogRow
	RunID   string
	IsLabel bool
}

// ParticlesForRun returns the catalog of one run in insertion order.
func (db *DB) ParticlesForRun(runID string) ([]ParticleRow, error) {
	rows, err := db.Query(`
		SELECT run_id, identifier, group_name, object_id, tomo_path, particle_path,
		       left_x, left_y, left_z, is_label
		FROM particles WHERE run_id = ? ORDER BY particle_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ParticleRow
	for rows.Next() {
		var p ParticleRow
		if err := rows.Scan(
			&p.RunID, &p.Identifier, &p.GroupName, &p.ID, &p.TomoPath, &p.ParticlePath,
			&p.LeftX, &p.LeftY, &p.LeftZ, &p.IsLabel,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Runs lists all recorded extraction runs, newest first.
func (db *DB) Runs() ([]Run, error) {
	rows, err := db.Query(`SELECT id, box_size, dtype, mean, std FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.BoxSize, &r.DType, &r.Mean, &r.Std); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
