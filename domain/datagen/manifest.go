package datagen

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ManifestFileName is the sqlite index written next to labels.csv.
const ManifestFileName = "manifest.db"

const manifestSchema = `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		requested INTEGER NOT NULL,
		written INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS samples (
		run_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		rgb_path TEXT NOT NULL,
		depth_path TEXT NOT NULL,
		seg_path TEXT NOT NULL,
		pos_x REAL, pos_y REAL, pos_z REAL,
		light_x REAL, light_y REAL, light_z REAL,
		eye_x REAL, eye_y REAL, eye_z REAL,
		target_x REAL, target_y REAL, target_z REAL,
		PRIMARY KEY (run_id, idx),
		FOREIGN KEY (run_id) REFERENCES runs(run_id)
	);
`

// Manifest records every written sample in a sqlite database.
type Manifest struct {
	db    *sql.DB
	runID string
}

// OpenManifest opens (or creates) the manifest and registers a run.
func OpenManifest(path, runID string, requested int) (*Manifest, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	if _, err := db.Exec(manifestSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create manifest schema: %w", err)
	}
	_, err = db.Exec(`INSERT INTO runs (run_id, started_at, requested) VALUES (?, ?, ?)`,
		runID, time.Now().UTC().Format(time.RFC3339), requested)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("register run %s: %w", runID, err)
	}
	return &Manifest{db: db, runID: runID}, nil
}

// Record stores one written sample and bumps the run's counter.
func (m *Manifest) Record(s Sample, label Label, files Files) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("begin manifest transaction: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO samples (run_id, idx, rgb_path, depth_path, seg_path,
			pos_x, pos_y, pos_z, light_x, light_y, light_z,
			eye_x, eye_y, eye_z, target_x, target_y, target_z)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.runID, s.Index, files.RGB, files.Depth, files.Seg,
		label.Position.X, label.Position.Y, label.Position.Z,
		s.Light.X, s.Light.Y, s.Light.Z,
		s.Eye.X, s.Eye.Y, s.Eye.Z,
		s.Target.X, s.Target.Y, s.Target.Z,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("insert sample %d: %w", s.Index, err)
	}
	if _, err := tx.Exec(`UPDATE runs SET written = written + 1 WHERE run_id = ?`, m.runID); err != nil {
		tx.Rollback()
		return fmt.Errorf("update run %s: %w", m.runID, err)
	}
	return tx.Commit()
}

// Count returns how many samples the run has recorded.
func (m *Manifest) Count() (int, error) {
	var n int
	err := m.db.QueryRow(`SELECT COUNT(*) FROM samples WHERE run_id = ?`, m.runID).Scan(&n)
	return n, err
}

func (m *Manifest) Close() error {
	return m.db.Close()
}
