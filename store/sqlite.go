// ABOUTME: SQLite-backed artifact store with insert-only versioning and scene planning locks.
// ABOUTME: Version assignment is optimistic: concurrent creators retry on the unique-index conflict.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
)

// createRetries bounds the optimistic retry loop in Create. Two creators
// computing the same next version collide on the unique index; the loser
// recomputes and reinserts.
const createRetries = 3

// Store persists scenes and their versioned artifacts in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the storyboard database at the given path and
// ensures the schema exists. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS scenes (
			scene_id TEXT PRIMARY KEY,
			story_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			source_text TEXT NOT NULL,
			planning_locked INTEGER NOT NULL DEFAULT 0,
			style_override TEXT,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS artifacts (
			artifact_id TEXT PRIMARY KEY,
			scene_id TEXT NOT NULL,
			type TEXT NOT NULL,
			version INTEGER NOT NULL,
			parent_id TEXT,
			payload TEXT NOT NULL,
			created_by TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE (scene_id, type, version),
			FOREIGN KEY (scene_id) REFERENCES scenes(scene_id)
		);

		CREATE INDEX IF NOT EXISTS idx_artifacts_scene ON artifacts(scene_id, type, version);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateScene inserts a scene row and returns it with a fresh ULID.
func (s *Store) CreateScene(ctx context.Context, storyID string, index int, sourceText string, styleOverride *string) (*Scene, error) {
	sc := &Scene{
		ID:            ulid.Make().String(),
		StoryID:       storyID,
		Index:         index,
		SourceText:    sourceText,
		StyleOverride: styleOverride,
		CreatedAt:     time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scenes (scene_id, story_id, idx, source_text, planning_locked, style_override, created_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		sc.ID, sc.StoryID, sc.Index, sc.SourceText, sc.StyleOverride, sc.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert scene: %w", err)
	}
	return sc, nil
}

// GetScene returns the scene with the given ID, or ErrNotFound.
func (s *Store) GetScene(ctx context.Context, sceneID string) (*Scene, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT scene_id, story_id, idx, source_text, planning_locked, style_override, created_at
		 FROM scenes WHERE scene_id = ?`, sceneID)
	return scanScene(row)
}

// ListScenes returns all scenes for a story ordered by index.
func (s *Store) ListScenes(ctx context.Context, storyID string) ([]*Scene, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scene_id, story_id, idx, source_text, planning_locked, style_override, created_at
		 FROM scenes WHERE story_id = ? ORDER BY idx`, storyID)
	if err != nil {
		return nil, fmt.Errorf("list scenes: %w", err)
	}
	defer rows.Close()

	var scenes []*Scene
	for rows.Next() {
		sc, err := scanScene(rows)
		if err != nil {
			return nil, err
		}
		scenes = append(scenes, sc)
	}
	return scenes, rows.Err()
}

// SetLocked sets or clears the planning lock on a scene.
func (s *Store) SetLocked(ctx context.Context, sceneID string, locked bool) error {
	lockVal := 0
	if locked {
		lockVal = 1
	}
	res, err := s.db.ExecContext(ctx, `UPDATE scenes SET planning_locked = ? WHERE scene_id = ?`, lockVal, sceneID)
	if err != nil {
		return fmt.Errorf("set lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("scene %q: %w", sceneID, ErrNotFound)
	}
	return nil
}

// Create inserts the next version of an artifact for (sceneID, artifactType).
// The parent pointer is set to the current latest version of the same key, so
// lineage forms a singly-linked chain. Artifacts are never updated or deleted.
//
// Version assignment is optimistic: the next version is computed as
// MAX(version)+1 and the insert relies on the (scene_id, type, version)
// unique index to detect a concurrent creator. On conflict the computation
// is retried up to createRetries times before ErrVersionConflict.
func (s *Store) Create(ctx context.Context, sceneID, artifactType string, payload any, createdBy string) (*Artifact, error) {
	sc, err := s.GetScene(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	if sc.PlanningLocked {
		return nil, fmt.Errorf("scene %q artifact %q: %w", sceneID, artifactType, ErrSceneLocked)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	for attempt := 0; attempt < createRetries; attempt++ {
		prev, err := s.Latest(ctx, sceneID, artifactType)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		art := &Artifact{
			ID:        ulid.Make().String(),
			SceneID:   sceneID,
			Type:      artifactType,
			Version:   1,
			Payload:   raw,
			CreatedBy: createdBy,
			CreatedAt: time.Now().UTC(),
		}
		if prev != nil {
			art.Version = prev.Version + 1
			parentID := prev.ID
			art.ParentID = &parentID
		}

		_, err = s.db.ExecContext(ctx,
			`INSERT INTO artifacts (artifact_id, scene_id, type, version, parent_id, payload, created_by, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			art.ID, art.SceneID, art.Type, art.Version, art.ParentID, string(art.Payload), art.CreatedBy,
			art.CreatedAt.Format(time.RFC3339Nano),
		)
		if err == nil {
			return art, nil
		}
		if isConstraintViolation(err) {
			// Lost the race for this version number; recompute and retry.
			continue
		}
		return nil, fmt.Errorf("insert artifact: %w", err)
	}

	return nil, fmt.Errorf("scene %q artifact %q after %d attempts: %w", sceneID, artifactType, createRetries, ErrVersionConflict)
}

// Latest returns the highest-version artifact for (sceneID, artifactType),
// or ErrNotFound if none exists.
func (s *Store) Latest(ctx context.Context, sceneID, artifactType string) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT artifact_id, scene_id, type, version, parent_id, payload, created_by, created_at
		 FROM artifacts WHERE scene_id = ? AND type = ?
		 ORDER BY version DESC LIMIT 1`, sceneID, artifactType)
	return scanArtifact(row)
}

// Get returns the artifact with the given ID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, artifactID string) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT artifact_id, scene_id, type, version, parent_id, payload, created_by, created_at
		 FROM artifacts WHERE artifact_id = ?`, artifactID)
	return scanArtifact(row)
}

// List returns all artifacts for a scene ordered by (type, version).
// When artifactType is non-empty the result is filtered to that type.
func (s *Store) List(ctx context.Context, sceneID, artifactType string) ([]*Artifact, error) {
	query := `SELECT artifact_id, scene_id, type, version, parent_id, payload, created_by, created_at
		 FROM artifacts WHERE scene_id = ?`
	args := []any{sceneID}
	if artifactType != "" {
		query += ` AND type = ?`
		args = append(args, artifactType)
	}
	query += ` ORDER BY type, version`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		art, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, art)
	}
	return artifacts, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanScene(row rowScanner) (*Scene, error) {
	var sc Scene
	var locked int
	var createdAt string
	err := row.Scan(&sc.ID, &sc.StoryID, &sc.Index, &sc.SourceText, &locked, &sc.StyleOverride, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan scene: %w", err)
	}
	sc.PlanningLocked = locked != 0
	sc.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse scene timestamp: %w", err)
	}
	return &sc, nil
}

func scanArtifact(row rowScanner) (*Artifact, error) {
	var art Artifact
	var payload string
	var createdAt string
	err := row.Scan(&art.ID, &art.SceneID, &art.Type, &art.Version, &art.ParentID, &payload, &art.CreatedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan artifact: %w", err)
	}
	art.Payload = json.RawMessage(payload)
	art.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse artifact timestamp: %w", err)
	}
	return &art, nil
}

// isConstraintViolation reports whether err is a SQLite unique/constraint error.
func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
