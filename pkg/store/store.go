// Package store owns the persistent label database of a workspace:
// the images table, the labels table and the many-to-many association
// between them. The table and column names are the wire format:
// external tools inspect the sqlite file directly, so they must not
// change.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// schema creates the three tables. Idempotent: safe to run against an
// existing database without data loss.
const schema = `
CREATE TABLE IF NOT EXISTS labels (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	label_name TEXT NOT NULL,
	key_binding TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS images (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	image_path TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS image_labels (
	image_id INTEGER,
	label_id INTEGER,
	PRIMARY KEY (image_id, label_id),
	FOREIGN KEY (image_id) REFERENCES images(id),
	FOREIGN KEY (label_id) REFERENCES labels(id)
);
`

// Label is one row of the labels table.
type Label struct {
	ID         int64
	Name       string
	KeyBinding string
}

// Store is a handle to one workspace's label database. All mutations
// run inside their own transaction; the mutex additionally serializes
// check-then-act sequences (toggle, duplicate checks) so concurrent
// callers cannot interleave between the check and the write.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
}

// Open opens (or creates) the label database at dbPath. The schema is
// not touched; call InitSchema to create the tables.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA synchronous=NORMAL;", "PRAGMA foreign_keys=ON;"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragma: %w", err)
		}
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// InitSchema creates the three tables if they are absent.
func (s *Store) InitSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// SeedImages inserts one row per path, all within one transaction.
// Any path that already has a row aborts the whole seed with
// ErrDuplicateImage; callers pre-filter via AllImagePaths.
func (s *Store) SeedImages(paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin seed: %w", err)
	}
	defer tx.Rollback()

	for _, path := range paths {
		if err := insertImageTx(tx, path); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertImageTx(tx *sql.Tx, path string) error {
	var n int
	if err := tx.QueryRow("SELECT count(*) FROM images WHERE image_path = ?", path).Scan(&n); err != nil {
		return fmt.Errorf("failed to check image %s: %w", path, err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateImage, path)
	}
	if _, err := tx.Exec("INSERT INTO images (image_path) VALUES (?)", path); err != nil {
		return fmt.Errorf("failed to insert image %s: %w", path, err)
	}
	return nil
}

// InsertImage adds a single image row, failing with ErrDuplicateImage
// if the path is already present.
func (s *Store) InsertImage(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin insert: %w", err)
	}
	defer tx.Rollback()

	if err := insertImageTx(tx, path); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteImageByPath removes an image row together with all of its
// label associations, atomically. Deleting an unknown path is a no-op.
func (s *Store) DeleteImageByPath(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM image_labels WHERE image_id = (SELECT id FROM images WHERE image_path = ?)", path); err != nil {
		return fmt.Errorf("failed to delete associations for %s: %w", path, err)
	}
	if _, err := tx.Exec("DELETE FROM images WHERE image_path = ?", path); err != nil {
		return fmt.Errorf("failed to delete image %s: %w", path, err)
	}
	return tx.Commit()
}

// AddLabel inserts a new label and returns its id. The key binding
// must be unique across labels under case-insensitive comparison.
func (s *Store) AddLabel(name, keyBinding string) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, ErrEmptyLabelName
	}
	if strings.TrimSpace(keyBinding) == "" {
		return 0, ErrEmptyKeyBinding
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin add label: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRow("SELECT count(*) FROM labels WHERE UPPER(key_binding) = UPPER(?)", keyBinding).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to check key binding: %w", err)
	}
	if n > 0 {
		return 0, fmt.Errorf("%w: %q", ErrDuplicateKeyBinding, keyBinding)
	}

	res, err := tx.Exec("INSERT INTO labels (label_name, key_binding) VALUES (?, ?)", name, keyBinding)
	if err != nil {
		return 0, fmt.Errorf("failed to insert label: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read label id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit label: %w", err)
	}
	return id, nil
}

// RemoveLabel deletes a label and every association referencing it in
// one transaction. A removal that left dangling image_labels rows
// would corrupt the database, so partial failure rolls back entirely.
func (s *Store) RemoveLabel(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin remove label: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM image_labels WHERE label_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete associations for label %d: %w", id, err)
	}
	if _, err := tx.Exec("DELETE FROM labels WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete label %d: %w", id, err)
	}
	return tx.Commit()
}

// ListLabels returns all labels in insertion order.
func (s *Store) ListLabels() ([]Label, error) {
	rows, err := s.db.Query("SELECT id, label_name, key_binding FROM labels ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}
	defer rows.Close()

	var labels []Label
	for rows.Next() {
		var l Label
		if err := rows.Scan(&l.ID, &l.Name, &l.KeyBinding); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// FindLabelByKey looks a label up by key binding, case-insensitively.
// A nil result with nil error means no label is bound to the key.
func (s *Store) FindLabelByKey(key string) (*Label, error) {
	var l Label
	err := s.db.QueryRow(
		"SELECT id, label_name, key_binding FROM labels WHERE UPPER(key_binding) = UPPER(?)", key,
	).Scan(&l.ID, &l.Name, &l.KeyBinding)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up key %q: %w", key, err)
	}
	return &l, nil
}

// FindImageID returns the id of the image row for path, with ok=false
// when the path has no row.
func (s *Store) FindImageID(path string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRow("SELECT id FROM images WHERE image_path = ?", path).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up image %s: %w", path, err)
	}
	return id, true, nil
}

// LabelsForImage returns the names of all labels attached to an image.
func (s *Store) LabelsForImage(imageID int64) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT label_name
		 FROM labels JOIN image_labels ON labels.id = image_labels.label_id
		 WHERE image_id = ?`, imageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query labels for image %d: %w", imageID, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan label name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ToggleAssociation flips the image↔label association: present rows
// are deleted, absent ones inserted. The check and the write run under
// the store mutex inside one transaction, so two near-simultaneous
// toggles on the same pair serialize into two logical toggles instead
// of racing. Returns whether the association is present afterwards.
func (s *Store) ToggleAssociation(imageID, labelID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin toggle: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRow(
		"SELECT count(*) FROM image_labels WHERE image_id = ? AND label_id = ?", imageID, labelID,
	).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check association: %w", err)
	}

	present := n > 0
	if present {
		_, err = tx.Exec("DELETE FROM image_labels WHERE image_id = ? AND label_id = ?", imageID, labelID)
	} else {
		_, err = tx.Exec("INSERT INTO image_labels (image_id, label_id) VALUES (?, ?)", imageID, labelID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to toggle association: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit toggle: %w", err)
	}
	return !present, nil
}

// CountImages returns the number of image rows.
func (s *Store) CountImages() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT count(*) FROM images").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count images: %w", err)
	}
	return n, nil
}

// AllImagePaths returns the set of image paths currently in the
// database.
func (s *Store) AllImagePaths() (map[string]struct{}, error) {
	rows, err := s.db.Query("SELECT image_path FROM images")
	if err != nil {
		return nil, fmt.Errorf("failed to query image paths: %w", err)
	}
	defer rows.Close()

	paths := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan image path: %w", err)
		}
		paths[p] = struct{}{}
	}
	return paths, rows.Err()
}
