// Package syncer reconciles the file system's raw image set against
// a workspace's label database. Images that persist across a
// reconciliation keep their label associations untouched.
package syncer

import (
	"fmt"

	"github.com/skinscan/labeltool/pkg/store"
)

// Result reports what a reconciliation changed.
type Result struct {
	Added   int
	Removed int
}

// Reconcile brings the images table in line with currentPaths: paths
// on disk but not in the database are inserted, database rows without
// a file are deleted together with their associations. An empty diff
// is a successful no-op.
func Reconcile(currentPaths []string, s *store.Store) (Result, error) {
	dbPaths, err := s.AllImagePaths()
	if err != nil {
		return Result{}, fmt.Errorf("failed to read database paths: %w", err)
	}

	current := make(map[string]struct{}, len(currentPaths))
	for _, p := range currentPaths {
		current[p] = struct{}{}
	}

	var res Result
	for _, p := range currentPaths {
		if _, ok := dbPaths[p]; ok {
			continue
		}
		// The set difference guarantees the path is new, so a
		// duplicate failure here is a real error, not a race to paper
		// over.
		if err := s.InsertImage(p); err != nil {
			return res, fmt.Errorf("failed to add %s: %w", p, err)
		}
		res.Added++
	}

	for p := range dbPaths {
		if _, ok := current[p]; ok {
			continue
		}
		if err := s.DeleteImageByPath(p); err != nil {
			return res, fmt.Errorf("failed to remove %s: %w", p, err)
		}
		res.Removed++
	}

	return res, nil
}

// Drift reports how far the database has diverged from the scanned
// image set: the absolute difference between row count and file count.
// Advisory only: a non-zero drift may be an in-progress manual copy,
// so it must never trigger reconciliation by itself.
func Drift(currentPaths []string, s *store.Store) (int, error) {
	n, err := s.CountImages()
	if err != nil {
		return 0, fmt.Errorf("failed to count images: %w", err)
	}
	d := n - len(currentPaths)
	if d < 0 {
		d = -d
	}
	return d, nil
}
