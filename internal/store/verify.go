// ABOUTME: Consistency scan between the catalog and the on-disk image tree
// ABOUTME: Catalog entries and image files are independently checkable artifacts
package store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/harper/recall/internal/models"
)

// VerifyReport lists both directions of catalog/disk disagreement.
type VerifyReport struct {
	FramesChecked int
	FilesChecked  int
	// MissingImages are catalog entries whose image file is gone.
	MissingImages []string
	// OrphanFiles are image files with no catalog entry.
	OrphanFiles []string
}

// Clean reports whether the catalog and disk agree.
func (r *VerifyReport) Clean() bool {
	return len(r.MissingImages) == 0 && len(r.OrphanFiles) == 0
}

// Err returns a data-integrity error describing the report, or nil when clean.
func (r *VerifyReport) Err() error {
	if r.Clean() {
		return nil
	}
	return fmt.Errorf("%w: %d missing images, %d orphan files",
		models.ErrCorruptCatalog, len(r.MissingImages), len(r.OrphanFiles))
}

// Verify walks both artifacts: every catalog entry must have its image file
// on disk, and every image file under the frames tree must have a catalog
// entry. Either kind of orphan is corruption.
func (s *Store) Verify(ctx context.Context) (*VerifyReport, error) {
	report := &VerifyReport{}

	rows, err := s.db.conn.QueryContext(ctx, `SELECT image_path FROM frames`)
	if err != nil {
		return nil, fmt.Errorf("failed to scan catalog: %w", err)
	}
	catalogPaths := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, err
		}
		catalogPaths[p] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for p := range catalogPaths {
		report.FramesChecked++
		if _, err := os.Stat(p); err != nil {
			report.MissingImages = append(report.MissingImages, p)
		}
	}

	framesRoot := filepath.Join(s.dataDir, "frames")
	err = filepath.WalkDir(framesRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		report.FilesChecked++
		if _, ok := catalogPaths[path]; !ok {
			report.OrphanFiles = append(report.OrphanFiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk image tree: %w", err)
	}

	return report, nil
}
