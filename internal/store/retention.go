// ABOUTME: Retention policy: whole-bucket eviction once storage exceeds quota
// ABOUTME: Removes catalog rows and image files together, never under a live scan
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/harper/recall/internal/models"
)

// EnforceRetention evicts whole buckets, oldest first, until total image
// storage fits under quotaBytes. A quota of zero disables retention. The
// active bucket (the one containing the newest frame) is never evicted.
// Eviction takes the scan lock, so it cannot run while a range scan
// overlapping the bucket is in progress.
func (s *Store) EnforceRetention(ctx context.Context, quotaBytes int64) ([]string, error) {
	if quotaBytes <= 0 {
		return nil, nil
	}

	var evicted []string
	for s.DiskUsage() > quotaBytes {
		day, err := s.oldestBucket(ctx)
		if err != nil {
			return evicted, err
		}
		if day == "" {
			break
		}
		_, latest, ok := s.DateRange()
		if ok && day == models.BucketDay(latest) {
			// Down to the active bucket; nothing older left to evict.
			break
		}
		if err := s.evictBucket(ctx, day); err != nil {
			return evicted, err
		}
		evicted = append(evicted, day)
		s.logger.Info("evicted bucket for retention", "day", day, "disk_usage", s.DiskUsage())
	}
	return evicted, nil
}

// EnsureCapacity makes room for an incoming frame of need bytes by evicting
// whole buckets, oldest first, until DiskUsage()+need fits under quotaBytes.
// The bucket the incoming frame belongs to (by ts) is never evicted, so
// storage genuinely full of today's frames still reports full rather than
// eating its own bucket. A quota of zero disables the check.
func (s *Store) EnsureCapacity(ctx context.Context, quotaBytes, need int64, ts time.Time) ([]string, error) {
	if quotaBytes <= 0 {
		return nil, nil
	}
	incomingDay := models.BucketDay(ts)

	var evicted []string
	for s.DiskUsage()+need > quotaBytes {
		day, err := s.oldestBucket(ctx)
		if err != nil {
			return evicted, err
		}
		if day == "" || day == incomingDay {
			break
		}
		if err := s.evictBucket(ctx, day); err != nil {
			return evicted, err
		}
		evicted = append(evicted, day)
		s.logger.Info("evicted bucket to make room", "day", day, "disk_usage", s.DiskUsage())
	}
	return evicted, nil
}

func (s *Store) oldestBucket(ctx context.Context) (string, error) {
	var day string
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT day FROM buckets ORDER BY day ASC LIMIT 1`).Scan(&day)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find oldest bucket: %w", err)
	}
	return day, nil
}

// evictBucket removes one bucket's catalog rows and image files together.
func (s *Store) evictBucket(ctx context.Context, day string) error {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT frame_id, image_path, size_bytes FROM frames WHERE bucket_day = ?`, day)
	if err != nil {
		return fmt.Errorf("failed to list bucket %s: %w", day, err)
	}
	var paths []string
	var freed int64
	ids := make(map[string]struct{})
	for rows.Next() {
		var id, p string
		var sz int64
		if err := rows.Scan(&id, &p, &sz); err != nil {
			rows.Close()
			return err
		}
		ids[id] = struct{}{}
		paths = append(paths, p)
		freed += sz
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	// Catalog rows go first so a crash mid-eviction leaves orphan files
	// (detectable by Verify) rather than entries pointing at nothing.
	if _, err := s.db.conn.ExecContext(ctx,
		`DELETE FROM buckets WHERE day = ?`, day); err != nil {
		return fmt.Errorf("failed to evict bucket %s: %w", day, err)
	}

	// The window mirrors the catalog; evicted frames leave both together.
	s.window.Remove(ids)

	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove evicted image", "path", p, "error", err)
		}
	}
	_ = os.Remove(s.dataDir + "/frames/" + day)

	s.statsMu.Lock()
	s.totalBytes -= freed
	if s.totalBytes < 0 {
		s.totalBytes = 0
	}
	s.statsMu.Unlock()

	return s.refreshMinTS(ctx)
}

func (s *Store) refreshMinTS(ctx context.Context) error {
	var minUS sql.NullInt64
	if err := s.db.conn.QueryRowContext(ctx,
		`SELECT MIN(ts_us) FROM frames`).Scan(&minUS); err != nil {
		return err
	}
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if minUS.Valid {
		s.minTS = time.UnixMicro(minUS.Int64).UTC()
	} else {
		s.minTS, s.maxTS = time.Time{}, time.Time{}
	}
	return nil
}
