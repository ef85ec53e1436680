// ABOUTME: Time-indexed frame store: SQLite catalog, day buckets, rolling window
// ABOUTME: Safe for one appender (capture loop) plus any number of concurrent readers
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/harper/recall/internal/models"
)

// Store is the frame catalog plus its disk layout and rolling window.
// Appends come from the capture loop; scans come from query handlers. Both
// run concurrently without external locking.
type Store struct {
	db      *DB
	dataDir string
	window  *RollingWindow
	logger  *slog.Logger

	// scanMu serializes bucket eviction against in-flight range scans.
	// Scans take the read side, eviction the write side.
	scanMu sync.RWMutex

	// statsMu guards the maintained aggregates below, kept so DateRange and
	// DiskUsage are O(1) instead of full scans.
	statsMu    sync.Mutex
	minTS      time.Time
	maxTS      time.Time
	totalBytes int64
}

// Open opens the store rooted at dataDir. The rolling window is rebuilt from
// the tail of the catalog so real-time queries work immediately after restart.
func Open(dataDir string, horizon time.Duration, logger *slog.Logger) (*Store, error) {
	db, err := OpenDB(filepath.Join(dataDir, "catalog.db"))
	if err != nil {
		return nil, err
	}
	return newStore(db, dataDir, horizon, logger)
}

// OpenInMemory creates a store with an in-memory catalog (for testing).
// Image files still live under dataDir.
func OpenInMemory(dataDir string, horizon time.Duration, logger *slog.Logger) (*Store, error) {
	db, err := OpenDBInMemory()
	if err != nil {
		return nil, err
	}
	return newStore(db, dataDir, horizon, logger)
}

func newStore(db *DB, dataDir string, horizon time.Duration, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:      db,
		dataDir: dataDir,
		window:  NewRollingWindow(horizon),
		logger:  logger,
	}
	if err := s.loadAggregates(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.rebuildWindow(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the catalog connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ImageDir returns the bucket directory for a capture timestamp.
func (s *Store) ImageDir(ts time.Time) string {
	return filepath.Join(s.dataDir, "frames", models.BucketDay(ts))
}

// DataDir returns the store's root directory.
func (s *Store) DataDir() string {
	return s.dataDir
}

// Window returns the rolling window for the real-time query path.
func (s *Store) Window() *RollingWindow {
	return s.window
}

func (s *Store) loadAggregates() error {
	var minUS, maxUS, total sql.NullInt64
	err := s.db.conn.QueryRow(
		`SELECT MIN(ts_us), MAX(ts_us), SUM(size_bytes) FROM frames`,
	).Scan(&minUS, &maxUS, &total)
	if err != nil {
		return fmt.Errorf("failed to load catalog aggregates: %w", err)
	}

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if minUS.Valid {
		s.minTS = time.UnixMicro(minUS.Int64).UTC()
		s.maxTS = time.UnixMicro(maxUS.Int64).UTC()
	} else {
		s.minTS, s.maxTS = time.Time{}, time.Time{}
	}
	s.totalBytes = total.Int64
	return nil
}

func (s *Store) rebuildWindow() error {
	_, latest, ok := s.DateRange()
	if !ok {
		return nil
	}
	tail, err := s.RangeScan(context.Background(), models.TimeRange{
		From: latest.Add(-s.window.Horizon()),
	})
	if err != nil {
		return fmt.Errorf("failed to rebuild rolling window: %w", err)
	}
	for _, f := range tail {
		s.window.Insert(f)
	}
	return nil
}

// Append adds a frame to the active bucket and the rolling window. The bucket
// row is created lazily on the first frame of a new day. The caller must have
// already written the image file; readers therefore never observe a catalog
// entry whose image is missing.
func (s *Store) Append(ctx context.Context, frame *models.Frame) error {
	day := models.BucketDay(frame.Timestamp)

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO buckets (day) VALUES (?)`, day); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", day, err)
	}

	var blob []byte
	var model sql.NullString
	if frame.Embedding != nil {
		blob = vectorToBlob(frame.Embedding)
		model = sql.NullString{String: frame.EmbeddingModel, Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO frames (frame_id, ts_us, bucket_day, image_path, size_bytes, embedding, embedding_model, caption)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		frame.FrameID, frame.Timestamp.UTC().UnixMicro(), day, frame.ImagePath,
		frame.SizeBytes, blob, model, nullString(frame.Caption),
	); err != nil {
		return fmt.Errorf("failed to append frame %s: %w", frame.FrameID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit append: %w", err)
	}

	s.statsMu.Lock()
	ts := frame.Timestamp.UTC()
	if s.minTS.IsZero() || ts.Before(s.minTS) {
		s.minTS = ts
	}
	if ts.After(s.maxTS) {
		s.maxTS = ts
	}
	s.totalBytes += frame.SizeBytes
	s.statsMu.Unlock()

	s.window.Insert(frame)
	return nil
}

// RangeScan returns frames with timestamps inside r, ordered ascending.
// Zero bounds are open. The result is a snapshot taken at call time; frames
// appended afterwards are not included.
func (s *Store) RangeScan(ctx context.Context, r models.TimeRange) ([]*models.Frame, error) {
	s.scanMu.RLock()
	defer s.scanMu.RUnlock()

	query := `SELECT frame_id, ts_us, image_path, size_bytes, embedding, embedding_model, caption FROM frames`
	var conds []string
	var args []interface{}
	if !r.From.IsZero() {
		conds = append(conds, "ts_us >= ?")
		args = append(args, r.From.UTC().UnixMicro())
	}
	if !r.To.IsZero() {
		conds = append(conds, "ts_us <= ?")
		args = append(args, r.To.UTC().UnixMicro())
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY ts_us ASC"

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("range scan failed: %w", err)
	}
	defer rows.Close()
	return scanFrames(rows)
}

// Recent returns the n most recent frames, newest first. Served from the
// rolling window when it holds enough frames, otherwise from a bounded
// reverse scan of the catalog.
func (s *Store) Recent(ctx context.Context, n int) ([]*models.Frame, error) {
	if n <= 0 {
		return nil, nil
	}
	if frames, ok := s.window.Recent(n); ok {
		return frames, nil
	}

	s.scanMu.RLock()
	defer s.scanMu.RUnlock()

	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT frame_id, ts_us, image_path, size_bytes, embedding, embedding_model, caption
		FROM frames ORDER BY ts_us DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("recent scan failed: %w", err)
	}
	defer rows.Close()
	return scanFrames(rows)
}

// GetFrame returns a frame by ID, or nil when absent.
func (s *Store) GetFrame(ctx context.Context, frameID string) (*models.Frame, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT frame_id, ts_us, image_path, size_bytes, embedding, embedding_model, caption
		FROM frames WHERE frame_id = ?`, frameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	frames, err := scanFrames(rows)
	if err != nil || len(frames) == 0 {
		return nil, err
	}
	return frames[0], nil
}

// DateRange returns the timestamps of the oldest and newest frames.
// ok is false for an empty catalog. O(1): maintained on append and eviction.
func (s *Store) DateRange() (earliest, latest time.Time, ok bool) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if s.minTS.IsZero() {
		return time.Time{}, time.Time{}, false
	}
	return s.minTS, s.maxTS, true
}

// TotalFrames returns the number of frames in the catalog.
func (s *Store) TotalFrames(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM frames`).Scan(&n)
	return n, err
}

// DiskUsage returns the total bytes of stored frame images. O(1): maintained
// on append and eviction.
func (s *Store) DiskUsage() int64 {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.totalBytes
}

// SetEmbedding backfills a frame's embedding after a deferred computation.
func (s *Store) SetEmbedding(ctx context.Context, frameID string, vector []float64, model string) error {
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE frames SET embedding = ?, embedding_model = ? WHERE frame_id = ?`,
		vectorToBlob(vector), model, frameID)
	if err != nil {
		return fmt.Errorf("failed to set embedding for %s: %w", frameID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("frame %s not found", frameID)
	}
	return nil
}

// SetCaption fills a frame's caption after asynchronous description.
func (s *Store) SetCaption(ctx context.Context, frameID, caption string) error {
	_, err := s.db.conn.ExecContext(ctx,
		`UPDATE frames SET caption = ? WHERE frame_id = ?`, caption, frameID)
	return err
}

// PendingEmbeddings returns up to limit frames still waiting for a backfilled
// embedding, oldest first.
func (s *Store) PendingEmbeddings(ctx context.Context, limit int) ([]*models.Frame, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT frame_id, ts_us, image_path, size_bytes, embedding, embedding_model, caption
		FROM frames WHERE embedding IS NULL ORDER BY ts_us ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFrames(rows)
}

func scanFrames(rows *sql.Rows) ([]*models.Frame, error) {
	var frames []*models.Frame
	for rows.Next() {
		var (
			f       models.Frame
			tsUS    int64
			blob    []byte
			model   sql.NullString
			caption sql.NullString
		)
		if err := rows.Scan(&f.FrameID, &tsUS, &f.ImagePath, &f.SizeBytes, &blob, &model, &caption); err != nil {
			return nil, fmt.Errorf("failed to scan frame row: %w", err)
		}
		f.Timestamp = time.UnixMicro(tsUS).UTC()
		if blob != nil {
			vec, err := blobToVector(blob)
			if err != nil {
				return nil, fmt.Errorf("frame %s: %w", f.FrameID, err)
			}
			f.Embedding = vec
			f.EmbeddingModel = model.String
		}
		f.Caption = caption.String
		frames = append(frames, &f)
	}
	return frames, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
