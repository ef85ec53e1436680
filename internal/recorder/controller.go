// ABOUTME: Recording controller: owns the capture loop state machine
// ABOUTME: Polls the grabber, filters static frames, and hands accepted frames to ingest
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harper/recall/internal/capture"
	"github.com/harper/recall/internal/detect"
	"github.com/harper/recall/internal/ingest"
	"github.com/harper/recall/internal/models"
	"github.com/harper/recall/internal/store"
)

// Options configure a Controller.
type Options struct {
	PollInterval    time.Duration
	BatchSize       int
	MaxGrabFailures int
	Mode            models.CaptureMode
}

// Controller drives the change-triggered recording loop. It is the single
// owner of the recording session; Start and Stop are idempotent and safe
// for concurrent use.
type Controller struct {
	grabbers map[models.CaptureMode]capture.Grabber
	detector *detect.Detector
	ingestor *ingest.Ingestor
	store    *store.Store
	bus      *Bus
	opts     Options
	logger   *slog.Logger

	mu      sync.Mutex
	session models.RecordingSession
	cancel  context.CancelFunc
	done    chan struct{}

	total    int64
	accepted int64
}

// New creates a stopped controller. grabbers maps each supported capture
// mode to its grabber; opts.Mode selects the initial one.
func New(grabbers map[models.CaptureMode]capture.Grabber, detector *detect.Detector, ingestor *ingest.Ingestor, s *store.Store, bus *Bus, opts Options, logger *slog.Logger) (*Controller, error) {
	if _, ok := grabbers[opts.Mode]; !ok {
		return nil, fmt.Errorf("no grabber for capture mode %q", opts.Mode)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		grabbers: grabbers,
		detector: detector,
		ingestor: ingestor,
		store:    s,
		bus:      bus,
		opts:     opts,
		logger:   logger,
		session:  models.RecordingSession{Mode: opts.Mode, Status: models.StatusStopped},
	}, nil
}

// Session returns the current recording session state.
func (c *Controller) Session() models.RecordingSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Stats returns the session counters.
func (c *Controller) Stats() models.RecordingStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

func (c *Controller) statsLocked() models.RecordingStats {
	return models.RecordingStats{
		TotalFrames:    c.total,
		AcceptedFrames: c.accepted,
		DroppedFrames:  c.ingestor.Dropped(),
		DiskUsageBytes: c.store.DiskUsage(),
	}
}

// SetMode switches the capture mode. Only allowed while stopped.
func (c *Controller) SetMode(mode models.CaptureMode) error {
	if _, ok := c.grabbers[mode]; !ok {
		return fmt.Errorf("no grabber for capture mode %q", mode)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Mode == mode {
		return nil
	}
	if c.session.Status == models.StatusRunning {
		return fmt.Errorf("cannot change capture mode while recording")
	}
	c.session.Mode = mode
	c.publishStatusLocked(nil)
	return nil
}

// Start transitions the controller to running. Starting an already running
// controller is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Status == models.StatusRunning {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.session.Status = models.StatusRunning
	c.session.StartedAt = time.Now().UTC()
	c.publishStatusLocked(nil)

	go c.run(runCtx, c.grabbers[c.session.Mode], c.done)
	return nil
}

// Stop halts the capture loop and waits for it to drain. Stopping a stopped
// controller is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.session.Status != models.StatusRunning {
		c.mu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
}

// run is the capture loop. It exits on ctx cancellation, on storage
// exhaustion, or after too many consecutive grab failures.
func (c *Controller) run(ctx context.Context, grabber capture.Grabber, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	var (
		lastAccepted *models.RawFrame
		grabFailures int
		sinceLastPub int
		stopErr      error
	)

	for stopErr == nil {
		select {
		case <-ctx.Done():
			c.finish(nil)
			return
		case <-ticker.C:
		}

		raw, err := grabber.Grab(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.finish(nil)
				return
			}
			grabFailures++
			c.logger.Warn("screen grab failed", "consecutive", grabFailures, "error", err)
			if grabFailures >= c.opts.MaxGrabFailures {
				stopErr = fmt.Errorf("%d consecutive grab failures: %w", grabFailures, err)
			}
			continue
		}
		grabFailures = 0

		c.mu.Lock()
		c.total++
		c.mu.Unlock()

		result := c.detector.ShouldCapture(lastAccepted, raw)
		if !result.Accept {
			continue
		}

		frame, err := c.ingestor.Ingest(ctx, raw)
		switch {
		case err == nil:
			// The diff reference advances only on accepted frames, so slow
			// cumulative drift still crosses the threshold eventually.
			lastAccepted = raw
			c.mu.Lock()
			c.accepted++
			c.mu.Unlock()
			sinceLastPub++
			c.logger.Debug("frame recorded",
				"frame", frame.FrameID, "diff", result.Diff, "reason", result.Reason)
		case errors.Is(err, models.ErrEncodeFailure):
			c.logger.Warn("frame dropped", "error", err)
		case errors.Is(err, models.ErrStorageFull):
			stopErr = err
		default:
			c.logger.Error("ingest failed", "error", err)
		}

		if sinceLastPub >= c.opts.BatchSize {
			sinceLastPub = 0
			c.mu.Lock()
			stats := c.statsLocked()
			c.mu.Unlock()
			c.bus.Publish(Event{Kind: EventBatchRefreshed, Session: c.Session(), Stats: stats})
		}
	}

	c.logger.Error("recording stopped", "error", stopErr)
	c.finish(stopErr)
}

// finish transitions back to stopped and publishes the terminal event.
// Self-stops (storage full, grab failures) release the run context here;
// cancel is idempotent, so a concurrent Stop remains safe.
func (c *Controller) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.session.Status = models.StatusStopped
	c.publishStatusLocked(err)
}

func (c *Controller) publishStatusLocked(err error) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(Event{
		Kind:    EventStatusChanged,
		Session: c.session,
		Stats:   c.statsLocked(),
		Err:     err,
	})
}
