package backup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/OpenGG/session-switch/internal/ssw/logging"
	"github.com/OpenGG/session-switch/internal/ssw/storage"
)

const defaultQueueSize = 8

// Attempt reports the outcome of one scheduled backup deletion.
type Attempt struct {
	Path string
	// Skipped is set when a newer switch took over the backup path before the job ran.
	Skipped bool
	Err     error
	At      time.Time
}

type job struct {
	path       string
	generation uint64
}

// Service moves the live session directory aside during a switch and deletes
// the resulting backup in the background once the switch no longer needs it.
//
// Cleanup is best-effort: failures are logged, never returned to the switch that
// scheduled them.
type Service struct {
	storage   *storage.Storage
	liveDir   string
	backupDir string
	now       func() time.Time
	logger    logrus.FieldLogger

	mu         sync.Mutex
	generation uint64
	observer   func(Attempt)

	closed    bool
	queue     chan job
	startOnce sync.Once
	done      chan struct{}
}

// New creates a backup Service for the given live and backup directories.
func New(stor *storage.Storage, liveDir, backupDir string, logger logrus.FieldLogger) *Service {
	return &Service{
		storage:   stor,
		liveDir:   liveDir,
		backupDir: backupDir,
		now:       time.Now,
		logger:    logging.OrDiscard(logger),
		queue:     make(chan job, defaultQueueSize),
		done:      make(chan struct{}),
	}
}

// SetNow allows overriding the clock for testing.
func (s *Service) SetNow(now func() time.Time) {
	if now == nil {
		s.now = time.Now
		return
	}
	s.now = now
}

// SetObserver registers fn to be told about every cleanup attempt.
func (s *Service) SetObserver(fn func(Attempt)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = fn
}

// BackupDir returns the backup directory path.
func (s *Service) BackupDir() string {
	return s.backupDir
}

// MoveAside renames the live directory to the backup path, first deleting any
// previous backup there. It reports false when there was no live directory to move.
func (s *Service) MoveAside(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.storage.DirExists(s.liveDir)
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", s.liveDir, err)
	}
	if !exists {
		return false, nil
	}

	// any cleanup still queued for the previous backup must not touch the new one
	s.generation++

	if err := s.storage.RemoveAll(ctx, s.backupDir); err != nil {
		return false, fmt.Errorf("failed to remove previous backup: %w", err)
	}
	if err := s.storage.Rename(ctx, s.liveDir, s.backupDir); err != nil {
		return false, fmt.Errorf("failed to move %s aside: %w", s.liveDir, err)
	}

	s.logger.WithFields(logrus.Fields{
		"live":   s.liveDir,
		"backup": s.backupDir,
	}).Debug("live directory moved aside")
	return true, nil
}

// ScheduleCleanup queues deletion of the current backup and returns immediately.
func (s *Service) ScheduleCleanup() {
	s.startOnce.Do(func() { go s.run() })

	s.mu.Lock()
	defer s.mu.Unlock()

	j := job{path: s.backupDir, generation: s.generation}
	if s.closed {
		s.logger.WithField("path", j.path).Warn("backup cleanup not scheduled: service closed")
		return
	}
	select {
	case s.queue <- j:
	default:
		s.logger.WithField("path", j.path).Warn("backup cleanup queue full, leaving backup in place")
	}
}

// Leftover reports whether a backup directory currently exists.
// Outside a running switch this means an earlier switch did not finish cleanly.
func (s *Service) Leftover() (bool, error) {
	return s.storage.DirExists(s.backupDir)
}

// Discard deletes a leftover backup right away. It reports false when there was none.
// Any cleanup still queued for that backup becomes a no-op.
func (s *Service) Discard(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.storage.DirExists(s.backupDir)
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", s.backupDir, err)
	}
	if !exists {
		return false, nil
	}
	s.generation++
	if err := s.storage.RemoveAll(ctx, s.backupDir); err != nil {
		return false, fmt.Errorf("failed to remove %s: %w", s.backupDir, err)
	}
	s.logger.WithField("path", s.backupDir).Info("leftover backup discarded")
	return true, nil
}

// Close stops accepting work and waits for queued cleanups, giving up when ctx ends.
func (s *Service) Close(ctx context.Context) error {
	s.startOnce.Do(func() { go s.run() })

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) run() {
	defer close(s.done)
	for j := range s.queue {
		s.cleanup(j)
	}
}

// cleanup renames the backup out of the shared path while holding the lock, so a
// following MoveAside never waits on the slow recursive delete.
func (s *Service) cleanup(j job) {
	attempt := Attempt{Path: j.path, At: s.now()}

	s.mu.Lock()
	var doomed string
	if j.generation != s.generation {
		attempt.Skipped = true
	} else {
		doomed = fmt.Sprintf("%s.%d.discard", j.path, j.generation)
		attempt.Err = s.storage.Rename(context.Background(), j.path, doomed)
	}
	observer := s.observer
	s.mu.Unlock()

	if doomed != "" && attempt.Err == nil {
		attempt.Err = s.storage.RemoveAll(context.Background(), doomed)
	}

	entry := s.logger.WithField("path", j.path)
	switch {
	case attempt.Skipped:
		entry.Debug("backup cleanup skipped, superseded by a newer switch")
	case attempt.Err != nil:
		entry.WithError(attempt.Err).Warn("backup cleanup failed")
	default:
		entry.Debug("backup removed")
	}

	if observer != nil {
		observer(attempt)
	}
}
