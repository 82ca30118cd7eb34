// Package switcher replaces the live session directory with a saved profile
// and restarts the application around it.
package switcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/OpenGG/session-switch/internal/ssw/backup"
	"github.com/OpenGG/session-switch/internal/ssw/domain"
	"github.com/OpenGG/session-switch/internal/ssw/host"
	"github.com/OpenGG/session-switch/internal/ssw/logging"
	"github.com/OpenGG/session-switch/internal/ssw/pointer"
	"github.com/OpenGG/session-switch/internal/ssw/profile"
	"github.com/OpenGG/session-switch/internal/ssw/storage"
)

// PointerPolicy decides when a switch records the new active profile.
type PointerPolicy string

const (
	// PointerOptimistic records the target before anything on disk changes.
	PointerOptimistic PointerPolicy = "optimistic"
	// PointerConfirmed records the target only after the copy succeeded.
	PointerConfirmed PointerPolicy = "confirmed"
)

// DefaultStopGrace is how long a switch waits after asking the application to exit.
const DefaultStopGrace = 3 * time.Second

// ParsePointerPolicy accepts the config spelling of a policy. Empty means optimistic.
func ParsePointerPolicy(s string) (PointerPolicy, error) {
	switch PointerPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PointerOptimistic:
		return PointerOptimistic, nil
	case PointerConfirmed:
		return PointerConfirmed, nil
	default:
		return "", fmt.Errorf("unknown pointer policy %q (want %s or %s)", s, PointerOptimistic, PointerConfirmed)
	}
}

// Result describes a completed switch.
type Result struct {
	Profile string
	// Backup is where the previous live directory was moved; it is deleted in the background.
	Backup string
	// Moved is false when there was no live directory to set aside.
	Moved     bool
	Restarted bool
}

// Options tunes a Switcher.
type Options struct {
	StopGrace time.Duration
	Policy    PointerPolicy
}

// Switcher performs profile switches. Calls within one process are serialized.
type Switcher struct {
	mu sync.Mutex

	store   *profile.Store
	pointer *pointer.Pointer
	backups *backup.Service
	storage *storage.Storage
	host    host.Host
	liveDir string

	opts   Options
	sleep  func(ctx context.Context, d time.Duration)
	logger logrus.FieldLogger
}

// New creates a Switcher.
func New(
	store *profile.Store,
	ptr *pointer.Pointer,
	backups *backup.Service,
	stor *storage.Storage,
	h host.Host,
	liveDir string,
	opts Options,
	logger logrus.FieldLogger,
) *Switcher {
	if opts.Policy == "" {
		opts.Policy = PointerOptimistic
	}
	if opts.StopGrace < 0 {
		opts.StopGrace = 0
	}
	return &Switcher{
		store:   store,
		pointer: ptr,
		backups: backups,
		storage: stor,
		host:    h,
		liveDir: liveDir,
		opts:    opts,
		sleep:   sleepCtx,
		logger:  logging.OrDiscard(logger),
	}
}

// SetSleeper replaces the grace-period wait, for tests.
func (s *Switcher) SetSleeper(fn func(ctx context.Context, d time.Duration)) {
	if fn == nil {
		fn = sleepCtx
	}
	s.sleep = fn
}

// Switch makes name the live session.
//
// Nothing on disk changes until the profile and the application executable are
// both found. Once the live directory has been moved aside there is no rollback:
// a failed copy returns an error naming the backup, which is then the only copy
// of the previous session.
func (s *Switcher) Switch(ctx context.Context, name string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok, err := s.store.Resolve(name)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", domain.ErrNotFound, strings.TrimSpace(name))
	}

	exe, err := s.host.Locate()
	if err != nil {
		return Result{}, err
	}

	log := s.logger.WithField("profile", target)

	if s.opts.Policy == PointerOptimistic {
		if err := s.pointer.Set(target); err != nil {
			return Result{}, err
		}
	}

	if err := s.host.Terminate(ctx); err != nil {
		// the copy may still succeed if the application was not running
		log.WithError(err).Warn("could not stop application")
	}
	if s.opts.StopGrace > 0 {
		s.sleep(ctx, s.opts.StopGrace)
	}

	moved, err := s.backups.MoveAside(ctx)
	if err != nil {
		return Result{}, err
	}

	res := Result{Profile: target, Backup: s.backups.BackupDir(), Moved: moved}

	if err := s.storage.CopyDir(ctx, s.store.Dir(target), s.liveDir); err != nil {
		if moved {
			return Result{}, fmt.Errorf("failed to load profile %q, previous session kept at %s: %w",
				target, res.Backup, err)
		}
		return Result{}, fmt.Errorf("failed to load profile %q: %w", target, err)
	}

	if s.opts.Policy == PointerConfirmed {
		if err := s.pointer.Set(target); err != nil {
			return Result{}, err
		}
	}

	if moved {
		s.backups.ScheduleCleanup()
	}

	if err := s.host.Launch(exe); err != nil {
		return res, err
	}
	res.Restarted = true

	log.WithFields(logrus.Fields{
		"backup": res.Backup,
		"moved":  moved,
	}).Info("switched profile")
	return res, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
