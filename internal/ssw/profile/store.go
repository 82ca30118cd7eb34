// Package profile manages named snapshots of the live session directory.
package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/OpenGG/session-switch/internal/ssw/domain"
	"github.com/OpenGG/session-switch/internal/ssw/logging"
	"github.com/OpenGG/session-switch/internal/ssw/paths"
	"github.com/OpenGG/session-switch/internal/ssw/pointer"
	"github.com/OpenGG/session-switch/internal/ssw/storage"
	"github.com/OpenGG/session-switch/internal/ssw/validator"
)

// DefaultMaxProfiles is the store capacity used when none is configured.
const DefaultMaxProfiles = 5

// Profile describes one saved snapshot.
type Profile struct {
	Name      string
	CreatedAt time.Time
	// SizeBytes is measured on every List call and never persisted.
	SizeBytes int64
}

type index struct {
	Profiles map[string]indexEntry `yaml:"profiles"`
}

type indexEntry struct {
	CreatedAt time.Time `yaml:"created_at"`
}

// Store owns the snapshot directories under Profiles/.
//
// Names are unique case-insensitively; the spelling used when a profile was
// first saved is kept on disk. At most maxProfiles snapshots exist at a time.
type Store struct {
	mu sync.Mutex

	storage   *storage.Storage
	validator *validator.Validator
	pointer   *pointer.Pointer
	paths     *paths.PathBuilder

	maxProfiles int
	now         func() time.Time
	newID       func() string
	logger      logrus.FieldLogger
}

// New creates a Store. A maxProfiles below 1 falls back to DefaultMaxProfiles.
func New(stor *storage.Storage, ptr *pointer.Pointer, pb *paths.PathBuilder, maxProfiles int, logger logrus.FieldLogger) *Store {
	if maxProfiles < 1 {
		maxProfiles = DefaultMaxProfiles
	}
	return &Store{
		storage:     stor,
		validator:   validator.New(),
		pointer:     ptr,
		paths:       pb,
		maxProfiles: maxProfiles,
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
		logger:      logging.OrDiscard(logger),
	}
}

// SetNow allows overriding the clock for testing.
func (s *Store) SetNow(now func() time.Time) {
	if now == nil {
		s.now = time.Now
		return
	}
	s.now = now
}

// MaxProfiles returns the store capacity.
func (s *Store) MaxProfiles() int {
	return s.maxProfiles
}

// Dir returns the snapshot directory for the stored spelling of name.
func (s *Store) Dir(name string) string {
	return s.paths.ProfileDir(name)
}

// Names returns stored profile names sorted case-insensitively.
//
// Only directories count; dot-prefixed staging and replaced directories are skipped.
func (s *Store) Names() ([]string, error) {
	entries, err := s.storage.ReadDir(s.paths.ProfilesDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read profile store: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Slice(names, func(i, j int) bool {
		li, lj := strings.ToLower(names[i]), strings.ToLower(names[j])
		if li == lj {
			return names[i] < names[j]
		}
		return li < lj
	})
	return names, nil
}

// Resolve returns the stored spelling of name, matched case-insensitively.
func (s *Store) Resolve(name string) (string, bool, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", false, nil
	}
	names, err := s.Names()
	if err != nil {
		return "", false, err
	}
	for _, existing := range names {
		if strings.EqualFold(existing, trimmed) {
			return existing, true, nil
		}
	}
	return "", false, nil
}

// Exists reports whether a profile with this name exists, ignoring case.
func (s *Store) Exists(name string) (bool, error) {
	_, ok, err := s.Resolve(name)
	return ok, err
}

// List enumerates all profiles in a stable order: case-insensitive by name.
// Callers may use the position as a slot number.
func (s *Store) List() ([]Profile, error) {
	names, err := s.Names()
	if err != nil {
		return nil, err
	}
	idx, err := s.loadIndex()
	if err != nil {
		return nil, err
	}

	profiles := make([]Profile, 0, len(names))
	for _, name := range names {
		dir := s.Dir(name)
		p := Profile{Name: name}
		if entry, ok := idx.Profiles[name]; ok && !entry.CreatedAt.IsZero() {
			p.CreatedAt = entry.CreatedAt
		} else if info, err := s.storage.Stat(dir); err == nil {
			p.CreatedAt = info.ModTime()
		}
		size, err := s.storage.DirSize(dir)
		if err != nil {
			return nil, err
		}
		p.SizeBytes = size
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// Save snapshots the live session directory as name and records it as the active profile.
//
// Saving onto an existing name (any case) replaces that snapshot and refreshes
// its creation time. The new snapshot is staged beside the store and the previous
// one is only set aside until the staged copy is in place, so a failed save leaves
// the previous snapshot where it was.
func (s *Store) Save(ctx context.Context, name string) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized, err := s.validator.NormalizeName(name)
	if err != nil {
		return Profile{}, err
	}

	target, exists, err := s.Resolve(normalized)
	if err != nil {
		return Profile{}, err
	}
	if !exists {
		names, err := s.Names()
		if err != nil {
			return Profile{}, err
		}
		if len(names) >= s.maxProfiles {
			return Profile{}, fmt.Errorf("%w: %d of %d profiles in use, delete one before saving %q",
				domain.ErrCapacityExceeded, len(names), s.maxProfiles, normalized)
		}
		target = normalized
	}

	liveDir := s.paths.LiveDir()
	if ok, err := s.storage.DirExists(liveDir); err != nil {
		return Profile{}, fmt.Errorf("failed to inspect %s: %w", liveDir, err)
	} else if !ok {
		return Profile{}, fmt.Errorf("%w: %s. Nothing to save", domain.ErrSourceMissing, liveDir)
	}

	idx, err := s.loadIndex()
	if err != nil {
		return Profile{}, err
	}

	if err := s.storage.MkdirAll(s.paths.ProfilesDir()); err != nil {
		return Profile{}, fmt.Errorf("%w: failed to create profile store: %w", domain.ErrIOFailure, err)
	}

	staging := s.paths.ProfileDir(paths.StagingDirPrefix + s.newID())
	if err := s.storage.CopyDir(ctx, liveDir, staging); err != nil {
		s.discard(staging)
		return Profile{}, fmt.Errorf("failed to snapshot %s: %w", liveDir, err)
	}

	dir := s.Dir(target)
	var replaced string
	if exists {
		replaced = s.paths.ProfileDir(paths.ReplacedDirPrefix + s.newID())
		if err := s.storage.Rename(ctx, dir, replaced); err != nil {
			s.discard(staging)
			return Profile{}, fmt.Errorf("failed to replace profile %q: %w", target, err)
		}
	}
	if err := s.storage.Rename(ctx, staging, dir); err != nil {
		s.discard(staging)
		if replaced != "" {
			s.restore(replaced, dir)
		}
		return Profile{}, fmt.Errorf("failed to store profile %q: %w", target, err)
	}
	if replaced != "" {
		s.discard(replaced)
	}

	now := s.now()
	if err := s.storage.Chtimes(dir, now, now); err != nil {
		s.logger.WithError(err).WithField("profile", target).Debug("failed to stamp profile directory")
	}

	idx.Profiles[target] = indexEntry{CreatedAt: now}
	if err := s.writeIndex(idx); err != nil {
		return Profile{}, err
	}

	if err := s.pointer.Set(target); err != nil {
		return Profile{}, err
	}

	size, err := s.storage.DirSize(dir)
	if err != nil {
		return Profile{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"profile":   target,
		"size":      size,
		"overwrite": exists,
	}).Info("profile saved")

	return Profile{Name: target, CreatedAt: now, SizeBytes: size}, nil
}

// Delete removes the named profile. The active profile pointer is left unchanged.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, exists, err := s.Resolve(name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %q", domain.ErrNotFound, strings.TrimSpace(name))
	}

	idx, idxErr := s.loadIndex()

	if err := s.storage.RemoveAll(ctx, s.Dir(target)); err != nil {
		return fmt.Errorf("failed to delete profile %q: %w", target, err)
	}

	if idxErr != nil {
		// keep the malformed index for inspection rather than overwrite it
		s.logger.WithError(idxErr).Warn("profile index not updated")
	} else {
		delete(idx.Profiles, target)
		if err := s.writeIndex(idx); err != nil {
			return err
		}
	}

	s.logger.WithField("profile", target).Info("profile deleted")
	return nil
}

func (s *Store) loadIndex() (*index, error) {
	idx := &index{Profiles: map[string]indexEntry{}}
	data, err := s.storage.ReadFile(s.paths.IndexPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return idx, nil
		}
		return nil, fmt.Errorf("failed to read profile index: %w", err)
	}
	if err := yaml.Unmarshal(data, idx); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrParseFailure, s.paths.IndexPath(), err)
	}
	if idx.Profiles == nil {
		idx.Profiles = map[string]indexEntry{}
	}
	return idx, nil
}

// writeIndex persists idx, dropping entries whose snapshot directory is gone.
func (s *Store) writeIndex(idx *index) error {
	names, err := s.Names()
	if err != nil {
		return err
	}
	present := make(map[string]struct{}, len(names))
	for _, name := range names {
		present[name] = struct{}{}
	}
	for name := range idx.Profiles {
		if _, ok := present[name]; !ok {
			delete(idx.Profiles, name)
		}
	}

	data, err := yaml.Marshal(idx)
	if err != nil {
		return fmt.Errorf("failed to encode profile index: %w", err)
	}
	if err := s.storage.WriteFile(s.paths.IndexPath(), data); err != nil {
		return fmt.Errorf("%w: failed to write profile index: %w", domain.ErrIOFailure, err)
	}
	return nil
}

// restore moves a snapshot set aside by an overwrite back into place.
func (s *Store) restore(from, to string) {
	if err := s.storage.Rename(context.Background(), from, to); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"path":    from,
			"profile": to,
		}).Error("failed to restore previous snapshot")
	}
}

// discard removes a staging or replaced directory.
func (s *Store) discard(dir string) {
	if err := s.storage.RemoveAll(context.Background(), dir); err != nil {
		s.logger.WithError(err).WithField("path", dir).Warn("failed to remove staging directory")
	}
}
