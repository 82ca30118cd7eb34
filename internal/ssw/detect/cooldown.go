package detect

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/OpenGG/session-switch/internal/ssw/logging"
	"github.com/OpenGG/session-switch/internal/ssw/storage"
)

// DefaultCooldown is the minimum spacing between two signals.
const DefaultCooldown = 60 * time.Second

// GateStore keeps the last firing time of a Gate outside the process, so that
// every ssw process watching the same application shares one window.
type GateStore interface {
	Load() (time.Time, error)
	Save(t time.Time) error
}

// Gate lets at most one signal through per window. It is shared by every trigger source.
type Gate struct {
	mu        sync.Mutex
	window    time.Duration
	lastFired time.Time
	store     GateStore
	logger    logrus.FieldLogger
}

// NewGate creates an in-memory Gate. A non-positive window falls back to DefaultCooldown.
func NewGate(window time.Duration) *Gate {
	return NewSharedGate(window, nil, nil)
}

// NewSharedGate creates a Gate that consults store before every decision and
// records each signal it lets through. Store failures are logged at debug and
// the Gate carries on with what it remembers itself.
func NewSharedGate(window time.Duration, store GateStore, logger logrus.FieldLogger) *Gate {
	if window <= 0 {
		window = DefaultCooldown
	}
	return &Gate{window: window, store: store, logger: logging.OrDiscard(logger)}
}

// ShouldFire reports whether a signal at now may pass, and if so records now.
func (g *Gate) ShouldFire(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	last := g.lastFired
	if g.store != nil {
		stored, err := g.store.Load()
		switch {
		case err != nil:
			g.logger.WithError(err).Debug("cooldown state unreadable")
		// a stamp from the future means a skewed clock, not a recent signal
		case stored.After(last) && !stored.After(now):
			last = stored
		}
	}

	if !last.IsZero() && now.Sub(last) < g.window {
		return false
	}
	g.lastFired = now
	if g.store != nil {
		if err := g.store.Save(now); err != nil {
			g.logger.WithError(err).Debug("cooldown state not saved")
		}
	}
	return true
}

// Window returns the configured cooldown.
func (g *Gate) Window() time.Duration {
	return g.window
}

// FileGateStore keeps the last firing time as an RFC 3339 timestamp in a file.
type FileGateStore struct {
	storage *storage.Storage
	path    string
}

// NewFileGateStore creates a FileGateStore backed by path.
func NewFileGateStore(stor *storage.Storage, path string) *FileGateStore {
	return &FileGateStore{storage: stor, path: path}
}

// Load returns the recorded time, or the zero time when nothing was recorded yet.
func (s *FileGateStore) Load() (time.Time, error) {
	data, err := s.storage.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("read %s: %w", s.path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, text)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return t, nil
}

// Save records t.
func (s *FileGateStore) Save(t time.Time) error {
	return s.storage.WriteFile(s.path, []byte(t.UTC().Format(time.RFC3339Nano)))
}
